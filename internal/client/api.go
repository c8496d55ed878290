// ABOUTME: HTTP client for the gateway's message endpoints
// ABOUTME: Sends multipart messages, fetches history and inbox, and opens the event stream

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/marv1n-le/marvify/internal/chat"
)

// Attachment is an image to send with a message.
type Attachment struct {
	Name string
	Data []byte
}

// APIError is a non-success response from the gateway.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

// envelope mirrors chat.Envelope with the payload left undecoded.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client talks to one gateway.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

// NewClient creates a client. httpClient must not set a Timeout, since the
// same client carries the long-lived stream; nil uses a fresh http.Client.
func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    httpClient,
	}
}

// Tokens returns the client's token source.
func (c *Client) Tokens() TokenSource {
	return c.tokens
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	token, err := c.tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

// do executes req and decodes the envelope's data into out.
func (c *Client) do(req *http.Request, out any) (string, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return "", &APIError{Status: resp.StatusCode}
		}
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return "", &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("decoding response data: %w", err)
		}
	}
	return env.Message, nil
}

// Send posts a message to the recipient. At least one of text or att must be set.
func (c *Client) Send(ctx context.Context, to, text string, att *Attachment) (*chat.ChatMessage, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("to_user_id", to); err != nil {
		return nil, fmt.Errorf("writing form: %w", err)
	}
	if text != "" {
		if err := mw.WriteField("text", text); err != nil {
			return nil, fmt.Errorf("writing form: %w", err)
		}
	}
	if att != nil {
		part, err := mw.CreateFormFile("image", att.Name)
		if err != nil {
			return nil, fmt.Errorf("writing form: %w", err)
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, fmt.Errorf("writing form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("writing form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/messages/send", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var msg chat.ChatMessage
	if _, err := c.do(req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// History returns the conversation with peer, newest first.
func (c *Client) History(ctx context.Context, peer string) ([]chat.ChatMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/messages/get?to_user_id="+url.QueryEscape(peer), nil)
	if err != nil {
		return nil, err
	}
	var msgs []chat.ChatMessage
	if _, err := c.do(req, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Inbox returns recent messages addressed to the signed-in user, newest first.
func (c *Client) Inbox(ctx context.Context, limit int) ([]chat.ChatMessage, error) {
	path := "/api/messages/recent"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var msgs []chat.ChatMessage
	if _, err := c.do(req, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// OpenStream opens the event stream with token passed as a query
// parameter. The caller owns the returned body.
func (c *Client) OpenStream(ctx context.Context, token string) (io.ReadCloser, error) {
	u := c.baseURL + "/api/messages/sse?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, &APIError{Status: resp.StatusCode, Message: streamErrorMessage(resp.Body)}
	}
	return resp.Body, nil
}

// streamErrorMessage extracts the envelope message from a rejected stream's error frame.
func streamErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var p frameParser
	for _, f := range p.Feed(raw) {
		var env envelope
		if json.Unmarshal([]byte(f.Data), &env) == nil && env.Message != "" {
			return env.Message
		}
	}
	return ""
}
