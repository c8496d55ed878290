// ABOUTME: Tests for the gateway HTTP surface and the end-to-end delivery path
// ABOUTME: Runs the real router, SQLite store and stream registry behind httptest

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marv1n-le/marvify/internal/auth"
	"github.com/marv1n-le/marvify/internal/chat"
	"github.com/marv1n-le/marvify/internal/client"
	"github.com/marv1n-le/marvify/internal/config"
	"github.com/marv1n-le/marvify/internal/store"
)

const testSecret = "test-secret-that-is-at-least-32-bytes-long"

// testConfig creates a minimal config backed by temp directories.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(dir, "marvify.db")},
		Auth:     config.AuthConfig{JWTSecret: testSecret, TokenTTL: time.Hour},
		Stream:   config.StreamConfig{HeartbeatInterval: 30 * time.Second},
		Media: config.MediaConfig{
			Dir:            filepath.Join(dir, "media"),
			BaseURL:        "/media",
			MaxUploadBytes: 1 << 20,
		},
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	gw  *Gateway
	srv *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gw, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		// streams must end before the test server waits on its handlers
		_ = gw.Shutdown(context.Background())
		srv.Close()
	})

	for _, u := range []*store.User{
		{ID: "a", FullName: "Alice", Username: "alice"},
		{ID: "b", FullName: "Bob", Username: "bob"},
	} {
		require.NoError(t, gw.store.CreateUser(context.Background(), u))
	}
	return &testEnv{gw: gw, srv: srv}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	v, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	tok, err := v.Generate(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) tokens(t *testing.T, userID string) client.TokenSource {
	tok := e.token(t, userID)
	return func(context.Context) (string, error) { return tok, nil }
}

func decodeEnvelope(t *testing.T, resp *http.Response) (chat.Envelope, json.RawMessage) {
	t.Helper()
	defer resp.Body.Close()
	var env struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return chat.Envelope{Success: env.Success, Message: env.Message}, env.Data
}

func sendForm(t *testing.T, e *testEnv, token string, fields map[string]string, image []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		part, err := mw.CreateFormFile("image", "pic.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/messages/send", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestGatewayNewAndShutdown(t *testing.T) {
	gw, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	assert.NotNil(t, gw.store)
	assert.NotNil(t, gw.registry)
	assert.NotNil(t, gw.dispatcher)

	require.NoError(t, gw.Shutdown(context.Background()))
}

func TestGatewayNew_WeakSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "short"

	_, err := New(cfg, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrWeakSecret)
}

func TestGatewayRun_StopsOnCancel(t *testing.T) {
	gw, err := New(testConfig(t), testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHealthEndpoints(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(e.srv.URL + "/health/ready")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ready (0 streams)", string(body))
}

func TestSend_Unauthorized(t *testing.T) {
	e := newTestEnv(t)

	resp := sendForm(t, e, "", map[string]string{"to_user_id": "b", "text": "hi"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	env, _ := decodeEnvelope(t, resp)
	assert.False(t, env.Success)
	assert.Equal(t, "not authorized", env.Message)
}

func TestSend_EmptyMessageRejected(t *testing.T) {
	e := newTestEnv(t)

	resp := sendForm(t, e, e.token(t, "a"), map[string]string{"to_user_id": "b", "text": "   "}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env, _ := decodeEnvelope(t, resp)
	assert.False(t, env.Success)

	msgs, err := e.gw.store.ListConversation(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSend_MissingRecipient(t *testing.T) {
	e := newTestEnv(t)

	resp := sendForm(t, e, e.token(t, "a"), map[string]string{"text": "hi"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSend_TextThenHistory(t *testing.T) {
	e := newTestEnv(t)

	resp := sendForm(t, e, e.token(t, "a"), map[string]string{"to_user_id": "b", "text": "hello"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env, data := decodeEnvelope(t, resp)
	assert.True(t, env.Success)

	var sent chat.ChatMessage
	require.NoError(t, json.Unmarshal(data, &sent))
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, "a", sent.SenderID())
	require.NotNil(t, sent.From.Profile())
	assert.Equal(t, "alice", sent.From.Profile().Username)
	assert.Equal(t, chat.MediaText, sent.MediaType)

	// b reads the conversation, which marks a's message seen
	api := client.NewClient(e.srv.URL, e.tokens(t, "b"), nil)
	history, err := api.History(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, sent.ID, history[0].ID)

	history, err = api.History(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, history[0].Seen)

	inbox, err := api.Inbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "b", inbox[0].ReceiverID())
}

func TestHistory_PostJSONBody(t *testing.T) {
	e := newTestEnv(t)
	resp := sendForm(t, e, e.token(t, "a"), map[string]string{"to_user_id": "b", "text": "hello"}, nil)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/messages/get", strings.NewReader(`{"to_user_id":"b"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token(t, "a"))

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, data := decodeEnvelope(t, resp)
	var msgs []chat.ChatMessage
	require.NoError(t, json.Unmarshal(data, &msgs))
	assert.Len(t, msgs, 1)
}

func TestHistory_MissingPeer(t *testing.T) {
	e := newTestEnv(t)
	api := client.NewClient(e.srv.URL, e.tokens(t, "a"), nil)

	_, err := api.History(context.Background(), "")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestRecent_BadLimit(t *testing.T) {
	e := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/api/messages/recent?limit=lots", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.token(t, "a"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSend_ImageIsServed(t *testing.T) {
	e := newTestEnv(t)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

	resp := sendForm(t, e, e.token(t, "a"), map[string]string{"to_user_id": "b"}, png)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, data := decodeEnvelope(t, resp)

	var sent chat.ChatMessage
	require.NoError(t, json.Unmarshal(data, &sent))
	assert.Equal(t, chat.MediaImage, sent.MediaType)
	require.True(t, strings.HasPrefix(sent.MediaURL, "/media/"), sent.MediaURL)
	assert.True(t, strings.HasSuffix(sent.MediaURL, ".png"), sent.MediaURL)

	resp, err := http.Get(e.srv.URL + sent.MediaURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	served, _ := io.ReadAll(resp.Body)
	assert.Equal(t, png, served)
}

func TestSend_NonImageRejected(t *testing.T) {
	e := newTestEnv(t)

	resp := sendForm(t, e, e.token(t, "a"), map[string]string{"to_user_id": "b"}, []byte("plain text, not an image"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSend_OversizeImage(t *testing.T) {
	e := newTestEnv(t)
	limit := e.gw.config.Media.MaxUploadBytes

	// over the image limit but inside the form allowance, so the uploader rejects it
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, int(limit))...)
	resp := sendForm(t, e, e.token(t, "a"), map[string]string{"to_user_id": "b"}, png)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	env, _ := decodeEnvelope(t, resp)
	assert.Equal(t, "upload too large", env.Message)

	msgs, err := e.gw.store.ListConversation(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStream_RejectsBadToken(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.srv.URL + "/api/messages/sse?token=garbage")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "event: error\n")
}

func TestStream_ShutdownEndsStream(t *testing.T) {
	e := newTestEnv(t)
	api := client.NewClient(e.srv.URL, e.tokens(t, "a"), nil)

	body, err := api.OpenStream(context.Background(), e.token(t, "a"))
	require.NoError(t, err)
	defer body.Close()

	reader := bufio.NewReader(body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)
	assert.Equal(t, 1, e.gw.registry.Len())

	e.gw.registry.Close()

	_, err = io.ReadAll(reader)
	assert.NoError(t, err)
}

// A streams while viewing b; b sends "hi"; a's consumer accepts it.
func TestEndToEndDelivery(t *testing.T) {
	e := newTestEnv(t)

	states := make(chan client.State, 16)
	received := make(chan chat.ChatMessage, 4)
	alice := client.NewChat(client.NewClient(e.srv.URL, e.tokens(t, "a"), nil), "a", client.ChatOptions{
		OnState: func(s client.State) { states <- s },
		OnMessage: func(m chat.ChatMessage, o client.Outcome) {
			if o == client.OutcomeAccepted {
				received <- m
			}
		},
		Logger: testLogger(),
	})
	require.NoError(t, alice.Open(context.Background(), "b"))

	runDone := make(chan error, 1)
	go func() { runDone <- alice.Run(context.Background()) }()
	t.Cleanup(func() {
		alice.Close()
		<-runDone
	})

	require.Eventually(t, func() bool { return e.gw.registry.Lookup("a") != nil }, 2*time.Second, 10*time.Millisecond)

	bob := client.NewClient(e.srv.URL, e.tokens(t, "b"), nil)
	_, err := bob.Send(context.Background(), "a", "hi", nil)
	require.NoError(t, err)

	select {
	case m := <-received:
		assert.Equal(t, "hi", m.Text)
		assert.Equal(t, "b", m.SenderID())
		assert.Equal(t, "a", m.ReceiverID())
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered to the open stream")
	}

	require.Eventually(t, func() bool { return len(alice.Messages()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, client.StateOpen, alice.State())
}

// The sender's own stream gets the echo, and the sender's optimistic insert
// keeps the conversation at one copy. Whichever of reply and echo lands first
// is reported as accepted; the other, if reported, is a duplicate.
func TestEndToEndEchoDeduplicated(t *testing.T) {
	e := newTestEnv(t)

	var mu sync.Mutex
	var outcomes []client.Outcome
	count := func(want client.Outcome) int {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for _, o := range outcomes {
			if o == want {
				n++
			}
		}
		return n
	}

	bob := client.NewChat(client.NewClient(e.srv.URL, e.tokens(t, "b"), nil), "b", client.ChatOptions{
		OnMessage: func(_ chat.ChatMessage, o client.Outcome) {
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
		},
		Logger: testLogger(),
	})
	require.NoError(t, bob.Open(context.Background(), "a"))

	runDone := make(chan error, 1)
	go func() { runDone <- bob.Run(context.Background()) }()
	t.Cleanup(func() {
		bob.Close()
		<-runDone
	})

	require.Eventually(t, func() bool { return e.gw.registry.Lookup("b") != nil }, 2*time.Second, 10*time.Millisecond)

	_, err := bob.Send(context.Background(), "hello", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return count(client.OutcomeAccepted) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return count(client.OutcomeAccepted) > 1 }, 300*time.Millisecond, 10*time.Millisecond)
	assert.LessOrEqual(t, count(client.OutcomeDuplicate), 1)
	assert.Len(t, bob.Messages(), 1)
}

func TestComponentLoggersAreNotNested(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	gw, err := New(testConfig(t), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	for _, path := range []string{"/health", "/api/messages/sse"} {
		rec := httptest.NewRecorder()
		gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	components := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.LessOrEqual(t, strings.Count(line, `"component":`), 1, line)

		var rec struct {
			Component string `json:"component"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		components[rec.Component] = true
	}
	assert.True(t, components["http"], "request log missing")
	assert.True(t, components["stream"], "stream rejection log missing")
}
