// ABOUTME: HTTP handlers for sending messages, reading history and the inbox
// ABOUTME: Every JSON response uses the success/message/data envelope; errors funnel through respondError

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/marv1n-le/marvify/internal/auth"
	"github.com/marv1n-le/marvify/internal/chat"
	"github.com/marv1n-le/marvify/internal/media"
	"github.com/marv1n-le/marvify/internal/messaging"
	"github.com/marv1n-le/marvify/internal/store"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

// formOverhead allows for the non-file parts of a send request.
const formOverhead = 1 << 20

// DefaultInboxLimit caps /recent when no limit is given.
const DefaultInboxLimit = 50

func writeEnvelope(w http.ResponseWriter, status int, env chat.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeData(w http.ResponseWriter, message string, data any) {
	writeEnvelope(w, http.StatusOK, chat.Envelope{Success: true, Message: message, Data: data})
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes), errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "upload too large"
	case errors.Is(err, messaging.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "not authorized"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// respondError logs err and writes the matching error envelope.
func (g *Gateway) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	userID := auth.UserFromContext(r.Context())

	log := g.logger.Warn
	if status >= http.StatusInternalServerError {
		log = g.logger.Error
	}
	log("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"user_id", userID,
		"status", status,
		"error", err,
	)

	writeEnvelope(w, status, chat.Envelope{Success: false, Message: message})
}

// handleSend handles POST /api/messages/send.
// The body is multipart/form-data with to_user_id, text and an optional image file.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUserFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, g.config.Media.MaxUploadBytes+formOverhead)
	req, err := parseSendRequest(r)
	if err != nil {
		g.respondError(w, r, err)
		return
	}
	req.FromUserID = userID

	msg, err := g.dispatcher.Send(r.Context(), req)
	if err != nil {
		g.respondError(w, r, err)
		return
	}

	writeData(w, "message sent", messaging.ToChat(msg))
}

func parseSendRequest(r *http.Request) (messaging.SendRequest, error) {
	var req messaging.SendRequest

	err := r.ParseMultipartForm(multipartMemory)
	switch {
	case errors.Is(err, http.ErrNotMultipart):
		if err := r.ParseForm(); err != nil {
			return req, fmt.Errorf("%w: %w", messaging.ErrInvalidRequest, err)
		}
	case err != nil:
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return req, err
		}
		return req, fmt.Errorf("%w: %w", messaging.ErrInvalidRequest, err)
	}

	req.ToUserID = r.FormValue("to_user_id")
	req.Text = r.FormValue("text")

	file, header, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return req, nil
	case err != nil:
		return req, fmt.Errorf("%w: reading image: %w", messaging.ErrInvalidRequest, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return req, fmt.Errorf("%w: reading image: %w", messaging.ErrInvalidRequest, err)
	}
	req.Media = &messaging.Attachment{Name: header.Filename, Data: data}
	return req, nil
}

// handleHistory handles GET|POST /api/messages/get.
// The peer comes from the to_user_id query parameter or, for POST, the JSON or form body.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUserFromContext(r.Context())

	peer, err := historyPeer(r)
	if err != nil {
		g.respondError(w, r, err)
		return
	}

	msgs, err := g.dispatcher.History(r.Context(), userID, peer)
	if err != nil {
		g.respondError(w, r, err)
		return
	}

	writeData(w, "", messaging.ToChatList(msgs))
}

func historyPeer(r *http.Request) (string, error) {
	if peer := r.URL.Query().Get("to_user_id"); peer != "" || r.Method != http.MethodPost {
		return peer, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body struct {
			ToUserID string `json:"to_user_id"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, formOverhead)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: decoding body: %w", messaging.ErrInvalidRequest, err)
		}
		return body.ToUserID, nil
	}
	return r.FormValue("to_user_id"), nil
}

// handleRecent handles GET /api/messages/recent?limit=N.
func (g *Gateway) handleRecent(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUserFromContext(r.Context())

	limit := DefaultInboxLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			g.respondError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", messaging.ErrInvalidRequest))
			return
		}
		limit = n
	}

	msgs, err := g.dispatcher.Inbox(r.Context(), userID, limit)
	if err != nil {
		g.respondError(w, r, err)
		return
	}

	writeData(w, "", messaging.ToChatList(msgs))
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports readiness with the number of open streams.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d streams)", g.registry.Len())
}
