// ABOUTME: HTTP handler that runs one long-lived event stream per authenticated user
// ABOUTME: Registers the stream, emits the connected frame, and heartbeats until any stop condition

package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/marv1n-le/marvify/internal/chat"
)

// DefaultHeartbeatInterval is used when the server is created with a zero interval.
const DefaultHeartbeatInterval = 30 * time.Second

// Authenticator resolves the user behind a stream request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Server serves the stream endpoint.
type Server struct {
	registry  *Registry
	auth      Authenticator
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewServer creates a stream endpoint backed by the registry.
func NewServer(registry *Registry, auth Authenticator, heartbeat time.Duration, logger *slog.Logger) *Server {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry:  registry,
		auth:      auth,
		heartbeat: heartbeat,
		logger:    logger.With("component", "stream"),
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
}

// ServeHTTP handles GET /api/messages/sse.
//
// Lifecycle:
//  1. Authenticate - failure answers 401 with one error frame, nothing is registered
//  2. Register - any older stream for the same user is closed
//  3. Connected frame - tells the client the stream is live
//  4. Heartbeat loop - until client disconnect, replacement, shutdown or a write error
//  5. Teardown - compare-and-remove unregister, close the handle
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Authenticate(r)
	if err != nil {
		s.logger.Debug("stream rejected", "remote", r.RemoteAddr, "error", err)
		setStreamHeaders(w)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write(ErrorFrame(chat.Envelope{Success: false, Message: "not authorized"}).Encode())
		return
	}

	h, err := NewHandle(userID, w)
	if err != nil {
		s.logger.Error("cannot open stream", "user_id", userID, "error", err)
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)

	s.registry.Register(h)
	defer func() {
		s.registry.Unregister(h)
		h.Close()
	}()

	if err := h.Write(ConnectedFrame()); err != nil {
		s.logger.Warn("failed to write connected frame", "user_id", userID, "handle_id", h.ID(), "error", err)
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("client disconnected", "user_id", userID, "handle_id", h.ID())
			return
		case <-h.Done():
			s.logger.Debug("stream closed by server", "user_id", userID, "handle_id", h.ID())
			return
		case <-ticker.C:
			if err := h.Write(HeartbeatFrame()); err != nil {
				s.logger.Warn("heartbeat failed", "user_id", userID, "handle_id", h.ID(), "error", err)
				return
			}
		}
	}
}
