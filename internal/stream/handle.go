// ABOUTME: Handle wraps one open event-stream response for a single user
// ABOUTME: Writes are serialized per handle and Close is idempotent

package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Handle errors
var (
	ErrHandleClosed         = errors.New("stream handle closed")
	ErrStreamingUnsupported = errors.New("streaming not supported")
)

// Handle is the writable end of one live stream.
type Handle struct {
	id     string
	userID string

	mu     sync.Mutex
	w      io.Writer
	flush  func() error
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewHandle creates a handle writing to an HTTP response.
// Returns ErrStreamingUnsupported if the writer cannot flush.
func NewHandle(userID string, w http.ResponseWriter) (*Handle, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	// ResponseController sees through middleware wrappers that implement Unwrap
	rc := http.NewResponseController(w)
	flush := func() error {
		err := rc.Flush()
		if errors.Is(err, http.ErrNotSupported) {
			flusher.Flush()
			return nil
		}
		return err
	}
	return newHandle(userID, w, flush), nil
}

func newHandle(userID string, w io.Writer, flush func() error) *Handle {
	return &Handle{
		id:     uuid.NewString(),
		userID: userID,
		w:      w,
		flush:  flush,
		done:   make(chan struct{}),
	}
}

// ID returns the handle's unique id.
func (h *Handle) ID() string { return h.id }

// UserID returns the user the stream belongs to.
func (h *Handle) UserID() string { return h.userID }

// Done is closed when the handle is closed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Write encodes the frame, writes it and flushes. Returns ErrHandleClosed
// once Close has been called.
func (h *Handle) Write(f Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHandleClosed
	}
	if _, err := h.w.Write(f.Encode()); err != nil {
		return fmt.Errorf("writing %s frame: %w", f.Kind, err)
	}
	if err := h.flush(); err != nil {
		return fmt.Errorf("flushing %s frame: %w", f.Kind, err)
	}
	return nil
}

// Close marks the handle closed and releases anyone waiting on Done.
// It waits for an in-flight Write to finish, so no write touches the
// response after Close returns.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		close(h.done)
	})
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
