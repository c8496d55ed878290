// ABOUTME: Registry maps each user id to its single live stream handle
// ABOUTME: Registration replaces and closes older handles; unregistration is compare-and-remove

package stream

import (
	"log/slog"
	"sync"
)

// Registry tracks the live stream of every connected user.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handles: make(map[string]*Handle),
		logger:  logger.With("component", "stream-registry"),
	}
}

// Register makes h the live handle for its user and returns the handle it
// replaced, if any. The replaced handle is closed so its session ends.
// After Close, Register closes h immediately and stores nothing.
func (r *Registry) Register(h *Handle) *Handle {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		h.Close()
		r.logger.Debug("rejected registration after shutdown", "user_id", h.UserID(), "handle_id", h.ID())
		return nil
	}
	replaced := r.handles[h.UserID()]
	r.handles[h.UserID()] = h
	count := len(r.handles)
	r.mu.Unlock()

	if replaced == h {
		return nil
	}
	if replaced != nil {
		replaced.Close()
		r.logger.Info("stream replaced",
			"user_id", h.UserID(),
			"handle_id", h.ID(),
			"replaced_handle_id", replaced.ID(),
		)
	} else {
		r.logger.Info("stream registered", "user_id", h.UserID(), "handle_id", h.ID(), "streams", count)
	}
	return replaced
}

// Unregister removes h only if it is still the live handle for its user.
// Returns true if the mapping was removed.
func (r *Registry) Unregister(h *Handle) bool {
	r.mu.Lock()
	current, ok := r.handles[h.UserID()]
	removed := ok && current == h
	if removed {
		delete(r.handles, h.UserID())
	}
	r.mu.Unlock()

	if removed {
		r.logger.Info("stream unregistered", "user_id", h.UserID(), "handle_id", h.ID())
	}
	return removed
}

// Lookup returns the live handle for the user, or nil.
func (r *Registry) Lookup(userID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[userID]
}

// Len returns the number of live streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Close closes and drops every handle. Safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
	r.logger.Info("registry closed", "streams", len(handles))
}
