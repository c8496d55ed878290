// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite or MongoDB and to inject failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	messages map[string]*Message

	// Fail hooks let tests simulate storage outages per operation.
	CreateMessageErr error
	GetMessageErr    error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:    make(map[string]*User),
		messages: make(map[string]*Message),
	}
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; ok {
		return ErrDuplicateUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	u := *user
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// CreateMessage stores a message.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateMessageErr != nil {
		return m.CreateMessageErr
	}
	prepareMessage(msg)
	cp := *msg
	cp.From, cp.To = nil, nil
	m.messages[cp.ID] = &cp
	return nil
}

// GetMessage retrieves a message with its sender populated.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetMessageErr != nil {
		return nil, m.GetMessageErr
	}
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.populateLocked(msg, false), nil
}

// ListConversation returns the messages between a and b, newest first.
func (m *MockStore) ListConversation(ctx context.Context, a, b string) ([]*Message, error) {
	return m.list(func(msg *Message) bool {
		return (msg.FromUserID == a && msg.ToUserID == b) || (msg.FromUserID == b && msg.ToUserID == a)
	}, 0, false), nil
}

// MarkSeen flags unseen messages from -> to as seen.
func (m *MockStore) MarkSeen(ctx context.Context, from, to string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, msg := range m.messages {
		if msg.FromUserID == from && msg.ToUserID == to && !msg.Seen {
			msg.Seen = true
			n++
		}
	}
	return n, nil
}

// ListInbox returns messages addressed to the user, newest first.
func (m *MockStore) ListInbox(ctx context.Context, to string, limit int) ([]*Message, error) {
	return m.list(func(msg *Message) bool { return msg.ToUserID == to }, limit, true), nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// MessageCount returns the number of stored messages.
func (m *MockStore) MessageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

func (m *MockStore) list(match func(*Message) bool, limit int, populateTo bool) []*Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*Message{}
	for _, msg := range m.messages {
		if match(msg) {
			result = append(result, m.populateLocked(msg, populateTo))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (m *MockStore) populateLocked(msg *Message, populateTo bool) *Message {
	cp := *msg
	if u, ok := m.users[msg.FromUserID]; ok {
		uc := *u
		cp.From = &uc
	}
	if populateTo {
		if u, ok := m.users[msg.ToUserID]; ok {
			uc := *u
			cp.To = &uc
		}
	}
	return &cp
}

// Compile-time check that MockStore implements Store
var _ Store = (*MockStore)(nil)
