// ABOUTME: Store interface and data types for marvify persistence
// ABOUTME: Defines User and Message records plus the Store interface shared by SQLite, MongoDB and the mock

package store

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when creating a user whose id is already taken
var ErrDuplicateUser = errors.New("user already exists")

// Message media types
const (
	MediaTypeText  = "text"  // Text-only message
	MediaTypeImage = "image" // Message carrying an uploaded image URL
)

// User is the subset of a user profile that is denormalized into messages
type User struct {
	ID             string
	FullName       string
	Username       string
	ProfilePicture string
	CreatedAt      time.Time
}

// Message is one direct message between two users.
// From and To are only set by read operations that populate them.
type Message struct {
	ID         string
	FromUserID string
	ToUserID   string
	Text       string
	MediaType  string // "text" or "image"
	MediaURL   string
	Seen       bool
	CreatedAt  time.Time

	From *User
	To   *User
}

// Store defines the persistence operations used by the messaging layer
type Store interface {
	// CreateUser stores a new user. Returns ErrDuplicateUser if the id exists.
	CreateUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by id. Returns ErrNotFound if absent.
	GetUser(ctx context.Context, id string) (*User, error)

	// CreateMessage persists a message. An empty ID is replaced with a new
	// ULID and a zero CreatedAt with the current time; both are written back.
	CreateMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message with its sender populated.
	// Returns ErrNotFound if absent.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ListConversation returns every message exchanged between users a and b
	// in either direction, newest first, with senders populated.
	ListConversation(ctx context.Context, a, b string) ([]*Message, error)

	// MarkSeen flags all unseen messages sent by from to to as seen and
	// returns how many were updated.
	MarkSeen(ctx context.Context, from, to string) (int64, error)

	// ListInbox returns messages addressed to the user, newest first, with
	// sender and receiver populated. A limit <= 0 means no limit.
	ListInbox(ctx context.Context, to string, limit int) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}

// NewMessageID returns a new time-sortable message identifier.
func NewMessageID() string {
	return ulid.Make().String()
}

// prepareMessage fills the server-assigned fields of a message before insert.
func prepareMessage(msg *Message) {
	if msg.ID == "" {
		msg.ID = NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.MediaType == "" {
		msg.MediaType = MediaTypeText
	}
}
