// ABOUTME: SQLite implementation of the Store interface
// ABOUTME: Runs on modernc.org/sqlite by default or mattn/go-sqlite3 when the cgo driver is selected

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// SQL driver names registered by the imported drivers
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite
	DriverCgo     = "sqlite3" // github.com/mattn/go-sqlite3
)

// timeLayout sorts lexically in the same order as chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the pure Go driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithDriver(DriverModernc, path)
}

// NewSQLiteStoreWithDriver creates a SQLite store using the named database/sql driver.
func NewSQLiteStoreWithDriver(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if driver != DriverModernc && driver != DriverCgo {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id              TEXT PRIMARY KEY,
			full_name       TEXT NOT NULL DEFAULT '',
			username        TEXT NOT NULL DEFAULT '',
			profile_picture TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id           TEXT PRIMARY KEY,
			from_user_id TEXT NOT NULL,
			to_user_id   TEXT NOT NULL,
			text         TEXT NOT NULL DEFAULT '',
			message_type TEXT NOT NULL DEFAULT 'text',
			created_at   TEXT NOT NULL,

			CHECK (message_type IN ('text', 'image'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_pair
			ON messages(from_user_id, to_user_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_to_created
			ON messages(to_user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'media_url'`,
			apply:  `ALTER TABLE messages ADD COLUMN media_url TEXT NOT NULL DEFAULT ''`,
			column: "media_url",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'seen'`,
			apply:  `ALTER TABLE messages ADD COLUMN seen INTEGER NOT NULL DEFAULT 0`,
			column: "seen",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to messages: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "messages")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand or older tooling may use plain RFC3339
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

// CreateUser inserts a new user row.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, username, profile_picture, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.FullName, user.Username, user.ProfilePicture, formatTime(user.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "username", user.Username)
	return nil
}

// GetUser retrieves a user by id.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var createdAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, username, profile_picture, created_at
		FROM users
		WHERE id = ?
	`, id).Scan(&u.ID, &u.FullName, &u.Username, &u.ProfilePicture, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// CreateMessage inserts a message, assigning its id and timestamp when unset.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	prepareMessage(msg)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, from_user_id, to_user_id, text, message_type, media_url, seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.FromUserID,
		msg.ToUserID,
		msg.Text,
		msg.MediaType,
		msg.MediaURL,
		msg.Seen,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("created message", "id", msg.ID, "from", msg.FromUserID, "to", msg.ToUserID)
	return nil
}

// messageColumns selects a message with both participants joined.
// The user columns are NULL when the referenced user row is absent.
const messageColumns = `
	SELECT m.id, m.from_user_id, m.to_user_id, m.text, m.message_type, m.media_url, m.seen, m.created_at,
	       fu.id, fu.full_name, fu.username, fu.profile_picture,
	       tu.id, tu.full_name, tu.username, tu.profile_picture
	FROM messages m
	LEFT JOIN users fu ON fu.id = m.from_user_id
	LEFT JOIN users tu ON tu.id = m.to_user_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, populateTo bool) (*Message, error) {
	var msg Message
	var createdAt string
	var fromID, fromName, fromUsername, fromPicture sql.NullString
	var toID, toName, toUsername, toPicture sql.NullString

	err := row.Scan(
		&msg.ID, &msg.FromUserID, &msg.ToUserID, &msg.Text, &msg.MediaType, &msg.MediaURL, &msg.Seen, &createdAt,
		&fromID, &fromName, &fromUsername, &fromPicture,
		&toID, &toName, &toUsername, &toPicture,
	)
	if err != nil {
		return nil, err
	}

	msg.CreatedAt = parseTime(createdAt)
	if fromID.Valid {
		msg.From = &User{ID: fromID.String, FullName: fromName.String, Username: fromUsername.String, ProfilePicture: fromPicture.String}
	}
	if populateTo && toID.Valid {
		msg.To = &User{ID: toID.String, FullName: toName.String, Username: toUsername.String, ProfilePicture: toPicture.String}
	}
	return &msg, nil
}

// GetMessage retrieves a message by id with its sender populated.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, messageColumns+` WHERE m.id = ?`, id)
	msg, err := scanMessage(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// ListConversation returns the messages between a and b, newest first.
func (s *SQLiteStore) ListConversation(ctx context.Context, a, b string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, messageColumns+`
		WHERE (m.from_user_id = ? AND m.to_user_id = ?)
		   OR (m.from_user_id = ? AND m.to_user_id = ?)
		ORDER BY m.created_at DESC, m.id DESC
	`, a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows, false)
}

// MarkSeen flags unseen messages from -> to as seen.
func (s *SQLiteStore) MarkSeen(ctx context.Context, from, to string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET seen = 1
		WHERE from_user_id = ? AND to_user_id = ? AND seen = 0
	`, from, to)
	if err != nil {
		return 0, fmt.Errorf("marking messages seen: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		s.logger.Debug("marked messages seen", "from", from, "to", to, "count", n)
	}
	return n, nil
}

// ListInbox returns messages addressed to the user, newest first.
func (s *SQLiteStore) ListInbox(ctx context.Context, to string, limit int) ([]*Message, error) {
	query := messageColumns + `
		WHERE m.to_user_id = ?
		ORDER BY m.created_at DESC, m.id DESC
	`
	args := []any{to}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying inbox: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows, true)
}

func collectMessages(rows *sql.Rows, populateTo bool) ([]*Message, error) {
	messages := []*Message{}
	for rows.Next() {
		msg, err := scanMessage(rows, populateTo)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}
