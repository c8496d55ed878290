// Package store provides persistent storage for users and direct messages.
//
// # Backends
//
// Store is implemented three times:
//
//   - SQLiteStore: database/sql over modernc.org/sqlite (driver "sqlite",
//     pure Go, the default) or github.com/mattn/go-sqlite3 (driver
//     "sqlite3", requires cgo)
//   - MongoStore: documents in the "users" and "messages" collections
//   - MockStore: in-memory, for unit tests, with failure hooks
//
// # Data Models
//
//   - User: id plus the display fields denormalized into messages
//   - Message: one direct message; From/To are filled by read operations
//
// Message ids are ULIDs assigned at insert time, so ids sort in creation
// order within one process. Listing operations order by created_at and then
// id, newest first.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as fixed-width UTC strings with nanoseconds so that
// lexical and chronological order agree. Columns added after the first
// schema (media_url, seen) are applied by idempotent migrations on open.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateUser: user id already taken
//
// All methods accept context.Context for cancellation support.
package store
