// Package dbtest provides shared database test helpers for seeding and
// reshaping test databases. Tests exercise schema adaptation by dropping
// the optional columns and tables from the full schema; drop before
// seeding rows that would reference the dropped objects.
package dbtest

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/msgdesk/msgdesk/internal/store"
)

// IntPtr returns a pointer to an int64 (useful for optional id fields).
func IntPtr(v int64) *int64 { return &v }

// TestDB wraps a *sql.DB with seeding helpers for message tests.
type TestDB struct {
	DB *sql.DB
	T  testing.TB
}

// New creates an in-memory SQLite database with the full production schema
// loaded. schemaPath is the path to schema.sql relative to the caller's
// package (e.g. "../store/schema.sql").
func New(t testing.TB, schemaPath string) *TestDB {
	t.Helper()

	db, err := sql.Open(store.DriverName, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Every pooled connection to a plain :memory: DSN gets its own empty
	// database; pin the pool to one connection.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		t.Fatalf("read schema.sql: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	return &TestDB{DB: db, T: t}
}

// DropColumn removes an optional column from the messages table,
// simulating an older deployment.
func (tdb *TestDB) DropColumn(name string) {
	tdb.T.Helper()
	if _, err := tdb.DB.Exec(fmt.Sprintf("ALTER TABLE messages DROP COLUMN %s", name)); err != nil {
		tdb.T.Fatalf("drop column %s: %v", name, err)
	}
}

// DropTable removes an optional companion table.
func (tdb *TestDB) DropTable(name string) {
	tdb.T.Helper()
	if _, err := tdb.DB.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
		tdb.T.Fatalf("drop table %s: %v", name, err)
	}
}

// AddUser inserts a user row and returns its id.
func (tdb *TestDB) AddUser(name, scope string) int64 {
	tdb.T.Helper()
	res, err := tdb.DB.Exec(
		`INSERT INTO users (name, role, view_scope) VALUES (?, 'agent', ?)`, name, scope)
	if err != nil {
		tdb.T.Fatalf("insert user: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// AddSectorMember records sector membership for a user.
func (tdb *TestDB) AddSectorMember(userID, sectorID int64) {
	tdb.T.Helper()
	if _, err := tdb.DB.Exec(
		`INSERT INTO user_sectors (user_id, sector_id) VALUES (?, ?)`, userID, sectorID); err != nil {
		tdb.T.Fatalf("insert sector member: %v", err)
	}
}

// AddLabel attaches a label (created on demand) to a message.
func (tdb *TestDB) AddLabel(messageID int64, name string) {
	tdb.T.Helper()
	if _, err := tdb.DB.Exec(
		`INSERT OR IGNORE INTO labels (name) VALUES (?)`, name); err != nil {
		tdb.T.Fatalf("insert label: %v", err)
	}
	if _, err := tdb.DB.Exec(
		`INSERT INTO message_labels (message_id, label_id)
		 SELECT ?, id FROM labels WHERE name = ?`, messageID, name); err != nil {
		tdb.T.Fatalf("attach label: %v", err)
	}
}

// MessageOpts describes a seeded message. Zero values produce a plain
// private pending message.
type MessageOpts struct {
	CallDate          string
	CallTime          string
	Recipient         string
	RecipientUserID   *int64
	RecipientSectorID *int64
	SenderName        string
	SenderPhone       string
	SenderEmail       string
	Subject           string
	Body              string
	Status            string
	Visibility        string
	CallbackAt        string
	Notes             string
	ParentMessageID   *int64
	CreatedBy         *int64
	CreatedAt         string
}

// AddMessage inserts a message row and returns its id. Only call before
// dropping columns the opts reference.
func (tdb *TestDB) AddMessage(o MessageOpts) int64 {
	tdb.T.Helper()

	if o.Body == "" {
		o.Body = "test body"
	}
	if o.Status == "" {
		o.Status = "pending"
	}
	if o.Visibility == "" {
		o.Visibility = "private"
	}
	if o.CreatedAt == "" {
		o.CreatedAt = "2025-06-01 10:00:00"
	}

	var callbackAt any
	if o.CallbackAt != "" {
		callbackAt = o.CallbackAt
	}
	var callDate, callTime any
	if o.CallDate != "" {
		callDate = o.CallDate
	}
	if o.CallTime != "" {
		callTime = o.CallTime
	}

	res, err := tdb.DB.Exec(`
		INSERT INTO messages (
			call_date, call_time, recipient, recipient_user_id, recipient_sector_id,
			sender_name, sender_phone, sender_email, subject, body,
			status, visibility, callback_at, notes, parent_message_id, created_by,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		callDate, callTime, o.Recipient, toNullable(o.RecipientUserID), toNullable(o.RecipientSectorID),
		o.SenderName, o.SenderPhone, o.SenderEmail, o.Subject, o.Body,
		o.Status, o.Visibility, callbackAt, o.Notes,
		toNullable(o.ParentMessageID), toNullable(o.CreatedBy),
		o.CreatedAt, o.CreatedAt)
	if err != nil {
		tdb.T.Fatalf("insert message: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func toNullable(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// Count returns the number of rows the query yields; query must be a
// SELECT COUNT(*).
func (tdb *TestDB) Count(query string, args ...any) int64 {
	tdb.T.Helper()
	var n int64
	if err := tdb.DB.QueryRow(query, args...).Scan(&n); err != nil {
		tdb.T.Fatalf("count query: %v", err)
	}
	return n
}
