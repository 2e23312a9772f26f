// Package store provides database access for msgdesk.
//
// Deployments run independently-migrated SQLite databases, so the physical
// schema is not uniform: optional columns and companion tables may be
// missing. The store exposes a structured classification for those
// "undefined column/relation" errors (MissingSchemaObject) and a capability
// registry (Capabilities) so the query layer can adapt instead of failing.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/msgdesk/msgdesk/internal/contact"
)

//go:embed schema.sql
var schemaFS embed.FS

// DriverName is the registered sqlite3 driver carrying msgdesk's SQL
// functions. All connections, including test fixtures, must open through
// it: queries reference name_fold unconditionally.
const DriverName = "sqlite3_msgdesk"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// SQLite's LOWER() only folds ASCII; accented recipient names
			// need the same Unicode fold the Go side applies.
			return conn.RegisterFunc("name_fold", contact.FoldName, true)
		},
	})
}

// Store provides database operations for msgdesk.
type Store struct {
	db     *sql.DB
	dbPath string
}

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// Open opens or creates the database at the given path.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + defaultSQLiteParams
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// OpenMemory opens an in-memory database. Used by tests and the initdb
// dry-run path.
func OpenMemory() (*Store, error) {
	db, err := sql.Open(DriverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every pooled connection to a plain :memory: DSN gets its own empty
	// database; pin the pool to one connection.
	db.SetMaxOpenConns(1)
	return &Store{db: db, dbPath: ":memory:"}, nil
}

// FromDB wraps an existing connection. Used by tests that shape the
// schema themselves before handing the database over.
func FromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the path the database was opened with.
func (s *Store) Path() string {
	return s.dbPath
}

// InitSchema creates all tables, including every optional column and
// companion table. Older deployments carry subsets; the capability
// registry discovers what is actually present at runtime.
func (s *Store) InitSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// WithTx executes fn within a database transaction. If fn returns an error,
// the transaction is rolled back; otherwise it is committed.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SchemaObjectKind identifies what kind of schema object a query referenced
// but the deployed database lacks.
type SchemaObjectKind int

const (
	// MissingColumn indicates an undefined column.
	MissingColumn SchemaObjectKind = iota + 1
	// MissingTable indicates an undefined table.
	MissingTable
)

// sqliteErrorMessage extracts the driver-level message from err, or "" when
// err does not wrap a sqlite3 error. Using errors.As against the concrete
// driver type keeps the classification from matching arbitrary errors that
// merely mention a table name.
func sqliteErrorMessage(err error) string {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Error()
	}
	var sqliteErrPtr *sqlite3.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return sqliteErrPtr.Error()
	}
	return ""
}

// MissingSchemaObject classifies err as an undefined-column or
// undefined-table error and extracts the offending object's bare name
// (alias prefixes like "m." are stripped). ok is false for every other
// error, including connectivity failures, which callers must never retry.
//
// SQLite reports these conditions only through its message text, so this is
// the single place in the codebase allowed to match on it.
func MissingSchemaObject(err error) (kind SchemaObjectKind, name string, ok bool) {
	msg := sqliteErrorMessage(err)
	if msg == "" {
		return 0, "", false
	}

	classify := func(prefix string, k SchemaObjectKind) (SchemaObjectKind, string, bool) {
		idx := strings.Index(msg, prefix)
		if idx < 0 {
			return 0, "", false
		}
		name := strings.TrimSpace(msg[idx+len(prefix):])
		// Strip anything after the first space and a table alias
		// ("m.recipient_sector_id").
		if sp := strings.IndexByte(name, ' '); sp >= 0 {
			name = name[:sp]
		}
		if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
			name = name[dot+1:]
		}
		if name == "" {
			return 0, "", false
		}
		return k, name, true
	}

	if k, n, ok := classify("no such column: ", MissingColumn); ok {
		return k, n, ok
	}
	return classify("no such table: ", MissingTable)
}
