// Package storage provides persistence for ORBIT.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/orbitlabs/orbit/internal/core"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"   // modernc.org/sqlite, pure Go
	DriverSQLite3  = "sqlite3"  // github.com/mattn/go-sqlite3, cgo
	DriverPostgres = "postgres" // github.com/lib/pq
)

// DB wraps the database connection
type DB struct {
	conn     *sql.DB
	driver   string
	path     string
	isMemory bool
}

// Config for database initialization
type Config struct {
	Driver   string // sqlite (default), sqlite3 or postgres
	DSN      string // connection string for postgres
	Path     string // Path to database file
	InMemory bool   // Use in-memory database (for testing)
}

// Open opens or creates the database
func Open(cfg Config) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var dsn string
	switch driver {
	case DriverSQLite, DriverSQLite3:
		if cfg.InMemory {
			// Unique name so parallel tests never share a database.
			dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
		} else {
			dir := filepath.Dir(cfg.Path)
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
			dsn = cfg.Path
		}
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires a DSN")
		}
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn:     conn,
		driver:   driver,
		path:     cfg.Path,
		isMemory: cfg.InMemory,
	}

	if db.isPostgres() {
		conn.SetMaxOpenConns(10)
		if err := conn.Ping(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
		return db, nil
	}

	// SQLite doesn't handle concurrent writes well
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB for direct access
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Driver returns the database driver name
func (db *DB) Driver() string {
	return db.driver
}

func (db *DB) isPostgres() bool {
	return db.driver == DriverPostgres
}

// Rebind converts ? placeholders to the driver's bind style.
func (db *DB) Rebind(query string) string {
	if !db.isPostgres() {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Tx is a transaction bound to a DB so stores can join it.
type Tx struct {
	tx *sql.Tx
	db *DB
}

// Transaction executes a function within a transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return core.NewStorageError("begin", errors.Wrap(err, "begin transaction"))
	}

	if err := fn(&Tx{tx: sqlTx, db: db}); err != nil {
		sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return core.NewStorageError("commit", errors.Wrap(err, "commit transaction"))
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runner executes rebound queries against a connection or a transaction.
type runner struct {
	q    querier
	db   *DB
	inTx bool
}

func (db *DB) runner() runner { return runner{q: db.conn, db: db} }

func (tx *Tx) runner() runner { return runner{q: tx.tx, db: tx.db, inTx: true} }

func (r runner) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.db.Rebind(query), args...)
}

func (r runner) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.db.Rebind(query), args...)
}

func (r runner) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.db.Rebind(query), args...)
}

// lockClause locks selected rows until the transaction ends. SQLite serializes
// writers on its single connection, so only postgres needs the clause.
func (r runner) lockClause() string {
	if r.inTx && r.db.isPostgres() {
		return " FOR UPDATE"
	}
	return ""
}

// Times are stored as UTC unix milliseconds so every driver compares them the same way.

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// wrap turns a driver error into a StorageError for op.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return core.NewStorageError(op, errors.WithStack(err))
}
