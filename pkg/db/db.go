package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Database wraps the SQL handle for easier swapping/testing.
type Database struct {
	DB      *sql.DB
	Dialect Dialect
}

// New opens (and creates if needed) the SQLite database at path.
func New(path string) (*Database, error) {
	return Open(SQLite, path)
}

// Open connects to the journal backend. For sqlite dsn is a file path or
// ":memory:"; for postgres it is a libpq connection string.
func Open(dialect Dialect, dsn string) (*Database, error) {
	if dsn == "" {
		return nil, errors.New("database path is empty")
	}
	switch dialect {
	case SQLite, "":
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1) // SQLite prefers single writer.
		db.SetConnMaxLifetime(time.Hour)
		return &Database{DB: db, Dialect: SQLite}, nil

	case Postgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(time.Hour)
		return &Database{DB: db, Dialect: Postgres}, nil

	default:
		return nil, fmt.Errorf("unsupported journal driver %q", dialect)
	}
}

// Rebind rewrites ? placeholders into the dialect's form.
func (d *Database) Rebind(query string) string {
	if d.Dialect != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
