package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const operationTimeout = 5 * time.Second

var (
	ErrInvalidDSN    = errors.New("invalid store dsn")
	ErrUnknownScheme = errors.New("unsupported store scheme")
	errNilStore      = errors.New("nil store")
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type dialect struct {
	driver        string
	timestampType string
	// singleConn serializes access for sqlite, which allows one writer.
	singleConn bool
}

var (
	postgresDialect = dialect{driver: "postgres", timestampType: "TIMESTAMPTZ"}
	sqliteDialect   = dialect{driver: "sqlite3", timestampType: "TIMESTAMP", singleConn: true}
)

// Store persists test runs, connectors, components and per-user settings.
type Store struct {
	dsn     string
	dialect dialect
	openDB  sqlOpenFunc
	now     func() time.Time

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func newStore(d dialect, dsn string) *Store {
	return &Store{
		dsn:     dsn,
		dialect: d,
		openDB:  sql.Open,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewPostgres returns a store backed by lib/pq.
func NewPostgres(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidDSN
	}
	return newStore(postgresDialect, dsn), nil
}

// NewSQLite returns a store backed by a sqlite file, or a private
// in-memory database when path is empty or ":memory:".
func NewSQLite(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == ":memory:" {
		return newStore(sqliteDialect, ":memory:"), nil
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	if !strings.Contains(path, "_busy_timeout") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		path += sep + "_busy_timeout=5000"
	}
	return newStore(sqliteDialect, path), nil
}

// Open builds a store from a DSN. Registered factories win over the
// built-in schemes postgres, sqlite, file and memory.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidDSN
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	case "sqlite", "sqlite3":
		return NewSQLite(sqlitePath(parsed, dsn))
	case "file":
		return NewSQLite(dsn)
	case "memory", "mem", "inmem":
		return NewSQLite("")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, scheme)
	}
}

// Init creates the schema. Every other method calls it lazily.
func (s *Store) Init(ctx context.Context) error {
	return s.ensureReady(ctx)
}

func (s *Store) Driver() string {
	return s.dialect.driver
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureReady(ctx context.Context) error {
	if s == nil {
		return errNilStore
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driver, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		if s.dialect.singleConn {
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), operationTimeout)
		defer cancel()
		for _, stmt := range schemaStatements(s.dialect) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				s.initErr = fmt.Errorf("apply schema: %w", err)
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func schemaStatements(d dialect) []string {
	ts := d.timestampType
	return []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS test_runs (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'in_progress',
				created_at %s NOT NULL
			)`, ts),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS connectors (
				id TEXT PRIMARY KEY,
				test_run_id TEXT NOT NULL,
				connector_name TEXT NOT NULL,
				version TEXT NOT NULL,
				label TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				icon TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'pending',
				blocked_reason TEXT,
				notes TEXT,
				created_at %s NOT NULL
			)`, ts),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS components (
				id TEXT PRIMARY KEY,
				connector_id TEXT NOT NULL,
				component_name TEXT NOT NULL,
				label TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				icon TEXT NOT NULL DEFAULT '',
				version TEXT NOT NULL DEFAULT '',
				is_private BOOLEAN NOT NULL DEFAULT FALSE,
				status TEXT NOT NULL DEFAULT 'pending',
				github_issues TEXT NOT NULL DEFAULT '[]',
				tested_at %s
			)`, ts),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS settings (
				user_id TEXT NOT NULL,
				key TEXT NOT NULL,
				value TEXT NOT NULL,
				updated_at %s NOT NULL,
				PRIMARY KEY (user_id, key)
			)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_connectors_test_run ON connectors(test_run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_components_connector ON components(connector_id)`,
		`CREATE INDEX IF NOT EXISTS idx_test_runs_created ON test_runs(created_at)`,
	}
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	return ctx, cancel, nil
}

func sqlitePath(parsed *url.URL, raw string) string {
	if parsed.Opaque != "" {
		return parsed.Opaque
	}
	path := parsed.Host + parsed.Path
	if path == "" {
		return strings.TrimPrefix(strings.TrimPrefix(raw, "sqlite3://"), "sqlite://")
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return path
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
