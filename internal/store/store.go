// Package store provides SQL-backed persistence for the feeder control plane.
//
// SQLite is the default backend. PostgreSQL is supported for hosted
// deployments where the scheduler and the device bridge run on different hosts.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateToken indicates a command with the same idempotency token exists.
	ErrDuplicateToken = errors.New("duplicate idempotency token")
	// ErrConflict indicates a compare-and-set update lost to a concurrent writer.
	ErrConflict = errors.New("row changed concurrently")
	// ErrLocked indicates a lock is held by another holder.
	ErrLocked = errors.New("lock held by another holder")
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config selects the backend.
type Config struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"` // sqlite file
	DSN    string `yaml:"dsn"`  // postgres connection string, without password
	// Password is merged into the postgres DSN at open time.
	Password string `yaml:"-"`
}

// Store provides access to the feeder database.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New opens a SQLite store at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	return Open(Config{Driver: DriverSQLite, Path: dbPath})
}

// Open creates a Store for cfg and runs migrations.
func Open(cfg Config) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "", DriverSQLite:
		cfg.Driver = DriverSQLite
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		db, err = sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case DriverPostgres:
		dsn := cfg.DSN
		if cfg.Password != "" {
			dsn = withPassword(dsn, cfg.Password)
		}
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		db.SetMaxOpenConns(8)
		db.SetConnMaxIdleTime(5 * time.Minute)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	s := &Store{db: db, driver: cfg.Driver, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// withPassword appends a password to a key/value or URL style DSN.
func withPassword(dsn, password string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "password=" + url.QueryEscape(password)
	}
	return strings.TrimSpace(dsn + " password='" + strings.ReplaceAll(password, "'", `\'`) + "'")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver reports the backend in use.
func (s *Store) Driver() string { return s.driver }

// SetClock overrides the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema, err := migrations.ReadFile("migrations/" + s.driver + ".sql")
	if err != nil {
		return err
	}
	_, err = s.db.Exec(string(schema))
	return err
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
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

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "unique constraint")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
