// Package sqlstore implements store.Store on database/sql. SQLite (modernc, pure Go)
// is the default embedded backend; PostgreSQL is served through the pgx stdlib driver.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/store"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds connection parameters
type Config struct {
	Driver       string        // sqlite | postgres
	DSN          string        // file path / ":memory:" for sqlite, URL for postgres
	MaxOpenConns int           // ignored for sqlite (single writer)
	LockTimeout  time.Duration // postgres row lock wait before ErrContention
}

type dialect struct {
	name       string
	driverName string
	forUpdate  string
	dollar     bool
}

var dialects = map[string]dialect{
	DriverSQLite:   {name: DriverSQLite, driverName: "sqlite"},
	DriverPostgres: {name: DriverPostgres, driverName: "pgx", forUpdate: " FOR UPDATE", dollar: true},
}

// rebind rewrites ? placeholders to $n for dialects that need it
func (d dialect) rebind(query string) string {
	if !d.dollar {
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

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements store.Reader over either the pool or a transaction
type queries struct {
	q       querier
	dialect dialect
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.q.ExecContext(ctx, q.dialect.rebind(query), args...)
}

func (q *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.q.QueryContext(ctx, q.dialect.rebind(query), args...)
}

func (q *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.q.QueryRowContext(ctx, q.dialect.rebind(query), args...)
}

// SQLStore is the database/sql ledger store
type SQLStore struct {
	queries
	db          *sql.DB
	lockTimeout time.Duration
	logger      zerolog.Logger
}

var _ store.Store = (*SQLStore)(nil)

// Open connects, applies embedded migrations and returns a ready store
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*SQLStore, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}

	dsn := cfg.DSN
	if d.name == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", d.name, err)
	}

	if d.name == DriverSQLite {
		// single writer; also keeps a :memory: database alive on one connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", d.name, err)
	}

	s := &SQLStore{
		queries:     queries{q: db, dialect: d},
		db:          db,
		lockTimeout: cfg.LockTimeout,
		logger:      logger.With().Str("component", "sqlstore").Str("driver", d.name).Logger(),
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// sqliteDSN pins the time format so stored timestamps compare lexically
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = ":memory:"
	}
	if strings.Contains(dsn, "_time_format=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_time_format=sqlite&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// migrate applies embedded migrations in lexicographic order, once each
func (s *SQLStore) migrate(ctx context.Context) error {
	const createTracker = `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, createTracker); err != nil {
		return fmt.Errorf("sqlstore: create schema_migrations table: %w", err)
	}

	dir := "migrations/" + s.dialect.name
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("sqlstore: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var count int
		if err := s.queryRow(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", entry.Name(),
		).Scan(&count); err != nil {
			return fmt.Errorf("sqlstore: check migration %s: %w", entry.Name(), err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile(dir + "/" + entry.Name())
		if err != nil {
			return fmt.Errorf("sqlstore: read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlstore: begin tx for %s: %w", entry.Name(), err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlstore: exec migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.ExecContext(ctx,
			s.dialect.rebind("INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)"),
			entry.Name(), time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlstore: record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlstore: commit migration %s: %w", entry.Name(), err)
		}

		s.logger.Info().Str("migration", entry.Name()).Msg("applied migration")
	}

	return nil
}

// WithinTx runs fn in a transaction. Any error from fn rolls everything back.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin tx: %w", translate(err))
	}

	tx := &sqlTx{queries: queries{q: dbTx, dialect: s.dialect}}

	if s.dialect.name == DriverPostgres && s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := dbTx.ExecContext(ctx, stmt); err != nil {
			_ = dbTx.Rollback()
			return fmt.Errorf("sqlstore: set lock_timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", translate(err))
	}
	return nil
}

// DB exposes the underlying pool for maintenance tooling
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Driver returns the dialect name
func (s *SQLStore) Driver() string {
	return s.dialect.name
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// sqlTx implements store.Tx
type sqlTx struct {
	queries
}

var _ store.Tx = (*sqlTx)(nil)

// translate maps driver errors onto the ledger error taxonomy
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01", "40001": // lock_not_available, deadlock_detected, serialization_failure
			return fmt.Errorf("%w: %s", models.ErrContention, pgErr.Message)
		}
		return err
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %s", models.ErrContention, liteErr.Error())
		}
	}

	return err
}

// utc normalises timestamps to the precision both backends preserve
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := utc(*t)
	return &v
}
