package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const (
	sqliteBusyTimeoutMS = 5000
	sqliteMaxOpenConns  = 1
)

// DB wraps the connection pool and provides transaction support.
// Postgres goes through a pgxpool exposed as *sql.DB; SQLite goes through
// the pure-Go modernc driver with a single connection.
type DB struct {
	sql     *sql.DB
	pool    *pgxpool.Pool
	dialect Dialect
}

type Config struct {
	// postgres://... or sqlite://path, file:path, :memory:
	DSN string

	// Postgres pool bounds. Ignored for SQLite.
	MaxConns int32
	MinConns int32
}

// New opens the database named by cfg.DSN and pings it.
func New(ctx context.Context, cfg Config) (*DB, error) {
	dialect, target, err := parseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	switch dialect {
	case DialectPostgres:
		return openPostgres(ctx, target, cfg)
	default:
		return openSQLite(ctx, target)
	}
}

func openPostgres(ctx context.Context, dsn string, cfg Config) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	} else {
		poolCfg.MaxConns = 10
	}

	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	} else {
		poolCfg.MinConns = 2
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{sql: stdlib.OpenDBFromPool(pool), pool: pool, dialect: DialectPostgres}, nil
}

func openSQLite(ctx context.Context, path string) (*DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// One writer at a time; a single connection serializes access instead of
	// surfacing "database is locked" under concurrent workers.
	sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
	sqlDB.SetMaxIdleConns(sqliteMaxOpenConns)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{sql: sqlDB, dialect: DialectSQLite}, nil
}

// sqliteDSN attaches pragmas as DSN parameters so they apply to every
// connection the driver opens.
func sqliteDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", sqliteBusyTimeoutMS))
	params.Add("_pragma", "foreign_keys(1)")
	if path != ":memory:" {
		params.Add("_pragma", "journal_mode(WAL)")
		params.Add("_pragma", "synchronous(NORMAL)")
	}

	base := path
	if !strings.HasPrefix(base, "file:") {
		base = "file:" + base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}

func parseDSN(dsn string) (Dialect, string, error) {
	switch {
	case dsn == "":
		return "", "", errors.New("database DSN is required")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DialectPostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return DialectSQLite, strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		return DialectSQLite, dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database DSN scheme: %q", redactDSN(dsn))
	}
}

func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i] + "://..."
	}
	return "..."
}

func (db *DB) Dialect() Dialect {
	return db.dialect
}

func (db *DB) Close() {
	_ = db.sql.Close()
	if db.pool != nil {
		db.pool.Close()
	}
}

func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.sql.PingContext(ctx)
}

// Queries returns a Queries bound to the pool, for non-transactional work.
func (db *DB) Queries() *Queries {
	return newQueries(db.sql, db.dialect)
}

// WithTx executes fn within a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
//
//	err := db.WithTx(ctx, func(q *db.Queries) error {
//	    if _, err := q.Exec(ctx, "UPDATE ...", ...); err != nil {
//	        return err
//	    }
//	    _, err := q.Exec(ctx, "INSERT ...", ...)
//	    return err
//	})
func (db *DB) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	// No-op once committed.
	defer tx.Rollback() //nolint:errcheck

	if err := fn(newQueries(tx, db.dialect)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
