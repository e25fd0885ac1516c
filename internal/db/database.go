package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"ccsds-telemetry-api/internal/telemetry"
)

// Driver names as registered with database/sql
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// QueryObserver receives the duration and outcome of every store round trip
type QueryObserver func(d time.Duration, err error)

// PoolOptions sizes the connection pool
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Database wraps the telemetry connection pool
type Database struct {
	conn    *sqlx.DB
	observe QueryObserver
}

// Open creates the connection pool for the telemetry store. driver is DriverPostgres or
// DriverSQLite. Connections are established lazily, so an unreachable store does not fail
// Open; call Ping to check reachability and rely on the health probe to report it.
func Open(driver, dsn string, pool PoolOptions) (*Database, error) {
	if driver == DriverSQLite {
		var err error
		if dsn, err = SQLiteDSN(dsn, url.Values{"mode": {"ro"}, "_busy_timeout": {"5000"}}); err != nil {
			return nil, err
		}
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	return &Database{conn: conn}, nil
}

// SQLiteDSN builds a file: URI for path with the given query parameters. The path is
// made absolute and percent-escaped, so '?', '#' and spaces in file names survive.
func SQLiteDSN(path string, params url.Values) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid sqlite path %q: %w", path, err)
	}
	u := url.URL{Path: filepath.ToSlash(abs)}
	dsn := "file:" + u.EscapedPath()
	if len(params) > 0 {
		dsn += "?" + params.Encode()
	}
	return dsn, nil
}

// Ping checks that the store is reachable
func (db *Database) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

// New wraps an existing handle; driverName selects the placeholder style
func New(conn *sql.DB, driverName string) *Database {
	return &Database{conn: sqlx.NewDb(conn, driverName)}
}

// WithQueryObserver installs fn as the round-trip observer
func (db *Database) WithQueryObserver(fn QueryObserver) *Database {
	db.observe = fn
	return db
}

// DB exposes the underlying pool, e.g. for pool statistics
func (db *Database) DB() *sql.DB {
	return db.conn.DB
}

// Close closes the pool
func (db *Database) Close() error {
	return db.conn.Close()
}

// Acquire checks one connection out of the pool
func (db *Database) Acquire(ctx context.Context) (telemetry.Conn, error) {
	c, err := db.conn.Connx(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c, observe: db.observe}, nil
}

// Conn is a scoped connection. Release returns it to the pool.
type Conn struct {
	conn    *sqlx.Conn
	observe QueryObserver
}

// Select runs query and scans all rows into dest
func (c *Conn) Select(ctx context.Context, dest any, query string, args ...any) error {
	start := time.Now()
	err := c.conn.SelectContext(ctx, dest, c.conn.Rebind(query), args...)
	c.record(start, err)
	return err
}

// Get runs query and scans a single row into dest
func (c *Conn) Get(ctx context.Context, dest any, query string, args ...any) error {
	start := time.Now()
	err := c.conn.GetContext(ctx, dest, c.conn.Rebind(query), args...)
	c.record(start, err)
	return err
}

// Release returns the connection to the pool. Safe to call more than once.
func (c *Conn) Release() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
}

func (c *Conn) record(start time.Time, err error) {
	if c.observe == nil {
		return
	}
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	c.observe(time.Since(start), err)
}

var _ telemetry.Store = (*Database)(nil)
