package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	defaultMaxOpenConnections = 25
	defaultMaxIdleConnections = 5
	defaultConnMaxLifetime    = 5 * time.Minute
	defaultConnMaxIdleTime    = 10 * time.Minute
	connectPingTimeout        = 5 * time.Second
)

// MySQLConfig holds the oracle store connection settings. Leaving DSN empty
// selects the in-memory store.
type MySQLConfig struct {
	DSN                string        `yaml:"dsn"`
	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`
}

func (c MySQLConfig) withDefaults() MySQLConfig {
	if c.MaxOpenConnections <= 0 {
		c.MaxOpenConnections = defaultMaxOpenConnections
	}
	if c.MaxIdleConnections <= 0 {
		c.MaxIdleConnections = defaultMaxIdleConnections
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = defaultConnMaxIdleTime
	}
	return c
}

// sqlConn is the subset shared by *sql.DB and *sql.Tx.
type sqlConn interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type querier struct {
	conn  sqlConn
	scope string
}

func (q querier) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := q.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query failed: %w", q.scope, err)
	}
	return &sqlRows{Rows: rows}, nil
}

func (q querier) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return sqlRow{row: q.conn.QueryRowContext(ctx, query, args...)}
}

func (q querier) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := q.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s exec failed: %w", q.scope, err)
	}
	return result, nil
}

// MySQL implements Database on the go-sql-driver pool.
type MySQL struct {
	querier
	db *sql.DB
}

// NewMySQLWithConfig opens the pool and pings it before returning.
func NewMySQLWithConfig(config *MySQLConfig) (*MySQL, error) {
	if config == nil || config.DSN == "" {
		return nil, fmt.Errorf("mysql dsn is required")
	}
	cfg := config.withDefaults()

	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	// created_at and updated_at scan into time.Time.
	dsn.ParseTime = true

	pool, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConnections)
	pool.SetMaxIdleConns(cfg.MaxIdleConnections)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	m := NewMySQLWithDB(pool)
	ctx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
	defer cancel()
	if err := m.Ping(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return m, nil
}

// NewMySQLWithDB wraps an existing pool without pinging it.
func NewMySQLWithDB(pool *sql.DB) *MySQL {
	return &MySQL{querier: querier{conn: pool, scope: "mysql"}, db: pool}
}

// Transaction commits when fn returns nil and rolls back otherwise.
func (m *MySQL) Transaction(ctx context.Context, fn func(tx Transaction) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&sqlTx{querier: querier{conn: tx, scope: "transaction"}, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (m *MySQL) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	return nil
}

func (m *MySQL) Close() error {
	return m.db.Close()
}

type sqlRows struct {
	*sql.Rows
}

func (r *sqlRows) Scan(dest ...interface{}) error {
	if err := r.Rows.Scan(dest...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}
	return nil
}

type sqlRow struct {
	row *sql.Row
}

// Scan keeps sql.ErrNoRows reachable through errors.Is.
func (r sqlRow) Scan(dest ...interface{}) error {
	if err := r.row.Scan(dest...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}
	return nil
}

type sqlTx struct {
	querier
	tx *sql.Tx
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}
