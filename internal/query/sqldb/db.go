package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"
)

type DBConfig struct {
	Settings        Settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Open builds a small pool for one chat session and pings it.
func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	dsn, err := cfg.Settings.DataSourceName()
	if err != nil {
		return nil, err
	}
	dialect := cfg.Settings.Dialect
	if dialect == "" {
		dialect = MySQL
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect, err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}
	db.SetMaxOpenConns(maxOpen)
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}

	return db, nil
}

// OpenExecutor opens a pool and wraps it in an Executor.
func OpenExecutor(ctx context.Context, cfg DBConfig, timeout time.Duration) (*Executor, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	dialect := cfg.Settings.Dialect
	if dialect == "" {
		dialect = MySQL
	}
	return NewExecutor(db, dialect, timeout), nil
}
