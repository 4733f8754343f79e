package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PoolConfig sizes the database/sql pool.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
	PingTimeout time.Duration
}

// DefaultPool is sized for a single venue node.
func DefaultPool() PoolConfig {
	return PoolConfig{
		MaxOpen:     10,
		MaxIdle:     4,
		MaxLifetime: time.Hour,
		MaxIdleTime: 15 * time.Minute,
		PingTimeout: 5 * time.Second,
	}
}

// NewPostgresDB opens a pgx/stdlib pool with DefaultPool and pings it.
func NewPostgresDB(dsn string) (*sql.DB, error) {
	return Open(context.Background(), dsn, DefaultPool())
}

// Open opens a pgx/stdlib pool sized by pool and verifies it answers within PingTimeout.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db: empty DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)
	db.SetConnMaxIdleTime(pool.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return db, nil
}

// InTx runs fn inside a transaction, rolling back when fn fails.
func InTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
