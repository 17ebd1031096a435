package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"canonical_cutover/internal/config"
)

// Handle is the reusable connection to one logical store. Writes are
// serialized behind the mutex; reads share it (single writer, many readers).
type Handle struct {
	name     string
	provider string
	db       *sqlx.DB
	mu       sync.RWMutex
}

// Open builds a handle for the given store configuration.
func Open(cfg config.StoreConfig) (*Handle, error) {
	var (
		conn *sqlx.DB
		err  error
	)
	switch strings.ToLower(cfg.Provider) {
	case "sqlite":
		conn, err = sqlx.Open("sqlite3", cfg.DSN)
	case "postgres":
		conn, err = sqlx.Open("pgx", cfg.DSN)
	case "mysql":
		// Validate DSN early to provide actionable errors.
		if _, perr := mysql.ParseDSN(cfg.DSN); perr != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", perr)
		}
		conn, err = sqlx.Open("mysql", cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported provider %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	conn.SetConnMaxIdleTime(5 * time.Minute)
	conn.SetMaxOpenConns(5)
	return &Handle{name: cfg.Name, provider: strings.ToLower(cfg.Provider), db: conn}, nil
}

func (h *Handle) Name() string     { return h.name }
func (h *Handle) Provider() string { return h.provider }

func (h *Handle) Ping(ctx context.Context) error { return h.db.PingContext(ctx) }

func (h *Handle) Close() error { return h.db.Close() }

// ExecContext runs a write statement outside any transaction.
func (h *Handle) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db.ExecContext(ctx, h.db.Rebind(query), args...)
}

// SelectContext scans a read query into dest. Reads proceed concurrently.
func (h *Handle) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.db.SelectContext(ctx, dest, h.db.Rebind(query), args...)
}

// GetContext scans a single-row read query into dest.
func (h *Handle) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.db.GetContext(ctx, dest, h.db.Rebind(query), args...)
}

// Rebind translates ? placeholders into the provider's native form.
func (h *Handle) Rebind(query string) string { return h.db.Rebind(query) }
