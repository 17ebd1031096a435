package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"canonical_cutover/internal/config"
)

var (
	ErrTxNotFound    = errors.New("transaction not found")
	ErrRunInProgress = errors.New("a cutover run already holds this store")
	ErrReadOnlyInTx  = errors.New("read statements bypass the transaction write path")
	ErrStoreNotFound = errors.New("store not configured")
)

// TxID identifies one open transaction owned by the manager.
type TxID = uuid.UUID

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Initializer prepares a freshly opened store (schema creation). Injected by
// the caller to keep this package free of canonical-table knowledge.
type Initializer func(ctx context.Context, h *Handle) error

// Manager owns one lazily opened handle per named store and all transactions
// against them. Callers never clean up a failed transaction themselves: any
// write error inside an open transaction rolls it back before the error is
// returned.
type Manager struct {
	configs map[string]config.StoreConfig
	init    Initializer
	logger  Logger

	mu       sync.Mutex
	handles  map[string]*Handle
	txs      map[TxID]*txState
	runLocks map[string]bool
}

type txState struct {
	handle     *Handle
	tx         *sqlx.Tx
	statements []string
	done       bool
}

func NewManager(stores []config.StoreConfig, init Initializer, logger Logger) *Manager {
	configs := make(map[string]config.StoreConfig, len(stores))
	for _, s := range stores {
		configs[s.Name] = s
	}
	return &Manager{
		configs:  configs,
		init:     init,
		logger:   logger,
		handles:  map[string]*Handle{},
		txs:      map[TxID]*txState{},
		runLocks: map[string]bool{},
	}
}

// Get returns the reused handle for a store name, opening and initializing
// it on first use.
func (m *Manager) Get(ctx context.Context, name string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[name]; ok {
		return h, nil
	}
	cfg, ok := m.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, name)
	}
	h, err := Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", name, err)
	}
	if err := h.Ping(ctx); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("ping store %s: %w", name, err)
	}
	if m.init != nil {
		if err := m.init(ctx, h); err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("initialize store %s: %w", name, err)
		}
	}
	m.handles[name] = h
	return h, nil
}

// Begin opens a transaction and reserves the store's write path until the
// transaction commits or rolls back.
func (m *Manager) Begin(ctx context.Context, name string) (TxID, error) {
	h, err := m.Get(ctx, name)
	if err != nil {
		return uuid.Nil, err
	}
	h.mu.Lock()
	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		h.mu.Unlock()
		return uuid.Nil, fmt.Errorf("begin tx on %s: %w", name, err)
	}
	id := uuid.New()
	m.mu.Lock()
	m.txs[id] = &txState{handle: h, tx: tx}
	m.mu.Unlock()
	return id, nil
}

// Exec runs a write statement inside an open transaction, recording it for
// audit. A write error rolls the whole transaction back before returning.
func (m *Manager) Exec(ctx context.Context, id TxID, query string, args ...any) (sql.Result, error) {
	if isReadQuery(query) {
		return nil, ErrReadOnlyInTx
	}
	m.mu.Lock()
	st, ok := m.txs[id]
	m.mu.Unlock()
	if !ok || st.done {
		return nil, ErrTxNotFound
	}
	res, err := st.tx.ExecContext(ctx, st.handle.Rebind(query), args...)
	if err != nil {
		if rbErr := m.Rollback(id); rbErr != nil {
			m.logger.Error("auto rollback failed", "store", st.handle.Name(), "error", rbErr)
		}
		return nil, fmt.Errorf("exec on %s (rolled back): %w", st.handle.Name(), err)
	}
	st.statements = append(st.statements, query)
	return res, nil
}

// Commit finalizes a transaction. Calling it again, or after a rollback, is
// a no-op.
func (m *Manager) Commit(id TxID) error {
	st := m.takeTx(id)
	if st == nil {
		return nil
	}
	defer st.handle.mu.Unlock()
	if err := st.tx.Commit(); err != nil {
		return fmt.Errorf("commit on %s: %w", st.handle.Name(), err)
	}
	m.logger.Info("transaction committed", "store", st.handle.Name(), "statements", len(st.statements))
	return nil
}

// Rollback abandons a transaction. Idempotent.
func (m *Manager) Rollback(id TxID) error {
	st := m.takeTx(id)
	if st == nil {
		return nil
	}
	defer st.handle.mu.Unlock()
	if err := st.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback on %s: %w", st.handle.Name(), err)
	}
	m.logger.Info("transaction rolled back", "store", st.handle.Name(), "statements", len(st.statements))
	return nil
}

// Statements returns the audit trail of a still-open transaction.
func (m *Manager) Statements(id TxID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.txs[id]; ok {
		out := make([]string, len(st.statements))
		copy(out, st.statements)
		return out
	}
	return nil
}

// Tx exposes an open transaction as an Executor for store-layer writes.
func (m *Manager) Tx(id TxID) Executor {
	return &txExecutor{m: m, id: id}
}

// LockRun takes the advisory per-store run lock. The returned release must
// be called when the run terminates.
func (m *Manager) LockRun(name string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runLocks[name] {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, name)
	}
	m.runLocks[name] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.runLocks, name)
	}, nil
}

// Close releases every open handle. Open transactions are rolled back first.
func (m *Manager) Close() error {
	m.mu.Lock()
	ids := make([]TxID, 0, len(m.txs))
	for id := range m.txs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Rollback(id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, h := range m.handles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.handles, name)
	}
	return firstErr
}

func (m *Manager) takeTx(id TxID) *txState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.txs[id]
	if !ok || st.done {
		return nil
	}
	st.done = true
	delete(m.txs, id)
	return st
}

// Executor is the write surface store functions accept, satisfied both by a
// transaction and by a bare handle.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Provider() string
}

type txExecutor struct {
	m  *Manager
	id TxID
}

func (e *txExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return e.m.Exec(ctx, e.id, query, args...)
}

func (e *txExecutor) Provider() string {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	if st, ok := e.m.txs[e.id]; ok {
		return st.handle.Provider()
	}
	return ""
}

func isReadQuery(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	return strings.HasPrefix(q, "select") || strings.HasPrefix(q, "with") || strings.HasPrefix(q, "pragma")
}
