package db_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"canonical_cutover/internal/config"
	"canonical_cutover/internal/db"
	"canonical_cutover/internal/store"
)

func newManager(t *testing.T) *db.Manager {
	t.Helper()
	cfg := config.StoreConfig{
		Name:     "staging",
		Provider: "sqlite",
		DSN:      filepath.Join(t.TempDir(), "canonical.db"),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := db.NewManager([]config.StoreConfig{cfg}, store.EnsureCanonicalSchema, logger)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func countProjects(t *testing.T, mgr *db.Manager) int {
	t.Helper()
	h, err := mgr.Get(context.Background(), "staging")
	require.NoError(t, err)
	n, err := store.CountRows(context.Background(), h, "projects_canonical")
	require.NoError(t, err)
	return n
}

const insertProject = `
INSERT INTO projects_canonical (project_id, project_name, owner, status, rag, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func TestExecRollsBackTransactionOnWriteError(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	txID, err := mgr.Begin(ctx, "staging")
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = mgr.Exec(ctx, txID, insertProject, "WT-1", "Orbis", "", "Planning", "", now, now)
	require.NoError(t, err)

	_, err = mgr.Exec(ctx, txID, "INSERT INTO no_such_table (x) VALUES (?)", 1)
	require.Error(t, err)

	// The failed write rolled the whole transaction back.
	_, err = mgr.Exec(ctx, txID, insertProject, "WT-2", "MemSync", "", "Planning", "", now, now)
	require.ErrorIs(t, err, db.ErrTxNotFound)
	require.Equal(t, 0, countProjects(t, mgr))
}

func TestExecRejectsReadStatements(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	txID, err := mgr.Begin(ctx, "staging")
	require.NoError(t, err)
	defer func() { _ = mgr.Rollback(txID) }()

	for _, q := range []string{
		"SELECT * FROM projects_canonical",
		"  select 1",
		"WITH x AS (SELECT 1) SELECT * FROM x",
		"PRAGMA table_info(projects_canonical)",
	} {
		_, err := mgr.Exec(ctx, txID, q)
		require.ErrorIs(t, err, db.ErrReadOnlyInTx, "query %q must be rejected", q)
	}
}

func TestCommitAndRollbackAreIdempotent(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	txID, err := mgr.Begin(ctx, "staging")
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = mgr.Exec(ctx, txID, insertProject, "WT-1", "Orbis", "", "Planning", "", now, now)
	require.NoError(t, err)

	require.NoError(t, mgr.Commit(txID))
	require.NoError(t, mgr.Commit(txID))
	require.NoError(t, mgr.Rollback(txID))
	require.Equal(t, 1, countProjects(t, mgr))
}

func TestRollbackDiscardsWrites(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	txID, err := mgr.Begin(ctx, "staging")
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = mgr.Exec(ctx, txID, insertProject, "WT-1", "Orbis", "", "Planning", "", now, now)
	require.NoError(t, err)

	require.NoError(t, mgr.Rollback(txID))
	require.Equal(t, 0, countProjects(t, mgr))
}

func TestStatementsRecordsAuditTrail(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	txID, err := mgr.Begin(ctx, "staging")
	require.NoError(t, err)
	defer func() { _ = mgr.Rollback(txID) }()

	now := time.Now().UTC()
	_, err = mgr.Exec(ctx, txID, insertProject, "WT-1", "Orbis", "", "Planning", "", now, now)
	require.NoError(t, err)
	_, err = mgr.Exec(ctx, txID, insertProject, "WT-2", "MemSync", "", "Planning", "", now, now)
	require.NoError(t, err)

	stmts := mgr.Statements(txID)
	require.Len(t, stmts, 2)
	require.Contains(t, stmts[0], "INSERT INTO projects_canonical")
}

func TestLockRunIsExclusivePerStore(t *testing.T) {
	mgr := newManager(t)

	release, err := mgr.LockRun("staging")
	require.NoError(t, err)

	_, err = mgr.LockRun("staging")
	require.ErrorIs(t, err, db.ErrRunInProgress)

	// Another store is unaffected.
	otherRelease, err := mgr.LockRun("production")
	require.NoError(t, err)
	otherRelease()

	release()
	release2, err := mgr.LockRun("staging")
	require.NoError(t, err)
	release2()
}

func TestGetUnknownStore(t *testing.T) {
	mgr := newManager(t)
	_, err := mgr.Get(context.Background(), "nope")
	require.ErrorIs(t, err, db.ErrStoreNotFound)
}

func TestGetReusesHandle(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	first, err := mgr.Get(ctx, "staging")
	require.NoError(t, err)
	second, err := mgr.Get(ctx, "staging")
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestCloseRollsBackOpenTransactions(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	txID, err := mgr.Begin(ctx, "staging")
	require.NoError(t, err)
	now := time.Now().UTC()
	_, err = mgr.Exec(ctx, txID, insertProject, "WT-1", "Orbis", "", "Planning", "", now, now)
	require.NoError(t, err)

	require.NoError(t, mgr.Close())

	_, err = mgr.Exec(ctx, txID, insertProject, "WT-2", "MemSync", "", "Planning", "", now, now)
	require.True(t, errors.Is(err, db.ErrTxNotFound))
}
