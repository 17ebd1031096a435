package store_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canonical_cutover/internal/audit"
	"canonical_cutover/internal/config"
	"canonical_cutover/internal/db"
	"canonical_cutover/internal/store"
)

func newStore(t *testing.T) (*db.Manager, *db.Handle) {
	t.Helper()
	cfg := config.StoreConfig{
		Name:     "staging",
		Provider: "sqlite",
		DSN:      filepath.Join(t.TempDir(), "canonical.db"),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := db.NewManager([]config.StoreConfig{cfg}, store.EnsureCanonicalSchema, logger)
	t.Cleanup(func() { _ = mgr.Close() })
	h, err := mgr.Get(context.Background(), "staging")
	require.NoError(t, err)
	return mgr, h
}

func TestUpsertProjectUpdatesInPlace(t *testing.T) {
	_, h := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	p := store.Project{ProjectID: "WT-1", ProjectName: "Orbis", Status: "Planning", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.UpsertProject(ctx, h, p))

	p.Status = "Active"
	p.Owner = "jackson"
	require.NoError(t, store.UpsertProject(ctx, h, p))

	projects, err := store.ListProjects(ctx, h)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "Active", projects[0].Status)
	assert.Equal(t, "jackson", projects[0].Owner)
}

func TestTruncateHierarchySparesCollaboratorTables(t *testing.T) {
	_, h := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.UpsertProject(ctx, h, store.Project{
		ProjectID: "WT-1", ProjectName: "Orbis", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.UpsertPhase(ctx, h, store.Phase{
		PhaseID: "WT-1.1", PhaseName: "Discovery", ProjectRef: "WT-1", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.UpsertStep(ctx, h, store.Step{
		StepID: "WT-1.1-S1", StepName: "Kickoff", PhaseRef: "WT-1.1", ProjectRef: "WT-1",
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.InsertComm(ctx, h, store.CommRecord{
		OccurredAt: now, ActorType: "Claude", EventType: "chat", Payload: "{}",
	}))
	require.NoError(t, audit.Append(ctx, h, nil, audit.Entry{
		EventType: "test_event", ResourceType: "test", Success: true,
	}))

	require.NoError(t, store.TruncateHierarchy(ctx, h))

	for table, want := range map[string]int{
		"projects_canonical": 0,
		"phases_canonical":   0,
		"steps_canonical":    0,
		"comms_canonical":    1,
		"governance_logs":    1,
	} {
		n, err := store.CountRows(ctx, h, table)
		require.NoError(t, err)
		assert.Equal(t, want, n, table)
	}
}

func TestCountRowsRejectsUnknownTable(t *testing.T) {
	_, h := newStore(t)
	_, err := store.CountRows(context.Background(), h, "sqlite_master")
	require.Error(t, err)
}

func TestFindDuplicateKeysRejectsUnknownTable(t *testing.T) {
	_, h := newStore(t)
	_, err := store.FindDuplicateKeys(context.Background(), h, "governance_logs", "id")
	require.Error(t, err)
}

func TestMigrationRunRoundTrip(t *testing.T) {
	_, h := newStore(t)
	ctx := context.Background()

	runID := uuid.New()
	started := time.Now().UTC().Truncate(time.Second)
	run := store.MigrationRun{
		RunID:        runID,
		StartedAt:    started,
		FinishedAt:   started.Add(42 * time.Second),
		PhaseReached: "service_recovered",
		Outcome:      "success",
		BackupRef:    sql.NullString{Valid: true, String: "staging-" + runID.String()},
		Report:       sql.NullString{Valid: true, String: `{"passed":true}`},
	}
	require.NoError(t, store.InsertRun(ctx, h, run))

	got, err := store.GetRun(ctx, h, runID)
	require.NoError(t, err)
	assert.Equal(t, runID, got.RunID)
	assert.Equal(t, "success", got.Outcome)
	assert.True(t, got.BackupRef.Valid)
	assert.False(t, got.Error.Valid)

	runs, err := store.ListRuns(ctx, h, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	_, err = store.GetRun(ctx, h, uuid.New())
	require.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestAuditAppendDefaultsActor(t *testing.T) {
	_, h := newStore(t)
	ctx := context.Background()

	require.NoError(t, audit.Append(ctx, h, nil, audit.Entry{
		EventType:    "canonical_backfill",
		ResourceType: "projects_canonical",
		Success:      true,
		Details:      map[string]any{"record_count": 2},
	}))

	var actor string
	require.NoError(t, h.GetContext(ctx, &actor, "SELECT actor FROM governance_logs LIMIT 1"))
	assert.Equal(t, "system", actor)
}
