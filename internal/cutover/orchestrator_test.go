package cutover_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canonical_cutover/internal/backup"
	"canonical_cutover/internal/config"
	"canonical_cutover/internal/cutover"
	"canonical_cutover/internal/db"
	"canonical_cutover/internal/store"
)

const projectsCSV = `projectID,projectName,owner,status
WT-1,Orbis,jackson,Active
WT-2,MemSync,,Planning
`

const phasesCSV = `phaseid,phasename,WT Projects,status,notes
WT-1.1,Discovery,WT-1,Active,Step 1.1 - Kickoff; Step 1.2 - Build pipeline
WT-1.2,Delivery,WT-1,Planned,General prose with no step markers
WT-2.1,Scoping,WT-2,Planned,
`

type harness struct {
	cfg     config.Config
	mgr     *db.Manager
	backups *backup.Store
	logger  *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	projectsPath := filepath.Join(dir, "projects.csv")
	require.NoError(t, os.WriteFile(projectsPath, []byte(projectsCSV), 0o644))
	phasesPath := filepath.Join(dir, "phases.csv")
	require.NoError(t, os.WriteFile(phasesPath, []byte(phasesCSV), 0o644))

	cfg := config.Config{
		LogLevel:    "error",
		BackupPath:  filepath.Join(dir, "backups"),
		Destination: "staging",
		Stores: []config.StoreConfig{
			{Name: "staging", Provider: "sqlite", DSN: filepath.Join(dir, "canonical.db")},
		},
		Exports:  config.ExportsConfig{Projects: projectsPath, Phases: phasesPath},
		Expected: config.ExpectedCounts{Projects: 2, Phases: 3},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := db.NewManager(cfg.Stores, store.EnsureCanonicalSchema, logger)
	t.Cleanup(func() { _ = mgr.Close() })

	backups, err := backup.NewStore(cfg.BackupPath)
	require.NoError(t, err)

	return &harness{cfg: cfg, mgr: mgr, backups: backups, logger: logger}
}

// seedPrior puts a pre-cutover hierarchy and one comm record in the store so
// rollback and preservation behavior are observable.
func (hs *harness) seedPrior(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	txID, err := hs.mgr.Begin(ctx, "staging")
	require.NoError(t, err)
	ex := hs.mgr.Tx(txID)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.UpsertProject(ctx, ex, store.Project{
		ProjectID: "WT-OLD", ProjectName: "Legacy", Status: "Complete", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.UpsertPhase(ctx, ex, store.Phase{
		PhaseID: "WT-OLD.1", PhaseName: "Archive", ProjectRef: "WT-OLD", Status: "Complete",
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.InsertComm(ctx, ex, store.CommRecord{
		OccurredAt: now, ActorType: "Claude", EventType: "chat", Payload: "{}",
	}))
	require.NoError(t, hs.mgr.Commit(txID))
}

func (hs *harness) handle(t *testing.T) *db.Handle {
	t.Helper()
	h, err := hs.mgr.Get(context.Background(), "staging")
	require.NoError(t, err)
	return h
}

func TestRunSucceedsEndToEnd(t *testing.T) {
	hs := newHarness(t)
	hs.seedPrior(t)

	orch := cutover.New(hs.mgr, hs.cfg, hs.backups, hs.logger)
	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, cutover.OutcomeSuccess, result.Outcome)
	assert.Equal(t, cutover.StateServiceRecovered, result.Reached)
	assert.NotEmpty(t, result.BackupRef)
	require.NotNil(t, result.Report)
	assert.True(t, result.Report.Passed, result.Report.Summary())
	assert.Contains(t, result.Timings, "backup")
	assert.Contains(t, result.Timings, "validate")

	ctx := context.Background()
	h := hs.handle(t)

	projects, err := store.ListProjects(ctx, h)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "WT-1", projects[0].ProjectID)

	// The noted phase produced ordered steps.
	steps, err := store.ListSteps(ctx, h)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "WT-1.1-S1", steps[0].StepID)
	assert.Equal(t, "WT-1.1-S2", steps[1].StepID)

	// Comms survive the rebuild untouched.
	comms, err := store.CountRows(ctx, h, "comms_canonical")
	require.NoError(t, err)
	assert.Equal(t, 1, comms)

	runs, err := store.ListRuns(ctx, h, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, string(cutover.OutcomeSuccess), runs[0].Outcome)
	assert.Equal(t, result.RunID, runs[0].RunID)
	assert.True(t, runs[0].Report.Valid)

	// Backfill, extraction, validation and the terminal run entry all land
	// in the governance log.
	governance, err := store.CountRows(ctx, h, "governance_logs")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, governance, 4)
}

func TestRunRollsBackOnValidationFailure(t *testing.T) {
	hs := newHarness(t)
	hs.seedPrior(t)
	hs.cfg.Expected = config.ExpectedCounts{Projects: 18, Phases: 38}

	orch := cutover.New(hs.mgr, hs.cfg, hs.backups, hs.logger)
	result, err := orch.Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, result)

	assert.Equal(t, cutover.OutcomeRolledBack, result.Outcome)
	assert.Contains(t, err.Error(), "validation failed")

	ctx := context.Background()
	h := hs.handle(t)

	// The store is exactly what it was before the run started.
	projects, err := store.ListProjects(ctx, h)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "WT-OLD", projects[0].ProjectID)

	phases, err := store.ListPhases(ctx, h)
	require.NoError(t, err)
	require.Len(t, phases, 1)
	assert.Equal(t, "WT-OLD.1", phases[0].PhaseID)

	steps, err := store.CountRows(ctx, h, "steps_canonical")
	require.NoError(t, err)
	assert.Equal(t, 0, steps)

	runs, err := store.ListRuns(ctx, h, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, string(cutover.OutcomeRolledBack), runs[0].Outcome)
	assert.True(t, runs[0].Error.Valid)
	assert.True(t, runs[0].BackupRef.Valid)
}

func TestRunAbortsWhenExportMissing(t *testing.T) {
	hs := newHarness(t)
	hs.seedPrior(t)
	hs.cfg.Exports.Projects = filepath.Join(t.TempDir(), "missing.csv")

	orch := cutover.New(hs.mgr, hs.cfg, hs.backups, hs.logger)
	result, err := orch.Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, result)

	assert.Equal(t, cutover.OutcomeAborted, result.Outcome)
	assert.Equal(t, cutover.StateIdle, result.Reached)
	assert.Empty(t, result.BackupRef)

	// Nothing destructive happened.
	projects, err := store.ListProjects(context.Background(), hs.handle(t))
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "WT-OLD", projects[0].ProjectID)
}

func TestRunAbortsWhenBackupTimesOut(t *testing.T) {
	hs := newHarness(t)
	hs.seedPrior(t)
	hs.cfg.Timeouts.Backup = config.Duration(time.Nanosecond)

	orch := cutover.New(hs.mgr, hs.cfg, hs.backups, hs.logger)
	result, err := orch.Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, result)

	assert.Equal(t, cutover.OutcomeAborted, result.Outcome)
	assert.Equal(t, cutover.StatePreflightChecked, result.Reached)

	// A failed backup aborts before any destructive step.
	projects, err := store.ListProjects(context.Background(), hs.handle(t))
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "WT-OLD", projects[0].ProjectID)
}

func TestRunRefusesConcurrentRuns(t *testing.T) {
	hs := newHarness(t)

	release, err := hs.mgr.LockRun("staging")
	require.NoError(t, err)
	defer release()

	orch := cutover.New(hs.mgr, hs.cfg, hs.backups, hs.logger)
	result, err := orch.Run(context.Background())
	require.ErrorIs(t, err, db.ErrRunInProgress)
	assert.Nil(t, result)
}

func TestRunIsRepeatableAfterSuccess(t *testing.T) {
	hs := newHarness(t)

	orch := cutover.New(hs.mgr, hs.cfg, hs.backups, hs.logger)
	first, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, cutover.OutcomeSuccess, first.Outcome)

	// A second run re-imports the same exports over the committed result.
	// Counts now include the first run's governance rows, but hierarchy
	// expectations still hold because every write is an upsert.
	second, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, cutover.OutcomeSuccess, second.Outcome)
	require.NotEqual(t, first.RunID, second.RunID)

	ctx := context.Background()
	h := hs.handle(t)
	projects, err := store.CountRows(ctx, h, "projects_canonical")
	require.NoError(t, err)
	assert.Equal(t, 2, projects)

	runs, err := store.ListRuns(ctx, h, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
