package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"canonical_cutover/internal/db"
)

var ErrRunNotFound = errors.New("migration run not found")

// MigrationRun is the persisted record of one cutover execution. Exactly one
// terminal outcome per run; the validation report, when one was produced, is
// stored immutably on the row as JSON.
type MigrationRun struct {
	RunID        uuid.UUID      `db:"run_id" json:"run_id"`
	StartedAt    time.Time      `db:"started_at" json:"started_at"`
	FinishedAt   time.Time      `db:"finished_at" json:"finished_at"`
	PhaseReached string         `db:"phase_reached" json:"phase_reached"`
	Outcome      string         `db:"outcome" json:"outcome"`
	BackupRef    sql.NullString `db:"backup_ref" json:"backup_ref"`
	Error        sql.NullString `db:"error" json:"error,omitempty"`
	Timings      sql.NullString `db:"timings" json:"timings,omitempty"`
	Report       sql.NullString `db:"report" json:"report,omitempty"`
}

// InsertRun writes the terminal record of a run.
func InsertRun(ctx context.Context, ex db.Executor, run MigrationRun) error {
	_, err := ex.ExecContext(ctx, `
INSERT INTO migration_runs (run_id, started_at, finished_at, phase_reached, outcome, backup_ref, error, timings, report)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID.String(), run.StartedAt, run.FinishedAt, run.PhaseReached, run.Outcome,
		run.BackupRef, run.Error, run.Timings, run.Report)
	if err != nil {
		return fmt.Errorf("insert migration run %s: %w", run.RunID, err)
	}
	return nil
}

// ListRuns returns recent runs, newest first.
func ListRuns(ctx context.Context, h *db.Handle, limit int) ([]MigrationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []MigrationRun
	err := h.SelectContext(ctx, &out, `
SELECT run_id, started_at, finished_at, phase_reached, outcome, backup_ref, error, timings, report
FROM migration_runs
ORDER BY started_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list migration runs: %w", err)
	}
	return out, nil
}

func GetRun(ctx context.Context, h *db.Handle, runID uuid.UUID) (*MigrationRun, error) {
	var run MigrationRun
	err := h.GetContext(ctx, &run, `
SELECT run_id, started_at, finished_at, phase_reached, outcome, backup_ref, error, timings, report
FROM migration_runs
WHERE run_id = ?`, runID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get migration run %s: %w", runID, err)
	}
	return &run, nil
}
