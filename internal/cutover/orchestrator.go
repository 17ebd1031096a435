// Package cutover sequences the promotion of a rebuilt canonical hierarchy
// into the destination store: backup, truncate, import, extract, validate,
// then commit or restore. It is the only component allowed to run
// destructive operations, and every run terminates in exactly one of
// Success, RolledBack or Aborted.
package cutover

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"canonical_cutover/internal/audit"
	"canonical_cutover/internal/backfill"
	"canonical_cutover/internal/backup"
	"canonical_cutover/internal/config"
	"canonical_cutover/internal/db"
	"canonical_cutover/internal/export"
	"canonical_cutover/internal/extract"
	"canonical_cutover/internal/health"
	"canonical_cutover/internal/store"
	"canonical_cutover/internal/validate"
)

// State names the phases of a run in execution order.
type State string

const (
	StateIdle             State = "idle"
	StatePreflightChecked State = "preflight_checked"
	StateBackupTaken      State = "backup_taken"
	StateSchemaReset      State = "schema_reset"
	StateImported         State = "imported"
	StateExtracted        State = "extracted"
	StateValidated        State = "validated"
	StateCommitted        State = "committed"
	StateRolledBack       State = "rolled_back"
	StateServiceRecovered State = "service_recovered"
)

// Outcome is the single terminal verdict of a run.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeAborted    Outcome = "aborted"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Result summarizes one completed run.
type Result struct {
	RunID     uuid.UUID                `json:"run_id"`
	Outcome   Outcome                  `json:"outcome"`
	Reached   State                    `json:"phase_reached"`
	BackupRef string                   `json:"backup_ref,omitempty"`
	Report    *validate.Report         `json:"report,omitempty"`
	Timings   map[string]time.Duration `json:"timings"`
	Degraded  []string                 `json:"degraded,omitempty"`
	Err       error                    `json:"-"`
}

// Summary renders the human-readable terminal line every run carries.
func (r *Result) Summary() string {
	switch r.Outcome {
	case OutcomeSuccess:
		if len(r.Degraded) > 0 {
			return fmt.Sprintf("cutover succeeded with degraded dependents: %v", r.Degraded)
		}
		return "cutover succeeded"
	case OutcomeRolledBack:
		return fmt.Sprintf("cutover rolled back at %s: %v", r.Reached, r.Err)
	default:
		return fmt.Sprintf("cutover aborted at %s: %v", r.Reached, r.Err)
	}
}

// Orchestrator drives the state machine for one destination store.
type Orchestrator struct {
	mgr        *db.Manager
	storeName  string
	backups    *backup.Store
	importer   *backfill.Importer
	extractor  *extract.Extractor
	checker    *health.Checker
	exports    config.ExportsConfig
	expected   validate.Expected
	dependents []config.DependentConfig
	timeouts   config.TimeoutConfig
	logger     Logger
}

func New(mgr *db.Manager, cfg config.Config, backups *backup.Store, logger Logger) *Orchestrator {
	return &Orchestrator{
		mgr:        mgr,
		storeName:  cfg.Destination,
		backups:    backups,
		importer:   backfill.NewImporter(mgr, cfg.Destination, logger),
		extractor:  extract.NewExtractor(mgr, cfg.Destination, logger),
		checker:    health.NewChecker(cfg.Timeouts.Recovery.Or(10*time.Second), logger),
		exports:    cfg.Exports,
		expected:   validate.Expected{Projects: cfg.Expected.Projects, Phases: cfg.Expected.Phases},
		dependents: cfg.Dependents,
		timeouts:   cfg.Timeouts,
		logger:     logger,
	}
}

// run tracks the mutable state of one execution.
type run struct {
	id        uuid.UUID
	state     State
	startedAt time.Time
	backupRef string
	report    *validate.Report
	timings   map[string]time.Duration
	degraded  []string
}

// step runs one phase under its timeout and records the elapsed time. A
// timeout is that step's failure, nothing more.
func (o *Orchestrator) step(ctx context.Context, r *run, name string, budget time.Duration, fn func(context.Context) error) error {
	stepCtx := ctx
	if budget > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}
	start := time.Now()
	err := fn(stepCtx)
	r.timings[name] = time.Since(start)
	if err != nil {
		o.logger.Error("cutover step failed", "run_id", r.id, "step", name, "elapsed", r.timings[name], "error", err)
		return err
	}
	o.logger.Info("cutover step complete", "run_id", r.id, "step", name, "elapsed", r.timings[name])
	return nil
}

// Run executes one full cutover. The advisory run lock guarantees a single
// active run per destination store.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	release, err := o.mgr.LockRun(o.storeName)
	if err != nil {
		return nil, err
	}
	defer release()

	r := &run{
		id:        uuid.New(),
		state:     StateIdle,
		startedAt: time.Now().UTC(),
		timings:   map[string]time.Duration{},
	}
	o.logger.Info("cutover run starting", "run_id", r.id, "store", o.storeName)

	var (
		projects, phases []export.Record
		preserved        validate.Preserved
	)

	// Idle -> PreflightChecked: nothing destructive has happened yet, so
	// any failure below simply aborts with the destination untouched.
	err = o.step(ctx, r, "preflight", o.timeouts.Preflight.Or(30*time.Second), func(ctx context.Context) error {
		if err := export.Readable(o.exports.Projects); err != nil {
			return err
		}
		if err := export.Readable(o.exports.Phases); err != nil {
			return err
		}
		var lerr error
		if projects, lerr = export.Load(o.exports.Projects); lerr != nil {
			return lerr
		}
		if phases, lerr = export.Load(o.exports.Phases); lerr != nil {
			return lerr
		}
		h, herr := o.mgr.Get(ctx, o.storeName)
		if herr != nil {
			return herr
		}
		return h.Ping(ctx)
	})
	if err != nil {
		return o.finish(ctx, r, OutcomeAborted, err)
	}
	r.state = StatePreflightChecked

	// PreflightChecked -> BackupTaken: failure still aborts, no restore needed.
	err = o.step(ctx, r, "backup", o.timeouts.Backup.Or(2*time.Minute), func(ctx context.Context) error {
		h, herr := o.mgr.Get(ctx, o.storeName)
		if herr != nil {
			return herr
		}
		snap, terr := o.backups.Take(ctx, h, r.id)
		if terr != nil {
			return terr
		}
		r.backupRef = snap
		loaded, lerr := o.backups.Load(snap)
		if lerr != nil {
			return lerr
		}
		preserved = validate.Preserved{Comms: loaded.CommCount, Governance: loaded.GovernanceCount}
		return nil
	})
	if err != nil {
		return o.finish(ctx, r, OutcomeAborted, err)
	}
	r.state = StateBackupTaken

	// From here on every failure restores from the backup just taken.
	err = o.step(ctx, r, "schema_reset", o.timeouts.Reset.Or(time.Minute), func(ctx context.Context) error {
		txID, terr := o.mgr.Begin(ctx, o.storeName)
		if terr != nil {
			return terr
		}
		if terr := store.TruncateHierarchy(ctx, o.mgr.Tx(txID)); terr != nil {
			return terr
		}
		return o.mgr.Commit(txID)
	})
	if err != nil {
		return o.rollback(ctx, r, err)
	}
	r.state = StateSchemaReset

	err = o.step(ctx, r, "import", o.timeouts.Import.Or(5*time.Minute), func(ctx context.Context) error {
		projSum, ierr := o.importer.ImportProjects(ctx, projects)
		if ierr != nil {
			return ierr
		}
		o.governance(ctx, "canonical_backfill", "projects_canonical", true, projSum.DetailsMap(o.exports.Projects, "projects_canonical"))
		phaseSum, ierr := o.importer.ImportPhases(ctx, phases)
		if ierr != nil {
			return ierr
		}
		o.governance(ctx, "canonical_backfill", "phases_canonical", true, phaseSum.DetailsMap(o.exports.Phases, "phases_canonical"))
		return nil
	})
	if err != nil {
		return o.rollback(ctx, r, err)
	}
	r.state = StateImported

	err = o.step(ctx, r, "extract", o.timeouts.Extract.Or(5*time.Minute), func(ctx context.Context) error {
		sum, xerr := o.extractor.Run(ctx)
		if xerr != nil {
			return xerr
		}
		o.governance(ctx, "step_extraction", "steps_canonical", true, map[string]any{
			"phases_scanned": sum.PhasesScanned,
			"phases_matched": sum.PhasesMatched,
			"steps_written":  sum.StepsWritten,
			"notes_skipped":  sum.NotesSkipped,
		})
		return nil
	})
	if err != nil {
		return o.rollback(ctx, r, err)
	}
	r.state = StateExtracted

	err = o.step(ctx, r, "validate", o.timeouts.Validate.Or(2*time.Minute), func(ctx context.Context) error {
		h, herr := o.mgr.Get(ctx, o.storeName)
		if herr != nil {
			return herr
		}
		report, verr := validate.Run(ctx, h, r.id, o.expected, preserved)
		if verr != nil {
			return verr
		}
		r.report = report
		o.governance(ctx, "hierarchy_validation", "validation_report", report.Passed, map[string]any{
			"passed":  report.Passed,
			"summary": report.Summary(),
		})
		return nil
	})
	if err != nil {
		return o.rollback(ctx, r, err)
	}
	r.state = StateValidated

	// Validated -> Committed | RolledBack: the report is the gate.
	if !r.report.Passed {
		return o.rollback(ctx, r, fmt.Errorf("validation failed: %s", r.report.Summary()))
	}
	r.state = StateCommitted

	o.recoverServices(ctx, r)
	return o.finish(ctx, r, OutcomeSuccess, nil)
}

// rollback restores the destination from the run's backup and terminates
// the run as RolledBack. A restore failure is fatal and surfaces loudly;
// the backup artifact itself remains intact for manual recovery.
func (o *Orchestrator) rollback(ctx context.Context, r *run, cause error) (*Result, error) {
	// The restore must run even when the surrounding run was canceled.
	ctx = context.WithoutCancel(ctx)
	err := o.step(ctx, r, "rollback", o.timeouts.Rollback.Or(2*time.Minute), func(ctx context.Context) error {
		return o.backups.Restore(ctx, o.mgr, o.storeName, r.backupRef)
	})
	if err != nil {
		o.logger.Error("restore from backup failed; store may need manual recovery",
			"run_id", r.id, "backup_ref", r.backupRef, "error", err)
		cause = errors.Join(cause, fmt.Errorf("restore failed: %w", err))
	}
	r.state = StateRolledBack
	o.recoverServices(ctx, r)
	return o.finish(ctx, r, OutcomeRolledBack, cause)
}

// recoverServices signals dependents to reconnect and re-checks health.
// After a commit a failed check is a degraded success, never a reversal:
// the data is already correct, only service wiring failed.
func (o *Orchestrator) recoverServices(ctx context.Context, r *run) {
	if len(o.dependents) == 0 {
		r.state = StateServiceRecovered
		return
	}
	_ = o.step(ctx, r, "service_recovery", o.timeouts.Recovery.Or(time.Minute), func(ctx context.Context) error {
		r.degraded = o.checker.RecoverAll(ctx, o.dependents)
		return nil
	})
	r.state = StateServiceRecovered
}

// finish writes the one MigrationRun record and governance entry every
// terminal state emits, then hands the result back.
func (o *Orchestrator) finish(ctx context.Context, r *run, outcome Outcome, cause error) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	result := &Result{
		RunID:     r.id,
		Outcome:   outcome,
		Reached:   r.state,
		BackupRef: r.backupRef,
		Report:    r.report,
		Timings:   r.timings,
		Degraded:  r.degraded,
		Err:       cause,
	}

	record := store.MigrationRun{
		RunID:        r.id,
		StartedAt:    r.startedAt,
		FinishedAt:   time.Now().UTC(),
		PhaseReached: string(r.state),
		Outcome:      string(outcome),
	}
	if r.backupRef != "" {
		record.BackupRef = sql.NullString{Valid: true, String: r.backupRef}
	}
	if cause != nil {
		record.Error = sql.NullString{Valid: true, String: cause.Error()}
	}
	if blob, err := json.Marshal(timingsMillis(r.timings)); err == nil {
		record.Timings = sql.NullString{Valid: true, String: string(blob)}
	}
	if r.report != nil {
		if blob, err := json.Marshal(r.report); err == nil {
			record.Report = sql.NullString{Valid: true, String: string(blob)}
		}
	}

	h, err := o.mgr.Get(ctx, o.storeName)
	if err != nil {
		o.logger.Error("cannot persist migration run", "run_id", r.id, "error", err)
		return result, cause
	}
	if err := store.InsertRun(ctx, h, record); err != nil {
		o.logger.Error("persist migration run failed", "run_id", r.id, "error", err)
	}
	o.governance(ctx, "canonical_cutover", "migration_run", outcome == OutcomeSuccess, map[string]any{
		"run_id":        r.id.String(),
		"outcome":       string(outcome),
		"phase_reached": string(r.state),
		"backup_ref":    r.backupRef,
		"timings_ms":    timingsMillis(r.timings),
		"summary":       result.Summary(),
	})

	o.logger.Info("cutover run finished", "run_id", r.id, "outcome", outcome, "summary", result.Summary())
	return result, cause
}

func (o *Orchestrator) governance(ctx context.Context, eventType, resourceType string, success bool, details map[string]any) {
	h, err := o.mgr.Get(ctx, o.storeName)
	if err != nil {
		o.logger.Error("governance append skipped", "event_type", eventType, "error", err)
		return
	}
	_ = audit.Append(ctx, h, o.logger, audit.Entry{
		EventType:    eventType,
		Actor:        "cutover_engine",
		ResourceType: resourceType,
		Success:      success,
		Details:      details,
	})
}

func timingsMillis(timings map[string]time.Duration) map[string]int64 {
	out := make(map[string]int64, len(timings))
	for name, d := range timings {
		out[name] = d.Milliseconds()
	}
	return out
}
