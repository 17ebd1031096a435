// Package validate runs the fixed integrity battery over a rebuilt
// canonical store. It performs no mutation; the report it produces is the
// machine gate the cutover orchestrator commits or rolls back on.
package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"canonical_cutover/internal/db"
	"canonical_cutover/internal/store"
)

// Expected carries the row totals the calling run was told to produce.
type Expected struct {
	Projects int `json:"projects"`
	Phases   int `json:"phases"`
}

// Preserved is the pre-run snapshot of the collaborator tables the rebuild
// must never shrink.
type Preserved struct {
	Comms      int `json:"comms"`
	Governance int `json:"governance"`
}

// CheckResult is one named check's verdict.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Counts are the observed canonical row totals.
type Counts struct {
	Projects int `json:"projects"`
	Phases   int `json:"phases"`
	Steps    int `json:"steps"`
}

// Report is immutable once produced and is referenced by the migration run
// that requested it.
type Report struct {
	RunID        uuid.UUID            `json:"run_id"`
	GeneratedAt  time.Time            `json:"generated_at"`
	Passed       bool                 `json:"passed"`
	Checks       []CheckResult        `json:"checks"`
	Counts       Counts               `json:"counts"`
	OrphanPhases []store.OrphanPhase  `json:"orphan_phases,omitempty"`
	OrphanSteps  []store.OrphanStep   `json:"orphan_steps,omitempty"`
	Stats        store.HierarchyStats `json:"stats"`
}

// Summary renders a one-line human-readable verdict.
func (r *Report) Summary() string {
	failed := 0
	for _, c := range r.Checks {
		if !c.Passed {
			failed++
		}
	}
	if r.Passed {
		return fmt.Sprintf("validation passed: %d projects, %d phases, %d steps",
			r.Counts.Projects, r.Counts.Phases, r.Counts.Steps)
	}
	return fmt.Sprintf("validation failed: %d of %d checks failed", failed, len(r.Checks))
}

// Run executes the battery in order: row counts, orphans, duplicates,
// required fields, preservation. Any hard failure fails the report.
func Run(ctx context.Context, h *db.Handle, runID uuid.UUID, expected Expected, pre Preserved) (*Report, error) {
	report := &Report{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Passed:      true,
	}

	var err error
	if report.Counts.Projects, err = store.CountRows(ctx, h, "projects_canonical"); err != nil {
		return nil, err
	}
	if report.Counts.Phases, err = store.CountRows(ctx, h, "phases_canonical"); err != nil {
		return nil, err
	}
	if report.Counts.Steps, err = store.CountRows(ctx, h, "steps_canonical"); err != nil {
		return nil, err
	}

	// 1. row counts
	report.add("project_row_count", report.Counts.Projects == expected.Projects,
		fmt.Sprintf("expected %d, got %d", expected.Projects, report.Counts.Projects))
	report.add("phase_row_count", report.Counts.Phases == expected.Phases,
		fmt.Sprintf("expected %d, got %d", expected.Phases, report.Counts.Phases))

	// 2. orphans
	if report.OrphanPhases, err = store.FindOrphanPhases(ctx, h); err != nil {
		return nil, err
	}
	report.add("orphan_phases", len(report.OrphanPhases) == 0,
		fmt.Sprintf("%d phases with unresolved project_ref", len(report.OrphanPhases)))

	if report.OrphanSteps, err = store.FindOrphanSteps(ctx, h); err != nil {
		return nil, err
	}
	report.add("orphan_steps", len(report.OrphanSteps) == 0,
		fmt.Sprintf("%d steps with unresolved phase_ref or project_ref", len(report.OrphanSteps)))

	// 3. duplicate natural keys
	dupProjects, err := store.FindDuplicateKeys(ctx, h, "projects_canonical", "project_id")
	if err != nil {
		return nil, err
	}
	report.add("duplicate_project_keys", len(dupProjects) == 0,
		fmt.Sprintf("%d duplicated project ids", len(dupProjects)))

	dupPhases, err := store.FindDuplicateKeys(ctx, h, "phases_canonical", "phase_id")
	if err != nil {
		return nil, err
	}
	report.add("duplicate_phase_keys", len(dupPhases) == 0,
		fmt.Sprintf("%d duplicated phase ids", len(dupPhases)))

	// 4. required fields
	emptyProjects, err := store.CountEmptyRequired(ctx, h, "projects_canonical", "project_id", "project_name")
	if err != nil {
		return nil, err
	}
	report.add("project_required_fields", emptyProjects == 0,
		fmt.Sprintf("%d projects with empty id or name", emptyProjects))

	emptyPhases, err := store.CountEmptyRequired(ctx, h, "phases_canonical", "phase_id", "phase_name")
	if err != nil {
		return nil, err
	}
	report.add("phase_required_fields", emptyPhases == 0,
		fmt.Sprintf("%d phases with empty id or name", emptyPhases))

	// 5. preservation: losing collaborator rows is the most severe failure
	comms, err := store.CountRows(ctx, h, "comms_canonical")
	if err != nil {
		return nil, err
	}
	report.add("comms_preserved", comms >= pre.Comms,
		fmt.Sprintf("before %d, after %d", pre.Comms, comms))

	governance, err := store.CountRows(ctx, h, "governance_logs")
	if err != nil {
		return nil, err
	}
	report.add("governance_preserved", governance >= pre.Governance,
		fmt.Sprintf("before %d, after %d", pre.Governance, governance))

	if report.Stats, err = store.FetchHierarchyStats(ctx, h); err != nil {
		return nil, err
	}
	return report, nil
}

func (r *Report) add(name string, passed bool, detail string) {
	r.Checks = append(r.Checks, CheckResult{Name: name, Passed: passed, Detail: detail})
	if !passed {
		r.Passed = false
	}
}
