package store

import (
	"context"
	"fmt"

	"canonical_cutover/internal/db"
)

// OrphanPhase is a phase whose project reference does not resolve.
type OrphanPhase struct {
	PhaseID    string `db:"phase_id" json:"phase_id"`
	PhaseName  string `db:"phase_name" json:"phase_name"`
	ProjectRef string `db:"project_ref" json:"project_ref"`
}

// OrphanStep is a step whose phase or project reference does not resolve.
type OrphanStep struct {
	StepID     string `db:"step_id" json:"step_id"`
	StepName   string `db:"step_name" json:"step_name"`
	PhaseRef   string `db:"phase_ref" json:"phase_ref"`
	ProjectRef string `db:"project_ref" json:"project_ref"`
}

// DuplicateKey reports a natural key that appears more than once.
type DuplicateKey struct {
	Key   string `db:"dup_key" json:"key"`
	Count int    `db:"n" json:"count"`
}

func FindOrphanPhases(ctx context.Context, h *db.Handle) ([]OrphanPhase, error) {
	var out []OrphanPhase
	err := h.SelectContext(ctx, &out, `
SELECT phase_id, phase_name, COALESCE(project_ref, '') AS project_ref
FROM phases_canonical
WHERE project_ref IS NULL OR project_ref = ''
   OR project_ref NOT IN (SELECT project_id FROM projects_canonical)
ORDER BY phase_id`)
	if err != nil {
		return nil, fmt.Errorf("find orphan phases: %w", err)
	}
	return out, nil
}

func FindOrphanSteps(ctx context.Context, h *db.Handle) ([]OrphanStep, error) {
	var out []OrphanStep
	err := h.SelectContext(ctx, &out, `
SELECT step_id, step_name, COALESCE(phase_ref, '') AS phase_ref, COALESCE(project_ref, '') AS project_ref
FROM steps_canonical
WHERE phase_ref IS NULL OR phase_ref = ''
   OR phase_ref NOT IN (SELECT phase_id FROM phases_canonical)
   OR project_ref IS NULL OR project_ref = ''
   OR project_ref NOT IN (SELECT project_id FROM projects_canonical)
ORDER BY step_id`)
	if err != nil {
		return nil, fmt.Errorf("find orphan steps: %w", err)
	}
	return out, nil
}

func FindDuplicateKeys(ctx context.Context, h *db.Handle, table, keyCol string) ([]DuplicateKey, error) {
	switch table {
	case "projects_canonical", "phases_canonical", "steps_canonical":
	default:
		return nil, fmt.Errorf("unknown canonical table %q", table)
	}
	var out []DuplicateKey
	q := fmt.Sprintf(`
SELECT %s AS dup_key, COUNT(*) AS n
FROM %s
GROUP BY %s
HAVING COUNT(*) > 1
ORDER BY %s`, keyCol, table, keyCol, keyCol)
	if err := h.SelectContext(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("find duplicates in %s: %w", table, err)
	}
	return out, nil
}

// CountEmptyRequired counts rows with an empty identifier or name.
func CountEmptyRequired(ctx context.Context, h *db.Handle, table, idCol, nameCol string) (int, error) {
	switch table {
	case "projects_canonical", "phases_canonical":
	default:
		return 0, fmt.Errorf("unknown canonical table %q", table)
	}
	var n int
	q := fmt.Sprintf(`
SELECT COUNT(*) FROM %s
WHERE %s IS NULL OR %s = '' OR %s IS NULL OR %s = ''`, table, idCol, idCol, nameCol, nameCol)
	if err := h.GetContext(ctx, &n, q); err != nil {
		return 0, fmt.Errorf("count empty required fields in %s: %w", table, err)
	}
	return n, nil
}

// HierarchyStats are informational coverage figures for the report.
type HierarchyStats struct {
	ProjectsWithoutPhases int     `json:"projects_without_phases"`
	PhasesWithoutSteps    int     `json:"phases_without_steps"`
	AvgPhasesPerProject   float64 `json:"avg_phases_per_project"`
}

func FetchHierarchyStats(ctx context.Context, h *db.Handle) (HierarchyStats, error) {
	var stats HierarchyStats
	err := h.GetContext(ctx, &stats.ProjectsWithoutPhases, `
SELECT COUNT(*) FROM projects_canonical p
WHERE NOT EXISTS (SELECT 1 FROM phases_canonical ph WHERE ph.project_ref = p.project_id)`)
	if err != nil {
		return stats, fmt.Errorf("projects without phases: %w", err)
	}
	err = h.GetContext(ctx, &stats.PhasesWithoutSteps, `
SELECT COUNT(*) FROM phases_canonical ph
WHERE NOT EXISTS (SELECT 1 FROM steps_canonical s WHERE s.phase_ref = ph.phase_id)`)
	if err != nil {
		return stats, fmt.Errorf("phases without steps: %w", err)
	}
	var projects, phases int
	if projects, err = CountRows(ctx, h, "projects_canonical"); err != nil {
		return stats, err
	}
	if phases, err = CountRows(ctx, h, "phases_canonical"); err != nil {
		return stats, err
	}
	if projects > 0 {
		stats.AvgPhasesPerProject = float64(phases) / float64(projects)
	}
	return stats, nil
}
