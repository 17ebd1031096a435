package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"canonical_cutover/internal/db"
)

// Project is the top-level canonical unit of work.
type Project struct {
	ProjectID   string    `db:"project_id" json:"project_id"`
	ProjectName string    `db:"project_name" json:"project_name"`
	Owner       string    `db:"owner" json:"owner"`
	Status      string    `db:"status" json:"status"`
	RAG         string    `db:"rag" json:"rag"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Phase is an ordered subdivision of a project. Notes carry the free text
// the step extractor mines.
type Phase struct {
	PhaseID    string    `db:"phase_id" json:"phase_id"`
	PhaseName  string    `db:"phase_name" json:"phase_name"`
	ProjectRef string    `db:"project_ref" json:"project_ref"`
	Status     string    `db:"status" json:"status"`
	RAG        string    `db:"rag" json:"rag"`
	StartDate  string    `db:"start_date" json:"start_date"`
	EndDate    string    `db:"end_date" json:"end_date"`
	Notes      string    `db:"notes" json:"notes"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Step is the smallest tracked unit, synthesized from phase notes.
// ProjectRef is denormalized for query locality.
type Step struct {
	StepID      string    `db:"step_id" json:"step_id"`
	StepName    string    `db:"step_name" json:"step_name"`
	PhaseRef    string    `db:"phase_ref" json:"phase_ref"`
	ProjectRef  string    `db:"project_ref" json:"project_ref"`
	Status      string    `db:"status" json:"status"`
	OutputNotes string    `db:"output_notes" json:"output_notes"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CommRecord is a logged inter-agent message. The engine preserves these
// rows; it never truncates comms_canonical during a hierarchy rebuild.
type CommRecord struct {
	ID         int64     `db:"id" json:"id"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
	ActorType  string    `db:"actor_type" json:"actor_type"`
	EventType  string    `db:"event_type" json:"event_type"`
	ProjectRef *string   `db:"project_ref" json:"project_ref,omitempty"`
	PhaseRef   *string   `db:"phase_ref" json:"phase_ref,omitempty"`
	Payload    string    `db:"payload" json:"payload"`
}

// upsertQuery builds an insert that updates the listed columns when the key
// already exists. Cols must start with the key column.
func upsertQuery(provider, table, keyCol string, cols []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders)

	updates := make([]string, 0, len(cols)-1)
	switch provider {
	case "mysql":
		for _, c := range cols[1:] {
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", c, c))
		}
		return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s", insert, strings.Join(updates, ", "))
	default: // sqlite and postgres share ON CONFLICT
		for _, c := range cols[1:] {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
		}
		return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", insert, keyCol, strings.Join(updates, ", "))
	}
}

var projectCols = []string{"project_id", "project_name", "owner", "status", "rag", "created_at", "updated_at"}

// UpsertProject writes a project keyed by its natural external id.
// Re-running the same import never creates duplicates.
func UpsertProject(ctx context.Context, ex db.Executor, p Project) error {
	q := upsertQuery(ex.Provider(), "projects_canonical", "project_id", projectCols)
	_, err := ex.ExecContext(ctx, q, p.ProjectID, p.ProjectName, p.Owner, p.Status, p.RAG, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", p.ProjectID, err)
	}
	return nil
}

var phaseCols = []string{"phase_id", "phase_name", "project_ref", "status", "rag", "start_date", "end_date", "notes", "created_at", "updated_at"}

func UpsertPhase(ctx context.Context, ex db.Executor, p Phase) error {
	q := upsertQuery(ex.Provider(), "phases_canonical", "phase_id", phaseCols)
	_, err := ex.ExecContext(ctx, q, p.PhaseID, p.PhaseName, p.ProjectRef, p.Status, p.RAG, p.StartDate, p.EndDate, p.Notes, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert phase %s: %w", p.PhaseID, err)
	}
	return nil
}

var stepCols = []string{"step_id", "step_name", "phase_ref", "project_ref", "status", "output_notes", "created_at", "updated_at"}

func UpsertStep(ctx context.Context, ex db.Executor, s Step) error {
	q := upsertQuery(ex.Provider(), "steps_canonical", "step_id", stepCols)
	_, err := ex.ExecContext(ctx, q, s.StepID, s.StepName, s.PhaseRef, s.ProjectRef, s.Status, s.OutputNotes, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert step %s: %w", s.StepID, err)
	}
	return nil
}

// InsertComm appends one communication record.
func InsertComm(ctx context.Context, ex db.Executor, c CommRecord) error {
	_, err := ex.ExecContext(ctx, `
INSERT INTO comms_canonical (occurred_at, actor_type, event_type, project_ref, phase_ref, payload)
VALUES (?, ?, ?, ?, ?, ?)`,
		c.OccurredAt, c.ActorType, c.EventType, c.ProjectRef, c.PhaseRef, c.Payload)
	if err != nil {
		return fmt.Errorf("insert comm record: %w", err)
	}
	return nil
}

// TruncateHierarchy clears the canonical Projects/Phases/Steps tables.
// comms_canonical and governance_logs are deliberately out of reach here;
// only the cutover orchestrator may call this, inside a transaction.
func TruncateHierarchy(ctx context.Context, ex db.Executor) error {
	for _, table := range []string{"steps_canonical", "phases_canonical", "projects_canonical"} {
		if _, err := ex.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

// ListProjects returns every canonical project (backup snapshots).
func ListProjects(ctx context.Context, h *db.Handle) ([]Project, error) {
	var out []Project
	err := h.SelectContext(ctx, &out, `
SELECT project_id, project_name, owner, status, rag, created_at, updated_at
FROM projects_canonical ORDER BY project_id`)
	return out, err
}

func ListPhases(ctx context.Context, h *db.Handle) ([]Phase, error) {
	var out []Phase
	err := h.SelectContext(ctx, &out, `
SELECT phase_id, phase_name, project_ref, status, rag, start_date, end_date, notes, created_at, updated_at
FROM phases_canonical ORDER BY phase_id`)
	return out, err
}

func ListSteps(ctx context.Context, h *db.Handle) ([]Step, error) {
	var out []Step
	err := h.SelectContext(ctx, &out, `
SELECT step_id, step_name, phase_ref, project_ref, status, output_notes, created_at, updated_at
FROM steps_canonical ORDER BY step_id`)
	return out, err
}

// CountRows counts rows in one of the canonical tables.
func CountRows(ctx context.Context, h *db.Handle, table string) (int, error) {
	switch table {
	case "projects_canonical", "phases_canonical", "steps_canonical", "comms_canonical", "governance_logs", "migration_runs":
	default:
		return 0, fmt.Errorf("unknown canonical table %q", table)
	}
	var n int
	if err := h.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
