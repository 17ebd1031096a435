// Package backfill maps external export records into canonical rows. Every
// write is an upsert by natural key, so re-running an unchanged export
// changes nothing. Row-level problems are recorded and skipped; a partial
// failure is never fatal on its own.
package backfill

import (
	"context"
	"fmt"
	"time"

	"canonical_cutover/internal/db"
	"canonical_cutover/internal/export"
	"canonical_cutover/internal/store"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// RowError describes one export row the importer could not map.
type RowError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// Summary is what one import pass returns to the caller.
type Summary struct {
	Imported int        `json:"imported"`
	Skipped  int        `json:"skipped"`
	Errors   []RowError `json:"errors,omitempty"`
}

// Importer writes export records into one named store, one transaction per
// import pass.
type Importer struct {
	mgr    *db.Manager
	store  string
	logger Logger
	now    func() time.Time
}

func NewImporter(mgr *db.Manager, storeName string, logger Logger) *Importer {
	return &Importer{mgr: mgr, store: storeName, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ImportProjects upserts project export records by their natural id.
func (im *Importer) ImportProjects(ctx context.Context, records []export.Record) (Summary, error) {
	txID, err := im.mgr.Begin(ctx, im.store)
	if err != nil {
		return Summary{}, err
	}
	ex := im.mgr.Tx(txID)

	var sum Summary
	now := im.now()
	for _, rec := range records {
		id := rec.Get("projectID", "projectId", "project_id", "id")
		name := rec.Get("projectName", "Title", "project_name", "name")
		if id == "" || name == "" {
			sum.Skipped++
			sum.Errors = append(sum.Errors, RowError{Key: id, Message: "missing project id or name"})
			continue
		}
		p := store.Project{
			ProjectID:   id,
			ProjectName: name,
			Owner:       rec.Get("owner", "Owner"),
			Status:      defaultString(rec.Get("status", "Status"), "Planning"),
			RAG:         rec.Get("RAG", "rag"),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := store.UpsertProject(ctx, ex, p); err != nil {
			// the manager already rolled the pass back
			return sum, err
		}
		sum.Imported++
	}
	if err := im.mgr.Commit(txID); err != nil {
		return sum, err
	}
	im.logger.Info("projects backfill complete", "imported", sum.Imported, "skipped", sum.Skipped)
	return sum, nil
}

// ImportPhases upserts phase export records. A phase whose declared project
// does not exist is still written; the validator flags it later. The
// importer never drops input and never fabricates a parent.
func (im *Importer) ImportPhases(ctx context.Context, records []export.Record) (Summary, error) {
	txID, err := im.mgr.Begin(ctx, im.store)
	if err != nil {
		return Summary{}, err
	}
	ex := im.mgr.Tx(txID)

	var sum Summary
	now := im.now()
	for _, rec := range records {
		id := rec.Get("phaseid", "phaseId", "phase_id", "id")
		name := rec.Get("phasename", "phaseName", "phase_name", "name")
		if id == "" || name == "" {
			sum.Skipped++
			sum.Errors = append(sum.Errors, RowError{Key: id, Message: "missing phase id or name"})
			continue
		}
		p := store.Phase{
			PhaseID:    id,
			PhaseName:  name,
			ProjectRef: rec.Get("WT Projects", "project_ref", "projectId", "projectID"),
			Status:     defaultString(rec.Get("status", "Status"), "Planned"),
			RAG:        rec.Get("RAG", "rag"),
			StartDate:  rec.Get("startDate", "start_date"),
			EndDate:    rec.Get("endDate", "end_date"),
			Notes:      rec["notes"],
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := store.UpsertPhase(ctx, ex, p); err != nil {
			return sum, err
		}
		sum.Imported++
	}
	if err := im.mgr.Commit(txID); err != nil {
		return sum, err
	}
	im.logger.Info("phases backfill complete", "imported", sum.Imported, "skipped", sum.Skipped)
	return sum, nil
}

// DetailsMap renders a summary as a governance details payload.
func (s Summary) DetailsMap(source, target string) map[string]any {
	details := map[string]any{
		"source":        source,
		"target":        target,
		"record_count":  s.Imported + s.Skipped,
		"success_count": s.Imported,
		"error_count":   s.Skipped,
	}
	if len(s.Errors) > 0 {
		msgs := make([]string, 0, len(s.Errors))
		for _, e := range s.Errors {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.Key, e.Message))
		}
		details["errors"] = msgs
	}
	return details
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
