package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"canonical_cutover/internal/db"
	"canonical_cutover/internal/store"
)

// RunHandler serves migration run history and validation reports. This is
// the read-only contract the administrative fix tooling consumes; nothing
// here mutates the store.
type RunHandler struct {
	store  *db.Handle
	logger Logger
}

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

func NewRunHandler(h *db.Handle, logger Logger) *RunHandler {
	return &RunHandler{store: h, logger: logger}
}

func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	runs, err := store.ListRuns(r.Context(), h.store, limit)
	if err != nil {
		h.logger.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Report returns the validation report stored on a run as structured JSON
// rather than an escaped string.
func (h *RunHandler) Report(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !run.Report.Valid {
		writeError(w, http.StatusNotFound, "no_report", "run produced no validation report")
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(run.Report.String))
}

func (h *RunHandler) lookup(w http.ResponseWriter, r *http.Request) (*store.MigrationRun, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_run_id", "run id must be a uuid")
		return nil, false
	}
	run, err := store.GetRun(r.Context(), h.store, id)
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("get run failed", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not load run")
		return nil, false
	}
	return run, true
}

// OrphanHandler exposes the live orphan lists for the repair tooling.
type OrphanHandler struct {
	store  *db.Handle
	logger Logger
}

func NewOrphanHandler(h *db.Handle, logger Logger) *OrphanHandler {
	return &OrphanHandler{store: h, logger: logger}
}

func (h *OrphanHandler) List(w http.ResponseWriter, r *http.Request) {
	phases, err := store.FindOrphanPhases(r.Context(), h.store)
	if err != nil {
		h.logger.Error("orphan phase query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not query orphans")
		return
	}
	steps, err := store.FindOrphanSteps(r.Context(), h.store)
	if err != nil {
		h.logger.Error("orphan step query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not query orphans")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orphan_phases": phases,
		"orphan_steps":  steps,
	})
}
