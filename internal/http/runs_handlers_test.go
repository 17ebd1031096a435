package httpserver_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canonical_cutover/internal/config"
	"canonical_cutover/internal/db"
	httpserver "canonical_cutover/internal/http"
	"canonical_cutover/internal/store"
)

func newAPI(t *testing.T) (*httptest.Server, *db.Handle) {
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

	runs := httpserver.NewRunHandler(h, logger)
	orphans := httpserver.NewOrphanHandler(h, logger)
	r := chi.NewRouter()
	r.Get("/api/runs", runs.List)
	r.Get("/api/runs/{runID}", runs.Get)
	r.Get("/api/runs/{runID}/report", runs.Report)
	r.Get("/api/orphans", orphans.List)
	r.Method(http.MethodGet, "/healthz", httpserver.HealthHandler{Store: h})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, h
}

func seedRun(t *testing.T, h *db.Handle, report string) uuid.UUID {
	t.Helper()
	runID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	run := store.MigrationRun{
		RunID:        runID,
		StartedAt:    now,
		FinishedAt:   now.Add(time.Minute),
		PhaseReached: "service_recovered",
		Outcome:      "success",
	}
	if report != "" {
		run.Report = sql.NullString{Valid: true, String: report}
	}
	require.NoError(t, store.InsertRun(context.Background(), h, run))
	return runID
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv, _ := newAPI(t)
	var body struct {
		Status string `json:"status"`
		Store  string `json:"store"`
	}
	code := getJSON(t, srv.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "staging", body.Store)
}

func TestListRuns(t *testing.T) {
	srv, h := newAPI(t)
	seedRun(t, h, "")
	seedRun(t, h, "")

	var body struct {
		Runs []store.MigrationRun `json:"runs"`
	}
	code := getJSON(t, srv.URL+"/api/runs", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body.Runs, 2)
}

func TestGetRun(t *testing.T) {
	srv, h := newAPI(t)
	runID := seedRun(t, h, "")

	var run store.MigrationRun
	code := getJSON(t, srv.URL+"/api/runs/"+runID.String(), &run)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, runID, run.RunID)
	assert.Equal(t, "success", run.Outcome)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/runs/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/runs/not-a-uuid", nil))
}

func TestGetRunReport(t *testing.T) {
	srv, h := newAPI(t)
	withReport := seedRun(t, h, `{"passed":true,"checks":[]}`)
	withoutReport := seedRun(t, h, "")

	var report map[string]any
	code := getJSON(t, srv.URL+"/api/runs/"+withReport.String()+"/report", &report)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, report["passed"])

	assert.Equal(t, http.StatusNotFound,
		getJSON(t, srv.URL+"/api/runs/"+withoutReport.String()+"/report", nil))
}

func TestListOrphans(t *testing.T) {
	srv, h := newAPI(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.UpsertPhase(ctx, h, store.Phase{
		PhaseID: "WT-9.1", PhaseName: "Ghost", ProjectRef: "WT-MISSING",
		CreatedAt: now, UpdatedAt: now,
	}))

	var body struct {
		OrphanPhases []store.OrphanPhase `json:"orphan_phases"`
		OrphanSteps  []store.OrphanStep  `json:"orphan_steps"`
	}
	code := getJSON(t, srv.URL+"/api/orphans", &body)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, body.OrphanPhases, 1)
	assert.Equal(t, "WT-9.1", body.OrphanPhases[0].PhaseID)
	assert.Empty(t, body.OrphanSteps)
}
