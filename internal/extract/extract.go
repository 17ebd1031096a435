// Package extract synthesizes canonical steps from free-text phase notes.
// The upstream source records steps as inline prose rather than discrete
// rows, so an ordered matcher cascade turns each note into zero or more
// step entities with deterministic identifiers.
package extract

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"canonical_cutover/internal/db"
	"canonical_cutover/internal/store"
)

const (
	maxNameLen  = 200
	maxNotesLen = 1000
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Summary reports one extraction pass.
type Summary struct {
	PhasesScanned int `json:"phases_scanned"`
	PhasesMatched int `json:"phases_matched"`
	StepsWritten  int `json:"steps_written"`
	NotesSkipped  int `json:"notes_skipped"`
}

// Extractor scans phase notes and upserts the resulting steps. Notes are
// processed concurrently since each note's extraction is side-effect-free;
// all writes happen afterwards in a single pass.
type Extractor struct {
	mgr      *db.Manager
	store    string
	matchers []Matcher
	logger   Logger
	workers  int
	now      func() time.Time
}

func NewExtractor(mgr *db.Manager, storeName string, logger Logger) *Extractor {
	return &Extractor{
		mgr:      mgr,
		store:    storeName,
		matchers: Matchers(),
		logger:   logger,
		workers:  runtime.NumCPU(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run extracts steps for every phase currently in the canonical store.
func (e *Extractor) Run(ctx context.Context) (Summary, error) {
	h, err := e.mgr.Get(ctx, e.store)
	if err != nil {
		return Summary{}, err
	}
	phases, err := store.ListPhases(ctx, h)
	if err != nil {
		return Summary{}, fmt.Errorf("load phases for extraction: %w", err)
	}

	var sum Summary
	sum.PhasesScanned = len(phases)

	results := make([][]store.Step, len(phases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, phase := range phases {
		i, phase := i, phase
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.extractPhase(phase)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	txID, err := e.mgr.Begin(ctx, e.store)
	if err != nil {
		return sum, err
	}
	ex := e.mgr.Tx(txID)
	for i, steps := range results {
		if !utf8.ValidString(phases[i].Notes) {
			sum.NotesSkipped++
			e.logger.Error("skipping malformed phase note", "phase", phases[i].PhaseID)
			continue
		}
		if len(steps) == 0 {
			continue
		}
		sum.PhasesMatched++
		for _, s := range steps {
			if err := store.UpsertStep(ctx, ex, s); err != nil {
				return sum, err
			}
			sum.StepsWritten++
		}
	}
	if err := e.mgr.Commit(txID); err != nil {
		return sum, err
	}
	e.logger.Info("step extraction complete",
		"phases", sum.PhasesScanned, "matched", sum.PhasesMatched, "steps", sum.StepsWritten)
	return sum, nil
}

// extractPhase applies the matcher cascade to one phase note. The step
// identifier is {phaseId}-S{n} with n the 1-based extraction order, so
// re-extraction of unchanged notes is an idempotent upsert.
func (e *Extractor) extractPhase(phase store.Phase) []store.Step {
	note := phase.Notes
	if strings.TrimSpace(note) == "" || !utf8.ValidString(note) {
		return nil
	}

	var candidates []Candidate
	for _, m := range e.matchers {
		if found := m.TryMatch(note); len(found) > 0 {
			candidates = found
			break
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	now := e.now()
	status := inferStatus(note, phase.Status)
	steps := make([]store.Step, 0, len(candidates))
	for i, c := range candidates {
		steps = append(steps, store.Step{
			StepID:      fmt.Sprintf("%s-S%d", phase.PhaseID, i+1),
			StepName:    stepName(c),
			PhaseRef:    phase.PhaseID,
			ProjectRef:  phase.ProjectRef,
			Status:      status,
			OutputNotes: truncate(note, maxNotesLen),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return steps
}

var nameCleaner = regexp.MustCompile(`[^\w\s\-\(\)\[\]\.,:;]`)

func stepName(c Candidate) string {
	name := strings.TrimSpace(c.Index + " " + c.Description)
	name = nameCleaner.ReplaceAllString(name, "")
	name = strings.Join(strings.Fields(name), " ")
	return truncate(name, maxNameLen)
}

// inferStatus guesses step state from note language; falls back to the
// phase status, then "pending".
func inferStatus(note, phaseStatus string) string {
	lower := strings.ToLower(note)
	switch {
	case strings.Contains(lower, "complete") || strings.Contains(lower, "done"):
		return "completed"
	case strings.Contains(lower, "progress") || strings.Contains(lower, "working"):
		return "in_progress"
	case phaseStatus != "":
		return phaseStatus
	default:
		return "pending"
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
