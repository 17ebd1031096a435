// Package backup snapshots the canonical hierarchy before a cutover touches
// it. Artifacts are write-once, read-many: one directory per run holding
// the row dump and a checksummed manifest, never mutated after creation.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"canonical_cutover/internal/db"
	"canonical_cutover/internal/store"
)

// Snapshot is the full pre-run state of the hierarchy tables plus the
// collaborator table counts the validator's preservation check compares
// against.
type Snapshot struct {
	TakenAt         time.Time       `json:"taken_at"`
	Projects        []store.Project `json:"projects"`
	Phases          []store.Phase   `json:"phases"`
	Steps           []store.Step    `json:"steps"`
	CommCount       int             `json:"comm_count"`
	GovernanceCount int             `json:"governance_count"`
}

// Manifest describes a stored artifact.
type Manifest struct {
	Ref       string    `json:"ref"`
	StoreName string    `json:"store"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  string    `json:"checksum"`
	Projects  int       `json:"projects"`
	Phases    int       `json:"phases"`
	Steps     int       `json:"steps"`
}

// Store keeps backup artifacts under one base directory.
type Store struct {
	base string
}

func NewStore(base string) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create backup root: %w", err)
	}
	return &Store{base: base}, nil
}

// Take snapshots the hierarchy tables of a store. The returned reference
// addresses the artifact for restore. Taking the same reference twice is an
// error; artifacts are never overwritten.
func (s *Store) Take(ctx context.Context, h *db.Handle, runID uuid.UUID) (string, error) {
	ref := fmt.Sprintf("%s-%s", h.Name(), runID.String())
	dir := filepath.Join(s.base, ref)
	if _, err := os.Stat(filepath.Join(dir, "manifest.json")); err == nil {
		return "", fmt.Errorf("backup %s already exists", ref)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	snap := Snapshot{TakenAt: time.Now().UTC()}
	var err error
	if snap.Projects, err = store.ListProjects(ctx, h); err != nil {
		return "", fmt.Errorf("snapshot projects: %w", err)
	}
	if snap.Phases, err = store.ListPhases(ctx, h); err != nil {
		return "", fmt.Errorf("snapshot phases: %w", err)
	}
	if snap.Steps, err = store.ListSteps(ctx, h); err != nil {
		return "", fmt.Errorf("snapshot steps: %w", err)
	}
	if snap.CommCount, err = store.CountRows(ctx, h, "comms_canonical"); err != nil {
		return "", err
	}
	if snap.GovernanceCount, err = store.CountRows(ctx, h, "governance_logs"); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "snapshot.json"), body, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	manifest := Manifest{
		Ref:       ref,
		StoreName: h.Name(),
		CreatedAt: snap.TakenAt,
		Checksum:  checksum(body),
		Projects:  len(snap.Projects),
		Phases:    len(snap.Phases),
		Steps:     len(snap.Steps),
	}
	manifestBody, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), manifestBody, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return ref, nil
}

// Load reads an artifact back, verifying the manifest checksum.
func (s *Store) Load(ref string) (*Snapshot, error) {
	dir := filepath.Join(s.base, ref)
	manifestBody, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("read backup manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBody, &manifest); err != nil {
		return nil, fmt.Errorf("parse backup manifest: %w", err)
	}

	body, err := os.ReadFile(filepath.Join(dir, "snapshot.json"))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if checksum(body) != manifest.Checksum {
		return nil, fmt.Errorf("backup %s checksum mismatch", ref)
	}
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}

// Restore puts the hierarchy tables back exactly as the artifact recorded
// them, in one transaction. Collaborator tables are untouched.
func (s *Store) Restore(ctx context.Context, mgr *db.Manager, storeName, ref string) error {
	snap, err := s.Load(ref)
	if err != nil {
		return err
	}

	txID, err := mgr.Begin(ctx, storeName)
	if err != nil {
		return err
	}
	ex := mgr.Tx(txID)
	if err := store.TruncateHierarchy(ctx, ex); err != nil {
		return fmt.Errorf("restore %s: %w", ref, err)
	}
	for _, p := range snap.Projects {
		if err := store.UpsertProject(ctx, ex, p); err != nil {
			return fmt.Errorf("restore %s: %w", ref, err)
		}
	}
	for _, p := range snap.Phases {
		if err := store.UpsertPhase(ctx, ex, p); err != nil {
			return fmt.Errorf("restore %s: %w", ref, err)
		}
	}
	for _, st := range snap.Steps {
		if err := store.UpsertStep(ctx, ex, st); err != nil {
			return fmt.Errorf("restore %s: %w", ref, err)
		}
	}
	return mgr.Commit(txID)
}

func checksum(body []byte) string {
	h := sha256.New()
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
