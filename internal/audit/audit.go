// Package audit appends governance log entries. The governance_logs table
// is append-only: nothing in this engine ever mutates or deletes a row, and
// the hierarchy rebuild never truncates it.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"canonical_cutover/internal/db"
)

type Logger interface {
	Error(msg string, args ...any)
}

// Entry is one immutable governance record.
type Entry struct {
	EventType    string
	Actor        string
	ResourceType string
	ResourceID   string
	Success      bool
	Details      map[string]any
}

// Append writes one governance entry. A failure here is reported but the
// caller decides whether it is fatal; migration outcomes never depend on
// the audit sink being reachable.
func Append(ctx context.Context, ex db.Executor, logger Logger, e Entry) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	body, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal governance details: %w", err)
	}

	actor := e.Actor
	if actor == "" {
		actor = "system"
	}
	_, err = ex.ExecContext(ctx, `
INSERT INTO governance_logs (id, occurred_at, event_type, actor, resource_type, resource_id, success, details)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), time.Now().UTC(), e.EventType, actor, e.ResourceType, e.ResourceID, e.Success, string(body))
	if err != nil {
		if logger != nil {
			logger.Error("governance log append failed", "event_type", e.EventType, "error", err)
		}
		return fmt.Errorf("append governance entry: %w", err)
	}
	return nil
}
