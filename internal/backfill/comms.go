package backfill

import (
	"context"
	"encoding/json"
	"time"

	"canonical_cutover/internal/export"
	"canonical_cutover/internal/store"
)

// actorTypeFor maps upstream user roles onto canonical actor types.
func actorTypeFor(role string) string {
	switch role {
	case "developer", "assistant":
		return "Claude"
	case "architect":
		return "Gizmo"
	case "system":
		return "System"
	default:
		return "unknown"
	}
}

// ImportComms merges agent-log export records into comms_canonical. Comms
// are append-only collaborator data: this runs outside the cutover and the
// cutover never touches the table.
func (im *Importer) ImportComms(ctx context.Context, records []export.Record) (Summary, error) {
	txID, err := im.mgr.Begin(ctx, im.store)
	if err != nil {
		return Summary{}, err
	}
	ex := im.mgr.Tx(txID)

	var sum Summary
	for _, rec := range records {
		eventType := rec.Get("event_type", "eventType")
		if eventType == "" {
			sum.Skipped++
			sum.Errors = append(sum.Errors, RowError{Message: "missing event_type"})
			continue
		}
		occurredAt := im.now()
		if raw := rec.Get("timestamp"); raw != "" {
			if parsed, perr := time.Parse(time.RFC3339, raw); perr == nil {
				occurredAt = parsed
			}
		}
		c := store.CommRecord{
			OccurredAt: occurredAt,
			ActorType:  actorTypeFor(rec.Get("user_role", "actor_type")),
			EventType:  eventType,
			ProjectRef: optionalRef(rec, "projectId", "project_id", "resource_id"),
			PhaseRef:   optionalRef(rec, "phase", "phaseId", "phase_id"),
			Payload:    payloadFor(rec),
		}
		if err := store.InsertComm(ctx, ex, c); err != nil {
			return sum, err
		}
		sum.Imported++
	}
	if err := im.mgr.Commit(txID); err != nil {
		return sum, err
	}
	im.logger.Info("communications merge complete", "imported", sum.Imported, "skipped", sum.Skipped)
	return sum, nil
}

func optionalRef(rec export.Record, keys ...string) *string {
	if v := rec.Get(keys...); v != "" {
		return &v
	}
	return nil
}

func payloadFor(rec export.Record) string {
	if raw := rec.Get("details", "payload"); raw != "" {
		return raw
	}
	blob, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	return string(blob)
}
