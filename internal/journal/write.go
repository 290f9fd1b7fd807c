package journal

import (
	"context"
	"fmt"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/conductor"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// RecordResolution writes one pass and its "now" fixes in a single
// transaction. Writing the same resolution id twice is a no-op.
func (j *Journal) RecordResolution(ctx context.Context, rec conductor.ResolutionRecord) error {
	layers, err := marshalJSON(rec.Layers, "{}")
	if err != nil {
		return fmt.Errorf("record resolution: %w", err)
	}
	events, err := marshalJSON(rec.NextEvents, "[]")
	if err != nil {
		return fmt.Errorf("record resolution: %w", err)
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record resolution: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resolutions
		(resolution_id, time, state_hash, layers, next_events, next_at, converged)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resolution_id) DO NOTHING
	`,
		rec.ResolutionID,
		rec.Time,
		rec.StateHash,
		layers,
		events,
		rec.NextAt,
		rec.Converged,
	)
	if err != nil {
		return fmt.Errorf("record resolution: %w", err)
	}

	for _, fix := range rec.Fixed {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO now_fixes (resolution_id, object_id, time)
			VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, rec.ResolutionID, fix.ID, fix.Time)
		if err != nil {
			return fmt.Errorf("record now fix %s: %w", fix.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record resolution: %w", err)
	}
	return nil
}

// RecordCommand writes one executed command. rec.Seq is ignored; the
// journal assigns it. Writing the same entry id twice is a no-op.
func (j *Journal) RecordCommand(ctx context.Context, rec conductor.CommandRecord) error {
	payload := rec.Payload
	if payload == "" {
		payload = "null"
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO commands
		(entry_id, device_id, resolution_id, scheduled, executed, object_id, context, payload, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO NOTHING
	`,
		rec.EntryID,
		rec.DeviceID,
		rec.ResolutionID,
		rec.Scheduled,
		rec.Executed,
		rec.ObjectID,
		rec.Context,
		payload,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("record command: %w", err)
	}
	return nil
}

func marshalJSON(v any, empty string) (string, error) {
	data, err := timeline.MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}
