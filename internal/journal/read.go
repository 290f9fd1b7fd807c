package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/conductor"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// Filter selects commands.
type Filter struct {
	DeviceID     string
	ResolutionID string

	// Limit keeps the most recent n records. Zero means all.
	Limit int
}

// ListCommands returns the matching commands ordered by seq ascending.
// With a limit, the most recent records are kept.
func (j *Journal) ListCommands(ctx context.Context, f Filter) ([]conductor.CommandRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if f.ResolutionID != "" {
		where = append(where, "resolution_id = ?")
		args = append(args, f.ResolutionID)
	}

	query := `
		SELECT seq, entry_id, device_id, resolution_id, scheduled, executed, object_id, context, payload, error
		FROM commands`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	out := []conductor.CommandRecord{}
	for rows.Next() {
		var rec conductor.CommandRecord
		if err := rows.Scan(
			&rec.Seq,
			&rec.EntryID,
			&rec.DeviceID,
			&rec.ResolutionID,
			&rec.Scheduled,
			&rec.Executed,
			&rec.ObjectID,
			&rec.Context,
			&rec.Payload,
			&rec.Error,
		); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commands: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// ListResolutions returns the most recent limit passes (all when limit is
// zero) ordered by seq ascending, with their "now" fixes.
func (j *Journal) ListResolutions(ctx context.Context, limit int) ([]conductor.ResolutionRecord, error) {
	query := `
		SELECT resolution_id, time, state_hash, layers, next_events, next_at, converged
		FROM resolutions
		ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query resolutions: %w", err)
	}
	out := []conductor.ResolutionRecord{}
	for rows.Next() {
		rec, err := scanResolution(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, rec)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate resolutions: %w", err)
	}

	// Fixes are read after the rows are closed: there is one connection.
	for i := range out {
		fixes, err := j.nowFixes(ctx, out[i].ResolutionID)
		if err != nil {
			return nil, err
		}
		out[i].Fixed = fixes
	}
	slices.Reverse(out)
	return out, nil
}

func scanResolution(rows *sql.Rows) (conductor.ResolutionRecord, error) {
	var (
		rec    conductor.ResolutionRecord
		layers string
		events string
	)
	if err := rows.Scan(&rec.ResolutionID, &rec.Time, &rec.StateHash, &layers, &events, &rec.NextAt, &rec.Converged); err != nil {
		return rec, fmt.Errorf("scan resolution: %w", err)
	}
	if err := json.Unmarshal([]byte(layers), &rec.Layers); err != nil {
		return rec, fmt.Errorf("resolution %s layers: %w", rec.ResolutionID, err)
	}
	if err := json.Unmarshal([]byte(events), &rec.NextEvents); err != nil {
		return rec, fmt.Errorf("resolution %s next events: %w", rec.ResolutionID, err)
	}
	return rec, nil
}

func (j *Journal) nowFixes(ctx context.Context, resolutionID string) ([]timeline.FixedObject, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT object_id, time FROM now_fixes
		WHERE resolution_id = ?
		ORDER BY object_id COLLATE BINARY ASC
	`, resolutionID)
	if err != nil {
		return nil, fmt.Errorf("query now fixes: %w", err)
	}
	defer rows.Close()

	var out []timeline.FixedObject
	for rows.Next() {
		var fix timeline.FixedObject
		if err := rows.Scan(&fix.ID, &fix.Time); err != nil {
			return nil, fmt.Errorf("scan now fix: %w", err)
		}
		out = append(out, fix)
	}
	return out, rows.Err()
}
