package conductor

import (
	"context"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// ResolutionRecord summarizes one pass.
type ResolutionRecord struct {
	ResolutionID string `json:"resolution_id"`
	Time         int64  `json:"time"`

	// StateHash is the canonical hash of the derived timeline state.
	StateHash string `json:"state_hash"`

	// Layers maps each active layer to its object id.
	Layers     map[string]string      `json:"layers"`
	NextEvents []int64                `json:"next_events"`
	NextAt     int64                  `json:"next_at"`
	Fixed      []timeline.FixedObject `json:"fixed,omitempty"`
	Converged  bool                   `json:"converged"`
}

// CommandRecord is one executed device command.
type CommandRecord struct {
	// Seq orders records; it is assigned by the journal.
	Seq int64 `json:"seq"`

	DeviceID     string `json:"device_id"`
	ResolutionID string `json:"resolution_id"`
	EntryID      string `json:"entry_id"`
	Scheduled    int64  `json:"scheduled"`
	Executed     int64  `json:"executed"`
	ObjectID     string `json:"object_id"`
	Context      string `json:"context"`

	// Payload is the canonical JSON of the command payload.
	Payload string `json:"payload"`

	// Error is empty for successful commands.
	Error string `json:"error,omitempty"`
}

// Journal receives a write-only operator trace. Errors are logged and
// never affect scheduling.
type Journal interface {
	RecordResolution(ctx context.Context, rec ResolutionRecord) error
	RecordCommand(ctx context.Context, rec CommandRecord) error
}
