package harness

import (
	"fmt"
	"strings"
)

// TraceEvent is one executed device command.
type TraceEvent struct {
	// Time is when the command started executing.
	Time      int64  `json:"time"`
	Scheduled int64  `json:"scheduled"`
	DeviceID  string `json:"device_id"`
	ObjectID  string `json:"object_id"`
	Context   string `json:"context"`

	// ResolutionID is the pass that produced the command.
	ResolutionID string `json:"resolution_id"`

	// Payload is the canonical JSON of the command payload.
	Payload string `json:"payload"`

	Error string `json:"error,omitempty"`
}

// Line renders the event in the golden trace format.
func (e TraceEvent) Line() string {
	line := fmt.Sprintf("%d %s %s %q %s", e.Time, e.DeviceID, e.ObjectID, e.Context, e.Payload)
	if e.Error != "" {
		line += " error=" + e.Error
	}
	return line
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if all assertions passed.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains the assertion failure messages.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError marks the result failed.
func (r *Result) AddError(msg string) {
	r.Pass = false
	r.Errors = append(r.Errors, msg)
}

// TraceText renders the whole trace, one line per command with a trailing
// newline.
func (r *Result) TraceText() string {
	var b strings.Builder
	for _, e := range r.Trace {
		b.WriteString(e.Line())
		b.WriteByte('\n')
	}
	return b.String()
}
