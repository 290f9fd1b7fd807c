package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/doontime"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

var (
	// ErrTerminated is returned by a device after Terminate.
	ErrTerminated = errors.New("device: terminated")

	// ErrUnknownType is returned by Registry.New for unregistered types.
	ErrUnknownType = errors.New("device: unknown type")
)

// Type is the device-type tag used in mappings and config.
type Type string

// State is a device-defined projection of a timeline state. Two states
// that are reflect.DeepEqual need no commands.
type State = any

// Command is one device command with its provenance.
type Command struct {
	// Time is the execution time. Zero or anything before the state time
	// means the state time; devices staging commands across a window set
	// later times.
	Time int64

	// QueueID groups commands so a later one supersedes a pending earlier
	// one with the same id.
	QueueID string

	// Payload is the device-specific command.
	Payload any

	// Context is a human-readable reason, e.g. "changed: obj42".
	Context string

	// TimelineObjectID is the object the command originates from.
	TimelineObjectID string

	// ResolutionID is the resolution pass that produced the command.
	ResolutionID string
}

// Options are passed to Integration.Init.
type Options struct {
	ID       string
	Type     Type
	Settings map[string]any

	// Emit publishes device events (connectionChanged, debug). It is
	// never nil.
	Emit func(Event)
}

// SettingString reads a string setting.
func (o Options) SettingString(key string) (string, bool) {
	v, ok := o.Settings[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// SettingInt reads an integer setting.
func (o Options) SettingInt(key string) (int64, bool) {
	v, ok := o.Settings[key]
	if !ok {
		return 0, false
	}
	return timeline.ToInt(v)
}

// Integration is implemented by every concrete device.
type Integration interface {
	// Init sets up connections. It runs off the scheduling path.
	Init(ctx context.Context, opts Options) error

	// ConvertState projects a timeline state onto this device. mappings
	// is already filtered to this device. Must be pure.
	ConvertState(state timeline.State, mappings timeline.Mappings) State

	// DiffStates returns the ordered commands moving the device from old
	// to new. It must return nothing when the states are equal.
	DiffStates(old, new State, mappings timeline.Mappings, at int64) []Command

	// SendCommand performs the I/O for one command.
	SendCommand(ctx context.Context, cmd Command) error

	// Status reports connectivity and initialization.
	Status() Status

	// CanConnect is false for fire-and-forget devices.
	CanConnect() bool

	// Terminate releases all resources.
	Terminate(ctx context.Context) error
}

// QueueModer is implemented by integrations that need a delivery mode
// other than doontime.Burst.
type QueueModer interface {
	QueueMode() doontime.Mode
}

// StatusCode names device health. Severity, not the numeric value, orders
// codes; see Worst.
type StatusCode int

const (
	StatusUnknown StatusCode = iota
	StatusGood
	StatusWarningMinor
	StatusWarningMajor
	StatusBad
	StatusFatal
)

// String returns the lower-case name of the code.
func (c StatusCode) String() string {
	switch c {
	case StatusUnknown:
		return "unknown"
	case StatusGood:
		return "good"
	case StatusWarningMinor:
		return "warning_minor"
	case StatusWarningMajor:
		return "warning_major"
	case StatusBad:
		return "bad"
	case StatusFatal:
		return "fatal"
	}
	return fmt.Sprintf("StatusCode(%d)", int(c))
}

// Status is a device health report.
type Status struct {
	Code     StatusCode `json:"code"`
	Messages []string   `json:"messages,omitempty"`
}

// Good returns a healthy status.
func Good() Status {
	return Status{Code: StatusGood}
}

// severity ranks a code for Worst. Unknown sits between Good and the
// warnings so an uninitialized device never reports as healthy.
func (c StatusCode) severity() int {
	switch c {
	case StatusGood:
		return 0
	case StatusUnknown:
		return 1
	}
	return int(c) + 1
}

// Worst merges statuses: the most severe code wins and messages accumulate.
// An empty call is Good.
func Worst(statuses ...Status) Status {
	out := Status{Code: StatusGood}
	for _, s := range statuses {
		if s.Code.severity() > out.Code.severity() {
			out.Code = s.Code
		}
		out.Messages = append(out.Messages, s.Messages...)
	}
	return out
}

// EventKind names a device notification.
type EventKind string

const (
	EventConnectionChanged EventKind = "connectionChanged"
	EventDebug             EventKind = "debug"
	EventCommandError      EventKind = "commandError"
	EventCommandSent       EventKind = "commandSent"
)

// ExecutedCommand describes one command run by the queue.
type ExecutedCommand struct {
	EntryID   string
	Command   Command
	Scheduled int64
	Started   int64
	Finished  int64
}

// Event is a device notification.
type Event struct {
	Kind     EventKind
	DeviceID string
	Time     int64
	Status   Status
	Message  string
	Err      error
	Command  *ExecutedCommand
}

// Listener receives device events. It may be called from queue goroutines.
type Listener func(Event)

// Device is what the conductor drives. Handle implements it.
type Device interface {
	ID() string
	Type() Type
	Init(ctx context.Context) error
	PrepareForHandleState(at int64)
	HandleState(state timeline.State, mappings timeline.Mappings) error
	Status() Status
	CanConnect() bool
	QueueLen() int
	Terminate(ctx context.Context) error
}
