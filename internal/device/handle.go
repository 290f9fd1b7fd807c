package device

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/clock"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/doontime"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// DefaultRetention is how long applied states are kept for diffing.
const DefaultRetention int64 = 60_000

// HandleOption configures a Handle.
type HandleOption func(*handleConfig)

type handleConfig struct {
	mode      *doontime.Mode
	queueOpts []doontime.Option
	listener  Listener
	logger    *slog.Logger
	retention int64
	settings  map[string]any
}

// WithQueueMode overrides the integration's delivery mode.
func WithQueueMode(m doontime.Mode) HandleOption {
	return func(c *handleConfig) { c.mode = &m }
}

// WithQueueOptions passes extra options to the command queue, e.g.
// doontime.WithDispatcher for deterministic tests.
func WithQueueOptions(opts ...doontime.Option) HandleOption {
	return func(c *handleConfig) { c.queueOpts = append(c.queueOpts, opts...) }
}

// WithListener sets the event listener.
func WithListener(l Listener) HandleOption {
	return func(c *handleConfig) { c.listener = l }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) HandleOption {
	return func(c *handleConfig) { c.logger = l }
}

// WithRetention sets how long applied states are retained, in ms.
func WithRetention(ms int64) HandleOption {
	return func(c *handleConfig) {
		if ms > 0 {
			c.retention = ms
		}
	}
}

// WithSettings sets the device settings passed to Init.
func WithSettings(s map[string]any) HandleOption {
	return func(c *handleConfig) { c.settings = s }
}

type pendingCommand struct {
	stateTime int64
	cmd       Command
}

// Handle drives one Integration: state history, diffing, cancellation of
// superseded commands and the command queue.
//
// A state in the history is the base for the next diff only while all of
// its commands are still scheduled or have started. When a cancellation
// removes one of its commands the state is dropped, so the next diff
// starts from an earlier state and reissues what is still needed.
type Handle struct {
	id        string
	typ       Type
	integ     Integration
	clock     clock.Clock
	queue     *doontime.Queue
	listener  Listener
	logger    *slog.Logger
	retention int64
	settings  map[string]any

	terminated atomic.Bool

	mu      sync.Mutex
	history StateHistory
	pending map[string]pendingCommand
}

var _ Device = (*Handle)(nil)

// NewHandle wraps integ as device id.
func NewHandle(id string, typ Type, integ Integration, clk clock.Clock, opts ...HandleOption) *Handle {
	cfg := handleConfig{logger: slog.Default(), retention: DefaultRetention}
	for _, opt := range opts {
		opt(&cfg)
	}

	mode := doontime.Burst
	if qm, ok := integ.(QueueModer); ok {
		mode = qm.QueueMode()
	}
	if cfg.mode != nil {
		mode = *cfg.mode
	}

	h := &Handle{
		id:        id,
		typ:       typ,
		integ:     integ,
		clock:     clk,
		listener:  cfg.listener,
		logger:    cfg.logger.With("device", id),
		retention: cfg.retention,
		settings:  cfg.settings,
		pending:   map[string]pendingCommand{},
	}
	queueOpts := append([]doontime.Option{
		doontime.WithMode(mode),
		doontime.WithLogger(h.logger),
		doontime.WithResultListener(h.onResult),
	}, cfg.queueOpts...)
	h.queue = doontime.New(clk, queueOpts...)
	return h
}

// ID returns the device id.
func (h *Handle) ID() string { return h.id }

// Type returns the device type.
func (h *Handle) Type() Type { return h.typ }

// Integration returns the wrapped integration.
func (h *Handle) Integration() Integration { return h.integ }

// QueueMode returns the delivery mode of the command queue.
func (h *Handle) QueueMode() doontime.Mode { return h.queue.Mode() }

// Init initializes the integration and reports the resulting status.
func (h *Handle) Init(ctx context.Context) error {
	err := h.integ.Init(ctx, Options{ID: h.id, Type: h.typ, Settings: h.settings, Emit: h.emit})
	status := h.integ.Status()
	if err != nil {
		h.logger.Error("device init failed", "error", err)
		status = Worst(status, Status{Code: StatusBad, Messages: []string{err.Error()}})
	} else {
		h.logger.Info("device initialized", "type", h.typ, "status", status.Code)
	}
	h.emit(Event{Kind: EventConnectionChanged, Status: status, Err: err})
	return err
}

// PrepareForHandleState cancels commands scheduled at or after at.
func (h *Handle) PrepareForHandleState(at int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invalidateLocked(h.queue.CancelFromNowAndAfter(at))
}

// HandleState diffs state against the last applied state and schedules
// the resulting commands at state.Time.
func (h *Handle) HandleState(state timeline.State, mappings timeline.Mappings) (err error) {
	if h.terminated.Load() {
		return ErrTerminated
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("device %s: handle state panicked: %v", h.id, r)
		}
	}()

	own := mappings.ForDevice(h.id)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.invalidateLocked(h.queue.CancelFromNowAndAfter(state.Time))
	h.history.DropAfter(state.Time)

	prev, ok := h.history.At(max(h.clock.Now(), state.Time))
	if !ok {
		prev = timeline.EmptyState(0)
	}
	oldState := h.integ.ConvertState(prev, own)
	newState := h.integ.ConvertState(state, own)

	var cmds []Command
	if !reflect.DeepEqual(oldState, newState) {
		cmds = h.integ.DiffStates(oldState, newState, own, state.Time)
	}

	for _, cmd := range cmds {
		if cmd.Time < state.Time {
			cmd.Time = state.Time
		}
		cmd.ResolutionID = state.ResolutionID
		id, err := h.queue.Enqueue(cmd.Time, cmd.QueueID, h.sender(cmd))
		if err != nil {
			return fmt.Errorf("device %s: enqueue: %w", h.id, err)
		}
		h.pending[id] = pendingCommand{stateTime: state.Time, cmd: cmd}
	}
	if len(cmds) > 0 {
		h.logger.Debug("commands scheduled", "time", state.Time, "count", len(cmds), "resolution", state.ResolutionID)
	}

	h.history.Set(state)
	h.pruneLocked(state.Time - h.retention)
	return nil
}

func (h *Handle) sender(cmd Command) doontime.Command {
	return func(ctx context.Context) error {
		if h.terminated.Load() {
			return ErrTerminated
		}
		return h.integ.SendCommand(ctx, cmd)
	}
}

// invalidateLocked drops history states whose commands were cancelled.
func (h *Handle) invalidateLocked(cancelled []doontime.Entry) {
	for _, e := range cancelled {
		p, ok := h.pending[e.ID]
		if !ok {
			continue
		}
		delete(h.pending, e.ID)
		h.history.Remove(p.stateTime)
	}
}

func (h *Handle) pruneLocked(cutoff int64) {
	h.history.Prune(cutoff)
	oldest, ok := h.history.Oldest()
	for id, p := range h.pending {
		// Superseded via queue id; never reported back.
		if !ok || p.stateTime < oldest {
			delete(h.pending, id)
		}
	}
}

func (h *Handle) onResult(res doontime.Result) {
	h.mu.Lock()
	p, ok := h.pending[res.Entry.ID]
	delete(h.pending, res.Entry.ID)
	h.mu.Unlock()
	if !ok {
		return
	}

	exec := &ExecutedCommand{
		EntryID:   res.Entry.ID,
		Command:   p.cmd,
		Scheduled: res.Entry.Time,
		Started:   res.Started,
		Finished:  res.Finished,
	}
	if res.Err != nil {
		h.logger.Warn("command failed",
			"context", p.cmd.Context,
			"object", p.cmd.TimelineObjectID,
			"error", res.Err,
		)
		h.emit(Event{Kind: EventCommandError, Time: res.Finished, Message: p.cmd.Context, Err: res.Err, Command: exec})
		return
	}
	h.emit(Event{Kind: EventCommandSent, Time: res.Finished, Message: p.cmd.Context, Command: exec})
}

func (h *Handle) emit(e Event) {
	if h.listener == nil {
		return
	}
	e.DeviceID = h.id
	if e.Time == 0 {
		e.Time = h.clock.Now()
	}
	h.listener(e)
}

// Status returns the integration's status, or bad after Terminate.
func (h *Handle) Status() Status {
	if h.terminated.Load() {
		return Status{Code: StatusBad, Messages: []string{"terminated"}}
	}
	return h.integ.Status()
}

// CanConnect forwards to the integration.
func (h *Handle) CanConnect() bool {
	return h.integ.CanConnect()
}

// QueueLen returns the number of pending commands.
func (h *Handle) QueueLen() int {
	return h.queue.Len()
}

// QueueSnapshot returns the pending queue entries.
func (h *Handle) QueueSnapshot() []doontime.Entry {
	return h.queue.Snapshot()
}

// LastState returns the most recent applied state.
func (h *Handle) LastState() (timeline.State, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.history.At(h.latestLocked())
}

func (h *Handle) latestLocked() int64 {
	if h.history.Len() == 0 {
		return 0
	}
	return h.history.states[h.history.Len()-1].Time
}

// Terminate disposes the queue and terminates the integration. Further
// HandleState calls return ErrTerminated.
func (h *Handle) Terminate(ctx context.Context) error {
	if !h.terminated.CompareAndSwap(false, true) {
		return nil
	}
	h.queue.Dispose()
	h.mu.Lock()
	h.history.Clear()
	h.pending = map[string]pendingCommand{}
	h.mu.Unlock()

	err := h.integ.Terminate(ctx)
	if err != nil {
		h.logger.Warn("device terminate failed", "error", err)
	}
	h.emit(Event{Kind: EventConnectionChanged, Status: h.Status(), Err: err})
	return err
}
