package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/clock"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/conductor"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/device"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/devices"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/doontime"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/testutil"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	registry *device.Registry
	logger   *slog.Logger
}

// WithRegistry replaces the built-in device types.
func WithRegistry(r *device.Registry) Option {
	return func(c *runConfig) { c.registry = r }
}

// WithLogger sets the conductor logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// Run executes a scenario and evaluates its assertions. The returned error
// is for scenarios that could not run at all; assertion failures are in
// Result.Errors.
//
// Resolution ids are "res-N" and command entry ids "cmd-N" so traces are
// stable across runs.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{
		registry: devices.Builtin(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	clk := clock.NewVirtual(s.Start)
	rec := &traceRecorder{}
	entryIDs := testutil.NewSequenceGenerator("cmd")

	copts := append(s.Conductor.Options(),
		conductor.WithRegistry(cfg.registry),
		conductor.WithLogger(cfg.logger),
		conductor.WithIDGenerator(testutil.NewSequenceGenerator("res")),
		conductor.WithInitRunner(doontime.Inline),
		conductor.WithListener(rec.listen),
		conductor.WithHandleOptions(device.WithQueueOptions(
			doontime.WithDispatcher(doontime.Inline),
			doontime.WithIDGenerator(entryIDs.Func()),
		)),
	)
	c := conductor.New(clk, copts...)

	if err := c.SetShow(s.Mappings, s.Timeline); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	if err := c.AddConfigured(ctx, s.Devices); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	c.Start()
	for i, step := range s.Steps {
		clk.AdvanceTo(step.At)
		if err := applyStep(c, step); err != nil {
			_ = c.Close(ctx)
			return nil, fmt.Errorf("scenario %s: steps[%d]: %w", s.Name, i, err)
		}
	}
	clk.AdvanceTo(s.Until)

	if err := c.Close(ctx); err != nil {
		return nil, fmt.Errorf("scenario %s: close: %w", s.Name, err)
	}

	result := NewResult()
	result.Trace = rec.snapshot()
	for _, msg := range EvaluateAssertions(result.Trace, s.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func applyStep(c *conductor.Conductor, step Step) error {
	switch {
	case step.Mappings != nil && step.Timeline != nil:
		return c.SetShow(step.Mappings, step.Timeline)
	case step.Mappings != nil:
		return c.SetMappings(step.Mappings)
	case step.Timeline != nil:
		return c.SetTimeline(step.Timeline)
	}
	return nil
}

// traceRecorder turns executed-command events into trace lines.
type traceRecorder struct {
	mu    sync.Mutex
	trace []TraceEvent
}

func (r *traceRecorder) listen(e device.Event) {
	if e.Command == nil {
		return
	}
	if e.Kind != device.EventCommandSent && e.Kind != device.EventCommandError {
		return
	}
	cmd := e.Command
	ev := TraceEvent{
		Time:         cmd.Started,
		Scheduled:    cmd.Scheduled,
		DeviceID:     e.DeviceID,
		ObjectID:     cmd.Command.TimelineObjectID,
		Context:      cmd.Command.Context,
		ResolutionID: cmd.Command.ResolutionID,
		Payload:      canonicalPayload(cmd.Command.Payload),
	}
	if e.Kind == device.EventCommandError && e.Err != nil {
		ev.Error = e.Err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = append(r.trace, ev)
}

func (r *traceRecorder) snapshot() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEvent, len(r.trace))
	copy(out, r.trace)
	return out
}

func canonicalPayload(p any) string {
	raw, err := timeline.MarshalCanonical(p)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(p))
	}
	return string(raw)
}
