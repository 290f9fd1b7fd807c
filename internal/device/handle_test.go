package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/clock"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/doontime"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// layerIntegration maps each layer to the id of its active object.
type layerIntegration struct {
	mu           sync.Mutex
	sent         []Command
	failContext  string
	panicConvert bool
	terminated   bool
	initOpts     Options
}

func (f *layerIntegration) Init(_ context.Context, opts Options) error {
	f.initOpts = opts
	return nil
}

func (f *layerIntegration) ConvertState(s timeline.State, m timeline.Mappings) State {
	if f.panicConvert {
		panic("convert exploded")
	}
	out := map[string]string{}
	for layer := range m {
		if rl, ok := s.Layers[layer]; ok {
			out[layer] = rl.Object.ID
		}
	}
	return out
}

func (f *layerIntegration) DiffStates(old, new State, m timeline.Mappings, _ int64) []Command {
	o, n := old.(map[string]string), new.(map[string]string)
	var cmds []Command
	for _, layer := range m.Layers() {
		if o[layer] != n[layer] {
			cmds = append(cmds, Command{
				Payload:          layer + "=" + n[layer],
				Context:          "changed: " + n[layer],
				TimelineObjectID: n[layer],
			})
		}
	}
	return cmds
}

func (f *layerIntegration) SendCommand(_ context.Context, cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failContext != "" && cmd.Context == f.failContext {
		return errors.New("device rejected command")
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *layerIntegration) Status() Status   { return Good() }
func (f *layerIntegration) CanConnect() bool { return false }
func (f *layerIntegration) Terminate(context.Context) error {
	f.terminated = true
	return nil
}

func (f *layerIntegration) payloads() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, c := range f.sent {
		out = append(out, c.Payload)
	}
	return out
}

var testMappings = timeline.Mappings{
	"l1":    {Device: "layer", DeviceID: "dev"},
	"l2":    {Device: "layer", DeviceID: "dev"},
	"other": {Device: "layer", DeviceID: "someone-else"},
}

func stateWith(t int64, layers map[string]string) timeline.State {
	s := timeline.EmptyState(t)
	for layer, id := range layers {
		s.Layers[layer] = timeline.ResolvedLayer{Layer: layer, Object: timeline.Object{ID: id}}
	}
	return s
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listen(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func newTestHandle(clk clock.Clock, integ Integration, events *eventLog) *Handle {
	return NewHandle("dev", "layer", integ, clk,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithListener(events.listen),
		WithQueueOptions(doontime.WithDispatcher(doontime.Inline)),
	)
}

func TestHandle_SchedulesAndSends(t *testing.T) {
	clk := clock.NewVirtual(100)
	integ := &layerIntegration{}
	events := &eventLog{}
	h := newTestHandle(clk, integ, events)

	s := stateWith(100, map[string]string{"l1": "A", "other": "X"})
	s.ResolutionID = "res-1"
	require.NoError(t, h.HandleState(s, testMappings))
	assert.Equal(t, 1, h.QueueLen())
	assert.Empty(t, integ.payloads(), "nothing runs before the clock moves")

	clk.AdvanceTo(100)
	assert.Equal(t, []any{"l1=A"}, integ.payloads())

	sent := events.kinds(EventCommandSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "dev", sent[0].DeviceID)
	assert.Equal(t, "A", sent[0].Command.Command.TimelineObjectID)
	assert.Equal(t, "res-1", sent[0].Command.Command.ResolutionID)
	assert.Equal(t, int64(100), sent[0].Command.Scheduled)
}

func TestHandle_SameStateTwiceProducesNoNewCommands(t *testing.T) {
	clk := clock.NewVirtual(100)
	integ := &layerIntegration{}
	h := newTestHandle(clk, integ, &eventLog{})
	s := stateWith(100, map[string]string{"l1": "A"})

	require.NoError(t, h.HandleState(s, testMappings))
	clk.AdvanceTo(100)
	h.PrepareForHandleState(100)
	require.NoError(t, h.HandleState(s, testMappings))
	assert.Equal(t, 0, h.QueueLen())

	clk.AdvanceTo(500)
	assert.Equal(t, []any{"l1=A"}, integ.payloads())
}

func TestHandle_ReresolveBeforeFiringKeepsOneCopy(t *testing.T) {
	clk := clock.NewVirtual(100)
	integ := &layerIntegration{}
	h := newTestHandle(clk, integ, &eventLog{})
	s := stateWith(100, map[string]string{"l1": "A"})

	require.NoError(t, h.HandleState(s, testMappings))
	h.PrepareForHandleState(100)
	require.NoError(t, h.HandleState(s, testMappings))
	assert.Equal(t, 1, h.QueueLen())

	clk.AdvanceTo(100)
	assert.Equal(t, []any{"l1=A"}, integ.payloads())
}

func TestHandle_SupersededFutureStateIsCancelled(t *testing.T) {
	clk := clock.NewVirtual(100)
	integ := &layerIntegration{}
	h := newTestHandle(clk, integ, &eventLog{})

	require.NoError(t, h.HandleState(stateWith(100, map[string]string{"l1": "A"}), testMappings))
	clk.AdvanceTo(100)

	// A pass scheduled for 500 is superseded by an edit resolved at 300.
	require.NoError(t, h.HandleState(stateWith(500, map[string]string{"l1": "B"}), testMappings))
	clk.AdvanceTo(300)
	h.PrepareForHandleState(300)
	require.NoError(t, h.HandleState(stateWith(300, map[string]string{"l1": "A", "l2": "C"}), testMappings))

	clk.AdvanceTo(1000)
	assert.Equal(t, []any{"l1=A", "l2=C"}, integ.payloads())
}

func TestHandle_CommandFailureIsReported(t *testing.T) {
	clk := clock.NewVirtual(0)
	integ := &layerIntegration{failContext: "changed: A"}
	events := &eventLog{}
	h := newTestHandle(clk, integ, events)

	require.NoError(t, h.HandleState(stateWith(0, map[string]string{"l1": "A", "l2": "B"}), testMappings))
	clk.AdvanceTo(10)

	errs := events.kinds(EventCommandError)
	require.Len(t, errs, 1)
	assert.Equal(t, "changed: A", errs[0].Message)
	assert.True(t, doontime.IsCommandError(errs[0].Err))
	assert.Equal(t, []any{"l2=B"}, integ.payloads())
}

func TestHandle_PanicInIntegrationIsIsolated(t *testing.T) {
	clk := clock.NewVirtual(0)
	h := newTestHandle(clk, &layerIntegration{panicConvert: true}, &eventLog{})
	err := h.HandleState(stateWith(0, nil), testMappings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "convert exploded")

	// The lock must have been released.
	h.PrepareForHandleState(0)
}

func TestHandle_InitEmitsStatus(t *testing.T) {
	clk := clock.NewVirtual(0)
	integ := &layerIntegration{}
	events := &eventLog{}
	h := NewHandle("dev", "layer", integ, clk,
		WithListener(events.listen),
		WithSettings(map[string]any{"host": "127.0.0.1"}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, h.Init(context.Background()))

	assert.Equal(t, "dev", integ.initOpts.ID)
	host, ok := integ.initOpts.SettingString("host")
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1", host)
	require.NotNil(t, integ.initOpts.Emit)

	changed := events.kinds(EventConnectionChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, StatusGood, changed[0].Status.Code)
}

func TestHandle_Terminate(t *testing.T) {
	clk := clock.NewVirtual(0)
	integ := &layerIntegration{}
	h := newTestHandle(clk, integ, &eventLog{})

	require.NoError(t, h.HandleState(stateWith(50, map[string]string{"l1": "A"}), testMappings))
	require.NoError(t, h.Terminate(context.Background()))
	require.NoError(t, h.Terminate(context.Background()))
	assert.True(t, integ.terminated)
	assert.Equal(t, StatusBad, h.Status().Code)

	clk.AdvanceTo(100)
	assert.Empty(t, integ.payloads())
	assert.ErrorIs(t, h.HandleState(stateWith(100, nil), testMappings), ErrTerminated)
}

type modedIntegration struct{ layerIntegration }

func (*modedIntegration) QueueMode() doontime.Mode { return doontime.InOrder }

func TestHandle_QueueMode(t *testing.T) {
	clk := clock.NewVirtual(0)
	assert.Equal(t, doontime.Burst, NewHandle("a", "t", &layerIntegration{}, clk).QueueMode())
	assert.Equal(t, doontime.InOrder, NewHandle("b", "t", &modedIntegration{}, clk).QueueMode())
	assert.Equal(t, doontime.Burst, NewHandle("c", "t", &modedIntegration{}, clk, WithQueueMode(doontime.Burst)).QueueMode())
}

func TestHandle_LastState(t *testing.T) {
	clk := clock.NewVirtual(0)
	h := newTestHandle(clk, &layerIntegration{}, &eventLog{})
	_, ok := h.LastState()
	assert.False(t, ok)

	require.NoError(t, h.HandleState(stateWith(10, map[string]string{"l1": "A"}), testMappings))
	require.NoError(t, h.HandleState(stateWith(20, map[string]string{"l1": "B"}), testMappings))
	last, ok := h.LastState()
	require.True(t, ok)
	assert.Equal(t, int64(20), last.Time)
}
