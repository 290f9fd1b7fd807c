package conductor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/clock"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/device"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/devices"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/devices/fader"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/doontime"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/metrics"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/testutil"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

type eventLog struct {
	mu     sync.Mutex
	events []device.Event
}

func (l *eventLog) listen(e device.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofKind(kind device.EventKind) []device.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []device.Event
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type memJournal struct {
	mu          sync.Mutex
	resolutions []ResolutionRecord
	commands    []CommandRecord
}

func (j *memJournal) RecordResolution(_ context.Context, rec ResolutionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.resolutions = append(j.resolutions, rec)
	return nil
}

func (j *memJournal) RecordCommand(_ context.Context, rec CommandRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.commands = append(j.commands, rec)
	return nil
}

// newTestConductor runs everything on the calling goroutine: virtual
// clock, inline device init and inline command dispatch.
func newTestConductor(clk *clock.Virtual, opts ...Option) *Conductor {
	base := []Option{
		WithLogger(testutil.DiscardLogger()),
		WithIDGenerator(testutil.NewSequenceGenerator("res")),
		WithInitRunner(doontime.Inline),
		WithHandleOptions(device.WithQueueOptions(doontime.WithDispatcher(doontime.Inline))),
	}
	return New(clk, append(base, opts...)...)
}

func recorderRegistry(t *testing.T, recs map[device.Type]*testutil.Recorder) *device.Registry {
	t.Helper()
	r := device.NewRegistry()
	for typ, rec := range recs {
		require.NoError(t, r.Register(typ, rec.Factory()))
	}
	return r
}

func obj(id, layer string, start int64, end *int64) timeline.Object {
	en := timeline.Enable{Start: timeline.Abs(start)}
	if end != nil {
		e := timeline.Abs(*end)
		en.End = &e
	}
	return timeline.Object{ID: id, Layer: layer, Enable: timeline.Enables{en}}
}

func i64(v int64) *int64 { return &v }

var faderMappings = timeline.Mappings{
	"fader_ch1": {Device: string(fader.Type), DeviceID: "desk0", MappingType: "channel", Options: map[string]any{"channel": "ch1", "default": -191}},
}

// faderTimeline is A (-6) from 0 to 2000 and B (-4) from 1500, open-ended
// but bounded by its parent A.
func faderTimeline() []timeline.Object {
	end := timeline.Abs(2000)
	return []timeline.Object{{
		ID:       "A",
		Layer:    "fader_ch1",
		Priority: 1,
		Enable:   timeline.Enables{{Start: timeline.Abs(0), End: &end}},
		Content:  map[string]any{"value": -6},
		IsGroup:  true,
		Children: []timeline.Object{{
			ID:       "B",
			Layer:    "fader_ch1",
			Priority: 2,
			Enable:   timeline.Enables{{Start: timeline.Abs(1500)}},
			Content:  map[string]any{"value": -4},
		}},
	}}
}

func TestFaderEndToEnd(t *testing.T) {
	clk := clock.NewVirtual(100)
	events := &eventLog{}
	journal := &memJournal{}
	reg := prometheus.NewRegistry()
	c := newTestConductor(clk,
		WithRegistry(devices.Builtin()),
		WithListener(events.listen),
		WithJournal(journal),
		WithMetrics(metrics.NewCollector(reg)),
	)

	require.NoError(t, c.SetMappings(faderMappings))
	require.NoError(t, c.SetTimeline(faderTimeline()))
	_, err := c.AddDevice(context.Background(), "desk0", fader.Type, nil)
	require.NoError(t, err)

	c.Start()
	defer c.Stop()
	clk.AdvanceTo(5000)

	sent := events.ofKind(device.EventCommandSent)
	require.Len(t, sent, 3)

	want := []struct {
		at      int64
		value   int64
		context string
		object  string
	}{
		{100, -6, "added: A", "A"},
		{1500, -4, "changed: B", "B"},
		{2000, -191, "removed: B", "B"},
	}
	for i, w := range want {
		cmd := sent[i].Command
		assert.Equal(t, "desk0", sent[i].DeviceID)
		assert.Equal(t, w.at, cmd.Scheduled)
		assert.GreaterOrEqual(t, cmd.Started, cmd.Scheduled)
		assert.Equal(t, fader.SetLevel{Channel: "ch1", Value: w.value}, cmd.Command.Payload)
		assert.Equal(t, w.context, cmd.Command.Context)
		assert.Equal(t, w.object, cmd.Command.TimelineObjectID)
	}
	assert.Empty(t, events.ofKind(device.EventCommandError))

	require.Len(t, journal.commands, 3)
	assert.Equal(t, `{"channel":"ch1","value":-6}`, journal.commands[0].Payload)
	assert.Equal(t, "res-1", journal.commands[0].ResolutionID)
	assert.Equal(t, "res-3", journal.commands[2].ResolutionID)

	require.Len(t, journal.resolutions, 3)
	assert.Equal(t, []int64{100, 1500, 2000}, []int64{journal.resolutions[0].Time, journal.resolutions[1].Time, journal.resolutions[2].Time})
	assert.Equal(t, map[string]string{"fader_ch1": "A"}, journal.resolutions[0].Layers)
	assert.Equal(t, int64(1500), journal.resolutions[0].NextAt)
	assert.NotEmpty(t, journal.resolutions[0].StateHash)

	next, armed := c.NextResolveAt()
	assert.True(t, armed)
	assert.Equal(t, int64(12000), next)

	assert.Equal(t, 3.0, gathered(t, reg, "tsr_commands_sent_total"))
	assert.Equal(t, 3.0, gathered(t, reg, "tsr_resolutions_total"))
}

func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range f.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
		return sum
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestDeterminism_SameInstantTwice(t *testing.T) {
	clk := clock.NewVirtual(100)
	rec := testutil.NewRecorder(clk)
	c := newTestConductor(clk, WithRegistry(recorderRegistry(t, map[device.Type]*testutil.Recorder{testutil.RecorderType: rec})))

	require.NoError(t, c.SetMappings(timeline.Mappings{"l1": {Device: "recorder", DeviceID: "rec"}}))
	require.NoError(t, c.SetTimeline([]timeline.Object{obj("a", "l1", 0, nil)}))
	h, err := c.AddDevice(context.Background(), "rec", testutil.RecorderType, nil)
	require.NoError(t, err)

	first, err := c.ResolveAndApply(100)
	require.NoError(t, err)
	clk.AdvanceTo(100)
	require.Len(t, rec.Sent(), 1)

	second, err := c.ResolveAndApply(100)
	require.NoError(t, err)
	clk.AdvanceTo(200)

	h1, err := timeline.StateHash(first.State)
	require.NoError(t, err)
	h2, err := timeline.StateHash(second.State)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, first.ResolutionID, second.ResolutionID)
	assert.Equal(t, 0, h.QueueLen())
	assert.Len(t, rec.Sent(), 1, "second pass must not issue commands")
}

func TestDeterminism_ReResolveBeforeFiring(t *testing.T) {
	clk := clock.NewVirtual(0)
	rec := testutil.NewRecorder(clk)
	c := newTestConductor(clk, WithRegistry(recorderRegistry(t, map[device.Type]*testutil.Recorder{testutil.RecorderType: rec})))

	require.NoError(t, c.SetMappings(timeline.Mappings{"l1": {Device: "recorder", DeviceID: "rec"}}))
	require.NoError(t, c.SetTimeline([]timeline.Object{obj("a", "l1", 0, nil)}))
	h, err := c.AddDevice(context.Background(), "rec", testutil.RecorderType, nil)
	require.NoError(t, err)

	_, err = c.ResolveAndApply(100)
	require.NoError(t, err)
	_, err = c.ResolveAndApply(100)
	require.NoError(t, err)
	assert.Equal(t, 1, h.QueueLen())

	clk.AdvanceTo(150)
	assert.Equal(t, []any{"a"}, rec.Payloads())
}

func TestNowStability(t *testing.T) {
	clk := clock.NewVirtual(500)
	rec := testutil.NewRecorder(clk)
	var fixes []timeline.FixedObject
	c := newTestConductor(clk,
		WithRegistry(recorderRegistry(t, map[device.Type]*testutil.Recorder{testutil.RecorderType: rec})),
		OnFixedNow(func(f []timeline.FixedObject) { fixes = append(fixes, f...) }),
	)

	live := timeline.Object{ID: "live", Layer: "l1", Enable: timeline.Enables{{Start: timeline.Now(), Duration: i64(1000)}}}
	require.NoError(t, c.SetMappings(timeline.Mappings{"l1": {Device: "recorder", DeviceID: "rec"}}))
	require.NoError(t, c.SetTimeline([]timeline.Object{live}))
	_, err := c.AddDevice(context.Background(), "rec", testutil.RecorderType, nil)
	require.NoError(t, err)

	c.Start()
	defer c.Stop()
	assert.Equal(t, []timeline.FixedObject{{ID: "live", Time: 500}}, fixes)
	assert.Equal(t, timeline.Abs(500), c.Timeline()[0].Enable[0].Start)

	clk.AdvanceTo(1200)
	pass, err := c.ResolveAndApply(1200)
	require.NoError(t, err)
	assert.Empty(t, pass.Fixed)
	assert.Len(t, fixes, 1)
	assert.Equal(t, int64(500), pass.State.Layers["l1"].Instance.Start)

	clk.AdvanceTo(2000)
	sent := rec.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, int64(500), sent[0].Time)
	assert.Equal(t, int64(1500), sent[1].Time)
	assert.Equal(t, "removed: live", sent[1].Command.Context)
}

func TestTimelineEditDisarmsPendingPass(t *testing.T) {
	clk := clock.NewVirtual(0)
	rec := testutil.NewRecorder(clk)
	c := newTestConductor(clk, WithRegistry(recorderRegistry(t, map[device.Type]*testutil.Recorder{testutil.RecorderType: rec})))

	require.NoError(t, c.SetMappings(timeline.Mappings{"l1": {Device: "recorder", DeviceID: "rec"}}))
	require.NoError(t, c.SetTimeline([]timeline.Object{obj("a", "l1", 0, nil), obj("b", "l1", 5000, nil)}))
	_, err := c.AddDevice(context.Background(), "rec", testutil.RecorderType, nil)
	require.NoError(t, err)

	c.Start()
	defer c.Stop()
	next, _ := c.NextResolveAt()
	assert.Equal(t, int64(5000), next)

	clk.AdvanceTo(1000)
	require.NoError(t, c.SetTimeline([]timeline.Object{obj("a", "l1", 0, nil), obj("c", "l1", 3000, nil)}))
	next, _ = c.NextResolveAt()
	assert.Equal(t, int64(3000), next)

	clk.AdvanceTo(6000)
	sent := rec.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "added: a", sent[0].Command.Context)
	assert.Equal(t, "changed: c", sent[1].Command.Context)
	assert.Equal(t, int64(3000), sent[1].Time)
}

func TestMaxPollInterval(t *testing.T) {
	clk := clock.NewVirtual(0)
	c := newTestConductor(clk, WithMaxPollInterval(250))
	require.NoError(t, c.SetTimeline([]timeline.Object{obj("a", "l1", 0, nil)}))

	c.Start()
	defer c.Stop()
	clk.AdvanceTo(600)

	pass := c.LastPass()
	require.NotNil(t, pass)
	assert.Equal(t, int64(500), pass.State.Time)
	assert.Equal(t, int64(750), pass.NextAt)
}

// panickingDevice blows up before HandleState is reached.
type panickingDevice struct{}

func (panickingDevice) ID() string                                          { return "boom" }
func (panickingDevice) Type() device.Type                                   { return "boom" }
func (panickingDevice) Init(context.Context) error                          { return nil }
func (panickingDevice) PrepareForHandleState(int64)                         { panic("prepare exploded") }
func (panickingDevice) HandleState(timeline.State, timeline.Mappings) error { return nil }
func (panickingDevice) Status() device.Status                               { return device.Good() }
func (panickingDevice) CanConnect() bool                                    { return false }
func (panickingDevice) QueueLen() int                                       { return 0 }
func (panickingDevice) Terminate(context.Context) error                     { return nil }

func TestDeviceFailureIsolated(t *testing.T) {
	clk := clock.NewVirtual(0)
	good := testutil.NewRecorder(clk)
	broken := testutil.NewRecorder(clk)
	broken.PanicOnDiff(true)
	events := &eventLog{}
	c := newTestConductor(clk,
		WithRegistry(recorderRegistry(t, map[device.Type]*testutil.Recorder{"recorder": good, "broken": broken})),
		WithListener(events.listen),
	)

	require.NoError(t, c.SetMappings(timeline.Mappings{
		"l1": {Device: "recorder", DeviceID: "good"},
		"l2": {Device: "broken", DeviceID: "bad"},
	}))
	require.NoError(t, c.SetTimeline([]timeline.Object{obj("a", "l1", 0, nil), obj("b", "l2", 0, nil)}))
	_, err := c.AddDevice(context.Background(), "bad", "broken", nil)
	require.NoError(t, err)
	_, err = c.AddDevice(context.Background(), "good", "recorder", nil)
	require.NoError(t, err)
	require.NoError(t, c.AttachDevice(panickingDevice{}))

	c.Start()
	defer c.Stop()
	clk.AdvanceTo(10)

	pass := c.LastPass()
	require.NotNil(t, pass)
	require.Len(t, pass.Errors, 2)
	assert.Equal(t, "bad", pass.Errors[0].DeviceID)
	assert.False(t, pass.Errors[0].Panicked)
	assert.Contains(t, pass.Errors[0].Error(), "panicked")
	assert.Equal(t, "boom", pass.Errors[1].DeviceID)
	assert.True(t, pass.Errors[1].Panicked)
	assert.True(t, IsDeviceError(pass.Errors[1]))

	assert.Equal(t, []any{"a"}, good.Payloads())
	_, armed := c.NextResolveAt()
	assert.True(t, armed)

	failures := events.ofKind(device.EventCommandError)
	require.Len(t, failures, 2)
	assert.Equal(t, "bad", failures[0].DeviceID)
}

func TestCommandFailureReported(t *testing.T) {
	clk := clock.NewVirtual(0)
	rec := testutil.NewRecorder(clk)
	rec.FailNextSend(errors.New("link down"))
	events := &eventLog{}
	journal := &memJournal{}
	c := newTestConductor(clk,
		WithRegistry(recorderRegistry(t, map[device.Type]*testutil.Recorder{testutil.RecorderType: rec})),
		WithListener(events.listen),
		WithJournal(journal),
	)
	require.NoError(t, c.SetMappings(timeline.Mappings{"l1": {Device: "recorder", DeviceID: "rec"}}))
	require.NoError(t, c.SetTimeline([]timeline.Object{obj("a", "l1", 0, i64(100)), obj("b", "l1", 100, nil)}))
	_, err := c.AddDevice(context.Background(), "rec", testutil.RecorderType, nil)
	require.NoError(t, err)

	c.Start()
	defer c.Stop()
	clk.AdvanceTo(200)

	failures := events.ofKind(device.EventCommandError)
	require.Len(t, failures, 1)
	assert.Equal(t, "added: a", failures[0].Message)
	assert.Equal(t, []any{"b"}, rec.Payloads(), "later commands still run")

	require.Len(t, journal.commands, 2)
	assert.Contains(t, journal.commands[0].Error, "link down")
	assert.Empty(t, journal.commands[1].Error)
}

func TestDeviceManagement(t *testing.T) {
	clk := clock.NewVirtual(0)
	ok := testutil.NewRecorder(clk)
	failing := testutil.NewRecorder(clk)
	failing.FailInit(errors.New("no route"))
	c := newTestConductor(clk, WithRegistry(recorderRegistry(t, map[device.Type]*testutil.Recorder{"recorder": ok, "failing": failing})))

	assert.Equal(t, device.StatusGood, c.Status().Code)

	_, err := c.AddDevice(context.Background(), "a", "recorder", nil)
	require.NoError(t, err)
	_, err = c.AddDevice(context.Background(), "a", "recorder", nil)
	assert.ErrorIs(t, err, ErrDuplicateDevice)
	_, err = c.AddDevice(context.Background(), "x", "vmix", nil)
	assert.ErrorIs(t, err, device.ErrUnknownType)

	_, err = c.AddDevice(context.Background(), "b", "failing", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, c.DeviceIDs())
	assert.Equal(t, device.StatusBad, c.Status().Code)
	assert.Equal(t, device.StatusGood, c.DeviceStatuses()["a"].Code)

	require.NoError(t, c.RemoveDevice(context.Background(), "b"))
	assert.ErrorIs(t, c.RemoveDevice(context.Background(), "b"), ErrUnknownDevice)
	assert.Equal(t, device.StatusGood, c.Status().Code)

	require.NoError(t, c.Close(context.Background()))
	assert.Empty(t, c.DeviceIDs())
}

func TestSetTimelineRejectsInvalid(t *testing.T) {
	c := newTestConductor(clock.NewVirtual(0))
	require.NoError(t, c.SetTimeline([]timeline.Object{obj("a", "l1", 0, nil)}))

	err := c.SetTimeline([]timeline.Object{{ID: "bad", Layer: "l1"}})
	assert.True(t, timeline.IsValidationError(err))
	assert.Equal(t, "a", c.Timeline()[0].ID)

	err = c.SetMappings(timeline.Mappings{"l1": {Device: "recorder"}})
	assert.True(t, timeline.IsValidationError(err))
	assert.Empty(t, c.Mappings())
}

func TestSetTimelineCopiesInput(t *testing.T) {
	c := newTestConductor(clock.NewVirtual(0))
	objs := []timeline.Object{obj("a", "l1", 0, nil)}
	require.NoError(t, c.SetTimeline(objs))
	objs[0].ID = "mutated"
	assert.Equal(t, "a", c.Timeline()[0].ID)
}

func TestRunStopsWithContext(t *testing.T) {
	c := newTestConductor(clock.NewVirtual(0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Run(ctx))
	_, armed := c.NextResolveAt()
	assert.False(t, armed)
}

func TestListenerMayEditConductor(t *testing.T) {
	clk := clock.NewVirtual(0)
	good := testutil.NewRecorder(clk)
	broken := testutil.NewRecorder(clk)
	broken.PanicOnDiff(true)
	events := &eventLog{}

	var (
		c      *Conductor
		edited atomic.Bool
	)
	replacement := []timeline.Object{obj("c", "l1", 0, nil), obj("b", "l2", 0, nil)}
	c = newTestConductor(clk,
		WithRegistry(recorderRegistry(t, map[device.Type]*testutil.Recorder{"recorder": good, "broken": broken})),
		WithListener(func(e device.Event) {
			events.listen(e)
			if e.Kind == device.EventCommandError && edited.CompareAndSwap(false, true) {
				assert.NoError(t, c.SetTimeline(replacement))
			}
		}),
	)

	require.NoError(t, c.SetMappings(timeline.Mappings{
		"l1": {Device: "recorder", DeviceID: "good"},
		"l2": {Device: "broken", DeviceID: "bad"},
	}))
	require.NoError(t, c.SetTimeline([]timeline.Object{obj("a", "l1", 0, nil), obj("b", "l2", 0, nil)}))
	_, err := c.AddDevice(context.Background(), "good", "recorder", nil)
	require.NoError(t, err)
	_, err = c.AddDevice(context.Background(), "bad", "broken", nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		c.Start()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return; listener edit blocked")
	}
	defer c.Stop()

	clk.AdvanceTo(10)
	assert.Equal(t, "c", c.Timeline()[0].ID)
	assert.Equal(t, []any{"c"}, good.Payloads())
	assert.Len(t, events.ofKind(device.EventCommandError), 2)
}

func TestStaleTimerPassDropped(t *testing.T) {
	clk := clock.NewVirtual(1400)
	rec := testutil.NewRecorder(clk)
	c := newTestConductor(clk, WithRegistry(recorderRegistry(t, map[device.Type]*testutil.Recorder{testutil.RecorderType: rec})))

	require.NoError(t, c.SetMappings(timeline.Mappings{"l1": {Device: "recorder", DeviceID: "rec"}}))
	require.NoError(t, c.SetTimeline([]timeline.Object{obj("a", "l1", 0, i64(1500)), obj("b", "l1", 1500, nil)}))
	_, err := c.AddDevice(context.Background(), "rec", testutil.RecorderType, nil)
	require.NoError(t, err)

	c.Start()
	defer c.Stop()

	// Take over the armed 1500 pass so it can be fired by hand.
	c.mu.Lock()
	gen, at := c.timerGen, c.nextAt
	c.timer.Stop()
	c.mu.Unlock()
	require.Equal(t, int64(1500), at)

	clk.AdvanceTo(1501)
	require.Equal(t, []any{"a"}, rec.Payloads())

	// The timer goroutine waits on passMu while an edit runs a pass at 1501.
	c.passMu.Lock()
	done := make(chan struct{})
	go func() {
		c.fire(gen, at)
		close(done)
	}()
	c.mu.Lock()
	c.disarmLocked()
	c.mu.Unlock()
	_, err = c.resolveLocked(clk.Now())
	c.passMu.Unlock()
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timer pass did not return")
	}

	clk.AdvanceTo(1501)
	assert.Equal(t, []any{"a", "b"}, rec.Payloads())
	pass := c.LastPass()
	require.NotNil(t, pass)
	assert.Equal(t, int64(1501), pass.State.Time)
}

func TestSetShowRunsOnePass(t *testing.T) {
	clk := clock.NewVirtual(0)
	rec := testutil.NewRecorder(clk)
	journal := &memJournal{}
	c := newTestConductor(clk,
		WithRegistry(recorderRegistry(t, map[device.Type]*testutil.Recorder{testutil.RecorderType: rec})),
		WithJournal(journal),
	)
	_, err := c.AddDevice(context.Background(), "rec", testutil.RecorderType, nil)
	require.NoError(t, err)

	c.Start()
	defer c.Stop()
	require.Len(t, journal.resolutions, 1)

	mappings := timeline.Mappings{"l1": {Device: "recorder", DeviceID: "rec"}}
	require.NoError(t, c.SetShow(mappings, []timeline.Object{obj("a", "l1", 0, nil)}))
	require.Len(t, journal.resolutions, 2)
	assert.Contains(t, journal.resolutions[1].Layers, "l1")

	clk.AdvanceTo(10)
	assert.Equal(t, []any{"a"}, rec.Payloads())

	err = c.SetShow(timeline.Mappings{"l2": {Device: "recorder"}}, []timeline.Object{obj("b", "l2", 0, nil)})
	require.Error(t, err)
	assert.Len(t, journal.resolutions, 2)
	assert.Equal(t, mappings, c.Mappings())
	assert.Equal(t, "a", c.Timeline()[0].ID)
}
