package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/clock"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/device"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/metrics"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/resolver"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// DefaultMaxPollInterval caps the time between two passes, in ms.
const DefaultMaxPollInterval int64 = 10_000

// Conductor is the reconciliation scheduler.
//
// Thread-safety: every method is safe for concurrent use. Passes are
// serialized; callbacks (OnFixedNow, the event listener) run without
// internal locks held, so they may call back into the conductor.
type Conductor struct {
	clock      clock.Clock
	registry   *device.Registry
	resolver   resolver.Resolver
	fixer      *resolver.NowFixer
	bound      resolver.Bound
	maxPoll    int64
	nowPasses  int
	retention  int64
	logger     *slog.Logger
	metrics    *metrics.Collector
	journal    Journal
	ids        IDGenerator
	onFixedNow func([]timeline.FixedObject)
	listener   device.Listener
	handleOpts []device.HandleOption
	initRunner func(func())

	// passMu serializes resolution passes.
	passMu sync.Mutex

	mu       sync.Mutex
	objects  []timeline.Object
	version  uint64
	mappings timeline.Mappings
	devices  map[string]device.Device
	running  bool
	timer    clock.Timer
	timerGen uint64
	nextAt   int64
	last     *Pass
}

// Option configures a Conductor.
type Option func(*Conductor)

// WithRegistry sets the device type registry used by AddDevice.
func WithRegistry(r *device.Registry) Option {
	return func(c *Conductor) { c.registry = r }
}

// WithResolver replaces the built-in interval resolver.
func WithResolver(r resolver.Resolver) Option {
	return func(c *Conductor) { c.resolver = r }
}

// WithBound sets the lookahead bound.
//
// Default: resolver.DefaultBound (100 events, 24h).
func WithBound(b resolver.Bound) Option {
	return func(c *Conductor) { c.bound = b }
}

// WithMaxPollInterval caps the time between passes, in ms.
//
// Default: 10000 (DefaultMaxPollInterval).
func WithMaxPollInterval(ms int64) Option {
	return func(c *Conductor) {
		if ms > 0 {
			c.maxPoll = ms
		}
	}
}

// WithMaxNowPasses sets the "now" refinement pass budget.
//
// Default: resolver.DefaultMaxNowPasses (10).
func WithMaxNowPasses(n int) Option {
	return func(c *Conductor) { c.nowPasses = n }
}

// WithRetention sets how long each device keeps applied states, in ms.
func WithRetention(ms int64) Option {
	return func(c *Conductor) { c.retention = ms }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Conductor) { c.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Conductor) { c.metrics = m }
}

// WithJournal sets the operator journal.
func WithJournal(j Journal) Option {
	return func(c *Conductor) { c.journal = j }
}

// WithIDGenerator sets the resolution id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Conductor) { c.ids = g }
}

// OnFixedNow registers a callback receiving every "now" fix. The timeline
// owner persists these so a restart keeps the same absolute starts.
func OnFixedNow(fn func([]timeline.FixedObject)) Option {
	return func(c *Conductor) { c.onFixedNow = fn }
}

// WithListener receives every device event.
func WithListener(l device.Listener) Option {
	return func(c *Conductor) { c.listener = l }
}

// WithHandleOptions are appended to the options of every device created
// by AddDevice.
func WithHandleOptions(opts ...device.HandleOption) Option {
	return func(c *Conductor) { c.handleOpts = append(c.handleOpts, opts...) }
}

// WithInitRunner sets how AddDevice runs device initialization. The
// default starts a goroutine; tests pass a function that runs inline.
func WithInitRunner(run func(func())) Option {
	return func(c *Conductor) { c.initRunner = run }
}

// New returns a stopped conductor driven by clk.
func New(clk clock.Clock, opts ...Option) *Conductor {
	c := &Conductor{
		clock:      clk,
		registry:   device.NewRegistry(),
		resolver:   resolver.NewInterval(),
		bound:      resolver.DefaultBound,
		maxPoll:    DefaultMaxPollInterval,
		nowPasses:  resolver.DefaultMaxNowPasses,
		retention:  device.DefaultRetention,
		logger:     slog.Default(),
		ids:        UUIDv7Generator{},
		initRunner: func(f func()) { go f() },
		mappings:   timeline.Mappings{},
		devices:    map[string]device.Device{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.fixer = resolver.NewNowFixer(c.resolver,
		resolver.WithMaxPasses(c.nowPasses),
		resolver.WithFixerBound(c.bound),
	)
	return c
}

// AddDevice creates a device of type typ from the registry, attaches it
// and initializes it through the init runner. Initialization never blocks
// the caller with the default runner; its outcome arrives as a
// connectionChanged event.
func (c *Conductor) AddDevice(ctx context.Context, id string, typ device.Type, settings map[string]any, opts ...device.HandleOption) (*device.Handle, error) {
	integ, err := c.registry.New(typ)
	if err != nil {
		return nil, fmt.Errorf("add device %s: %w", id, err)
	}

	all := []device.HandleOption{
		device.WithLogger(c.logger),
		device.WithRetention(c.retention),
		device.WithListener(c.onDeviceEvent),
		device.WithSettings(settings),
	}
	all = append(all, c.handleOpts...)
	all = append(all, opts...)
	h := device.NewHandle(id, typ, integ, c.clock, all...)

	if err := c.attach(h); err != nil {
		return nil, err
	}
	c.initRunner(func() {
		if err := h.Init(ctx); err != nil {
			c.logger.Warn("device init failed", "device", id, "error", err)
		}
	})
	c.kick()
	return h, nil
}

// AttachDevice adds a device that is built and initialized by the caller.
// Its events are not routed through the conductor.
func (c *Conductor) AttachDevice(d device.Device) error {
	if err := c.attach(d); err != nil {
		return err
	}
	c.kick()
	return nil
}

func (c *Conductor) attach(d device.Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.devices[d.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, d.ID())
	}
	c.devices[d.ID()] = d
	c.logger.Info("device added", "device", d.ID(), "type", d.Type())
	return nil
}

// RemoveDevice detaches and terminates a device. Its queued commands and
// state history are dropped with it.
func (c *Conductor) RemoveDevice(ctx context.Context, id string) error {
	c.mu.Lock()
	d, ok := c.devices[id]
	delete(c.devices, id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	c.metrics.ForgetDevice(id)
	c.logger.Info("device removed", "device", id)
	return d.Terminate(ctx)
}

// Device returns the device with the given id.
func (c *Conductor) Device(id string) (device.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[id]
	return d, ok
}

// DeviceIDs returns the attached device ids, sorted.
func (c *Conductor) DeviceIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceIDsLocked()
}

func (c *Conductor) deviceIDsLocked() []string {
	ids := make([]string, 0, len(c.devices))
	for id := range c.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetTimeline validates and replaces the timeline. While running, the
// pending pass is disarmed and a pass runs at the current time.
func (c *Conductor) SetTimeline(objects []timeline.Object) error {
	if err := timeline.Validate(objects); err != nil {
		return err
	}
	c.mu.Lock()
	c.objects = timeline.CloneAll(objects)
	c.version++
	c.mu.Unlock()
	c.kick()
	return nil
}

// SetMappings validates and replaces the mappings, like SetTimeline.
func (c *Conductor) SetMappings(mappings timeline.Mappings) error {
	if err := timeline.ValidateMappings(mappings); err != nil {
		return err
	}
	c.mu.Lock()
	c.mappings = mappings.Clone()
	c.mu.Unlock()
	c.kick()
	return nil
}

// SetShow validates and replaces the mappings and the timeline together,
// then runs a single pass.
func (c *Conductor) SetShow(mappings timeline.Mappings, objects []timeline.Object) error {
	if err := timeline.ValidateMappings(mappings); err != nil {
		return err
	}
	if err := timeline.Validate(objects); err != nil {
		return err
	}
	c.mu.Lock()
	c.mappings = mappings.Clone()
	c.objects = timeline.CloneAll(objects)
	c.version++
	c.mu.Unlock()
	c.kick()
	return nil
}

// Timeline returns a copy of the current timeline, "now" fixes included.
func (c *Conductor) Timeline() []timeline.Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	return timeline.CloneAll(c.objects)
}

// Mappings returns a copy of the current mappings.
func (c *Conductor) Mappings() timeline.Mappings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mappings.Clone()
}

// Status aggregates the device statuses; the worst one wins. With no
// devices the conductor is good.
func (c *Conductor) Status() device.Status {
	statuses := c.DeviceStatuses()
	all := make([]device.Status, 0, len(statuses))
	for _, s := range statuses {
		all = append(all, s)
	}
	return device.Worst(all...)
}

// DeviceStatuses returns the status of every device.
func (c *Conductor) DeviceStatuses() map[string]device.Status {
	c.mu.Lock()
	devs := make([]device.Device, 0, len(c.devices))
	for _, d := range c.devices {
		devs = append(devs, d)
	}
	c.mu.Unlock()

	out := make(map[string]device.Status, len(devs))
	for _, d := range devs {
		out[d.ID()] = d.Status()
	}
	return out
}

// LastPass returns the most recent pass, or nil before the first one.
func (c *Conductor) LastPass() *Pass {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// NextResolveAt returns when the armed pass runs.
func (c *Conductor) NextResolveAt() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextAt, c.timer != nil
}

// Close stops the conductor and terminates every device.
func (c *Conductor) Close(ctx context.Context) error {
	c.Stop()

	c.mu.Lock()
	ids := c.deviceIDsLocked()
	c.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := c.RemoveDevice(ctx, id); err != nil && !errors.Is(err, ErrUnknownDevice) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
