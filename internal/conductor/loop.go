package conductor

import (
	"context"
	"fmt"
	"time"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/device"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/resolver"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// Pass is the outcome of one resolution pass.
type Pass struct {
	ResolutionID string
	State        timeline.State

	// Fixed lists the "now" fixes made by this pass.
	Fixed []timeline.FixedObject

	// Converged is false when "now" objects were left unfixed; they are
	// retried on the next pass.
	Converged bool

	// NextAt is when the following pass is due.
	NextAt int64

	// Errors holds one entry per device that failed to take the state.
	Errors []*DeviceError
}

// Start runs a pass at the current time and keeps passes armed until
// Stop. Starting twice is a no-op.
func (c *Conductor) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info("conductor starting", "max_poll_ms", c.maxPoll, "lookahead_limit", c.bound.Limit, "lookahead_ms", c.bound.Horizon)
	c.kick()
}

// Stop disarms the pass timer. Queued device commands still fire.
func (c *Conductor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.disarmLocked()
	c.logger.Info("conductor stopped")
}

// Run starts the conductor and blocks until ctx is done.
func (c *Conductor) Run(ctx context.Context) error {
	c.Start()
	<-ctx.Done()
	c.Stop()
	return nil
}

// kick runs a pass now if the conductor is running.
func (c *Conductor) kick() {
	c.mu.Lock()
	running := c.running
	if running {
		c.disarmLocked()
	}
	c.mu.Unlock()
	if !running {
		return
	}
	if _, err := c.ResolveAndApply(c.clock.Now()); err != nil {
		c.logger.Error("resolution failed", "error", err)
	}
}

// ResolveAndApply runs one pass at time at and, while running, arms the
// next one. The returned error is a resolution failure; device failures
// are reported in Pass.Errors and through the event listener.
func (c *Conductor) ResolveAndApply(at int64) (*Pass, error) {
	c.passMu.Lock()
	pass, err := c.resolveLocked(at)
	c.passMu.Unlock()

	c.afterPass(pass)
	return pass, err
}

// afterPass reports a finished pass to the callbacks. It runs with no
// locks held so callbacks may edit the conductor.
func (c *Conductor) afterPass(pass *Pass) {
	if pass == nil {
		return
	}
	if len(pass.Fixed) > 0 && c.onFixedNow != nil {
		c.onFixedNow(pass.Fixed)
	}
	for _, derr := range pass.Errors {
		c.forward(device.Event{
			Kind:     device.EventCommandError,
			DeviceID: derr.DeviceID,
			Time:     pass.State.Time,
			Message:  "handle state",
			Err:      derr,
		})
	}
}

// resolveLocked runs a pass. c.passMu must be held.
func (c *Conductor) resolveLocked(at int64) (*Pass, error) {
	started := time.Now()

	c.mu.Lock()
	objects := c.objects
	version := c.version
	mappings := c.mappings
	ids := c.deviceIDsLocked()
	devs := make([]device.Device, len(ids))
	for i, id := range ids {
		devs[i] = c.devices[id]
	}
	c.mu.Unlock()

	fix, err := c.fixer.Fix(objects, at)
	if err != nil {
		c.armAfterFailure(at)
		return nil, fmt.Errorf("fix now at %d: %w", at, err)
	}
	if len(fix.Fixed) > 0 {
		c.mu.Lock()
		if c.version == version {
			c.objects = fix.Objects
		}
		c.mu.Unlock()
		c.logger.Debug("now fixed", "at", at, "objects", len(fix.Fixed))
	}
	if !fix.Converged {
		c.logger.Warn("now objects left unfixed", "at", at, "pending", fix.Pending, "passes", fix.Passes)
	}

	resolved, err := c.resolver.Resolve(fix.Objects, at, c.bound)
	if err != nil {
		c.armAfterFailure(at)
		return nil, fmt.Errorf("resolve at %d: %w", at, err)
	}

	state := resolver.StateAt(resolved, mappings)
	state.ResolutionID = c.ids.Generate()

	pass := &Pass{
		ResolutionID: state.ResolutionID,
		State:        state,
		Fixed:        fix.Fixed,
		Converged:    fix.Converged,
		NextAt:       c.nextResolveTime(at, state.NextEvents),
	}

	for _, d := range devs {
		if derr := c.applyTo(d, state, mappings); derr != nil {
			pass.Errors = append(pass.Errors, derr)
			c.metrics.DeviceError(d.ID())
			c.logger.Error("device failed to take state",
				"device", d.ID(),
				"resolution", state.ResolutionID,
				"error", derr.Err,
				"panicked", derr.Panicked,
			)
		}
		c.metrics.SetQueueDepth(d.ID(), d.QueueLen())
	}

	c.mu.Lock()
	c.last = pass
	if c.running {
		c.armLocked(pass.NextAt)
	}
	c.mu.Unlock()

	c.metrics.ObserveResolution(time.Since(started), len(fix.Fixed), fix.Converged)
	c.record(at, pass)
	c.logger.Debug("resolved",
		"at", at,
		"resolution", state.ResolutionID,
		"layers", len(state.Layers),
		"next", pass.NextAt,
	)
	return pass, nil
}

// nextResolveTime is the first event after at, capped by the poll
// interval.
func (c *Conductor) nextResolveTime(at int64, events []int64) int64 {
	next := at + c.maxPoll
	for _, ev := range events {
		if ev > at {
			if ev < next {
				next = ev
			}
			break
		}
	}
	return next
}

func (c *Conductor) applyTo(d device.Device, state timeline.State, mappings timeline.Mappings) (derr *DeviceError) {
	defer func() {
		if r := recover(); r != nil {
			derr = &DeviceError{
				DeviceID:     d.ID(),
				ResolutionID: state.ResolutionID,
				Time:         state.Time,
				Panicked:     true,
				Err:          fmt.Errorf("%v", r),
			}
		}
	}()
	d.PrepareForHandleState(state.Time)
	if err := d.HandleState(state, mappings); err != nil {
		return &DeviceError{DeviceID: d.ID(), ResolutionID: state.ResolutionID, Time: state.Time, Err: err}
	}
	return nil
}

func (c *Conductor) armAfterFailure(at int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.armLocked(at + c.maxPoll)
	}
}

// armLocked replaces the pass timer. A timer that fires after being
// replaced sees a stale generation and does nothing.
func (c *Conductor) armLocked(at int64) {
	c.disarmLocked()
	gen := c.timerGen
	c.nextAt = at
	c.timer = c.clock.AfterFunc(at-c.clock.Now(), func() { c.fire(gen, at) })
}

func (c *Conductor) disarmLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

// fire runs the pass armed as generation gen. The generation is checked
// once passMu is held: a kick that got there first has resolved a later
// time and re-armed, so the older pass is dropped.
func (c *Conductor) fire(gen uint64, at int64) {
	c.passMu.Lock()
	c.mu.Lock()
	if !c.running || gen != c.timerGen {
		c.mu.Unlock()
		c.passMu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	pass, err := c.resolveLocked(at)
	c.passMu.Unlock()

	c.afterPass(pass)
	if err != nil {
		c.logger.Error("resolution failed", "error", err)
	}
}
