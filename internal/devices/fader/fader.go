// Package fader drives an audio desk with addressable channel faders.
//
// Each mapping addresses one channel ("channel" option, the layer id when
// absent) and may set the level restored when nothing is active on it
// ("default" option, DefaultLevel when absent). An active object sets the
// level through its "value" content field.
//
// With a "host" setting, levels are sent as text lines "SET <channel>
// <value>" over TCP. Without one the device only logs.
package fader

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/device"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/devices/tcpsend"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/doontime"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// Type is the device type tag.
const Type device.Type = "fader"

// DefaultLevel is the level of a channel with no active object.
const DefaultLevel int64 = -191

// Level is the state of one channel.
type Level struct {
	Value    int64
	ObjectID string
}

// State is keyed by channel.
type State map[string]Level

// SetLevel is the command payload.
type SetLevel struct {
	Channel string `json:"channel"`
	Value   int64  `json:"value"`
}

// Transport delivers level changes to the desk.
type Transport interface {
	Send(ctx context.Context, cmd SetLevel) error
}

type lineTransport struct {
	sender *tcpsend.Sender
}

func (t lineTransport) Send(ctx context.Context, cmd SetLevel) error {
	return t.sender.Send(ctx, []byte(fmt.Sprintf("SET %s %d\n", cmd.Channel, cmd.Value)))
}

// Device implements device.Integration.
type Device struct {
	mu        sync.Mutex
	transport Transport
	status    device.Status
	emit      func(device.Event)
	logger    *slog.Logger
}

// New returns an uninitialized device.
func New() device.Integration {
	return &Device{
		status: device.Status{Code: device.StatusUnknown, Messages: []string{"not initialized"}},
		emit:   func(device.Event) {},
		logger: slog.Default(),
	}
}

// NewWithTransport returns a device that sends through t instead of the
// host setting.
func NewWithTransport(t Transport) *Device {
	d := New().(*Device)
	d.transport = t
	return d
}

// Register adds the type to r.
func Register(r *device.Registry) error {
	return r.Register(Type, New)
}

// QueueMode serializes writes; desks apply level changes in arrival order.
func (d *Device) QueueMode() doontime.Mode {
	return doontime.InOrder
}

// Init sets up the transport from the host setting.
func (d *Device) Init(_ context.Context, opts device.Options) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if opts.Emit != nil {
		d.emit = opts.Emit
	}
	d.logger = slog.Default().With("device", opts.ID)
	if host, ok := opts.SettingString("host"); ok && host != "" && d.transport == nil {
		timeout := tcpsend.DefaultTimeout
		if ms, ok := opts.SettingInt("timeout_ms"); ok && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
		d.transport = lineTransport{sender: tcpsend.NewSender(host, timeout)}
	}
	d.status = device.Good()
	return nil
}

// ConvertState reads the level of every mapped channel with an active
// object carrying a value.
func (d *Device) ConvertState(state timeline.State, mappings timeline.Mappings) device.State {
	out := State{}
	for _, layer := range mappings.Layers() {
		rl, ok := state.Layers[layer]
		if !ok {
			continue
		}
		value, ok := timeline.ToInt(rl.Object.Content["value"])
		if !ok {
			continue
		}
		out[channelOf(layer, mappings[layer])] = Level{Value: value, ObjectID: rl.Object.ID}
	}
	return out
}

// DiffStates emits one SetLevel per channel whose level changes. A channel
// that loses its object returns to the mapped default.
func (d *Device) DiffStates(old, new device.State, mappings timeline.Mappings, _ int64) []device.Command {
	o, _ := old.(State)
	n, _ := new.(State)

	defaults := map[string]int64{}
	for _, layer := range mappings.Layers() {
		m := mappings[layer]
		def, ok := m.IntOption("default")
		if !ok {
			def = DefaultLevel
		}
		defaults[channelOf(layer, m)] = def
	}

	channels := make([]string, 0, len(o)+len(n))
	seen := map[string]bool{}
	for _, st := range []State{o, n} {
		for ch := range st {
			if !seen[ch] {
				seen[ch] = true
				channels = append(channels, ch)
			}
		}
	}
	sort.Strings(channels)

	var cmds []device.Command
	for _, ch := range channels {
		prev, had := o[ch]
		next, has := n[ch]
		switch {
		case has && (!had || prev.Value != next.Value):
			ctx := "added: " + next.ObjectID
			if had {
				ctx = "changed: " + next.ObjectID
			}
			cmds = append(cmds, device.Command{
				Payload:          SetLevel{Channel: ch, Value: next.Value},
				Context:          ctx,
				TimelineObjectID: next.ObjectID,
			})
		case had && !has:
			def, ok := defaults[ch]
			if !ok {
				def = DefaultLevel
			}
			if prev.Value == def {
				continue
			}
			cmds = append(cmds, device.Command{
				Payload:          SetLevel{Channel: ch, Value: def},
				Context:          "removed: " + prev.ObjectID,
				TimelineObjectID: prev.ObjectID,
			})
		}
	}
	return cmds
}

// SendCommand writes one level change.
func (d *Device) SendCommand(ctx context.Context, cmd device.Command) error {
	payload, ok := cmd.Payload.(SetLevel)
	if !ok {
		return fmt.Errorf("fader: unexpected payload %T", cmd.Payload)
	}

	d.mu.Lock()
	transport := d.transport
	emit := d.emit
	logger := d.logger
	d.mu.Unlock()

	if transport == nil {
		logger.Debug("fader level", "channel", payload.Channel, "value", payload.Value, "context", cmd.Context)
		emit(device.Event{Kind: device.EventDebug, Message: fmt.Sprintf("SET %s %d", payload.Channel, payload.Value)})
		return nil
	}

	err := transport.Send(ctx, payload)
	next := device.Good()
	if err != nil {
		next = device.Status{Code: device.StatusBad, Messages: []string{err.Error()}}
	}
	d.setStatus(next)
	return err
}

func (d *Device) setStatus(s device.Status) {
	d.mu.Lock()
	changed := d.status.Code != s.Code
	d.status = s
	emit := d.emit
	d.mu.Unlock()
	if changed {
		emit(device.Event{Kind: device.EventConnectionChanged, Status: s})
	}
}

// Status reports the outcome of the last send.
func (d *Device) Status() device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// CanConnect is true when a transport is configured.
func (d *Device) CanConnect() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transport != nil
}

// Terminate drops the transport.
func (d *Device) Terminate(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transport = nil
	d.status = device.Status{Code: device.StatusUnknown, Messages: []string{"terminated"}}
	return nil
}

func channelOf(layer string, m timeline.Mapping) string {
	if ch, ok := m.StringOption("channel"); ok && ch != "" {
		return ch
	}
	return layer
}
