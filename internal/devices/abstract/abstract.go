// Package abstract is a device without I/O. It tracks which object is
// active per mapped layer and reports start/stop actions as debug events,
// which makes it useful for logic layers and dry runs.
package abstract

import (
	"context"
	"fmt"
	"sync"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/device"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// Type is the device type tag.
const Type device.Type = "abstract"

// State maps layer to active object id.
type State map[string]string

// Action is the command payload.
type Action struct {
	Kind     string `json:"kind"`
	Layer    string `json:"layer"`
	ObjectID string `json:"objectId"`
}

// Device implements device.Integration.
type Device struct {
	mu          sync.Mutex
	initialized bool
	emit        func(device.Event)
}

// New returns an uninitialized device.
func New() device.Integration {
	return &Device{emit: func(device.Event) {}}
}

// Register adds the type to r.
func Register(r *device.Registry) error {
	return r.Register(Type, New)
}

// Init records the event sink. The device has no connection to open.
func (d *Device) Init(_ context.Context, opts device.Options) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if opts.Emit != nil {
		d.emit = opts.Emit
	}
	d.initialized = true
	return nil
}

// ConvertState maps each of the device's layers to its active object id.
func (d *Device) ConvertState(state timeline.State, mappings timeline.Mappings) device.State {
	out := State{}
	for layer := range mappings {
		if rl, ok := state.Layers[layer]; ok {
			out[layer] = rl.Object.ID
		}
	}
	return out
}

// DiffStates emits a stop for every object that left a layer and a start
// for every object that entered one, in layer order.
func (d *Device) DiffStates(old, new device.State, mappings timeline.Mappings, _ int64) []device.Command {
	o, _ := old.(State)
	n, _ := new.(State)

	var cmds []device.Command
	for _, layer := range mappings.Layers() {
		prev, had := o[layer]
		next, has := n[layer]
		if had && (!has || prev != next) {
			cmds = append(cmds, device.Command{
				Payload:          Action{Kind: "stop", Layer: layer, ObjectID: prev},
				Context:          "removed: " + prev,
				TimelineObjectID: prev,
			})
		}
		if has && (!had || prev != next) {
			cmds = append(cmds, device.Command{
				Payload:          Action{Kind: "start", Layer: layer, ObjectID: next},
				Context:          "added: " + next,
				TimelineObjectID: next,
			})
		}
	}
	return cmds
}

// SendCommand reports the action as a debug event.
func (d *Device) SendCommand(_ context.Context, cmd device.Command) error {
	action, ok := cmd.Payload.(Action)
	if !ok {
		return fmt.Errorf("abstract: unexpected payload %T", cmd.Payload)
	}
	d.mu.Lock()
	emit := d.emit
	d.mu.Unlock()
	emit(device.Event{Kind: device.EventDebug, Message: fmt.Sprintf("%s %s on %s", action.Kind, action.ObjectID, action.Layer)})
	return nil
}

// Status is Unknown until Init, then Good.
func (d *Device) Status() device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return device.Status{Code: device.StatusUnknown}
	}
	return device.Good()
}

// CanConnect is false; there is nothing to connect to.
func (d *Device) CanConnect() bool { return false }

// Terminate is a no-op.
func (d *Device) Terminate(context.Context) error { return nil }
