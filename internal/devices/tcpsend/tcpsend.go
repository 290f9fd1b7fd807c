// Package tcpsend is a fire-and-forget socket device. Each mapped layer
// sends its active object's "message" when the object becomes active and
// its "stopMessage", if any, when it goes away.
//
// Settings: host ("host:port", required) and timeout_ms.
package tcpsend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/device"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// Type is the device type tag.
const Type device.Type = "tcpsend"

// Message is the per-layer device state.
type Message struct {
	ObjectID    string
	Message     string
	StopMessage string
}

// State is keyed by layer.
type State map[string]Message

// Send is the command payload.
type Send struct {
	Layer   string `json:"layer"`
	Message string `json:"message"`
}

// Device implements device.Integration.
type Device struct {
	mu          sync.Mutex
	sender      *Sender
	initialized bool
	logger      *slog.Logger
}

// New returns an uninitialized device.
func New() device.Integration {
	return &Device{logger: slog.Default()}
}

// Register adds the type to r.
func Register(r *device.Registry) error {
	return r.Register(Type, New)
}

// Init reads the host setting.
func (d *Device) Init(_ context.Context, opts device.Options) error {
	host, ok := opts.SettingString("host")
	if !ok || host == "" {
		return fmt.Errorf("tcpsend %s: missing host setting", opts.ID)
	}
	timeout := DefaultTimeout
	if ms, ok := opts.SettingInt("timeout_ms"); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sender = NewSender(host, timeout)
	d.initialized = true
	d.logger = slog.Default().With("device", opts.ID)
	return nil
}

// ConvertState keeps the mapped layers whose object carries a message.
func (d *Device) ConvertState(state timeline.State, mappings timeline.Mappings) device.State {
	out := State{}
	for _, layer := range mappings.Layers() {
		rl, ok := state.Layers[layer]
		if !ok {
			continue
		}
		msg, _ := rl.Object.Content["message"].(string)
		stop, _ := rl.Object.Content["stopMessage"].(string)
		if msg == "" && stop == "" {
			continue
		}
		out[layer] = Message{ObjectID: rl.Object.ID, Message: msg, StopMessage: stop}
	}
	return out
}

// DiffStates sends on activation or change, and the stop message on removal.
func (d *Device) DiffStates(old, new device.State, mappings timeline.Mappings, _ int64) []device.Command {
	o, _ := old.(State)
	n, _ := new.(State)

	var cmds []device.Command
	for _, layer := range mappings.Layers() {
		prev, had := o[layer]
		next, has := n[layer]
		switch {
		case has && (!had || prev != next):
			if next.Message == "" {
				continue
			}
			ctx := "added: " + next.ObjectID
			if had {
				ctx = "changed: " + next.ObjectID
			}
			cmds = append(cmds, device.Command{
				Payload:          Send{Layer: layer, Message: next.Message},
				Context:          ctx,
				TimelineObjectID: next.ObjectID,
			})
		case had && !has && prev.StopMessage != "":
			cmds = append(cmds, device.Command{
				Payload:          Send{Layer: layer, Message: prev.StopMessage},
				Context:          "removed: " + prev.ObjectID,
				TimelineObjectID: prev.ObjectID,
			})
		}
	}
	return cmds
}

// SendCommand writes the message.
func (d *Device) SendCommand(ctx context.Context, cmd device.Command) error {
	payload, ok := cmd.Payload.(Send)
	if !ok {
		return fmt.Errorf("tcpsend: unexpected payload %T", cmd.Payload)
	}
	d.mu.Lock()
	sender := d.sender
	d.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("tcpsend: not initialized")
	}
	return sender.Send(ctx, []byte(payload.Message))
}

// Status is good once initialized.
func (d *Device) Status() device.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return device.Status{Code: device.StatusUnknown, Messages: []string{"not initialized"}}
	}
	return device.Good()
}

// CanConnect is false: there is no persistent connection to monitor.
func (d *Device) CanConnect() bool { return false }

// Terminate drops the sender.
func (d *Device) Terminate(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sender = nil
	return nil
}
