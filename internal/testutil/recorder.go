package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/clock"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/device"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// RecorderType is the device type tag of Recorder.
const RecorderType device.Type = "recorder"

// RecorderState maps layer to the active object id.
type RecorderState map[string]string

// Sent is one command received by a Recorder.
type Sent struct {
	Time    int64
	Command device.Command
}

// Recorder is a device integration that records every command it is
// asked to send. Each layer change yields one command whose payload is
// the new object id, or "" when the layer is cleared.
type Recorder struct {
	clock clock.Clock

	mu          sync.Mutex
	sent        []Sent
	failNext    error
	panicOnDiff bool
	initErr     error
	initialized bool
	terminated  bool
}

// NewRecorder returns a recorder stamping sends with clk.
func NewRecorder(clk clock.Clock) *Recorder {
	return &Recorder{clock: clk}
}

// Factory returns a registry factory handing out r.
func (r *Recorder) Factory() device.Factory {
	return func() device.Integration { return r }
}

// FailNextSend makes the next SendCommand return err.
func (r *Recorder) FailNextSend(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = err
}

// PanicOnDiff makes DiffStates panic.
func (r *Recorder) PanicOnDiff(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panicOnDiff = on
}

// FailInit makes Init return err.
func (r *Recorder) FailInit(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initErr = err
}

// Sent returns the recorded commands in send order.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Payloads returns the recorded payloads in send order.
func (r *Recorder) Payloads() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.sent))
	for i, s := range r.sent {
		out[i] = s.Command.Payload
	}
	return out
}

func (r *Recorder) Init(context.Context, device.Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initErr != nil {
		return r.initErr
	}
	r.initialized = true
	return nil
}

func (r *Recorder) ConvertState(state timeline.State, mappings timeline.Mappings) device.State {
	out := RecorderState{}
	for layer := range mappings {
		if rl, ok := state.Layers[layer]; ok {
			out[layer] = rl.Object.ID
		}
	}
	return out
}

func (r *Recorder) DiffStates(old, new device.State, _ timeline.Mappings, _ int64) []device.Command {
	r.mu.Lock()
	panicking := r.panicOnDiff
	r.mu.Unlock()
	if panicking {
		panic("recorder: diff exploded")
	}

	o, _ := old.(RecorderState)
	n, _ := new.(RecorderState)
	layers := map[string]bool{}
	for l := range o {
		layers[l] = true
	}
	for l := range n {
		layers[l] = true
	}
	sorted := make([]string, 0, len(layers))
	for l := range layers {
		sorted = append(sorted, l)
	}
	sort.Strings(sorted)

	var cmds []device.Command
	for _, l := range sorted {
		prev, had := o[l]
		next, has := n[l]
		switch {
		case has && !had:
			cmds = append(cmds, device.Command{Payload: next, Context: "added: " + next, TimelineObjectID: next})
		case has && prev != next:
			cmds = append(cmds, device.Command{Payload: next, Context: "changed: " + next, TimelineObjectID: next})
		case had && !has:
			cmds = append(cmds, device.Command{Payload: "", Context: "removed: " + prev, TimelineObjectID: prev})
		}
	}
	return cmds
}

func (r *Recorder) SendCommand(_ context.Context, cmd device.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return device.ErrTerminated
	}
	if err := r.failNext; err != nil {
		r.failNext = nil
		return err
	}
	r.sent = append(r.sent, Sent{Time: r.clock.Now(), Command: cmd})
	return nil
}

func (r *Recorder) Status() device.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.terminated:
		return device.Status{Code: device.StatusBad, Messages: []string{"terminated"}}
	case r.initErr != nil:
		return device.Status{Code: device.StatusBad, Messages: []string{r.initErr.Error()}}
	case !r.initialized:
		return device.Status{Code: device.StatusUnknown}
	}
	return device.Good()
}

func (r *Recorder) CanConnect() bool { return false }

func (r *Recorder) Terminate(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return errors.New("recorder: already terminated")
	}
	r.terminated = true
	return nil
}

// String summarizes the recorded sends, one per line.
func (r *Recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out string
	for _, s := range r.sent {
		out += fmt.Sprintf("%d %s %v\n", s.Time, s.Command.Context, s.Command.Payload)
	}
	return out
}
