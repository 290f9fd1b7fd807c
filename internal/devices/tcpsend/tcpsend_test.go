package tcpsend

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/device"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

var mappings = timeline.Mappings{
	"gfx": {Device: string(Type), DeviceID: "sock"},
	"rec": {Device: string(Type), DeviceID: "sock"},
}

func stateOf(t int64, objs ...timeline.Object) timeline.State {
	s := timeline.EmptyState(t)
	for _, o := range objs {
		s.Layers[o.Layer] = timeline.ResolvedLayer{Layer: o.Layer, Object: o}
	}
	return s
}

func TestDiff_SendAndStop(t *testing.T) {
	d := New()
	gfx := timeline.Object{ID: "g1", Layer: "gfx", Content: map[string]any{"message": "PLAY g1\n", "stopMessage": "STOP\n"}}
	rec := timeline.Object{ID: "r1", Layer: "rec", Content: map[string]any{"other": true}}

	empty := d.ConvertState(timeline.EmptyState(0), mappings)
	on := d.ConvertState(stateOf(100, gfx, rec), mappings)
	assert.Len(t, on, 1, "objects without messages are ignored")

	cmds := d.DiffStates(empty, on, mappings, 100)
	require.Len(t, cmds, 1)
	assert.Equal(t, Send{Layer: "gfx", Message: "PLAY g1\n"}, cmds[0].Payload)
	assert.Equal(t, "added: g1", cmds[0].Context)

	cmds = d.DiffStates(on, empty, mappings, 200)
	require.Len(t, cmds, 1)
	assert.Equal(t, Send{Layer: "gfx", Message: "STOP\n"}, cmds[0].Payload)
	assert.Equal(t, "removed: g1", cmds[0].Context)

	assert.Empty(t, d.DiffStates(on, on, mappings, 300))
}

func TestDevice_InitRequiresHost(t *testing.T) {
	d := New()
	err := d.Init(context.Background(), device.Options{ID: "sock"})
	assert.Error(t, err)
	assert.Equal(t, device.StatusUnknown, d.Status().Code)
	assert.False(t, d.CanConnect())
}

func TestDevice_SendsOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- line
	}()

	d := New()
	require.NoError(t, d.Init(context.Background(), device.Options{
		ID:       "sock",
		Settings: map[string]any{"host": ln.Addr().String(), "timeout_ms": 1000},
	}))
	assert.Equal(t, device.StatusGood, d.Status().Code)

	require.NoError(t, d.SendCommand(context.Background(), device.Command{Payload: Send{Layer: "gfx", Message: "PLAY\n"}}))
	select {
	case line := <-got:
		assert.Equal(t, "PLAY\n", line)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	require.NoError(t, d.Terminate(context.Background()))
	assert.Error(t, d.SendCommand(context.Background(), device.Command{Payload: Send{Message: "x"}}))
}

func TestSender_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	s := NewSender(addr, 200*time.Millisecond)
	assert.Error(t, s.Send(context.Background(), []byte("x")))
	assert.Equal(t, addr, s.Addr())
}
