package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/device"
)

func TestBuiltin(t *testing.T) {
	r := Builtin()
	assert.Equal(t, []device.Type{"abstract", "fader", "tcpsend"}, r.Types())

	for _, typ := range r.Types() {
		integ, err := r.New(typ)
		require.NoError(t, err)
		assert.NotNil(t, integ)
	}

	_, err := r.New("vmix")
	assert.ErrorIs(t, err, device.ErrUnknownType)
}
