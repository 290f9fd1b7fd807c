// Package devices registers the built-in device integrations.
package devices

import (
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/device"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/devices/abstract"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/devices/fader"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/devices/tcpsend"
)

// Builtin returns a registry with every built-in device type.
func Builtin() *device.Registry {
	r := device.NewRegistry()
	for _, register := range []func(*device.Registry) error{
		abstract.Register,
		fader.Register,
		tcpsend.Register,
	} {
		// Types are distinct constants; a failure here is a programming error.
		if err := register(r); err != nil {
			panic(err)
		}
	}
	return r
}
