// Package harness runs conductor scenarios on the virtual clock and
// compares the resulting command trace against expectations.
//
// Everything runs on one goroutine: device init and command dispatch are
// inline, and time only moves when the harness advances the clock. Two
// runs of the same scenario produce byte-identical traces.
//
// # Scenario Format
//
//	name: fader_end_to_end
//	description: "Levels follow the active object, default restored at the end"
//	start: 100
//	until: 5000
//	conductor:
//	  max_poll_interval_ms: 10000
//	devices:
//	  - id: desk0
//	    type: fader
//	mappings:
//	  fader_ch1: { device: fader, deviceId: desk0, options: { channel: ch1, default: -191 } }
//	timeline:
//	  - id: A
//	    layer: fader_ch1
//	    enable: { start: 0, end: 2000 }
//	    content: { value: -6 }
//	steps:
//	  - at: 3000
//	    timeline: []
//	assertions:
//	  - type: command_count
//	    count: 3
//	  - type: command_at
//	    at: 1500
//	    object: B
//	    payload: { value: -4 }
//	  - type: no_commands_after
//	    at: 2000
//
// # Assertion Types
//
//   - command_count: exactly N commands, optionally for one device
//   - command_at: a command at a time matching device, object, context and a
//     payload subset
//   - no_commands_after: nothing executed after a time
//
// # Trace Format
//
// One line per executed command:
//
//	<time> <device> <object> "<context>" <canonical payload JSON>
//
// Failed commands carry a trailing "error=<message>".
package harness
