// Package device defines the contract every output device implements and
// the generic Handle the conductor drives.
//
// An Integration is the device-specific part: it converts a timeline state
// into its own device state, diffs two device states into commands and
// sends single commands. Handle is the shared part: it keeps the state
// history, owns the device's doontime.Queue, cancels superseded commands
// and reports status and command outcomes as Events.
//
// Concrete integrations are registered by type in a Registry.
package device
