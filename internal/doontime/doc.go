// Package doontime provides Queue, a per-device command queue that runs
// commands at an absolute time on a clock.Clock.
//
// Two delivery modes exist. In Burst mode every due entry is handed to the
// dispatcher at once and entries do not wait for each other. In InOrder
// mode a single pump runs due entries one at a time, each settling before
// the next starts.
//
// Entries are kept sorted by (time, enqueue order) and a single timer is
// armed for the earliest one. Cancellation only removes entries that have
// not started; a running command always completes.
package doontime
