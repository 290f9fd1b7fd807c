// Package conductor owns the timeline and mappings and keeps every device
// converging on the state the timeline describes.
//
// Each resolution pass runs at one instant:
//
//  1. "now" starts are fixed to absolute times and the fixed timeline
//     replaces the stored one, so later passes reuse the same instants.
//  2. The timeline is resolved within the lookahead bound and the active
//     object per mapped layer is picked.
//  3. Every device, in id order, cancels its queued commands at or after
//     the instant and diffs the new state against its last applied state.
//  4. The next pass is armed at the earliest upcoming boundary, capped by
//     the maximum poll interval.
//
// Editing the timeline or mappings while running disarms the timer and
// runs a pass at the current time. A failing device is reported and
// skipped; it never stops the loop.
package conductor
