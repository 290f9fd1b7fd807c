// Package timeline defines the declarative show description consumed by the
// resolver and the conductor: timeline objects with time expressions, the
// layer-to-device mapping, and the resolved TimelineState.
//
// All times are integer milliseconds on a single monotone clock. Child
// objects of a group express their times relative to the start of the
// parent instance they belong to.
//
// The package also provides canonical JSON encoding (RFC 8785 key ordering,
// NFC-normalized strings) so states and timelines can be hashed stably for
// journaling and golden traces.
package timeline
