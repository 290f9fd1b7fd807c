package doontime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/clock"
)

// Mode selects the delivery discipline.
type Mode int

const (
	// Burst runs every due entry concurrently.
	Burst Mode = iota
	// InOrder runs due entries one at a time in time order.
	InOrder
)

// String returns the config name of the mode.
func (m Mode) String() string {
	switch m {
	case Burst:
		return "burst"
	case InOrder:
		return "in_order"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "burst" or "in_order" (also "in-order", "inorder").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "burst", "":
		return Burst, nil
	case "in_order", "in-order", "inorder":
		return InOrder, nil
	}
	return Burst, fmt.Errorf("unknown queue mode %q", s)
}

// Command is the unit of work run by the queue.
type Command func(ctx context.Context) error

// Entry describes a queued command.
type Entry struct {
	ID      string
	Time    int64
	QueueID string
	Seq     int64
}

// Result reports one executed entry.
type Result struct {
	Entry    Entry
	Started  int64
	Finished int64
	Err      error
}

type entry struct {
	Entry
	fn Command
}

// Option configures a Queue.
type Option func(*Queue)

// WithMode sets the delivery mode. The default is Burst.
func WithMode(m Mode) Option {
	return func(q *Queue) { q.mode = m }
}

// WithDispatcher sets how Burst mode starts each due entry. The default
// starts a goroutine per entry; tests pass a function that runs inline.
func WithDispatcher(d func(func())) Option {
	return func(q *Queue) { q.dispatch = d }
}

// WithResultListener registers a callback for every executed entry. It is
// called on the goroutine that ran the entry.
func WithResultListener(fn func(Result)) Option {
	return func(q *Queue) { q.onResult = fn }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithIDGenerator replaces the UUIDv7 entry id generator.
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) { q.newID = fn }
}

// Inline runs f on the calling goroutine. Use with WithDispatcher for
// deterministic Burst mode.
func Inline(f func()) { f() }

// Queue is a time-anchored command queue.
type Queue struct {
	clock    clock.Clock
	mode     Mode
	dispatch func(func())
	onResult func(Result)
	logger   *slog.Logger
	newID    func() string
	seq      clock.Sequence

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	entries  []*entry
	timer    clock.Timer
	timerAt  int64
	timerGen uint64
	running  bool
	disposed bool
}

// New returns an empty queue driven by clk.
func New(clk clock.Clock, opts ...Option) *Queue {
	q := &Queue{
		clock:    clk,
		mode:     Burst,
		dispatch: func(f func()) { go f() },
		logger:   slog.Default(),
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(q)
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q
}

// Mode returns the delivery mode.
func (q *Queue) Mode() Mode {
	return q.mode
}

// Enqueue schedules fn at time at and returns the entry id. A non-empty
// queueID supersedes every pending entry with the same queueID.
func (q *Queue) Enqueue(at int64, queueID string, fn Command) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return "", ErrDisposed
	}
	if queueID != "" {
		q.removeLocked(func(e *entry) bool { return e.QueueID == queueID })
	}

	e := &entry{
		Entry: Entry{ID: q.newID(), Time: at, QueueID: queueID, Seq: q.seq.Next()},
		fn:    fn,
	}
	i := sort.Search(len(q.entries), func(i int) bool { return q.entries[i].Time > at })
	q.entries = append(q.entries, nil)
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e

	q.rearmLocked()
	return e.ID, nil
}

// CancelAfter removes pending entries with time > t.
func (q *Queue) CancelAfter(t int64) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := q.removeLocked(func(e *entry) bool { return e.Time > t })
	q.rearmLocked()
	return removed
}

// CancelFromNowAndAfter removes pending entries with time >= t. Entries
// already started are unaffected.
func (q *Queue) CancelFromNowAndAfter(t int64) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := q.removeLocked(func(e *entry) bool { return e.Time >= t })
	q.rearmLocked()
	return removed
}

// Dispose stops the timer and drops every pending entry. It is idempotent.
func (q *Queue) Dispose() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return
	}
	q.disposed = true
	q.entries = nil
	q.stopTimerLocked()
	q.cancel()
}

// Snapshot returns the pending entries in execution order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.Entry
	}
	return out
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) removeLocked(match func(*entry) bool) []Entry {
	var removed []Entry
	kept := q.entries[:0]
	for _, e := range q.entries {
		if match(e) {
			removed = append(removed, e.Entry)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = kept
	return removed
}

func (q *Queue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.timerGen++
}

// rearmLocked points the timer at the earliest entry. While the InOrder
// pump is running it owns rearming.
func (q *Queue) rearmLocked() {
	if q.disposed || q.running {
		return
	}
	if len(q.entries) == 0 {
		q.stopTimerLocked()
		return
	}
	due := q.entries[0].Time
	if q.timer != nil && q.timerAt == due {
		return
	}
	q.stopTimerLocked()
	gen := q.timerGen
	q.timerAt = due
	q.timer = q.clock.AfterFunc(due-q.clock.Now(), func() { q.fire(gen) })
}

func (q *Queue) fire(gen uint64) {
	q.mu.Lock()
	if q.disposed || gen != q.timerGen {
		q.mu.Unlock()
		return
	}
	q.timer = nil

	if q.mode == InOrder {
		if q.running {
			q.mu.Unlock()
			return
		}
		q.running = true
		q.mu.Unlock()
		q.pump()
		return
	}

	due := q.popDueLocked()
	q.rearmLocked()
	q.mu.Unlock()

	for _, e := range due {
		q.dispatch(func() { q.execute(e) })
	}
}

// pump runs due entries one by one until none is due, then rearms.
func (q *Queue) pump() {
	for {
		q.mu.Lock()
		if q.disposed {
			q.running = false
			q.mu.Unlock()
			return
		}
		if len(q.entries) > 0 && q.entries[0].Time <= q.clock.Now() {
			e := q.entries[0]
			q.entries[0] = nil
			q.entries = q.entries[1:]
			q.mu.Unlock()
			q.execute(e)
			continue
		}
		q.running = false
		q.rearmLocked()
		q.mu.Unlock()
		return
	}
}

func (q *Queue) popDueLocked() []*entry {
	now := q.clock.Now()
	n := 0
	for n < len(q.entries) && q.entries[n].Time <= now {
		n++
	}
	due := append([]*entry(nil), q.entries[:n]...)
	for i := 0; i < n; i++ {
		q.entries[i] = nil
	}
	q.entries = q.entries[n:]
	return due
}

func (q *Queue) execute(e *entry) {
	res := Result{Entry: e.Entry, Started: q.clock.Now()}
	if err := q.call(e); err != nil {
		res.Err = err
		q.logger.Warn("queued command failed",
			"entry", e.ID,
			"time", e.Time,
			"queue_id", e.QueueID,
			"error", err,
		)
	}
	res.Finished = q.clock.Now()
	if q.onResult != nil {
		q.onResult(res)
	}
}

func (q *Queue) call(e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CommandError{Entry: e.Entry, Err: fmt.Errorf("%v", r), Panicked: true}
		}
	}()
	if cerr := e.fn(q.ctx); cerr != nil {
		return &CommandError{Entry: e.Entry, Err: cerr}
	}
	return nil
}
