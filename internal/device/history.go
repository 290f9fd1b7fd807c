package device

import (
	"sort"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// StateHistory keeps the timeline states applied to one device, sorted by
// time. It is not safe for concurrent use; Handle guards it.
type StateHistory struct {
	states []timeline.State
}

// At returns the latest state with Time <= t.
func (h *StateHistory) At(t int64) (timeline.State, bool) {
	i := sort.Search(len(h.states), func(i int) bool { return h.states[i].Time > t })
	if i == 0 {
		return timeline.State{}, false
	}
	return h.states[i-1], true
}

// Set records s, replacing any state with the same time.
func (h *StateHistory) Set(s timeline.State) {
	i := sort.Search(len(h.states), func(i int) bool { return h.states[i].Time >= s.Time })
	if i < len(h.states) && h.states[i].Time == s.Time {
		h.states[i] = s
		return
	}
	h.states = append(h.states, timeline.State{})
	copy(h.states[i+1:], h.states[i:])
	h.states[i] = s
}

// Remove drops the state recorded at exactly t.
func (h *StateHistory) Remove(t int64) {
	i := sort.Search(len(h.states), func(i int) bool { return h.states[i].Time >= t })
	if i < len(h.states) && h.states[i].Time == t {
		h.states = append(h.states[:i], h.states[i+1:]...)
	}
}

// DropAfter removes states with Time > t.
func (h *StateHistory) DropAfter(t int64) {
	i := sort.Search(len(h.states), func(i int) bool { return h.states[i].Time > t })
	h.states = h.states[:i]
}

// Prune removes states older than cutoff, keeping the latest one at or
// before cutoff so At(cutoff) keeps answering.
func (h *StateHistory) Prune(cutoff int64) {
	i := sort.Search(len(h.states), func(i int) bool { return h.states[i].Time > cutoff })
	if i <= 1 {
		return
	}
	h.states = append(h.states[:0], h.states[i-1:]...)
}

// Oldest returns the time of the oldest retained state.
func (h *StateHistory) Oldest() (int64, bool) {
	if len(h.states) == 0 {
		return 0, false
	}
	return h.states[0].Time, true
}

// Len returns the number of retained states.
func (h *StateHistory) Len() int {
	return len(h.states)
}

// Clear drops every state.
func (h *StateHistory) Clear() {
	h.states = nil
}
