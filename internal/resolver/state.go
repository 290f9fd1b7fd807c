package resolver

import (
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// StateAt derives the timeline state at the resolution time: for each
// mapped layer, the object with an instance covering the time and the
// highest priority. Equal priorities go to the object declared later.
// Layers with no active object are absent.
func StateAt(resolved *Resolved, mappings timeline.Mappings) timeline.State {
	state := timeline.EmptyState(resolved.Time)

	best := map[string]*ResolvedObject{}
	bestInst := map[string]timeline.Instance{}
	for _, id := range resolved.Order {
		ro := resolved.Objects[id]
		layer := ro.Object.Layer
		if layer == "" {
			continue
		}
		if _, mapped := mappings[layer]; !mapped {
			continue
		}
		inst, ok := ro.ActiveAt(resolved.Time)
		if !ok {
			continue
		}
		// Order is declaration order, so >= lets the later object win ties.
		if cur, ok := best[layer]; !ok || ro.Object.Priority >= cur.Object.Priority {
			best[layer] = ro
			bestInst[layer] = inst
		}
	}

	for layer, ro := range best {
		state.Layers[layer] = timeline.ResolvedLayer{
			Layer:    layer,
			Object:   ro.Object.WithoutChildren(),
			Instance: bestInst[layer],
		}
	}
	state.NextEvents = append([]int64(nil), resolved.NextEvents...)
	return state
}
