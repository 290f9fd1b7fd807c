package resolver

import (
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// Bound limits how far ahead a resolution looks.
type Bound struct {
	// Limit caps the number of next events reported and the number of
	// repetitions generated per enable window.
	Limit int

	// Horizon is the lookahead window in milliseconds after the
	// evaluation time. Zero means unbounded.
	Horizon int64
}

// DefaultBound is used when callers pass a zero Bound.
var DefaultBound = Bound{Limit: 100, Horizon: 24 * 60 * 60 * 1000}

func (b Bound) orDefault() Bound {
	if b.Limit <= 0 {
		b.Limit = DefaultBound.Limit
	}
	return b
}

// Resolver resolves a timeline into intervals.
type Resolver interface {
	Resolve(objects []timeline.Object, at int64, bound Bound) (*Resolved, error)
}

// ResolvedObject is one object with its concrete instances.
type ResolvedObject struct {
	Object    *timeline.Object
	ParentID  string
	Depth     int
	Seq       int
	Instances []timeline.Instance
}

// ActiveAt returns the instance covering t.
func (r *ResolvedObject) ActiveAt(t int64) (timeline.Instance, bool) {
	for _, inst := range r.Instances {
		if inst.Covers(t) {
			return inst, true
		}
	}
	return timeline.Instance{}, false
}

// Resolved is the result of one resolution.
type Resolved struct {
	Time int64

	// Objects is keyed by id. With duplicate ids the first occurrence in
	// declaration order is the one resolved.
	Objects map[string]*ResolvedObject

	// Order lists ids in declaration order (depth-first).
	Order []string

	// NextEvents are the sorted, distinct instance boundaries strictly
	// after Time, within the bound.
	NextEvents []int64
}

// Instances returns the instances of id, or nil.
func (r *Resolved) Instances(id string) []timeline.Instance {
	if obj, ok := r.Objects[id]; ok {
		return obj.Instances
	}
	return nil
}
