package resolver

import (
	"fmt"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// DefaultMaxNowPasses bounds the iterative refinement of nested "now"
// objects. Chains deeper than this, and circular chains, stay unfixed.
const DefaultMaxNowPasses = 10

// NowFixer replaces "now" starts with stable absolute times.
//
// Top-level objects are fixed to the evaluation time. Objects nested in a
// group are fixed relative to the parent instance that is current at the
// evaluation time, which needs a resolution pass; a parent that does not
// resolve yet defers its children to the next pass.
type NowFixer struct {
	resolver  Resolver
	maxPasses int
	bound     Bound
}

// NowFixerOption configures a NowFixer.
type NowFixerOption func(*NowFixer)

// WithMaxPasses sets the refinement pass budget. Values below 1 are ignored.
func WithMaxPasses(n int) NowFixerOption {
	return func(f *NowFixer) {
		if n > 0 {
			f.maxPasses = n
		}
	}
}

// WithFixerBound sets the bound used for refinement resolutions.
func WithFixerBound(b Bound) NowFixerOption {
	return func(f *NowFixer) {
		f.bound = b
	}
}

// NewNowFixer returns a fixer that resolves with r.
func NewNowFixer(r Resolver, opts ...NowFixerOption) *NowFixer {
	f := &NowFixer{
		resolver:  r,
		maxPasses: DefaultMaxNowPasses,
		bound:     DefaultBound,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FixResult is the outcome of one Fix call.
type FixResult struct {
	// Objects is a fixed copy of the input. The input is never modified.
	Objects []timeline.Object

	// Fixed lists every id whose "now" start was replaced, in fix order.
	// Duplicate ids appear once; all copies received the same time.
	Fixed []timeline.FixedObject

	// Pending lists ids still carrying a "now" start.
	Pending []string

	// Passes is the number of refinement passes that ran.
	Passes int

	// Converged is false when Pending is non-empty.
	Converged bool
}

type nowTarget struct {
	obj    *timeline.Object
	parent *timeline.Object
}

// Fix returns a copy of objects with "now" starts replaced by absolute
// times for evaluation time at.
func (f *NowFixer) Fix(objects []timeline.Object, at int64) (FixResult, error) {
	res := FixResult{Objects: timeline.CloneAll(objects)}

	byID := map[string][]*timeline.Object{}
	timeline.Walk(res.Objects, func(obj, _ *timeline.Object, _ int) {
		byID[obj.ID] = append(byID[obj.ID], obj)
	})

	fixed := map[string]bool{}
	fix := func(id string, t int64) {
		if fixed[id] {
			return
		}
		fixed[id] = true
		for _, obj := range byID[id] {
			for i := range obj.Enable {
				if obj.Enable[i].Start.IsNow() {
					obj.Enable[i].Start = timeline.Abs(t)
				}
			}
		}
		res.Fixed = append(res.Fixed, timeline.FixedObject{ID: id, Time: t})
	}

	// Pass 0: top-level objects anchor directly to the evaluation time.
	for i := range res.Objects {
		if res.Objects[i].HasNow() {
			fix(res.Objects[i].ID, at)
		}
	}

	for res.Passes < f.maxPasses {
		targets := pendingNow(res.Objects, fixed)
		if len(targets) == 0 {
			break
		}
		res.Passes++

		resolved, err := f.resolver.Resolve(res.Objects, at, f.bound)
		if err != nil {
			return FixResult{}, fmt.Errorf("fix now: pass %d: %w", res.Passes, err)
		}

		progress := false
		for _, tg := range targets {
			if fixed[tg.obj.ID] {
				continue
			}
			if tg.parent == nil {
				fix(tg.obj.ID, at)
				progress = true
				continue
			}
			parent, ok := resolved.Objects[tg.parent.ID]
			if !ok {
				continue
			}
			inst, ok := parentInstance(parent.Instances, at)
			if !ok {
				continue
			}
			fix(tg.obj.ID, at-inst.OriginalStart)
			progress = true
		}
		if !progress {
			// Nothing changed, so another pass would resolve identically.
			break
		}
	}

	for _, tg := range pendingNow(res.Objects, fixed) {
		res.Pending = append(res.Pending, tg.obj.ID)
	}
	res.Converged = len(res.Pending) == 0
	return res, nil
}

// pendingNow lists unfixed "now" objects in declaration order, one per id.
func pendingNow(objects []timeline.Object, fixed map[string]bool) []nowTarget {
	var out []nowTarget
	seen := map[string]bool{}
	timeline.Walk(objects, func(obj, parent *timeline.Object, _ int) {
		if fixed[obj.ID] || seen[obj.ID] || !obj.HasNow() {
			return
		}
		seen[obj.ID] = true
		out = append(out, nowTarget{obj: obj, parent: parent})
	})
	return out
}

// parentInstance picks the instance a nested "now" anchors to: the one
// covering at, else the latest one started before at, else the first.
func parentInstance(instances []timeline.Instance, at int64) (timeline.Instance, bool) {
	if len(instances) == 0 {
		return timeline.Instance{}, false
	}
	latest := -1
	for i, inst := range instances {
		if inst.Covers(at) {
			return inst, true
		}
		if inst.Start <= at {
			latest = i
		}
	}
	if latest >= 0 {
		return instances[latest], true
	}
	return instances[0], true
}
