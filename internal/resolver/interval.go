package resolver

import (
	"sort"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// Interval is the built-in Resolver.
//
// Missing and cyclic references yield no instances rather than an error.
// "now" starts are not evaluated; run the timeline through a NowFixer first.
type Interval struct{}

// NewInterval returns the built-in resolver.
func NewInterval() *Interval {
	return &Interval{}
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

type node struct {
	obj       *timeline.Object
	parent    *node
	depth     int
	seq       int
	state     visitState
	instances []timeline.Instance
}

// frame is the time frame an object is evaluated in: the parent instance
// for children, the absolute timeline for top-level objects.
type frame struct {
	offset int64
	clip   bool
	start  int64
	end    *int64
}

type point struct {
	t    int64
	refs []string
}

type intervalRun struct {
	at    int64
	bound Bound
	ids   map[string]*node
	order []*node
}

// Resolve implements Resolver.
func (*Interval) Resolve(objects []timeline.Object, at int64, bound Bound) (*Resolved, error) {
	r := &intervalRun{
		at:    at,
		bound: bound.orDefault(),
		ids:   map[string]*node{},
	}

	byPtr := map[*timeline.Object]*node{}
	var all []*node
	timeline.Walk(objects, func(obj, parent *timeline.Object, depth int) {
		n := &node{obj: obj, depth: depth, seq: len(all)}
		if parent != nil {
			n.parent = byPtr[parent]
		}
		byPtr[obj] = n
		all = append(all, n)
		if _, dup := r.ids[obj.ID]; !dup {
			r.ids[obj.ID] = n
			r.order = append(r.order, n)
		}
	})

	for _, n := range all {
		r.instancesOf(n)
	}

	out := &Resolved{
		Time:    at,
		Objects: make(map[string]*ResolvedObject, len(r.order)),
		Order:   make([]string, 0, len(r.order)),
	}
	for _, n := range r.order {
		ro := &ResolvedObject{
			Object:    n.obj,
			Depth:     n.depth,
			Seq:       n.seq,
			Instances: n.instances,
		}
		if n.parent != nil {
			ro.ParentID = n.parent.obj.ID
		}
		out.Objects[n.obj.ID] = ro
		out.Order = append(out.Order, n.obj.ID)
	}
	out.NextEvents = r.nextEvents()
	return out, nil
}

func (r *intervalRun) instancesOf(n *node) []timeline.Instance {
	switch n.state {
	case visited:
		return n.instances
	case visiting:
		return nil
	}
	n.state = visiting

	frames := []frame{{}}
	if n.parent != nil {
		frames = frames[:0]
		for _, pi := range r.instancesOf(n.parent) {
			frames = append(frames, frame{offset: pi.OriginalStart, clip: true, start: pi.Start, end: pi.End})
		}
	}

	var out []timeline.Instance
	for _, f := range frames {
		for _, en := range n.obj.Enable {
			out = append(out, r.windows(en, f)...)
		}
	}
	n.instances = sortInstances(out)
	n.state = visited
	return n.instances
}

func (r *intervalRun) windows(en timeline.Enable, f frame) []timeline.Instance {
	var out []timeline.Instance
	for _, s := range r.eval(en.Start, f) {
		refs := s.refs
		var end *int64
		switch {
		case en.End != nil:
			ends := r.eval(*en.End, f)
			if len(ends) > 0 {
				e, ok := firstAtOrAfter(ends, s.t)
				if !ok {
					continue
				}
				end = &e.t
				refs = appendRefs(refs, e.refs)
			}
		case en.Duration != nil:
			e := s.t + *en.Duration
			end = &e
		}

		if en.Repeating != nil && *en.Repeating > 0 {
			out = append(out, r.repeat(s.t, end, *en.Repeating, refs, f)...)
			continue
		}
		if inst, ok := clip(s.t, end, refs, f); ok {
			out = append(out, inst)
		}
	}
	return out
}

// repeat expands a repeating window. Repetitions that ended long before the
// evaluation time are skipped; generation stops at the bound.
func (r *intervalRun) repeat(start int64, end *int64, period int64, refs []string, f frame) []timeline.Instance {
	length := period
	if end != nil {
		length = *end - start
	}
	if length <= 0 {
		return nil
	}

	k := int64(0)
	if r.at-start-length > 0 {
		k = (r.at - start - length) / period
	}

	var out []timeline.Instance
	for count := 0; count < r.bound.Limit; count++ {
		s := start + k*period
		if r.bound.Horizon > 0 && s > r.at+r.bound.Horizon {
			break
		}
		e := s + length
		if inst, ok := clip(s, &e, refs, f); ok {
			out = append(out, inst)
		}
		if f.clip && f.end != nil && s >= *f.end {
			break
		}
		k++
	}
	return out
}

func (r *intervalRun) eval(expr timeline.Expression, f frame) []point {
	switch expr.Kind {
	case timeline.ExprAbsolute:
		return []point{{t: expr.Value + f.offset}}
	case timeline.ExprReference:
		target, ok := r.ids[expr.Ref]
		if !ok {
			return nil
		}
		var pts []point
		for _, inst := range r.instancesOf(target) {
			base := inst.Start
			if expr.Field == timeline.FieldEnd {
				if inst.End == nil {
					continue
				}
				base = *inst.End
			}
			pts = append(pts, point{t: base + expr.Value, refs: []string{expr.Ref}})
		}
		return pts
	}
	// "now" and missing expressions do not resolve.
	return nil
}

func (r *intervalRun) nextEvents() []int64 {
	seen := map[int64]bool{}
	var events []int64
	add := func(t int64) {
		if t <= r.at || seen[t] {
			return
		}
		if r.bound.Horizon > 0 && t > r.at+r.bound.Horizon {
			return
		}
		seen[t] = true
		events = append(events, t)
	}
	for _, n := range r.order {
		for _, inst := range n.instances {
			add(inst.Start)
			if inst.End != nil {
				add(*inst.End)
			}
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	if len(events) > r.bound.Limit {
		events = events[:r.bound.Limit]
	}
	return events
}

func clip(start int64, end *int64, refs []string, f frame) (timeline.Instance, bool) {
	inst := timeline.Instance{Start: start, OriginalStart: start, References: refs}
	if end != nil {
		e := *end
		inst.End = &e
	}
	if f.clip {
		if inst.Start < f.start {
			inst.Start = f.start
		}
		if f.end != nil && (inst.End == nil || *inst.End > *f.end) {
			e := *f.end
			inst.End = &e
		}
	}
	if inst.End != nil && *inst.End <= inst.Start {
		return timeline.Instance{}, false
	}
	return inst, true
}

func firstAtOrAfter(pts []point, t int64) (point, bool) {
	best := -1
	for i, p := range pts {
		if p.t >= t && (best < 0 || p.t < pts[best].t) {
			best = i
		}
	}
	if best < 0 {
		return point{}, false
	}
	return pts[best], true
}

func appendRefs(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := append([]string(nil), a...)
	for _, ref := range b {
		dup := false
		for _, have := range out {
			if have == ref {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, ref)
		}
	}
	return out
}

// sortInstances orders by start (open ends last on ties) and drops exact
// duplicates.
func sortInstances(in []timeline.Instance) []timeline.Instance {
	if len(in) < 2 {
		return in
	}
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].Start != in[j].Start {
			return in[i].Start < in[j].Start
		}
		return endLess(in[i].End, in[j].End)
	})
	out := in[:1]
	for _, inst := range in[1:] {
		last := out[len(out)-1]
		if last.Start == inst.Start && endEqual(last.End, inst.End) {
			continue
		}
		out = append(out, inst)
	}
	return out
}

func endLess(a, b *int64) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	}
	return *a < *b
}

func endEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
