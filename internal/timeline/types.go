package timeline

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"gopkg.in/yaml.v3"
)

// Enable is one enablement window of an object.
//
// End and Duration are mutually exclusive. Without either the window is
// open-ended. Repeating, when set, repeats the window every Repeating ms.
type Enable struct {
	Start     Expression  `json:"start" yaml:"start"`
	End       *Expression `json:"end,omitempty" yaml:"end,omitempty"`
	Duration  *int64      `json:"duration,omitempty" yaml:"duration,omitempty"`
	Repeating *int64      `json:"repeating,omitempty" yaml:"repeating,omitempty"`
}

// Enables is the ordered list of enablement windows of one object.
// Show files may give a single window as a bare object.
type Enables []Enable

// UnmarshalJSON accepts either one enable object or an array of them.
func (e *Enables) UnmarshalJSON(data []byte) error {
	var list []Enable
	if err := json.Unmarshal(data, &list); err == nil {
		*e = list
		return nil
	}
	var single Enable
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	*e = Enables{single}
	return nil
}

// UnmarshalYAML accepts either one enable mapping or a sequence of them.
func (e *Enables) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []Enable
		if err := node.Decode(&list); err != nil {
			return err
		}
		*e = list
		return nil
	case yaml.MappingNode:
		var single Enable
		if err := node.Decode(&single); err != nil {
			return err
		}
		*e = Enables{single}
		return nil
	}
	return fmt.Errorf("line %d: enable must be a mapping or a sequence", node.Line)
}

// Object is one timeline object.
type Object struct {
	ID       string         `json:"id" yaml:"id"`
	Enable   Enables        `json:"enable" yaml:"enable"`
	Priority float64        `json:"priority,omitempty" yaml:"priority,omitempty"`
	Layer    string         `json:"layer,omitempty" yaml:"layer,omitempty"`
	Classes  []string       `json:"classes,omitempty" yaml:"classes,omitempty"`
	Content  map[string]any `json:"content,omitempty" yaml:"content,omitempty"`
	IsGroup  bool           `json:"isGroup,omitempty" yaml:"isGroup,omitempty"`
	Children []Object       `json:"children,omitempty" yaml:"children,omitempty"`
}

// Clone returns a deep copy of the object tree. Content values are copied
// one level deep; nested content is treated as immutable.
func (o Object) Clone() Object {
	out := o
	if o.Enable != nil {
		out.Enable = make(Enables, len(o.Enable))
		for i, en := range o.Enable {
			out.Enable[i] = en.clone()
		}
	}
	if o.Classes != nil {
		out.Classes = append([]string(nil), o.Classes...)
	}
	if o.Content != nil {
		out.Content = make(map[string]any, len(o.Content))
		for k, v := range o.Content {
			out.Content[k] = v
		}
	}
	if o.Children != nil {
		out.Children = CloneAll(o.Children)
	}
	return out
}

// WithoutChildren returns a copy that shares no children. States carry
// objects in this form.
func (o Object) WithoutChildren() Object {
	out := o.Clone()
	out.Children = nil
	return out
}

func (en Enable) clone() Enable {
	out := en
	if en.End != nil {
		end := *en.End
		out.End = &end
	}
	if en.Duration != nil {
		d := *en.Duration
		out.Duration = &d
	}
	if en.Repeating != nil {
		r := *en.Repeating
		out.Repeating = &r
	}
	return out
}

// CloneAll deep-copies a list of objects.
func CloneAll(objects []Object) []Object {
	if objects == nil {
		return nil
	}
	out := make([]Object, len(objects))
	for i := range objects {
		out[i] = objects[i].Clone()
	}
	return out
}

// Walk visits every object depth-first in declaration order. parent is nil
// for top-level objects. The pointers address the elements of objects, so
// fn may modify them in place.
func Walk(objects []Object, fn func(obj, parent *Object, depth int)) {
	walk(objects, nil, 0, fn)
}

func walk(objects []Object, parent *Object, depth int, fn func(obj, parent *Object, depth int)) {
	for i := range objects {
		obj := &objects[i]
		fn(obj, parent, depth)
		if len(obj.Children) > 0 {
			walk(obj.Children, obj, depth+1, fn)
		}
	}
}

// HasNow reports whether any enable window of the object starts at "now".
func (o *Object) HasNow() bool {
	for _, en := range o.Enable {
		if en.Start.IsNow() {
			return true
		}
	}
	return false
}

// FixedObject records one "now" substitution: every object with ID had its
// "now" start replaced by Time.
type FixedObject struct {
	ID   string `json:"id" yaml:"id"`
	Time int64  `json:"time" yaml:"time"`
}

// Mapping binds a layer to a device.
type Mapping struct {
	Device      string         `json:"device" yaml:"device"`
	DeviceID    string         `json:"deviceId" yaml:"deviceId"`
	MappingType string         `json:"mappingType,omitempty" yaml:"mappingType,omitempty"`
	Options     map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// StringOption returns a string addressing option.
func (m Mapping) StringOption(key string) (string, bool) {
	v, ok := m.Options[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntOption returns an integer addressing option. Decoders hand numbers over as
// int, int64, float64 or json.Number depending on the source format.
func (m Mapping) IntOption(key string) (int64, bool) {
	v, ok := m.Options[key]
	if !ok {
		return 0, false
	}
	return ToInt(v)
}

// ToInt converts a decoded number to int64. Fractional values and values
// outside the int64 range are rejected.
func ToInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		// -2^63 is exact in float64; 2^63 is the first value past MaxInt64.
		if !(n >= math.MinInt64 && n < -math.MinInt64) || n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// Mappings is keyed by layer id.
type Mappings map[string]Mapping

// ForDevice returns the mappings observed by one device.
func (m Mappings) ForDevice(deviceID string) Mappings {
	out := Mappings{}
	for layer, mapping := range m {
		if mapping.DeviceID == deviceID {
			out[layer] = mapping
		}
	}
	return out
}

// Layers returns the mapped layer ids in sorted order.
func (m Mappings) Layers() []string {
	layers := make([]string, 0, len(m))
	for layer := range m {
		layers = append(layers, layer)
	}
	sort.Strings(layers)
	return layers
}

// DeviceIDs returns the distinct device ids referenced, sorted.
func (m Mappings) DeviceIDs() []string {
	seen := map[string]bool{}
	var ids []string
	for _, mapping := range m {
		if !seen[mapping.DeviceID] {
			seen[mapping.DeviceID] = true
			ids = append(ids, mapping.DeviceID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Clone copies the mapping table. Options maps are copied one level deep.
func (m Mappings) Clone() Mappings {
	if m == nil {
		return nil
	}
	out := make(Mappings, len(m))
	for layer, mapping := range m {
		if mapping.Options != nil {
			opts := make(map[string]any, len(mapping.Options))
			for k, v := range mapping.Options {
				opts[k] = v
			}
			mapping.Options = opts
		}
		out[layer] = mapping
	}
	return out
}

// Instance is one concrete [Start, End) interval of an object. A nil End
// means open-ended.
type Instance struct {
	Start         int64    `json:"start" yaml:"start"`
	End           *int64   `json:"end,omitempty" yaml:"end,omitempty"`
	OriginalStart int64    `json:"originalStart" yaml:"originalStart"`
	References    []string `json:"references,omitempty" yaml:"references,omitempty"`
}

// Covers reports whether t lies inside the interval.
func (i Instance) Covers(t int64) bool {
	return t >= i.Start && (i.End == nil || t < *i.End)
}

// ResolvedLayer is the object judged active on a layer.
type ResolvedLayer struct {
	Layer    string   `json:"layer" yaml:"layer"`
	Object   Object   `json:"object" yaml:"object"`
	Instance Instance `json:"instance" yaml:"instance"`
}

// State is the timeline state at one instant.
type State struct {
	Time         int64                    `json:"time" yaml:"time"`
	Layers       map[string]ResolvedLayer `json:"layers" yaml:"layers"`
	NextEvents   []int64                  `json:"nextEvents,omitempty" yaml:"nextEvents,omitempty"`
	ResolutionID string                   `json:"resolutionId,omitempty" yaml:"resolutionId,omitempty"`
}

// EmptyState returns a state with no active layers.
func EmptyState(t int64) State {
	return State{Time: t, Layers: map[string]ResolvedLayer{}}
}

// ActiveObjects returns layer -> active object id.
func (s State) ActiveObjects() map[string]string {
	out := make(map[string]string, len(s.Layers))
	for layer, rl := range s.Layers {
		out[layer] = rl.Object.ID
	}
	return out
}
