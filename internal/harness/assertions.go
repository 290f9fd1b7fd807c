package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// AssertionError describes a failed assertion with the trace for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "assertion %s failed\n", e.Type)
	fmt.Fprintf(&b, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&b, "  actual:   %s\n", e.Actual)
	if len(e.Trace) > 0 {
		b.WriteString("  trace:\n")
		for _, ev := range e.Trace {
			b.WriteString("    ")
			b.WriteString(ev.Line())
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// EvaluateAssertions checks every assertion against the trace and returns
// one message per failure.
func EvaluateAssertions(trace []TraceEvent, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(trace, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(trace []TraceEvent, a Assertion) error {
	switch a.Type {
	case AssertCommandCount:
		return assertCommandCount(trace, a)
	case AssertCommandAt:
		return assertCommandAt(trace, a)
	case AssertNoCommandsAfter:
		return assertNoCommandsAfter(trace, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertCommandCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if a.Device == "" || ev.DeviceID == a.Device {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	expected := fmt.Sprintf("%d commands", a.Count)
	if a.Device != "" {
		expected += " on " + a.Device
	}
	return &AssertionError{
		Type:     AssertCommandCount,
		Expected: expected,
		Actual:   fmt.Sprintf("%d commands", count),
		Trace:    trace,
	}
}

func assertCommandAt(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Time != a.At {
			continue
		}
		if a.Device != "" && ev.DeviceID != a.Device {
			continue
		}
		if a.Object != "" && ev.ObjectID != a.Object {
			continue
		}
		if a.Context != "" && ev.Context != a.Context {
			continue
		}
		if a.Payload != nil && !payloadMatches(ev.Payload, a.Payload) {
			continue
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertCommandAt,
		Expected: describeCommandAt(a),
		Actual:   "no matching command",
		Trace:    trace,
	}
}

func assertNoCommandsAfter(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Time > a.At {
			return &AssertionError{
				Type:     AssertNoCommandsAfter,
				Expected: fmt.Sprintf("no commands after %d", a.At),
				Actual:   ev.Line(),
				Trace:    trace,
			}
		}
	}
	return nil
}

func describeCommandAt(a Assertion) string {
	parts := []string{fmt.Sprintf("command at %d", a.At)}
	if a.Device != "" {
		parts = append(parts, "device="+a.Device)
	}
	if a.Object != "" {
		parts = append(parts, "object="+a.Object)
	}
	if a.Context != "" {
		parts = append(parts, fmt.Sprintf("context=%q", a.Context))
	}
	if a.Payload != nil {
		if raw, err := timeline.MarshalCanonical(a.Payload); err == nil {
			parts = append(parts, "payload>="+string(raw))
		}
	}
	return strings.Join(parts, " ")
}

// payloadMatches reports whether every expected key is present in the
// payload JSON with an equal value. Numbers are compared as float64 since
// YAML and JSON disagree on integer types.
func payloadMatches(payload string, expected map[string]any) bool {
	var actual map[string]any
	if err := json.Unmarshal([]byte(payload), &actual); err != nil {
		return false
	}
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func valuesEqual(actual, expected any) bool {
	if a, ok := toFloat(actual); ok {
		e, ok := toFloat(expected)
		return ok && a == e
	}
	if em, ok := expected.(map[string]any); ok {
		am, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range em {
			if !valuesEqual(am[k], v) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(actual, expected)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
