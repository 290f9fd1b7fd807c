package timeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExprKind discriminates the forms a time expression can take.
type ExprKind int

const (
	// ExprNone is the zero value: no expression was given.
	ExprNone ExprKind = iota

	// ExprAbsolute is a fixed millisecond value. For children of a group
	// the value is relative to the parent instance start.
	ExprAbsolute

	// ExprNow is the "now" token. It is replaced by an absolute value the
	// first time the object is resolved.
	ExprNow

	// ExprReference points at the start or end of another object,
	// optionally shifted by a constant.
	ExprReference
)

// RefField selects which edge of a referenced object an expression uses.
type RefField string

const (
	FieldStart RefField = "start"
	FieldEnd   RefField = "end"
)

// NowToken is the literal used in show files for the current time.
const NowToken = "now"

// Expression is a parsed time expression.
//
// Value holds the absolute time for ExprAbsolute and the signed offset for
// ExprReference.
type Expression struct {
	Kind  ExprKind
	Value int64
	Ref   string
	Field RefField
}

// Abs returns an absolute expression.
func Abs(ms int64) Expression {
	return Expression{Kind: ExprAbsolute, Value: ms}
}

// Now returns the "now" expression.
func Now() Expression {
	return Expression{Kind: ExprNow}
}

// Ref returns a reference expression "#id.field ± offset".
func Ref(id string, field RefField, offset int64) Expression {
	return Expression{Kind: ExprReference, Ref: id, Field: field, Value: offset}
}

// IsZero reports whether no expression was set.
func (e Expression) IsZero() bool {
	return e.Kind == ExprNone
}

// IsNow reports whether the expression is the unresolved "now" token.
func (e Expression) IsNow() bool {
	return e.Kind == ExprNow
}

var refPattern = regexp.MustCompile(`^#(.+)\.(start|end)(?:\s*([+-])\s*(\d+))?$`)

// ParseExpression parses the textual form of a time expression:
// an integer, "now", or "#id.start|end" with an optional "+ N" or "- N".
func ParseExpression(s string) (Expression, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return Expression{}, fmt.Errorf("empty time expression")
	}
	if text == NowToken {
		return Now(), nil
	}
	if strings.HasPrefix(text, "#") {
		m := refPattern.FindStringSubmatch(text)
		if m == nil {
			return Expression{}, fmt.Errorf("invalid reference expression %q", s)
		}
		var offset int64
		if m[4] != "" {
			n, err := strconv.ParseInt(m[4], 10, 64)
			if err != nil {
				return Expression{}, fmt.Errorf("invalid offset in %q: %w", s, err)
			}
			offset = n
			if m[3] == "-" {
				offset = -n
			}
		}
		return Ref(m[1], RefField(m[2]), offset), nil
	}
	ms, err := parseMillis(text)
	if err != nil {
		return Expression{}, fmt.Errorf("invalid time expression %q", s)
	}
	return Abs(ms), nil
}

// parseMillis accepts integers and integral floats ("1500", "1500.0").
func parseMillis(text string) (int64, error) {
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("fractional milliseconds in %q", text)
	}
	return int64(f), nil
}

// String renders the expression in the same syntax ParseExpression accepts.
func (e Expression) String() string {
	switch e.Kind {
	case ExprAbsolute:
		return strconv.FormatInt(e.Value, 10)
	case ExprNow:
		return NowToken
	case ExprReference:
		base := "#" + e.Ref + "." + string(e.Field)
		switch {
		case e.Value > 0:
			return fmt.Sprintf("%s + %d", base, e.Value)
		case e.Value < 0:
			return fmt.Sprintf("%s - %d", base, -e.Value)
		}
		return base
	}
	return ""
}

// MarshalJSON encodes absolute expressions as numbers and the rest as strings.
func (e Expression) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case ExprAbsolute:
		return []byte(strconv.FormatInt(e.Value, 10)), nil
	case ExprNone:
		return []byte("null"), nil
	}
	return json.Marshal(e.String())
}

// UnmarshalJSON accepts a number or a string expression.
func (e *Expression) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		*e = Expression{}
		return nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		text = s
	}
	parsed, err := ParseExpression(text)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// MarshalYAML mirrors MarshalJSON.
func (e Expression) MarshalYAML() (any, error) {
	switch e.Kind {
	case ExprAbsolute:
		return e.Value, nil
	case ExprNone:
		return nil, nil
	}
	return e.String(), nil
}

// UnmarshalYAML accepts any scalar node.
func (e *Expression) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: time expression must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		*e = Expression{}
		return nil
	}
	parsed, err := ParseExpression(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*e = parsed
	return nil
}
