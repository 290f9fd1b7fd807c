package timeline

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports malformed timeline or mapping input. These are the
// only resolution-level failures surfaced to the timeline owner.
type ValidationError struct {
	// Code identifies the error category.
	Code ValidationCode

	// ObjectID identifies the offending object, if any.
	ObjectID string

	// Layer identifies the offending mapping, if any.
	Layer string

	// Message is a human-readable description.
	Message string
}

// ValidationCode categorizes validation errors.
type ValidationCode string

const (
	ErrCodeMissingID         ValidationCode = "MISSING_ID"
	ErrCodeMissingEnable     ValidationCode = "MISSING_ENABLE"
	ErrCodeMissingStart      ValidationCode = "MISSING_START"
	ErrCodeEndAndDuration    ValidationCode = "END_AND_DURATION"
	ErrCodeNegativeDuration  ValidationCode = "NEGATIVE_DURATION"
	ErrCodeInvalidRepeating  ValidationCode = "INVALID_REPEATING"
	ErrCodeInvalidEnd        ValidationCode = "INVALID_END"
	ErrCodeChildrenNotGroup  ValidationCode = "CHILDREN_WITHOUT_GROUP"
	ErrCodeInvalidMapping    ValidationCode = "INVALID_MAPPING"
	ErrCodeConflictingLayers ValidationCode = "CONFLICTING_DUPLICATE"
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case e.ObjectID != "":
		return fmt.Sprintf("%s: %s (object=%s)", e.Code, e.Message, e.ObjectID)
	case e.Layer != "":
		return fmt.Sprintf("%s: %s (layer=%s)", e.Code, e.Message, e.Layer)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []*ValidationError

// Error implements the error interface.
func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.As.
func (errs ValidationErrors) Unwrap() []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the structure of a timeline. It returns nil or a
// ValidationErrors listing every problem.
//
// Duplicate ids are allowed (the same logical object may appear more than
// once) but every copy must sit on the same layer.
func Validate(objects []Object) error {
	var errs ValidationErrors
	layers := map[string]string{}

	Walk(objects, func(obj, parent *Object, depth int) {
		add := func(code ValidationCode, format string, args ...any) {
			errs = append(errs, &ValidationError{Code: code, ObjectID: obj.ID, Message: fmt.Sprintf(format, args...)})
		}
		if obj.ID == "" {
			errs = append(errs, &ValidationError{Code: ErrCodeMissingID, Message: fmt.Sprintf("object at depth %d has no id", depth)})
		} else if layer, seen := layers[obj.ID]; seen && layer != obj.Layer {
			add(ErrCodeConflictingLayers, "duplicate id on layers %q and %q", layer, obj.Layer)
		} else {
			layers[obj.ID] = obj.Layer
		}
		if len(obj.Enable) == 0 {
			add(ErrCodeMissingEnable, "object has no enable")
		}
		for i, en := range obj.Enable {
			if en.Start.IsZero() {
				add(ErrCodeMissingStart, "enable[%d] has no start", i)
			}
			if en.End != nil && en.Duration != nil {
				add(ErrCodeEndAndDuration, "enable[%d] sets both end and duration", i)
			}
			if en.End != nil && en.End.IsNow() {
				add(ErrCodeInvalidEnd, "enable[%d] end cannot be %q", i, NowToken)
			}
			if en.Duration != nil && *en.Duration < 0 {
				add(ErrCodeNegativeDuration, "enable[%d] duration %d is negative", i, *en.Duration)
			}
			if en.Repeating != nil && *en.Repeating <= 0 {
				add(ErrCodeInvalidRepeating, "enable[%d] repeating period %d must be positive", i, *en.Repeating)
			}
		}
		if len(obj.Children) > 0 && !obj.IsGroup {
			add(ErrCodeChildrenNotGroup, "object has children but isGroup is false")
		}
	})

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateMappings checks that every mapping names a device type and id.
func ValidateMappings(mappings Mappings) error {
	var errs ValidationErrors
	for _, layer := range mappings.Layers() {
		m := mappings[layer]
		if m.DeviceID == "" {
			errs = append(errs, &ValidationError{Code: ErrCodeInvalidMapping, Layer: layer, Message: "mapping has no deviceId"})
		}
		if m.Device == "" {
			errs = append(errs, &ValidationError{Code: ErrCodeInvalidMapping, Layer: layer, Message: "mapping has no device type"})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
