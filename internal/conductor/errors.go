package conductor

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateDevice is returned when adding an id that is in use.
	ErrDuplicateDevice = errors.New("conductor: duplicate device id")

	// ErrUnknownDevice is returned when removing an id that is not in use.
	ErrUnknownDevice = errors.New("conductor: unknown device id")
)

// DeviceError reports one device failing to take a state. It is isolated
// to that device: the pass continues with the remaining devices.
type DeviceError struct {
	DeviceID     string
	ResolutionID string
	Time         int64

	// Panicked is set when the device panicked instead of returning.
	Panicked bool

	Err error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("device %s panicked at %d: %v", e.DeviceID, e.Time, e.Err)
	}
	return fmt.Sprintf("device %s failed at %d: %v", e.DeviceID, e.Time, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsDeviceError reports whether err is or wraps a *DeviceError.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
