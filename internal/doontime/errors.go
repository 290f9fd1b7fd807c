package doontime

import (
	"errors"
	"fmt"
)

// ErrDisposed is returned by Enqueue after Dispose.
var ErrDisposed = errors.New("doontime: queue disposed")

// CommandError reports the failure of one queued command. Panics inside a
// command are converted into a CommandError with Panicked set.
type CommandError struct {
	Entry    Entry
	Err      error
	Panicked bool
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("command %s at %d panicked: %v", e.Entry.ID, e.Entry.Time, e.Err)
	}
	return fmt.Sprintf("command %s at %d failed: %v", e.Entry.ID, e.Entry.Time, e.Err)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsCommandError reports whether err is or wraps a CommandError.
func IsCommandError(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}
