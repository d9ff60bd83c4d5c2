package report

import (
	"errors"
	"fmt"
)

// ErrOutputWrite is matched by OutputWriteError
var ErrOutputWrite = errors.New("output write error")

// OutputWriteError is returned when a report artifact cannot be written.
// No partial artifact is left at Path.
type OutputWriteError struct {
	Path string
	Op   string // Failed step, e.g. "create", "encode", "rename"
	Err  error
}

func (e *OutputWriteError) Error() string {
	return fmt.Sprintf("writing report '%s': %s: %s", e.Path, e.Op, e.Err)
}

func (e *OutputWriteError) Unwrap() []error {
	return []error{ErrOutputWrite, e.Err}
}
