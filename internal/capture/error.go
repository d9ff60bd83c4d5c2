package capture

import (
	"errors"
	"fmt"
)

const (
	KindMalformedCapture    = "MalformedCapture"
	KindUnsortedCapture     = "UnsortedCapture"
	KindUnreadableCapture   = "UnreadableCapture"
	kindUnknownParseFailure = "ParseFailure"
)

var (
	// ErrInputPath is matched by InputPathError
	ErrInputPath = errors.New("input path error")

	// ErrMalformedCapture is matched by MalformedCaptureError
	ErrMalformedCapture = errors.New("malformed capture")

	// ErrUnsortedCapture is matched by UnsortedCaptureError
	ErrUnsortedCapture = errors.New("unsorted capture")

	// ErrUnreadableCapture is matched by ReadError
	ErrUnreadableCapture = errors.New("unreadable capture")

	errNotDirectory = errors.New("not a directory")
)

// InputPathError is returned when the input directory is missing, unreadable
// or not a directory. It aborts a run before any parsing.
type InputPathError struct {
	Path string
	Err  error
}

func (e *InputPathError) Error() string {
	return fmt.Sprintf("input path '%s': %s", e.Path, e.Err)
}

func (e *InputPathError) Unwrap() []error {
	return []error{ErrInputPath, e.Err}
}

// MalformedCaptureError is returned when a capture holds no valid record.
// Line points to the first offending line, 0 for an empty capture.
type MalformedCaptureError struct {
	Source string
	Line   int
	Reason string
}

func (e *MalformedCaptureError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("malformed capture '%s': %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("malformed capture '%s' at line %d: %s", e.Source, e.Line, e.Reason)
}

func (e *MalformedCaptureError) Is(target error) bool {
	return target == ErrMalformedCapture
}

// UnsortedCaptureError is returned when frequencies within a capture are not
// strictly increasing. Captures are never re-sorted.
type UnsortedCaptureError struct {
	Source    string
	Line      int
	Frequency float64
	Previous  float64
}

func (e *UnsortedCaptureError) Error() string {
	return fmt.Sprintf("unsorted capture '%s' at line %d: frequency %.3f Hz does not follow %.3f Hz",
		e.Source, e.Line, e.Frequency, e.Previous)
}

func (e *UnsortedCaptureError) Is(target error) bool {
	return target == ErrUnsortedCapture
}

// ReadError is returned when a capture file cannot be opened or read.
type ReadError struct {
	Source string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading capture '%s': %s", e.Source, e.Err)
}

func (e *ReadError) Unwrap() []error {
	return []error{ErrUnreadableCapture, e.Err}
}

// Kind returns the error kind name of a per-file parse failure.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrMalformedCapture):
		return KindMalformedCapture
	case errors.Is(err, ErrUnsortedCapture):
		return KindUnsortedCapture
	case errors.Is(err, ErrUnreadableCapture):
		return KindUnreadableCapture
	default:
		return kindUnknownParseFailure
	}
}

// Line returns the offending line of a per-file parse failure, 0 if unknown.
func Line(err error) int {
	var malformed *MalformedCaptureError
	if errors.As(err, &malformed) {
		return malformed.Line
	}
	var unsorted *UnsortedCaptureError
	if errors.As(err, &unsorted) {
		return unsorted.Line
	}
	return 0
}
