package pipeline

import (
	"errors"
	"fmt"

	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

// ErrEmptyDataset is matched by EmptyDatasetError
var ErrEmptyDataset = errors.New("empty dataset")

// EmptyDatasetError is returned when the input directory holds no capture
// that could be aggregated. Failures lists the captures that were found but
// failed to parse.
type EmptyDatasetError struct {
	Dir      string
	Failures []spectrum.SkippedCapture
}

func (e *EmptyDatasetError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("no capture files in '%s'", e.Dir)
	}
	return fmt.Sprintf("no valid capture files in '%s': %d failed to parse", e.Dir, len(e.Failures))
}

func (e *EmptyDatasetError) Is(target error) bool {
	return target == ErrEmptyDataset
}
