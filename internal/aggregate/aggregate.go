package aggregate

import (
	"errors"
	"fmt"
	"time"

	"github.com/roman-kulish/spectrum-survey/internal/align"
	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

var (
	ErrGridMismatch      = errors.New("aggregates use different grids")
	ErrThresholdMismatch = errors.New("aggregates use different power thresholds")
)

// Aggregate accumulates per-bin statistics of captures aligned onto a grid.
// An Aggregate is owned by a single goroutine; partial aggregates built in
// parallel are combined with Merge.
type Aggregate struct {
	grid      *align.Grid
	threshold float64
	bins      []Accumulator

	captures  int
	dropped   int64
	timeStart time.Time
	timeEnd   time.Time
}

// New returns an empty aggregate over grid. Samples strictly above
// threshold (dBm) count as occupied.
func New(grid *align.Grid, threshold float64) *Aggregate {
	return &Aggregate{
		grid:      grid,
		threshold: threshold,
		bins:      make([]Accumulator, grid.Len()),
	}
}

// Observe maps every sample of c onto the grid and folds it into the
// statistics of its bin.
func (a *Aggregate) Observe(c *spectrum.SweepCapture) {
	for _, s := range c.Samples {
		idx, ok := a.grid.Index(s.Frequency)
		if !ok {
			a.dropped++
			continue
		}
		a.bins[idx].Add(s.Power, a.threshold)
	}

	a.captures++
	a.extendTimeRange(c.Timestamp, c.Timestamp)
}

// Merge folds other into a. Both aggregates must share the grid and the
// power threshold.
func (a *Aggregate) Merge(other *Aggregate) error {
	if !a.grid.Equal(other.grid) {
		return fmt.Errorf("%w: %s and %s", ErrGridMismatch, a.grid, other.grid)
	}
	if a.threshold != other.threshold {
		return fmt.Errorf("%w: %.3f and %.3f dBm", ErrThresholdMismatch, a.threshold, other.threshold)
	}

	for i := range a.bins {
		a.bins[i] = Merge(a.bins[i], other.bins[i])
	}

	a.captures += other.captures
	a.dropped += other.dropped
	if other.captures > 0 {
		a.extendTimeRange(other.timeStart, other.timeEnd)
	}
	return nil
}

// Reduce merges partial aggregates pairwise into a single aggregate. The
// first element receives the result; the others must not be used afterwards.
func Reduce(parts []*Aggregate) (*Aggregate, error) {
	if len(parts) == 0 {
		return nil, errors.New("nothing to reduce")
	}

	for step := 1; step < len(parts); step *= 2 {
		for i := 0; i+step < len(parts); i += 2 * step {
			if err := parts[i].Merge(parts[i+step]); err != nil {
				return nil, err
			}
		}
	}
	return parts[0], nil
}

// Grid returns the grid of the aggregate.
func (a *Aggregate) Grid() *align.Grid {
	return a.grid
}

// Accumulator returns the running statistics of the i-th bin.
func (a *Aggregate) Accumulator(i int) Accumulator {
	return a.bins[i]
}

// Captures returns the number of observed captures.
func (a *Aggregate) Captures() int {
	return a.captures
}

// Dropped returns the number of samples that fell outside the grid.
func (a *Aggregate) Dropped() int64 {
	return a.dropped
}

// TimeRange returns the earliest and the latest capture timestamp.
func (a *Aggregate) TimeRange() (time.Time, time.Time) {
	return a.timeStart, a.timeEnd
}

// Bins renders the final per-bin statistics in grid order.
func (a *Aggregate) Bins() []spectrum.AggregatedBin {
	bins := make([]spectrum.AggregatedBin, len(a.bins))
	for i, acc := range a.bins {
		bins[i] = spectrum.AggregatedBin{
			FrequencyBin: a.grid.Bin(i),
			Count:        acc.Count,
			Occupancy:    acc.Occupancy(),
		}
		if acc.Count > 0 {
			bins[i].Min = acc.Min
			bins[i].Max = acc.Max
			bins[i].Mean = acc.Mean
			bins[i].Variance = acc.Variance()
		}
	}
	return bins
}

func (a *Aggregate) extendTimeRange(start, end time.Time) {
	if start.IsZero() && end.IsZero() {
		return
	}
	if a.timeStart.IsZero() || start.Before(a.timeStart) {
		a.timeStart = start
	}
	if a.timeEnd.IsZero() || end.After(a.timeEnd) {
		a.timeEnd = end
	}
}
