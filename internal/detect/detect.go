package detect

import (
	"errors"
	"fmt"

	"github.com/montanaflynn/stats"

	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

// Method selects how the noise floor is estimated.
type Method string

const (
	// MethodPercentile takes the nearest-rank percentile of bin means.
	MethodPercentile Method = "percentile"

	// MethodHistogram takes the percentile from a 1dBm histogram of bin
	// means, which is less sensitive to a handful of outliers.
	MethodHistogram Method = "histogram"
)

const DefaultPercentile = 10.0

var (
	ErrNoData        = errors.New("no bins with data")
	ErrUnknownMethod = errors.New("unknown noise floor method")
	ErrPercentile    = errors.New("noise floor percentile must be within (0, 100]")
)

// ParseMethod returns the Method named by s. An empty string selects
// MethodPercentile.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "", MethodPercentile:
		return MethodPercentile, nil
	case MethodHistogram:
		return MethodHistogram, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// NoiseFloor estimates the baseline noise level in dBm as a low percentile of
// the mean power of every bin with data.
func NoiseFloor(bins []spectrum.AggregatedBin, percentile float64, method Method) (float64, error) {
	if percentile <= 0 || percentile > 100 {
		return 0, fmt.Errorf("%w: %g", ErrPercentile, percentile)
	}

	means := make(stats.Float64Data, 0, len(bins))
	for _, b := range bins {
		if b.HasData() {
			means = append(means, b.Mean)
		}
	}
	if len(means) == 0 {
		return 0, ErrNoData
	}

	switch method {
	case MethodPercentile, "":
		floor, err := stats.PercentileNearestRank(means, percentile)
		if err != nil {
			return 0, fmt.Errorf("computing percentile: %w", err)
		}
		return floor, nil

	case MethodHistogram:
		h := NewPowerHistogram()
		for _, m := range means {
			h.Update(m)
		}
		return h.Percentile(percentile), nil

	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// Detect flags every bin whose mean power exceeds floor+margin and groups
// adjacent flagged bins into interference bands. Bins without data break a
// band. Bands narrower than minBins bins are dropped; minBins <= 1 keeps
// single-bin bands. Bands are returned ordered by start frequency.
func Detect(bins []spectrum.AggregatedBin, floor, margin float64, minBins int) []spectrum.InterferenceBand {
	cutoff := floor + margin

	var bands []spectrum.InterferenceBand
	var current *spectrum.InterferenceBand

	flush := func() {
		if current != nil && current.Bins >= max(minBins, 1) {
			bands = append(bands, *current)
		}
		current = nil
	}

	for _, b := range bins {
		if !b.HasData() || b.Mean <= cutoff {
			flush()
			continue
		}

		if current == nil {
			current = &spectrum.InterferenceBand{
				StartFrequency: b.Low(),
				PeakFrequency:  b.Center,
				PeakPower:      b.Max,
			}
		}
		current.EndFrequency = b.High()
		current.Bins++
		if b.Max > current.PeakPower {
			current.PeakPower = b.Max
			current.PeakFrequency = b.Center
		}
	}
	flush()

	return bands
}
