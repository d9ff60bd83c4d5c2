package detect

import (
	"maps"
	"math"
	"slices"
)

// histogramRange bounds bin indexes so that outliers never overflow an int.
const histogramRange = 1e9

// PowerHistogram maintains a histogram of power values with 1dBm bins
type PowerHistogram struct {
	bins       map[int]uint32 // Map of bin index to count
	totalCount uint64         // Total number of samples
	minPower   float64        // Lowest power seen
	maxPower   float64        // Highest power seen
}

// NewPowerHistogram creates a new histogram
func NewPowerHistogram() *PowerHistogram {
	return &PowerHistogram{
		bins:     make(map[int]uint32),
		minPower: math.Inf(1),
		maxPower: math.Inf(-1),
	}
}

// getBinIndex converts power value to bin index
func getBinIndex(power float64) int {
	return int(math.Floor(math.Max(-histogramRange, math.Min(power, histogramRange)))) // 1dBm bins
}

// Update adds new power reading to the histogram
func (h *PowerHistogram) Update(power float64) {
	h.bins[getBinIndex(power)]++
	h.totalCount++

	h.minPower = math.Min(h.minPower, power)
	h.maxPower = math.Max(h.maxPower, power)
}

// Count returns the number of samples in the histogram
func (h *PowerHistogram) Count() uint64 {
	return h.totalCount
}

// Percentile returns the center of the 1dBm bin holding the nearest-rank
// percentile p (0 < p <= 100), limited to the observed power range. It
// returns NaN for an empty histogram.
func (h *PowerHistogram) Percentile(p float64) float64 {
	if h.totalCount == 0 {
		return math.NaN()
	}

	target := uint64(math.Ceil(float64(h.totalCount) * p / 100))
	target = max(target, 1)

	keys := slices.Sorted(maps.Keys(h.bins))
	bin := keys[len(keys)-1]

	var count uint64
	for _, k := range keys {
		count += uint64(h.bins[k])
		if count >= target {
			bin = k
			break
		}
	}
	return math.Max(h.minPower, math.Min(float64(bin)+0.5, h.maxPower))
}
