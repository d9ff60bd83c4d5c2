package aggregate

import "math"

// Accumulator holds the running statistics of one frequency bin. The zero
// value is an empty accumulator and the identity of Merge.
type Accumulator struct {
	Count int64   // Number of samples
	Mean  float64 // Running mean in dBm
	M2    float64 // Sum of squared differences from the mean
	Min   float64 // Minimum power in dBm
	Max   float64 // Maximum power in dBm
	Above int64   // Samples strictly above the occupancy threshold
}

// Add folds one power reading into the accumulator using Welford's update.
func (a *Accumulator) Add(power, threshold float64) {
	a.Count++
	if a.Count == 1 {
		a.Min, a.Max = power, power
	} else {
		a.Min = math.Min(a.Min, power)
		a.Max = math.Max(a.Max, power)
	}

	delta := power - a.Mean
	a.Mean += delta / float64(a.Count)
	a.M2 += delta * (power - a.Mean)

	if power > threshold {
		a.Above++
	}
}

// Variance returns the population variance, 0 for fewer than two samples.
func (a Accumulator) Variance() float64 {
	if a.Count < 2 {
		return 0
	}
	return a.M2 / float64(a.Count)
}

// Occupancy returns the fraction of samples above the threshold. The result
// is nil when the accumulator is empty.
func (a Accumulator) Occupancy() *float64 {
	if a.Count == 0 {
		return nil
	}
	occupancy := float64(a.Above) / float64(a.Count)
	return &occupancy
}

// Merge combines two accumulators built from disjoint samples using the
// parallel variance update of Chan et al. The result does not depend on the
// order of the arguments.
func Merge(a, b Accumulator) Accumulator {
	switch {
	case a.Count == 0:
		return b
	case b.Count == 0:
		return a
	}

	na, nb := float64(a.Count), float64(b.Count)
	n := na + nb
	delta := b.Mean - a.Mean

	return Accumulator{
		Count: a.Count + b.Count,
		Mean:  (na*a.Mean + nb*b.Mean) / n,
		M2:    a.M2 + b.M2 + delta*delta*na*nb/n,
		Min:   math.Min(a.Min, b.Min),
		Max:   math.Max(a.Max, b.Max),
		Above: a.Above + b.Above,
	}
}
