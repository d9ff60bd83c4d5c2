package spectrum

import (
	"time"
)

// Sample represents a single power measurement at a specific frequency.
type Sample struct {
	Frequency float64 `json:"frequency"` // Frequency in Hz
	Power     float64 `json:"power"`     // Measured power level in dBm
}

// SweepCapture is one parsed capture file: a single spectrum analyzer scan
// recording power across a frequency range at a point in time.
//
// Samples are ordered by strictly increasing frequency.
type SweepCapture struct {
	Source     string    `json:"source"`     // Source identifier, usually the file path
	Timestamp  time.Time `json:"timestamp"`  // When the sweep was captured
	Samples    []Sample  `json:"samples"`    // Ordered sequence of measurements
	Resolution float64   `json:"resolution"` // Finest frequency spacing in Hz, 0 if unknown
}

// FrequencyStart returns the lowest frequency of the capture.
func (c *SweepCapture) FrequencyStart() float64 {
	if len(c.Samples) == 0 {
		return 0
	}
	return c.Samples[0].Frequency
}

// FrequencyEnd returns the highest frequency of the capture.
func (c *SweepCapture) FrequencyEnd() float64 {
	if len(c.Samples) == 0 {
		return 0
	}
	return c.Samples[len(c.Samples)-1].Frequency
}

// FrequencyBin is a canonical frequency slot used to align and aggregate
// samples from different captures.
type FrequencyBin struct {
	Center    float64 `json:"center"`    // Center frequency in Hz
	HalfWidth float64 `json:"halfWidth"` // Half of the bin resolution in Hz
}

// Low returns the lower edge of the bin.
func (b FrequencyBin) Low() float64 {
	return b.Center - b.HalfWidth
}

// High returns the upper edge of the bin.
func (b FrequencyBin) High() float64 {
	return b.Center + b.HalfWidth
}

// AggregatedBin is a FrequencyBin with summary statistics accumulated across
// all sweeps. Min, Max, Mean and Variance are only meaningful when Count > 0.
type AggregatedBin struct {
	FrequencyBin

	Count     int64    `json:"count"`               // Number of contributing samples
	Min       float64  `json:"min"`                 // Minimum power in dBm
	Max       float64  `json:"max"`                 // Maximum power in dBm
	Mean      float64  `json:"mean"`                // Mean power in dBm
	Variance  float64  `json:"variance"`            // Population variance in dB²
	Occupancy *float64 `json:"occupancy,omitempty"` // Fraction of samples above threshold, nil if undefined
}

// HasData reports whether any sample contributed to the bin.
func (b AggregatedBin) HasData() bool {
	return b.Count > 0
}

// InterferenceBand is a maximal run of adjacent bins whose mean power
// exceeds the noise floor by the configured margin.
type InterferenceBand struct {
	StartFrequency float64 `json:"startFrequency"` // Lower edge of the first bin in Hz
	EndFrequency   float64 `json:"endFrequency"`   // Upper edge of the last bin in Hz
	PeakFrequency  float64 `json:"peakFrequency"`  // Center of the bin holding the peak in Hz
	PeakPower      float64 `json:"peakPower"`      // Highest power observed within the band in dBm
	Bins           int     `json:"bins"`           // Number of bins in the band
}

// Bandwidth returns the width of the band in Hz.
func (b InterferenceBand) Bandwidth() float64 {
	return b.EndFrequency - b.StartFrequency
}

// Verdict is a channel sales opinion derived from sector occupancy.
type Verdict string

const (
	VerdictSell        Verdict = "Sell"
	VerdictSqueezeRoom Verdict = "Squeeze room"
	VerdictDontSell    Verdict = "Don't sell"
	VerdictNoData      Verdict = "No data"
)

// Sector is an equal-width slice of the surveyed spectrum with its
// combined occupancy and the resulting sales verdict.
type Sector struct {
	Index          int      `json:"index"`               // 1-based sector number
	StartFrequency float64  `json:"startFrequency"`      // Lower edge in Hz
	EndFrequency   float64  `json:"endFrequency"`        // Upper edge in Hz
	Occupancy      *float64 `json:"occupancy,omitempty"` // Sample-weighted occupancy, nil if no data
	Verdict        Verdict  `json:"verdict"`
}

// SkippedCapture records a capture file excluded from aggregation.
type SkippedCapture struct {
	Source string `json:"source"`
	Kind   string `json:"kind"`   // Error kind, e.g. "MalformedCapture"
	Line   int    `json:"line"`   // Offending line, 0 if not applicable
	Reason string `json:"reason"` // Human-readable failure description
}

// Settings are the analysis parameters a report was produced with.
type Settings struct {
	PowerThreshold       float64 `json:"powerThreshold"`       // Occupancy cutoff in dBm
	NoiseFloorMargin     float64 `json:"noiseFloorMargin"`     // Interference cutoff above noise floor in dB
	NoiseFloorPercentile float64 `json:"noiseFloorPercentile"` // Percentile used to estimate the noise floor
}

// Report is the sole output artifact of an analysis run.
type Report struct {
	RunID      string             `json:"runID"`
	TimeStart  time.Time          `json:"timeStart"`  // Earliest capture timestamp
	TimeEnd    time.Time          `json:"timeEnd"`    // Latest capture timestamp
	Captures   int                `json:"captures"`   // Number of aggregated captures
	BinWidth   float64            `json:"binWidth"`   // Canonical bin width in Hz
	Settings   Settings           `json:"settings"`   // Analysis parameters
	NoiseFloor float64            `json:"noiseFloor"` // Estimated noise floor in dBm
	Bins       []AggregatedBin    `json:"bins"`
	Bands      []InterferenceBand `json:"bands"`
	Sectors    []Sector           `json:"sectors"`
	Skipped    []SkippedCapture   `json:"skipped"`
}
