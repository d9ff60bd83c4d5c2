package pipeline

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/roman-kulish/spectrum-survey/internal/align"
	"github.com/roman-kulish/spectrum-survey/internal/detect"
	"github.com/roman-kulish/spectrum-survey/internal/report"
)

const (
	DefaultPowerThreshold   = -80.0 // dBm
	DefaultNoiseFloorMargin = 10.0  // dB
	DefaultMinBandBins      = 1

	// MetricsFileName is the name of the Prometheus textfile written to the
	// output directory.
	MetricsFileName = "occupancy.prom"
)

// ConfigError is returned when the run configuration is invalid.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration '%s': %s", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Config is the immutable configuration of a single analysis run.
type Config struct {
	InputDir  string
	OutputDir string
	Recursive bool // Descend into subdirectories of InputDir

	PowerThreshold        float64 // Occupancy cutoff in dBm
	NoiseFloorMargin      float64 // Interference cutoff above the noise floor in dB
	BinResolutionOverride float64 // Canonical bin width in Hz, 0 to derive it from captures
	MaxBins               int

	NoiseFloorPercentile float64
	NoiseFloorMethod     detect.Method
	MinBandBins          int

	Sectors          int
	SectorThresholds detect.SectorThresholds

	Workers int // Parallel workers, 0 for one per CPU
	Formats []report.Format
	Metrics bool // Write a Prometheus textfile next to the report
	Strict  bool // Abort on the first capture that fails to parse
}

// DefaultConfig returns the configuration with every option at its default.
func DefaultConfig() Config {
	return Config{
		PowerThreshold:       DefaultPowerThreshold,
		NoiseFloorMargin:     DefaultNoiseFloorMargin,
		MaxBins:              align.DefaultMaxBins,
		NoiseFloorPercentile: detect.DefaultPercentile,
		NoiseFloorMethod:     detect.MethodPercentile,
		MinBandBins:          DefaultMinBandBins,
		Sectors:              detect.DefaultSectors,
		SectorThresholds:     detect.DefaultSectorThresholds(),
		Formats:              []report.Format{report.FormatCSV},
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch {
	case c.InputDir == "":
		return &ConfigError{Field: "input_dir", Err: errors.New("not set")}
	case c.OutputDir == "":
		return &ConfigError{Field: "output_dir", Err: errors.New("not set")}
	case c.NoiseFloorMargin < 0:
		return &ConfigError{Field: "noise_floor_margin_db", Err: errors.New("must not be negative")}
	case c.BinResolutionOverride < 0:
		return &ConfigError{Field: "bin_resolution_override", Err: errors.New("must not be negative")}
	case c.NoiseFloorPercentile <= 0 || c.NoiseFloorPercentile > 100:
		return &ConfigError{Field: "noise_floor_percentile", Err: detect.ErrPercentile}
	case c.MinBandBins < 0:
		return &ConfigError{Field: "min_band_bins", Err: errors.New("must not be negative")}
	case c.Sectors < 0:
		return &ConfigError{Field: "sectors", Err: errors.New("must not be negative")}
	case c.Workers < 0:
		return &ConfigError{Field: "workers", Err: errors.New("must not be negative")}
	case c.MaxBins < 0:
		return &ConfigError{Field: "max_bins", Err: errors.New("must not be negative")}
	}

	if _, err := detect.ParseMethod(string(c.NoiseFloorMethod)); err != nil {
		return &ConfigError{Field: "noise_floor_method", Err: err}
	}
	if err := c.SectorThresholds.Validate(); err != nil {
		return &ConfigError{Field: "sector_thresholds", Err: err}
	}
	for _, f := range c.Formats {
		if _, err := report.ParseFormats([]string{string(f)}); err != nil {
			return &ConfigError{Field: "formats", Err: err}
		}
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

func (c Config) settings() string {
	return fmt.Sprintf("threshold=%g margin=%g resolution=%g percentile=%g method=%s min_band_bins=%d sectors=%d",
		c.PowerThreshold, c.NoiseFloorMargin, c.BinResolutionOverride, c.NoiseFloorPercentile,
		c.NoiseFloorMethod, c.MinBandBins, c.Sectors)
}
