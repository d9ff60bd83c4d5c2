package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/spectrum-survey/internal/detect"
	"github.com/roman-kulish/spectrum-survey/internal/pipeline"
	"github.com/roman-kulish/spectrum-survey/internal/report"
)

const (
	EnvInputDir  = "OCCUPANCY_INPUT_DIR"
	EnvOutputDir = "OCCUPANCY_OUTPUT_DIR"

	defaultEnvFile = ".env"
)

// Frequency is a frequency in Hz. It can be written as a plain number or
// with an SI prefix, e.g. "125k" or "1.5 MHz".
type Frequency float64

func (f *Frequency) UnmarshalYAML(value *yaml.Node) error {
	return f.Set(value.Value)
}

func (f *Frequency) MarshalYAML() (interface{}, error) {
	return f.String(), nil
}

// Set implements flag.Value.
func (f *Frequency) Set(s string) error {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = Frequency(v)
		return nil
	}

	v, unit, err := humanize.ParseSI(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return fmt.Errorf("app.Frequency: failed to parse %q", s)
	}
	if unit != "" && !strings.EqualFold(unit, "Hz") {
		return fmt.Errorf("app.Frequency: invalid unit %q", unit)
	}
	*f = Frequency(v)
	return nil
}

func (f *Frequency) String() string {
	if f == nil {
		return "0"
	}
	return strconv.FormatFloat(float64(*f), 'f', -1, 64)
}

// Config represents the main application configuration
type Config struct {
	Settings Settings       `yaml:"settings"`
	Input    InputConfig    `yaml:"input"`
	Output   OutputConfig   `yaml:"output"`
	Analysis AnalysisConfig `yaml:"analysis"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"log_level"`
	Workers  int    `yaml:"workers"`
	Strict   bool   `yaml:"strict"`
}

// InputConfig represents capture discovery settings
type InputConfig struct {
	Dir       string `yaml:"dir"`
	Recursive bool   `yaml:"recursive"`
}

// OutputConfig represents report output settings
type OutputConfig struct {
	Dir     string   `yaml:"dir"`
	Formats []string `yaml:"formats"`
	Metrics bool     `yaml:"metrics"`
}

// AnalysisConfig represents the parameters of the occupancy analysis
type AnalysisConfig struct {
	PowerThreshold        float64                 `yaml:"power_threshold_dbm"`
	NoiseFloorMargin      float64                 `yaml:"noise_floor_margin_db"`
	BinResolutionOverride Frequency               `yaml:"bin_resolution_override"`
	MaxBins               int                     `yaml:"max_bins"`
	NoiseFloorPercentile  float64                 `yaml:"noise_floor_percentile"`
	NoiseFloorMethod      string                  `yaml:"noise_floor_method"`
	MinBandBins           int                     `yaml:"min_band_bins"`
	Sectors               int                     `yaml:"sectors"`
	SectorThresholds      detect.SectorThresholds `yaml:"sector_thresholds"`
}

// NewConfig returns the configuration with every option at its default.
func NewConfig() *Config {
	defaults := pipeline.DefaultConfig()

	return &Config{
		Settings: Settings{
			LogLevel: slog.LevelInfo.String(),
		},
		Output: OutputConfig{
			Formats: []string{string(report.FormatCSV)},
		},
		Analysis: AnalysisConfig{
			PowerThreshold:       defaults.PowerThreshold,
			NoiseFloorMargin:     defaults.NoiseFloorMargin,
			MaxBins:              defaults.MaxBins,
			NoiseFloorPercentile: defaults.NoiseFloorPercentile,
			NoiseFloorMethod:     string(defaults.NoiseFloorMethod),
			MinBandBins:          defaults.MinBandBins,
			Sectors:              defaults.Sectors,
			SectorThresholds:     defaults.SectorThresholds,
		},
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults.
// Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	c := NewConfig()
	if err := c.load(path); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) load(path string) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing config: %w", cErr)
		}
	}()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding config: %w", err)
	}
	return nil
}

// applyEnv fills the input and output directories from the environment when
// they are not configured otherwise.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvInputDir); v != "" && c.Input.Dir == "" {
		c.Input.Dir = v
	}
	if v := os.Getenv(EnvOutputDir); v != "" && c.Output.Dir == "" {
		c.Output.Dir = v
	}
}

// NewConfigFromCLI builds the configuration from command line arguments.
// Values are layered: defaults, then the YAML file given with -c, then every
// flag set explicitly. Directories still unset are taken from the environment,
// optionally loaded from a .env file.
func NewConfigFromCLI(args []string) (*Config, error) {
	fs := flag.NewFlagSet("occupancy", flag.ContinueOnError)

	var configPath, envPath, formats string
	var flags Config
	flags.Settings.LogLevel = slog.LevelInfo.String()

	fs.StringVar(&configPath, "c", "", "Path to the configuration file")
	fs.StringVar(&envPath, "env", defaultEnvFile, "Path to a .env file defining "+EnvInputDir+" and "+EnvOutputDir)
	fs.StringVar(&flags.Input.Dir, "in", "", "Directory holding the capture files")
	fs.BoolVar(&flags.Input.Recursive, "recursive", false, "Include captures in subdirectories")
	fs.StringVar(&flags.Output.Dir, "out", "", "Directory to write the report to")
	fs.StringVar(&formats, "formats", "csv", "Comma separated report formats. [csv, xlsx, sqlite]")
	fs.BoolVar(&flags.Output.Metrics, "metrics", false, "Write a Prometheus textfile next to the report")
	fs.Float64Var(&flags.Analysis.PowerThreshold, "threshold", pipeline.DefaultPowerThreshold, "Occupancy power threshold in dBm")
	fs.Float64Var(&flags.Analysis.NoiseFloorMargin, "margin", pipeline.DefaultNoiseFloorMargin, "Interference margin above the noise floor in dB")
	fs.Var(&flags.Analysis.BinResolutionOverride, "resolution", "Canonical bin width, e.g. 125k. 0 derives it from the captures")
	fs.IntVar(&flags.Analysis.MaxBins, "max-bins", 0, "Upper bound on the number of frequency bins")
	fs.Float64Var(&flags.Analysis.NoiseFloorPercentile, "percentile", detect.DefaultPercentile, "Percentile of bin means used as the noise floor")
	fs.StringVar(&flags.Analysis.NoiseFloorMethod, "method", string(detect.MethodPercentile), "Noise floor estimation method. [percentile, histogram]")
	fs.IntVar(&flags.Analysis.MinBandBins, "min-band-bins", pipeline.DefaultMinBandBins, "Minimum number of bins of an interference band")
	fs.IntVar(&flags.Analysis.Sectors, "sectors", detect.DefaultSectors, "Number of equal sectors rated in the report")
	fs.IntVar(&flags.Settings.Workers, "workers", 0, "Number of parallel workers, 0 for one per CPU")
	fs.BoolVar(&flags.Settings.Strict, "strict", false, "Abort when any capture fails to parse")
	fs.StringVar(&flags.Settings.LogLevel, "log-level", flags.Settings.LogLevel, "Log level. [debug, info, warn, error]")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	c := NewConfig()
	if configPath != "" {
		if err := c.load(configPath); err != nil {
			return nil, err
		}
	}

	err := godotenv.Load(envPath)
	explicitEnv := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "env" {
			explicitEnv = true
		}
	})
	if err != nil && (explicitEnv || !errors.Is(err, os.ErrNotExist)) {
		return nil, fmt.Errorf("loading environment file: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "in":
			c.Input.Dir = flags.Input.Dir
		case "recursive":
			c.Input.Recursive = flags.Input.Recursive
		case "out":
			c.Output.Dir = flags.Output.Dir
		case "formats":
			c.Output.Formats = strings.Split(formats, ",")
		case "metrics":
			c.Output.Metrics = flags.Output.Metrics
		case "threshold":
			c.Analysis.PowerThreshold = flags.Analysis.PowerThreshold
		case "margin":
			c.Analysis.NoiseFloorMargin = flags.Analysis.NoiseFloorMargin
		case "resolution":
			c.Analysis.BinResolutionOverride = flags.Analysis.BinResolutionOverride
		case "max-bins":
			c.Analysis.MaxBins = flags.Analysis.MaxBins
		case "percentile":
			c.Analysis.NoiseFloorPercentile = flags.Analysis.NoiseFloorPercentile
		case "method":
			c.Analysis.NoiseFloorMethod = flags.Analysis.NoiseFloorMethod
		case "min-band-bins":
			c.Analysis.MinBandBins = flags.Analysis.MinBandBins
		case "sectors":
			c.Analysis.Sectors = flags.Analysis.Sectors
		case "workers":
			c.Settings.Workers = flags.Settings.Workers
		case "strict":
			c.Settings.Strict = flags.Settings.Strict
		case "log-level":
			c.Settings.LogLevel = flags.Settings.LogLevel
		}
	})
	c.applyEnv()

	if _, err = c.PipelineConfig(); err != nil {
		fs.Usage()
		return nil, err
	}
	return c, nil
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Settings.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log level: %w", err)
	}
	return level, nil
}

// PipelineConfig converts the configuration into the immutable run
// configuration and validates it.
func (c *Config) PipelineConfig() (pipeline.Config, error) {
	if _, err := c.Level(); err != nil {
		return pipeline.Config{}, &pipeline.ConfigError{Field: "log_level", Err: err}
	}

	method, err := detect.ParseMethod(strings.ToLower(c.Analysis.NoiseFloorMethod))
	if err != nil {
		return pipeline.Config{}, &pipeline.ConfigError{Field: "noise_floor_method", Err: err}
	}

	formats, err := report.ParseFormats(c.Output.Formats)
	if err != nil {
		return pipeline.Config{}, &pipeline.ConfigError{Field: "formats", Err: err}
	}

	cfg := pipeline.Config{
		InputDir:              c.Input.Dir,
		OutputDir:             c.Output.Dir,
		Recursive:             c.Input.Recursive,
		PowerThreshold:        c.Analysis.PowerThreshold,
		NoiseFloorMargin:      c.Analysis.NoiseFloorMargin,
		BinResolutionOverride: float64(c.Analysis.BinResolutionOverride),
		MaxBins:               c.Analysis.MaxBins,
		NoiseFloorPercentile:  c.Analysis.NoiseFloorPercentile,
		NoiseFloorMethod:      method,
		MinBandBins:           c.Analysis.MinBandBins,
		Sectors:               c.Analysis.Sectors,
		SectorThresholds:      c.Analysis.SectorThresholds,
		Workers:               c.Settings.Workers,
		Formats:               formats,
		Metrics:               c.Output.Metrics,
		Strict:                c.Settings.Strict,
	}
	if err = cfg.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	return cfg, nil
}
