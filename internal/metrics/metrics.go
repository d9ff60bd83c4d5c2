package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

const namespace = "occupancy"

// Recorder collects the metrics of a single analysis run on its own
// registry. All methods are safe for concurrent use.
type Recorder struct {
	registry *prometheus.Registry

	capturesParsed  prometheus.Counter
	capturesSkipped *prometheus.CounterVec
	samples         prometheus.Counter
	lineWarnings    prometheus.Counter
	parseDuration   prometheus.Histogram

	bins          prometheus.Gauge
	binsEmpty     prometheus.Gauge
	bands         prometheus.Gauge
	noiseFloor    prometheus.Gauge
	binWidth      prometheus.Gauge
	occupancyMean prometheus.Gauge
	sectors       *prometheus.GaugeVec
	runDuration   prometheus.Gauge
	lastRun       prometheus.Gauge
}

// NewRecorder creates a Recorder with all collectors registered.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		capturesParsed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_parsed_total",
			Help:      "Number of capture files parsed successfully",
		}),
		capturesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_skipped_total",
			Help:      "Number of capture files excluded from aggregation",
		}, []string{"kind"}),
		samples: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Number of power samples read from captures",
		}),
		lineWarnings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "line_warnings_total",
			Help:      "Number of capture lines skipped by the parser",
		}),
		parseDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parse_duration_seconds",
			Help:      "Time spent parsing a single capture file",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),

		bins: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bins",
			Help:      "Number of canonical frequency bins",
		}),
		binsEmpty: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bins_empty",
			Help:      "Number of frequency bins without samples",
		}),
		bands: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interference_bands",
			Help:      "Number of detected interference bands",
		}),
		noiseFloor: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "noise_floor_dbm",
			Help:      "Estimated noise floor in dBm",
		}),
		binWidth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bin_width_hz",
			Help:      "Canonical bin width in Hz",
		}),
		occupancyMean: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "occupancy_ratio_mean",
			Help:      "Sample-weighted occupancy across all bins",
		}),
		sectors: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sectors",
			Help:      "Number of sectors per sales verdict",
		}, []string{"verdict"}),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the analysis run",
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix timestamp of the last completed run",
		}),
	}
}

// Registry returns the registry holding the run metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// CaptureParsed records a successfully parsed capture.
func (r *Recorder) CaptureParsed(samples, warnings int, elapsed time.Duration) {
	r.capturesParsed.Inc()
	r.samples.Add(float64(samples))
	r.lineWarnings.Add(float64(warnings))
	r.parseDuration.Observe(elapsed.Seconds())
}

// CaptureSkipped records a capture excluded from aggregation.
func (r *Recorder) CaptureSkipped(kind string, elapsed time.Duration) {
	r.capturesSkipped.WithLabelValues(kind).Inc()
	r.parseDuration.Observe(elapsed.Seconds())
}

// ReportBuilt records the summary of a finished report.
func (r *Recorder) ReportBuilt(rep *spectrum.Report, elapsed time.Duration) {
	var empty int
	var above, total float64
	for _, b := range rep.Bins {
		if !b.HasData() {
			empty++
			continue
		}
		above += *b.Occupancy * float64(b.Count)
		total += float64(b.Count)
	}

	r.bins.Set(float64(len(rep.Bins)))
	r.binsEmpty.Set(float64(empty))
	r.bands.Set(float64(len(rep.Bands)))
	r.noiseFloor.Set(rep.NoiseFloor)
	r.binWidth.Set(rep.BinWidth)
	if total > 0 {
		r.occupancyMean.Set(above / total)
	}

	r.sectors.Reset()
	for _, s := range rep.Sectors {
		r.sectors.WithLabelValues(string(s.Verdict)).Inc()
	}

	r.runDuration.Set(elapsed.Seconds())
	r.lastRun.SetToCurrentTime()
}

// WriteText encodes the run metrics in the text exposition format read by
// the node exporter textfile collector.
func (r *Recorder) WriteText(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err = expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encoding metrics: %w", err)
		}
	}
	return nil
}
