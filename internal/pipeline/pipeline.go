package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/spectrum-survey/internal/aggregate"
	"github.com/roman-kulish/spectrum-survey/internal/align"
	"github.com/roman-kulish/spectrum-survey/internal/capture"
	"github.com/roman-kulish/spectrum-survey/internal/detect"
	"github.com/roman-kulish/spectrum-survey/internal/metrics"
	"github.com/roman-kulish/spectrum-survey/internal/report"
	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

// aggregateMemoryBudget caps the memory held by per-worker partial
// aggregates, in bytes.
const aggregateMemoryBudget int64 = 512 << 20

var runNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("github.com/roman-kulish/spectrum-survey"))

// Outcome is the result of a successful run.
type Outcome struct {
	Report      *spectrum.Report
	Paths       []string // Written report artifacts
	MetricsPath string   // Prometheus textfile, empty when disabled
}

// Option configures a run.
type Option func(*runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *runner) {
		r.logger = logger
	}
}

// WithNow sets the clock used to time the run.
func WithNow(now func() time.Time) Option {
	return func(r *runner) {
		r.now = now
	}
}

type runner struct {
	cfg      Config
	logger   *slog.Logger
	recorder *metrics.Recorder
	now      func() time.Time
}

type parsed struct {
	result  capture.Result
	elapsed time.Duration
}

// Run discovers the captures in cfg.InputDir, aggregates them and writes the
// report to cfg.OutputDir. Captures that fail to parse are listed in the
// report unless cfg.Strict is set. Cancelling ctx aborts the run without
// writing anything.
func Run(ctx context.Context, cfg Config, options ...Option) (*Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := runner{
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorder: metrics.NewRecorder(),
		now:      time.Now,
	}
	for _, option := range options {
		option(&r)
	}

	return r.run(ctx)
}

func (r *runner) run(ctx context.Context) (*Outcome, error) {
	started := r.now()

	files, err := capture.Discover(r.cfg.InputDir, r.cfg.Recursive)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &EmptyDatasetError{Dir: r.cfg.InputDir}
	}
	r.logger.Info("discovered capture files", slog.Int("files", len(files)), slog.String("dir", r.cfg.InputDir))

	results, err := r.parse(ctx, files)
	if err != nil {
		return nil, err
	}

	captures, skipped, err := r.collect(results)
	if err != nil {
		return nil, err
	}

	grid, err := align.NewGrid(captures, align.WithBinWidth(r.cfg.BinResolutionOverride), align.WithMaxBins(r.cfg.MaxBins))
	if err != nil {
		return nil, fmt.Errorf("aligning captures: %w", err)
	}
	r.logger.Debug("canonical grid", slog.String("grid", grid.String()))

	agg, err := r.aggregate(ctx, grid, captures)
	if err != nil {
		return nil, err
	}
	if n := agg.Dropped(); n > 0 {
		r.logger.Warn("samples outside the canonical grid", slog.Int64("samples", n))
	}

	rep, err := r.buildReport(agg, captures, skipped)
	if err != nil {
		return nil, err
	}

	// Nothing is written once the run has been cancelled.
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	elapsed := r.now().Sub(started)
	r.recorder.ReportBuilt(rep, elapsed)

	var extras []report.Artifact
	if r.cfg.Metrics {
		extras = append(extras, report.Artifact{Name: MetricsFileName, Encode: r.recorder.WriteText})
	}

	writer := report.NewWriter(r.cfg.OutputDir, report.WithFormats(r.cfg.Formats...), report.WithLogger(r.logger))
	paths, err := writer.Write(ctx, rep, extras...)
	if err != nil {
		return nil, err
	}

	outcome := Outcome{Report: rep, Paths: paths}
	if r.cfg.Metrics {
		outcome.Paths, outcome.MetricsPath = paths[:len(paths)-1], paths[len(paths)-1]
	}

	r.logger.Info("analysis complete",
		slog.Group("report",
			slog.String("run_id", rep.RunID),
			slog.Int("captures", rep.Captures),
			slog.Int("skipped", len(rep.Skipped)),
			slog.String("bins", humanize.Comma(int64(len(rep.Bins)))),
			slog.String("bin_width", humanize.SIWithDigits(rep.BinWidth, 3, "Hz")),
			slog.Float64("noise_floor_dbm", rep.NoiseFloor),
			slog.Int("bands", len(rep.Bands)),
		),
		slog.Duration("elapsed", elapsed),
	)

	return &outcome, nil
}

// parse parses every file on a bounded pool of workers. Each worker only
// writes its own result slot.
func (r *runner) parse(ctx context.Context, files []string) ([]parsed, error) {
	results := make([]parsed, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.workers())

	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			started := r.now()
			res := capture.ParseFile(path, capture.WithLogger(r.logger))
			results[i] = parsed{result: res, elapsed: r.now().Sub(started)}

			if res.Err != nil && r.cfg.Strict {
				return fmt.Errorf("parsing capture: %w", res.Err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// errgroup does not report a cancellation of the parent context when
	// every worker finished in time.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// collect splits parse results into captures and skipped files, keeping the
// discovery order.
func (r *runner) collect(results []parsed) ([]*spectrum.SweepCapture, []spectrum.SkippedCapture, error) {
	var captures []*spectrum.SweepCapture
	var skipped []spectrum.SkippedCapture

	for _, p := range results {
		res := p.result
		if res.OK() {
			captures = append(captures, res.Capture)
			r.recorder.CaptureParsed(len(res.Capture.Samples), len(res.Warnings), p.elapsed)
			r.logger.Debug("parsed capture",
				slog.String("source", res.Source),
				slog.Int("samples", len(res.Capture.Samples)),
				slog.Int("warnings", len(res.Warnings)),
			)
			continue
		}

		sk := spectrum.SkippedCapture{
			Source: res.Source,
			Kind:   capture.Kind(res.Err),
			Line:   capture.Line(res.Err),
			Reason: res.Err.Error(),
		}
		skipped = append(skipped, sk)
		r.recorder.CaptureSkipped(sk.Kind, p.elapsed)
		r.logger.Warn("skipping capture",
			slog.String("source", sk.Source),
			slog.String("kind", sk.Kind),
			slog.Int("line", sk.Line),
			slog.String("reason", sk.Reason),
		)
	}

	if len(captures) == 0 {
		return nil, nil, &EmptyDatasetError{Dir: r.cfg.InputDir, Failures: skipped}
	}
	return captures, skipped, nil
}

// aggregate folds captures into per-worker partial aggregates and merges
// them once every worker is done.
func (r *runner) aggregate(ctx context.Context, grid *align.Grid, captures []*spectrum.SweepCapture) (*aggregate.Aggregate, error) {
	workers := aggregateWorkers(r.cfg.workers(), len(captures), grid.Len())
	chunk := (len(captures) + workers - 1) / workers

	var parts []*aggregate.Aggregate
	g, gctx := errgroup.WithContext(ctx)

	for start := 0; start < len(captures); start += chunk {
		part := aggregate.New(grid, r.cfg.PowerThreshold)
		parts = append(parts, part)
		subset := captures[start:min(start+chunk, len(captures))]

		g.Go(func() error {
			for _, c := range subset {
				if err := gctx.Err(); err != nil {
					return err
				}
				part.Observe(c)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	agg, err := aggregate.Reduce(parts)
	if err != nil {
		return nil, fmt.Errorf("merging aggregates: %w", err)
	}
	return agg, nil
}

// aggregateWorkers bounds the number of partial aggregates so that together
// they stay within aggregateMemoryBudget. At least one worker always runs.
func aggregateWorkers(workers, captures, bins int) int {
	perWorker := max(int64(bins)*int64(unsafe.Sizeof(aggregate.Accumulator{})), 1)
	budget := int(max(aggregateMemoryBudget/perWorker, 1))
	return max(min(workers, captures, budget), 1)
}

func (r *runner) buildReport(agg *aggregate.Aggregate, captures []*spectrum.SweepCapture, skipped []spectrum.SkippedCapture) (*spectrum.Report, error) {
	bins := agg.Bins()

	floor, err := detect.NoiseFloor(bins, r.cfg.NoiseFloorPercentile, r.cfg.NoiseFloorMethod)
	if err != nil {
		return nil, fmt.Errorf("estimating noise floor: %w", err)
	}

	timeStart, timeEnd := agg.TimeRange()

	return &spectrum.Report{
		RunID:     r.runID(captures),
		TimeStart: timeStart,
		TimeEnd:   timeEnd,
		Captures:  agg.Captures(),
		BinWidth:  agg.Grid().Width(),
		Settings: spectrum.Settings{
			PowerThreshold:       r.cfg.PowerThreshold,
			NoiseFloorMargin:     r.cfg.NoiseFloorMargin,
			NoiseFloorPercentile: r.cfg.NoiseFloorPercentile,
		},
		NoiseFloor: floor,
		Bins:       bins,
		Bands:      detect.Detect(bins, floor, r.cfg.NoiseFloorMargin, r.cfg.MinBandBins),
		Sectors:    detect.Sectors(bins, r.cfg.Sectors, r.cfg.SectorThresholds),
		Skipped:    skipped,
	}, nil
}

// runID derives a stable identifier from the aggregated captures and the
// analysis settings, so re-running the same survey yields the same ID.
func (r *runner) runID(captures []*spectrum.SweepCapture) string {
	var sb strings.Builder
	sb.WriteString(r.cfg.settings())
	for _, c := range captures {
		_, _ = fmt.Fprintf(&sb, "\n%s|%s|%d|%g|%g",
			filepath.Base(c.Source), c.Timestamp.UTC().Format(time.RFC3339Nano), len(c.Samples), c.FrequencyStart(), c.FrequencyEnd())
	}
	return uuid.NewSHA1(runNamespace, []byte(sb.String())).String()
}
