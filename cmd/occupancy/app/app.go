package app

import (
	"context"
	"log/slog"

	"github.com/roman-kulish/spectrum-survey/internal/pipeline"
)

// Run executes a single analysis run with the given configuration.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	cfg, err := config.PipelineConfig()
	if err != nil {
		return err
	}

	logger.Info("starting occupancy analysis",
		slog.String("input", cfg.InputDir),
		slog.String("output", cfg.OutputDir),
		slog.Int("workers", cfg.Workers),
	)

	outcome, err := pipeline.Run(ctx, cfg, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}

	for _, path := range outcome.Paths {
		logger.Info("report written", slog.String("path", path))
	}
	if outcome.MetricsPath != "" {
		logger.Info("metrics written", slog.String("path", outcome.MetricsPath))
	}
	if n := len(outcome.Report.Skipped); n > 0 {
		logger.Warn("some captures were skipped, see the report for details", slog.Int("skipped", n))
	}
	return nil
}
