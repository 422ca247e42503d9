package app

import (
	"context"
	"fmt"

	"github.com/emtools/susanbridge/internal/ctxlog"
	"github.com/emtools/susanbridge/internal/executor"
	"github.com/emtools/susanbridge/internal/install"
	"github.com/emtools/susanbridge/internal/susan"
)

// Run executes every step of the loaded pipeline in order.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if len(a.config.Pipeline.Steps) == 0 {
		a.logger.Warn("Pipeline declares no steps, nothing to execute.")
		return nil
	}

	if _, err := susan.Home(); err != nil {
		return err
	}

	a.logger.Info("🚀 Starting pipeline execution...",
		"steps", len(a.config.Pipeline.Steps),
		"tilt_series", len(a.config.Pipeline.TiltSeries),
		"work_dir", a.config.Pipeline.Settings.WorkDir,
	)
	exec := executor.New(a.registry, a.converter, a.runner, a.config)
	if err := exec.Execute(ctx); err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	a.logger.Info("🏁 Execution finished.")
	return nil
}

// Check validates the pipeline without running anything: step wiring,
// tilt-series files on disk, and the SUSAN installation itself.
func (a *App) Check(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	exec := executor.New(a.registry, a.converter, a.runner, a.config)
	if err := exec.ValidateSteps(); err != nil {
		return err
	}
	for _, ts := range a.config.Pipeline.TiltSeries {
		if err := susan.CheckFile("stack", ts.Stack); err != nil {
			return err
		}
		if err := susan.CheckFile("angles", ts.Angles); err != nil {
			return err
		}
		if ts.DefocusFile != "" {
			if _, err := susan.ParseDefocusFile(ts.DefocusFile); err != nil {
				return err
			}
		}
	}

	home, err := susan.Home()
	if err != nil {
		return err
	}
	if err := install.Check(home); err != nil {
		return err
	}

	a.logger.Info("✅ Pipeline and installation look good.",
		"susan_home", home,
		"steps", len(a.config.Pipeline.Steps),
	)
	return nil
}
