package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nasqa/uut-harness/framework/config"
	"github.com/nasqa/uut-harness/framework/logging"
	"github.com/nasqa/uut-harness/framework/plan"
	"github.com/nasqa/uut-harness/framework/registry"
	"github.com/nasqa/uut-harness/framework/runner"
	"github.com/nasqa/uut-harness/framework/telemetry"
	"github.com/nasqa/uut-harness/pkg/cases"
)

func newRunCmd() *cobra.Command {
	cfg := config.Default()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every test plan under --plan_dir against the UUT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Resolve(cmd.Flags()); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cfg.BindFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	plans, err := plan.LoadPlans(cfg.PlanDir)
	if err != nil {
		return err
	}
	reg := registry.NewRegistry()
	cases.Register(reg)

	devices, err := newDevices(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := devices.Close(); err != nil {
			logger.Warn("failed to close device clients", zap.Error(err))
		}
	}()

	opts, store, err := runnerOptions(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	tel, shutdown, err := telemetry.Init(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()
	opts = append(opts, runner.WithTelemetry(tel))

	r, err := runner.NewRunner(cfg, logger, reg, devices, opts...)
	if err != nil {
		return err
	}
	logger.Info("run started",
		zap.Int("plans", len(plans)),
		zap.String("uut", cfg.UUTIP),
		zap.String("run_dir", cfg.RunDir()),
		zap.Any("config", cfg.Redacted()))

	result, err := r.RunAll(ctx, plans)
	if err != nil {
		return err
	}
	// Reports and uploads still go out after an interrupt.
	if err := r.Finish(context.WithoutCancel(ctx), result); err != nil {
		logger.Warn("run finished with reporting errors", zap.Error(err))
	}

	summary := result.Summarize()
	logger.Info("run complete", zap.Any("summary", summary))
	if result.ExitCode() != 0 {
		return &testsFailedError{failed: summary.Failed + summary.Errored, total: summary.Total}
	}
	return nil
}
