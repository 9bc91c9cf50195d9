package main

import (
	"context"
	"os"
	"time"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/cli"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentRecurring)
	logger.Info("Starting recurring-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.DataBackend != "sqlite" {
		logger.Warn("Recurring worker running against a process-local store; generated entries are not shared",
			"backend", cfg.DataBackend)
	}

	res := cli.InitBackend(context.Background(), logger, cfg)

	processor := services.NewRecurringProcessor(res.Store, res.Store, cli.Clock(logger, cfg), res.Publisher)
	processor.SetConcurrency(cfg.RuleConcurrency)

	runnerCfg := services.DefaultRunnerConfig("recurring")
	runnerCfg.Interval = cfg.RecurringInterval
	runner := services.NewRunner(runnerCfg, services.RecurringJob(processor))

	logger.Info("Recurring processor configured",
		"interval", cfg.RecurringInterval,
		"concurrency", cfg.RuleConcurrency,
		"timezone", cfg.Timezone,
		"amqp_enabled", res.Publisher != nil)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := runner.Stop(ctx); err != nil {
			logger.Warn("Recurring runner stop error", log.FieldError, err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	if err := runner.Start(ctx); err != nil {
		logger.Error("Failed to start recurring runner", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker shutdown complete")
}
