package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/backend"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/cli"
	apphttp "github.com/alanaraujo-bit/meu-bolso-sub002/internal/http"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	res := cli.InitBackend(context.Background(), logger, cfg)
	clock := cli.Clock(logger, cfg)
	store := res.Store

	recurring := services.NewRecurringProcessor(store, store, clock, res.Publisher)
	recurring.SetConcurrency(cfg.RuleConcurrency)

	svc := apphttp.Services{
		Rules:     services.NewRuleService(store, store),
		Recurring: recurring,
		Projector: services.NewProjector(store, store, store, cfg.PreviewLimit),
		Debts:     services.NewDebtService(store, store, clock),
		Ledger:    services.NewLedgerService(store, res.Publisher),
	}

	srv := apphttp.NewServer(apphttp.Options{
		Addr:   ":" + cfg.Port,
		Clock:  clock,
		Logger: logger.WithComponent(log.ComponentHTTP),
		Ready:  store.Ping,
	}, svc)

	// The in-memory store lives in this process only, so the recurring
	// sweep has to run here too.
	var runner *services.Runner
	if backend.BackendType(cfg.DataBackend) == backend.MemoryBackend {
		runnerCfg := services.DefaultRunnerConfig("recurring")
		runnerCfg.Interval = cfg.RecurringInterval
		runner = services.NewRunner(runnerCfg, services.RecurringJob(recurring))
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if runner != nil {
			if err := runner.Stop(ctx); err != nil {
				logger.Warn("Recurring runner stop error", log.FieldError, err)
			}
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	if runner != nil {
		if err := runner.Start(ctx); err != nil {
			logger.Error("Failed to start recurring runner", log.FieldError, err)
			os.Exit(1)
		}
	}

	logger.Info("Starting meubolso server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp_enabled", res.Publisher != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
