// Package cli provides common CLI initialization utilities shared by
// cmd/meubolso, cmd/recurring-worker and cmd/sync-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/backend"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/config"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func SetupLogger(component string) *log.Logger {
	logger := log.New(log.ConfigFromEnv(component))
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads .env files for local development. Missing files are
// ignored and variables already set in the environment win.
func LoadEnvFile(files ...string) {
	_ = godotenv.Load(files...)
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitBackend opens the configured store and the optional AMQP publisher.
// Exits the process on failure.
func InitBackend(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.BackendResult {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	return res
}

// Clock returns the wall clock in the configured timezone.
func Clock(logger *log.Logger, cfg *config.Config) core.Clock {
	loc, err := cfg.Location()
	if err != nil {
		logger.Warn("Unknown timezone, falling back to UTC", "timezone", cfg.Timezone, log.FieldError, err)
		loc = time.UTC
	}
	return core.SystemClock{Location: loc}
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// The returned context is cancelled on SIGINT or SIGTERM; cleanup then runs
// with a context bounded by timeout and the done channel closes after it.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	ctx, done := shutdownOn(sigChan, logger, timeout, cleanup)
	go func() {
		<-done
		signal.Stop(sigChan)
	}()
	return ctx, done
}

func shutdownOn(sigChan <-chan os.Signal, logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		finished := make(chan struct{})
		go func() {
			defer close(finished)
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		}
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
