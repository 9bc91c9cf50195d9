package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/amqp"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/cli"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/config"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/services"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/sheets"
	gsheet "github.com/alanaraujo-bit/meu-bolso-sub002/internal/sheets/google"
	sheetsmem "github.com/alanaraujo-bit/meu-bolso-sub002/internal/sheets/memory"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting sync-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the sync worker")
		os.Exit(1)
	}

	mirror := newMirror(logger, cfg)

	// The worker only consumes; the store is opened without a publisher.
	storeCfg := *cfg
	storeCfg.AMQPURL = ""
	res := cli.InitBackend(context.Background(), logger, &storeCfg)
	syncWorker := worker.NewSyncWorker(res.Store, mirror, cfg.SyncBatchSize)

	consumer, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	runnerCfg := services.DefaultRunnerConfig("sync-backlog")
	runnerCfg.Interval = cfg.SyncInterval
	runnerCfg.RunOnStart = false
	runner := services.NewRunner(runnerCfg, syncWorker.ProcessPending)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := runner.Stop(ctx); err != nil {
			logger.Warn("Sync runner stop error", log.FieldError, err)
		}
		if err := errors.Join(consumer.Close(), res.Cleanup()); err != nil {
			logger.Error("Cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", log.FieldError, err)
	}

	if err := runner.Start(ctx); err != nil {
		logger.Error("Failed to start sync runner", log.FieldError, err)
		os.Exit(1)
	}

	go func() {
		err := consumer.Consume(ctx, syncWorker.HandleMessage)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", log.FieldError, err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Sync-worker shutdown complete")
}

// newMirror connects to the spreadsheet, or falls back to an in-memory
// mirror that only records rows when no spreadsheet is configured.
func newMirror(logger *log.Logger, cfg *config.Config) sheets.Mirror {
	if !cfg.SheetsEnabled() {
		logger.Warn("Google Sheets disabled, mirroring into memory only")
		return sheetsmem.New()
	}
	client, err := gsheet.New(context.Background(), gsheet.Options{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client
}
