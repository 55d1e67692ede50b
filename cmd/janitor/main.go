// Command janitor runs a single retention cycle over the artifact directory,
// for deployments that schedule eviction with cron instead of the API process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"photobooth/internal/artifact"
	"photobooth/internal/events"
	"photobooth/internal/infra"
	"photobooth/internal/retention"
	"photobooth/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	index, closeIndex, err := artifact.OpenIndex(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("janitor: open index failed")
	}
	defer closeIndex()

	files := storage.OpenFileStore(cfg.StorageImagesDir)
	publisher, err := events.FromBrokers(cfg.KafkaBrokers, cfg.KafkaTopic, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("janitor: configure kafka publisher failed")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("janitor: flush events failed")
		}
	}()

	store, err := artifact.NewStore(artifact.Options{Files: files, Index: index, Events: publisher, Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("janitor: build store failed")
	}

	janitor, err := retention.New(retention.Options{
		Catalog: files,
		Evictor: store,
		Policy:  retention.Policy{MaxAge: cfg.RetentionMaxAge(), MaxBytes: cfg.RetentionMaxBytes()},
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("janitor: build failed")
	}

	report, err := janitor.RunCycle(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("janitor: cycle failed")
		return 1
	}
	logger.Info().
		Int("scanned", report.Scanned).
		Int("deleted", report.Deleted()).
		Int("failures", report.Failures).
		Str("freed", humanize.IBytes(uint64(report.BytesBefore-report.BytesAfter))).
		Msg("janitor: done")
	if report.Failures > 0 {
		return 2
	}
	return 0
}
