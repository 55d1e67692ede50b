package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"photobooth/internal/artifact"
	"photobooth/internal/events"
	"photobooth/internal/http/handlers"
	httpapi "photobooth/internal/http/httpapi"
	"photobooth/internal/infra"
	"photobooth/internal/infra/geoip"
	"photobooth/internal/photo"
	"photobooth/internal/pipeline"
	"photobooth/internal/providers/comfy"
	"photobooth/internal/retention"
	"photobooth/internal/storage"
	"photobooth/internal/workflow"
)

func main() {
	// Muat .env (opsional)
	_ = godotenv.Load()

	// Konfigurasi & logger
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Artifact index + store
	index, closeIndex, err := artifact.OpenIndex(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.IndexBackend).Msg("failed to open artifact index")
	}
	defer closeIndex()

	files, err := storage.NewFileStore(cfg.StorageImagesDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare storage directory")
	}

	publisher, err := events.FromBrokers(cfg.KafkaBrokers, cfg.KafkaTopic, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure kafka publisher")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to flush events")
		}
	}()

	sources := artifact.NewSourcePolicy(cfg.ImageSourceAllowlist)
	store, err := artifact.NewStore(artifact.Options{
		Files:      files,
		Index:      index,
		Sources:    sources,
		HTTPClient: sources.Client(nil),
		MaxBytes:   cfg.ArtifactMaxBytes,
		Events:     publisher,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build artifact store")
	}
	if _, err := store.Reconcile(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to reconcile artifact index")
	}

	// Generation backend + workflow
	backend, err := comfy.NewClient(comfy.Options{
		BaseURL:    cfg.ComfyBaseURL,
		OutputNode: cfg.WorkflowOutputNode,
		Upload: comfy.UploadPolicy{
			MaxAttempts:    cfg.UploadMaxAttempts,
			Delay:          cfg.UploadRetryDelay,
			MaxDelay:       cfg.UploadMaxDelay,
			Jitter:         cfg.UploadJitter,
			MaxElapsed:     cfg.UploadMaxElapsed,
			Backoff:        cfg.UploadBackoff,
			AttemptTimeout: cfg.UploadTimeout,
		},
		Poll: comfy.PollPolicy{
			Interval:  cfg.PollInterval,
			MaxWait:   cfg.PollMaxWait,
			MaxErrors: cfg.PollMaxErrors,
		},
		Logger: &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build backend client")
	}
	tmpl, err := workflow.LoadTemplate(cfg.WorkflowTemplatePath, workflow.Bindings{
		ImageNode:  cfg.WorkflowImageNode,
		PromptNode: cfg.WorkflowPromptNode,
		FrameNode:  cfg.WorkflowFrameNode,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load workflow template")
	}
	gen, err := pipeline.New(pipeline.Options{
		Backend:          backend,
		Template:         tmpl,
		FramesDir:        cfg.FramesDir,
		DefaultFrameName: cfg.DefaultFrameName,
		Logger:           &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build pipeline")
	}

	geo, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer geo.Close()

	// Retention janitor
	janitor, err := retention.New(retention.Options{
		Catalog:  files,
		Evictor:  store,
		Policy:   retention.Policy{MaxAge: cfg.RetentionMaxAge(), MaxBytes: cfg.RetentionMaxBytes()},
		Interval: cfg.RetentionInterval,
		Logger:   &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build retention janitor")
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		janitor.Run(ctx)
	}()

	app := &handlers.App{
		Generator:      gen,
		Artifacts:      store,
		Photos:         photo.Normalizer{MaxDimension: cfg.PhotoMaxDimension},
		Sources:        sources,
		HTTPClient:     sources.Client(&http.Client{Timeout: cfg.UploadTimeout}),
		Stored:         files,
		Frames:         storage.OpenFileStore(cfg.FramesDir),
		UploadsDir:     cfg.UploadsDir,
		SubmitMaxBytes: cfg.SubmitMaxBytes,
		Logger:         &logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   "en",
		CountryLookup:   geo.Lookup(),
		TrustProxy:      cfg.TrustProxyHeaders,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	wg.Wait()
	logger.Info().Msg("server stopped")
}
