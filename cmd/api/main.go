package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-ingest/internal/api"
	"github.com/dvloznov/finance-ingest/internal/api/handlers"
	"github.com/dvloznov/finance-ingest/internal/app"
	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/jobs/inmemory"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/metrics"
	"github.com/dvloznov/finance-ingest/internal/source"
)

func main() {
	configPath := flag.String("config", os.Getenv("FT_CONFIG"), "Path to config YAML (or set FT_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		lg := logger.New()
		lg.Fatal().Err(err).Msg("Failed to load config")
	}

	log, err := logger.Configure(cfg.Logger())
	if err != nil {
		lg := logger.New()
		lg.Fatal().Err(err).Msg("Failed to configure logger")
	}

	ctx := logger.WithContext(context.Background(), log)
	m := metrics.New()

	svc, err := app.Open(ctx, cfg, log, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire services")
	}
	defer svc.Close()

	var archiver handlers.Archiver
	if cfg.GCP.Bucket != "" {
		gcs, err := source.NewGCS(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create storage client")
		}
		defer gcs.Close()
		archiver = source.NewLoader(gcs, cfg.Server.MaxUploadMB<<20)
	} else {
		log.Warn().Msg("No GCS bucket configured - uploaded statements will not be archived")
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.QueueSize, jobStore,
		inmemory.WithWorkers(cfg.Jobs.Workers),
		inmemory.WithRetries(cfg.Jobs.MaxRetries, cfg.Jobs.RetryBackoff),
		inmemory.WithMetrics(m),
	)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, jobs.ImportHandler(svc.Importer)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	handler := api.NewRouter(api.Deps{
		Store:        svc.Store,
		Runs:         svc.Runs,
		Publisher:    jobQueue,
		Jobs:         jobStore,
		Detector:     svc.Detector,
		Categories:   svc.Categories,
		Archiver:     archiver,
		Metrics:      m,
		Log:          log,
		Bucket:       cfg.GCP.Bucket,
		MaxUpload:    cfg.Server.MaxUploadMB << 20,
		UpcomingDays: cfg.Recurring.UpcomingDays,
		CORSOrigins:  cfg.Server.CORSOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let in-flight imports finish their current batch before stopping.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
