// Command worker imports many statements at once through the job queue and
// exits when every job has finished.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/finance-ingest/internal/app"
	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/jobs/inmemory"
	"github.com/dvloznov/finance-ingest/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("FT_CONFIG"), "Path to config YAML (or set FT_CONFIG)")
	workers := flag.Int("workers", 0, "Concurrent imports (default: jobs.workers)")
	flag.Parse()

	log := logger.New()

	if flag.NArg() == 0 {
		log.Fatal().Msg("Usage: worker [options] DIR|FILE|gs://bucket/object ...")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *workers > 0 {
		cfg.Jobs.Workers = *workers
	}

	uris, err := expand(flag.Args())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list statements")
	}
	if len(uris) == 0 {
		log.Fatal().Msg("No CSV or PDF statements found")
	}

	// Cancel on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	svc, err := app.Open(ctx, cfg, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire services")
	}
	defer svc.Close()

	loader, closeLoader, err := app.NewLoader(ctx, uris, cfg.Server.MaxUploadMB<<20)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create statement loader")
	}
	defer closeLoader()

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(len(uris), jobStore,
		inmemory.WithWorkers(cfg.Jobs.Workers),
		inmemory.WithRetries(cfg.Jobs.MaxRetries, cfg.Jobs.RetryBackoff),
	)

	if err := jobQueue.Start(ctx, jobs.ImportHandler(svc.Importer)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Int("statements", len(uris)).Int("workers", cfg.Jobs.Workers).Msg("Worker started")

	var ids []string
	for _, uri := range uris {
		stmt, err := loader.Fetch(ctx, uri)
		if err != nil {
			log.Error().Err(err).Str("uri", uri).Msg("Skipping unreadable statement")
			continue
		}
		job := &jobs.ImportJob{SourceFile: stmt.Filename, SourceURI: uri, Data: stmt.Data}
		if err := jobQueue.PublishImport(ctx, job); err != nil {
			log.Error().Err(err).Str("uri", uri).Msg("Failed to enqueue statement")
			continue
		}
		ids = append(ids, job.JobID)
	}

	failed := waitAll(ctx, jobStore, ids)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	for _, id := range ids {
		job, err := jobStore.GetJob(context.Background(), id)
		if err != nil || job.Summary == nil {
			continue
		}
		s := job.Summary
		fmt.Printf("%-40s %-24s inserted=%d duplicates=%d dropped=%d warnings=%d\n",
			s.SourceFile, s.Status, s.Inserted, s.SkippedDuplicates, s.Dropped, len(s.Warnings))
	}

	log.Info().Int("jobs", len(ids)).Int("failed", failed).Msg("Worker exited")
	if failed > 0 || len(ids) < len(uris) {
		svc.Close()
		os.Exit(1)
	}
}

// waitAll polls until every job is terminal or ctx ends and returns the
// number of failed (or unfinished) jobs.
func waitAll(ctx context.Context, store jobs.JobStore, ids []string) int {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		pending, failed := 0, 0
		for _, id := range ids {
			job, err := store.GetJob(ctx, id)
			if err != nil {
				failed++
				continue
			}
			switch {
			case job.Status == jobs.JobStatusFailed:
				failed++
			case !job.Status.Terminal():
				pending++
			}
		}
		if pending == 0 {
			return failed
		}

		select {
		case <-ctx.Done():
			return failed + pending
		case <-ticker.C:
		}
	}
}

// expand replaces directories with the CSV and PDF files directly inside them.
func expand(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "gs://") {
			out = append(out, arg)
			continue
		}
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".csv", ".pdf":
				if !e.IsDir() {
					out = append(out, filepath.Join(arg, e.Name()))
				}
			}
		}
	}
	return out, nil
}
