package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/dvloznov/finance-ingest/internal/app"
	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/pipeline"
)

func main() {
	log := logger.New()

	uri := flag.String("uri", "", "Statement to ingest: local path or gs://bucket/object")
	configPath := flag.String("config", os.Getenv("FT_CONFIG"), "Path to config YAML (or set FT_CONFIG)")
	flag.Parse()

	if *uri == "" {
		log.Fatal().Msg("Error: --uri is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Create context with timeout so the command doesn't hang on a stalled model
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	svc, err := app.Open(ctx, cfg, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire services")
	}
	defer svc.Close()

	loader, closeLoader, err := app.NewLoader(ctx, []string{*uri}, cfg.Server.MaxUploadMB<<20)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create statement loader")
	}
	defer closeLoader()

	stmt, err := loader.Fetch(ctx, *uri)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read statement")
	}

	log.Info().Str("uri", *uri).Msg("Starting ingestion")

	summary, importErr := svc.Importer.Import(ctx, pipeline.ImportRequest{
		Data:       stmt.Data,
		SourceFile: stmt.Filename,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summary)

	if importErr != nil {
		log.Error().Err(importErr).Msg("Ingestion failed")
		svc.Close()
		os.Exit(1)
	}
}
