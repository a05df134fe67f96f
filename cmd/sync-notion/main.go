package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/finance-ingest/internal/app"
	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/notionsync"
	"github.com/dvloznov/finance-ingest/internal/store"
)

func main() {
	log := logger.New()

	configPath := flag.String("config", os.Getenv("FT_CONFIG"), "Path to config YAML (or set FT_CONFIG)")
	notionToken := flag.String("notion-token", "", "Notion API token (default: notion.token / NOTION_TOKEN)")
	notionDBID := flag.String("notion-db-id", "", "Recurring payments database ID (default: notion.recurring_database_id)")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *notionToken == "" {
		*notionToken = cfg.Notion.Token
	}
	if *notionDBID == "" {
		*notionDBID = cfg.Notion.RecurringDatabaseID
	}
	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token is required")
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	svc, err := app.StoreOnly(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer svc.Close()

	history, err := svc.Store.List(ctx, store.Filter{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list transactions")
	}
	groups := svc.Detector.Detect(history)

	log.Info().
		Int("transactions", len(history)).
		Int("recurring", len(groups)).
		Bool("dry_run", *dryRun).
		Msg("Starting Notion sync")

	res, err := notionsync.SyncRecurring(ctx, notionsync.NewNotionClient(*notionToken), *notionDBID, groups, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync completed: created %d, updated %d, archived %d, failed %d\n",
		res.Created, res.Updated, res.Archived, res.Failed)
}
