// Package app wires configuration into the collaborators every binary needs.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/dedup"
	bq "github.com/dvloznov/finance-ingest/internal/infra/bigquery"
	"github.com/dvloznov/finance-ingest/internal/llm"
	"github.com/dvloznov/finance-ingest/internal/merchant"
	"github.com/dvloznov/finance-ingest/internal/metrics"
	"github.com/dvloznov/finance-ingest/internal/normalize"
	"github.com/dvloznov/finance-ingest/internal/pipeline"
	"github.com/dvloznov/finance-ingest/internal/recurrence"
	"github.com/dvloznov/finance-ingest/internal/source"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/dvloznov/finance-ingest/internal/store/inmemory"
	"github.com/dvloznov/finance-ingest/internal/store/sqlstore"
	"github.com/rs/zerolog"
)

// Services holds the wired application. Runs is nil when the store keeps no
// import history.
type Services struct {
	Config     *config.Config
	Log        zerolog.Logger
	Metrics    *metrics.Metrics
	Store      store.TransactionStore
	Runs       store.ImportRunRecorder
	Categories *normalize.CategorySet
	Aliases    *merchant.Source
	Rules      *normalize.RuleSource
	Detector   *recurrence.Detector
	Importer   *pipeline.Importer
}

// StoreOnly opens the configured store without a model client. Read-only
// commands use it so they work while the model is offline.
func StoreOnly(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Services, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	aliases, err := merchant.NewSource(cfg.AliasesPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading merchant aliases: %w", err)
	}

	rules, err := normalize.NewRuleSource(cfg.CategoryRulesPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading category rules: %w", err)
	}

	s := &Services{
		Config:     cfg,
		Log:        log,
		Store:      st,
		Categories: normalize.NewCategorySet(cfg.Categories),
		Aliases:    aliases,
		Rules:      rules,
		Detector:   recurrence.New(cfg.Recurrence()),
	}
	if runs, ok := st.(store.ImportRunRecorder); ok {
		s.Runs = runs
	}
	return s, nil
}

// Open wires the full import path on top of StoreOnly. m may be nil.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger, m *metrics.Metrics) (*Services, error) {
	s, err := StoreOnly(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	s.Metrics = m

	client, err := llm.New(ctx, cfg.LLMClient())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("model client: %w", err)
	}

	parser := pipeline.NewParser(client, s.Categories, cfg.Parser(), m, pipeline.WithRules(s.Rules))

	opts := []pipeline.Option{pipeline.WithMetrics(m)}
	if s.Runs != nil {
		opts = append(opts, pipeline.WithRecorder(s.Runs))
	}
	s.Importer = pipeline.NewImporter(parser, dedup.New(s.Store), s.Aliases, cfg.Normalize(), opts...)

	log.Info().
		Str("provider", client.Name()).
		Str("model", cfg.LLM.Model).
		Str("driver", cfg.Database.Driver).
		Msg("Import pipeline ready")
	return s, nil
}

// Close releases the store.
func (s *Services) Close() error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Close()
}

// OpenStore selects the store implementation named by database.driver.
func OpenStore(ctx context.Context, cfg *config.Config) (store.TransactionStore, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		return inmemory.NewStore(), nil
	case config.DriverBigQuery:
		if cfg.GCP.Project == "" || cfg.GCP.Dataset == "" {
			return nil, errors.New("bigquery store needs gcp.project and gcp.dataset")
		}
		st, err := bq.New(ctx, cfg.GCP.Project, cfg.GCP.Dataset)
		if err != nil {
			return nil, fmt.Errorf("opening bigquery store: %w", err)
		}
		return st, nil
	default:
		if err := ensureDir(cfg.Database); err != nil {
			return nil, err
		}
		st, err := sqlstore.Open(cfg.Store())
		if err != nil {
			return nil, fmt.Errorf("opening %s store: %w", cfg.Database.Driver, err)
		}
		return st, nil
	}
}

// ensureDir creates the parent directory of a sqlite database file.
func ensureDir(db config.DatabaseConfig) error {
	if db.Driver != sqlstore.DriverSQLite || db.DSN == "" || strings.Contains(db.DSN, ":memory:") {
		return nil
	}
	path, _, _ := strings.Cut(strings.TrimPrefix(db.DSN, "file:"), "?")
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	return nil
}

// NewLoader returns a statement loader for uris. A storage client is only
// created when one of them is a gs:// URI; the returned close func releases it.
func NewLoader(ctx context.Context, uris []string, maxBytes int64) (*source.Loader, func() error, error) {
	for _, uri := range uris {
		if !strings.HasPrefix(uri, "gs://") {
			continue
		}
		gcs, err := source.NewGCS(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("storage client: %w", err)
		}
		return source.NewLoader(gcs, maxBytes), gcs.Close, nil
	}
	return source.NewLoader(nil, maxBytes), func() error { return nil }, nil
}
