package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/source"
	"github.com/dvloznov/finance-ingest/internal/store/inmemory"
	"github.com/dvloznov/finance-ingest/internal/store/sqlstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		db      config.DatabaseConfig
		want    any
		wantErr string
	}{
		{name: "memory", db: config.DatabaseConfig{Driver: config.DriverMemory}, want: &inmemory.Store{}},
		{name: "sqlite in nested dir", db: config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(dir, "a", "b", "finance.db")}, want: &sqlstore.Store{}},
		{name: "bigquery without project", db: config.DatabaseConfig{Driver: config.DriverBigQuery}, wantErr: "gcp.project"},
		{name: "unknown driver", db: config.DatabaseConfig{Driver: "oracle"}, wantErr: "unsupported driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Database = tt.db

			st, err := OpenStore(context.Background(), cfg)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer st.Close()
			assert.IsType(t, tt.want, st)
		})
	}
}

func TestOpenWiresImporter(t *testing.T) {
	cfg := config.Default()
	cfg.Database = config.DatabaseConfig{Driver: config.DriverMemory}

	s, err := Open(context.Background(), cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.Importer)
	assert.NotNil(t, s.Runs, "the in-memory store keeps import history")
	assert.NotNil(t, s.Detector)
	require.NotNil(t, s.Rules)
	assert.NotNil(t, s.Rules.Current())
	assert.True(t, s.Categories.Valid(cfg.Categories[0]))
}

func TestStoreOnlyRejectsMissingAliasFile(t *testing.T) {
	cfg := config.Default()
	cfg.Database = config.DatabaseConfig{Driver: config.DriverMemory}
	cfg.AliasesPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := StoreOnly(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "merchant aliases")
}

func TestStoreOnlyRejectsMissingCategoryRules(t *testing.T) {
	cfg := config.Default()
	cfg.Database = config.DatabaseConfig{Driver: config.DriverMemory}
	cfg.CategoryRulesPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := StoreOnly(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "category rules")
}

func TestNewLoaderLocalOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "march.csv")
	require.NoError(t, os.WriteFile(path, []byte("date,description,amount\n"), 0o600))

	loader, closeFn, err := NewLoader(context.Background(), []string{path}, 0)
	require.NoError(t, err)
	defer closeFn()

	st, err := loader.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "march.csv", st.Filename)

	_, err = loader.Fetch(context.Background(), "gs://bucket/x.pdf")
	assert.ErrorIs(t, err, source.ErrNoObjectStore)
}
