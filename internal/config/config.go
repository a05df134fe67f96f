// Package config loads the settings shared by every binary: a YAML file,
// an optional .env file and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/llm"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/normalize"
	"github.com/dvloznov/finance-ingest/internal/pipeline"
	"github.com/dvloznov/finance-ingest/internal/recurrence"
	"github.com/dvloznov/finance-ingest/internal/store/sqlstore"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverBigQuery = "bigquery"
)

type Config struct {
	LLM        LLMConfig       `yaml:"llm"`
	Categories []string        `yaml:"categories" validate:"min=1,dive,required"`
	Import     ImportConfig    `yaml:"import"`
	Recurring  RecurringConfig `yaml:"recurring"`
	Database   DatabaseConfig  `yaml:"database"`
	Logging    LoggingConfig   `yaml:"logging"`
	Server     ServerConfig    `yaml:"server"`
	Jobs       JobsConfig      `yaml:"jobs"`
	Notion     NotionConfig    `yaml:"notion"`
	GCP        GCPConfig       `yaml:"gcp"`
	// AliasesPath points at the merchant alias YAML. Empty uses the built-in table.
	AliasesPath string `yaml:"aliases_path"`
	// CategoryRulesPath points at category overrides and keyword rules. Empty
	// uses the built-in keyword rules.
	CategoryRulesPath string `yaml:"category_rules_path"`
}

type LLMConfig struct {
	Provider          string        `yaml:"provider" validate:"oneof=ollama gemini"`
	Endpoint          string        `yaml:"endpoint" validate:"omitempty,url"`
	Model             string        `yaml:"model" validate:"required"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries        int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
}

type ImportConfig struct {
	MaxBatchLines  int      `yaml:"max_batch_lines" validate:"gte=0"`
	MaxBatchChars  int      `yaml:"max_batch_chars" validate:"gte=0"`
	DateFormats    []string `yaml:"date_formats"`
	SignPrecedence string   `yaml:"sign_precedence" validate:"oneof=hint signed"`
	SkipPhrases    []string `yaml:"skip_phrases"`
}

type RecurringConfig struct {
	MinOccurrences     int     `yaml:"min_occurrences" validate:"gte=2"`
	StrongOccurrences  int     `yaml:"strong_occurrences" validate:"gtefield=MinOccurrences"`
	AmountTolerancePct float64 `yaml:"amount_tolerance_pct" validate:"gte=0,lt=1"`
	AmountToleranceAbs float64 `yaml:"amount_tolerance_abs" validate:"gte=0"`
	IncludeInflows     bool    `yaml:"include_inflows"`
	UpcomingDays       int     `yaml:"upcoming_days" validate:"gt=0"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres memory bigquery"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxUploadMB  int64         `yaml:"max_upload_mb" validate:"gt=0"`
	CORSOrigins  []string      `yaml:"cors_origins"`
}

type JobsConfig struct {
	Workers      int           `yaml:"workers" validate:"gte=1"`
	QueueSize    int           `yaml:"queue_size" validate:"gte=1"`
	MaxRetries   int           `yaml:"max_retries" validate:"gte=0"`
	RetryBackoff time.Duration `yaml:"retry_backoff" validate:"gte=0"`
}

type NotionConfig struct {
	Token               string `yaml:"token"`
	RecurringDatabaseID string `yaml:"recurring_database_id"`
}

type GCPConfig struct {
	Project string `yaml:"project"`
	Dataset string `yaml:"dataset"`
	Bucket  string `yaml:"bucket"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	norm := normalize.DefaultConfig()
	rec := recurrence.DefaultConfig()
	return &Config{
		LLM: LLMConfig{
			Provider:          llm.ProviderOllama,
			Endpoint:          llm.DefaultOllamaEndpoint,
			Model:             llm.DefaultOllamaModel,
			Timeout:           llm.DefaultTimeout,
			MaxRetries:        3,
			RetryBackoff:      2 * time.Second,
			RequestsPerSecond: 2,
			Burst:             1,
		},
		Categories: append([]string(nil), domain.DefaultCategories...),
		Import: ImportConfig{
			MaxBatchLines:  pipeline.DefaultMaxBatchLines,
			MaxBatchChars:  pipeline.DefaultMaxBatchChars,
			SignPrecedence: string(norm.SignPrecedence),
		},
		Recurring: RecurringConfig{
			MinOccurrences:     rec.MinOccurrences,
			StrongOccurrences:  rec.StrongOccurrences,
			AmountTolerancePct: rec.AmountTolerancePct,
			AmountToleranceAbs: rec.AmountToleranceAbs.InexactFloat64(),
			UpcomingDays:       30,
		},
		Database: DatabaseConfig{Driver: sqlstore.DriverSQLite, DSN: "data/finance.db"},
		Logging:  LoggingConfig{Level: "info", Format: logger.FormatConsole},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			MaxUploadMB:  20,
			CORSOrigins:  []string{"*"},
		},
		Jobs: JobsConfig{Workers: 1, QueueSize: 100, MaxRetries: 3, RetryBackoff: 5 * time.Second},
	}
}

// Load reads path (skipped when empty), then .env in the working directory,
// then the environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("Load: parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("Load: .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment. Unset variables leave the
// current value alone.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("FT_LLM_PROVIDER", &c.LLM.Provider)
	e.str("FT_LLM_ENDPOINT", &c.LLM.Endpoint)
	e.str("FT_LLM_MODEL", &c.LLM.Model)
	e.duration("FT_LLM_TIMEOUT", &c.LLM.Timeout)
	e.integer("FT_LLM_MAX_RETRIES", &c.LLM.MaxRetries)
	switch strings.ToLower(c.LLM.Provider) {
	case llm.ProviderGemini:
		e.str("GOOGLE_API_KEY", &c.LLM.APIKey)
	default:
		e.str("OLLAMA_API_KEY", &c.LLM.APIKey)
	}
	if v, ok := lookup("FT_CATEGORIES"); ok && v != "" {
		c.Categories = splitList(v)
	}
	e.integer("FT_IMPORT_MAX_BATCH_LINES", &c.Import.MaxBatchLines)
	e.str("FT_IMPORT_SIGN_PRECEDENCE", &c.Import.SignPrecedence)
	e.str("FT_DB_DRIVER", &c.Database.Driver)
	e.str("FT_DB_DSN", &c.Database.DSN)
	e.str("FT_LOG_LEVEL", &c.Logging.Level)
	e.str("FT_LOG_FORMAT", &c.Logging.Format)
	e.str("FT_SERVER_ADDR", &c.Server.Addr)
	e.integer("FT_JOB_WORKERS", &c.Jobs.Workers)
	e.str("FT_ALIASES_PATH", &c.AliasesPath)
	e.str("FT_CATEGORY_RULES_PATH", &c.CategoryRulesPath)
	e.str("NOTION_TOKEN", &c.Notion.Token)
	e.str("NOTION_RECURRING_DB", &c.Notion.RecurringDatabaseID)
	e.str("GCP_PROJECT", &c.GCP.Project)
	e.str("BQ_DATASET", &c.GCP.Dataset)
	e.str("GCS_BUCKET", &c.GCP.Bucket)

	return errors.Join(e.errs...)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field constraint and a few cross-section rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
			}
			return fmt.Errorf("Validate: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("Validate: %w", err)
	}
	if c.LLM.Provider == llm.ProviderGemini && c.LLM.APIKey == "" {
		return errors.New("Validate: llm.api_key (or GOOGLE_API_KEY) is required for gemini")
	}
	if c.Database.Driver == DriverBigQuery && (c.GCP.Project == "" || c.GCP.Dataset == "") {
		return errors.New("Validate: gcp.project and gcp.dataset are required for the bigquery driver")
	}
	return nil
}

// LLMClient maps the llm section onto llm.Config.
func (c *Config) LLMClient() llm.Config {
	return llm.Config{
		Provider:          c.LLM.Provider,
		Endpoint:          c.LLM.Endpoint,
		Model:             c.LLM.Model,
		APIKey:            c.LLM.APIKey,
		Timeout:           c.LLM.Timeout,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
		Burst:             c.LLM.Burst,
		MaxRetries:        c.LLM.MaxRetries,
		RetryBackoff:      c.LLM.RetryBackoff,
	}
}

func (c *Config) Parser() pipeline.ParserConfig {
	return pipeline.ParserConfig{MaxBatchLines: c.Import.MaxBatchLines, MaxBatchChars: c.Import.MaxBatchChars}
}

// Normalize keeps the defaults for any list left empty.
func (c *Config) Normalize() normalize.Config {
	out := normalize.DefaultConfig()
	if len(c.Import.DateFormats) > 0 {
		out.DateFormats = c.Import.DateFormats
	}
	if len(c.Import.SkipPhrases) > 0 {
		out.SkipPhrases = c.Import.SkipPhrases
	}
	out.SignPrecedence = normalize.SignPrecedence(c.Import.SignPrecedence)
	return out
}

func (c *Config) Recurrence() recurrence.Config {
	return recurrence.Config{
		AmountTolerancePct: c.Recurring.AmountTolerancePct,
		AmountToleranceAbs: decimal.NewFromFloat(c.Recurring.AmountToleranceAbs),
		MinOccurrences:     c.Recurring.MinOccurrences,
		StrongOccurrences:  c.Recurring.StrongOccurrences,
		IncludeInflows:     c.Recurring.IncludeInflows,
	}
}

func (c *Config) Store() sqlstore.Config {
	return sqlstore.Config{Driver: c.Database.Driver, DSN: c.Database.DSN}
}

func (c *Config) Logger() logger.Config {
	return logger.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// bare numbers are seconds
		secs, nerr := strconv.Atoi(v)
		if nerr != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		d = time.Duration(secs) * time.Second
	}
	*dst = d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
