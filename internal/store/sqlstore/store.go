// Package sqlstore is the embedded transaction store backed by gorm.
// SQLite is the default engine; PostgreSQL is accepted for shared setups.
package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/store"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the engine and connection string.
type Config struct {
	Driver string // sqlite (default) or postgres
	DSN    string // file path for sqlite, connection URL for postgres
}

// Store implements store.TransactionStore and store.ImportRunRecorder.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "", DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "finance.db"
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("Open: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("Open: connect: %w", err)
	}

	if dialector.Name() == DriverSQLite {
		// One writer; also keeps ":memory:" databases on a single connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("Open: sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&transactionRecord{}, &importRunRecord{}); err != nil {
		return nil, fmt.Errorf("New: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// HasFingerprint implements store.TransactionStore.
func (s *Store) HasFingerprint(ctx context.Context, fp string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&transactionRecord{}).
		Where("fingerprint = ?", fp).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("HasFingerprint: %w", err)
	}
	return n > 0, nil
}

// InsertBatch implements store.TransactionStore inside one database transaction.
func (s *Store) InsertBatch(ctx context.Context, txs []*domain.CanonicalTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	records := make([]transactionRecord, 0, len(txs))
	for _, tx := range txs {
		if tx.ID == "" || tx.Fingerprint == "" {
			return fmt.Errorf("InsertBatch: transaction without id or fingerprint")
		}
		records = append(records, toRecord(tx))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("InsertBatch: %w: %v", store.ErrDuplicateFingerprint, err)
		}
		return fmt.Errorf("InsertBatch: %w", err)
	}
	return nil
}

// List implements store.TransactionStore.
func (s *Store) List(ctx context.Context, f store.Filter) ([]*domain.CanonicalTransaction, error) {
	q := s.db.WithContext(ctx).Model(&transactionRecord{})
	if f.From != nil {
		q = q.Where("date >= ?", f.From.String())
	}
	if f.To != nil {
		q = q.Where("date <= ?", f.To.String())
	}
	if f.Category != "" {
		q = q.Where("LOWER(category) = ?", strings.ToLower(f.Category))
	}
	if f.Merchant != "" {
		q = q.Where("LOWER(merchant) = ?", strings.ToLower(f.Merchant))
	}
	q = q.Order("date ASC").Order("imported_at ASC").Order("id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var records []transactionRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}

	out := make([]*domain.CanonicalTransaction, 0, len(records))
	for i := range records {
		tx, err := fromRecord(&records[i])
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		out = append(out, tx)
	}
	return out, nil
}

// Count implements store.TransactionStore.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&transactionRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return n, nil
}

// SaveImportRun implements store.ImportRunRecorder; saving the same import twice updates it.
func (s *Store) SaveImportRun(ctx context.Context, summary *domain.ImportSummary) error {
	if summary.ImportID == "" {
		return fmt.Errorf("SaveImportRun: import ID is required")
	}
	rec, err := toRunRecord(summary)
	if err != nil {
		return fmt.Errorf("SaveImportRun: encode: %w", err)
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("SaveImportRun: %w", err)
	}
	return nil
}

// ListImportRuns implements store.ImportRunRecorder, newest first.
func (s *Store) ListImportRuns(ctx context.Context, limit int) ([]*domain.ImportSummary, error) {
	q := s.db.WithContext(ctx).Order("started_at DESC").Order("import_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var records []importRunRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("ListImportRuns: %w", err)
	}

	out := make([]*domain.ImportSummary, 0, len(records))
	for i := range records {
		run, err := fromRunRecord(&records[i])
		if err != nil {
			return nil, fmt.Errorf("ListImportRuns: %w", err)
		}
		out = append(out, run)
	}
	return out, nil
}

// Close implements store.TransactionStore.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique failed")
}

var (
	_ store.TransactionStore  = (*Store)(nil)
	_ store.ImportRunRecorder = (*Store)(nil)
)
