package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

// transactionRecord is the transactions table row.
type transactionRecord struct {
	ID          string              `gorm:"primaryKey;type:varchar(36)"`
	Fingerprint string              `gorm:"type:varchar(64);uniqueIndex;not null"`
	Date        string              `gorm:"type:varchar(10);index;not null"` // YYYY-MM-DD
	Description string              `gorm:"not null"`
	Amount      decimal.Decimal     `gorm:"type:decimal(15,2);not null"`
	Balance     decimal.NullDecimal `gorm:"type:decimal(15,2)"`
	Category    string              `gorm:"type:varchar(64);index"`
	Merchant    *string             `gorm:"type:varchar(255)"`
	SourceFile  string              `gorm:"type:varchar(255)"`
	ImportedAt  time.Time           `gorm:"not null"`
}

func (transactionRecord) TableName() string { return "transactions" }

// importRunRecord is one row of import history.
type importRunRecord struct {
	ImportID          string    `gorm:"primaryKey;type:varchar(36)"`
	SourceFile        string    `gorm:"type:varchar(255)"`
	Kind              string    `gorm:"type:varchar(8)"`
	Status            string    `gorm:"type:varchar(32);index"`
	Lines             int       `gorm:"not null;default:0"`
	BatchesTotal      int       `gorm:"not null;default:0"`
	BatchesCompleted  int       `gorm:"not null;default:0"`
	Inserted          int       `gorm:"not null;default:0"`
	SkippedDuplicates int       `gorm:"not null;default:0"`
	Dropped           int       `gorm:"not null;default:0"`
	DropReasons       string    `gorm:"type:text"` // JSON object
	Warnings          string    `gorm:"type:text"` // JSON array
	Error             string    `gorm:"type:text"`
	StartedAt         time.Time `gorm:"index"`
	FinishedAt        time.Time
}

func (importRunRecord) TableName() string { return "import_runs" }

func toRecord(tx *domain.CanonicalTransaction) transactionRecord {
	rec := transactionRecord{
		ID:          tx.ID,
		Fingerprint: tx.Fingerprint,
		Date:        tx.Date.String(),
		Description: tx.Description,
		Amount:      tx.Amount,
		Category:    tx.Category,
		Merchant:    tx.Merchant,
		SourceFile:  tx.SourceFile,
		ImportedAt:  tx.ImportedAt.UTC(),
	}
	if tx.Balance != nil {
		rec.Balance = decimal.NewNullDecimal(*tx.Balance)
	}
	return rec
}

func fromRecord(rec *transactionRecord) (*domain.CanonicalTransaction, error) {
	date, err := civil.ParseDate(rec.Date)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: bad date %q: %w", rec.ID, rec.Date, err)
	}

	tx := &domain.CanonicalTransaction{
		ID:          rec.ID,
		Date:        date,
		Description: rec.Description,
		Amount:      rec.Amount,
		Category:    rec.Category,
		Merchant:    rec.Merchant,
		SourceFile:  rec.SourceFile,
		ImportedAt:  rec.ImportedAt,
		Fingerprint: rec.Fingerprint,
	}
	if rec.Balance.Valid {
		b := rec.Balance.Decimal
		tx.Balance = &b
	}
	return tx, nil
}

func toRunRecord(s *domain.ImportSummary) (importRunRecord, error) {
	reasons, err := json.Marshal(s.DropReasons)
	if err != nil {
		return importRunRecord{}, err
	}
	warnings, err := json.Marshal(s.Warnings)
	if err != nil {
		return importRunRecord{}, err
	}

	return importRunRecord{
		ImportID:          s.ImportID,
		SourceFile:        s.SourceFile,
		Kind:              string(s.Kind),
		Status:            string(s.Status),
		Lines:             s.Lines,
		BatchesTotal:      s.BatchesTotal,
		BatchesCompleted:  s.BatchesCompleted,
		Inserted:          s.Inserted,
		SkippedDuplicates: s.SkippedDuplicates,
		Dropped:           s.Dropped,
		DropReasons:       string(reasons),
		Warnings:          string(warnings),
		Error:             s.Error,
		StartedAt:         s.StartedAt.UTC(),
		FinishedAt:        s.FinishedAt.UTC(),
	}, nil
}

func fromRunRecord(rec *importRunRecord) (*domain.ImportSummary, error) {
	s := &domain.ImportSummary{
		ImportID:          rec.ImportID,
		SourceFile:        rec.SourceFile,
		Kind:              domain.FileKind(rec.Kind),
		Status:            domain.ImportStatus(rec.Status),
		Lines:             rec.Lines,
		BatchesTotal:      rec.BatchesTotal,
		BatchesCompleted:  rec.BatchesCompleted,
		Inserted:          rec.Inserted,
		SkippedDuplicates: rec.SkippedDuplicates,
		Dropped:           rec.Dropped,
		Error:             rec.Error,
		StartedAt:         rec.StartedAt,
		FinishedAt:        rec.FinishedAt,
	}
	if rec.DropReasons != "" && rec.DropReasons != "null" {
		if err := json.Unmarshal([]byte(rec.DropReasons), &s.DropReasons); err != nil {
			return nil, fmt.Errorf("import run %s: drop reasons: %w", rec.ImportID, err)
		}
	}
	if rec.Warnings != "" && rec.Warnings != "null" {
		if err := json.Unmarshal([]byte(rec.Warnings), &s.Warnings); err != nil {
			return nil, fmt.Errorf("import run %s: warnings: %w", rec.ImportID, err)
		}
	}
	return s, nil
}
