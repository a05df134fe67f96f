package bigquery

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	transactionsTable = "transactions"
	importRunsTable   = "import_runs"
)

// TransactionRow maps a canonical transaction to the transactions table.
// Amounts are NUMERIC.
type TransactionRow struct {
	TransactionID  string              `bigquery:"transaction_id"`
	Fingerprint    string              `bigquery:"fingerprint"`
	TxDate         civil.Date          `bigquery:"transaction_date"`
	RawDescription string              `bigquery:"raw_description"`
	Amount         *big.Rat            `bigquery:"amount"`
	BalanceAfter   *big.Rat            `bigquery:"balance_after"`
	CategoryName   string              `bigquery:"category_name"`
	MerchantName   bigquery.NullString `bigquery:"merchant_name"`
	SourceFile     string              `bigquery:"source_file"`
	ImportedTs     time.Time           `bigquery:"imported_ts"`
}

// ImportRunRow is one row of import history. Drop reasons and warnings are
// stored as JSON strings.
type ImportRunRow struct {
	ImportID          string              `bigquery:"import_id"`
	SourceFile        string              `bigquery:"source_file"`
	Kind              string              `bigquery:"kind"`
	Status            string              `bigquery:"status"`
	Lines             int64               `bigquery:"lines"`
	BatchesTotal      int64               `bigquery:"batches_total"`
	BatchesCompleted  int64               `bigquery:"batches_completed"`
	Inserted          int64               `bigquery:"inserted"`
	SkippedDuplicates int64               `bigquery:"skipped_duplicates"`
	Dropped           int64               `bigquery:"dropped"`
	DropReasons       string              `bigquery:"drop_reasons"`
	Warnings          string              `bigquery:"warnings"`
	ErrorMessage      bigquery.NullString `bigquery:"error_message"`
	StartedTs         time.Time           `bigquery:"started_ts"`
	FinishedTs        time.Time           `bigquery:"finished_ts"`
}

// numericScale is the fractional precision kept when reading NUMERIC values.
const numericScale = 2

func toTransactionRow(tx *domain.CanonicalTransaction) *TransactionRow {
	row := &TransactionRow{
		TransactionID:  tx.ID,
		Fingerprint:    tx.Fingerprint,
		TxDate:         tx.Date,
		RawDescription: tx.Description,
		Amount:         tx.Amount.Rat(),
		CategoryName:   tx.Category,
		SourceFile:     tx.SourceFile,
		ImportedTs:     tx.ImportedAt.UTC(),
	}
	if tx.Balance != nil {
		row.BalanceAfter = tx.Balance.Rat()
	}
	if tx.Merchant != nil {
		row.MerchantName = bigquery.NullString{StringVal: *tx.Merchant, Valid: true}
	}
	return row
}

func fromTransactionRow(row *TransactionRow) (*domain.CanonicalTransaction, error) {
	if row.Amount == nil {
		return nil, fmt.Errorf("transaction %s: missing amount", row.TransactionID)
	}

	tx := &domain.CanonicalTransaction{
		ID:          row.TransactionID,
		Fingerprint: row.Fingerprint,
		Date:        row.TxDate,
		Description: row.RawDescription,
		Amount:      decimal.NewFromBigRat(row.Amount, numericScale),
		Category:    row.CategoryName,
		SourceFile:  row.SourceFile,
		ImportedAt:  row.ImportedTs,
	}
	if row.BalanceAfter != nil {
		b := decimal.NewFromBigRat(row.BalanceAfter, numericScale)
		tx.Balance = &b
	}
	if row.MerchantName.Valid {
		m := row.MerchantName.StringVal
		tx.Merchant = &m
	}
	return tx, nil
}

func toImportRunRow(s *domain.ImportSummary) (*ImportRunRow, error) {
	reasons, err := json.Marshal(s.DropReasons)
	if err != nil {
		return nil, fmt.Errorf("marshalling drop reasons: %w", err)
	}
	warnings, err := json.Marshal(s.Warnings)
	if err != nil {
		return nil, fmt.Errorf("marshalling warnings: %w", err)
	}

	return &ImportRunRow{
		ImportID:          s.ImportID,
		SourceFile:        s.SourceFile,
		Kind:              string(s.Kind),
		Status:            string(s.Status),
		Lines:             int64(s.Lines),
		BatchesTotal:      int64(s.BatchesTotal),
		BatchesCompleted:  int64(s.BatchesCompleted),
		Inserted:          int64(s.Inserted),
		SkippedDuplicates: int64(s.SkippedDuplicates),
		Dropped:           int64(s.Dropped),
		DropReasons:       string(reasons),
		Warnings:          string(warnings),
		ErrorMessage:      bigquery.NullString{StringVal: s.Error, Valid: s.Error != ""},
		StartedTs:         s.StartedAt.UTC(),
		FinishedTs:        s.FinishedAt.UTC(),
	}, nil
}

func fromImportRunRow(row *ImportRunRow) (*domain.ImportSummary, error) {
	s := &domain.ImportSummary{
		ImportID:          row.ImportID,
		SourceFile:        row.SourceFile,
		Kind:              domain.FileKind(row.Kind),
		Status:            domain.ImportStatus(row.Status),
		Lines:             int(row.Lines),
		BatchesTotal:      int(row.BatchesTotal),
		BatchesCompleted:  int(row.BatchesCompleted),
		Inserted:          int(row.Inserted),
		SkippedDuplicates: int(row.SkippedDuplicates),
		Dropped:           int(row.Dropped),
		Error:             row.ErrorMessage.StringVal,
		StartedAt:         row.StartedTs,
		FinishedAt:        row.FinishedTs,
	}
	if row.DropReasons != "" && row.DropReasons != "null" {
		if err := json.Unmarshal([]byte(row.DropReasons), &s.DropReasons); err != nil {
			return nil, fmt.Errorf("import run %s: drop reasons: %w", row.ImportID, err)
		}
	}
	if row.Warnings != "" && row.Warnings != "null" {
		if err := json.Unmarshal([]byte(row.Warnings), &s.Warnings); err != nil {
			return nil, fmt.Errorf("import run %s: warnings: %w", row.ImportID, err)
		}
	}
	return s, nil
}
