package domain

import (
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// FileKind identifies the format of an uploaded statement.
type FileKind string

const (
	FileKindCSV FileKind = "csv"
	FileKindPDF FileKind = "pdf"
)

// ParseFileKind maps a user supplied kind ("csv", "PDF", ".pdf") to a FileKind.
// Unknown values return "".
func ParseFileKind(s string) FileKind {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "csv":
		return FileKindCSV
	case "pdf":
		return FileKindPDF
	default:
		return ""
	}
}

// DetectFileKind guesses the kind from the filename extension and falls back
// to sniffing the PDF magic header.
func DetectFileKind(filename string, data []byte) FileKind {
	if kind := ParseFileKind(filepath.Ext(filename)); kind != "" {
		return kind
	}
	if len(data) >= 5 && string(data[:5]) == "%PDF-" {
		return FileKindPDF
	}
	return ""
}

// RawLine is one unit of extracted statement text.
type RawLine struct {
	Index int    // position in the source, 0-based
	Page  int    // PDF page number, 1-based; 0 for CSV
	Text  string // whitespace-collapsed text of the line or row

	// Fields holds the cells of a CSV row.
	Fields []string
	// Columns is the detected CSV header shared by every row; nil when headerless.
	Columns []string
}

// ProvisionalTransaction is an unverified candidate record: every field is
// still a string exactly as the parser produced it.
type ProvisionalTransaction struct {
	SourceIndex int    // RawLine.Index of the originating row, -1 when unknown
	Date        string // as found
	Description string
	Amount      string // may carry currency symbols, separators, CR/DR suffixes
	Balance     string // "" when absent
	Type        string // debit/credit hint, "" when absent
	Category    string // model or CSV suggestion, "" when absent
}

// CanonicalTransaction is the normalized, validated record persisted by the store.
type CanonicalTransaction struct {
	ID          string           `json:"id"`
	Date        civil.Date       `json:"date"`
	Description string           `json:"description"`
	Amount      decimal.Decimal  `json:"amount"`            // negative = outflow, positive = inflow
	Balance     *decimal.Decimal `json:"balance,omitempty"` // running balance when the statement has one
	Category    string           `json:"category"`
	Merchant    *string          `json:"merchant,omitempty"`
	SourceFile  string           `json:"source_file"`
	ImportedAt  time.Time        `json:"imported_at"`
	Fingerprint string           `json:"fingerprint"`
}

// IsOutflow reports whether money left the account.
func (t *CanonicalTransaction) IsOutflow() bool {
	return t.Amount.IsNegative()
}

// MerchantName returns the merchant or "" when unresolved.
func (t *CanonicalTransaction) MerchantName() string {
	if t.Merchant == nil {
		return ""
	}
	return *t.Merchant
}
