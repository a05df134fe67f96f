// Package store defines the persistence boundary for canonical transactions.
package store

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
)

// ErrDuplicateFingerprint is returned by stores that detect a fingerprint
// collision on insert.
var ErrDuplicateFingerprint = errors.New("duplicate transaction fingerprint")

// TransactionStore persists canonical transactions. Implementations enforce
// fingerprint uniqueness; InsertBatch is all-or-nothing where the engine allows.
type TransactionStore interface {
	// HasFingerprint reports whether a transaction with fp is already stored.
	HasFingerprint(ctx context.Context, fp string) (bool, error)

	// InsertBatch stores txs. Every record must carry an ID and a fingerprint.
	InsertBatch(ctx context.Context, txs []*domain.CanonicalTransaction) error

	// List returns transactions matching f ordered by date, then import time.
	List(ctx context.Context, f Filter) ([]*domain.CanonicalTransaction, error)

	// Count returns the number of stored transactions.
	Count(ctx context.Context) (int64, error)

	Close() error
}

// ImportRunRecorder is implemented by stores that keep an import history.
type ImportRunRecorder interface {
	SaveImportRun(ctx context.Context, s *domain.ImportSummary) error
	ListImportRuns(ctx context.Context, limit int) ([]*domain.ImportSummary, error)
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	From     *civil.Date // inclusive
	To       *civil.Date // inclusive
	Category string      // case-insensitive
	Merchant string      // case-insensitive
	Limit    int
}

// Matches reports whether tx satisfies the filter (Limit is ignored).
func (f Filter) Matches(tx *domain.CanonicalTransaction) bool {
	if f.From != nil && tx.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.Date.After(*f.To) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, tx.Category) {
		return false
	}
	if f.Merchant != "" && (tx.Merchant == nil || !strings.EqualFold(f.Merchant, *tx.Merchant)) {
		return false
	}
	return true
}
