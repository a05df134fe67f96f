package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/store"
)

// Store is an in-memory TransactionStore and ImportRunRecorder.
// It is safe for concurrent use. Data is lost on restart.
type Store struct {
	mu           sync.RWMutex
	transactions []*domain.CanonicalTransaction
	fingerprints map[string]bool
	runs         map[string]*domain.ImportSummary

	// InsertBatchFunc, when set, replaces the insert logic. Tests use it
	// to inject storage failures.
	InsertBatchFunc func(ctx context.Context, txs []*domain.CanonicalTransaction) error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		fingerprints: make(map[string]bool),
		runs:         make(map[string]*domain.ImportSummary),
	}
}

// HasFingerprint implements store.TransactionStore.
func (s *Store) HasFingerprint(ctx context.Context, fp string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprints[fp], nil
}

// InsertBatch implements store.TransactionStore. The batch is rejected as a
// whole if any fingerprint is already present.
func (s *Store) InsertBatch(ctx context.Context, txs []*domain.CanonicalTransaction) error {
	if s.InsertBatchFunc != nil {
		return s.InsertBatchFunc(ctx, txs)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.ID == "" || tx.Fingerprint == "" {
			return fmt.Errorf("InsertBatch: transaction without id or fingerprint")
		}
		if s.fingerprints[tx.Fingerprint] || batch[tx.Fingerprint] {
			return fmt.Errorf("InsertBatch: %s: %w", tx.Fingerprint, store.ErrDuplicateFingerprint)
		}
		batch[tx.Fingerprint] = true
	}

	for _, tx := range txs {
		// Copy to avoid external modifications.
		txCopy := *tx
		s.transactions = append(s.transactions, &txCopy)
		s.fingerprints[tx.Fingerprint] = true
	}

	return nil
}

// List implements store.TransactionStore.
func (s *Store) List(ctx context.Context, f store.Filter) ([]*domain.CanonicalTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.CanonicalTransaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if !f.Matches(tx) {
			continue
		}
		txCopy := *tx
		result = append(result, &txCopy)
	}

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		return a.ImportedAt.Before(b.ImportedAt)
	})

	if f.Limit > 0 && f.Limit < len(result) {
		result = result[:f.Limit]
	}

	return result, nil
}

// Count implements store.TransactionStore.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.transactions)), nil
}

// SaveImportRun implements store.ImportRunRecorder.
func (s *Store) SaveImportRun(ctx context.Context, summary *domain.ImportSummary) error {
	if summary.ImportID == "" {
		return fmt.Errorf("SaveImportRun: import ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	runCopy := *summary
	s.runs[summary.ImportID] = &runCopy
	return nil
}

// ListImportRuns implements store.ImportRunRecorder, newest first.
func (s *Store) ListImportRuns(ctx context.Context, limit int) ([]*domain.ImportSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.ImportSummary, 0, len(s.runs))
	for _, run := range s.runs {
		runCopy := *run
		result = append(result, &runCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].ImportID < result[j].ImportID
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// Close implements store.TransactionStore.
func (s *Store) Close() error {
	return nil
}

var (
	_ store.TransactionStore  = (*Store)(nil)
	_ store.ImportRunRecorder = (*Store)(nil)
)
