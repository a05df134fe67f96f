// Package dedup guarantees a transaction is stored once no matter how many
// times the same statement is imported.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/fields"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/google/uuid"
)

// Fingerprint is the dedup key: a hex SHA-256 over the date, the amount
// rounded to two decimals and the normalized description.
func Fingerprint(tx *domain.CanonicalTransaction) string {
	key := fmt.Sprintf("%s|%s|%s",
		tx.Date.String(),
		tx.Amount.StringFixed(2),
		fields.NormalizeDescription(tx.Description),
	)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// CommitResult counts what a Commit did.
type CommitResult struct {
	Inserted int
	Skipped  int
}

// Deduplicator checks fingerprints and writes batches to the store. Commits
// are serialized so concurrent imports cannot both pass the check for the
// same fingerprint.
type Deduplicator struct {
	store store.TransactionStore
	mu    sync.Mutex
}

// New returns a deduplicator writing to s.
func New(s store.TransactionStore) *Deduplicator {
	return &Deduplicator{store: s}
}

// IsDuplicate reports whether tx's fingerprint is already stored.
func (d *Deduplicator) IsDuplicate(ctx context.Context, tx *domain.CanonicalTransaction) (bool, error) {
	fp := tx.Fingerprint
	if fp == "" {
		fp = Fingerprint(tx)
	}
	exists, err := d.store.HasFingerprint(ctx, fp)
	if err != nil {
		return false, fmt.Errorf("IsDuplicate: %w", err)
	}
	return exists, nil
}

// Commit stores the records of batch that are not yet known. Repeats inside
// the batch and fingerprints already stored are skipped; the first import of
// a transaction wins. Fresh records get an ID and fingerprint. The insert is
// one store batch, so on error nothing from this batch was committed.
func (d *Deduplicator) Commit(ctx context.Context, batch []*domain.CanonicalTransaction) (CommitResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var res CommitResult
	seen := make(map[string]bool, len(batch))
	fresh := make([]*domain.CanonicalTransaction, 0, len(batch))

	for _, tx := range batch {
		if tx.Fingerprint == "" {
			tx.Fingerprint = Fingerprint(tx)
		}
		if seen[tx.Fingerprint] {
			res.Skipped++
			continue
		}
		seen[tx.Fingerprint] = true

		exists, err := d.store.HasFingerprint(ctx, tx.Fingerprint)
		if err != nil {
			return CommitResult{}, fmt.Errorf("Commit: check fingerprint: %w", err)
		}
		if exists {
			res.Skipped++
			continue
		}

		if tx.ID == "" {
			tx.ID = uuid.New().String()
		}
		fresh = append(fresh, tx)
	}

	if len(fresh) > 0 {
		if err := d.store.InsertBatch(ctx, fresh); err != nil {
			return CommitResult{}, fmt.Errorf("Commit: insert batch: %w", err)
		}
	}
	res.Inserted = len(fresh)

	return res, nil
}
