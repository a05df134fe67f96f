package pipeline

import (
	"context"

	"github.com/dvloznov/finance-ingest/internal/dedup"
	"github.com/dvloznov/finance-ingest/internal/domain"
)

// Committer writes one normalized batch, skipping fingerprints already stored.
// *dedup.Deduplicator is the production implementation.
type Committer interface {
	Commit(ctx context.Context, batch []*domain.CanonicalTransaction) (dedup.CommitResult, error)
}

// StatementImporter runs a whole import. It enables mocking the pipeline in
// the job worker and HTTP handlers.
type StatementImporter interface {
	Import(ctx context.Context, req ImportRequest) (*domain.ImportSummary, error)
}

var (
	_ Committer         = (*dedup.Deduplicator)(nil)
	_ StatementImporter = (*Importer)(nil)
)
