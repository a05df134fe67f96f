package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/merchant"
	"github.com/dvloznov/finance-ingest/internal/metrics"
	"github.com/dvloznov/finance-ingest/internal/normalize"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/google/uuid"
)

// ImportRequest is one statement to import.
type ImportRequest struct {
	ImportID   string // optional; generated when empty
	Data       []byte
	Kind       domain.FileKind // optional; detected from SourceFile and Data
	SourceFile string
}

// Importer runs statements through extraction, parsing, normalization and
// deduplicated commits.
type Importer struct {
	parser    *Parser
	committer Committer
	aliases   *merchant.Source
	normCfg   normalize.Config
	recorder  store.ImportRunRecorder
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithRecorder saves every import summary, including aborted ones.
func WithRecorder(r store.ImportRunRecorder) Option {
	return func(imp *Importer) { imp.recorder = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(imp *Importer) { imp.metrics = m }
}

// WithClock overrides time.Now for import timestamps.
func WithClock(now func() time.Time) Option {
	return func(imp *Importer) { imp.now = now }
}

// NewImporter wires an importer. aliases may be nil for the built-in table.
func NewImporter(parser *Parser, committer Committer, aliases *merchant.Source, cfg normalize.Config, opts ...Option) *Importer {
	if aliases == nil {
		aliases = merchant.StaticSource(merchant.DefaultTable())
	}
	imp := &Importer{
		parser:    parser,
		committer: committer,
		aliases:   aliases,
		normCfg:   cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(imp)
	}
	return imp
}

// Import runs one statement. It always returns a summary: on error the
// summary shows what was committed before the failure and its status says
// whether the file was rejected or the import aborted.
func (imp *Importer) Import(ctx context.Context, req ImportRequest) (*domain.ImportSummary, error) {
	started := imp.now()

	importID := req.ImportID
	if importID == "" {
		importID = uuid.New().String()
	}
	summary := &domain.ImportSummary{
		ImportID:    importID,
		SourceFile:  req.SourceFile,
		Kind:        req.Kind,
		DropReasons: make(map[domain.DropReason]int),
		StartedAt:   started.UTC(),
	}

	log := logger.FromContext(ctx).With().
		Str("import_id", importID).
		Str("source_file", req.SourceFile).
		Logger()
	ctx = logger.WithContext(ctx, log)

	state := &PipelineState{
		Request: req,
		Summary: summary,
		// One alias table for the whole run, even if it is reloaded meanwhile.
		Normalizer: normalize.New(imp.normCfg, imp.aliases.Current(), imp.parser.Categories()),
		Meta:       normalize.Meta{SourceFile: req.SourceFile, ImportedAt: started.UTC()},
	}

	log.Info().Int("bytes", len(req.Data)).Str("kind", string(req.Kind)).Msg("Import started")

	err := NewImportPipeline(imp).Execute(ctx, state)
	summary.FinishedAt = imp.now().UTC()

	if err != nil {
		if errors.Is(err, domain.ErrExtraction) {
			summary.Status = domain.ImportRejected
		} else {
			summary.Status = domain.ImportAborted
		}
		summary.Error = err.Error()
	}

	if imp.recorder != nil {
		// The import outcome matters more than its history entry.
		if rerr := imp.recorder.SaveImportRun(ctx, summary); rerr != nil {
			log.Error().Err(rerr).Msg("Failed to record import run")
		}
	}
	imp.metrics.ImportFinished(string(summary.Kind), string(summary.Status), summary.FinishedAt.Sub(summary.StartedAt))

	event := log.Info()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.
		Str("status", string(summary.Status)).
		Int("lines", summary.Lines).
		Int("batches_completed", summary.BatchesCompleted).
		Int("batches_total", summary.BatchesTotal).
		Int("inserted", summary.Inserted).
		Int("skipped_duplicates", summary.SkippedDuplicates).
		Int("dropped", summary.Dropped).
		Int("warnings", len(summary.Warnings)).
		Msg("Import finished")

	return summary, err
}

// batchOutcome is one batch's contribution, applied to the summary only
// after its commit succeeded.
type batchOutcome struct {
	inserted int
	skipped  int
	drops    map[domain.DropReason]int
	warnings []domain.PartialParseWarning
}

func (o *batchOutcome) applyTo(s *domain.ImportSummary) {
	s.Inserted += o.inserted
	s.SkippedDuplicates += o.skipped
	for reason, n := range o.drops {
		for i := 0; i < n; i++ {
			s.AddDrop(reason)
		}
	}
	for _, w := range o.warnings {
		s.AddWarning(w)
	}
	s.BatchesCompleted++
}

func (o *batchOutcome) droppedTotal() int {
	total := 0
	for _, n := range o.drops {
		total += n
	}
	return total
}

func (o *batchOutcome) dropLabels() map[string]int {
	out := make(map[string]int, len(o.drops))
	for reason, n := range o.drops {
		out[string(reason)] = n
	}
	return out
}

func (imp *Importer) processBatch(ctx context.Context, state *PipelineState, batch int, lines []domain.RawLine) (*batchOutcome, error) {
	res, err := imp.parser.ParseBatch(ctx, batch, lines)
	if err != nil {
		return nil, err
	}

	out := &batchOutcome{
		drops:    make(map[domain.DropReason]int),
		warnings: res.Warnings,
	}
	out.drops[domain.DropMalformedRecord] += len(res.Malformed)

	canonical := make([]*domain.CanonicalTransaction, 0, len(res.Transactions))
	for _, p := range res.Transactions {
		tx, err := state.Normalizer.Normalize(p, state.Meta)
		if err != nil {
			reason, ok := domain.DropReasonOf(err)
			if !ok {
				reason = domain.DropMalformedRecord
			}
			out.drops[reason]++
			continue
		}
		canonical = append(canonical, tx)
	}
	if out.drops[domain.DropMalformedRecord] == 0 {
		delete(out.drops, domain.DropMalformedRecord)
	}

	committed, err := imp.committer.Commit(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("batch %d: %w", batch, err)
	}
	out.inserted = committed.Inserted
	out.skipped = committed.Skipped

	return out, nil
}
