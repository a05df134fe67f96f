package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/extractor"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/normalize"
)

// PipelineStep represents a single step in the import pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Request    ImportRequest
	Summary    *domain.ImportSummary
	Lines      []domain.RawLine
	Batches    [][]domain.RawLine
	Normalizer *normalize.Normalizer
	Meta       normalize.Meta
}

// Step 1: ExtractStep turns the statement bytes into raw lines. Nothing has
// reached the model when it fails.
type ExtractStep struct{}

func (s *ExtractStep) Execute(ctx context.Context, state *PipelineState) error {
	kind := state.Request.Kind
	if kind == "" {
		kind = domain.DetectFileKind(state.Request.SourceFile, state.Request.Data)
	}
	if kind == "" {
		return &domain.ExtractionError{Reason: fmt.Sprintf("cannot tell the file kind of %q", state.Request.SourceFile)}
	}
	state.Summary.Kind = kind

	lines, err := extractor.Extract(state.Request.Data, kind)
	if err != nil {
		return err
	}
	state.Lines = lines
	state.Summary.Lines = len(lines)
	return nil
}

// Step 2: PlanBatchesStep splits the lines into model-sized batches.
type PlanBatchesStep struct {
	parser *Parser
}

func (s *PlanBatchesStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Batches = s.parser.Batches(state.Lines)
	state.Summary.BatchesTotal = len(state.Batches)
	return nil
}

// Step 3: ProcessBatchesStep parses, normalizes and commits each batch before
// starting the next. A failing batch contributes nothing to the summary and
// stops the import; earlier batches stay committed.
type ProcessBatchesStep struct {
	imp *Importer
}

func (s *ProcessBatchesStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)

	for i, lines := range state.Batches {
		batch := i + 1
		if err := ctx.Err(); err != nil {
			s.imp.metrics.BatchProcessed("aborted")
			return err
		}

		out, err := s.imp.processBatch(ctx, state, batch, lines)
		if err != nil {
			s.imp.metrics.BatchProcessed("aborted")
			log.Error().Err(err).Int("batch", batch).Int("batches_total", len(state.Batches)).Msg("Batch failed, aborting import")
			return err
		}

		out.applyTo(state.Summary)
		s.imp.metrics.BatchProcessed("committed")
		s.imp.metrics.RecordsCounted(out.inserted, out.skipped, out.dropLabels())

		log.Info().
			Int("batch", batch).
			Int("batches_total", len(state.Batches)).
			Int("inserted", out.inserted).
			Int("skipped_duplicates", out.skipped).
			Int("dropped", out.droppedTotal()).
			Int("warnings", len(out.warnings)).
			Msg("Batch committed")
	}
	return nil
}

// Step 4: FinalizeStep sets the terminal status of a successful import.
type FinalizeStep struct{}

func (s *FinalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	if len(state.Summary.Warnings) > 0 {
		state.Summary.Status = domain.ImportCompletedWithWarnings
	} else {
		state.Summary.Status = domain.ImportCompleted
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewImportPipeline creates the standard 4-step import pipeline.
func NewImportPipeline(imp *Importer) *Pipeline {
	return NewPipeline(
		&ExtractStep{},
		&PlanBatchesStep{parser: imp.parser},
		&ProcessBatchesStep{imp: imp},
		&FinalizeStep{},
	)
}
