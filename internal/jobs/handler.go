package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/pipeline"
)

// ImportHandler runs import jobs through importer. The summary of every
// attempt is stored on the job. Rejected statements fail permanently; an
// aborted import is retried and its already committed batches are skipped
// as duplicates on the next attempt.
func ImportHandler(importer pipeline.StatementImporter) JobHandler {
	return func(ctx context.Context, job Job) error {
		importJob, ok := job.(*ImportJob)
		if !ok {
			return Permanent(fmt.Errorf("unexpected job type: %T", job))
		}

		log := logger.FromContext(ctx).With().
			Str("job_id", importJob.JobID).
			Str("source_file", importJob.SourceFile).
			Int("attempt", importJob.RetryCount+1).
			Logger()
		log.Info().Msg("Processing import job")

		summary, err := importer.Import(logger.WithContext(ctx, log), pipeline.ImportRequest{
			ImportID:   importJob.JobID,
			Data:       importJob.Data,
			Kind:       importJob.Kind,
			SourceFile: importJob.SourceFile,
		})
		importJob.Summary = summary
		if err != nil {
			log.Error().Err(err).Msg("Import job failed")
			if errors.Is(err, domain.ErrExtraction) {
				return Permanent(err)
			}
			return err
		}

		log.Info().Str("status", string(summary.Status)).Msg("Import job completed")
		return nil
	}
}
