// Package bigquery is a warehouse-backed transaction store. Fingerprints are
// used as streaming insert IDs, so a retried batch is not duplicated.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/store"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// Store implements store.TransactionStore and store.ImportRunRecorder on a
// single BigQuery dataset.
type Store struct {
	client  *bigquery.Client
	project string
	dataset string
}

var (
	_ store.TransactionStore  = (*Store)(nil)
	_ store.ImportRunRecorder = (*Store)(nil)
)

// New opens a client for project and makes sure both tables exist.
func New(ctx context.Context, project, dataset string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}

	s := &Store{client: client, project: project, dataset: dataset}
	if err := s.ensureTables(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureTables(ctx context.Context) error {
	txSchema, err := bigquery.InferSchema(TransactionRow{})
	if err != nil {
		return fmt.Errorf("inferring transactions schema: %w", err)
	}
	runSchema, err := bigquery.InferSchema(ImportRunRow{})
	if err != nil {
		return fmt.Errorf("inferring import_runs schema: %w", err)
	}

	tables := []struct {
		name string
		meta *bigquery.TableMetadata
	}{
		{transactionsTable, &bigquery.TableMetadata{
			Schema:           txSchema,
			TimePartitioning: &bigquery.TimePartitioning{Type: bigquery.MonthPartitioningType, Field: "transaction_date"},
			Clustering:       &bigquery.Clustering{Fields: []string{"fingerprint"}},
		}},
		{importRunsTable, &bigquery.TableMetadata{Schema: runSchema}},
	}

	ds := s.client.DatasetInProject(s.project, s.dataset)
	for _, t := range tables {
		err := ds.Table(t.name).Create(ctx, t.meta)
		if err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("creating table %s: %w", t.name, err)
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 409
}

func (s *Store) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.project, s.dataset, name)
}

// HasFingerprint implements store.TransactionStore.
func (s *Store) HasFingerprint(ctx context.Context, fp string) (bool, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT COUNT(1) AS n
		FROM %s
		WHERE fingerprint = @fingerprint
	`, s.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "fingerprint", Value: fp}}

	n, err := readCount(ctx, q)
	if err != nil {
		return false, fmt.Errorf("HasFingerprint: %w", err)
	}
	return n > 0, nil
}

// InsertBatch streams txs into the transactions table. BigQuery streaming
// inserts are not transactional; a failed batch may be partially visible and
// is repaired by re-importing, since rows share their fingerprint as insert ID.
func (s *Store) InsertBatch(ctx context.Context, txs []*domain.CanonicalTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	savers := make([]*bigquery.StructSaver, 0, len(txs))
	for _, tx := range txs {
		if tx.ID == "" || tx.Fingerprint == "" {
			return fmt.Errorf("InsertBatch: transaction without id or fingerprint")
		}
		savers = append(savers, &bigquery.StructSaver{
			Struct:   toTransactionRow(tx),
			InsertID: tx.Fingerprint,
		})
	}

	inserter := s.client.DatasetInProject(s.project, s.dataset).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		lg := logger.FromContext(ctx)
		lg.Error().
			Err(err).
			Int("rows", len(savers)).
			Msg("InsertBatch: streaming insert failed")
		return fmt.Errorf("InsertBatch: inserting %d rows: %w", len(savers), err)
	}
	return nil
}

// List implements store.TransactionStore.
func (s *Store) List(ctx context.Context, f store.Filter) ([]*domain.CanonicalTransaction, error) {
	sql, params := buildListQuery(s.table(transactionsTable), f)
	q := s.client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("List: reading query: %w", err)
	}

	var out []*domain.CanonicalTransaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("List: iterating rows: %w", err)
		}
		tx, err := fromTransactionRow(&row)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		out = append(out, tx)
	}
	return out, nil
}

// Count implements store.TransactionStore.
func (s *Store) Count(ctx context.Context) (int64, error) {
	q := s.client.Query(fmt.Sprintf("SELECT COUNT(1) AS n FROM %s", s.table(transactionsTable)))
	n, err := readCount(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return n, nil
}

// SaveImportRun appends one import summary. Retried imports reuse their
// import ID, which doubles as the insert ID.
func (s *Store) SaveImportRun(ctx context.Context, summary *domain.ImportSummary) error {
	row, err := toImportRunRow(summary)
	if err != nil {
		return fmt.Errorf("SaveImportRun: %w", err)
	}

	inserter := s.client.DatasetInProject(s.project, s.dataset).Table(importRunsTable).Inserter()
	saver := &bigquery.StructSaver{Struct: row, InsertID: summary.ImportID + ":" + summary.FinishedAt.UTC().Format("20060102T150405.000")}
	if err := inserter.Put(ctx, saver); err != nil {
		return fmt.Errorf("SaveImportRun: inserting run %s: %w", summary.ImportID, err)
	}
	return nil
}

// ListImportRuns returns the most recent run of each import, newest first.
func (s *Store) ListImportRuns(ctx context.Context, limit int) ([]*domain.ImportSummary, error) {
	sql, params := buildRunsQuery(s.table(importRunsTable), limit)
	q := s.client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListImportRuns: reading query: %w", err)
	}

	var out []*domain.ImportSummary
	for {
		var row ImportRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListImportRuns: iterating rows: %w", err)
		}
		run, err := fromImportRunRow(&row)
		if err != nil {
			return nil, fmt.Errorf("ListImportRuns: %w", err)
		}
		out = append(out, run)
	}
	return out, nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func readCount(ctx context.Context, q *bigquery.Query) (int64, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading query: %w", err)
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		if err == iterator.Done {
			return 0, nil
		}
		return 0, fmt.Errorf("reading count: %w", err)
	}
	return row.N, nil
}

// buildListQuery renders the filtered transaction query for table.
func buildListQuery(table string, f store.Filter) (string, []bigquery.QueryParameter) {
	var (
		where  []string
		params []bigquery.QueryParameter
	)
	if f.From != nil {
		where = append(where, "transaction_date >= @from_date")
		params = append(params, bigquery.QueryParameter{Name: "from_date", Value: *f.From})
	}
	if f.To != nil {
		where = append(where, "transaction_date <= @to_date")
		params = append(params, bigquery.QueryParameter{Name: "to_date", Value: *f.To})
	}
	if f.Category != "" {
		where = append(where, "LOWER(category_name) = LOWER(@category)")
		params = append(params, bigquery.QueryParameter{Name: "category", Value: f.Category})
	}
	if f.Merchant != "" {
		where = append(where, "LOWER(merchant_name) = LOWER(@merchant)")
		params = append(params, bigquery.QueryParameter{Name: "merchant", Value: f.Merchant})
	}

	var b strings.Builder
	b.WriteString(`SELECT
	transaction_id,
	fingerprint,
	transaction_date,
	raw_description,
	amount,
	balance_after,
	category_name,
	merchant_name,
	source_file,
	imported_ts
FROM `)
	b.WriteString(table)
	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString("\nORDER BY transaction_date, imported_ts, transaction_id")
	if f.Limit > 0 {
		b.WriteString("\nLIMIT @limit")
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: int64(f.Limit)})
	}
	return b.String(), params
}

// buildRunsQuery keeps the latest row per import ID; retried imports append
// one row per attempt.
func buildRunsQuery(table string, limit int) (string, []bigquery.QueryParameter) {
	sql := fmt.Sprintf(`SELECT * EXCEPT (rn)
FROM (
	SELECT *, ROW_NUMBER() OVER (PARTITION BY import_id ORDER BY finished_ts DESC) AS rn
	FROM %s
)
WHERE rn = 1
ORDER BY started_ts DESC, import_id`, table)

	if limit <= 0 {
		return sql, nil
	}
	return sql + "\nLIMIT @limit", []bigquery.QueryParameter{{Name: "limit", Value: int64(limit)}}
}
