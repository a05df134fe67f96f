package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/llm"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/metrics"
	"github.com/dvloznov/finance-ingest/internal/normalize"
)

// ParserConfig bounds the size of one model request.
type ParserConfig struct {
	MaxBatchLines int
	MaxBatchChars int
}

// Parser turns extracted statement lines into provisional transactions.
// Free text goes through the model; CSV rows are structured locally and the
// model only fills in categories.
type Parser struct {
	client     llm.Client
	categories *normalize.CategorySet
	maxLines   int
	maxChars   int
	metrics    *metrics.Metrics
	rules      *normalize.RuleSource
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithRules categorizes rows from overrides and keyword rules before the
// model is asked. Only rows the rules cannot place reach the model.
func WithRules(src *normalize.RuleSource) ParserOption {
	return func(p *Parser) { p.rules = src }
}

// BatchResult is the outcome of one batch.
type BatchResult struct {
	Batch        int // 1-based
	Transactions []domain.ProvisionalTransaction
	Malformed    []string // one reason per unreadable item
	Warnings     []domain.PartialParseWarning
}

// ParseResult accumulates every completed batch.
type ParseResult struct {
	Transactions     []domain.ProvisionalTransaction
	Malformed        []string
	Warnings         []domain.PartialParseWarning
	BatchesCompleted int
}

// NewParser creates a parser. m may be nil.
func NewParser(client llm.Client, categories *normalize.CategorySet, cfg ParserConfig, m *metrics.Metrics, opts ...ParserOption) *Parser {
	if categories == nil {
		categories = normalize.NewCategorySet(domain.DefaultCategories)
	}
	p := &Parser{
		client:     client,
		categories: categories,
		maxLines:   cfg.MaxBatchLines,
		maxChars:   cfg.MaxBatchChars,
		metrics:    m,
	}
	if p.maxLines <= 0 {
		p.maxLines = DefaultMaxBatchLines
	}
	if p.maxChars <= 0 {
		p.maxChars = DefaultMaxBatchChars
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Categories returns the label set offered to the model.
func (p *Parser) Categories() *normalize.CategorySet {
	return p.categories
}

// Batches splits lines into consecutive batches bounded by line count and
// text size. A single line longer than the size bound forms its own batch.
func (p *Parser) Batches(lines []domain.RawLine) [][]domain.RawLine {
	var (
		batches [][]domain.RawLine
		cur     []domain.RawLine
		chars   int
	)
	for _, l := range lines {
		n := len(l.Text) + 1
		if len(cur) > 0 && (len(cur) >= p.maxLines || chars+n > p.maxChars) {
			batches = append(batches, cur)
			cur, chars = nil, 0
		}
		cur = append(cur, l)
		chars += n
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// Parse runs every batch in order. On a *domain.ServiceUnavailableError it
// stops and returns the batches completed so far together with the error.
func (p *Parser) Parse(ctx context.Context, lines []domain.RawLine) (*ParseResult, error) {
	out := &ParseResult{}
	for i, batch := range p.Batches(lines) {
		res, err := p.ParseBatch(ctx, i+1, batch)
		if err != nil {
			return out, err
		}
		out.Transactions = append(out.Transactions, res.Transactions...)
		out.Malformed = append(out.Malformed, res.Malformed...)
		out.Warnings = append(out.Warnings, res.Warnings...)
		out.BatchesCompleted++
	}
	return out, nil
}

// ParseBatch parses one batch. The only errors are service unavailability
// and context cancellation; bad model output becomes warnings.
func (p *Parser) ParseBatch(ctx context.Context, batch int, lines []domain.RawLine) (*BatchResult, error) {
	if structured(lines) {
		rows := csvRowsToProvisional(lines)
		warnings, err := p.CategorizeBatch(ctx, batch, rows)
		if err != nil {
			return nil, err
		}
		return &BatchResult{Batch: batch, Transactions: rows, Warnings: warnings}, nil
	}
	return p.extract(ctx, batch, lines)
}

// structured reports whether every line came from a CSV row.
func structured(lines []domain.RawLine) bool {
	for _, l := range lines {
		if l.Fields == nil {
			return false
		}
	}
	return len(lines) > 0
}

func (p *Parser) extract(ctx context.Context, batch int, lines []domain.RawLine) (*BatchResult, error) {
	log := logger.FromContext(ctx)
	res := &BatchResult{Batch: batch}

	raw, err := p.generate(ctx, batch, purposeExtract, buildExtractionPrompt(lines, p.categories.Labels()))
	if err != nil {
		return nil, err
	}

	value, repaired, err := decodeModelJSON(raw)
	if err != nil {
		log.Warn().Int("batch", batch).Err(err).Str("response", echo(raw)).Msg("Discarding unparseable model output")
		res.Warnings = append(res.Warnings, p.warn(batch, fmt.Sprintf("unparseable model output: %v", err), 0))
		return res, nil
	}

	items, ok := itemsOf(value)
	if !ok {
		log.Warn().Int("batch", batch).Str("response", echo(raw)).Msg("Model output has no transaction list")
		res.Warnings = append(res.Warnings, p.warn(batch, "model output has no transaction list", 0))
		return res, nil
	}

	for _, r := range toRecords(items) {
		if r.malformed != "" {
			res.Malformed = append(res.Malformed, r.malformed)
			continue
		}
		res.Transactions = append(res.Transactions, r.tx)
	}
	p.applyRules(res.Transactions, false)

	if repaired {
		log.Warn().Int("batch", batch).Int("recovered", len(res.Transactions)).Msg("Repaired malformed model output")
		res.Warnings = append(res.Warnings, p.warn(batch, "model output was malformed and repaired", len(res.Transactions)))
	}

	return res, nil
}

// CategorizeBatch fills in categories of rows whose category is missing or
// unknown: overrides and keyword rules first, then the model for whatever is
// left. Rows nobody answers for keep their value and normalize to
// Uncategorized.
func (p *Parser) CategorizeBatch(ctx context.Context, batch int, rows []domain.ProvisionalTransaction) ([]domain.PartialParseWarning, error) {
	p.applyRules(rows, true)

	var ids []int
	for i, r := range rows {
		if !p.categories.Valid(r.Category) {
			ids = append(ids, i)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	log := logger.FromContext(ctx)

	raw, err := p.generate(ctx, batch, purposeCategorize, buildCategorizePrompt(rows, ids, p.categories.Labels()))
	if err != nil {
		return nil, err
	}

	value, repaired, err := decodeModelJSON(raw)
	if err != nil {
		log.Warn().Int("batch", batch).Err(err).Str("response", echo(raw)).Msg("Discarding unparseable categorization output")
		return []domain.PartialParseWarning{
			p.warn(batch, fmt.Sprintf("unparseable categorization output, %d rows left uncategorized: %v", len(ids), err), 0),
		}, nil
	}

	pending := make(map[int]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}

	assigned := 0
	for id, label := range categoryAnswers(value) {
		if !pending[id] || !p.categories.Valid(label) {
			continue
		}
		rows[id].Category = p.categories.Resolve(label)
		delete(pending, id)
		assigned++
	}

	if repaired || assigned < len(ids) {
		log.Warn().Int("batch", batch).Int("assigned", assigned).Int("requested", len(ids)).Msg("Incomplete categorization output")
		return []domain.PartialParseWarning{
			p.warn(batch, fmt.Sprintf("categorized %d of %d rows", assigned, len(ids)), assigned),
		}, nil
	}
	return nil, nil
}

// applyRules sets categories from the configured rules. An override always
// wins. keepValid keeps a category the statement itself supplied; model
// guesses are replaced by a matching keyword rule. It returns how many rows
// a rule categorized.
func (p *Parser) applyRules(rows []domain.ProvisionalTransaction, keepValid bool) int {
	rules := p.rules.Current()
	if rules == nil {
		return 0
	}

	n := 0
	for i := range rows {
		if label, ok := rules.Override(rows[i].Description); ok && p.categories.Valid(label) {
			rows[i].Category = p.categories.Resolve(label)
			n++
			continue
		}
		if keepValid && p.categories.Valid(rows[i].Category) {
			continue
		}
		if label, ok := rules.Keyword(rows[i].Description); ok && p.categories.Valid(label) {
			rows[i].Category = p.categories.Resolve(label)
			n++
		}
	}
	return n
}

// categoryAnswers reads {"id": n, "category": "..."} items, or an object
// mapping ids to labels.
func categoryAnswers(v any) map[int]string {
	out := make(map[int]string)

	if m, ok := v.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			id, err := strconv.Atoi(k)
			if err != nil {
				continue
			}
			if label, ok := m[k].(string); ok {
				out[id] = label
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	items, ok := itemsOf(v)
	if !ok {
		m, isMap := v.(map[string]any)
		if !isMap {
			return out
		}
		items = []any{m}
	}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		idText, err := getStringField(obj, []string{"id", "index", "row"})
		if err != nil {
			continue
		}
		id, err := strconv.Atoi(idText)
		if err != nil {
			continue
		}
		label, err := getStringField(obj, categoryKeys)
		if err != nil || label == "" {
			continue
		}
		if _, seen := out[id]; !seen {
			out[id] = label
		}
	}
	return out
}

// generate calls the model and classifies failures. Any client error other
// than cancellation means the service is unavailable for this batch.
func (p *Parser) generate(ctx context.Context, batch int, purpose, prompt string) (string, error) {
	start := time.Now()
	raw, err := p.client.Generate(ctx, prompt)
	p.metrics.ModelCall(purpose, time.Since(start), err)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &domain.ServiceUnavailableError{Batch: batch, Err: err}
	}
	return raw, nil
}

func (p *Parser) warn(batch int, reason string, recovered int) domain.PartialParseWarning {
	p.metrics.ParseWarning()
	return domain.PartialParseWarning{Batch: batch, Reason: reason, Recovered: recovered}
}
