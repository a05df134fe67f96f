package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/analytics"
	"github.com/dvloznov/finance-ingest/internal/api/middleware"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/normalize"
	"github.com/dvloznov/finance-ingest/internal/recurrence"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/google/uuid"
)

// Archiver keeps a copy of uploaded statements. *source.Loader implements it.
type Archiver interface {
	Archive(ctx context.Context, bucket, prefix, id, filename string, data []byte, now time.Time) (string, error)
}

// ImportsHandler handles statement uploads and the import history.
type ImportsHandler struct {
	publisher jobs.Publisher
	runs      store.ImportRunRecorder
	archiver  Archiver
	bucket    string
	maxBytes  int64
	now       func() time.Time
}

// NewImportsHandler creates a new imports handler. runs and archiver may be
// nil; uploads are archived only when both archiver and bucket are set.
func NewImportsHandler(publisher jobs.Publisher, runs store.ImportRunRecorder, archiver Archiver, bucket string, maxBytes int64) *ImportsHandler {
	return &ImportsHandler{
		publisher: publisher,
		runs:      runs,
		archiver:  archiver,
		bucket:    bucket,
		maxBytes:  maxBytes,
		now:       time.Now,
	}
}

// CreateImport handles POST /api/imports. The statement is either the raw
// request body (filename and kind in the query string) or the "file" part of
// a multipart form. The import itself runs in the background.
func (h *ImportsHandler) CreateImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}

	filename, kind, data, err := readStatement(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Statement is too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := &jobs.ImportJob{
		JobID:      uuid.New().String(),
		SourceFile: filename,
		Kind:       kind,
		Data:       data,
	}

	if h.archiver != nil && h.bucket != "" {
		uri, err := h.archiver.Archive(ctx, h.bucket, "statements", job.JobID, filename, data, h.now())
		if err != nil {
			// The import can still run from memory.
			log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to archive statement")
		} else {
			job.SourceURI = uri
		}
	}

	if err := h.publisher.PublishImport(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue import job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue import job")
		return
	}

	log.Info().Str("job_id", job.JobID).Str("source_file", filename).Int("bytes", len(data)).Msg("Import job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":      job.JobID,
		"source_file": filename,
		"status":      string(job.Status),
	})
}

func readStatement(r *http.Request) (filename string, kind domain.FileKind, data []byte, err error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	query := r.URL.Query()

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			return "", "", nil, fmt.Errorf("invalid multipart form: %w", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", "", nil, errors.New("file is required")
		}
		defer file.Close()

		data, err = io.ReadAll(file)
		if err != nil {
			return "", "", nil, err
		}
		filename = r.FormValue("filename")
		if filename == "" {
			filename = header.Filename
		}
		kind = domain.ParseFileKind(r.FormValue("kind"))
	} else {
		data, err = io.ReadAll(r.Body)
		if err != nil {
			return "", "", nil, err
		}
		filename = query.Get("filename")
		kind = domain.ParseFileKind(query.Get("kind"))
	}

	if len(data) == 0 {
		return "", "", nil, errors.New("statement is empty")
	}
	filename = filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if filename == "." || filename == "/" {
		filename = ""
	}
	if filename == "" {
		filename = "statement"
	}
	if kind == "" {
		kind = domain.DetectFileKind(filename, data)
	}
	if kind == "" {
		return "", "", nil, errors.New("unsupported statement type, expected csv or pdf")
	}
	return filename, kind, data, nil
}

// ListImports handles GET /api/imports
func (h *ImportsHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		middleware.WriteError(w, http.StatusNotImplemented, "Import history is not available for this store")
		return
	}

	limit, err := intParam(r, "limit", 50)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.runs.ListImportRuns(r.Context(), limit)
	if err != nil {
		lg := logger.FromContext(r.Context())
		lg.Error().Err(err).Msg("Failed to list import runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list imports")
		return
	}
	if runs == nil {
		runs = []*domain.ImportSummary{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"imports": runs,
		"count":   len(runs),
	})
}

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	store store.TransactionStore
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(s store.TransactionStore) *TransactionsHandler {
	return &TransactionsHandler{store: s}
}

// ListTransactions handles GET /api/transactions. format=csv streams the
// same selection as a CSV export.
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseFilter(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	transactions, err := h.store.List(ctx, filter)
	if err != nil {
		lg := logger.FromContext(ctx)
		lg.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="transactions.csv"`)
		if err := analytics.WriteCSV(w, transactions); err != nil {
			lg := logger.FromContext(ctx)
			lg.Error().Err(err).Msg("Failed to write CSV export")
		}
		return
	}

	// Return array directly for frontend compatibility
	if transactions == nil {
		transactions = []*domain.CanonicalTransaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, transactions)
}

// InsightsHandler serves the aggregate views of the dashboard.
type InsightsHandler struct {
	store store.TransactionStore
}

// NewInsightsHandler creates a new insights handler.
func NewInsightsHandler(s store.TransactionStore) *InsightsHandler {
	return &InsightsHandler{store: s}
}

// Summary handles GET /api/insights/summary
func (h *InsightsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	txs, ok := h.load(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"totals":         analytics.Summarize(txs),
		"latest_balance": analytics.LatestBalance(txs),
	})
}

// Trend handles GET /api/insights/trend
func (h *InsightsHandler) Trend(w http.ResponseWriter, r *http.Request) {
	txs, ok := h.load(w, r)
	if !ok {
		return
	}
	points := analytics.MonthlyTrend(txs)
	if points == nil {
		points = []analytics.MonthPoint{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"months": points})
}

// Categories handles GET /api/insights/categories
func (h *InsightsHandler) Categories(w http.ResponseWriter, r *http.Request) {
	txs, ok := h.load(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": analytics.SpendingByCategory(txs),
	})
}

func (h *InsightsHandler) load(w http.ResponseWriter, r *http.Request) ([]*domain.CanonicalTransaction, bool) {
	filter, err := parseFilter(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	filter.Limit = 0
	txs, err := h.store.List(r.Context(), filter)
	if err != nil {
		lg := logger.FromContext(r.Context())
		lg.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return nil, false
	}
	return txs, true
}

// RecurringHandler serves the detected recurring payments. Groups are
// recomputed from the full history on every request.
type RecurringHandler struct {
	store        store.TransactionStore
	detector     *recurrence.Detector
	upcomingDays int
	now          func() time.Time
}

// NewRecurringHandler creates a new recurring payments handler.
func NewRecurringHandler(s store.TransactionStore, detector *recurrence.Detector, upcomingDays int) *RecurringHandler {
	if upcomingDays <= 0 {
		upcomingDays = 30
	}
	return &RecurringHandler{store: s, detector: detector, upcomingDays: upcomingDays, now: time.Now}
}

// ListRecurring handles GET /api/recurring
func (h *RecurringHandler) ListRecurring(w http.ResponseWriter, r *http.Request) {
	groups, ok := h.detect(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"recurring":   groups,
		"count":       len(groups),
		"yearly_cost": analytics.YearlyRecurringCost(groups),
	})
}

// Upcoming handles GET /api/recurring/upcoming
func (h *RecurringHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", h.upcomingDays)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	groups, ok := h.detect(w, r)
	if !ok {
		return
	}
	upcoming := analytics.Upcoming(groups, civil.DateOf(h.now()), days)
	if upcoming == nil {
		upcoming = []analytics.UpcomingPayment{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"upcoming": upcoming,
		"days":     days,
	})
}

func (h *RecurringHandler) detect(w http.ResponseWriter, r *http.Request) ([]domain.RecurrenceGroup, bool) {
	history, err := h.store.List(r.Context(), store.Filter{})
	if err != nil {
		lg := logger.FromContext(r.Context())
		lg.Error().Err(err).Msg("Failed to load history")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load history")
		return nil, false
	}
	groups := h.detector.Detect(history)
	if groups == nil {
		groups = []domain.RecurrenceGroup{}
	}
	return groups, true
}

// CategoriesHandler handles category-related endpoints.
type CategoriesHandler struct {
	categories *normalize.CategorySet
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(categories *normalize.CategorySet) *CategoriesHandler {
	return &CategoriesHandler{categories: categories}
}

// ListCategories handles GET /api/categories
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	labels := h.categories.Labels()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": labels,
		"count":      len(labels),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := r.PathValue("id")

	job, err := h.store.GetJob(ctx, jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		lg := logger.FromContext(ctx)
		lg.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		SourceFile: query.Get("source_file"),
		Status:     jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		lg := logger.FromContext(ctx)
		lg.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// parseFilter reads from, to (YYYY-MM-DD), category, merchant and limit.
func parseFilter(r *http.Request) (store.Filter, error) {
	query := r.URL.Query()
	filter := store.Filter{
		Category: query.Get("category"),
		Merchant: query.Get("merchant"),
	}

	for _, p := range []struct {
		name string
		dst  **civil.Date
	}{{"from", &filter.From}, {"to", &filter.To}} {
		v := query.Get(p.name)
		if v == "" {
			continue
		}
		d, err := civil.ParseDate(v)
		if err != nil {
			return store.Filter{}, fmt.Errorf("invalid %s date %q, expected YYYY-MM-DD", p.name, v)
		}
		*p.dst = &d
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return store.Filter{}, errors.New("to must not be before from")
	}

	limit, err := intParam(r, "limit", 0)
	if err != nil {
		return store.Filter{}, err
	}
	filter.Limit = limit
	return filter, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}
