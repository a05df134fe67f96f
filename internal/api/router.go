// Package api assembles the HTTP surface of the ingestion service.
package api

import (
	"net/http"
	"time"

	"github.com/dvloznov/finance-ingest/internal/api/handlers"
	"github.com/dvloznov/finance-ingest/internal/api/middleware"
	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/metrics"
	"github.com/dvloznov/finance-ingest/internal/normalize"
	"github.com/dvloznov/finance-ingest/internal/recurrence"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/rs/zerolog"
)

// Deps are the collaborators behind the routes. Runs, Archiver and Metrics
// are optional.
type Deps struct {
	Store      store.TransactionStore
	Runs       store.ImportRunRecorder
	Publisher  jobs.Publisher
	Jobs       jobs.JobStore
	Detector   *recurrence.Detector
	Categories *normalize.CategorySet
	Archiver   handlers.Archiver
	Metrics    *metrics.Metrics
	Log        zerolog.Logger

	Bucket       string
	MaxUpload    int64
	UpcomingDays int
	CORSOrigins  []string
}

// NewRouter registers every route and wraps the mux in the middleware chain.
func NewRouter(d Deps) http.Handler {
	imports := handlers.NewImportsHandler(d.Publisher, d.Runs, d.Archiver, d.Bucket, d.MaxUpload)
	transactions := handlers.NewTransactionsHandler(d.Store)
	insights := handlers.NewInsightsHandler(d.Store)
	recurring := handlers.NewRecurringHandler(d.Store, d.Detector, d.UpcomingDays)
	categories := handlers.NewCategoriesHandler(d.Categories)
	jobsHandler := handlers.NewJobsHandler(d.Jobs)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/imports", imports.CreateImport)
	mux.HandleFunc("GET /api/imports", imports.ListImports)

	mux.HandleFunc("GET /api/jobs", jobsHandler.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", jobsHandler.GetJob)

	mux.HandleFunc("GET /api/transactions", transactions.ListTransactions)
	mux.HandleFunc("GET /api/categories", categories.ListCategories)

	mux.HandleFunc("GET /api/insights/summary", insights.Summary)
	mux.HandleFunc("GET /api/insights/trend", insights.Trend)
	mux.HandleFunc("GET /api/insights/categories", insights.Categories)

	mux.HandleFunc("GET /api/recurring", recurring.ListRecurring)
	mux.HandleFunc("GET /api/recurring/upcoming", recurring.Upcoming)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	return middleware.Recovery(d.Log)(
		middleware.RequestID(
			middleware.Logger(d.Log)(
				middleware.CORS(d.CORSOrigins)(
					middleware.Metrics(d.Metrics)(mux),
				),
			),
		),
	)
}
