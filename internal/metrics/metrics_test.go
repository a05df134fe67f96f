package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_RecordsAndExposes(t *testing.T) {
	m := New()

	m.ImportFinished("csv", "completed", 2*time.Second)
	m.BatchProcessed("committed")
	m.RecordsCounted(3, 1, map[string]int{"invalid_date": 2})
	m.ParseWarning()
	m.ModelCall("extract", 150*time.Millisecond, nil)
	m.ModelCall("extract", time.Second, errors.New("down"))
	m.JobFinished("succeeded")
	m.HTTPRequest(http.MethodGet, "/health", 200, time.Millisecond)

	out := scrape(t, m)
	assert.Contains(t, out, `finance_ingest_imports_total{kind="csv",status="completed"} 1`)
	assert.Contains(t, out, `finance_ingest_batches_total{outcome="committed"} 1`)
	assert.Contains(t, out, `finance_ingest_records_total{outcome="inserted"} 3`)
	assert.Contains(t, out, `finance_ingest_records_total{outcome="dropped"} 2`)
	assert.Contains(t, out, `finance_ingest_records_dropped_total{reason="invalid_date"} 2`)
	assert.Contains(t, out, `finance_ingest_model_calls_total{purpose="extract",result="error"} 1`)
	assert.Contains(t, out, `finance_ingest_http_requests_total{code="200",method="GET",route="/health"} 1`)
	assert.Contains(t, out, "go_goroutines")
}

func TestMetrics_RegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ParseWarning()

	assert.Contains(t, scrape(t, a), "finance_ingest_parse_warnings_total 1")
	assert.Contains(t, scrape(t, b), "finance_ingest_parse_warnings_total 0")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ImportFinished("pdf", "aborted", time.Second)
		m.BatchProcessed("aborted")
		m.RecordsCounted(1, 1, nil)
		m.ParseWarning()
		m.ModelCall("categorize", time.Second, nil)
		m.JobFinished("failed")
		m.HTTPRequest(http.MethodPost, "/api/imports", 500, time.Second)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
