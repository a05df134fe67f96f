package inmemory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.ImportJob {
	t.Helper()
	var job *jobs.ImportJob
	require.Eventually(t, func() bool {
		j, err := store.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestQueue_CompletesJob(t *testing.T) {
	store := NewStore()
	queue := NewQueue(10, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []byte
	require.NoError(t, queue.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		seen = job.(*jobs.ImportJob).Data
		return nil
	}))

	job := &jobs.ImportJob{SourceFile: "jan.csv", Data: []byte("rows")}
	require.NoError(t, queue.PublishImport(ctx, job))
	require.NotEmpty(t, job.JobID)
	assert.Equal(t, DefaultMaxRetries, job.MaxRetries)

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.Error)
	assert.Nil(t, done.Data)
	assert.Equal(t, []byte("rows"), seen)

	require.NoError(t, queue.Stop(context.Background()))
}

func TestQueue_RetriesTransientFailures(t *testing.T) {
	store := NewStore()
	queue := NewQueue(10, store, WithRetries(3, time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	require.NoError(t, queue.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		if attempts.Add(1) < 3 {
			return errors.New("model unavailable")
		}
		return nil
	}))

	job := &jobs.ImportJob{JobID: "retry-me", SourceFile: "jan.pdf"}
	require.NoError(t, queue.PublishImport(ctx, job))

	done := waitForStatus(t, store, "retry-me", jobs.JobStatusCompleted)
	assert.Equal(t, 2, done.RetryCount)
	assert.Equal(t, int32(3), attempts.Load())

	require.NoError(t, queue.Stop(context.Background()))
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	store := NewStore()
	m := metrics.New()
	queue := NewQueue(10, store, WithRetries(1, time.Millisecond), WithMetrics(m))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, queue.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		return errors.New("still down")
	}))
	require.NoError(t, queue.PublishImport(ctx, &jobs.ImportJob{JobID: "doomed"}))

	done := waitForStatus(t, store, "doomed", jobs.JobStatusFailed)
	assert.Equal(t, 1, done.RetryCount)
	assert.Equal(t, "still down", done.Error)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `finance_ingest_jobs_total{status="failed"} 1`)

	require.NoError(t, queue.Stop(context.Background()))
}

func TestQueue_PermanentErrorsAreNotRetried(t *testing.T) {
	store := NewStore()
	queue := NewQueue(10, store, WithRetries(5, time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	require.NoError(t, queue.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		attempts.Add(1)
		return jobs.Permanent(errors.New("not a statement"))
	}))
	require.NoError(t, queue.PublishImport(ctx, &jobs.ImportJob{JobID: "bad-file"}))

	done := waitForStatus(t, store, "bad-file", jobs.JobStatusFailed)
	assert.Zero(t, done.RetryCount)
	assert.Equal(t, "not a statement", done.Error)
	assert.Equal(t, int32(1), attempts.Load())

	require.NoError(t, queue.Stop(context.Background()))
}

func TestQueue_PublishAfterStop(t *testing.T) {
	queue := NewQueue(1, NewStore())
	require.NoError(t, queue.Stop(context.Background()))
	require.NoError(t, queue.Stop(context.Background()))

	err := queue.PublishImport(context.Background(), &jobs.ImportJob{})
	require.ErrorIs(t, err, ErrQueueClosed)
	require.ErrorIs(t, queue.Start(context.Background(), nil), ErrQueueClosed)
}

func TestQueue_StopUnblocksPublisherOnFullBuffer(t *testing.T) {
	queue := NewQueue(1, NewStore())
	require.NoError(t, queue.PublishImport(context.Background(), &jobs.ImportJob{}))

	published := make(chan error, 1)
	go func() {
		published <- queue.PublishImport(context.Background(), &jobs.ImportJob{})
	}()

	select {
	case err := <-published:
		t.Fatalf("publish returned before Stop: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, queue.Stop(ctx))
	assert.Less(t, time.Since(start), time.Second)

	select {
	case err := <-published:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after Stop")
	}
}

func TestQueue_RetryDelay(t *testing.T) {
	queue := NewQueue(1, nil, WithRetries(3, time.Second))
	assert.Equal(t, time.Second, queue.retryDelay(1))
	assert.Equal(t, 2*time.Second, queue.retryDelay(2))
	assert.Equal(t, 4*time.Second, queue.retryDelay(3))
	assert.Equal(t, maxBackoff, queue.retryDelay(30))
}

func TestQueue_WorkerOption(t *testing.T) {
	assert.Equal(t, DefaultWorkers, NewQueue(1, nil, WithWorkers(0)).workers)
	assert.Equal(t, 4, NewQueue(1, nil, WithWorkers(4)).workers)
}
