package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllama(t *testing.T, cfg Config) *OllamaClient {
	t.Helper()
	c, err := NewOllamaClient(cfg)
	require.NoError(t, err)
	return c
}

func TestOllamaClient_Generate(t *testing.T) {
	var got api.GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":    got.Model,
			"response": `[{"date":"2024-01-15","description":"NETFLIX","amount":-15.49}]`,
			"done":     true,
		})
	}))
	defer srv.Close()

	c := newOllama(t, Config{Endpoint: srv.URL + "/", Model: "llama3.2:latest", APIKey: "secret"})
	out, err := c.Generate(context.Background(), "parse this")
	require.NoError(t, err)

	assert.Contains(t, out, "NETFLIX")
	assert.Equal(t, "llama3.2:latest", got.Model)
	assert.Equal(t, "parse this", got.Prompt)
	require.NotNil(t, got.Stream)
	assert.False(t, *got.Stream)
	assert.JSONEq(t, `"json"`, string(got.Format))
	assert.EqualValues(t, 0, got.Options["temperature"])
	assert.Equal(t, "ollama/llama3.2:latest", c.Name())
}

func TestOllamaClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"overloaded", http.StatusServiceUnavailable, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"model missing", http.StatusNotFound, false},
		{"forbidden", http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			_, err := newOllama(t, Config{Endpoint: srv.URL}).Generate(context.Background(), "p")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.Equal(t, tt.transient, IsTransient(err))

			var ue *UnavailableError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, tt.status, ue.Status)
			assert.Contains(t, ue.Error(), "nope")
		})
	}
}

func TestOllamaClient_UnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newOllama(t, Config{Endpoint: url}).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsTransient(err))
}

func TestOllamaClient_TimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newOllama(t, Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}).
		Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOllamaClient_CancelledIsNotUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newOllama(t, Config{Endpoint: srv.URL}).Generate(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestOllamaClient_ErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model is loading"}`))
	}))
	defer srv.Close()

	_, err := newOllama(t, Config{Endpoint: srv.URL}).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, IsTransient(err))
}

func TestOllamaClient_Defaults(t *testing.T) {
	c := newOllama(t, Config{})
	assert.Equal(t, DefaultOllamaEndpoint, c.endpoint)
	assert.Equal(t, DefaultOllamaModel, c.model)
	assert.Equal(t, DefaultTimeout, c.http.Timeout)

	_, err := NewOllamaClient(Config{Endpoint: "localhost"})
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abcd", 2))
	// "é" is two bytes; cutting inside it backs off to the rune start.
	got := truncate("aé", 2)
	assert.Equal(t, "a", got)
	assert.True(t, utf8.ValidString(got))
}

// fakeClient is a hand-written Client for decorator tests.
type fakeClient struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	calls        atomic.Int32
}

func (f *fakeClient) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	return f.GenerateFunc(ctx, prompt)
}

func (f *fakeClient) Name() string { return "fake" }

func TestLimited_RetriesTransientFailures(t *testing.T) {
	fake := &fakeClient{}
	fake.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		if fake.calls.Load() < 3 {
			return "", &UnavailableError{Provider: "fake", Status: 503, Transient: true, Err: errors.New("busy")}
		}
		return "[]", nil
	}

	l := NewLimited(fake, LimitConfig{MaxRetries: 3, Backoff: time.Millisecond})
	out, err := l.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
	assert.EqualValues(t, 3, fake.calls.Load())
}

func TestLimited_GivesUpAfterMaxRetries(t *testing.T) {
	fake := &fakeClient{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		return "", &UnavailableError{Provider: "fake", Transient: true, Err: errors.New("down")}
	}}

	_, err := NewLimited(fake, LimitConfig{MaxRetries: 2, Backoff: time.Millisecond}).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 3, fake.calls.Load())
}

func TestLimited_DoesNotRetryPermanentFailures(t *testing.T) {
	fake := &fakeClient{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		return "", &UnavailableError{Provider: "fake", Status: 404, Err: errors.New("model not found")}
	}}

	_, err := NewLimited(fake, LimitConfig{MaxRetries: 5, Backoff: time.Millisecond}).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 1, fake.calls.Load())
}

func TestLimited_NegativeRetriesDisablesRetry(t *testing.T) {
	fake := &fakeClient{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		return "", &UnavailableError{Provider: "fake", Transient: true, Err: errors.New("down")}
	}}

	_, err := NewLimited(fake, LimitConfig{MaxRetries: -1}).Generate(context.Background(), "p")
	assert.Error(t, err)
	assert.EqualValues(t, 1, fake.calls.Load())
}

func TestLimited_RespectsCancellation(t *testing.T) {
	fake := &fakeClient{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		return "", &UnavailableError{Provider: "fake", Transient: true, Err: errors.New("down")}
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLimited(fake, LimitConfig{MaxRetries: 3, Backoff: time.Hour, RequestsPerSecond: 10}).Generate(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_SelectsProvider(t *testing.T) {
	c, err := New(context.Background(), Config{Provider: "ollama", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ollama/m", c.Name())

	_, err = New(context.Background(), Config{Provider: "openai"})
	assert.Error(t, err)
}
