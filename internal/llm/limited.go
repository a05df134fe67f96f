package llm

import (
	"context"
	"time"

	"github.com/dvloznov/finance-ingest/internal/logger"
	"golang.org/x/time/rate"
)

// LimitConfig tunes the Limited decorator. Zero values pick the defaults.
type LimitConfig struct {
	RequestsPerSecond float64 // <= 0 disables rate limiting
	Burst             int
	MaxRetries        int // retries after the first attempt
	Backoff           time.Duration
}

const (
	DefaultMaxRetries = 2
	DefaultBackoff    = 500 * time.Millisecond
	maxBackoff        = 10 * time.Second
)

// Limited wraps a Client with a request rate limit and bounded retries of
// transient failures using exponential backoff.
type Limited struct {
	next       Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
}

// NewLimited decorates next.
func NewLimited(next Client, cfg LimitConfig) *Limited {
	l := &Limited{
		next:       next,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
	}
	if l.maxRetries < 0 {
		l.maxRetries = 0
	} else if cfg.MaxRetries == 0 {
		l.maxRetries = DefaultMaxRetries
	}
	if l.backoff <= 0 {
		l.backoff = DefaultBackoff
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return l
}

// Name returns the wrapped client's name.
func (l *Limited) Name() string { return l.next.Name() }

// Generate waits for the limiter, then calls the wrapped client, retrying
// transient unavailability.
func (l *Limited) Generate(ctx context.Context, prompt string) (string, error) {
	log := logger.FromContext(ctx)
	delay := l.backoff

	for attempt := 0; ; attempt++ {
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		out, err := l.next.Generate(ctx, prompt)
		if err == nil || !IsTransient(err) || attempt >= l.maxRetries {
			return out, err
		}

		log.Warn().
			Err(err).
			Str("model", l.next.Name()).
			Int("attempt", attempt+1).
			Dur("retry_in", delay).
			Msg("Model call failed, retrying")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}

		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}
