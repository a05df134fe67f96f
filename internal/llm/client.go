// Package llm is the boundary to the language model that structures and
// categorizes statement lines. The model is a black box: a prompt goes in and
// text that should be JSON comes out.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrUnavailable is matched by every error that means the model could not be
// reached or refused to serve: transport failures, timeouts, 5xx, a missing
// model and rejected credentials.
var ErrUnavailable = errors.New("model service unavailable")

// Client generates a completion for a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// UnavailableError carries the detail behind ErrUnavailable.
type UnavailableError struct {
	Provider  string
	Status    int  // HTTP status, 0 for transport failures
	Transient bool // worth retrying
	Err       error
}

func (e *UnavailableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s unavailable: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// IsTransient reports whether err is an unavailability worth retrying.
func IsTransient(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue) && ue.Transient
}

const (
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"

	DefaultOllamaEndpoint = "http://localhost:11434"
	DefaultOllamaModel    = "llama3.2:latest"
	DefaultGeminiModel    = "gemini-2.5-flash"
	DefaultTimeout        = 120 * time.Second
)

// Config selects and tunes the model provider.
type Config struct {
	Provider string
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration

	// Rate limiting and retries applied around the provider.
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	RetryBackoff      time.Duration
}

// New builds the configured provider wrapped in the Limited decorator.
func New(ctx context.Context, cfg Config) (Client, error) {
	var (
		base Client
		err  error
	)

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOllama:
		base, err = NewOllamaClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
	case ProviderGemini:
		base, err = NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
	default:
		return nil, fmt.Errorf("New: unknown provider %q", cfg.Provider)
	}

	return NewLimited(base, LimitConfig{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxRetries:        cfg.MaxRetries,
		Backoff:           cfg.RetryBackoff,
	}), nil
}

// maxErrorDetail bounds server text copied into errors.
const maxErrorDetail = 200

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
