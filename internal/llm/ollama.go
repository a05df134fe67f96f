package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaClient talks to a local Ollama server through its official client.
type OllamaClient struct {
	endpoint string
	model    string
	http     *http.Client
	api      *api.Client
}

// NewOllamaClient builds a client for the server at cfg.Endpoint.
func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	endpoint = strings.TrimSuffix(endpoint, "/")
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	base, err := url.Parse(endpoint)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("NewOllamaClient: invalid endpoint %q", endpoint)
	}

	hc := &http.Client{
		Timeout:   timeout,
		Transport: ollamaTransport{token: cfg.APIKey, next: http.DefaultTransport},
	}

	return &OllamaClient{
		endpoint: endpoint,
		model:    model,
		http:     hc,
		api:      api.NewClient(base, hc),
	}, nil
}

type statusKey struct{}

// ollamaTransport adds the API key for servers behind an auth proxy and
// records the response status for the call that made the request. The
// client reports some HTTP failures as bare error messages.
type ollamaTransport struct {
	token string
	next  http.RoundTripper
}

func (t ollamaTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.token != "" {
		r = r.Clone(r.Context())
		r.Header.Set("Authorization", "Bearer "+t.token)
	}
	resp, err := t.next.RoundTrip(r)
	if status, ok := r.Context().Value(statusKey{}).(*int); ok && resp != nil {
		*status = resp.StatusCode
	}
	return resp, err
}

// Name returns "ollama/<model>".
func (c *OllamaClient) Name() string {
	return ProviderOllama + "/" + c.model
}

// Generate sends one non-streaming completion request in JSON mode.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  &stream,
		Format:  json.RawMessage(`"json"`),
		Options: map[string]any{"temperature": 0},
	}

	var (
		out    strings.Builder
		status int
	)
	err := c.api.Generate(context.WithValue(ctx, statusKey{}, &status), req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", classifyOllama(ctx, status, err)
	}
	return out.String(), nil
}

// classifyOllama maps client errors onto UnavailableError. Caller
// cancellation is returned as is. status is the HTTP status seen, 0 when no
// response arrived.
func classifyOllama(ctx context.Context, status int, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}

	detail := err.Error()
	var se api.StatusError
	if errors.As(err, &se) {
		status = se.StatusCode
		detail = se.ErrorMessage
		if detail == "" {
			detail = se.Status
		}
	}
	if status >= http.StatusBadRequest {
		return &UnavailableError{
			Provider:  ProviderOllama,
			Status:    status,
			Transient: status >= 500 || status == http.StatusTooManyRequests,
			Err:       errors.New(truncate(detail, maxErrorDetail)),
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &UnavailableError{Provider: ProviderOllama, Transient: true, Err: err}
	}

	// An error field in a 200 response, or an envelope the client could not read.
	return &UnavailableError{Provider: ProviderOllama, Status: status, Err: err}
}
