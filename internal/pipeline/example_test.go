package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dvloznov/finance-ingest/internal/dedup"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/llm"
)

// MockModelClient is a mock implementation of llm.Client for testing.
type MockModelClient struct {
	GenerateFunc func(ctx context.Context, call int, prompt string) (string, error)

	mu      sync.Mutex
	Prompts []string
}

func (m *MockModelClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	call := len(m.Prompts)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, call, prompt)
	}
	return "[]", nil
}

func (m *MockModelClient) Name() string { return "mock" }

func (m *MockModelClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

// MockCommitter is a mock implementation of pipeline.Committer for testing.
type MockCommitter struct {
	CommitFunc func(ctx context.Context, batch []*domain.CanonicalTransaction) (dedup.CommitResult, error)
}

func (m *MockCommitter) Commit(ctx context.Context, batch []*domain.CanonicalTransaction) (dedup.CommitResult, error) {
	if m.CommitFunc != nil {
		return m.CommitFunc(ctx, batch)
	}
	return dedup.CommitResult{Inserted: len(batch)}, nil
}

// unavailable mimics an unreachable model server.
func unavailable() error {
	return &llm.UnavailableError{Provider: "mock", Status: 503, Transient: true, Err: errors.New("connection refused")}
}

// categorizeAll answers a categorization prompt for ids 0..n-1 with label.
func categorizeAll(n int, label string) string {
	out := "["
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"id": %d, "category": %q}`, i, label)
	}
	return out + "]"
}
