package notionsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockNotionService is a hand-written fake of NotionService.
type MockNotionService struct {
	CreatePageFunc    func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	UpdatePageFunc    func(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
	QueryDatabaseFunc func(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	ArchivePageFunc   func(ctx context.Context, pageID string) error

	created  []notionapi.Properties
	updated  map[string]notionapi.Properties
	archived []string
}

func (m *MockNotionService) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.CreatePageFunc != nil {
		return m.CreatePageFunc(ctx, databaseID, properties)
	}
	m.created = append(m.created, properties)
	return &notionapi.Page{ID: notionapi.ObjectID("new-page")}, nil
}

func (m *MockNotionService) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.UpdatePageFunc != nil {
		return m.UpdatePageFunc(ctx, pageID, properties)
	}
	if m.updated == nil {
		m.updated = map[string]notionapi.Properties{}
	}
	m.updated[pageID] = properties
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (m *MockNotionService) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if m.QueryDatabaseFunc != nil {
		return m.QueryDatabaseFunc(ctx, databaseID, filter)
	}
	return &notionapi.DatabaseQueryResponse{}, nil
}

func (m *MockNotionService) ArchivePage(ctx context.Context, pageID string) error {
	if m.ArchivePageFunc != nil {
		return m.ArchivePageFunc(ctx, pageID)
	}
	m.archived = append(m.archived, pageID)
	return nil
}

func pageWithKey(id, key string) notionapi.Page {
	props := notionapi.Properties{}
	if key != "" {
		props[propMerchantKey] = &notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{PlainText: key}},
		}
	}
	return notionapi.Page{ID: notionapi.ObjectID(id), Properties: props}
}

func group(key string, freq domain.Frequency) domain.RecurrenceGroup {
	return domain.RecurrenceGroup{
		MerchantKey:   key,
		Merchant:      key,
		Category:      "Subscriptions",
		TypicalAmount: decimal.RequireFromString("9.99"),
		Frequency:     freq,
		Occurrences:   4,
		LastPaid:      civil.Date{Year: 2024, Month: time.April, Day: 3},
		NextExpected:  civil.Date{Year: 2024, Month: time.May, Day: 3},
		YearlyCost:    decimal.RequireFromString("119.88"),
		Confidence:    0.9,
	}
}

func TestSyncRecurring(t *testing.T) {
	svc := &MockNotionService{
		QueryDatabaseFunc: func(_ context.Context, _ string, _ *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{
				pageWithKey("page-netflix", "netflix"),
				pageWithKey("page-gym", "gym"),
				pageWithKey("page-manual", ""),
			}}, nil
		},
	}

	groups := []domain.RecurrenceGroup{
		group("netflix", domain.FrequencyMonthly),
		group("spotify", domain.FrequencyMonthly),
	}

	res, err := SyncRecurring(context.Background(), svc, "db-1", groups, false)
	require.NoError(t, err)

	assert.Equal(t, SyncResult{Created: 1, Updated: 1, Archived: 2}, res)
	assert.Contains(t, svc.updated, "page-netflix")
	assert.ElementsMatch(t, []string{"page-gym", "page-manual"}, svc.archived)
	require.Len(t, svc.created, 1)
	assert.Contains(t, svc.created[0], propNextExpected)
}

func TestSyncRecurringDryRun(t *testing.T) {
	svc := &MockNotionService{
		QueryDatabaseFunc: func(_ context.Context, _ string, _ *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{pageWithKey("page-gym", "gym")}}, nil
		},
		CreatePageFunc: func(context.Context, string, notionapi.Properties) (*notionapi.Page, error) {
			t.Fatal("dry run must not create pages")
			return nil, nil
		},
		ArchivePageFunc: func(context.Context, string) error {
			t.Fatal("dry run must not archive pages")
			return nil
		},
	}

	res, err := SyncRecurring(context.Background(), svc, "db-1", []domain.RecurrenceGroup{group("netflix", domain.FrequencyMonthly)}, true)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Created: 1, Archived: 1}, res)
}

func TestSyncRecurringPageFailuresAreCounted(t *testing.T) {
	svc := &MockNotionService{
		CreatePageFunc: func(context.Context, string, notionapi.Properties) (*notionapi.Page, error) {
			return nil, errors.New("rate limited")
		},
	}

	res, err := SyncRecurring(context.Background(), svc, "db-1", []domain.RecurrenceGroup{
		group("netflix", domain.FrequencyMonthly),
		group("gym", domain.FrequencyMonthly),
	}, false)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Failed: 2}, res)
}

func TestSyncRecurringQueryError(t *testing.T) {
	svc := &MockNotionService{
		QueryDatabaseFunc: func(context.Context, string, *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			return nil, errors.New("unauthorized")
		},
	}

	_, err := SyncRecurring(context.Background(), svc, "db-1", nil, false)
	assert.ErrorContains(t, err, "unauthorized")
}

func TestQueryAllNotionPagesFollowsCursor(t *testing.T) {
	var cursors []notionapi.Cursor
	svc := &MockNotionService{
		QueryDatabaseFunc: func(_ context.Context, _ string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
			cursors = append(cursors, req.StartCursor)
			if req.StartCursor == "" {
				return &notionapi.DatabaseQueryResponse{
					Results:    []notionapi.Page{pageWithKey("p1", "a")},
					HasMore:    true,
					NextCursor: "c2",
				}, nil
			}
			return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{pageWithKey("p2", "b")}}, nil
		},
	}

	pages, err := queryAllNotionPages(context.Background(), svc, "db-1")
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Equal(t, []notionapi.Cursor{"", "c2"}, cursors)
}

func TestRecurrenceGroupToNotionProperties(t *testing.T) {
	props := RecurrenceGroupToNotionProperties(group("netflix", domain.FrequencyMonthly))

	amount, ok := props[propAmount].(notionapi.NumberProperty)
	require.True(t, ok)
	assert.InDelta(t, 9.99, amount.Number, 1e-9)

	freq, ok := props[propFrequency].(notionapi.SelectProperty)
	require.True(t, ok)
	assert.Equal(t, "monthly", freq.Select.Name)

	irregular := RecurrenceGroupToNotionProperties(group("council", domain.FrequencyIrregular))
	assert.NotContains(t, irregular, propNextExpected)
}
