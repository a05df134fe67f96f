// Package notionsync mirrors the recurring-payments view into a Notion database.
package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/jomei/notionapi"
)

// SyncResult counts what a sync did, or would do in dry-run mode.
type SyncResult struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}

// SyncRecurring makes the database match groups. Pages are keyed by
// Merchant Key: a present key is updated in place, a missing one is created,
// and pages whose key is no longer recurring (or have no key) are archived.
// Individual page failures are logged and counted; only a failed database
// query aborts the sync.
func SyncRecurring(ctx context.Context, svc NotionService, databaseID string, groups []domain.RecurrenceGroup, dryRun bool) (SyncResult, error) {
	log := logger.FromContext(ctx).With().
		Str("database_id", databaseID).
		Bool("dry_run", dryRun).
		Logger()

	log.Info().Int("groups", len(groups)).Msg("Starting recurring payments sync to Notion")

	pages, err := queryAllNotionPages(ctx, svc, databaseID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to query Notion pages: %w", err)
	}
	log.Info().Int("notion_page_count", len(pages)).Msg("Retrieved existing Notion pages")

	existing := make(map[string]string, len(pages)) // merchant key -> page ID
	var stale []notionapi.Page
	wanted := make(map[string]bool, len(groups))
	for _, g := range groups {
		wanted[g.MerchantKey] = true
	}
	for _, page := range pages {
		key := extractMerchantKey(page)
		if key == "" || !wanted[key] {
			stale = append(stale, page)
			continue
		}
		if _, dup := existing[key]; dup {
			stale = append(stale, page)
			continue
		}
		existing[key] = string(page.ID)
	}

	var res SyncResult

	for _, page := range stale {
		key := extractMerchantKey(page)
		if dryRun {
			log.Info().Str("merchant_key", key).Str("page_id", string(page.ID)).Msg("[DRY RUN] Would archive stale Notion page")
			res.Archived++
			continue
		}
		if err := svc.ArchivePage(ctx, string(page.ID)); err != nil {
			log.Warn().Err(err).Str("merchant_key", key).Str("page_id", string(page.ID)).Msg("Failed to archive stale Notion page")
			res.Failed++
			continue
		}
		res.Archived++
	}

	for _, g := range groups {
		pageID, found := existing[g.MerchantKey]

		if dryRun {
			if found {
				log.Info().Str("merchant_key", g.MerchantKey).Str("page_id", pageID).Msg("[DRY RUN] Would update Notion page")
				res.Updated++
			} else {
				log.Info().Str("merchant_key", g.MerchantKey).Msg("[DRY RUN] Would create Notion page")
				res.Created++
			}
			continue
		}

		props := RecurrenceGroupToNotionProperties(g)
		if found {
			if _, err := svc.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("merchant_key", g.MerchantKey).Str("page_id", pageID).Msg("Failed to update Notion page")
				res.Failed++
				continue
			}
			res.Updated++
			continue
		}

		page, err := svc.CreatePage(ctx, databaseID, props)
		if err != nil {
			log.Warn().Err(err).Str("merchant_key", g.MerchantKey).Msg("Failed to create Notion page")
			res.Failed++
			continue
		}
		existing[g.MerchantKey] = string(page.ID)
		res.Created++
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("archived", res.Archived).
		Int("failed", res.Failed).
		Msg("Recurring payments sync completed")

	return res, nil
}

// queryAllNotionPages follows the cursor until every page is read.
func queryAllNotionPages(ctx context.Context, svc NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: 100}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := svc.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
