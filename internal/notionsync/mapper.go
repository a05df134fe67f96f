package notionsync

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names of the recurring-payments database.
const (
	propMerchant     = "Merchant"
	propMerchantKey  = "Merchant Key"
	propCategory     = "Category"
	propFrequency    = "Frequency"
	propAmount       = "Typical Amount"
	propYearlyCost   = "Yearly Cost"
	propOccurrences  = "Occurrences"
	propLastPaid     = "Last Paid"
	propNextExpected = "Next Expected"
	propConfidence   = "Confidence"
)

// RecurrenceGroupToNotionProperties maps one recurring payment to a page of
// the recurring-payments database. Merchant is the title; Merchant Key
// identifies the page across syncs.
func RecurrenceGroupToNotionProperties(g domain.RecurrenceGroup) notionapi.Properties {
	amount, _ := g.TypicalAmount.Float64()
	yearly, _ := g.YearlyCost.Float64()

	props := notionapi.Properties{
		propMerchant: notionapi.TitleProperty{
			Title: []notionapi.RichText{textOf(g.Merchant)},
		},
		propMerchantKey: notionapi.RichTextProperty{
			RichText: []notionapi.RichText{textOf(g.MerchantKey)},
		},
		propFrequency: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(g.Frequency)},
		},
		propAmount:      notionapi.NumberProperty{Number: amount},
		propYearlyCost:  notionapi.NumberProperty{Number: yearly},
		propOccurrences: notionapi.NumberProperty{Number: float64(g.Occurrences)},
		propConfidence:  notionapi.NumberProperty{Number: g.Confidence},
		propLastPaid:    dateProperty(g.LastPaid),
	}

	if g.Category != "" {
		props[propCategory] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: g.Category},
		}
	}

	// Irregular payments have no meaningful next date.
	if g.Frequency != domain.FrequencyIrregular && g.NextExpected.IsValid() {
		props[propNextExpected] = dateProperty(g.NextExpected)
	}

	return props
}

func textOf(s string) notionapi.RichText {
	return notionapi.RichText{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: s},
	}
}

func dateProperty(d civil.Date) notionapi.DateProperty {
	start := notionapi.Date(time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC))
	return notionapi.DateProperty{
		Date: &notionapi.DateObject{Start: &start},
	}
}

// extractMerchantKey returns the Merchant Key of a queried page, or "".
func extractMerchantKey(page notionapi.Page) string {
	prop, ok := page.Properties[propMerchantKey]
	if !ok {
		return ""
	}
	richText, ok := prop.(*notionapi.RichTextProperty)
	if !ok || len(richText.RichText) == 0 {
		return ""
	}
	if richText.RichText[0].PlainText != "" {
		return richText.RichText[0].PlainText
	}
	if richText.RichText[0].Text != nil {
		return richText.RichText[0].Text.Content
	}
	return ""
}
