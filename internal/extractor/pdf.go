package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/fields"
	"github.com/ledongthuc/pdf"
)

// extractPDF reads the PDF text layer page by page. Scanned statements have
// no text layer and are rejected.
func extractPDF(data []byte) (lines []domain.RawLine, err error) {
	defer func() {
		if r := recover(); r != nil {
			lines = nil
			err = &domain.ExtractionError{Reason: "unreadable PDF", Err: fmt.Errorf("pdf library crashed: %v", r)}
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &domain.ExtractionError{Reason: "unreadable PDF", Err: err}
	}

	numPages := r.NumPage()
	if numPages == 0 {
		return nil, &domain.ExtractionError{Reason: "PDF has no pages"}
	}

	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, text := range pageLines(page) {
			text = fields.CollapseWhitespace(text)
			if text == "" {
				continue
			}
			lines = append(lines, domain.RawLine{
				Index: len(lines),
				Page:  i,
				Text:  text,
			})
		}
	}

	if len(lines) == 0 {
		return nil, &domain.ExtractionError{Reason: "PDF has no text layer"}
	}

	return lines, nil
}

// pageLines prefers row reconstruction and falls back to the plain text stream.
func pageLines(page pdf.Page) []string {
	var out []string

	if rows, err := page.GetTextByRow(); err == nil {
		for _, row := range rows {
			parts := make([]string, 0, len(row.Content))
			for _, word := range row.Content {
				parts = append(parts, word.S)
			}
			if line := strings.TrimSpace(strings.Join(parts, " ")); line != "" {
				out = append(out, line)
			}
		}
	}
	if len(out) > 0 {
		return out
	}

	fonts := make(map[string]*pdf.Font)
	for _, name := range page.Fonts() {
		f := page.Font(name)
		fonts[name] = &f
	}
	text, err := page.GetPlainText(fonts)
	if err != nil {
		return nil
	}
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}
