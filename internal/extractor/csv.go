package extractor

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/fields"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func extractCSV(data []byte) ([]domain.RawLine, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &domain.ExtractionError{Reason: "file is empty"}
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var (
		lines   []domain.RawLine
		columns []string
		first   = true
	)

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.ExtractionError{Reason: "unreadable CSV", Err: err}
		}

		cells := make([]string, len(record))
		empty := true
		for i, c := range record {
			cells[i] = fields.CollapseWhitespace(c)
			if cells[i] != "" {
				empty = false
			}
		}
		if empty {
			continue
		}

		if first {
			first = false
			if !isDataRow(cells) {
				columns = cells
				continue
			}
		}

		lines = append(lines, domain.RawLine{
			Index:   len(lines),
			Text:    fields.CollapseWhitespace(strings.Join(cells, " ")),
			Fields:  cells,
			Columns: columns,
		})
	}

	if first {
		return nil, &domain.ExtractionError{Reason: "CSV has no rows"}
	}
	if len(lines) == 0 {
		return nil, &domain.ExtractionError{Reason: "CSV has a header but no rows"}
	}

	return lines, nil
}

// isDataRow reports whether the cells look like a transaction: one cell parses
// as a date and a different one as an amount.
func isDataRow(cells []string) bool {
	dateAt := -1
	for i, c := range cells {
		if fields.LooksLikeDate(c) {
			dateAt = i
			break
		}
	}
	if dateAt < 0 {
		return false
	}
	for i, c := range cells {
		if i == dateAt {
			continue
		}
		if _, err := fields.ParseAmount(c); err == nil {
			return true
		}
	}
	return false
}

// sniffDelimiter picks the most frequent of , ; and tab on the first line.
func sniffDelimiter(data []byte) rune {
	firstLine := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		firstLine = data[:idx]
	}

	best, bestCount := ',', bytes.Count(firstLine, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(firstLine, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}
