// Package extractor turns uploaded statement bytes into ordered raw lines.
package extractor

import (
	"fmt"

	"github.com/dvloznov/finance-ingest/internal/domain"
)

// Extract converts a statement file into raw lines in reading order.
// It fails with *domain.ExtractionError when the file is empty, unreadable,
// of an unrecognized kind, or a PDF without a text layer.
func Extract(data []byte, kind domain.FileKind) ([]domain.RawLine, error) {
	if len(data) == 0 {
		return nil, &domain.ExtractionError{Reason: "file is empty"}
	}

	switch kind {
	case domain.FileKindCSV:
		return extractCSV(data)
	case domain.FileKindPDF:
		return extractPDF(data)
	default:
		return nil, &domain.ExtractionError{Reason: fmt.Sprintf("unrecognized file kind %q", kind)}
	}
}
