// Package fields holds the deterministic parsers shared by extraction and
// normalization: dates, amounts, debit/credit hints and description cleanup.
package fields

import (
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// ErrInvalidDate is returned when no configured layout matches.
var ErrInvalidDate = errors.New("unrecognized date")

// DefaultDateFormats is tried in order; the first layout that parses wins.
// Slash dates are month-first; day-first banks should move "02/01/2006" ahead.
var DefaultDateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"02/01/2006",
	"02.01.2006",
	"02-01-2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2-Jan-2006",
	"02-Jan-06",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"2 January 2006",
	"20060102",
}

// ParseDate parses s against formats in order. A nil formats slice uses DefaultDateFormats.
func ParseDate(s string, formats []string) (civil.Date, error) {
	s = CollapseWhitespace(s)
	if s == "" {
		return civil.Date{}, ErrInvalidDate
	}
	if len(formats) == 0 {
		formats = DefaultDateFormats
	}

	for _, layout := range formats {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() < 1900 || t.Year() > 2200 {
			continue
		}
		return civil.DateOf(t), nil
	}

	// Some exports append a time to an otherwise plain date.
	if head, _, found := strings.Cut(s, " "); found && head != s {
		if d, err := ParseDate(head, formats); err == nil {
			return d, nil
		}
	}

	return civil.Date{}, ErrInvalidDate
}

// LooksLikeDate reports whether s parses with the default layouts.
func LooksLikeDate(s string) bool {
	_, err := ParseDate(s, nil)
	return err == nil
}
