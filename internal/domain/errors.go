package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrExtraction is matched by every *ExtractionError.
	ErrExtraction = errors.New("statement extraction failed")

	// ErrServiceUnavailable is matched by every *ServiceUnavailableError.
	ErrServiceUnavailable = errors.New("categorization service unavailable")
)

// ExtractionError means the file could not be turned into text at all.
// The import is rejected before any service call.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Reason, e.Err)
	}
	return "extraction failed: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// ServiceUnavailableError means the categorization service could not be reached
// while processing the given batch (1-based).
type ServiceUnavailableError struct {
	Batch int
	Err   error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("categorization service unavailable at batch %d: %v", e.Batch, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

func (e *ServiceUnavailableError) Is(target error) bool { return target == ErrServiceUnavailable }

// PartialParseWarning records a batch whose model output needed repair or had
// to be discarded. It is reported in the import summary and never aborts an import.
type PartialParseWarning struct {
	Batch     int    `json:"batch"`
	Reason    string `json:"reason"`
	Recovered int    `json:"recovered"` // records salvaged from the batch
}

func (w PartialParseWarning) String() string {
	return fmt.Sprintf("batch %d: %s (recovered %d)", w.Batch, w.Reason, w.Recovered)
}

// DropReason explains why a provisional record never became canonical.
type DropReason string

const (
	DropInvalidDate      DropReason = "invalid_date"
	DropInvalidAmount    DropReason = "invalid_amount"
	DropEmptyDescription DropReason = "empty_description"
	DropNonTransactional DropReason = "non_transactional"
	DropMalformedRecord  DropReason = "malformed_record"
)

// NormalizationError is returned for a single record that was dropped.
type NormalizationError struct {
	Reason DropReason
	Value  string
}

func (e *NormalizationError) Error() string {
	if e.Value == "" {
		return "normalization: " + string(e.Reason)
	}
	return fmt.Sprintf("normalization: %s: %q", e.Reason, e.Value)
}

// DropReasonOf returns the reason carried by a *NormalizationError in err's chain.
func DropReasonOf(err error) (DropReason, bool) {
	var ne *NormalizationError
	if errors.As(err, &ne) {
		return ne.Reason, true
	}
	return "", false
}
