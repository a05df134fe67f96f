package domain

import "time"

// ImportStatus is the terminal state of one import.
type ImportStatus string

const (
	ImportCompleted             ImportStatus = "completed"
	ImportCompletedWithWarnings ImportStatus = "completed_with_warnings"
	ImportAborted               ImportStatus = "aborted"  // service outage mid-import
	ImportRejected              ImportStatus = "rejected" // extraction failed
)

// ImportSummary reports the outcome of one statement import. It is returned
// even when the import aborts so the caller can see what was committed.
type ImportSummary struct {
	ImportID   string   `json:"import_id"`
	SourceFile string   `json:"source_file"`
	Kind       FileKind `json:"kind"`

	Lines            int `json:"lines"`
	BatchesTotal     int `json:"batches_total"`
	BatchesCompleted int `json:"batches_completed"`

	Inserted          int                `json:"inserted"`
	SkippedDuplicates int                `json:"skipped_duplicates"`
	Dropped           int                `json:"dropped"`
	DropReasons       map[DropReason]int `json:"drop_reasons,omitempty"`

	Warnings []PartialParseWarning `json:"warnings,omitempty"`

	Status     ImportStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// AddDrop counts one dropped record.
func (s *ImportSummary) AddDrop(reason DropReason) {
	if s.DropReasons == nil {
		s.DropReasons = make(map[DropReason]int)
	}
	s.DropReasons[reason]++
	s.Dropped++
}

// AddWarning appends a partial-parse warning.
func (s *ImportSummary) AddWarning(w PartialParseWarning) {
	s.Warnings = append(s.Warnings, w)
}

// Processed is the number of records accounted for so far.
func (s *ImportSummary) Processed() int {
	return s.Inserted + s.SkippedDuplicates + s.Dropped
}
