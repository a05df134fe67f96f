package pipeline

// Default values for batching and model prompts.
const (
	// DefaultMaxBatchLines caps the statement lines sent in one model request.
	DefaultMaxBatchLines = 60

	// DefaultMaxBatchChars caps the statement text sent in one model request.
	DefaultMaxBatchChars = 8000

	// maxEchoedChars bounds how much model output is quoted in warnings and logs.
	maxEchoedChars = 200
)

// Model call purposes, used as metric labels.
const (
	purposeExtract    = "extract"
	purposeCategorize = "categorize"
)
