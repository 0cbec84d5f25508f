package reporting

import (
	"time"

	"sales-call-pipeline/internal/calls"
)

// TimeRange filters on call creation time. A zero bound is open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

type SummaryRequest struct {
	Range TimeRange `json:"range"`
}

// Summary aggregates pipeline progress across calls.
type Summary struct {
	Range TimeRange `json:"range"`

	TotalCalls int                  `json:"total_calls"`
	ByStatus   map[calls.Status]int `json:"by_status"`
	WithAudio  int                  `json:"with_audio"`

	SyncAttempts    int     `json:"sync_attempts"`
	SyncSuccesses   int     `json:"sync_successes"`
	SyncFailures    int     `json:"sync_failures"`
	SyncSuccessRate float64 `json:"sync_success_rate"`

	// Calls whose most recent sync attempt failed.
	PendingResync int `json:"pending_resync"`
}

// Row is one line of the calls export.
type Row struct {
	Call      calls.Call
	Analysis  *calls.Analysis
	SyncCount int
	LastSync  *calls.SyncLogEntry
}
