package calls

import (
	"fmt"
	"strings"

	"sales-call-pipeline/pkg/apperr"
)

// Status is the pipeline position of a call.
// It always names the highest stage whose artifact exists.
type Status string

const (
	StatusNew         Status = "NEW"
	StatusTranscribed Status = "TRANSCRIBED"
	StatusAnalyzed    Status = "ANALYZED"
	StatusSynced      Status = "SYNCED"
)

var statusRank = map[Status]int{
	StatusNew:         0,
	StatusTranscribed: 1,
	StatusAnalyzed:    2,
	StatusSynced:      3,
}

// transitions lists the only legal status changes. SYNCED -> SYNCED is
// allowed so that repeated CRM syncs are a no-op on status.
var transitions = map[Status][]Status{
	StatusNew:         {StatusTranscribed},
	StatusTranscribed: {StatusAnalyzed},
	StatusAnalyzed:    {StatusSynced},
	StatusSynced:      {StatusSynced},
}

// Statuses returns every status in pipeline order.
func Statuses() []Status {
	return []Status{StatusNew, StatusTranscribed, StatusAnalyzed, StatusSynced}
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank orders statuses along the pipeline; unknown statuses rank -1.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at or past other.
func (s Status) AtLeast(other Status) bool {
	return s.Rank() >= other.Rank()
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// CheckTransition returns a precondition error when from -> to is not in the table.
func CheckTransition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return apperr.Precondition(fmt.Sprintf("illegal status transition %s -> %s", from, to))
	}
	return nil
}

// ParseStatus accepts any case; unknown values are a validation error.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", apperr.Validation(fmt.Sprintf("unknown status %q", raw))
	}
	return s, nil
}
