// Package crm pushes an analyzed call into a CRM as a note plus follow-up tasks.
package crm

import (
	"context"
	"fmt"
	"strings"

	"sales-call-pipeline/internal/calls"
)

// SyncRequest is a snapshot of the call and its current analysis.
// Providers treat it as read-only input.
type SyncRequest struct {
	Call     calls.Call
	Analysis calls.Analysis
}

type SyncResult struct {
	ExternalRef string
	Payload     map[string]any
}

type Provider interface {
	Name() string
	Sync(ctx context.Context, req SyncRequest) (SyncResult, error)
}

// NoteContent renders the CRM note body for a call.
func NoteContent(req SyncRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Call: %s (%s)\n", req.Call.Title, req.Call.RecordedAt.Format("2006-01-02 15:04 MST"))
	if len(req.Call.Participants) > 0 {
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(req.Call.Participants, ", "))
	}
	writeSection(&b, "Summary", req.Analysis.Summary)
	writeSection(&b, "Risks / objections", req.Analysis.Risks)
	writeSection(&b, "Action items", req.Analysis.ActionItems)
	if req.Analysis.FollowUp != "" {
		fmt.Fprintf(&b, "\nFollow-up draft:\n%s\n", req.Analysis.FollowUp)
	}
	return b.String()
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}
