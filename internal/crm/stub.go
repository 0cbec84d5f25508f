package crm

import (
	"context"
	"fmt"
)

// Stub is an offline Provider. Ref fixes the external reference; otherwise it
// is derived from the call id.
type Stub struct {
	Ref string
	Err error
}

func (s Stub) Name() string { return "stub" }

func (s Stub) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	if s.Err != nil {
		return SyncResult{}, s.Err
	}
	if err := ctx.Err(); err != nil {
		return SyncResult{}, err
	}
	ref := s.Ref
	if ref == "" {
		ref = "stub-note-" + req.Call.ID
	}
	tasks := make([]string, 0, len(req.Analysis.ActionItems))
	for i := range req.Analysis.ActionItems {
		tasks = append(tasks, fmt.Sprintf("%s-task-%d", ref, i+1))
	}
	return SyncResult{
		ExternalRef: ref,
		Payload: map[string]any{
			"mode":     "stub",
			"note_id":  ref,
			"task_ids": tasks,
		},
	}, nil
}
