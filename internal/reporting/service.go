// Package reporting aggregates pipeline progress and exports calls.
package reporting

import (
	"context"
	"errors"

	"sales-call-pipeline/internal/calls"
	"sales-call-pipeline/pkg/apperr"
)

// Source is the read side reporting needs. calls.Store satisfies it.
type Source interface {
	List(ctx context.Context, f calls.ListFilter) ([]calls.Call, error)
	GetAnalysis(ctx context.Context, id string) (*calls.Analysis, error)
	ListSyncLog(ctx context.Context, id string) ([]calls.SyncLogEntry, error)
}

type Service struct {
	src Source
}

func NewService(src Source) *Service { return &Service{src: src} }

func (s *Service) Summary(ctx context.Context, req SummaryRequest) (Summary, error) {
	if err := validateRange(req.Range); err != nil {
		return Summary{}, err
	}
	if s.src == nil {
		return Summary{}, errors.New("reporting: source not configured")
	}

	rows, err := s.calls(ctx, req.Range)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{Range: req.Range, ByStatus: map[calls.Status]int{}}
	for _, st := range calls.Statuses() {
		out.ByStatus[st] = 0
	}
	for _, c := range rows {
		out.TotalCalls++
		out.ByStatus[c.Status]++
		if c.AudioRef != "" {
			out.WithAudio++
		}

		logs, err := s.src.ListSyncLog(ctx, c.ID)
		if err != nil {
			return Summary{}, err
		}
		for _, e := range logs {
			out.SyncAttempts++
			if e.Outcome == calls.SyncOutcomeSuccess {
				out.SyncSuccesses++
			} else {
				out.SyncFailures++
			}
		}
		if n := len(logs); n > 0 && logs[n-1].Outcome == calls.SyncOutcomeFailure {
			out.PendingResync++
		}
	}
	if out.SyncAttempts > 0 {
		out.SyncSuccessRate = float64(out.SyncSuccesses) / float64(out.SyncAttempts)
	}
	return out, nil
}

// Rows loads every call in range with its analysis and sync history, in
// insertion order.
func (s *Service) Rows(ctx context.Context, r TimeRange) ([]Row, error) {
	if err := validateRange(r); err != nil {
		return nil, err
	}
	if s.src == nil {
		return nil, errors.New("reporting: source not configured")
	}
	list, err := s.calls(ctx, r)
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(list))
	for _, c := range list {
		a, err := s.src.GetAnalysis(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		logs, err := s.src.ListSyncLog(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		row := Row{Call: c, Analysis: a, SyncCount: len(logs)}
		if n := len(logs); n > 0 {
			last := logs[n-1]
			row.LastSync = &last
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *Service) calls(ctx context.Context, r TimeRange) ([]calls.Call, error) {
	all, err := s.src.List(ctx, calls.ListFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]calls.Call, 0, len(all))
	for _, c := range all {
		if r.contains(c.CreatedAt) {
			out = append(out, c)
		}
	}
	return out, nil
}

func validateRange(r TimeRange) error {
	if !r.From.IsZero() && !r.To.IsZero() && !r.To.After(r.From) {
		return apperr.Validation("range: to must be after from")
	}
	return nil
}
