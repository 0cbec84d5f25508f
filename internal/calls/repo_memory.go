package calls

import (
	"context"
	"errors"
	"sync"
	"time"

	"sales-call-pipeline/pkg/apperr"
)

// MemoryRepo is an in-memory Store for tests, local demo mode and the
// default single-process deployment.
//
// Each call has its own mutex; the map lock is only held for lookups and
// inserts, so work on different calls never serializes.
type MemoryRepo struct {
	mu      sync.RWMutex
	records map[string]*memRecord
	order   []string

	clock func() time.Time
}

type memRecord struct {
	mu         sync.Mutex
	call       Call
	transcript *Transcript
	analysis   *Analysis
	syncLog    []SyncLogEntry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: map[string]*memRecord{}, clock: time.Now}
}

func (r *MemoryRepo) Create(ctx context.Context, c Call) (Call, error) {
	if c.ID == "" {
		return Call{}, errors.New("calls: id required")
	}
	if c.Status == "" {
		c.Status = StatusNew
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[c.ID]; ok {
		return Call{}, apperr.Conflict("call already exists")
	}
	c.Participants = cloneStrings(c.Participants)
	r.records[c.ID] = &memRecord{call: c}
	r.order = append(r.order, c.ID)
	return cloneCall(c), nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Call, error) {
	rec, err := r.record(id)
	if err != nil {
		return Call{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return cloneCall(rec.call), nil
}

func (r *MemoryRepo) List(ctx context.Context, f ListFilter) ([]Call, error) {
	r.mu.RLock()
	recs := make([]*memRecord, 0, len(r.order))
	for _, id := range r.order {
		recs = append(recs, r.records[id])
	}
	r.mu.RUnlock()

	out := make([]Call, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		c := cloneCall(rec.call)
		rec.mu.Unlock()
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) AttachTranscript(ctx context.Context, id string, t Transcript) (Call, error) {
	rec, err := r.record(id)
	if err != nil {
		return Call{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.transcript != nil {
		return Call{}, apperr.Conflict("already transcribed")
	}
	if err := CheckTransition(rec.call.Status, StatusTranscribed); err != nil {
		return Call{}, err
	}
	t.CallID = id
	rec.transcript = &t
	r.setStatus(rec, StatusTranscribed)
	return cloneCall(rec.call), nil
}

func (r *MemoryRepo) AttachAnalysis(ctx context.Context, id string, a Analysis) (Call, error) {
	rec, err := r.record(id)
	if err != nil {
		return Call{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.analysis != nil {
		return Call{}, apperr.Conflict("already analyzed")
	}
	if rec.transcript == nil {
		return Call{}, apperr.Precondition("no transcript")
	}
	if err := CheckTransition(rec.call.Status, StatusAnalyzed); err != nil {
		return Call{}, err
	}
	a.CallID = id
	a.Summary = cloneStrings(a.Summary)
	a.Risks = cloneStrings(a.Risks)
	a.ActionItems = cloneStrings(a.ActionItems)
	rec.analysis = &a
	r.setStatus(rec, StatusAnalyzed)
	return cloneCall(rec.call), nil
}

func (r *MemoryRepo) AppendSyncLog(ctx context.Context, id string, e SyncLogEntry) (Call, error) {
	rec, err := r.record(id)
	if err != nil {
		return Call{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.analysis == nil {
		return Call{}, apperr.Precondition("no analysis")
	}
	if e.Outcome == SyncOutcomeSuccess {
		if err := CheckTransition(rec.call.Status, StatusSynced); err != nil {
			return Call{}, err
		}
	}
	e.CallID = id
	rec.syncLog = append(rec.syncLog, e)
	if e.Outcome == SyncOutcomeSuccess {
		r.setStatus(rec, StatusSynced)
	}
	return cloneCall(rec.call), nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, id string, next Status) (Call, error) {
	rec, err := r.record(id)
	if err != nil {
		return Call{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := CheckTransition(rec.call.Status, next); err != nil {
		return Call{}, err
	}
	if err := rec.requireArtifactsFor(next); err != nil {
		return Call{}, err
	}
	r.setStatus(rec, next)
	return cloneCall(rec.call), nil
}

func (r *MemoryRepo) GetTranscript(ctx context.Context, id string) (*Transcript, error) {
	rec, err := r.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.transcript == nil {
		return nil, nil
	}
	t := *rec.transcript
	return &t, nil
}

func (r *MemoryRepo) GetAnalysis(ctx context.Context, id string) (*Analysis, error) {
	rec, err := r.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.analysis == nil {
		return nil, nil
	}
	a := *rec.analysis
	a.Summary = cloneStrings(a.Summary)
	a.Risks = cloneStrings(a.Risks)
	a.ActionItems = cloneStrings(a.ActionItems)
	return &a, nil
}

func (r *MemoryRepo) ListSyncLog(ctx context.Context, id string) ([]SyncLogEntry, error) {
	rec, err := r.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]SyncLogEntry, len(rec.syncLog))
	copy(out, rec.syncLog)
	return out, nil
}

func (r *MemoryRepo) record(id string) (*memRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, apperr.NotFound("call not found")
	}
	return rec, nil
}

// setStatus must be called with rec.mu held.
func (r *MemoryRepo) setStatus(rec *memRecord, s Status) {
	if rec.call.Status == s {
		return
	}
	rec.call.Status = s
	rec.call.UpdatedAt = r.clock().UTC()
}

func (rec *memRecord) requireArtifactsFor(s Status) error {
	switch s {
	case StatusTranscribed:
		if rec.transcript == nil {
			return apperr.Precondition("no transcript")
		}
	case StatusAnalyzed:
		if rec.analysis == nil {
			return apperr.Precondition("no analysis")
		}
	case StatusSynced:
		for _, e := range rec.syncLog {
			if e.Outcome == SyncOutcomeSuccess {
				return nil
			}
		}
		return apperr.Precondition("no successful sync")
	}
	return nil
}

func cloneCall(c Call) Call {
	c.Participants = cloneStrings(c.Participants)
	return c
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
