// Package pipeline runs the transcribe, analyze and CRM sync stages for a call.
//
// Each stage checks its preconditions against the store, calls its provider
// under the configured timeout, then persists the artifact. Persisting the
// artifact and advancing the call's status happen in one store write.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sales-call-pipeline/internal/analysis"
	"sales-call-pipeline/internal/audit"
	"sales-call-pipeline/internal/calls"
	"sales-call-pipeline/internal/crm"
	"sales-call-pipeline/internal/transcription"
	"sales-call-pipeline/pkg/apperr"
	"sales-call-pipeline/pkg/logger"

	"github.com/google/uuid"
)

type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageAnalyze    Stage = "analyze"
	StageSyncCRM    Stage = "sync_crm"
)

// DefaultProviderTimeout bounds a single provider call when none is configured.
const DefaultProviderTimeout = 2 * time.Minute

var errProviderTimeout = errors.New("provider call timed out")

type Service struct {
	store       calls.Store
	transcriber transcription.Provider
	analyzer    analysis.Provider
	crm         crm.Provider

	guard   Guard
	audit   *audit.Service
	timeout time.Duration
	clock   func() time.Time
}

type Option func(*Service)

// WithProviderTimeout sets the per-call provider deadline; <= 0 disables it.
func WithProviderTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func WithGuard(g Guard) Option { return func(s *Service) { s.guard = g } }

func WithAudit(a *audit.Service) Option { return func(s *Service) { s.audit = a } }

func WithClock(clock func() time.Time) Option { return func(s *Service) { s.clock = clock } }

func NewService(store calls.Store, tp transcription.Provider, ap analysis.Provider, cp crm.Provider, opts ...Option) *Service {
	s := &Service{
		store:       store,
		transcriber: tp,
		analyzer:    ap,
		crm:         cp,
		guard:       NewMemoryGuard(),
		timeout:     DefaultProviderTimeout,
		clock:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Transcribe produces the call's transcript. A call is transcribed at most once.
func (s *Service) Transcribe(ctx context.Context, callID string) (calls.Transcript, error) {
	log := stageLogger(ctx, callID, StageTranscribe)

	c, err := s.store.Get(ctx, callID)
	if err != nil {
		return calls.Transcript{}, err
	}
	if c.AudioRef == "" {
		return calls.Transcript{}, apperr.Precondition("no audio")
	}
	existing, err := s.store.GetTranscript(ctx, callID)
	if err != nil {
		return calls.Transcript{}, err
	}
	if existing != nil {
		return calls.Transcript{}, apperr.Conflict("already transcribed")
	}

	s.record(ctx, callID, audit.EventTypeStageStarted, StageTranscribe, "", map[string]any{"provider": s.transcriber.Name()})
	start := s.clock()

	var res transcription.Result
	err = s.callProvider(ctx, func(pctx context.Context) error {
		var perr error
		res, perr = s.transcriber.Transcribe(pctx, c.AudioRef)
		return perr
	})
	if err != nil {
		return calls.Transcript{}, s.fail(ctx, log, callID, StageTranscribe, apperr.Provider(s.transcriber.Name(), err))
	}

	t := calls.Transcript{
		CallID:     callID,
		Text:       res.Text,
		Language:   res.Language,
		Confidence: res.Confidence,
		Metadata:   res.Metadata,
		CreatedAt:  s.clock().UTC(),
	}
	// Persist even if the caller has gone away.
	if _, err := s.store.AttachTranscript(context.WithoutCancel(ctx), callID, t); err != nil {
		return calls.Transcript{}, s.fail(ctx, log, callID, StageTranscribe, err)
	}

	s.succeed(ctx, log, callID, StageTranscribe, start, map[string]any{"chars": len(t.Text)})
	return t, nil
}

// Analyze produces the call's analysis from its transcript. At most once per call.
func (s *Service) Analyze(ctx context.Context, callID string) (calls.Analysis, error) {
	log := stageLogger(ctx, callID, StageAnalyze)

	c, err := s.store.Get(ctx, callID)
	if err != nil {
		return calls.Analysis{}, err
	}
	t, err := s.store.GetTranscript(ctx, callID)
	if err != nil {
		return calls.Analysis{}, err
	}
	if t == nil {
		return calls.Analysis{}, apperr.Precondition("no transcript")
	}
	existing, err := s.store.GetAnalysis(ctx, callID)
	if err != nil {
		return calls.Analysis{}, err
	}
	if existing != nil {
		return calls.Analysis{}, apperr.Conflict("already analyzed")
	}

	s.record(ctx, callID, audit.EventTypeStageStarted, StageAnalyze, "", map[string]any{"provider": s.analyzer.Name()})
	start := s.clock()

	cc := analysis.CallContext{
		CallID:       c.ID,
		Title:        c.Title,
		CallType:     c.CallType,
		Participants: c.Participants,
		ContactName:  c.ContactName,
		Company:      c.Company,
	}
	var res analysis.Result
	err = s.callProvider(ctx, func(pctx context.Context) error {
		var perr error
		res, perr = s.analyzer.Analyze(pctx, t.Text, cc)
		return perr
	})
	if err != nil {
		return calls.Analysis{}, s.fail(ctx, log, callID, StageAnalyze, apperr.Provider(s.analyzer.Name(), err))
	}

	a := calls.Analysis{
		CallID:      callID,
		Summary:     orEmpty(res.Summary),
		Risks:       orEmpty(res.Risks),
		ActionItems: orEmpty(res.ActionItems),
		FollowUp:    res.FollowUp,
		Metadata:    res.Metadata,
		CreatedAt:   s.clock().UTC(),
	}
	if _, err := s.store.AttachAnalysis(context.WithoutCancel(ctx), callID, a); err != nil {
		return calls.Analysis{}, s.fail(ctx, log, callID, StageAnalyze, err)
	}

	s.succeed(ctx, log, callID, StageAnalyze, start, map[string]any{"action_items": len(a.ActionItems)})
	return a, nil
}

// SyncCRM pushes the current analysis to the CRM. It may be repeated; every
// invocation that passes its precondition appends exactly one sync log entry.
// On provider failure the failed entry is returned together with the error.
func (s *Service) SyncCRM(ctx context.Context, callID string) (calls.SyncLogEntry, error) {
	log := stageLogger(ctx, callID, StageSyncCRM)

	c, err := s.store.Get(ctx, callID)
	if err != nil {
		return calls.SyncLogEntry{}, err
	}
	a, err := s.store.GetAnalysis(ctx, callID)
	if err != nil {
		return calls.SyncLogEntry{}, err
	}
	if a == nil {
		return calls.SyncLogEntry{}, apperr.Precondition("no analysis")
	}

	s.record(ctx, callID, audit.EventTypeStageStarted, StageSyncCRM, "", map[string]any{"provider": s.crm.Name()})
	start := s.clock()

	var res crm.SyncResult
	provErr := s.callProvider(ctx, func(pctx context.Context) error {
		var perr error
		res, perr = s.crm.Sync(pctx, crm.SyncRequest{Call: c, Analysis: *a})
		return perr
	})

	entry := calls.SyncLogEntry{
		ID:          uuid.NewString(),
		CallID:      callID,
		AttemptedAt: start.UTC(),
	}
	if provErr != nil {
		msg := provErr.Error()
		entry.Outcome = calls.SyncOutcomeFailure
		entry.Error = &msg
		entry.Payload = map[string]any{"provider": s.crm.Name()}
	} else {
		ref := res.ExternalRef
		entry.Outcome = calls.SyncOutcomeSuccess
		entry.ExternalRef = &ref
		entry.Payload = res.Payload
	}

	if _, err := s.store.AppendSyncLog(context.WithoutCancel(ctx), callID, entry); err != nil {
		if provErr != nil {
			err = errors.Join(apperr.Provider(s.crm.Name(), provErr), err)
		}
		return calls.SyncLogEntry{}, s.fail(ctx, log, callID, StageSyncCRM, err)
	}
	if provErr != nil {
		return entry, s.fail(ctx, log, callID, StageSyncCRM, apperr.Provider(s.crm.Name(), provErr))
	}

	s.succeed(ctx, log, callID, StageSyncCRM, start, map[string]any{"external_ref": *entry.ExternalRef})
	return entry, nil
}

// callProvider runs fn under the provider timeout. A result that arrives
// after the deadline is reported as a timeout rather than a success.
func (s *Service) callProvider(ctx context.Context, fn func(context.Context) error) error {
	pctx, cancel := ctx, context.CancelFunc(func() {})
	if s.timeout > 0 {
		pctx, cancel = context.WithTimeoutCause(ctx, s.timeout, errProviderTimeout)
	}
	defer cancel()

	err := fn(pctx)
	if errors.Is(context.Cause(pctx), errProviderTimeout) {
		if err == nil {
			return errProviderTimeout
		}
		return errors.Join(errProviderTimeout, err)
	}
	return err
}

func (s *Service) fail(ctx context.Context, log *slog.Logger, callID string, stage Stage, err error) error {
	log.Warn("stage failed", "error", err.Error(), "kind", apperr.GetKind(err).String())
	s.record(ctx, callID, audit.EventTypeStageFailed, stage, err.Error(), nil)
	return err
}

func (s *Service) succeed(ctx context.Context, log *slog.Logger, callID string, stage Stage, start time.Time, meta map[string]any) {
	dur := s.clock().Sub(start)
	log.Info("stage succeeded", "duration_ms", float64(dur.Milliseconds()))
	if meta == nil {
		meta = map[string]any{}
	}
	meta["duration_ms"] = dur.Milliseconds()
	s.record(ctx, callID, audit.EventTypeStageSucceeded, stage, "", meta)
}

// record is best-effort: audit failures are logged, never returned.
func (s *Service) record(ctx context.Context, callID string, typ audit.EventType, stage Stage, msg string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Stage(context.WithoutCancel(ctx), callID, typ, string(stage), msg, meta); err != nil {
		logger.From(ctx).Warn("audit append failed", "call_id", callID, "type", string(typ), "error", err.Error())
	}
}

func stageLogger(ctx context.Context, callID string, stage Stage) *slog.Logger {
	return logger.From(ctx).With("call_id", callID, "stage", string(stage))
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
