package pipeline

import (
	"context"

	"sales-call-pipeline/internal/audit"
	"sales-call-pipeline/internal/calls"
	"sales-call-pipeline/pkg/apperr"
	"sales-call-pipeline/pkg/logger"
)

type Outcome string

const (
	OutcomeRan     Outcome = "ran"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
	OutcomeNotRun  Outcome = "not_run"
)

type StageResult struct {
	Stage     Stage   `json:"stage"`
	Outcome   Outcome `json:"outcome"`
	Error     string  `json:"error,omitempty"`
	ErrorKind string  `json:"error_kind,omitempty"`
}

type ProcessResult struct {
	CallID      string        `json:"call_id"`
	Stages      []StageResult `json:"stages"`
	FinalStatus calls.Status  `json:"final_status"`
}

// Stage reports the outcome recorded for st, or not_run.
func (r ProcessResult) Stage(st Stage) StageResult {
	for _, s := range r.Stages {
		if s.Stage == st {
			return s
		}
	}
	return StageResult{Stage: st, Outcome: OutcomeNotRun}
}

type step struct {
	stage Stage
	// done is the status at which this stage's artifact exists.
	done calls.Status
	run  func(ctx context.Context, callID string) error
}

func (s *Service) steps() []step {
	return []step{
		{StageTranscribe, calls.StatusTranscribed, func(ctx context.Context, id string) error {
			_, err := s.Transcribe(ctx, id)
			return err
		}},
		{StageAnalyze, calls.StatusAnalyzed, func(ctx context.Context, id string) error {
			_, err := s.Analyze(ctx, id)
			return err
		}},
		{StageSyncCRM, calls.StatusSynced, func(ctx context.Context, id string) error {
			_, err := s.SyncCRM(ctx, id)
			return err
		}},
	}
}

// Process runs transcribe, analyze and CRM sync in order, skipping stages the
// call is already past and stopping at the first failure. Earlier progress
// is kept. At most one Process per call id runs at a time; a second
// concurrent run gets a Conflict. Nothing is retried.
//
// The returned error is the failing stage's error; the result is still filled in.
func (s *Service) Process(ctx context.Context, callID string) (ProcessResult, error) {
	log := logger.From(ctx).With("call_id", callID)

	if _, err := s.store.Get(ctx, callID); err != nil {
		return ProcessResult{}, err
	}

	release, err := s.guard.Acquire(ctx, callID)
	if err != nil {
		return ProcessResult{}, err
	}
	defer release()

	s.record(ctx, callID, audit.EventTypePipelineStarted, "", "", nil)

	out := ProcessResult{CallID: callID, Stages: make([]StageResult, 0, 3)}
	var failed error
	for _, st := range s.steps() {
		if failed != nil {
			out.Stages = append(out.Stages, StageResult{Stage: st.stage, Outcome: OutcomeNotRun})
			continue
		}

		c, err := s.store.Get(ctx, callID)
		if err != nil {
			failed = err
			out.Stages = append(out.Stages, failedResult(st.stage, err))
			continue
		}
		if c.Status.AtLeast(st.done) {
			log.Debug("stage skipped", "stage", string(st.stage), "status", string(c.Status))
			s.record(ctx, callID, audit.EventTypeStageSkipped, st.stage, "already "+string(c.Status), nil)
			out.Stages = append(out.Stages, StageResult{Stage: st.stage, Outcome: OutcomeSkipped})
			continue
		}

		if err := st.run(ctx, callID); err != nil {
			failed = err
			out.Stages = append(out.Stages, failedResult(st.stage, err))
			continue
		}
		out.Stages = append(out.Stages, StageResult{Stage: st.stage, Outcome: OutcomeRan})
	}

	final, err := s.store.Get(context.WithoutCancel(ctx), callID)
	if err != nil && failed == nil {
		failed = err
	}
	out.FinalStatus = final.Status

	msg := ""
	if failed != nil {
		msg = failed.Error()
	}
	s.record(ctx, callID, audit.EventTypePipelineEnded, "", msg, map[string]any{"final_status": string(out.FinalStatus)})
	log.Info("pipeline finished", "final_status", string(out.FinalStatus), "failed", failed != nil)
	return out, failed
}

func failedResult(st Stage, err error) StageResult {
	return StageResult{
		Stage:     st,
		Outcome:   OutcomeFailed,
		Error:     err.Error(),
		ErrorKind: apperr.GetKind(err).String(),
	}
}
