package analysis

import (
	"context"
	"fmt"
	"strings"
)

// Stub is a pure, offline Provider. Fields left empty fall back to output
// derived from the input; Err makes every call fail.
type Stub struct {
	Summary     []string
	Risks       []string
	ActionItems []string
	FollowUp    string
	Err         error
}

func (s Stub) Name() string { return "stub" }

func (s Stub) Analyze(ctx context.Context, transcript string, call CallContext) (Result, error) {
	if s.Err != nil {
		return Result{}, s.Err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	summary := s.Summary
	if summary == nil {
		summary = []string{
			fmt.Sprintf("Call %q covered product fit, pricing expectations, deployment timeline, and next steps.", call.Title),
			fmt.Sprintf("Transcript length: %d words.", len(strings.Fields(transcript))),
		}
	}
	risks := s.Risks
	if risks == nil {
		risks = []string{"Needs faster onboarding and clearer pricing.", "Concern about integration effort."}
	}
	actions := s.ActionItems
	if actions == nil {
		actions = []string{
			"Send pricing proposal with tier comparison",
			"Share onboarding playbook",
			"Schedule technical validation call",
		}
	}
	follow := s.FollowUp
	if follow == "" {
		who := call.ContactName
		if who == "" {
			who = "there"
		}
		follow = fmt.Sprintf("Hi %s, thanks for the call today. Next steps: %s.", who, strings.Join(actions, "; "))
	}
	return Result{
		Summary:     append([]string(nil), summary...),
		Risks:       append([]string(nil), risks...),
		ActionItems: append([]string(nil), actions...),
		FollowUp:    follow,
		Metadata:    map[string]any{"mode": "stub"},
	}, nil
}
