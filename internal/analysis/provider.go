// Package analysis defines the language-model capability that turns a
// transcript into a structured sales-call analysis.
package analysis

import "context"

// CallContext is the call metadata handed to the model next to the transcript.
type CallContext struct {
	CallID       string   `json:"-"`
	Title        string   `json:"title"`
	CallType     string   `json:"call_type,omitempty"`
	Participants []string `json:"participants,omitempty"`
	ContactName  string   `json:"contact_name,omitempty"`
	Company      string   `json:"company,omitempty"`
}

type Result struct {
	Summary     []string
	Risks       []string
	ActionItems []string
	FollowUp    string
	Metadata    map[string]any
}

// Provider analyzes one transcript. Backend failures and model output that
// cannot be parsed are both returned as errors.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, transcript string, call CallContext) (Result, error)
}
