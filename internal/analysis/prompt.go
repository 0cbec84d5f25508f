package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SystemPrompt instructs the model; the user message carries the call payload.
const SystemPrompt = `You are an assistant that summarizes sales and customer success calls.
Given the transcript and call metadata, produce:
- a 3-7 bullet summary,
- pain points and risks,
- objections (if any),
- action items as short imperative bullets,
- a concise follow-up email.

Respond with a single JSON object with keys:
"summary" (array of strings), "pain_points" (array of strings), "objections" (array of strings),
"action_items" (array of strings), "follow_up_message" (string).
Be concise; avoid fluff.`

// ErrUnparseable is returned when model output holds no usable analysis.
var ErrUnparseable = errors.New("analysis: unparseable model output")

// UserPrompt renders the transcript and call metadata as the model input.
func UserPrompt(transcript string, call CallContext) (string, error) {
	payload := struct {
		Transcript string      `json:"transcript"`
		Call       CallContext `json:"call"`
	}{Transcript: transcript, Call: call}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return "Return JSON only. Input: " + string(b), nil
}

// lines accepts either a JSON array of strings or a single string,
// which is split into bullets on newlines.
type lines []string

func (l *lines) UnmarshalJSON(b []byte) error {
	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		*l = cleanLines(arr)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected string or array of strings: %w", err)
	}
	*l = cleanLines(strings.Split(s, "\n"))
	return nil
}

func cleanLines(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		s = strings.TrimLeft(s, "-*• ")
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type modelOutput struct {
	Summary         lines  `json:"summary"`
	Risks           lines  `json:"risks"`
	PainPoints      lines  `json:"pain_points"`
	Objections      lines  `json:"objections"`
	ActionItems     lines  `json:"action_items"`
	FollowUp        string `json:"follow_up"`
	FollowUpMessage string `json:"follow_up_message"`
}

// ParseModelOutput extracts the first JSON object from raw model text
// (tolerating code fences and chatter around it) and normalizes it.
func ParseModelOutput(raw string) (Result, error) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return Result{}, ErrUnparseable
	}
	var out modelOutput
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if len(out.Summary) == 0 {
		return Result{}, fmt.Errorf("%w: missing summary", ErrUnparseable)
	}

	risks := make([]string, 0, len(out.Risks)+len(out.PainPoints)+len(out.Objections))
	risks = append(risks, out.Risks...)
	risks = append(risks, out.PainPoints...)
	risks = append(risks, out.Objections...)

	follow := strings.TrimSpace(out.FollowUpMessage)
	if follow == "" {
		follow = strings.TrimSpace(out.FollowUp)
	}
	actions := []string(out.ActionItems)
	if actions == nil {
		actions = []string{}
	}
	return Result{
		Summary:     out.Summary,
		Risks:       risks,
		ActionItems: actions,
		FollowUp:    follow,
	}, nil
}

// extractJSONObject returns the first balanced {...} in s, skipping braces inside strings.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
