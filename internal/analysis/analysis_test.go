package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sales-call-pipeline/pkg/utils"
)

func TestParseModelOutput_FencedJSONWithChatter(t *testing.T) {
	raw := "Sure! Here is the analysis:\n```json\n{\"summary\": [\"said hello\", \" \"], \"pain_points\": \"slow onboarding\\n- pricing {unclear}\", \"objections\": [\"integration effort\"], \"action_items\": [\"send proposal\"], \"follow_up_message\": \"Thanks!\"}\n```"
	res, err := ParseModelOutput(raw)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(res.Summary) != 1 || res.Summary[0] != "said hello" {
		t.Fatalf("unexpected summary %v", res.Summary)
	}
	want := []string{"slow onboarding", "pricing {unclear}", "integration effort"}
	if strings.Join(res.Risks, "|") != strings.Join(want, "|") {
		t.Fatalf("expected risks %v, got %v", want, res.Risks)
	}
	if res.FollowUp != "Thanks!" || len(res.ActionItems) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestParseModelOutput_Rejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"I cannot help with that.",
		`{"summary": `,
		`{"summary": [], "action_items": ["x"]}`,
		`{"summary": 42}`,
	} {
		if _, err := ParseModelOutput(raw); !errors.Is(err, ErrUnparseable) {
			t.Fatalf("%q: expected ErrUnparseable, got %v", raw, err)
		}
	}
}

func TestStub_FixedOutputIsDeterministic(t *testing.T) {
	s := Stub{Summary: []string{"said hello"}}
	a, err := s.Analyze(context.Background(), "hello world", CallContext{Title: "Demo"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	b, _ := s.Analyze(context.Background(), "hello world", CallContext{Title: "Demo"})
	if len(a.Summary) != 1 || a.Summary[0] != "said hello" {
		t.Fatalf("unexpected summary %v", a.Summary)
	}
	if a.FollowUp != b.FollowUp || strings.Join(a.ActionItems, ",") != strings.Join(b.ActionItems, ",") {
		t.Fatalf("expected deterministic output")
	}
	a.Summary[0] = "mutated"
	if s.Summary[0] != "said hello" {
		t.Fatalf("expected result slices not to alias stub config")
	}
}

func TestOpenAI_ParsesJSONModeResponse(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat["type"] != "json_object" || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected request %+v", req)
		}
		if !strings.Contains(req.Messages[1].Content, `"title":"Demo"`) {
			t.Errorf("expected call context in user prompt, got %s", req.Messages[1].Content)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"summary\":[\"said hello\"],\"action_items\":[],\"follow_up_message\":\"bye\"}"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	o, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Retry: utils.RetryConfig{InitialInterval: time.Millisecond, MaxRetries: 2}}, srv.Client())
	if err != nil {
		t.Fatalf("new openai: %v", err)
	}
	res, err := o.Analyze(context.Background(), "hello world", CallContext{Title: "Demo"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Summary[0] != "said hello" || res.FollowUp != "bye" || res.Metadata["model"] != "gpt-4o-mini" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestOpenAI_GarbageContentIsUnparseable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"not json at all"}}]}`))
	}))
	defer srv.Close()

	o, _ := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	if _, err := o.Analyze(context.Background(), "t", CallContext{}); !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}
