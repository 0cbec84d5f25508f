package transcription

import (
	"context"
	"fmt"
	"path"
)

// Stub is a pure, offline Provider. A zero Stub derives its text from the
// audio reference; set Text to return a fixed transcript, or Err to fail.
type Stub struct {
	Text       string
	Language   string
	Confidence *float64
	Err        error
}

func (s Stub) Name() string { return "stub" }

func (s Stub) Transcribe(ctx context.Context, audioRef string) (Result, error) {
	if s.Err != nil {
		return Result{}, s.Err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	text := s.Text
	if text == "" {
		text = fmt.Sprintf("(stub) transcription for %s: discussed product fit, pricing, timeline, and next steps.", path.Base(audioRef))
	}
	lang := s.Language
	if lang == "" {
		lang = "en"
	}
	conf := s.Confidence
	if conf == nil {
		v := 0.9
		conf = &v
	}
	return Result{
		Text:       text,
		Language:   lang,
		Confidence: conf,
		Metadata:   map[string]any{"mode": "stub"},
	}, nil
}
