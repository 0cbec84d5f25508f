// Package transcription defines the speech-to-text capability the pipeline
// depends on, plus a deterministic stub and real backends.
package transcription

import "context"

// Result is what a backend returns for one recording.
type Result struct {
	Text       string
	Language   string
	Confidence *float64
	Metadata   map[string]any
}

// Provider turns an opaque audio reference into text.
// Implementations return an error for any backend failure; callers classify it.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, audioRef string) (Result, error)
}
