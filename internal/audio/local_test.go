package audio

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestLocalStore_SaveOpenRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	ref, err := s.Save(ctx, "../../Q3 review.MP3", "audio/mpeg", strings.NewReader("RIFFdata"), 8)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if strings.ContainsAny(ref, "/\\") || !strings.HasSuffix(ref, ".mp3") || !strings.HasPrefix(ref, "Q3_review_") {
		t.Fatalf("unexpected ref %q", ref)
	}

	size, err := s.Size(ctx, ref)
	if err != nil || size != 8 {
		t.Fatalf("expected size 8, got %d / %v", size, err)
	}

	rc, err := s.Open(ctx, ref)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "RIFFdata" {
		t.Fatalf("unexpected content %q", b)
	}
}

func TestLocalStore_RejectsBadInput(t *testing.T) {
	s, _ := NewLocalStore(t.TempDir())
	ctx := context.Background()

	if _, err := s.Save(ctx, "notes.txt", "", strings.NewReader("x"), 1); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	if _, err := s.Open(ctx, "../etc/passwd"); !errors.Is(err, ErrInvalidRef) {
		t.Fatalf("expected invalid ref, got %v", err)
	}
	if _, err := s.Open(ctx, "missing.wav"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestContentTypeFor(t *testing.T) {
	if ct, ok := ContentTypeFor("call.WAV"); !ok || ct != "audio/wav" {
		t.Fatalf("expected audio/wav, got %q %v", ct, ok)
	}
	if _, ok := ContentTypeFor("call.exe"); ok {
		t.Fatalf("expected exe rejected")
	}
}
