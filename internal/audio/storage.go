// Package audio stores uploaded call recordings and hands providers a reader
// for an opaque audio reference. The pipeline never sees paths or buckets.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a reference does not resolve to stored audio.
var ErrNotFound = errors.New("audio: not found")

// ErrInvalidRef is returned for references the backend would never have issued.
var ErrInvalidRef = errors.New("audio: invalid reference")

// Opener resolves an audio reference to its bytes. The caller closes the reader.
type Opener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Storage persists audio and returns an opaque reference to it.
type Storage interface {
	Opener
	Save(ctx context.Context, fileName, contentType string, r io.Reader, size int64) (string, error)
	Size(ctx context.Context, ref string) (int64, error)
}

var allowedExt = map[string]string{
	".mp3":  "audio/mpeg",
	".mp4":  "audio/mp4",
	".m4a":  "audio/mp4",
	".mpeg": "audio/mpeg",
	".mpga": "audio/mpeg",
	".wav":  "audio/wav",
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// ContentTypeFor returns the mime type for a supported audio file name.
func ContentTypeFor(fileName string) (string, bool) {
	ct, ok := allowedExt[strings.ToLower(path.Ext(fileName))]
	return ct, ok
}

// objectKey builds a unique, flat key that keeps the original extension.
func objectKey(fileName string) (string, error) {
	ext := strings.ToLower(path.Ext(fileName))
	if _, ok := allowedExt[ext]; !ok {
		return "", fmt.Errorf("audio: unsupported file type %q", ext)
	}
	base := strings.TrimSuffix(path.Base(strings.ReplaceAll(fileName, "\\", "/")), path.Ext(fileName))
	base = sanitize(base)
	if base == "" {
		base = "recording"
	}
	return fmt.Sprintf("%s_%s%s", base, uuid.New().String()[:8], ext), nil
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

// validRef rejects anything with a path component.
func validRef(ref string) bool {
	return ref != "" && !strings.ContainsAny(ref, "/\\") && ref != "." && ref != ".."
}
