package transcription

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"sales-call-pipeline/pkg/utils"

	"cloud.google.com/go/speech/apiv1/speechpb"
)

func TestStub_FixedAndDerivedOutput(t *testing.T) {
	ctx := context.Background()

	res, err := Stub{Text: "hello world"}.Transcribe(ctx, "a.wav")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Text != "hello world" {
		t.Fatalf("expected fixed text, got %q", res.Text)
	}

	a, _ := Stub{}.Transcribe(ctx, "calls/demo.wav")
	b, _ := Stub{}.Transcribe(ctx, "calls/demo.wav")
	if a.Text != b.Text || !strings.Contains(a.Text, "demo.wav") {
		t.Fatalf("expected deterministic text naming the file, got %q / %q", a.Text, b.Text)
	}
	if a.Language != "en" || a.Confidence == nil || *a.Confidence != 0.9 {
		t.Fatalf("unexpected defaults %+v", a)
	}

	boom := errors.New("quota")
	if _, err := (Stub{Err: boom}).Transcribe(ctx, "x"); !errors.Is(err, boom) {
		t.Fatalf("expected configured error, got %v", err)
	}
}

type memAudio map[string]string

func (m memAudio) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	s, ok := m[ref]
	if !ok {
		return nil, errors.New("missing")
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

func (m memAudio) Size(ctx context.Context, ref string) (int64, error) {
	s, ok := m[ref]
	if !ok {
		return 0, errors.New("missing")
	}
	return int64(len(s)), nil
}

var fastRetry = utils.RetryConfig{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxRetries: 2}

func TestWhisper_UploadsAndRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing auth header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			b, _ := io.ReadAll(f)
			if string(b) != "AUDIO" || hdr.Filename != "call.wav" {
				t.Errorf("unexpected upload %q %q", b, hdr.Filename)
			}
		}
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"text":" hello world ","language":"english","duration":3.5}`))
	}))
	defer srv.Close()

	wh, err := NewWhisper(WhisperConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Retry: fastRetry}, memAudio{"call.wav": "AUDIO"}, srv.Client())
	if err != nil {
		t.Fatalf("new whisper: %v", err)
	}
	res, err := wh.Transcribe(context.Background(), "call.wav")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Text != "hello world" || res.Language != "english" {
		t.Fatalf("unexpected result %+v", res)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Fatalf("expected one retry, got %d attempts", attempts)
	}
}

func TestWhisper_ClientErrorIsNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	wh, _ := NewWhisper(WhisperConfig{BaseURL: srv.URL, APIKey: "bad", Retry: fastRetry}, memAudio{"a.mp3": "x"}, srv.Client())
	_, err := wh.Transcribe(context.Background(), "a.mp3")
	var se *utils.HTTPStatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 status error, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected no retry on 401, got %d attempts", attempts)
	}
}

func TestWhisper_RejectsOversizedAudio(t *testing.T) {
	wh, _ := NewWhisper(WhisperConfig{APIKey: "k"}, bigAudio{}, nil)
	if _, err := wh.Transcribe(context.Background(), "big.wav"); err == nil || !strings.Contains(err.Error(), "limit") {
		t.Fatalf("expected size limit error, got %v", err)
	}
}

type bigAudio struct{}

func (bigAudio) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	return nil, errors.New("should not open")
}
func (bigAudio) Size(ctx context.Context, ref string) (int64, error) { return MaxWhisperUploadBytes + 1, nil }

func TestParseRecognizeResponse(t *testing.T) {
	resp := &speechpb.LongRunningRecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " hello ", Confidence: 0.8}}, LanguageCode: "en-us"},
			{Alternatives: nil},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "world", Confidence: 0.6}}},
		},
	}
	res := parseRecognizeResponse(resp)
	if res.Text != "hello world" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Language != "en-us" {
		t.Fatalf("unexpected language %q", res.Language)
	}
	if res.Confidence == nil || *res.Confidence < 0.69 || *res.Confidence > 0.71 {
		t.Fatalf("expected mean confidence 0.7, got %v", res.Confidence)
	}
	if inferEncoding("x.FLAC") != speechpb.RecognitionConfig_FLAC {
		t.Fatalf("expected flac encoding")
	}
}
