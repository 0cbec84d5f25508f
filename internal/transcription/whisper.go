package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"sales-call-pipeline/pkg/utils"
)

// MaxWhisperUploadBytes is the upload limit of the OpenAI transcription endpoint.
const MaxWhisperUploadBytes = 25 << 20

// AudioSource is the slice of audio storage the HTTP backends need.
type AudioSource interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Size(ctx context.Context, ref string) (int64, error)
}

type WhisperConfig struct {
	BaseURL string // e.g. https://api.openai.com/v1
	APIKey  string
	Model   string
	Retry   utils.RetryConfig
}

// Whisper calls an OpenAI-compatible /audio/transcriptions endpoint.
type Whisper struct {
	cfg    WhisperConfig
	audio  AudioSource
	client *http.Client
}

func NewWhisper(cfg WhisperConfig, audio AudioSource, client *http.Client) (*Whisper, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("whisper: api key is required")
	}
	if audio == nil {
		return nil, errors.New("whisper: audio source is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Whisper{cfg: cfg, audio: audio, client: client}, nil
}

func (w *Whisper) Name() string { return "whisper" }

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

func (w *Whisper) Transcribe(ctx context.Context, audioRef string) (Result, error) {
	size, err := w.audio.Size(ctx, audioRef)
	if err != nil {
		return Result{}, fmt.Errorf("whisper: resolve audio: %w", err)
	}
	if size > MaxWhisperUploadBytes {
		return Result{}, fmt.Errorf("whisper: audio is %.2f MB, limit is %d MB", float64(size)/(1<<20), MaxWhisperUploadBytes>>20)
	}

	endpoint := strings.TrimRight(w.cfg.BaseURL, "/") + "/audio/transcriptions"
	var out whisperResponse
	err = utils.Retry(ctx, w.cfg.Retry, func() error {
		body, contentType, err := w.buildForm(ctx, audioRef)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
		req.Header.Set("Content-Type", contentType)

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := utils.CheckResponse(resp); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("whisper: decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(out.Text) == "" {
		return Result{}, errors.New("whisper: empty transcript")
	}
	return Result{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
		Metadata: map[string]any{
			"provider":         "openai",
			"model":            w.cfg.Model,
			"duration_seconds": out.Duration,
		},
	}, nil
}

// buildForm reopens the audio on every attempt so retries resend the full body.
func (w *Whisper) buildForm(ctx context.Context, audioRef string) (io.Reader, string, error) {
	rc, err := w.audio.Open(ctx, audioRef)
	if err != nil {
		return nil, "", fmt.Errorf("whisper: open audio: %w", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("model", w.cfg.Model)
	_ = mw.WriteField("response_format", "verbose_json")
	part, err := mw.CreateFormFile("file", path.Base(audioRef))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, rc); err != nil {
		return nil, "", fmt.Errorf("whisper: read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
