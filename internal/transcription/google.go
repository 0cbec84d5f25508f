package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
)

type GoogleConfig struct {
	LanguageCode string
	Model        string
}

// GoogleSpeech transcribes through Cloud Speech-to-Text LongRunningRecognize.
// Credentials come from the environment (GOOGLE_APPLICATION_CREDENTIALS).
type GoogleSpeech struct {
	cfg    GoogleConfig
	audio  AudioSource
	client *speech.Client
}

func NewGoogleSpeech(ctx context.Context, cfg GoogleConfig, audio AudioSource) (*GoogleSpeech, error) {
	if audio == nil {
		return nil, errors.New("google speech: audio source is required")
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &GoogleSpeech{cfg: cfg, audio: audio, client: c}, nil
}

func (g *GoogleSpeech) Name() string { return "google" }

func (g *GoogleSpeech) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GoogleSpeech) Transcribe(ctx context.Context, audioRef string) (Result, error) {
	rc, err := g.audio.Open(ctx, audioRef)
	if err != nil {
		return Result{}, fmt.Errorf("google speech: open audio: %w", err)
	}
	content, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return Result{}, fmt.Errorf("google speech: read audio: %w", err)
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:               g.cfg.LanguageCode,
			Model:                      g.cfg.Model,
			EnableAutomaticPunctuation: true,
			Encoding:                   inferEncoding(audioRef),
		},
		Audio: &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: content}},
	}
	op, err := g.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("speech longrunningrecognize: %w", err)
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("speech longrunningrecognize wait: %w", err)
	}

	res := parseRecognizeResponse(resp)
	if res.Text == "" {
		return Result{}, errors.New("google speech: empty transcript")
	}
	if res.Language == "" {
		res.Language = g.cfg.LanguageCode
	}
	res.Metadata = map[string]any{"provider": "gcp_speech", "model": g.cfg.Model}
	return res, nil
}

func parseRecognizeResponse(resp *speechpb.LongRunningRecognizeResponse) Result {
	var (
		full    strings.Builder
		confSum float64
		confN   int
		lang    string
	)
	if resp == nil {
		return Result{}
	}
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}
		if full.Len() > 0 {
			full.WriteString(" ")
		}
		full.WriteString(text)
		if alt.Confidence > 0 {
			confSum += float64(alt.Confidence)
			confN++
		}
		if lang == "" {
			lang = r.LanguageCode
		}
	}
	out := Result{Text: full.String(), Language: lang}
	if confN > 0 {
		v := confSum / float64(confN)
		out.Confidence = &v
	}
	return out
}

func inferEncoding(ref string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(filepath.Ext(ref)) {
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".mp3", ".mpga", ".mpeg":
		return speechpb.RecognitionConfig_MP3
	case ".ogg", ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case ".webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
