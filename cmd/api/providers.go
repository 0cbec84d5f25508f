package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"sales-call-pipeline/internal/analysis"
	"sales-call-pipeline/internal/audio"
	"sales-call-pipeline/internal/config"
	"sales-call-pipeline/internal/crm"
	"sales-call-pipeline/internal/transcription"
)

type providers struct {
	transcriber transcription.Provider
	analyzer    analysis.Provider
	crm         crm.Provider

	closers []func() error
}

func (p providers) close() {
	for _, fn := range p.closers {
		_ = fn()
	}
}

func newAudioStorage(ctx context.Context, cfg config.Config) (audio.Storage, error) {
	switch cfg.Audio.Storage {
	case "minio":
		m := cfg.Audio.MinIO
		return audio.NewMinIOStore(ctx, audio.MinIOConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			UseSSL:    m.UseSSL,
		})
	default:
		return audio.NewLocalStore(cfg.Audio.Dir)
	}
}

// newProviders builds the configured backends. Config.Validate has already
// rejected unknown names and missing keys.
func newProviders(ctx context.Context, cfg config.Config, src audio.Storage) (providers, error) {
	var p providers
	// The pipeline bounds each call; this only guards against a stuck connection.
	client := &http.Client{Timeout: cfg.Pipeline.ProviderTimeout + 10*time.Second}

	switch cfg.Providers.Transcription {
	case "whisper":
		w, err := transcription.NewWhisper(transcription.WhisperConfig{
			BaseURL: cfg.OpenAI.BaseURL,
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.WhisperModel,
		}, src, client)
		if err != nil {
			return p, fmt.Errorf("whisper: %w", err)
		}
		p.transcriber = w
	case "google":
		g, err := transcription.NewGoogleSpeech(ctx, transcription.GoogleConfig{
			LanguageCode: cfg.Speech.LanguageCode,
			Model:        cfg.Speech.Model,
		}, src)
		if err != nil {
			return p, fmt.Errorf("google speech: %w", err)
		}
		p.transcriber = g
		p.closers = append(p.closers, g.Close)
	default:
		p.transcriber = transcription.Stub{}
	}

	switch cfg.Providers.Analysis {
	case "openai":
		o, err := analysis.NewOpenAI(analysis.OpenAIConfig{
			BaseURL: cfg.OpenAI.BaseURL,
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.LLMModel,
		}, client)
		if err != nil {
			p.close()
			return p, fmt.Errorf("openai: %w", err)
		}
		p.analyzer = o
	case "gemini":
		g, err := analysis.NewGemini(ctx, analysis.GeminiConfig{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.Model,
		})
		if err != nil {
			p.close()
			return p, fmt.Errorf("gemini: %w", err)
		}
		p.analyzer = g
	default:
		p.analyzer = analysis.Stub{}
	}

	switch cfg.Providers.CRM {
	case "http":
		c, err := crm.NewHTTPClient(crm.HTTPConfig{
			BaseURL:    cfg.CRM.BaseURL,
			APIKey:     cfg.CRM.APIKey,
			RatePerSec: cfg.CRM.RatePerSec,
		}, client)
		if err != nil {
			p.close()
			return p, fmt.Errorf("crm: %w", err)
		}
		p.crm = c
	default:
		p.crm = crm.Stub{}
	}

	return p, nil
}
