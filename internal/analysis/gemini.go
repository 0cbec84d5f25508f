package analysis

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
}

// Gemini analyzes through the Gemini API with a JSON response MIME type.
type Gemini struct {
	cfg    GeminiConfig
	client *genai.Client
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{cfg: cfg, client: client}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Analyze(ctx context.Context, transcript string, call CallContext) (Result, error) {
	user, err := UserPrompt(transcript, call)
	if err != nil {
		return Result{}, err
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr(g.cfg.Temperature),
	})
	if err != nil {
		return Result{}, fmt.Errorf("gemini generate: %w", err)
	}

	res, err := ParseModelOutput(resp.Text())
	if err != nil {
		return Result{}, err
	}
	res.Metadata = map[string]any{"provider": "gemini", "model": g.cfg.Model}
	if resp.UsageMetadata != nil {
		res.Metadata["prompt_tokens"] = resp.UsageMetadata.PromptTokenCount
		res.Metadata["completion_tokens"] = resp.UsageMetadata.CandidatesTokenCount
	}
	return res, nil
}
