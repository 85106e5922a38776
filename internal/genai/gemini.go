package genai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	googlegenai "google.golang.org/genai"
)

// contentGenerator is the subset of the Gemini models service used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*googlegenai.Content, config *googlegenai.GenerateContentConfig) (*googlegenai.GenerateContentResponse, error)
}

// GeminiClient generates text with Google Gemini.
type GeminiClient struct {
	models      contentGenerator
	model       string
	temperature float64
	maxTokens   int
	logTiming   bool
	debugMode   bool
	stateDir    string
}

// NewGeminiClient creates a Gemini client. An API key is required.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	cfg := defaultOpts(BackendGemini)
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w for backend %s", ErrMissingAPIKey, BackendGemini)
	}

	client, err := googlegenai.NewClient(ctx, &googlegenai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: googlegenai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	slog.Debug("genai.NewGeminiClient: created", "model", cfg.Model)
	return &GeminiClient{
		models:      client.Models,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logTiming:   cfg.LogTiming,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Generate sends prompt as a single user turn and returns the response text.
func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	config := &googlegenai.GenerateContentConfig{
		Temperature: googlegenai.Ptr(float32(g.temperature)),
	}
	if g.maxTokens > 0 {
		config.MaxOutputTokens = int32(g.maxTokens)
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, googlegenai.Text(prompt), config)
	if g.logTiming {
		slog.Info("GeminiClient.Generate: timing", "model", g.model, "elapsed_ms", time.Since(start).Milliseconds(), "ok", err == nil)
	}
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrNoChoicesReturned
	}
	text := resp.Text()
	if g.debugMode && g.stateDir != "" {
		writeDebugEntry(g.stateDir, debugLogEntry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Method:    "Generate",
			Backend:   BackendGemini,
			Model:     g.model,
			Params:    map[string]interface{}{"prompt": prompt, "config": config},
			Response:  text,
		})
	}
	return text, nil
}
