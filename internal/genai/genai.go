// Package genai provides text generation backed by OpenAI-compatible chat completions
// (OpenAI itself or a llama.cpp server) or by Google Gemini.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Backend names a generation provider.
type Backend string

// Supported backends.
const (
	BackendOpenAI   Backend = "openai"
	BackendLlamaCPP Backend = "llamacpp"
	BackendGemini   Backend = "gemini"
)

// Default models per backend.
const (
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultLlamaCPPModel = "mistral-7b-instruct-v0.1.Q8_0"
	DefaultLlamaCPPURL   = "http://localhost:8080/v1"
	DefaultGeminiModel   = "gemini-2.0-flash"

	DefaultTemperature = 0.7
	DefaultMaxTokens   = 512
)

// Errors returned by generation clients.
var (
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrMissingAPIKey     = errors.New("API key not set")
	ErrUnknownBackend    = errors.New("unknown generation backend")
)

// ParseBackend validates a backend name.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(name); b {
	case BackendOpenAI, BackendLlamaCPP, BackendGemini:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// Opts holds configuration options for generation clients.
type Opts struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	LogTiming   bool
	DebugMode   bool   // write request/response pairs under StateDir/debug
	StateDir    string // directory for debug logs
}

// Option defines a configuration option for generation clients.
type Option func(*Opts)

// WithAPIKey overrides the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) {
		o.Temperature = temp
	}
}

// WithMaxTokens sets the maximum number of generated tokens.
func WithMaxTokens(n int) Option {
	return func(o *Opts) {
		o.MaxTokens = n
	}
}

// WithLogTiming logs the latency of every generation call.
func WithLogTiming(enabled bool) Option {
	return func(o *Opts) {
		o.LogTiming = enabled
	}
}

// WithDebugMode enables writing debug logs of each call to stateDir/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

func defaultOpts(backend Backend) Opts {
	o := Opts{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	switch backend {
	case BackendOpenAI:
		o.APIKey = os.Getenv("OPENAI_API_KEY")
		o.Model = DefaultOpenAIModel
	case BackendLlamaCPP:
		o.Model = DefaultLlamaCPPModel
		o.BaseURL = DefaultLlamaCPPURL
	case BackendGemini:
		o.APIKey = os.Getenv("GEMINI_API_KEY")
		o.Model = DefaultGeminiModel
	}
	return o
}

// TextGenerator is implemented by every backend client.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// New creates the client for backend.
func New(ctx context.Context, backend Backend, opts ...Option) (TextGenerator, error) {
	switch backend {
	case BackendOpenAI, BackendLlamaCPP:
		return NewClient(backend, opts...)
	case BackendGemini:
		return NewGeminiClient(ctx, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	backend     Backend
	model       string
	temperature float64
	maxTokens   int
	logTiming   bool
	debugMode   bool
	stateDir    string
}

// NewClient initializes a chat completion client. The openai backend requires an API key;
// llamacpp does not, since local servers usually accept any key.
func NewClient(backend Backend, opts ...Option) (*Client, error) {
	cfg := defaultOpts(backend)
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{}
	switch {
	case cfg.APIKey != "":
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	case backend == BackendLlamaCPP:
		reqOpts = append(reqOpts, option.WithAPIKey("no-key"))
	default:
		return nil, fmt.Errorf("%w for backend %s", ErrMissingAPIKey, backend)
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	cli := openai.NewClient(reqOpts...)
	slog.Debug("genai.NewClient: created", "backend", backend, "model", cfg.Model, "base_url", cfg.BaseURL)
	return &Client{
		chat:        &cli.Chat.Completions,
		backend:     backend,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logTiming:   cfg.LogTiming,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Generate sends prompt as a single user message and returns the first choice.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	resp, err := c.chat.New(ctx, params)
	elapsed := time.Since(start)
	if c.logTiming {
		slog.Info("Client.Generate: timing", "backend", c.backend, "model", c.model, "elapsed_ms", elapsed.Milliseconds(), "ok", err == nil)
	}
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	c.writeDebugLog("Generate", params, content)
	return content, nil
}

// debugLogEntry is one request/response pair written in debug mode.
type debugLogEntry struct {
	Timestamp string      `json:"timestamp"`
	Method    string      `json:"method"`
	Backend   Backend     `json:"backend"`
	Model     string      `json:"model"`
	Params    interface{} `json:"params"`
	Response  string      `json:"response"`
}

func (c *Client) writeDebugLog(method string, params interface{}, response string) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	writeDebugEntry(c.stateDir, debugLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Method:    method,
		Backend:   c.backend,
		Model:     c.model,
		Params:    params,
		Response:  response,
	})
}

func writeDebugEntry(stateDir string, entry debugLogEntry) {
	dir := filepath.Join(stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("genai: failed to create debug directory", "dir", dir, "error", err)
		return
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("genai: failed to marshal debug entry", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s_%s.json", time.Now().UTC().Format("20060102T150405"), entry.Method, uuid.NewString()[:8])
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		slog.Warn("genai: failed to write debug entry", "error", err)
	}
}
