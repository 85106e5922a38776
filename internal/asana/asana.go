// Package asana is a minimal Asana REST client bound to one personal access token.
package asana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/BTreeMap/Secretario/internal/models"
)

// DefaultBaseURL is the public Asana API root.
const DefaultBaseURL = "https://app.asana.com/api/1.0"

// DefaultHTTPTimeout bounds each request when no http.Client is supplied.
const DefaultHTTPTimeout = 20 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Errors returned by the client.
var (
	ErrEmptyToken   = errors.New("asana personal access token is required")
	ErrUnauthorized = errors.New("asana rejected the access token")
)

// APIError is a non-2xx response from Asana.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("asana: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("asana: HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps 401 responses to ErrUnauthorized.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Opts holds configuration for clients created by a Factory.
type Opts struct {
	BaseURL    string
	Workspace  string
	HTTPClient *http.Client
}

// Option configures a Factory.
type Option func(*Opts)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithWorkspace restricts project listing to one workspace gid.
func WithWorkspace(gid string) Option {
	return func(o *Opts) {
		o.Workspace = gid
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// Factory creates per-token clients sharing one configuration.
type Factory struct {
	opts Opts
}

// NewFactory creates a Factory.
func NewFactory(opts ...Option) *Factory {
	cfg := Opts{BaseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Factory{opts: cfg}
}

// NewClient returns a client authenticated with token.
func (f *Factory) NewClient(token string) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	return &Client{
		token:     token,
		baseURL:   f.opts.BaseURL,
		workspace: f.opts.Workspace,
		http:      f.opts.HTTPClient,
	}, nil
}

// Client calls the Asana API on behalf of one user.
type Client struct {
	token     string
	baseURL   string
	workspace string
	http      *http.Client
}

type compactResource struct {
	GID       string `json:"gid"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

type listEnvelope struct {
	Data []compactResource `json:"data"`
}

type itemEnvelope struct {
	Data compactResource `json:"data"`
}

// ListProjects returns the projects visible to the token.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	q := url.Values{"opt_fields": {"name"}, "archived": {"false"}}
	if c.workspace != "" {
		q.Set("workspace", c.workspace)
	}
	var env listEnvelope
	if err := c.do(ctx, http.MethodGet, "/projects", q, nil, &env); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := make([]models.Project, 0, len(env.Data))
	for _, r := range env.Data {
		out = append(out, models.Project{ID: r.GID, Name: r.Name})
	}
	return out, nil
}

// ListTasks returns the incomplete tasks of a project.
func (c *Client) ListTasks(ctx context.Context, projectID string) ([]models.Task, error) {
	q := url.Values{
		"project":         {projectID},
		"completed_since": {"now"},
		"opt_fields":      {"name,completed"},
	}
	var env listEnvelope
	if err := c.do(ctx, http.MethodGet, "/tasks", q, nil, &env); err != nil {
		return nil, fmt.Errorf("list tasks for project %s: %w", projectID, err)
	}
	out := make([]models.Task, 0, len(env.Data))
	for _, r := range env.Data {
		if r.Completed {
			continue
		}
		out = append(out, models.Task{ID: r.GID, Name: r.Name})
	}
	return out, nil
}

// CreateTask adds a task named name to a project.
func (c *Client) CreateTask(ctx context.Context, projectID, name string) (models.Task, error) {
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"name":     name,
			"projects": []string{projectID},
		},
	}
	var env itemEnvelope
	if err := c.do(ctx, http.MethodPost, "/tasks", nil, body, &env); err != nil {
		return models.Task{}, fmt.Errorf("create task in project %s: %w", projectID, err)
	}
	return models.Task{ID: env.Data.GID, Name: env.Data.Name, Completed: env.Data.Completed}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	slog.Debug("asana.Client: request done", "method", method, "path", path, "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    gjson.GetBytes(raw, "errors.0.message").String(),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
