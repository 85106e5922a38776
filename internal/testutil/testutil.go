// Package testutil provides common test doubles and helpers for Secretario tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/Secretario/internal/models"
)

// StubGenerator returns scripted outputs in call order and records every prompt.
// Once Outputs is exhausted the last output is repeated.
type StubGenerator struct {
	mu      sync.Mutex
	Outputs []string
	// Errors fails the call with the given zero-based index.
	Errors  map[int]error
	Prompts []string
}

// NewStubGenerator creates a StubGenerator with the given outputs.
func NewStubGenerator(outputs ...string) *StubGenerator {
	return &StubGenerator{Outputs: outputs, Errors: make(map[int]error)}
}

// Generate implements the generator interface.
func (g *StubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := len(g.Prompts)
	g.Prompts = append(g.Prompts, prompt)
	if err, ok := g.Errors[idx]; ok {
		return "", err
	}
	if len(g.Outputs) == 0 {
		return "", nil
	}
	if idx >= len(g.Outputs) {
		idx = len(g.Outputs) - 1
	}
	return g.Outputs[idx], nil
}

// Calls returns the number of Generate calls so far.
func (g *StubGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Prompts)
}

// StubTracker is an in-memory task tracker with call counters.
type StubTracker struct {
	mu       sync.Mutex
	Projects []models.Project
	Tasks    map[string][]models.Task
	Err      error

	ListProjectsCalls int
	ListTasksCalls    []string
	Created           []models.Task
}

// NewStubTracker creates an empty StubTracker.
func NewStubTracker() *StubTracker {
	return &StubTracker{Tasks: make(map[string][]models.Task)}
}

// ListProjects returns the configured projects.
func (s *StubTracker) ListProjects(ctx context.Context) ([]models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListProjectsCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]models.Project(nil), s.Projects...), nil
}

// ListTasks returns the configured tasks for projectID.
func (s *StubTracker) ListTasks(ctx context.Context, projectID string) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListTasksCalls = append(s.ListTasksCalls, projectID)
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]models.Task(nil), s.Tasks[projectID]...), nil
}

// CreateTask appends a task to projectID.
func (s *StubTracker) CreateTask(ctx context.Context, projectID, name string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return models.Task{}, s.Err
	}
	task := models.Task{ID: fmt.Sprintf("t%d", len(s.Created)+1), Name: name}
	s.Created = append(s.Created, task)
	s.Tasks[projectID] = append(s.Tasks[projectID], task)
	return task, nil
}

// MakeProjects returns n projects with ids p1..pn.
func MakeProjects(n int) []models.Project {
	out := make([]models.Project, n)
	for i := range out {
		out[i] = models.Project{ID: fmt.Sprintf("p%d", i+1), Name: fmt.Sprintf("Project %d", i+1)}
	}
	return out
}

// MakeTasks returns n tasks named "Task 1".."Task n".
func MakeTasks(n int) []models.Task {
	out := make([]models.Task, n)
	for i := range out {
		out[i] = models.Task{ID: fmt.Sprintf("t%d", i+1), Name: fmt.Sprintf("Task %d", i+1)}
	}
	return out
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
