package asana

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/BTreeMap/Secretario/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	f := NewFactory(append([]Option{WithBaseURL(srv.URL + "/"), WithHTTPClient(srv.Client())}, opts...)...)
	c, err := f.NewClient("pat-123")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewClient_EmptyToken(t *testing.T) {
	if _, err := NewFactory().NewClient("  "); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("NewClient() error = %v, want ErrEmptyToken", err)
	}
}

func TestListProjects(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer pat-123" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("workspace"); got != "ws1" {
			t.Errorf("workspace = %q", got)
		}
		io.WriteString(w, `{"data":[{"gid":"1","name":"Home"},{"gid":"2","name":"Work"}]}`)
	}, WithWorkspace("ws1"))

	got, err := c.ListProjects(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []models.Project{{ID: "1", Name: "Home"}, {ID: "2", Name: "Work"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListProjects mismatch (-want +got):\n%s", diff)
	}
}

func TestListTasksOnlyIncomplete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("project") != "p42" || q.Get("completed_since") != "now" {
			t.Errorf("query = %v", q)
		}
		io.WriteString(w, `{"data":[{"gid":"a","name":"Write","completed":false},{"gid":"b","name":"Done","completed":true}]}`)
	})

	got, err := c.ListTasks(context.Background(), "p42")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]models.Task{{ID: "a", Name: "Write"}}, got); diff != "" {
		t.Errorf("ListTasks mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateTask(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tasks" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Data struct {
				Name     string   `json:"name"`
				Projects []string `json:"projects"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Data.Name != "Call mum" || len(body.Data.Projects) != 1 || body.Data.Projects[0] != "p1" {
			t.Errorf("body = %+v", body)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"data":{"gid":"99","name":"Call mum"}}`)
	})

	task, err := c.CreateTask(context.Background(), "p1", "Call mum")
	if err != nil {
		t.Fatal(err)
	}
	if task.ID != "99" || task.Name != "Call mum" {
		t.Errorf("task = %+v", task)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		unauthorized bool
		message      string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"errors":[{"message":"Not Authorized"}]}`, true, "Not Authorized"},
		{"not found", http.StatusNotFound, `{"errors":[{"message":"project: Not a recognized ID"}]}`, false, "project: Not a recognized ID"},
		{"no body", http.StatusInternalServerError, ``, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := c.ListProjects(context.Background())
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Message != tt.message {
				t.Errorf("APIError = %+v", apiErr)
			}
			if errors.Is(err, ErrUnauthorized) != tt.unauthorized {
				t.Errorf("errors.Is(ErrUnauthorized) = %v, want %v", !tt.unauthorized, tt.unauthorized)
			}
		})
	}
}

func TestMalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `not json`)
	})
	if _, err := c.ListTasks(context.Background(), "p1"); err == nil {
		t.Fatal("expected decode error")
	}
}
