// Package flow implements the Secretario conversation state machine.
//
// A Conversation consumes normalized inbound events for one user at a time, resolves the
// active flow from that user's session and returns the replies to send. Language generation
// and task tracking are reached through the Generator and TaskTracker interfaces.
package flow

import (
	"context"

	"github.com/BTreeMap/Secretario/internal/models"
)

// MaxListedItems caps the number of projects offered and tasks rendered in one reply.
const MaxListedItems = 10

// Generator turns a prompt into generated text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// TaskTracker is a task-tracking backend bound to one user's credential.
type TaskTracker interface {
	ListProjects(ctx context.Context) ([]models.Project, error)
	ListTasks(ctx context.Context, projectID string) ([]models.Task, error)
	CreateTask(ctx context.Context, projectID, name string) (models.Task, error)
}

// TrackerFactory builds a TaskTracker for a linked credential.
type TrackerFactory interface {
	NewTracker(token string) (TaskTracker, error)
}

// TrackerFactoryFunc adapts a function to the TrackerFactory interface.
type TrackerFactoryFunc func(token string) (TaskTracker, error)

// NewTracker calls f.
func (f TrackerFactoryFunc) NewTracker(token string) (TaskTracker, error) {
	return f(token)
}
