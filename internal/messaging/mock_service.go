package messaging

import (
	"context"
	"sync"

	"github.com/BTreeMap/Secretario/internal/models"
)

// SentReply is one reply recorded by MockService.
type SentReply struct {
	UserID string
	Reply  models.Reply
}

// MockService is an in-memory Service for tests. Inject events with Emit.
type MockService struct {
	mu      sync.Mutex
	events  chan models.Event
	sent    []SentReply
	stopped bool
	SendErr error
	name    string
}

// NewMockService creates a MockService.
func NewMockService() *MockService {
	return &MockService{events: make(chan models.Event, DefaultChannelBufferSize), name: "mock"}
}

// Name returns "mock".
func (m *MockService) Name() string { return m.name }

// Start does nothing.
func (m *MockService) Start(ctx context.Context) error { return nil }

// Stop closes the event channel.
func (m *MockService) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		close(m.events)
	}
	return nil
}

// Events returns the event channel.
func (m *MockService) Events() <-chan models.Event { return m.events }

// Emit queues an inbound event.
func (m *MockService) Emit(ev models.Event) {
	m.events <- ev
}

// Send records the reply.
func (m *MockService) Send(ctx context.Context, userID string, reply models.Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent = append(m.sent, SentReply{UserID: userID, Reply: reply})
	return nil
}

// Sent returns a copy of the recorded replies.
func (m *MockService) Sent() []SentReply {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentReply(nil), m.sent...)
}

// SentTo returns the texts sent to userID in order.
func (m *MockService) SentTo(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.UserID == userID {
			out = append(out, s.Reply.Text)
		}
	}
	return out
}
