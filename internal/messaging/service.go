// Package messaging connects chat platforms to the conversation state machine.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/Secretario/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// Errors shared by services.
var (
	ErrServiceStopped = errors.New("messaging service stopped")
	ErrForeignUser    = errors.New("user id does not belong to this service")
)

// Service defines a pluggable chat platform.
type Service interface {
	// Name identifies the platform in logs and health output.
	Name() string

	// Start begins background processing (e.g., polling for updates). It does not block.
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channel.
	Stop() error

	// Send delivers one reply to a user.
	Send(ctx context.Context, userID string, reply models.Reply) error

	// Events returns the channel of inbound events.
	Events() <-chan models.Event
}
