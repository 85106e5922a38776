// Package models defines the core data structures for Secretario.
//
// It includes the per-user session record, inbound events, outbound replies and the
// task-tracking records shared across modules.
package models

import (
	"errors"
	"time"
)

// Validation constants for outbound replies
const (
	// MaxReplyTextLength defines the maximum length of a single outbound text (Telegram limit)
	MaxReplyTextLength = 4096
	// MaxButtonLabelLength defines the maximum allowed length for a button label
	MaxButtonLabelLength = 64
	// MaxButtonPayloadLength defines the maximum callback payload size accepted by Telegram
	MaxButtonPayloadLength = 64
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID         = errors.New("user id cannot be empty")
	ErrUnknownLanguage     = errors.New("unknown language")
	ErrInvalidEventKind    = errors.New("invalid event kind")
	ErrEmptyCommand        = errors.New("command name is required for command events")
	ErrEmptyPayload        = errors.New("payload is required for button events")
	ErrEmptyReply          = errors.New("reply text cannot be empty")
	ErrReplyTooLong        = errors.New("reply text exceeds maximum length")
	ErrEmptyButtonLabel    = errors.New("button label cannot be empty")
	ErrButtonLabelTooLong  = errors.New("button label exceeds maximum length")
	ErrButtonPayloadTooBig = errors.New("button payload exceeds maximum length")
)

// Project is a task-tracking project as listed by the tracker.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Task is a task-tracking task as listed by the tracker.
type Task struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Completed bool   `json:"completed,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// HealthStatus is the result body of the health endpoint.
type HealthStatus struct {
	Sessions   int       `json:"sessions"`
	Transports []string  `json:"transports"`
	StartedAt  time.Time `json:"started_at"`
}
