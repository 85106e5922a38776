package models

import "time"

// Session is the ephemeral per-user conversation state. It lives only in process memory.
type Session struct {
	UserID              string    `json:"user_id"`
	Language            Language  `json:"language,omitempty"`
	AwaitingToken       bool      `json:"awaiting_token"`
	LinkedToken         string    `json:"-"`
	SelectedProject     string    `json:"selected_project,omitempty"`
	Greeted             bool      `json:"greeted"`                         // lifecycle greeting already issued
	JoinGreetingPending bool      `json:"join_greeting_pending,omitempty"` // set by the lifecycle greeting until the next non-lifecycle event
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewSession creates an empty session for a user.
func NewSession(userID string, now time.Time) Session {
	return Session{UserID: userID, CreatedAt: now, UpdatedAt: now}
}

// HasToken reports whether a task-tracking credential is linked.
func (s Session) HasToken() bool {
	return s.LinkedToken != ""
}

// HasProject reports whether a project has been selected.
func (s Session) HasProject() bool {
	return s.SelectedProject != ""
}

// CredentialState derives the credential linking state from the session flags.
func (s Session) CredentialState() CredentialState {
	switch {
	case s.AwaitingToken:
		return CredentialAwaitingToken
	case s.HasToken():
		return CredentialLinked
	default:
		return CredentialIdle
	}
}
