package models

import "time"

// Role of a persisted message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is a persisted conversation thread.
type Session struct {
	ID             string            `json:"session_id"`
	ExternalKey    string            `json:"external_key,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	Title          string            `json:"title,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
	MessageCount   int               `json:"message_count"`
}

// Message is one immutable turn inside a session.
type Message struct {
	SessionID string      `json:"-"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Sources   []SourceRef `json:"sources"`
	CreatedAt time.Time   `json:"created_at"`
}

// HistoryPair is one (question, answer) turn rebuilt from ordered messages.
type HistoryPair struct {
	Question string
	Answer   string
}
