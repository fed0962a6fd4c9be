// Package types provides core types used across the docqa engine.
// This package has ZERO dependencies on other docqa packages to avoid circular imports.
// All other packages should import types from here.
package types

import "time"

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a conversation message persisted on a chat session.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// Session represents a chat session. A session may be bound to a single
// document; a zero DocumentID means no document is attached.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	TenantID   string    `json:"tenant_id,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	Title      string    `json:"title"`
	Messages   []Message `json:"messages,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// DefaultSessionTitle is the placeholder title given to freshly created
// sessions until a background title generation replaces it.
const DefaultSessionTitle = "New conversation"
