// Package models provides domain types for the square-brain orchestrator.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry in the model-facing conversation history.
// The sequence is append-only for the lifetime of a request and is
// owned exclusively by the orchestrator driving that request.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ToolCall represents the model's request to execute a tool. It is built
// incrementally from streamed fragments: the first fragment for an index
// initializes it, later fragments append to the argument text.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Valid reports whether the call carries both an id and a name.
// Incomplete calls must never reach the model-facing history; the model
// cannot be asked about a call it cannot identify.
func (tc ToolCall) Valid() bool {
	return tc.ID != "" && tc.Name != ""
}

// ToolContext carries the caller identity and capability grants for one
// request. It is immutable for the request's duration and threaded through
// every tool invocation.
type ToolContext struct {
	OrgID       string         `json:"org_id"`
	SessionID   string         `json:"session_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	AllowWrites bool           `json:"allow_writes"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Item is a knowledge-store entry that the brain.* tools operate on.
type Item struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
