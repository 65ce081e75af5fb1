// Package audit provides append-only recording of tool invocations.
// Every tool call produces exactly one entry that transitions from
// "started" to a terminal "success" or "error" status.
package audit

import (
	"encoding/json"
	"time"
)

// Status tracks the lifecycle of a tool invocation entry.
type Status string

const (
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry is a single audit record for one tool invocation.
type Entry struct {
	// ID is a unique identifier for this audit entry.
	ID string `json:"id"`

	// ToolName identifies the invoked tool.
	ToolName string `json:"tool_name"`

	// Status is the current lifecycle status.
	Status Status `json:"status"`

	// Args is the raw argument payload as received from the model.
	Args json.RawMessage `json:"args,omitempty"`

	// Result holds the tool output for successful invocations.
	Result json.RawMessage `json:"result,omitempty"`

	// Error holds the failure description for failed invocations.
	Error string `json:"error,omitempty"`

	// DurationMS is the execution time for terminal entries.
	DurationMS int64 `json:"duration_ms,omitempty"`

	OrgID     string `json:"org_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlaceholderID marks entries whose initial write failed. Execution
// proceeds regardless; the sink must never block a tool call.
const PlaceholderID = "audit-unavailable"

// Config configures the audit sink.
type Config struct {
	// Enabled determines if audit recording is active.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database location ("" or ":memory:" for ephemeral).
	Path string `yaml:"path"`

	// IncludeArgs determines if raw tool arguments are recorded.
	// Set to false for privacy-sensitive environments.
	IncludeArgs bool `yaml:"include_args"`

	// MaxFieldSize limits the size of recorded arg/result payloads in bytes.
	MaxFieldSize int `yaml:"max_field_size"`
}

// DefaultConfig returns a default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Path:         ":memory:",
		IncludeArgs:  true,
		MaxFieldSize: 4096,
	}
}
