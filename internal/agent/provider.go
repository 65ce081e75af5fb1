// Package agent implements the streaming tool-calling loop: repeated model
// invocations interleaved with tool execution, driven as a state machine
// that guarantees well-formed termination.
package agent

import (
	"context"

	"github.com/adamj-ops/square-brain-sub000/internal/tools"
	"github.com/adamj-ops/square-brain-sub000/pkg/models"
)

// FinishReason signals why the model backend stopped streaming.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
)

// ToolCallFragment is one streamed piece of a tool call, indexed by the
// call's position. Fragments for the same index accumulate: the first
// initializes the call, later ones append id, name, or argument text.
type ToolCallFragment struct {
	Index int
	ID    string
	Name  string
	Args  string
}

// CompletionChunk is one streamed unit from the model backend. A chunk may
// carry a content fragment and a tool-call fragment at once; both are
// processed independently.
type CompletionChunk struct {
	Text         string
	Fragment     *ToolCallFragment
	FinishReason FinishReason
	Err          error
}

// CompletionRequest is a streaming completion request to the model backend.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []models.Message
	Tools     []*tools.Definition
	MaxTokens int
}

// Provider is the model backend boundary: a black-box streaming generator
// of text and tool-call fragments. The loop does not retry this call; a
// fault is caught once at the top level and surfaces as an error final.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Complete issues a streaming completion. The returned channel is
	// closed after the terminal chunk.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}
