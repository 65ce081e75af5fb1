package agent

// EventType identifies the kind of stream event.
type EventType string

const (
	EventDelta      EventType = "delta"
	EventToolStart  EventType = "tool_start"
	EventToolResult EventType = "tool_result"
	EventFinal      EventType = "final"
)

// StreamEvent is one unit of progress emitted to the client. Events are
// created by the orchestrator, encoded by the transport, and never mutated
// after creation.
//
// A tool_start event deliberately carries only the tool name: call
// arguments never cross the client boundary.
type StreamEvent struct {
	Type EventType

	// Content is the incremental text for delta events.
	Content string

	// Tool is the tool name for tool_start and tool_result events.
	Tool string

	// Data and Explainability carry the sanitized tool output for
	// tool_result events.
	Data           any
	Explainability any

	// IsError marks a tool_result that represents a failure.
	IsError bool

	// Payload is set for final events only.
	Payload *FinalPayload
}

// FinalPayload closes a request: the accumulated answer plus suggested
// follow-up actions.
type FinalPayload struct {
	Agent       string   `json:"agent"`
	Content     string   `json:"content"`
	NextActions []string `json:"next_actions"`
}
