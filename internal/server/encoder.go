// Package server exposes the orchestrator over HTTP: a server-sent event
// chat stream, a synchronous tool invocation endpoint, and metrics.
package server

import (
	"encoding/json"
	"sync"

	"github.com/adamj-ops/square-brain-sub000/internal/agent"
)

// Encoder serializes stream events into outbound wire frames. Each frame
// carries a monotonically increasing id for client-side deduplication, and
// no frame is ever produced twice for the same id. Once a final frame has
// been encoded, every subsequent event is dropped.
type Encoder struct {
	mu        sync.Mutex
	nextID    uint64
	seen      map[uint64]struct{}
	finalSent bool
}

// NewEncoder creates an encoder for one request stream.
func NewEncoder() *Encoder {
	return &Encoder{seen: make(map[uint64]struct{})}
}

// Encode converts an event into a JSON frame. The second return value is
// false when the event must not be sent (after final, or a duplicate id).
func (e *Encoder) Encode(ev *agent.StreamEvent) ([]byte, bool) {
	if ev == nil {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finalSent {
		return nil, false
	}

	e.nextID++
	id := e.nextID
	if _, dup := e.seen[id]; dup {
		// Ids are generated locally so this cannot fire in practice; the
		// guard is hardening against a future non-monotonic id source.
		return nil, false
	}
	e.seen[id] = struct{}{}

	frame := map[string]any{"id": id, "type": string(ev.Type)}
	switch ev.Type {
	case agent.EventDelta:
		frame["content"] = ev.Content
	case agent.EventToolStart:
		// Only the tool name: call arguments never cross this boundary.
		frame["tool"] = ev.Tool
	case agent.EventToolResult:
		frame["tool"] = ev.Tool
		frame["data"] = ev.Data
		frame["explainability"] = ev.Explainability
		if ev.IsError {
			frame["error"] = true
		}
	case agent.EventFinal:
		frame["payload"] = ev.Payload
		e.finalSent = true
	default:
		return nil, false
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, false
	}
	return payload, true
}

// FinalSent reports whether a final frame has been encoded.
func (e *Encoder) FinalSent() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalSent
}
