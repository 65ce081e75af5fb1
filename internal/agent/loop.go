package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/adamj-ops/square-brain-sub000/internal/observability"
	"github.com/adamj-ops/square-brain-sub000/internal/tools"
	"github.com/adamj-ops/square-brain-sub000/pkg/models"
)

// Phase identifies the orchestrator's position in the state machine.
type Phase string

const (
	PhaseAwaitingModel Phase = "awaiting_model"
	PhaseStreaming     Phase = "streaming"
	PhaseToolExec      Phase = "tool_exec"
	PhaseFinalizing    Phase = "finalizing"
	PhaseClosed        Phase = "closed"
)

const eventBufferSize = 32

// BudgetExhaustedNote is appended to the final content when a circuit
// breaker tripped. Exhaustion is a note, not an error.
const BudgetExhaustedNote = "Note: the tool budget for this request was exhausted; the answer may be incomplete."

// Config configures the agent loop.
type Config struct {
	// AgentName is reported in the final payload.
	AgentName string

	// Model and System are passed through to the model backend.
	Model  string
	System string

	// MaxTokens is the per-completion token cap.
	MaxTokens int

	// MaxIterations bounds total model calls per request.
	// Default: 10.
	MaxIterations int

	// MaxToolCalls bounds total tool calls per request, independently of
	// MaxIterations. Default: 20.
	MaxToolCalls int

	// Logger receives loop diagnostics.
	Logger *slog.Logger

	// Metrics records loop activity when set.
	Metrics *observability.Metrics
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() *Config {
	return &Config{
		AgentName:     "square-brain",
		MaxTokens:     4096,
		MaxIterations: 10,
		MaxToolCalls:  20,
		Logger:        slog.Default(),
	}
}

func sanitizeConfig(config *Config) *Config {
	if config == nil {
		return DefaultConfig()
	}
	cfg := *config
	defaults := DefaultConfig()
	if cfg.AgentName == "" {
		cfg.AgentName = defaults.AgentName
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = defaults.MaxToolCalls
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}
	return &cfg
}

// Orchestrator drives the agent loop for one request at a time.
//
// The loop operates as a state machine:
//
//	AWAITING_MODEL -> STREAMING -> (TOOL_EXEC <-> AWAITING_MODEL) -> FINALIZING -> CLOSED
//
// CLOSED is terminal and also reachable directly from any state on client
// abort, in which case no final event is emitted.
type Orchestrator struct {
	provider Provider
	executor *tools.Executor
	config   *Config
}

// NewOrchestrator creates an orchestrator with the given provider, tool
// executor, and configuration. If config is nil, DefaultConfig is used.
func NewOrchestrator(provider Provider, executor *tools.Executor, config *Config) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		executor: executor,
		config:   sanitizeConfig(config),
	}
}

// toolCallRef accumulates streamed fragments for one tool call index.
type toolCallRef struct {
	id   string
	name string
	args strings.Builder
}

func (r *toolCallRef) toCall() models.ToolCall {
	args := r.args.String()
	if args == "" {
		args = "{}"
	}
	return models.ToolCall{ID: r.id, Name: r.name, Args: json.RawMessage(args)}
}

// loopState tracks one request through the state machine. The message list
// is append-only and owned exclusively by this state for the request.
type loopState struct {
	phase           Phase
	iteration       int
	totalToolCalls  int
	messages        []models.Message
	transcript      strings.Builder
	iterationText   strings.Builder
	toolsUsed       map[string]bool
	budgetExhausted bool
	finalized       bool
}

// Run executes the agent loop and streams events through the returned
// channel. The channel is closed exactly once: after the final event on
// normal or erroring completion, or immediately on client abort.
func (o *Orchestrator) Run(ctx context.Context, messages []models.Message, tc models.ToolContext) (<-chan *StreamEvent, error) {
	if o.provider == nil {
		return nil, ErrNoProvider
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	events := make(chan *StreamEvent, eventBufferSize)
	st := &loopState{
		phase:     PhaseAwaitingModel,
		messages:  append([]models.Message(nil), messages...),
		toolsUsed: make(map[string]bool),
	}

	go func() {
		defer close(events)
		o.run(ctx, st, tc, events)
		st.phase = PhaseClosed
	}()

	return events, nil
}

func (o *Orchestrator) run(ctx context.Context, st *loopState, tc models.ToolContext, events chan<- *StreamEvent) {
	for st.iteration < o.config.MaxIterations {
		if ctx.Err() != nil {
			o.abort(st)
			return
		}

		st.phase = PhaseAwaitingModel
		if o.config.Metrics != nil {
			o.config.Metrics.ModelIterations.Inc()
		}

		refs, finish, err := o.streamPhase(ctx, st, events)
		st.iteration++
		if err != nil {
			if ctx.Err() != nil {
				o.abort(st)
				return
			}
			o.finalizeError(ctx, st, events, err)
			return
		}

		calls := finalizeRefs(refs)
		if finish == FinishStop || len(calls) == 0 {
			// An invalid fragment batch (missing id or name) is treated
			// as no tool calls at all.
			o.appendAssistantMessage(st, nil)
			o.finalizeSuccess(ctx, st, events)
			return
		}

		st.phase = PhaseToolExec
		o.appendAssistantMessage(st, calls)
		if !o.execToolsPhase(ctx, st, tc, calls, events) {
			o.abort(st)
			return
		}
	}

	// Iteration cap reached: surfaced as a note, not an error.
	st.budgetExhausted = true
	o.finalizeSuccess(ctx, st, events)
}

// emit delivers an event unless the client is gone. A false return means
// the request context is done and the caller must treat it as an abort.
func (o *Orchestrator) emit(ctx context.Context, events chan<- *StreamEvent, ev *StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// drainChunks consumes the rest of a completion stream so the provider
// goroutine can reach its channel close after an early exit here.
func drainChunks(chunks <-chan *CompletionChunk) {
	for range chunks {
	}
}

// streamPhase issues one model call and consumes its chunk stream, emitting
// delta events and buffering tool-call fragments by index.
func (o *Orchestrator) streamPhase(ctx context.Context, st *loopState, events chan<- *StreamEvent) (map[int]*toolCallRef, FinishReason, error) {
	req := &CompletionRequest{
		Model:     o.config.Model,
		System:    o.config.System,
		Messages:  st.messages,
		Tools:     o.executor.Registry().Definitions(),
		MaxTokens: o.config.MaxTokens,
	}

	chunks, err := o.provider.Complete(ctx, req)
	if err != nil {
		return nil, "", err
	}

	st.phase = PhaseStreaming
	st.iterationText.Reset()
	refs := make(map[int]*toolCallRef)
	var finish FinishReason

	for chunk := range chunks {
		if ctx.Err() != nil {
			drainChunks(chunks)
			return nil, "", ctx.Err()
		}
		if chunk.Err != nil {
			drainChunks(chunks)
			return nil, "", chunk.Err
		}

		// A chunk may carry both a content fragment and a tool-call
		// fragment; each is processed on its own.
		if chunk.Text != "" {
			st.iterationText.WriteString(chunk.Text)
			st.transcript.WriteString(chunk.Text)
			if !o.emit(ctx, events, &StreamEvent{Type: EventDelta, Content: chunk.Text}) {
				drainChunks(chunks)
				return nil, "", ctx.Err()
			}
		}
		if f := chunk.Fragment; f != nil {
			ref := refs[f.Index]
			if ref == nil {
				ref = &toolCallRef{}
				refs[f.Index] = ref
			}
			ref.id += f.ID
			ref.name += f.Name
			ref.args.WriteString(f.Args)
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	if finish == "" {
		return nil, "", fmt.Errorf("model stream ended without a finish reason")
	}
	return refs, finish, nil
}

// finalizeRefs orders buffered refs by index and discards invalid ones.
// A ref missing its id or name must never reach the model-facing history.
func finalizeRefs(refs map[int]*toolCallRef) []models.ToolCall {
	indexes := make([]int, 0, len(refs))
	for idx := range refs {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]models.ToolCall, 0, len(refs))
	for _, idx := range indexes {
		call := refs[idx].toCall()
		if !call.Valid() {
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

// execToolsPhase runs the batch strictly in sequence: the model protocol
// requires call->result ordering in the message list. Returns false on
// client abort.
func (o *Orchestrator) execToolsPhase(ctx context.Context, st *loopState, tc models.ToolContext, calls []models.ToolCall, events chan<- *StreamEvent) bool {
	for _, call := range calls {
		if ctx.Err() != nil {
			return false
		}

		st.totalToolCalls++
		if st.totalToolCalls > o.config.MaxToolCalls {
			// The model protocol requires one result per issued call, so
			// skipped calls still get a synthetic rejection result.
			st.budgetExhausted = true
			o.appendToolMessage(st, call.ID, map[string]any{
				"error": "tool call budget exhausted; answer with the information you already have",
			})
			continue
		}

		st.toolsUsed[call.Name] = true
		if !o.emit(ctx, events, &StreamEvent{Type: EventToolStart, Tool: call.Name}) {
			return false
		}

		result := o.executor.Execute(ctx, call.Name, call.Args, tc)
		if result.OK() {
			if !o.emit(ctx, events, &StreamEvent{
				Type:           EventToolResult,
				Tool:           call.Name,
				Data:           result.Response.Data,
				Explainability: result.Response.Explainability,
			}) {
				return false
			}
			o.appendToolMessage(st, call.ID, map[string]any{
				"data":           result.Response.Data,
				"explainability": result.Response.Explainability,
			})
		} else {
			// Tool failures are surfaced to the model as structured
			// results so it can self-correct with different arguments.
			if !o.emit(ctx, events, &StreamEvent{
				Type:    EventToolResult,
				Tool:    call.Name,
				Data:    map[string]any{"code": string(result.Err.Code), "message": result.Err.Message},
				IsError: true,
			}) {
				return false
			}
			o.appendToolMessage(st, call.ID, map[string]any{
				"error": map[string]any{
					"code":    string(result.Err.Code),
					"message": result.Err.Message,
				},
				"hint": "the tool call failed, try differently",
			})
		}
	}
	return true
}

func (o *Orchestrator) appendAssistantMessage(st *loopState, calls []models.ToolCall) {
	st.messages = append(st.messages, models.Message{
		Role:      models.RoleAssistant,
		Content:   st.iterationText.String(),
		ToolCalls: calls,
	})
}

func (o *Orchestrator) appendToolMessage(st *loopState, callID string, payload map[string]any) {
	content, err := json.Marshal(payload)
	if err != nil {
		content = []byte(`{"error":"failed to encode tool result"}`)
	}
	st.messages = append(st.messages, models.Message{
		Role:       models.RoleTool,
		ToolCallID: callID,
		Content:    string(content),
	})
}

func (o *Orchestrator) abort(st *loopState) {
	// The client is gone; emitting a final would write to a closed
	// destination. Transition straight to CLOSED.
	o.config.Logger.Debug("request aborted", "phase", st.phase, "iteration", st.iteration)
	o.countOutcome("aborted")
}

func (o *Orchestrator) countOutcome(outcome string) {
	if o.config.Metrics != nil {
		o.config.Metrics.StreamRequests.WithLabelValues(outcome).Inc()
	}
}
