package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/adamj-ops/square-brain-sub000/internal/audit"
	"github.com/adamj-ops/square-brain-sub000/internal/tools"
	"github.com/adamj-ops/square-brain-sub000/pkg/models"
)

// scriptedProvider replays a fixed sequence of completion turns. Each call
// to Complete consumes the next turn.
type scriptedProvider struct {
	turns [][]*CompletionChunk
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if p.calls >= len(p.turns) {
		return nil, errors.New("no scripted turns left")
	}
	turn := p.turns[p.calls]
	p.calls++

	ch := make(chan *CompletionChunk, len(turn))
	for _, chunk := range turn {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func textTurn(parts ...string) []*CompletionChunk {
	chunks := make([]*CompletionChunk, 0, len(parts)+1)
	for _, p := range parts {
		chunks = append(chunks, &CompletionChunk{Text: p})
	}
	return append(chunks, &CompletionChunk{FinishReason: FinishStop})
}

func toolTurn(fragments ...*ToolCallFragment) []*CompletionChunk {
	chunks := make([]*CompletionChunk, 0, len(fragments)+1)
	for _, f := range fragments {
		chunks = append(chunks, &CompletionChunk{Fragment: f})
	}
	return append(chunks, &CompletionChunk{FinishReason: FinishToolCalls})
}

func newTestOrchestrator(t *testing.T, provider Provider, config *Config, defs ...*tools.Definition) *Orchestrator {
	t.Helper()
	registry, err := tools.BuildRegistry(defs)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	executor := tools.NewExecutor(registry, audit.NewMemorySink(), tools.DefaultExecutorConfig(), nil, nil)
	return NewOrchestrator(provider, executor, config)
}

func echoDef(t *testing.T, name string, counter *int) *tools.Definition {
	t.Helper()
	def, err := tools.NewDefinition(name, "echoes its arguments", false, nil,
		func(ctx context.Context, args json.RawMessage, tc models.ToolContext) (*tools.Response, error) {
			if counter != nil {
				*counter++
			}
			var decoded map[string]any
			if err := json.Unmarshal(args, &decoded); err != nil {
				return nil, err
			}
			return &tools.Response{
				Data:           decoded,
				Explainability: map[string]any{"action": "echoed"},
			}, nil
		})
	if err != nil {
		t.Fatalf("failed to build tool %s: %v", name, err)
	}
	return def
}

func collect(t *testing.T, events <-chan *StreamEvent) []*StreamEvent {
	t.Helper()
	var out []*StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("event channel not closed; got %d events so far", len(out))
		}
	}
}

func userMessages(content string) []models.Message {
	return []models.Message{{Role: models.RoleUser, Content: content}}
}

func requireSingleFinal(t *testing.T, events []*StreamEvent) *FinalPayload {
	t.Helper()
	finals := 0
	var payload *FinalPayload
	for i, ev := range events {
		if ev.Type == EventFinal {
			finals++
			payload = ev.Payload
			if i != len(events)-1 {
				t.Errorf("final event at position %d of %d, expected last", i, len(events))
			}
		}
	}
	if finals != 1 {
		t.Fatalf("expected exactly one final event, got %d", finals)
	}
	if payload == nil {
		t.Fatal("final event carries no payload")
	}
	return payload
}

func TestRunPlainAnswer(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		textTurn("Hello", ", ", "world."),
	}}
	o := newTestOrchestrator(t, provider, nil, echoDef(t, "echo", nil))

	events, err := o.Run(context.Background(), userMessages("hi"), models.ToolContext{OrgID: "org-1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collect(t, events)

	deltas := 0
	var text strings.Builder
	for _, ev := range got {
		if ev.Type == EventDelta {
			deltas++
			text.WriteString(ev.Content)
		}
	}
	if deltas != 3 {
		t.Errorf("expected 3 delta events, got %d", deltas)
	}
	payload := requireSingleFinal(t, got)
	if text.String() != "Hello, world." || payload.Content != "Hello, world." {
		t.Errorf("content mismatch: deltas=%q final=%q", text.String(), payload.Content)
	}
	if len(payload.NextActions) == 0 {
		t.Error("expected next action suggestions")
	}
}

func TestRunToolRoundTrip(t *testing.T) {
	runs := 0
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		toolTurn(
			// Fragments split mid-stream accumulate by index.
			&ToolCallFragment{Index: 0, ID: "call_1", Name: "echo"},
			&ToolCallFragment{Index: 0, Args: `{"query":`},
			&ToolCallFragment{Index: 0, Args: `"golang"}`},
		),
		textTurn("Found it."),
	}}
	o := newTestOrchestrator(t, provider, nil, echoDef(t, "echo", &runs))

	events, err := o.Run(context.Background(), userMessages("search golang"), models.ToolContext{OrgID: "org-1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collect(t, events)

	if runs != 1 {
		t.Errorf("expected 1 tool run, got %d", runs)
	}

	var types []EventType
	for _, ev := range got {
		types = append(types, ev.Type)
	}
	want := []EventType{EventToolStart, EventToolResult, EventDelta, EventFinal}
	if len(types) != len(want) {
		t.Fatalf("expected sequence %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected sequence %v, got %v", want, types)
		}
	}

	start, result := got[0], got[1]
	if start.Tool != "echo" || start.Data != nil || start.Content != "" {
		t.Errorf("tool_start must carry only the name: %+v", start)
	}
	data, ok := result.Data.(map[string]any)
	if !ok || data["query"] != "golang" {
		t.Errorf("tool_result data mismatch: %+v", result.Data)
	}
	if result.IsError {
		t.Error("successful result marked as error")
	}
	requireSingleFinal(t, got)
	if provider.calls != 2 {
		t.Errorf("expected 2 model calls, got %d", provider.calls)
	}
}

func TestRunPairsEveryToolStartWithResult(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		toolTurn(
			&ToolCallFragment{Index: 0, ID: "call_1", Name: "echo", Args: `{}`},
			&ToolCallFragment{Index: 1, ID: "call_2", Name: "missing", Args: `{}`},
			&ToolCallFragment{Index: 2, ID: "call_3", Name: "echo", Args: `{}`},
		),
		textTurn("done"),
	}}
	o := newTestOrchestrator(t, provider, nil, echoDef(t, "echo", nil))

	events, err := o.Run(context.Background(), userMessages("go"), models.ToolContext{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collect(t, events)

	open := 0
	for _, ev := range got {
		switch ev.Type {
		case EventToolStart:
			open++
		case EventToolResult:
			open--
			if open < 0 {
				t.Fatal("tool_result without preceding tool_start")
			}
		}
	}
	if open != 0 {
		t.Fatalf("%d tool_start events left unpaired", open)
	}

	// The unknown tool still produced a paired error result.
	var sawError bool
	for _, ev := range got {
		if ev.Type == EventToolResult && ev.Tool == "missing" {
			sawError = ev.IsError
			data := ev.Data.(map[string]any)
			if data["code"] != string(tools.CodeToolNotFound) {
				t.Errorf("expected %s, got %v", tools.CodeToolNotFound, data["code"])
			}
		}
	}
	if !sawError {
		t.Error("missing tool did not produce an error result")
	}
	requireSingleFinal(t, got)
}

func TestRunDiscardsInvalidFragments(t *testing.T) {
	runs := 0
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{
			{Text: "thinking"},
			// No id: the accumulated call is invalid and must be dropped.
			{Fragment: &ToolCallFragment{Index: 0, Name: "echo", Args: `{}`}},
			{FinishReason: FinishToolCalls},
		},
	}}
	o := newTestOrchestrator(t, provider, nil, echoDef(t, "echo", &runs))

	events, err := o.Run(context.Background(), userMessages("go"), models.ToolContext{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collect(t, events)

	if runs != 0 {
		t.Errorf("invalid call executed %d times", runs)
	}
	for _, ev := range got {
		if ev.Type == EventToolStart || ev.Type == EventToolResult {
			t.Errorf("unexpected tool event %s for discarded call", ev.Type)
		}
	}
	requireSingleFinal(t, got)
	if provider.calls != 1 {
		t.Errorf("expected a single model call, got %d", provider.calls)
	}
}

func TestRunToolCallBudget(t *testing.T) {
	runs := 0
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		toolTurn(
			&ToolCallFragment{Index: 0, ID: "call_1", Name: "echo", Args: `{}`},
			&ToolCallFragment{Index: 1, ID: "call_2", Name: "echo", Args: `{}`},
			&ToolCallFragment{Index: 2, ID: "call_3", Name: "echo", Args: `{}`},
		),
		textTurn("partial answer"),
	}}
	o := newTestOrchestrator(t, provider, &Config{MaxToolCalls: 1}, echoDef(t, "echo", &runs))

	events, err := o.Run(context.Background(), userMessages("go"), models.ToolContext{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collect(t, events)

	if runs != 1 {
		t.Errorf("budget of 1 allowed %d runs", runs)
	}

	// Skipped calls emit no stream events.
	starts := 0
	for _, ev := range got {
		if ev.Type == EventToolStart {
			starts++
		}
	}
	if starts != 1 {
		t.Errorf("expected 1 tool_start, got %d", starts)
	}

	payload := requireSingleFinal(t, got)
	if !strings.Contains(payload.Content, BudgetExhaustedNote) {
		t.Errorf("final content missing exhaustion note: %q", payload.Content)
	}
}

func TestRunIterationBudget(t *testing.T) {
	call := toolTurn(&ToolCallFragment{Index: 0, ID: "call_1", Name: "echo", Args: `{}`})
	provider := &scriptedProvider{turns: [][]*CompletionChunk{call, call, call, call}}
	o := newTestOrchestrator(t, provider, &Config{MaxIterations: 2}, echoDef(t, "echo", nil))

	events, err := o.Run(context.Background(), userMessages("go"), models.ToolContext{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collect(t, events)

	if provider.calls != 2 {
		t.Errorf("iteration cap of 2 allowed %d model calls", provider.calls)
	}
	payload := requireSingleFinal(t, got)
	if !strings.Contains(payload.Content, BudgetExhaustedNote) {
		t.Errorf("final content missing exhaustion note: %q", payload.Content)
	}
}

func TestRunBackendErrorPreservesPartialContent(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{
			{Text: "partial "},
			{Text: "answer"},
			{Err: errors.New("backend unavailable")},
		},
	}}
	o := newTestOrchestrator(t, provider, nil, echoDef(t, "echo", nil))

	events, err := o.Run(context.Background(), userMessages("go"), models.ToolContext{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collect(t, events)

	payload := requireSingleFinal(t, got)
	if !strings.Contains(payload.Content, "partial answer") {
		t.Errorf("partial content discarded: %q", payload.Content)
	}
	if !strings.Contains(payload.Content, "[response interrupted]") {
		t.Errorf("missing interruption annotation: %q", payload.Content)
	}
	if len(payload.NextActions) == 0 {
		t.Error("error final must suggest retry actions")
	}
}

func TestRunBackendErrorWithoutContent(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{Err: errors.New("backend unavailable")}},
	}}
	o := newTestOrchestrator(t, provider, nil, echoDef(t, "echo", nil))

	events, err := o.Run(context.Background(), userMessages("go"), models.ToolContext{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collect(t, events)

	payload := requireSingleFinal(t, got)
	if payload.Content == "" || strings.Contains(payload.Content, "[response interrupted]") {
		t.Errorf("expected standalone apology, got %q", payload.Content)
	}
}

func TestRunMissingFinishReasonIsError(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{Text: "trailing off"}},
	}}
	o := newTestOrchestrator(t, provider, nil, echoDef(t, "echo", nil))

	events, err := o.Run(context.Background(), userMessages("go"), models.ToolContext{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collect(t, events)

	payload := requireSingleFinal(t, got)
	if !strings.Contains(payload.Content, "[response interrupted]") {
		t.Errorf("missing interruption annotation: %q", payload.Content)
	}
}

func TestRunAbortEmitsNoFinal(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		textTurn("never delivered"),
	}}
	o := newTestOrchestrator(t, provider, nil, echoDef(t, "echo", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events, err := o.Run(ctx, userMessages("go"), models.ToolContext{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := collect(t, events)

	for _, ev := range got {
		if ev.Type == EventFinal {
			t.Fatal("aborted request emitted a final event")
		}
	}
}

// blockingProvider mimics a raw network reader: unbuffered, unconditional
// sends, and a trailing error chunk once the context is cancelled. If the
// consumer abandons the channel mid-stream, the goroutine never exits.
type blockingProvider struct {
	done chan struct{}
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	chunks := make(chan *CompletionChunk)
	go func() {
		defer close(p.done)
		defer close(chunks)
		chunks <- &CompletionChunk{Text: "first"}
		// Data already in flight when the client disconnects.
		<-ctx.Done()
		chunks <- &CompletionChunk{Text: "late"}
		chunks <- &CompletionChunk{Err: ctx.Err()}
	}()
	return chunks, nil
}

func TestRunCancelMidStreamReleasesProvider(t *testing.T) {
	provider := &blockingProvider{done: make(chan struct{})}
	o := newTestOrchestrator(t, provider, nil, echoDef(t, "echo", nil))

	ctx, cancel := context.WithCancel(context.Background())
	events, err := o.Run(ctx, userMessages("go"), models.ToolContext{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != EventDelta {
			t.Fatalf("expected a delta first, got %s", ev.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
	cancel()

	got := collect(t, events)
	for _, ev := range got {
		if ev.Type == EventFinal {
			t.Error("cancelled request emitted a final event")
		}
	}

	select {
	case <-provider.done:
	case <-time.After(5 * time.Second):
		t.Fatal("provider goroutine still blocked after cancellation")
	}
}

func TestRunRejectsEmptyInput(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedProvider{}, nil, echoDef(t, "echo", nil))
	if _, err := o.Run(context.Background(), nil, models.ToolContext{}); err == nil {
		t.Error("expected error for empty message list")
	}

	bare := NewOrchestrator(nil, nil, nil)
	if _, err := bare.Run(context.Background(), userMessages("hi"), models.ToolContext{}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}
}
