package openai

import (
	"context"
	"encoding/json"
	"testing"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/adamj-ops/square-brain-sub000/internal/tools"
	"github.com/adamj-ops/square-brain-sub000/pkg/models"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing API key")
	}
	p, err := New(Config{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("unexpected provider name %q", p.Name())
	}
	if p.defaultModel != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, p.defaultModel)
	}
}

func TestConvertMessages(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "find my notes"},
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "brain.search_items", Args: json.RawMessage(`{"query":"notes"}`)},
			},
		},
		{Role: models.RoleTool, ToolCallID: "call_1", Content: `{"data":[]}`},
		{Role: models.RoleAssistant, Content: "Nothing found."},
	}

	got := convertMessages(msgs, "You are a knowledge assistant.")
	if len(got) != 5 {
		t.Fatalf("expected 5 messages including system, got %d", len(got))
	}
	if got[0].Role != gopenai.ChatMessageRoleSystem || got[0].Content == "" {
		t.Errorf("system prompt not prepended: %+v", got[0])
	}
	if got[1].Role != gopenai.ChatMessageRoleUser {
		t.Errorf("unexpected role %s", got[1].Role)
	}

	assistant := got[2]
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("tool calls lost: %+v", assistant)
	}
	call := assistant.ToolCalls[0]
	if call.ID != "call_1" || call.Function.Name != "brain.search_items" {
		t.Errorf("tool call mismatch: %+v", call)
	}
	if call.Function.Arguments != `{"query":"notes"}` {
		t.Errorf("arguments mismatch: %q", call.Function.Arguments)
	}

	toolMsg := got[3]
	if toolMsg.Role != gopenai.ChatMessageRoleTool || toolMsg.ToolCallID != "call_1" {
		t.Errorf("tool message mismatch: %+v", toolMsg)
	}
}

func TestConvertMessagesNoSystem(t *testing.T) {
	got := convertMessages([]models.Message{{Role: models.RoleUser, Content: "hi"}}, "")
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
}

func TestConvertTools(t *testing.T) {
	def, err := tools.NewDefinition("brain.get_item", "Fetch an item.", false,
		json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
		func(ctx context.Context, args json.RawMessage, tc models.ToolContext) (*tools.Response, error) {
			return &tools.Response{}, nil
		})
	if err != nil {
		t.Fatalf("failed to build definition: %v", err)
	}

	got := convertTools([]*tools.Definition{def})
	if len(got) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(got))
	}
	fn := got[0].Function
	if fn.Name != "brain.get_item" || fn.Description == "" {
		t.Errorf("tool metadata lost: %+v", fn)
	}
	params, ok := fn.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("schema not passed through: %+v", fn.Parameters)
	}
}
