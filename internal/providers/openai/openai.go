// Package openai adapts the OpenAI chat completions API to the agent's
// provider boundary. It streams content deltas and indexed tool-call
// fragments; accumulation happens in the orchestrator.
//
// Thread safety: Provider is safe for concurrent use across goroutines.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/adamj-ops/square-brain-sub000/internal/agent"
	"github.com/adamj-ops/square-brain-sub000/internal/tools"
	"github.com/adamj-ops/square-brain-sub000/pkg/models"
)

// DefaultModel is used when a request does not specify a model.
const DefaultModel = "gpt-4o-mini"

// Config holds provider configuration.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL overrides the API endpoint (optional).
	BaseURL string

	// DefaultModel is used when requests omit a model.
	DefaultModel string
}

// Provider implements agent.Provider over the OpenAI streaming API.
type Provider struct {
	client       *gopenai.Client
	defaultModel string
}

// New creates an OpenAI provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientConfig := gopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = DefaultModel
	}
	return &Provider{
		client:       gopenai.NewClientWithConfig(clientConfig),
		defaultModel: model,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "openai" }

// Complete issues a streaming chat completion and translates the response
// into completion chunks. The call is not retried here: a fault surfaces
// once and the orchestrator converts it into an error final.
func (p *Provider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := gopenai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	chunks := make(chan *agent.CompletionChunk)
	go processStream(ctx, stream, chunks)
	return chunks, nil
}

func processStream(ctx context.Context, stream *gopenai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			send(ctx, chunks, &agent.CompletionChunk{Err: ctx.Err()})
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Stream ended without a finish reason; the orchestrator
				// treats that as a backend fault.
				return
			}
			send(ctx, chunks, &agent.CompletionChunk{Err: err})
			return
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			if !send(ctx, chunks, &agent.CompletionChunk{Text: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if !send(ctx, chunks, &agent.CompletionChunk{Fragment: &agent.ToolCallFragment{
				Index: index,
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Args:  tc.Function.Arguments,
			}}) {
				return
			}
		}

		switch choice.FinishReason {
		case gopenai.FinishReasonStop:
			send(ctx, chunks, &agent.CompletionChunk{FinishReason: agent.FinishStop})
			return
		case gopenai.FinishReasonToolCalls:
			send(ctx, chunks, &agent.CompletionChunk{FinishReason: agent.FinishToolCalls})
			return
		}
	}
}

// send delivers a chunk unless the request is cancelled. The reader may
// abandon the channel on cancellation; blocking here would strand this
// goroutine and keep the response stream open past its Close.
func send(ctx context.Context, chunks chan<- *agent.CompletionChunk, chunk *agent.CompletionChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func convertMessages(messages []models.Message, system string) []gopenai.ChatCompletionMessage {
	result := make([]gopenai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, gopenai.ChatCompletionMessage{
			Role:    gopenai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			oaiMsg := gopenai.ChatCompletionMessage{
				Role:    gopenai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, gopenai.ToolCall{
					ID:   tc.ID,
					Type: gopenai.ToolTypeFunction,
					Function: gopenai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			result = append(result, oaiMsg)
		case models.RoleTool:
			result = append(result, gopenai.ChatCompletionMessage{
				Role:       gopenai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		default:
			result = append(result, gopenai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
	}
	return result
}

func convertTools(defs []*tools.Definition) []gopenai.Tool {
	result := make([]gopenai.Tool, len(defs))
	for i, def := range defs {
		var schemaMap map[string]any
		if err := json.Unmarshal(def.Schema(), &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = gopenai.Tool{
			Type: gopenai.ToolTypeFunction,
			Function: &gopenai.FunctionDefinition{
				Name:        def.Name(),
				Description: def.Description(),
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
