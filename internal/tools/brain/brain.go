// Package brain provides the built-in knowledge-store tools exposed to the
// model: search, retrieval, creation, update, scoring, and note ingestion.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/adamj-ops/square-brain-sub000/internal/storage"
	"github.com/adamj-ops/square-brain-sub000/internal/tools"
	"github.com/adamj-ops/square-brain-sub000/pkg/models"
)

// Definitions returns all brain.* tool definitions backed by the store.
func Definitions(store storage.ItemStore) ([]*tools.Definition, error) {
	t := &toolset{store: store}

	entries := []struct {
		name        string
		description string
		writes      bool
		schema      string
		run         tools.RunFunc
	}{
		{
			name:        "brain.search_items",
			description: "Search knowledge items by text query and optional tags.",
			writes:      false,
			schema: `{
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"tags": {"type": "array", "items": {"type": "string"}},
					"limit": {"type": "integer", "minimum": 1, "maximum": 50}
				}
			}`,
			run: t.searchItems,
		},
		{
			name:        "brain.get_item",
			description: "Fetch a single knowledge item by id.",
			writes:      false,
			schema: `{
				"type": "object",
				"properties": {"id": {"type": "string", "minLength": 1}},
				"required": ["id"]
			}`,
			run: t.getItem,
		},
		{
			name:        "brain.create_item",
			description: "Create a new knowledge item with title, body, and tags.",
			writes:      true,
			schema: `{
				"type": "object",
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"body": {"type": "string"},
					"tags": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["title"]
			}`,
			run: t.createItem,
		},
		{
			name:        "brain.update_item",
			description: "Update an existing knowledge item's title, body, or tags.",
			writes:      true,
			schema: `{
				"type": "object",
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"title": {"type": "string"},
					"body": {"type": "string"},
					"tags": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["id"]
			}`,
			run: t.updateItem,
		},
		{
			name:        "brain.score_item",
			description: "Assign a relevance score between 0 and 1 to an item.",
			writes:      true,
			schema: `{
				"type": "object",
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"score": {"type": "number", "minimum": 0, "maximum": 1}
				},
				"required": ["id", "score"]
			}`,
			run: t.scoreItem,
		},
		{
			name:        "brain.ingest_note",
			description: "Ingest a free-form note as a new knowledge item, deriving a title from its first line.",
			writes:      true,
			schema: `{
				"type": "object",
				"properties": {
					"text": {"type": "string", "minLength": 1},
					"tags": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["text"]
			}`,
			run: t.ingestNote,
		},
	}

	defs := make([]*tools.Definition, 0, len(entries))
	for _, entry := range entries {
		def, err := tools.NewDefinition(entry.name, entry.description, entry.writes,
			json.RawMessage(entry.schema), entry.run)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

type toolset struct {
	store storage.ItemStore
}

func (t *toolset) searchItems(ctx context.Context, args json.RawMessage, tc models.ToolContext) (*tools.Response, error) {
	var input struct {
		Query string   `json:"query"`
		Tags  []string `json:"tags"`
		Limit int      `json:"limit"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}
	if input.Limit <= 0 {
		input.Limit = 10
	}

	items, err := t.store.Search(ctx, tc.OrgID, storage.SearchOptions{
		Query: input.Query,
		Tags:  input.Tags,
		Limit: input.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return &tools.Response{
		Data: itemsToData(items),
		Explainability: map[string]any{
			"strategy": "substring match over title and body, ranked by score",
			"query":    input.Query,
			"matches":  len(items),
		},
	}, nil
}

func (t *toolset) getItem(ctx context.Context, args json.RawMessage, tc models.ToolContext) (*tools.Response, error) {
	var input struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}
	item, err := t.store.Get(ctx, tc.OrgID, input.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch item %s: %w", input.ID, err)
	}
	return &tools.Response{Data: itemToData(item)}, nil
}

func (t *toolset) createItem(ctx context.Context, args json.RawMessage, tc models.ToolContext) (*tools.Response, error) {
	var input struct {
		Title string   `json:"title"`
		Body  string   `json:"body"`
		Tags  []string `json:"tags"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}
	item := &models.Item{
		OrgID: tc.OrgID,
		Title: input.Title,
		Body:  input.Body,
		Tags:  input.Tags,
	}
	if err := t.store.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return &tools.Response{
		Data:           itemToData(item),
		Explainability: map[string]any{"action": "created", "item_id": item.ID},
	}, nil
}

func (t *toolset) updateItem(ctx context.Context, args json.RawMessage, tc models.ToolContext) (*tools.Response, error) {
	var input struct {
		ID    string    `json:"id"`
		Title *string   `json:"title"`
		Body  *string   `json:"body"`
		Tags  *[]string `json:"tags"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}
	item, err := t.store.Get(ctx, tc.OrgID, input.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch item %s: %w", input.ID, err)
	}
	if input.Title != nil {
		item.Title = *input.Title
	}
	if input.Body != nil {
		item.Body = *input.Body
	}
	if input.Tags != nil {
		item.Tags = *input.Tags
	}
	if err := t.store.Update(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to update item %s: %w", input.ID, err)
	}
	return &tools.Response{
		Data:           itemToData(item),
		Explainability: map[string]any{"action": "updated", "item_id": item.ID},
	}, nil
}

func (t *toolset) scoreItem(ctx context.Context, args json.RawMessage, tc models.ToolContext) (*tools.Response, error) {
	var input struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}
	if err := t.store.SetScore(ctx, tc.OrgID, input.ID, input.Score); err != nil {
		return nil, fmt.Errorf("failed to score item %s: %w", input.ID, err)
	}
	return &tools.Response{
		Data: map[string]any{"id": input.ID, "score": input.Score},
		Explainability: map[string]any{
			"action": "scored", "item_id": input.ID, "score": input.Score,
		},
	}, nil
}

func (t *toolset) ingestNote(ctx context.Context, args json.RawMessage, tc models.ToolContext) (*tools.Response, error) {
	var input struct {
		Text string   `json:"text"`
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}

	title, body := splitNote(input.Text)
	item := &models.Item{
		OrgID: tc.OrgID,
		Title: title,
		Body:  body,
		Tags:  input.Tags,
	}
	if err := t.store.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to ingest note: %w", err)
	}
	return &tools.Response{
		Data: itemToData(item),
		Explainability: map[string]any{
			"action":        "ingested",
			"item_id":       item.ID,
			"derived_title": title,
		},
	}, nil
}

// splitNote derives a title from the first line and keeps the remainder
// as the body. Long first lines are clipped at a word boundary.
func splitNote(text string) (title, body string) {
	text = strings.TrimSpace(text)
	line, rest, found := strings.Cut(text, "\n")
	line = strings.TrimSpace(line)
	if len(line) > 80 {
		cut := 80
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		clipped := line[:cut]
		if idx := strings.LastIndex(clipped, " "); idx > 0 {
			clipped = clipped[:idx]
		}
		return clipped, text
	}
	if !found {
		return line, ""
	}
	return line, strings.TrimSpace(rest)
}

func itemToData(item *models.Item) map[string]any {
	tags := make([]any, 0, len(item.Tags))
	for _, t := range item.Tags {
		tags = append(tags, t)
	}
	return map[string]any{
		"id":         item.ID,
		"title":      item.Title,
		"body":       item.Body,
		"tags":       tags,
		"score":      item.Score,
		"updated_at": item.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func itemsToData(items []*models.Item) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, itemToData(item))
	}
	return out
}
