package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adamj-ops/square-brain-sub000/pkg/models"
)

// MemoryItemStore provides an in-memory ItemStore for tests and development.
type MemoryItemStore struct {
	mu    sync.RWMutex
	items map[string]*models.Item
}

// NewMemoryItemStore creates an in-memory item store.
func NewMemoryItemStore() *MemoryItemStore {
	return &MemoryItemStore{items: make(map[string]*models.Item)}
}

func (s *MemoryItemStore) Create(ctx context.Context, item *models.Item) error {
	if item == nil || item.Title == "" {
		return fmt.Errorf("item title is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	} else if _, exists := s.items[item.ID]; exists {
		return ErrAlreadyExists
	}
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *MemoryItemStore) Get(ctx context.Context, orgID, id string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok || item.OrgID != orgID {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *MemoryItemStore) Update(ctx context.Context, item *models.Item) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[item.ID]
	if !ok || existing.OrgID != item.OrgID {
		return ErrNotFound
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now()
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *MemoryItemStore) Search(ctx context.Context, orgID string, opts SearchOptions) ([]*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(opts.Query))
	matched := make([]*models.Item, 0)
	for _, item := range s.items {
		if item.OrgID != orgID {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(item.Title), query) &&
			!strings.Contains(strings.ToLower(item.Body), query) {
			continue
		}
		if !hasAllTags(item.Tags, opts.Tags) {
			continue
		}
		cp := *item
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Score != matched[j].Score {
			return matched[i].Score > matched[j].Score
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func (s *MemoryItemStore) SetScore(ctx context.Context, orgID, id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.OrgID != orgID {
		return ErrNotFound
	}
	item.Score = score
	item.UpdatedAt = time.Now()
	return nil
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[strings.ToLower(t)] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[strings.ToLower(t)]; !ok {
			return false
		}
	}
	return true
}
