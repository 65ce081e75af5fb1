// Package storage persists knowledge items for the brain.* tools.
package storage

import (
	"context"
	"errors"

	"github.com/adamj-ops/square-brain-sub000/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// SearchOptions filters item searches.
type SearchOptions struct {
	Query string
	Tags  []string
	Limit int
}

// ItemStore persists knowledge items. Implementations must be safe for
// concurrent use: each request runs independently against the same store.
type ItemStore interface {
	Create(ctx context.Context, item *models.Item) error
	Get(ctx context.Context, orgID, id string) (*models.Item, error)
	Update(ctx context.Context, item *models.Item) error
	Search(ctx context.Context, orgID string, opts SearchOptions) ([]*models.Item, error)
	SetScore(ctx context.Context, orgID, id string, score float64) error
}
