// Package store persists posts. Two implementations share the Store
// contract: Postgres for deployments and Memory for tests and local runs.
package store

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts"
)

// Filter narrows FindMany. A zero Filter matches every post.
type Filter struct {
	AuthorID string
}

// Store is the post record store. FindMany returns posts newest first,
// breaking createdAt ties by id descending so the order is stable.
type Store interface {
	Create(ctx context.Context, authorID, content string, createdAt time.Time) (*posts.Post, error)
	FindMany(ctx context.Context, filter Filter, limit int) ([]posts.Post, error)
	// FindByID returns an error wrapping apperrors.ErrNotFound when no post
	// has the given id.
	FindByID(ctx context.Context, id string) (*posts.Post, error)
}
