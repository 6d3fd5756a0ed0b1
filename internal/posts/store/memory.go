package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts"
	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
	"github.com/google/uuid"
)

// Memory is a process-local Store. It is safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	posts map[string]posts.Post
	newID func() string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		posts: make(map[string]posts.Post),
		newID: uuid.NewString,
	}
}

func (m *Memory) Create(ctx context.Context, authorID, content string, createdAt time.Time) (*posts.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, err, "inserting post for %s", authorID)
	}
	p := posts.Post{
		ID:        m.newID(),
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: createdAt.UTC(),
	}
	m.mu.Lock()
	m.posts[p.ID] = p
	m.mu.Unlock()
	return &p, nil
}

// Insert stores p as-is. Tests use it to seed posts with chosen ids and
// timestamps.
func (m *Memory) Insert(p posts.Post) {
	m.mu.Lock()
	m.posts[p.ID] = p
	m.mu.Unlock()
}

func (m *Memory) FindMany(ctx context.Context, filter Filter, limit int) ([]posts.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, err, "querying posts")
	}
	m.mu.RLock()
	result := make([]posts.Post, 0, len(m.posts))
	for _, p := range m.posts {
		if filter.AuthorID != "" && p.AuthorID != filter.AuthorID {
			continue
		}
		result = append(result, p)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if limit >= 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) FindByID(ctx context.Context, id string) (*posts.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, err, "loading post %s", id)
	}
	m.mu.RLock()
	p, ok := m.posts[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, 0, "post %s", id)
	}
	return &p, nil
}
