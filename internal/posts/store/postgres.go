package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts"
	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/postgres"
	"github.com/google/uuid"
)

// Postgres stores posts in the posts table (see migrations/001_posts.sql).
type Postgres struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewPostgres creates a Postgres store on an open client.
func NewPostgres(db *postgres.Client) *Postgres {
	return &Postgres{
		db:     db,
		logger: slog.Default().With("component", "post-store"),
	}
}

func (s *Postgres) Create(ctx context.Context, authorID, content string, createdAt time.Time) (*posts.Post, error) {
	p := posts.Post{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: createdAt.UTC(),
	}
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO posts (id, author_id, content, created_at) VALUES ($1, $2, $3, $4)`,
			p.ID, p.AuthorID, p.Content, p.CreatedAt,
		)
		return err
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, err, "inserting post for %s", authorID)
	}
	s.logger.Debug("post inserted", "post_id", p.ID, "author_id", authorID)
	return &p, nil
}

func (s *Postgres) FindMany(ctx context.Context, filter Filter, limit int) ([]posts.Post, error) {
	query, args := findManyQuery(filter, limit)
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, err, "querying posts")
	}
	defer rows.Close()

	result := make([]posts.Post, 0, limit)
	for rows.Next() {
		var p posts.Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Content, &p.CreatedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, err, "scanning post row")
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, err, "iterating post rows")
	}
	return result, nil
}

func (s *Postgres) FindByID(ctx context.Context, id string) (*posts.Post, error) {
	var p posts.Post
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, author_id, content, created_at FROM posts WHERE id = $1`, id,
	).Scan(&p.ID, &p.AuthorID, &p.Content, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, 0, "post %s", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStoreUnavailable, err, "loading post %s", id)
	}
	return &p, nil
}

func findManyQuery(filter Filter, limit int) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.AuthorID != "" {
		args = append(args, filter.AuthorID)
		where = append(where, fmt.Sprintf("author_id = $%d", len(args)))
	}
	query := `SELECT id, author_id, content, created_at FROM posts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	return query, args
}
