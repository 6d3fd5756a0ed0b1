// Package warmer pre-computes author image digests when a post is created,
// so the first feed read after a new author posts finds the digest cached.
package warmer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/chirp/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/profile"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/kafka"
)

// DigestSource returns (and caches) the digest for an image URL.
type DigestSource interface {
	DigestFor(ctx context.Context, url string) (digest.ImageDigest, error)
}

// Warmer reacts to post.created events.
type Warmer struct {
	directory profile.Directory
	digests   DigestSource
	logger    *slog.Logger
}

// New creates a Warmer.
func New(directory profile.Directory, digests DigestSource) *Warmer {
	return &Warmer{
		directory: directory,
		digests:   digests,
		logger:    slog.Default().With("component", "digest-warmer"),
	}
}

// HandleMessage is a kafka.MessageHandler. Undecodable messages are logged
// and skipped; lookup failures return an error so the consumer retries them.
func (w *Warmer) HandleMessage() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[posts.CreatedEvent](value)
		if err != nil {
			w.logger.Error("failed to decode post event", "error", err, "key", string(key))
			return nil
		}
		if event.AuthorID == "" {
			w.logger.Warn("post event without author", "post_id", event.PostID)
			return nil
		}
		return w.Warm(ctx, event.AuthorID)
	}
}

// Warm resolves authorID and makes sure its image digest is cached.
func (w *Warmer) Warm(ctx context.Context, authorID string) error {
	profiles, err := w.directory.ResolveBatch(ctx, []string{authorID})
	if err != nil {
		return fmt.Errorf("resolving author %s: %w", authorID, err)
	}
	p, ok := profiles[authorID]
	if !ok {
		w.logger.Warn("author unknown to directory, skipping", "author_id", authorID)
		return nil
	}
	if p.ImageURL == "" {
		return nil
	}
	if _, err := w.digests.DigestFor(ctx, p.ImageURL); err != nil {
		return fmt.Errorf("warming digest for %s: %w", authorID, err)
	}
	w.logger.Debug("digest warmed", "author_id", authorID, "url", p.ImageURL)
	return nil
}
