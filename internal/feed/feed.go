// Package feed joins stored posts with their authors' profiles and image
// placeholders. An author the directory cannot resolve is an integrity fault
// between the post store and the directory and fails the whole read.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/profile"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/tracing"
	"golang.org/x/sync/errgroup"
)

// Author is a resolved profile plus its image placeholder.
type Author struct {
	profile.Profile
	ImageDigest string `json:"imageDigest"`
}

// Item is one post as shown in a feed.
type Item struct {
	Post   posts.Post `json:"post"`
	Author Author     `json:"author"`
}

// DigestSource computes placeholders for a set of image URLs.
type DigestSource interface {
	DigestMany(ctx context.Context, urls []string) (map[string]digest.ImageDigest, error)
}

// Assembler builds feed items. It holds no per-request state.
type Assembler struct {
	directory      profile.Directory
	digests        DigestSource
	batchSize      int
	degradeDigests bool
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// New creates an Assembler. batchSize caps identities per directory call and
// is clamped to profile.MaxBatch. m may be nil.
func New(directory profile.Directory, digests DigestSource, cfg config.FeedConfig, batchSize int, m *metrics.Metrics) *Assembler {
	if batchSize <= 0 || batchSize > profile.MaxBatch {
		batchSize = profile.MaxBatch
	}
	return &Assembler{
		directory:      directory,
		digests:        digests,
		batchSize:      batchSize,
		degradeDigests: cfg.DegradeDigests,
		metrics:        m,
		logger:         slog.Default().With("component", "feed"),
	}
}

// Assemble returns one Item per post in the order given. It fails as a whole
// when any author is unresolved or, unless digests degrade, when any digest
// cannot be computed.
func (a *Assembler) Assemble(ctx context.Context, ps []posts.Post) ([]Item, error) {
	items := make([]Item, 0, len(ps))
	if len(ps) == 0 {
		return items, nil
	}

	ids := distinctAuthors(ps)

	rctx, span := tracing.Start(ctx, "directory.resolve")
	span.Set("authors", len(ids))
	profiles, err := a.resolve(rctx, ids)
	span.Fail(err)
	span.End()
	if err != nil {
		a.fail("directory")
		return nil, err
	}

	// Every author must resolve before any image is fetched.
	urls := make([]string, 0, len(profiles))
	for _, id := range ids {
		p, ok := profiles[id]
		if !ok || p.Username == "" {
			a.fail("author_resolution")
			logger.FromContext(ctx).Error("post author not resolvable, failing feed",
				"component", "feed",
				"author_id", id,
				"in_directory", ok,
			)
			return nil, apperrors.Wrap(apperrors.ErrAuthorResolution, nil, "author %s", id)
		}
		if p.ImageURL != "" {
			urls = append(urls, p.ImageURL)
		}
	}

	dctx, span := tracing.Start(ctx, "digest.batch")
	span.Set("urls", len(urls))
	digests, err := a.digests.DigestMany(dctx, urls)
	span.Fail(err)
	span.End()
	if err != nil {
		if !a.degradeDigests {
			a.fail("digest")
			return nil, err
		}
		logger.FromContext(ctx).Warn("image digests unavailable, serving feed without placeholders",
			"component", "feed",
			"error", err,
		)
		digests = nil
	}

	for _, p := range ps {
		author := profiles[p.AuthorID]
		items = append(items, Item{
			Post: p,
			Author: Author{
				Profile:     author,
				ImageDigest: digests[author.ImageURL].Digest,
			},
		})
	}

	if a.metrics != nil {
		a.metrics.FeedItemsReturned.Observe(float64(len(items)))
	}
	return items, nil
}

// resolve looks up ids in chunks of batchSize, running the chunks
// concurrently.
func (a *Assembler) resolve(ctx context.Context, ids []string) (map[string]profile.Profile, error) {
	out := make(map[string]profile.Profile, len(ids))
	if len(ids) <= a.batchSize {
		got, err := a.directory.ResolveBatch(ctx, ids)
		if err != nil {
			return nil, err
		}
		for id, p := range got {
			out[id] = p
		}
		return out, nil
	}

	start := time.Now()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, chunk := range chunks(ids, a.batchSize) {
		g.Go(func() error {
			got, err := a.directory.ResolveBatch(gctx, chunk)
			if err != nil {
				return err
			}
			mu.Lock()
			for id, p := range got {
				out[id] = p
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	a.logger.Debug("authors resolved in chunks", "authors", len(ids), "duration", time.Since(start))
	return out, nil
}

func (a *Assembler) fail(kind string) {
	if a.metrics != nil {
		a.metrics.FeedAssemblyFailures.WithLabelValues(kind).Inc()
	}
}

// distinctAuthors returns each author id once, in first-seen order.
func distinctAuthors(ps []posts.Post) []string {
	seen := make(map[string]struct{}, len(ps))
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		if _, ok := seen[p.AuthorID]; ok {
			continue
		}
		seen[p.AuthorID] = struct{}{}
		ids = append(ids, p.AuthorID)
	}
	return ids
}

func chunks(ids []string, size int) [][]string {
	var out [][]string
	for size < len(ids) {
		ids, out = ids[size:], append(out, ids[:size:size])
	}
	return append(out, ids)
}
