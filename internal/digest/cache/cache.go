// Package cache memoises image digests. Lookups go through Redis first;
// misses are computed once per URL even when many requests ask at the same
// time, and batch lookups fan out through a bounded worker group.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "digest:"

// KV is the key/value store backing the cache. *redis.Client satisfies it.
type KV interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Purger removes every key under a prefix. *redis.Client satisfies it.
type Purger interface {
	PurgePrefix(ctx context.Context, prefix string) (int64, error)
}

// Computer produces a digest for a URL on a cache miss.
type Computer interface {
	Compute(ctx context.Context, url string) (digest.ImageDigest, error)
}

// Cache is safe for concurrent use.
type Cache struct {
	kv             KV
	computer       Computer
	group          singleflight.Group
	ttl            time.Duration
	maxConcurrency int
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// New creates a Cache. kv may be nil, in which case only in-flight
// computations are shared. m may be nil.
func New(kv KV, computer Computer, cfg config.DigestConfig, m *metrics.Metrics) *Cache {
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	return &Cache{
		kv:             kv,
		computer:       computer,
		ttl:            cfg.CacheTTL,
		maxConcurrency: maxConcurrency,
		metrics:        m,
		logger:         slog.Default().With("component", "digest-cache"),
	}
}

// Key returns the Redis key for url.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// DigestFor returns the digest of url, computing and storing it on a miss.
// Cancelling ctx abandons the wait; a computation other callers share keeps
// running.
func (c *Cache) DigestFor(ctx context.Context, url string) (digest.ImageDigest, error) {
	key := Key(url)
	if d, ok := c.lookup(ctx, key, url); ok {
		return d, nil
	}
	c.miss()

	ch := c.group.DoChan(key, func() (any, error) {
		// Detached so one caller leaving does not fail the others. The
		// computer bounds the work with its own timeout.
		cctx := context.WithoutCancel(ctx)
		d, err := c.computer.Compute(cctx, url)
		if err != nil {
			return digest.ImageDigest{}, err
		}
		c.store(cctx, key, d)
		return d, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return digest.ImageDigest{}, res.Err
		}
		return res.Val.(digest.ImageDigest), nil
	case <-ctx.Done():
		return digest.ImageDigest{}, fmt.Errorf("waiting for digest of %s: %w", url, ctx.Err())
	}
}

// DigestMany returns digests for every distinct url, running at most
// maxConcurrency lookups at once. The first failure cancels the rest and is
// returned.
func (c *Cache) DigestMany(ctx context.Context, urls []string) (map[string]digest.ImageDigest, error) {
	out := make(map[string]digest.ImageDigest, len(urls))
	if len(urls) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrency)

	seen := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		g.Go(func() error {
			d, err := c.DigestFor(gctx, url)
			if err != nil {
				return err
			}
			mu.Lock()
			out[url] = d
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Purge drops every cached digest, for example after the digest width
// changes. It needs a KV that also implements Purger.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	p, ok := c.kv.(Purger)
	if !ok {
		return 0, fmt.Errorf("digest cache store %T cannot purge", c.kv)
	}
	n, err := p.PurgePrefix(ctx, keyPrefix)
	if err != nil {
		return n, fmt.Errorf("purging digests: %w", err)
	}
	c.logger.Info("digest cache purged", "removed", n)
	return n, nil
}

func (c *Cache) lookup(ctx context.Context, key, url string) (digest.ImageDigest, bool) {
	if c.kv == nil {
		return digest.ImageDigest{}, false
	}
	val, found, err := c.kv.Lookup(ctx, key)
	if err != nil {
		logger.FromContext(ctx).Warn("digest cache read failed",
			"component", "digest-cache",
			"url", url,
			"error", err,
		)
		return digest.ImageDigest{}, false
	}
	if !found {
		return digest.ImageDigest{}, false
	}
	if c.metrics != nil {
		c.metrics.DigestCacheHitsTotal.Inc()
	}
	return digest.ImageDigest{SourceURL: url, Digest: val}, true
}

func (c *Cache) store(ctx context.Context, key string, d digest.ImageDigest) {
	if c.kv == nil {
		return
	}
	if err := c.kv.Set(ctx, key, d.Digest, c.ttl); err != nil {
		c.logger.Warn("digest cache write failed", "url", d.SourceURL, "error", err)
	}
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.DigestCacheMissTotal.Inc()
	}
}
