// Package service is the posting core. The write path validates, asks the
// rate limiter for admission and stores the post; the read paths query the
// store and hand the rows to the feed assembler.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/feed"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts/store"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts/validator"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/profile"
	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/tracing"
)

const publishTimeout = 2 * time.Second

// Limiter admits or rejects a create attempt for an identity.
type Limiter interface {
	Admit(ctx context.Context, identity string) (ratelimit.Decision, error)
}

// Assembler turns stored posts into feed items.
type Assembler interface {
	Assemble(ctx context.Context, ps []posts.Post) ([]feed.Item, error)
}

// Publisher emits domain events. A nil Publisher disables events.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Deps are the collaborators of a Service. Publisher and Metrics are
// optional.
type Deps struct {
	Store     store.Store
	Limiter   Limiter
	Directory profile.Directory
	Assembler Assembler
	Publisher Publisher
	Metrics   *metrics.Metrics
}

// Options tune a Service.
type Options struct {
	PageSize     int
	StoreTimeout time.Duration
	Tracing      bool
}

// Service implements the posting operations.
type Service struct {
	store     store.Store
	limiter   Limiter
	directory profile.Directory
	assembler Assembler
	publisher Publisher
	metrics   *metrics.Metrics
	opts      Options
	now       func() time.Time
	logger    *slog.Logger
	inflight  sync.WaitGroup
}

// New creates a Service.
func New(deps Deps, opts Options) *Service {
	if opts.PageSize <= 0 || opts.PageSize > posts.PageSize {
		opts.PageSize = posts.PageSize
	}
	return &Service{
		store:     deps.Store,
		limiter:   deps.Limiter,
		directory: deps.Directory,
		assembler: deps.Assembler,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		opts:      opts,
		now:       time.Now,
		logger:    slog.Default().With("component", "post-service"),
	}
}

// WithClock replaces the time source used for createdAt. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreatePost stores a new post by authorID. Invalid content fails before the
// limiter is consulted and a rejected admission never writes.
func (s *Service) CreatePost(ctx context.Context, authorID, content string) (*posts.Post, error) {
	if authorID == "" {
		return nil, apperrors.New(apperrors.ErrUnauthorized, 0, "creating a post requires a signed-in user")
	}
	if err := validator.ValidateContent(content); err != nil {
		return nil, err
	}

	decision, err := s.limiter.Admit(ctx, authorID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &ratelimit.ExceededError{
			Identity:   authorID,
			RetryAfter: decision.RetryAfter(),
		}
	}

	created, err := withStore(ctx, s.opts.StoreTimeout, "store.create", func(ctx context.Context) (*posts.Post, error) {
		return s.store.Create(ctx, authorID, content, s.now())
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PostsCreatedTotal.Inc()
	}
	logger.FromContext(ctx).Info("post created",
		"component", "post-service",
		"post_id", created.ID,
		"author_id", authorID,
		"remaining", decision.Remaining,
	)
	s.publishAsync(ctx, created)
	return created, nil
}

// ListAll returns the newest posts from everyone.
func (s *Service) ListAll(ctx context.Context) ([]feed.Item, error) {
	return s.list(ctx, "all", store.Filter{})
}

// ListByAuthor returns the newest posts by authorID.
func (s *Service) ListByAuthor(ctx context.Context, authorID string) ([]feed.Item, error) {
	if authorID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 0, "author id is empty")
	}
	return s.list(ctx, "author", store.Filter{AuthorID: authorID})
}

// GetByID returns a single post as a feed item.
func (s *Service) GetByID(ctx context.Context, id string) (feed.Item, error) {
	if id == "" {
		return feed.Item{}, apperrors.New(apperrors.ErrInvalidInput, 0, "post id is empty")
	}
	ctx, finish := s.trace(ctx, "feed.get")
	defer finish()
	start := time.Now()

	p, err := withStore(ctx, s.opts.StoreTimeout, "store.find_by_id", func(ctx context.Context) (*posts.Post, error) {
		return s.store.FindByID(ctx, id)
	})
	if err != nil {
		return feed.Item{}, err
	}

	items, err := s.assembler.Assemble(ctx, []posts.Post{*p})
	if err != nil {
		return feed.Item{}, s.readFailed(ctx, "get", err)
	}
	s.observe("get", start)
	return items[0], nil
}

// GetProfileByUsername resolves a public profile.
func (s *Service) GetProfileByUsername(ctx context.Context, username string) (profile.Profile, error) {
	if username == "" {
		return profile.Profile{}, apperrors.New(apperrors.ErrInvalidInput, 0, "username is empty")
	}
	return s.directory.ResolveByUsername(ctx, username)
}

// ListByUsername resolves username and returns that user's profile and
// newest posts.
func (s *Service) ListByUsername(ctx context.Context, username string) (profile.Profile, []feed.Item, error) {
	p, err := s.GetProfileByUsername(ctx, username)
	if err != nil {
		return profile.Profile{}, nil, err
	}
	items, err := s.ListByAuthor(ctx, p.ID)
	if err != nil {
		return profile.Profile{}, nil, err
	}
	return p, items, nil
}

func (s *Service) list(ctx context.Context, query string, filter store.Filter) ([]feed.Item, error) {
	ctx, finish := s.trace(ctx, "feed.list")
	defer finish()
	start := time.Now()

	rows, err := withStore(ctx, s.opts.StoreTimeout, "store.find_many", func(ctx context.Context) ([]posts.Post, error) {
		qctx, span := tracing.Start(ctx, "store.query")
		defer span.End()
		rows, err := s.store.FindMany(qctx, filter, s.opts.PageSize)
		span.Set("rows", len(rows))
		span.Fail(err)
		return rows, err
	})
	if err != nil {
		return nil, s.readFailed(ctx, query, err)
	}

	items, err := s.assembler.Assemble(ctx, rows)
	if err != nil {
		return nil, s.readFailed(ctx, query, err)
	}
	s.observe(query, start)
	return items, nil
}

// withStore bounds a store call and reports a timeout as StoreUnavailable.
func withStore[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := resilience.Call(ctx, timeout, name, fn)
	if err != nil && resilience.TimedOut(err) && !errors.Is(err, apperrors.ErrStoreUnavailable) {
		return v, apperrors.Wrap(apperrors.ErrStoreUnavailable, err, "%s", name)
	}
	return v, err
}

// Drain waits for event publishes started by CreatePost, or for ctx to end.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publishAsync emits the created event off the request goroutine so a slow
// broker never adds to create latency.
func (s *Service) publishAsync(ctx context.Context, p *posts.Post) {
	if s.publisher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.publish(ctx, p)
	}()
}

func (s *Service) publish(ctx context.Context, p *posts.Post) {
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	event := kafka.Event{
		Key: p.AuthorID,
		Value: posts.CreatedEvent{
			PostID:    p.ID,
			AuthorID:  p.AuthorID,
			CreatedAt: p.CreatedAt,
			RequestID: logger.RequestID(ctx),
		},
	}
	status := "ok"
	if err := s.publisher.Publish(pctx, event); err != nil {
		status = "error"
		logger.FromContext(ctx).Error("failed to publish post event, digest will be computed on first read",
			"component", "post-service",
			"post_id", p.ID,
			"error", err,
		)
	}
	if s.metrics != nil {
		s.metrics.EventsPublishedTotal.WithLabelValues(status).Inc()
	}
}

func (s *Service) readFailed(ctx context.Context, query string, err error) error {
	log := logger.FromContext(ctx)
	switch {
	case errors.Is(err, apperrors.ErrAuthorResolution):
		log.Error("feed read failed on data integrity", "component", "post-service", "query", query, "error", err)
	case apperrors.Retryable(err):
		log.Warn("feed read failed on dependency", "component", "post-service", "query", query, "error", err)
	default:
		log.Error("feed read failed", "component", "post-service", "query", query, "error", err)
	}
	return err
}

func (s *Service) observe(query string, start time.Time) {
	if s.metrics != nil {
		s.metrics.FeedAssemblyDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	}
}

// trace starts a root span when tracing is on and returns a func that ends
// and logs it.
func (s *Service) trace(ctx context.Context, name string) (context.Context, func()) {
	if !s.opts.Tracing {
		return ctx, func() {}
	}
	ctx, span := tracing.Begin(ctx, name, logger.RequestID(ctx))
	return ctx, func() { span.Finish(ctx) }
}
