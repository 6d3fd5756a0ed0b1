// Package ratelimit implements per-identity sliding-window admission control
// backed by Redis. Every instance of the service shares the same window.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/redis"
	"github.com/google/uuid"
)

// slidingWindow trims entries that fell out of (now-window, now], counts the
// rest and records now only when the count is below the limit. Redis runs
// the whole script atomically, so concurrent callers cannot both take the
// last slot.
//
// now is the Redis server clock unless ARGV[1] carries an explicit
// millisecond timestamp, so every instance sharing a key agrees on time.
//
// Reply: {allowed, remaining, oldestScore, now}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
if not now then
  local t = redis.call('TIME')
  now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
end
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  return {1, limit - count - 1, 0, now}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {0, 0, tonumber(oldest[2]), now}
`)

// Scripter runs a Lua script atomically. *redis.Client satisfies it.
type Scripter interface {
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest admitted request leaves the window. Zero when
	// the request was admitted.
	ResetAt time.Time
	// DecidedAt is the window clock at the moment of the decision.
	DecidedAt time.Time
}

// RetryAfter returns how long a rejected caller should wait. It is measured
// on the window clock, so skew between this host and Redis does not leak in.
func (d Decision) RetryAfter() time.Duration {
	if d.Allowed || d.ResetAt.IsZero() {
		return 0
	}
	if wait := d.ResetAt.Sub(d.DecidedAt); wait > 0 {
		return wait
	}
	return 0
}

// ExceededError is returned by callers that turn a rejected Decision into an
// error. It unwraps to apperrors.ErrRateLimited.
type ExceededError struct {
	Identity   string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Identity, e.RetryAfter.Round(time.Millisecond))
}

func (e *ExceededError) Unwrap() error {
	return apperrors.ErrRateLimited
}

// Limiter admits at most Capacity requests per identity within any trailing
// window of width Window.
type Limiter struct {
	store    Scripter
	window   time.Duration
	capacity int
	prefix   string
	failOpen bool
	timeout  time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Limiter. timeout bounds each call to the backing store; zero
// means no extra bound beyond the caller's context. m may be nil.
func New(store Scripter, cfg config.RateLimitConfig, timeout time.Duration, m *metrics.Metrics) *Limiter {
	return &Limiter{
		store:    store,
		window:   cfg.Window,
		capacity: cfg.Capacity,
		prefix:   cfg.KeyPrefix,
		failOpen: cfg.FailOpen,
		timeout:  timeout,
		metrics:  m,
		logger:   slog.Default().With("component", "ratelimit"),
	}
}

// WithClock makes the limiter stamp requests with now instead of the Redis
// server clock. Used by tests; instances in production must share Redis time.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Admit checks identity against its window and, when there is room, records
// the request in the same atomic step.
func (l *Limiter) Admit(ctx context.Context, identity string) (Decision, error) {
	if identity == "" {
		return Decision{}, apperrors.New(apperrors.ErrInvalidInput, 0, "rate limit identity is empty")
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	// An empty timestamp tells the script to read the server clock.
	stamp := ""
	if l.now != nil {
		stamp = strconv.FormatInt(l.now().UnixMilli(), 10)
	}
	reply, err := l.store.RunScript(ctx, slidingWindow,
		[]string{l.prefix + identity},
		stamp, l.window.Milliseconds(), l.capacity, uuid.NewString(),
	)
	if err != nil {
		l.observe("unavailable")
		if l.failOpen {
			logger.FromContext(ctx).Warn("rate limiter unavailable, admitting request",
				"component", "ratelimit",
				"identity", identity,
				"error", err,
			)
			return Decision{Allowed: true, Limit: l.capacity}, nil
		}
		return Decision{}, apperrors.Wrap(apperrors.ErrLimiterUnavailable, err, "admit %s", identity)
	}

	d, err := l.parse(reply)
	if err != nil {
		l.observe("unavailable")
		return Decision{}, apperrors.Wrap(apperrors.ErrLimiterUnavailable, err, "admit %s", identity)
	}
	if d.Allowed {
		l.observe("allowed")
	} else {
		l.observe("rejected")
		l.logger.Debug("request rejected", "identity", identity, "reset_at", d.ResetAt)
	}
	return d, nil
}

func (l *Limiter) parse(reply any) (Decision, error) {
	vals, ok := reply.([]any)
	if !ok || len(vals) != 4 {
		return Decision{}, fmt.Errorf("unexpected script reply %T %v", reply, reply)
	}
	nums := make([]int64, len(vals))
	for i, v := range vals {
		n, ok := v.(int64)
		if !ok {
			return Decision{}, fmt.Errorf("unexpected script reply element %d: %T", i, v)
		}
		nums[i] = n
	}

	d := Decision{
		Allowed:   nums[0] == 1,
		Limit:     l.capacity,
		Remaining: int(nums[1]),
		DecidedAt: time.UnixMilli(nums[3]),
	}
	if !d.Allowed {
		d.ResetAt = time.UnixMilli(nums[2]).Add(l.window)
	}
	return d, nil
}

func (l *Limiter) observe(outcome string) {
	if l.metrics != nil {
		l.metrics.RateLimitDecisions.WithLabelValues(outcome).Inc()
	}
}
