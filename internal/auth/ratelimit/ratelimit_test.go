package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Window:    10 * time.Second,
		Capacity:  10,
		KeyPrefix: "ratelimit:post:",
	}
}

func newTestLimiter(t *testing.T, cfg config.RateLimitConfig) (*Limiter, *fakeClock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(config.RedisConfig{Addr: mr.Addr(), PoolSize: 16})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	l := New(client, cfg, time.Second, nil).WithClock(clock.Now)
	return l, clock, mr
}

func TestAdmitSlidingWindowScenario(t *testing.T) {
	l, clock, _ := newTestLimiter(t, testConfig())
	ctx := context.Background()

	// Ten requests within one second all pass.
	for i := 0; i < 10; i++ {
		d, err := l.Admit(ctx, "user_U")
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("admit %d: expected allowed", i)
		}
		if d.Remaining != 9-i {
			t.Errorf("admit %d: remaining = %d, want %d", i, d.Remaining, 9-i)
		}
		clock.Advance(100 * time.Millisecond)
	}

	// The eleventh inside the window is rejected.
	d, err := l.Admit(ctx, "user_U")
	if err != nil {
		t.Fatalf("admit 11: %v", err)
	}
	if d.Allowed {
		t.Fatal("admit 11: expected rejection")
	}
	first := time.UnixMilli(1_700_000_000_000)
	if want := first.Add(10 * time.Second); !d.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", d.ResetAt, want)
	}
	if got := d.RetryAfter(); got != 9*time.Second {
		t.Errorf("RetryAfter = %v, want 9s", got)
	}

	// Ten seconds after the first request its slot frees up.
	clock.now = first.Add(10 * time.Second)
	d, err = l.Admit(ctx, "user_U")
	if err != nil {
		t.Fatalf("admit 12: %v", err)
	}
	if !d.Allowed {
		t.Fatal("admit 12: expected allowed after the first request left the window")
	}
}

func TestAdmitIdentitiesAreIndependent(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 1
	l, _, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		d, err := l.Admit(ctx, id)
		if err != nil || !d.Allowed {
			t.Fatalf("first admit for %s: %+v, %v", id, d, err)
		}
	}
	d, err := l.Admit(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Error("second admit for a should be rejected")
	}
}

func TestAdmitConcurrentNeverExceedsCapacity(t *testing.T) {
	l, _, _ := newTestLimiter(t, testConfig())
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Admit(ctx, "racer")
			if err != nil {
				t.Errorf("admit: %v", err)
				return
			}
			if d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 10 {
		t.Fatalf("admitted %d concurrent requests, want exactly 10", got)
	}
}

func TestAdmitRecordsOnlyAdmittedRequests(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 2
	l, clock, mr := newTestLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.Admit(ctx, "u"); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Millisecond)
	}
	members, err := mr.ZMembers("ratelimit:post:u")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Errorf("window holds %d entries, want 2", len(members))
	}
}

func TestAdmitEmptyIdentity(t *testing.T) {
	l, _, _ := newTestLimiter(t, testConfig())
	_, err := l.Admit(context.Background(), "")
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAdmitBackendDownFailsClosed(t *testing.T) {
	l, _, mr := newTestLimiter(t, testConfig())
	mr.Close()

	_, err := l.Admit(context.Background(), "u")
	if !errors.Is(err, apperrors.ErrLimiterUnavailable) {
		t.Fatalf("expected ErrLimiterUnavailable, got %v", err)
	}
	if !apperrors.Retryable(err) {
		t.Error("limiter outage should be retryable")
	}
}

func TestAdmitBackendDownFailOpen(t *testing.T) {
	cfg := testConfig()
	cfg.FailOpen = true
	l, _, mr := newTestLimiter(t, cfg)
	mr.Close()

	d, err := l.Admit(context.Background(), "u")
	if err != nil {
		t.Fatalf("fail-open limiter returned error: %v", err)
	}
	if !d.Allowed {
		t.Error("fail-open limiter should admit during an outage")
	}
}

func TestAdmitCountsDecisions(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 1
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	l := New(client, cfg, time.Second, m)
	ctx := context.Background()
	l.Admit(ctx, "u")
	l.Admit(ctx, "u")

	if got := testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("allowed")); got != 1 {
		t.Errorf("allowed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("rejected")); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
}

func TestExceededErrorUnwrapsToRateLimited(t *testing.T) {
	err := error(&ExceededError{Identity: "u", RetryAfter: 3 * time.Second})
	if !errors.Is(err, apperrors.ErrRateLimited) {
		t.Fatal("ExceededError must unwrap to ErrRateLimited")
	}
	if apperrors.HTTPStatusCode(err) != 429 {
		t.Errorf("status = %d, want 429", apperrors.HTTPStatusCode(err))
	}
}

func TestAdmitUsesRedisClockByDefault(t *testing.T) {
	mr := miniredis.RunT(t)
	base := time.UnixMilli(1_800_000_000_000)
	mr.SetTime(base)

	cfg := testConfig()
	cfg.Capacity = 2
	var instances []*Limiter
	for i := 0; i < 2; i++ {
		client, err := redis.NewClient(config.RedisConfig{Addr: mr.Addr()})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { client.Close() })
		instances = append(instances, New(client, cfg, time.Second, nil))
	}
	ctx := context.Background()

	for i, l := range instances {
		d, err := l.Admit(ctx, "user_U")
		if err != nil || !d.Allowed {
			t.Fatalf("instance %d: %+v, %v", i, d, err)
		}
		if !d.DecidedAt.Equal(base) {
			t.Errorf("instance %d decided at %v, want redis time %v", i, d.DecidedAt, base)
		}
	}

	mr.SetTime(base.Add(4 * time.Second))
	d, err := instances[0].Admit(ctx, "user_U")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("third request inside the shared window was admitted")
	}
	if got := d.RetryAfter(); got != 6*time.Second {
		t.Errorf("RetryAfter = %v, want 6s", got)
	}

	mr.SetTime(base.Add(10 * time.Second))
	if d, err := instances[1].Admit(ctx, "user_U"); err != nil || !d.Allowed {
		t.Fatalf("after the window passed: %+v, %v", d, err)
	}
}
