package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testDirectoryConfig(baseURL string) config.DirectoryConfig {
	return config.DirectoryConfig{
		BaseURL:          baseURL,
		SecretKey:        "sk_test",
		MaxBatch:         100,
		RetryAttempts:    3,
		RetryDelay:       time.Millisecond,
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
	}
}

func strPtr(s string) *string { return &s }

func TestResolveBatch(t *testing.T) {
	var gotAuth string
	var gotIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/users" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotIDs = r.URL.Query()["user_id"]
		json.NewEncoder(w).Encode([]apiUser{
			{ID: "user_a", Username: strPtr("alice"), ImageURL: "https://img/a.png"},
			{ID: "user_b", Username: nil, ImageURL: "https://img/b.png"},
		})
	}))
	defer srv.Close()

	c := New(testDirectoryConfig(srv.URL), time.Second, nil)
	got, err := c.ResolveBatch(context.Background(), []string{"user_a", "user_b", "user_c"})
	if err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}

	if gotAuth != "Bearer sk_test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(gotIDs) != 3 {
		t.Errorf("sent ids = %v", gotIDs)
	}
	if len(got) != 2 {
		t.Fatalf("resolved %d profiles, want 2", len(got))
	}
	if got["user_a"].Username != "alice" || got["user_a"].ImageURL != "https://img/a.png" {
		t.Errorf("user_a = %+v", got["user_a"])
	}
	if got["user_b"].Username != "" {
		t.Errorf("user_b should have no username, got %q", got["user_b"].Username)
	}
	if _, ok := got["user_c"]; ok {
		t.Error("unknown id must be absent")
	}
}

func TestResolveBatchEmptyMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	got, err := New(testDirectoryConfig(srv.URL), time.Second, nil).ResolveBatch(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
	if calls.Load() != 0 {
		t.Errorf("made %d calls for empty batch", calls.Load())
	}
}

func TestResolveBatchRejectsOversizedBatch(t *testing.T) {
	ids := make([]string, 101)
	for i := range ids {
		ids[i] = "u"
	}
	_, err := New(testDirectoryConfig("http://unused"), time.Second, nil).ResolveBatch(context.Background(), ids)
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestResolveBatchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode([]apiUser{{ID: "user_a", Username: strPtr("alice")}})
	}))
	defer srv.Close()

	got, err := New(testDirectoryConfig(srv.URL), time.Second, nil).ResolveBatch(context.Background(), []string{"user_a"})
	if err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}
	if calls.Load() != 3 || got["user_a"].Username != "alice" {
		t.Errorf("calls = %d, got = %v", calls.Load(), got)
	}
}

func TestResolveBatchClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"errors":[{"message":"invalid key"}]}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(testDirectoryConfig(srv.URL), time.Second, nil).ResolveBatch(context.Background(), []string{"user_a"})
	if !errors.Is(err, apperrors.ErrDirectoryUnavailable) {
		t.Fatalf("expected ErrDirectoryUnavailable, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestResolveBatchTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(testDirectoryConfig(srv.URL), 30*time.Millisecond, nil).ResolveBatch(context.Background(), []string{"user_a"})
	if !errors.Is(err, apperrors.ErrDirectoryUnavailable) {
		t.Fatalf("expected ErrDirectoryUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline in chain, got %v", err)
	}
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testDirectoryConfig(srv.URL)
	cfg.RetryAttempts = 1
	cfg.FailureThreshold = 2
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	c := New(cfg, time.Second, m)

	for i := 0; i < 2; i++ {
		c.ResolveBatch(context.Background(), []string{"user_a"})
	}
	before := calls.Load()
	_, err := c.ResolveBatch(context.Background(), []string{"user_a"})
	if !errors.Is(err, apperrors.ErrDirectoryUnavailable) {
		t.Fatalf("expected ErrDirectoryUnavailable, got %v", err)
	}
	if calls.Load() != before {
		t.Error("open circuit should not reach the server")
	}
	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("directory")); got != 1 {
		t.Errorf("breaker gauge = %v, want 1 (open)", got)
	}
}

func TestResolveByUsername(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("username") == "alice" {
			json.NewEncoder(w).Encode([]apiUser{{ID: "user_a", Username: strPtr("alice"), ImageURL: "https://img/a.png"}})
			return
		}
		w.Write([]byte("[]"))
	}))
	defer srv.Close()
	c := New(testDirectoryConfig(srv.URL), time.Second, nil)

	p, err := c.ResolveByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ResolveByUsername: %v", err)
	}
	if p.ID != "user_a" {
		t.Errorf("id = %s", p.ID)
	}

	_, err = c.ResolveByUsername(context.Background(), "nobody")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = c.ResolveByUsername(context.Background(), "")
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
