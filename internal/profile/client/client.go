// Package client is the HTTP adapter for the external user directory. It
// speaks the Clerk backend user-list API, retries transient failures with
// backoff and stops calling a failing provider through a circuit breaker.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/internal/profile"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/resilience"
)

const maxResponseBytes = 4 << 20

// apiUser is the subset of the provider's user object we read.
type apiUser struct {
	ID       string  `json:"id"`
	Username *string `json:"username"`
	ImageURL string  `json:"image_url"`
}

func (u apiUser) profile() profile.Profile {
	p := profile.Profile{ID: u.ID, ImageURL: u.ImageURL}
	if u.Username != nil {
		p.Username = *u.Username
	}
	return p
}

// statusError is a non-2xx reply from the provider.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("directory returned HTTP %d: %s", e.Code, e.Body)
}

// Client implements profile.Directory over HTTP.
type Client struct {
	baseURL    string
	secretKey  string
	maxBatch   int
	timeout    time.Duration
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
	logger     *slog.Logger
}

var _ profile.Directory = (*Client)(nil)

// New creates a directory client. timeout bounds each logical lookup,
// retries included. m may be nil.
func New(cfg config.DirectoryConfig, timeout time.Duration, m *metrics.Metrics) *Client {
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 || maxBatch > profile.MaxBatch {
		maxBatch = profile.MaxBatch
	}
	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
	}
	if m != nil {
		cbCfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		maxBatch:   maxBatch,
		timeout:    timeout,
		httpClient: &http.Client{},
		breaker:    resilience.NewCircuitBreaker("directory", cbCfg),
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.RetryAttempts,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     2 * time.Second,
		},
		logger: slog.Default().With("component", "directory-client"),
	}
}

// WithHTTPClient replaces the transport. Used by tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// ResolveBatch looks up to maxBatch users in one request.
func (c *Client) ResolveBatch(ctx context.Context, ids []string) (map[string]profile.Profile, error) {
	if len(ids) > c.maxBatch {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 0, "resolve batch of %d exceeds %d", len(ids), c.maxBatch)
	}
	out := make(map[string]profile.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	q := url.Values{}
	for _, id := range ids {
		q.Add("user_id", id)
	}
	q.Set("limit", strconv.Itoa(c.maxBatch))

	users, err := c.listUsers(ctx, q)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDirectoryUnavailable, err, "resolving %d profiles", len(ids))
	}
	for _, u := range users {
		out[u.ID] = u.profile()
	}
	logger.FromContext(ctx).Debug("profiles resolved",
		"component", "directory-client",
		"requested", len(ids),
		"found", len(out),
	)
	return out, nil
}

// ResolveByUsername looks up the single user with the given username.
func (c *Client) ResolveByUsername(ctx context.Context, username string) (profile.Profile, error) {
	if username == "" {
		return profile.Profile{}, apperrors.New(apperrors.ErrInvalidInput, 0, "username is empty")
	}
	q := url.Values{}
	q.Set("username", username)
	q.Set("limit", "1")

	users, err := c.listUsers(ctx, q)
	if err != nil {
		return profile.Profile{}, apperrors.Wrap(apperrors.ErrDirectoryUnavailable, err, "resolving username %s", username)
	}
	if len(users) == 0 {
		return profile.Profile{}, apperrors.Newf(apperrors.ErrNotFound, 0, "user %s", username)
	}
	return users[0].profile(), nil
}

func (c *Client) listUsers(ctx context.Context, q url.Values) ([]apiUser, error) {
	endpoint := c.baseURL + "/v1/users?" + q.Encode()
	return resilience.Call(ctx, c.timeout, "directory.list_users", func(ctx context.Context) ([]apiUser, error) {
		var users []apiUser
		err := c.breaker.Execute(func() error {
			return resilience.Retry(ctx, "directory.list_users", c.retry, func() error {
				var err error
				users, err = c.get(ctx, endpoint)
				return err
			})
		})
		return users, err
	})
}

// get performs one request. 4xx replies are permanent; transport errors and
// 5xx replies are retried.
func (c *Client) get(ctx context.Context, endpoint string) ([]apiUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.secretKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling directory: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading directory response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serr := &statusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(serr)
		}
		return nil, serr
	}

	var users []apiUser
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("decoding directory response: %w", err))
	}
	return users, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
