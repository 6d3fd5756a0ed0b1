package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("create post: %w", ErrValidation), http.StatusBadRequest},
		{"rate limited", Wrap(ErrRateLimited, nil, "author %s", "u1"), http.StatusTooManyRequests},
		{"not found", Wrap(ErrNotFound, nil, "post %s", "p1"), http.StatusNotFound},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"directory outage", Wrap(ErrDirectoryUnavailable, errors.New("dial tcp"), "resolve"), http.StatusServiceUnavailable},
		{"limiter outage", Wrap(ErrLimiterUnavailable, errors.New("i/o timeout"), "admit"), http.StatusServiceUnavailable},
		{"store outage", Wrap(ErrStoreUnavailable, errors.New("conn refused"), "query"), http.StatusServiceUnavailable},
		{"author resolution", Wrap(ErrAuthorResolution, nil, "author %s", "c"), http.StatusInternalServerError},
		{"digest", Wrap(ErrDigestComputation, errors.New("bad png"), "url"), http.StatusInternalServerError},
		{"app error override", New(ErrInternal, http.StatusTeapot, "custom"), http.StatusTeapot},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatusCode(tc.err); got != tc.want {
				t.Errorf("HTTPStatusCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ErrStoreUnavailable, cause, "find post %s", "p1")

	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable in chain, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause in chain, got %v", err)
	}
	if !Retryable(err) {
		t.Error("store outage should be retryable")
	}
	if Retryable(Wrap(ErrValidation, nil, "content")) {
		t.Error("validation errors must not be retryable")
	}
}
