package profile

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/resilience"
)

// bounded applies a deadline to every lookup of the wrapped Directory.
type bounded struct {
	next    Directory
	timeout time.Duration
}

// Bounded wraps d so each call gives up after timeout. A call that runs out
// of time fails with apperrors.ErrDirectoryUnavailable.
func Bounded(d Directory, timeout time.Duration) Directory {
	if timeout <= 0 {
		return d
	}
	return &bounded{next: d, timeout: timeout}
}

func (b *bounded) ResolveBatch(ctx context.Context, ids []string) (map[string]Profile, error) {
	out, err := resilience.Call(ctx, b.timeout, "directory.resolve_batch", func(ctx context.Context) (map[string]Profile, error) {
		return b.next.ResolveBatch(ctx, ids)
	})
	if err != nil {
		return nil, unavailable(err, "resolving %d profiles", len(ids))
	}
	return out, nil
}

func (b *bounded) ResolveByUsername(ctx context.Context, username string) (Profile, error) {
	out, err := resilience.Call(ctx, b.timeout, "directory.resolve_username", func(ctx context.Context) (Profile, error) {
		return b.next.ResolveByUsername(ctx, username)
	})
	if err != nil {
		return Profile{}, unavailable(err, "resolving username %s", username)
	}
	return out, nil
}

// unavailable passes kinded errors through and turns deadline or
// cancellation into ErrDirectoryUnavailable.
func unavailable(err error, format string, args ...any) error {
	if resilience.TimedOut(err) && !errors.Is(err, apperrors.ErrDirectoryUnavailable) {
		return apperrors.Wrap(apperrors.ErrDirectoryUnavailable, err, format, args...)
	}
	return err
}
