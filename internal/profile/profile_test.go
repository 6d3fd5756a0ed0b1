package profile

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
)

func TestStaticResolveBatch(t *testing.T) {
	d := NewStatic(
		Profile{ID: "a", Username: "alice", ImageURL: "https://img/a"},
		Profile{ID: "b", Username: "bob", ImageURL: "https://img/b"},
	)

	got, err := d.ResolveBatch(context.Background(), []string{"a", "zzz"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["a"].Username != "alice" {
		t.Errorf("got %v", got)
	}
	if b := d.Batches(); len(b) != 1 || len(b[0]) != 2 {
		t.Errorf("recorded batches = %v", b)
	}

	_, err = d.ResolveBatch(context.Background(), make([]string, MaxBatch+1))
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for oversized batch, got %v", err)
	}
}

func TestStaticResolveByUsername(t *testing.T) {
	d := NewStatic(Profile{ID: "a", Username: "alice"}, Profile{ID: "n"})

	p, err := d.ResolveByUsername(context.Background(), "alice")
	if err != nil || p.ID != "a" {
		t.Fatalf("got %+v, %v", p, err)
	}
	if _, err := d.ResolveByUsername(context.Background(), ""); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("profile without username must not match empty lookup, got %v", err)
	}
	if _, err := d.ResolveByUsername(context.Background(), "carol"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

type slowDirectory struct{}

func (slowDirectory) ResolveBatch(ctx context.Context, ids []string) (map[string]Profile, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowDirectory) ResolveByUsername(ctx context.Context, username string) (Profile, error) {
	<-ctx.Done()
	return Profile{}, ctx.Err()
}

func TestBoundedTimeoutIsUnavailable(t *testing.T) {
	d := Bounded(slowDirectory{}, 20*time.Millisecond)

	if _, err := d.ResolveBatch(context.Background(), []string{"a"}); !errors.Is(err, apperrors.ErrDirectoryUnavailable) {
		t.Errorf("ResolveBatch: expected ErrDirectoryUnavailable, got %v", err)
	}
	if _, err := d.ResolveByUsername(context.Background(), "alice"); !errors.Is(err, apperrors.ErrDirectoryUnavailable) {
		t.Errorf("ResolveByUsername: expected ErrDirectoryUnavailable, got %v", err)
	}
}

func TestBoundedPassesThroughKindedErrors(t *testing.T) {
	d := Bounded(NewStatic(), time.Second)
	if _, err := d.ResolveByUsername(context.Background(), "nobody"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if Bounded(NewStatic(), 0) == nil {
		t.Fatal("zero timeout should return the directory unchanged")
	}
}
