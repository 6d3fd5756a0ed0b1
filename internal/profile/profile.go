// Package profile describes author profiles owned by the external identity
// provider and the Directory contract used to resolve them.
package profile

import (
	"context"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/chirp/pkg/errors"
)

// MaxBatch is the most identities a single ResolveBatch call accepts.
const MaxBatch = 100

// Profile is the public view of a user. Username may be empty when the user
// never picked one.
type Profile struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
	ImageURL string `json:"imageUrl" yaml:"imageUrl"`
}

// Directory resolves identities to profiles.
//
// ResolveBatch returns profiles keyed by id; ids the provider does not know
// are simply absent from the map. ResolveByUsername returns an error wrapping
// apperrors.ErrNotFound when nobody has that username. Outages surface as
// apperrors.ErrDirectoryUnavailable.
type Directory interface {
	ResolveBatch(ctx context.Context, ids []string) (map[string]Profile, error)
	ResolveByUsername(ctx context.Context, username string) (Profile, error)
}

// Static is a fixed in-process Directory, used for local runs without an
// identity provider and as a test double.
type Static struct {
	mu       sync.RWMutex
	byID     map[string]Profile
	batchIDs [][]string
}

// NewStatic creates a Static directory holding profiles.
func NewStatic(profiles ...Profile) *Static {
	s := &Static{byID: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		s.byID[p.ID] = p
	}
	return s
}

// Put adds or replaces a profile.
func (s *Static) Put(p Profile) {
	s.mu.Lock()
	s.byID[p.ID] = p
	s.mu.Unlock()
}

func (s *Static) ResolveBatch(ctx context.Context, ids []string) (map[string]Profile, error) {
	if len(ids) > MaxBatch {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 0, "resolve batch of %d exceeds %d", len(ids), MaxBatch)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDirectoryUnavailable, err, "resolving %d profiles", len(ids))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchIDs = append(s.batchIDs, append([]string(nil), ids...))

	out := make(map[string]Profile, len(ids))
	for _, id := range ids {
		if p, ok := s.byID[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Static) ResolveByUsername(ctx context.Context, username string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, apperrors.Wrap(apperrors.ErrDirectoryUnavailable, err, "resolving username %s", username)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byID {
		if p.Username != "" && p.Username == username {
			return p, nil
		}
	}
	return Profile{}, apperrors.Newf(apperrors.ErrNotFound, 0, "user %s", username)
}

// Batches returns a copy of the id lists passed to ResolveBatch so far.
func (s *Static) Batches() [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]string, len(s.batchIDs))
	copy(out, s.batchIDs)
	return out
}
