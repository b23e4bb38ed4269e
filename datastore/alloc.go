package datastore

import (
	"context"
	"fmt"

	"github.com/quarrylabs/strata/internal/keypath"
)

// AllocateID returns a numeric id for the kind, strictly greater than every
// id previously allocated for it, across process restarts and concurrent
// allocators. Ids are never reused, even after the entity that used one is
// deleted.
//
// The counter is a dedicated per-kind record updated with an atomic backend
// increment, not a scan for the current maximum: a max scan races with
// concurrent puts and resurrects ids freed by deletes.
func (s *Store) AllocateID(ctx context.Context, kind string) (int64, error) {
	_, high, err := s.AllocateIDs(ctx, kind, 1)
	return high, err
}

// AllocateIDs reserves n consecutive ids for the kind and returns the
// inclusive [low, high] range, all unused and never handed out again.
func (s *Store) AllocateIDs(ctx context.Context, kind string, n int) (low, high int64, err error) {
	if !keypath.ValidKind(kind) {
		return 0, 0, fmt.Errorf("%w: invalid kind %q", ErrInvalidKey, kind)
	}
	if n < 1 {
		return 0, 0, fmt.Errorf("%w: allocation count %d", ErrInvalidKey, n)
	}
	high, err = s.backend.increment(ctx, s.config.CounterCollection, kind, int64(n))
	if err != nil {
		s.log.Error().Str("kind", kind).Int("count", n).Err(err).
			Msg("id allocation failed")
		return 0, 0, fmt.Errorf("%w: allocating %d ids for kind %s: %v",
			ErrBackendUnavailable, n, kind, err)
	}
	return high - int64(n) + 1, high, nil
}
