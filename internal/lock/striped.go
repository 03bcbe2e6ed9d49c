// Package lock provides per-id mutation serialization for the memory
// engine: a short-lived lock keyed by memory id prevents concurrent
// UPDATE/DELETE races (spec §5).
package lock

import (
	"context"
	"hash/fnv"
	"sync"
)

// Locker serializes operations on a given key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Striped is an in-process striped mutex: the key hashes to one of a fixed
// number of stripes, bounding memory use regardless of how many distinct
// ids are ever locked. Sufficient for a single-process deployment; use the
// Redis-backed Locker for multi-process deployments.
type Striped struct {
	mus []sync.Mutex
}

// NewStriped returns a Striped lock with the given number of stripes.
// Defaults to 1024 if n <= 0, matching the spec's default.
func NewStriped(n int) *Striped {
	if n <= 0 {
		n = 1024
	}
	return &Striped{mus: make([]sync.Mutex, n)}
}

func (s *Striped) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.mus[h.Sum32()%uint32(len(s.mus))]
}

// Lock acquires the stripe for key and returns a function to release it.
// Context cancellation is not honored for the in-process variant since
// sync.Mutex cannot be interrupted; callers relying on cancellable locking
// should use the Redis-backed Locker.
func (s *Striped) Lock(_ context.Context, key string) (func(), error) {
	mu := s.stripe(key)
	mu.Lock()
	return mu.Unlock, nil
}
