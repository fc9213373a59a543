// Package dedup implements the fingerprint store: an atomic add-if-absent set
// backed by Redis when available, with a permanent in-process fallback.
package dedup

import (
	"context"
	"sync"
)

// Set is the capability shared by both fingerprint backends: atomically add a
// member, reporting whether it was absent.
type Set interface {
	Add(ctx context.Context, member string) (bool, error)
}

// LocalSet is a mutex-guarded in-process set. It is valid only for the
// lifetime of the process.
type LocalSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewLocalSet returns an empty in-process set.
func NewLocalSet() *LocalSet {
	return &LocalSet{seen: make(map[string]struct{})}
}

// Add records the member and reports whether it was new. It never fails.
func (s *LocalSet) Add(_ context.Context, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[member]; ok {
		return false, nil
	}
	s.seen[member] = struct{}{}
	return true, nil
}

// Len reports the number of distinct members.
func (s *LocalSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
