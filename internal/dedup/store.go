package dedup

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Store is the pipeline-facing fingerprint store. It delegates to the shared
// backend until that backend errors, then permanently downgrades to an
// in-process set for the remainder of the run. It never reconnects mid-run:
// doing so would split fingerprints across two stores that disagree.
type Store struct {
	mu       sync.RWMutex
	backend  Set
	local    *LocalSet
	degraded bool
	logger   *zap.Logger
}

// NewStore wraps the given backend with downgrade-on-error behavior.
func NewStore(backend Set, logger *zap.Logger) *Store {
	return &Store{
		backend: backend,
		local:   NewLocalSet(),
		logger:  logger,
	}
}

// NewLocalStore returns a store that starts on the in-process set, for runs
// where the shared backend is unavailable or not configured.
func NewLocalStore(logger *zap.Logger) *Store {
	local := NewLocalSet()
	return &Store{
		backend:  local,
		local:    local,
		degraded: true,
		logger:   logger,
	}
}

// CheckAndMark reports whether this is the first observation of the
// fingerprint. A backend error is treated as "not a duplicate" so legitimate
// items are never silently dropped, and triggers the permanent downgrade.
func (s *Store) CheckAndMark(ctx context.Context, fingerprint string) bool {
	s.mu.RLock()
	backend := s.backend
	s.mu.RUnlock()

	first, err := backend.Add(ctx, fingerprint)
	if err == nil {
		return first
	}
	s.downgrade(err)
	// Remember it locally so at least this process won't repeat it.
	if first, lerr := s.local.Add(ctx, fingerprint); lerr == nil {
		return first
	}
	return true
}

// Degraded reports whether the store has fallen back to the in-process set.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *Store) downgrade(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return
	}
	s.degraded = true
	s.backend = s.local
	s.logger.Warn("fingerprint backend unreachable, downgrading to in-process set for the rest of the run",
		zap.Error(cause))
}
