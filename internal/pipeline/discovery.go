package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// DiscoveryConfig tunes the termination heuristics of the discovery loop.
type DiscoveryConfig struct {
	// StabilityRounds is the number of consecutive no-growth scroll rounds
	// required before a collection is declared exhausted. A single flat round
	// is common under network jitter and must not terminate discovery.
	StabilityRounds int

	// MaxScrollRounds is the hard cap on scroll triggers per collection,
	// enforced regardless of growth so runaway sources still terminate.
	MaxScrollRounds int
}

// Loop enumerates the novel items of a single collection. A Loop is
// single-use: re-scanning a collection requires a fresh instance.
type Loop struct {
	src    Source
	cfg    DiscoveryConfig
	seen   FingerprintStore
	logger *zap.Logger
	ran    atomic.Bool
}

// NewLoop builds a discovery loop for one collection.
func NewLoop(src Source, cfg DiscoveryConfig, seen FingerprintStore, logger *zap.Logger) *Loop {
	return &Loop{
		src:    src,
		cfg:    cfg,
		seen:   seen,
		logger: logger.With(zap.String("collection_id", src.ID)),
	}
}

// Run walks the collection, invoking emit for every item not seen before, in
// source order. It returns the collection's terminal state. Absence of
// content is not an error: an empty first page yields CollectionExhausted.
func (l *Loop) Run(ctx context.Context, emit func(Item)) (CollectionState, error) {
	if l.ran.Swap(true) {
		return CollectionFailed, ErrNotRestartable
	}
	switch l.src.Mode {
	case ModeScroll:
		return l.runScroll(ctx, emit)
	default:
		return l.runPaginated(ctx, emit)
	}
}

func (l *Loop) runPaginated(ctx context.Context, emit func(Item)) (CollectionState, error) {
	cursor := l.src.Cursor
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return CollectionActive, fmt.Errorf("discovery canceled: %w", err)
		}

		res := l.src.Pages(ctx, cursor)
		switch res.Kind {
		case PageEnd:
			return CollectionExhausted, nil
		case PageError:
			return CollectionFailed, fmt.Errorf("page %d: %w", page, res.Err)
		}

		novel := l.emitNovel(ctx, res.Items, emit)
		l.logger.Debug("page discovered",
			zap.Int("page", page),
			zap.Int("items", len(res.Items)),
			zap.Int("novel", novel),
		)

		// Sources that return 200 with an empty body instead of a clean end
		// marker show up as a page with nothing new on it.
		if len(res.Items) == 0 || (novel == 0 && page > 1) {
			return CollectionExhausted, nil
		}
		if res.Next == "" {
			return CollectionExhausted, nil
		}
		cursor = res.Next
	}
}

func (l *Loop) runScroll(ctx context.Context, emit func(Item)) (CollectionState, error) {
	sess, err := l.src.OpenScroll(ctx)
	if err != nil {
		return CollectionFailed, fmt.Errorf("open scroll session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			l.logger.Warn("scroll session close failed", zap.Error(cerr))
		}
	}()

	lastCount := 0
	flatRounds := 0
	for round := 1; round <= l.cfg.MaxScrollRounds; round++ {
		if err := ctx.Err(); err != nil {
			return CollectionActive, fmt.Errorf("discovery canceled: %w", err)
		}

		items, err := sess.VisibleItems(ctx)
		if err != nil {
			return CollectionFailed, fmt.Errorf("scroll round %d: %w", round, err)
		}
		if round == 1 && len(items) == 0 {
			return CollectionExhausted, nil
		}
		l.emitNovel(ctx, items, emit)

		// Growth compares against the previous round's visible count; only a
		// run of flat rounds counts as exhaustion.
		if len(items) == lastCount {
			flatRounds++
			if flatRounds >= l.cfg.StabilityRounds {
				return CollectionExhausted, nil
			}
		} else {
			flatRounds = 0
			lastCount = len(items)
		}

		if err := sess.TriggerMore(ctx); err != nil {
			return CollectionFailed, fmt.Errorf("scroll trigger %d: %w", round, err)
		}
	}
	l.logger.Warn("scroll round cap reached", zap.Int("max_rounds", l.cfg.MaxScrollRounds))
	return CollectionExhausted, nil
}

// emitNovel fingerprints each item, drops duplicates via the fingerprint
// store, and emits survivors in source order. It returns the novel count.
func (l *Loop) emitNovel(ctx context.Context, items []Item, emit func(Item)) int {
	novel := 0
	for _, it := range items {
		if it.Fingerprint == "" {
			fp, err := Fingerprint(it.SourceLocator)
			if err != nil {
				l.logger.Warn("unfingerprintable locator",
					zap.String("locator", it.SourceLocator), zap.Error(err))
				continue
			}
			it.Fingerprint = fp
		}
		if it.Kind == "" {
			it.Kind = InferKind(it.SourceLocator)
		}
		it.CollectionID = l.src.ID
		if !l.seen.CheckAndMark(ctx, it.Fingerprint) {
			continue
		}
		novel++
		emit(it)
	}
	return novel
}
