package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SchedulerConfig sizes the three worker pools. The fallback fetch budget is
// enforced separately by the renderer, which holds the expensive resource.
type SchedulerConfig struct {
	CollectionWorkers int
	DiscoveryWorkers  int
	FetchWorkers      int
	ProgressInterval  time.Duration
}

// Validate rejects non-positive pool sizes.
func (c SchedulerConfig) Validate() error {
	if c.CollectionWorkers <= 0 {
		return fmt.Errorf("collection workers must be > 0")
	}
	if c.DiscoveryWorkers <= 0 {
		return fmt.Errorf("discovery workers must be > 0")
	}
	if c.FetchWorkers <= 0 {
		return fmt.Errorf("fetch workers must be > 0")
	}
	return nil
}

// Observer receives pipeline progress events. Implementations must be safe
// for concurrent use.
type Observer interface {
	ItemDiscovered()
	OutcomeRecorded(status FetchStatus, usedRender bool)
	CollectionFinished(state CollectionState)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) ItemDiscovered()                    {}
func (NopObserver) OutcomeRecorded(FetchStatus, bool)  {}
func (NopObserver) CollectionFinished(CollectionState) {}

// Stats summarizes a completed run.
type Stats struct {
	CollectionsExhausted int64
	CollectionsFailed    int64
	CollectionsSkipped   int64
	ItemsDiscovered      int64
	ItemsSucceeded       int64
	ItemsFailed          int64
}

// Scheduler drives discovery and fetch under independently bounded pools so a
// slow fallback fetch cannot starve collection discovery. All durable state
// (fingerprints, ledger, sink) is held here and passed into workers
// explicitly; there are no package-level singletons.
type Scheduler struct {
	cfg      SchedulerConfig
	disc     DiscoveryConfig
	seen     FingerprintStore
	ledger   Ledger
	sink     RecordSink
	strategy *Strategy
	obs      Observer
	logger   *zap.Logger

	stats struct {
		exhausted, failed, skipped atomic.Int64
		discovered, ok, bad        atomic.Int64
	}
}

// NewScheduler wires the pipeline components together.
func NewScheduler(
	cfg SchedulerConfig,
	disc DiscoveryConfig,
	seen FingerprintStore,
	ledger Ledger,
	sink RecordSink,
	strategy *Strategy,
	obs Observer,
	logger *zap.Logger,
) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Scheduler{
		cfg:      cfg,
		disc:     disc,
		seen:     seen,
		ledger:   ledger,
		sink:     sink,
		strategy: strategy,
		obs:      obs,
		logger:   logger,
	}, nil
}

type fetchTask struct {
	item Item
	done *sync.WaitGroup
}

// Run processes every source and blocks until all three pools drain. Context
// cancellation stops intake of new collections and lets in-flight fetches
// finish; it never abandons a fetch mid-write.
func (s *Scheduler) Run(ctx context.Context, sources []Source) (Stats, error) {
	fetchCh := make(chan fetchTask)
	var fetchWG sync.WaitGroup
	for i := 0; i < s.cfg.FetchWorkers; i++ {
		fetchWG.Add(1)
		go func() {
			defer fetchWG.Done()
			s.fetchWorker(ctx, fetchCh)
		}()
	}

	stopProgress := s.startProgress()

	srcCh := make(chan Source)
	discoverySem := make(chan struct{}, s.cfg.DiscoveryWorkers)
	var collWG sync.WaitGroup
	for i := 0; i < s.cfg.CollectionWorkers; i++ {
		collWG.Add(1)
		go func() {
			defer collWG.Done()
			for src := range srcCh {
				s.processCollection(ctx, src, discoverySem, fetchCh)
			}
		}()
	}

feed:
	for _, src := range sources {
		if s.ledger.Done(src.ID) {
			s.stats.skipped.Add(1)
			s.logger.Info("collection already checkpointed, skipping",
				zap.String("collection_id", src.ID))
			continue
		}
		select {
		case srcCh <- src:
		case <-ctx.Done():
			s.logger.Warn("shutdown requested, no further collections accepted")
			break feed
		}
	}
	close(srcCh)

	collWG.Wait()
	close(fetchCh)
	fetchWG.Wait()
	stopProgress()

	stats := s.Snapshot()
	s.logger.Info("run complete",
		zap.Int64("collections_exhausted", stats.CollectionsExhausted),
		zap.Int64("collections_failed", stats.CollectionsFailed),
		zap.Int64("collections_skipped", stats.CollectionsSkipped),
		zap.Int64("items_discovered", stats.ItemsDiscovered),
		zap.Int64("items_succeeded", stats.ItemsSucceeded),
		zap.Int64("items_failed", stats.ItemsFailed),
	)
	return stats, ctx.Err()
}

// processCollection runs one discovery loop and waits for every item it
// produced to clear the fetch pool before checkpointing the collection.
func (s *Scheduler) processCollection(
	ctx context.Context,
	src Source,
	discoverySem chan struct{},
	fetchCh chan<- fetchTask,
) {
	select {
	case discoverySem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	var itemWG sync.WaitGroup
	loop := NewLoop(src, s.disc, s.seen, s.logger)
	state, err := loop.Run(ctx, func(it Item) {
		s.stats.discovered.Add(1)
		s.obs.ItemDiscovered()
		itemWG.Add(1)
		select {
		case fetchCh <- fetchTask{item: it, done: &itemWG}:
		case <-ctx.Done():
			itemWG.Done()
		}
	})
	<-discoverySem

	// One collection's failure never aborts the run.
	if err != nil {
		s.logger.Error("collection discovery failed",
			zap.String("collection_id", src.ID), zap.Error(err))
	}
	itemWG.Wait()

	s.obs.CollectionFinished(state)
	switch state {
	case CollectionExhausted:
		s.stats.exhausted.Add(1)
		if err := s.ledger.MarkDone(src.ID); err != nil {
			s.logger.Error("checkpoint write failed",
				zap.String("collection_id", src.ID), zap.Error(err))
		}
	case CollectionFailed:
		s.stats.failed.Add(1)
	}
}

func (s *Scheduler) fetchWorker(ctx context.Context, tasks <-chan fetchTask) {
	for task := range tasks {
		out := s.strategy.Do(ctx, task.item)
		if out.Status == FetchSuccess {
			s.stats.ok.Add(1)
		} else {
			s.stats.bad.Add(1)
		}
		s.obs.OutcomeRecorded(out.Status, out.UsedRender)
		if err := s.sink.Append(RecordFromOutcome(task.item, out)); err != nil {
			s.logger.Error("record append failed",
				zap.String("fingerprint", task.item.Fingerprint), zap.Error(err))
		}
		task.done.Done()
	}
}

// startProgress emits a running processed-item count so progress is
// observable without reading the sink file.
func (s *Scheduler) startProgress() func() {
	if s.cfg.ProgressInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.cfg.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.logger.Info("progress",
					zap.Int64("items_discovered", s.stats.discovered.Load()),
					zap.Int64("items_processed", s.stats.ok.Load()+s.stats.bad.Load()),
				)
			}
		}
	}()
	return func() { close(done) }
}

// Snapshot returns a point-in-time view of run progress.
func (s *Scheduler) Snapshot() Stats {
	return Stats{
		CollectionsExhausted: s.stats.exhausted.Load(),
		CollectionsFailed:    s.stats.failed.Load(),
		CollectionsSkipped:   s.stats.skipped.Load(),
		ItemsDiscovered:      s.stats.discovered.Load(),
		ItemsSucceeded:       s.stats.ok.Load(),
		ItemsFailed:          s.stats.bad.Load(),
	}
}
