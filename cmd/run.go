package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crawlkit/mediaharvest/internal/api"
	"github.com/crawlkit/mediaharvest/internal/config"
	"github.com/crawlkit/mediaharvest/internal/dedup"
	"github.com/crawlkit/mediaharvest/internal/fetcher"
	"github.com/crawlkit/mediaharvest/internal/gallery"
	"github.com/crawlkit/mediaharvest/internal/ledger"
	"github.com/crawlkit/mediaharvest/internal/logging"
	"github.com/crawlkit/mediaharvest/internal/metrics"
	"github.com/crawlkit/mediaharvest/internal/pipeline"
	"github.com/crawlkit/mediaharvest/internal/render"
	"github.com/crawlkit/mediaharvest/internal/sink"
)

func newRunCmd() *cobra.Command {
	var collectionsFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the acquisition pipeline over the configured collections.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if collectionsFile != "" {
				cfg.Pipeline.CollectionsFile = collectionsFile
			}
			if cfg.Pipeline.CollectionsFile == "" {
				return fmt.Errorf("no collections file: set pipeline.collections_file or pass --collections")
			}
			return runPipeline(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&collectionsFile, "collections", "", "collections file (overrides pipeline.collections_file)")

	return cmd
}

func runPipeline(parent context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("run_id", uuid.NewString()))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	seen, cleanupSeen := newFingerprintStore(cfg.Redis, logger)
	defer cleanupSeen()

	checkpoints, err := ledger.Open(cfg.Output.CheckpointFile)
	if err != nil {
		return err
	}
	defer func() { _ = checkpoints.Close() }()
	logger.Info("checkpoint ledger loaded",
		zap.String("path", cfg.Output.CheckpointFile),
		zap.Int("completed_collections", checkpoints.Count()),
	)

	records, err := sink.OpenCSV(cfg.Output.RecordsFile)
	if err != nil {
		return err
	}
	defer func() { _ = records.Close() }()

	media, err := sink.NewDirStore(cfg.Output.MediaDir)
	if err != nil {
		return err
	}

	primary, err := fetcher.New(fetcher.Config{
		UserAgent:          cfg.HTTP.UserAgent,
		RequestTimeout:     cfg.HTTP.RequestTimeout,
		Concurrency:        cfg.Pipeline.FetchConcurrency,
		RateLimitPerDomain: cfg.HTTP.RateLimitPerDomain,
		MaxBodyBytes:       cfg.HTTP.MaxBodyBytes,
	}, logger)
	if err != nil {
		return fmt.Errorf("build fetcher: %w", err)
	}

	metrics.Init()

	var renderer pipeline.Renderer
	var capturer *render.Capturer
	if cfg.Render.Enabled && cfg.Pipeline.FallbackConcurrency > 0 {
		capturer, err = render.NewCapturer(render.Config{
			UserAgent:      cfg.HTTP.UserAgent,
			MaxConcurrency: cfg.Pipeline.FallbackConcurrency,
			Timeout:        cfg.Render.Timeout,
			DomainQPS:      cfg.Render.DomainQPS,
			OnAcquire:      metrics.RenderSessionAcquired,
			OnRelease:      metrics.RenderSessionReleased,
		}, logger)
		if err != nil {
			return fmt.Errorf("build renderer: %w", err)
		}
		defer func() { _ = capturer.Close() }()
		renderer = capturer
	} else {
		logger.Info("render fallback disabled; escalations will terminate as failures")
	}

	strategy := pipeline.NewStrategy(
		primary,
		renderer,
		media,
		pipeline.NewRetryPolicy(cfg.Pipeline.RetryCount),
		pipeline.ContentSniffer{RejectHTML: cfg.HTTP.RejectHTMLContent},
		pipeline.StrategyConfig{
			RequestTimeout: cfg.HTTP.RequestTimeout,
			RenderTimeout:  cfg.Render.Timeout,
		},
		logger,
	)

	descs, err := gallery.LoadDescriptors(cfg.Pipeline.CollectionsFile)
	if err != nil {
		return err
	}
	sources, err := gallery.NewAdapter(primary, capturer, logger).Sources(descs)
	if err != nil {
		return err
	}

	scheduler, err := pipeline.NewScheduler(
		pipeline.SchedulerConfig{
			CollectionWorkers: cfg.Pipeline.CollectionConcurrency,
			DiscoveryWorkers:  cfg.Pipeline.DiscoveryConcurrency,
			FetchWorkers:      cfg.Pipeline.FetchConcurrency,
			ProgressInterval:  30 * time.Second,
		},
		pipeline.DiscoveryConfig{
			StabilityRounds: cfg.Discovery.ScrollStabilityRounds,
			MaxScrollRounds: cfg.Discovery.MaxScrollRounds,
		},
		seen,
		checkpoints,
		records,
		strategy,
		metrics.NewObserver(),
		logger,
	)
	if err != nil {
		return err
	}

	if cfg.Server.Enabled {
		srv := api.NewServer(cfg.Server.Port, scheduler.Snapshot, logger)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("observability server shutdown", zap.Error(err))
			}
		}()
		logger.Info("observability server listening", zap.Int("port", cfg.Server.Port))
	}

	logger.Info("starting run", zap.Int("collections", len(sources)))
	stats, err := scheduler.Run(ctx, sources)
	if err != nil {
		logger.Warn("run interrupted", zap.Error(err))
	}

	if capturer != nil {
		acquired, released := capturer.Sessions()
		if acquired != released {
			logger.Error("render session leak detected",
				zap.Int64("acquired", acquired), zap.Int64("released", released))
		}
	}

	if stats.CollectionsFailed > 0 {
		return fmt.Errorf("%d collections failed; rerun to retry them", stats.CollectionsFailed)
	}
	return err
}

// newFingerprintStore connects the shared Redis set when configured, falling
// back to the in-process set when Redis is absent or unreachable at startup.
func newFingerprintStore(cfg config.RedisConfig, logger *zap.Logger) (*dedup.Store, func()) {
	if cfg.Addr == "" {
		logger.Info("no redis address configured, using in-process fingerprint set")
		return dedup.NewLocalStore(logger), func() {}
	}
	backend, err := dedup.NewRedisSet(cfg.Addr, cfg.Namespace+":fingerprints")
	if err != nil {
		logger.Warn("redis unreachable at startup, using in-process fingerprint set",
			zap.String("addr", cfg.Addr), zap.Error(err))
		return dedup.NewLocalStore(logger), func() {}
	}
	logger.Info("fingerprint set backed by redis", zap.String("addr", cfg.Addr))
	return dedup.NewStore(backend, logger), func() { _ = backend.Close() }
}
