package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
)

// StrategyConfig bounds the two fetch paths.
type StrategyConfig struct {
	RequestTimeout time.Duration
	RenderTimeout  time.Duration
}

// Strategy turns an item's locator into local content: a direct streamed
// download first, a browser-rendered capture when the direct path fails
// ambiguously. Every outcome it returns is terminal (success or
// terminal_failure); retryable failures are resolved internally.
type Strategy struct {
	fetcher  Fetcher
	renderer Renderer
	store    MediaStore
	retry    *RetryPolicy
	sniffer  ContentSniffer
	cfg      StrategyConfig
	logger   *zap.Logger
}

// NewStrategy builds a fetch strategy. A nil renderer disables the fallback
// path; escalations then terminate as failures.
func NewStrategy(
	fetcher Fetcher,
	renderer Renderer,
	store MediaStore,
	retry *RetryPolicy,
	sniffer ContentSniffer,
	cfg StrategyConfig,
	logger *zap.Logger,
) *Strategy {
	return &Strategy{
		fetcher:  fetcher,
		renderer: renderer,
		store:    store,
		retry:    retry,
		sniffer:  sniffer,
		cfg:      cfg,
		logger:   logger,
	}
}

// Do fetches one item and returns its terminal outcome.
func (s *Strategy) Do(ctx context.Context, item Item) FetchOutcome {
	start := time.Now()
	out := s.primary(ctx, item)
	out.Fingerprint = item.Fingerprint
	out.Duration = time.Since(start)
	return out
}

func (s *Strategy) primary(ctx context.Context, item Item) FetchOutcome {
	var lastErr error
	for attempt := 1; attempt <= s.retry.MaxAttempts(); attempt++ {
		res, err := s.fetchOnce(ctx, item.SourceLocator)
		if err == nil {
			return s.classify(ctx, item, res)
		}
		lastErr = err
		if !IsTransient(err) {
			return terminal(fmt.Sprintf("primary fetch: %v", err))
		}
		if !s.retry.ShouldRetry(err, attempt) {
			break
		}
		s.logger.Debug("primary fetch retry",
			zap.String("locator", item.SourceLocator),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, s.retry.Backoff(attempt)); err != nil {
			return terminal(fmt.Sprintf("fetch canceled: %v", err))
		}
	}
	// Transient failures exhausted the retry budget. The locator may still
	// load under a real browser, so escalate exactly once.
	return s.fallback(ctx, item, lastErr)
}

func (s *Strategy) fetchOnce(ctx context.Context, rawURL string) (FetchResult, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	return s.fetcher.Fetch(fetchCtx, rawURL)
}

func (s *Strategy) classify(ctx context.Context, item Item, res FetchResult) FetchOutcome {
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return terminal(fmt.Sprintf("%v: status %d", ErrProtocolRejection, res.StatusCode))
	}
	if err := s.sniffer.Check(res.ContentType, res.Body); err != nil {
		return terminal(err.Error())
	}
	localPath, err := s.store.Save(ctx, localName(item, ""), res.Body)
	if err != nil {
		return terminal(fmt.Sprintf("save content: %v", err))
	}
	return FetchOutcome{Status: FetchSuccess, LocalPath: localPath}
}

func (s *Strategy) fallback(ctx context.Context, item Item, cause error) FetchOutcome {
	if s.renderer == nil {
		return terminal(fmt.Sprintf("retries exhausted, fallback disabled: %v", cause))
	}
	s.logger.Info("escalating to render capture",
		zap.String("locator", item.SourceLocator),
		zap.Error(cause),
	)

	renderCtx, cancel := context.WithTimeout(ctx, s.cfg.RenderTimeout)
	defer cancel()

	data, err := s.renderer.Capture(renderCtx, item.SourceLocator)
	if err != nil {
		// A hung or failed render session is more likely a persistent block
		// than a blip; it is not retried within the run.
		return terminal(fmt.Sprintf("%v: %v (after %v)", ErrRenderFailed, err, cause))
	}
	localPath, err := s.store.Save(ctx, localName(item, ".png"), data)
	if err != nil {
		return terminal(fmt.Sprintf("save capture: %v", err))
	}
	return FetchOutcome{Status: FetchSuccess, LocalPath: localPath, UsedRender: true}
}

func terminal(msg string) FetchOutcome {
	return FetchOutcome{Status: FetchTerminal, Message: msg}
}

// localName builds the on-disk filename for an item: fingerprint plus the
// locator's extension, or forceExt for captures.
func localName(item Item, forceExt string) string {
	ext := forceExt
	if ext == "" {
		if u, err := url.Parse(item.SourceLocator); err == nil {
			ext = strings.ToLower(path.Ext(u.Path))
		}
		if ext == "" {
			ext = ".bin"
		}
	}
	return item.CollectionID + "/" + item.Fingerprint + ext
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
