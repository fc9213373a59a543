// Package render implements the fallback fetch path and scroll-driven
// discovery using headless Chrome via chromedp.
package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrDisabled indicates rendering has been disabled via configuration.
var ErrDisabled = errors.New("renderer disabled")

// Config controls the capture renderer.
type Config struct {
	UserAgent      string
	MaxConcurrency int
	Timeout        time.Duration
	DomainQPS      float64

	// OnAcquire and OnRelease observe session lifecycle; optional.
	OnAcquire func()
	OnRelease func()
}

// Capturer renders a locator in a browser session and captures the visual
// content as a screenshot. Concurrency is bounded by its own semaphore: the
// rendering engine is the scarcest resource in the pipeline, so its budget is
// independent of the primary fetch pool. Each capture owns a fresh browser
// context, never shared between concurrent attempts.
type Capturer struct {
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	timeout         time.Duration
	domainQPS       float64
	domainLimiters  sync.Map
	userAgent       string
	onAcquire       func()
	onRelease       func()

	acquired atomic.Int64
	released atomic.Int64
}

// NewCapturer creates a renderer using the provided configuration.
func NewCapturer(cfg Config, logger *zap.Logger) (*Capturer, error) {
	if cfg.MaxConcurrency <= 0 {
		return nil, ErrDisabled
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Capturer{
		allocatorCtx:    allocatorCtx,
		allocatorCancel: allocatorCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxConcurrency),
		timeout:         cfg.Timeout,
		domainQPS:       cfg.DomainQPS,
		userAgent:       cfg.UserAgent,
		onAcquire:       cfg.OnAcquire,
		onRelease:       cfg.OnRelease,
	}, nil
}

// Close tears down the chromedp allocator.
func (c *Capturer) Close() error {
	if c == nil {
		return nil
	}
	c.allocatorCancel()
	return nil
}

// Sessions reports how many render sessions were acquired and released. The
// two counts must match once the run has drained.
func (c *Capturer) Sessions() (acquired, released int64) {
	return c.acquired.Load(), c.released.Load()
}

// Capture loads the locator in a fresh browser session and returns a PNG
// screenshot of the rendered content. The session is released on every exit
// path; leaking one handle per item is the most damaging failure mode here.
func (c *Capturer) Capture(ctx context.Context, rawURL string) ([]byte, error) {
	if c == nil {
		return nil, ErrDisabled
	}
	release, err := c.acquireSession(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := c.waitDomainBudget(ctx, rawURL); err != nil {
		return nil, fmt.Errorf("render rate limit: %w", err)
	}

	// A fresh browser context per attempt keeps cookies and state from
	// bleeding between unrelated items.
	browserCtx, cancelBrowser := chromedp.NewContext(c.allocatorCtx)
	defer cancelBrowser()

	taskCtx, cancelTask := context.WithTimeout(browserCtx, c.timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var shot []byte
	tasks := chromedp.Tasks{
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.FullScreenshot(&shot, 90),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return nil, fmt.Errorf("chromedp capture: %w", err)
	}
	return shot, nil
}

func (c *Capturer) acquireSession(ctx context.Context) (func(), error) {
	select {
	case c.sem <- struct{}{}:
		c.acquired.Add(1)
		if c.onAcquire != nil {
			c.onAcquire()
		}
		var once sync.Once
		return func() {
			once.Do(func() {
				<-c.sem
				c.released.Add(1)
				if c.onRelease != nil {
					c.onRelease()
				}
			})
		}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render session: %w", ctx.Err())
	}
}

func (c *Capturer) waitDomainBudget(ctx context.Context, rawURL string) error {
	if c.domainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := c.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(c.domainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
