// Package fetcher implements the primary fetch path using the Colly
// collector.
package fetcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/crawlkit/mediaharvest/internal/pipeline"
)

// Config controls collector behavior.
type Config struct {
	UserAgent          string
	RequestTimeout     time.Duration
	Concurrency        int
	RateLimitPerDomain int
	MaxBodyBytes       int
}

// Colly implements pipeline.Fetcher with a shared base collector that is
// cloned per fetch.
type Colly struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New constructs a configured Colly-based fetcher.
func New(cfg Config, logger *zap.Logger) (*Colly, error) {
	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       cfg.Concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)
	if cfg.MaxBodyBytes > 0 {
		base.MaxBodySize = cfg.MaxBodyBytes
	}

	delay := time.Second / time.Duration(maxInt(1, cfg.RateLimitPerDomain))
	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Concurrency,
		Delay:       delay,
	}); err != nil {
		return nil, err
	}

	return &Colly{baseCollector: base, logger: logger}, nil
}

// Fetch retrieves a locator via a clone of the base collector.
func (f *Colly) Fetch(ctx context.Context, rawURL string) (pipeline.FetchResult, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}
	start := time.Now()

	collector.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		send(fetchResult{res: pipeline.FetchResult{
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		// Colly reports non-2xx statuses through OnError; surface them as a
		// response so the strategy can classify the rejection.
		if r != nil && r.StatusCode > 0 {
			send(fetchResult{res: pipeline.FetchResult{
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
				Duration:   time.Since(start),
			}})
			return
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return pipeline.FetchResult{}, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return pipeline.FetchResult{}, err
		}
		return res.res, res.err
	default:
		return pipeline.FetchResult{}, errors.New("fetch produced no result")
	}
}

type fetchResult struct {
	res pipeline.FetchResult
	err error
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
