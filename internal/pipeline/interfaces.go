package pipeline

import (
	"context"
	"time"
)

// FingerprintStore answers, atomically, "has this fingerprint been seen
// before, and if not, remember it". Under concurrent calls with the same
// fingerprint exactly one caller observes true.
type FingerprintStore interface {
	CheckAndMark(ctx context.Context, fingerprint string) bool
}

// Ledger tracks which collections have been fully processed so a re-run can
// skip them. MarkDone is idempotent and durable.
type Ledger interface {
	Done(collectionID string) bool
	MarkDone(collectionID string) error
}

// RecordSink appends item metadata rows to durable storage. Implementations
// must be safe for concurrent appenders.
type RecordSink interface {
	Append(rec Record) error
}

// MediaStore persists fetched content bytes and returns the local path.
type MediaStore interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// FetchResult is the raw response from the primary fetch path.
type FetchResult struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Fetcher is the cheap, direct download path.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResult, error)
}

// Renderer is the expensive fallback path: it loads the locator in a real
// browser session and captures the visual content. Each call owns an
// independent session for the duration of the attempt.
type Renderer interface {
	Capture(ctx context.Context, rawURL string) ([]byte, error)
}

// PageFetcher advances one page of a paginated collection. It is supplied by
// the site-specific layer; the pipeline never interprets the cursor.
type PageFetcher func(ctx context.Context, cursor string) PageResult

// ScrollSession progressively reveals items in a lazy-loading view. Sessions
// are single-use; a fresh session is opened per scan.
type ScrollSession interface {
	// TriggerMore requests the next reveal (e.g. scrolls the view).
	TriggerMore(ctx context.Context) error
	// VisibleItems returns every item currently revealed, in source order.
	VisibleItems(ctx context.Context) ([]Item, error)
	Close() error
}

// Source describes one collection to the pipeline: an opaque id plus the
// site-specific callbacks that enumerate its content.
type Source struct {
	ID     string
	Mode   DiscoveryMode
	Cursor string

	// Pages drives paginated discovery. Required when Mode is ModePaginated.
	Pages PageFetcher

	// OpenScroll starts a scroll session. Required when Mode is ModeScroll.
	OpenScroll func(ctx context.Context) (ScrollSession, error)
}

// Clock returns the current time (swapped for a fake in tests).
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock with the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
