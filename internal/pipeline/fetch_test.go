package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// scriptedFetcher returns the scripted outcomes in order, repeating the last.
type scriptedFetcher struct {
	mu      sync.Mutex
	script  []fetchStep
	fetches int
}

type fetchStep struct {
	res FetchResult
	err error
}

func (f *scriptedFetcher) Fetch(context.Context, string) (FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	step := f.script[len(f.script)-1]
	if f.fetches < len(f.script) {
		step = f.script[f.fetches]
	}
	f.fetches++
	return step.res, step.err
}

type fakeRenderer struct {
	mu       sync.Mutex
	captures int
	data     []byte
	err      error
}

func (r *fakeRenderer) Capture(context.Context, string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures++
	return r.data, r.err
}

type memStore struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string][]byte)}
}

func (m *memStore) Save(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[name] = data
	return "/media/" + name, nil
}

func testItem() Item {
	return Item{
		SourceLocator: "https://cdn.example.com/c1/photo.jpg",
		CollectionID:  "c1",
		Kind:          KindImage,
		Fingerprint:   "abc123",
	}
}

func newTestStrategy(t *testing.T, f Fetcher, r Renderer, store MediaStore, attempts int) *Strategy {
	t.Helper()
	return NewStrategy(
		f, r, store,
		NewRetryPolicy(attempts),
		ContentSniffer{RejectHTML: true},
		StrategyConfig{RequestTimeout: time.Second, RenderTimeout: time.Second},
		zaptest.NewLogger(t),
	)
}

func TestStrategyPrimarySuccess(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []fetchStep{
		{res: FetchResult{StatusCode: 200, ContentType: "image/png", Body: pngHeader}},
	}}
	renderer := &fakeRenderer{data: []byte("capture")}
	store := newMemStore()

	out := newTestStrategy(t, fetcher, renderer, store, 3).Do(context.Background(), testItem())
	require.Equal(t, FetchSuccess, out.Status)
	require.Equal(t, "/media/c1/abc123.jpg", out.LocalPath)
	require.False(t, out.UsedRender)
	require.Equal(t, "abc123", out.Fingerprint)
	require.Equal(t, 1, fetcher.fetches)
	require.Zero(t, renderer.captures)
}

func TestStrategyRetriesThenFallsBackExactlyOnce(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []fetchStep{
		{err: context.DeadlineExceeded},
	}}
	renderer := &fakeRenderer{data: []byte("rendered png")}
	store := newMemStore()

	out := newTestStrategy(t, fetcher, renderer, store, 3).Do(context.Background(), testItem())
	require.Equal(t, FetchSuccess, out.Status)
	require.True(t, out.UsedRender)
	require.Equal(t, "/media/c1/abc123.png", out.LocalPath, "captures always land as png")
	require.Equal(t, 3, fetcher.fetches, "full retry budget before escalating")
	require.Equal(t, 1, renderer.captures, "exactly one fallback attempt")
}

func TestStrategyProtocolRejectionNeverEscalates(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []fetchStep{
		{res: FetchResult{StatusCode: 404}},
	}}
	renderer := &fakeRenderer{data: []byte("capture")}
	store := newMemStore()

	out := newTestStrategy(t, fetcher, renderer, store, 3).Do(context.Background(), testItem())
	require.Equal(t, FetchTerminal, out.Status)
	require.Contains(t, out.Message, "404")
	require.Equal(t, 1, fetcher.fetches, "a deliberate rejection is not retried")
	require.Zero(t, renderer.captures, "a deliberate rejection is not escalated")
	require.Empty(t, store.saved)
}

func TestStrategyHTMLBodyIsTerminal(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []fetchStep{
		{res: FetchResult{
			StatusCode:  200,
			ContentType: "text/html",
			Body:        []byte("<html><head><title>Please sign in</title></head></html>"),
		}},
	}}
	renderer := &fakeRenderer{data: []byte("capture")}
	store := newMemStore()

	out := newTestStrategy(t, fetcher, renderer, store, 3).Do(context.Background(), testItem())
	require.Equal(t, FetchTerminal, out.Status)
	require.Contains(t, out.Message, "content mismatch")
	require.Zero(t, renderer.captures)
	require.Empty(t, store.saved)
}

func TestStrategyRenderFailureIsTerminal(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []fetchStep{
		{err: context.DeadlineExceeded},
	}}
	renderer := &fakeRenderer{err: context.DeadlineExceeded}
	store := newMemStore()

	out := newTestStrategy(t, fetcher, renderer, store, 2).Do(context.Background(), testItem())
	require.Equal(t, FetchTerminal, out.Status)
	require.Contains(t, out.Message, "render failed")
	require.Equal(t, 1, renderer.captures, "a failed render is never retried")
	require.Empty(t, store.saved)
}

func TestStrategyNilRendererDisablesFallback(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []fetchStep{
		{err: context.DeadlineExceeded},
	}}
	store := newMemStore()

	out := newTestStrategy(t, fetcher, nil, store, 2).Do(context.Background(), testItem())
	require.Equal(t, FetchTerminal, out.Status)
	require.Contains(t, out.Message, "fallback disabled")
}

func TestStrategyRecoversWithinRetryBudget(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []fetchStep{
		{err: context.DeadlineExceeded},
		{res: FetchResult{StatusCode: 200, ContentType: "image/png", Body: pngHeader}},
	}}
	renderer := &fakeRenderer{}
	store := newMemStore()

	out := newTestStrategy(t, fetcher, renderer, store, 3).Do(context.Background(), testItem())
	require.Equal(t, FetchSuccess, out.Status)
	require.False(t, out.UsedRender)
	require.Equal(t, 2, fetcher.fetches)
	require.Zero(t, renderer.captures)
}

func TestLocalNameExtensionHandling(t *testing.T) {
	t.Parallel()

	it := testItem()
	require.Equal(t, "c1/abc123.jpg", localName(it, ""))
	require.Equal(t, "c1/abc123.png", localName(it, ".png"))

	it.SourceLocator = "https://cdn.example.com/stream"
	require.Equal(t, "c1/abc123.bin", localName(it, ""))
}
