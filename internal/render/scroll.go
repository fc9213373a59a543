package render

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/crawlkit/mediaharvest/internal/pipeline"
)

// ScrollConfig describes how to read items out of a lazy-loading page.
type ScrollConfig struct {
	// ItemSelector matches one element per item, e.g. "div.gallery img".
	ItemSelector string
	// LocatorAttr is the attribute carrying the media URL, e.g. "src".
	LocatorAttr string
	// NameAttr is the attribute carrying the display name; optional.
	NameAttr string
}

// ScrollSession drives infinite-scroll reveal in a dedicated browser tab. It
// implements pipeline.ScrollSession and is single-use.
type ScrollSession struct {
	browserCancel context.CancelFunc
	tabCtx        context.Context
	cfg           ScrollConfig
}

// OpenScroll navigates a fresh browser context to the collection page. The
// session holds the browser until Close; callers that need session
// continuity (login walls, anti-automation challenges) should run their
// collections serially.
func (c *Capturer) OpenScroll(ctx context.Context, pageURL string, cfg ScrollConfig) (*ScrollSession, error) {
	if c == nil {
		return nil, ErrDisabled
	}
	browserCtx, cancel := chromedp.NewContext(c.allocatorCtx)
	navCtx, navCancel := mergeCancel(browserCtx, ctx)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("open scroll page: %w", err)
	}
	return &ScrollSession{browserCancel: cancel, tabCtx: browserCtx, cfg: cfg}, nil
}

// TriggerMore scrolls the view to the bottom to provoke the next lazy load.
func (s *ScrollSession) TriggerMore(ctx context.Context) error {
	runCtx, cancel := mergeCancel(s.tabCtx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
	)
	if err != nil {
		return fmt.Errorf("scroll trigger: %w", err)
	}
	return nil
}

// VisibleItems returns every currently revealed item in document order.
func (s *ScrollSession) VisibleItems(ctx context.Context) ([]pipeline.Item, error) {
	runCtx, cancel := mergeCancel(s.tabCtx, ctx)
	defer cancel()

	var nodes []*cdp.Node
	if err := chromedp.Run(runCtx,
		chromedp.Nodes(s.cfg.ItemSelector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	); err != nil {
		return nil, fmt.Errorf("query visible items: %w", err)
	}

	items := make([]pipeline.Item, 0, len(nodes))
	for _, n := range nodes {
		locator := n.AttributeValue(s.cfg.LocatorAttr)
		if locator == "" {
			continue
		}
		name := ""
		if s.cfg.NameAttr != "" {
			name = n.AttributeValue(s.cfg.NameAttr)
		}
		items = append(items, pipeline.Item{
			SourceLocator: locator,
			DisplayName:   name,
		})
	}
	return items, nil
}

// Close releases the browser context.
func (s *ScrollSession) Close() error {
	s.browserCancel()
	return nil
}

// mergeCancel ties the tab context's lifetime to the caller's context.
func mergeCancel(tab, caller context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(tab)
	stop := forwardCancel(caller, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}
