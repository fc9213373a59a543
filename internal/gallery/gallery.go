// Package gallery adapts declarative collection descriptors into pipeline
// sources. A descriptor names the page template and the CSS selectors that
// locate media on it, so a new site needs configuration rather than code.
package gallery

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/crawlkit/mediaharvest/internal/pipeline"
	"github.com/crawlkit/mediaharvest/internal/render"
)

// Descriptor declares one collection in the collections file.
type Descriptor struct {
	ID           string `yaml:"id"`
	Mode         string `yaml:"mode"`
	PageURL      string `yaml:"page_url"`
	ItemSelector string `yaml:"item_selector"`
	LocatorAttr  string `yaml:"locator_attr"`
	NameAttr     string `yaml:"name_attr"`
}

type collectionsFile struct {
	Collections []Descriptor `yaml:"collections"`
}

// LoadDescriptors reads the collections file. A missing or empty file is a
// configuration error: the pipeline has nothing to do without it.
func LoadDescriptors(path string) ([]Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collections file %s: %w", path, err)
	}
	var f collectionsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse collections file %s: %w", path, err)
	}
	if len(f.Collections) == 0 {
		return nil, fmt.Errorf("collections file %s declares no collections", path)
	}
	for i, d := range f.Collections {
		if d.ID == "" || d.PageURL == "" || d.ItemSelector == "" || d.LocatorAttr == "" {
			return nil, fmt.Errorf("collection %d: id, page_url, item_selector, and locator_attr are required", i)
		}
		// Paginated templates take the page number via a single %d verb; a
		// malformed template would otherwise surface as a cryptic fetch error
		// on the first page.
		if d.Mode == "" || d.Mode == "paginated" {
			if strings.Count(d.PageURL, "%d") != 1 {
				return nil, fmt.Errorf("collection %s: page_url must contain exactly one %%d page placeholder", d.ID)
			}
		}
	}
	return f.Collections, nil
}

// Adapter turns descriptors into pipeline sources.
type Adapter struct {
	fetcher  pipeline.Fetcher
	capturer *render.Capturer
	logger   *zap.Logger
}

// NewAdapter builds an adapter. The capturer may be nil when rendering is
// disabled; scroll-mode descriptors are then rejected.
func NewAdapter(fetcher pipeline.Fetcher, capturer *render.Capturer, logger *zap.Logger) *Adapter {
	return &Adapter{fetcher: fetcher, capturer: capturer, logger: logger}
}

// Sources converts every descriptor into a pipeline source.
func (a *Adapter) Sources(descs []Descriptor) ([]pipeline.Source, error) {
	sources := make([]pipeline.Source, 0, len(descs))
	for _, d := range descs {
		switch d.Mode {
		case "scroll":
			if a.capturer == nil {
				return nil, fmt.Errorf("collection %s uses scroll mode but rendering is disabled", d.ID)
			}
			sources = append(sources, a.scrollSource(d))
		case "", "paginated":
			sources = append(sources, a.paginatedSource(d))
		default:
			return nil, fmt.Errorf("collection %s: unknown mode %q", d.ID, d.Mode)
		}
	}
	return sources, nil
}

// paginatedSource numbers pages from 1 and substitutes the page number into
// the descriptor's URL template. The cursor is the next page number.
func (a *Adapter) paginatedSource(d Descriptor) pipeline.Source {
	return pipeline.Source{
		ID:   d.ID,
		Mode: pipeline.ModePaginated,
		Pages: func(ctx context.Context, cursor string) pipeline.PageResult {
			page := 1
			if cursor != "" {
				parsed, err := strconv.Atoi(cursor)
				if err != nil {
					return pipeline.PageFailure(fmt.Errorf("bad cursor %q: %w", cursor, err))
				}
				page = parsed
			}
			pageURL := fmt.Sprintf(d.PageURL, page)
			res, err := a.fetcher.Fetch(ctx, pageURL)
			if err != nil {
				return pipeline.PageFailure(fmt.Errorf("fetch page %d: %w", page, err))
			}
			switch {
			case res.StatusCode == http.StatusNotFound:
				return pipeline.EndOfPages()
			case res.StatusCode < 200 || res.StatusCode > 299:
				return pipeline.PageFailure(fmt.Errorf("page %d: status %d", page, res.StatusCode))
			}
			items, err := extractItems(pageURL, res.Body, d)
			if err != nil {
				return pipeline.PageFailure(fmt.Errorf("parse page %d: %w", page, err))
			}
			a.logger.Debug("collection page parsed",
				zap.String("collection_id", d.ID),
				zap.Int("page", page),
				zap.Int("items", len(items)),
			)
			return pipeline.PageOf(items, strconv.Itoa(page+1))
		},
	}
}

func (a *Adapter) scrollSource(d Descriptor) pipeline.Source {
	return pipeline.Source{
		ID:   d.ID,
		Mode: pipeline.ModeScroll,
		OpenScroll: func(ctx context.Context) (pipeline.ScrollSession, error) {
			sess, err := a.capturer.OpenScroll(ctx, d.PageURL, render.ScrollConfig{
				ItemSelector: d.ItemSelector,
				LocatorAttr:  d.LocatorAttr,
				NameAttr:     d.NameAttr,
			})
			if err != nil {
				return nil, err
			}
			return sess, nil
		},
	}
}

// extractItems pulls locator/name pairs out of a fetched page, resolving
// relative locators against the page URL.
func extractItems(pageURL string, body []byte, d Descriptor) ([]pipeline.Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	var items []pipeline.Item
	doc.Find(d.ItemSelector).Each(func(_ int, sel *goquery.Selection) {
		locator, ok := sel.Attr(d.LocatorAttr)
		if !ok || locator == "" {
			return
		}
		if ref, err := url.Parse(locator); err == nil {
			locator = base.ResolveReference(ref).String()
		}
		name := ""
		if d.NameAttr != "" {
			name, _ = sel.Attr(d.NameAttr)
		}
		items = append(items, pipeline.Item{
			SourceLocator: locator,
			DisplayName:   name,
		})
	})
	return items, nil
}
