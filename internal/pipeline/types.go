// Package pipeline defines core types shared across subsystems and implements
// the discovery, fetch, and scheduling stages of the acquisition pipeline.
package pipeline

import (
	"time"
)

// ContentKind classifies the media type inferred for a discovered item.
type ContentKind string

// Content kinds recorded in the sink.
const (
	KindImage   ContentKind = "image"
	KindVideo   ContentKind = "video"
	KindUnknown ContentKind = "unknown"
)

// Item is one discovered unit of content. Items are created by the discovery
// loop and never mutated afterwards; completion is tracked in the ledger.
type Item struct {
	SourceLocator string
	DisplayName   string
	CollectionID  string
	Kind          ContentKind
	Fingerprint   string
}

// CollectionState is the lifecycle state of a collection.
type CollectionState string

// Collection states.
const (
	CollectionActive    CollectionState = "active"
	CollectionExhausted CollectionState = "exhausted"
	CollectionFailed    CollectionState = "failed"
)

// DiscoveryMode selects the enumeration strategy for a collection.
type DiscoveryMode string

// Discovery modes.
const (
	ModePaginated DiscoveryMode = "paginated"
	ModeScroll    DiscoveryMode = "scroll"
)

// FetchStatus is the terminal classification of a fetch attempt.
type FetchStatus string

// Fetch statuses persisted in the record sink.
const (
	FetchSuccess   FetchStatus = "success"
	FetchRetryable FetchStatus = "retryable_failure"
	FetchTerminal  FetchStatus = "terminal_failure"
)

// FetchOutcome is the result of materializing one item. A retried fetch
// produces a new outcome; outcomes are never mutated.
type FetchOutcome struct {
	Fingerprint string
	Status      FetchStatus
	LocalPath   string
	Message     string
	UsedRender  bool
	Duration    time.Duration
}

// Record is one row persisted to the record sink.
type Record struct {
	SourceLocator string
	DisplayName   string
	CollectionID  string
	Kind          ContentKind
	Status        FetchStatus
	LocalPath     string
	Message       string
}

// RecordFromOutcome builds the sink row for a completed item.
func RecordFromOutcome(item Item, out FetchOutcome) Record {
	return Record{
		SourceLocator: item.SourceLocator,
		DisplayName:   item.DisplayName,
		CollectionID:  item.CollectionID,
		Kind:          item.Kind,
		Status:        out.Status,
		LocalPath:     out.LocalPath,
		Message:       out.Message,
	}
}

// PageResultKind discriminates the page-fetch sum type.
type PageResultKind int

// Page fetch results. End-of-pagination is an explicit value, never an error.
const (
	PageOK PageResultKind = iota
	PageEnd
	PageError
)

// PageResult is the outcome of advancing a collection by one page.
type PageResult struct {
	Kind  PageResultKind
	Items []Item
	Next  string
	Err   error
}

// PageOf returns a successful page with the cursor for the next request.
// An empty next cursor signals that no further page exists.
func PageOf(items []Item, next string) PageResult {
	return PageResult{Kind: PageOK, Items: items, Next: next}
}

// EndOfPages signals an explicit end of pagination.
func EndOfPages() PageResult {
	return PageResult{Kind: PageEnd}
}

// PageFailure signals that the page request itself failed.
func PageFailure(err error) PageResult {
	return PageResult{Kind: PageError, Err: err}
}
