// Package scraper defines the contract between the floor engine and the
// marketplace adapters that fetch raw catalog, model and listing records.
package scraper

import (
	"context"
	"fmt"
	"time"
)

// RawListing, RawModel and RawCollection are decoded JSON objects exactly as
// the remote feed returned them. Numbers are json.Number.
type (
	RawListing    = map[string]any
	RawModel      = map[string]any
	RawCollection = map[string]any
)

// Order is the sort order of a listing feed.
type Order int

const (
	ByPrice Order = iota
	ByRecency
)

func (o Order) String() string {
	if o == ByRecency {
		return "recency"
	}
	return "price"
}

// PageRequest asks for one page of a collection's listing feed.
type PageRequest struct {
	CollectionID string
	Order        Order
	// Cursor is empty for the first page, otherwise the NextCursor of the previous page verbatim.
	Cursor string
	Limit  int
	// ModelFilter restricts the feed to one model's strong id. Empty means no filter.
	ModelFilter string
}

// Page is one page of listings. An empty NextCursor means the feed is exhausted.
type Page struct {
	Items      []RawListing
	NextCursor string
}

// Source is a paginated resale feed.
type Source interface {
	ListCollections(ctx context.Context) ([]RawCollection, error)
	ListModels(ctx context.Context, collectionID string) ([]RawModel, error)
	ListPage(ctx context.Context, req PageRequest) (*Page, error)
}

// RateLimitedError is returned when the server asks the caller to wait.
type RateLimitedError struct {
	Wait time.Duration
	Msg  string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %v: %s", e.Wait, e.Msg)
}

// RetryAfter is the server-signalled wait.
func (e *RateLimitedError) RetryAfter() time.Duration { return e.Wait }

// TransientError wraps a network or server failure that may succeed on retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Temporary marks the error as retryable.
func (e *TransientError) Temporary() bool { return true }
