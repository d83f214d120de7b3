package crawler

import (
	"context"
	"time"
)

// Fetcher issues a single HTTP GET and returns the response regardless of status.
// Only transport-level failures are reported as errors.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResponse, error)
}

// RobotsPolicy answers whether a URL may be fetched under the loaded robots rules.
type RobotsPolicy interface {
	Allowed(rawURL string) bool
	CrawlDelay() time.Duration
}

// ListingParser extracts listing items and validates detail pages.
type ListingParser interface {
	ParseListing(body []byte) ([]ListingItem, error)
	ValidDetail(body []byte) bool
}

// ListingSource yields the parsed items of one listing page.
type ListingSource interface {
	Listing(ctx context.Context, page int) ([]ListingItem, error)
}

// CheckpointStore persists one PageResult per page number.
type CheckpointStore interface {
	Exists(page int) (bool, error)
	Load(page int) (PageResult, error)
	Save(ctx context.Context, page int, result PageResult) error
}

// MetricsRecorder receives crawl counters. Implementations must be cheap.
type MetricsRecorder interface {
	ObservePage(status string)
	ObserveItem(status string)
	ObserveRequest(statusCode int)
	ObserveRetry()
	ObserveDelay(delay time.Duration)
}

// Clock stamps run reports.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

type noopRecorder struct{}

func (noopRecorder) ObservePage(string) {}
func (noopRecorder) ObserveItem(string) {}
func (noopRecorder) ObserveRequest(int) {}
func (noopRecorder) ObserveRetry() {}
func (noopRecorder) ObserveDelay(time.Duration) {}
