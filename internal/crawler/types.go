// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// ListingItem is one entry discovered on a listing page.
type ListingItem struct {
	// ID is unique within a single listing page.
	ID string
	// URL is the absolute detail-page URL.
	URL string
}

// PageResult maps item identifiers to the raw HTML of their detail pages.
type PageResult map[string]string

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// StopReason describes why a run ended.
type StopReason string

// Stop reasons recorded on a RunReport.
const (
	StopCompleted              StopReason = "completed"
	StopEndOfListing           StopReason = "end_of_listing"
	StopTooManyListingFailures StopReason = "too_many_listing_failures"
	StopCanceled               StopReason = "canceled"
	StopListingDisallowed      StopReason = "listing_disallowed"
	StopCheckpointError        StopReason = "checkpoint_error"
	StopDiscoveryFailed        StopReason = "discovery_failed"
)

// RunReport summarises one crawl invocation.
type RunReport struct {
	RunID          string     `json:"run_id"`
	StartPage      int        `json:"start_page"`
	EndPage        int        `json:"end_page"`
	PagesCommitted int        `json:"pages_committed"`
	PagesSkipped   int        `json:"pages_skipped"`
	PagesFailed    int        `json:"pages_failed"`
	ItemsFetched   int        `json:"items_fetched"`
	ItemsFailed    int        `json:"items_failed"`
	ItemsDenied    int        `json:"items_denied"`
	DeniedURLs     []string   `json:"denied_urls,omitempty"`
	Stopped        StopReason `json:"stopped"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     time.Time  `json:"finished_at"`
}
