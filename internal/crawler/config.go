package crawler

import (
	"fmt"
	"net/url"
	"time"
)

// Config captures every knob that influences a crawl run. It is built once at
// startup and never mutated afterwards.
type Config struct {
	RunID                         string
	BaseURL                       string
	ListingPath                   string
	PageParam                     string
	StartPage                     int
	EndPage                       int // 0 discovers the last page
	DelayMin                      time.Duration
	DelayMax                      time.Duration
	MaxConsecutiveListingFailures int
	MaxDiscoveryPages             int
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("crawler.base_url: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("crawler.base_url must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	if c.PageParam == "" {
		return fmt.Errorf("crawler.page_param must be set")
	}
	if c.StartPage < 1 {
		return fmt.Errorf("crawler.start_page must be >= 1")
	}
	if c.EndPage < 0 {
		return fmt.Errorf("crawler.end_page must be >= 0")
	}
	if c.EndPage > 0 && c.EndPage < c.StartPage {
		return fmt.Errorf("crawler.end_page must be >= crawler.start_page when set")
	}
	if c.DelayMin < 0 || c.DelayMax < c.DelayMin {
		return fmt.Errorf("politeness delay bounds must satisfy 0 <= delay_min <= delay_max")
	}
	if c.MaxConsecutiveListingFailures < 0 {
		return fmt.Errorf("crawler.max_consecutive_listing_failures must be >= 0")
	}
	if c.MaxDiscoveryPages < 0 {
		return fmt.Errorf("crawler.max_discovery_pages must be >= 0")
	}
	return nil
}
