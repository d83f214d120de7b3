package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DefaultMaxDiscoveryPages bounds the pagination scan.
const DefaultMaxDiscoveryPages = 10000

// Discoverer finds the last listing page by scanning forward one page at a time.
type Discoverer struct {
	source   ListingSource
	maxPages int
	logger   *zap.Logger
}

// NewDiscoverer builds a Discoverer probing at most maxPages pages.
func NewDiscoverer(source ListingSource, maxPages int, logger *zap.Logger) *Discoverer {
	if maxPages <= 0 {
		maxPages = DefaultMaxDiscoveryPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{source: source, maxPages: maxPages, logger: logger}
}

// FindLastPage returns the highest page >= floor whose listing is non-empty
// while the next one is empty, or floor-1 if floor itself is empty. A probe
// that still fails after the fetcher's retries counts as empty. Only context
// cancellation is returned as an error.
func (d *Discoverer) FindLastPage(ctx context.Context, floor int) (int, error) {
	if floor < 1 {
		floor = 1
	}
	last := floor - 1
	for page := floor; page < floor+d.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return last, fmt.Errorf("discover last page: %w", err)
		}
		items, err := d.source.Listing(ctx, page)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return last, fmt.Errorf("discover last page: %w", ctxErr)
			}
			d.logger.Warn("listing probe failed; treating page as empty", zap.Int("page", page), zap.Error(err))
			return last, nil
		}
		if len(items) == 0 {
			d.logger.Info("discovered last listing page", zap.Int("last_page", last))
			return last, nil
		}
		last = page
	}
	d.logger.Warn("pagination scan reached its bound", zap.Int("max_pages", d.maxPages), zap.Int("last_page", last))
	return last, nil
}
