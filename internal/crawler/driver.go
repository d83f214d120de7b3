package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/clock/system"
)

// Page and item statuses reported to the MetricsRecorder.
const (
	StatusCommitted = "committed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
	StatusDenied    = "denied"
	StatusFetched   = "fetched"
)

type pageGetter interface {
	Get(ctx context.Context, rawURL string) (FetchResponse, error)
}

// Driver runs one sequential crawl over a page range.
type Driver struct {
	cfg      Config
	getter   pageGetter
	gate     *Gate
	parser   ListingParser
	store    CheckpointStore
	listings *ListingURLBuilder
	metrics  MetricsRecorder
	logger   *zap.Logger
	clock    Clock

	// listings fetched while discovering the last page, consumed by the page loop
	prefetched map[int][]ListingItem
}

// NewDriver wires the crawl components together.
func NewDriver(
	cfg Config,
	getter pageGetter,
	gate *Gate,
	parser ListingParser,
	store CheckpointStore,
	metrics MetricsRecorder,
	logger *zap.Logger,
) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if getter == nil || gate == nil || parser == nil || store == nil {
		return nil, errors.New("driver requires a fetcher, gate, parser and checkpoint store")
	}
	listings, err := NewListingURLBuilder(cfg.BaseURL, cfg.ListingPath, cfg.PageParam)
	if err != nil {
		return nil, fmt.Errorf("listing url: %w", err)
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		cfg:        cfg,
		getter:     getter,
		gate:       gate,
		parser:     parser,
		store:      store,
		listings:   listings,
		metrics:    metrics,
		logger:     logger,
		clock:      system.New(),
		prefetched: make(map[int][]ListingItem),
	}, nil
}

// SetClock replaces the clock used to stamp run reports.
func (d *Driver) SetClock(c Clock) {
	if c != nil {
		d.clock = c
	}
}

// Run processes pages from StartPage to EndPage (discovered when zero) in
// increasing order. Checkpointed pages are skipped without network activity,
// an empty listing ends the run early, and per-item failures are dropped from
// the page result. Checkpoint I/O errors and cancellation abort the run; the
// in-flight page is never committed partially.
func (d *Driver) Run(ctx context.Context) (report RunReport, err error) {
	report = RunReport{
		RunID:     d.cfg.RunID,
		StartPage: d.cfg.StartPage,
		EndPage:   d.cfg.EndPage,
		Stopped:   StopCompleted,
		StartedAt: d.clock.Now(),
	}
	defer func() { report.FinishedAt = d.clock.Now() }()
	start := d.cfg.StartPage
	if !d.gate.Allowed(d.listings.URL(start)) {
		report.Stopped = StopListingDisallowed
		return report, ErrListingDisallowed
	}

	end := d.cfg.EndPage
	if end <= 0 {
		floor, err := d.resumeFloor(start)
		if err != nil {
			report.Stopped = StopCheckpointError
			return report, err
		}
		end, err = NewDiscoverer(prefetchingSource{d}, d.cfg.MaxDiscoveryPages, d.logger).FindLastPage(ctx, floor)
		if err != nil {
			report.Stopped = stopReason(ctx, StopDiscoveryFailed)
			return report, err
		}
		report.EndPage = end
		if end < start {
			d.logger.Info("listing is empty from the start page", zap.Int("start_page", start))
			report.Stopped = StopEndOfListing
			return report, nil
		}
	}
	d.logger.Info("crawl range resolved", zap.Int("start_page", start), zap.Int("end_page", end))

	consecutiveFailures := 0
	for page := start; page <= end; page++ {
		if err := ctx.Err(); err != nil {
			report.Stopped = StopCanceled
			return report, fmt.Errorf("crawl canceled before page %d: %w", page, err)
		}

		done, err := d.store.Exists(page)
		if err != nil {
			report.Stopped = StopCheckpointError
			return report, fmt.Errorf("check checkpoint for page %d: %w", page, err)
		}
		if done {
			d.logger.Info("skip page (checkpoint exists)", zap.Int("page", page))
			report.PagesSkipped++
			d.metrics.ObservePage(StatusSkipped)
			continue
		}

		items, err := d.listing(ctx, page)
		switch {
		case ctx.Err() != nil:
			report.Stopped = StopCanceled
			return report, fmt.Errorf("crawl canceled at page %d: %w", page, ctx.Err())
		case errors.Is(err, ErrDenied):
			d.logger.Debug("listing page denied by robots", zap.Int("page", page))
			report.DeniedURLs = append(report.DeniedURLs, d.listings.URL(page))
			d.metrics.ObservePage(StatusDenied)
			continue
		case err != nil:
			consecutiveFailures++
			report.PagesFailed++
			d.metrics.ObservePage(StatusFailed)
			d.logger.Warn("listing page failed",
				zap.Int("page", page),
				zap.Int("consecutive_failures", consecutiveFailures),
				zap.Error(err),
			)
			if d.cfg.MaxConsecutiveListingFailures > 0 && consecutiveFailures >= d.cfg.MaxConsecutiveListingFailures {
				report.Stopped = StopTooManyListingFailures
				return report, fmt.Errorf("stopped at page %d: %w", page, ErrTooManyListingFailures)
			}
			continue
		}
		consecutiveFailures = 0

		if len(items) == 0 {
			d.logger.Info("listing page is empty; reached the end", zap.Int("page", page))
			report.Stopped = StopEndOfListing
			report.EndPage = page - 1
			return report, nil
		}
		d.logger.Info("listing page parsed", zap.Int("page", page), zap.Int("items", len(items)))

		result, err := d.fetchDetails(ctx, page, items, &report)
		if err != nil {
			report.Stopped = stopReason(ctx, StopCanceled)
			return report, err
		}
		if err := d.store.Save(ctx, page, result); err != nil {
			report.Stopped = stopReason(ctx, StopCheckpointError)
			return report, fmt.Errorf("commit page %d: %w", page, err)
		}
		report.PagesCommitted++
		d.metrics.ObservePage(StatusCommitted)
		d.logger.Info("page committed", zap.Int("page", page), zap.Int("items", len(result)))
	}
	return report, nil
}

// stopReason labels an aborted run; cancellation takes precedence over fallback.
func stopReason(ctx context.Context, fallback StopReason) StopReason {
	if ctx.Err() != nil {
		return StopCanceled
	}
	return fallback
}

// resumeFloor returns the first page at or after start without a checkpoint.
// A checkpoint is only ever written for a non-empty listing, so discovery can
// safely begin there.
func (d *Driver) resumeFloor(start int) (int, error) {
	limit := d.cfg.MaxDiscoveryPages
	if limit <= 0 {
		limit = DefaultMaxDiscoveryPages
	}
	page := start
	for ; page < start+limit; page++ {
		done, err := d.store.Exists(page)
		if err != nil {
			return 0, fmt.Errorf("check checkpoint for page %d: %w", page, err)
		}
		if !done {
			break
		}
	}
	return page, nil
}

func (d *Driver) listing(ctx context.Context, page int) ([]ListingItem, error) {
	if items, ok := d.prefetched[page]; ok {
		delete(d.prefetched, page)
		return items, nil
	}
	return d.fetchListing(ctx, page)
}

func (d *Driver) fetchListing(ctx context.Context, page int) ([]ListingItem, error) {
	listingURL := d.listings.URL(page)
	if !d.gate.Allowed(listingURL) {
		return nil, fmt.Errorf("listing page %d: %w", page, ErrDenied)
	}
	if err := d.gate.Wait(ctx); err != nil {
		return nil, err
	}
	d.logger.Debug("fetching listing page", zap.Int("page", page), zap.String("url", listingURL))
	resp, err := d.getter.Get(ctx, listingURL)
	if err != nil {
		return nil, fmt.Errorf("listing page %d: %w", page, err)
	}
	items, err := d.parser.ParseListing(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("listing page %d: %w", page, err)
	}
	return items, nil
}

func (d *Driver) fetchDetails(ctx context.Context, page int, items []ListingItem, report *RunReport) (PageResult, error) {
	result := make(PageResult, len(items))
	for _, item := range items {
		if !d.gate.Allowed(item.URL) {
			d.logger.Debug("detail page denied by robots", zap.String("id", item.ID), zap.String("url", item.URL))
			report.ItemsDenied++
			report.DeniedURLs = append(report.DeniedURLs, item.URL)
			d.metrics.ObserveItem(StatusDenied)
			continue
		}
		if err := d.gate.Wait(ctx); err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		resp, err := d.getter.Get(ctx, item.URL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("page %d: %w", page, ctxErr)
			}
			d.logger.Warn("detail fetch failed; item omitted",
				zap.Int("page", page), zap.String("id", item.ID), zap.String("url", item.URL), zap.Error(err))
			report.ItemsFailed++
			d.metrics.ObserveItem(StatusFailed)
			continue
		}
		if !d.parser.ValidDetail(resp.Body) {
			d.logger.Warn("detail page missing expected content; item omitted",
				zap.Int("page", page), zap.String("id", item.ID), zap.String("url", item.URL))
			report.ItemsFailed++
			d.metrics.ObserveItem(StatusFailed)
			continue
		}
		result[item.ID] = string(resp.Body)
		report.ItemsFetched++
		d.metrics.ObserveItem(StatusFetched)
	}
	return result, nil
}

// prefetchingSource remembers listings seen during discovery so the page loop
// does not fetch them a second time.
type prefetchingSource struct {
	d *Driver
}

func (s prefetchingSource) Listing(ctx context.Context, page int) ([]ListingItem, error) {
	items, err := s.d.fetchListing(ctx, page)
	if err != nil {
		return nil, err
	}
	s.d.prefetched[page] = items
	return items, nil
}
