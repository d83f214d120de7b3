package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Default listing selectors, matching the portal's results table.
const (
	DefaultRowSelector  = "div.table-responsive table.table.s-row tbody tr"
	DefaultCellSelector = "td"
	DefaultLinkSelector = "a[href]"
	DefaultMinCells     = 5
)

// ListingSelectors locates entries inside a listing page. Cell indexes may be
// negative to count from the last cell.
type ListingSelectors struct {
	Row          string
	Cell         string
	Link         string
	MinCells     int
	IDCell       int
	LinkCell     int
	IDQueryParam string
	// Detail, when set, must match on a detail page for it to be kept.
	Detail string
}

// DefaultListingSelectors returns selectors for the default portal layout.
func DefaultListingSelectors() ListingSelectors {
	return ListingSelectors{
		Row:      DefaultRowSelector,
		Cell:     DefaultCellSelector,
		Link:     DefaultLinkSelector,
		MinCells: DefaultMinCells,
		IDCell:   0,
		LinkCell: -1,
	}
}

// GoqueryListingParser implements ListingParser with goquery selectors.
type GoqueryListingParser struct {
	base *url.URL
	sel  ListingSelectors
}

// NewGoqueryListingParser builds a parser resolving links against baseURL.
func NewGoqueryListingParser(baseURL string, sel ListingSelectors) (*GoqueryListingParser, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if strings.TrimSpace(sel.Row) == "" {
		return nil, fmt.Errorf("listing row selector is required")
	}
	if sel.Cell == "" {
		sel.Cell = DefaultCellSelector
	}
	if sel.Link == "" {
		sel.Link = DefaultLinkSelector
	}
	return &GoqueryListingParser{base: base, sel: sel}, nil
}

// ParseListing returns the entries of a listing page in document order. A page
// without matching rows yields an empty slice, which callers treat as the end
// of the listing.
func (p *GoqueryListingParser) ParseListing(body []byte) ([]ListingItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	items := make([]ListingItem, 0)
	doc.Find(p.sel.Row).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find(p.sel.Cell)
		n := cells.Length()
		if n == 0 || n < p.sel.MinCells {
			return
		}
		href, ok := cells.Eq(cellIndex(p.sel.LinkCell, n)).Find(p.sel.Link).First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		detail, err := p.resolve(href)
		if err != nil {
			return
		}
		id := strings.TrimSpace(cells.Eq(cellIndex(p.sel.IDCell, n)).Text())
		if id == "" && p.sel.IDQueryParam != "" {
			id = strings.TrimSpace(detail.Query().Get(p.sel.IDQueryParam))
		}
		if id == "" {
			return
		}
		items = append(items, ListingItem{ID: id, URL: detail.String()})
	})
	return items, nil
}

// ValidDetail reports whether a detail page carries the expected content.
func (p *GoqueryListingParser) ValidDetail(body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return false
	}
	if p.sel.Detail == "" {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return doc.Find(p.sel.Detail).Length() > 0
}

func (p *GoqueryListingParser) resolve(href string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, fmt.Errorf("parse href: %w", err)
	}
	abs := p.base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", abs.Scheme)
	}
	abs.Fragment = ""
	return abs, nil
}

func cellIndex(idx, n int) int {
	if idx < 0 {
		idx += n
	}
	if idx < 0 {
		return 0
	}
	return idx
}
