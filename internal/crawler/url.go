package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ListingURLBuilder produces listing page URLs such as
// https://portal.example/home/DrugSearch?page=3.
type ListingURLBuilder struct {
	base      *url.URL
	pageParam string
}

// NewListingURLBuilder joins baseURL with listingPath, which may carry its own
// query string, and appends pageParam on every call to URL.
func NewListingURLBuilder(baseURL, listingPath, pageParam string) (*ListingURLBuilder, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if !strings.HasPrefix(listingPath, "/") {
		listingPath = "/" + listingPath
	}
	ref, err := url.Parse(listingPath)
	if err != nil {
		return nil, fmt.Errorf("parse listing path: %w", err)
	}
	if strings.TrimSpace(pageParam) == "" {
		return nil, fmt.Errorf("page parameter is required")
	}
	joined := *base
	joined.Path = base.Path + ref.Path
	joined.RawQuery = ref.RawQuery
	joined.Fragment = ""
	return &ListingURLBuilder{base: &joined, pageParam: pageParam}, nil
}

// URL returns the listing URL for page.
func (b *ListingURLBuilder) URL(page int) string {
	u := *b.base
	q := u.Query()
	q.Set(b.pageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}
