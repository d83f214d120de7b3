// Package crawler implements the sequential listing crawl: the politeness gate,
// the resilient fetcher, the listing parser, the pagination discoverer and the
// driver that commits one checkpoint per listing page.
package crawler
