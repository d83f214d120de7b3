package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

type robotsGetter interface {
	Get(ctx context.Context, rawURL string) (FetchResponse, error)
}

// LoadRobotsPolicy fetches <baseURL>/robots.txt once and returns the rules for
// every agent in userAgents. A URL is allowed only when the group of each agent
// allows it, and the longest Crawl-delay among those groups applies, so
// rotating agents never widens what the crawl may touch.
//
// The policy fails open: when robots.txt cannot be fetched (transport error,
// 429 or 5xx after retries) or cannot be parsed, every path is allowed and a
// warning is logged. This is a deliberate politeness trade-off; do not change
// it to fail-closed without changing the operator contract. A 4xx response
// means "no robots file" and also allows everything. The only error returned
// is context cancellation.
func LoadRobotsPolicy(
	ctx context.Context,
	getter robotsGetter,
	baseURL string,
	userAgents []string,
	logger *zap.Logger,
) (RobotsPolicy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	robotsURL, err := robotsURLFor(baseURL)
	if err != nil {
		logger.Warn("invalid base URL for robots.txt; allowing all", zap.String("base_url", baseURL), zap.Error(err))
		return allowAllPolicy{}, nil
	}

	status := http.StatusOK
	var body []byte
	resp, err := getter.Get(ctx, robotsURL)
	switch {
	case err == nil:
		status, body = resp.StatusCode, resp.Body
	case ctx.Err() != nil:
		return nil, fmt.Errorf("load robots.txt: %w", ctx.Err())
	default:
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) || fetchErr.Transient() || fetchErr.StatusCode == 0 {
			logger.Warn("robots.txt unavailable; failing open and allowing all paths",
				zap.String("robots_url", robotsURL), zap.Error(err))
			return allowAllPolicy{}, nil
		}
		status = fetchErr.StatusCode
	}

	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		logger.Warn("robots.txt unparsable; failing open and allowing all paths",
			zap.String("robots_url", robotsURL), zap.Int("status_code", status), zap.Error(err))
		return allowAllPolicy{}, nil
	}
	if len(userAgents) == 0 {
		userAgents = []string{"*"}
	}
	rules := &robotsRules{}
	seen := make(map[*robotstxt.Group]bool, len(userAgents))
	for _, agent := range userAgents {
		group := data.FindGroup(agent)
		if group == nil || seen[group] {
			continue
		}
		seen[group] = true
		rules.groups = append(rules.groups, group)
		rules.crawlDelay = max(rules.crawlDelay, group.CrawlDelay)
	}
	if len(rules.groups) == 0 {
		return allowAllPolicy{}, nil
	}
	logger.Info("loaded robots.txt",
		zap.String("robots_url", robotsURL),
		zap.Int("status_code", status),
		zap.Int("agent_groups", len(rules.groups)),
		zap.Duration("crawl_delay", rules.crawlDelay),
	)
	return rules, nil
}

type robotsRules struct {
	groups     []*robotstxt.Group
	crawlDelay time.Duration
}

// Allowed implements RobotsPolicy. Matching covers the path and query.
func (r *robotsRules) Allowed(rawURL string) bool {
	target, err := robotsTarget(rawURL)
	if err != nil {
		return false
	}
	for _, group := range r.groups {
		if !group.Test(target) {
			return false
		}
	}
	return true
}

func (r *robotsRules) CrawlDelay() time.Duration { return r.crawlDelay }

type allowAllPolicy struct{}

func (allowAllPolicy) Allowed(string) bool { return true }
func (allowAllPolicy) CrawlDelay() time.Duration { return 0 }

// AllowAll returns a policy permitting every URL, used when robots are ignored.
func AllowAll() RobotsPolicy { return allowAllPolicy{} }

func robotsURLFor(baseURL string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", baseURL)
	}
	robots := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	return robots.String(), nil
}

func robotsTarget(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return target, nil
}
