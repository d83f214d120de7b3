package crawler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Default inter-request delay bounds.
const (
	DefaultDelayMin = 600 * time.Millisecond
	DefaultDelayMax = 1200 * time.Millisecond
)

// pauseController abstracts how the crawler waits between requests.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Pacer spaces out requests with a uniformly random delay. When robots.txt
// declares a Crawl-delay it is enforced as a minimum interval on top.
type Pacer struct {
	minDelay time.Duration
	maxDelay time.Duration
	limiter  *rate.Limiter
	pause    pauseController
	metrics  MetricsRecorder
	int64N   func(n int64) int64
}

// NewPacer builds a Pacer. A zero crawlDelay disables the Crawl-delay floor.
func NewPacer(minDelay, maxDelay, crawlDelay time.Duration, metrics MetricsRecorder) *Pacer {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	p := &Pacer{
		minDelay: minDelay,
		maxDelay: maxDelay,
		pause:    &timerPauseController{},
		metrics:  metrics,
		int64N:   rand.Int64N,
	}
	if crawlDelay > 0 {
		p.limiter = rate.NewLimiter(rate.Every(crawlDelay), 1)
	}
	return p
}

// Wait blocks for the next politeness delay or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("crawl-delay wait: %w", err)
		}
	}
	delay := p.nextDelay()
	p.metrics.ObserveDelay(delay)
	p.pause.Pause(ctx, delay)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("politeness delay: %w", err)
	}
	return nil
}

func (p *Pacer) nextDelay() time.Duration {
	span := int64(p.maxDelay - p.minDelay)
	if span <= 0 {
		return p.minDelay
	}
	return p.minDelay + time.Duration(p.int64N(span+1))
}

// Gate combines the robots policy with request pacing. It is read-only after
// construction and must be consulted before every fetch.
type Gate struct {
	robots RobotsPolicy
	pacer  *Pacer
}

// NewGate builds a Gate whose pacer honors the policy's Crawl-delay.
func NewGate(robots RobotsPolicy, minDelay, maxDelay time.Duration, metrics MetricsRecorder) *Gate {
	if robots == nil {
		robots = allowAllPolicy{}
	}
	return &Gate{
		robots: robots,
		pacer:  NewPacer(minDelay, maxDelay, robots.CrawlDelay(), metrics),
	}
}

// Allowed reports whether rawURL may be fetched.
func (g *Gate) Allowed(rawURL string) bool {
	return g.robots.Allowed(rawURL)
}

// Wait sleeps the politeness delay.
func (g *Gate) Wait(ctx context.Context) error {
	return g.pacer.Wait(ctx)
}
