package crawler

import (
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Default retry parameters.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 1500 * time.Millisecond
	DefaultBackoffMax  = 30 * time.Second
	DefaultJitter      = 250 * time.Millisecond
)

// RetryPolicy bounds how often and how patiently a fetch is retried.
// MaxAttempts counts every attempt, including the first.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

// DefaultRetryPolicy returns the policy used when nothing is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBackoffBase,
		MaxDelay:    DefaultBackoffMax,
		Jitter:      DefaultJitter,
	}
}

// Validate rejects policies that could loop forever or never wait.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.New("retry.max_attempts must be >= 1")
	case p.BaseDelay < 0:
		return errors.New("retry.backoff_base must be >= 0")
	case p.MaxDelay < p.BaseDelay:
		return errors.New("retry.backoff_max must be >= retry.backoff_base")
	case p.Jitter < 0:
		return errors.New("retry.jitter must be >= 0")
	}
	return nil
}

// IsTransientStatus reports whether an HTTP status is worth retrying.
func IsTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// Backoff returns the wait before retry number retry (0-based):
// BaseDelay * 2^retry capped at MaxDelay, plus up to Jitter.
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(retry))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay) + p.randomJitter(p.Jitter)
}

func (p RetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(headers http.Header, now time.Time) time.Duration {
	if headers == nil {
		return 0
	}
	raw := strings.TrimSpace(headers.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
