package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrListingDisallowed is returned when robots.txt forbids the listing path.
	ErrListingDisallowed = errors.New("robots.txt disallows the listing path")
	// ErrTooManyListingFailures stops a run after consecutive listing failures.
	ErrTooManyListingFailures = errors.New("too many consecutive listing failures")
	// ErrDenied marks a URL skipped by the politeness gate.
	ErrDenied = errors.New("denied by robots policy")
)

// FetchError carries the last status or transport error of a failed fetch.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
	transient  bool
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s failed after %d attempt(s): status %d", e.URL, e.Attempts, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether the final failure belonged to a retryable class,
// meaning retries were exhausted rather than skipped.
func (e *FetchError) Transient() bool { return e.transient }
