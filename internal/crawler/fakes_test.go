package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

type scriptedResponse struct {
	status  int
	headers http.Header
	body    string
	err     error
}

// scriptedFetcher replays responses per URL; the last entry repeats.
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]scriptedResponse
	calls   map[string]int
	order   []string
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		scripts: make(map[string][]scriptedResponse),
		calls:   make(map[string]int),
	}
}

func (f *scriptedFetcher) on(rawURL string, responses ...scriptedResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[rawURL] = append(f.scripts[rawURL], responses...)
}

func (f *scriptedFetcher) Fetch(_ context.Context, rawURL string) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls[rawURL]
	f.calls[rawURL]++
	f.order = append(f.order, rawURL)

	script, ok := f.scripts[rawURL]
	if !ok || len(script) == 0 {
		return FetchResponse{URL: rawURL, StatusCode: http.StatusNotFound}, nil
	}
	if idx >= len(script) {
		idx = len(script) - 1
	}
	step := script[idx]
	if step.err != nil {
		return FetchResponse{}, step.err
	}
	return FetchResponse{URL: rawURL, StatusCode: step.status, Headers: step.headers, Body: []byte(step.body)}, nil
}

func (f *scriptedFetcher) callsTo(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func (f *scriptedFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

func (f *scriptedFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func ok(body string) scriptedResponse {
	return scriptedResponse{status: http.StatusOK, body: body}
}

func status(code int) scriptedResponse {
	return scriptedResponse{status: code}
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, delay)
}

// memoryStore is an in-memory CheckpointStore.
type memoryStore struct {
	mu      sync.Mutex
	pages   map[int]PageResult
	saves   []int
	failOn  int
	failErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{pages: make(map[int]PageResult)}
}

func (s *memoryStore) Exists(page int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pages[page]
	return ok, nil
}

func (s *memoryStore) Load(page int) (PageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.pages[page]
	if !ok {
		return nil, fmt.Errorf("page %d not found", page)
	}
	return result, nil
}

func (s *memoryStore) Save(_ context.Context, page int, result PageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == page {
		return s.failErr
	}
	s.pages[page] = result
	s.saves = append(s.saves, page)
	return nil
}

type countingRecorder struct {
	mu       sync.Mutex
	pages    map[string]int
	items    map[string]int
	requests map[int]int
	retries  int
	delays   []time.Duration
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		pages:    make(map[string]int),
		items:    make(map[string]int),
		requests: make(map[int]int),
	}
}

func (r *countingRecorder) ObservePage(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[status]++
}

func (r *countingRecorder) ObserveItem(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[status]++
}

func (r *countingRecorder) ObserveRequest(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[code]++
}

func (r *countingRecorder) ObserveRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *countingRecorder) ObserveDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
}

// denyPrefixes is a RobotsPolicy disallowing URLs whose path starts with any prefix.
type denyPrefixes []string

func (d denyPrefixes) Allowed(rawURL string) bool {
	target, err := robotsTarget(rawURL)
	if err != nil {
		return false
	}
	for _, prefix := range d {
		if len(target) >= len(prefix) && target[:len(prefix)] == prefix {
			return false
		}
	}
	return true
}

func (denyPrefixes) CrawlDelay() time.Duration { return 0 }

var errConnReset = errors.New("connection reset by peer")
