package isearch

import (
	"sync"
	"time"
)

// Status is a snapshot of crawl progress, printed on every shuffle tick and
// served by the console.
type Status struct {
	Started        time.Time `json:"started"`
	Crawled        int64     `json:"crawled"`
	Persisted      int64     `json:"persisted"`
	SeenURLs       int       `json:"seen_urls"`
	DroppedURLs    int64     `json:"dropped_urls"`
	TrackedDomains int       `json:"tracked_domains"`
	LastVisited    string    `json:"last_visited"`
	LastStored     string    `json:"last_stored"`
}

// statusBoard collects the progress fields the workers race to update.
// Counters that workers bump on every item live as atomics in FetchManager;
// this holds the stringy bits.
type statusBoard struct {
	mu          sync.Mutex
	started     time.Time
	lastVisited string
	lastStored  string
}

func (s *statusBoard) visit(url string) {
	s.mu.Lock()
	s.lastVisited = url
	s.mu.Unlock()
}

func (s *statusBoard) store(url string) {
	s.mu.Lock()
	s.lastStored = url
	s.mu.Unlock()
}

func (s *statusBoard) snapshot() (started time.Time, lastVisited, lastStored string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.lastVisited, s.lastStored
}
