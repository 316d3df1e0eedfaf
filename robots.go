package isearch

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// Robots holds one host's parsed robots.txt along with the politeness hints
// the governor consumes. A nil *Robots is a valid value meaning "no usable
// robots.txt": everything is allowed and no extra delay applies.
type Robots struct {
	data *robotstxt.RobotsData

	// CrawlDelay is the group's Crawl-delay directive, zero if absent.
	CrawlDelay time.Duration

	// RequestInterval is derived from the nonstandard Request-rate
	// directive (requests/seconds), zero if absent.
	RequestInterval time.Duration
}

// CanFetch reports whether robots rules allow fetching u. Follows the
// conservative-read convention: no rules means allowed.
func (r *Robots) CanFetch(u *URL) bool {
	if r == nil || r.data == nil {
		return true
	}
	return r.data.TestAgent(u.RequestURI(), "*")
}

// Delay returns the larger of the two robots-driven politeness hints.
func (r *Robots) Delay() time.Duration {
	if r == nil {
		return 0
	}
	if r.CrawlDelay > r.RequestInterval {
		return r.CrawlDelay
	}
	return r.RequestInterval
}

// RobotsCache fetches and caches robots.txt per scheme-qualified host. A
// failed or unparseable fetch is cached too (as nil), so a host missing
// robots.txt costs one request for the whole crawl, not one per page.
type RobotsCache struct {
	client *http.Client

	mu      sync.Mutex
	entries map[string]*robotsCacheEntry
}

type robotsCacheEntry struct {
	once   sync.Once
	robots *Robots
}

// NewRobotsCache creates a cache that fetches through client, which should be
// the crawl's shared HTTP client so robots fetches obey the same timeouts and
// connection caps as page fetches.
func NewRobotsCache(client *http.Client) *RobotsCache {
	return &RobotsCache{
		client:  client,
		entries: make(map[string]*robotsCacheEntry),
	}
}

// Get returns the robots rules for hostKey ("https://example.com"), fetching
// them on first use. Concurrent callers for one host share a single fetch.
func (c *RobotsCache) Get(hostKey string) *Robots {
	c.mu.Lock()
	entry, ok := c.entries[hostKey]
	if !ok {
		entry = &robotsCacheEntry{}
		c.entries[hostKey] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.robots = c.fetch(hostKey)
	})
	return entry.robots
}

// Len reports how many hosts have a cache entry, including negative ones.
func (c *RobotsCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *RobotsCache) fetch(hostKey string) *Robots {
	req, err := http.NewRequest("GET", hostKey+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		Log.Debug().Str("host", hostKey).Err(err).Msg("robots.txt fetch failed")
		return nil
	}
	defer resp.Body.Close()

	// Any non-2xx means no usable robots.txt and the host stays
	// unrestricted. A transient 503 must not blackhole the host for the
	// rest of the crawl.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		Log.Debug().Str("host", hostKey).Int("status", resp.StatusCode).
			Msg("no usable robots.txt")
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, Config.Fetcher.MaxHTTPContentSizeBytes))
	if err != nil {
		Log.Debug().Str("host", hostKey).Err(err).Msg("robots.txt read failed")
		return nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		Log.Debug().Str("host", hostKey).Err(err).Msg("robots.txt parse failed")
		return nil
	}

	r := &Robots{
		data:            data,
		RequestInterval: parseRequestRate(string(body)),
	}
	// FindGroup resolves our own user agent first, falling back to the "*"
	// group when no group names us.
	if group := data.FindGroup(Config.Fetcher.UserAgent); group != nil {
		r.CrawlDelay = group.CrawlDelay
	}
	return r
}

// parseRequestRate scans a robots.txt body for the nonstandard Request-rate
// directive ("Request-rate: 1/5" means 1 request per 5 seconds) and returns
// the implied interval between requests. The parsing library does not expose
// this directive. Time-of-day windows and non-second units are ignored.
func parseRequestRate(body string) time.Duration {
	for _, line := range strings.Split(body, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, val, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "request-rate") {
			continue
		}
		val = strings.TrimSpace(val)
		if i := strings.IndexByte(val, ' '); i >= 0 {
			val = val[:i]
		}
		reqStr, secStr, found := strings.Cut(val, "/")
		if !found {
			continue
		}
		requests, err1 := strconv.Atoi(strings.TrimSpace(reqStr))
		seconds, err2 := strconv.Atoi(strings.TrimSpace(secStr))
		if err1 != nil || err2 != nil || requests <= 0 || seconds <= 0 {
			continue
		}
		return time.Duration(float64(seconds) / float64(requests) * float64(time.Second))
	}
	return 0
}
