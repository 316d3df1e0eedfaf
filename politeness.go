package isearch

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Governor enforces per-domain politeness. Every registrable domain gets a
// mutex and a "next allowed fetch" timestamp; a fetcher claims the domain,
// sleeps out the remaining wait, fetches, and releases the claim with the
// new timestamp. Holding the claim across the fetch is what keeps two
// fetchers from hitting one domain back to back.
type Governor struct {
	mu      sync.Mutex
	domains map[string]*domainState

	maxDomains     int
	defaultWait    time.Duration
	throttledWait  time.Duration
	maxRetryAfter  time.Duration
	sleepThreshold time.Duration
}

type domainState struct {
	mu        sync.Mutex
	evicted   bool
	waitUntil time.Time
}

// DomainClaim is an exclusive hold on one domain's politeness slot. Release
// it once, after the fetch completes.
type DomainClaim struct {
	g      *Governor
	state  *domainState
	Domain string
}

// NewGovernor creates a Governor configured from the global Config.
func NewGovernor() *Governor {
	return &Governor{
		domains:        make(map[string]*domainState),
		maxDomains:     Config.Politeness.MaxDomainLocks,
		defaultWait:    mustDuration(Config.Politeness.DefaultWait),
		throttledWait:  mustDuration(Config.Politeness.ThrottledWait),
		maxRetryAfter:  mustDuration(Config.Politeness.MaxRetryAfter),
		sleepThreshold: mustDuration(Config.Politeness.SleepThreshold),
	}
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic("unparseable duration made it past config validation: " + s)
	}
	return d
}

// Claim locks the domain and sleeps out whatever wait is still owed to it.
// Sub-threshold waits are skipped; scheduling jitter at that scale costs more
// than it protects. A cancelled ctx cuts the sleep short but the claim is
// still returned and must still be released.
func (g *Governor) Claim(ctx context.Context, domain string) *DomainClaim {
	state := g.acquire(domain)

	wait := time.Until(state.waitUntil)
	if wait > g.sleepThreshold {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
	}
	return &DomainClaim{g: g, state: state, Domain: domain}
}

// Release records when the domain may next be fetched and unlocks it.
func (c *DomainClaim) Release(nextAllowed time.Time) {
	c.state.waitUntil = nextAllowed
	c.state.mu.Unlock()
}

// acquire returns the domain's state with its mutex held. States can be
// evicted between the map lookup and the lock, so loop until the locked
// state is a live one.
func (g *Governor) acquire(domain string) *domainState {
	for {
		g.mu.Lock()
		state, ok := g.domains[domain]
		if !ok {
			state = &domainState{}
			g.domains[domain] = state
			if len(g.domains) > g.maxDomains {
				g.evictIdleLocked()
			}
		}
		g.mu.Unlock()

		state.mu.Lock()
		if !state.evicted {
			return state
		}
		state.mu.Unlock()
	}
}

// evictIdleLocked drops domain states that are both unclaimed and past their
// wait, down to three quarters of the cap. A claimed state is never evicted:
// TryLock failing means a fetcher is in its critical section, and dropping
// the state out from under it would let a second fetcher in. Called with
// g.mu held.
func (g *Governor) evictIdleLocked() {
	target := g.maxDomains * 3 / 4
	now := time.Now()
	for domain, state := range g.domains {
		if len(g.domains) <= target {
			return
		}
		if !state.mu.TryLock() {
			continue
		}
		if now.After(state.waitUntil) {
			state.evicted = true
			delete(g.domains, domain)
		}
		state.mu.Unlock()
	}
}

// NextAllowed computes when the domain may be fetched again, given the
// response just received (nil if the fetch failed outright) and the host's
// robots rules. A throttling response overrides everything; otherwise robots
// delays apply, floored at the default wait.
func (g *Governor) NextAllowed(resp *http.Response, robots *Robots) time.Time {
	now := time.Now()
	if resp != nil && (resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusServiceUnavailable) {
		return now.Add(g.retryAfter(resp.Header.Get("Retry-After"), now))
	}

	wait := robots.Delay()
	if wait < g.defaultWait {
		wait = g.defaultWait
	}
	return now.Add(wait)
}

// retryAfter interprets a Retry-After header value. Numeric seconds and
// HTTP-dates are honored but clamped to maxRetryAfter; a missing or
// malformed value falls back to the throttled wait.
func (g *Governor) retryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return g.throttledWait
	}
	if secs, err := strconv.Atoi(value); err == nil {
		d := time.Duration(secs) * time.Second
		return clampDuration(d, 0, g.maxRetryAfter)
	}
	if at, err := http.ParseTime(value); err == nil {
		return clampDuration(at.Sub(now), 0, g.maxRetryAfter)
	}
	return g.throttledWait
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// TrackedDomains reports how many domains currently have politeness state.
func (g *Governor) TrackedDomains() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.domains)
}
