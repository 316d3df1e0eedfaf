package isearch

import (
	"context"
	"sync"

	"github.com/antwaves/iSearch/semaphore"
)

// Frontier is the in-memory URL frontier. It deduplicates every URL it has
// ever seen, stages new links, and hands fetchers a ready stream that the
// periodic shuffle keeps fair: without it a burst of same-site links would
// have every fetcher queued up on one domain's rate limit.
//
// URLs move seen -> staged -> ready -> fetcher. Once a URL is seen it is
// never admitted again, even if it was dropped for capacity.
type Frontier struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	staged []*URL
	ready  chan *URL

	maxStaged    int
	shuffleBatch int

	// tasks counts URLs accepted but not yet TaskDone'd, in the style of a
	// join()able queue. Idle means the crawl has no work left.
	tasks *semaphore.Semaphore

	dropped int64
	closed  bool
}

// NewFrontier creates a Frontier sized from the global Config.
func NewFrontier() *Frontier {
	return &Frontier{
		seen:         make(map[string]struct{}),
		ready:        make(chan *URL, Config.Frontier.MaxReadyURLs),
		maxStaged:    Config.Frontier.MaxStagedURLs,
		shuffleBatch: Config.Frontier.ShuffleBatch,
		tasks:        semaphore.New(),
	}
}

// Put offers a canonicalized URL to the frontier. It reports whether the URL
// was accepted. A URL is refused if it was ever seen before, or dropped
// silently if the staging buffer is full; a dropped URL still counts as seen,
// so it will not come back later.
func (f *Frontier) Put(u *URL) bool {
	key := u.String()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	if _, ok := f.seen[key]; ok {
		return false
	}
	f.seen[key] = struct{}{}

	if len(f.staged) >= f.maxStaged {
		f.dropped++
		return false
	}
	f.staged = append(f.staged, u)
	f.tasks.Add(1)
	return true
}

// Get blocks until a URL is ready, the frontier is closed, or ctx is done.
// Every URL returned with ok=true must be matched by exactly one TaskDone
// call once the fetcher is finished with it.
func (f *Frontier) Get(ctx context.Context) (*URL, bool) {
	select {
	case u, ok := <-f.ready:
		return u, ok
	case <-ctx.Done():
		return nil, false
	}
}

// TaskDone marks one previously Get-returned URL as fully processed. Calling
// it more times than URLs were accepted panics.
func (f *Frontier) TaskDone() {
	f.tasks.Done()
}

// Idle reports whether every accepted URL has been processed: nothing staged,
// nothing ready, nothing in flight.
func (f *Frontier) Idle() bool {
	return f.tasks.Idle()
}

// WaitIdle blocks until the frontier is idle.
func (f *Frontier) WaitIdle() {
	f.tasks.Wait()
}

// Seen reports how many distinct URLs the frontier has ever admitted to the
// seen set.
func (f *Frontier) Seen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// Dropped reports how many URLs were discarded because staging was full.
func (f *Frontier) Dropped() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Close stops the frontier: Put refuses new URLs and blocked Gets return
// ok=false. Intended for the tail end of shutdown, after WaitIdle.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.ready)
}

// Shuffle rebalances the ready stream. It pulls everything staged plus
// whatever is sitting in the ready queue, takes up to shuffleBatch of it,
// groups those by registrable domain, and re-enqueues them round-robin across
// the domains. Leftovers beyond the batch, and anything that does not fit in
// the ready queue, go back to staging for the next pass.
func (f *Frontier) Shuffle() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	items := f.staged
	f.staged = nil
drain:
	for {
		select {
		case u := <-f.ready:
			items = append(items, u)
		default:
			break drain
		}
	}

	var tail []*URL
	if len(items) > f.shuffleBatch {
		tail = items[f.shuffleBatch:]
		items = items[:f.shuffleBatch]
	}

	interleaved := interleaveByDomain(items)

	var overflow []*URL
	for i, u := range interleaved {
		select {
		case f.ready <- u:
		default:
			overflow = interleaved[i:]
			goto full
		}
	}
full:
	f.staged = append(overflow, tail...)
}

// interleaveByDomain groups urls by registrable domain, keeping first-seen
// domain order, and deals them back out one per domain per round.
func interleaveByDomain(urls []*URL) []*URL {
	if len(urls) < 2 {
		return urls
	}

	var order []string
	groups := make(map[string][]*URL)
	for _, u := range urls {
		dom := u.RegistrableDomain()
		if _, ok := groups[dom]; !ok {
			order = append(order, dom)
		}
		groups[dom] = append(groups[dom], u)
	}

	out := make([]*URL, 0, len(urls))
	for len(out) < len(urls) {
		for _, dom := range order {
			if g := groups[dom]; len(g) > 0 {
				out = append(out, g[0])
				groups[dom] = g[1:]
			}
		}
	}
	return out
}
