package isearch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antwaves/iSearch/dnscache"
	"github.com/antwaves/iSearch/mimetools"
)

// parseItem is the unit of work handed from a fetcher to the parser pool:
// one fetched body and the (post-redirect, canonicalized) URL it came from.
type parseItem struct {
	url  *URL
	body []byte
}

// FetchManager configures and runs the crawl.
//
// The calling code must create a FetchManager, set a Datastore, then call
// Start(), which blocks until the crawl completes or the context is
// cancelled. The pipeline inside is frontier -> fetchers -> parsers -> store
// workers, with bounded queues between the stages so a slow store backs the
// whole pipeline up instead of ballooning memory.
type FetchManager struct {
	// Datastore must be set to receive crawl results.
	Datastore Datastore

	// Transport can be set to override the default network transport the
	// FetchManager is going to use. Good for faking remote servers for
	// testing.
	Transport http.RoundTripper

	frontier *Frontier
	robots   *RobotsCache
	governor *Governor
	client   *http.Client

	parseQueue chan parseItem
	storeQueue chan *PageResult

	// parsePending counts items handed to the parser pool and not yet fully
	// processed. The coordinator may only declare the crawl drained when
	// both this and the frontier are at zero.
	parsePending atomic.Int64

	// addingNewLinks gates parsed outlinks from re-entering the frontier.
	// Cleared once the crawl limit is reached so the pipeline can drain.
	addingNewLinks atomic.Bool

	// stopping makes fetchers discard frontier URLs without fetching, so a
	// deep frontier drains quickly once the limit is hit.
	stopping atomic.Bool

	crawled   atomic.Int64
	persisted atomic.Int64
	maxCrawl  int64

	status  statusBoard
	started bool

	acceptFormats *mimetools.Matcher
}

// Start runs the crawl seeded with the given URLs and blocks until it
// finishes. Seeds are expected to be already canonicalized.
func (fm *FetchManager) Start(ctx context.Context, seeds []*URL) error {
	Log.Info().Msgf("starting FetchManager with %v seeds", len(seeds))
	if fm.Datastore == nil {
		panic("Must set a Datastore on the FetchManager")
	}
	if fm.started {
		panic("Cannot start a FetchManager multiple times")
	}
	fm.started = true

	timeout := mustDuration(Config.Fetcher.HTTPTimeout)
	if fm.Transport == nil {
		// Use the DNS cache in the default transport. A crawl resolves the
		// same hosts over and over and the resolver round trips add up.
		resolver := dnscache.New(Config.Fetcher.MaxDNSCacheEntries)
		fm.Transport = &http.Transport{
			DialContext: resolver.DialContext(&net.Dialer{
				Timeout: timeout,
			}),
			MaxConnsPerHost:     Config.Fetcher.MaxConnsPerHost,
			TLSHandshakeTimeout: timeout,
		}
	}
	fm.client = &http.Client{
		Transport: fm.Transport,
		Timeout:   timeout,
	}

	fm.frontier = NewFrontier()
	fm.robots = NewRobotsCache(fm.client)
	fm.governor = NewGovernor()
	fm.parseQueue = make(chan parseItem, 1000)
	fm.storeQueue = make(chan *PageResult, 1000)
	fm.maxCrawl = int64(Config.Fetcher.MaxCrawl)
	fm.acceptFormats = mimetools.NewMatcher(Config.Fetcher.AcceptFormats)
	fm.status.started = time.Now()
	fm.addingNewLinks.Store(true)

	for _, seed := range seeds {
		if err := seed.CheckCrawlable(); err != nil {
			Log.Warn().Str("url", seed.String()).Err(err).Msg("skipping seed")
			continue
		}
		fm.frontier.Put(seed)
	}
	fm.frontier.Shuffle()

	fetchCtx, stopFetchers := context.WithCancel(ctx)
	defer stopFetchers()

	var fetchers, parsers, stores errgroup.Group
	for i := 0; i < Config.Fetcher.NumSimultaneousFetchers; i++ {
		fetchers.Go(func() error {
			fm.fetchLoop(fetchCtx)
			return nil
		})
	}
	for i := 0; i < Config.Fetcher.NumParsers; i++ {
		parsers.Go(func() error {
			fm.parseLoop(ctx)
			return nil
		})
	}
	for i := 0; i < Config.Fetcher.NumStoreWorkers; i++ {
		stores.Go(func() error {
			fm.storeLoop(ctx)
			return nil
		})
	}

	fm.coordinate(ctx)

	// Staged shutdown. The coordinator has closed the frontier, so fetchers
	// fall out of their Get loops; each downstream queue is closed only once
	// its upstream stage has fully exited, so nothing in flight is lost.
	fetchers.Wait()
	close(fm.parseQueue)
	parsers.Wait()
	close(fm.storeQueue)
	stores.Wait()

	fm.logProgress()
	Log.Info().
		Int64("crawled", fm.crawled.Load()).
		Int64("persisted", fm.persisted.Load()).
		Msg("crawl finished")
	return ctx.Err()
}

// coordinate owns the shuffle ticker, progress reporting, and the decision to
// wind the crawl down. It returns once the frontier is closed.
func (fm *FetchManager) coordinate(ctx context.Context) {
	interval := mustDuration(Config.Frontier.ShuffleInterval)
	warmup := mustDuration(Config.Frontier.WarmupShuffleInterval)

	// Tick fast until a couple of fetches have landed: the seed pages'
	// outlinks should reach fetchers quickly instead of waiting out a full
	// interval in staging.
	ticker := time.NewTicker(warmup)
	defer ticker.Stop()
	warm := true

	for {
		select {
		case <-ctx.Done():
			fm.frontier.Close()
			return
		case <-ticker.C:
		}

		if warm && fm.crawled.Load() >= 2 {
			ticker.Reset(interval)
			warm = false
		}

		fm.frontier.Shuffle()
		fm.logProgress()

		if fm.addingNewLinks.Load() && fm.crawled.Load() >= fm.maxCrawl {
			Log.Info().Int64("crawled", fm.crawled.Load()).
				Msg("crawl limit reached, draining pipeline")
			fm.addingNewLinks.Store(false)
			fm.stopping.Store(true)
		}

		if fm.frontier.Idle() && fm.parsePending.Load() == 0 {
			// Nothing in flight anywhere that could produce new work.
			fm.frontier.Close()
			return
		}
	}
}

// fetchLoop pulls URLs off the frontier until it closes. Exactly one
// TaskDone is issued per URL, whatever happens to it.
func (fm *FetchManager) fetchLoop(ctx context.Context) {
	for {
		u, ok := fm.frontier.Get(ctx)
		if !ok {
			return
		}
		fm.fetchAndQueue(ctx, u)
	}
}

func (fm *FetchManager) fetchAndQueue(ctx context.Context, u *URL) {
	defer fm.frontier.TaskDone()

	if fm.stopping.Load() {
		return
	}

	// Every dequeued URL counts as an attempt, fetched or not, so the crawl
	// limit bounds work taken on rather than pages won.
	fm.crawled.Add(1)

	if u.RegistrableDomain() == "" {
		return
	}

	robots := fm.robots.Get(u.HostKey())
	if !robots.CanFetch(u) {
		Log.Debug().Str("url", u.String()).Msg("excluded by robots.txt")
		return
	}

	// The whole sleep-fetch-release cycle happens under the domain claim, so
	// no two fetchers can overlap on one domain.
	claim := fm.governor.Claim(ctx, u.RegistrableDomain())

	fm.status.visit(u.String())
	resp, body, err := fm.fetch(u)

	claim.Release(fm.governor.NextAllowed(resp, robots))

	if err != nil {
		Log.Warn().Str("url", u.String()).Err(err).Msg("fetch failed")
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		Log.Debug().Str("url", u.String()).Int("status", resp.StatusCode).Msg("skipping page")
		return
	}
	if !fm.responseAcceptable(u, resp) {
		return
	}

	// Redirects may have landed somewhere else; the page is stored under the
	// URL that actually served it.
	final := &URL{URL: resp.Request.URL}
	final.Canonicalize()

	fm.parsePending.Add(1)
	select {
	case fm.parseQueue <- parseItem{url: final, body: body}:
	case <-ctx.Done():
		fm.parsePending.Add(-1)
	}
}

// fetch performs one HTTP GET, with the response body capped at the
// configured maximum. The response is returned even on non-2xx statuses so
// the governor can see Retry-After headers.
func (fm *FetchManager) fetch(u *URL) (*http.Response, []byte, error) {
	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", UserAgent())
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "max-age=0")

	resp, err := fm.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, Config.Fetcher.MaxHTTPContentSizeBytes))
	if err != nil {
		return resp, nil, fmt.Errorf("reading body of %v: %w", u.String(), err)
	}
	return resp, body, nil
}

// responseAcceptable applies the header filters: size, content type, and
// content language. A missing header never disqualifies a page.
func (fm *FetchManager) responseAcceptable(u *URL, resp *http.Response) bool {
	if resp.ContentLength > Config.Fetcher.MaxHTTPContentSizeBytes {
		Log.Debug().Str("url", u.String()).Int64("length", resp.ContentLength).
			Msg("page too large")
		return false
	}
	if !fm.acceptFormats.Match(resp.Header.Get("Content-Type")) {
		Log.Debug().Str("url", u.String()).
			Str("content_type", resp.Header.Get("Content-Type")).
			Msg("unacceptable content type")
		return false
	}
	if !mimetools.MatchLanguage(Config.Fetcher.AcceptLanguages, resp.Header.Get("Content-Language")) {
		Log.Debug().Str("url", u.String()).
			Str("content_language", resp.Header.Get("Content-Language")).
			Msg("unacceptable content language")
		return false
	}
	return true
}

// parseLoop consumes fetched bodies, extracts text and outlinks, feeds new
// links back into the frontier, and hands the page to the store stage.
func (fm *FetchManager) parseLoop(ctx context.Context) {
	parser := &HTMLParser{}
	for item := range fm.parseQueue {
		parser.Parse(item.body)
		outlinks := parser.Outlinks(item.url)

		if fm.addingNewLinks.Load() {
			for _, link := range outlinks {
				fm.frontier.Put(link)
			}
		}

		result := &PageResult{
			URL:      item.url,
			Content:  CleanText(parser.Text),
			Outlinks: outlinks,
		}
		select {
		case fm.storeQueue <- result:
		case <-ctx.Done():
		}
		fm.parsePending.Add(-1)
	}
}

// storeLoop persists page results. Errors are logged and dropped; one bad
// page must not stall the crawl.
func (fm *FetchManager) storeLoop(ctx context.Context) {
	for result := range fm.storeQueue {
		err := fm.Datastore.StorePage(ctx, result)
		if err != nil {
			Log.Error().Str("url", result.URL.String()).Err(err).Msg("failed to store page")
			continue
		}
		fm.persisted.Add(1)
		fm.status.store(result.URL.String())
	}
}

// Status reports a snapshot of crawl progress.
func (fm *FetchManager) Status() Status {
	started, lastVisited, lastStored := fm.status.snapshot()
	return Status{
		Started:        started,
		Crawled:        fm.crawled.Load(),
		Persisted:      fm.persisted.Load(),
		SeenURLs:       fm.frontier.Seen(),
		DroppedURLs:    fm.frontier.Dropped(),
		TrackedDomains: fm.governor.TrackedDomains(),
		LastVisited:    lastVisited,
		LastStored:     lastStored,
	}
}

func (fm *FetchManager) logProgress() {
	s := fm.Status()
	Log.Info().
		Int64("crawled", s.Crawled).
		Int64("persisted", s.Persisted).
		Int("seen", s.SeenURLs).
		Int64("dropped", s.DroppedURLs).
		Int("domains", s.TrackedDomains).
		Str("last_visited", s.LastVisited).
		Str("last_stored", s.LastStored).
		Msg("progress")
}
