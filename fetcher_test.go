package isearch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

// setupFetchTestConfig shrinks the pipeline and its timers so an end-to-end
// crawl over httptest servers finishes in well under a second per page.
func setupFetchTestConfig(t *testing.T, maxCrawl int) {
	t.Helper()
	resetTestConfig()
	Config.Fetcher.NumSimultaneousFetchers = 4
	Config.Fetcher.NumParsers = 2
	Config.Fetcher.NumStoreWorkers = 2
	Config.Fetcher.MaxCrawl = maxCrawl
	Config.Fetcher.HTTPTimeout = "2s"
	Config.Frontier.ShuffleInterval = "30ms"
	Config.Frontier.WarmupShuffleInterval = "10ms"
	Config.Politeness.DefaultWait = "10ms"
	Config.Politeness.SleepThreshold = "1ms"
	t.Cleanup(resetTestConfig)
}

// recordingDatastore wraps MockDatastore with thread-safe capture of every
// stored page, since stores arrive from concurrent workers.
type recordingDatastore struct {
	MockDatastore
	mu    sync.Mutex
	pages map[string]*PageResult
}

func newRecordingDatastore() *recordingDatastore {
	ds := &recordingDatastore{pages: make(map[string]*PageResult)}
	ds.On("StorePage", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		page := args.Get(1).(*PageResult)
		ds.mu.Lock()
		ds.pages[page.URL.String()] = page
		ds.mu.Unlock()
	}).Return(nil)
	return ds
}

func (ds *recordingDatastore) page(url string) *PageResult {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.pages[url]
}

func (ds *recordingDatastore) count() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return len(ds.pages)
}

func runCrawl(t *testing.T, ds Datastore, seeds ...string) *FetchManager {
	t.Helper()
	fm := &FetchManager{Datastore: ds}
	var urls []*URL
	for _, s := range seeds {
		urls = append(urls, MustCanonicalize(s))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fm.Start(ctx, urls); err != nil {
		t.Fatalf("Crawl did not finish cleanly: %v", err)
	}
	return fm
}

func TestCrawlSinglePageNoLinks(t *testing.T) {
	setupFetchTestConfig(t, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "<html><body><p>Lonely page.</p></body></html>")
	}))
	defer srv.Close()

	ds := newRecordingDatastore()
	fm := runCrawl(t, ds, srv.URL+"/only")

	page := ds.page(srv.URL + "/only")
	if page == nil {
		t.Fatalf("Seed page was not stored")
	}
	if page.Content != "Lonely page." {
		t.Errorf("Stored content got %q", page.Content)
	}
	if len(page.Outlinks) != 0 {
		t.Errorf("Expected no outlinks, got %v", page.Outlinks)
	}
	if got := fm.Status().Crawled; got != 1 {
		t.Errorf("Crawled counter got %v, expected 1", got)
	}
}

func TestCrawlFollowsLinks(t *testing.T) {
	setupFetchTestConfig(t, 10)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/a">a</a>
			<a href="/b">b</a>
			<a href="mailto:x@example.com">mail</a>
			<a href="/pic.jpg">pic</a>
		</body></html>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>Page A <a href="/b">b again</a></body></html>`)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>Page B</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ds := newRecordingDatastore()
	runCrawl(t, ds, srv.URL)

	root := ds.page(srv.URL)
	if root == nil {
		t.Fatalf("Root page not stored")
	}
	var outlinks []string
	for _, l := range root.Outlinks {
		outlinks = append(outlinks, l.String())
	}
	expect := []string{srv.URL + "/a", srv.URL + "/b"}
	if len(outlinks) != len(expect) {
		t.Fatalf("Root outlinks got %v, expected %v", outlinks, expect)
	}
	for i := range expect {
		if outlinks[i] != expect[i] {
			t.Errorf("Outlink %v got %v, expected %v", i, outlinks[i], expect[i])
		}
	}

	for _, url := range []string{srv.URL + "/a", srv.URL + "/b"} {
		if ds.page(url) == nil {
			t.Errorf("Linked page %v was not crawled and stored", url)
		}
	}
	if ds.count() != 3 {
		t.Errorf("Stored %v pages, expected 3", ds.count())
	}
}

func TestCrawlHonorsRobots(t *testing.T) {
	setupFetchTestConfig(t, 10)
	var mu sync.Mutex
	privateHits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/private/secret">s</a><a href="/open">o</a></body></html>`)
	})
	mux.HandleFunc("/open", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>open</body></html>")
	})
	mux.HandleFunc("/private/secret", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		privateHits++
		mu.Unlock()
		fmt.Fprint(w, "<html><body>secret</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ds := newRecordingDatastore()
	fm := runCrawl(t, ds, srv.URL)

	mu.Lock()
	hits := privateHits
	mu.Unlock()
	if hits != 0 {
		t.Errorf("Disallowed path was fetched %v times", hits)
	}
	if ds.page(srv.URL+"/private/secret") != nil {
		t.Errorf("Disallowed page was stored")
	}
	if ds.page(srv.URL+"/open") == nil {
		t.Errorf("Allowed page was not stored")
	}
	// Root, /open, and the denied /private/secret: all three dequeued URLs
	// count as attempts, fetched or not.
	if got := fm.Status().Crawled; got != 3 {
		t.Errorf("Crawled got %v, expected 3 attempts including the denied URL", got)
	}
}

func TestCrawlFiltersResponses(t *testing.T) {
	setupFetchTestConfig(t, 10)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/data.json">j</a>
			<a href="/german">g</a>
			<a href="/missing">m</a>
		</body></html>`)
	})
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"not": "html"}`)
	})
	mux.HandleFunc("/german", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Language", "de-DE")
		fmt.Fprint(w, "<html><body>Hallo</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ds := newRecordingDatastore()
	runCrawl(t, ds, srv.URL)

	if ds.page(srv.URL+"/data.json") != nil {
		t.Errorf("Non-HTML response was stored")
	}
	if ds.page(srv.URL+"/german") != nil {
		t.Errorf("Wrong-language response was stored")
	}
	if ds.page(srv.URL+"/missing") != nil {
		t.Errorf("404 response was stored")
	}
	if ds.page(srv.URL) == nil {
		t.Errorf("Root page was not stored")
	}
}

func TestCrawlThrottledResponseNotStored(t *testing.T) {
	setupFetchTestConfig(t, 10)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/busy">b</a></body></html>`)
	})
	mux.HandleFunc("/busy", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ds := newRecordingDatastore()
	runCrawl(t, ds, srv.URL)

	if ds.page(srv.URL+"/busy") != nil {
		t.Errorf("429 response was stored")
	}
	if ds.page(srv.URL) == nil {
		t.Errorf("Root page was not stored")
	}
}

func TestCrawlStopsAtLimit(t *testing.T) {
	setupFetchTestConfig(t, 3)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Every page links to two more, forever.
		fmt.Fprintf(w, `<html><body>
			<a href="%[1]sx">x</a>
			<a href="%[1]sy">y</a>
		</body></html>`, r.URL.Path)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ds := newRecordingDatastore()
	fm := runCrawl(t, ds, srv.URL)

	crawled := fm.Status().Crawled
	// The limit is checked on the shuffle tick, so a few in-flight fetches
	// can land past it, but the crawl must not run away.
	if crawled < 3 || crawled > 20 {
		t.Errorf("Crawled %v pages with a limit of 3", crawled)
	}
}

func TestCrawlFollowsRedirects(t *testing.T) {
	setupFetchTestConfig(t, 10)
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>Landed</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ds := newRecordingDatastore()
	runCrawl(t, ds, srv.URL+"/old")

	// The page is stored under the URL that actually served it.
	page := ds.page(srv.URL + "/new")
	if page == nil {
		t.Fatalf("Redirect target not stored")
	}
	if page.Content != "Landed" {
		t.Errorf("Stored content got %q", page.Content)
	}
}

func TestCrawlSendsHeaders(t *testing.T) {
	setupFetchTestConfig(t, 10)
	var mu sync.Mutex
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			mu.Lock()
			got = r.Header.Clone()
			mu.Unlock()
		}
		fmt.Fprint(w, "<html><body>hi</body></html>")
	}))
	defer srv.Close()

	ds := newRecordingDatastore()
	runCrawl(t, ds, srv.URL)

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatalf("Page was never fetched")
	}
	if ua := got.Get("User-Agent"); ua != "iSearch" {
		t.Errorf("User-Agent got %q", ua)
	}
	if al := got.Get("Accept-Language"); al != "en-US,en;q=0.9" {
		t.Errorf("Accept-Language got %q", al)
	}
	if a := got.Get("Accept"); a != "*/*" {
		t.Errorf("Accept got %q", a)
	}
	if cc := got.Get("Cache-Control"); cc != "max-age=0" {
		t.Errorf("Cache-Control got %q", cc)
	}
}

func TestCrawlSurvivesStoreErrors(t *testing.T) {
	setupFetchTestConfig(t, 10)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/a">a</a></body></html>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>A</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ds := &MockDatastore{}
	ds.On("StorePage", mock.Anything, mock.Anything).Return(fmt.Errorf("store is down"))

	fm := runCrawl(t, ds, srv.URL)
	if got := fm.Status().Crawled; got != 2 {
		t.Errorf("Crawled got %v, expected the crawl to continue past store errors", got)
	}
	if got := fm.Status().Persisted; got != 0 {
		t.Errorf("Persisted got %v, expected 0", got)
	}
}
