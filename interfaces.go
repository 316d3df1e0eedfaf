package isearch

import "context"

// PageResult is the unit of work handed from the parser stage to the
// persistence stage: one fetched page, its cleaned text, and the outlinks
// found on it.
type PageResult struct {
	// URL is the canonicalized URL the page was fetched from.
	URL *URL

	// Content is the visible text of the page, NUL-stripped. Empty for
	// pages fetched but filtered (wrong language, no text).
	Content string

	// Outlinks are the canonicalized, crawlable links found on the page.
	// Each becomes a placeholder row and a link edge in the store.
	Outlinks []*URL
}

// Datastore defines the interface the crawl pipeline uses to persist results.
// The pipeline never sees SQL; swapping the backing store (or mocking it in
// tests) only touches implementations of this interface.
type Datastore interface {
	// StorePage upserts the page row, ensures a placeholder row exists for
	// every outlink, and replaces the page's outgoing link edges, all
	// atomically. Calling it again for the same URL must be safe: a page
	// can be re-stored when a redirect lands on an already-crawled URL.
	StorePage(ctx context.Context, page *PageResult) error

	// PageCount reports how many pages have non-null content, for progress
	// reporting and the console.
	PageCount(ctx context.Context) (int64, error)

	// Close releases the store's resources.
	Close()
}
