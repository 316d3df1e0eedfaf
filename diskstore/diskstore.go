/*
Package diskstore provides a basic datastore that writes crawled pages to
local files instead of a database. Good for eyeballing what a crawl picks up
without standing up PostgreSQL.
*/
package diskstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	isearch "github.com/antwaves/iSearch"
)

// Store implements the isearch.Datastore interface on the local filesystem.
type Store struct {
	// Root is the directory pages are written under. Defaults to the
	// working directory.
	Root string

	stored atomic.Int64
}

// StorePage writes the page's extracted text as a file named after the URL of
// the request made.
//
// For example, the page `http://test.com/amazing/stuff.html` creates the
// directory `<Root>/test.com/amazing` and writes the text (no headers or
// HTTP data) to `<Root>/test.com/amazing/stuff.html`. Outlinks are not
// recorded.
func (s *Store) StorePage(ctx context.Context, page *isearch.PageResult) error {
	uri := page.URL.RequestURI()
	if uri == "" || strings.HasSuffix(uri, "/") {
		// Don't store directory pages; no sensible name to use for them
		return nil
	}

	path := filepath.Join(s.Root, page.URL.Host, uri)
	dir, _ := filepath.Split(path)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(page.Content), 0666); err != nil {
		return err
	}
	s.stored.Add(1)
	return nil
}

// PageCount reports how many pages this process has written.
func (s *Store) PageCount(ctx context.Context) (int64, error) {
	return s.stored.Load(), nil
}

func (s *Store) Close() {}
