// Package postgres implements the isearch Datastore on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	isearch "github.com/antwaves/iSearch"
)

// pgDeadlockDetected is the PostgreSQL error code for a deadlock between
// concurrent transactions. Two store workers inserting overlapping outlink
// sets can trip this; the loser retries.
const pgDeadlockDetected = "40P01"

// Store is the PostgreSQL-backed Datastore.
type Store struct {
	pool *pgxpool.Pool

	maxParams       int
	deadlockBackoff time.Duration
	deadlockRetries int
}

// DSNFromEnv assembles a postgres connection string from the environment,
// loading envFile first if it exists. The password is percent-encoded so
// credentials with reserved characters survive the URL form.
func DSNFromEnv(envFile string) (string, error) {
	// Variables already exported win over the file.
	godotenv.Load(envFile)

	user := os.Getenv("USER")
	password := os.Getenv("PASSWORD")
	host := os.Getenv("HOST")
	port := os.Getenv("PORT")
	dbname := os.Getenv("DBNAME")

	if user == "" || host == "" || port == "" || dbname == "" {
		return "", fmt.Errorf("incomplete database config: need USER, HOST, PORT, DBNAME (and usually PASSWORD) in the environment or %v", envFile)
	}

	return fmt.Sprintf("postgres://%v:%v@%v:%v/%v",
		url.QueryEscape(user), url.QueryEscape(password), host, port, dbname), nil
}

// Connect builds the DSN from the environment and opens a pool.
func Connect(ctx context.Context) (*Store, error) {
	dsn, err := DSNFromEnv(isearch.Config.Store.EnvFile)
	if err != nil {
		return nil, err
	}
	return ConnectDSN(ctx, dsn)
}

// ConnectDSN opens a pool against the given connection string.
func ConnectDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	backoff, err := time.ParseDuration(isearch.Config.Store.DeadlockBackoff)
	if err != nil {
		backoff = 100 * time.Millisecond
	}
	return &Store{
		pool:            pool,
		maxParams:       isearch.Config.Store.MaxParams,
		deadlockBackoff: backoff,
		deadlockRetries: isearch.Config.Store.DeadlockRetries,
	}, nil
}

// Pool exposes the underlying pool for callers with their own query needs,
// like the indexer's bulk insert workers.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// MaxParams reports the bulk-insert parameter budget per statement.
func (s *Store) MaxParams() int {
	return s.maxParams
}

// ChunkLimit computes how many rows of `cols` columns fit in one statement
// under a parameter budget. PostgreSQL caps bind parameters per statement, so
// bulk inserts are sliced into chunks of this many rows.
func ChunkLimit(maxParams, cols int) int {
	if cols < 1 {
		cols = 1
	}
	n := maxParams / cols
	if n < 1 {
		n = 1
	}
	return n
}

// withTx runs fn inside a transaction, retrying on deadlock. Any other error
// rolls back and propagates.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.deadlockRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.deadlockBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		err = fn(tx)
		if err == nil {
			err = tx.Commit(ctx)
		}
		if err == nil {
			return nil
		}
		tx.Rollback(ctx)

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgDeadlockDetected {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("deadlock persisted after %v retries: %w", s.deadlockRetries, lastErr)
}

// StorePage upserts the page row, ensures placeholder rows for all outlinks,
// and replaces the page's outgoing edges, in one transaction.
func (s *Store) StorePage(ctx context.Context, page *isearch.PageResult) error {
	pageURL := page.URL.String()

	// Dedupe outlinks before they hit the insert. A page linking to itself
	// keeps its self-edge; the (source, target) primary key makes that safe.
	outlinks := dedupeOutlinks(page.Outlinks)

	return s.withTx(ctx, func(tx pgx.Tx) error {
		var pageID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO pages (page_url, page_content) VALUES ($1, $2)
			ON CONFLICT (page_url) DO UPDATE SET page_content = EXCLUDED.page_content
			RETURNING page_id`,
			pageURL, page.Content).Scan(&pageID)
		if err != nil {
			return fmt.Errorf("upserting page: %w", err)
		}

		if len(outlinks) > 0 {
			// Placeholder rows: url only, content stays NULL until the
			// target is crawled itself.
			_, err = tx.Exec(ctx, `
				INSERT INTO pages (page_url)
				SELECT unnest($1::text[])
				ON CONFLICT (page_url) DO NOTHING`, outlinks)
			if err != nil {
				return fmt.Errorf("inserting placeholder pages: %w", err)
			}
		}

		_, err = tx.Exec(ctx, `DELETE FROM links WHERE source_page_id = $1`, pageID)
		if err != nil {
			return fmt.Errorf("clearing old links: %w", err)
		}

		if len(outlinks) > 0 {
			_, err = tx.Exec(ctx, `
				INSERT INTO links (source_page_id, target_page_id)
				SELECT $1, page_id FROM pages WHERE page_url = ANY($2::text[])
				ON CONFLICT DO NOTHING`, pageID, outlinks)
			if err != nil {
				return fmt.Errorf("inserting links: %w", err)
			}
		}
		return nil
	})
}

func dedupeOutlinks(links []*isearch.URL) []string {
	seen := make(map[string]struct{}, len(links))
	var out []string
	for _, link := range links {
		key := link.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// SeedPage inserts a placeholder row for a URL without content, so a later
// crawl or the indexer can pick it up.
func (s *Store) SeedPage(ctx context.Context, pageURL string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pages (page_url) VALUES ($1)
		ON CONFLICT (page_url) DO NOTHING`, pageURL)
	return err
}

// PageCount reports how many pages hold crawled content.
func (s *Store) PageCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM pages WHERE page_content IS NOT NULL`).Scan(&n)
	return n, err
}

// PageInfo is a console-facing summary of one stored page.
type PageInfo struct {
	ID           int64  `json:"page_id"`
	URL          string `json:"page_url"`
	ContentBytes int    `json:"content_bytes"`
	OutlinkCount int    `json:"outlink_count"`
	Crawled      bool   `json:"crawled"`
}

// PageByURL looks up one page row by its canonical URL.
func (s *Store) PageByURL(ctx context.Context, pageURL string) (*PageInfo, error) {
	info := &PageInfo{}
	err := s.pool.QueryRow(ctx, `
		SELECT p.page_id, p.page_url,
		       coalesce(length(p.page_content), 0),
		       p.page_content IS NOT NULL,
		       (SELECT count(*) FROM links l WHERE l.source_page_id = p.page_id)
		FROM pages p WHERE p.page_url = $1`,
		pageURL).Scan(&info.ID, &info.URL, &info.ContentBytes, &info.Crawled, &info.OutlinkCount)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// TermPages returns the URLs of pages indexed under term, up to limit.
func (s *Store) TermPages(ctx context.Context, term string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.page_url
		FROM terms t
		JOIN term_page_links tpl ON tpl.term_id = t.term_id
		JOIN pages p ON p.page_id = tpl.page_id
		WHERE t.term = $1
		ORDER BY p.page_id
		LIMIT $2`, term, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// IterPages streams every page with crawled content to fn. The scan runs on
// one connection while fn is free to use others.
func (s *Store) IterPages(ctx context.Context, fn func(id int64, content string) error) error {
	rows, err := s.pool.Query(ctx, `
		SELECT page_id, page_content FROM pages
		WHERE page_content IS NOT NULL
		ORDER BY page_id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var content string
		if err := rows.Scan(&id, &content); err != nil {
			return err
		}
		if err := fn(id, content); err != nil {
			return err
		}
	}
	return rows.Err()
}
