// Package index builds the inverted term index over the crawled corpus.
package index

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	isearch "github.com/antwaves/iSearch"
	"github.com/antwaves/iSearch/postgres"
)

// Indexer scans stored pages, tokenizes them, and rebuilds the terms and
// term_page_links tables with chunked bulk upserts.
type Indexer struct {
	store     *postgres.Store
	tokenizer *Tokenizer
	workers   int

	// termDict maps each surviving term to the distinct pages it appears on.
	termDict map[string][]int64
}

// New creates an Indexer over the given store, configured from the global
// Config.
func New(store *postgres.Store) (*Indexer, error) {
	tok, err := NewTokenizer(isearch.Config.Indexer.StopwordsFile)
	if err != nil {
		return nil, err
	}
	return &Indexer{
		store:     store,
		tokenizer: tok,
		workers:   isearch.Config.Indexer.NumWorkers,
		termDict:  make(map[string][]int64),
	}, nil
}

// Build runs the full index build: scan, tokenize, aggregate, prune, insert.
func (ix *Indexer) Build(ctx context.Context) error {
	pages := 0
	err := ix.store.IterPages(ctx, func(id int64, content string) error {
		pages++
		for term := range ix.tokenizer.Tokenize(content) {
			ix.termDict[term] = append(ix.termDict[term], id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning pages: %w", err)
	}
	isearch.Log.Info().Int("pages", pages).Int("terms", len(ix.termDict)).
		Msg("corpus tokenized")

	pruneTerms(ix.termDict, isearch.Config.Indexer.MinPagesPerTerm,
		isearch.Config.Indexer.MinPagesRareLen)
	isearch.Log.Info().Int("terms", len(ix.termDict)).Msg("term dictionary pruned")

	termIDs, err := ix.upsertTerms(ctx)
	if err != nil {
		return fmt.Errorf("upserting terms: %w", err)
	}

	if err := ix.insertEdges(ctx, termIDs); err != nil {
		return fmt.Errorf("inserting term-page links: %w", err)
	}
	isearch.Log.Info().Int("terms", len(termIDs)).Msg("index build complete")
	return nil
}

// pruneTerms drops terms too rare to be worth indexing: page-list length at
// most minPages, and for terms of implausible length (shorter than 4 or
// longer than 15 characters) a stricter minRareLen floor.
func pruneTerms(termDict map[string][]int64, minPages, minRareLen int) {
	for term, pages := range termDict {
		if len(pages) <= minPages {
			delete(termDict, term)
			continue
		}
		if (len(term) < 4 || len(term) > 15) && len(pages) < minRareLen {
			delete(termDict, term)
		}
	}
}

// upsertTerms bulk-upserts every term with its page total and returns the
// term -> term_id mapping the edge inserts need. Statements are chunked so
// the bind parameter count stays under the budget.
func (ix *Indexer) upsertTerms(ctx context.Context) (map[string]int64, error) {
	terms := make([]string, 0, len(ix.termDict))
	for term := range ix.termDict {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	termIDs := make(map[string]int64, len(terms))
	chunkRows := postgres.ChunkLimit(ix.store.MaxParams(), 2)

	for start := 0; start < len(terms); start += chunkRows {
		end := start + chunkRows
		if end > len(terms) {
			end = len(terms)
		}
		chunk := terms[start:end]

		args := make([]any, 0, len(chunk)*2)
		for _, term := range chunk {
			args = append(args, term, len(ix.termDict[term]))
		}
		sql := fmt.Sprintf(`
			INSERT INTO terms (term, total_pages) VALUES %v
			ON CONFLICT (term) DO UPDATE SET total_pages = EXCLUDED.total_pages
			RETURNING term, term_id`, valuesPlaceholders(len(chunk), 2))

		rows, err := ix.store.Pool().Query(ctx, sql, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var term string
			var id int64
			if err := rows.Scan(&term, &id); err != nil {
				rows.Close()
				return nil, err
			}
			termIDs[term] = id
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return termIDs, nil
}

// edge is one (term_id, page_id) row.
type edge struct {
	termID int64
	pageID int64
}

// insertEdges expands the term dictionary into (term_id, page_id) rows and
// inserts them chunk by chunk across a worker pool. Each worker owns its own
// connection and commits every commitEvery chunks so one enormous
// transaction does not pin the store.
func (ix *Indexer) insertEdges(ctx context.Context, termIDs map[string]int64) error {
	var edges []edge
	for term, pages := range ix.termDict {
		id, ok := termIDs[term]
		if !ok {
			continue
		}
		for _, pageID := range pages {
			edges = append(edges, edge{termID: id, pageID: pageID})
		}
	}

	chunkRows := postgres.ChunkLimit(ix.store.MaxParams(), 2)
	chunks := make(chan []edge)
	commitEvery := isearch.Config.Indexer.CommitEveryChunks

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < ix.workers; i++ {
		g.Go(func() error {
			return ix.edgeWorker(gctx, chunks, commitEvery)
		})
	}

	g.Go(func() error {
		defer close(chunks)
		for start := 0; start < len(edges); start += chunkRows {
			end := start + chunkRows
			if end > len(edges) {
				end = len(edges)
			}
			select {
			case chunks <- edges[start:end]:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}

func (ix *Indexer) edgeWorker(ctx context.Context, chunks <-chan []edge, commitEvery int) error {
	conn, err := ix.store.Pool().Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	var tx pgx.Tx
	inTx := 0
	for chunk := range chunks {
		if tx == nil {
			tx, err = conn.Begin(ctx)
			if err != nil {
				return err
			}
		}

		args := make([]any, 0, len(chunk)*2)
		for _, e := range chunk {
			args = append(args, e.termID, e.pageID)
		}
		sql := fmt.Sprintf(`
			INSERT INTO term_page_links (term_id, page_id) VALUES %v
			ON CONFLICT DO NOTHING`, valuesPlaceholders(len(chunk), 2))
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			tx.Rollback(ctx)
			return err
		}

		inTx++
		if inTx >= commitEvery {
			if err := tx.Commit(ctx); err != nil {
				return err
			}
			tx = nil
			inTx = 0
		}
	}
	if tx != nil {
		return tx.Commit(ctx)
	}
	return nil
}

// valuesPlaceholders builds "($1,$2),($3,$4),..." for rows x cols bind
// parameters.
func valuesPlaceholders(rows, cols int) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}
