package postgres

import "context"

// Schema returns the DDL for the crawl and index tables.
//
// pages doubles as the crawl's persistent URL universe: a row with NULL
// page_content is a link target that has been discovered but not crawled.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS pages (
    page_id      BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    page_url     TEXT NOT NULL UNIQUE,
    page_content TEXT
);

CREATE TABLE IF NOT EXISTS links (
    source_page_id BIGINT NOT NULL REFERENCES pages (page_id) ON DELETE CASCADE,
    target_page_id BIGINT NOT NULL REFERENCES pages (page_id) ON DELETE CASCADE,
    PRIMARY KEY (source_page_id, target_page_id)
);

CREATE INDEX IF NOT EXISTS links_target_idx ON links (target_page_id);

CREATE TABLE IF NOT EXISTS terms (
    term_id     BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    term        TEXT NOT NULL UNIQUE,
    total_pages INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS term_page_links (
    term_id BIGINT NOT NULL REFERENCES terms (term_id) ON DELETE CASCADE,
    page_id BIGINT NOT NULL REFERENCES pages (page_id) ON DELETE CASCADE,
    PRIMARY KEY (term_id, page_id)
);

CREATE INDEX IF NOT EXISTS term_page_links_page_idx ON term_page_links (page_id);
`
}

// CreateSchema applies the DDL. Safe to run on an existing database.
func (s *Store) CreateSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema())
	return err
}
