package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// AddLinks inserts links, ignoring ones already stored
func (db *DB) AddLinks(ctx context.Context, links []Link) error {
	if len(links) == 0 {
		return nil
	}
	return db.inTx(ctx, "add links", func(tx pgx.Tx) error {
		return insertLinksTx(ctx, tx, links)
	})
}

// ReplaceLinks swaps the outgoing links of a page for a new set
func (db *DB) ReplaceLinks(ctx context.Context, pageID int64, links []Link) error {
	return db.inTx(ctx, "replace links", func(tx pgx.Tx) error {
		return replaceLinksTx(ctx, tx, pageID, links)
	})
}

func replaceLinksTx(ctx context.Context, tx pgx.Tx, pageID int64, links []Link) error {
	if _, err := tx.Exec(ctx, `DELETE FROM links WHERE source_page_id = $1`, pageID); err != nil {
		return err
	}
	for i := range links {
		links[i].SourcePageID = pageID
	}
	return insertLinksTx(ctx, tx, links)
}

func insertLinksTx(ctx context.Context, tx pgx.Tx, links []Link) error {
	if len(links) == 0 {
		return nil
	}
	sources := make([]int64, len(links))
	targets := make([]string, len(links))
	types := make([]string, len(links))
	for i, l := range links {
		sources[i] = l.SourcePageID
		targets[i] = l.TargetTitle
		types[i] = l.Type.String()
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO links (source_page_id, target_title, link_type)
		SELECT * FROM unnest($1::bigint[], $2::text[], $3::text[])
		ON CONFLICT DO NOTHING
	`, sources, targets, types)
	return err
}

// GetOutgoingLinks returns every link from a page
func (db *DB) GetOutgoingLinks(ctx context.Context, pageID int64) ([]Link, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT source_page_id, target_title, link_type FROM links
		WHERE source_page_id = $1
		ORDER BY link_type, target_title
	`, pageID)
	if err != nil {
		return nil, classify("outgoing links", err)
	}
	return scanLinks(rows, "outgoing links")
}

func scanLinks(rows pgx.Rows, op string) ([]Link, error) {
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		var kind string
		if err := rows.Scan(&l.SourcePageID, &l.TargetTitle, &kind); err != nil {
			return nil, classify(op, err)
		}
		t, err := ParseLinkType(kind)
		if err != nil {
			return nil, err
		}
		l.Type = t
		links = append(links, l)
	}
	return links, classify(op, rows.Err())
}

// GetBacklinks returns the pages linking to target. With no types given every
// link type is considered.
func (db *DB) GetBacklinks(ctx context.Context, target string, types ...LinkType) ([]*Page, error) {
	kinds := make([]string, 0, 3)
	for _, t := range types {
		kinds = append(kinds, t.String())
	}

	rows, _ := db.Pool.Query(ctx, `
		SELECT DISTINCT p.id, p.namespace, p.title, p.is_redirect, p.created_at, p.updated_at
		FROM links l
		JOIN pages p ON p.id = l.source_page_id
		WHERE l.target_title = $1
			AND (cardinality($2::text[]) = 0 OR l.link_type = ANY($2))
		ORDER BY p.namespace, p.title
	`, target, kinds)
	pages, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Page])
	if err != nil {
		return nil, classify("backlinks", err)
	}
	return pages, nil
}

// GetCategoryMembers returns the pages placed in a category. category is the
// full title, e.g. "Category:Physics".
func (db *DB) GetCategoryMembers(ctx context.Context, category string) ([]*Page, error) {
	return db.GetBacklinks(ctx, category, LinkCategory)
}

// GetTemplateUsage returns the pages transcluding a template
func (db *DB) GetTemplateUsage(ctx context.Context, template string) ([]*Page, error) {
	return db.GetBacklinks(ctx, template, LinkTemplate)
}
