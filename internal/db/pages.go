package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const pageColumns = `id, namespace, title, is_redirect, created_at, updated_at`

// upsertPagesSQL conflicts on the remote id so a renamed page is updated in
// place and its revision chain stays attached.
const upsertPagesSQL = `
	INSERT INTO pages (id, namespace, title, is_redirect)
	SELECT * FROM unnest($1::bigint[], $2::integer[], $3::text[], $4::boolean[])
	ON CONFLICT (id) DO UPDATE SET
		namespace = EXCLUDED.namespace,
		title = EXCLUDED.title,
		is_redirect = EXCLUDED.is_redirect,
		updated_at = NOW()
	WHERE (pages.namespace, pages.title, pages.is_redirect)
		IS DISTINCT FROM (EXCLUDED.namespace, EXCLUDED.title, EXCLUDED.is_redirect)
`

// UpsertPage inserts or updates a single page
func (db *DB) UpsertPage(ctx context.Context, page *Page) error {
	return db.UpsertPages(ctx, []*Page{page})
}

// UpsertPages inserts or updates a batch of pages in one statement and one
// transaction. Re-applying the same batch is a no-op.
func (db *DB) UpsertPages(ctx context.Context, pages []*Page) error {
	if len(pages) == 0 {
		return nil
	}
	return db.inTx(ctx, "upsert pages", func(tx pgx.Tx) error {
		return upsertPagesTx(ctx, tx, pages)
	})
}

func upsertPagesTx(ctx context.Context, tx pgx.Tx, pages []*Page) error {
	ids := make([]int64, 0, len(pages))
	namespaces := make([]int32, 0, len(pages))
	titles := make([]string, 0, len(pages))
	redirects := make([]bool, 0, len(pages))

	seen := make(map[int64]bool, len(pages))
	for _, p := range pages {
		if p.ID <= 0 {
			return integrityf("upsert pages", "page %q has no remote id", p.Title)
		}
		// ON CONFLICT cannot touch the same row twice in one statement
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		ids = append(ids, p.ID)
		namespaces = append(namespaces, int32(p.Namespace))
		titles = append(titles, p.Title)
		redirects = append(redirects, p.IsRedirect)
	}

	_, err := tx.Exec(ctx, upsertPagesSQL, ids, namespaces, titles, redirects)
	return err
}

// RenamePage moves a page to a new namespace/title, keeping its id and history
func (db *DB) RenamePage(ctx context.Context, id int64, namespace int, title string) error {
	return db.RenamePages(ctx, []PageRef{{ID: id, Namespace: namespace, Title: title}})
}

// RenamePages applies a set of renames in one transaction. Title uniqueness
// is checked at commit, so renames that swap or rotate titles between pages
// succeed together or not at all.
func (db *DB) RenamePages(ctx context.Context, renames []PageRef) error {
	if len(renames) == 0 {
		return nil
	}
	return db.inTx(ctx, "rename pages", func(tx pgx.Tx) error {
		for _, r := range renames {
			tag, err := tx.Exec(ctx, `
				UPDATE pages SET namespace = $2, title = $3, updated_at = NOW()
				WHERE id = $1
			`, r.ID, r.Namespace, r.Title)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("page %d: %w", r.ID, ErrNotFound)
			}
			// Keep the search row's title in step
			if _, err := tx.Exec(ctx, `UPDATE page_search SET title = $2 WHERE page_id = $1`, r.ID, r.Title); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetPage retrieves a page by namespace and title. Returns nil if not found.
func (db *DB) GetPage(ctx context.Context, namespace int, title string) (*Page, error) {
	rows, _ := db.Pool.Query(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE namespace = $1 AND title = $2`,
		namespace, title)
	return collectOnePage(rows, "get page")
}

// GetPageByTitle retrieves a page by title in any namespace. Titles carry
// their namespace prefix so they are unique on their own in practice.
func (db *DB) GetPageByTitle(ctx context.Context, title string) (*Page, error) {
	rows, _ := db.Pool.Query(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE title = $1 ORDER BY namespace LIMIT 1`,
		title)
	return collectOnePage(rows, "get page by title")
}

// GetPageByID retrieves a page by its remote id. Returns nil if not found.
func (db *DB) GetPageByID(ctx context.Context, id int64) (*Page, error) {
	rows, _ := db.Pool.Query(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = $1`, id)
	return collectOnePage(rows, "get page by id")
}

func collectOnePage(rows pgx.Rows, op string) (*Page, error) {
	page, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Page])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return page, nil
}

// DeletePage physically removes a page with its revisions, links and search
// row. Sync never calls this; remote deletions are only recorded.
func (db *DB) DeletePage(ctx context.Context, id int64) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM pages WHERE id = $1`, id)
	if err != nil {
		return classify("delete page", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete page %d: %w", id, ErrNotFound)
	}
	return nil
}

// PageStates returns the local state of the given titles in a namespace,
// keyed by title. Titles not stored locally are absent from the map.
func (db *DB) PageStates(ctx context.Context, namespace int, titles []string) (map[string]PageState, error) {
	states := make(map[string]PageState, len(titles))
	if len(titles) == 0 {
		return states, nil
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT p.id, p.namespace, p.title, p.is_redirect,
			COALESCE(r.id, 0), r.timestamp
		FROM pages p
		LEFT JOIN LATERAL (
			SELECT id, timestamp FROM revisions
			WHERE page_id = p.id
			ORDER BY timestamp DESC, id DESC
			LIMIT 1
		) r ON TRUE
		WHERE p.namespace = $1 AND p.title = ANY($2)
	`, namespace, titles)
	if err != nil {
		return nil, classify("page states", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st PageState
		var ts *time.Time
		if err := rows.Scan(&st.PageID, &st.Namespace, &st.Title, &st.IsRedirect, &st.LatestRevisionID, &ts); err != nil {
			return nil, classify("page states", err)
		}
		if ts != nil {
			st.LatestTimestamp = *ts
		}
		states[st.Title] = st
	}
	return states, classify("page states", rows.Err())
}

// PageStateByID returns the local state of one page, or nil if unknown
func (db *DB) PageStateByID(ctx context.Context, id int64) (*PageState, error) {
	var st PageState
	var ts *time.Time
	err := db.Pool.QueryRow(ctx, `
		SELECT p.id, p.namespace, p.title, p.is_redirect, COALESCE(r.id, 0), r.timestamp
		FROM pages p
		LEFT JOIN LATERAL (
			SELECT id, timestamp FROM revisions
			WHERE page_id = p.id
			ORDER BY timestamp DESC, id DESC
			LIMIT 1
		) r ON TRUE
		WHERE p.id = $1
	`, id).Scan(&st.PageID, &st.Namespace, &st.Title, &st.IsRedirect, &st.LatestRevisionID, &ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("page state", err)
	}
	if ts != nil {
		st.LatestTimestamp = *ts
	}
	return &st, nil
}

// NamespacePageIDs returns id -> title for every stored page in a namespace
func (db *DB) NamespacePageIDs(ctx context.Context, namespace int) (map[int64]string, error) {
	rows, err := db.Pool.Query(ctx, `SELECT id, title FROM pages WHERE namespace = $1`, namespace)
	if err != nil {
		return nil, classify("namespace pages", err)
	}
	defer rows.Close()

	ids := make(map[int64]string)
	for rows.Next() {
		var id int64
		var title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, classify("namespace pages", err)
		}
		ids[id] = title
	}
	return ids, classify("namespace pages", rows.Err())
}
