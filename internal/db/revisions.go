package db

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
)

const revisionColumns = `id, page_id, parent_id, timestamp, user_name, user_id, comment, content, size, sha1, minor, tags`

const insertRevisionSQL = `
	INSERT INTO revisions (` + revisionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO NOTHING
`

// AppendRevisions stores revisions of one page. Revisions already stored are
// skipped, so re-applying an overlapping range is a no-op. The page's search
// row is replaced with the newest content in the same transaction.
func (db *DB) AppendRevisions(ctx context.Context, pageID int64, revs []*Revision) (int, error) {
	var added int
	err := db.inTx(ctx, "append revisions", func(tx pgx.Tx) error {
		var err error
		added, err = appendRevisionsTx(ctx, tx, pageID, revs)
		return err
	})
	return added, err
}

// compareRevisions orders by timestamp then id, the archive's history order
func compareRevisions(a, b *Revision) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

func appendRevisionsTx(ctx context.Context, tx pgx.Tx, pageID int64, revs []*Revision) (int, error) {
	const op = "append revisions"
	if len(revs) == 0 {
		return 0, nil
	}

	ordered := make([]*Revision, 0, len(revs))
	ids := make([]int64, 0, len(revs))
	for _, r := range revs {
		if r.ID <= 0 {
			return 0, integrityf(op, "revision without remote id on page %d", pageID)
		}
		if r.PageID == 0 {
			r.PageID = pageID
		}
		if r.PageID != pageID {
			return 0, integrityf(op, "revision %d belongs to page %d, not %d", r.ID, r.PageID, pageID)
		}
		ordered = append(ordered, r)
		ids = append(ids, r.ID)
	}
	slices.SortFunc(ordered, compareRevisions)

	// Drop what is already stored
	existing := make(map[int64]bool)
	rows, err := tx.Query(ctx, `SELECT id, page_id FROM revisions WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	for rows.Next() {
		var id, owner int64
		if err := rows.Scan(&id, &owner); err != nil {
			rows.Close()
			return 0, err
		}
		if owner != pageID {
			rows.Close()
			return 0, integrityf(op, "revision %d already stored under page %d", id, owner)
		}
		existing[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	fresh := ordered[:0:0]
	for _, r := range ordered {
		if !existing[r.ID] && !slices.ContainsFunc(fresh, func(f *Revision) bool { return f.ID == r.ID }) {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	// Lock the page so appends to one page are serialized
	var title string
	err = tx.QueryRow(ctx, `SELECT title FROM pages WHERE id = $1 FOR UPDATE`, pageID).Scan(&title)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, integrityf(op, "page %d does not exist", pageID)
	}
	if err != nil {
		return 0, err
	}

	var latestID int64
	var latestTS time.Time
	err = tx.QueryRow(ctx, `
		SELECT id, timestamp FROM revisions WHERE page_id = $1
		ORDER BY timestamp DESC, id DESC LIMIT 1
	`, pageID).Scan(&latestID, &latestTS)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	if latestID != 0 && compareRevisions(fresh[0], &Revision{ID: latestID, Timestamp: latestTS}) <= 0 {
		return 0, integrityf(op, "revision %d at %s precedes stored latest %d at %s",
			fresh[0].ID, fresh[0].Timestamp.Format(time.RFC3339), latestID, latestTS.Format(time.RFC3339))
	}

	if err := checkParents(ctx, tx, pageID, fresh); err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	for _, r := range fresh {
		batch.Queue(insertRevisionSQL,
			r.ID, r.PageID, r.ParentID, r.Timestamp, r.User, r.UserID, r.Comment,
			r.Content, r.Size, r.SHA1, r.Minor, r.Tags)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, err
	}

	if err := refreshSearchTx(ctx, tx, pageID, title, fresh); err != nil {
		return 0, err
	}

	return len(fresh), nil
}

// checkParents requires every parent to be an earlier revision of the same
// page, either stored or earlier in the batch.
func checkParents(ctx context.Context, tx pgx.Tx, pageID int64, fresh []*Revision) error {
	const op = "append revisions"

	position := make(map[int64]int, len(fresh))
	for i, r := range fresh {
		position[r.ID] = i
	}

	var outside []int64
	for i, r := range fresh {
		if r.ParentID == nil {
			continue
		}
		if pos, ok := position[*r.ParentID]; ok {
			if pos >= i {
				return integrityf(op, "revision %d has parent %d that is not earlier", r.ID, *r.ParentID)
			}
			continue
		}
		outside = append(outside, *r.ParentID)
	}
	if len(outside) == 0 {
		return nil
	}

	rows, err := tx.Query(ctx, `SELECT id FROM revisions WHERE page_id = $1 AND id = ANY($2)`, pageID, outside)
	if err != nil {
		return err
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return err
	}
	for _, id := range outside {
		if !slices.Contains(found, id) {
			return integrityf(op, "parent revision %d of page %d is not stored", id, pageID)
		}
	}
	return nil
}

// contentHidden reports a revision whose text was suppressed remotely: the
// size is known but no content came with it
func contentHidden(r *Revision) bool {
	return r.Content == "" && r.Size > 0
}

// refreshSearchTx indexes the newest fresh revision with visible content.
// When every fresh revision is hidden the existing search row is kept.
func refreshSearchTx(ctx context.Context, tx pgx.Tx, pageID int64, title string, fresh []*Revision) error {
	var latest *Revision
	for i := len(fresh) - 1; i >= 0; i-- {
		if !contentHidden(fresh[i]) {
			latest = fresh[i]
			break
		}
	}
	if latest == nil {
		_, err := tx.Exec(ctx, `
			INSERT INTO page_search (page_id, revision_id, title, content)
			VALUES ($1, $2, $3, '')
			ON CONFLICT (page_id) DO NOTHING
		`, pageID, fresh[len(fresh)-1].ID, title)
		return err
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO page_search (page_id, revision_id, title, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (page_id) DO UPDATE SET
			revision_id = EXCLUDED.revision_id,
			title = EXCLUDED.title,
			content = EXCLUDED.content
	`, pageID, latest.ID, title, latest.Content)
	return err
}

// GetRevision retrieves one revision by id. Returns nil if not found.
func (db *DB) GetRevision(ctx context.Context, id int64) (*Revision, error) {
	rows, _ := db.Pool.Query(ctx, `SELECT `+revisionColumns+` FROM revisions WHERE id = $1`, id)
	return collectOneRevision(rows, "get revision")
}

// GetLatest returns the newest revision of a page, or nil if it has none
func (db *DB) GetLatest(ctx context.Context, pageID int64) (*Revision, error) {
	rows, _ := db.Pool.Query(ctx, `
		SELECT `+revisionColumns+` FROM revisions
		WHERE page_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, pageID)
	return collectOneRevision(rows, "get latest revision")
}

// GetAsOf returns the revision current at t: the greatest timestamp <= t,
// ties broken by id. Returns nil if the page had no revision yet.
func (db *DB) GetAsOf(ctx context.Context, pageID int64, t time.Time) (*Revision, error) {
	rows, _ := db.Pool.Query(ctx, `
		SELECT `+revisionColumns+` FROM revisions
		WHERE page_id = $1 AND timestamp <= $2
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, pageID, t)
	return collectOneRevision(rows, "get revision as of")
}

// GetPageAsOf resolves a title and returns its revision current at t
func (db *DB) GetPageAsOf(ctx context.Context, namespace int, title string, t time.Time) (*Page, *Revision, error) {
	page, err := db.GetPage(ctx, namespace, title)
	if err != nil || page == nil {
		return nil, nil, err
	}
	rev, err := db.GetAsOf(ctx, page.ID, t)
	if err != nil {
		return nil, nil, err
	}
	return page, rev, nil
}

func collectOneRevision(rows pgx.Rows, op string) (*Revision, error) {
	rev, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Revision])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return rev, nil
}

// ListAsOf streams the state of the whole archive at t: for every page that
// existed then, its revision current at t. Pages are visited in id order.
func (db *DB) ListAsOf(ctx context.Context, t time.Time, fn func(*PageRevision) error) error {
	rows, err := db.Pool.Query(ctx, `
		SELECT DISTINCT ON (r.page_id)
			p.id, p.namespace, p.title, p.is_redirect, p.created_at, p.updated_at,
			r.id, r.page_id, r.parent_id, r.timestamp, r.user_name, r.user_id,
			r.comment, r.content, r.size, r.sha1, r.minor, r.tags
		FROM revisions r
		JOIN pages p ON p.id = r.page_id
		WHERE r.timestamp <= $1
		ORDER BY r.page_id, r.timestamp DESC, r.id DESC
	`, t)
	if err != nil {
		return classify("list as of", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pr PageRevision
		p, r := &pr.Page, &pr.Revision
		if err := rows.Scan(
			&p.ID, &p.Namespace, &p.Title, &p.IsRedirect, &p.CreatedAt, &p.UpdatedAt,
			&r.ID, &r.PageID, &r.ParentID, &r.Timestamp, &r.User, &r.UserID,
			&r.Comment, &r.Content, &r.Size, &r.SHA1, &r.Minor, &r.Tags,
		); err != nil {
			return classify("list as of", err)
		}
		if err := fn(&pr); err != nil {
			return err
		}
	}
	return classify("list as of", rows.Err())
}

// GetPageHistory returns a page's revisions newest first, without content.
// limit <= 0 returns the whole chain.
func (db *DB) GetPageHistory(ctx context.Context, pageID int64, limit int) ([]*Revision, error) {
	query := `
		SELECT id, page_id, parent_id, timestamp, user_name, user_id, comment,
			'' AS content, size, sha1, minor, tags
		FROM revisions
		WHERE page_id = $1
		ORDER BY timestamp DESC, id DESC`
	args := []any{pageID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, _ := db.Pool.Query(ctx, query, args...)
	revs, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Revision])
	if err != nil {
		return nil, classify("page history", err)
	}
	return revs, nil
}

// CountRevisions returns how many revisions a page has stored
func (db *DB) CountRevisions(ctx context.Context, pageID int64) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM revisions WHERE page_id = $1`, pageID).Scan(&n)
	return n, classify("count revisions", err)
}
