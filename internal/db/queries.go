package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ApplyPage commits everything fetched for one page in a single transaction:
// page metadata, new revisions, the search row, outgoing links and the run's
// completed status row. A failure leaves the page exactly as it was.
func (db *DB) ApplyPage(ctx context.Context, u *PageUpdate) (int, error) {
	if u.Page == nil {
		return 0, integrityf("apply page", "update without a page")
	}

	var added int
	err := db.inTx(ctx, "apply page", func(tx pgx.Tx) error {
		if err := upsertPagesTx(ctx, tx, []*Page{u.Page}); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE page_search SET title = $2
			WHERE page_id = $1 AND title IS DISTINCT FROM $2
		`, u.Page.ID, u.Page.Title); err != nil {
			return err
		}

		var err error
		added, err = appendRevisionsTx(ctx, tx, u.Page.ID, u.Revisions)
		if err != nil {
			return err
		}

		if u.ReplaceLinks {
			if err := replaceLinksTx(ctx, tx, u.Page.ID, u.Links); err != nil {
				return err
			}
		}

		if u.RunID == uuid.Nil {
			return nil
		}
		var latest *int64
		err = tx.QueryRow(ctx, `
			SELECT id FROM revisions WHERE page_id = $1
			ORDER BY timestamp DESC, id DESC LIMIT 1
		`, u.Page.ID).Scan(&latest)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		return recordStatus(ctx, tx, &PageSyncStatus{
			RunID:          u.RunID,
			PageID:         u.Page.ID,
			Namespace:      u.Page.Namespace,
			Title:          u.Page.Title,
			Status:         PageCompleted,
			LastRevisionID: latest,
		})
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// GetChangesInRange returns revisions saved between from and to inclusive,
// newest first. SizeDelta is measured against the parent revision.
func (db *DB) GetChangesInRange(ctx context.Context, from, to time.Time, limit int) ([]ChangeEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT r.id, r.page_id, p.namespace, p.title, r.timestamp, r.user_name,
			r.comment, r.size, r.size - COALESCE(parent.size, 0), r.minor
		FROM revisions r
		JOIN pages p ON p.id = r.page_id
		LEFT JOIN revisions parent ON parent.id = r.parent_id
		WHERE r.timestamp >= $1 AND r.timestamp <= $2
		ORDER BY r.timestamp DESC, r.id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, classify("changes in range", err)
	}
	defer rows.Close()

	var changes []ChangeEntry
	for rows.Next() {
		var c ChangeEntry
		if err := rows.Scan(
			&c.RevisionID, &c.PageID, &c.Namespace, &c.Title, &c.Timestamp,
			&c.User, &c.Comment, &c.Size, &c.SizeDelta, &c.Minor,
		); err != nil {
			return nil, classify("changes in range", err)
		}
		changes = append(changes, c)
	}
	return changes, classify("changes in range", rows.Err())
}

// GetStatistics summarizes the archive contents and the latest run
func (db *DB) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{}

	err := db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM pages),
			(SELECT COUNT(*) FROM pages WHERE is_redirect),
			(SELECT COUNT(*) FROM revisions),
			(SELECT COUNT(*) FROM links),
			(SELECT COUNT(*) FROM file_assets),
			(SELECT COUNT(DISTINCT user_name) FROM revisions),
			(SELECT COALESCE(SUM(size), 0) FROM revisions),
			(SELECT MIN(timestamp) FROM revisions),
			(SELECT MAX(timestamp) FROM revisions)
	`).Scan(
		&stats.Pages, &stats.Redirects, &stats.Revisions, &stats.Links,
		&stats.Files, &stats.DistinctUsers, &stats.TotalContentBytes,
		&stats.OldestRevision, &stats.NewestRevision,
	)
	if err != nil {
		return nil, classify("statistics", err)
	}

	if stats.LastRun, err = db.LatestRun(ctx); err != nil {
		return nil, err
	}
	if stats.LastWatermark, err = db.LastWatermark(ctx); err != nil {
		return nil, err
	}
	return stats, nil
}
