package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const runColumns = `id, mode, status, started_at, finished_at, previous_watermark, watermark,
	pages_processed, pages_failed, revisions_added, files_processed, pages_deleted,
	pages_moved, error_sample`

// StartRun records a new running sync run
func (db *DB) StartRun(ctx context.Context, mode RunMode, previous *time.Time) (*SyncRun, error) {
	run := &SyncRun{
		ID:                uuid.New(),
		Mode:              mode,
		Status:            RunRunning,
		PreviousWatermark: previous,
	}

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO sync_runs (id, mode, status, previous_watermark)
		VALUES ($1, $2, $3, $4)
		RETURNING started_at
	`, run.ID, string(mode), string(RunRunning), previous).Scan(&run.StartedAt)
	if err != nil {
		return nil, classify("start run", err)
	}
	return run, nil
}

// FinishRun stores the terminal state of a run. The watermark is only
// persisted for completed runs.
func (db *DB) FinishRun(ctx context.Context, run *SyncRun) error {
	if !run.Status.Terminal() {
		return fmt.Errorf("finish run %s: status %q is not terminal", run.ID, run.Status)
	}
	watermark := run.Watermark
	if run.Status != RunCompleted {
		watermark = nil
	}
	sample := run.ErrorSample
	if sample == nil {
		sample = []string{}
	}

	var finished time.Time
	err := db.Pool.QueryRow(ctx, `
		UPDATE sync_runs SET
			status = $2,
			finished_at = NOW(),
			watermark = $3,
			pages_processed = $4,
			pages_failed = $5,
			revisions_added = $6,
			files_processed = $7,
			pages_deleted = $8,
			pages_moved = $9,
			error_sample = $10
		WHERE id = $1
		RETURNING finished_at
	`,
		run.ID, string(run.Status), watermark,
		run.PagesProcessed, run.PagesFailed, run.RevisionsAdded,
		run.FilesProcessed, run.PagesDeleted, run.PagesMoved, sample,
	).Scan(&finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("finish run %s: %w", run.ID, ErrNotFound)
	}
	if err != nil {
		return classify("finish run", err)
	}
	run.FinishedAt = &finished
	run.Watermark = watermark
	return nil
}

// LastWatermark returns the watermark of the most recent completed run, or
// nil when the archive has never been baselined.
func (db *DB) LastWatermark(ctx context.Context) (*time.Time, error) {
	var wm time.Time
	err := db.Pool.QueryRow(ctx, `
		SELECT watermark FROM sync_runs
		WHERE status = 'completed' AND watermark IS NOT NULL
		ORDER BY finished_at DESC
		LIMIT 1
	`).Scan(&wm)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("last watermark", err)
	}
	return &wm, nil
}

// LatestRun returns the most recently started run, or nil
func (db *DB) LatestRun(ctx context.Context) (*SyncRun, error) {
	runs, err := db.ListRuns(ctx, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

// ListRuns returns the most recent runs, newest first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]*SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+runColumns+` FROM sync_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, classify("list runs", err)
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		run := &SyncRun{}
		var mode, status string
		if err := rows.Scan(
			&run.ID, &mode, &status, &run.StartedAt, &run.FinishedAt,
			&run.PreviousWatermark, &run.Watermark,
			&run.PagesProcessed, &run.PagesFailed, &run.RevisionsAdded,
			&run.FilesProcessed, &run.PagesDeleted, &run.PagesMoved, &run.ErrorSample,
		); err != nil {
			return nil, classify("list runs", err)
		}
		run.Mode = RunMode(mode)
		run.Status = RunStatus(status)
		runs = append(runs, run)
	}
	return runs, classify("list runs", rows.Err())
}

// MarkPending records pages as queued for a run so a crash mid-run leaves
// them discoverable by PendingPages.
func (db *DB) MarkPending(ctx context.Context, runID uuid.UUID, pages []PageRef) error {
	ids := make([]int64, 0, len(pages))
	namespaces := make([]int32, 0, len(pages))
	titles := make([]string, 0, len(pages))
	seen := make(map[int64]bool, len(pages))
	for _, p := range pages {
		if p.ID <= 0 || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		ids = append(ids, p.ID)
		namespaces = append(namespaces, int32(p.Namespace))
		titles = append(titles, p.Title)
	}
	if len(ids) == 0 {
		return nil
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO page_sync_status (run_id, page_id, namespace, title, status)
		SELECT $1::uuid, u.id, u.ns, u.title, 'pending'
		FROM unnest($2::bigint[], $3::integer[], $4::text[]) AS u(id, ns, title)
		ON CONFLICT (run_id, page_id) DO NOTHING
	`, runID, ids, namespaces, titles)
	return classify("mark pending", err)
}

// RecordPageStatus writes the outcome of one page within a run
func (db *DB) RecordPageStatus(ctx context.Context, st *PageSyncStatus) error {
	return classify("record page status", recordStatus(ctx, db.Pool, st))
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func recordStatus(ctx context.Context, q execer, st *PageSyncStatus) error {
	_, err := q.Exec(ctx, `
		INSERT INTO page_sync_status (run_id, page_id, namespace, title, status, last_revision_id, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (run_id, page_id) DO UPDATE SET
			namespace = EXCLUDED.namespace,
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			last_revision_id = COALESCE(EXCLUDED.last_revision_id, page_sync_status.last_revision_id),
			error = EXCLUDED.error,
			updated_at = NOW()
	`, st.RunID, st.PageID, st.Namespace, st.Title, string(st.Status), st.LastRevisionID, st.Error)
	return err
}

// PendingPages returns pages whose most recent status, across all runs, is
// still pending or failed. These are re-queued at the start of the next run.
func (db *DB) PendingPages(ctx context.Context) ([]PageRef, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT page_id, namespace, title FROM (
			SELECT DISTINCT ON (page_id) page_id, namespace, title, status
			FROM page_sync_status
			ORDER BY page_id, updated_at DESC
		) latest
		WHERE status IN ('pending', 'failed')
		ORDER BY page_id
	`)
	if err != nil {
		return nil, classify("pending pages", err)
	}
	defer rows.Close()

	var refs []PageRef
	for rows.Next() {
		var r PageRef
		if err := rows.Scan(&r.ID, &r.Namespace, &r.Title); err != nil {
			return nil, classify("pending pages", err)
		}
		refs = append(refs, r)
	}
	return refs, classify("pending pages", rows.Err())
}

// PageStatusHistory returns the recorded outcomes for one page, newest first
func (db *DB) PageStatusHistory(ctx context.Context, pageID int64) ([]PageSyncStatus, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT run_id, page_id, namespace, title, status, last_revision_id, error, updated_at
		FROM page_sync_status
		WHERE page_id = $1
		ORDER BY updated_at DESC
	`, pageID)
	if err != nil {
		return nil, classify("page status history", err)
	}
	defer rows.Close()

	var out []PageSyncStatus
	for rows.Next() {
		var st PageSyncStatus
		var status string
		if err := rows.Scan(&st.RunID, &st.PageID, &st.Namespace, &st.Title, &status,
			&st.LastRevisionID, &st.Error, &st.UpdatedAt); err != nil {
			return nil, classify("page status history", err)
		}
		st.Status = PageStatus(status)
		out = append(out, st)
	}
	return out, classify("page status history", rows.Err())
}
