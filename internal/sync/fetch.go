package sync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/vonshlovens/wikiarchive/internal/db"
	"github.com/vonshlovens/wikiarchive/internal/mediawiki"
	"github.com/vonshlovens/wikiarchive/internal/parser"
)

// FetchStore is what the fetch pipeline writes to
type FetchStore interface {
	PageStateByID(ctx context.Context, id int64) (*db.PageState, error)
	ApplyPage(ctx context.Context, u *db.PageUpdate) (int, error)
	UpsertFile(ctx context.Context, f *db.FileAsset) (bool, error)
}

// workItem is one page queued for fetching. ID is 0 when only the title is
// known; redirect is nil unless the listing reported it.
type workItem struct {
	ref      db.PageRef
	redirect *bool
}

// FetchResult is the outcome of fetching one page
type FetchResult struct {
	PageID    int64
	Revisions int
	// File is set when file metadata was stored or confirmed unchanged
	File bool
	// Deleted is set when the remote no longer has the page
	Deleted bool
}

// Fetcher pulls missing revisions and file metadata for one page at a time
// and commits them to the store
type Fetcher struct {
	store  FetchStore
	source mediawiki.Source
	retry  *Retrier
	logger *slog.Logger
}

// NewFetcher creates a fetch pipeline
func NewFetcher(store FetchStore, source mediawiki.Source, retry *Retrier, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{store: store, source: source, retry: retry, logger: logger}
}

// FetchPage brings one page up to date. Everything for the page is committed
// in a single transaction, tagged with runID.
func (f *Fetcher) FetchPage(ctx context.Context, runID uuid.UUID, item workItem) (*FetchResult, error) {
	ref := item.ref
	if ref.ID == 0 {
		info, err := f.probe(ctx, ref.Title)
		if err != nil {
			return nil, err
		}
		if info == nil {
			return &FetchResult{Deleted: true}, nil
		}
		ref = db.PageRef{ID: info.ID, Namespace: info.Namespace, Title: info.Title}
		item.redirect = &info.IsRedirect
	}

	local, err := f.store.PageStateByID(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("load page %d: %w", ref.ID, err)
	}
	var since int64
	var redirect bool
	if local != nil {
		since = local.LatestRevisionID
		redirect = local.IsRedirect
	}
	if item.redirect != nil {
		redirect = *item.redirect
	}

	var remote []mediawiki.Revision
	err = f.retry.Do(ctx, "fetch revisions", func(ctx context.Context) error {
		var err error
		remote, err = f.source.FetchRevisions(ctx, ref.ID, since)
		return err
	})
	if errors.Is(err, mediawiki.ErrNotFound) {
		return &FetchResult{PageID: ref.ID, Deleted: true}, nil
	}
	if err != nil {
		return nil, err
	}

	revs, err := f.convert(ref.ID, local, remote)
	if err != nil {
		return nil, err
	}

	update := &db.PageUpdate{
		RunID: runID,
		Page: &db.Page{
			ID:         ref.ID,
			Namespace:  ref.Namespace,
			Title:      ref.Title,
			IsRedirect: redirect,
		},
		Revisions: revs,
	}
	if n := len(remote); n > 0 && !remote[n-1].ContentHidden {
		parsed := parser.Parse(remote[n-1].Content)
		update.Page.IsRedirect = parsed.IsRedirect()
		update.Links = pageLinks(ref.ID, parsed)
		update.ReplaceLinks = true
	}

	var added int
	err = f.retry.Do(ctx, "apply page", func(ctx context.Context) error {
		var err error
		added, err = f.store.ApplyPage(ctx, update)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &FetchResult{PageID: ref.ID, Revisions: added}
	if ref.Namespace == mediawiki.NamespaceFile {
		stored, err := f.syncFile(ctx, ref.Title)
		if err != nil {
			return nil, err
		}
		result.File = stored
	}

	f.logger.Debug("page synced",
		"page_id", ref.ID,
		"title", ref.Title,
		"revisions", added)
	return result, nil
}

// convert verifies and orders remote revisions for storage
func (f *Fetcher) convert(pageID int64, local *db.PageState, remote []mediawiki.Revision) ([]*db.Revision, error) {
	slices.SortFunc(remote, func(a, b mediawiki.Revision) int {
		return cmp.Or(a.Timestamp.Compare(b.Timestamp), cmp.Compare(a.ID, b.ID))
	})

	known := make(map[int64]bool, len(remote)+1)
	if local != nil && local.LatestRevisionID != 0 {
		known[local.LatestRevisionID] = true
	}

	revs := make([]*db.Revision, 0, len(remote))
	for _, r := range remote {
		if local != nil && local.LatestRevisionID != 0 && !afterLatest(r, local) {
			// imported or merged history older than what is stored
			f.logger.Warn("skipping revision older than stored latest",
				"page_id", pageID, "rev_id", r.ID, "latest_rev_id", local.LatestRevisionID)
			continue
		}

		sum := RevisionSHA1(r.Content)
		if !r.ContentHidden && r.SHA1 != "" && r.SHA1 != sum {
			return nil, &mediawiki.PermanentError{
				Op:  "verify revision",
				Err: fmt.Errorf("%w: revision %d sha1 %s, content hashes to %s", mediawiki.ErrMalformed, r.ID, r.SHA1, sum),
			}
		}
		if r.SHA1 != "" {
			sum = r.SHA1
		}

		rev := &db.Revision{
			ID:        r.ID,
			PageID:    pageID,
			Timestamp: r.Timestamp,
			User:      r.User,
			UserID:    r.UserID,
			Comment:   r.Comment,
			Content:   r.Content,
			Size:      r.Size,
			SHA1:      sum,
			Minor:     r.Minor,
			Tags:      r.Tags,
		}
		// Parents outside what we hold were deleted or suppressed remotely
		if r.ParentID != 0 && known[r.ParentID] {
			parent := r.ParentID
			rev.ParentID = &parent
		}
		known[r.ID] = true
		revs = append(revs, rev)
	}
	return revs, nil
}

// afterLatest reports whether r comes after the stored latest revision in
// history order: timestamp, then revision id for edits saved in the same second
func afterLatest(r mediawiki.Revision, local *db.PageState) bool {
	return cmp.Or(r.Timestamp.Compare(local.LatestTimestamp), cmp.Compare(r.ID, local.LatestRevisionID)) > 0
}

// syncFile stores the current metadata of an uploaded file. Returns false
// when the file page has no file behind it.
func (f *Fetcher) syncFile(ctx context.Context, title string) (bool, error) {
	var info *mediawiki.FileInfo
	err := f.retry.Do(ctx, "fetch file metadata", func(ctx context.Context) error {
		var err error
		info, err = f.source.FetchFileMetadata(ctx, title)
		return err
	})
	if errors.Is(err, mediawiki.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	asset := &db.FileAsset{
		Filename:       info.Filename,
		URL:            info.URL,
		DescriptionURL: info.DescriptionURL,
		SHA1:           info.SHA1,
		Size:           info.Size,
		Width:          info.Width,
		Height:         info.Height,
		MimeType:       info.MimeType,
		Uploader:       info.Uploader,
		Timestamp:      info.Timestamp,
	}

	var changed bool
	err = f.retry.Do(ctx, "upsert file", func(ctx context.Context) error {
		var err error
		changed, err = f.store.UpsertFile(ctx, asset)
		return err
	})
	if err != nil {
		return false, err
	}
	if changed {
		f.logger.Debug("file metadata stored", "filename", asset.Filename, "sha1", asset.SHA1)
	}
	return true, nil
}

func (f *Fetcher) probe(ctx context.Context, title string) (*mediawiki.PageInfo, error) {
	var info *mediawiki.PageInfo
	err := f.retry.Do(ctx, "probe page", func(ctx context.Context) error {
		var err error
		info, err = f.source.ProbePage(ctx, title)
		return err
	})
	return info, err
}

// pageLinks flattens parsed wikitext into typed link edges
func pageLinks(pageID int64, parsed *parser.ParsedPage) []db.Link {
	links := make([]db.Link, 0, len(parsed.Links)+len(parsed.Templates)+len(parsed.Categories))
	for _, t := range parsed.Links {
		links = append(links, db.Link{SourcePageID: pageID, TargetTitle: t, Type: db.LinkWikilink})
	}
	for _, t := range parsed.Templates {
		links = append(links, db.Link{SourcePageID: pageID, TargetTitle: t, Type: db.LinkTemplate})
	}
	for _, t := range parsed.Categories {
		links = append(links, db.Link{SourcePageID: pageID, TargetTitle: t, Type: db.LinkCategory})
	}
	return links
}
