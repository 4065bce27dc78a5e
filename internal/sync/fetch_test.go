package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"github.com/vonshlovens/wikiarchive/internal/db"
	"github.com/vonshlovens/wikiarchive/internal/mediawiki"
	"github.com/vonshlovens/wikiarchive/internal/mediawiki/mocks"
)

func newTestFetcher(store FetchStore, src mediawiki.Source) *Fetcher {
	logger := testLogger()
	return NewFetcher(store, src, NewRetrier(2, time.Millisecond, logger), logger)
}

func item(id int64, ns int, title string) workItem {
	return workItem{ref: db.PageRef{ID: id, Namespace: ns, Title: title}}
}

func TestFetchPage_SHA1Mismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()

	bad := remoteRev(11, 0, t0, "tampered")
	bad.SHA1 = RevisionSHA1("original")
	src.EXPECT().FetchRevisions(gomock.Any(), int64(1), int64(0)).Return([]mediawiki.Revision{bad}, nil)

	_, err := newTestFetcher(store, src).FetchPage(context.Background(), uuid.New(), item(1, 0, "Page"))

	var perm *mediawiki.PermanentError
	if !errors.As(err, &perm) || !errors.Is(err, mediawiki.ErrMalformed) {
		t.Fatalf("err = %v, want a permanent malformed payload error", err)
	}
	if _, ok := store.pages[1]; ok {
		t.Error("page was stored despite the checksum mismatch")
	}
}

func TestFetchPage_HiddenContentAndMissingParent(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()

	// revision 10 was deleted remotely; 11 still names it as parent
	hidden := mediawiki.Revision{ID: 11, ParentID: 10, Timestamp: t0, ContentHidden: true, SHA1: "0123"}
	visible := remoteRev(12, 11, t0.Add(time.Minute), "#REDIRECT [[Target page]]")
	src.EXPECT().FetchRevisions(gomock.Any(), int64(1), int64(0)).Return([]mediawiki.Revision{visible, hidden}, nil)

	res, err := newTestFetcher(store, src).FetchPage(context.Background(), uuid.New(), item(1, 0, "Page"))
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if res.Revisions != 2 {
		t.Errorf("Revisions = %d, want 2", res.Revisions)
	}

	revs := store.revs[1]
	if revs[0].ID != 11 || revs[0].ParentID != nil {
		t.Errorf("first revision = %d parent %v, want 11 with no parent", revs[0].ID, revs[0].ParentID)
	}
	if revs[1].ParentID == nil || *revs[1].ParentID != 11 {
		t.Errorf("revision 12 parent = %v, want 11", revs[1].ParentID)
	}
	if !store.pages[1].IsRedirect {
		t.Error("redirect content did not mark the page as a redirect")
	}
	if links := store.links[1]; len(links) != 1 || links[0].TargetTitle != "Target page" {
		t.Errorf("links = %+v, want the redirect target", links)
	}
}

func TestFetchPage_TransientThenSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()

	gomock.InOrder(
		src.EXPECT().FetchRevisions(gomock.Any(), int64(1), int64(0)).
			Return(nil, &mediawiki.TransientError{Op: "fetch revisions", Status: 429, RetryAfter: time.Millisecond, Err: errors.New("slow down")}),
		src.EXPECT().FetchRevisions(gomock.Any(), int64(1), int64(0)).
			Return([]mediawiki.Revision{remoteRev(11, 0, t0, "text")}, nil),
	)

	res, err := newTestFetcher(store, src).FetchPage(context.Background(), uuid.New(), item(1, 0, "Page"))
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if res.Revisions != 1 {
		t.Errorf("Revisions = %d, want 1", res.Revisions)
	}
}

func TestFetchPage_NotFoundIsDeleted(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)

	src.EXPECT().FetchRevisions(gomock.Any(), int64(3), int64(0)).
		Return(nil, &mediawiki.PermanentError{Op: "fetch revisions", Err: mediawiki.ErrNotFound})

	res, err := newTestFetcher(newMemStore(), src).FetchPage(context.Background(), uuid.New(), item(3, 0, "Gone"))
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if !res.Deleted || res.PageID != 3 {
		t.Errorf("result = %+v, want page 3 deleted", res)
	}
}

func TestFetchPage_UnknownIDIsProbed(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()

	src.EXPECT().ProbePage(gomock.Any(), "Fresh").Return(&mediawiki.PageInfo{ID: 8, Title: "Fresh"}, nil)
	src.EXPECT().FetchRevisions(gomock.Any(), int64(8), int64(0)).Return([]mediawiki.Revision{remoteRev(81, 0, t0, "new")}, nil)

	res, err := newTestFetcher(store, src).FetchPage(context.Background(), uuid.New(), item(0, 0, "Fresh"))
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if res.PageID != 8 || store.revisionCount(8) != 1 {
		t.Errorf("result = %+v, want page 8 stored", res)
	}
}

func TestFetchPage_FileMetadata(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()

	width, height := 640, 480
	info := &mediawiki.FileInfo{
		Filename:  "Logo.png",
		URL:       "https://upload.example.org/Logo.png",
		SHA1:      "abc123",
		Size:      2048,
		Width:     &width,
		Height:    &height,
		MimeType:  "image/png",
		Timestamp: t0,
	}
	src.EXPECT().FetchRevisions(gomock.Any(), int64(6), gomock.Any()).
		Return([]mediawiki.Revision{remoteRev(61, 0, t0, "Company logo [[Category:Logos]]")}, nil).Times(2)
	src.EXPECT().FetchFileMetadata(gomock.Any(), "File:Logo.png").Return(info, nil).Times(2)

	fetcher := newTestFetcher(store, src)
	for range 2 {
		res, err := fetcher.FetchPage(context.Background(), uuid.New(), item(6, mediawiki.NamespaceFile, "File:Logo.png"))
		if err != nil {
			t.Fatalf("FetchPage failed: %v", err)
		}
		if !res.File {
			t.Error("file metadata not stored")
		}
	}

	f := store.files["Logo.png"]
	if f == nil || f.SHA1 != "abc123" || *f.Width != 640 {
		t.Errorf("file asset = %+v", f)
	}
	if links := store.links[6]; len(links) != 1 || links[0].Type != db.LinkCategory {
		t.Errorf("links = %+v, want the category membership", links)
	}
}

func TestFetchPage_SameSecondEdit(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	store.seed(&db.Page{ID: 1, Title: "Page"}, storedRev(10, 1, t0, "first"))

	// saved in the same second as the stored latest
	src.EXPECT().FetchRevisions(gomock.Any(), int64(1), int64(10)).
		Return([]mediawiki.Revision{remoteRev(11, 10, t0, "second")}, nil)

	res, err := newTestFetcher(store, src).FetchPage(context.Background(), uuid.New(), item(1, 0, "Page"))
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if res.Revisions != 1 || store.revisionCount(1) != 2 {
		t.Fatalf("added %d, stored %d, want the second revision kept", res.Revisions, store.revisionCount(1))
	}
	if got := store.latestContent(1); got != "second" {
		t.Errorf("latest content = %q, want second", got)
	}
	if r := store.revs[1][1]; r.ParentID == nil || *r.ParentID != 10 {
		t.Errorf("parent = %v, want 10", r.ParentID)
	}
}

func TestFetchPage_SkipsOlderImportedRevision(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	store.seed(&db.Page{ID: 1, Title: "Page"}, storedRev(20, 1, t0, "current"))

	src.EXPECT().FetchRevisions(gomock.Any(), int64(1), int64(20)).
		Return([]mediawiki.Revision{remoteRev(15, 0, t0, "imported")}, nil)

	res, err := newTestFetcher(store, src).FetchPage(context.Background(), uuid.New(), item(1, 0, "Page"))
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if res.Revisions != 0 || store.latestContent(1) != "current" {
		t.Errorf("added %d, latest %q, want the older revision skipped", res.Revisions, store.latestContent(1))
	}
}

func TestPageLinks(t *testing.T) {
	store := newMemStore()
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	src.EXPECT().FetchRevisions(gomock.Any(), int64(1), int64(0)).
		Return([]mediawiki.Revision{remoteRev(11, 0, t0, "See [[Alpha]], {{Infobox}} and [[Category:Greek]]")}, nil)

	if _, err := newTestFetcher(store, src).FetchPage(context.Background(), uuid.New(), item(1, 0, "Letters")); err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}

	want := []db.Link{
		{SourcePageID: 1, TargetTitle: "Alpha", Type: db.LinkWikilink},
		{SourcePageID: 1, TargetTitle: "Template:Infobox", Type: db.LinkTemplate},
		{SourcePageID: 1, TargetTitle: "Category:Greek", Type: db.LinkCategory},
	}
	got := store.links[1]
	if len(got) != len(want) {
		t.Fatalf("links = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("link %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
