package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/vonshlovens/wikiarchive/internal/config"
	"github.com/vonshlovens/wikiarchive/internal/db"
	"github.com/vonshlovens/wikiarchive/internal/mediawiki"
	"github.com/vonshlovens/wikiarchive/internal/mediawiki/mocks"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(store Store, src mediawiki.Source, cfg *config.Config) *Engine {
	return NewEngine(store, src, cfg, WithLogger(testLogger()))
}

// listing returns a ListPages stand-in that hands out pages in one batch
func listing(pages ...mediawiki.PageInfo) func(context.Context, int, func([]mediawiki.PageInfo) error) error {
	return func(_ context.Context, _ int, fn func([]mediawiki.PageInfo) error) error {
		return fn(pages)
	}
}

func TestRunIncrementalSync_BaselineRequired(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	// a failed run is not a baseline
	store.seedRun(db.RunFailed, nil)

	report, err := newTestEngine(store, src, testConfig()).RunIncrementalSync(context.Background())
	if !errors.Is(err, ErrBaselineRequired) {
		t.Fatalf("err = %v, want ErrBaselineRequired", err)
	}
	if report != nil {
		t.Errorf("report = %+v, want nil", report)
	}
	if len(store.runs) != 1 {
		t.Errorf("runs = %d, no run should be started without a baseline", len(store.runs))
	}
}

func TestBootstrapThenIncremental(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	engine := newTestEngine(store, src, testConfig())
	ctx := context.Background()

	// T0: P1, P2, P3 each at revision 1
	src.EXPECT().ServerTime(gomock.Any()).Return(t0, nil)
	src.EXPECT().ListPages(gomock.Any(), 0, gomock.Any()).DoAndReturn(listing(
		mediawiki.PageInfo{ID: 1, Title: "P1", LastRevID: 101},
		mediawiki.PageInfo{ID: 2, Title: "P2", LastRevID: 201},
		mediawiki.PageInfo{ID: 3, Title: "P3", LastRevID: 301},
	))
	for id := int64(1); id <= 3; id++ {
		rev := remoteRev(id*100+1, 0, t0.Add(-time.Hour), fmt.Sprintf("P%d revision 1", id))
		src.EXPECT().FetchRevisions(gomock.Any(), id, int64(0)).Return([]mediawiki.Revision{rev}, nil)
	}

	report, err := engine.RunFullSync(ctx)
	if err != nil {
		t.Fatalf("RunFullSync failed: %v", err)
	}
	if report.Status != db.RunCompleted || report.Pages != 3 || report.Revisions != 3 {
		t.Fatalf("full report = %+v, want completed with 3 pages and 3 revisions", report)
	}
	if !report.Watermark.Equal(t0) {
		t.Errorf("watermark = %v, want remote server time %v", report.Watermark, t0)
	}

	// T1: P1 gets revision 2, P4 is created
	t1 := t0.Add(time.Hour)
	src.EXPECT().ListRecentChanges(gomock.Any(), t0, gomock.Any()).Return([]mediawiki.RecentChange{
		{Type: mediawiki.ChangeEdit, PageID: 1, Title: "P1", Timestamp: t1, RevID: 102, OldRevID: 101},
		{Type: mediawiki.ChangeNew, PageID: 4, Title: "P4", Timestamp: t1, RevID: 401},
	}, nil)
	src.EXPECT().FetchRevisions(gomock.Any(), int64(1), int64(101)).
		Return([]mediawiki.Revision{remoteRev(102, 101, t1, "P1 revision 2 [[P4]]")}, nil)
	src.EXPECT().FetchRevisions(gomock.Any(), int64(4), int64(0)).
		Return([]mediawiki.Revision{remoteRev(401, 0, t1, "P4 revision 1")}, nil)

	report, err = engine.RunIncrementalSync(ctx)
	if err != nil {
		t.Fatalf("RunIncrementalSync failed: %v", err)
	}
	if report.Status != db.RunCompleted || report.Pages != 2 || report.Revisions != 2 {
		t.Fatalf("incremental report = %+v, want completed with 2 pages and 2 revisions", report)
	}
	if got := store.latestContent(1); got != "P1 revision 2 [[P4]]" {
		t.Errorf("latest content of P1 = %q, want revision 2", got)
	}
	if store.revisionCount(1) != 2 || store.revisionCount(2) != 1 || store.revisionCount(4) != 1 {
		t.Errorf("revision counts = %d/%d/%d, want 2/1/1",
			store.revisionCount(1), store.revisionCount(2), store.revisionCount(4))
	}
	if parent := store.revs[1][1].ParentID; parent == nil || *parent != 101 {
		t.Errorf("revision 102 parent = %v, want 101", parent)
	}
	if links := store.links[1]; len(links) != 1 || links[0].TargetTitle != "P4" || links[0].Type != db.LinkWikilink {
		t.Errorf("links of P1 = %+v, want one wikilink to P4", links)
	}

	wm, _ := store.LastWatermark(ctx)
	if wm == nil || !wm.Equal(t1) {
		t.Errorf("watermark = %v, want %v", wm, t1)
	}
}

func TestRunFullSync_FailureIsolation(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	cfg := testConfig()
	cfg.Sync.Workers = 4

	var pages []mediawiki.PageInfo
	for id := int64(1); id <= 100; id++ {
		pages = append(pages, mediawiki.PageInfo{ID: id, Title: fmt.Sprintf("Page %03d", id), LastRevID: id * 10})
	}
	src.EXPECT().ServerTime(gomock.Any()).Return(t0, nil)
	src.EXPECT().ListPages(gomock.Any(), 0, gomock.Any()).DoAndReturn(listing(pages...))
	src.EXPECT().FetchRevisions(gomock.Any(), gomock.Any(), int64(0)).Times(100).
		DoAndReturn(func(_ context.Context, id, _ int64) ([]mediawiki.Revision, error) {
			if id == 50 {
				return nil, &mediawiki.PermanentError{Op: "fetch revisions", Err: mediawiki.ErrMalformed}
			}
			return []mediawiki.Revision{remoteRev(id*10, 0, t0.Add(-time.Hour), fmt.Sprintf("content %d", id))}, nil
		})

	report, err := newTestEngine(store, src, cfg).RunFullSync(context.Background())
	if err != nil {
		t.Fatalf("RunFullSync failed: %v", err)
	}

	if report.Status != db.RunCompleted {
		t.Errorf("status = %s, want completed at 1%% failures", report.Status)
	}
	if report.Pages != 99 || report.Failed != 1 {
		t.Errorf("pages/failed = %d/%d, want 99/1", report.Pages, report.Failed)
	}
	if !slices.Equal(report.FailedPageIDs, []int64{50}) {
		t.Errorf("FailedPageIDs = %v, want [50]", report.FailedPageIDs)
	}
	if len(report.ErrorSamples) != 1 {
		t.Errorf("ErrorSamples = %v, want one sample", report.ErrorSamples)
	}
	for id := int64(1); id <= 100; id++ {
		want := 1
		if id == 50 {
			want = 0
		}
		if got := store.revisionCount(id); got != want {
			t.Errorf("page %d has %d revisions, want %d", id, got, want)
		}
	}
	if got := store.status(report.RunID, 50); got != db.PageFailed {
		t.Errorf("page 50 status = %q, want failed", got)
	}

	// the failed page is picked up again by the next run
	pending, _ := store.PendingPages(context.Background())
	if len(pending) != 1 || pending[0].ID != 50 {
		t.Errorf("pending = %+v, want page 50", pending)
	}
}

func TestRunFullSync_FailureThreshold(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	cfg := testConfig()
	cfg.Sync.ErrorSampleSize = 5

	var pages []mediawiki.PageInfo
	for id := int64(1); id <= 10; id++ {
		pages = append(pages, mediawiki.PageInfo{ID: id, Title: fmt.Sprintf("Page %d", id), LastRevID: id})
	}
	src.EXPECT().ServerTime(gomock.Any()).Return(t0, nil)
	src.EXPECT().ListPages(gomock.Any(), 0, gomock.Any()).DoAndReturn(listing(pages...))
	src.EXPECT().FetchRevisions(gomock.Any(), gomock.Any(), int64(0)).Times(10).
		DoAndReturn(func(_ context.Context, id, _ int64) ([]mediawiki.Revision, error) {
			if id <= 8 {
				return nil, &mediawiki.PermanentError{Op: "fetch revisions", Err: mediawiki.ErrMalformed}
			}
			return []mediawiki.Revision{remoteRev(id, 0, t0.Add(-time.Hour), "ok")}, nil
		})

	report, err := newTestEngine(store, src, cfg).RunFullSync(context.Background())
	if err != nil {
		t.Fatalf("RunFullSync failed: %v", err)
	}
	if report.Status != db.RunFailed {
		t.Errorf("status = %s, want failed", report.Status)
	}
	if len(report.FailedPageIDs) != 8 {
		t.Errorf("FailedPageIDs = %v, want 8 ids", report.FailedPageIDs)
	}
	if len(report.ErrorSamples) != 5 {
		t.Errorf("ErrorSamples has %d entries, want bounded to 5", len(report.ErrorSamples))
	}
	if !report.Watermark.IsZero() {
		t.Errorf("watermark = %v, want none for a failed run", report.Watermark)
	}
	if wm, _ := store.LastWatermark(context.Background()); wm != nil {
		t.Errorf("stored watermark = %v, want none", wm)
	}
}

func TestRunFullSync_RemoteUnreachable(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	cfg := testConfig()
	cfg.Sync.RetryAttempts = 2

	unreachable := &mediawiki.TransientError{Op: "server time", Err: errors.New("connection refused")}
	src.EXPECT().ServerTime(gomock.Any()).Times(3).Return(time.Time{}, unreachable)

	report, err := newTestEngine(store, src, cfg).RunFullSync(context.Background())
	if err != nil {
		t.Fatalf("RunFullSync failed: %v", err)
	}
	if report.Status != db.RunFailed || report.Errors != 1 {
		t.Errorf("report = %+v, want failed with one error", report)
	}
	if store.runs[0].Status != db.RunFailed {
		t.Errorf("stored run status = %s, want failed", store.runs[0].Status)
	}
}

func TestRunFullSync_NamespaceFailureIsolated(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	cfg := testConfig()
	cfg.Wiki.Namespaces = []int{0, 10}

	src.EXPECT().ServerTime(gomock.Any()).Return(t0, nil)
	src.EXPECT().ListPages(gomock.Any(), 0, gomock.Any()).DoAndReturn(listing(
		mediawiki.PageInfo{ID: 1, Title: "Main"},
	))
	src.EXPECT().ListPages(gomock.Any(), 10, gomock.Any()).
		Return(&mediawiki.PermanentError{Op: "list pages", Code: "badvalue", Err: errors.New("bad namespace")})
	src.EXPECT().FetchRevisions(gomock.Any(), int64(1), int64(0)).
		Return([]mediawiki.Revision{remoteRev(11, 0, t0.Add(-time.Hour), "main")}, nil)

	report, err := newTestEngine(store, src, cfg).RunFullSync(context.Background())
	if err != nil {
		t.Fatalf("RunFullSync failed: %v", err)
	}
	if report.Pages != 1 || store.revisionCount(1) != 1 {
		t.Errorf("report = %+v, the healthy namespace must still be synced", report)
	}
	if report.Status != db.RunFailed {
		t.Errorf("status = %s, want failed with half the namespaces unlisted", report.Status)
	}
}

func TestRunFullSync_ProbesMissingPages(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	store.seed(&db.Page{ID: 1, Title: "Kept"}, storedRev(11, 1, t0.Add(-time.Hour), "kept"))
	store.seed(&db.Page{ID: 2, Title: "Deleted"}, storedRev(21, 2, t0.Add(-time.Hour), "gone"))
	store.seed(&db.Page{ID: 3, Title: "Racing"}, storedRev(31, 3, t0.Add(-time.Hour), "race"))

	src.EXPECT().ServerTime(gomock.Any()).Return(t0, nil)
	src.EXPECT().ListPages(gomock.Any(), 0, gomock.Any()).DoAndReturn(listing(
		mediawiki.PageInfo{ID: 1, Title: "Kept", LastRevID: 11},
	))
	src.EXPECT().ProbePage(gomock.Any(), "Deleted").Return(nil, nil)
	src.EXPECT().ProbePage(gomock.Any(), "Racing").Return(&mediawiki.PageInfo{ID: 3, Title: "Racing", LastRevID: 31}, nil)
	src.EXPECT().FetchRevisions(gomock.Any(), int64(3), int64(31)).Return(nil, nil)

	report, err := newTestEngine(store, src, testConfig()).RunFullSync(context.Background())
	if err != nil {
		t.Fatalf("RunFullSync failed: %v", err)
	}
	if report.Deleted != 1 || report.Pages != 1 {
		t.Errorf("report = %+v, want one deletion and one racing page synced", report)
	}
	if got := store.status(report.RunID, 2); got != db.PageDeleted {
		t.Errorf("page 2 status = %q, want deleted", got)
	}
	// deletion is recorded, never applied
	if store.revisionCount(2) != 1 {
		t.Error("deleted page lost its history")
	}
}

func TestRunIncrementalSync_InterruptedKeepsWatermark(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	store.seed(&db.Page{ID: 9, Title: "Busy"}, storedRev(91, 9, t0.Add(-time.Hour), "v1"))
	previous := t0
	store.seedRun(db.RunCompleted, &previous)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src.EXPECT().ListRecentChanges(gomock.Any(), t0, gomock.Any()).Return([]mediawiki.RecentChange{
		{Type: mediawiki.ChangeEdit, PageID: 9, Title: "Busy", Timestamp: t0.Add(time.Hour), RevID: 92},
	}, nil)
	src.EXPECT().FetchRevisions(gomock.Any(), int64(9), int64(91)).
		DoAndReturn(func(ctx context.Context, _, _ int64) ([]mediawiki.Revision, error) {
			cancel()
			return nil, ctx.Err()
		})

	report, err := newTestEngine(store, src, testConfig()).RunIncrementalSync(ctx)
	if err != nil {
		t.Fatalf("RunIncrementalSync failed: %v", err)
	}
	if report.Status != db.RunInterrupted {
		t.Errorf("status = %s, want interrupted", report.Status)
	}

	wm, _ := store.LastWatermark(context.Background())
	if wm == nil || !wm.Equal(previous) {
		t.Errorf("watermark = %v, want untouched %v", wm, previous)
	}
	if got := store.status(report.RunID, 9); got != db.PagePending {
		t.Errorf("page 9 status = %q, want pending", got)
	}
	if store.revisionCount(9) != 1 {
		t.Error("interrupted page was partially applied")
	}
}

func TestRunIncrementalSync_ResumesPendingPages(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	store.seed(&db.Page{ID: 5, Title: "Left over"}, storedRev(51, 5, t0.Add(-2*time.Hour), "v1"))
	previous := t0
	store.seedRun(db.RunCompleted, &previous)
	store.MarkPending(context.Background(), store.runs[0].ID, []db.PageRef{{ID: 5, Title: "Left over"}})

	src.EXPECT().ListRecentChanges(gomock.Any(), t0, gomock.Any()).Return(nil, nil)
	src.EXPECT().FetchRevisions(gomock.Any(), int64(5), int64(51)).
		Return([]mediawiki.Revision{remoteRev(52, 51, t0.Add(-time.Hour), "v2")}, nil)

	report, err := newTestEngine(store, src, testConfig()).RunIncrementalSync(context.Background())
	if err != nil {
		t.Fatalf("RunIncrementalSync failed: %v", err)
	}
	if report.Status != db.RunCompleted || report.Revisions != 1 {
		t.Errorf("report = %+v, want the pending page completed", report)
	}
	if !report.Watermark.Equal(previous) {
		t.Errorf("watermark = %v, an empty feed keeps %v", report.Watermark, previous)
	}
	if pending, _ := store.PendingPages(context.Background()); len(pending) != 0 {
		t.Errorf("pending = %+v, want none", pending)
	}
}

func TestRunIncrementalSync_MoveAppliedInPlace(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	store.seed(&db.Page{ID: 7, Title: "Old"}, storedRev(71, 7, t0.Add(-time.Hour), "body"))
	previous := t0
	store.seedRun(db.RunCompleted, &previous)

	src.EXPECT().ListRecentChanges(gomock.Any(), t0, gomock.Any()).Return([]mediawiki.RecentChange{
		{Type: mediawiki.ChangeMove, PageID: 7, Title: "Old", NewTitle: "New", Timestamp: t0.Add(time.Minute)},
	}, nil)
	// moves leave a null revision behind
	src.EXPECT().FetchRevisions(gomock.Any(), int64(7), int64(71)).
		Return([]mediawiki.Revision{remoteRev(72, 71, t0.Add(time.Minute), "body")}, nil)

	report, err := newTestEngine(store, src, testConfig()).RunIncrementalSync(context.Background())
	if err != nil {
		t.Fatalf("RunIncrementalSync failed: %v", err)
	}
	if report.Moved != 1 || report.Revisions != 1 {
		t.Errorf("report = %+v, want one move and one revision", report)
	}
	if p := store.pages[7]; p.Title != "New" {
		t.Errorf("title = %q, want New", p.Title)
	}
	if store.revisionCount(7) != 2 {
		t.Error("move lost revision lineage")
	}
}

func TestRunIncrementalSync_SwapAppliedTogether(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	store.seed(&db.Page{ID: 1, Title: "A"}, storedRev(11, 1, t0.Add(-time.Hour), "a"))
	store.seed(&db.Page{ID: 2, Title: "B"}, storedRev(21, 2, t0.Add(-time.Hour), "b"))
	previous := t0
	store.seedRun(db.RunCompleted, &previous)

	src.EXPECT().ListRecentChanges(gomock.Any(), t0, gomock.Any()).Return([]mediawiki.RecentChange{
		{Type: mediawiki.ChangeMove, PageID: 1, Title: "A", NewTitle: "Tmp", Timestamp: t0.Add(time.Minute)},
		{Type: mediawiki.ChangeMove, PageID: 2, Title: "B", NewTitle: "A", Timestamp: t0.Add(2 * time.Minute)},
		{Type: mediawiki.ChangeMove, PageID: 1, Title: "Tmp", NewTitle: "B", Timestamp: t0.Add(3 * time.Minute)},
	}, nil)
	src.EXPECT().FetchRevisions(gomock.Any(), int64(1), int64(11)).Return(nil, nil)
	src.EXPECT().FetchRevisions(gomock.Any(), int64(2), int64(21)).Return(nil, nil)

	report, err := newTestEngine(store, src, testConfig()).RunIncrementalSync(context.Background())
	if err != nil {
		t.Fatalf("RunIncrementalSync failed: %v", err)
	}
	if report.Status != db.RunCompleted || report.Moved != 2 || report.Failed != 0 {
		t.Errorf("report = %+v, want completed with two moves", report)
	}
	if store.pages[1].Title != "B" || store.pages[2].Title != "A" {
		t.Errorf("titles = %q/%q, want B/A", store.pages[1].Title, store.pages[2].Title)
	}
}

func TestRunIncrementalSync_BlockedMoveFailsAlone(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	store.seed(&db.Page{ID: 1, Title: "A"}, storedRev(11, 1, t0.Add(-time.Hour), "a"))
	// deleted remotely long ago, still archived under its title
	store.seed(&db.Page{ID: 2, Title: "Taken"}, storedRev(21, 2, t0.Add(-48*time.Hour), "old"))
	store.seed(&db.Page{ID: 3, Title: "C"}, storedRev(31, 3, t0.Add(-time.Hour), "c"))
	previous := t0
	store.seedRun(db.RunCompleted, &previous)

	cfg := testConfig()
	cfg.Sync.FailureThreshold = 0.5
	src.EXPECT().ListRecentChanges(gomock.Any(), t0, gomock.Any()).Return([]mediawiki.RecentChange{
		{Type: mediawiki.ChangeMove, PageID: 1, Title: "A", NewTitle: "Taken", Timestamp: t0.Add(time.Minute)},
		{Type: mediawiki.ChangeMove, PageID: 3, Title: "C", NewTitle: "D", Timestamp: t0.Add(2 * time.Minute)},
	}, nil)
	src.EXPECT().FetchRevisions(gomock.Any(), int64(3), int64(31)).Return(nil, nil)

	report, err := newTestEngine(store, src, cfg).RunIncrementalSync(context.Background())
	if err != nil {
		t.Fatalf("RunIncrementalSync failed: %v", err)
	}
	if report.Moved != 1 || !slices.Equal(report.FailedPageIDs, []int64{1}) {
		t.Errorf("report = %+v, want page 3 moved and page 1 failed", report)
	}
	if store.pages[1].Title != "A" || store.pages[3].Title != "D" {
		t.Errorf("titles = %q/%q, want A/D", store.pages[1].Title, store.pages[3].Title)
	}
	if got := store.status(report.RunID, 1); got != db.PageFailed {
		t.Errorf("page 1 status = %q, want failed", got)
	}
}

func TestRunFullSync_SwappedTitles(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	store.seed(&db.Page{ID: 1, Title: "A"}, storedRev(11, 1, t0.Add(-time.Hour), "a"))
	store.seed(&db.Page{ID: 2, Title: "B"}, storedRev(21, 2, t0.Add(-time.Hour), "b"))

	src.EXPECT().ServerTime(gomock.Any()).Return(t0, nil)
	src.EXPECT().ListPages(gomock.Any(), 0, gomock.Any()).DoAndReturn(listing(
		mediawiki.PageInfo{ID: 1, Title: "B", LastRevID: 12},
		mediawiki.PageInfo{ID: 2, Title: "A", LastRevID: 22},
	))
	src.EXPECT().FetchRevisions(gomock.Any(), int64(1), int64(11)).
		Return([]mediawiki.Revision{remoteRev(12, 11, t0.Add(-time.Minute), "a")}, nil)
	src.EXPECT().FetchRevisions(gomock.Any(), int64(2), int64(21)).
		Return([]mediawiki.Revision{remoteRev(22, 21, t0.Add(-time.Minute), "b")}, nil)

	report, err := newTestEngine(store, src, testConfig()).RunFullSync(context.Background())
	if err != nil {
		t.Fatalf("RunFullSync failed: %v", err)
	}
	if report.Status != db.RunCompleted || report.Pages != 2 || report.Failed != 0 {
		t.Errorf("report = %+v, want both pages synced", report)
	}
	if store.pages[1].Title != "B" || store.pages[2].Title != "A" {
		t.Errorf("titles = %q/%q, want B/A", store.pages[1].Title, store.pages[2].Title)
	}
}

func TestRunFullSync_NamespaceFailureUnderThreshold(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	store := newMemStore()
	baseline := yesterday
	store.seedRun(db.RunCompleted, &baseline)

	cfg := testConfig()
	cfg.Wiki.Namespaces = []int{0, 10}
	cfg.Sync.FailureThreshold = 0.5

	src.EXPECT().ServerTime(gomock.Any()).Return(t0, nil)
	src.EXPECT().ListPages(gomock.Any(), 0, gomock.Any()).DoAndReturn(listing(
		mediawiki.PageInfo{ID: 1, Title: "Main"},
	))
	src.EXPECT().ListPages(gomock.Any(), 10, gomock.Any()).
		Return(&mediawiki.PermanentError{Op: "list pages", Code: "badvalue", Err: errors.New("bad namespace")})
	src.EXPECT().FetchRevisions(gomock.Any(), int64(1), int64(0)).
		Return([]mediawiki.Revision{remoteRev(11, 0, t0.Add(-time.Hour), "main")}, nil)

	report, err := newTestEngine(store, src, cfg).RunFullSync(context.Background())
	if err != nil {
		t.Fatalf("RunFullSync failed: %v", err)
	}
	if report.Status != db.RunCompleted {
		t.Errorf("status = %s, want completed within the failure threshold", report.Status)
	}
	if !report.Watermark.IsZero() {
		t.Errorf("watermark = %v, want none while namespace 10 is unlisted", report.Watermark)
	}
	if wm, _ := store.LastWatermark(context.Background()); wm == nil || !wm.Equal(baseline) {
		t.Errorf("stored watermark = %v, want the earlier baseline %v", wm, baseline)
	}
}
