package sync

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vonshlovens/wikiarchive/internal/db"
)

func TestRunTracker_Concurrent(t *testing.T) {
	tracker := NewRunTracker(3)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%10 == 0 {
				tracker.PageFailed(int64(i)+1, "page", errors.New("boom"))
				return
			}
			tracker.PageDone(2, i%7 == 0)
		}()
	}
	wg.Wait()

	run := &db.SyncRun{ID: uuid.New(), Status: db.RunCompleted}
	tracker.Apply(run)
	if run.PagesProcessed != 45 || run.PagesFailed != 5 || run.RevisionsAdded != 90 {
		t.Errorf("run counters = %d/%d/%d, want 45/5/90", run.PagesProcessed, run.PagesFailed, run.RevisionsAdded)
	}
	if len(run.ErrorSample) != 3 {
		t.Errorf("ErrorSample has %d entries, want bounded to 3", len(run.ErrorSample))
	}
	if got := tracker.FailureRatio(); got != 0.1 {
		t.Errorf("FailureRatio = %v, want 0.1", got)
	}

	report := tracker.Report(run)
	if !slices.Equal(report.FailedPageIDs, []int64{1, 11, 21, 31, 41}) {
		t.Errorf("FailedPageIDs = %v", report.FailedPageIDs)
	}
}

func TestRunTracker_ReportWatermark(t *testing.T) {
	wm := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewRunTracker(1)
	tracker.NamespaceFailed(4, errors.New("listing failed"))

	run := &db.SyncRun{Status: db.RunFailed, Watermark: &wm}
	report := tracker.Report(run)
	if !report.Watermark.IsZero() {
		t.Errorf("failed run reports watermark %v", report.Watermark)
	}
	if report.Errors != 1 || tracker.NamespaceFailures() != 1 {
		t.Errorf("errors = %d, namespace failures = %d, want 1/1", report.Errors, tracker.NamespaceFailures())
	}
	if tracker.FailureRatio() != 0 {
		t.Error("namespace failures must not count as page failures")
	}
}

func TestRunTracker_NamespaceFailureRatio(t *testing.T) {
	tracker := NewRunTracker(5)
	tracker.NamespacesPlanned(4)
	if got := tracker.NamespaceFailureRatio(); got != 0 {
		t.Errorf("ratio = %v, want 0 before any failure", got)
	}

	// listing and deletion check failing for one namespace count once
	tracker.NamespaceFailed(2, errors.New("listing failed"))
	tracker.NamespaceFailed(2, errors.New("deletion check failed"))
	if got := tracker.NamespaceFailureRatio(); got != 0.25 {
		t.Errorf("ratio = %v, want 0.25", got)
	}
	if tracker.NamespaceFailures() != 1 {
		t.Errorf("NamespaceFailures = %d, want 1", tracker.NamespaceFailures())
	}
}
