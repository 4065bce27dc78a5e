package sync

import (
	"fmt"
	"slices"
	"sync"

	"github.com/vonshlovens/wikiarchive/internal/db"
)

// RunTracker accumulates the outcome of one run. Workers report into it
// concurrently.
type RunTracker struct {
	mu sync.Mutex

	sampleSize int

	pages     int
	failed    int
	revisions int
	files     int
	deleted   int
	moved     int

	// discovery failures; any of these keeps the watermark where it was
	namespaces        int
	namespaceFailures map[int]bool
	errors            int

	failedIDs []int64
	samples   []string
}

// NewRunTracker creates a tracker keeping at most sampleSize error messages
func NewRunTracker(sampleSize int) *RunTracker {
	if sampleSize <= 0 {
		sampleSize = 1
	}
	return &RunTracker{sampleSize: sampleSize, namespaceFailures: make(map[int]bool)}
}

// NamespacesPlanned sets how many namespaces the run lists
func (t *RunTracker) NamespacesPlanned(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.namespaces = n
}

// PageDone records a page committed with its new revisions
func (t *RunTracker) PageDone(revisions int, file bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pages++
	t.revisions += revisions
	if file {
		t.files++
	}
}

// PageFailed records a page whose fetch or commit failed
func (t *RunTracker) PageFailed(pageID int64, title string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
	t.errors++
	if pageID > 0 {
		t.failedIDs = append(t.failedIDs, pageID)
	}
	t.sample(fmt.Sprintf("page %d %q: %v", pageID, title, err))
}

// PageDeleted records a page confirmed missing on the remote
func (t *RunTracker) PageDeleted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleted++
}

// PageMoved records a rename applied in place
func (t *RunTracker) PageMoved() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.moved++
}

// NamespaceFailed records a namespace whose discovery failed
func (t *RunTracker) NamespaceFailed(namespace int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.namespaceFailures[namespace] = true
	t.errors++
	t.sample(fmt.Sprintf("namespace %d: %v", namespace, err))
}

// RunFailed records an error that ended the run early
func (t *RunTracker) RunFailed(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors++
	t.sample(err.Error())
}

// caller holds mu
func (t *RunTracker) sample(msg string) {
	if len(t.samples) < t.sampleSize {
		t.samples = append(t.samples, msg)
	}
}

// FailureRatio is failed pages over attempted pages
func (t *RunTracker) FailureRatio() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	attempted := t.pages + t.failed
	if attempted == 0 {
		return 0
	}
	return float64(t.failed) / float64(attempted)
}

// NamespaceFailures returns how many namespaces failed discovery
func (t *RunTracker) NamespaceFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.namespaceFailures)
}

// NamespaceFailureRatio is failed namespaces over planned namespaces
func (t *RunTracker) NamespaceFailureRatio() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.namespaceFailures) == 0 {
		return 0
	}
	return float64(len(t.namespaceFailures)) / float64(max(t.namespaces, len(t.namespaceFailures)))
}

// Apply copies the counters onto the run row
func (t *RunTracker) Apply(run *db.SyncRun) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run.PagesProcessed = t.pages
	run.PagesFailed = t.failed
	run.RevisionsAdded = t.revisions
	run.FilesProcessed = t.files
	run.PagesDeleted = t.deleted
	run.PagesMoved = t.moved
	run.ErrorSample = slices.Clone(t.samples)
}

// Report builds the run report for a finished run
func (t *RunTracker) Report(run *db.SyncRun) *RunReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	failedIDs := slices.Clone(t.failedIDs)
	slices.Sort(failedIDs)

	report := &RunReport{
		RunID:         run.ID,
		Mode:          run.Mode,
		Status:        run.Status,
		Pages:         t.pages,
		Failed:        t.failed,
		Revisions:     t.revisions,
		Files:         t.files,
		Deleted:       t.deleted,
		Moved:         t.moved,
		Errors:        t.errors,
		FailedPageIDs: slices.Compact(failedIDs),
		ErrorSamples:  slices.Clone(t.samples),
	}
	if run.Watermark != nil && run.Status == db.RunCompleted {
		report.Watermark = *run.Watermark
	}
	return report
}
