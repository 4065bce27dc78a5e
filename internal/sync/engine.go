package sync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vonshlovens/wikiarchive/internal/config"
	"github.com/vonshlovens/wikiarchive/internal/db"
	"github.com/vonshlovens/wikiarchive/internal/mediawiki"
)

// Store is the archive as the sync engine uses it. *db.DB implements it.
type Store interface {
	DetectorStore
	FetchStore

	LastWatermark(ctx context.Context) (*time.Time, error)
	StartRun(ctx context.Context, mode db.RunMode, previous *time.Time) (*db.SyncRun, error)
	FinishRun(ctx context.Context, run *db.SyncRun) error
	MarkPending(ctx context.Context, runID uuid.UUID, pages []db.PageRef) error
	RecordPageStatus(ctx context.Context, st *db.PageSyncStatus) error
	PendingPages(ctx context.Context) ([]db.PageRef, error)
	NamespacePageIDs(ctx context.Context, namespace int) (map[int64]string, error)
	UpsertPages(ctx context.Context, pages []*db.Page) error
	RenamePages(ctx context.Context, renames []db.PageRef) error
}

var _ Store = (*db.DB)(nil)

// Engine drives change detection and fetching for whole runs
type Engine struct {
	store    Store
	source   mediawiki.Source
	cfg      *config.Config
	retry    *Retrier
	detector *Detector
	fetcher  *Fetcher
	progress ProgressFunc
	logger   *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithProgress installs a progress side channel
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.progress = fn
		}
	}
}

// WithLogger sets the logger used for the run
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a sync engine
func NewEngine(store Store, source mediawiki.Source, cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		source:   source,
		cfg:      cfg,
		progress: noProgress,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.retry = NewRetrier(cfg.Sync.RetryAttempts, cfg.Sync.RetryBaseDelay(), e.logger)
	e.detector = NewDetector(store, source, e.retry, cfg.Wiki.Namespaces, cfg.IgnoreTitles, e.logger)
	e.fetcher = NewFetcher(store, source, e.retry, e.logger)
	return e
}

// plan is the work a run has to do once discovery is over
type plan struct {
	watermark time.Time
	moves     []PageChange
	deletions []db.PageRef
	items     *itemSet
	// page ids returned by any namespace listing
	listed map[int64]bool
	// listed pages whose title is still held by another stored page
	deferred map[int64]*db.Page
}

type planFunc func(ctx context.Context, tracker *RunTracker) (*plan, error)

// RunFullSync lists every page of every configured namespace and fetches
// whatever the archive is missing. This is the baseline for incremental runs.
func (e *Engine) RunFullSync(ctx context.Context) (*RunReport, error) {
	previous, err := e.store.LastWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	return e.execute(ctx, db.RunModeFull, previous, e.planFull)
}

// RunIncrementalSync applies remote changes since the last completed run.
// Returns ErrBaselineRequired when no run has completed yet.
func (e *Engine) RunIncrementalSync(ctx context.Context) (*RunReport, error) {
	previous, err := e.store.LastWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	if previous == nil {
		return nil, ErrBaselineRequired
	}
	since := *previous
	return e.execute(ctx, db.RunModeIncremental, previous, func(ctx context.Context, tracker *RunTracker) (*plan, error) {
		return e.planIncremental(ctx, since)
	})
}

func (e *Engine) execute(ctx context.Context, mode db.RunMode, previous *time.Time, planFn planFunc) (*RunReport, error) {
	start := time.Now()

	run, err := e.store.StartRun(ctx, mode, previous)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	logger := e.logger.With("run_id", run.ID, "mode", mode)
	logger.Info("sync run started", "previous_watermark", previous)

	tracker := NewRunTracker(e.cfg.Sync.ErrorSampleSize)

	p, runErr := planFn(ctx, tracker)
	if runErr == nil {
		runErr = e.resume(ctx, p)
	}
	if runErr == nil {
		runErr = e.process(ctx, run.ID, p, tracker, logger)
	}

	run.Status = e.decide(ctx, runErr, tracker)
	if runErr != nil && run.Status == db.RunFailed {
		tracker.RunFailed(runErr)
		logger.Error("sync run failed", "error", runErr)
	}
	// pages of a namespace that was not listed are not covered by this run
	switch {
	case run.Status != db.RunCompleted:
	case tracker.NamespaceFailures() > 0:
		logger.Warn("watermark kept, some namespaces were not listed", "namespaces_failed", tracker.NamespaceFailures())
	default:
		run.Watermark = &p.watermark
	}
	tracker.Apply(run)

	// The run row must reach a terminal state even after cancellation
	if err := e.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		return nil, fmt.Errorf("finish run %s: %w", run.ID, err)
	}

	report := tracker.Report(run)
	report.Duration = time.Since(start)

	switch run.Status {
	case db.RunCompleted:
		logger.Info("sync run completed", report.LogValues()...)
	default:
		logger.Warn("sync run ended", report.LogValues()...)
	}
	return report, nil
}

// decide picks the terminal status of a run
func (e *Engine) decide(ctx context.Context, runErr error, tracker *RunTracker) db.RunStatus {
	switch {
	case ctx.Err() != nil:
		return db.RunInterrupted
	case runErr != nil:
		return db.RunFailed
	case tracker.NamespaceFailureRatio() > e.cfg.Sync.FailureThreshold:
		return db.RunFailed
	case tracker.FailureRatio() > e.cfg.Sync.FailureThreshold:
		return db.RunFailed
	}
	return db.RunCompleted
}

// resume re-queues pages left pending or failed by earlier runs
func (e *Engine) resume(ctx context.Context, p *plan) error {
	pending, err := e.store.PendingPages(ctx)
	if err != nil {
		return fmt.Errorf("load pending pages: %w", err)
	}
	deleted := make(map[int64]bool, len(p.deletions))
	for _, ref := range p.deletions {
		deleted[ref.ID] = true
	}
	resumed := 0
	for _, ref := range pending {
		if deleted[ref.ID] {
			continue
		}
		if p.items.add(workItem{ref: ref}) {
			resumed++
		}
	}
	if resumed > 0 {
		e.logger.Info("resuming unfinished pages", "count", resumed)
	}
	return nil
}

func (e *Engine) process(ctx context.Context, runID uuid.UUID, p *plan, tracker *RunTracker, logger *slog.Logger) error {
	for _, ref := range p.deletions {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.record(ctx, runID, ref, db.PageDeleted, nil, logger)
		tracker.PageDeleted()
		logger.Info("page deleted remotely", "page_id", ref.ID, "title", ref.Title)
	}

	// Renames go first so fetched revisions land on the page's current title
	if err := e.applyMoves(ctx, runID, p, tracker, logger); err != nil {
		return err
	}

	items := p.items.list()
	refs := make([]db.PageRef, 0, len(items))
	for _, it := range items {
		refs = append(refs, it.ref)
	}
	if err := e.store.MarkPending(ctx, runID, refs); err != nil {
		return fmt.Errorf("mark pending: %w", err)
	}

	workers := max(e.cfg.Sync.Workers, 1)
	var done atomic.Int64
	total := len(items)
	e.progress(StageFetch, 0, total)

	// Each page belongs to exactly one goroutine, so its writes stay ordered
	var g errgroup.Group
	g.SetLimit(workers)
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			e.syncPage(ctx, runID, item, tracker, logger)
			e.progress(StageFetch, int(done.Add(1)), total)
			return nil
		})
	}
	g.Wait()

	return ctx.Err()
}

func (e *Engine) syncPage(ctx context.Context, runID uuid.UUID, item workItem, tracker *RunTracker, logger *slog.Logger) {
	res, err := e.fetcher.FetchPage(ctx, runID, item)
	if err != nil {
		if ctx.Err() != nil {
			// left pending for the next run
			return
		}
		tracker.PageFailed(item.ref.ID, item.ref.Title, err)
		e.record(ctx, runID, item.ref, db.PageFailed, err, logger)
		logger.Warn("page sync failed", "page_id", item.ref.ID, "title", item.ref.Title, "error", err)
		return
	}

	if res.Deleted {
		if res.PageID == 0 {
			logger.Debug("page gone before it was fetched", "title", item.ref.Title)
			return
		}
		tracker.PageDeleted()
		ref := item.ref
		ref.ID = res.PageID
		e.record(ctx, runID, ref, db.PageDeleted, nil, logger)
		logger.Info("page deleted remotely", "page_id", res.PageID, "title", item.ref.Title)
		return
	}
	tracker.PageDone(res.Revisions, res.File)
}

// record writes a page status row. Status rows are bookkeeping: a failure
// here is logged, not propagated.
func (e *Engine) record(ctx context.Context, runID uuid.UUID, ref db.PageRef, status db.PageStatus, cause error, logger *slog.Logger) {
	if ref.ID <= 0 {
		return
	}
	st := &db.PageSyncStatus{
		RunID:     runID,
		PageID:    ref.ID,
		Namespace: ref.Namespace,
		Title:     ref.Title,
		Status:    status,
	}
	if cause != nil {
		msg := cause.Error()
		st.Error = &msg
	}
	if err := e.store.RecordPageStatus(context.WithoutCancel(ctx), st); err != nil {
		logger.Error("failed to record page status", "page_id", ref.ID, "status", status, "error", err)
	}
}

// applyMoves renames every moved page in one batch, so swaps and rotations
// between stored titles apply together. When the batch fails each rename is
// retried alone and only the ones that still fail are given up on.
func (e *Engine) applyMoves(ctx context.Context, runID uuid.UUID, p *plan, tracker *RunTracker, logger *slog.Logger) error {
	if len(p.moves) == 0 {
		return nil
	}
	renames := make([]db.PageRef, 0, len(p.moves))
	for _, mv := range p.moves {
		renames = append(renames, db.PageRef{ID: mv.PageID, Namespace: mv.Namespace, Title: mv.Title})
	}
	err := e.retry.Do(ctx, "rename pages", func(ctx context.Context) error {
		return e.store.RenamePages(ctx, renames)
	})
	if err == nil {
		for _, mv := range p.moves {
			tracker.PageMoved()
			logger.Info("page moved", "page_id", mv.PageID, "from", mv.OldTitle, "to", mv.Title)
		}
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logger.Warn("batch rename failed, renaming pages one by one", "count", len(renames), "error", err)

	for i, mv := range p.moves {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := e.retry.Do(ctx, "rename page", func(ctx context.Context) error {
			return e.store.RenamePages(ctx, renames[i:i+1])
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			tracker.PageFailed(mv.PageID, mv.Title, err)
			e.record(ctx, runID, renames[i], db.PageFailed, err, logger)
			p.items.remove(mv.PageID)
			logger.Warn("page rename failed", "page_id", mv.PageID, "from", mv.OldTitle, "to", mv.Title, "error", err)
			continue
		}
		tracker.PageMoved()
		logger.Info("page moved", "page_id", mv.PageID, "from", mv.OldTitle, "to", mv.Title)
	}
	return nil
}

func (e *Engine) planIncremental(ctx context.Context, since time.Time) (*plan, error) {
	e.progress(StageDetect, 0, 1)
	cs, err := e.detector.Detect(ctx, since)
	if err != nil {
		return nil, err
	}
	e.progress(StageDetect, 1, 1)

	p := &plan{watermark: cs.NextWatermark, items: newItemSet()}
	for _, c := range cs.Changes {
		ref := db.PageRef{ID: c.PageID, Namespace: c.Namespace, Title: c.Title}
		switch c.Kind {
		case ChangeNew, ChangeModified:
			p.items.add(workItem{ref: ref})
		case ChangeMoved:
			p.moves = append(p.moves, c)
			p.items.add(workItem{ref: ref})
		case ChangeDeleted:
			p.deletions = append(p.deletions, ref)
		}
	}
	return p, nil
}

func (e *Engine) planFull(ctx context.Context, tracker *RunTracker) (*plan, error) {
	var serverTime time.Time
	err := e.retry.Do(ctx, "server time", func(ctx context.Context) error {
		var err error
		serverTime, err = e.source.ServerTime(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("remote unreachable: %w", err)
	}

	p := &plan{
		watermark: serverTime,
		items:     newItemSet(),
		listed:    make(map[int64]bool),
		deferred:  make(map[int64]*db.Page),
	}
	namespaces := e.cfg.Wiki.Namespaces
	tracker.NamespacesPlanned(len(namespaces))
	var listedOK []int
	for i, ns := range namespaces {
		e.progress(StageDiscover, i, len(namespaces))
		if err := e.discoverNamespace(ctx, ns, p); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			tracker.NamespaceFailed(ns, err)
			e.logger.Error("namespace discovery failed", "namespace", ns, "error", err)
			continue
		}
		listedOK = append(listedOK, ns)
	}
	e.progress(StageDiscover, len(namespaces), len(namespaces))

	if len(listedOK) == 0 {
		return nil, errors.New("discovery failed for every namespace")
	}
	if err := e.storeDeferred(ctx, p); err != nil {
		return nil, err
	}

	// Only after every listing is in can a page missing from one namespace be
	// told apart from a page moved into another
	for _, ns := range listedOK {
		if err := e.findDeleted(ctx, ns, p); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			tracker.NamespaceFailed(ns, err)
			e.logger.Error("deletion check failed", "namespace", ns, "error", err)
		}
	}
	return p, nil
}

// discoverNamespace lists a namespace, stores page metadata in batches and
// queues every page whose latest revision differs from the archive
func (e *Engine) discoverNamespace(ctx context.Context, ns int, p *plan) error {
	batchSize := max(e.cfg.Sync.PageBatchSize, 1)
	var buf []mediawiki.PageInfo

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		titles := make([]string, 0, len(buf))
		for _, pi := range buf {
			titles = append(titles, pi.Title)
		}
		states, err := e.store.PageStates(ctx, ns, titles)
		if err != nil {
			return err
		}

		pages := make([]*db.Page, 0, len(buf))
		for _, pi := range buf {
			p.listed[pi.ID] = true
			if ignored(e.cfg.IgnoreTitles, pi.Title) {
				continue
			}
			redirect := pi.IsRedirect
			item := workItem{
				ref:      db.PageRef{ID: pi.ID, Namespace: pi.Namespace, Title: pi.Title},
				redirect: &redirect,
			}
			st, known := states[pi.Title]
			page := &db.Page{
				ID:         pi.ID,
				Namespace:  pi.Namespace,
				Title:      pi.Title,
				IsRedirect: pi.IsRedirect,
			}
			if known && st.PageID != pi.ID {
				// the holder may itself be renamed later in the listing
				p.deferred[page.ID] = page
				p.items.add(item)
				continue
			}
			pages = append(pages, page)
			if !known || st.LatestRevisionID != pi.LastRevID {
				p.items.add(item)
			}
		}
		buf = buf[:0]

		return e.retry.Do(ctx, "upsert pages", func(ctx context.Context) error {
			return e.store.UpsertPages(ctx, pages)
		})
	}

	err := e.retry.Do(ctx, "list pages", func(ctx context.Context) error {
		buf = buf[:0]
		return e.source.ListPages(ctx, ns, func(batch []mediawiki.PageInfo) error {
			buf = append(buf, batch...)
			if len(buf) >= batchSize {
				return flush()
			}
			return nil
		})
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return fmt.Errorf("list namespace %d: %w", ns, err)
	}
	return nil
}

// storeDeferred stores the pages whose titles were held by other stored pages
// during listing. Swapped titles resolve once the whole batch is in; a title
// that stays taken leaves its page queued for the fetch to report.
func (e *Engine) storeDeferred(ctx context.Context, p *plan) error {
	if len(p.deferred) == 0 {
		return nil
	}
	// a retried listing can park the same page twice
	pages := slices.SortedFunc(maps.Values(p.deferred), func(a, b *db.Page) int {
		return cmp.Compare(a.ID, b.ID)
	})
	err := e.retry.Do(ctx, "upsert pages", func(ctx context.Context) error {
		return e.store.UpsertPages(ctx, pages)
	})
	if err == nil {
		return nil
	}
	if !db.IsIntegrity(err) {
		return fmt.Errorf("store listed pages: %w", err)
	}

	for _, page := range pages {
		err := e.retry.Do(ctx, "upsert page", func(ctx context.Context) error {
			return e.store.UpsertPages(ctx, []*db.Page{page})
		})
		switch {
		case err == nil:
		case db.IsIntegrity(err):
			e.logger.Warn("title held by another stored page",
				"title", page.Title, "namespace", page.Namespace, "remote_page_id", page.ID)
		default:
			return fmt.Errorf("store listed page %d: %w", page.ID, err)
		}
	}
	return nil
}

// findDeleted probes stored pages the listing did not return. Missing from a
// listing is not proof of deletion: pages move and listings race with edits.
func (e *Engine) findDeleted(ctx context.Context, ns int, p *plan) error {
	stored, err := e.store.NamespacePageIDs(ctx, ns)
	if err != nil {
		return fmt.Errorf("load namespace %d: %w", ns, err)
	}

	for id, title := range stored {
		if p.listed[id] || ignored(e.cfg.IgnoreTitles, title) {
			continue
		}
		var info *mediawiki.PageInfo
		err := e.retry.Do(ctx, "probe page", func(ctx context.Context) error {
			var err error
			info, err = e.source.ProbePage(ctx, title)
			return err
		})
		if err != nil {
			return fmt.Errorf("probe %q: %w", title, err)
		}
		if info != nil && info.ID == id {
			p.items.add(workItem{ref: db.PageRef{ID: id, Namespace: ns, Title: title}})
			continue
		}
		p.deletions = append(p.deletions, db.PageRef{ID: id, Namespace: ns, Title: title})
	}
	return nil
}

// itemSet keeps queued work unique by page id, in insertion order
type itemSet struct {
	items   []workItem
	ids     map[int64]bool
	titles  map[titleKey]bool
	removed map[int64]bool
}

func newItemSet() *itemSet {
	return &itemSet{
		ids:     make(map[int64]bool),
		titles:  make(map[titleKey]bool),
		removed: make(map[int64]bool),
	}
}

// add queues an item unless its page is already queued
func (s *itemSet) add(item workItem) bool {
	if item.ref.ID > 0 {
		if s.ids[item.ref.ID] {
			return false
		}
		s.ids[item.ref.ID] = true
	} else {
		key := titleKey{item.ref.Namespace, item.ref.Title}
		if s.titles[key] {
			return false
		}
		s.titles[key] = true
	}
	s.items = append(s.items, item)
	return true
}

func (s *itemSet) remove(id int64) {
	s.removed[id] = true
}

func (s *itemSet) list() []workItem {
	out := make([]workItem, 0, len(s.items))
	for _, it := range s.items {
		if it.ref.ID > 0 && s.removed[it.ref.ID] {
			continue
		}
		out = append(out, it)
	}
	return out
}
