package sync

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vonshlovens/wikiarchive/internal/db"
	"github.com/vonshlovens/wikiarchive/internal/mediawiki"
)

// ChangeKind classifies a page change between the archive and the remote
type ChangeKind int

const (
	ChangeNew ChangeKind = iota
	ChangeModified
	ChangeDeleted
	ChangeMoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNew:
		return "new"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	case ChangeMoved:
		return "moved"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// PageChange is one classified page. OldNamespace and OldTitle are the
// locally stored name for moves.
type PageChange struct {
	Kind            ChangeKind
	PageID          int64
	Namespace       int
	Title           string
	OldNamespace    int
	OldTitle        string
	RemoteTimestamp time.Time
}

// ChangeSet is the result of one detection pass
type ChangeSet struct {
	Changes []PageChange
	// NextWatermark is the greatest remote timestamp seen in the feed
	NextWatermark time.Time
}

// Count returns how many changes are of the given kind
func (cs *ChangeSet) Count(kind ChangeKind) int {
	n := 0
	for _, c := range cs.Changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// ByKind returns the changes of the given kind in change-set order
func (cs *ChangeSet) ByKind(kind ChangeKind) []PageChange {
	var out []PageChange
	for _, c := range cs.Changes {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// DetectorStore is the local state the detector compares against
type DetectorStore interface {
	PageStates(ctx context.Context, namespace int, titles []string) (map[string]db.PageState, error)
	PageStateByID(ctx context.Context, id int64) (*db.PageState, error)
}

// Detector turns the remote recent-changes feed into a ChangeSet
type Detector struct {
	store      DetectorStore
	source     mediawiki.Source
	retry      *Retrier
	namespaces []int
	ignore     []string
	logger     *slog.Logger
}

// NewDetector creates a detector for the given namespaces. Titles matching
// any ignore pattern are never reported.
func NewDetector(store DetectorStore, source mediawiki.Source, retry *Retrier, namespaces []int, ignore []string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		store:      store,
		source:     source,
		retry:      retry,
		namespaces: namespaces,
		ignore:     ignore,
		logger:     logger,
	}
}

type titleKey struct {
	namespace int
	title     string
}

// feedEntry is everything the feed said about one title, folded together
type feedEntry struct {
	pageID    int64
	latest    time.Time
	revID     int64 // newest revision id the feed reported
	deleted   bool // last event for the title was a deletion
	restored  bool
	movedFrom *titleKey
}

// Detect classifies remote changes from since to now. Entries are folded per
// title, so duplicate feed entries never produce duplicate changes.
func (d *Detector) Detect(ctx context.Context, since time.Time) (*ChangeSet, error) {
	var feed []mediawiki.RecentChange
	err := d.retry.Do(ctx, "list recent changes", func(ctx context.Context) error {
		var err error
		feed, err = d.source.ListRecentChanges(ctx, since, d.namespaces)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list recent changes: %w", err)
	}

	cs := &ChangeSet{NextWatermark: since}
	entries := make(map[titleKey]*feedEntry)

	for _, rc := range feed {
		if rc.Timestamp.After(cs.NextWatermark) {
			cs.NextWatermark = rc.Timestamp
		}

		key := titleKey{rc.Namespace, rc.Title}
		switch rc.Type {
		case mediawiki.ChangeMove:
			e := entries[key]
			delete(entries, key)
			if e == nil {
				e = &feedEntry{}
			}
			if e.movedFrom == nil {
				e.movedFrom = &key
			}
			if rc.PageID > 0 {
				e.pageID = rc.PageID
			}
			e.deleted = false
			e.latest = latest(e.latest, rc.Timestamp)
			dest := titleKey{rc.NewNamespace, rc.NewTitle}
			if prev := entries[dest]; prev != nil {
				e.latest = latest(e.latest, prev.latest)
			}
			entries[dest] = e

		case mediawiki.ChangeDelete:
			e := d.entry(entries, key)
			e.deleted = true
			e.latest = latest(e.latest, rc.Timestamp)

		default:
			e := d.entry(entries, key)
			e.deleted = false
			if rc.Type == mediawiki.ChangeRestore {
				e.restored = true
			}
			if rc.PageID > 0 {
				e.pageID = rc.PageID
			}
			e.revID = max(e.revID, rc.RevID)
			e.latest = latest(e.latest, rc.Timestamp)
		}
	}

	for key, e := range entries {
		if !d.tracked(key) {
			continue
		}
		changes, err := d.classify(ctx, key, e)
		if err != nil {
			return nil, err
		}
		cs.Changes = append(cs.Changes, changes...)
	}

	slices.SortFunc(cs.Changes, func(a, b PageChange) int {
		return cmp.Or(
			cmp.Compare(a.Namespace, b.Namespace),
			cmp.Compare(a.Title, b.Title),
			cmp.Compare(a.Kind, b.Kind),
		)
	})

	d.logger.Info("changes detected",
		"since", since,
		"feed_entries", len(feed),
		"new", cs.Count(ChangeNew),
		"modified", cs.Count(ChangeModified),
		"deleted", cs.Count(ChangeDeleted),
		"moved", cs.Count(ChangeMoved))

	return cs, nil
}

func (d *Detector) entry(entries map[titleKey]*feedEntry, key titleKey) *feedEntry {
	e := entries[key]
	if e == nil {
		e = &feedEntry{}
		entries[key] = e
	}
	return e
}

func (d *Detector) tracked(key titleKey) bool {
	return slices.Contains(d.namespaces, key.namespace) && !ignored(d.ignore, key.title)
}

func (d *Detector) classify(ctx context.Context, key titleKey, e *feedEntry) ([]PageChange, error) {
	local, err := d.localState(ctx, key, e)
	if err != nil {
		return nil, err
	}

	change := PageChange{
		PageID:          e.pageID,
		Namespace:       key.namespace,
		Title:           key.title,
		RemoteTimestamp: e.latest,
	}

	// Absence of edits says nothing about deletion; only a probe does
	if e.deleted {
		probe, err := d.probe(ctx, key.title)
		if err != nil {
			return nil, err
		}
		switch {
		case probe == nil && local == nil:
			return nil, nil
		case probe == nil:
			change.Kind = ChangeDeleted
			change.PageID = local.PageID
			return []PageChange{change}, nil
		case local != nil && probe.ID != local.PageID:
			// Deleted and recreated under the same title
			d.logger.Warn("title reused by a new page",
				"title", key.title, "old_page_id", local.PageID, "new_page_id", probe.ID)
			gone := change
			gone.Kind = ChangeDeleted
			gone.PageID = local.PageID
			change.Kind = ChangeNew
			change.PageID = probe.ID
			return []PageChange{gone, change}, nil
		}
		change.PageID = probe.ID
		e.restored = true
	}

	if local != nil && change.PageID > 0 && local.PageID != change.PageID {
		d.logger.Warn("stored title belongs to another page id",
			"title", key.title, "stored_page_id", local.PageID, "remote_page_id", change.PageID)
		local = nil
	}

	switch {
	case local == nil:
		change.Kind = ChangeNew
	case local.Namespace != key.namespace || local.Title != key.title:
		change.Kind = ChangeMoved
		change.PageID = local.PageID
		change.OldNamespace = local.Namespace
		change.OldTitle = local.Title
	case e.restored || newerThanStored(e, local):
		change.Kind = ChangeModified
		change.PageID = local.PageID
	default:
		return nil, nil
	}
	return []PageChange{change}, nil
}

// localState finds the stored page behind a feed entry: by remote id when
// the feed carried one, else by the title it had before any move
func (d *Detector) localState(ctx context.Context, key titleKey, e *feedEntry) (*db.PageState, error) {
	if e.pageID > 0 {
		st, err := d.store.PageStateByID(ctx, e.pageID)
		if err != nil {
			return nil, fmt.Errorf("load page %d: %w", e.pageID, err)
		}
		if st != nil {
			return st, nil
		}
	}

	lookup := key
	if e.movedFrom != nil {
		lookup = *e.movedFrom
	}
	states, err := d.store.PageStates(ctx, lookup.namespace, []string{lookup.title})
	if err != nil {
		return nil, fmt.Errorf("load page %q: %w", lookup.title, err)
	}
	st, ok := states[lookup.title]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (d *Detector) probe(ctx context.Context, title string) (*mediawiki.PageInfo, error) {
	var info *mediawiki.PageInfo
	err := d.retry.Do(ctx, "probe page", func(ctx context.Context) error {
		var err error
		info, err = d.source.ProbePage(ctx, title)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("probe %q: %w", title, err)
	}
	return info, nil
}

// newerThanStored compares in history order. Edits saved in the same second
// as the stored latest are told apart by revision id.
func newerThanStored(e *feedEntry, local *db.PageState) bool {
	if local.LatestTimestamp.Before(e.latest) {
		return true
	}
	return local.LatestTimestamp.Equal(e.latest) && e.revID > local.LatestRevisionID
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// ignored reports whether title matches any doublestar pattern
func ignored(patterns []string, title string) bool {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, title)
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
