package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Page is a wiki page keyed by its remote-assigned id. (Namespace, Title) is
// unique.
type Page struct {
	ID         int64     `db:"id"`
	Namespace  int       `db:"namespace"`
	Title      string    `db:"title"`
	IsRedirect bool      `db:"is_redirect"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Revision is one immutable edit of a page holding the full content.
// Attribution fields are nil when the remote suppressed them.
type Revision struct {
	ID        int64     `db:"id"`
	PageID    int64     `db:"page_id"`
	ParentID  *int64    `db:"parent_id"`
	Timestamp time.Time `db:"timestamp"`
	User      *string   `db:"user_name"`
	UserID    *int64    `db:"user_id"`
	Comment   *string   `db:"comment"`
	Content   string    `db:"content"`
	Size      int       `db:"size"`
	SHA1      string    `db:"sha1"`
	Minor     bool      `db:"minor"`
	Tags      []string  `db:"tags"`
}

// LinkType classifies a link edge
type LinkType int

const (
	LinkWikilink LinkType = iota
	LinkTemplate
	LinkCategory
)

func (t LinkType) String() string {
	switch t {
	case LinkWikilink:
		return "wikilink"
	case LinkTemplate:
		return "template"
	case LinkCategory:
		return "category"
	default:
		return "unknown"
	}
}

// ParseLinkType is the inverse of LinkType.String
func ParseLinkType(s string) (LinkType, error) {
	switch s {
	case "wikilink":
		return LinkWikilink, nil
	case "template":
		return LinkTemplate, nil
	case "category":
		return LinkCategory, nil
	default:
		return 0, fmt.Errorf("unknown link type %q", s)
	}
}

// Link is a directed edge from a stored page to a title that may not exist
type Link struct {
	SourcePageID int64
	TargetTitle  string
	Type         LinkType
}

// FileAsset is the metadata of an uploaded file
type FileAsset struct {
	Filename       string    `db:"filename"`
	URL            string    `db:"url"`
	DescriptionURL string    `db:"description_url"`
	SHA1           string    `db:"sha1"`
	Size           int64     `db:"size"`
	Width          *int      `db:"width"`
	Height         *int      `db:"height"`
	MimeType       string    `db:"mime_type"`
	Uploader       *string   `db:"uploader"`
	Timestamp      time.Time `db:"timestamp"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// RunMode distinguishes bootstrap runs from incremental ones
type RunMode string

const (
	RunModeFull        RunMode = "full"
	RunModeIncremental RunMode = "incremental"
)

// RunStatus is the lifecycle state of a sync run
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// Terminal reports whether the run has finished
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunInterrupted
}

// SyncRun is one orchestration attempt
type SyncRun struct {
	ID                uuid.UUID
	Mode              RunMode
	Status            RunStatus
	StartedAt         time.Time
	FinishedAt        *time.Time
	PreviousWatermark *time.Time
	Watermark         *time.Time
	PagesProcessed    int
	PagesFailed       int
	RevisionsAdded    int
	FilesProcessed    int
	PagesDeleted      int
	PagesMoved        int
	ErrorSample       []string
}

// PageStatus is the per-page outcome within a run
type PageStatus string

const (
	PagePending   PageStatus = "pending"
	PageCompleted PageStatus = "completed"
	PageFailed    PageStatus = "failed"
	PageDeleted   PageStatus = "deleted"
	PageSkipped   PageStatus = "skipped"
)

// PageSyncStatus records what a run did for one page
type PageSyncStatus struct {
	RunID          uuid.UUID
	PageID         int64
	Namespace      int
	Title          string
	Status         PageStatus
	LastRevisionID *int64
	Error          *string
	UpdatedAt      time.Time
}

// PageRef identifies a page by remote id with its last known title
type PageRef struct {
	ID        int64
	Namespace int
	Title     string
}

// PageState is the local view the change detector compares against
type PageState struct {
	PageID           int64
	Namespace        int
	Title            string
	IsRedirect       bool
	LatestRevisionID int64     // 0 when the page has no revisions yet
	LatestTimestamp  time.Time // zero when the page has no revisions yet
}

// PageUpdate is everything committed for one page in a single transaction
type PageUpdate struct {
	RunID     uuid.UUID
	Page      *Page
	Revisions []*Revision
	// Links replaces the page's outgoing links when ReplaceLinks is set
	Links        []Link
	ReplaceLinks bool
}

// PageRevision pairs a page with one of its revisions
type PageRevision struct {
	Page     Page
	Revision Revision
}

// SearchResult is one ranked full-text hit
type SearchResult struct {
	PageID     int64
	Namespace  int
	Title      string
	RevisionID int64
	Rank       float64
	Snippet    string
}

// ChangeEntry is a revision seen through the changes-in-range query
type ChangeEntry struct {
	RevisionID int64
	PageID     int64
	Namespace  int
	Title      string
	Timestamp  time.Time
	User       *string
	Comment    *string
	Size       int
	SizeDelta  int
	Minor      bool
}

// Statistics summarizes the archive
type Statistics struct {
	Pages             int64
	Redirects         int64
	Revisions         int64
	Links             int64
	Files             int64
	DistinctUsers     int64
	TotalContentBytes int64
	OldestRevision    *time.Time
	NewestRevision    *time.Time
	LastRun           *SyncRun
	LastWatermark     *time.Time
}
