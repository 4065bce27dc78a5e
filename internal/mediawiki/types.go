package mediawiki

import (
	"context"
	"time"
)

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_source.go -package=mocks github.com/vonshlovens/wikiarchive/internal/mediawiki Source

// Source is the remote wiki as seen by the sync engine
type Source interface {
	// ServerTime returns the remote clock, used as the baseline watermark
	ServerTime(ctx context.Context) (time.Time, error)
	// ListPages pages through every page of a namespace, one batch per call to fn
	ListPages(ctx context.Context, namespace int, fn func([]PageInfo) error) error
	// ListRecentChanges returns feed entries from since to now, oldest first
	ListRecentChanges(ctx context.Context, since time.Time, namespaces []int) ([]RecentChange, error)
	// FetchRevisions returns a page's revisions newer than sinceRevID, oldest
	// first. sinceRevID 0 fetches the whole history.
	FetchRevisions(ctx context.Context, pageID, sinceRevID int64) ([]Revision, error)
	// FetchFileMetadata returns the current version of an uploaded file
	FetchFileMetadata(ctx context.Context, filename string) (*FileInfo, error)
	// ProbePage checks whether a title exists right now. Returns nil if not.
	ProbePage(ctx context.Context, title string) (*PageInfo, error)
}

// Namespace ids with special handling
const (
	NamespaceMain = 0
	NamespaceFile = 6
)

// PageInfo is a page as listed by the remote
type PageInfo struct {
	ID         int64
	Namespace  int
	Title      string
	IsRedirect bool
	LastRevID  int64
	Touched    time.Time
}

// ChangeType is the kind of a recent-changes feed entry
type ChangeType int

const (
	ChangeEdit ChangeType = iota
	ChangeNew
	ChangeMove
	ChangeDelete
	ChangeRestore
	ChangeUpload
	ChangeOther
)

func (t ChangeType) String() string {
	switch t {
	case ChangeEdit:
		return "edit"
	case ChangeNew:
		return "new"
	case ChangeMove:
		return "move"
	case ChangeDelete:
		return "delete"
	case ChangeRestore:
		return "restore"
	case ChangeUpload:
		return "upload"
	default:
		return "other"
	}
}

// RecentChange is one feed entry. For moves, Title is the old title and
// NewTitle the destination.
type RecentChange struct {
	Type         ChangeType
	PageID       int64
	Namespace    int
	Title        string
	Timestamp    time.Time
	RevID        int64
	OldRevID     int64
	NewNamespace int
	NewTitle     string
}

// Revision is a revision as returned by the remote. ParentID is 0 for the
// first revision. Hidden fields are nil.
type Revision struct {
	ID            int64
	ParentID      int64
	Timestamp     time.Time
	User          *string
	UserID        *int64
	Comment       *string
	Content       string
	ContentHidden bool
	Size          int
	SHA1          string
	Minor         bool
	Tags          []string
}

// FileInfo is the current metadata of an uploaded file
type FileInfo struct {
	Filename       string
	URL            string
	DescriptionURL string
	SHA1           string
	Size           int64
	Width          *int
	Height         *int
	MimeType       string
	Timestamp      time.Time
	Uploader       *string
}
