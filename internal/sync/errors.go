package sync

import (
	"errors"

	"github.com/vonshlovens/wikiarchive/internal/db"
	"github.com/vonshlovens/wikiarchive/internal/mediawiki"
)

// ErrBaselineRequired is returned by an incremental sync when no run has
// ever completed. Run a full sync first.
var ErrBaselineRequired = errors.New("baseline required: no completed sync run, run a full sync first")

// isTransient reports whether err is worth retrying: remote timeouts, 429,
// 5xx and store unavailability
func isTransient(err error) bool {
	return mediawiki.IsTransient(err) || db.IsTransient(err)
}
