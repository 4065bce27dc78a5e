package sync

import (
	"time"

	"github.com/google/uuid"

	"github.com/vonshlovens/wikiarchive/internal/db"
)

// RunReport summarizes one sync run. ErrorSamples is bounded by
// sync.error_sample_size; FailedPageIDs lists every failed page.
type RunReport struct {
	RunID         uuid.UUID
	Mode          db.RunMode
	Status        db.RunStatus
	Pages         int
	Failed        int
	Revisions     int
	Files         int
	Deleted       int
	Moved         int
	Errors        int
	FailedPageIDs []int64
	ErrorSamples  []string
	// Watermark is zero unless the run completed and advanced it
	Watermark time.Time
	Duration  time.Duration
}

// OK reports whether the run completed
func (r *RunReport) OK() bool {
	return r.Status == db.RunCompleted
}

// LogValues returns the report as slog key/value pairs
func (r *RunReport) LogValues() []any {
	args := []any{
		"run_id", r.RunID,
		"mode", r.Mode,
		"status", r.Status,
		"pages", r.Pages,
		"failed", r.Failed,
		"revisions", r.Revisions,
		"files", r.Files,
		"deleted", r.Deleted,
		"moved", r.Moved,
		"errors", r.Errors,
		"duration_s", r.Duration.Seconds(),
	}
	if !r.Watermark.IsZero() {
		args = append(args, "watermark", r.Watermark)
	}
	return args
}
