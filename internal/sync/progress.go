package sync

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Stage names a phase of a run for progress reporting
type Stage string

const (
	StageDiscover Stage = "discover"
	StageDetect   Stage = "detect"
	StageFetch    Stage = "fetch"
	StageExport   Stage = "export"
)

// ProgressFunc receives (stage, current, total) notifications. total is -1
// when unknown. It may be called from several workers at once.
type ProgressFunc func(stage Stage, current, total int)

func noProgress(Stage, int, int) {}

// NewProgressBar returns a ProgressFunc that draws one bar per stage on w
func NewProgressBar(w io.Writer) ProgressFunc {
	var (
		mu    sync.Mutex
		bar   *progressbar.ProgressBar
		stage Stage
	)

	return func(s Stage, current, total int) {
		mu.Lock()
		defer mu.Unlock()

		if bar == nil || s != stage {
			if bar != nil {
				bar.Finish()
			}
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(w),
				progressbar.OptionSetDescription(string(s)),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
			)
			stage = s
		}
		if total >= 0 && total != bar.GetMax() {
			bar.ChangeMax(total)
		}
		bar.Set(current)
		if total >= 0 && current >= total {
			bar.Finish()
		}
	}
}
