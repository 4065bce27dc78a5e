package sync

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vonshlovens/wikiarchive/internal/db"
)

// ManifestFile is written at the root of every export
const ManifestFile = "manifest.yaml"

// Snapshotter streams the archive as it stood at a point in time
type Snapshotter interface {
	ListAsOf(ctx context.Context, t time.Time, fn func(*db.PageRevision) error) error
}

// Manifest describes an export directory
type Manifest struct {
	AsOf        time.Time   `yaml:"as_of"`
	GeneratedAt time.Time   `yaml:"generated_at"`
	Pages       int         `yaml:"pages"`
	Written     int         `yaml:"written"`
	Unchanged   int         `yaml:"unchanged"`
	Namespaces  map[int]int `yaml:"namespaces"`
}

// ExportPath returns where a page is written inside an export directory:
// <dir>/<namespace>/<title>.wiki with spaces as underscores and the title
// escaped as a single path segment
func ExportPath(dir string, namespace int, title string) string {
	name := url.PathEscape(strings.ReplaceAll(title, " ", "_"))
	return filepath.Join(dir, strconv.Itoa(namespace), name+".wiki")
}

// Export writes the content of every page as of asOf into dir. Files that
// already hold the right content are left untouched, so re-exporting into
// the same directory only rewrites what changed.
func Export(ctx context.Context, src Snapshotter, asOf time.Time, dir string, progress ProgressFunc) (*Manifest, error) {
	if progress == nil {
		progress = noProgress
	}
	slog.Info("exporting archive", "as_of", asOf, "dir", dir)
	start := time.Now()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}

	m := &Manifest{AsOf: asOf.UTC(), Namespaces: make(map[int]int)}
	err := src.ListAsOf(ctx, asOf, func(pr *db.PageRevision) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.Pages++
		m.Namespaces[pr.Page.Namespace]++
		progress(StageExport, m.Pages, -1)

		path := ExportPath(dir, pr.Page.Namespace, pr.Page.Title)
		if existing, err := HashFile(path); err == nil && existing == HashString(pr.Revision.Content) {
			m.Unchanged++
			return nil
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(pr.Revision.Content), 0644); err != nil {
			return fmt.Errorf("failed to write %q: %w", pr.Page.Title, err)
		}
		m.Written++
		slog.Debug("exported page", "title", pr.Page.Title, "revision", pr.Revision.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.GeneratedAt = time.Now().UTC()
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	slog.Info("export completed",
		"pages", m.Pages,
		"written", m.Written,
		"unchanged", m.Unchanged,
		"duration_s", time.Since(start).Seconds())
	return m, nil
}
