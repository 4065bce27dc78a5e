// Package watcher reports changes to the daemon's configuration files so a
// long-running process can reload between sync runs.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches a config file and the .env file beside it
type ConfigWatcher struct {
	dir       string
	config    string
	patterns  []string
	fs        *fsnotify.Watcher
	debouncer *Debouncer
	logger    *slog.Logger
	stopCh    chan struct{}
}

// New creates a watcher for the config file at path. The config file name is
// matched literally; .env and the extra doublestar patterns are matched
// against base names in the same directory.
func New(path string, debounce time.Duration, logger *slog.Logger, extra ...string) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	patterns := append([]string{".env"}, extra...)
	return &ConfigWatcher{
		dir:       filepath.Dir(abs),
		config:    filepath.Base(abs),
		patterns:  patterns,
		fs:        fsw,
		debouncer: NewDebouncer(debounce),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start begins watching. Editors replace files on save, so the directory is
// watched rather than the file itself.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	if err := w.fs.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	go w.loop(ctx)

	w.logger.Info("watching config", "dir", w.dir, "config", w.config, "patterns", w.patterns)
	return nil
}

// Events returns the channel of debounced config changes
func (w *ConfigWatcher) Events() <-chan Event {
	return w.debouncer.Events()
}

// Stop stops watching
func (w *ConfigWatcher) Stop() error {
	close(w.stopCh)
	w.debouncer.Stop()
	return w.fs.Close()
}

func (w *ConfigWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.matches(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.debouncer.Add(event.Name, OpRemove)
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				w.debouncer.Add(event.Name, OpWrite)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *ConfigWatcher) matches(name string) bool {
	base := filepath.Base(name)
	if base == w.config {
		return true
	}
	for _, pattern := range w.patterns {
		if matched, err := doublestar.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}
