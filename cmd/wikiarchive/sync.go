package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vonshlovens/wikiarchive/internal/config"
	"github.com/vonshlovens/wikiarchive/internal/db"
	"github.com/vonshlovens/wikiarchive/internal/mediawiki"
	"github.com/vonshlovens/wikiarchive/internal/sync"
	"github.com/vonshlovens/wikiarchive/internal/watcher"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync, then exit",
		Long: `Applies remote changes since the last completed run. With --full every page of
the configured namespaces is listed instead, which is required once to establish a baseline.`,
		SilenceUsage: true,
	}

	var full, quiet bool
	cmd.Flags().BoolVar(&full, "full", false, "list every page instead of reading the recent changes feed")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not draw progress bars")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, database, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		var opts []sync.Option
		if !quiet {
			opts = append(opts, sync.WithProgress(sync.NewProgressBar(os.Stderr)))
		}
		engine := newEngine(cfg, database, opts...)

		var report *sync.RunReport
		if full {
			report, err = engine.RunFullSync(ctx)
		} else {
			report, err = engine.RunIncrementalSync(ctx)
		}
		if errors.Is(err, sync.ErrBaselineRequired) {
			return fmt.Errorf("no completed sync yet, run 'wikiarchive sync --full' first")
		}
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		printReport(report)
		if !report.OK() {
			return fmt.Errorf("sync %s", report.Status)
		}
		return nil
	}

	return cmd
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run incremental syncs on a schedule",
		Long: `Runs an incremental sync every daemon.interval_minutes. Edits to the config file
are picked up before the next run. SIGINT or SIGTERM interrupts the running sync and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, database, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			var reloads <-chan watcher.Event
			if path := cfg.Source(); path != "" {
				debounce := time.Duration(cfg.Daemon.DebounceMs) * time.Millisecond
				w, err := watcher.New(path, debounce, slog.Default())
				if err != nil {
					return fmt.Errorf("failed to create config watcher: %w", err)
				}
				if err := w.Start(ctx); err != nil {
					return fmt.Errorf("failed to start config watcher: %w", err)
				}
				defer w.Stop()
				reloads = w.Events()
			}

			slog.Info("daemon started", "wiki", cfg.Wiki.APIURL, "interval", cfg.Daemon.Interval())
			fmt.Println("Archiving on schedule. Press Ctrl+C to stop.")

			timer := time.NewTimer(0)
			defer timer.Stop()

			for {
				select {
				case <-ctx.Done():
					slog.Info("shutting down...")
					return nil

				case event := <-reloads:
					slog.Info("config changed, reloading", "path", event.Path, "op", event.Op)
					next, err := loadConfig()
					if err != nil {
						slog.Error("config reload failed, keeping previous config", "error", err)
						continue
					}
					if next.Database != cfg.Database {
						slog.Warn("database settings changed, restart the daemon to apply them")
						next.Database = cfg.Database
					}
					cfg = next

				case <-timer.C:
					scheduledRun(ctx, cfg, database)
					timer.Reset(cfg.Daemon.Interval())
					slog.Info("next sync scheduled", "at", time.Now().Add(cfg.Daemon.Interval()).Format(time.RFC3339))
				}
			}
		},
	}
}

// scheduledRun performs one daemon tick. Failures are logged; the next tick
// retries whatever is still pending.
func scheduledRun(ctx context.Context, cfg *config.Config, database *db.DB) {
	engine := newEngine(cfg, database)

	report, err := engine.RunIncrementalSync(ctx)
	if errors.Is(err, sync.ErrBaselineRequired) {
		if !cfg.Daemon.Bootstrap {
			slog.Error("no completed sync yet and daemon.bootstrap is off, run 'wikiarchive sync --full'")
			return
		}
		slog.Info("no baseline yet, running full sync")
		report, err = engine.RunFullSync(ctx)
	}
	if err != nil {
		slog.Error("sync failed", "error", err)
		return
	}

	if report.OK() {
		slog.Info("sync finished", report.LogValues()...)
	} else {
		slog.Warn("sync did not complete", report.LogValues()...)
	}
}

func newEngine(cfg *config.Config, database *db.DB, opts ...sync.Option) *sync.Engine {
	source := mediawiki.New(&cfg.Wiki)
	opts = append(opts, sync.WithLogger(slog.Default()))
	return sync.NewEngine(database, source, cfg, opts...)
}

func printReport(r *sync.RunReport) {
	fmt.Printf("Run %s (%s): %s\n", r.RunID, r.Mode, r.Status)
	fmt.Printf("  Pages:     %s synced, %s failed\n", humanize.Comma(int64(r.Pages)), humanize.Comma(int64(r.Failed)))
	fmt.Printf("  Revisions: %s added\n", humanize.Comma(int64(r.Revisions)))
	fmt.Printf("  Files:     %s\n", humanize.Comma(int64(r.Files)))
	fmt.Printf("  Deleted:   %d, moved: %d\n", r.Deleted, r.Moved)
	fmt.Printf("  Duration:  %s\n", r.Duration.Round(time.Second))
	if !r.Watermark.IsZero() {
		fmt.Printf("  Watermark: %s\n", r.Watermark.Format(time.RFC3339))
	}

	if len(r.ErrorSamples) > 0 {
		fmt.Printf("\n%d errors, first %d:\n", r.Errors, len(r.ErrorSamples))
		for _, sample := range r.ErrorSamples {
			fmt.Printf("  %s\n", sample)
		}
	}
}
