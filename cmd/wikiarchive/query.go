package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vonshlovens/wikiarchive/internal/db"
	"github.com/vonshlovens/wikiarchive/internal/parser"
	"github.com/vonshlovens/wikiarchive/internal/sync"
)

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over the latest page content",
		Args:  cobra.MinimumNArgs(1),
	}

	var limit int
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of results")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		_, database, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		results, err := database.Search(ctx, strings.Join(args, " "), limit)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if len(results) == 0 {
			fmt.Println("No matches.")
			return nil
		}

		for _, r := range results {
			fmt.Printf("%s  (page %d, rev %d, rank %.3f)\n", r.Title, r.PageID, r.RevisionID, r.Rank)
			if r.Snippet != "" {
				fmt.Printf("    %s\n", strings.ReplaceAll(r.Snippet, "\n", " "))
			}
		}
		return nil
	}

	return cmd
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <title>",
		Short: "Print a page's content, optionally as of a past time",
		Args:  cobra.ExactArgs(1),
	}

	var asOf string
	var links bool
	cmd.Flags().StringVar(&asOf, "as-of", "", "show the revision current at this time (RFC3339 or e.g. 'last monday')")
	cmd.Flags().BoolVar(&links, "links", false, "list outgoing links instead of content")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		_, database, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		page, err := lookupPage(ctx, database, args[0])
		if err != nil {
			return err
		}

		if links {
			out, err := database.GetOutgoingLinks(ctx, page.ID)
			if err != nil {
				return fmt.Errorf("failed to load links: %w", err)
			}
			for _, l := range out {
				fmt.Printf("%-9s %s\n", l.Type, l.TargetTitle)
			}
			return nil
		}

		var rev *db.Revision
		if asOf != "" {
			t, err := parseTime(asOf, time.Now())
			if err != nil {
				return err
			}
			rev, err = database.GetAsOf(ctx, page.ID, t)
			if err != nil {
				return fmt.Errorf("failed to load revision: %w", err)
			}
			if rev == nil {
				return fmt.Errorf("%s did not exist yet at %s", page.Title, t.Format(time.RFC3339))
			}
		} else {
			rev, err = database.GetLatest(ctx, page.ID)
			if err != nil {
				return fmt.Errorf("failed to load revision: %w", err)
			}
			if rev == nil {
				return fmt.Errorf("%s has no archived revisions", page.Title)
			}
		}

		fmt.Fprintf(os.Stderr, "%s  rev %d  %s  by %s\n",
			page.Title, rev.ID, rev.Timestamp.Format(time.RFC3339), deref(rev.User, "(hidden)"))
		fmt.Println(rev.Content)
		return nil
	}

	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <title>",
		Short: "List a page's archived revisions, newest first",
		Args:  cobra.ExactArgs(1),
	}

	var limit int
	var runs bool
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of revisions, 0 for all")
	cmd.Flags().BoolVar(&runs, "runs", false, "show what each sync run did with the page instead")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		_, database, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		page, err := lookupPage(ctx, database, args[0])
		if err != nil {
			return err
		}

		if runs {
			statuses, err := database.PageStatusHistory(ctx, page.ID)
			if err != nil {
				return fmt.Errorf("failed to load sync history: %w", err)
			}
			for _, st := range statuses {
				line := fmt.Sprintf("  %s  run %s  %-9s", st.UpdatedAt.Format(time.RFC3339), st.RunID, st.Status)
				if st.LastRevisionID != nil {
					line += fmt.Sprintf(" rev %d", *st.LastRevisionID)
				}
				if st.Error != nil {
					line += "  " + *st.Error
				}
				fmt.Println(line)
			}
			return nil
		}

		revs, err := database.GetPageHistory(ctx, page.ID, limit)
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}

		fmt.Printf("%s (page %d)\n", page.Title, page.ID)
		for _, r := range revs {
			minor := " "
			if r.Minor {
				minor = "m"
			}
			fmt.Printf("  %d %s %s  %-20s %8s  %s\n",
				r.ID, minor, r.Timestamp.Format(time.RFC3339),
				deref(r.User, "(hidden)"), humanize.Bytes(uint64(r.Size)), deref(r.Comment, ""))
		}
		return nil
	}

	return cmd
}

func changesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List archived revisions saved within a time range",
	}

	var from, to string
	var limit int
	cmd.Flags().StringVar(&from, "from", "yesterday", "start of the range")
	cmd.Flags().StringVar(&to, "to", "now", "end of the range")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum number of revisions")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		now := time.Now()
		fromT, err := parseTime(from, now)
		if err != nil {
			return err
		}
		toT, err := parseTime(to, now)
		if err != nil {
			return err
		}
		if toT.Before(fromT) {
			return fmt.Errorf("--to %s is before --from %s", toT.Format(time.RFC3339), fromT.Format(time.RFC3339))
		}

		_, database, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		changes, err := database.GetChangesInRange(ctx, fromT, toT, limit)
		if err != nil {
			return fmt.Errorf("failed to load changes: %w", err)
		}

		for _, c := range changes {
			fmt.Printf("%s  %-40s %+6d  %-20s %s\n",
				humanize.RelTime(c.Timestamp, now, "ago", "from now"), c.Title, c.SizeDelta,
				deref(c.User, "(hidden)"), deref(c.Comment, ""))
		}
		fmt.Printf("%d revisions between %s and %s\n", len(changes), fromT.Format(time.RFC3339), toT.Format(time.RFC3339))
		return nil
	}

	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <dir>",
		Short: "Write every page's content as of a point in time into a directory",
		Args:  cobra.ExactArgs(1),
	}

	var asOf string
	var quiet bool
	cmd.Flags().StringVar(&asOf, "as-of", "now", "export the archive as it stood at this time")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not draw progress bars")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		t, err := parseTime(asOf, time.Now())
		if err != nil {
			return err
		}

		_, database, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		var progress sync.ProgressFunc
		if !quiet {
			progress = sync.NewProgressBar(os.Stderr)
		}

		manifest, err := sync.Export(ctx, database, t, args[0], progress)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		fmt.Printf("Exported %s pages as of %s to %s (%d written, %d unchanged)\n",
			humanize.Comma(int64(manifest.Pages)), manifest.AsOf.Format(time.RFC3339), args[0],
			manifest.Written, manifest.Unchanged)
		return nil
	}

	return cmd
}

// lookupPage resolves a title as typed by a user
func lookupPage(ctx context.Context, database *db.DB, title string) (*db.Page, error) {
	normalized := parser.NormalizeTitle(title)
	page, err := database.GetPageByTitle(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to load page: %w", err)
	}
	if page == nil {
		return nil, fmt.Errorf("page %q is not archived", normalized)
	}
	return page, nil
}

func deref(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
