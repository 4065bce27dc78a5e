package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vonshlovens/wikiarchive/internal/db"
	"github.com/vonshlovens/wikiarchive/internal/parser"
)

func backlinksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backlinks <title>",
		Short: "List archived pages that link to, transclude or categorize into a title",
		Args:  cobra.ExactArgs(1),
	}

	var kind string
	cmd.Flags().StringVarP(&kind, "type", "t", "", "only this link type: wikilink, template or category")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		var types []db.LinkType
		if kind != "" {
			t, err := db.ParseLinkType(kind)
			if err != nil {
				return err
			}
			types = append(types, t)
		}

		_, database, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer database.Close()

		target := parser.NormalizeTitle(args[0])

		var pages []*db.Page
		switch {
		case kind == "" && strings.HasPrefix(target, "Category:"):
			pages, err = database.GetCategoryMembers(ctx, target)
		case kind == "" && strings.HasPrefix(target, "Template:"):
			pages, err = database.GetTemplateUsage(ctx, target)
		default:
			pages, err = database.GetBacklinks(ctx, target, types...)
		}
		if err != nil {
			return fmt.Errorf("failed to load backlinks: %w", err)
		}

		for _, p := range pages {
			fmt.Printf("%6d  %s\n", p.ID, p.Title)
		}
		fmt.Printf("%d pages\n", len(pages))
		return nil
	}

	return cmd
}

func fileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "file <name>",
		Short: "Show archived metadata for an uploaded file and its duplicates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			_, database, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			name := strings.TrimPrefix(parser.NormalizeTitle(args[0]), "File:")
			f, err := database.GetFile(ctx, name)
			if err != nil {
				return fmt.Errorf("failed to load file: %w", err)
			}
			if f == nil {
				return fmt.Errorf("file %q is not archived", name)
			}

			fmt.Printf("%s\n", f.Filename)
			fmt.Printf("  URL: %s\n", f.URL)
			fmt.Printf("  Type: %s, %s\n", f.MimeType, humanize.Bytes(uint64(f.Size)))
			if f.Width != nil && f.Height != nil {
				fmt.Printf("  Dimensions: %dx%d\n", *f.Width, *f.Height)
			}
			fmt.Printf("  Uploaded: %s by %s\n", f.Timestamp.Format(time.RFC3339), deref(f.Uploader, "(hidden)"))
			fmt.Printf("  SHA-1: %s\n", f.SHA1)

			dups, err := database.FindDuplicateFiles(ctx, f.SHA1)
			if err != nil {
				return fmt.Errorf("failed to find duplicates: %w", err)
			}
			for _, d := range dups {
				if d.Filename != f.Filename {
					fmt.Printf("  Duplicate: %s\n", d.Filename)
				}
			}
			return nil
		},
	}
}
