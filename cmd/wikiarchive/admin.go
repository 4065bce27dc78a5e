package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vonshlovens/wikiarchive/internal/config"
	"github.com/vonshlovens/wikiarchive/internal/db"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connection status, archive size and recent runs",
	}

	var runs int
	cmd.Flags().IntVar(&runs, "runs", 5, "number of recent runs to list")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		database, err := db.New(ctx, &cfg.Database)
		if err != nil {
			fmt.Printf("Database Status: Disconnected\n")
			fmt.Printf("Error: %v\n", err)
			return nil
		}
		defer database.Close()

		schemaVersion, err := database.SchemaVersion(ctx)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		stats, err := database.GetStatistics(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		fmt.Println("=== wikiarchive status ===")
		fmt.Printf("Wiki: %s\n", cfg.Wiki.APIURL)
		fmt.Printf("Database Status: Connected\n")
		fmt.Printf("  Host: %s\n", cfg.Database.Host)
		fmt.Printf("  Database: %s\n", cfg.Database.Database)
		fmt.Printf("  Schema: %s (version %d)\n", cfg.Database.Schema, schemaVersion)
		fmt.Println()
		fmt.Printf("Archive:\n")
		fmt.Printf("  Pages: %s (%s redirects)\n", humanize.Comma(stats.Pages), humanize.Comma(stats.Redirects))
		fmt.Printf("  Revisions: %s by %s users\n", humanize.Comma(stats.Revisions), humanize.Comma(stats.DistinctUsers))
		fmt.Printf("  Content: %s\n", humanize.Bytes(uint64(stats.TotalContentBytes)))
		fmt.Printf("  Links: %s\n", humanize.Comma(stats.Links))
		fmt.Printf("  Files: %s\n", humanize.Comma(stats.Files))
		if stats.OldestRevision != nil && stats.NewestRevision != nil {
			fmt.Printf("  Span: %s to %s\n",
				stats.OldestRevision.Format(time.DateOnly), stats.NewestRevision.Format(time.DateOnly))
		}
		if stats.LastWatermark != nil {
			fmt.Printf("  Synced up to: %s (%s)\n",
				stats.LastWatermark.Format(time.RFC3339), humanize.Time(*stats.LastWatermark))
		} else {
			fmt.Printf("  Synced up to: never, run 'wikiarchive sync --full'\n")
		}

		recent, err := database.ListRuns(ctx, runs)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		if len(recent) > 0 {
			fmt.Println()
			fmt.Printf("Recent runs:\n")
		}
		for _, run := range recent {
			fmt.Printf("  %s  %-11s %-11s %s  pages %s, failed %d, revisions %s\n",
				run.StartedAt.Format(time.RFC3339), run.Mode, run.Status, runDuration(run),
				humanize.Comma(int64(run.PagesProcessed)), run.PagesFailed,
				humanize.Comma(int64(run.RevisionsAdded)))
		}

		return nil
	}

	return cmd
}

func runDuration(run *db.SyncRun) string {
	if run.FinishedAt == nil {
		return "running since " + humanize.Time(run.StartedAt)
	}
	return run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Creates the archive schema if needed and applies all pending embedded migrations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			_, database, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			schemaVersion, err := database.SchemaVersion(ctx)
			if err != nil {
				return fmt.Errorf("failed to read schema version: %w", err)
			}

			fmt.Printf("Migrations completed successfully (schema version %d).\n", schemaVersion)
			return nil
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup to create config file",
		Long:  `Interactively creates a configuration file for one wiki.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)
			ask := func(prompt, fallback string) string {
				if fallback != "" {
					fmt.Printf("%s [%s]: ", prompt, fallback)
				} else {
					fmt.Printf("%s: ", prompt)
				}
				answer, _ := reader.ReadString('\n')
				answer = strings.TrimSpace(answer)
				if answer == "" {
					return fallback
				}
				return answer
			}

			cfg := config.DefaultConfig()

			fmt.Println("=== wikiarchive setup ===")
			fmt.Println()

			cfg.Wiki.APIURL = ask("Wiki API URL (e.g. https://en.wikipedia.org/w/api.php)", "")
			if cfg.Wiki.APIURL == "" {
				return fmt.Errorf("wiki API URL is required")
			}
			cfg.Wiki.UserAgent = ask("User agent (include contact details)", cfg.Wiki.UserAgent)

			namespaces, err := parseNamespaces(ask("Namespaces to archive", "0"))
			if err != nil {
				return err
			}
			cfg.Wiki.Namespaces = namespaces

			fmt.Println("\nDatabase Configuration:")
			cfg.Database.Host = ask("  Host", "localhost")
			port, err := strconv.Atoi(ask("  Port", strconv.Itoa(cfg.Database.Port)))
			if err != nil {
				return fmt.Errorf("invalid port: %w", err)
			}
			cfg.Database.Port = port
			cfg.Database.User = ask("  User", "")
			cfg.Database.Database = ask("  Database name", "")
			if cfg.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
			cfg.Database.Schema = config.SanitizeIdentifier(ask("  Schema name", config.SchemaFromAPIURL(cfg.Wiki.APIURL)))
			cfg.Database.SSLMode = ask("  SSL mode", cfg.Database.SSLMode)
			cfg.Database.Password = "${DB_PASSWORD}"

			if err := config.Validate(cfg); err != nil {
				return err
			}

			content, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}

			configDir := config.GetConfigDir()
			if err := os.MkdirAll(configDir, 0700); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			configPath := filepath.Join(configDir, "config.yaml")

			if err := os.WriteFile(configPath, content, 0600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Printf("\nConfig file written to: %s\n", configPath)
			fmt.Printf("\nIMPORTANT: Set the DB_PASSWORD environment variable (or put it in .env)\n")
			fmt.Println("\nTo test the connection, run: wikiarchive status")
			fmt.Println("To take the first snapshot, run: wikiarchive sync --full")
			fmt.Println("To keep it current, run: wikiarchive daemon")

			return nil
		},
	}
}

func parseNamespaces(s string) ([]int, error) {
	var out []int
	for _, field := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		ns, err := strconv.Atoi(field)
		if err != nil || ns < 0 {
			return nil, fmt.Errorf("invalid namespace %q", field)
		}
		out = append(out, ns)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one namespace is required")
	}
	return out, nil
}

func purgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <title>",
		Short: "Physically remove a page and its history from the archive",
		Long: `Removes a page with every revision, link and search row. Sync never does this on
its own: remote deletions are only recorded. Use it to free a title reused by a new page.`,
		Args: cobra.ExactArgs(1),
	}

	var yes bool
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

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
		revs, err := database.CountRevisions(ctx, page.ID)
		if err != nil {
			return fmt.Errorf("failed to count revisions: %w", err)
		}

		if !yes {
			fmt.Printf("Delete %s (page %d) and %d revisions? [y/N]: ", page.Title, page.ID, revs)
			answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if !strings.EqualFold(strings.TrimSpace(answer), "y") {
				fmt.Println("Aborted.")
				return nil
			}
		}

		if err := database.DeletePage(ctx, page.ID); err != nil {
			return fmt.Errorf("failed to delete page: %w", err)
		}
		fmt.Printf("Purged %s (%d revisions).\n", page.Title, revs)
		return nil
	}

	return cmd
}
