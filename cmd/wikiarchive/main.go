package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vonshlovens/wikiarchive/internal/config"
	"github.com/vonshlovens/wikiarchive/internal/db"
	"github.com/vonshlovens/wikiarchive/internal/logging"
)

var (
	cfgFile string
	verbose bool
	version = "dev"

	logCloser io.Closer
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "wikiarchive",
		Short:   "Incremental archival crawler for MediaWiki sites",
		Long:    `Keeps a durable, queryable PostgreSQL copy of a wiki's pages, revisions, links and files, refreshed incrementally.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Stderr only until a command loads its config
			slog.SetDefault(logging.New(os.Stderr, config.DefaultConfig().Log, verbose))
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		syncCmd(),
		daemonCmd(),
		statusCmd(),
		migrateCmd(),
		initCmd(),
		searchCmd(),
		showCmd(),
		historyCmd(),
		changesCmd(),
		backlinksCmd(),
		fileCmd(),
		exportCmd(),
		purgeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config and switches logging over to its settings
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if logCloser != nil {
		logCloser.Close()
	}
	_, logCloser = logging.Setup(cfg.Log, verbose)
	return cfg, nil
}

// openStore loads the config and connects to the archive database
func openStore(ctx context.Context) (*config.Config, *db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	database, err := db.New(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return cfg, database, nil
}
