package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noot-app/ingredient-matcher/internal/config"
	"github.com/noot-app/ingredient-matcher/internal/dataset"
	"github.com/noot-app/ingredient-matcher/internal/display"
	"github.com/noot-app/ingredient-matcher/internal/mcpgo"
	"github.com/noot-app/ingredient-matcher/internal/source"
	"github.com/noot-app/ingredient-matcher/internal/version"
)

// newRootCmd builds the command tree. Tests build a fresh tree per case.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ingredient-matcher",
		Short: "Match Danish recipe ingredients to nutrition data and store products",
		Long: `ingredient-matcher links free-text ingredient and product names to
entries in the Frida nutrition dataset or the scraped product catalog.

Matching runs through four tiers: exact name, synonym, fuzzy similarity and
category fallback. Accepted matches are persisted in a match store (DuckDB or
SQLite); manual matches are never overwritten by automatic ones.

Commands:
- serve:       run the MCP server (HTTP, or stdio with --stdio)
- fetch-data:  download or refresh the reference dataset and exit
- load:        load the reference dataset and product listings, print stats
- match:       match a free-text name against a catalog
- matches:     list, accept, delete and summarize stored matches
- breakdown:   compute a recipe's nutrition from its matched ingredients
- rematch:     re-run matching over every recipe ingredient, resumable
- dedupe:      report ingredient names that normalize to the same key

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("json", false, "Print results as JSON")

	root.AddCommand(
		newServeCmd(),
		newFetchDataCmd(),
		newLoadCmd(),
		newMatchCmd(),
		newMatchesCmd(),
		newBreakdownCmd(),
		newRematchCmd(),
		newDedupeCmd(),
		newVersionCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long: `Run the MCP server.

HTTP mode (default) exposes /mcp (streamable HTTP) and /health on PORT.
Stdio mode (--stdio) speaks MCP over stdin/stdout for local clients; logs go
to stderr.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().Bool("stdio", false, "Serve over stdio instead of HTTP")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	stdio, _ := cmd.Flags().GetBool("stdio")
	mode := config.ModeHTTP
	if stdio {
		mode = config.ModeStdio
	}
	logger := config.NewLogger(mode)
	cfg := config.Load()

	logger.Info("🥕 Starting ingredient matcher MCP server",
		"mode", mode.String(),
		"store_driver", cfg.StoreDriver,
		"reference_path", cfg.ReferencePath,
		"port", cfg.Port)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ReferenceURL != "" {
		reader, err := source.NewReader(logger)
		if err != nil {
			return err
		}
		err = dataset.NewManager(cfg, logger).WithValidator(reader.TestConnection).EnsureDataset(ctx)
		reader.Close()
		if err != nil {
			logger.Error("Failed to ensure dataset", "error", err)
			return err
		}
	}

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start matcher", "error", err)
		return err
	}
	defer a.Close()

	srv := mcpgo.NewServer(a.svc, version.Tag(), logger)
	if stdio {
		return srv.ServeStdio()
	}
	return srv.ServeHTTP(":" + cfg.Port)
}

func newFetchDataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-data",
		Short: "Download or refresh the reference dataset and exit",
		Long: `Download the reference dataset from REFERENCE_URL into REFERENCE_PATH.

The remote ETag (or size) is compared with the last download, so an
up-to-date dataset is not fetched again. Concurrent fetches coordinate
through a lock file; a new file only replaces the old one once DuckDB can
read it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := config.NewTextLogger(os.Stderr)
			cfg := config.Load()

			logger.Info("🗄️  Fetching reference dataset",
				"url", cfg.ReferenceURL,
				"target_dir", filepath.Dir(cfg.ReferencePath))

			reader, err := source.NewReader(logger)
			if err != nil {
				return err
			}
			defer reader.Close()

			manager := dataset.NewManager(cfg, logger).WithValidator(reader.TestConnection)
			if err := manager.EnsureDataset(cmd.Context()); err != nil {
				logger.Error("Failed to fetch dataset", "error", err)
				return err
			}

			logger.Info("✅ Reference dataset ready",
				"path", manager.Path(),
				"metadata_path", cfg.MetadataPath)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// jsonOutput reports whether --json was given
func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

// withApp loads configuration, opens the matcher and runs fn with it
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	logger := config.NewTextLogger(cmd.ErrOrStderr())
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// Execute runs the root command. Errors are printed by the caller.
func Execute() error {
	root := newRootCmd()
	root.SilenceErrors = true
	err := root.ExecuteContext(context.Background())
	if err != nil {
		display.PrintError(os.Stderr, "Error: "+err.Error())
	}
	return err
}

// Run is the main entry point for the CLI application
func Run() error {
	return Execute()
}
