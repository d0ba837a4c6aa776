package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/semsearch-mcp/internal/app"
	"github.com/dshills/semsearch-mcp/internal/config"
	"github.com/dshills/semsearch-mcp/internal/httpapi"
	"github.com/dshills/semsearch-mcp/internal/mcp"
	"github.com/dshills/semsearch-mcp/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	flagConfig    string
	flagWorkspace string
	flagLogLevel  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "semsearch",
		Short:        "Local semantic code search over a workspace",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (.yaml, .yml or .toml)")
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", "", "workspace root (default from config or current directory)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newServeCmd(),
		newIndexCmd(),
		newSearchCmd(),
		newStatusCmd(),
		newClearCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves the config file, environment and command line flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagWorkspace != "" {
		cfg.Workspace = flagWorkspace
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger logs to stderr; stdout is reserved for the MCP protocol
func newLogger(level string) *slog.Logger {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// withApp builds the engine, runs fn and closes the engine
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App, logger *slog.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	runErr := fn(ctx, a, logger)
	if err := a.Close(); err != nil {
		logger.Warn("failed to close engine", "error", err)
	}
	return runErr
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd() *cobra.Command {
	var httpAddr string
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP on stdio, optionally with an HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			return withApp(ctx, func(ctx context.Context, a *app.App, logger *slog.Logger) error {
				cfg := a.Config()
				if !cmd.Flags().Changed("http") {
					httpAddr = cfg.HTTPAddr
				}
				if !cmd.Flags().Changed("watch") {
					watch = cfg.WatchFiles
				}

				logger.Info("semsearch starting",
					"version", version,
					"build_mode", storage.BuildMode,
					"driver", storage.DriverName)

				g, gctx := errgroup.WithContext(ctx)

				if watch {
					if err := a.StartWatching(gctx); err != nil {
						return err
					}
					// Bring the index up to date before relying on change events
					g.Go(func() error {
						res, err := a.Reindex(gctx, false)
						if err != nil {
							logger.Error("initial index failed", "error", err)
							return nil
						}
						logger.Info("initial index finished", "status", res.Status, "files", res.TotalFiles, "chunks", res.TotalChunks)
						return nil
					})
				}

				if httpAddr != "" {
					api := httpapi.NewServer(a, a.Metrics().Handler(), logger.With("component", "http"))
					g.Go(func() error {
						return api.ListenAndServe(gctx, httpAddr)
					})
				}

				server := mcp.NewServer(a, logger.With("component", "mcp"))
				err := server.Serve(gctx)
				cancel()
				if waitErr := g.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
					return waitErr
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "also serve HTTP on this address, e.g. 127.0.0.1:8090")
	cmd.Flags().BoolVar(&watch, "watch", false, "reindex changed files as they are saved")
	return cmd
}

func newIndexCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the workspace and print the run summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			return withApp(ctx, func(ctx context.Context, a *app.App, logger *slog.Logger) error {
				a.SetProgress(func(percent, total int, message string) {
					logger.Info("progress", "percent", percent, "files", total, "message", message)
				})
				res, err := a.Reindex(ctx, force)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "clear the index and re-embed every file")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, logger *slog.Logger) error {
				resp, err := a.Search(ctx, args[0], topK)
				if err != nil {
					return err
				}
				return printJSON(cmd, resp)
			})
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "maximum number of results (default max_results)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, logger *slog.Logger) error {
				status, err := a.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, status)
			})
		},
	}
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the workspace index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, logger *slog.Logger) error {
				res, err := a.ClearCache(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "semsearch %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}
