package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/tbuchli/notegarden/internal/config"
	"github.com/tbuchli/notegarden/internal/engine"
	"github.com/tbuchli/notegarden/internal/githost"
	"github.com/tbuchli/notegarden/internal/ledger"
	"github.com/tbuchli/notegarden/internal/mirror"
	"github.com/tbuchli/notegarden/internal/notify"
	"github.com/tbuchli/notegarden/internal/remote"
	"github.com/tbuchli/notegarden/internal/vault"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
	forceAll  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "notegarden",
	Short: "Publish markdown notes to a git repository and a local mirror",
	Long: `notegarden publishes a directory of markdown notes and their referenced
image attachments to a git-hosting repository via its REST API, to a
local mirror directory, or to both.

Every publish is a single atomic commit on the hosting side. A local
ledger tracks what was published so repeated runs only pick up new and
changed notes.`,
	SilenceUsage: true,
}

var publishCmd = &cobra.Command{
	Use:   "publish [paths...]",
	Short: "Publish new and changed notes to the configured targets",
	Long: `Publish compares every note in the vault against the publication ledger
and publishes the new and changed ones. With explicit paths, exactly
those notes are published regardless of their ledger state.

Referenced images are uploaded alongside the notes and markdown image
links are rewritten to their published locations.`,
	RunE: runPublish,
}

var unpublishCmd = &cobra.Command{
	Use:   "unpublish <paths...>",
	Short: "Remove published notes from the configured targets",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUnpublish,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the publication state of every note",
	RunE:  runStatus,
}

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Verify hosting API access, mirror writability and webhook reachability",
	RunE:  runTestConnection,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as a daemon, republishing changed notes on an interval",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("notegarden %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/notegarden/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Publish command flags
	publishCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be published without making changes")
	publishCmd.Flags().BoolVar(&forceAll, "all", false, "republish every note regardless of ledger state")

	// Unpublish command flags
	unpublishCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be removed without making changes")

	// Add commands
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(unpublishCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(testConnectionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	eng, led, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = led.Close()
	}()

	report, err := eng.Publish(ctx, args, forceAll)
	if err != nil {
		logger.Error("publish failed", "error", err)
		return err
	}
	if !report.Success() {
		return fmt.Errorf("publish finished with %d error(s)", len(report.Errors))
	}

	if report.Selected > 0 && !dryRun {
		logger.Info("publish completed",
			"notes", report.Selected,
			"commit", report.RemoteCommit,
			"mirror_files", report.MirrorWritten,
			"skipped_images", report.SkippedImages)
	}
	return nil
}

func runUnpublish(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	eng, led, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = led.Close()
	}()

	report, err := eng.Unpublish(ctx, args)
	if err != nil {
		logger.Error("unpublish failed", "error", err)
		return err
	}
	if !report.Success() {
		return fmt.Errorf("unpublish finished with %d error(s)", len(report.Errors))
	}

	if !dryRun {
		logger.Info("unpublish completed", "notes", report.Selected, "commit", report.RemoteCommit)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	eng, led, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = led.Close()
	}()

	entries, err := eng.Status(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		fmt.Printf("%-12s %s\n", entry.Status, entry.Path())
	}
	return nil
}

func runTestConnection(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	failed := false

	if cfg.GitHub.Enabled() {
		token, err := readSecret(cfg.GitHub.TokenFile)
		if err != nil {
			return err
		}
		client := githost.New(cfg.GitHub.APIBaseURL, cfg.GitHub.Owner, cfg.GitHub.Repo, token)

		// An unpublished branch is fine; only auth and repo access
		// failures count.
		_, err = client.GetRef(ctx, cfg.GitHub.Ref())
		if err != nil && !errors.Is(err, githost.ErrRefNotFound) {
			logger.Error("hosting API check failed", "error", err)
			failed = true
		} else {
			logger.Info("hosting API reachable", "repo", cfg.GitHub.Owner+"/"+cfg.GitHub.Repo, "branch", cfg.GitHub.Branch)
		}
	}

	if cfg.Mirror.Enabled() {
		pub := mirror.NewPublisher(cfg.Mirror.RootDir, cfg.Mirror.NotesDir, cfg.Mirror.AssetsDir, logger)
		if err := pub.EnsureTargets(); err != nil {
			logger.Error("mirror check failed", "error", err)
			failed = true
		} else {
			probe := []mirror.Item{{Target: ".notegarden-probe", Content: []byte("probe")}}
			if result := pub.PublishMany(probe); !result.OK() {
				logger.Error("mirror not writable", "error", result.Failed[0].Err)
				failed = true
			} else {
				pub.DeleteMany([]mirror.DeleteItem{{Target: ".notegarden-probe"}})
				logger.Info("mirror writable", "root", cfg.Mirror.RootDir)
			}
		}
	}

	if cfg.Webhook.Enabled() {
		token := ""
		if cfg.Webhook.TokenFile != "" {
			token, err = readSecret(cfg.Webhook.TokenFile)
			if err != nil {
				return err
			}
		}
		notifier := notify.New(cfg.Webhook.URL, token, logger)
		if err := notifier.Test(ctx); err != nil {
			logger.Error("webhook check failed", "error", err)
			failed = true
		} else {
			logger.Info("webhook reachable", "url", cfg.Webhook.URL)
		}
	}

	if failed {
		return fmt.Errorf("one or more connection checks failed")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	eng, led, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = led.Close()
	}()

	return eng.Serve(ctx, cfg.Serve.Interval)
}

// buildEngine wires the vault, the publication ledger and the configured
// publish targets into an engine. The caller owns the returned ledger
// handle.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, *ledger.Store, error) {
	store := vault.NewFS(cfg.Vault.Dir)

	if err := os.MkdirAll(cfg.Paths.StateDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	led, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		return nil, nil, err
	}

	var targets engine.Targets

	if cfg.GitHub.Enabled() {
		token, err := readSecret(cfg.GitHub.TokenFile)
		if err != nil {
			_ = led.Close()
			return nil, nil, err
		}
		client := githost.New(cfg.GitHub.APIBaseURL, cfg.GitHub.Owner, cfg.GitHub.Repo, token)
		targets.Remote = remote.NewPublisher(client, store, cfg.GitHub, logger)
	}

	if cfg.Mirror.Enabled() {
		targets.Mirror = mirror.NewPublisher(cfg.Mirror.RootDir, cfg.Mirror.NotesDir, cfg.Mirror.AssetsDir, logger)
	}

	if cfg.Webhook.Enabled() {
		token := ""
		if cfg.Webhook.TokenFile != "" {
			token, err = readSecret(cfg.Webhook.TokenFile)
			if err != nil {
				_ = led.Close()
				return nil, nil, err
			}
		}
		targets.Notifier = notify.New(cfg.Webhook.URL, token, logger)
	}

	return engine.New(cfg, store, led, targets, logger, dryRun), led, nil
}

// readSecret reads a token from file, trimming surrounding whitespace.
func readSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/notegarden/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"vault_dir", cfg.Vault.Dir,
		"github", cfg.GitHub.Enabled(),
		"mirror", cfg.Mirror.Enabled(),
		"webhook", cfg.Webhook.Enabled(),
		"state_dir", cfg.Paths.StateDir)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
