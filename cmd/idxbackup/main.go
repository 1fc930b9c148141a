package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/schaermu/idxbackup/internal/config"
	"github.com/schaermu/idxbackup/internal/diff"
	"github.com/schaermu/idxbackup/internal/sync"
)

const (
	exitIgnoreFailed = 200
	exitDiffFailed   = 20
	exitApplyFailed  = 30
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

	// Backup flags
	ignoreFile string
	assumeYes  bool
)

var errApplyFailed = errors.New("some changes could not be applied")

// settingFlags maps command line flags onto config.Settings fields.
var settingFlags = []struct {
	name  string
	usage string
	field func(*config.Settings) *bool
}{
	{"ignore-timestamp", "don't update files just because their timestamp differs",
		func(s *config.Settings) *bool { return &s.IgnoreTimestamp }},
	{"dont-replace-newer", "keep files in the backup that are newer than the source",
		func(s *config.Settings) *bool { return &s.DontReplaceNewer }},
	{"replace-if-timestamp-unknown", "replace files whose timestamp is unknown in both source and index",
		func(s *config.Settings) *bool { return &s.ReplaceIfTimestampUnknown }},
	{"replace-if-timestamp-lost", "replace files whose timestamp is unknown in the source but known in the index",
		func(s *config.Settings) *bool { return &s.ReplaceIfTimestampLost }},
	{"dont-replace-if-timestamp-found", "don't replace files whose timestamp is known in the source but not in the index",
		func(s *config.Settings) *bool { return &s.DontReplaceIfTimestampFound }},
	{"dont-sort", "list changes in directory order instead of by size",
		func(s *config.Settings) *bool { return &s.DontSort }},
	{"smallest-first", "sort changes smallest first",
		func(s *config.Settings) *bool { return &s.SmallestFirst }},
	{"dont-reverse-output", "print the largest changes first instead of last",
		func(s *config.Settings) *bool { return &s.DontReverseOutput }},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "idxbackup",
	Short: "Incrementally back up a directory tree using a side-by-side index",
	Long: `idxbackup mirrors a source directory into a backup target. An index tree
next to the backup records the size and modification time of every file, so
unchanged files are never read again.

The index is only updated once a change has reached the target, so an
interrupted or partially failed run is completed by simply running it again.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run [source index [target]]",
	Short: "Diff the source against the index and apply the changes",
	Long: `Run compares the source tree with the index, lists the changes and, after
confirmation, applies them to the target and the index.

Without a target only the index is updated. Paths given as arguments override
the configuration file.`,
	Args: backupArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackup(cmd, args, false)
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff [source index [target]]",
	Short: "Show what a run would change without changing anything",
	Args:  backupArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackup(cmd, args, true)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "idxbackup %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/idxbackup/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	for _, cmd := range []*cobra.Command{runCmd, diffCmd} {
		cmd.Flags().StringVar(&ignoreFile, "ignore", "", "ignore file")
		for _, f := range settingFlags {
			cmd.Flags().Bool(f.name, false, f.usage)
		}
	}
	runCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "apply changes without asking")

	// Add commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(versionCmd)
}

// backupArgs accepts no paths, source and index, or source, index and target.
func backupArgs(cmd *cobra.Command, args []string) error {
	switch len(args) {
	case 0, 2, 3:
		return nil
	default:
		return fmt.Errorf("expected source and index (and optionally target), got %d arguments", len(args))
	}
}

func runBackup(cmd *cobra.Command, args []string, dryRun bool) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger, cmd.Flags(), args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	reverse := !cfg.Settings.DontReverseOutput

	var (
		confirm sync.Confirmer
		opts    []sync.Option
	)
	if !dryRun {
		confirm = &promptConfirmer{
			in:      cmd.InOrStdin(),
			prompt:  cmd.ErrOrStderr(),
			listing: cmd.OutOrStdout(),
			reverse: reverse,
			yes:     assumeYes,
		}
		progress := &progressPrinter{w: cmd.ErrOrStderr()}
		opts = append(opts, sync.WithProgress(progress.Update))
	}

	engine := sync.NewEngine(cfg, afero.NewOsFs(), confirm, logger, dryRun, opts...)

	result, err := engine.Run(ctx)
	if errors.Is(err, sync.ErrAborted) {
		logger.Info("backup aborted, nothing was changed")
		return nil
	}
	if err != nil {
		logger.Error("backup failed", "error", err)
		return err
	}

	if dryRun {
		printChanges(cmd.OutOrStdout(), result.Changes, result.TotalBytes, reverse)
	}
	if result.Failures > 0 {
		return fmt.Errorf("%w: %d of %d changes failed, run again to retry them",
			errApplyFailed, result.Failures, len(result.Changes))
	}
	return nil
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var ignoreErr *sync.IgnoreError
	var diffErr *diff.Error
	switch {
	case errors.As(err, &ignoreErr):
		return exitIgnoreFailed
	case errors.As(err, &diffErr):
		return exitDiffFailed
	case errors.Is(err, errApplyFailed):
		return exitApplyFailed
	default:
		return 1
	}
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

	// Create handler based on format. Logs go to stderr, stdout carries the
	// change listing.
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// loadConfig reads the config file and applies the command line on top of
// it. A missing default config file is not an error, as long as the command
// line names the paths.
func loadConfig(logger *slog.Logger, flags *pflag.FlagSet, args []string) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	explicit := configPath != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			logger.Debug("no home directory, skipping default config file", "error", err)
		} else {
			configPath = filepath.Join(home, ".config", "idxbackup", "config.yaml")
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	overrides := func(cfg *config.Config) {
		applyOverrides(cfg, flags, args)
		cfg.Resolve(cwd)
	}

	logger.Debug("loading configuration", "path", configPath)
	cfg, err := config.Load(configPath, overrides)
	if err != nil && !explicit && errors.Is(err, os.ErrNotExist) {
		logger.Debug("no configuration file, using command line only", "path", configPath)
		cfg, err = config.Load("", overrides)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"source", cfg.Paths.Source,
		"index", cfg.Paths.Index,
		"target", cfg.Paths.Target,
		"ignore_file", cfg.Paths.IgnoreFile,
		"sort", cfg.Settings.SortOrder().String())

	return cfg, nil
}

// applyOverrides copies positional paths and explicitly set flags into cfg.
func applyOverrides(cfg *config.Config, flags *pflag.FlagSet, args []string) {
	if len(args) >= 2 {
		cfg.Paths.Source = args[0]
		cfg.Paths.Index = args[1]
	}
	if len(args) == 3 {
		cfg.Paths.Target = args[2]
	}
	if flags == nil {
		return
	}

	if flags.Changed("ignore") {
		cfg.Paths.IgnoreFile, _ = flags.GetString("ignore")
	}
	for _, f := range settingFlags {
		if !flags.Changed(f.name) {
			continue
		}
		v, err := flags.GetBool(f.name)
		if err == nil {
			*f.field(&cfg.Settings) = v
		}
	}
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
