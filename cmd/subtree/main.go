package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/adrg/xdg"
	billyfs "github.com/input-output-hk/catalyst-forge-libs/fs/billy"
	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-libs/subtree"
	"github.com/input-output-hk/catalyst-forge-libs/subtree/internal/auth"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	repoPath  string
	logLevel  string
	logFormat string

	// Sync flags
	sourceOverride string
	revOverride    string
	editMessages   bool
	authorName     string
	authorEmail    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "subtree",
	Short: "Synchronize external repositories into a host repository",
	Long: `subtree imports commits from external git repositories, rewrites their
directory layout with a declarative transform script, and merges the result
into the host repository's working line.

Progress is recorded per source in durable sync pointers, so repeated runs
only pick up content that is actually new.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync [name...]",
	Short: "Import, transform, and merge configured subtrees",
	Long: `Sync processes the subtrees described in the configuration file, in order.
With no arguments every configured subtree runs; naming subtrees restricts
the run to those.

Each subtree's sync pointer advances only after its merge commits cleanly.
A merge conflict leaves marker files in the working tree for manual
resolution and the remaining subtrees untouched.`,
	RunE: runSync,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("subtree %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is .subtree.yaml in the repository)")
	rootCmd.PersistentFlags().StringVarP(&repoPath, "repo", "C", ".", "path to the host repository")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	syncCmd.Flags().StringVar(&sourceOverride, "source", "", "override the source URL (single subtree runs only)")
	syncCmd.Flags().StringVar(&revOverride, "rev", "", "override the revision selector")
	syncCmd.Flags().BoolVar(&editMessages, "edit", false, "edit each generated commit message in $EDITOR")
	syncCmd.Flags().StringVar(&authorName, "author-name", "", "author name for synthesized commits")
	syncCmd.Flags().StringVar(&authorEmail, "author-email", "", "author email for synthesized commits")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	specs, err := cfg.Specs()
	if err != nil {
		return err
	}

	backend, err := subtree.OpenGitBackend(ctx, &subtree.BackendOptions{
		FS:     billyfs.NewOSFS(repoPath),
		Author: subtree.Signature{Name: authorName, Email: authorEmail},
		Auth:   auth.FromEnvironment(),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open repository at %q: %w", repoPath, err)
	}

	opts := subtree.RunOptions{
		Only:   args,
		Source: sourceOverride,
		Rev:    revOverride,
	}
	if editMessages {
		opts.EditMessage = editorMessageEditor(ctx)
	}

	orch := subtree.NewOrchestrator(backend, cfg.Templates(), cfg.PointerPrefix, logger)
	outcomes, err := orch.Run(ctx, specs, opts)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	return reportOutcomes(cmd, outcomes)
}

// reportOutcomes prints one line per subtree and returns an error when any
// subtree conflicted or failed so the process exits nonzero.
func reportOutcomes(cmd *cobra.Command, outcomes []subtree.Outcome) error {
	var bad int
	for _, out := range outcomes {
		switch out.Kind {
		case subtree.OutcomeSkipped:
			cmd.Printf("%s: up to date\n", out.Name)
		case subtree.OutcomeMerged:
			cmd.Printf("%s: merged at %s\n", out.Name, out.Head)
		case subtree.OutcomeConflict:
			bad++
			cmd.Printf("%s: CONFLICT in %s\n", out.Name, strings.Join(out.Conflicts, ", "))
		case subtree.OutcomeFailed:
			bad++
			cmd.Printf("%s: failed: %v\n", out.Name, out.Err)
		case subtree.OutcomeNotAttempted:
			cmd.Printf("%s: not attempted\n", out.Name)
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d subtrees did not sync cleanly", bad, len(outcomes))
	}
	return nil
}

func setupLogger() *slog.Logger {
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

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// loadConfig reads the configuration from --config, from .subtree.yaml in
// the repository, or from the XDG config directory, in that order.
func loadConfig(logger *slog.Logger) (*subtree.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		inRepo := filepath.Join(repoPath, subtree.DefaultConfigName)
		if _, err := os.Stat(inRepo); err == nil {
			configPath = inRepo
		} else {
			configPath = filepath.Join(xdg.ConfigHome, "subtree", "config.yaml")
		}
	}

	logger.Debug("loading configuration", "path", configPath)
	return subtree.Load(configPath)
}

// editorMessageEditor opens each generated commit message in $EDITOR and
// returns the edited text. Lines starting with '#' are stripped, matching
// git's commit message convention.
func editorMessageEditor(ctx context.Context) subtree.MessageEditor {
	return func(message string) (string, error) {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}

		tmp, err := os.CreateTemp("", "subtree-msg-*.txt")
		if err != nil {
			return "", fmt.Errorf("failed to create message file: %w", err)
		}
		defer os.Remove(tmp.Name())

		body := message + "\n\n# Edit the commit message above. Lines starting with '#' are ignored.\n"
		if _, err := tmp.WriteString(body); err != nil {
			tmp.Close()
			return "", fmt.Errorf("failed to write message file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return "", fmt.Errorf("failed to close message file: %w", err)
		}

		edit := exec.CommandContext(ctx, editor, tmp.Name())
		edit.Stdin = os.Stdin
		edit.Stdout = os.Stdout
		edit.Stderr = os.Stderr
		if err := edit.Run(); err != nil {
			return "", fmt.Errorf("editor %q failed: %w", editor, err)
		}

		edited, err := os.ReadFile(tmp.Name())
		if err != nil {
			return "", fmt.Errorf("failed to read edited message: %w", err)
		}
		return stripCommentLines(string(edited)), nil
	}
}

func stripCommentLines(message string) string {
	var kept []string
	for _, line := range strings.Split(message, "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
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
