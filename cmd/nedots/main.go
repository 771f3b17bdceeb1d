package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nedots/nedots/internal/config"
	"github.com/nedots/nedots/internal/git"
	"github.com/nedots/nedots/internal/history"
	"github.com/nedots/nedots/internal/output"
	"github.com/nedots/nedots/internal/paths"
	"github.com/nedots/nedots/internal/sync"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	dataPath  string
	logLevel  string
	logFormat string
	verbose   int
	debug     bool

	// Workflow flags
	remote  string
	branch  string
	publish bool
	only    []string
	force   bool

	// isElevated reports whether root-owned paths can be read and written.
	isElevated = func() bool { return os.Geteuid() == 0 }
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		output.NewTerminal(os.Stderr, debug).Failure(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nedots",
	Short: "Keep dotfiles in sync with a git repository",
	Long: `nedots copies the configured dotfiles into a version-controlled directory
and synchronizes that directory with a remote repository.

Uncommitted work in the managed directory is stashed before every workflow
and restored afterwards, whether the workflow succeeds or not.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var addChangesCmd = &cobra.Command{
	Use:   "add-changes",
	Short: "Copy local dotfiles into the managed directory and commit them",
	Long: `add-changes copies every configured path into the managed directory,
mirroring its absolute location, and commits the result as "Latest (<time>)".

Root paths are only included when running with elevated privilege. With --push
the commit is published to the remote.`,
	Args: cobra.NoArgs,
	RunE: runAddChanges,
}

var updateLocalCmd = &cobra.Command{
	Use:   "update-local",
	Short: "Pull remote changes and copy them over the local dotfiles",
	Long: `update-local fetches the remote, fast-forwards the managed directory and
copies the managed files back to their configured locations.

Diverged history is never merged: the command stops and leaves the tree as it
was. Unless --force is given it also stops when a local file was modified more
recently than the latest changes in the managed directory.`,
	Args: cobra.NoArgs,
	RunE: runUpdateLocal,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fetch the remote and report whether local and remote differ",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "nedots %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./nedots.json, then $XDG_CONFIG_HOME/nedots/nedots.json)")
	rootCmd.PersistentFlags().StringVarP(&dataPath, "path", "p", "", "path of the nedots data directory, overrides path in the config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error), overridden by -v")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase output verbosity (-v, -vv, -vvv, -vvvv for debug)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log everything, including raw git output")

	for _, cmd := range []*cobra.Command{addChangesCmd, updateLocalCmd, checkCmd} {
		cmd.Flags().StringVar(&remote, "remote", "", "remote to use (default from config, then origin)")
		cmd.Flags().StringVar(&branch, "branch", "", "branch to use (default from config, then the current branch)")
	}

	addChangesCmd.Flags().BoolVar(&publish, "push", false, "push the commit to the remote")

	updateLocalCmd.Flags().StringSliceVar(&only, "only", nil, "only update these paths (comma separated, as written in the config)")
	updateLocalCmd.Flags().BoolVar(&force, "force", false, "overwrite local files even if they were modified more recently")

	rootCmd.AddCommand(addChangesCmd)
	rootCmd.AddCommand(updateLocalCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func runAddChanges(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	term := output.NewTerminal(cmd.OutOrStdout(), debug)

	orc, cfg, err := setupOrchestrator(logger)
	if err != nil {
		return err
	}

	report, err := orc.AddChanges(ctx, sync.PushOptions{
		Publish:  publish,
		Remote:   cfg.RemoteOr(remote),
		Branch:   cfg.BranchOr(branch),
		Elevated: isElevated(),
	})
	if report != nil && len(report.Skipped) > 0 {
		term.Warning("skipped %d root paths, run as root to include them", len(report.Skipped))
	}
	if err != nil {
		return err
	}

	switch {
	case report.NothingToCommit:
		term.Info("nothing to commit, %s is up to date", cfg.ManagedDir())
	default:
		term.Success("copied %d files and committed %s", len(report.Copies), shortHash(report.Commit))
	}
	if report.Published {
		term.Success("pushed to %s", cfg.RemoteOr(remote))
	}
	return nil
}

func runUpdateLocal(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	term := output.NewTerminal(cmd.OutOrStdout(), debug)

	orc, cfg, err := setupOrchestrator(logger)
	if err != nil {
		return err
	}

	report, err := orc.UpdateLocal(ctx, sync.PullOptions{
		Remote:   cfg.RemoteOr(remote),
		Branch:   cfg.BranchOr(branch),
		Only:     only,
		Force:    force,
		Elevated: isElevated(),
	})
	if err != nil {
		if sync.IsDiverged(err) {
			term.Warning("local and remote history have diverged; merge or rebase in %s, then run update-local again", cfg.ManagedDir())
		}
		return err
	}

	if report.Integrated {
		term.Success("fast-forwarded %s", cfg.ManagedDir())
	}
	term.Success("updated %d local files", len(report.Reconciled))
	for _, p := range report.Skipped {
		term.Warning("skipped %s", p)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	term := output.NewTerminal(cmd.OutOrStdout(), debug)

	orc, cfg, err := setupOrchestrator(logger)
	if err != nil {
		return err
	}

	rel, err := orc.Check(ctx, cfg.RemoteOr(remote), cfg.BranchOr(branch))
	if err != nil {
		return err
	}

	switch rel {
	case history.UpToDate:
		term.Success("up to date with %s", cfg.RemoteOr(remote))
	case history.Behind:
		term.Warning("%s has new changes, run 'nedots update-local'", cfg.RemoteOr(remote))
	case history.Ahead:
		term.Warning("local commits are not pushed, run 'nedots add-changes --push'")
	case history.Diverged:
		term.Warning("local and remote history have diverged")
	}
	return nil
}

// setupOrchestrator loads the configuration, resolves every configured path
// and wires the git gateway. Bad paths are all reported before anything is
// touched.
func setupOrchestrator(logger *output.Logger) (*sync.Orchestrator, *config.Config, error) {
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	targets, err := paths.Targets(cfg.Root, cfg.User, home)
	if err != nil {
		var bad *paths.BadPathsError
		if errors.As(err, &bad) {
			logger.Error("some configured paths do not exist, fix or remove them", "paths", bad.Paths)
		}
		return nil, nil, err
	}

	gateway := git.NewGateway(git.Params{Repo: cfg.ManagedDir(), Logger: logger})

	orc := sync.NewOrchestrator(sync.Params{
		ManagedDir: cfg.ManagedDir(),
		Targets:    targets,
		Repo:       gateway,
		Logger:     logger,
	})
	return orc, cfg, nil
}

func setupLogger() *output.Logger {
	verbosity := output.FromCount(verbose, debug)
	if verbose == 0 && !debug {
		// Parse log level
		switch logLevel {
		case "debug":
			verbosity = output.Debug
		case "info":
			verbosity = output.Low
		default:
			verbosity = output.Quiet
		}
	}

	return output.NewText(os.Stderr, verbosity, logFormat)
}

func loadConfig(logger *output.Logger) (*config.Config, error) {
	configPath, err := config.Find(cfgFile)
	if err != nil {
		return nil, err
	}

	logger.Log(output.Low, "loading configuration", "path", configPath)

	cfg, err := config.LoadWithPath(configPath, dataPath)
	if err != nil {
		return nil, err
	}

	logger.Log(output.High, "configuration loaded",
		"managed_dir", cfg.ManagedDir(),
		"root_paths", len(cfg.Root),
		"user_paths", len(cfg.User),
		"remote", cfg.Remote)

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

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
