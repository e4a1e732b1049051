// Package cli implements the command-line interface for stax.
package cli

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stefanaki/stax/internal/config"
	"github.com/stefanaki/stax/internal/git"
	"github.com/stefanaki/stax/internal/logging"
	"github.com/stefanaki/stax/internal/ops"
	"github.com/stefanaki/stax/internal/refs"
	"github.com/stefanaki/stax/internal/restack"
	"github.com/stefanaki/stax/internal/stack"
	"github.com/stefanaki/stax/internal/ui"
	"github.com/stefanaki/stax/internal/undo"
)

var (
	cfgFile string
	verbose bool
	quiet   bool

	// Shared instances
	cfg     *config.Config
	logger  = zap.NewNop()
	g       *git.Git
	store   *refs.Store
	manager *stack.Manager
	opLog   *ops.Log
)

// commands that work outside a repository or before one is initialized
var noRepoCommands = map[string]bool{
	"help":       true,
	"version":    true,
	"completion": true,
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "stax",
	Short: "A CLI tool for managing stacked branches",
	Long: `stax is a command-line tool for managing stacked branches (stacked diffs).

Every tracked branch remembers its parent. When a parent moves, stax
rebases the branches above it, and every history rewrite is recorded so
it can be undone with a single command.

Example workflow:
  stax init                        # Record the trunk branch
  stax create auth-models          # Create a branch on top of the current one
  # ... make changes, commit ...
  stax create auth-api             # Stack another branch on top
  stax sync                        # Pull trunk and restack everything
  stax undo                        # Changed your mind? Roll it back`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(viper.GetViper())
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		if !cfg.UI.Color {
			ui.DisableColor()
		}
		logger, err = logging.New(cfg.LogLevel, verbose)
		if err != nil {
			return err
		}

		if noRepoCommands[cmd.Name()] {
			return nil
		}
		return openRepo(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.stax.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output and prompts")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName(".stax")
	}

	viper.SetEnvPrefix("STAX")
	viper.AutomaticEnv()

	// Read config file (ignore errors if not found)
	_ = viper.ReadInConfig()
}

func openRepo(cmd *cobra.Command) error {
	g = git.New(logger)
	if !g.IsInsideWorkTree() {
		return errors.New("not a git repository (or any parent up to mount point /)")
	}

	var err error
	store, err = refs.Open(g, logger)
	if err != nil {
		return err
	}

	gitDir, err := g.GitDir()
	if err != nil {
		return errors.Wrap(err, "failed to find git directory")
	}
	opLog = ops.NewLog(gitDir, logger)

	trunk, err := resolveTrunk()
	if err != nil && cmd.Name() != "init" {
		return err
	}
	manager = stack.NewManager(store, g, trunk, logger)

	if cmd.Name() != "doctor" && cmd.Name() != "undo" {
		warnInProgress()
	}
	return nil
}

// resolveTrunk picks the trunk from config, then from 'stax init', then
// from the repository's default branch.
func resolveTrunk() (string, error) {
	if cfg.Trunk != "" {
		return cfg.Trunk, nil
	}
	trunk, ok, err := store.ReadTrunk()
	if err != nil {
		return "", err
	}
	if ok {
		return trunk, nil
	}
	trunk, err = g.DefaultBranch(cfg.Remote)
	if err != nil {
		return "", errors.Wrap(err, "run 'stax init' to choose a trunk branch")
	}
	return trunk, nil
}

// warnInProgress reports operations that never finished, which are left
// behind when stax is killed mid-operation.
func warnInProgress() {
	pending, err := opLog.InProgress()
	if err != nil {
		logger.Debug("failed to scan operation log", zap.Error(err))
		return
	}
	if len(pending) == 0 || quiet {
		return
	}
	ui.Warning("%d %s did not finish (latest: %s). Run %s or %s.",
		len(pending), ui.Plural(len(pending), "operation", "operations"), pending[0].OpID,
		ui.Command("stax undo"), ui.Command("stax doctor"))
}

func newOrchestrator() *restack.Orchestrator {
	return restack.New(g, store, opLog, restack.Options{
		Trunk:  manager.Trunk(),
		Quiet:  quiet,
		Logger: logger,
	})
}

// beginOp starts a recorded operation. The caller defers Close.
func beginOp(kind ops.Kind) (*ops.Transaction, error) {
	head, _ := g.CurrentBranch()
	workdir, err := g.RepoRoot()
	if err != nil {
		return nil, errors.Wrap(err, "failed to find repository root")
	}
	return ops.Begin(kind, store, opLog, ops.BeginOptions{
		Trunk:      manager.Trunk(),
		HeadBranch: head,
		Workdir:    workdir,
		Quiet:      quiet,
		Logger:     logger,
	}), nil
}

// snapshotOp plans branches and takes the backups that make the
// operation undoable.
func snapshotOp(tx *ops.Transaction, branches []string, description string) error {
	if err := tx.PlanBranches(branches); err != nil {
		return err
	}
	tx.SetPlanSummary(ops.PlanSummary{Description: []string{description}})
	if err := tx.Snapshot(); err != nil {
		return errors.Wrap(err, "failed to snapshot branches")
	}
	return nil
}

// finishOp records where every planned branch ended up.
func finishOp(tx *ops.Transaction) error {
	if err := tx.RecordAllAfter(); err != nil {
		return failOp(tx, err, "record", "")
	}
	return tx.FinishOK()
}

// failOp marks the operation failed and returns cause wrapped with the
// failed step.
func failOp(tx *ops.Transaction, cause error, step, branch string) error {
	if err := tx.FinishErr(cause.Error(), step, branch); err != nil {
		logger.Warn("failed to record failure", zap.String("op", tx.OpID()), zap.Error(err))
	}
	if branch == "" {
		return errors.Wrap(cause, step)
	}
	return errors.Wrapf(cause, "%s %s", step, branch)
}

func newUndoEngine() *undo.Engine {
	var prompter undo.Prompter
	if !quiet && ui.IsInteractive(os.Stdin) {
		prompter = ui.NewPrompter(os.Stdin, os.Stdout)
	}
	return undo.New(g, store, opLog, undo.Config{
		Prompter: prompter,
		Quiet:    quiet,
		Logger:   logger,
	})
}

// loadStack loads the stack or fails on corrupt metadata.
func loadStack() (*stack.Stack, error) {
	s, err := manager.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load stack")
	}
	return s, nil
}

// currentBranch returns the checked-out branch, failing on a detached HEAD.
func currentBranch() (string, error) {
	branch, err := g.CurrentBranch()
	if err != nil {
		return "", errors.Wrap(err, "failed to get current branch")
	}
	if branch == "" {
		return "", errors.New("HEAD is detached; check out a branch first")
	}
	return branch, nil
}

// branchArg returns args[0] or the current branch.
func branchArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return currentBranch()
}

// tip prints a hint when tips are enabled.
func tip(format string, args ...interface{}) {
	if cfg.UI.Tips && !quiet {
		fmt.Println(ui.Dim("  Tip: " + fmt.Sprintf(format, args...)))
	}
}
