package cli

import (
	"github.com/spf13/cobra"

	"github.com/stefanaki/stax/internal/ui"
	"github.com/stefanaki/stax/internal/undo"
)

var undoCmd = &cobra.Command{
	Use:   "undo [op-id]",
	Short: "Roll back the last operation",
	Long: `Restore every branch touched by an operation to where it was before.

Without an argument the most recent operation is undone. Any rebase in
progress is aborted first. If the operation pushed branches, you are asked
before the remote branches are force-pushed back.

Examples:
  stax undo                            # Undo the latest operation
  stax undo 20250101T120000.000000Z-ab12cd
  stax undo --yes                      # Don't ask; stash local changes and restore remotes
  stax undo --no-push                  # Restore local branches only`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUndo(args, false)
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo [op-id]",
	Short: "Re-apply an undone operation",
	Long: `Move every branch touched by a successful operation back to where the
operation left it.

Examples:
  stax redo          # Redo the latest operation
  stax redo --yes    # Don't ask before restoring remotes`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUndo(args, true)
	},
}

var (
	undoYes    bool
	undoNoPush bool
)

func init() {
	for _, c := range []*cobra.Command{undoCmd, redoCmd} {
		c.Flags().BoolVarP(&undoYes, "yes", "y", false, "answer yes to every prompt")
		c.Flags().BoolVar(&undoNoPush, "no-push", false, "don't restore remote branches")
		rootCmd.AddCommand(c)
	}
}

func runUndo(args []string, redo bool) error {
	opts := undo.Options{Yes: undoYes, NoPush: undoNoPush}
	if len(args) > 0 {
		opts.OpID = args[0]
	}

	engine := newUndoEngine()
	var (
		res *undo.Result
		err error
	)
	if redo {
		res, err = engine.Redo(opts)
	} else {
		res, err = engine.Undo(opts)
	}
	if err != nil {
		return err
	}

	for _, r := range res.Remote {
		if r.Err != nil {
			ui.Warning("Failed to restore %s/%s: %v", r.Remote, r.Branch, r.Err)
		}
	}
	return nil
}
