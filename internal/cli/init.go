package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stefanaki/stax/internal/stack"
	"github.com/stefanaki/stax/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init [--trunk <branch>]",
	Short: "Choose the trunk branch stacks are built on",
	Long: `Record the trunk branch of this repository.

If --trunk is not specified, the tool detects the default branch from
the remote's HEAD, falling back to main or master.

Examples:
  stax init                 # Auto-detect trunk
  stax init --trunk develop # Use develop as trunk`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var initTrunk string

func init() {
	initCmd.Flags().StringVar(&initTrunk, "trunk", "", "trunk branch")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	trunk := initTrunk
	if trunk == "" {
		var err error
		trunk, err = g.DefaultBranch(cfg.Remote)
		if err != nil {
			return errors.New("could not determine trunk branch; use --trunk to specify")
		}
	}

	if !g.BranchExists(trunk) {
		return errors.Errorf("trunk branch %q does not exist", trunk)
	}
	if tracked, err := stack.IsTracked(store, trunk); err != nil {
		return err
	} else if tracked {
		return errors.Errorf("%q is tracked as a stacked branch; untrack it first", trunk)
	}

	if err := store.WriteTrunk(trunk); err != nil {
		return errors.Wrap(err, "failed to record trunk")
	}

	ui.Success("Initialized stax with trunk %s", ui.BranchName(trunk, false))
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  stax create <name>  Create a branch on top of the current one")
	fmt.Println("  stax track          Track an existing branch")
	fmt.Println("  stax status         Show the stack")

	return nil
}
