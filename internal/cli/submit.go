package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stefanaki/stax/internal/ops"
	"github.com/stefanaki/stax/internal/ui"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Push the current stack to the remote",
	Long: `Push every branch of the current stack to the remote.

Branches are pushed with --force-with-lease. The push is recorded as an
operation, so 'stax undo' can put both the local and the remote branches
back where they were.

Use --force to push even when branches still need a restack.

Examples:
  stax submit          # Push the current stack
  stax submit --force  # Push without restacking first`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

var submitForce bool

func init() {
	submitCmd.Flags().BoolVar(&submitForce, "force", false, "skip the 'needs restack' check")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	remote := cfg.Remote
	if !g.HasRemote(remote) {
		return errors.Errorf("remote %q does not exist", remote)
	}

	s, err := loadStack()
	if err != nil {
		return err
	}
	current, err := currentBranch()
	if err != nil {
		return err
	}
	scope, err := s.CurrentStack(current)
	if err != nil {
		return err
	}

	var branches []string
	for _, b := range scope {
		n := s.Node(b)
		if n == nil || n.Missing {
			continue
		}
		if n.NeedsRestack && !submitForce {
			return errors.Errorf("%s needs a restack; run 'stax restack' first or use --force", b)
		}
		branches = append(branches, b)
	}
	if len(branches) == 0 {
		ui.Info("No branches to submit")
		return nil
	}

	tx, err := beginOp(ops.KindSubmit)
	if err != nil {
		return err
	}
	defer tx.Close()

	if err := tx.PlanBranches(branches); err != nil {
		return err
	}
	for _, b := range branches {
		if err := tx.PlanRemoteBranch(remote, b); err != nil {
			return err
		}
	}
	tx.SetPlanSummary(ops.PlanSummary{
		BranchesToPush: len(branches),
		Description:    []string{fmt.Sprintf("push %d %s to %s", len(branches), ui.Plural(len(branches), "branch", "branches"), remote)},
	})
	if err := tx.Snapshot(); err != nil {
		return errors.Wrap(err, "failed to snapshot branches")
	}

	fmt.Printf("%s Pushing branches to %s...\n", ui.IconArrow, remote)
	for _, b := range branches {
		fmt.Printf("  Pushing %s...\n", b)
		if err := g.Push(remote, b, true); err != nil {
			return failOp(tx, err, "push", b)
		}
		sha, err := g.SHA(b)
		if err != nil {
			return failOp(tx, err, "record", b)
		}
		if err := tx.RecordAfter(b); err != nil {
			return failOp(tx, err, "record", b)
		}
		if err := tx.RecordRemoteAfter(remote, b, sha); err != nil {
			return failOp(tx, err, "record", b)
		}
	}

	if err := tx.FinishOK(); err != nil {
		return err
	}
	fmt.Println()
	ui.Success("Submitted %d %s", len(branches), ui.Plural(len(branches), "branch", "branches"))
	return nil
}
