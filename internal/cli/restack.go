package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stefanaki/stax/internal/ops"
	"github.com/stefanaki/stax/internal/restack"
	"github.com/stefanaki/stax/internal/ui"
)

var restackCmd = &cobra.Command{
	Use:   "restack [--all]",
	Short: "Rebase branches onto their moved parents",
	Long: `Rebase every branch of the current stack whose parent has moved.

Branches are rebased parent first, so children are carried along with
their parents. The whole sweep is recorded as one operation: if it stops
on a conflict, resolve it and run 'stax continue', or roll every branch
back with 'stax undo'.

Examples:
  stax restack        # Restack the current stack
  stax restack --all  # Restack every tracked branch
  stax rs             # Same as 'stax restack'`,
	Aliases: []string{"rs"},
	Args:    cobra.NoArgs,
	RunE:    runRestack,
}

var restackAll bool

var upstackCmd = &cobra.Command{
	Use:   "upstack",
	Short: "Commands acting on the current branch and its descendants",
}

var upstackRestackCmd = &cobra.Command{
	Use:   "restack",
	Short: "Restack the current branch and everything above it",
	Long: `Rebase the current branch (if its parent moved) and every branch
stacked on top of it. Branches below the current one are left alone.`,
	Args: cobra.NoArgs,
	RunE: runUpstackRestack,
}

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Continue a restack stopped on a conflict",
	Long: `Continue the rebase after resolving conflicts.

Stage the resolved files with 'git add' first. Once the rebase completes,
run 'stax restack' again to move the remaining branches.`,
	Args: cobra.NoArgs,
	RunE: runContinue,
}

func init() {
	restackCmd.Flags().BoolVarP(&restackAll, "all", "a", false, "restack every tracked branch")
	upstackCmd.AddCommand(upstackRestackCmd)
	rootCmd.AddCommand(restackCmd, upstackCmd, continueCmd)
}

func runRestack(cmd *cobra.Command, args []string) error {
	s, err := loadStack()
	if err != nil {
		return err
	}

	var scope []string
	if restackAll {
		scope, err = s.All()
	} else {
		var current string
		current, err = currentBranch()
		if err != nil {
			return err
		}
		scope, err = s.CurrentStack(current)
	}
	if err != nil {
		return err
	}

	return restackBranches(ops.KindRestack, s.RestackPlan(scope))
}

func runUpstackRestack(cmd *cobra.Command, args []string) error {
	s, err := loadStack()
	if err != nil {
		return err
	}
	current, err := currentBranch()
	if err != nil {
		return err
	}
	scope, err := s.Upstack(current)
	if err != nil {
		return err
	}
	return restackBranches(ops.KindUpstackRestack, s.RestackPlan(scope))
}

// restackBranches runs one restack sweep and reports the outcome.
func restackBranches(kind ops.Kind, plan []string) error {
	return restackWith(kind, plan, nil)
}

// restackWith is restackBranches with a metadata change applied inside
// the same operation.
func restackWith(kind ops.Kind, plan []string, prepare func() error) error {
	orch := newOrchestrator()
	if err := orch.Preflight(); err != nil {
		return err
	}
	if len(plan) == 0 {
		ui.Success("Stack is up to date")
		return nil
	}

	res, err := orch.RestackAfter(kind, plan, prepare)
	if err != nil {
		return err
	}
	if res.Conflict != nil {
		printConflict(res.Conflict)
		return errors.Errorf("restack stopped on a conflict in %s", res.Conflict.Branch)
	}

	fmt.Println()
	ui.Success("Restacked %d %s", len(res.Restacked), ui.Plural(len(res.Restacked), "branch", "branches"))
	tip("run %s to roll this back", ui.Command("stax undo"))
	return nil
}

func printConflict(c *restack.Conflict) {
	fmt.Println()
	ui.Error("Conflict while rebasing %s onto %s", c.Branch, c.Parent)
	fmt.Println()
	fmt.Println("Resolve conflicts, then run:")
	fmt.Printf("  git add <files>\n")
	fmt.Printf("  %s\n", ui.Command("stax continue"))
	fmt.Println("Or roll back the whole restack with:")
	fmt.Printf("  %s\n", ui.Command("stax undo"))
}

func runContinue(cmd *cobra.Command, args []string) error {
	res, err := newOrchestrator().Continue()
	if err != nil {
		return err
	}
	if res.Conflict {
		ui.Warning("%s still has conflicts", res.Branch)
		fmt.Println("Resolve them, stage the files and run:")
		fmt.Printf("  %s\n", ui.Command("stax continue"))
		return errors.Errorf("rebase of %s has unresolved conflicts", res.Branch)
	}

	ui.Success("Rebased %s", ui.BranchName(res.Branch, true))

	s, err := loadStack()
	if err != nil {
		return err
	}
	needs, err := s.NeedsRestack()
	if err != nil {
		return err
	}
	if len(needs) > 0 {
		fmt.Printf("  %d more %s to restack; run %s\n",
			len(needs), ui.Plural(len(needs), "branch", "branches"), ui.Command("stax restack"))
	}
	return nil
}
