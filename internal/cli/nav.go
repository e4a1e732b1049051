package cli

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stefanaki/stax/internal/ui"
)

var checkoutCmd = &cobra.Command{
	Use:     "checkout <branch>",
	Short:   "Checkout a branch and remember the previous one",
	Aliases: []string{"co"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return switchTo(args[0], "")
	},
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Checkout the child branch",
	Long: `Checkout the first child of the current branch (move away from trunk).

When the branch has several children the first one in name order is used.`,
	Args: cobra.NoArgs,
	RunE: runUp,
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Checkout the parent branch",
	Long:  `Checkout the parent of the current branch (move toward trunk).`,
	Args:  cobra.NoArgs,
	RunE:  runDown,
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Checkout the tip of the current stack",
	Long:  `Follow first children from the current branch up to the last branch of the stack.`,
	Args:  cobra.NoArgs,
	RunE:  runTop,
}

var bottomCmd = &cobra.Command{
	Use:     "bottom",
	Short:   "Checkout the branch closest to trunk",
	Long:    `Checkout the first branch above trunk in the current stack.`,
	Aliases: []string{"bot"},
	Args:    cobra.NoArgs,
	RunE:    runBottom,
}

var trunkCmd = &cobra.Command{
	Use:   "trunk",
	Short: "Checkout the trunk branch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return switchTo(manager.Trunk(), "trunk")
	},
}

var prevCmd = &cobra.Command{
	Use:   "prev",
	Short: "Checkout the previously checked-out branch",
	Args:  cobra.NoArgs,
	RunE:  runPrev,
}

func init() {
	rootCmd.AddCommand(checkoutCmd, upCmd, downCmd, topCmd, bottomCmd, trunkCmd, prevCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	s, err := loadStack()
	if err != nil {
		return err
	}
	current, err := currentBranch()
	if err != nil {
		return err
	}
	children := s.Children(current)
	if len(children) == 0 {
		return errors.New("already at the top of the stack")
	}
	return switchTo(children[0], "")
}

func runDown(cmd *cobra.Command, args []string) error {
	s, err := loadStack()
	if err != nil {
		return err
	}
	current, err := currentBranch()
	if err != nil {
		return err
	}
	if current == s.Trunk {
		return errors.New("already on trunk")
	}
	if !s.Tracked(current) {
		return errors.Errorf("branch %q is not tracked", current)
	}
	parent := s.Parent(current)
	if parent == "" {
		return errors.Errorf("parent of %q is missing; run 'stax doctor'", current)
	}
	return switchTo(parent, "")
}

func runTop(cmd *cobra.Command, args []string) error {
	s, err := loadStack()
	if err != nil {
		return err
	}
	current, err := currentBranch()
	if err != nil {
		return err
	}
	target := current
	seen := map[string]bool{}
	for children := s.Children(target); len(children) > 0; children = s.Children(target) {
		if seen[target] {
			return errors.New("parent links form a cycle; run 'stax doctor'")
		}
		seen[target] = true
		target = children[0]
	}
	if target == current {
		return errors.New("already at the top of the stack")
	}
	return switchTo(target, "top")
}

func runBottom(cmd *cobra.Command, args []string) error {
	s, err := loadStack()
	if err != nil {
		return err
	}
	current, err := currentBranch()
	if err != nil {
		return err
	}
	if current == s.Trunk {
		return errors.New("on trunk; use 'stax up' to enter a stack")
	}
	ancestors, err := s.Ancestors(current)
	if err != nil {
		return err
	}
	if len(ancestors) == 0 {
		return errors.New("already at the bottom of the stack")
	}
	return switchTo(ancestors[len(ancestors)-1], "bottom")
}

func runPrev(cmd *cobra.Command, args []string) error {
	prev, ok, err := store.ReadPrevBranch()
	if err != nil {
		return err
	}
	if !ok || !g.BranchExists(prev) {
		return errors.New("no previous branch recorded")
	}
	return switchTo(prev, "")
}

// switchTo checks out a branch and records the branch that was left.
func switchTo(branch, label string) error {
	if !g.BranchExists(branch) {
		return errors.Errorf("branch %q does not exist", branch)
	}
	current, _ := g.CurrentBranch()
	if current == branch {
		ui.Info("Already on %s", branch)
		return nil
	}

	if err := g.CheckoutSilent(branch); err != nil {
		return errors.Wrapf(err, "failed to checkout %s", branch)
	}
	if current != "" {
		if err := store.WritePrevBranch(current); err != nil {
			logger.Debug("failed to record previous branch", zap.Error(err))
		}
	}

	if label != "" {
		ui.Success("Checked out %s (%s)", ui.BranchName(branch, true), label)
	} else {
		ui.Success("Checked out %s", ui.BranchName(branch, true))
	}
	return nil
}
