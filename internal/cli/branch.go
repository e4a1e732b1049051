package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stefanaki/stax/internal/ops"
	"github.com/stefanaki/stax/internal/stack"
	"github.com/stefanaki/stax/internal/ui"
)

var trackCmd = &cobra.Command{
	Use:   "track [branch] [--parent <branch>]",
	Short: "Start tracking an existing branch",
	Long: `Record the parent of an existing git branch.

The branch defaults to the current branch and the parent to trunk. The
fork point of the two branches is stored as the parent revision, so a
branch that was created from its parent's tip is not out of date.

Examples:
  stax track                          # Track current branch on trunk
  stax track feature-api --parent feature-auth`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTrack,
}

var trackParent string

func init() {
	trackCmd.Flags().StringVarP(&trackParent, "parent", "p", "", "parent branch (default is trunk)")
	rootCmd.AddCommand(trackCmd)
}

func runTrack(cmd *cobra.Command, args []string) error {
	branch, err := branchArg(args)
	if err != nil {
		return err
	}
	parent := trackParent
	if parent == "" {
		parent = manager.Trunk()
	}
	if err := requireStackParent(parent); err != nil {
		return err
	}

	if err := manager.Track(branch, parent); err != nil {
		return err
	}
	ui.Success("Tracking %s on top of %s", ui.BranchName(branch, false), ui.BranchName(parent, false))
	return nil
}

var untrackCmd = &cobra.Command{
	Use:   "untrack [branch]",
	Short: "Stop tracking a branch",
	Long: `Remove a branch's stack metadata.

Children of the branch are moved onto its parent. The git branch is NOT
deleted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUntrack,
}

func init() {
	rootCmd.AddCommand(untrackCmd)
}

func runUntrack(cmd *cobra.Command, args []string) error {
	branch, err := branchArg(args)
	if err != nil {
		return err
	}
	if err := manager.Untrack(branch); err != nil {
		return err
	}
	ui.Success("Stopped tracking %s", ui.BranchName(branch, false))
	fmt.Println(ui.Dim("Note: Git branch was not deleted"))
	return nil
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new branch on top of the current one",
	Long: `Create a new branch at the current HEAD and track it with the
current branch as its parent.

Examples:
  stax create feature-auth   # Branch off the current branch
  stax bc feature-api        # Same, using the alias`,
	Aliases: []string{"bc"},
	Args:    cobra.ExactArgs(1),
	RunE:    runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	name := args[0]

	if g.BranchExists(name) {
		return errors.Errorf("branch %q already exists", name)
	}

	parent, err := currentBranch()
	if err != nil {
		return err
	}
	if err := requireStackParent(parent); err != nil {
		return err
	}

	if err := g.CreateAndCheckout(name); err != nil {
		return errors.Wrap(err, "failed to create branch")
	}
	if err := manager.Track(name, parent); err != nil {
		return err
	}
	if err := store.WritePrevBranch(parent); err != nil {
		logger.Debug("failed to record previous branch", zap.Error(err))
	}

	ui.Success("Created %s on top of %s", ui.BranchName(name, true), ui.BranchName(parent, false))
	return nil
}

var reparentCmd = &cobra.Command{
	Use:   "reparent [branch] --parent <branch>",
	Short: "Move a branch onto a different parent",
	Long: `Change the recorded parent of a branch.

The branch's own commits are not moved until the next restack.

Examples:
  stax reparent --parent main               # Move current branch onto main
  stax reparent feature-api --parent feature-auth
  stax restack                              # Apply the new parent`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReparent,
}

var reparentParent string

func init() {
	reparentCmd.Flags().StringVarP(&reparentParent, "parent", "p", "", "new parent branch (required)")
	_ = reparentCmd.MarkFlagRequired("parent")
	rootCmd.AddCommand(reparentCmd)
}

func runReparent(cmd *cobra.Command, args []string) error {
	branch, err := branchArg(args)
	if err != nil {
		return err
	}
	if err := requireStackParent(reparentParent); err != nil {
		return err
	}
	if err := manager.Reparent(branch, reparentParent); err != nil {
		return err
	}
	ui.Success("%s now stacks on %s", ui.BranchName(branch, false), ui.BranchName(reparentParent, false))
	tip("run %s to move its commits", ui.Command("stax restack"))
	return nil
}

var deleteCmd = &cobra.Command{
	Use:   "delete [branch]",
	Short: "Delete a branch and stop tracking it",
	Long: `Delete a git branch together with its stack metadata.

Children of the branch are moved onto its parent. A branch whose commits
are not all in its parent is only deleted with --force. If the branch is
checked out, its parent is checked out first.

Examples:
  stax delete                 # Delete the current branch
  stax delete feature-old -f  # Delete even if it was never merged
  stax undo                   # Bring it back`,
	Aliases: []string{"rm"},
	Args:    cobra.MaximumNArgs(1),
	RunE:    runDelete,
}

var deleteForce bool

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "delete even if not merged into its parent")
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	branch, err := branchArg(args)
	if err != nil {
		return err
	}
	if branch == manager.Trunk() {
		return errors.New("cannot delete trunk")
	}
	s, err := loadStack()
	if err != nil {
		return err
	}
	if !s.Tracked(branch) {
		return errors.Errorf("branch %q is not tracked", branch)
	}
	parent := s.Parent(branch)
	if parent == "" {
		parent = s.Trunk
	}
	if !deleteForce && g.BranchExists(branch) && !g.IsAncestor(branch, parent) {
		return errors.Errorf("%s is not merged into %s; use --force to delete it anyway", branch, parent)
	}
	if current, _ := g.CurrentBranch(); current == branch {
		if err := newOrchestrator().Preflight(); err != nil {
			return err
		}
	}

	if err := removeBranches(ops.KindDelete, []string{branch}, true); err != nil {
		return err
	}
	ui.Success("Deleted %s", ui.BranchName(branch, false))
	return nil
}

// removeBranches drops branches from the stack as one operation. Their
// children move onto the nearest remaining ancestor. With deleteGit the
// git branches go too, and a checked-out one is left for that ancestor
// first.
func removeBranches(kind ops.Kind, branches []string, deleteGit bool) error {
	s, err := loadStack()
	if err != nil {
		return err
	}
	removing := map[string]bool{}
	for _, b := range branches {
		removing[b] = true
	}
	planned := append([]string(nil), branches...)
	for _, b := range branches {
		for _, c := range s.Children(b) {
			if !removing[c] {
				planned = append(planned, c)
			}
		}
	}

	var target string
	if current, _ := g.CurrentBranch(); deleteGit && removing[current] {
		target = s.Trunk
		ancestors, err := s.Ancestors(current)
		if err != nil {
			return err
		}
		for _, a := range ancestors {
			if !removing[a] {
				target = a
				break
			}
		}
	}

	tx, err := beginOp(kind)
	if err != nil {
		return err
	}
	defer tx.Close()
	desc := fmt.Sprintf("remove %d %s", len(branches), ui.Plural(len(branches), "branch", "branches"))
	if err := snapshotOp(tx, planned, desc); err != nil {
		return err
	}

	if target != "" {
		if err := g.CheckoutSilent(target); err != nil {
			return failOp(tx, err, "checkout", target)
		}
	}
	for _, b := range branches {
		if err := manager.Untrack(b); err != nil {
			return failOp(tx, err, "untrack", b)
		}
		if !deleteGit || !g.BranchExists(b) {
			continue
		}
		if err := g.DeleteBranch(b, true); err != nil {
			return failOp(tx, err, "delete", b)
		}
	}
	return finishOp(tx)
}

var renameCmd = &cobra.Command{
	Use:   "rename <new-name>",
	Short: "Rename the current branch",
	Long: `Rename the current branch and move its stack metadata.

Branches stacked on top are pointed at the new name.

Examples:
  stax rename feature-auth-v2`,
	Args: cobra.ExactArgs(1),
	RunE: runRename,
}

func init() {
	rootCmd.AddCommand(renameCmd)
}

func runRename(cmd *cobra.Command, args []string) error {
	newName := args[0]
	oldName, err := currentBranch()
	if err != nil {
		return err
	}
	if oldName == manager.Trunk() {
		return errors.Errorf("cannot rename trunk %s", oldName)
	}
	if newName == oldName {
		ui.Info("Branch name unchanged")
		return nil
	}
	if g.BranchExists(newName) {
		return errors.Errorf("branch %q already exists", newName)
	}

	s, err := loadStack()
	if err != nil {
		return err
	}
	tracked := s.Tracked(oldName)

	tx, err := beginOp(ops.KindRename)
	if err != nil {
		return err
	}
	defer tx.Close()
	planned := append([]string{oldName, newName}, s.Children(oldName)...)
	if err := snapshotOp(tx, planned, fmt.Sprintf("rename %s to %s", oldName, newName)); err != nil {
		return err
	}

	if err := g.RenameBranch(oldName, newName); err != nil {
		return failOp(tx, err, "rename", oldName)
	}
	if tracked {
		if err := manager.Rename(oldName, newName); err != nil {
			return failOp(tx, err, "metadata", oldName)
		}
	}
	if err := finishOp(tx); err != nil {
		return err
	}
	ui.Success("Renamed %s to %s", ui.BranchName(oldName, false), ui.BranchName(newName, true))
	return nil
}

var moveCmd = &cobra.Command{
	Use:   "move [branch] --onto <parent>",
	Short: "Move a branch and the branches above it onto another parent",
	Long: `Reorder the stack: give a branch a new parent and rebase it, together
with everything stacked on it, onto that parent. The move is recorded as
one operation, so 'stax undo' restores both the commits and the old
parent.

Examples:
  stax move --onto main                      # Move current branch onto trunk
  stax move feature-api --onto feature-auth`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMove,
}

var moveOnto string

func init() {
	moveCmd.Flags().StringVar(&moveOnto, "onto", "", "new parent branch (required)")
	_ = moveCmd.MarkFlagRequired("onto")
	rootCmd.AddCommand(moveCmd)
}

func runMove(cmd *cobra.Command, args []string) error {
	branch, err := branchArg(args)
	if err != nil {
		return err
	}
	if err := requireStackParent(moveOnto); err != nil {
		return err
	}
	s, err := loadStack()
	if err != nil {
		return err
	}
	if !s.Tracked(branch) {
		return errors.Errorf("branch %q is not tracked", branch)
	}
	if s.Node(branch).Missing {
		return errors.Errorf("branch %q no longer exists; run 'stax doctor'", branch)
	}
	if s.Parent(branch) == moveOnto {
		ui.Info("%s is already on %s", branch, moveOnto)
		return nil
	}
	upstack, err := s.Upstack(branch)
	if err != nil {
		return err
	}
	var plan []string
	for _, b := range upstack {
		if b == moveOnto {
			return errors.Errorf("cannot move %s onto %s: it is stacked on top of it", branch, moveOnto)
		}
		if !s.Node(b).Missing {
			plan = append(plan, b)
		}
	}

	return restackWith(ops.KindReorder, plan, func() error {
		return manager.Reparent(branch, moveOnto)
	})
}

// requireStackParent checks that a branch can be used as a parent: it
// must be trunk or tracked.
func requireStackParent(parent string) error {
	if parent == manager.Trunk() {
		return nil
	}
	tracked, err := stack.IsTracked(store, parent)
	if err != nil {
		return err
	}
	if !tracked {
		return errors.Errorf("parent %q is not tracked; run 'stax track %s' first", parent, parent)
	}
	return nil
}
