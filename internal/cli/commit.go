package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stefanaki/stax/internal/ops"
	"github.com/stefanaki/stax/internal/restack"
	"github.com/stefanaki/stax/internal/stack"
	"github.com/stefanaki/stax/internal/ui"
)

var modifyCmd = &cobra.Command{
	Use:   "modify [-m <message>]",
	Short: "Amend all changes into the current commit",
	Long: `Stage every change in the working tree and amend it into the commit
at the tip of the current branch. Branches stacked on top need a restack
afterwards.

Examples:
  stax modify                 # Amend, keeping the commit message
  stax m -m "Better message"  # Amend with a new message`,
	Aliases: []string{"m"},
	Args:    cobra.NoArgs,
	RunE:    runModify,
}

var modifyMessage string

func init() {
	modifyCmd.Flags().StringVarP(&modifyMessage, "message", "m", "", "new commit message")
	rootCmd.AddCommand(modifyCmd)
}

func runModify(cmd *cobra.Command, args []string) error {
	if g.IsRebaseInProgress() {
		return restack.ErrRebaseInProgress
	}
	branch, err := currentBranch()
	if err != nil {
		return err
	}
	if branch == manager.Trunk() {
		return errors.Errorf("refusing to amend trunk %s", branch)
	}
	clean, err := g.IsClean()
	if err != nil {
		return errors.Wrap(err, "failed to check working tree status")
	}
	if clean && modifyMessage == "" {
		ui.Info("No changes to amend")
		return nil
	}

	tx, err := beginOp(ops.KindModify)
	if err != nil {
		return err
	}
	defer tx.Close()
	if err := snapshotOp(tx, []string{branch}, "amend "+branch); err != nil {
		return err
	}
	if err := g.StageAll(); err != nil {
		return failOp(tx, err, "stage", branch)
	}
	if err := g.Amend(modifyMessage); err != nil {
		return failOp(tx, err, "amend", branch)
	}
	if err := finishOp(tx); err != nil {
		return err
	}

	ui.Success("Amended %s", ui.BranchName(branch, true))
	restackTip(branch)
	return nil
}

var squashCmd = &cobra.Command{
	Use:   "squash [-m <message>]",
	Short: "Squash the current branch into a single commit",
	Long: `Replace the commits of the current branch with one commit on top of
the branch's base. The newest commit's message is kept unless --message
is given.

Examples:
  stax squash
  stax squash -m "Add auth models"`,
	Args: cobra.NoArgs,
	RunE: runSquash,
}

var squashMessage string

func init() {
	squashCmd.Flags().StringVarP(&squashMessage, "message", "m", "", "message of the squashed commit")
	rootCmd.AddCommand(squashCmd)
}

func runSquash(cmd *cobra.Command, args []string) error {
	if err := newOrchestrator().Preflight(); err != nil {
		return err
	}
	branch, md, err := currentTracked()
	if err != nil {
		return err
	}
	base, err := branchBase(branch, md)
	if err != nil {
		return err
	}
	subjects, err := g.Subjects(base, branch)
	if err != nil {
		return errors.Wrap(err, "failed to list commits")
	}
	if len(subjects) < 2 {
		ui.Info("Nothing to squash: %s has %d %s", branch, len(subjects), ui.Plural(len(subjects), "commit", "commits"))
		return nil
	}
	message := squashMessage
	if message == "" {
		message = subjects[0]
	}

	tx, err := beginOp(ops.KindSquash)
	if err != nil {
		return err
	}
	defer tx.Close()
	desc := fmt.Sprintf("squash %d commits on %s", len(subjects), branch)
	if err := snapshotOp(tx, []string{branch}, desc); err != nil {
		return err
	}
	if err := g.ResetSoft(base); err != nil {
		return failOp(tx, err, "reset", branch)
	}
	if err := g.Commit(message); err != nil {
		return failOp(tx, err, "commit", branch)
	}
	if err := manager.SetRevision(branch, base); err != nil {
		return failOp(tx, err, "metadata", branch)
	}
	if err := finishOp(tx); err != nil {
		return err
	}

	ui.Success("Squashed %d commits on %s", len(subjects), ui.BranchName(branch, true))
	restackTip(branch)
	return nil
}

var foldCmd = &cobra.Command{
	Use:   "fold [--keep]",
	Short: "Fold the current branch into its parent",
	Long: `Merge the changes of the current branch into its parent as a single
commit, then delete the branch and its metadata. Branches stacked on it
move onto the parent.

Examples:
  stax fold          # Fold and delete the branch
  stax fold --keep   # Fold but keep the branch`,
	Args: cobra.NoArgs,
	RunE: runFold,
}

var foldKeep bool

func init() {
	foldCmd.Flags().BoolVar(&foldKeep, "keep", false, "keep the folded branch")
	rootCmd.AddCommand(foldCmd)
}

func runFold(cmd *cobra.Command, args []string) error {
	if err := newOrchestrator().Preflight(); err != nil {
		return err
	}
	branch, md, err := currentTracked()
	if err != nil {
		return err
	}
	parent := md.ParentBranchName
	if parent == manager.Trunk() {
		return errors.Errorf("cannot fold into trunk %s; merge it through a pull request", parent)
	}
	if !g.BranchExists(parent) {
		return errors.Errorf("parent branch %q does not exist", parent)
	}
	subjects, err := g.Subjects(parent, branch)
	if err != nil {
		return errors.Wrap(err, "failed to list commits")
	}
	if len(subjects) == 0 {
		ui.Info("No commits to fold")
		return nil
	}
	s, err := loadStack()
	if err != nil {
		return err
	}

	tx, err := beginOp(ops.KindFold)
	if err != nil {
		return err
	}
	defer tx.Close()
	planned := append([]string{branch, parent}, s.Children(branch)...)
	desc := fmt.Sprintf("fold %d %s from %s into %s", len(subjects), ui.Plural(len(subjects), "commit", "commits"), branch, parent)
	if err := snapshotOp(tx, planned, desc); err != nil {
		return err
	}

	if err := g.CheckoutSilent(parent); err != nil {
		return failOp(tx, err, "checkout", parent)
	}
	if err := g.MergeSquash(branch); err != nil {
		if rerr := g.ResetHard("HEAD"); rerr != nil {
			logger.Warn("failed to clean up after merge", zap.Error(rerr))
		}
		if cerr := g.CheckoutSilent(branch); cerr != nil {
			logger.Warn("failed to return to branch", zap.String("branch", branch), zap.Error(cerr))
		}
		return failOp(tx, err, "merge", branch)
	}
	if g.HasStagedChanges() {
		if err := g.Commit(fmt.Sprintf("Fold %s into %s", branch, parent)); err != nil {
			return failOp(tx, err, "commit", parent)
		}
	}
	if !foldKeep {
		if err := manager.Untrack(branch); err != nil {
			return failOp(tx, err, "untrack", branch)
		}
		if err := g.DeleteBranch(branch, true); err != nil {
			return failOp(tx, err, "delete", branch)
		}
	}
	if err := finishOp(tx); err != nil {
		return err
	}

	ui.Success("Folded %s into %s", ui.BranchName(branch, false), ui.BranchName(parent, true))
	restackTip(parent)
	return nil
}

var splitCmd = &cobra.Command{
	Use:   "split <new-branch> --at <commit>",
	Short: "Split the current branch in two at a commit",
	Long: `Create a new branch at a commit of the current branch and stack the
current branch on it. The commits up to and including <commit> belong to
the new branch; the rest stay on the current branch. No commits are
rewritten.

Examples:
  stax split auth-models --at HEAD~2`,
	Args: cobra.ExactArgs(1),
	RunE: runSplit,
}

var splitAt string

func init() {
	splitCmd.Flags().StringVar(&splitAt, "at", "", "last commit of the new branch (required)")
	_ = splitCmd.MarkFlagRequired("at")
	rootCmd.AddCommand(splitCmd)
}

func runSplit(cmd *cobra.Command, args []string) error {
	newBranch := args[0]
	if g.BranchExists(newBranch) {
		return errors.Errorf("branch %q already exists", newBranch)
	}
	branch, md, err := currentTracked()
	if err != nil {
		return err
	}
	at, err := g.SHA(splitAt)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", splitAt)
	}
	base, err := branchBase(branch, md)
	if err != nil {
		return err
	}
	head, err := g.SHA(branch)
	if err != nil {
		return err
	}
	if at == base || at == head || !g.IsAncestor(base, at) || !g.IsAncestor(at, branch) {
		return errors.Errorf("%s is not a commit inside %s", splitAt, branch)
	}

	tx, err := beginOp(ops.KindSplit)
	if err != nil {
		return err
	}
	defer tx.Close()
	if err := snapshotOp(tx, []string{branch, newBranch}, fmt.Sprintf("split %s at %s", branch, splitAt)); err != nil {
		return err
	}
	if err := g.CreateBranchAt(newBranch, at); err != nil {
		return failOp(tx, err, "create", newBranch)
	}
	if err := manager.Split(branch, newBranch, at); err != nil {
		return failOp(tx, err, "metadata", branch)
	}
	if err := finishOp(tx); err != nil {
		return err
	}

	ui.Success("Split %s: %s now stacks on %s", branch, ui.BranchName(branch, true), ui.BranchName(newBranch, false))
	return nil
}

// currentTracked returns the checked-out branch and its metadata.
func currentTracked() (string, *stack.BranchMetadata, error) {
	branch, err := currentBranch()
	if err != nil {
		return "", nil, err
	}
	md, err := stack.ReadMetadata(store, branch)
	if errors.Is(err, stack.ErrNotTracked) {
		return "", nil, errors.Errorf("%s is not tracked; run 'stax track' first", branch)
	}
	if err != nil {
		return "", nil, err
	}
	return branch, md, nil
}

// branchBase returns the commit a branch's own commits start from.
func branchBase(branch string, md *stack.BranchMetadata) (string, error) {
	if rev := md.ParentBranchRevision; rev != "" && g.IsAncestor(rev, branch) {
		return rev, nil
	}
	base, err := g.MergeBase(md.ParentBranchName, branch)
	if err != nil {
		return "", errors.Wrapf(err, "failed to find where %s forks from %s", branch, md.ParentBranchName)
	}
	return base, nil
}

// restackTip points at restack when branches above branch are now behind.
func restackTip(branch string) {
	s, err := loadStack()
	if err != nil {
		logger.Debug("failed to reload stack", zap.Error(err))
		return
	}
	for _, c := range s.Children(branch) {
		if s.Node(c).NeedsRestack {
			tip("branches above %s need a restack; run %s", branch, ui.Command("stax restack"))
			return
		}
	}
}
