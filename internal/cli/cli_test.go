package cli

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanaki/stax/internal/gittest"
	"github.com/stefanaki/stax/internal/ops"
	"github.com/stefanaki/stax/internal/stack"
)

func newCLIRepo(t *testing.T) *gittest.Repo {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	repo := gittest.New(t)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(repo.Dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return repo
}

// resetFlags restores flag defaults left over from earlier invocations.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	resetFlags(rootCmd)
	rootCmd.SetArgs(append(args, "--quiet"))
	return rootCmd.Execute()
}

func TestStackWorkflow(t *testing.T) {
	repo := newCLIRepo(t)

	require.NoError(t, run(t, "init", "--trunk", "main"))
	require.NoError(t, run(t, "create", "feat-a"))
	repo.Commit("a.txt", "a\n")
	require.NoError(t, run(t, "create", "feat-b"))
	repo.Commit("b.txt", "b\n")

	md, err := stack.ReadMetadata(store, "feat-b")
	require.NoError(t, err)
	assert.Equal(t, "feat-a", md.ParentBranchName)

	require.NoError(t, run(t, "down"))
	assert.Equal(t, "feat-a", repo.Git("branch", "--show-current"))
	require.NoError(t, run(t, "prev"))
	assert.Equal(t, "feat-b", repo.Git("branch", "--show-current"))

	repo.Checkout("main")
	repo.Commit("main.txt", "m\n")
	aBefore, bBefore := repo.Rev("feat-a"), repo.Rev("feat-b")

	require.NoError(t, run(t, "restack", "--all"))
	assert.NotEqual(t, aBefore, repo.Rev("feat-a"))
	assert.Equal(t, "main", repo.Git("branch", "--show-current"))

	latest, err := opLog.Latest()
	require.NoError(t, err)
	assert.Equal(t, ops.KindRestack, latest.Kind)
	assert.Equal(t, ops.StatusSuccess, latest.Status)

	require.NoError(t, run(t, "ops", "list"))
	require.NoError(t, run(t, "status"))

	require.NoError(t, run(t, "undo"))
	assert.Equal(t, aBefore, repo.Rev("feat-a"))
	assert.Equal(t, bBefore, repo.Rev("feat-b"))

	require.NoError(t, run(t, "redo"))
	assert.True(t, g.IsAncestor("main", "feat-a"))
	assert.True(t, g.IsAncestor("feat-a", "feat-b"))
}

func TestRestackConflictThenUndo(t *testing.T) {
	repo := newCLIRepo(t)

	require.NoError(t, run(t, "init", "--trunk", "main"))
	require.NoError(t, run(t, "create", "feature"))
	repo.Commit("shared.txt", "feature\n")
	before := repo.Rev("feature")

	repo.Checkout("main")
	repo.Commit("shared.txt", "main\n")
	repo.Checkout("feature")

	err := run(t, "restack")
	require.Error(t, err)
	assert.True(t, g.IsRebaseInProgress())

	require.NoError(t, run(t, "doctor"))
	require.NoError(t, run(t, "undo"))
	assert.False(t, g.IsRebaseInProgress())
	assert.Equal(t, before, repo.Rev("feature"))
}

func TestTrackRequiresTrackedParent(t *testing.T) {
	repo := newCLIRepo(t)
	repo.Branch("orphan")
	repo.Branch("child")

	require.NoError(t, run(t, "init", "--trunk", "main"))
	assert.Error(t, run(t, "track", "child", "--parent", "orphan"))
	require.NoError(t, run(t, "track", "orphan"))
	require.NoError(t, run(t, "track", "child", "--parent", "orphan"))
}

// findOp returns the most recent operation of a kind.
func findOp(t *testing.T, kind ops.Kind) *ops.Receipt {
	t.Helper()
	receipts, err := opLog.List()
	require.NoError(t, err)
	var found *ops.Receipt
	for _, r := range receipts {
		if r.Kind == kind && (found == nil || r.StartedAt.After(found.StartedAt)) {
			found = r
		}
	}
	require.NotNil(t, found, "no %s operation", kind)
	return found
}

func parentOf(t *testing.T, branch string) string {
	t.Helper()
	md, err := stack.ReadMetadata(store, branch)
	require.NoError(t, err)
	return md.ParentBranchName
}

func TestSyncDeleteMerged(t *testing.T) {
	repo := newCLIRepo(t)

	require.NoError(t, run(t, "init", "--trunk", "main"))
	require.NoError(t, run(t, "create", "feat-a"))
	repo.Commit("a.txt", "a\n")
	aTip := repo.Head()
	require.NoError(t, run(t, "create", "feat-b"))
	repo.Commit("b.txt", "b\n")
	bTip := repo.Head()

	repo.Checkout("main")
	repo.Git("merge", "--no-ff", "-q", "-m", "Merge feat-a", "feat-a")

	require.NoError(t, run(t, "sync", "--no-fetch", "--delete-merged"))
	assert.False(t, g.BranchExists("feat-a"))
	tracked, err := stack.IsTracked(store, "feat-a")
	require.NoError(t, err)
	assert.False(t, tracked)
	assert.Equal(t, "main", parentOf(t, "feat-b"))
	assert.True(t, g.IsAncestor("main", "feat-b"))
	assert.Equal(t, "b", repo.Git("show", "feat-b:b.txt"))

	cleanup := findOp(t, ops.KindSyncCleanup)
	assert.Equal(t, ops.StatusSuccess, cleanup.Status)

	require.NoError(t, run(t, "undo", findOp(t, ops.KindSyncRestack).OpID))
	assert.Equal(t, bTip, repo.Rev("feat-b"))
	require.NoError(t, run(t, "undo", cleanup.OpID))
	assert.Equal(t, aTip, repo.Rev("feat-a"))
	assert.Equal(t, "main", parentOf(t, "feat-a"))
	assert.Equal(t, "feat-a", parentOf(t, "feat-b"))
}

func TestSyncUntracksMergedWithoutDeleting(t *testing.T) {
	repo := newCLIRepo(t)

	require.NoError(t, run(t, "init", "--trunk", "main"))
	require.NoError(t, run(t, "create", "feat-a"))
	repo.Commit("a.txt", "a\n")
	repo.Checkout("main")
	repo.Git("merge", "--no-ff", "-q", "-m", "Merge feat-a", "feat-a")

	require.NoError(t, run(t, "sync", "--no-fetch"))
	assert.True(t, g.BranchExists("feat-a"))
	tracked, err := stack.IsTracked(store, "feat-a")
	require.NoError(t, err)
	assert.False(t, tracked)
}

func TestDeleteAndUndo(t *testing.T) {
	repo := newCLIRepo(t)

	require.NoError(t, run(t, "init", "--trunk", "main"))
	require.NoError(t, run(t, "create", "feat-a"))
	repo.Commit("a.txt", "a\n")
	tip := repo.Head()

	assert.Error(t, run(t, "delete"), "feat-a is not merged into main")
	assert.Error(t, run(t, "delete", "main"))

	require.NoError(t, run(t, "delete", "--force"))
	assert.False(t, g.BranchExists("feat-a"))
	assert.Equal(t, "main", repo.Git("branch", "--show-current"))
	tracked, err := stack.IsTracked(store, "feat-a")
	require.NoError(t, err)
	assert.False(t, tracked)

	require.NoError(t, run(t, "undo"))
	assert.Equal(t, tip, repo.Rev("feat-a"))
	assert.Equal(t, "main", parentOf(t, "feat-a"))
}

func TestRenameMovesChildren(t *testing.T) {
	repo := newCLIRepo(t)

	require.NoError(t, run(t, "init", "--trunk", "main"))
	require.NoError(t, run(t, "create", "feat-a"))
	repo.Commit("a.txt", "a\n")
	require.NoError(t, run(t, "create", "feat-b"))
	repo.Commit("b.txt", "b\n")
	repo.Checkout("feat-a")

	require.NoError(t, run(t, "rename", "feat-x"))
	assert.Equal(t, "feat-x", repo.Git("branch", "--show-current"))
	assert.False(t, g.BranchExists("feat-a"))
	assert.Equal(t, "main", parentOf(t, "feat-x"))
	assert.Equal(t, "feat-x", parentOf(t, "feat-b"))

	require.NoError(t, run(t, "undo"))
	assert.True(t, g.BranchExists("feat-a"))
	assert.False(t, g.BranchExists("feat-x"))
	assert.Equal(t, "feat-a", parentOf(t, "feat-b"))
}

func TestMoveOntoTrunk(t *testing.T) {
	repo := newCLIRepo(t)

	require.NoError(t, run(t, "init", "--trunk", "main"))
	require.NoError(t, run(t, "create", "feat-a"))
	repo.Commit("a.txt", "a\n")
	require.NoError(t, run(t, "create", "feat-b"))
	repo.Commit("b.txt", "b\n")
	before := repo.Head()

	assert.Error(t, run(t, "move", "feat-a", "--onto", "feat-b"), "feat-b is above feat-a")

	require.NoError(t, run(t, "move", "--onto", "main"))
	assert.Equal(t, "main", parentOf(t, "feat-b"))
	assert.False(t, g.IsAncestor("feat-a", "feat-b"))
	assert.Equal(t, "b", repo.Git("show", "feat-b:b.txt"))
	assert.Equal(t, ops.StatusSuccess, findOp(t, ops.KindReorder).Status)

	require.NoError(t, run(t, "undo"))
	assert.Equal(t, before, repo.Rev("feat-b"))
	assert.Equal(t, "feat-a", parentOf(t, "feat-b"))
}

func TestSquashAndUndo(t *testing.T) {
	repo := newCLIRepo(t)

	require.NoError(t, run(t, "init", "--trunk", "main"))
	base := repo.Head()
	require.NoError(t, run(t, "create", "feat"))
	repo.Commit("a.txt", "a\n")
	tip := repo.Commit("b.txt", "b\n")

	require.NoError(t, run(t, "squash", "-m", "Add a and b"))
	assert.Equal(t, base, repo.Rev("feat~1"))
	assert.Equal(t, "Add a and b", repo.Git("log", "-1", "--format=%s", "feat"))
	assert.Equal(t, "a", repo.Git("show", "feat:a.txt"))

	require.NoError(t, run(t, "undo"))
	assert.Equal(t, tip, repo.Rev("feat"))
}

func TestFoldIntoParent(t *testing.T) {
	repo := newCLIRepo(t)

	require.NoError(t, run(t, "init", "--trunk", "main"))
	require.NoError(t, run(t, "create", "feat-a"))
	aTip := repo.Commit("a.txt", "a\n")
	assert.Error(t, run(t, "fold"), "feat-a sits on trunk")

	require.NoError(t, run(t, "create", "feat-b"))
	bTip := repo.Commit("b.txt", "b\n")

	require.NoError(t, run(t, "fold"))
	assert.Equal(t, "feat-a", repo.Git("branch", "--show-current"))
	assert.False(t, g.BranchExists("feat-b"))
	assert.Equal(t, aTip, repo.Rev("feat-a~1"))
	assert.Equal(t, "b", repo.Git("show", "feat-a:b.txt"))
	tracked, err := stack.IsTracked(store, "feat-b")
	require.NoError(t, err)
	assert.False(t, tracked)

	require.NoError(t, run(t, "undo"))
	assert.Equal(t, aTip, repo.Rev("feat-a"))
	assert.Equal(t, bTip, repo.Rev("feat-b"))
	assert.Equal(t, "feat-a", parentOf(t, "feat-b"))
}

func TestModifyAmendsTip(t *testing.T) {
	repo := newCLIRepo(t)

	require.NoError(t, run(t, "init", "--trunk", "main"))
	base := repo.Head()
	require.NoError(t, run(t, "create", "feat"))
	tip := repo.Commit("a.txt", "a\n")

	require.NoError(t, run(t, "modify"), "clean tree is a no-op")
	assert.Equal(t, tip, repo.Head())

	repo.WriteFile("a.txt", "amended\n")
	require.NoError(t, run(t, "modify"))
	assert.NotEqual(t, tip, repo.Head())
	assert.Equal(t, base, repo.Rev("HEAD~1"))
	assert.Equal(t, "amended", repo.Git("show", "HEAD:a.txt"))
	assert.Equal(t, ops.StatusSuccess, findOp(t, ops.KindModify).Status)
}

func TestSplitAtCommit(t *testing.T) {
	repo := newCLIRepo(t)

	require.NoError(t, run(t, "init", "--trunk", "main"))
	require.NoError(t, run(t, "create", "feat"))
	first := repo.Commit("a.txt", "a\n")
	tip := repo.Commit("b.txt", "b\n")

	assert.Error(t, run(t, "split", "feat-base", "--at", "HEAD"), "tip is not inside the branch")

	require.NoError(t, run(t, "split", "feat-base", "--at", "HEAD~1"))
	assert.Equal(t, first, repo.Rev("feat-base"))
	assert.Equal(t, tip, repo.Rev("feat"))
	assert.Equal(t, "main", parentOf(t, "feat-base"))
	assert.Equal(t, "feat-base", parentOf(t, "feat"))

	s, err := loadStack()
	require.NoError(t, err)
	assert.False(t, s.Node("feat").NeedsRestack)

	require.NoError(t, run(t, "undo"))
	assert.False(t, g.BranchExists("feat-base"))
	assert.Equal(t, "main", parentOf(t, "feat"))
}

func TestSubmitPushFailureIsRecorded(t *testing.T) {
	repo := newCLIRepo(t)
	repo.Git("remote", "add", "origin", t.TempDir()+"/missing.git")

	require.NoError(t, run(t, "init", "--trunk", "main"))
	require.NoError(t, run(t, "create", "feat"))
	repo.Commit("a.txt", "a\n")

	err := run(t, "submit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push feat")

	r := findOp(t, ops.KindSubmit)
	assert.Equal(t, ops.StatusFailed, r.Status)
	require.NotNil(t, r.Error)
	assert.Equal(t, "push", r.Error.FailedStep)
	assert.Equal(t, "feat", r.Error.FailedBranch)
}
