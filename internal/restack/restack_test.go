package restack_test

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanaki/stax/internal/git"
	"github.com/stefanaki/stax/internal/gittest"
	"github.com/stefanaki/stax/internal/ops"
	"github.com/stefanaki/stax/internal/refs"
	"github.com/stefanaki/stax/internal/restack"
	"github.com/stefanaki/stax/internal/stack"
)

type env struct {
	repo    *gittest.Repo
	git     *git.Git
	store   *refs.Store
	manager *stack.Manager
	log     *ops.Log
	orch    *restack.Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo := gittest.New(t)
	g := git.NewWithWorkDir(repo.Dir, nil)
	store, err := refs.Open(g, nil)
	require.NoError(t, err)
	gitDir, err := g.GitDir()
	require.NoError(t, err)
	log := ops.NewLog(gitDir, nil)
	return &env{
		repo:    repo,
		git:     g,
		store:   store,
		manager: stack.NewManager(store, g, "main", nil),
		log:     log,
		orch:    restack.New(g, store, log, restack.Options{Trunk: "main", Out: &bytes.Buffer{}}),
	}
}

func (e *env) load(t *testing.T) *stack.Stack {
	t.Helper()
	s, err := e.manager.Load()
	require.NoError(t, err)
	return s
}

func (e *env) needsRestack(t *testing.T) []string {
	t.Helper()
	needs, err := e.load(t).NeedsRestack()
	require.NoError(t, err)
	return needs
}

func TestRestackFeatureOntoAdvancedMain(t *testing.T) {
	e := newEnv(t)
	e.repo.Branch("feature")
	e.repo.Commit("feature.txt", "f\n")
	require.NoError(t, e.manager.Track("feature", "main"))

	e.repo.Checkout("main")
	c2 := e.repo.Commit("main.txt", "m\n")
	e.repo.Checkout("feature")

	assert.Equal(t, []string{"feature"}, e.needsRestack(t))

	res, err := e.orch.Restack(ops.KindRestack, e.needsRestack(t))
	require.NoError(t, err)
	require.Nil(t, res.Conflict)
	assert.Equal(t, []string{"feature"}, res.Restacked)

	md, err := stack.ReadMetadata(e.store, "feature")
	require.NoError(t, err)
	assert.Equal(t, c2, md.ParentBranchRevision)
	assert.Empty(t, e.needsRestack(t))
	assert.True(t, e.git.IsAncestor(c2, "feature"))

	branch, err := e.git.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "feature", branch, "returns to the original branch")

	receipt, err := e.log.Load(res.OpID)
	require.NoError(t, err)
	assert.Equal(t, ops.StatusSuccess, receipt.Status)
	assert.Equal(t, ops.KindRestack, receipt.Kind)
	assert.Equal(t, "feature", receipt.HeadBranchBefore)
}

func TestRestackIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.repo.Branch("feature")
	e.repo.Commit("feature.txt", "f\n")
	require.NoError(t, e.manager.Track("feature", "main"))

	needs := e.needsRestack(t)
	assert.Empty(t, needs)

	res, err := e.orch.Restack(ops.KindRestack, needs)
	require.NoError(t, err)
	assert.Empty(t, res.OpID)

	ids, err := e.log.IDs()
	require.NoError(t, err)
	assert.Empty(t, ids, "no transaction for an up to date stack")
}

func TestRestackCarriesChildren(t *testing.T) {
	e := newEnv(t)
	e.repo.Branch("a")
	e.repo.Commit("a.txt", "a\n")
	require.NoError(t, e.manager.Track("a", "main"))
	e.repo.Branch("b")
	e.repo.Commit("b.txt", "b\n")
	require.NoError(t, e.manager.Track("b", "a"))

	e.repo.Checkout("main")
	e.repo.Commit("main.txt", "m\n")

	s := e.load(t)
	all, err := s.All()
	require.NoError(t, err)
	plan := s.RestackPlan(all)
	assert.Equal(t, []string{"a", "b"}, plan)

	res, err := e.orch.Restack(ops.KindRestack, plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Restacked)
	assert.Empty(t, e.needsRestack(t))
	assert.True(t, e.git.IsAncestor("main", "a"))
	assert.True(t, e.git.IsAncestor("a", "b"))

	count, err := e.git.CommitCount("a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "only b's own commit is replayed")
}

func TestRestackConflictLeavesFailedReceipt(t *testing.T) {
	e := newEnv(t)
	e.repo.Branch("feat-a")
	e.repo.Commit("a.txt", "a\n")
	require.NoError(t, e.manager.Track("feat-a", "main"))
	e.repo.Checkout("main")
	e.repo.Branch("feat-b")
	e.repo.Commit("shared.txt", "feat-b\n")
	require.NoError(t, e.manager.Track("feat-b", "main"))

	e.repo.Checkout("main")
	e.repo.Commit("shared.txt", "main\n")

	aBefore := e.repo.Rev("feat-a")
	bBefore := e.repo.Rev("feat-b")

	res, err := e.orch.Restack(ops.KindRestack, []string{"feat-a", "feat-b"})
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, "feat-b", res.Conflict.Branch)
	assert.Equal(t, "main", res.Conflict.Parent)
	assert.True(t, e.git.IsRebaseInProgress())

	receipt, err := e.log.Load(res.OpID)
	require.NoError(t, err)
	assert.Equal(t, ops.StatusFailed, receipt.Status)
	require.NotNil(t, receipt.Error)
	assert.Equal(t, "feat-b", receipt.Error.FailedBranch)
	assert.Equal(t, "rebase", receipt.Error.FailedStep)

	a, ok := receipt.LocalRef("feat-a")
	require.True(t, ok)
	assert.Equal(t, aBefore, ops.OID(a.OIDBefore))
	assert.NotNil(t, a.OIDAfter)
	assert.NotEqual(t, aBefore, ops.OID(a.OIDAfter))

	b, ok := receipt.LocalRef("feat-b")
	require.True(t, ok)
	assert.Equal(t, bBefore, ops.OID(b.OIDBefore))
	assert.Nil(t, b.OIDAfter)

	assert.True(t, errors.Is(e.orch.Preflight(), restack.ErrRebaseInProgress))
}

func TestContinueAfterConflict(t *testing.T) {
	e := newEnv(t)
	e.repo.Branch("feature")
	e.repo.Commit("shared.txt", "feature\n")
	require.NoError(t, e.manager.Track("feature", "main"))
	e.repo.Checkout("main")
	c2 := e.repo.Commit("shared.txt", "main\n")

	res, err := e.orch.Restack(ops.KindRestack, []string{"feature"})
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)

	e.repo.WriteFile("shared.txt", "resolved\n")
	e.repo.Git("add", "shared.txt")

	cres, err := e.orch.Continue()
	require.NoError(t, err)
	assert.False(t, cres.Conflict)
	assert.Equal(t, "feature", cres.Branch)

	md, err := stack.ReadMetadata(e.store, "feature")
	require.NoError(t, err)
	assert.Equal(t, c2, md.ParentBranchRevision)
	assert.Empty(t, e.needsRestack(t))

	_, err = e.orch.Continue()
	assert.True(t, errors.Is(err, restack.ErrNoRebaseInProgress))
}

func TestPreflightDirtyTree(t *testing.T) {
	e := newEnv(t)
	e.repo.WriteFile("README.md", "dirty\n")
	assert.True(t, errors.Is(e.orch.Preflight(), restack.ErrDirtyTree))
}

func TestRestackAfterReparentIsOneOperation(t *testing.T) {
	e := newEnv(t)
	e.repo.Branch("a")
	e.repo.Commit("a.txt", "a\n")
	require.NoError(t, e.manager.Track("a", "main"))
	e.repo.Checkout("main")
	e.repo.Branch("b")
	e.repo.Commit("b.txt", "b\n")
	require.NoError(t, e.manager.Track("b", "main"))
	bBefore := e.repo.Rev("b")
	metaBefore, _, err := e.store.ResolveRef(refs.MetadataRef("b"))
	require.NoError(t, err)

	res, err := e.orch.RestackAfter(ops.KindReorder, []string{"b"}, func() error {
		return e.manager.Reparent("b", "a")
	})
	require.NoError(t, err)
	require.Nil(t, res.Conflict)
	assert.True(t, e.git.IsAncestor("a", "b"))
	assert.Equal(t, "a", e.load(t).Parent("b"))
	assert.Empty(t, e.needsRestack(t))

	r, err := e.log.Load(res.OpID)
	require.NoError(t, err)
	assert.Equal(t, ops.KindReorder, r.Kind)
	meta, ok := r.MetadataRef("b")
	require.True(t, ok)
	assert.Equal(t, metaBefore, ops.OID(meta.OIDBefore), "snapshot precedes the reparent")
	assert.Equal(t, bBefore, ops.OID(r.LocalRefs[0].OIDBefore))
}

func TestRestackAfterPrepareFailure(t *testing.T) {
	e := newEnv(t)
	e.repo.Branch("a")
	e.repo.Commit("a.txt", "a\n")
	require.NoError(t, e.manager.Track("a", "main"))

	res, err := e.orch.RestackAfter(ops.KindReorder, []string{"a"}, func() error {
		return errors.New("cannot reparent")
	})
	require.Error(t, err)
	assert.Nil(t, res)

	r, err := e.log.Latest()
	require.NoError(t, err)
	assert.Equal(t, ops.StatusFailed, r.Status)
	require.NotNil(t, r.Error)
	assert.Equal(t, "prepare", r.Error.FailedStep)
}
