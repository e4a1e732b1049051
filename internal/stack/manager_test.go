package stack_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanaki/stax/internal/git"
	"github.com/stefanaki/stax/internal/gittest"
	"github.com/stefanaki/stax/internal/refs"
	"github.com/stefanaki/stax/internal/stack"
)

func newManager(t *testing.T, repo *gittest.Repo) *stack.Manager {
	t.Helper()
	g := git.NewWithWorkDir(repo.Dir, nil)
	store, err := refs.Open(g, nil)
	require.NoError(t, err)
	return stack.NewManager(store, g, "main", nil)
}

func TestTrackUsesForkPoint(t *testing.T) {
	repo := gittest.New(t)
	c1 := repo.Head()
	repo.Branch("feature")
	repo.Commit("feature.txt", "f\n")
	repo.Checkout("main")
	c2 := repo.Commit("main.txt", "m\n")

	m := newManager(t, repo)
	require.NoError(t, m.Track("feature", "main"))

	md, err := stack.ReadMetadata(m.Store(), "feature")
	require.NoError(t, err)
	assert.Equal(t, "main", md.ParentBranchName)
	assert.Equal(t, c1, md.ParentBranchRevision)

	s, err := m.Load()
	require.NoError(t, err)
	assert.True(t, s.Node("feature").NeedsRestack, "main moved from %s to %s", c1, c2)
}

func TestTrackRejectsCycles(t *testing.T) {
	repo := gittest.New(t)
	repo.Branch("a")
	repo.Commit("a.txt", "a\n")
	repo.Branch("b")
	repo.Commit("b.txt", "b\n")

	m := newManager(t, repo)
	require.NoError(t, m.Track("a", "main"))
	require.NoError(t, m.Track("b", "a"))

	assert.Error(t, m.Reparent("a", "b"))
	assert.Error(t, m.Track("a", "a"))
	assert.Error(t, m.Track("main", "a"))
}

func TestUntrackMovesChildrenUp(t *testing.T) {
	repo := gittest.New(t)
	repo.Branch("a")
	repo.Commit("a.txt", "a\n")
	repo.Branch("b")
	repo.Commit("b.txt", "b\n")

	m := newManager(t, repo)
	require.NoError(t, m.Track("a", "main"))
	require.NoError(t, m.Track("b", "a"))

	require.NoError(t, m.Untrack("a"))

	s, err := m.Load()
	require.NoError(t, err)
	assert.False(t, s.Tracked("a"))
	assert.Equal(t, "main", s.Parent("b"))
}

func TestUpdateParentRevisionKeepsPRInfo(t *testing.T) {
	repo := gittest.New(t)
	repo.Branch("feature")
	repo.Commit("feature.txt", "f\n")
	repo.Checkout("main")
	c2 := repo.Commit("main.txt", "m\n")

	m := newManager(t, repo)
	draft := true
	md := stack.NewMetadata("main", "stale")
	md.PRInfo = &stack.PRInfo{Number: 7, State: "OPEN", IsDraft: &draft}
	_, err := stack.WriteMetadata(m.Store(), "feature", md)
	require.NoError(t, err)

	require.NoError(t, m.Track("feature", "main"), "retracking keeps pull request info")
	md, err = stack.ReadMetadata(m.Store(), "feature")
	require.NoError(t, err)
	require.NoError(t, stack.UpdateParentRevision(m.Store(), "feature", md))

	md, err = stack.ReadMetadata(m.Store(), "feature")
	require.NoError(t, err)
	assert.Equal(t, c2, md.ParentBranchRevision)
	require.NotNil(t, md.PRInfo)
	assert.Equal(t, 7, md.PRInfo.Number)

	md.ParentBranchName = "gone"
	assert.Error(t, stack.UpdateParentRevision(m.Store(), "feature", md))
}

func TestRenameRepointsChildren(t *testing.T) {
	repo := gittest.New(t)
	repo.Branch("a")
	repo.Commit("a.txt", "a\n")
	repo.Branch("b")
	repo.Commit("b.txt", "b\n")

	m := newManager(t, repo)
	require.NoError(t, m.Track("a", "main"))
	require.NoError(t, m.Track("b", "a"))
	before, err := stack.ReadMetadata(m.Store(), "a")
	require.NoError(t, err)

	repo.Git("branch", "-m", "a", "renamed")
	require.NoError(t, m.Rename("a", "renamed"))

	s, err := m.Load()
	require.NoError(t, err)
	assert.False(t, s.Tracked("a"))
	assert.Equal(t, "main", s.Parent("renamed"))
	assert.Equal(t, "renamed", s.Parent("b"))
	after, err := stack.ReadMetadata(m.Store(), "renamed")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSplitInsertsBranchBelow(t *testing.T) {
	repo := gittest.New(t)
	base := repo.Head()
	repo.Branch("feature")
	first := repo.Commit("one.txt", "1\n")
	repo.Commit("two.txt", "2\n")

	m := newManager(t, repo)
	require.NoError(t, m.Track("feature", "main"))
	repo.Git("branch", "feature-base", first)
	require.NoError(t, m.Split("feature", "feature-base", first))

	s, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "main", s.Parent("feature-base"))
	assert.Equal(t, "feature-base", s.Parent("feature"))
	assert.Equal(t, base, s.Node("feature-base").Revision)
	assert.Equal(t, first, s.Node("feature").Revision)
	assert.Empty(t, mustNeeds(t, s))
}

func TestSetRevision(t *testing.T) {
	repo := gittest.New(t)
	base := repo.Head()
	repo.Branch("feature")
	repo.Commit("f.txt", "f\n")

	m := newManager(t, repo)
	require.NoError(t, m.Track("feature", "main"))
	require.NoError(t, m.SetRevision("feature", "abc"))
	md, err := stack.ReadMetadata(m.Store(), "feature")
	require.NoError(t, err)
	assert.Equal(t, "abc", md.ParentBranchRevision)

	require.NoError(t, m.SetRevision("feature", base))
	s, err := m.Load()
	require.NoError(t, err)
	assert.False(t, s.Node("feature").NeedsRestack)
}

func mustNeeds(t *testing.T, s *stack.Stack) []string {
	t.Helper()
	needs, err := s.NeedsRestack()
	require.NoError(t, err)
	return needs
}
