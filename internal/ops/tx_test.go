package ops_test

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
)

type fixture struct {
	repo  *gittest.Repo
	store *refs.Store
	log   *ops.Log
	out   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := gittest.New(t)
	g := git.NewWithWorkDir(repo.Dir, nil)
	store, err := refs.Open(g, nil)
	require.NoError(t, err)
	gitDir, err := g.GitDir()
	require.NoError(t, err)
	return &fixture{repo: repo, store: store, log: ops.NewLog(gitDir, nil), out: &bytes.Buffer{}}
}

func (f *fixture) begin() *ops.Transaction {
	return ops.Begin(ops.KindRestack, f.store, f.log, ops.BeginOptions{
		Trunk:      "main",
		HeadBranch: "feature",
		Workdir:    f.repo.Dir,
		Out:        f.out,
	})
}

func TestTransactionLifecycle(t *testing.T) {
	f := newFixture(t)
	f.repo.Branch("feature")
	before := f.repo.Commit("f.txt", "1\n")
	_, err := f.store.WriteMetadata("feature", []byte(`{"parentBranchName":"main","parentBranchRevision":"x"}`))
	require.NoError(t, err)

	tx := f.begin()
	defer tx.Close()

	require.NoError(t, tx.PlanBranch("feature"))
	require.NoError(t, tx.PlanBranch("feature"), "planning twice is a no-op")
	require.NoError(t, tx.Snapshot())

	assert.Equal(t, before, f.repo.Rev(refs.BackupRef(tx.OpID(), "feature")))
	backups, err := f.store.BackupRefs(tx.OpID())
	require.NoError(t, err)
	assert.Len(t, backups, 2, "commit and metadata backups")

	saved, err := f.log.Load(tx.OpID())
	require.NoError(t, err)
	assert.Equal(t, ops.StatusInProgress, saved.Status)
	require.Len(t, saved.LocalRefs, 1)
	assert.Equal(t, before, ops.OID(saved.LocalRefs[0].OIDBefore))
	assert.Nil(t, saved.LocalRefs[0].OIDAfter)

	after := f.repo.Commit("f.txt", "2\n")
	require.NoError(t, tx.RecordAfter("feature"))
	require.NoError(t, tx.FinishOK())

	saved, err = f.log.Load(tx.OpID())
	require.NoError(t, err)
	assert.Equal(t, ops.StatusSuccess, saved.Status)
	assert.Equal(t, after, ops.OID(saved.LocalRefs[0].OIDAfter))
	assert.True(t, saved.CanUndo())
	assert.True(t, saved.CanRedo())

	assert.True(t, errors.Is(tx.FinishOK(), ops.ErrTxFinished))
	assert.NoError(t, tx.Close())
}

func TestTransactionOrdering(t *testing.T) {
	f := newFixture(t)
	tx := f.begin()
	defer tx.Close()

	assert.True(t, errors.Is(tx.RecordAfter("main"), ops.ErrTxOrder))

	require.NoError(t, tx.PlanBranch("main"))
	require.NoError(t, tx.Snapshot())
	assert.True(t, errors.Is(tx.PlanBranch("other"), ops.ErrTxOrder))
	assert.True(t, errors.Is(tx.Snapshot(), ops.ErrTxOrder))

	require.NoError(t, tx.FinishErr("boom", "rebase", "main"))
	assert.True(t, errors.Is(tx.FinishErr("again", "", ""), ops.ErrTxFinished))
	assert.Contains(t, f.out.String(), "stax undo")
}

func TestTransactionWithoutSnapshotPersistsNothing(t *testing.T) {
	f := newFixture(t)
	tx := f.begin()
	require.NoError(t, tx.PlanBranch("main"))
	require.NoError(t, tx.FinishOK())

	ids, err := f.log.IDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCloseMarksAbandonedTransactionFailed(t *testing.T) {
	f := newFixture(t)

	var opID string
	func() {
		tx := f.begin()
		defer tx.Close()
		require.NoError(t, tx.PlanBranch("main"))
		require.NoError(t, tx.Snapshot())
		opID = tx.OpID()
	}()

	saved, err := f.log.Load(opID)
	require.NoError(t, err)
	assert.Equal(t, ops.StatusFailed, saved.Status)
	require.NotNil(t, saved.Error)
	assert.Equal(t, "transaction abandoned before finishing", saved.Error.Message)
	assert.True(t, saved.CanUndo(), "backups stay usable")
}

func TestRemoteEntries(t *testing.T) {
	f := newFixture(t)
	tx := f.begin()
	defer tx.Close()

	require.NoError(t, tx.PlanBranch("main"))
	require.NoError(t, tx.PlanRemoteBranch("origin", "main"))
	require.NoError(t, tx.Snapshot())
	require.NoError(t, tx.RecordRemoteAfter("origin", "main", f.repo.Head()))
	require.NoError(t, tx.FinishOK())

	saved, err := f.log.Load(tx.OpID())
	require.NoError(t, err)
	require.Len(t, saved.RemoteRefs, 1)
	assert.Nil(t, saved.RemoteRefs[0].OIDBefore, "origin/main did not exist")
	assert.Equal(t, f.repo.Head(), ops.OID(saved.RemoteRefs[0].OIDAfter))
}

func TestRecordAllAfter(t *testing.T) {
	f := newFixture(t)
	f.repo.Branch("a")
	f.repo.Commit("a.txt", "1\n")
	f.repo.Branch("b")
	f.repo.Commit("b.txt", "1\n")

	tx := f.begin()
	defer tx.Close()
	require.NoError(t, tx.PlanBranches([]string{"a", "b"}))
	require.NoError(t, tx.Snapshot())

	f.repo.Checkout("a")
	aAfter := f.repo.Commit("a.txt", "2\n")
	f.repo.Checkout("b")
	bAfter := f.repo.Commit("b.txt", "2\n")

	require.NoError(t, tx.RecordAllAfter())
	require.NoError(t, tx.FinishOK())

	saved, err := f.log.Load(tx.OpID())
	require.NoError(t, err)
	a, ok := saved.LocalRef("a")
	require.True(t, ok)
	assert.Equal(t, aAfter, ops.OID(a.OIDAfter))
	b, ok := saved.LocalRef("b")
	require.True(t, ok)
	assert.Equal(t, bAfter, ops.OID(b.OIDAfter))
}

// brokenMetaBackups fails every metadata backup after commit backups were
// written.
type brokenMetaBackups struct {
	*refs.Store
}

func (brokenMetaBackups) CreateMetadataBackupRef(opID, branch, oid string) (string, error) {
	return "", errors.New("cannot write metadata backup")
}

func TestSnapshotFailureRemovesBackups(t *testing.T) {
	f := newFixture(t)
	f.repo.Branch("feature")
	f.repo.Commit("f.txt", "1\n")
	_, err := f.store.WriteMetadata("feature", []byte(`{"parentBranchName":"main","parentBranchRevision":"x"}`))
	require.NoError(t, err)

	tx := ops.Begin(ops.KindRestack, brokenMetaBackups{f.store}, f.log, ops.BeginOptions{Trunk: "main", Out: f.out})
	defer tx.Close()
	require.NoError(t, tx.PlanBranch("feature"))
	require.Error(t, tx.Snapshot())

	backups, err := f.store.BackupRefs(tx.OpID())
	require.NoError(t, err)
	assert.Empty(t, backups, "commit backup is rolled back")

	ids, err := f.log.IDs()
	require.NoError(t, err)
	assert.Empty(t, ids, "no receipt is persisted")

	assert.True(t, errors.Is(tx.RecordAfter("feature"), ops.ErrTxOrder))
	require.NoError(t, tx.Close())
	ids, err = f.log.IDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRecordAfterMarksDeletions(t *testing.T) {
	f := newFixture(t)
	f.repo.Branch("gone")
	f.repo.Commit("g.txt", "1\n")
	f.repo.Checkout("main")
	_, err := f.store.WriteMetadata("gone", []byte(`{"parentBranchName":"main","parentBranchRevision":"x"}`))
	require.NoError(t, err)

	tx := f.begin()
	defer tx.Close()
	require.NoError(t, tx.PlanBranches([]string{"gone", "fresh"}))
	require.NoError(t, tx.Snapshot())

	f.repo.Git("branch", "-D", "gone")
	require.NoError(t, f.store.DeleteMetadata("gone"))
	f.repo.Git("branch", "fresh")

	require.NoError(t, tx.RecordAllAfter())
	require.NoError(t, tx.FinishOK())

	saved, err := f.log.Load(tx.OpID())
	require.NoError(t, err)
	gone, ok := saved.LocalRef("gone")
	require.True(t, ok)
	assert.True(t, gone.Deleted)
	assert.Nil(t, gone.OIDAfter)
	meta, ok := saved.MetadataRef("gone")
	require.True(t, ok)
	assert.True(t, meta.Deleted)

	fresh, ok := saved.LocalRef("fresh")
	require.True(t, ok)
	assert.False(t, fresh.ExistedBefore)
	assert.False(t, fresh.Deleted)
	assert.Equal(t, f.repo.Rev("fresh"), ops.OID(fresh.OIDAfter))
	meta, ok = saved.MetadataRef("fresh")
	require.True(t, ok)
	assert.False(t, meta.Deleted, "metadata that never existed is not deleted")
}
