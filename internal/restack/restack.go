// Package restack rebases tracked branches onto their parents inside a
// recoverable transaction.
package restack

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stefanaki/stax/internal/git"
	"github.com/stefanaki/stax/internal/ops"
	"github.com/stefanaki/stax/internal/stack"
	"github.com/stefanaki/stax/internal/ui"
)

var (
	// ErrDirtyTree is returned when the working tree has uncommitted changes.
	ErrDirtyTree = errors.New("working tree is not clean; commit or stash changes first")
	// ErrRebaseInProgress is returned when a rebase is already underway.
	ErrRebaseInProgress = errors.New("a rebase is in progress; resolve it with 'stax continue' or abort it")
	// ErrNoRebaseInProgress is returned by Continue when there is nothing
	// to continue.
	ErrNoRebaseInProgress = errors.New("no rebase in progress")
)

// Git is the subset of git the orchestrator drives.
type Git interface {
	CurrentBranch() (string, error)
	RepoRoot() (string, error)
	IsClean() (bool, error)
	IsRebaseInProgress() bool
	RebasingBranch() (string, error)
	CheckoutSilent(branch string) error
	Rebase(onto string) (git.RebaseOutcome, error)
	RebaseOnto(onto, upstream string) (git.RebaseOutcome, error)
	RebaseContinue() (git.RebaseOutcome, error)
	IsAncestor(a, b string) bool
}

// Store is the ref storage restack reads metadata from and snapshots.
type Store interface {
	ops.Repo
	stack.Store
}

// Options configures an Orchestrator.
type Options struct {
	Trunk  string
	Quiet  bool
	Out    io.Writer
	Logger *zap.Logger
}

// Conflict identifies the branch a sweep stopped on.
type Conflict struct {
	Branch string
	Parent string
}

// Result describes a restack sweep.
type Result struct {
	// OpID is empty when nothing needed restacking.
	OpID      string
	Restacked []string
	Conflict  *Conflict
}

// Orchestrator runs restack sweeps.
type Orchestrator struct {
	git   Git
	store Store
	log   *ops.Log
	opts  Options
	out   io.Writer
	zl    *zap.Logger
}

// New creates an Orchestrator.
func New(g Git, store Store, log *ops.Log, opts Options) *Orchestrator {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	zl := opts.Logger
	if zl == nil {
		zl = zap.NewNop()
	}
	return &Orchestrator{git: g, store: store, log: log, opts: opts, out: out, zl: zl}
}

func (o *Orchestrator) printf(format string, args ...interface{}) {
	if !o.opts.Quiet {
		fmt.Fprintf(o.out, format, args...)
	}
}

// Preflight checks that the repository is in a state restack can work in.
func (o *Orchestrator) Preflight() error {
	if o.git.IsRebaseInProgress() {
		return ErrRebaseInProgress
	}
	clean, err := o.git.IsClean()
	if err != nil {
		return errors.Wrap(err, "failed to check working tree status")
	}
	if !clean {
		return ErrDirtyTree
	}
	return nil
}

// Restack rebases branches, in order, onto their recorded parents. The
// whole sweep is one operation: a conflict or failure part way through
// leaves a failed receipt from which every branch touched can be undone.
// An empty list is a no-op and records nothing.
func (o *Orchestrator) Restack(kind ops.Kind, branches []string) (*Result, error) {
	return o.RestackAfter(kind, branches, nil)
}

// RestackAfter is Restack with a metadata change made after the snapshot,
// so undo also reverts what prepare wrote.
func (o *Orchestrator) RestackAfter(kind ops.Kind, branches []string, prepare func() error) (*Result, error) {
	res := &Result{}
	if len(branches) == 0 {
		return res, nil
	}

	head, err := o.git.CurrentBranch()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get current branch")
	}
	workdir, err := o.git.RepoRoot()
	if err != nil {
		return nil, errors.Wrap(err, "failed to find repository root")
	}

	tx := ops.Begin(kind, o.store, o.log, ops.BeginOptions{
		Trunk:      o.opts.Trunk,
		HeadBranch: head,
		Workdir:    workdir,
		Quiet:      o.opts.Quiet,
		Out:        o.out,
		Logger:     o.zl,
	})
	defer tx.Close()
	res.OpID = tx.OpID()

	if err := tx.PlanBranches(branches); err != nil {
		return nil, err
	}
	word := ui.Plural(len(branches), "branch", "branches")
	summary := ops.PlanSummary{
		BranchesToRebase: len(branches),
		Description:      []string{fmt.Sprintf("%s %d %s", kind.DisplayName(), len(branches), word)},
	}
	tx.SetPlanSummary(summary)

	o.printf("Restacking %s %s...\n", ui.Command(fmt.Sprint(len(branches))), word)
	if !o.opts.Quiet {
		ops.PrintPlan(o.out, summary)
	}
	if err := tx.Snapshot(); err != nil {
		return nil, errors.Wrap(err, "failed to snapshot branches")
	}
	if prepare != nil {
		if err := prepare(); err != nil {
			return nil, o.fail(tx, err, "prepare", branches[0])
		}
	}

	for _, branch := range branches {
		md, err := stack.ReadMetadata(o.store, branch)
		if errors.Is(err, stack.ErrNotTracked) {
			continue
		}
		if err != nil {
			return nil, o.fail(tx, err, "metadata", branch)
		}
		parent := md.ParentBranchName

		o.printf("  %s onto %s\n", branch, ui.Dim(parent))
		if err := o.git.CheckoutSilent(branch); err != nil {
			return nil, o.fail(tx, err, "checkout", branch)
		}

		outcome, err := o.rebase(branch, md)
		if err != nil {
			return nil, o.fail(tx, err, "rebase", branch)
		}
		if outcome == git.RebaseConflict {
			o.printf("    %s\n", ui.Highlight(ui.IconCross+" conflict"))
			res.Conflict = &Conflict{Branch: branch, Parent: parent}
			if err := tx.FinishErr(fmt.Sprintf("rebase conflict on %s", branch), "rebase", branch); err != nil {
				return nil, err
			}
			return res, nil
		}

		if err := stack.UpdateParentRevision(o.store, branch, md); err != nil {
			return nil, o.fail(tx, err, "metadata", branch)
		}
		if err := tx.RecordAfter(branch); err != nil {
			return nil, o.fail(tx, err, "record", branch)
		}
		res.Restacked = append(res.Restacked, branch)
		o.printf("    %s\n", ui.IconCheck+" done")
	}

	if head != "" {
		if err := o.git.CheckoutSilent(head); err != nil {
			return nil, o.fail(tx, err, "checkout", head)
		}
	}
	if err := tx.FinishOK(); err != nil {
		return nil, err
	}
	o.zl.Debug("restack finished", zap.String("op", res.OpID), zap.Strings("branches", res.Restacked))
	return res, nil
}

// rebase moves the branch's own commits onto its parent's tip. When the
// stored parent revision is still in the branch's history only the commits
// after it are replayed, so commits the parent dropped or rewrote are not
// carried along.
func (o *Orchestrator) rebase(branch string, md *stack.BranchMetadata) (git.RebaseOutcome, error) {
	parent := md.ParentBranchName
	rev := md.ParentBranchRevision
	if rev != "" && o.git.IsAncestor(rev, branch) {
		o.zl.Debug("rebase --onto", zap.String("branch", branch), zap.String("parent", parent), zap.String("upstream", rev))
		return o.git.RebaseOnto(parent, rev)
	}
	return o.git.Rebase(parent)
}

func (o *Orchestrator) fail(tx *ops.Transaction, cause error, step, branch string) error {
	if err := tx.FinishErr(cause.Error(), step, branch); err != nil {
		o.zl.Warn("failed to record failure", zap.Error(err))
	}
	return errors.Wrapf(cause, "%s %s", step, branch)
}

// ContinueResult describes a resumed rebase.
type ContinueResult struct {
	Branch   string
	Conflict bool
}

// Continue resumes a rebase stopped on conflicts. When it completes, the
// rebased branch's parent revision is updated.
func (o *Orchestrator) Continue() (*ContinueResult, error) {
	if !o.git.IsRebaseInProgress() {
		return nil, ErrNoRebaseInProgress
	}
	branch, err := o.git.RebasingBranch()
	if err != nil {
		return nil, err
	}

	outcome, err := o.git.RebaseContinue()
	if err != nil {
		return nil, errors.Wrap(err, "rebase --continue failed")
	}
	res := &ContinueResult{Branch: branch, Conflict: outcome == git.RebaseConflict}
	if res.Conflict {
		return res, nil
	}

	md, err := stack.ReadMetadata(o.store, branch)
	if errors.Is(err, stack.ErrNotTracked) {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	if err := stack.UpdateParentRevision(o.store, branch, md); err != nil {
		return nil, err
	}
	return res, nil
}
