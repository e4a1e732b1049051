// Package undo reverts and replays recorded operations using their
// receipts.
package undo

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stefanaki/stax/internal/ops"
	"github.com/stefanaki/stax/internal/ui"
)

var (
	// ErrCannotUndo is returned for receipts without pre-operation commits.
	ErrCannotUndo = errors.New("operation cannot be undone (no refs with before-OIDs)")
	// ErrCannotRedo is returned for receipts that did not complete.
	ErrCannotRedo = errors.New("operation cannot be redone")
	// ErrDirtyTree is returned when local changes would be lost and the
	// user did not agree to stash them.
	ErrDirtyTree = errors.New("working tree is dirty; stash or commit changes first")
)

// Git is the subset of git the engine drives.
type Git interface {
	IsRebaseInProgress() bool
	RebaseAbort() error
	IsClean() (bool, error)
	StashPush(message string) error
	CurrentBranch() (string, error)
	BranchExists(name string) bool
	CheckoutSilent(branch string) error
	ResetHard(ref string) error
	PushCommit(remote, oid, branch string) error
}

// Store is the ref storage the engine restores.
type Store interface {
	UpdateRef(name, oid string) error
	DeleteRef(name string) error
	DeleteBackupRefs(opID string) (int, error)
}

// Prompter asks the user yes/no questions.
type Prompter interface {
	Confirm(question string, def bool) (bool, error)
}

// Config configures an Engine.
type Config struct {
	// Prompter is nil when the session is not interactive.
	Prompter Prompter
	Quiet    bool
	Out      io.Writer
	Logger   *zap.Logger
}

// Options selects what to undo or redo.
type Options struct {
	// OpID selects a receipt; empty means the latest.
	OpID string
	// Yes answers every prompt with yes.
	Yes bool
	// NoPush skips restoring remote branches.
	NoPush bool
}

// RemoteOutcome reports the restore of one remote branch. Push failures
// are reported here rather than aborting the local restore.
type RemoteOutcome struct {
	Remote string
	Branch string
	OID    string
	Err    error
}

// Result describes an undo or redo.
type Result struct {
	Receipt  *ops.Receipt
	Restored []string
	Removed  []string
	Skipped  []string
	Remote   []RemoteOutcome
	Stashed  bool
}

// Engine performs undo and redo.
type Engine struct {
	git   Git
	store Store
	log   *ops.Log
	cfg   Config
	out   io.Writer
	zl    *zap.Logger
}

// New creates an Engine.
func New(g Git, store Store, log *ops.Log, cfg Config) *Engine {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	zl := cfg.Logger
	if zl == nil {
		zl = zap.NewNop()
	}
	return &Engine{git: g, store: store, log: log, cfg: cfg, out: out, zl: zl}
}

type direction int

const (
	backward direction = iota
	forward
)

func (d direction) verb() string {
	if d == backward {
		return "undo"
	}
	return "redo"
}

func (d direction) title() string {
	if d == backward {
		return "Undo"
	}
	return "Redo"
}

func (d direction) done() string {
	if d == backward {
		return "Undone"
	}
	return "Redone"
}

func (d direction) side() string {
	if d == backward {
		return "before"
	}
	return "after"
}

// removes reports whether the branch must not exist on this side of the
// operation: undo of a branch it created, redo of a branch it deleted.
func (d direction) removes(e ops.LocalRefEntry) bool {
	if d == backward {
		return !e.ExistedBefore && e.OIDAfter != nil
	}
	return e.Deleted
}

func (d direction) target(before, after *string) string {
	if d == backward {
		return ops.OID(before)
	}
	return ops.OID(after)
}

// Undo restores every branch touched by an operation to its commit before
// the operation, then deletes the operation's backup refs.
func (e *Engine) Undo(opts Options) (*Result, error) {
	r, err := e.load(opts.OpID, "undo")
	if err != nil {
		return nil, err
	}
	if !r.CanUndo() {
		return nil, errors.Wrap(ErrCannotUndo, r.OpID)
	}
	res, err := e.apply(r, backward, opts)
	if err != nil {
		return nil, err
	}
	n, err := e.store.DeleteBackupRefs(r.OpID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to delete backup refs")
	}
	e.zl.Debug("deleted backup refs", zap.String("op", r.OpID), zap.Int("count", n))
	return res, nil
}

// Redo moves every branch touched by a successful operation back to its
// commit after the operation.
func (e *Engine) Redo(opts Options) (*Result, error) {
	r, err := e.load(opts.OpID, "redo")
	if err != nil {
		return nil, err
	}
	if !r.CanRedo() {
		return nil, errors.Wrapf(ErrCannotRedo, "%s has no refs with after-OIDs", r.OpID)
	}
	if r.Status != ops.StatusSuccess {
		return nil, errors.Wrapf(ErrCannotRedo, "%s did not complete successfully (status: %s)", r.OpID, r.Status)
	}
	return e.apply(r, forward, opts)
}

func (e *Engine) load(opID, verb string) (*ops.Receipt, error) {
	if opID != "" {
		return e.log.Load(opID)
	}
	r, err := e.log.Latest()
	if errors.Is(err, ops.ErrNoOperations) {
		return nil, errors.Wrapf(err, "no operations to %s; run a stax command first", verb)
	}
	return r, err
}

func (e *Engine) printf(format string, args ...interface{}) {
	if !e.cfg.Quiet {
		fmt.Fprintf(e.out, format, args...)
	}
}

func (e *Engine) step(format string, args ...interface{}) {
	if !e.cfg.Quiet {
		ui.Fstep(e.out, format, args...)
	}
}

func (e *Engine) confirm(opts Options, question string, def bool) (bool, error) {
	switch {
	case opts.Yes:
		return true, nil
	case e.cfg.Quiet || e.cfg.Prompter == nil:
		return false, nil
	}
	return e.cfg.Prompter.Confirm(question, def)
}

func (e *Engine) apply(r *ops.Receipt, dir direction, opts Options) (*Result, error) {
	res := &Result{Receipt: r}

	e.printf("%s\n", ui.Bold(dir.title()+"ing operation..."))
	e.step("Operation: %s (%s)", ui.Command(r.OpID), r.Kind.DisplayName())
	e.step("Status: %s", r.Status)

	if e.git.IsRebaseInProgress() {
		e.step("Aborting in-progress rebase...")
		if err := e.git.RebaseAbort(); err != nil {
			return nil, errors.Wrap(err, "failed to abort rebase")
		}
	}

	stashed, err := e.stashIfDirty(r, dir, opts)
	if err != nil {
		return nil, err
	}
	res.Stashed = stashed

	current, err := e.git.CurrentBranch()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get current branch")
	}

	e.printf("\n%s\n", ui.Bold("Restoring local refs..."))
	moved := map[string]string{}
	var drop []ops.LocalRefEntry
	for _, entry := range r.LocalRefs {
		oid := dir.target(entry.OIDBefore, entry.OIDAfter)
		if oid == "" && dir.removes(entry) {
			drop = append(drop, entry)
			continue
		}
		if oid == "" {
			res.Skipped = append(res.Skipped, entry.Branch)
			e.step("%s skipped (no %s-OID recorded)", ui.Highlight(entry.Branch), dir.side())
			continue
		}
		if err := e.store.UpdateRef(entry.Refname, oid); err != nil {
			return nil, errors.Wrapf(err, "failed to restore %s", entry.Branch)
		}
		moved[entry.Branch] = oid
		res.Restored = append(res.Restored, entry.Branch)
		e.step("%s %s %s", ui.Command(entry.Branch), "→", ui.CommitSHA(oid))
	}

	if err := e.restoreMetadata(r, dir); err != nil {
		return nil, err
	}

	if err := e.syncWorktree(r, current, moved, drop); err != nil {
		return nil, err
	}
	removed, err := e.dropBranches(r, drop)
	if err != nil {
		return nil, err
	}
	res.Removed = removed

	if r.HasRemoteChanges() && !opts.NoPush {
		outcomes, err := e.restoreRemote(r, dir, opts)
		if err != nil {
			return nil, err
		}
		res.Remote = outcomes
	}

	if !e.cfg.Quiet {
		fmt.Fprintln(e.out)
		ui.Fsuccess(e.out, "%s! Restored %d %s.", dir.done(), len(res.Restored), ui.Plural(len(res.Restored), "branch", "branches"))
		if stashed {
			ui.Finfo(e.out, "Your local changes were stashed; run %s to get them back.", ui.Command("git stash pop"))
		}
	}
	return res, nil
}

func (e *Engine) stashIfDirty(r *ops.Receipt, dir direction, opts Options) (bool, error) {
	clean, err := e.git.IsClean()
	if err != nil {
		return false, errors.Wrap(err, "failed to check working tree status")
	}
	if clean {
		return false, nil
	}
	ok, err := e.confirm(opts, "Working tree has uncommitted changes. Stash them?", true)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrDirtyTree
	}
	if err := e.git.StashPush(fmt.Sprintf("stax %s %s", dir.verb(), r.OpID)); err != nil {
		return false, errors.Wrap(err, "failed to stash changes")
	}
	e.step("Stashed working tree changes.")
	return true, nil
}

// restoreMetadata puts every metadata ref back to the recorded blob. A
// metadata ref that did not exist before the operation is removed on undo
// and one the operation deleted is removed again on redo.
func (e *Engine) restoreMetadata(r *ops.Receipt, dir direction) error {
	for _, entry := range r.MetadataRefs {
		oid := dir.target(entry.OIDBefore, entry.OIDAfter)
		switch {
		case oid != "":
			if err := e.store.UpdateRef(entry.Refname, oid); err != nil {
				return errors.Wrapf(err, "failed to restore metadata of %s", entry.Branch)
			}
		case dir == backward && entry.OIDAfter != nil, dir == forward && entry.Deleted:
			if err := e.store.DeleteRef(entry.Refname); err != nil {
				return errors.Wrapf(err, "failed to remove metadata of %s", entry.Branch)
			}
		}
	}
	return nil
}

// syncWorktree brings the working tree in line with the moved refs. A
// checked-out branch moved by update-ref keeps its old files until reset.
func (e *Engine) syncWorktree(r *ops.Receipt, current string, moved map[string]string, drop []ops.LocalRefEntry) error {
	if oid, ok := moved[current]; ok && current != "" {
		if err := e.git.ResetHard(oid); err != nil {
			return errors.Wrapf(err, "failed to reset %s", current)
		}
	}

	head := r.HeadBranchBefore
	if head == "" || head == current || !e.git.BranchExists(head) {
		return nil
	}
	for _, entry := range drop {
		if entry.Branch == head {
			return nil
		}
	}
	e.step("Checking out %s...", ui.Command(head))
	if err := e.git.CheckoutSilent(head); err != nil {
		return errors.Wrapf(err, "failed to checkout %s", head)
	}
	if oid, ok := moved[head]; ok {
		if err := e.git.ResetHard(oid); err != nil {
			return errors.Wrapf(err, "failed to reset %s", head)
		}
	}
	return nil
}

// dropBranches deletes branches that must not exist after the restore.
// A dropped branch that is checked out is left for trunk first.
func (e *Engine) dropBranches(r *ops.Receipt, drop []ops.LocalRefEntry) ([]string, error) {
	var removed []string
	for _, entry := range drop {
		if !e.git.BranchExists(entry.Branch) {
			continue
		}
		current, err := e.git.CurrentBranch()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get current branch")
		}
		if current == entry.Branch {
			if r.Trunk == "" || r.Trunk == entry.Branch || !e.git.BranchExists(r.Trunk) {
				e.step("%s kept (checked out)", ui.Highlight(entry.Branch))
				continue
			}
			if err := e.git.CheckoutSilent(r.Trunk); err != nil {
				return nil, errors.Wrapf(err, "failed to checkout %s", r.Trunk)
			}
		}
		if err := e.store.DeleteRef(entry.Refname); err != nil {
			return nil, errors.Wrapf(err, "failed to remove %s", entry.Branch)
		}
		removed = append(removed, entry.Branch)
		e.step("%s removed", ui.Command(entry.Branch))
	}
	return removed, nil
}

// restoreRemote force-pushes the recorded commits to the remote branches.
// The local refs are left as the local restore set them.
func (e *Engine) restoreRemote(r *ops.Receipt, dir direction, opts Options) ([]RemoteOutcome, error) {
	var targets []ops.RemoteRefEntry
	for _, entry := range r.RemoteRefs {
		if dir.target(entry.OIDBefore, entry.OIDAfter) != "" {
			targets = append(targets, entry)
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}

	e.printf("\n%s\n", ui.Highlight(fmt.Sprintf("This operation force-pushed %d %s to remote.",
		len(targets), ui.Plural(len(targets), "branch", "branches"))))

	push, err := e.confirm(opts, "Force-push to restore remote branches too?", false)
	if err != nil {
		return nil, err
	}
	if !push {
		e.step("Skipping remote restore (local only)")
		return nil, nil
	}

	e.printf("\n%s\n", ui.Bold("Restoring remote refs..."))
	var out []RemoteOutcome
	for _, entry := range targets {
		oid := dir.target(entry.OIDBefore, entry.OIDAfter)
		err := e.git.PushCommit(entry.Remote, oid, entry.Branch)
		out = append(out, RemoteOutcome{Remote: entry.Remote, Branch: entry.Branch, OID: oid, Err: err})
		if err != nil {
			e.zl.Warn("remote restore failed", zap.String("remote", entry.Remote), zap.String("branch", entry.Branch), zap.Error(err))
			e.step("%s/%s %s", entry.Remote, ui.Command(entry.Branch), ui.Highlight("failed: "+err.Error()))
			continue
		}
		e.step("%s/%s → %s", entry.Remote, ui.Command(entry.Branch), ui.CommitSHA(oid))
	}
	return out, nil
}
