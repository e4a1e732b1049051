package ops

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stefanaki/stax/internal/refs"
	"github.com/stefanaki/stax/internal/ui"
)

var (
	// ErrTxOrder is returned when transaction steps are called out of order.
	ErrTxOrder = errors.New("transaction step out of order")
	// ErrTxFinished is returned when a finished transaction is used again.
	ErrTxFinished = errors.New("transaction already finished")
)

const abandonedMessage = "transaction abandoned before finishing"

// Repo is the ref storage a transaction snapshots.
type Repo interface {
	ResolveRef(name string) (string, bool, error)
	BranchCommit(branch string) (string, bool, error)
	RemoteBranchCommit(remote, branch string) (string, bool, error)
	CreateBackupRef(opID, branch, oid string) (string, error)
	CreateMetadataBackupRef(opID, branch, oid string) (string, error)
	DeleteRef(name string) error
}

// BeginOptions configures a transaction.
type BeginOptions struct {
	Trunk      string
	HeadBranch string
	Workdir    string
	// Quiet suppresses progress output and the recovery hint.
	Quiet  bool
	Out    io.Writer
	Logger *zap.Logger
}

// Transaction wraps a history-rewriting operation. Callers plan the refs
// they will touch, snapshot them, mutate, record the results and finish:
//
//	tx := ops.Begin(ops.KindRestack, store, log, opts)
//	defer tx.Close()
//	tx.PlanBranches(branches)
//	if err := tx.Snapshot(); err != nil { ... }
//	// rebase, push ...
//	tx.RecordAfter(branch)
//	return tx.FinishOK()
type Transaction struct {
	receipt *Receipt
	repo    Repo
	log     *Log
	out     io.Writer
	quiet   bool
	logger  *zap.Logger

	snapshotted bool
	finished    bool
}

// Begin starts a transaction of the given kind.
func Begin(kind Kind, repo Repo, log *Log, opts BeginOptions) *Transaction {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := NewReceipt(GenerateOpID(), kind, opts.Workdir, opts.Trunk, opts.HeadBranch)
	logger.Debug("begin transaction", zap.String("op", r.OpID), zap.String("kind", string(kind)))
	return &Transaction{
		receipt: r,
		repo:    repo,
		log:     log,
		out:     out,
		quiet:   opts.Quiet,
		logger:  logger,
	}
}

// OpID returns the id of the operation.
func (tx *Transaction) OpID() string {
	return tx.receipt.OpID
}

// Receipt returns the transaction's receipt.
func (tx *Transaction) Receipt() *Receipt {
	return tx.receipt
}

func (tx *Transaction) checkPlanning() error {
	if tx.finished {
		return ErrTxFinished
	}
	if tx.snapshotted {
		return errors.Wrap(ErrTxOrder, "cannot plan after snapshot")
	}
	return nil
}

func (tx *Transaction) checkRecording() error {
	if tx.finished {
		return ErrTxFinished
	}
	if !tx.snapshotted {
		return errors.Wrap(ErrTxOrder, "cannot record before snapshot")
	}
	return nil
}

// PlanBranch records a branch's commit and metadata before the operation.
func (tx *Transaction) PlanBranch(branch string) error {
	if err := tx.checkPlanning(); err != nil {
		return err
	}
	if _, ok := tx.receipt.LocalRef(branch); ok {
		return nil
	}
	oid, _, err := tx.repo.BranchCommit(branch)
	if err != nil {
		return errors.Wrapf(err, "plan %s", branch)
	}
	metaRef := refs.MetadataRef(branch)
	metaOID, _, err := tx.repo.ResolveRef(metaRef)
	if err != nil {
		return errors.Wrapf(err, "plan %s", branch)
	}
	tx.receipt.AddLocalRef(branch, oid)
	tx.receipt.AddMetadataRef(branch, metaRef, metaOID)
	return nil
}

// PlanBranches plans several branches.
func (tx *Transaction) PlanBranches(branches []string) error {
	for _, b := range branches {
		if err := tx.PlanBranch(b); err != nil {
			return err
		}
	}
	return nil
}

// PlanRemoteBranch records a remote-tracking branch before a push.
func (tx *Transaction) PlanRemoteBranch(remote, branch string) error {
	if err := tx.checkPlanning(); err != nil {
		return err
	}
	oid, _, err := tx.repo.RemoteBranchCommit(remote, branch)
	if err != nil {
		return errors.Wrapf(err, "plan %s/%s", remote, branch)
	}
	tx.receipt.AddRemoteRef(remote, branch, oid)
	return nil
}

// SetPlanSummary sets the summary shown to the user.
func (tx *Transaction) SetPlanSummary(s PlanSummary) {
	if s.Description == nil {
		s.Description = []string{}
	}
	tx.receipt.PlanSummary = s
}

// Snapshot creates backup refs for every planned branch and persists the
// in-progress receipt. Once it returns nil the operation is recoverable.
// On failure every backup ref it created is removed again.
func (tx *Transaction) Snapshot() error {
	if err := tx.checkPlanning(); err != nil {
		return err
	}

	var created []string
	rollback := func(cause error) error {
		for _, name := range created {
			if err := tx.repo.DeleteRef(name); err != nil {
				tx.logger.Warn("failed to remove backup ref", zap.String("ref", name), zap.Error(err))
			}
		}
		return cause
	}

	for _, e := range tx.receipt.LocalRefs {
		if e.OIDBefore == nil {
			continue
		}
		name, err := tx.repo.CreateBackupRef(tx.receipt.OpID, e.Branch, *e.OIDBefore)
		if err != nil {
			return rollback(err)
		}
		created = append(created, name)
	}
	for _, e := range tx.receipt.MetadataRefs {
		if e.OIDBefore == nil {
			continue
		}
		name, err := tx.repo.CreateMetadataBackupRef(tx.receipt.OpID, e.Branch, *e.OIDBefore)
		if err != nil {
			return rollback(err)
		}
		created = append(created, name)
	}

	if err := tx.log.Save(tx.receipt); err != nil {
		return rollback(err)
	}
	tx.snapshotted = true
	tx.logger.Debug("snapshot taken", zap.String("op", tx.receipt.OpID), zap.Int("backups", len(created)))

	if !tx.quiet && len(tx.receipt.LocalRefs) > 0 {
		ui.Fstep(tx.out, "Backup refs created: %s", ui.Dim(refs.BackupPrefix+tx.receipt.OpID+"/*"))
	}
	return nil
}

// RecordAfter records the commit and metadata a branch ended with. A
// branch or metadata ref that existed before and is gone now is recorded
// as deleted.
func (tx *Transaction) RecordAfter(branch string) error {
	if err := tx.checkRecording(); err != nil {
		return err
	}
	oid, ok, err := tx.repo.BranchCommit(branch)
	if err != nil {
		return errors.Wrapf(err, "record %s", branch)
	}
	if ok {
		tx.receipt.UpdateLocalRefAfter(branch, oid)
	} else if e, planned := tx.receipt.LocalRef(branch); planned && e.ExistedBefore {
		tx.receipt.MarkLocalRefDeleted(branch)
	}
	metaOID, ok, err := tx.repo.ResolveRef(refs.MetadataRef(branch))
	if err != nil {
		return errors.Wrapf(err, "record %s", branch)
	}
	if ok {
		tx.receipt.UpdateMetadataRefAfter(branch, metaOID)
	} else if e, planned := tx.receipt.MetadataRef(branch); planned && e.OIDBefore != nil {
		tx.receipt.MarkMetadataRefDeleted(branch)
	}
	return nil
}

// RecordAllAfter records every planned branch.
func (tx *Transaction) RecordAllAfter() error {
	for _, e := range tx.receipt.LocalRefs {
		if err := tx.RecordAfter(e.Branch); err != nil {
			return err
		}
	}
	return nil
}

// RecordRemoteAfter records the commit pushed to a remote branch.
func (tx *Transaction) RecordRemoteAfter(remote, branch, oid string) error {
	if err := tx.checkRecording(); err != nil {
		return err
	}
	tx.receipt.UpdateRemoteRefAfter(remote, branch, oid)
	return nil
}

// FinishOK marks the operation successful and persists the receipt.
func (tx *Transaction) FinishOK() error {
	if tx.finished {
		return ErrTxFinished
	}
	tx.finished = true
	if !tx.snapshotted {
		return nil
	}
	tx.receipt.MarkSuccess()
	return tx.log.Save(tx.receipt)
}

// FinishErr marks the operation failed, persists the receipt and tells
// the user how to recover.
func (tx *Transaction) FinishErr(message, step, branch string) error {
	if tx.finished {
		return ErrTxFinished
	}
	tx.finished = true
	if !tx.snapshotted {
		return nil
	}
	tx.receipt.MarkFailed(message, step, branch)
	if err := tx.log.Save(tx.receipt); err != nil {
		return err
	}
	if !tx.quiet {
		fmt.Fprintln(tx.out)
		fmt.Fprintln(tx.out, ui.Highlight("Your repo is recoverable via:"))
		fmt.Fprintf(tx.out, "  %s\n", ui.Command("stax undo"))
	}
	return nil
}

// Close finalizes a transaction that was snapshotted but never finished,
// persisting it as failed. It is safe to call after FinishOK or FinishErr
// and is meant to be deferred right after Begin.
func (tx *Transaction) Close() error {
	if tx.finished || !tx.snapshotted {
		tx.finished = true
		return nil
	}
	tx.finished = true
	tx.receipt.MarkFailed(abandonedMessage, "", "")
	tx.logger.Warn("transaction abandoned", zap.String("op", tx.receipt.OpID))
	return tx.log.Save(tx.receipt)
}

// PrintPlan writes a plan summary to w.
func PrintPlan(w io.Writer, s PlanSummary) {
	if s.BranchesToRebase > 0 {
		ui.Fstep(w, "About to rebase %s %s", ui.Command(fmt.Sprint(s.BranchesToRebase)), ui.Plural(s.BranchesToRebase, "branch", "branches"))
	}
	if s.BranchesToPush > 0 {
		ui.Fstep(w, "Will force-push %s %s", ui.Command(fmt.Sprint(s.BranchesToPush)), ui.Plural(s.BranchesToPush, "branch", "branches"))
	}
	for _, d := range s.Description {
		ui.Fstep(w, "%s", d)
	}
}
