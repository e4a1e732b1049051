// Package ops records history-rewriting operations so they can be undone
// and redone. Each operation leaves a receipt under <git-dir>/stax/ops and
// backup refs under refs/stax/backups/<op-id>/.
package ops

import (
	"fmt"
	"time"
)

// Status of an operation.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Kind of operation.
type Kind string

const (
	KindRestack        Kind = "restack"
	KindUpstackRestack Kind = "upstack_restack"
	KindSyncRestack    Kind = "sync_restack"
	KindSubmit         Kind = "submit"
	KindReorder        Kind = "reorder"
	KindSplit          Kind = "split"
	KindSquash         Kind = "squash"
	KindFold           Kind = "fold"
	KindModify         Kind = "modify"
	KindRename         Kind = "rename"
	KindDelete         Kind = "delete"
	KindSyncCleanup    Kind = "sync_cleanup"
)

// DisplayName returns the command that produces this kind of operation.
func (k Kind) DisplayName() string {
	switch k {
	case KindUpstackRestack:
		return "upstack restack"
	case KindSyncRestack:
		return "sync --restack"
	case KindReorder:
		return "move"
	case KindSyncCleanup:
		return "sync cleanup"
	}
	return string(k)
}

// LocalRefEntry records a local branch touched by an operation. Deleted
// is set when the operation removed the branch.
type LocalRefEntry struct {
	Branch        string  `json:"branch" yaml:"branch"`
	Refname       string  `json:"refname" yaml:"refname"`
	ExistedBefore bool    `json:"existed_before" yaml:"existed_before"`
	OIDBefore     *string `json:"oid_before" yaml:"oid_before"`
	OIDAfter      *string `json:"oid_after" yaml:"oid_after"`
	Deleted       bool    `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

// MetadataRefEntry records the metadata blob of a branch touched by an
// operation. A nil OID means the metadata ref did not exist.
type MetadataRefEntry struct {
	Branch    string  `json:"branch" yaml:"branch"`
	Refname   string  `json:"refname" yaml:"refname"`
	OIDBefore *string `json:"oid_before" yaml:"oid_before"`
	OIDAfter  *string `json:"oid_after" yaml:"oid_after"`
	Deleted   bool    `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

// RemoteRefEntry records a remote branch touched by an operation.
type RemoteRefEntry struct {
	Remote        string  `json:"remote" yaml:"remote"`
	Branch        string  `json:"branch" yaml:"branch"`
	RemoteRefname string  `json:"remote_refname" yaml:"remote_refname"`
	OIDBefore     *string `json:"oid_before" yaml:"oid_before"`
	OIDAfter      *string `json:"oid_after" yaml:"oid_after"`
}

// OpError describes why an operation failed.
type OpError struct {
	Message      string `json:"message" yaml:"message"`
	FailedStep   string `json:"failed_step,omitempty" yaml:"failed_step,omitempty"`
	FailedBranch string `json:"failed_branch,omitempty" yaml:"failed_branch,omitempty"`
}

// PlanSummary is shown to the user before an operation runs.
type PlanSummary struct {
	BranchesToRebase int      `json:"branches_to_rebase" yaml:"branches_to_rebase"`
	BranchesToPush   int      `json:"branches_to_push" yaml:"branches_to_push"`
	Description      []string `json:"description" yaml:"description"`
}

// Receipt is the persisted record of one operation.
type Receipt struct {
	OpID             string             `json:"op_id" yaml:"op_id"`
	Kind             Kind               `json:"kind" yaml:"kind"`
	StartedAt        time.Time          `json:"started_at" yaml:"started_at"`
	FinishedAt       *time.Time         `json:"finished_at" yaml:"finished_at"`
	Status           Status             `json:"status" yaml:"status"`
	RepoWorkdir      string             `json:"repo_workdir" yaml:"repo_workdir"`
	Trunk            string             `json:"trunk" yaml:"trunk"`
	HeadBranchBefore string             `json:"head_branch_before" yaml:"head_branch_before"`
	LocalRefs        []LocalRefEntry    `json:"local_refs" yaml:"local_refs"`
	MetadataRefs     []MetadataRefEntry `json:"metadata_refs,omitempty" yaml:"metadata_refs,omitempty"`
	RemoteRefs       []RemoteRefEntry   `json:"remote_refs" yaml:"remote_refs"`
	PlanSummary      PlanSummary        `json:"plan_summary" yaml:"plan_summary"`
	Error            *OpError           `json:"error" yaml:"error"`
}

// NewReceipt creates an in-progress receipt.
func NewReceipt(opID string, kind Kind, workdir, trunk, headBefore string) *Receipt {
	return &Receipt{
		OpID:             opID,
		Kind:             kind,
		StartedAt:        time.Now().UTC(),
		Status:           StatusInProgress,
		RepoWorkdir:      workdir,
		Trunk:            trunk,
		HeadBranchBefore: headBefore,
		LocalRefs:        []LocalRefEntry{},
		RemoteRefs:       []RemoteRefEntry{},
		PlanSummary:      PlanSummary{Description: []string{}},
	}
}

func optional(oid string) *string {
	if oid == "" {
		return nil
	}
	return &oid
}

// OID dereferences an optional object id.
func OID(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// AddLocalRef records the state of a branch before the operation. An
// empty oid means the branch did not exist.
func (r *Receipt) AddLocalRef(branch, oidBefore string) {
	r.LocalRefs = append(r.LocalRefs, LocalRefEntry{
		Branch:        branch,
		Refname:       "refs/heads/" + branch,
		ExistedBefore: oidBefore != "",
		OIDBefore:     optional(oidBefore),
	})
}

// AddMetadataRef records a branch's metadata blob before the operation.
func (r *Receipt) AddMetadataRef(branch, refname, oidBefore string) {
	r.MetadataRefs = append(r.MetadataRefs, MetadataRefEntry{
		Branch:    branch,
		Refname:   refname,
		OIDBefore: optional(oidBefore),
	})
}

// AddRemoteRef records a remote branch before the operation.
func (r *Receipt) AddRemoteRef(remote, branch, oidBefore string) {
	r.RemoteRefs = append(r.RemoteRefs, RemoteRefEntry{
		Remote:        remote,
		Branch:        branch,
		RemoteRefname: fmt.Sprintf("refs/remotes/%s/%s", remote, branch),
		OIDBefore:     optional(oidBefore),
	})
}

// UpdateLocalRefAfter records the commit a branch ended at.
func (r *Receipt) UpdateLocalRefAfter(branch, oidAfter string) bool {
	for i := range r.LocalRefs {
		if r.LocalRefs[i].Branch == branch {
			r.LocalRefs[i].OIDAfter = optional(oidAfter)
			return true
		}
	}
	return false
}

// MarkLocalRefDeleted records that the operation removed a branch.
func (r *Receipt) MarkLocalRefDeleted(branch string) bool {
	for i := range r.LocalRefs {
		if r.LocalRefs[i].Branch == branch {
			r.LocalRefs[i].OIDAfter = nil
			r.LocalRefs[i].Deleted = true
			return true
		}
	}
	return false
}

// MarkMetadataRefDeleted records that the operation removed a branch's
// metadata.
func (r *Receipt) MarkMetadataRefDeleted(branch string) bool {
	for i := range r.MetadataRefs {
		if r.MetadataRefs[i].Branch == branch {
			r.MetadataRefs[i].OIDAfter = nil
			r.MetadataRefs[i].Deleted = true
			return true
		}
	}
	return false
}

// UpdateMetadataRefAfter records the metadata blob a branch ended with.
func (r *Receipt) UpdateMetadataRefAfter(branch, oidAfter string) bool {
	for i := range r.MetadataRefs {
		if r.MetadataRefs[i].Branch == branch {
			r.MetadataRefs[i].OIDAfter = optional(oidAfter)
			return true
		}
	}
	return false
}

// UpdateRemoteRefAfter records the commit pushed to a remote branch.
func (r *Receipt) UpdateRemoteRefAfter(remote, branch, oidAfter string) bool {
	for i := range r.RemoteRefs {
		if r.RemoteRefs[i].Remote == remote && r.RemoteRefs[i].Branch == branch {
			r.RemoteRefs[i].OIDAfter = optional(oidAfter)
			return true
		}
	}
	return false
}

// LocalRef returns the entry for a branch.
func (r *Receipt) LocalRef(branch string) (LocalRefEntry, bool) {
	for _, e := range r.LocalRefs {
		if e.Branch == branch {
			return e, true
		}
	}
	return LocalRefEntry{}, false
}

// MetadataRef returns the metadata entry for a branch.
func (r *Receipt) MetadataRef(branch string) (MetadataRefEntry, bool) {
	for _, e := range r.MetadataRefs {
		if e.Branch == branch {
			return e, true
		}
	}
	return MetadataRefEntry{}, false
}

// MarkSuccess finalizes the receipt as successful.
func (r *Receipt) MarkSuccess() {
	r.finish(StatusSuccess)
	r.Error = nil
}

// MarkFailed finalizes the receipt as failed.
func (r *Receipt) MarkFailed(message, step, branch string) {
	r.finish(StatusFailed)
	r.Error = &OpError{Message: message, FailedStep: step, FailedBranch: branch}
}

func (r *Receipt) finish(s Status) {
	now := time.Now().UTC()
	r.Status = s
	r.FinishedAt = &now
}

// CanUndo reports whether any branch has a recorded pre-operation commit.
func (r *Receipt) CanUndo() bool {
	for _, e := range r.LocalRefs {
		if e.OIDBefore != nil {
			return true
		}
	}
	return false
}

// CanRedo reports whether any branch has a recorded post-operation commit
// or was deleted by the operation.
func (r *Receipt) CanRedo() bool {
	for _, e := range r.LocalRefs {
		if e.OIDAfter != nil || e.Deleted {
			return true
		}
	}
	return false
}

// HasRemoteChanges reports whether the operation touched remote branches.
func (r *Receipt) HasRemoteChanges() bool {
	return len(r.RemoteRefs) > 0
}

// ModifiedBranchCount counts branches whose commit changed.
func (r *Receipt) ModifiedBranchCount() int {
	n := 0
	for _, e := range r.LocalRefs {
		if OID(e.OIDBefore) != OID(e.OIDAfter) {
			n++
		}
	}
	return n
}
