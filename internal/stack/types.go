// Package stack provides data structures and operations for managing stacked branches.
package stack

import (
	"encoding/json"

	"github.com/pkg/errors"
)

var (
	// ErrNotTracked is returned when a branch has no metadata.
	ErrNotTracked = errors.New("branch is not tracked")
	// ErrCorruptStack is returned when parent links form a cycle.
	ErrCorruptStack = errors.New("stack metadata is corrupt: parent links form a cycle")
)

// BranchMetadata is the per-branch record stored behind
// refs/branch-metadata/<branch>. The JSON layout is shared with
// freephite and graphite.
type BranchMetadata struct {
	ParentBranchName     string  `json:"parentBranchName"`
	ParentBranchRevision string  `json:"parentBranchRevision"`
	PRInfo               *PRInfo `json:"prInfo,omitempty"`
}

// PRInfo represents pull request metadata for a branch.
type PRInfo struct {
	Number  int    `json:"number"`
	State   string `json:"state"` // OPEN, CLOSED, MERGED
	IsDraft *bool  `json:"isDraft,omitempty"`
}

// NewMetadata creates metadata pointing at parent as of revision.
func NewMetadata(parent, revision string) *BranchMetadata {
	return &BranchMetadata{
		ParentBranchName:     parent,
		ParentBranchRevision: revision,
	}
}

// Marshal encodes the metadata as stored in the metadata blob.
func (m *BranchMetadata) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMetadata decodes a metadata blob.
func ParseMetadata(data []byte) (*BranchMetadata, error) {
	var m BranchMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decode branch metadata")
	}
	if m.ParentBranchName == "" {
		return nil, errors.New("branch metadata has no parentBranchName")
	}
	return &m, nil
}

// Node is a branch in the loaded stack forest.
type Node struct {
	Name string
	// Parent is the declared parent branch; empty for trunk.
	Parent   string
	Children []string
	// Revision is the stored parentBranchRevision.
	Revision string
	// NeedsRestack is set when the parent's tip differs from Revision.
	NeedsRestack bool
	// ParentMissing marks a branch whose declared parent is neither trunk
	// nor tracked. It is attached under trunk for traversal.
	ParentMissing bool
	// Missing marks tracked metadata whose branch no longer exists.
	Missing bool
	PR      *PRInfo
}

// IsTrunk reports whether the node is the synthesized trunk root.
func (n *Node) IsTrunk() bool {
	return n.Parent == ""
}

// ValidationError represents a stack validation issue.
type ValidationError struct {
	Branch  string
	Message string
}

func (e ValidationError) Error() string {
	return e.Branch + ": " + e.Message
}
