package stack

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Git is the subset of git the manager needs to compute fork points.
type Git interface {
	MergeBase(a, b string) (string, error)
	IsAncestor(a, b string) bool
}

// Manager provides high-level operations on branch metadata.
type Manager struct {
	store Store
	git   Git
	trunk string
	log   *zap.Logger
}

// NewManager creates a new stack manager.
func NewManager(store Store, git Git, trunk string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, git: git, trunk: trunk, log: log}
}

// Trunk returns the trunk branch name.
func (m *Manager) Trunk() string {
	return m.trunk
}

// Store returns the underlying ref storage.
func (m *Manager) Store() Store {
	return m.store
}

// Load builds the current stack forest.
func (m *Manager) Load() (*Stack, error) {
	return Load(m.store, m.trunk)
}

// Track records parent as the parent of branch. The stored revision is
// the fork point of the two branches, so the branch is not considered
// out of date when the parent has not moved since it was created.
func (m *Manager) Track(branch, parent string) error {
	if branch == m.trunk {
		return errors.New("trunk cannot be tracked")
	}
	if branch == parent {
		return errors.Errorf("branch %q cannot be its own parent", branch)
	}
	if _, ok, err := m.store.BranchCommit(branch); err != nil {
		return err
	} else if !ok {
		return errors.Errorf("branch %q does not exist", branch)
	}
	if err := m.ensureNoCycle(branch, parent); err != nil {
		return err
	}

	rev, err := m.forkPoint(parent, branch)
	if err != nil {
		return err
	}

	md := NewMetadata(parent, rev)
	if existing, err := ReadMetadata(m.store, branch); err == nil {
		md.PRInfo = existing.PRInfo
	}
	if _, err := WriteMetadata(m.store, branch, md); err != nil {
		return err
	}
	m.log.Debug("tracked branch", zap.String("branch", branch), zap.String("parent", parent), zap.String("revision", rev))
	return nil
}

// Untrack removes a branch's metadata. Its children are moved to the
// branch's parent with their stored revisions unchanged.
func (m *Manager) Untrack(branch string) error {
	md, err := ReadMetadata(m.store, branch)
	if err != nil {
		return err
	}
	s, err := m.Load()
	if err != nil {
		return err
	}
	for _, child := range s.Children(branch) {
		cmd, err := ReadMetadata(m.store, child)
		if err != nil {
			return err
		}
		cmd.ParentBranchName = md.ParentBranchName
		if _, err := WriteMetadata(m.store, child, cmd); err != nil {
			return err
		}
	}
	return DeleteMetadata(m.store, branch)
}

// Reparent changes a branch's parent. The stored revision keeps marking
// where the branch's own commits start, so a following restack moves
// exactly those commits onto the new parent.
func (m *Manager) Reparent(branch, parent string) error {
	md, err := ReadMetadata(m.store, branch)
	if err != nil {
		return err
	}
	if branch == parent {
		return errors.Errorf("branch %q cannot be its own parent", branch)
	}
	if err := m.ensureNoCycle(branch, parent); err != nil {
		return err
	}
	if _, ok, err := m.store.BranchCommit(parent); err != nil {
		return err
	} else if !ok {
		return errors.Errorf("branch %q does not exist", parent)
	}

	if md.ParentBranchRevision == "" || !m.git.IsAncestor(md.ParentBranchRevision, branch) {
		rev, err := m.forkPoint(parent, branch)
		if err != nil {
			return err
		}
		md.ParentBranchRevision = rev
	}
	md.ParentBranchName = parent
	_, err = WriteMetadata(m.store, branch, md)
	return err
}

// SetRevision records rev as the point the branch's own commits start
// from. Squash calls it after rewriting the branch onto its fork point.
func (m *Manager) SetRevision(branch, rev string) error {
	md, err := ReadMetadata(m.store, branch)
	if err != nil {
		return err
	}
	if md.ParentBranchRevision == rev {
		return nil
	}
	md.ParentBranchRevision = rev
	_, err = WriteMetadata(m.store, branch, md)
	return err
}

// Rename moves a branch's metadata to its new name and points its
// children at it. The git branch must already be renamed.
func (m *Manager) Rename(oldName, newName string) error {
	md, err := ReadMetadata(m.store, oldName)
	if err != nil {
		return err
	}
	s, err := m.Load()
	if err != nil {
		return err
	}
	if _, err := WriteMetadata(m.store, newName, md); err != nil {
		return err
	}
	for _, child := range s.Children(oldName) {
		cmd, err := ReadMetadata(m.store, child)
		if err != nil {
			return err
		}
		cmd.ParentBranchName = newName
		if _, err := WriteMetadata(m.store, child, cmd); err != nil {
			return err
		}
	}
	m.log.Debug("renamed branch metadata", zap.String("from", oldName), zap.String("to", newName))
	return DeleteMetadata(m.store, oldName)
}

// Split inserts newBranch below branch. newBranch takes over the
// branch's parent and base, and branch continues from at, which must be
// newBranch's tip.
func (m *Manager) Split(branch, newBranch, at string) error {
	md, err := ReadMetadata(m.store, branch)
	if err != nil {
		return err
	}
	below := NewMetadata(md.ParentBranchName, md.ParentBranchRevision)
	if _, err := WriteMetadata(m.store, newBranch, below); err != nil {
		return err
	}
	md.ParentBranchName = newBranch
	md.ParentBranchRevision = at
	_, err = WriteMetadata(m.store, branch, md)
	return err
}

func (m *Manager) forkPoint(parent, branch string) (string, error) {
	if base, err := m.git.MergeBase(parent, branch); err == nil && base != "" {
		return base, nil
	}
	tip, ok, err := m.store.BranchCommit(parent)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.Errorf("branch %q does not exist", parent)
	}
	return tip, nil
}

func (m *Manager) ensureNoCycle(branch, parent string) error {
	if parent == m.trunk {
		return nil
	}
	s, err := m.Load()
	if err != nil {
		return err
	}
	if !s.Tracked(branch) {
		return nil
	}
	descendants, err := s.Descendants(branch)
	if err != nil {
		return err
	}
	for _, d := range descendants {
		if d == parent {
			return errors.Errorf("cannot make %s the parent of %s: it is stacked on top of it", parent, branch)
		}
	}
	return nil
}
