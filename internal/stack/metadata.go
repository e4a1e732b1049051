package stack

import (
	"github.com/pkg/errors"
)

// Store is the ref storage the stack model reads from and writes to.
type Store interface {
	ReadMetadata(branch string) ([]byte, bool, error)
	WriteMetadata(branch string, data []byte) (string, error)
	DeleteMetadata(branch string) error
	MetadataBranches() ([]string, error)
	BranchCommit(branch string) (string, bool, error)
}

// ReadMetadata loads a branch's metadata, returning ErrNotTracked when
// the branch has none.
func ReadMetadata(store Store, branch string) (*BranchMetadata, error) {
	data, ok, err := store.ReadMetadata(branch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrap(ErrNotTracked, branch)
	}
	m, err := ParseMetadata(data)
	if err != nil {
		return nil, errors.Wrapf(err, "metadata of %s", branch)
	}
	return m, nil
}

// WriteMetadata stores a branch's metadata and returns the blob id.
func WriteMetadata(store Store, branch string, m *BranchMetadata) (string, error) {
	data, err := m.Marshal()
	if err != nil {
		return "", errors.Wrapf(err, "encode metadata of %s", branch)
	}
	oid, err := store.WriteMetadata(branch, data)
	if err != nil {
		return "", errors.Wrapf(err, "write metadata of %s", branch)
	}
	return oid, nil
}

// DeleteMetadata removes a branch's metadata.
func DeleteMetadata(store Store, branch string) error {
	return errors.Wrapf(store.DeleteMetadata(branch), "delete metadata of %s", branch)
}

// IsTracked reports whether a branch has metadata.
func IsTracked(store Store, branch string) (bool, error) {
	_, ok, err := store.ReadMetadata(branch)
	return ok, err
}

// UpdateParentRevision records the parent's current tip as the branch's
// base, as after a rebase onto the parent.
func UpdateParentRevision(store Store, branch string, md *BranchMetadata) error {
	tip, ok, err := store.BranchCommit(md.ParentBranchName)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("parent branch %q of %s does not exist", md.ParentBranchName, branch)
	}
	md.ParentBranchRevision = tip
	_, err = WriteMetadata(store, branch, md)
	return err
}
