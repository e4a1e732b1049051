package refs

import (
	"strings"

	"github.com/pkg/errors"
)

// ReadMetadata returns the raw metadata blob of a branch.
func (s *Store) ReadMetadata(branch string) ([]byte, bool, error) {
	return s.ReadBlob(MetadataRef(branch))
}

// WriteMetadata replaces the metadata blob of a branch and returns its id.
func (s *Store) WriteMetadata(branch string, data []byte) (string, error) {
	return s.WriteBlob(MetadataRef(branch), data)
}

// DeleteMetadata removes a branch's metadata ref.
func (s *Store) DeleteMetadata(branch string) error {
	return s.DeleteRef(MetadataRef(branch))
}

// MetadataBranches lists every branch with a metadata ref.
func (s *Store) MetadataBranches() ([]string, error) {
	refs, err := s.ListRefs(MetadataPrefix)
	if err != nil {
		return nil, err
	}
	branches := make([]string, 0, len(refs))
	for _, r := range refs {
		branches = append(branches, strings.TrimPrefix(r.Name, MetadataPrefix))
	}
	return branches, nil
}

// ReadTrunk returns the configured trunk branch name.
func (s *Store) ReadTrunk() (string, bool, error) {
	return s.readName(TrunkRef)
}

// WriteTrunk records the trunk branch name.
func (s *Store) WriteTrunk(branch string) error {
	_, err := s.WriteBlob(TrunkRef, []byte(branch))
	return err
}

// ReadPrevBranch returns the branch checked out before the last switch.
func (s *Store) ReadPrevBranch() (string, bool, error) {
	return s.readName(PrevBranchRef)
}

// WritePrevBranch records the branch being switched away from.
func (s *Store) WritePrevBranch(branch string) error {
	_, err := s.WriteBlob(PrevBranchRef, []byte(branch))
	return err
}

func (s *Store) readName(ref string) (string, bool, error) {
	data, ok, err := s.ReadBlob(ref)
	if err != nil || !ok {
		return "", ok, err
	}
	name := strings.TrimSpace(string(data))
	return name, name != "", nil
}

// CreateBackupRef preserves a branch commit for an operation and returns
// the backup ref name.
func (s *Store) CreateBackupRef(opID, branch, oid string) (string, error) {
	name := BackupRef(opID, branch)
	if err := s.UpdateRef(name, oid); err != nil {
		return "", errors.Wrapf(err, "create backup ref for %s", branch)
	}
	return name, nil
}

// CreateMetadataBackupRef preserves a branch's metadata blob for an
// operation.
func (s *Store) CreateMetadataBackupRef(opID, branch, oid string) (string, error) {
	name := MetadataBackupRef(opID, branch)
	if err := s.UpdateRef(name, oid); err != nil {
		return "", errors.Wrapf(err, "create metadata backup ref for %s", branch)
	}
	return name, nil
}

// BackupRefs lists the commit and metadata backup refs of an operation.
func (s *Store) BackupRefs(opID string) ([]Ref, error) {
	var out []Ref
	for _, prefix := range []string{BackupPrefix, MetaBackupPrefix} {
		refs, err := s.ListRefs(prefix + opID + "/")
		if err != nil {
			return nil, err
		}
		out = append(out, refs...)
	}
	return out, nil
}

// DeleteBackupRefs removes every backup ref of an operation and returns
// how many were removed.
func (s *Store) DeleteBackupRefs(opID string) (int, error) {
	refs, err := s.BackupRefs(opID)
	if err != nil {
		return 0, err
	}
	for _, r := range refs {
		if err := s.DeleteRef(r.Name); err != nil {
			return 0, err
		}
	}
	return len(refs), nil
}
