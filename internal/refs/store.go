// Package refs stores stax state inside the repository's private ref
// namespaces. Reads go through go-git; writes shell out to git so that
// reflogs and hooks behave as they do for any other ref update.
package refs

import (
	"io"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stefanaki/stax/internal/git"
)

// Ref namespaces owned by stax.
const (
	MetadataPrefix     = "refs/branch-metadata/"
	BackupPrefix       = "refs/stax/backups/"
	MetaBackupPrefix   = "refs/stax/meta-backups/"
	TrunkRef           = "refs/stax/trunk"
	PrevBranchRef      = "refs/stax/prev-branch"
	branchPrefix       = "refs/heads/"
	remoteBranchPrefix = "refs/remotes/"
)

// Ref is a resolved reference.
type Ref struct {
	Name string
	OID  string
}

// Store reads and writes refs and the blobs behind them.
type Store struct {
	git  *git.Git
	repo *gogit.Repository
	log  *zap.Logger
}

// Open opens the repository containing g's working directory.
func Open(g *git.Git, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	path := g.WorkDir
	if path == "" {
		path = "."
	}
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open repository at %s", path)
	}
	return &Store{git: g, repo: repo, log: log}, nil
}

// Git returns the command wrapper the store writes through.
func (s *Store) Git() *git.Git {
	return s.git
}

// BranchRef returns the full ref name of a local branch.
func BranchRef(branch string) string {
	return branchPrefix + branch
}

// MetadataRef returns the ref holding a branch's metadata blob.
func MetadataRef(branch string) string {
	return MetadataPrefix + branch
}

// BackupRef returns the ref preserving a branch's commit for an operation.
func BackupRef(opID, branch string) string {
	return BackupPrefix + opID + "/" + branch
}

// MetadataBackupRef returns the ref preserving a branch's metadata blob
// for an operation.
func MetadataBackupRef(opID, branch string) string {
	return MetaBackupPrefix + opID + "/" + branch
}

// ResolveRef returns the object id a ref points at. A missing ref is
// reported through ok, not as an error.
func (s *Store) ResolveRef(name string) (oid string, ok bool, err error) {
	ref, err := s.repo.Reference(plumbing.ReferenceName(name), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "resolve %s", name)
	}
	return ref.Hash().String(), true, nil
}

// BranchCommit returns the commit a local branch points at.
func (s *Store) BranchCommit(branch string) (string, bool, error) {
	return s.ResolveRef(BranchRef(branch))
}

// RemoteBranchCommit returns the commit of a remote-tracking branch.
func (s *Store) RemoteBranchCommit(remote, branch string) (string, bool, error) {
	return s.ResolveRef(remoteBranchPrefix + remote + "/" + branch)
}

// ReadBlob returns the content of the blob a ref points at.
func (s *Store) ReadBlob(name string) ([]byte, bool, error) {
	oid, ok, err := s.ResolveRef(name)
	if err != nil || !ok {
		return nil, ok, err
	}
	data, err := s.ReadObject(oid)
	if err != nil {
		return nil, false, errors.Wrapf(err, "read %s", name)
	}
	return data, true, nil
}

// ReadObject returns the content of a blob by id.
func (s *Store) ReadObject(oid string) ([]byte, error) {
	blob, err := s.repo.BlobObject(plumbing.NewHash(oid))
	if err != nil {
		return nil, errors.Wrapf(err, "get blob %s", oid)
	}
	reader, err := blob.Reader()
	if err != nil {
		return nil, errors.Wrapf(err, "open blob %s", oid)
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

// WriteBlob stores data as a blob and points ref at it.
func (s *Store) WriteBlob(name string, data []byte) (string, error) {
	oid, err := s.git.HashObject(data)
	if err != nil {
		return "", errors.Wrap(err, "write blob")
	}
	if err := s.UpdateRef(name, oid); err != nil {
		return "", err
	}
	return oid, nil
}

// UpdateRef points a ref at an object unconditionally.
func (s *Store) UpdateRef(name, oid string) error {
	s.log.Debug("update ref", zap.String("ref", name), zap.String("oid", oid))
	if err := s.git.UpdateRef(name, oid); err != nil {
		return errors.Wrapf(err, "update %s", name)
	}
	return nil
}

// DeleteRef removes a ref. Deleting a missing ref is not an error.
func (s *Store) DeleteRef(name string) error {
	_, ok, err := s.ResolveRef(name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.log.Debug("delete ref", zap.String("ref", name))
	if err := s.git.DeleteRef(name); err != nil {
		return errors.Wrapf(err, "delete %s", name)
	}
	return nil
}

// ListRefs returns all refs under prefix sorted by name.
func (s *Store) ListRefs(prefix string) ([]Ref, error) {
	iter, err := s.repo.References()
	if err != nil {
		return nil, errors.Wrap(err, "list refs")
	}
	defer iter.Close()

	var out []Ref
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if ref.Type() != plumbing.HashReference || !strings.HasPrefix(name, prefix) {
			return nil
		}
		out = append(out, Ref{Name: name, OID: ref.Hash().String()})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list refs")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
