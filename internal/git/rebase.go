package git

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// RebaseOutcome is the result of a rebase that did not fail outright.
type RebaseOutcome int

const (
	// RebaseSuccess means the rebase completed.
	RebaseSuccess RebaseOutcome = iota
	// RebaseConflict means the rebase stopped on conflicts and is waiting
	// for the user to resolve them.
	RebaseConflict
)

func (o RebaseOutcome) String() string {
	switch o {
	case RebaseSuccess:
		return "success"
	case RebaseConflict:
		return "conflict"
	}
	return "unknown"
}

// nonInteractive keeps git from opening an editor for commit messages.
var nonInteractive = []string{"GIT_EDITOR=true"}

// Rebase rebases the current branch onto a target.
func (g *Git) Rebase(onto string) (RebaseOutcome, error) {
	return g.rebase("rebase", onto)
}

// RebaseOnto replays the commits of the current branch after upstream onto
// the given base.
func (g *Git) RebaseOnto(onto, upstream string) (RebaseOutcome, error) {
	return g.rebase("rebase", "--onto", onto, upstream)
}

// RebaseContinue continues a rebase after conflict resolution.
func (g *Git) RebaseContinue() (RebaseOutcome, error) {
	return g.rebase("rebase", "--continue")
}

func (g *Git) rebase(args ...string) (RebaseOutcome, error) {
	err := g.RunSilentEnv(nonInteractive, args...)
	if err == nil {
		return RebaseSuccess, nil
	}
	if g.IsRebaseInProgress() {
		return RebaseConflict, nil
	}
	return RebaseSuccess, err
}

// RebaseAbort aborts an in-progress rebase.
func (g *Git) RebaseAbort() error {
	return g.RunSilent("rebase", "--abort")
}

// IsRebaseInProgress checks if a rebase is in progress.
func (g *Git) IsRebaseInProgress() bool {
	gitDir, err := g.GitDir()
	if err != nil {
		return false
	}
	for _, dir := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(gitDir, dir)); err == nil {
			return true
		}
	}
	return false
}

// RebasingBranch returns the branch being rebased by an in-progress rebase.
func (g *Git) RebasingBranch() (string, error) {
	gitDir, err := g.GitDir()
	if err != nil {
		return "", err
	}
	for _, dir := range []string{"rebase-merge", "rebase-apply"} {
		data, err := os.ReadFile(filepath.Join(gitDir, dir, "head-name"))
		if err == nil {
			return strings.TrimPrefix(strings.TrimSpace(string(data)), "refs/heads/"), nil
		}
	}
	return "", errors.New("no rebase in progress")
}
