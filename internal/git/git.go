// Package git provides a wrapper around git commands.
package git

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Git provides methods for executing git commands.
type Git struct {
	// WorkDir is the working directory for git commands.
	// If empty, uses the current directory.
	WorkDir string

	// Stdout and Stderr receive the output of streamed commands.
	// They default to the process streams.
	Stdout io.Writer
	Stderr io.Writer

	log *zap.Logger
}

// CommandError is returned when a git subprocess exits unsuccessfully.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCode returns the exit status of the failed command, or -1.
func (e *CommandError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// New creates a new Git instance for the current directory.
func New(log *zap.Logger) *Git {
	return NewWithWorkDir("", log)
}

// NewWithWorkDir creates a new Git instance with a specific working directory.
func NewWithWorkDir(workDir string, log *zap.Logger) *Git {
	if log == nil {
		log = zap.NewNop()
	}
	return &Git{WorkDir: workDir, log: log}
}

func (g *Git) command(env []string, args ...string) *exec.Cmd {
	cmd := exec.Command("git", args...)
	if g.WorkDir != "" {
		cmd.Dir = g.WorkDir
	}
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	g.logger().Debug("git", zap.Strings("args", args))
	return cmd
}

func (g *Git) logger() *zap.Logger {
	if g.log == nil {
		return zap.NewNop()
	}
	return g.log
}

func (g *Git) stdout() io.Writer {
	if g.Stdout != nil {
		return g.Stdout
	}
	return os.Stdout
}

func (g *Git) stderr() io.Writer {
	if g.Stderr != nil {
		return g.Stderr
	}
	return os.Stderr
}

// Run executes a git command with output to stdout/stderr.
func (g *Git) Run(args ...string) error {
	return g.RunEnv(nil, args...)
}

// RunEnv executes a git command with extra environment variables,
// streaming its output. Stderr is also captured for the returned error.
func (g *Git) RunEnv(env []string, args ...string) error {
	cmd := g.command(env, args...)
	var errBuf bytes.Buffer
	cmd.Stdout = g.stdout()
	cmd.Stderr = io.MultiWriter(g.stderr(), &errBuf)
	cmd.Stdin = os.Stdin
	if err := cmd.Run(); err != nil {
		return &CommandError{Args: args, Stderr: errBuf.String(), Err: err}
	}
	return nil
}

// RunSilent executes a git command without output.
func (g *Git) RunSilent(args ...string) error {
	return g.RunSilentEnv(nil, args...)
}

// RunSilentEnv executes a git command without output, with extra
// environment variables.
func (g *Git) RunSilentEnv(env []string, args ...string) error {
	cmd := g.command(env, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return &CommandError{Args: args, Stderr: out.String(), Err: err}
	}
	return nil
}

// Output executes a git command and returns the output.
func (g *Git) Output(args ...string) (string, error) {
	return g.OutputInput(nil, args...)
}

// OutputInput executes a git command feeding stdin and returns the output.
func (g *Git) OutputInput(stdin io.Reader, args ...string) (string, error) {
	cmd := g.command(nil, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = stdin
	if err := cmd.Run(); err != nil {
		return stdout.String(), &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// OutputTrim executes a git command and returns trimmed output.
func (g *Git) OutputTrim(args ...string) (string, error) {
	out, err := g.Output(args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// GitDir returns the absolute path to the .git directory.
func (g *Git) GitDir() (string, error) {
	dir, err := g.OutputTrim("rev-parse", "--absolute-git-dir")
	if err != nil {
		return "", err
	}
	return filepath.Clean(dir), nil
}

// RepoRoot returns the root directory of the repository.
func (g *Git) RepoRoot() (string, error) {
	return g.OutputTrim("rev-parse", "--show-toplevel")
}

// IsInsideWorkTree returns true if we're inside a git work tree.
func (g *Git) IsInsideWorkTree() bool {
	out, err := g.OutputTrim("rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// IsClean returns true if the working tree has no tracked changes.
// Untracked files are ignored; they survive checkouts and rebases.
func (g *Git) IsClean() (bool, error) {
	out, err := g.Output("status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(out)) == 0, nil
}

// EnsureClean returns an error if the working tree is not clean.
func (g *Git) EnsureClean() error {
	clean, err := g.IsClean()
	if err != nil {
		return errors.Wrap(err, "failed to check working tree status")
	}
	if !clean {
		return errors.New("working tree is not clean; commit or stash changes first")
	}
	return nil
}

// CurrentBranch returns the name of the current branch, or "" when HEAD
// is detached.
func (g *Git) CurrentBranch() (string, error) {
	return g.OutputTrim("branch", "--show-current")
}

// DefaultBranch attempts to determine the default branch (main/master).
func (g *Git) DefaultBranch(remote string) (string, error) {
	out, err := g.OutputTrim("symbolic-ref", "refs/remotes/"+remote+"/HEAD")
	if err == nil {
		return strings.TrimPrefix(out, "refs/remotes/"+remote+"/"), nil
	}

	for _, name := range []string{"main", "master"} {
		if g.BranchExists(name) {
			return name, nil
		}
	}

	return "", errors.New("could not determine default branch")
}

// BranchExists checks if a branch exists.
func (g *Git) BranchExists(name string) bool {
	err := g.RunSilent("show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// RemoteBranchExists checks if a remote-tracking branch exists.
func (g *Git) RemoteBranchExists(remote, branch string) bool {
	err := g.RunSilent("show-ref", "--verify", "--quiet", "refs/remotes/"+remote+"/"+branch)
	return err == nil
}

// SHA returns the commit SHA for a ref.
func (g *Git) SHA(ref string) (string, error) {
	return g.OutputTrim("rev-parse", "--verify", ref+"^{commit}")
}

// ShortSHA returns the short commit SHA for a ref.
func (g *Git) ShortSHA(ref string) (string, error) {
	return g.OutputTrim("rev-parse", "--short", ref)
}

// CommitCount returns the number of commits between two refs.
func (g *Git) CommitCount(base, head string) (int, error) {
	out, err := g.OutputTrim("rev-list", "--count", base+".."+head)
	if err != nil {
		return 0, err
	}
	var count int
	if _, err := fmt.Sscanf(out, "%d", &count); err != nil {
		return 0, errors.Wrapf(err, "parse commit count %q", out)
	}
	return count, nil
}

// MergeBase returns the merge base of two refs.
func (g *Git) MergeBase(a, b string) (string, error) {
	return g.OutputTrim("merge-base", a, b)
}

// IsAncestor returns true if a is an ancestor of b.
func (g *Git) IsAncestor(a, b string) bool {
	err := g.RunSilent("merge-base", "--is-ancestor", a, b)
	return err == nil
}

// HashObject writes data as a blob object and returns its id.
func (g *Git) HashObject(data []byte) (string, error) {
	out, err := g.OutputInput(bytes.NewReader(data), "hash-object", "-w", "--stdin")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// UpdateRef points ref at oid unconditionally.
func (g *Git) UpdateRef(ref, oid string) error {
	return g.RunSilent("update-ref", ref, oid)
}

// DeleteRef removes ref.
func (g *Git) DeleteRef(ref string) error {
	return g.RunSilent("update-ref", "-d", ref)
}

// Remote returns the URL for a remote.
func (g *Git) Remote(name string) (string, error) {
	return g.OutputTrim("remote", "get-url", name)
}

// HasRemote checks if a remote exists.
func (g *Git) HasRemote(name string) bool {
	_, err := g.Remote(name)
	return err == nil
}
