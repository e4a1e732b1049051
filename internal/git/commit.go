package git

import "strings"

// StageAll stages every change in the working tree.
func (g *Git) StageAll() error {
	return g.RunSilent("add", "-A")
}

// Commit records the staged changes.
func (g *Git) Commit(message string) error {
	return g.RunSilent("commit", "-q", "-m", message)
}

// Amend folds the staged changes into HEAD. An empty message keeps the
// existing one.
func (g *Git) Amend(message string) error {
	if message == "" {
		return g.RunSilent("commit", "-q", "--amend", "--no-edit")
	}
	return g.RunSilent("commit", "-q", "--amend", "-m", message)
}

// HasStagedChanges reports whether the index differs from HEAD.
func (g *Git) HasStagedChanges() bool {
	return g.RunSilent("diff", "--cached", "--quiet") != nil
}

// MergeSquash stages the changes of branch on top of HEAD without
// committing them.
func (g *Git) MergeSquash(branch string) error {
	return g.RunSilent("merge", "--squash", branch)
}

// Subjects returns the subject lines of the commits in base..head,
// newest first.
func (g *Git) Subjects(base, head string) ([]string, error) {
	out, err := g.OutputTrim("log", "--format=%s", base+".."+head)
	if err != nil || out == "" {
		return nil, err
	}
	return strings.Split(out, "\n"), nil
}
