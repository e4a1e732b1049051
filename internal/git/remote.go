package git

// Fetch fetches from a remote.
func (g *Git) Fetch(remote string, args ...string) error {
	cmdArgs := append([]string{"fetch", remote}, args...)
	return g.Run(cmdArgs...)
}

// Push pushes a branch to a remote, force-with-lease when force is set.
func (g *Git) Push(remote, branch string, force bool) error {
	args := []string{"push", "-u", remote, branch}
	if force {
		args = append(args, "--force-with-lease")
	}
	return g.RunSilent(args...)
}

// PushCommit force-pushes an explicit commit to a remote branch.
func (g *Git) PushCommit(remote, oid, branch string) error {
	return g.RunSilent("push", "--force", remote, oid+":refs/heads/"+branch)
}

// FastForward moves a branch that is not checked out to the tip of
// its remote-tracking branch, refusing anything but a fast-forward.
func (g *Git) FastForward(remote, branch string) error {
	return g.RunSilent("fetch", remote, branch+":"+branch)
}
