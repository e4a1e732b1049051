package git

// CheckoutSilent switches to a branch without output.
func (g *Git) CheckoutSilent(branch string) error {
	return g.RunSilent("checkout", branch)
}

// CreateAndCheckout creates and checks out a new branch.
func (g *Git) CreateAndCheckout(name string) error {
	return g.RunSilent("checkout", "-b", name)
}

// ResetHard resets the current branch to a ref.
func (g *Git) ResetHard(ref string) error {
	return g.RunSilent("reset", "--hard", ref)
}

// StashPush stashes tracked changes with a message.
func (g *Git) StashPush(message string) error {
	return g.RunSilent("stash", "push", "-m", message)
}

// StashPop re-applies the most recent stash.
func (g *Git) StashPop() error {
	return g.RunSilent("stash", "pop")
}

// CreateBranchAt creates a branch at a commit without checking it out.
func (g *Git) CreateBranchAt(name, start string) error {
	return g.RunSilent("branch", name, start)
}

// DeleteBranch deletes a branch.
func (g *Git) DeleteBranch(name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	return g.RunSilent("branch", flag, name)
}

// RenameBranch renames a branch.
func (g *Git) RenameBranch(oldName, newName string) error {
	return g.RunSilent("branch", "-m", oldName, newName)
}

// ResetSoft moves the current branch to a ref, keeping changes staged.
func (g *Git) ResetSoft(ref string) error {
	return g.RunSilent("reset", "--soft", ref)
}
