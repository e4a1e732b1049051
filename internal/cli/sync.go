package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stefanaki/stax/internal/ops"
	"github.com/stefanaki/stax/internal/stack"
	"github.com/stefanaki/stax/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull trunk and restack every branch",
	Long: `Bring trunk up to date and restack every tracked branch on it.

This command performs the following steps:
  1. Fetch updates from the remote
  2. Fast-forward trunk to the remote trunk
  3. Stop tracking branches that were merged into trunk, moving their
     children onto trunk (--delete-merged also deletes the git branches)
  4. Restack every tracked branch (recorded as one undoable operation)

Cleanup and restack are separate operations, each undoable on its own.

This command never pushes to the remote. Use 'stax submit' to push.

Examples:
  stax sync                # Full sync with remote
  stax sync --no-fetch     # Local restack only
  stax sync --no-restack   # Only update trunk
  stax sync --delete-merged`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var (
	syncNoFetch      bool
	syncNoRestack    bool
	syncDeleteMerged bool
)

func init() {
	syncCmd.Flags().BoolVar(&syncNoFetch, "no-fetch", false, "skip fetching from remote")
	syncCmd.Flags().BoolVar(&syncNoRestack, "no-restack", false, "only update trunk, don't restack")
	syncCmd.Flags().BoolVar(&syncDeleteMerged, "delete-merged", false, "delete merged branches after untracking them")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	orch := newOrchestrator()
	if err := orch.Preflight(); err != nil {
		return err
	}
	trunk := manager.Trunk()
	remote := cfg.Remote

	// Step 1: Fetch
	if !syncNoFetch && g.HasRemote(remote) {
		fmt.Printf("%s Fetching from %s...\n", ui.IconArrow, remote)
		if err := g.Fetch(remote, "--prune"); err != nil {
			ui.Warning("Failed to fetch: %v", err)
		}
	}

	// Step 2: Update trunk if it has an upstream
	if g.RemoteBranchExists(remote, trunk) {
		fmt.Printf("%s Updating trunk %s...\n", ui.IconArrow, trunk)
		if err := updateTrunk(remote, trunk); err != nil {
			ui.Warning("Failed to update trunk: %v", err)
		}
	}

	s, err := loadStack()
	if err != nil {
		return err
	}

	// Step 3: Clean up merged branches
	merged, err := findMerged(s)
	if err != nil {
		return err
	}
	if len(merged) > 0 {
		fmt.Println()
		fmt.Printf("%s Merged into %s:\n", ui.IconArrow, trunk)
		for _, b := range merged {
			fmt.Printf("  %s\n", ui.BranchName(b, false))
		}
		if err := removeBranches(ops.KindSyncCleanup, merged, syncDeleteMerged); err != nil {
			return errors.Wrap(err, "failed to clean up merged branches")
		}
		if !syncDeleteMerged {
			tip("run %s to delete merged branches too", ui.Command("stax sync --delete-merged"))
		}
		if s, err = loadStack(); err != nil {
			return err
		}
	}

	if syncNoRestack {
		fmt.Println()
		ui.Success("Sync complete")
		return nil
	}

	// Step 4: Restack
	all, err := s.All()
	if err != nil {
		return err
	}
	plan := s.RestackPlan(all)
	if len(plan) == 0 {
		fmt.Println()
		ui.Success("Sync complete, stack is up to date")
		return nil
	}
	fmt.Println()
	return restackBranches(ops.KindSyncRestack, plan)
}

// updateTrunk fast-forwards trunk to its remote-tracking branch.
func updateTrunk(remote, trunk string) error {
	current, _ := g.CurrentBranch()
	if current == trunk {
		return g.RunSilent("merge", "--ff-only", remote+"/"+trunk)
	}
	return g.FastForward(remote, trunk)
}

// findMerged lists branches stacked on trunk whose commits are all on
// trunk. Branches without commits of their own are left alone.
func findMerged(s *stack.Stack) ([]string, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	var merged []string
	for _, b := range all {
		n := s.Node(b)
		if n.Missing || n.Parent != s.Trunk {
			continue
		}
		head, ok, err := store.BranchCommit(b)
		if err != nil {
			return nil, err
		}
		if !ok || head == n.Revision {
			continue
		}
		if g.IsAncestor(b, s.Trunk) {
			merged = append(merged, b)
		}
	}
	return merged, nil
}
