package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stefanaki/stax/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check stack metadata and the operation log",
	Long: `Report problems in the stack metadata and the operation log:

  - Branches whose parent is not tracked
  - Metadata left behind by deleted branches
  - Parent links that form a cycle
  - Operations that never finished
  - A rebase left in progress

With --fix, unfinished operations are marked as failed. Their backup refs
are kept, so they can still be undone.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

var doctorFix bool

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "mark unfinished operations as failed")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	problems := 0

	ui.Header("Stack metadata")
	s, err := loadStack()
	if err != nil {
		ui.Error("%v", err)
		problems++
	} else {
		for _, p := range s.Validate() {
			fmt.Printf("  %s %s\n", ui.BranchName(p.Branch, false), ui.Highlight(p.Message))
			problems++
		}
	}

	ui.Header("Operation log")
	pending, err := opLog.InProgress()
	if err != nil {
		return err
	}
	for _, r := range pending {
		problems++
		fmt.Printf("  %s %s did not finish\n", ui.Command(r.OpID), r.Kind.DisplayName())
		if !doctorFix {
			continue
		}
		r.MarkFailed("operation did not finish; marked failed by stax doctor", "", "")
		if err := opLog.Save(r); err != nil {
			ui.Warning("Failed to update %s: %v", r.OpID, err)
			continue
		}
		fmt.Printf("    %s marked failed\n", ui.IconCheck)
	}

	if g.IsRebaseInProgress() {
		problems++
		branch, _ := g.RebasingBranch()
		fmt.Printf("  rebase of %s in progress; run %s or %s\n",
			ui.BranchName(branch, false), ui.Command("stax continue"), ui.Command("stax undo"))
	}

	fmt.Println()
	if problems == 0 {
		ui.Success("No problems found")
		return nil
	}
	ui.Warning("Found %d %s", problems, ui.Plural(problems, "problem", "problems"))
	if !doctorFix && len(pending) > 0 {
		tip("run %s to mark unfinished operations failed", ui.Command("stax doctor --fix"))
	}
	return nil
}
