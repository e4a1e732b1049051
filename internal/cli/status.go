package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stefanaki/stax/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stack tree",
	Long: `Display every tracked branch as a tree rooted at trunk.

Shows:
  - Parent/child relationships
  - Current branch indicator
  - Branches that need a restack
  - Branches whose parent or own git branch is gone
  - Commit SHAs (with --sha flag)
  - PR status (if recorded)`,
	Aliases: []string{"st"},
	Args:    cobra.NoArgs,
	RunE:    runStatus,
}

var statusShowSHA bool

func init() {
	statusCmd.Flags().BoolVar(&statusShowSHA, "sha", false, "show commit SHAs")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := loadStack()
	if err != nil {
		return err
	}

	current, _ := g.CurrentBranch()

	opts := ui.TreeOptions{
		ShowSHA:       statusShowSHA,
		ShowPR:        true,
		CurrentBranch: current,
		GetSHA: func(name string) string {
			sha, _ := g.ShortSHA(name)
			return sha
		},
	}

	out, err := ui.RenderTree(s, opts)
	if err != nil {
		return err
	}
	fmt.Print(out)
	if len(s.Children(s.Trunk)) == 0 {
		ui.DimText("No tracked branches. Run 'stax create <name>' to start a stack.")
		return nil
	}

	needs, err := s.NeedsRestack()
	if err != nil {
		return err
	}
	if len(needs) > 0 {
		fmt.Println()
		tip("%d %s behind %s; run %s",
			len(needs), ui.Plural(len(needs), "branch is", "branches are"),
			ui.Plural(len(needs), "its parent", "their parents"), ui.Command("stax restack --all"))
	}
	return nil
}
