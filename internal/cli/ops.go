package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stefanaki/stax/internal/ops"
	"github.com/stefanaki/stax/internal/ui"
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "Inspect the operation log",
	Long: `List, show and prune the receipts of recorded operations.

Every restack, sync and submit leaves a receipt under .git/stax/ops. The
receipts are what 'stax undo' and 'stax redo' replay.`,
}

var opsListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List recorded operations, newest first",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE:    runOpsList,
}

var opsShowCmd = &cobra.Command{
	Use:   "show [op-id]",
	Short: "Print an operation's receipt",
	Long: `Print a receipt as JSON, or as YAML with --yaml.

Examples:
  stax ops show          # Latest operation
  stax ops show <op-id> --yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOpsShow,
}

var opsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old receipts and their backup refs",
	Long: `Delete all but the newest receipts, together with their backup refs.

Operations that never finished are always kept. Without --keep the
ops.keep setting is used.`,
	Args: cobra.NoArgs,
	RunE: runOpsPrune,
}

var (
	opsLimit    int
	opsShowYAML bool
	opsKeep     int
)

func init() {
	opsListCmd.Flags().IntVarP(&opsLimit, "limit", "n", 20, "number of operations to show (0 for all)")
	opsShowCmd.Flags().BoolVar(&opsShowYAML, "yaml", false, "print as YAML")
	opsPruneCmd.Flags().IntVar(&opsKeep, "keep", 0, "number of receipts to keep")
	opsCmd.AddCommand(opsListCmd, opsShowCmd, opsPruneCmd)
	rootCmd.AddCommand(opsCmd)
}

func runOpsList(cmd *cobra.Command, args []string) error {
	receipts, err := opLog.List()
	if err != nil {
		return err
	}
	if len(receipts) == 0 {
		ui.Info("No operations recorded")
		return nil
	}
	if opsLimit > 0 && len(receipts) > opsLimit {
		receipts = receipts[:opsLimit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OP ID\tKIND\tSTATUS\tBRANCHES\tSTARTED")
	for _, r := range receipts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.OpID, r.Kind.DisplayName(), statusText(r.Status), r.ModifiedBranchCount(),
			r.StartedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func statusText(s ops.Status) string {
	switch s {
	case ops.StatusSuccess:
		return ui.Bold(string(s))
	case ops.StatusFailed:
		return ui.Highlight(string(s))
	}
	return ui.Dim(string(s))
}

func runOpsShow(cmd *cobra.Command, args []string) error {
	var (
		r   *ops.Receipt
		err error
	)
	if len(args) > 0 {
		r, err = opLog.Load(args[0])
	} else {
		r, err = opLog.Latest()
	}
	if err != nil {
		return err
	}

	if opsShowYAML {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return errors.Wrap(err, "failed to encode receipt")
		}
		return enc.Close()
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func runOpsPrune(cmd *cobra.Command, args []string) error {
	keep := opsKeep
	if !cmd.Flags().Changed("keep") {
		keep = cfg.Ops.Keep
	}
	if keep < 0 {
		return errors.New("--keep must not be negative")
	}

	pruned, err := opLog.Prune(keep, store)
	if err != nil {
		return err
	}
	ui.Success("Pruned %d %s", len(pruned), ui.Plural(len(pruned), "operation", "operations"))
	return nil
}
