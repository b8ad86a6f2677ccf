package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vsi-examples/vsistream/pkg/cli"
	"github.com/vsi-examples/vsistream/pkg/runlog"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Query the run history",
	Long: `Every video and sensor run is recorded in the run history under the
configuration directory, unless history is disabled in config.yaml or the
run was started with --no-history.

Examples:
  vsistream runs list
  vsistream runs list --kind sensor --limit 5
  vsistream runs get 01890a5d-ac96-774b-bcce-b302099a8057 --format json
  vsistream runs prune --kind video`,
}

var (
	runsKind  string
	runsLimit int
)

// runList renders records as a table.
type runList []runlog.Record

func (runList) Header() []string {
	return []string{"ID", "KIND", "STARTED", "DURATION", "DELIVERED", "OVERFLOWS", "STATUS"}
}

func (l runList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		status := "ok"
		switch {
		case r.Error != "":
			status = "failed"
		case r.EndOfStream:
			status = "eos"
		}
		rows = append(rows, []string{
			r.ID,
			r.Kind,
			r.Started.Local().Format("2006-01-02 15:04:05"),
			cli.FormatDuration(r.Duration),
			strconv.FormatUint(r.Delivered, 10),
			strconv.FormatUint(r.Overflows, 10),
			status,
		})
	}
	return rows
}

var runsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recorded runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, closeFn, err := openHistory()
		if err != nil {
			return err
		}
		defer closeFn()
		records, err := h.List(cmd.Context(), runsKind, runsLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 && formatOutput == string(cli.FormatTable) {
			fmt.Println("No runs recorded.")
			return nil
		}
		return printResult(runList(records))
	},
}

var runsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, closeFn, err := openHistory()
		if err != nil {
			return err
		}
		defer closeFn()
		r, err := h.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(r)
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete one run",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, closeFn, err := openHistory()
		if err != nil {
			return err
		}
		defer closeFn()
		if err := h.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		cli.PrintSuccess(os.Stdout, "Run %s deleted.", args[0])
		return nil
	},
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all runs, or all runs of one kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, closeFn, err := openHistory()
		if err != nil {
			return err
		}
		defer closeFn()
		n, err := h.Prune(cmd.Context(), runsKind)
		if err != nil {
			return err
		}
		cli.PrintSuccess(os.Stdout, "%d runs deleted.", n)
		return nil
	},
}

func init() {
	runsListCmd.Flags().StringVar(&runsKind, "kind", "", "only runs of this kind: video, sensor")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs (0: all)")
	runsPruneCmd.Flags().StringVar(&runsKind, "kind", "", "only runs of this kind: video, sensor")

	runsCmd.AddCommand(runsListCmd, runsGetCmd, runsDeleteCmd, runsPruneCmd)
	rootCmd.AddCommand(runsCmd)
}
