package cmd

import (
	"context"
	"fmt"
	"os"

	humanize "github.com/dustin/go-humanize"
	isatty "github.com/mattn/go-isatty"
	strftime "github.com/ncruces/go-strftime"
	"github.com/spf13/cobra"

	"exectrace/pkg/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past trace runs recorded with --history-db",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(cmd)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs to show")
}

func runHistory(cmd *cobra.Command) error {
	if historyDB == "" {
		return fmt.Errorf("--history-db is required to list run history")
	}

	store, err := history.Open(historyDB)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(context.Background(), historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}

	pretty := isatty.IsTerminal(os.Stdout.Fd())
	for _, r := range runs {
		started, _ := strftime.Format("%Y-%m-%d %H:%M:%S", r.StartedAt)
		status := "running"
		switch {
		case !r.EndedAt.IsZero() && r.Err != "":
			status = "failed: " + r.Err
		case !r.EndedAt.IsZero():
			status = "ok"
		}

		if pretty {
			fmt.Printf("%s  %-6s  %3d execs  %-40s  (%s)\n",
				started, humanize.Time(r.StartedAt), r.ExecCount, r.Command, status)
		} else {
			fmt.Printf("%s\t%d\t%s\t%s\n", started, r.ExecCount, r.Command, status)
		}
	}
	return nil
}
