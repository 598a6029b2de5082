package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"exectrace/pkg/history"
	"exectrace/pkg/posix"
	"exectrace/pkg/termio"
	"exectrace/pkg/tracer"
)

var (
	usePTY    bool
	verbose   bool
	logFile   string
	historyDB string
)

// RootCmd is the top-level "exectrace -- <command> [args...]" command.
var RootCmd = &cobra.Command{
	Use:                   "exectrace [flags] -- command [args...]",
	Short:                 "Trace execve calls made by a command and its descendants",
	Long:                  "exectrace launches a command under ptrace and reports the argument vector of every execve it or its descendants perform.",
	DisableFlagsInUseLine: true,
	Args:                  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrace(cmd, args)
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().BoolVar(&usePTY, "pty", false, "Run the target command under a PTY with raw-mode passthrough")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable diagnostic logging of handshake/fork/exec events")
	RootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write diagnostic logging to this file instead of stderr")
	RootCmd.PersistentFlags().StringVar(&historyDB, "history-db", "", "Record this run to a SQLite history database at the given path (best-effort, off by default)")

	RootCmd.AddCommand(historyCmd)
}

func runTrace(cmd *cobra.Command, argv []string) error {
	logger, closer, err := buildLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}

	store, runID, err := beginHistory(cmd.Context(), argv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: history disabled: %v\n", err)
	}

	execCount := 0
	t := tracer.New(tracer.Config{
		Logger: logger,
		OnExec: func(pid int, argvBytes [][]byte) {
			execCount++
			fmt.Println(tracer.FormatLine(argvBytes))
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var traceErr error
	if usePTY {
		traceErr = termio.RunPTY(ctx, t, argv)
	} else {
		traceErr = t.Trace(ctx, argv, posix.LaunchOptions{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr})
	}

	finishHistory(store, runID, execCount, traceErr)

	if traceErr != nil {
		fmt.Printf("An error occurred: %s\n", traceErr)
		os.Exit(1)
	}
	return nil
}

func buildLogger() (tracer.Logger, func(), error) {
	if !verbose && logFile == "" {
		return nil, nil, nil
	}
	if logFile != "" {
		fl, err := tracer.NewFileLogger(logFile)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		return fl, func() { fl.Close() }, nil
	}
	return tracer.NewStreamLogger(os.Stderr), nil, nil
}

func beginHistory(ctx context.Context, argv []string) (*history.Store, string, error) {
	if historyDB == "" {
		return nil, "", nil
	}
	store, err := history.Open(historyDB)
	if err != nil {
		return nil, "", err
	}
	id, err := store.Begin(ctx, joinArgv(argv), nowFunc())
	if err != nil {
		store.Close()
		return nil, "", err
	}
	return store, id, nil
}

func finishHistory(store *history.Store, runID string, execCount int, runErr error) {
	if store == nil {
		return
	}
	defer store.Close()
	if err := store.Finish(context.Background(), runID, nowFunc(), execCount, runErr); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record run history: %v\n", err)
	}
}
