// Package termio provides optional PTY passthrough for interactive target
// commands: a PTY pair for the tracee's stdio, raw-mode stdin, and
// SIGWINCH forwarding.
package termio

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"

	"exectrace/pkg/posix"
	"exectrace/pkg/tracer"
)

// RunPTY launches argv under t inside a PTY, with the controlling
// terminal's raw mode and window size forwarded to the tracee. It blocks
// until the trace session ends.
func RunPTY(ctx context.Context, t *tracer.Tracer, argv []string) error {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return err
	}
	defer ptmx.Close()

	done := make(chan error, 1)
	go func() {
		done <- t.Trace(ctx, argv, posix.LaunchOptions{Stdin: tty, Stdout: tty, Stderr: tty})
	}()

	// Forward window size changes, syncing once up front.
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			_ = pty.InheritSize(os.Stdin, ptmx)
		}
	}()
	winch <- syscall.SIGWINCH

	if stdinFd := int(os.Stdin.Fd()); term.IsTerminal(stdinFd) {
		oldState, err := term.MakeRaw(stdinFd)
		if err == nil {
			defer term.Restore(stdinFd, oldState)
		}
	}

	go io.Copy(ptmx, os.Stdin)
	go io.Copy(os.Stdout, ptmx)

	// tty is only needed by the tracee; Trace owns the whole child
	// lifecycle, so our end is closed once it returns.
	err = <-done
	tty.Close()
	return err
}
