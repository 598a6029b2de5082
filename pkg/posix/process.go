// Package posix wraps the process-creation and wait primitives the tracer
// drives: launching the tracee, collecting its stops, and tearing down its
// whole process group on a fatal error.
package posix

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Process is a launched tracee: the exec.Cmd that owns its lifecycle plus
// the identifiers the tracer needs to wait on and, if necessary, kill it.
type Process struct {
	Cmd  *exec.Cmd
	Pid  int
	Pgid int
}

// LaunchOptions configures how the tracee's standard streams are wired.
type LaunchOptions struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// Launch starts argv[0] with argv[1:] under ptrace control. The child is
// placed in its own process group (Setpgid) so a fatal error can kill the
// whole tree instead of leaking grandchildren. SysProcAttr.Ptrace requests
// PTRACE_TRACEME in the forked child before it execs; the first stop the
// parent observes via Wait is the post-exec SIGTRAP the kernel delivers as
// a result.
func Launch(argv []string, opts LaunchOptions) (*Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("posix: empty argv")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.SysProcAttr = &unix.SysProcAttr{
		Ptrace:  true,
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("posix: start failed: %w", err)
	}

	pid := cmd.Process.Pid
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		// The child may not have reached setpgid yet on a loaded system;
		// fall back to pid, which is what Setpgid(0,0) would have produced
		// from the child's own perspective at exec time.
		pgid = pid
	}

	return &Process{Cmd: cmd, Pid: pid, Pgid: pgid}, nil
}

// Wait blocks for the next stop of the given pid.
func Wait(pid int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	_, err := unix.Wait4(pid, &ws, 0, nil)
	return ws, err
}

// WaitAny blocks for the next stop of any child of the calling process,
// transparently retrying on EINTR. A terminal ECHILD is returned
// undecorated so callers can recognize "no tracees remain" without a
// type assertion.
func WaitAny() (pid int, status unix.WaitStatus, err error) {
	for {
		var ws unix.WaitStatus
		p, werr := unix.Wait4(-1, &ws, 0, nil)
		if werr == unix.EINTR {
			continue
		}
		return p, ws, werr
	}
}

// KillGroup sends sig to every process in the group rooted at pgid (the
// Go-stdlib equivalent of killpg(2): kill(2) with a negated pid).
func KillGroup(pgid int, sig unix.Signal) error {
	return unix.Kill(-pgid, sig)
}

// Detach releases a tracee, allowing it to continue running outside of
// ptrace control. Used on context cancellation to release the live
// tracees before the trace session returns.
func Detach(pid int) error {
	return unix.PtraceDetach(pid)
}
