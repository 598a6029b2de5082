// Package tracer implements the ptrace-based trace-control state machine:
// the parent-side loop that multiplexes waitpid stops across a traced
// process tree, distinguishes syscall-entry from syscall-exit, reconstructs
// argv for every execve, and correctly handles the double-stop a successful
// exec produces, without losing track of a pid across a failed one.
package tracer

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"exectrace/pkg/posix"
	"exectrace/pkg/ptrace"
)

// OnExecFunc is invoked once per observed execve, with the pid that made
// the call and its reconstructed argument vector (raw bytes — see
// FormatArgs for the lossy display rendering used at the output
// boundary).
type OnExecFunc func(pid int, argv [][]byte)

// Config configures a Tracer.
type Config struct {
	// OnExec is called once for the launched command and then for every
	// execve syscall-entry observed. Optional; nil discards the events.
	OnExec OnExecFunc
	// Logger receives diagnostic events (handshake, fork/clone discovery,
	// failed execve). Optional; nil disables diagnostics.
	Logger Logger
}

// Tracer drives the parent side of a trace session for one launched
// command and its whole descendant tree.
type Tracer struct {
	onExec OnExecFunc
	logger Logger
	exec   *execTracker
	// live is the set of pids currently under our control, used to detach
	// them on cancellation; termination is driven by WaitAny returning
	// ECHILD, not by this set reaching zero (a new fork can always add to it
	// mid-loop).
	live map[int]struct{}
}

// New creates a Tracer from cfg.
func New(cfg Config) *Tracer {
	if cfg.OnExec == nil {
		cfg.OnExec = func(int, [][]byte) {}
	}
	return &Tracer{
		onExec: cfg.OnExec,
		logger: cfg.Logger,
		exec:   newExecTracker(),
		live:   make(map[int]struct{}),
	}
}

// Trace launches argv under ptrace and runs the trace loop to completion.
// It blocks until every tracee has exited, the context is cancelled, or a
// fatal error occurs. Cancellation is checked between tracee stops, so it
// takes effect at the next stop. On a fatal error or a cancellation the
// whole process group started by Launch is killed with SIGKILL before the
// error is returned (after a cancellation, the live tracees are detached
// first), so a grandchild spawned by the tracee cannot outlive the abort.
func (t *Tracer) Trace(ctx context.Context, argv []string, opts posix.LaunchOptions) error {
	// ptrace requests must come from the thread that is tracing; pin the
	// goroutine to its OS thread for the lifetime of the session.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	proc, err := posix.Launch(argv, opts)
	if err != nil {
		return err
	}

	if err := t.handshake(proc.Pid); err != nil {
		posix.KillGroup(proc.Pgid, unix.SIGKILL)
		return err
	}

	// The launch execve runs before syscall tracing starts, so its
	// syscall-entry stop is never observed; report the argv the child was
	// started with instead.
	initial := make([][]byte, len(argv))
	for i, a := range argv {
		initial[i] = []byte(a)
	}
	t.onExec(proc.Pid, initial)

	t.live[proc.Pid] = struct{}{}

	if err := t.loop(ctx, proc.Pgid); err != nil {
		posix.KillGroup(proc.Pgid, unix.SIGKILL)
		return err
	}

	return nil
}

// handshake waits for the tracee's self-induced SIGTRAP following its
// initial execve, then installs the ptrace option mask before resuming it.
func (t *Tracer) handshake(pid int) error {
	ws, err := posix.Wait(pid)
	if err != nil {
		return &WaitError{Err: err}
	}

	if !ws.Stopped() || ws.StopSignal() != unix.SIGTRAP {
		return &HandshakeError{Signal: ws.StopSignal()}
	}

	if err := ptrace.SetOptions(pid); err != nil {
		return &SetOptionsError{Pid: pid, Err: err}
	}

	if t.logger != nil {
		t.logger.Handshake(pid)
	}

	return ptrace.Resume(pid, 0)
}

// loop is the main stop-dispatch loop: resume the previously-seen pid,
// wait for the next stop from any tracee, classify it, and react.
func (t *Tracer) loop(ctx context.Context, pgid int) error {
	previousPid := -1

	for {
		select {
		case <-ctx.Done():
			t.detachAll()
			return ctx.Err()
		default:
		}

		if previousPid != -1 {
			// A resume failure here almost always means the pid already
			// exited between its last stop and now; that is reported on
			// the next WaitAny, not here.
			_ = ptrace.Resume(previousPid, 0)
		}

		pid, ws, err := posix.WaitAny()
		if err != nil {
			if err == unix.ECHILD {
				return nil
			}
			return &WaitError{Err: err}
		}
		previousPid = pid

		if ws.Exited() || ws.Signaled() {
			delete(t.live, pid)
			t.exec.forget(pid)
			if t.logger != nil {
				t.logger.Forget(pid)
			}
			previousPid = -1
			continue
		}

		if !ws.Stopped() {
			continue
		}

		if err := t.dispatch(pid, ws); err != nil {
			return err
		}
	}
}

// dispatch classifies one stop and reacts to it. A TRACESYSGOOD syscall-stop
// reports SIGTRAP|0x80; a plain SIGTRAP is a ptrace event-stop (fork, vfork,
// clone, or exec), sub-classified by its trap cause.
func (t *Tracer) dispatch(pid int, ws unix.WaitStatus) error {
	sig := ws.StopSignal()

	if sig == unix.SIGTRAP|0x80 {
		regs, err := ptrace.GetRegs(pid)
		if err != nil {
			return &RegistersError{Pid: pid, Err: err}
		}
		t.handleSyscallStop(pid, newSyscallStop(pid, regs))
		return nil
	}

	if sig == unix.SIGTRAP {
		cause := ws.TrapCause()
		t.handleEventStop(pid, cause)
		return nil
	}

	// Any other signal-delivery or group-stop: nothing to do but let the
	// loop resume it on the next iteration.
	return nil
}

// handleSyscallStop handles one execve syscall-stop. The exit-stop
// (recognized by the pid already being awaitingExit) always clears state,
// whether or not the call succeeded, so a failed execve can't leave the
// pid stuck and swallow its next real one.
func (t *Tracer) handleSyscallStop(pid int, ev SyscallStop) {
	if ev.Nr != EVExecve {
		return
	}

	if !t.exec.isAwaitingExit(pid) {
		// Syscall-entry: argv's pointer (Args[1] == rsi) is still valid in
		// the pre-exec address space.
		argv := ReadArgv(memReader{}, pid, uintptr(ev.Args[1]))
		t.onExec(pid, argv)
		t.exec.onEntry(pid)
		return
	}

	// Syscall-exit: clear unconditionally, logging failures for
	// diagnostics only.
	t.exec.onExit(pid)
	if ev.IsError() && t.logger != nil {
		t.logger.ExecveFailed(pid, ev.Errno())
	}
}

// handleEventStop reacts to ptrace event-stops. PTRACE_EVENT_EXEC carries
// no state-machine action of its own (the ordinary syscall-exit stop for
// the same execve still arrives and is what clears bookkeeping); it is
// surfaced to the logger only. Fork/vfork/clone events add the new pid to
// the live set and report it to the logger; the kernel attaches the new
// tracee itself under the installed options, and WaitAny collects its
// stops like those of any other child.
func (t *Tracer) handleEventStop(pid int, cause int) {
	switch cause {
	case unix.PTRACE_EVENT_EXEC:
		if t.logger != nil {
			t.logger.Exec(pid)
		}
	case unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK, unix.PTRACE_EVENT_CLONE:
		newPid, err := ptrace.GetEventMsg(pid)
		if err == nil {
			t.live[int(newPid)] = struct{}{}
			if t.logger != nil {
				t.logger.NewTracee(pid, int(newPid))
			}
		}
	}
}

func (t *Tracer) detachAll() {
	for pid := range t.live {
		posix.Detach(pid)
	}
}

// memReader adapts the ptrace package's PeekWord to the tracer package's
// MemoryReader seam.
type memReader struct{}

func (memReader) PeekWord(pid int, addr uintptr) (uint64, error) {
	return ptrace.PeekWord(pid, addr)
}

// FormatLine renders the standard output line for one observed execve.
func FormatLine(argv [][]byte) string {
	return fmt.Sprintf("executable args: '%s'", FormatArgs(argv))
}
