package tracer

import (
	"syscall"

	"exectrace/pkg/ptrace"
)

// EVExecve is the x86-64 syscall number for execve. The core only ever
// inspects this one syscall; decoding others is out of scope.
const EVExecve = 59

// SyscallStop is a syscall-entry or syscall-exit stop, decoded from the
// tracee's registers at the moment of the stop. Which one it is is not
// encoded on the value itself — the caller infers it from its own per-pid
// bookkeeping (see execTracker).
type SyscallStop struct {
	pid  int
	Nr   uint64    // orig_rax: the syscall number, stable across entry/exit
	Args [6]uint64 // rdi, rsi, rdx, rcx, r8, r9 in that order
	Rax  int64     // return value; only meaningful at exit
}

func (s SyscallStop) Pid() int { return s.pid }

// IsError reports whether the exit-stop's return value is in the Linux
// errno range (-4095..-1), the same convention the ptrace peek/poke shim
// uses to tell a legitimate -1 word from a real error.
func (s SyscallStop) IsError() bool {
	return s.Rax < 0 && s.Rax >= -4095
}

// Errno returns the syscall's error number; only meaningful when IsError
// is true.
func (s SyscallStop) Errno() syscall.Errno {
	if s.IsError() {
		return syscall.Errno(-s.Rax)
	}
	return 0
}

func newSyscallStop(pid int, regs *ptrace.Regs) SyscallStop {
	return SyscallStop{
		pid: pid,
		Nr:  regs.Orig_rax,
		Args: [6]uint64{
			regs.Rdi, regs.Rsi, regs.Rdx, regs.Rcx, regs.R8, regs.R9,
		},
		Rax: int64(regs.Rax),
	}
}
