//go:build linux && amd64

// Package ptrace wraps the handful of ptrace(2) requests the tracer needs:
// option setup, syscall-stop resumption, register access, and single-word
// memory reads. It is built on golang.org/x/sys/unix rather than the
// syscall package's own (older, less complete) ptrace surface, the same
// choice the fakefs tracer in this family of tools makes for its own
// register access.
package ptrace

import "golang.org/x/sys/unix"

// Regs is the amd64 general-purpose register set ptrace reports.
type Regs = unix.PtraceRegsAmd64

// Options is the option mask this tracer always installs: syscall-stops
// are reported as SIGTRAP|0x80 (TRACESYSGOOD), and fork/vfork/clone/exec
// each produce a distinguishable event-stop.
const Options = unix.PTRACE_O_TRACESYSGOOD |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEEXEC

// SetOptions installs Options on an already-stopped tracee.
func SetOptions(pid int) error {
	return unix.PtraceSetOptions(pid, Options)
}

// Resume continues the tracee until its next syscall boundary or other
// stop, optionally redelivering a pending signal.
func Resume(pid int, sig int) error {
	return unix.PtraceSyscall(pid, sig)
}

// GetRegs reads the tracee's general-purpose registers.
func GetRegs(pid int) (*Regs, error) {
	var regs Regs
	if err := unix.PtraceGetRegsAmd64(pid, &regs); err != nil {
		return nil, err
	}
	return &regs, nil
}

// PeekWord reads one 8-byte machine word from the tracee's address space.
func PeekWord(pid int, addr uintptr) (uint64, error) {
	var buf [8]byte
	n, err := unix.PtracePeekData(pid, addr, buf[:])
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, unix.EIO
	}
	return uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56, nil
}

// GetEventMsg retrieves the auxiliary message for the tracee's most recent
// event-stop — the new pid for PTRACE_EVENT_{FORK,VFORK,CLONE}.
func GetEventMsg(pid int) (uint64, error) {
	msg, err := unix.PtraceGetEventMsg(pid)
	return uint64(msg), err
}
