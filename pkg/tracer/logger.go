package tracer

import (
	"fmt"
	"io"
	"os"
	"syscall"
)

// Logger receives diagnostic events from a trace session. This is
// entirely separate from the "executable args: '...'" stdout contract —
// it exists for --verbose troubleshooting (handshake, process-tree
// discovery, failed execve) and never decodes syscalls other than execve.
type Logger interface {
	Handshake(pid int)
	NewTracee(parent, child int)
	Exec(pid int)
	ExecveFailed(pid int, errno syscall.Errno)
	Forget(pid int)
}

// StreamLogger writes diagnostic lines to an io.Writer. If Names is set,
// diagnostic lines are annotated with the pid's cached /proc/pid/comm
// name; this never touches the primary stdout line.
type StreamLogger struct {
	Out   io.Writer
	Names *CommCache
}

// NewStreamLogger creates a StreamLogger writing to out, with a fresh
// name cache.
func NewStreamLogger(out io.Writer) *StreamLogger {
	return &StreamLogger{Out: out, Names: NewCommCache()}
}

func (l *StreamLogger) label(pid int) string {
	if l.Names == nil {
		return fmt.Sprintf("%d", pid)
	}
	if name := l.Names.Lookup(pid); name != "" {
		return fmt.Sprintf("%d/%s", pid, name)
	}
	return fmt.Sprintf("%d", pid)
}

func (l *StreamLogger) Handshake(pid int) {
	fmt.Fprintf(l.Out, "[trace] [%-12s] handshake complete\n", l.label(pid))
}

func (l *StreamLogger) NewTracee(parent, child int) {
	fmt.Fprintf(l.Out, "[trace] [%-12s] spawned tracee %d\n", l.label(parent), child)
}

func (l *StreamLogger) Exec(pid int) {
	fmt.Fprintf(l.Out, "[trace] [%-12s] exec event-stop\n", l.label(pid))
}

func (l *StreamLogger) ExecveFailed(pid int, errno syscall.Errno) {
	fmt.Fprintf(l.Out, "[trace] [%-12s] execve failed: %v\n", l.label(pid), errno)
}

// Forget drops pid's cached comm name once it has exited, so a reused pid
// number never shows a stale process name in later diagnostics.
func (l *StreamLogger) Forget(pid int) {
	if l.Names != nil {
		l.Names.Forget(pid)
	}
}

// FileLogger is a StreamLogger backed by an open file, closed by Close.
type FileLogger struct {
	*StreamLogger
	file *os.File
}

// NewFileLogger opens (creating/appending) path and returns a logger
// writing to it.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{StreamLogger: NewStreamLogger(f), file: f}, nil
}

// Close closes the underlying file.
func (l *FileLogger) Close() error {
	return l.file.Close()
}
