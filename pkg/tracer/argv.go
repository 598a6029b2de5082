package tracer

import "strings"

// MemoryReader reads one machine word from a tracee's address space. It is
// the one seam ReadArgv needs, kept separate from the ptrace package so
// the pointer-chasing logic below is testable against a fake address
// space instead of a real tracee.
type MemoryReader interface {
	PeekWord(pid int, addr uintptr) (uint64, error)
}

const wordSize = 8

// ReadArgv walks a tracee-space char** at addr, reading one pointer at a
// time until a null pointer or a failed read. Each non-null pointer is
// resolved to its C string via readCString. A failed peek truncates the
// array at that point and returns what has been read so far rather than
// discarding the whole call.
func ReadArgv(mem MemoryReader, pid int, addr uintptr) [][]byte {
	var argv [][]byte
	cursor := addr

	for {
		ptr, err := mem.PeekWord(pid, cursor)
		if err != nil {
			break
		}
		if ptr == 0 {
			break
		}
		argv = append(argv, readCString(mem, pid, uintptr(ptr)))
		cursor += wordSize
	}

	return argv
}

// readCString reads a NUL-terminated byte string out of tracee memory,
// word at a time, stopping at the first embedded NUL or the first failed
// peek. The bytes are returned as-is: argv entries are not guaranteed to
// be valid UTF-8, and this layer does not decide how to render them (see
// FormatArgs).
func readCString(mem MemoryReader, pid int, addr uintptr) []byte {
	var buf []byte
	cursor := addr

outer:
	for {
		word, err := mem.PeekWord(pid, cursor)
		if err != nil {
			break
		}
		for i := 0; i < wordSize; i++ {
			b := byte(word >> (8 * i))
			if b == 0 {
				break outer
			}
			buf = append(buf, b)
		}
		cursor += wordSize
	}

	return buf
}

// FormatArgs renders a reconstructed argv for the "executable args: '...'"
// output line. Arguments are space-joined after a lossy UTF-8 conversion:
// each run of invalid bytes is rendered as a single Unicode replacement
// character rather than dropping the argument's bytes entirely.
func FormatArgs(argv [][]byte) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = strings.ToValidUTF8(string(a), "�")
	}
	return strings.Join(parts, " ")
}
