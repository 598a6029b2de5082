package tracer

import "testing"

func TestExecTrackerEntryExit(t *testing.T) {
	tr := newExecTracker()
	const pid = 100

	if tr.isAwaitingExit(pid) {
		t.Fatal("a pid with no recorded entry should not be awaiting exit")
	}

	tr.onEntry(pid)
	if !tr.isAwaitingExit(pid) {
		t.Fatal("after onEntry, pid should be awaiting its matching exit-stop")
	}

	tr.onExit(pid)
	if tr.isAwaitingExit(pid) {
		t.Fatal("after onExit, pid should no longer be awaiting an exit-stop")
	}
}

// TestExecTrackerFailedExecveRearms reproduces the sequence a failed execve
// produces: a single entry-stop followed by a single exit-stop (unlike a
// successful exec, which also raises a separate PTRACE_EVENT_EXEC stop that
// carries no bookkeeping of its own). Clearing state on that one exit-stop
// must leave the pid able to recognize its next real execve as a fresh
// entry, not mistake it for a lingering exit.
func TestExecTrackerFailedExecveRearms(t *testing.T) {
	tr := newExecTracker()
	const pid = 200

	// First execve: fails immediately (e.g. ENOENT). One entry, one exit.
	tr.onEntry(pid)
	tr.onExit(pid)

	if tr.isAwaitingExit(pid) {
		t.Fatal("pid should be idle again after a failed execve's exit-stop")
	}

	// Second execve on the same pid must be seen as a fresh entry.
	if tr.isAwaitingExit(pid) {
		t.Fatal("pid incorrectly still marked awaiting exit before its second execve")
	}
	tr.onEntry(pid)
	if !tr.isAwaitingExit(pid) {
		t.Fatal("second execve's entry-stop was not recorded")
	}
	tr.onExit(pid)
	if tr.isAwaitingExit(pid) {
		t.Fatal("pid should be idle after the second execve's exit-stop too")
	}
}

func TestExecTrackerForget(t *testing.T) {
	tr := newExecTracker()
	const pid = 300

	tr.onEntry(pid)
	tr.forget(pid)

	if tr.isAwaitingExit(pid) {
		t.Fatal("forget should drop bookkeeping regardless of state")
	}
}

func TestExecTrackerIndependentPids(t *testing.T) {
	tr := newExecTracker()

	tr.onEntry(1)
	if tr.isAwaitingExit(2) {
		t.Fatal("a different pid's bookkeeping should be independent")
	}
	tr.onEntry(2)
	tr.onExit(1)

	if tr.isAwaitingExit(1) {
		t.Fatal("pid 1 should be idle after its own exit-stop")
	}
	if !tr.isAwaitingExit(2) {
		t.Fatal("pid 2's bookkeeping should be unaffected by pid 1's exit-stop")
	}
}
