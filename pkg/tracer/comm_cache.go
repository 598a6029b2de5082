package tracer

import (
	"fmt"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

func procCommPath(pid int) string {
	return fmt.Sprintf("/proc/%d/comm", pid)
}

// commCacheSize bounds memory use for long-lived trace sessions that churn
// through many short-lived pids (e.g. a build that forks thousands of
// tool invocations).
const commCacheSize = 4096

// CommCache resolves a pid to its /proc/pid/comm process name, memoizing
// the result. It exists purely to make --verbose diagnostics readable;
// the primary "executable args: '...'" output line never consults it.
type CommCache struct {
	cache *lru.Cache[int, string]
}

// NewCommCache creates a CommCache.
func NewCommCache() *CommCache {
	c, _ := lru.New[int, string](commCacheSize) // only fails for size<=0
	return &CommCache{cache: c}
}

// Lookup returns pid's process name, reading /proc/<pid>/comm on first
// miss. Returns "" if the pid's /proc entry is gone (already exited).
func (c *CommCache) Lookup(pid int) string {
	if name, ok := c.cache.Get(pid); ok {
		return name
	}

	raw, err := os.ReadFile(procCommPath(pid))
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(string(raw))
	c.cache.Add(pid, name)
	return name
}

// Forget drops a pid's cached entry, e.g. once it has exited — the pid
// number may be reused by the kernel and we don't want a stale name
// haunting a future, unrelated process.
func (c *CommCache) Forget(pid int) {
	c.cache.Remove(pid)
}
