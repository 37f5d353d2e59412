//go:build linux

package sandbox

import (
	"fmt"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// limitAddressSpace caps the worker's virtual memory at its current size
// plus limit bytes. Allocations past the cap fail and the runtime aborts,
// which the parent reports as memory_limit_exceeded.
func limitAddressSpace(limit int64) error {
	self, err := procfs.Self()
	if err != nil {
		return fmt.Errorf("read process info: %w", err)
	}
	stat, err := self.Stat()
	if err != nil {
		return fmt.Errorf("read process stat: %w", err)
	}
	ceiling := uint64(stat.VirtualMemory()) + uint64(limit)
	return unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: ceiling, Max: ceiling})
}
