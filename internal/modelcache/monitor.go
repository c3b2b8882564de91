package modelcache

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MemoryMonitor reports available system memory.
type MemoryMonitor interface {
	FreeMemoryMB() (int64, error)
}

// HostMonitor reads free memory from the kernel.
type HostMonitor struct{}

func (HostMonitor) FreeMemoryMB() (int64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}
	free := uint64(info.Freeram) + uint64(info.Bufferram)
	free *= uint64(info.Unit)
	return int64(free / (1024 * 1024)), nil
}
