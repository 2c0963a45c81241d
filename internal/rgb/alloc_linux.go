//go:build linux

package rgb

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PinnedAllocator maps anonymous memory and locks it into RAM so scanout
// never takes a page fault. Mlock is subject to RLIMIT_MEMLOCK and commonly
// fails for unprivileged processes.
type PinnedAllocator struct{}

func (PinnedAllocator) String() string { return "pinned" }

func (PinnedAllocator) Alloc(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("rgb: mmap %d bytes: %w", size, err)
	}
	if err := unix.Mlock(b); err != nil {
		_ = unix.Munmap(b)
		return nil, fmt.Errorf("rgb: mlock %d bytes: %w", size, err)
	}
	return b, nil
}

func (PinnedAllocator) Free(b []byte) error {
	_ = unix.Munlock(b)
	return unix.Munmap(b)
}
