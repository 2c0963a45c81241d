//go:build !linux

package rgb

import "errors"

// PinnedAllocator is only available on linux; elsewhere it always fails so
// Fallback moves on to the heap.
type PinnedAllocator struct{}

func (PinnedAllocator) String() string { return "pinned" }

func (PinnedAllocator) Alloc(int) ([]byte, error) {
	return nil, errors.New("rgb: pinned memory is only supported on linux")
}

func (PinnedAllocator) Free([]byte) error { return nil }
