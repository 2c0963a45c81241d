package rgb

import (
	"errors"
	"fmt"
	"unsafe"

	appLog "rgblcd/internal/log"
)

// Allocator hands out framebuffer memory.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Free(b []byte) error
	String() string
}

// HeapAllocator allocates from the Go heap. It always succeeds short of
// running out of memory.
type HeapAllocator struct{}

func (HeapAllocator) String() string { return "heap" }

func (HeapAllocator) Alloc(size int) ([]byte, error) {
	if size <= 0 || size%2 != 0 {
		return nil, fmt.Errorf("rgb: bad allocation size %d", size)
	}
	// Backed by []uint16 so the pixel view is aligned.
	px := make([]uint16, size/2)
	return unsafe.Slice((*byte)(unsafe.Pointer(&px[0])), size), nil
}

func (HeapAllocator) Free([]byte) error { return nil }

// chain tries each allocator in order.
type chain struct {
	allocs []Allocator
	owner  map[*byte]Allocator
}

// Fallback returns an allocator that tries allocs in order and logs every
// fallback. It fails with ErrAlloc only when all of them fail.
func Fallback(allocs ...Allocator) Allocator {
	return &chain{allocs: allocs, owner: map[*byte]Allocator{}}
}

// DefaultAllocator prefers pinned memory and falls back to the heap.
func DefaultAllocator() Allocator {
	return Fallback(PinnedAllocator{}, HeapAllocator{})
}

func (c *chain) String() string {
	s := ""
	for i, a := range c.allocs {
		if i > 0 {
			s += ">"
		}
		s += a.String()
	}
	return s
}

func (c *chain) Alloc(size int) ([]byte, error) {
	var errs []error
	for i, a := range c.allocs {
		b, err := a.Alloc(size)
		if err == nil {
			if i > 0 {
				appLog.Warn("rgb: framebuffer allocated from fallback pool", "pool", a, "size", size)
			}
			c.owner[&b[0]] = a
			return b, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", a, err))
		if i+1 < len(c.allocs) {
			appLog.Warn("rgb: allocation failed, trying next pool", "pool", a, "err", err)
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrAlloc, errors.Join(errs...))
}

func (c *chain) Free(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	a, ok := c.owner[&b[0]]
	if !ok {
		return errors.New("rgb: free of unknown buffer")
	}
	delete(c.owner, &b[0])
	return a.Free(b)
}

// pixels views b as RGB565 pixels.
func pixels(b []byte) []uint16 {
	return unsafe.Slice((*uint16)(unsafe.Pointer(&b[0])), len(b)/2)
}
