package rgb

import (
	"fmt"
	"image"
	"strings"
	"sync"
)

// Mode selects how many framebuffers the streamer scans out of.
type Mode int

const (
	// Single scans out of the buffer being drawn into; updates are
	// visible from the next frame, tearing included.
	Single Mode = iota
	// Double draws into a back buffer and flips on every update.
	Double
)

func (m Mode) String() string {
	if m == Double {
		return "double"
	}
	return "single"
}

// ParseMode accepts "single" or "double".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single":
		return Single, nil
	case "double":
		return Double, nil
	}
	return Single, fmt.Errorf("rgb: unknown buffer mode %q", s)
}

// FrameBuffer is a fixed-size RGB565 surface, one or two pages deep. The
// writer draws with WriteRect and publishes with Present; the scanout side
// only ever reads the visible page through ReadFrame.
type FrameBuffer struct {
	mu     sync.RWMutex
	width  int
	height int
	mode   Mode
	pages  [][]uint16
	front  int
	flips  uint64
	writes uint64
}

func newFrameBuffer(w, h int, mode Mode, pages [][]uint16) *FrameBuffer {
	return &FrameBuffer{width: w, height: h, mode: mode, pages: pages}
}

// Bounds is {0,0,width,height}.
func (fb *FrameBuffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, fb.width, fb.height)
}

func (fb *FrameBuffer) Mode() Mode { return fb.mode }

// back returns the page being drawn into. Callers hold mu.
func (fb *FrameBuffer) back() int {
	if fb.mode == Single {
		return fb.front
	}
	return 1 - fb.front
}

// WriteRect copies pix, row-major with a stride of r.Dx(), into r of the
// draw page.
func (fb *FrameBuffer) WriteRect(r image.Rectangle, pix []uint16) error {
	if !r.In(fb.Bounds()) {
		return fmt.Errorf("rgb: rect %v outside %v", r, fb.Bounds())
	}
	w := r.Dx()
	if len(pix) < w*r.Dy() {
		return fmt.Errorf("rgb: %d pixels for %v", len(pix), r)
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	dst := fb.pages[fb.back()]
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := y*fb.width + r.Min.X
		copy(dst[off:off+w], pix[(y-r.Min.Y)*w:])
	}
	fb.writes++
	return nil
}

// Present publishes the draw page. In Double mode the pages swap and r,
// the region just drawn, is copied into the new back page so the next
// partial update starts from what is on screen.
func (fb *FrameBuffer) Present(r image.Rectangle) {
	if fb.mode == Single {
		return
	}
	r = r.Intersect(fb.Bounds())

	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.front = 1 - fb.front
	fb.flips++
	src, dst := fb.pages[fb.front], fb.pages[fb.back()]
	for y := r.Min.Y; y < r.Max.Y; y++ {
		lo := y*fb.width + r.Min.X
		hi := lo + r.Dx()
		copy(dst[lo:hi], src[lo:hi])
	}
}

// ReadFrame calls fn with the visible page. fn must not retain pix.
func (fb *FrameBuffer) ReadFrame(fn func(pix []uint16, stride int)) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	fn(fb.pages[fb.front], fb.width)
}

// Visible returns a copy of the visible page.
func (fb *FrameBuffer) Visible() []uint16 {
	var out []uint16
	fb.ReadFrame(func(pix []uint16, _ int) {
		out = append([]uint16(nil), pix...)
	})
	return out
}

// At returns the visible pixel at (x, y).
func (fb *FrameBuffer) At(x, y int) uint16 {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.pages[fb.front][y*fb.width+x]
}

// Front is the index of the visible page.
func (fb *FrameBuffer) Front() int {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.front
}

// Stats reports the number of WriteRect calls and page flips.
func (fb *FrameBuffer) Stats() (writes, flips uint64) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.writes, fb.flips
}
