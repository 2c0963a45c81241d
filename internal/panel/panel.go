// Package panel brings the 480x480 panel up and accepts pixel updates once it
// is running.
//
// BringUp sequences the stages of a Backend: expander init, serial link
// setup, controller programming, backlight, and scanout start. The returned
// Handle is the only way to draw; Flush copies a rectangle of RGB565 pixels
// into the framebuffer and publishes it to the streamer.
package panel

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	appLog "rgblcd/internal/log"
	"rgblcd/internal/rgb"
	"rgblcd/internal/st7701"
)

var (
	ErrOutOfBounds = errors.New("panel: rect outside the panel")
	ErrShortBuffer = errors.New("panel: pixel buffer too short for rect")
	ErrClosed      = errors.New("panel: handle closed")
)

// Backend is one way of getting the controller programmed and the pixels
// streamed.
type Backend interface {
	// Name identifies the backend in logs and diagnostics.
	Name() string
	// BringUp runs every stage and returns the running framebuffer.
	BringUp() (*rgb.FrameBuffer, error)
	// NotifyRegionUpdated is called after every write into the framebuffer.
	NotifyRegionUpdated(r image.Rectangle)
	// State is the controller programming progress.
	State() st7701.State
	Close() error
}

// Handle is a brought-up panel.
type Handle struct {
	backend Backend
	fb      *rgb.FrameBuffer
	up      time.Time

	mu        sync.Mutex
	closed    bool
	flushes   uint64
	rejected  uint64
	pixels    uint64
	lastFlush time.Time
}

// BringUp runs b's bring-up. On error nothing is left running and no
// handle is returned; it is not retried.
func BringUp(b Backend) (*Handle, error) {
	appLog.Info("panel: bring-up starting", "backend", b.Name())
	start := time.Now()
	fb, err := b.BringUp()
	if err != nil {
		appLog.Error("panel: bring-up failed", err, "backend", b.Name(), "state", b.State())
		if cerr := b.Close(); cerr != nil {
			appLog.Warn("panel: release after failed bring-up", "err", cerr)
		}
		return nil, fmt.Errorf("panel: bring-up (%s): %w", b.Name(), err)
	}
	appLog.Info("panel: ready", "backend", b.Name(), "bounds", fb.Bounds(), "took", time.Since(start))
	return &Handle{backend: b, fb: fb, up: time.Now()}, nil
}

// Bounds is the panel rectangle.
func (h *Handle) Bounds() image.Rectangle { return h.fb.Bounds() }

// Flush copies pix, row-major with a stride of r.Dx(), into r and notifies
// the streamer. The region is on screen from the next scanned-out frame once
// Flush returns; pix may be reused after that. An empty r does nothing.
func (h *Handle) Flush(r image.Rectangle, pix []uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if r.Empty() {
		return nil
	}
	if !r.In(h.fb.Bounds()) {
		h.rejected++
		return fmt.Errorf("%w: %v not in %v", ErrOutOfBounds, r, h.fb.Bounds())
	}
	if n := r.Dx() * r.Dy(); len(pix) < n {
		h.rejected++
		return fmt.Errorf("%w: %d pixels, %v needs %d", ErrShortBuffer, len(pix), r, n)
	}

	if err := h.fb.WriteRect(r, pix); err != nil {
		return fmt.Errorf("panel: flush %v: %w", r, err)
	}
	h.backend.NotifyRegionUpdated(r)

	h.flushes++
	h.pixels += uint64(r.Dx() * r.Dy())
	h.lastFlush = time.Now()
	return nil
}

// Snapshot returns a copy of the visible frame, or nil once closed.
func (h *Handle) Snapshot() []uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	return h.fb.Visible()
}

// Stats describes a running panel.
type Stats struct {
	Backend   string    `json:"backend"`
	State     string    `json:"state"`
	Mode      string    `json:"buffer_mode"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Flushes   uint64    `json:"flushes"`
	Rejected  uint64    `json:"rejected"`
	Pixels    uint64    `json:"pixels"`
	Flips     uint64    `json:"flips"`
	Since     time.Time `json:"since"`
	LastFlush time.Time `json:"last_flush,omitempty"`
	Closed    bool      `json:"closed"`
}

func (h *Handle) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, flips := h.fb.Stats()
	b := h.fb.Bounds()
	return Stats{
		Backend:   h.backend.Name(),
		State:     h.backend.State().String(),
		Mode:      h.fb.Mode().String(),
		Width:     b.Dx(),
		Height:    b.Dy(),
		Flushes:   h.flushes,
		Rejected:  h.rejected,
		Pixels:    h.pixels,
		Flips:     flips,
		Since:     h.up,
		LastFlush: h.lastFlush,
		Closed:    h.closed,
	}
}

// Close stops scanout and releases the backend. Later flushes fail with
// ErrClosed.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	appLog.Info("panel: closing", "backend", h.backend.Name())
	return h.backend.Close()
}
