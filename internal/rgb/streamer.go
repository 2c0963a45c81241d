package rgb

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	appLog "rgblcd/internal/log"
)

// Streamer owns the parallel interface. Configure and Start are called once
// during bring-up; afterwards only NotifyRegionUpdated is called, after each
// write into the framebuffer Start returned.
type Streamer interface {
	Configure(t Timing, pins Pins) error
	Start() (*FrameBuffer, error)
	NotifyRegionUpdated(r image.Rectangle)
	Close() error
}

var errNotConfigured = errors.New("rgb: streamer not configured")

// Sink receives every scanned-out frame. pix is only valid during the call.
type Sink interface {
	Scanout(pix []uint16, stride int)
}

// MemorySink keeps a copy of the last frame scanned out.
type MemorySink struct {
	mu     sync.Mutex
	frame  []uint16
	stride int
	frames int
}

func (m *MemorySink) Scanout(pix []uint16, stride int) {
	m.mu.Lock()
	m.frame = append(m.frame[:0], pix...)
	m.stride = stride
	m.frames++
	m.mu.Unlock()
}

// Frame returns a copy of the last frame and its stride.
func (m *MemorySink) Frame() ([]uint16, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint16(nil), m.frame...), m.stride
}

// Frames counts frames received.
func (m *MemorySink) Frames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// SoftStreamer scans the framebuffer out in software, once per frame
// period, into a Sink. It stands in for the hardware engine in the
// simulator and in tests.
type SoftStreamer struct {
	mode  Mode
	sink  Sink
	alloc Allocator

	// FreeRun starts the frame ticker on Start. With it off, frames are
	// only produced by Scan.
	FreeRun bool

	timing     Timing
	configured bool
	fb         *FrameBuffer
	mem        []byte

	mu     sync.Mutex
	frames uint64
	stop   chan struct{}
	done   chan struct{}
}

// NewSoftStreamer returns a free-running streamer. A nil alloc uses
// DefaultAllocator.
func NewSoftStreamer(mode Mode, sink Sink, alloc Allocator) *SoftStreamer {
	if alloc == nil {
		alloc = DefaultAllocator()
	}
	return &SoftStreamer{mode: mode, sink: sink, alloc: alloc, FreeRun: true}
}

func (s *SoftStreamer) Configure(t Timing, pins Pins) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := pins.Validate(); err != nil {
		return err
	}
	s.timing = t
	s.configured = true
	appLog.Debug("rgb: soft streamer configured", "timing", t, "mode", s.mode)
	return nil
}

func (s *SoftStreamer) Start() (*FrameBuffer, error) {
	if !s.configured {
		return nil, errNotConfigured
	}
	if s.fb != nil {
		return s.fb, nil
	}

	pages := 1
	if s.mode == Double {
		pages = 2
	}
	page := s.timing.HRes * s.timing.VRes * 2
	mem, err := s.alloc.Alloc(page * pages)
	if err != nil {
		return nil, fmt.Errorf("rgb: soft streamer: %w", err)
	}
	px := pixels(mem)
	bufs := make([][]uint16, pages)
	for i := range bufs {
		n := page / 2
		bufs[i] = px[i*n : (i+1)*n : (i+1)*n]
	}
	s.mem = mem
	s.fb = newFrameBuffer(s.timing.HRes, s.timing.VRes, s.mode, bufs)

	if s.FreeRun {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.run(s.timing.FramePeriod())
	}
	appLog.Info("rgb: scanout started", "streamer", "soft", "timing", s.timing, "pool", s.alloc)
	return s.fb, nil
}

func (s *SoftStreamer) run(period time.Duration) {
	defer close(s.done)
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.Scan()
		}
	}
}

// Scan pushes one frame to the sink.
func (s *SoftStreamer) Scan() {
	if s.fb == nil {
		return
	}
	s.fb.ReadFrame(func(pix []uint16, stride int) {
		if s.sink != nil {
			s.sink.Scanout(pix, stride)
		}
	})
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

// Frames counts frames scanned out.
func (s *SoftStreamer) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *SoftStreamer) NotifyRegionUpdated(r image.Rectangle) {
	if s.fb != nil {
		s.fb.Present(r)
	}
}

func (s *SoftStreamer) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop = nil
	}
	if s.mem == nil {
		return nil
	}
	err := s.alloc.Free(s.mem)
	s.mem, s.fb = nil, nil
	return err
}
