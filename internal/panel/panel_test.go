package panel

import (
	"errors"
	"image"
	"image/color"
	"slices"
	"testing"

	"periph.io/x/conn/v3/gpio"

	"rgblcd/internal/clock"
	"rgblcd/internal/convert"
	"rgblcd/internal/expander"
	"rgblcd/internal/rgb"
	"rgblcd/internal/sim"
	"rgblcd/internal/st7701"
)

func bringUpSim(t *testing.T, mode rgb.Mode) (*Handle, *SimBoard, *rgb.MemorySink) {
	t.Helper()
	sink := &rgb.MemorySink{}
	b, board := NewSim(mode, sink, nil)
	board.Streamer.FreeRun = false
	h, err := BringUp(b)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	return h, board, sink
}

func TestBringUpSim(t *testing.T) {
	h, board, sink := bringUpSim(t, rgb.Single)

	st := board.Controller.State()
	if st.Sleeping || !st.DisplayOn {
		t.Errorf("controller not running: %+v", st)
	}
	if board.Controller.Resets() != 1 {
		t.Errorf("resets = %d, want 1", board.Controller.Resets())
	}
	if board.Backlight.Read() != gpio.High {
		t.Error("backlight should be on")
	}
	// CS and RST idle high on the expander.
	if out := board.Expander.Output(); out&0x30 != 0x30 {
		t.Errorf("expander output %04X", out)
	}
	if board.Controller.Level(sim.CS) != gpio.High || board.Controller.Level(sim.CLK) != gpio.High {
		t.Error("serial link not parked idle")
	}
	if h.Stats().State != st7701.StateDisplaying.String() {
		t.Errorf("state %s", h.Stats().State)
	}

	full := h.Bounds()
	if full != image.Rect(0, 0, 480, 480) {
		t.Fatalf("bounds %v", full)
	}
	if err := h.Flush(full, convert.Solid(480*480, 0x07E0)); err != nil {
		t.Fatal(err)
	}
	board.Streamer.Scan()
	frame, _ := sink.Frame()
	for i, p := range frame {
		if p != 0x07E0 {
			t.Fatalf("scanned pixel %d = %04X", i, p)
		}
	}
}

func TestBringUpProbeFailure(t *testing.T) {
	b, board := NewSim(rgb.Single, nil, nil)
	board.Expander.SetAbsent(true)

	h, err := BringUp(b)
	if h != nil {
		t.Fatal("handle returned on failure")
	}
	if !errors.Is(err, expander.ErrNotResponding) {
		t.Fatalf("err = %v, want ErrNotResponding", err)
	}
	if n := len(board.Controller.Commands()); n != 0 {
		t.Errorf("controller saw %d commands", n)
	}
	if board.Controller.Resets() != 0 {
		t.Error("controller was reset")
	}
	if b.State() != st7701.StateUnknown {
		t.Errorf("programmer ran: %s", b.State())
	}
	if board.Backlight.Changes() != 0 {
		t.Error("backlight touched")
	}
}

// failingStreamer refuses to start.
type failingStreamer struct{ rgb.Streamer }

func (failingStreamer) Configure(rgb.Timing, rgb.Pins) error { return nil }
func (failingStreamer) Start() (*rgb.FrameBuffer, error)     { return nil, rgb.ErrAlloc }
func (failingStreamer) Close() error                         { return nil }

func TestBringUpScanoutFailureTurnsBacklightOff(t *testing.T) {
	ex := sim.NewExpander(expander.DefaultAddr)
	ctrl := sim.NewPanel()
	ex.Connect(uint8(expander.ChipSelect), ctrl.Pin(sim.CS))
	ex.Connect(uint8(expander.Reset), ctrl.Pin(sim.RST))
	bl := sim.NewLevelPin("LCD_BL")

	b := NewRGBBackend(Hardware{
		Expander:  expander.New(ex, expander.DefaultAddr),
		CLK:       ctrl.Pin(sim.CLK),
		MOSI:      ctrl.Pin(sim.MOSI),
		Backlight: bl,
		Streamer:  failingStreamer{},
		Delay:     &clock.Virtual{},
	})
	if _, err := BringUp(b); !errors.Is(err, rgb.ErrAlloc) {
		t.Fatalf("err = %v, want ErrAlloc", err)
	}
	if bl.Read() != gpio.Low {
		t.Error("backlight left on")
	}
	if bl.Changes() != 2 {
		t.Errorf("backlight changed %d times, want on then off", bl.Changes())
	}
}

func TestFlushRejectsOutOfBounds(t *testing.T) {
	h, _, _ := bringUpSim(t, rgb.Single)
	for _, r := range []image.Rectangle{
		image.Rect(470, 0, 481, 10),
		image.Rect(-1, 0, 10, 10),
		image.Rect(0, 479, 10, 490),
		image.Rect(480, 480, 490, 490),
	} {
		err := h.Flush(r, make([]uint16, r.Dx()*r.Dy()))
		if !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("Flush(%v) = %v, want ErrOutOfBounds", r, err)
		}
	}
	for _, p := range h.Snapshot() {
		if p != 0 {
			t.Fatal("rejected flush wrote pixels")
		}
	}
	if h.Stats().Rejected != 4 {
		t.Errorf("rejected = %d", h.Stats().Rejected)
	}
}

func TestFlushShortBufferAndEmpty(t *testing.T) {
	h, _, _ := bringUpSim(t, rgb.Single)
	if err := h.Flush(image.Rect(0, 0, 10, 10), make([]uint16, 99)); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("err = %v, want ErrShortBuffer", err)
	}
	if err := h.Flush(image.Rect(5, 5, 5, 9), nil); err != nil {
		t.Errorf("empty rect: %v", err)
	}
	if h.Stats().Flushes != 0 {
		t.Error("no-op flush counted")
	}
}

func TestDisjointFlushesUnion(t *testing.T) {
	for _, mode := range []rgb.Mode{rgb.Single, rgb.Double} {
		h, board, sink := bringUpSim(t, mode)

		// Four quadrants, each a different colour.
		quads := []struct {
			r image.Rectangle
			c uint16
		}{
			{image.Rect(0, 0, 240, 240), 0xF800},
			{image.Rect(240, 0, 480, 240), 0x07E0},
			{image.Rect(0, 240, 240, 480), 0x001F},
			{image.Rect(240, 240, 480, 480), 0xFFFF},
		}
		for _, q := range quads {
			if err := h.Flush(q.r, convert.Solid(q.r.Dx()*q.r.Dy(), q.c)); err != nil {
				t.Fatal(err)
			}
		}
		want := make([]uint16, 480*480)
		for _, q := range quads {
			for y := q.r.Min.Y; y < q.r.Max.Y; y++ {
				for x := q.r.Min.X; x < q.r.Max.X; x++ {
					want[y*480+x] = q.c
				}
			}
		}

		board.Streamer.Scan()
		frame, stride := sink.Frame()
		if len(frame) != stride*480 {
			t.Fatalf("%s: frame %d pixels, stride %d", mode, len(frame), stride)
		}
		bad := 0
		for y := 0; y < 480; y++ {
			for x := 0; x < 480; x++ {
				if got := frame[y*stride+x]; got != want[y*480+x] {
					if bad < 5 {
						t.Errorf("%s: pixel (%d,%d) = %04X, want %04X", mode, x, y, got, want[y*480+x])
					}
					bad++
				}
			}
		}
		if bad > 0 {
			t.Errorf("%s: %d pixels differ from the union of flushes", mode, bad)
		}
		if snap := h.Snapshot(); !slices.Equal(snap, want) {
			t.Errorf("%s: snapshot differs from the union of flushes", mode)
		}
		if mode == rgb.Double && h.Stats().Flips != 4 {
			t.Errorf("flips = %d, want 4", h.Stats().Flips)
		}
	}
}

func TestFlushAfterClose(t *testing.T) {
	sink := &rgb.MemorySink{}
	b, _ := NewSim(rgb.Single, sink, nil)
	h, err := BringUp(b)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.Flush(image.Rect(0, 0, 1, 1), []uint16{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if h.Snapshot() != nil {
		t.Error("snapshot after close")
	}
	if err := h.Close(); err != nil {
		t.Error("second Close:", err)
	}
}

func TestSPIBackend(t *testing.T) {
	ex := sim.NewExpander(expander.DefaultAddr)
	ctrl := sim.NewPanel()
	ex.Connect(uint8(expander.Reset), ctrl.Pin(sim.RST))
	conn := ctrl.SPIConn()
	sink := &rgb.MemorySink{}
	st := rgb.NewSoftStreamer(rgb.Double, sink, rgb.HeapAllocator{})
	st.FreeRun = false

	b := NewSPIBackend(Hardware{
		Expander: expander.New(ex, expander.DefaultAddr),
		SPI:      conn,
		Streamer: st,
		Delay:    &clock.Virtual{},
	})
	h, err := BringUp(b)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	s := ctrl.State()
	if !s.DisplayOn || !s.Inverted || s.Sleeping {
		t.Errorf("controller state %+v", s)
	}
	if v, ok := ctrl.Register(st7701.PageBK0, 0xC0); !ok || v[0] != 0x3B {
		t.Errorf("BK0 C0 = % X", v)
	}
	if len(conn.Words()) == 0 {
		t.Fatal("nothing sent over spi")
	}
	if h.Stats().Mode != "double" {
		t.Errorf("mode %s", h.Stats().Mode)
	}
}

func TestDisplayer(t *testing.T) {
	h, board, sink := bringUpSim(t, rgb.Double)
	d := NewDisplayer(h)

	if w, ht := d.Size(); w != 480 || ht != 480 {
		t.Fatalf("size %dx%d", w, ht)
	}
	d.SetPixel(10, 10, color.RGBA{255, 0, 0, 255})
	d.SetPixel(-1, 5, color.RGBA{255, 255, 255, 255})
	if err := d.FillRectangle(100, 100, 20, 20, color.RGBA{0, 0, 255, 255}); err != nil {
		t.Fatal(err)
	}
	if err := d.DrawRGBBitmap(0, 0, []uint16{0x07E0, 0x07E0}, 2, 1); err != nil {
		t.Fatal(err)
	}
	if err := d.Display(); err != nil {
		t.Fatal(err)
	}
	board.Streamer.Scan()
	frame, stride := sink.Frame()
	for pt, want := range map[image.Point]uint16{
		{10, 10}:   0xF800,
		{119, 119}: 0x001F,
		{1, 0}:     0x07E0,
		{300, 300}: 0x0000,
	} {
		if got := frame[pt.Y*stride+pt.X]; got != want {
			t.Errorf("pixel %v = %04X, want %04X", pt, got, want)
		}
	}
	if h.Stats().Flushes != 1 {
		t.Errorf("flushes = %d, want 1", h.Stats().Flushes)
	}
	if err := d.Display(); err != nil || h.Stats().Flushes != 1 {
		t.Error("clean Display should not flush")
	}
	if err := d.FillRectangle(470, 470, 20, 20, color.RGBA{}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("err = %v", err)
	}
}

func TestDisplayerDegenerateSizes(t *testing.T) {
	h, _, _ := bringUpSim(t, rgb.Single)
	d := NewDisplayer(h)

	for _, tc := range []struct {
		name string
		w, h int16
	}{
		{"negative width", -2, 1},
		{"negative height", 2, -1},
		{"both negative", -2, -2},
		{"zero width", 0, 3},
		{"zero height", 3, 0},
	} {
		if err := d.DrawRGBBitmap(10, 10, []uint16{1, 2}, tc.w, tc.h); err != nil {
			t.Errorf("%s: DrawRGBBitmap = %v", tc.name, err)
		}
		if err := d.FillRectangle(10, 10, tc.w, tc.h, color.RGBA{255, 255, 255, 255}); err != nil {
			t.Errorf("%s: FillRectangle = %v", tc.name, err)
		}
	}
	if err := d.Display(); err != nil {
		t.Fatal(err)
	}
	if h.Stats().Flushes != 0 {
		t.Error("degenerate draws marked pixels dirty")
	}
	for _, p := range h.Snapshot() {
		if p != 0 {
			t.Fatal("degenerate draw wrote pixels")
		}
	}
}
