//go:build linux

package rgb

import (
	"fmt"
	"image"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	appLog "rgblcd/internal/log"
)

const (
	fbioGetVScreenInfo = 0x4600
	fbioPutVScreenInfo = 0x4601
	fbioGetFScreenInfo = 0x4602
	fbioPanDisplay     = 0x4606
)

type fbBitfield struct {
	Offset, Length, MsbRight uint32
}

// fbVarScreenInfo mirrors struct fb_var_screeninfo.
type fbVarScreenInfo struct {
	XRes, YRes               uint32
	XResVirtual, YResVirtual uint32
	XOffset, YOffset         uint32
	BitsPerPixel             uint32
	Grayscale                uint32
	Red, Green, Blue, Transp fbBitfield
	Nonstd                   uint32
	Activate                 uint32
	Height, Width            uint32
	AccelFlags               uint32
	Pixclock                 uint32
	LeftMargin, RightMargin  uint32
	UpperMargin, LowerMargin uint32
	HSyncLen, VSyncLen       uint32
	Sync, VMode, Rotate      uint32
	Colorspace               uint32
	Reserved                 [4]uint32
}

// fbFixScreenInfo mirrors struct fb_fix_screeninfo.
type fbFixScreenInfo struct {
	ID           [16]byte
	SmemStart    uintptr
	SmemLen      uint32
	Type         uint32
	TypeAux      uint32
	Visual       uint32
	XPanStep     uint16
	YPanStep     uint16
	YWrapStep    uint16
	LineLength   uint32
	MmioStart    uintptr
	MmioLen      uint32
	Accel        uint32
	Capabilities uint16
	Reserved     [2]uint16
}

// FBDev scans out through a Linux framebuffer device whose controller is
// wired to the parallel interface. The pin map is fixed by the device tree
// and is only validated here.
//
// The framebuffer lives in device memory when the device can be mapped.
// Otherwise pixels are drawn into a heap staging buffer and every update is
// written through to the device.
type FBDev struct {
	path string
	mode Mode

	f      *os.File
	timing Timing
	fix    fbFixScreenInfo
	vinfo  fbVarScreenInfo

	mem     []byte
	staging bool
	fb      *FrameBuffer
}

// NewFBDev returns a streamer for the device at path, e.g. /dev/fb0.
func NewFBDev(path string, mode Mode) *FBDev {
	return &FBDev{path: path, mode: mode}
}

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg)); errno != 0 {
		return errno
	}
	return nil
}

func (d *FBDev) Configure(t Timing, pins Pins) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := pins.Validate(); err != nil {
		return err
	}
	f, err := os.OpenFile(d.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("rgb: open %s: %w", d.path, err)
	}

	var v fbVarScreenInfo
	if err := ioctl(f.Fd(), fbioGetVScreenInfo, unsafe.Pointer(&v)); err != nil {
		f.Close()
		return fmt.Errorf("rgb: %s: FBIOGET_VSCREENINFO: %w", d.path, err)
	}
	pages := uint32(1)
	if d.mode == Double {
		pages = 2
	}
	v.XRes, v.YRes = uint32(t.HRes), uint32(t.VRes)
	v.XResVirtual, v.YResVirtual = uint32(t.HRes), uint32(t.VRes)*pages
	v.XOffset, v.YOffset = 0, 0
	v.BitsPerPixel = 16
	v.Red = fbBitfield{Offset: 11, Length: 5}
	v.Green = fbBitfield{Offset: 5, Length: 6}
	v.Blue = fbBitfield{Offset: 0, Length: 5}
	v.Transp = fbBitfield{}
	v.Pixclock = t.PixclockPicos()
	v.LeftMargin, v.RightMargin = uint32(t.HBackPorch), uint32(t.HFrontPorch)
	v.UpperMargin, v.LowerMargin = uint32(t.VBackPorch), uint32(t.VFrontPorch)
	v.HSyncLen, v.VSyncLen = uint32(t.HPulseWidth), uint32(t.VPulseWidth)
	v.Activate = 0
	if err := ioctl(f.Fd(), fbioPutVScreenInfo, unsafe.Pointer(&v)); err != nil {
		f.Close()
		return fmt.Errorf("%w: %s rejected %s: %v", ErrTiming, d.path, t, err)
	}

	var fix fbFixScreenInfo
	if err := ioctl(f.Fd(), fbioGetFScreenInfo, unsafe.Pointer(&fix)); err != nil {
		f.Close()
		return fmt.Errorf("rgb: %s: FBIOGET_FSCREENINFO: %w", d.path, err)
	}
	if want := uint32(t.HRes * 2); fix.LineLength != want {
		f.Close()
		return fmt.Errorf("%w: %s line length %d, want %d", ErrTiming, d.path, fix.LineLength, want)
	}

	d.f, d.timing, d.vinfo, d.fix = f, t, v, fix
	appLog.Info("rgb: fbdev configured", "device", d.path, "timing", t, "mode", d.mode)
	return nil
}

func (d *FBDev) Start() (*FrameBuffer, error) {
	if d.f == nil {
		return nil, errNotConfigured
	}
	if d.fb != nil {
		return d.fb, nil
	}

	pages := 1
	if d.mode == Double {
		pages = 2
	}
	page := d.timing.HRes * d.timing.VRes * 2
	size := page * pages

	mem, err := unix.Mmap(int(d.f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		appLog.Warn("rgb: device memory unavailable, using staging buffer", "device", d.path, "err", err)
		mode := d.mode
		d.mode, pages, size = Single, 1, page
		if mode == Double {
			appLog.Warn("rgb: staging buffer forces single buffering", "device", d.path)
		}
		mem, err = HeapAllocator{}.Alloc(size)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAlloc, err)
		}
		d.staging = true
	}
	d.mem = mem

	px := pixels(mem)
	bufs := make([][]uint16, pages)
	n := page / 2
	for i := range bufs {
		bufs[i] = px[i*n : (i+1)*n : (i+1)*n]
	}
	d.fb = newFrameBuffer(d.timing.HRes, d.timing.VRes, d.mode, bufs)
	appLog.Info("rgb: scanout started", "streamer", "fbdev", "device", d.path, "staging", d.staging)
	return d.fb, nil
}

func (d *FBDev) NotifyRegionUpdated(r image.Rectangle) {
	if d.fb == nil {
		return
	}
	d.fb.Present(r)

	switch {
	case d.staging:
		d.writeThrough(r)
	case d.mode == Double:
		v := d.vinfo
		v.YOffset = uint32(d.fb.Front() * d.timing.VRes)
		if err := ioctl(d.f.Fd(), fbioPanDisplay, unsafe.Pointer(&v)); err != nil {
			appLog.Error("rgb: FBIOPAN_DISPLAY failed", err, "device", d.path, "yoffset", v.YOffset)
		}
	}
}

// writeThrough copies r of the visible page to the device.
func (d *FBDev) writeThrough(r image.Rectangle) {
	r = r.Intersect(d.fb.Bounds())
	if r.Empty() {
		return
	}
	line := int(d.fix.LineLength)
	d.fb.ReadFrame(func(pix []uint16, stride int) {
		b := unsafe.Slice((*byte)(unsafe.Pointer(&pix[0])), len(pix)*2)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			src := b[(y*stride+r.Min.X)*2 : (y*stride+r.Max.X)*2]
			if _, err := d.f.WriteAt(src, int64(y*line+r.Min.X*2)); err != nil {
				appLog.Error("rgb: framebuffer write failed", err, "device", d.path, "line", y)
				return
			}
		}
	})
}

func (d *FBDev) Close() error {
	var err error
	if d.mem != nil && !d.staging {
		err = unix.Munmap(d.mem)
	}
	d.mem, d.fb = nil, nil
	if d.f != nil {
		if cerr := d.f.Close(); err == nil {
			err = cerr
		}
		d.f = nil
	}
	return err
}
