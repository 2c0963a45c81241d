package panel

import (
	"image"
	"image/color"

	"tinygo.org/x/drivers"

	"rgblcd/internal/convert"
)

// Displayer lets code written against the tinygo drivers display interface
// draw on the panel. Pixels collect in a local buffer and Display flushes
// the changed rectangle in one go.
type Displayer struct {
	h     *Handle
	w, ht int
	buf   []uint16
	dirty image.Rectangle
}

var _ drivers.Displayer = &Displayer{}

func NewDisplayer(h *Handle) *Displayer {
	b := h.Bounds()
	return &Displayer{h: h, w: b.Dx(), ht: b.Dy(), buf: make([]uint16, b.Dx()*b.Dy())}
}

func (d *Displayer) Size() (x, y int16) {
	return int16(d.w), int16(d.ht)
}

// SetPixel draws one pixel. Pixels off the panel are ignored.
func (d *Displayer) SetPixel(x, y int16, c color.RGBA) {
	if int(x) < 0 || int(y) < 0 || int(x) >= d.w || int(y) >= d.ht {
		return
	}
	d.buf[int(y)*d.w+int(x)] = convert.RGB565(c)
	d.dirty = d.dirty.Union(image.Rect(int(x), int(y), int(x)+1, int(y)+1))
}

// FillRectangle fills a w x h rectangle at (x, y). Non-positive sizes draw
// nothing.
func (d *Displayer) FillRectangle(x, y, w, h int16, c color.RGBA) error {
	if w <= 0 || h <= 0 {
		return nil
	}
	r := image.Rect(int(x), int(y), int(x)+int(w), int(y)+int(h))
	if !r.In(image.Rect(0, 0, d.w, d.ht)) {
		return ErrOutOfBounds
	}
	p := convert.RGB565(c)
	for yy := r.Min.Y; yy < r.Max.Y; yy++ {
		row := d.buf[yy*d.w:]
		for xx := r.Min.X; xx < r.Max.X; xx++ {
			row[xx] = p
		}
	}
	d.dirty = d.dirty.Union(r)
	return nil
}

// DrawRGBBitmap copies a w x h block of RGB565 pixels to (x, y).
// Non-positive sizes draw nothing.
func (d *Displayer) DrawRGBBitmap(x, y int16, data []uint16, w, h int16) error {
	if w <= 0 || h <= 0 {
		return nil
	}
	r := image.Rect(int(x), int(y), int(x)+int(w), int(y)+int(h))
	if !r.In(image.Rect(0, 0, d.w, d.ht)) {
		return ErrOutOfBounds
	}
	if len(data) < int(w)*int(h) {
		return ErrShortBuffer
	}
	for yy := 0; yy < int(h); yy++ {
		copy(d.buf[(r.Min.Y+yy)*d.w+r.Min.X:], data[yy*int(w):(yy+1)*int(w)])
	}
	d.dirty = d.dirty.Union(r)
	return nil
}

// Display flushes everything drawn since the last call.
func (d *Displayer) Display() error {
	r := d.dirty
	if r.Empty() {
		return nil
	}
	pix := make([]uint16, 0, r.Dx()*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		pix = append(pix, d.buf[y*d.w+r.Min.X:y*d.w+r.Max.X]...)
	}
	if err := d.h.Flush(r, pix); err != nil {
		return err
	}
	d.dirty = image.Rectangle{}
	return nil
}
