package convert

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Panel geometry (480x480 ST7701S, RGB565).
const (
	PanelWidth  = 480
	PanelHeight = 480
	PanelPixels = PanelWidth * PanelHeight
)

// RGB565 packs c as 5-6-5 bits in native byte order.
func RGB565(c color.Color) uint16 {
	r, g, b, _ := c.RGBA()
	return uint16(r>>11)<<11 | uint16(g>>10)<<5 | uint16(b>>11)
}

// RGBA unpacks an RGB565 pixel. Low bits are filled by repeating the high
// ones so 0xFFFF becomes pure white.
func RGBA(p uint16) color.RGBA {
	r := uint8(p>>11) & 0x1F
	g := uint8(p>>5) & 0x3F
	b := uint8(p) & 0x1F
	return color.RGBA{
		R: r<<3 | r>>2,
		G: g<<2 | g>>4,
		B: b<<3 | b>>2,
		A: 0xFF,
	}
}

// PackImage converts the whole of img to RGB565, row-major, with a stride
// of img.Bounds().Dx().
//
// Behavior:
//
//   - *image.NRGBA and *image.RGBA are read through Pix/Stride directly.
//   - Anything else goes through draw.Draw into an RGBA first.
//   - Transparent pixels (alpha < 128) become black, the panel has no alpha.
func PackImage(img image.Image) []uint16 {
	b := img.Bounds()
	out := make([]uint16, b.Dx()*b.Dy())

	switch src := img.(type) {
	case *image.NRGBA:
		packRows(out, src.Pix, src.Stride, b.Dx(), b.Dy())
	case *image.RGBA:
		// Premultiplied, but alpha below 128 is dropped anyway and opaque
		// pixels are identical.
		packRows(out, src.Pix, src.Stride, b.Dx(), b.Dy())
	default:
		rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
		packRows(out, rgba.Pix, rgba.Stride, b.Dx(), b.Dy())
	}
	return out
}

func packRows(out []uint16, pix []byte, stride, w, h int) {
	for y := 0; y < h; y++ {
		row := pix[y*stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			if row[i+3] < 128 {
				continue
			}
			out[y*w+x] = uint16(row[i]>>3)<<11 | uint16(row[i+1]>>2)<<5 | uint16(row[i+2]>>3)
		}
	}
}

// Image builds an opaque NRGBA image from RGB565 pixels.
func Image(pix []uint16, w, h int) (*image.NRGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("convert: bad size %dx%d", w, h)
	}
	if len(pix) < w*h {
		return nil, fmt.Errorf("convert: expected %d pixels, got %d", w*h, len(pix))
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			c := RGBA(pix[y*w+x])
			i := x * 4
			row[i+0] = c.R
			row[i+1] = c.G
			row[i+2] = c.B
			row[i+3] = 0xFF
		}
	}
	return img, nil
}

// Scale resizes img to w x h with nearest-neighbour sampling.
func Scale(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// barColors are the eight classic test bars, left to right.
var barColors = []uint16{
	0xFFFF, // white
	0xFFE0, // yellow
	0x07FF, // cyan
	0x07E0, // green
	0xF81F, // magenta
	0xF800, // red
	0x001F, // blue
	0x0000, // black
}

// ColorBars returns a w x h frame of vertical test bars.
func ColorBars(w, h int) []uint16 {
	out := make([]uint16, w*h)
	for x := 0; x < w; x++ {
		c := barColors[x*len(barColors)/w]
		for y := 0; y < h; y++ {
			out[y*w+x] = c
		}
	}
	return out
}

// Solid returns n pixels of c.
func Solid(n int, c uint16) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = c
	}
	return out
}
