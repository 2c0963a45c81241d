// Package simwindow shows the simulated panel in a desktop window.
package simwindow

import (
	"image"
	"image/color"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"golang.org/x/image/draw"
	"periph.io/x/conn/v3/gpio"

	"rgblcd/internal/convert"
)

// backlightOff is what the panel looks like with the backlight off.
var backlightOff = color.RGBA{R: 96, G: 96, B: 96, A: 255}

// Window is an rgb.Sink that paints every scanned-out frame.
type Window struct {
	app    fyne.App
	win    fyne.Window
	raster *canvas.Raster
	light  func() gpio.Level

	mu    sync.Mutex
	frame *image.RGBA
	dirty bool
}

// New creates the window. light reports the backlight level and may be nil.
// The window is not shown until Run.
func New(title string, width, height int, light func() gpio.Level) *Window {
	w := &Window{
		app:   app.New(),
		light: light,
		frame: image.NewRGBA(image.Rect(0, 0, width, height)),
	}
	w.raster = canvas.NewRaster(w.render)
	w.raster.SetMinSize(fyne.NewSize(float32(width), float32(height)))

	w.win = w.app.NewWindow(title)
	w.win.SetPadded(false)
	w.win.SetFixedSize(true)
	w.win.SetContent(w.raster)
	return w
}

func (w *Window) render(width, height int) image.Image {
	if w.light != nil && w.light() == gpio.Low {
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(img, img.Bounds(), image.NewUniform(backlightOff), image.Point{}, draw.Src)
		return img
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirty = false
	return convert.Scale(w.frame, width, height)
}

// Scanout copies the frame and schedules a repaint.
func (w *Window) Scanout(pix []uint16, stride int) {
	w.mu.Lock()
	b := w.frame.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := w.frame.Pix[y*w.frame.Stride:]
		for x := 0; x < b.Dx(); x++ {
			c := convert.RGBA(pix[y*stride+x])
			i := x * 4
			row[i], row[i+1], row[i+2], row[i+3] = c.R, c.G, c.B, c.A
		}
	}
	pending := w.dirty
	w.dirty = true
	w.mu.Unlock()

	// Skip the repaint if the last one has not been rendered yet.
	if !pending {
		w.raster.Refresh()
	}
}

// Run shows the window and blocks until it is closed. It must be called
// from the main goroutine.
func (w *Window) Run() {
	w.win.ShowAndRun()
}

// Close closes the window, making Run return.
func (w *Window) Close() {
	w.app.Quit()
}
