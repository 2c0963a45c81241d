package panel

import (
	"rgblcd/internal/clock"
	"rgblcd/internal/expander"
	"rgblcd/internal/rgb"
	"rgblcd/internal/sim"
)

// SimBoard is the simulated indicator board behind the "sim" backend.
type SimBoard struct {
	Controller *sim.Panel
	Expander   *sim.Expander
	Backlight  *sim.LevelPin
	Streamer   *rgb.SoftStreamer
}

// NewSim wires a simulated expander and controller to an RGBBackend. The
// expander drives the controller's CS and RST lines; scanout goes to sink.
// A nil d uses a virtual clock so bring-up does not wait.
func NewSim(mode rgb.Mode, sink rgb.Sink, d clock.Delayer) (*RGBBackend, *SimBoard) {
	if d == nil {
		d = &clock.Virtual{}
	}
	board := &SimBoard{
		Controller: sim.NewPanel(),
		Expander:   sim.NewExpander(expander.DefaultAddr),
		Backlight:  sim.NewLevelPin("LCD_BL"),
		Streamer:   rgb.NewSoftStreamer(mode, sink, rgb.HeapAllocator{}),
	}
	board.Expander.Connect(uint8(expander.ChipSelect), board.Controller.Pin(sim.CS))
	board.Expander.Connect(uint8(expander.Reset), board.Controller.Pin(sim.RST))

	b := NewRGBBackend(Hardware{
		Expander:  expander.New(board.Expander, expander.DefaultAddr),
		CLK:       board.Controller.Pin(sim.CLK),
		MOSI:      board.Controller.Pin(sim.MOSI),
		Backlight: board.Backlight,
		Streamer:  board.Streamer,
		Delay:     d,
	})
	return b, board
}
