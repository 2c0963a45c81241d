package sim

import (
	"bytes"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Line identifies a controller input.
type Line int

const (
	CLK Line = iota
	MOSI
	CS
	RST
)

func (l Line) String() string {
	switch l {
	case CLK:
		return "SPI_CLK"
	case MOSI:
		return "SPI_MOSI"
	case CS:
		return "LCD_CS"
	case RST:
		return "LCD_RST"
	default:
		return fmt.Sprintf("line%d", int(l))
	}
}

// Frame is one decoded 9-bit frame.
type Frame struct {
	Data bool
	Byte byte
}

func (f Frame) Word() uint16 {
	w := uint16(f.Byte)
	if f.Data {
		w |= 0x100
	}
	return w
}

// Window is everything clocked in while CS was low.
type Window struct {
	Frames   []Frame
	Trailing int // rising clock edges that did not complete a frame
}

// Reg addresses one controller register: the page (bank) selected when it was
// written, and the command code.
type Reg struct {
	Page byte
	Cmd  uint16
}

// State is the observable controller state.
type State struct {
	Page      byte
	Sleeping  bool
	DisplayOn bool
	Inverted  bool
	Regs      map[Reg][]byte
}

// Equal compares two states register by register.
func (s State) Equal(o State) bool {
	if s.Page != o.Page || s.Sleeping != o.Sleeping || s.DisplayOn != o.DisplayOn || s.Inverted != o.Inverted {
		return false
	}
	if len(s.Regs) != len(o.Regs) {
		return false
	}
	for k, v := range s.Regs {
		w, ok := o.Regs[k]
		if !ok || !bytes.Equal(v, w) {
			return false
		}
	}
	return true
}

// ST7701 commands with side effects the model tracks.
const (
	cmdSleepIn    = 0x10
	cmdSleepOut   = 0x11
	cmdInvOff     = 0x20
	cmdInvOn      = 0x21
	cmdDisplayOff = 0x28
	cmdDisplayOn  = 0x29
	cmdPageSelect = 0xFF
)

var pagePrefix = []byte{0x77, 0x01, 0x00, 0x00}

// Panel is a pin-level ST7701S model. Feed it edges through the pins returned
// by Pin, or whole words through SPIConn.
type Panel struct {
	mu sync.Mutex

	levels [4]gpio.Level
	edges  [4]int

	bits    []bool
	windows []Window

	highByte byte
	awaitLow bool
	cmd      uint16
	haveCmd  bool
	params   []byte

	state  State
	resets int
	cmds   []uint16
}

// NewPanel returns a controller with all lines idle high, held in its
// power-on state.
func NewPanel() *Panel {
	p := &Panel{}
	for i := range p.levels {
		p.levels[i] = gpio.High
	}
	p.reset()
	return p
}

func (p *Panel) reset() {
	p.state = State{Sleeping: true, Regs: map[Reg][]byte{}}
	p.awaitLow, p.haveCmd = false, false
	p.params = nil
}

// Pin returns a gpio.PinOut wired to line l.
func (p *Panel) Pin(l Line) gpio.PinOut {
	return &panelPin{panel: p, line: l}
}

func (p *Panel) edge(l Line, v gpio.Level) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.levels[l]
	p.levels[l] = v
	if prev == v {
		return
	}
	p.edges[l]++

	switch l {
	case CS:
		if v == gpio.Low {
			p.bits = p.bits[:0]
		} else {
			p.closeWindow()
		}
	case CLK:
		if v == gpio.High && p.levels[CS] == gpio.Low {
			p.bits = append(p.bits, bool(p.levels[MOSI]))
		}
	case RST:
		if v == gpio.Low {
			p.resets++
			p.reset()
		}
	}
}

func (p *Panel) closeWindow() {
	w := Window{Trailing: len(p.bits) % 9}
	for i := 0; i+9 <= len(p.bits); i += 9 {
		var word uint16
		for _, b := range p.bits[i : i+9] {
			word <<= 1
			if b {
				word |= 1
			}
		}
		f := Frame{Data: word&0x100 != 0, Byte: byte(word)}
		w.Frames = append(w.Frames, f)
		p.consume(f, true)
	}
	p.windows = append(p.windows, w)
	p.bits = p.bits[:0]
}

// consume interprets a frame. With split set, a command frame carries the
// high byte of a 16-bit code and the next frame, data-shaped, its low byte.
func (p *Panel) consume(f Frame, split bool) {
	if !f.Data {
		if split {
			p.highByte, p.awaitLow, p.haveCmd = f.Byte, true, false
			return
		}
		p.begin(uint16(f.Byte))
		return
	}
	if p.awaitLow {
		p.awaitLow = false
		p.begin(uint16(p.highByte)<<8 | uint16(f.Byte))
		return
	}
	if !p.haveCmd {
		return
	}
	p.params = append(p.params, f.Byte)
	p.store()
}

func (p *Panel) begin(code uint16) {
	p.cmd, p.haveCmd = code, true
	p.params = nil
	p.cmds = append(p.cmds, code)

	switch code {
	case cmdSleepIn:
		p.state.Sleeping = true
	case cmdSleepOut:
		p.state.Sleeping = false
	case cmdInvOff:
		p.state.Inverted = false
	case cmdInvOn:
		p.state.Inverted = true
	case cmdDisplayOff:
		p.state.DisplayOn = false
	case cmdDisplayOn:
		p.state.DisplayOn = true
	}
	if code != cmdPageSelect {
		p.state.Regs[Reg{Page: p.state.Page, Cmd: code}] = []byte{}
	}
}

func (p *Panel) store() {
	if p.cmd == cmdPageSelect {
		if len(p.params) == 5 && bytes.Equal(p.params[:4], pagePrefix) {
			p.state.Page = p.params[4]
		}
		return
	}
	p.state.Regs[Reg{Page: p.state.Page, Cmd: p.cmd}] = append([]byte(nil), p.params...)
}

// State returns a deep copy of the controller state.
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	s.Regs = make(map[Reg][]byte, len(p.state.Regs))
	for k, v := range p.state.Regs {
		s.Regs[k] = append([]byte(nil), v...)
	}
	return s
}

// Register returns the parameters last written to cmd on page.
func (p *Panel) Register(page byte, cmd uint16) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.state.Regs[Reg{Page: page, Cmd: cmd}]
	return append([]byte(nil), v...), ok
}

// Windows returns every completed chip-select window.
func (p *Panel) Windows() []Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Window(nil), p.windows...)
}

// Commands returns every command code seen since creation, resets included.
func (p *Panel) Commands() []uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint16(nil), p.cmds...)
}

// Resets counts reset pulses.
func (p *Panel) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

// Edges counts level changes seen on l.
func (p *Panel) Edges(l Line) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.edges[l]
}

// Level returns the current level of l.
func (p *Panel) Level(l Line) gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levels[l]
}

// ClearTrace drops recorded windows and commands but keeps controller state.
func (p *Panel) ClearTrace() {
	p.mu.Lock()
	p.windows, p.cmds = nil, nil
	p.mu.Unlock()
}

type panelPin struct {
	panel *Panel
	line  Line
}

func (pp *panelPin) String() string   { return pp.Name() }
func (pp *panelPin) Name() string     { return "ST7701_" + pp.line.String() }
func (pp *panelPin) Number() int      { return int(pp.line) }
func (pp *panelPin) Function() string { return "Out" }
func (pp *panelPin) Halt() error      { return nil }

func (pp *panelPin) Out(l gpio.Level) error {
	pp.panel.edge(pp.line, l)
	return nil
}

func (pp *panelPin) PWM(gpio.Duty, physic.Frequency) error {
	return fmt.Errorf("sim: %s cannot PWM", pp.Name())
}
