package st7701

import "time"

// RegisterOp is one entry of the bring-up table: a command followed by its
// parameter bytes, an optional settle time, and the programming state the
// controller is in once the entry (and its settle time) has completed.
type RegisterOp struct {
	Cmd    uint16
	Params []byte
	Settle time.Duration
	Enters State
}

// Command codes referenced by name. Everything else in the table is vendor
// data with no documented meaning and is kept as-is.
const (
	CmdSleepOut    = 0x11
	CmdInvOn       = 0x21
	CmdDisplayOn   = 0x29
	CmdMADCTL      = 0x36
	CmdPixelFormat = 0x3A
	CmdPageSelect  = 0xFF
)

// Pages ("Command2 banks") selected through CmdPageSelect.
const (
	PageCmd1 = 0x00
	PageBK0  = 0x10
	PageBK1  = 0x11
	PageBK3  = 0x13
)

func selectPage(page byte, enters State) RegisterOp {
	return RegisterOp{Cmd: CmdPageSelect, Params: []byte{0x77, 0x01, 0x00, 0x00, page}, Enters: enters}
}

// Settle times required by the controller's charge pump and gamma circuits.
const (
	powerSettle   = 20 * time.Millisecond
	sleepOutDelay = 120 * time.Millisecond
	displayOnWait = 120 * time.Millisecond
)

// initTable is the ST7701S programming sequence for the 480x480 panel. Order
// matters: registers are banked, and each bank is selected by the page-select
// entry before it.
var initTable = []RegisterOp{
	// Command2 BK0
	selectPage(PageBK0, 0),
	{Cmd: 0xC0, Params: []byte{0x3B, 0x00}}, // 480 lines
	{Cmd: 0xC1, Params: []byte{0x0D, 0x02}},
	{Cmd: 0xC2, Params: []byte{0x31, 0x05}},
	{Cmd: 0xC7, Params: []byte{0x04}},
	{Cmd: 0xCD, Params: []byte{0x08}},
	// positive gamma
	{Cmd: 0xB0, Params: []byte{
		0x00, 0x11, 0x18, 0x0E, 0x11, 0x06, 0x07, 0x08,
		0x07, 0x22, 0x04, 0x12, 0x0F, 0xAA, 0x31, 0x18,
	}},
	// negative gamma
	{Cmd: 0xB1, Params: []byte{
		0x00, 0x11, 0x19, 0x0E, 0x12, 0x07, 0x08, 0x08,
		0x08, 0x22, 0x04, 0x11, 0x11, 0xA9, 0x32, 0x18,
	}, Enters: StatePage1},

	// Command2 BK1: power
	selectPage(PageBK1, 0),
	{Cmd: 0xB0, Params: []byte{0x60}},
	{Cmd: 0xB1, Params: []byte{0x32}},
	{Cmd: 0xB2, Params: []byte{0x07}},
	{Cmd: 0xB3, Params: []byte{0x80}},
	{Cmd: 0xB5, Params: []byte{0x49}},
	{Cmd: 0xB7, Params: []byte{0x85}},
	{Cmd: 0xB8, Params: []byte{0x21}},
	{Cmd: 0xC1, Params: []byte{0x78}},
	{Cmd: 0xC2, Params: []byte{0x78}, Settle: powerSettle},

	// GIP timing and VCOM
	{Cmd: 0xE0, Params: []byte{0x00, 0x1B, 0x02}},
	{Cmd: 0xE1, Params: []byte{0x08, 0xA0, 0x00, 0x00, 0x07, 0xA0, 0x00, 0x00, 0x00, 0x44, 0x44}},
	{Cmd: 0xE2, Params: []byte{0x11, 0x11, 0x44, 0x44, 0xED, 0xA0, 0x00, 0x00, 0xEC, 0xA0, 0x00, 0x00}},
	{Cmd: 0xE3, Params: []byte{0x00, 0x00, 0x11, 0x11}},
	{Cmd: 0xE4, Params: []byte{0x44, 0x44}},
	{Cmd: 0xE5, Params: []byte{
		0x0A, 0xE9, 0xD8, 0xA0, 0x0C, 0xEB, 0xD8, 0xA0,
		0x0E, 0xED, 0xD8, 0xA0, 0x10, 0xEF, 0xD8, 0xA0,
	}},
	{Cmd: 0xE6, Params: []byte{0x00, 0x00, 0x11, 0x11}},
	{Cmd: 0xE7, Params: []byte{0x44, 0x44}},
	{Cmd: 0xE8, Params: []byte{
		0x09, 0xE8, 0xD8, 0xA0, 0x0B, 0xEA, 0xD8, 0xA0,
		0x0D, 0xEC, 0xD8, 0xA0, 0x0F, 0xEE, 0xD8, 0xA0,
	}},
	{Cmd: 0xEB, Params: []byte{0x02, 0x00, 0xE4, 0xE4, 0x88, 0x00, 0x40}},
	{Cmd: 0xEC, Params: []byte{0x3C, 0x00}},
	{Cmd: 0xED, Params: []byte{
		0xAB, 0x89, 0x76, 0x54, 0x02, 0xFF, 0xFF, 0xFF,
		0xFF, 0xFF, 0xFF, 0x20, 0x45, 0x67, 0x98, 0xBA,
	}},
	{Cmd: CmdMADCTL, Params: []byte{0x10}, Enters: StatePage2},

	// Command2 BK3
	selectPage(PageBK3, 0),
	{Cmd: 0xE5, Params: []byte{0xE4}, Enters: StatePage3},

	// back to Command1
	selectPage(PageCmd1, StatePage0),
	{Cmd: CmdPixelFormat, Params: []byte{0x60}, Enters: StatePixelFormat}, // 0x50 RGB565, 0x60 RGB666, 0x70 RGB888
	{Cmd: CmdInvOn, Enters: StateInverted},
	{Cmd: CmdSleepOut, Settle: sleepOutDelay, Enters: StateAwake},
	{Cmd: CmdDisplayOn, Settle: displayOnWait, Enters: StateDisplaying},
}

// Table returns a copy of the programming sequence.
func Table() []RegisterOp {
	out := make([]RegisterOp, len(initTable))
	for i, op := range initTable {
		op.Params = append([]byte(nil), op.Params...)
		out[i] = op
	}
	return out
}
