package st7701

import (
	"testing"
	"time"

	"rgblcd/internal/clock"
	"rgblcd/internal/sim"
	"rgblcd/internal/spi9"
)

// recorder is a Sender that logs calls instead of toggling pins.
type recorder struct {
	calls []call
	at    func() time.Duration
}

type call struct {
	cmd  bool
	v    uint16
	when time.Duration
}

func (r *recorder) SendCommand(c uint16) { r.calls = append(r.calls, call{cmd: true, v: c, when: r.at()}) }
func (r *recorder) SendData(b byte)      { r.calls = append(r.calls, call{v: uint16(b), when: r.at()}) }

func TestRunReplaysTableInOrder(t *testing.T) {
	v := &clock.Virtual{}
	rst := sim.NewLevelPin("RST")
	r := &recorder{at: v.Elapsed}
	p := NewProgrammer(rst, v)

	p.Run(r)

	var want []call
	for _, op := range initTable {
		want = append(want, call{cmd: true, v: op.Cmd})
		for _, b := range op.Params {
			want = append(want, call{v: uint16(b)})
		}
	}
	if len(r.calls) != len(want) {
		t.Fatalf("%d calls, want %d", len(r.calls), len(want))
	}
	for i := range want {
		if r.calls[i].cmd != want[i].cmd || r.calls[i].v != want[i].v {
			t.Fatalf("call %d = %+v, want %+v", i, r.calls[i], want[i])
		}
	}
	if !p.Done() || p.State() != StateDisplaying {
		t.Errorf("state = %s, want displaying", p.State())
	}
	if rst.Changes() != 2 {
		t.Errorf("reset line changed %d times, want 2 (low, high)", rst.Changes())
	}
}

func TestRunDelays(t *testing.T) {
	v := &clock.Virtual{}
	r := &recorder{at: v.Elapsed}
	NewProgrammer(sim.NewLevelPin("RST"), v).Run(r)

	if want := ResetHold + powerSettle + sleepOutDelay + displayOnWait; v.Elapsed() != want {
		t.Errorf("total settle time %v, want %v", v.Elapsed(), want)
	}
	if r.calls[0].when != ResetHold {
		t.Errorf("first command sent at %v, want after the %v reset hold", r.calls[0].when, ResetHold)
	}

	// Display on must come after the sleep-out wait.
	var sleepOut, dispOn time.Duration = -1, -1
	for _, c := range r.calls {
		if c.cmd && c.v == CmdSleepOut {
			sleepOut = c.when
		}
		if c.cmd && c.v == CmdDisplayOn {
			dispOn = c.when
		}
	}
	if dispOn-sleepOut != sleepOutDelay {
		t.Errorf("display on %v after sleep out, want %v", dispOn-sleepOut, sleepOutDelay)
	}
}

func TestStatePath(t *testing.T) {
	var seen []State
	for _, op := range initTable {
		if op.Enters != StateUnknown {
			seen = append(seen, op.Enters)
		}
	}
	want := []State{StatePage1, StatePage2, StatePage3, StatePage0, StatePixelFormat, StateInverted, StateAwake, StateDisplaying}
	if len(seen) != len(want) {
		t.Fatalf("table states %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("state %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestTableCopyIsIndependent(t *testing.T) {
	tbl := Table()
	tbl[0].Params[0] = 0x00
	if initTable[0].Params[0] != 0x77 {
		t.Fatal("Table must not expose the built-in sequence")
	}
}

func TestControllerReachesDisplaying(t *testing.T) {
	panel := sim.NewPanel()
	v := &clock.Virtual{}
	link := spi9.NewLink(panel.Pin(sim.CLK), panel.Pin(sim.MOSI), panel.Pin(sim.CS), v)
	NewProgrammer(panel.Pin(sim.RST), v).Run(link)

	st := panel.State()
	if st.Sleeping || !st.DisplayOn || !st.Inverted {
		t.Errorf("controller state %+v", st)
	}
	if st.Page != PageCmd1 {
		t.Errorf("controller left on page %#02x", st.Page)
	}
	if v, ok := panel.Register(PageBK0, 0xC0); !ok || v[0] != 0x3B {
		t.Errorf("BK0 C0 = % X", v)
	}
	if v, ok := panel.Register(PageBK1, 0xC0); ok {
		t.Errorf("C0 leaked into BK1: % X", v)
	}
	if v, ok := panel.Register(PageBK3, 0xE5); !ok || len(v) != 1 || v[0] != 0xE4 {
		t.Errorf("BK3 E5 = % X", v)
	}
	if v, ok := panel.Register(PageBK1, 0xE5); !ok || len(v) != 16 {
		t.Errorf("BK1 E5 = % X", v)
	}
	if v, ok := panel.Register(PageCmd1, CmdPixelFormat); !ok || v[0] != 0x60 {
		t.Errorf("3A = % X", v)
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	panel := sim.NewPanel()
	v := &clock.Virtual{}
	link := spi9.NewLink(panel.Pin(sim.CLK), panel.Pin(sim.MOSI), panel.Pin(sim.CS), v)
	prog := NewProgrammer(panel.Pin(sim.RST), v)

	prog.Run(link)
	first := panel.State()
	prog.Run(link)
	second := panel.State()

	if panel.Resets() != 2 {
		t.Fatalf("resets = %d, want 2", panel.Resets())
	}
	if !first.Equal(second) {
		t.Errorf("state after second replay differs:\n first %+v\nsecond %+v", first, second)
	}
	if len(first.Regs) == 0 {
		t.Fatal("no registers recorded")
	}
}
