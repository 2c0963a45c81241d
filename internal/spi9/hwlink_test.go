package spi9

import (
	"testing"

	"rgblcd/internal/sim"
)

func TestHWLinkWords(t *testing.T) {
	p := sim.NewPanel()
	c := p.SPIConn()
	h := NewHWLink(c)

	h.SendCommand(0x3A)
	h.SendData(0x60)
	h.SendCommand(0x21)

	want := []uint16{0x03A, 0x160, 0x021}
	got := c.Words()
	if len(got) != len(want) {
		t.Fatalf("words = %03X, want %03X", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("word %d = %03X, want %03X", i, got[i], want[i])
		}
	}

	if v, ok := p.Register(0, 0x3A); !ok || len(v) != 1 || v[0] != 0x60 {
		t.Errorf("3A = % X (%v)", v, ok)
	}
	if !p.State().Inverted {
		t.Error("inversion should be on")
	}
}
