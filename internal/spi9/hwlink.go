package spi9

import (
	"fmt"

	"periph.io/x/conn/v3/spi"

	appLog "rgblcd/internal/log"
)

// HWLink sends 9-bit words through a hardware SPI controller that owns the
// chip-select line. The hardware path addresses the controller with plain
// 8-bit commands, so the split encoding of Link does not apply.
//
// Words are handed to the controller as little-endian 16-bit slots, the
// layout spidev uses for word sizes above eight bits.
type HWLink struct {
	conn spi.Conn
	buf  [2]byte
}

// NewHWLink wraps a connection obtained with 9 bits per word.
func NewHWLink(c spi.Conn) *HWLink {
	return &HWLink{conn: c}
}

func (h *HWLink) SendCommand(code uint16) {
	if code > 0xFF {
		appLog.Debug("hwlink: truncating 16-bit command", "code", fmt.Sprintf("0x%04X", code))
	}
	h.word(code & 0x00FF)
}

func (h *HWLink) SendData(b byte) {
	h.word(uint16(b) | modeBit)
}

func (h *HWLink) word(w uint16) {
	h.buf[0] = byte(w)
	h.buf[1] = byte(w >> 8)
	p := []spi.Packet{{W: h.buf[:], BitsPerWord: FrameBits}}
	if err := h.conn.TxPackets(p); err != nil {
		appLog.Error("hwlink: spi transfer failed", err, "word", fmt.Sprintf("0x%03X", w))
	}
}

var _ Sender = (*HWLink)(nil)
