// Package sirfbin implements the SiRF binary protocol frames the stream
// classifier must recognize, plus the outbound messages the mode machine
// needs to drive a receiver out of SiRF mode: MID 0xA5 (UART config), MID
// 0x94 (enter internal boot / "firmware update"), and MID 135 (back to
// NMEA). Grounded on original_source/flashutils.c's sirf_write,
// sirfEnterInternalBootMode, and sirfSetProto.
package sirfbin

import (
	"github.com/illarionov/sirfmemdump/internal/sirferr"
)

const (
	header0 = 0xa0
	header1 = 0xa2
	trail0  = 0xb0
	trail1  = 0xb3
)

// MaxPayload is the largest SIRF binary payload the classifier accepts
// (spec.md section 4.1: "payload <= 1023").
const MaxPayload = 1023

// Result classifies a scan outcome, same three-way contract as the other
// frame recognizers.
type Result int

const (
	NoFrame Result = iota
	Truncated
	Frame
)

// Scan looks for a complete SIRF binary frame at the start of buf:
// A0 A2 | len(u16 BE) | payload | csum(u16 BE, 15-bit sum mod 0x8000) |
// B0 B3.
func Scan(buf []byte) (Result, int) {
	if len(buf) < 2 {
		if len(buf) == 0 || buf[0] != header0 {
			return NoFrame, 0
		}
		return Truncated, 0
	}
	if buf[0] != header0 || buf[1] != header1 {
		return NoFrame, 0
	}
	if len(buf) < 4 {
		return Truncated, 0
	}
	plen := int(buf[2])<<8 | int(buf[3])
	if plen > MaxPayload {
		return NoFrame, 0
	}
	total := 4 + plen + 2 + 2
	if len(buf) < total {
		return Truncated, 0
	}
	payload := buf[4 : 4+plen]
	csum := checksum15(payload)
	gotHi := buf[4+plen]
	gotLo := buf[4+plen+1]
	if (uint16(gotHi)<<8 | uint16(gotLo)) != csum {
		return NoFrame, 0
	}
	if buf[total-2] != trail0 || buf[total-1] != trail1 {
		return NoFrame, 0
	}
	return Frame, total
}

func checksum15(payload []byte) uint16 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}
	return uint16(sum & 0x7fff)
}

// Encode builds a SIRF binary frame carrying the given message payload.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, sirferr.New(sirferr.Framing, "SIRF payload too big: %d > %d", len(payload), MaxPayload)
	}
	csum := checksum15(payload)
	out := make([]byte, 0, 4+len(payload)+4)
	out = append(out, header0, header1, byte(len(payload)>>8), byte(len(payload)))
	out = append(out, payload...)
	out = append(out, byte(csum>>8), byte(csum))
	out = append(out, trail0, trail1)
	return out, nil
}

// EnterInternalBootMode builds MID 0x94 ("firmware update"), the message
// that forces the receiver into the internal ROM boot monitor (spec.md
// section 4.4, "SIRF -> InternalBoot").
func EnterInternalBootMode() []byte {
	frame, _ := Encode([]byte{0x94})
	return frame
}

// SwitchToNMEA builds MID 135 with payload 0x02, the message that returns
// the receiver to NMEA mode (spec.md section 4.4, "SIRF -> NMEA").
func SwitchToNMEA() []byte {
	frame, _ := Encode([]byte{135, 0x02})
	return frame
}

// portRecordSize is the per-UART-port record length inside a MID 0xA5
// payload: enable flag, protocol (duplicated), 4 baud bytes, data/stop/
// parity, and two reserved bytes.
const portRecordSize = 12

// UARTConfig builds MID 0xA5 (UART configuration), setting port 0's
// protocol and baud rate while leaving ports 1-3 disabled, matching
// original_source/flashutils.c's static `sirf` template byte-for-byte.
func UARTConfig(proto byte, baud uint32) []byte {
	payload := make([]byte, 1+4*portRecordSize)
	payload[0] = 0xa5
	port0 := payload[1 : 1+portRecordSize]
	port0[0] = 0x00 // port 0 enabled
	port0[1] = proto
	port0[2] = proto
	port0[3] = byte(baud >> 24)
	port0[4] = byte(baud >> 16)
	port0[5] = byte(baud >> 8)
	port0[6] = byte(baud)
	port0[7] = 8 // data bits
	port0[8] = 1 // stop bits
	port0[9] = 0 // parity
	for port := 1; port <= 3; port++ {
		rec := payload[1+port*portRecordSize : 1+(port+1)*portRecordSize]
		rec[0] = 0xff // disabled
	}
	frame, _ := Encode(payload)
	return frame
}
