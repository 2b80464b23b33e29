// Package nmea implements just enough of the NMEA 0183 sentence format for
// the stream classifier (spec.md section 4.3) to recognize frames in a raw
// rx buffer, plus construction of the one outbound sentence the mode
// machine needs: $PSRF100 (switch SiRF protocol/baud). Grounded on
// original_source/flashutils.c's nmea_add_checksum/nmea_lowlevel_send.
package nmea

import (
	"fmt"

	"github.com/illarionov/sirfmemdump/internal/sirferr"
)

// Checksum XORs every byte of body (the sentence between '$'/'!' and '*',
// exclusive of both) together, per spec.md section 4.1's NMEA frame
// definition.
func Checksum(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum ^= b
	}
	return sum
}

// Result classifies the outcome of scanning for an NMEA frame at the start
// of buf, mirroring the stream classifier's three-way {no, truncated, yes}
// contract (spec.md section 4.3).
type Result int

const (
	NoFrame Result = iota
	Truncated
	Frame
)

// Scan looks for a complete NMEA sentence starting at buf[0]. A sentence is
// '$' or '!', five alphabetic talker+sentence-id characters, a printable
// body up to '*', two hex checksum digits, then "\r\n" (spec.md section
// 4.1).
func Scan(buf []byte) (Result, int) {
	if len(buf) == 0 {
		return NoFrame, 0
	}
	if buf[0] != '$' && buf[0] != '!' {
		return NoFrame, 0
	}
	if len(buf) < 6 {
		return Truncated, 0
	}
	for i := 1; i < 6; i++ {
		c := buf[i]
		if !isAlpha(c) {
			return NoFrame, 0
		}
	}
	// Body runs from index 6 until '*'; must stay printable ASCII.
	i := 6
	for {
		if i >= len(buf) {
			return Truncated, 0
		}
		c := buf[i]
		if c == '*' {
			break
		}
		if c < 0x20 || c > 0x7e {
			return NoFrame, 0
		}
		i++
		if i-6 > 512 {
			// Runaway body with no terminator; not a frame.
			return NoFrame, 0
		}
	}
	// buf[i] == '*'
	if i+4 > len(buf) {
		return Truncated, 0
	}
	h1, h2 := buf[i+1], buf[i+2]
	if !isHex(h1) || !isHex(h2) {
		return NoFrame, 0
	}
	if i+5 > len(buf) {
		return Truncated, 0
	}
	if buf[i+3] != '\r' || buf[i+4] != '\n' {
		return NoFrame, 0
	}
	body := buf[1:i]
	want := Checksum(body)
	got := hexVal(h1)<<4 | hexVal(h2)
	if got != want {
		return NoFrame, 0
	}
	return Frame, i + 5
}

func isAlpha(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return c - 'a' + 10
	}
}

// BuildPSRF100 constructs a $PSRF100 sentence switching the receiver's
// protocol and baud rate: $PSRF100,<proto>,<baud>,8,1,0*CS\r\n. proto is 0
// for SiRF binary, 1 for NMEA, matching original_source/flashutils.h's
// PROTO_SIRF/PROTO_NMEA constants.
func BuildPSRF100(proto int, baud int) ([]byte, error) {
	if proto != 0 && proto != 1 {
		return nil, sirferr.New(sirferr.Argument, "invalid NMEA protocol selector %d", proto)
	}
	body := []byte(fmt.Sprintf("PSRF100,%d,%d,8,1,0", proto, baud))
	cs := Checksum(body)
	out := make([]byte, 0, 1+len(body)+1+2+2)
	out = append(out, '$')
	out = append(out, body...)
	out = append(out, '*')
	out = append(out, fmt.Sprintf("%02X", cs)...)
	out = append(out, '\r', '\n')
	return out, nil
}
