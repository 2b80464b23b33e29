// Package mdproto implements the framed request/response protocol spoken
// between the host and the injected loader: frame encode/decode, the
// command/status id table, and the flash-info record codec. See spec.md
// sections 3 and 4.1.
//
// The original C source overlays size/id/payload with a packed union
// (original_source/arm/include/mdproto.h, struct mdproto_cmd_buf_t). This
// package replaces that with a single contiguous byte buffer plus
// big-endian accessor helpers, per spec.md's design notes.
package mdproto

import (
	"encoding/binary"
	"fmt"

	"github.com/illarionov/sirfmemdump/internal/sirferr"
)

// Command and status ids, spec.md section 3's command table.
const (
	CmdPing            = 'z'
	CmdPingResponse    = 'Z'
	CmdMemRead         = 'x'
	CmdMemReadResponse = 'X'
	CmdExec            = 'y'
	CmdExecResponse    = 'Y'
	CmdFlashInfo       = 'w'
	CmdFlashInfoResponse = 'W'
	CmdFlashProgram         = 'v'
	CmdFlashProgramResponse = 'V'
	CmdFlashErase           = 'u'
	CmdFlashEraseResponse   = 'U'

	StatusOK              = '+'
	StatusWrongCmd        = '?'
	StatusHeaderTimeout   = '.'
	StatusDataTimeout     = ','
	StatusTooBig          = '>'
	StatusWrongChecksum   = '#'
	StatusWrongParam      = '-'
)

// MaxPayload is the largest payload that fits in one frame: the size
// field's payload_len must not exceed the 508-byte MDPROTO_CMD_MAX_RAW_DATA_SIZE
// ceiling (spec.md section 4.1, testable property 1).
const MaxPayload = 508

// MaxSize is the largest legal value of the size field (1 + payload,
// including the id byte) before decode must reject the frame.
const MaxSize = 509

// IsStatusByte reports whether b is one of the single-byte status codes
// that may be sent alone in place of a framed response.
func IsStatusByte(b byte) bool {
	switch b {
	case StatusOK, StatusWrongCmd, StatusHeaderTimeout, StatusDataTimeout,
		StatusTooBig, StatusWrongChecksum, StatusWrongParam:
		return true
	default:
		return false
	}
}

// StatusName returns the symbolic name of a status byte for user-visible
// reporting (spec.md section 7: "Status codes received on the wire are
// reported by their symbolic name").
func StatusName(b byte) string {
	switch b {
	case StatusOK:
		return "OK"
	case StatusWrongCmd:
		return "wrong_cmd"
	case StatusHeaderTimeout:
		return "header_timeout"
	case StatusDataTimeout:
		return "data_timeout"
	case StatusTooBig:
		return "too_big"
	case StatusWrongChecksum:
		return "wrong_csum"
	case StatusWrongParam:
		return "wrong_param"
	default:
		return fmt.Sprintf("0x%02x", b)
	}
}

// checksum computes the 8-bit sum-to-zero checksum byte over data so that
// the total 8-bit sum of data plus the returned byte is zero.
func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return byte(0 - sum)
}

// Encode builds a valid MDPROTO frame: size (2 bytes BE) | id | payload |
// csum. Fails with sirferr.Framing/too-big when payload exceeds MaxPayload.
func Encode(id byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, sirferr.New(sirferr.Framing, "payload too big: %d > %d", len(payload), MaxPayload)
	}
	size := uint16(1 + len(payload))
	frame := make([]byte, 2+int(size)+1)
	binary.BigEndian.PutUint16(frame[0:2], size)
	frame[2] = id
	copy(frame[3:], payload)
	frame[len(frame)-1] = checksum(frame[:len(frame)-1])
	return frame, nil
}

// DecodeHeader reads the big-endian size field out of the first two bytes
// of a frame and validates it against MaxSize.
func DecodeHeader(header [2]byte) (uint16, error) {
	size := binary.BigEndian.Uint16(header[:])
	if size > MaxSize {
		return 0, sirferr.New(sirferr.Framing, "frame size %d exceeds MaxSize %d", size, MaxSize)
	}
	return size, nil
}

// DecodeBody validates and decodes the id+payload+csum portion of a frame
// given the size decoded from the header. body must be exactly size+1
// bytes (payload+id, then the trailing checksum byte).
func DecodeBody(header [2]byte, body []byte) (id byte, payload []byte, err error) {
	size := binary.BigEndian.Uint16(header[:])
	if len(body) != int(size)+1 {
		return 0, nil, sirferr.New(sirferr.Framing, "expected %d body bytes, got %d", size+1, len(body))
	}
	full := make([]byte, 0, 2+len(body))
	full = append(full, header[:]...)
	full = append(full, body...)
	if checksum(full[:len(full)-1]) != full[len(full)-1] {
		return 0, nil, sirferr.New(sirferr.Framing, "wrong checksum")
	}
	id = body[0]
	payload = body[1 : len(body)-1]
	return id, payload, nil
}

// Append extends an already-encoded frame with extra bytes, recomputing
// the checksum incrementally (subtract the old size+csum contribution, add
// the new one) rather than rebuilding from scratch, and returns the new
// frame. The caller overwrites its old frame variable with the result,
// matching the "consumed once, then overwritten in place" lifecycle of
// spec.md section 3. Fails if the resulting payload would exceed
// MaxPayload.
func Append(frame []byte, extra []byte) ([]byte, error) {
	if len(frame) < 4 {
		return nil, sirferr.New(sirferr.Framing, "frame too short to append to")
	}
	oldSize := binary.BigEndian.Uint16(frame[0:2])
	newSize := int(oldSize) + len(extra)
	if newSize > MaxPayload+1 {
		return nil, sirferr.New(sirferr.Framing, "append would grow payload beyond %d", MaxPayload)
	}
	oldCsum := frame[len(frame)-1]
	csum := int8(0 - oldCsum)
	csum -= int8(byte(oldSize >> 8))
	csum -= int8(byte(oldSize))
	csum += int8(byte(uint16(newSize) >> 8))
	csum += int8(byte(uint16(newSize)))
	for _, b := range extra {
		csum += int8(b)
	}

	out := make([]byte, 0, len(frame)+len(extra))
	out = append(out, frame[:len(frame)-1]...)
	out = append(out, extra...)
	out = append(out, byte(0-csum))
	binary.BigEndian.PutUint16(out[0:2], uint16(newSize))
	return out, nil
}
