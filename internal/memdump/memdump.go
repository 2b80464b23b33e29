// Package memdump implements the MDPROTO client commands of spec.md
// section 4.6 (component C6): ping, mem_read, exec, flash_info,
// erase_sector and program, each built on a shared purge/write/read
// round trip.
package memdump

import (
	"encoding/binary"
	"time"

	"github.com/illarionov/sirfmemdump/internal/mdproto"
	"github.com/illarionov/sirfmemdump/internal/sirferr"
	"github.com/illarionov/sirfmemdump/internal/transport"
)

// HeaderDeadline is the read timeout for the 2-byte size header and for
// the body that follows, per spec.md section 4.6 ("read header with a
// 20s deadline ... read body + csum with the same deadline").
const HeaderDeadline = 20 * time.Second

// Client issues MDPROTO requests over a transport already parked in
// Memdump mode. It does not itself serialize access; the caller (the
// session worker) is expected to hold the session mutex for the
// lifetime of a call, matching spec.md section 4.6's "all client
// operations serialize under the session mutex".
type Client struct {
	t transport.Transport
}

// New wraps an already-open transport.
func New(t transport.Transport) *Client {
	return &Client{t: t}
}

// roundTrip implements the common schema of spec.md section 4.6: purge,
// write the encoded frame, read the 2-byte header, read the body+csum,
// validate the response id.
func (c *Client) roundTrip(reqID byte, payload []byte, wantRespID byte) (respPayload []byte, err error) {
	frame, err := mdproto.Encode(reqID, payload)
	if err != nil {
		return nil, err
	}
	if err := c.t.Purge(); err != nil {
		return nil, err
	}
	if _, err := c.t.Write(frame); err != nil {
		return nil, err
	}

	header, err := c.readHeader()
	if err != nil {
		return nil, err
	}
	size, err := mdproto.DecodeHeader(header)
	if err != nil {
		return nil, err
	}
	body, err := c.readExactly(int(size)+1, HeaderDeadline)
	if err != nil {
		return nil, sirferr.Wrap(sirferr.Timeout, err, "reading body")
	}
	id, payloadOut, err := mdproto.DecodeBody(header, body)
	if err != nil {
		return nil, err
	}
	if mdproto.IsStatusByte(id) && id != wantRespID {
		return nil, sirferr.New(sirferr.Target, "target returned status %s", mdproto.StatusName(id))
	}
	if id != wantRespID {
		return nil, sirferr.New(sirferr.ProtocolViolation, "expected response id %q, got %q", wantRespID, id)
	}
	return payloadOut, nil
}

// readHeader reads the 2-byte size header. A status byte sent alone in
// place of a frame cannot be a header's first byte (the size never
// exceeds MaxSize, so its high byte is 0 or 1) and is reported by name.
func (c *Client) readHeader() ([2]byte, error) {
	var header [2]byte
	start := time.Now()
	first, err := c.readExactly(1, HeaderDeadline)
	if err != nil {
		return header, sirferr.Wrap(sirferr.Timeout, err, "reading header")
	}
	if mdproto.IsStatusByte(first[0]) {
		return header, sirferr.New(sirferr.Target, "target returned status %s", mdproto.StatusName(first[0]))
	}
	second, err := c.readExactly(1, HeaderDeadline-time.Since(start))
	if err != nil {
		return header, sirferr.Wrap(sirferr.Timeout, err, "reading header")
	}
	header[0], header[1] = first[0], second[0]
	return header, nil
}

func (c *Client) readExactly(n int, deadline time.Duration) ([]byte, error) {
	out := make([]byte, 0, n)
	remaining := deadline
	for len(out) < n {
		start := time.Now()
		buf := make([]byte, n-len(out))
		got, err := c.t.Read(buf, remaining)
		if err != nil {
			return out, err
		}
		out = append(out, buf[:got]...)
		remaining -= time.Since(start)
		if remaining <= 0 && len(out) < n {
			return out, sirferr.New(sirferr.Timeout, "timed out after %d of %d bytes", len(out), n)
		}
	}
	return out, nil
}

// Ping round-trips a ping frame and returns the (implementation-defined)
// pong payload.
func (c *Client) Ping() ([]byte, error) {
	return c.roundTrip(mdproto.CmdPing, nil, mdproto.CmdPingResponse)
}

// MemRead reads the inclusive byte range [from, to], reassembling
// multi-frame responses. to must be >= from (spec.md testable property
// 9: output length equals to-from+1). Out-of-range bytes in a final
// over-long frame are ignored.
func (c *Client) MemRead(from, to uint32) ([]byte, error) {
	if to < from {
		return nil, sirferr.New(sirferr.Argument, "mem_read: to (%d) < from (%d)", to, from)
	}
	want := int(to-from) + 1
	out := make([]byte, 0, want)
	cursor := from
	for len(out) < want {
		var req [8]byte
		binary.BigEndian.PutUint32(req[0:4], cursor)
		binary.BigEndian.PutUint32(req[4:8], to)
		chunk, err := c.roundTrip(mdproto.CmdMemRead, req[:], mdproto.CmdMemReadResponse)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return nil, sirferr.New(sirferr.ProtocolViolation, "mem_read: empty response frame before range satisfied")
		}
		need := want - len(out)
		if len(chunk) > need {
			chunk = chunk[:need]
		}
		out = append(out, chunk...)
		cursor += uint32(len(chunk))
	}
	return out, nil
}

// ExecResult holds the four result registers of an exec call.
type ExecResult struct {
	R0, R1, R2, R3 uint32
}

// Exec calls fPtr with r0..r3 preloaded, returning the registers after
// the call.
func (c *Client) Exec(fPtr uint32, r0, r1, r2, r3 uint32) (ExecResult, error) {
	var req [20]byte
	binary.BigEndian.PutUint32(req[0:4], fPtr)
	binary.BigEndian.PutUint32(req[4:8], r0)
	binary.BigEndian.PutUint32(req[8:12], r1)
	binary.BigEndian.PutUint32(req[12:16], r2)
	binary.BigEndian.PutUint32(req[16:20], r3)

	payload, err := c.roundTrip(mdproto.CmdExec, req[:], mdproto.CmdExecResponse)
	if err != nil {
		return ExecResult{}, err
	}
	if len(payload) != 16 {
		return ExecResult{}, sirferr.New(sirferr.ProtocolViolation, "exec: expected 16 result bytes, got %d", len(payload))
	}
	return ExecResult{
		R0: binary.BigEndian.Uint32(payload[0:4]),
		R1: binary.BigEndian.Uint32(payload[4:8]),
		R2: binary.BigEndian.Uint32(payload[8:12]),
		R3: binary.BigEndian.Uint32(payload[12:16]),
	}, nil
}

// FlashInfo queries and decodes the flash_info record. spec.md section
// 4.6: "expects exactly sizeof(flash_info)+1 payload bytes" — the extra
// byte is a trailing pad this client discards once decoded.
func (c *Client) FlashInfo() (mdproto.FlashInfo, error) {
	payload, err := c.roundTrip(mdproto.CmdFlashInfo, nil, mdproto.CmdFlashInfoResponse)
	if err != nil {
		return mdproto.FlashInfo{}, err
	}
	if len(payload) != mdproto.FlashInfoWireSize+1 {
		return mdproto.FlashInfo{}, sirferr.New(sirferr.ProtocolViolation,
			"flash_info: expected %d payload bytes, got %d", mdproto.FlashInfoWireSize+1, len(payload))
	}
	return mdproto.DecodeFlashInfo(payload[:mdproto.FlashInfoWireSize])
}

// EraseSector erases the sector containing addr. A non-zero status byte
// means the target timed out polling JEDEC toggle bits.
func (c *Client) EraseSector(addr uint32) (status byte, err error) {
	var req [4]byte
	binary.BigEndian.PutUint32(req[:], addr)
	payload, err := c.roundTrip(mdproto.CmdFlashErase, req[:], mdproto.CmdFlashEraseResponse)
	if err != nil {
		return 0, err
	}
	if len(payload) != 1 {
		return 0, sirferr.New(sirferr.ProtocolViolation, "erase_sector: expected 1 status byte, got %d", len(payload))
	}
	return payload[0], nil
}

// Program writes data (addr-aligned, even length) and returns the
// target's status byte.
func (c *Client) Program(addr uint32, data []byte) (status byte, err error) {
	if len(data) < 2 || len(data)%2 != 0 {
		return 0, sirferr.New(sirferr.Argument, "program: data must be even length >= 2, got %d", len(data))
	}
	req := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(req[0:4], addr)
	copy(req[4:], data)
	payload, err := c.roundTrip(mdproto.CmdFlashProgram, req, mdproto.CmdFlashProgramResponse)
	if err != nil {
		return 0, err
	}
	if len(payload) != 1 {
		return 0, sirferr.New(sirferr.ProtocolViolation, "program: expected 1 status byte, got %d", len(payload))
	}
	return payload[0], nil
}
