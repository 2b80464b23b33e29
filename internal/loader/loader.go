// Package loader injects the ARM loader image into the internal boot ROM
// over the transport per spec.md section 4.5 (component C5). It is the
// only component that talks raw bytes to the boot ROM; once the "+++"
// banner arrives the session hands off to the memdump client.
package loader

import (
	"encoding/binary"
	"time"

	"github.com/illarionov/sirfmemdump/internal/sirferr"
	"github.com/illarionov/sirfmemdump/internal/transport"
)

// BannerTimeout is the deadline for the "+++" ready banner (spec.md
// section 4.5 step 5).
var BannerTimeout = 20 * time.Second

// boostByte is sent as the second header byte; the boot ROM's original
// firmware treats it as a baud-boost selector and 0 means "no boost".
const boostByte = 0

// expectedBanner is the exact 3-byte acknowledgement the boot ROM sends
// once the loader image is running and ready to serve MDPROTO.
var expectedBanner = [3]byte{'+', '+', '+'}

// Inject drives the boot ROM handshake: force 38400 baud, purge, send the
// 'S' header with image length, write the image, send the reset vector,
// then wait for the ready banner. resetVector is 0 in practice per
// spec.md.
func Inject(t transport.Transport, image []byte, resetVector uint32) error {
	if err := t.Reset(38400); err != nil {
		return sirferr.Wrap(sirferr.Transport, err, "loader: force 38400 baud")
	}
	if err := t.Purge(); err != nil {
		return sirferr.Wrap(sirferr.Transport, err, "loader: purge before header")
	}

	header := make([]byte, 0, 6)
	header = append(header, 'S', boostByte)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(image)))
	header = append(header, lenBuf[:]...)
	if err := writeAll(t, header, "header"); err != nil {
		return err
	}

	if err := writeAll(t, image, "image"); err != nil {
		return err
	}

	var vecBuf [4]byte
	binary.BigEndian.PutUint32(vecBuf[:], resetVector)
	if err := writeAll(t, vecBuf[:], "reset vector"); err != nil {
		return err
	}

	banner, err := readExactly(t, 3, BannerTimeout)
	if err != nil {
		return sirferr.Wrap(sirferr.Timeout, err, "loader: waiting for ready banner")
	}
	if [3]byte{banner[0], banner[1], banner[2]} != expectedBanner {
		return sirferr.New(sirferr.ProtocolViolation, "loader: unexpected banner %q, link now indeterminate, power-cycle required", banner)
	}
	return nil
}

func writeAll(t transport.Transport, p []byte, what string) error {
	n, err := t.Write(p)
	if err != nil {
		return sirferr.Wrap(sirferr.Transport, err, "loader: write %s", what)
	}
	if n != len(p) {
		return sirferr.New(sirferr.Transport, "loader: short write of %s (%d of %d bytes)", what, n, len(p))
	}
	return nil
}

// readExactly accumulates reads until n bytes are collected or the
// deadline expires, matching the 20s-per-read-attempt discipline used
// throughout the memdump client.
func readExactly(t transport.Transport, n int, deadline time.Duration) ([]byte, error) {
	out := make([]byte, 0, n)
	remaining := deadline
	for len(out) < n {
		start := time.Now()
		buf := make([]byte, n-len(out))
		got, err := t.Read(buf, remaining)
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
