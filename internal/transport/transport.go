// Package transport wraps the serial device consumed by the rest of the
// core: timed read, write-with-drain, purge and baud change (spec.md
// section 4.2, component C2). The serial driver itself — open/close,
// baud-rate change, read/write, purge — is an external collaborator per
// spec.md section 1; this package only defines the narrow interface the
// core needs and a concrete implementation backed by
// github.com/pkg/term.
package transport

import (
	"errors"
	"io"
	"syscall"
	"time"

	"github.com/pkg/term"

	"github.com/illarionov/sirfmemdump/internal/sirferr"
)

// SupportedBauds enumerates the baud rates the wire protocol recognizes
// (spec.md section 6).
var SupportedBauds = []int{4800, 9600, 14400, 19200, 28800, 38400, 57600, 115200}

// Transport is the contract the rest of the core consumes; §4.2.
type Transport interface {
	// Read returns as soon as any bytes arrive after the call starts, or
	// the deadline expires, whichever comes first. A zero return value
	// with a nil error means the channel was quiet for the whole
	// deadline, not EOF.
	Read(buf []byte, deadline time.Duration) (int, error)
	// Write blocks until all of p has departed or the platform aborts.
	Write(p []byte) (int, error)
	// Purge drops pending data in both directions.
	Purge() error
	// Reset reapplies raw 8-N-1 mode at the given baud, retrying
	// transient failures up to three times; safe mid-session.
	Reset(baud int) error
	Close() error
}

// Serial is the github.com/pkg/term-backed Transport.
type Serial struct {
	path string
	t    *term.Term
}

var _ Transport = (*Serial)(nil)

// Open opens path at baud in raw 8-N-1 mode, exposing the platform error
// verbatim alongside a human message on failure.
func Open(path string, baud int) (*Serial, error) {
	t, err := term.Open(path, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, sirferr.Wrap(sirferr.Transport, err, "open %s at %d baud", path, baud)
	}
	return &Serial{path: path, t: t}, nil
}

// Read implements Transport.Read by racing a blocking read against a
// timer. The helper goroutine is abandoned (and its result discarded) if
// the deadline wins; github.com/pkg/term exposes no native per-call
// deadline, so this is the same tradeoff most blocking-tty wrappers make.
func (s *Serial) Read(buf []byte, deadline time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := s.t.Read(buf)
		ch <- result{n, err}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err != nil && r.err != io.EOF {
			return r.n, sirferr.Wrap(sirferr.Transport, r.err, "read from %s", s.path)
		}
		return r.n, nil
	case <-timer.C:
		return 0, nil
	}
}

// Write blocks until all of p departs, retrying on EINTR-shaped transient
// errors the way original_source/flashutils.c's binary_send does.
func (s *Serial) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := s.t.Write(p[total:])
		total += n
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		if err != nil {
			return total, sirferr.Wrap(sirferr.Transport, err, "write to %s", s.path)
		}
		if n == 0 {
			return total, sirferr.New(sirferr.Transport, "write to %s stalled", s.path)
		}
	}
	return total, nil
}

// Purge drops pending data in both directions.
func (s *Serial) Purge() error {
	if err := s.t.Flush(); err != nil {
		return sirferr.Wrap(sirferr.Transport, err, "purge %s", s.path)
	}
	return nil
}

// Reset re-applies raw 8-N-1 mode at baud, retrying transient failures up
// to three times.
func (s *Serial) Reset(baud int) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := s.t.SetSpeed(baud); err != nil {
			lastErr = err
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if err := s.t.SetOption(term.RawMode); err != nil {
			lastErr = err
			time.Sleep(50 * time.Millisecond)
			continue
		}
		return nil
	}
	return sirferr.Wrap(sirferr.Transport, lastErr, "reset %s to %d baud after 3 attempts", s.path, baud)
}

func (s *Serial) Close() error {
	return s.t.Close()
}
