// Package stream implements the rolling-buffer frame classifier of
// spec.md section 4.3: given a growing rx buffer, repeatedly recognize the
// longest frame starting at the current position, tracking truncation so a
// frame split across reads is not mistaken for garbage.
//
// Modeled as a pull-based iterator per spec.md's design notes: truncation
// is represented as an explicit sum type (Outcome) rather than a sentinel
// value, matching the three recognizers of spec.md section 4.1 (SIRF,
// NMEA; MDPROTO is solicited and read directly by the memdump client, not
// streamed).
package stream

import (
	"github.com/illarionov/sirfmemdump/internal/nmea"
	"github.com/illarionov/sirfmemdump/internal/sirfbin"
)

// Kind identifies which protocol a recognized frame belongs to.
type Kind int

const (
	KindNone Kind = iota
	KindSIRF
	KindNMEA
)

func (k Kind) String() string {
	switch k {
	case KindSIRF:
		return "SIRF"
	case KindNMEA:
		return "NMEA"
	default:
		return "none"
	}
}

// Status is the outcome of one Next() call.
type Status int

const (
	// NoFrame means position p held no recognizable frame of any kind
	// and was not the start of a truncated one; the caller should
	// advance by one byte.
	NoFrame Status = iota
	// TruncatedFrame means a well-formed-so-far frame of some kind
	// starts at p but more bytes are needed; p becomes the carry point.
	TruncatedFrame
	// GotFrame means a complete frame was recognized and consumed.
	GotFrame
)

// Outcome is the explicit sum type spec.md's design notes call for:
// None, Truncated{earliest_garbage}, Frame{bytes, kind}.
type Outcome struct {
	Status Status
	Kind   Kind
	Length int // valid when Status == GotFrame
}

// Next asks, in order, "is buf[0:] a SIRF frame? an NMEA frame?" and
// returns the first yes/truncated answer, or NoFrame if both recognizers
// say no (spec.md section 4.3: "asks three is-it-a-frame? questions in
// order").
func Next(buf []byte) Outcome {
	if res, n := sirfbin.Scan(buf); res != sirfbin.NoFrame {
		switch res {
		case sirfbin.Frame:
			return Outcome{Status: GotFrame, Kind: KindSIRF, Length: n}
		case sirfbin.Truncated:
			return Outcome{Status: TruncatedFrame, Kind: KindSIRF}
		}
	}
	if res, n := nmea.Scan(buf); res != nmea.NoFrame {
		switch res {
		case nmea.Frame:
			return Outcome{Status: GotFrame, Kind: KindNMEA, Length: n}
		case nmea.Truncated:
			return Outcome{Status: TruncatedFrame, Kind: KindNMEA}
		}
	}
	return Outcome{Status: NoFrame}
}

// Counters tracks per-protocol frame counts and bytes discarded as noise.
// Pump updates only these counts; it records no detected protocol on a
// session.
type Counters struct {
	SIRFFrames   int
	NMEAFrames   int
	BytesSkipped int
}

// Classifier scans an accumulating rx buffer and emits complete frames in
// order, dropping only garbage (spec.md testable property 5).
type Classifier struct {
	buf      []byte
	MaxBytes int // buffer capacity before forced discard; 0 means unbounded
	Counters Counters
}

// NewClassifier returns a Classifier with the given maximum buffer size (0
// for unbounded).
func NewClassifier(maxBytes int) *Classifier {
	return &Classifier{MaxBytes: maxBytes}
}

// Feed appends freshly received bytes to the rolling buffer.
func (c *Classifier) Feed(b []byte) {
	c.buf = append(c.buf, b...)
}

// Frame is one classified, fully-received frame.
type Frame struct {
	Kind  Kind
	Bytes []byte
}

// Pump drains as many complete frames as currently possible out of the rx
// buffer, returning them in arrival order. It implements the rule set of
// spec.md section 4.3: "yes" consumes and advances; "truncated" marks a
// carry point and stops advancing past it; "no" advances by one; and if
// the buffer is full with no progress, bytes up to the first truncation
// point (or the whole buffer) are discarded.
func (c *Classifier) Pump() []Frame {
	var frames []Frame
	p := 0
	carry := -1
	for p < len(c.buf) {
		outcome := Next(c.buf[p:])
		switch outcome.Status {
		case GotFrame:
			frames = append(frames, Frame{Kind: outcome.Kind, Bytes: append([]byte(nil), c.buf[p:p+outcome.Length]...)})
			switch outcome.Kind {
			case KindSIRF:
				c.Counters.SIRFFrames++
			case KindNMEA:
				c.Counters.NMEAFrames++
			}
			p += outcome.Length
			carry = -1
		case TruncatedFrame:
			if carry == -1 {
				carry = p
			}
			// Nothing more can be parsed until more bytes arrive;
			// stop scanning forward from here.
			goto done
		case NoFrame:
			p++
		}
	}
done:
	consumeUpTo := p
	if carry != -1 {
		consumeUpTo = carry
	}
	// Drop everything decisively classified as garbage or consumed as a
	// frame; keep the tail from the carry point (or current scan
	// position) onward for the next Feed.
	if consumeUpTo > 0 {
		c.Counters.BytesSkipped += countGarbage(frames, consumeUpTo)
	}
	c.buf = append([]byte(nil), c.buf[consumeUpTo:]...)

	if c.MaxBytes > 0 && len(c.buf) >= c.MaxBytes {
		discard := len(c.buf)
		if carry > 0 {
			discard = carry
		}
		c.Counters.BytesSkipped += discard
		c.buf = append([]byte(nil), c.buf[discard:]...)
	}

	return frames
}

// countGarbage reports how many of the first n consumed bytes were noise
// rather than part of a recognized frame.
func countGarbage(frames []Frame, n int) int {
	frameBytes := 0
	for _, f := range frames {
		frameBytes += len(f.Bytes)
	}
	if n < frameBytes {
		return 0
	}
	return n - frameBytes
}
