// Package gpsmode implements the receiver mode state machine and the
// per-session concurrency model of spec.md sections 4.4 and 5 (component
// C4): a worker goroutine owns the transport exclusively, and a
// controller submits at most one request at a time through a
// mutex-guarded single-slot queue.
package gpsmode

import (
	"sync"
	"time"

	"github.com/illarionov/sirfmemdump/internal/nmea"
	"github.com/illarionov/sirfmemdump/internal/sirfbin"
	"github.com/illarionov/sirfmemdump/internal/sirferr"
	"github.com/illarionov/sirfmemdump/internal/transport"
)

// Mode is one of the five receiver states of spec.md section 3.
type Mode int

const (
	Unknown Mode = iota
	NMEA
	SIRF
	InternalBoot
	Memdump
)

func (m Mode) String() string {
	switch m {
	case NMEA:
		return "NMEA"
	case SIRF:
		return "SIRF"
	case InternalBoot:
		return "InternalBoot"
	case Memdump:
		return "Memdump"
	default:
		return "Unknown"
	}
}

// depth orders modes so a transition can be checked against the "never
// skip levels" invariant of spec.md section 4.4.
func depth(m Mode) int {
	switch m {
	case NMEA, SIRF:
		return 1
	case InternalBoot:
		return 2
	case Memdump:
		return 3
	default:
		return 0
	}
}

// Counters mirrors spec.md section 3's Session counters.
type Counters struct {
	BytesReceived int
	CommErrors    int
	NMEACount     int
	SIRFCount     int
}

// settleDelay is the pause after SIRF MID 148 (Flash Update) before the
// caller may assume the receiver has dropped into internal boot mode;
// spec.md section 4.4 calls for "a 1 s settle, expect no further
// traffic".
var settleDelay = time.Second

// Session holds the mutable state of one attached receiver: port name,
// baud, current mode, counters, last error, and the transport handle
// (spec.md section 3). Only the worker goroutine mutates mode, counters
// and the pending slot; everything else goes through the mutex.
type Session struct {
	mu sync.Mutex

	Port string
	Baud int
	mode Mode

	Counters Counters
	LastErr  error

	t transport.Transport

	closing bool
}

// New wraps an already-open transport at the given reported baud. Mode
// starts Unknown: the caller is assumed to know nothing about the
// receiver's current protocol until the first successful transition.
func New(port string, baud int, t transport.Transport) *Session {
	return &Session{Port: port, Baud: baud, t: t, mode: Unknown}
}

// Mode returns the current mode under the session mutex.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Lock acquires the session mutex with a deadline so a wedged worker can
// never hang the controller forever (spec.md section 5: "acquiring the
// mutex with a deadline is mandatory so the UI never wedges").
func (s *Session) Lock(deadline time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(deadline):
		return false
	}
}

func (s *Session) Unlock() {
	s.mu.Unlock()
}

// Transport exposes the underlying transport for components (memdump,
// loader) that need to talk to it directly while the worker holds
// exclusive ownership.
func (s *Session) Transport() transport.Transport {
	return s.t
}

// TransitionTo drives the receiver from its current mode to target,
// sending only the wire actions spec.md section 4.4 calls for. A
// successful transition updates mode before returning. A failed
// single-step transition leaves mode unchanged; a multi-step one
// (NMEA -> InternalBoot, or the baud bounce inside SIRF -> InternalBoot)
// that fails partway leaves mode at the last step that completed.
func (s *Session) TransitionTo(target Mode) error {
	cur := s.Mode()
	if cur == Memdump && target != Memdump {
		return sirferr.New(sirferr.ModeSwitch, "no outbound transition from Memdump to %s", target)
	}
	if cur == target {
		return nil
	}

	switch {
	case cur == Unknown:
		// spec.md section 4.4: "Unknown ->* : assume destination, no wire
		// action" — the caller asserts the receiver is already where it
		// claims, typically because -n/-i told it so.
		s.setMode(target)
		return nil

	case cur == NMEA && target == SIRF:
		return s.nmeaToSIRF()

	case cur == NMEA && target == InternalBoot:
		if err := s.nmeaToSIRF(); err != nil {
			return err
		}
		return s.TransitionTo(InternalBoot)

	case cur == NMEA && target == Memdump:
		return sirferr.New(sirferr.ModeSwitch, "reach InternalBoot first, then inject the loader and call ConfirmMemdump")

	case cur == SIRF && target == NMEA:
		return s.sirfToNMEA()

	case cur == SIRF && target == InternalBoot:
		return s.sirfToInternalBoot()

	case cur == SIRF && target == Memdump:
		return sirferr.New(sirferr.ModeSwitch, "reach InternalBoot first, then inject the loader and call ConfirmMemdump")

	case cur == InternalBoot && target == Memdump:
		return sirferr.New(sirferr.ModeSwitch, "InternalBoot to Memdump requires injecting the loader, then calling ConfirmMemdump")

	default:
		if depth(target) < depth(cur) {
			return sirferr.New(sirferr.ModeSwitch, "cannot skip backward from %s to %s directly", cur, target)
		}
		return sirferr.New(sirferr.ModeSwitch, "no transition defined from %s to %s", cur, target)
	}
}

// ConfirmMemdump lets the caller (which alone knows whether loader
// injection succeeded) record that InternalBoot has deepened into
// Memdump. It is the second half of the InternalBoot -> Memdump edge.
func (s *Session) ConfirmMemdump() error {
	if s.Mode() != InternalBoot {
		return sirferr.New(sirferr.ModeSwitch, "ConfirmMemdump requires InternalBoot, have %s", s.Mode())
	}
	s.setMode(Memdump)
	return nil
}

func (s *Session) setMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

func (s *Session) nmeaToSIRF() error {
	sentence, err := nmea.BuildPSRF100(0, s.Baud)
	if err != nil {
		return err
	}
	// original_source/flashutils.c's sirfSetProto ships the MID 0xA5 UART
	// config frame alongside PSRF100 so the receiver picks up the new
	// protocol/baud whichever of the two it is currently listening for.
	if _, err := s.t.Write(sirfbin.UARTConfig(0, uint32(s.Baud))); err != nil {
		return err
	}
	if _, err := s.t.Write(sentence); err != nil {
		return err
	}
	s.setMode(SIRF)
	return nil
}

func (s *Session) sirfToNMEA() error {
	if _, err := s.t.Write(sirfbin.SwitchToNMEA()); err != nil {
		return err
	}
	s.setMode(NMEA)
	return nil
}

func (s *Session) sirfToInternalBoot() error {
	if s.Baud != 38400 {
		if err := s.sirfToNMEA(); err != nil {
			return err
		}
		// The PSRF100 telling the receiver to move to 38400 must go out
		// at the current line speed, before the local port follows it
		// there (Scenario E): send it, then Reset.
		s.Baud = 38400
		if err := s.nmeaToSIRF(); err != nil {
			return err
		}
		if err := s.t.Reset(38400); err != nil {
			return err
		}
	}
	if _, err := s.t.Write(sirfbin.EnterInternalBootMode()); err != nil {
		return err
	}
	time.Sleep(settleDelay)
	s.setMode(InternalBoot)
	return nil
}

// RequestSlot is the single-slot pending-request queue of spec.md
// section 3 and 5: the controller submits at most one request; a second
// submission while one is outstanding is refused rather than queued.
type RequestSlot struct {
	mu      sync.Mutex
	pending bool
}

// Submit claims the slot, returning false if a request is already in
// flight.
func (r *RequestSlot) Submit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending {
		return false
	}
	r.pending = true
	return true
}

// Release frees the slot once the in-flight request completes.
func (r *RequestSlot) Release() {
	r.mu.Lock()
	r.pending = false
	r.mu.Unlock()
}

// Canceller carries the 10s cancellation handshake of spec.md section 5:
// Close closes the Closing channel, which the worker checks
// cooperatively, and WaitOrForceTerminate waits up to
// ForceTerminateAfter for the worker to call WorkerExited. Canceller
// does not unblock a worker stuck inside a transport read, and it does
// not stop a worker that fails to exit in time; WaitOrForceTerminate
// then only reports false.
type Canceller struct {
	closing chan struct{}
	once    sync.Once
	done    chan struct{}
}

// ForceTerminateAfter is the hard ceiling spec.md section 5 gives the
// controller before it gives up waiting on a cooperative worker exit.
const ForceTerminateAfter = 10 * time.Second

// NewCanceller returns a ready Canceller.
func NewCanceller() *Canceller {
	return &Canceller{closing: make(chan struct{}), done: make(chan struct{})}
}

// Closing reports whether Close has been requested; the worker should
// poll it between blocking transport calls.
func (c *Canceller) Closing() <-chan struct{} {
	return c.closing
}

// Close signals the worker to stop. Idempotent.
func (c *Canceller) Close() {
	c.once.Do(func() { close(c.closing) })
}

// WorkerExited must be called by the worker goroutine on its way out.
func (c *Canceller) WorkerExited() {
	close(c.done)
}

// WaitOrForceTerminate blocks until the worker exits or
// ForceTerminateAfter elapses, reporting which happened.
func (c *Canceller) WaitOrForceTerminate() (exited bool) {
	select {
	case <-c.done:
		return true
	case <-time.After(ForceTerminateAfter):
		return false
	}
}
