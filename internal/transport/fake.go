package transport

import (
	"sync"
	"time"
)

// Fake is an in-memory Transport used by every other package's tests so
// they never need a real tty. Bytes written via Write land in Inbound
// (what a simulated target would read); bytes placed in Outbound are
// what Read returns, in order. Feed stages a reply rather than placing
// it in Outbound directly: every round trip in this codebase purges
// before it writes its request, and a staged reply must survive that
// purge the way a real target's not-yet-transmitted response would.
// Each Write call delivers the next staged reply, if any, into
// Outbound.
type Fake struct {
	mu       sync.Mutex
	staged   [][]byte // replies queued by Feed, one delivered per Write
	Outbound []byte   // bytes waiting to be delivered to Read
	Inbound  []byte   // bytes accumulated from Write, for assertions
	Baud     int
	Purges   int
	Closed   bool
}

var _ Transport = (*Fake)(nil)

// NewFake returns a ready-to-use Fake transport.
func NewFake() *Fake {
	return &Fake{}
}

// Feed queues bytes that the Write after this call (or the next one
// with no reply still queued) will deliver to Outbound for a
// subsequent Read.
func (f *Fake) Feed(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged = append(f.staged, append([]byte(nil), b...))
}

func (f *Fake) Read(buf []byte, deadline time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Outbound) == 0 {
		return 0, nil
	}
	n := copy(buf, f.Outbound)
	f.Outbound = f.Outbound[n:]
	return n, nil
}

func (f *Fake) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Inbound = append(f.Inbound, p...)
	if len(f.staged) > 0 {
		f.Outbound = append(f.Outbound, f.staged[0]...)
		f.staged = f.staged[1:]
	}
	return len(p), nil
}

// Purge discards whatever is sitting in Outbound unread, modeling
// flushing stale rx. It does not touch staged replies: those have not
// arrived over the simulated wire yet, so a purge issued before the
// matching Write (as every round trip in this codebase does) must not
// drop them.
func (f *Fake) Purge() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Outbound = nil
	f.Purges++
	return nil
}

func (f *Fake) Reset(baud int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Baud = baud
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
