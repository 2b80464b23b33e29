package gpsmode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarionov/sirfmemdump/internal/transport"
)

func init() {
	settleDelay = time.Millisecond
}

func TestTransitionUnknownToNMEA(t *testing.T) {
	f := transport.NewFake()
	s := New("/dev/ttyp0", 38400, f)
	require.NoError(t, s.TransitionTo(NMEA))
	assert.Equal(t, NMEA, s.Mode())
	assert.Empty(t, f.Inbound)
}

func TestTransitionNMEAtoSIRFSendsPSRF100(t *testing.T) {
	f := transport.NewFake()
	s := New("/dev/ttyp0", 38400, f)
	require.NoError(t, s.TransitionTo(NMEA))
	require.NoError(t, s.TransitionTo(SIRF))
	assert.Equal(t, SIRF, s.Mode())
	assert.Contains(t, string(f.Inbound), "$PSRF100,0,38400")
	assert.Contains(t, f.Inbound, byte(0xa5)) // MID 0xA5 UART config sent alongside PSRF100
}

func TestTransitionSIRFtoInternalBootAtCorrectBaud(t *testing.T) {
	f := transport.NewFake()
	s := New("/dev/ttyp0", 38400, f)
	require.NoError(t, s.TransitionTo(SIRF))
	require.NoError(t, s.TransitionTo(InternalBoot))
	assert.Equal(t, InternalBoot, s.Mode())
	assert.Equal(t, 0, f.Baud) // Reset not invoked: already at 38400 (see next test for the bounce case)
}

func TestTransitionSIRFtoInternalBootBouncesBaud(t *testing.T) {
	f := transport.NewFake()
	s := New("/dev/ttyp0", 9600, f)
	require.NoError(t, s.TransitionTo(SIRF))
	require.NoError(t, s.TransitionTo(InternalBoot))
	assert.Equal(t, InternalBoot, s.Mode())
	assert.Equal(t, 38400, s.Baud)
	assert.Equal(t, 38400, f.Baud)
}

func TestTransitionNMEAtoMemdumpRequiresExplicitLoaderStep(t *testing.T) {
	f := transport.NewFake()
	s := New("/dev/ttyp0", 38400, f)
	require.NoError(t, s.TransitionTo(NMEA))
	err := s.TransitionTo(Memdump)
	require.Error(t, err)
	assert.Equal(t, NMEA, s.Mode())
}

func TestConfirmMemdumpRequiresInternalBoot(t *testing.T) {
	f := transport.NewFake()
	s := New("/dev/ttyp0", 38400, f)
	require.NoError(t, s.TransitionTo(NMEA))
	require.Error(t, s.ConfirmMemdump())
	require.NoError(t, s.TransitionTo(InternalBoot))
	require.NoError(t, s.ConfirmMemdump())
	assert.Equal(t, Memdump, s.Mode())
}

func TestNoOutboundFromMemdump(t *testing.T) {
	f := transport.NewFake()
	s := New("/dev/ttyp0", 38400, f)
	require.NoError(t, s.TransitionTo(NMEA))
	require.NoError(t, s.TransitionTo(InternalBoot))
	require.NoError(t, s.ConfirmMemdump())
	err := s.TransitionTo(NMEA)
	require.Error(t, err)
	assert.Equal(t, Memdump, s.Mode())
}

func TestUnknownAssumesAnyDestinationWithNoWireAction(t *testing.T) {
	f := transport.NewFake()
	s := New("/dev/ttyp0", 38400, f)
	require.NoError(t, s.TransitionTo(Memdump))
	assert.Equal(t, Memdump, s.Mode())
	assert.Empty(t, f.Inbound)
}

func TestFailedTransitionLeavesModeUnchanged(t *testing.T) {
	f := transport.NewFake()
	s := New("/dev/ttyp0", 38400, f)
	require.NoError(t, s.TransitionTo(SIRF))
	err := s.TransitionTo(Unknown)
	require.Error(t, err)
	assert.Equal(t, SIRF, s.Mode())
}

func TestRequestSlotSingleInFlight(t *testing.T) {
	var slot RequestSlot
	require.True(t, slot.Submit())
	require.False(t, slot.Submit())
	slot.Release()
	require.True(t, slot.Submit())
}

func TestCancellerCloseSignalsClosing(t *testing.T) {
	c := NewCanceller()
	c.Close()
	<-c.Closing()
}
