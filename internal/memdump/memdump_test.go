package memdump

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarionov/sirfmemdump/internal/mdproto"
	"github.com/illarionov/sirfmemdump/internal/transport"
)

func feedFrame(t *testing.T, f *transport.Fake, id byte, payload []byte) {
	t.Helper()
	frame, err := mdproto.Encode(id, payload)
	require.NoError(t, err)
	f.Feed(frame)
}

func TestPing(t *testing.T) {
	f := transport.NewFake()
	feedFrame(t, f, mdproto.CmdPingResponse, []byte("PONG"))
	c := New(f)
	pong, err := c.Ping()
	require.NoError(t, err)
	assert.Equal(t, []byte("PONG"), pong)
	assert.Equal(t, 1, f.Purges)
}

func TestMemReadSingleFrame(t *testing.T) {
	f := transport.NewFake()
	feedFrame(t, f, mdproto.CmdMemReadResponse, []byte{1, 2, 3, 4})
	c := New(f)
	got, err := c.MemRead(0x1000, 0x1003)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestMemReadMultiFrameReassembly(t *testing.T) {
	f := transport.NewFake()
	feedFrame(t, f, mdproto.CmdMemReadResponse, []byte{1, 2})
	feedFrame(t, f, mdproto.CmdMemReadResponse, []byte{3, 4, 5})
	c := New(f)
	got, err := c.MemRead(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, got)
}

func TestMemReadIgnoresOutOfRangeTailInFinalFrame(t *testing.T) {
	f := transport.NewFake()
	feedFrame(t, f, mdproto.CmdMemReadResponse, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	c := New(f)
	got, err := c.MemRead(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestMemReadRejectsBackwardsRange(t *testing.T) {
	f := transport.NewFake()
	c := New(f)
	_, err := c.MemRead(10, 5)
	require.Error(t, err)
}

func TestExec(t *testing.T) {
	f := transport.NewFake()
	var resp [16]byte
	binary.BigEndian.PutUint32(resp[0:4], 0xaaaaaaaa)
	binary.BigEndian.PutUint32(resp[4:8], 0xbbbbbbbb)
	binary.BigEndian.PutUint32(resp[8:12], 0xcccccccc)
	binary.BigEndian.PutUint32(resp[12:16], 0xdddddddd)
	feedFrame(t, f, mdproto.CmdExecResponse, resp[:])

	c := New(f)
	r, err := c.Exec(0x2000, 1, 2, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, ExecResult{R0: 0xaaaaaaaa, R1: 0xbbbbbbbb, R2: 0xcccccccc, R3: 0xdddddddd}, r)
}

func TestEraseSectorReturnsStatus(t *testing.T) {
	f := transport.NewFake()
	feedFrame(t, f, mdproto.CmdFlashEraseResponse, []byte{0})
	c := New(f)
	status, err := c.EraseSector(0x300000)
	require.NoError(t, err)
	assert.Equal(t, byte(0), status)
}

func TestProgramRejectsOddLength(t *testing.T) {
	f := transport.NewFake()
	c := New(f)
	_, err := c.Program(0x300000, []byte{0x01})
	require.Error(t, err)
}

func TestProgramReturnsStatus(t *testing.T) {
	f := transport.NewFake()
	feedFrame(t, f, mdproto.CmdFlashProgramResponse, []byte{0})
	c := New(f)
	status, err := c.Program(0x300000, []byte{0xaa, 0xbb})
	require.NoError(t, err)
	assert.Equal(t, byte(0), status)
}

func TestRoundTripSurfacesStatusByte(t *testing.T) {
	f := transport.NewFake()
	frame, err := mdproto.Encode(mdproto.StatusWrongChecksum, nil)
	require.NoError(t, err)
	f.Feed(frame)
	c := New(f)
	_, err = c.Ping()
	require.Error(t, err)
}
