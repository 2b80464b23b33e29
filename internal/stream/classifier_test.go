package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarionov/sirfmemdump/internal/sirfbin"
)

func TestPumpInterleavedFramesAndGarbage(t *testing.T) {
	sirfFrame, err := sirfbin.Encode([]byte{0x94})
	require.NoError(t, err)
	nmeaFrame := []byte("$GPGLL,4916.45,N,12311.12,W,225444,A*31\r\n")

	var rx []byte
	rx = append(rx, 0xde, 0xad) // garbage
	rx = append(rx, sirfFrame...)
	rx = append(rx, 'x', 'y', 'z') // garbage
	rx = append(rx, nmeaFrame...)

	c := NewClassifier(0)
	c.Feed(rx)
	frames := c.Pump()

	require.Len(t, frames, 2)
	assert.Equal(t, KindSIRF, frames[0].Kind)
	assert.Equal(t, sirfFrame, frames[0].Bytes)
	assert.Equal(t, KindNMEA, frames[1].Kind)
	assert.Equal(t, nmeaFrame, frames[1].Bytes)
	assert.Equal(t, 1, c.Counters.SIRFFrames)
	assert.Equal(t, 1, c.Counters.NMEAFrames)
	assert.Equal(t, 5, c.Counters.BytesSkipped)
}

func TestPumpHoldsTruncatedFrameAcrossFeeds(t *testing.T) {
	frame, err := sirfbin.Encode([]byte{0x94})
	require.NoError(t, err)

	c := NewClassifier(0)
	c.Feed(frame[:len(frame)-2])
	frames := c.Pump()
	assert.Empty(t, frames)
	assert.Equal(t, 0, c.Counters.BytesSkipped)

	c.Feed(frame[len(frame)-2:])
	frames = c.Pump()
	require.Len(t, frames, 1)
	assert.Equal(t, frame, frames[0].Bytes)
}

func TestPumpDiscardsWhenBufferFullWithNoProgress(t *testing.T) {
	c := NewClassifier(8)
	c.Feed([]byte("garbage!"))
	frames := c.Pump()
	assert.Empty(t, frames)
	assert.Equal(t, 8, c.Counters.BytesSkipped)
}

func TestPumpEmptyBufferYieldsNothing(t *testing.T) {
	c := NewClassifier(0)
	assert.Empty(t, c.Pump())
}
