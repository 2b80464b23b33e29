package nmea

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPSRF100AndScanRoundTrip(t *testing.T) {
	frame, err := BuildPSRF100(0, 38400)
	require.NoError(t, err)

	res, n := Scan(frame)
	assert.Equal(t, Frame, res)
	assert.Equal(t, len(frame), n)
}

func TestScanRejectsBadChecksum(t *testing.T) {
	frame, err := BuildPSRF100(1, 4800)
	require.NoError(t, err)
	// flip a body byte so the trailing checksum digits no longer match.
	frame[3] ^= 0x20
	res, _ := Scan(frame)
	assert.Equal(t, NoFrame, res)
}

func TestScanTruncated(t *testing.T) {
	frame, err := BuildPSRF100(0, 9600)
	require.NoError(t, err)
	res, _ := Scan(frame[:len(frame)-2])
	assert.Equal(t, Truncated, res)
}

func TestScanNoFrame(t *testing.T) {
	res, n := Scan([]byte("garbage"))
	assert.Equal(t, NoFrame, res)
	assert.Equal(t, 0, n)
}

func TestBuildPSRF100RejectsBadProto(t *testing.T) {
	_, err := BuildPSRF100(2, 4800)
	require.Error(t, err)
}
