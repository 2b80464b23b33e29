package flashplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarionov/sirfmemdump/internal/mdproto"
	"github.com/illarionov/sirfmemdump/internal/memdump"
	"github.com/illarionov/sirfmemdump/internal/transport"
)

func TestPlanEraseBuiltinTableHit(t *testing.T) {
	table, err := LoadDeviceDB("")
	require.NoError(t, err)

	info := mdproto.FlashInfo{ManufacturerID: 0x0001, DeviceID: 0x22ba}
	plan, err := PlanErase(info, table)
	require.NoError(t, err)
	assert.Equal(t, 512*1024, plan.TotalBytes())
}

func TestPlanEraseCFIWalkMatchesScenarioD(t *testing.T) {
	table, err := LoadDeviceDB("")
	require.NoError(t, err)

	info := mdproto.FlashInfo{
		ManufacturerID: 0xffff, // not in the built-in table
		DeviceID:       0xffff,
		QRY:            [3]byte{'Q', 'R', 'Y'},
		Size:           19, // 2^19 = 512 KiB
		NumEraseBlocks: 4,
		EraseBlocks: [8]uint32{
			0x00400000,
			0x00200001,
			0x00800000,
			0x01000006,
		},
	}
	plan, err := PlanErase(info, table)
	require.NoError(t, err)
	require.Len(t, plan.Blocks, 4)
	assert.Equal(t, Block{Count: 1, BlockBytes: 16384}, plan.Blocks[0])
	assert.Equal(t, Block{Count: 2, BlockBytes: 8192}, plan.Blocks[1])
	assert.Equal(t, Block{Count: 1, BlockBytes: 32768}, plan.Blocks[2])
	assert.Equal(t, Block{Count: 7, BlockBytes: 65536}, plan.Blocks[3])
	assert.Equal(t, 512*1024, plan.TotalBytes())
}

func TestPlanEraseRejectsOvershoot(t *testing.T) {
	table, err := LoadDeviceDB("")
	require.NoError(t, err)
	info := mdproto.FlashInfo{
		QRY:            [3]byte{'Q', 'R', 'Y'},
		Size:           10, // 1 KiB, too small for the descriptor below
		NumEraseBlocks: 1,
		EraseBlocks:    [8]uint32{0x01000000}, // 65536 bytes
	}
	_, err = PlanErase(info, table)
	require.Error(t, err)
}

func TestPlanEraseRejectsMissingQRY(t *testing.T) {
	table, err := LoadDeviceDB("")
	require.NoError(t, err)
	_, err = PlanErase(mdproto.FlashInfo{}, table)
	require.Error(t, err)
}

func feedFrame(t *testing.T, f *transport.Fake, id byte, payload []byte) {
	t.Helper()
	frame, err := mdproto.Encode(id, payload)
	require.NoError(t, err)
	f.Feed(frame)
}

func TestReprogramRejectsOverlongFirmware(t *testing.T) {
	plan := Plan{Blocks: []Block{{Count: 1, BlockBytes: 16}}}
	c := memdump.New(transport.NewFake())
	err := Reprogram(c, plan, make([]byte, 17))
	require.Error(t, err)
}

func TestReprogramSkipsMatchingSector(t *testing.T) {
	f := transport.NewFake()
	content := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	feedFrame(t, f, mdproto.CmdMemReadResponse, content)
	c := memdump.New(f)
	plan := Plan{Blocks: []Block{{Count: 1, BlockBytes: len(content)}}}
	err := Reprogram(c, plan, content)
	require.NoError(t, err)
	wantReq, err := mdproto.Encode(mdproto.CmdMemRead, []byte{0, 0, 0, 0, 0, 0, 0, 7})
	require.NoError(t, err)
	assert.Equal(t, wantReq, f.Inbound) // only the mem_read request; no erase/program frames sent
}

func TestReprogramErasesAndProgramsMismatchedSector(t *testing.T) {
	f := transport.NewFake()
	deviceContent := []byte{0xff, 0xff, 0xff, 0xff}
	feedFrame(t, f, mdproto.CmdMemReadResponse, deviceContent)
	feedFrame(t, f, mdproto.CmdFlashEraseResponse, []byte{0})
	feedFrame(t, f, mdproto.CmdFlashProgramResponse, []byte{0})

	c := memdump.New(f)
	plan := Plan{Blocks: []Block{{Count: 1, BlockBytes: 4}}}
	firmware := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	err := Reprogram(c, plan, firmware)
	require.NoError(t, err)
}

func TestReprogramHaltsOnNonZeroEraseStatus(t *testing.T) {
	f := transport.NewFake()
	feedFrame(t, f, mdproto.CmdMemReadResponse, []byte{0xff, 0xff})
	feedFrame(t, f, mdproto.CmdFlashEraseResponse, []byte{1})

	c := memdump.New(f)
	plan := Plan{Blocks: []Block{{Count: 1, BlockBytes: 2}}}
	err := Reprogram(c, plan, []byte{0x01, 0x02})
	require.Error(t, err)
}
