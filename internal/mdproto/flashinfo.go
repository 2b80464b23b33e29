package mdproto

import (
	"encoding/binary"

	"github.com/illarionov/sirfmemdump/internal/sirferr"
)

// MaxEraseBlockDescriptors is the number of erase-block descriptor slots
// carried in a flash-info record (spec.md section 3: "walk up to 8
// erase-block descriptors").
const MaxEraseBlockDescriptors = 8

// FlashInfo is the decoded form of the "w"/"W" flash_info record of
// spec.md section 3, transmitted on the wire in network byte order.
// Ported from original_source/arm/src/flash.c's flash_get_info, which
// fills the equivalent fields out of a live CFI query.
type FlashInfo struct {
	ManufacturerID uint16
	DeviceID       uint16
	QRY            [3]byte // CFI query-unique string, normally "QRY"

	PrimaryAlgID      uint16
	PrimaryAlgTable   uint16
	SecondaryAlgID    uint16
	SecondaryAlgTable uint16

	// BCD-encoded: whole volts in the high nibble, tenths in the low nibble.
	VccMin byte
	VccMax byte
	VppMin byte
	VppMax byte

	// 2^n microseconds.
	WordWriteTimeoutTypical byte
	WordWriteTimeoutMax     byte
	BufWriteTimeoutTypical  byte
	BufWriteTimeoutMax      byte

	// 2^n milliseconds.
	BlockEraseTimeoutTypical byte
	BlockEraseTimeoutMax     byte
	ChipEraseTimeoutTypical  byte
	ChipEraseTimeoutMax      byte

	Size               byte // device size in bytes = 2^Size
	InterfaceDesc      uint16
	MaxWriteBufferSize uint16 // bytes = 2^n
	NumEraseBlocks     byte

	// Low 16 bits of each descriptor are (block count - 1); high 16 bits
	// are (block size / 256), with 0 meaning 128 bytes.
	EraseBlocks [MaxEraseBlockDescriptors]uint32
}

// FlashInfoWireSize is the exact number of bytes FlashInfo occupies on the
// wire (spec.md section 4.6: "flash_info: expects exactly
// sizeof(flash_info)+1 payload bytes").
const FlashInfoWireSize = 2 + 2 + 3 + 4*2 + 4 + 4 + 4 + 1 + 2 + 2 + 1 + MaxEraseBlockDescriptors*4

// HasQRY reports whether the QRY marker equals the literal "QRY" bytes,
// i.e. whether this is a genuine CFI response rather than an all-0xff
// "no flash detected" placeholder.
func (fi FlashInfo) HasQRY() bool {
	return fi.QRY == [3]byte{'Q', 'R', 'Y'}
}

// DeviceSizeBytes returns 2^Size, the advertised device size in bytes.
func (fi FlashInfo) DeviceSizeBytes() uint64 {
	return uint64(1) << fi.Size
}

// EncodeFlashInfo serializes fi into its wire representation.
func EncodeFlashInfo(fi FlashInfo) []byte {
	b := make([]byte, FlashInfoWireSize)
	i := 0
	putU16 := func(v uint16) {
		binary.BigEndian.PutUint16(b[i:], v)
		i += 2
	}
	putU8 := func(v byte) {
		b[i] = v
		i++
	}
	putU32 := func(v uint32) {
		binary.BigEndian.PutUint32(b[i:], v)
		i += 4
	}

	putU16(fi.ManufacturerID)
	putU16(fi.DeviceID)
	b[i], b[i+1], b[i+2] = fi.QRY[0], fi.QRY[1], fi.QRY[2]
	i += 3
	putU16(fi.PrimaryAlgID)
	putU16(fi.PrimaryAlgTable)
	putU16(fi.SecondaryAlgID)
	putU16(fi.SecondaryAlgTable)
	putU8(fi.VccMin)
	putU8(fi.VccMax)
	putU8(fi.VppMin)
	putU8(fi.VppMax)
	putU8(fi.WordWriteTimeoutTypical)
	putU8(fi.WordWriteTimeoutMax)
	putU8(fi.BufWriteTimeoutTypical)
	putU8(fi.BufWriteTimeoutMax)
	putU8(fi.BlockEraseTimeoutTypical)
	putU8(fi.BlockEraseTimeoutMax)
	putU8(fi.ChipEraseTimeoutTypical)
	putU8(fi.ChipEraseTimeoutMax)
	putU8(fi.Size)
	putU16(fi.InterfaceDesc)
	putU16(fi.MaxWriteBufferSize)
	putU8(fi.NumEraseBlocks)
	for _, d := range fi.EraseBlocks {
		putU32(d)
	}
	return b
}

// DecodeFlashInfo parses the wire representation of a flash-info record.
func DecodeFlashInfo(b []byte) (FlashInfo, error) {
	if len(b) != FlashInfoWireSize {
		return FlashInfo{}, sirferr.New(sirferr.ProtocolViolation,
			"flash info record is %d bytes, want %d", len(b), FlashInfoWireSize)
	}
	var fi FlashInfo
	i := 0
	getU16 := func() uint16 {
		v := binary.BigEndian.Uint16(b[i:])
		i += 2
		return v
	}
	getU8 := func() byte {
		v := b[i]
		i++
		return v
	}
	getU32 := func() uint32 {
		v := binary.BigEndian.Uint32(b[i:])
		i += 4
		return v
	}

	fi.ManufacturerID = getU16()
	fi.DeviceID = getU16()
	fi.QRY[0], fi.QRY[1], fi.QRY[2] = b[i], b[i+1], b[i+2]
	i += 3
	fi.PrimaryAlgID = getU16()
	fi.PrimaryAlgTable = getU16()
	fi.SecondaryAlgID = getU16()
	fi.SecondaryAlgTable = getU16()
	fi.VccMin = getU8()
	fi.VccMax = getU8()
	fi.VppMin = getU8()
	fi.VppMax = getU8()
	fi.WordWriteTimeoutTypical = getU8()
	fi.WordWriteTimeoutMax = getU8()
	fi.BufWriteTimeoutTypical = getU8()
	fi.BufWriteTimeoutMax = getU8()
	fi.BlockEraseTimeoutTypical = getU8()
	fi.BlockEraseTimeoutMax = getU8()
	fi.ChipEraseTimeoutTypical = getU8()
	fi.ChipEraseTimeoutMax = getU8()
	fi.Size = getU8()
	fi.InterfaceDesc = getU16()
	fi.MaxWriteBufferSize = getU16()
	fi.NumEraseBlocks = getU8()
	for idx := range fi.EraseBlocks {
		_ = idx
		fi.EraseBlocks[idx] = getU32()
	}
	return fi, nil
}

// BCDVolts decodes a BCD Vcc/Vpp byte (whole volts in the high nibble,
// tenths in the low nibble) into a float, matching original_source/flash.c's
// dump_flash_info rendering.
func BCDVolts(b byte) float64 {
	return float64((b>>4)&0x0f) + float64(b&0x0f)*0.1
}
