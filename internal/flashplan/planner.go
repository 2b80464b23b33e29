// Package flashplan turns a flash_info record into an ordered erase-block
// map and drives the match-shortcut reprogram loop, spec.md section 4.7
// (component C7).
package flashplan

import (
	"bytes"

	"github.com/illarionov/sirfmemdump/internal/mdproto"
	"github.com/illarionov/sirfmemdump/internal/memdump"
	"github.com/illarionov/sirfmemdump/internal/sirferr"
)

// Block is one (count, block_bytes) pair: count identical erase blocks of
// block_bytes each.
type Block struct {
	Count      int
	BlockBytes int
}

// Plan is a named, ordered erase-block map summing exactly to the device
// size.
type Plan struct {
	Name   string
	Blocks []Block
}

// TotalBytes sums count*block_bytes across every block.
func (p Plan) TotalBytes() int {
	total := 0
	for _, b := range p.Blocks {
		total += b.Count * b.BlockBytes
	}
	return total
}

// PlanErase produces an ordered erase-block map for info: a built-in
// table hit takes priority (step 1); otherwise the CFI erase-block
// descriptors are walked and accumulated until they sum to exactly
// 2^Size (step 2). table is typically the result of LoadDeviceDB.
func PlanErase(info mdproto.FlashInfo, table map[deviceKey]Plan) (Plan, error) {
	key := deviceKey{ManufacturerID: info.ManufacturerID, DeviceID: info.DeviceID}
	if plan, ok := table[key]; ok {
		return plan, nil
	}

	if !info.HasQRY() {
		return Plan{}, sirferr.New(sirferr.Geometry, "device %04x:%04x not in table and CFI QRY marker absent", info.ManufacturerID, info.DeviceID)
	}

	deviceSize := info.DeviceSizeBytes()
	var blocks []Block
	var total uint64
	n := int(info.NumEraseBlocks)
	if n > mdproto.MaxEraseBlockDescriptors {
		n = mdproto.MaxEraseBlockDescriptors
	}
	for i := 0; i < n; i++ {
		desc := info.EraseBlocks[i]
		low16 := uint16(desc & 0xffff)
		high16 := uint16(desc >> 16)
		count := int(low16) + 1
		blockBytes := int(high16) * 256
		if high16 == 0 {
			blockBytes = 128
		}
		blocks = append(blocks, Block{Count: count, BlockBytes: blockBytes})
		total += uint64(count) * uint64(blockBytes)
		if total == deviceSize {
			return Plan{Name: "CFI-derived", Blocks: blocks}, nil
		}
		if total > deviceSize {
			return Plan{}, sirferr.New(sirferr.Geometry, "CFI erase-block descriptors overshoot device size: %d > %d", total, deviceSize)
		}
	}
	return Plan{}, sirferr.New(sirferr.Geometry, "CFI erase-block descriptors exhausted at %d, short of device size %d", total, deviceSize)
}

// eraseProgramChunk is the largest payload a single program() call may
// carry: MDPROTO's 508-byte payload ceiling minus the 4-byte address
// field (spec.md section 4.7 step 3e: "chunks of <=(508-4) bytes").
const eraseProgramChunk = mdproto.MaxPayload - 4

// Reprogram implements the full match-shortcut reprogram loop of spec.md
// section 4.7: refuse an over-long firmware image, then for each erase
// block compare the file slice (padded with device bytes if short)
// against the device's current content via mem_read, skipping
// erase+program when they already match. Halts the whole operation on
// any non-zero target status.
func Reprogram(client *memdump.Client, plan Plan, firmware []byte) error {
	if len(firmware) > plan.TotalBytes() {
		return sirferr.New(sirferr.File, "firmware length %d exceeds device size %d", len(firmware), plan.TotalBytes())
	}

	base := uint32(0)
	fileOff := 0
	for _, blk := range plan.Blocks {
		for i := 0; i < blk.Count; i++ {
			sectorBase := base
			sectorLen := blk.BlockBytes
			base += uint32(sectorLen)

			var fileSlice []byte
			if fileOff < len(firmware) {
				end := fileOff + sectorLen
				if end > len(firmware) {
					end = len(firmware)
				}
				fileSlice = firmware[fileOff:end]
				fileOff = end
			}
			if len(fileSlice) == 0 {
				continue
			}

			deviceSlice, err := client.MemRead(sectorBase, sectorBase+uint32(sectorLen)-1)
			if err != nil {
				return err
			}

			padded := fileSlice
			if len(padded) < sectorLen {
				padded = append(append([]byte(nil), fileSlice...), deviceSlice[len(fileSlice):]...)
			}

			if bytes.Equal(padded, deviceSlice) {
				continue
			}

			if status, err := client.EraseSector(sectorBase); err != nil {
				return err
			} else if status != 0 {
				return sirferr.New(sirferr.Target, "erase_sector(0x%x) failed, status 0x%02x", sectorBase, status)
			}

			if err := programInChunks(client, sectorBase, padded); err != nil {
				return err
			}
		}
	}
	return nil
}

func programInChunks(client *memdump.Client, base uint32, data []byte) error {
	if len(data)%2 != 0 {
		data = append(append([]byte(nil), data...), 0xff)
	}
	off := 0
	for off < len(data) {
		n := eraseProgramChunk
		if n%2 != 0 {
			n--
		}
		if off+n > len(data) {
			n = len(data) - off
		}
		chunk := data[off : off+n]
		status, err := client.Program(base+uint32(off), chunk)
		if err != nil {
			return err
		}
		if status != 0 {
			return sirferr.New(sirferr.Target, "program(0x%x) failed, status 0x%02x", base+uint32(off), status)
		}
		off += n
	}
	return nil
}
