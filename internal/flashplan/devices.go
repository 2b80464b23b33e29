package flashplan

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/illarionov/sirfmemdump/internal/sirferr"
)

// deviceKey identifies a part by its CFI manufacturer/device id pair, the
// same pair original_source/flash.c's flash_get_name switches on.
type deviceKey struct {
	ManufacturerID uint16
	DeviceID       uint16
}

// builtinDevices is the canonical layout table of spec.md section 4.7
// step 1. The sole seeded entry is the Spansion S29AL004D bottom-boot
// part (AMD manufacturer id 0x01, device id 0x22ba in
// original_source/flash.c's flash_get_name), whose well-known sector map
// is one 16KiB, two 8KiB, one 32KiB and seven 64KiB sectors.
var builtinDevices = map[deviceKey]Plan{
	{ManufacturerID: 0x0001, DeviceID: 0x22ba}: {
		Name: "AM29LV400BB (Spansion S29AL004D bottom boot)",
		Blocks: []Block{
			{Count: 1, BlockBytes: 16 * 1024},
			{Count: 2, BlockBytes: 8 * 1024},
			{Count: 1, BlockBytes: 32 * 1024},
			{Count: 7, BlockBytes: 64 * 1024},
		},
	},
}

// deviceOverlay is the YAML shape of a -devicedb file: a list of extra
// parts to merge into builtinDevices, modeled on the manufacturer/device
// table format dswarbrick-smart's drivedb tool reads, not the raw S.M.A.R.T.
// schema.
type deviceOverlay struct {
	Devices []struct {
		ManufacturerID uint16 `yaml:"manufacturer_id"`
		DeviceID       uint16 `yaml:"device_id"`
		Name           string `yaml:"name"`
		Blocks         []struct {
			Count      int `yaml:"count"`
			BlockBytes int `yaml:"block_bytes"`
		} `yaml:"blocks"`
	} `yaml:"devices"`
}

// LoadDeviceDB reads a -devicedb YAML file and returns a device table that
// starts from builtinDevices and is overridden/extended by the file's
// entries.
func LoadDeviceDB(path string) (map[deviceKey]Plan, error) {
	table := make(map[deviceKey]Plan, len(builtinDevices))
	for k, v := range builtinDevices {
		table[k] = v
	}
	if path == "" {
		return table, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, sirferr.Wrap(sirferr.File, err, "read device db %s", path)
	}
	var overlay deviceOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, sirferr.Wrap(sirferr.File, err, "parse device db %s", path)
	}
	for _, d := range overlay.Devices {
		blocks := make([]Block, 0, len(d.Blocks))
		for _, b := range d.Blocks {
			blocks = append(blocks, Block{Count: b.Count, BlockBytes: b.BlockBytes})
		}
		table[deviceKey{ManufacturerID: d.ManufacturerID, DeviceID: d.DeviceID}] = Plan{
			Name:   d.Name,
			Blocks: blocks,
		}
	}
	return table, nil
}
