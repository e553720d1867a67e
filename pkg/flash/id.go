package flash

import "fmt"

// ID is the JEDEC ID of a chip.
type ID struct {
	Manufacturer uint8
	MemoryType   uint8
	Capacity     uint8
}

// known chips
var (
	W25Q32    = ID{0xEF, 0x40, 0x16}
	W25Q64    = ID{0xEF, 0x40, 0x17}
	W25Q128   = ID{0xEF, 0x40, 0x18}
	W25Q256   = ID{0xEF, 0x40, 0x19}
	EN25QH128 = ID{0x1C, 0x70, 0x18}
	EN25Q128  = ID{0x1C, 0x30, 0x18}
)

var chipNames = map[ID]string{
	W25Q32:    "W25Q32",
	W25Q64:    "W25Q64",
	W25Q128:   "W25Q128",
	W25Q256:   "W25Q256",
	EN25QH128: "EN25QH128",
	EN25Q128:  "EN25Q128",
}

// Size decodes the capacity byte, which is log2 of the size in bytes. It
// returns 0 for values outside of 64 KiB to 2 GiB.
func (id ID) Size() uint32 {
	if id.Capacity < 0x10 || id.Capacity > 0x1F {
		return 0
	}
	return 1 << id.Capacity
}

func (id ID) Name() string {
	if n, ok := chipNames[id]; ok {
		return n
	}
	return "unknown"
}

func (id ID) String() string {
	return fmt.Sprintf("%02x%02x%02x", id.Manufacturer, id.MemoryType, id.Capacity)
}

// ParseID parses the hex form produced by String, or a known chip name.
func ParseID(s string) (ID, error) {
	for id, n := range chipNames {
		if n == s {
			return id, nil
		}
	}
	var id ID
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &id.Manufacturer, &id.MemoryType, &id.Capacity); err != nil {
		return ID{}, fmt.Errorf("invalid chip id %q: %w", s, err)
	}
	return id, nil
}
