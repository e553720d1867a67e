package flash

import (
	"errors"
	"fmt"

	"github.com/OffBroadway/diskio/pkg/fatfs"
)

const (
	// DefaultSectorCount reserves the first 12 MiB of the chip for the
	// filesystem. The rest holds the font store.
	DefaultSectorCount = 2048 * 12

	// 8 drive sectors make one erase sector
	BlockSectors = SectorSize / fatfs.SectorSize
)

var ErrRegionTooLarge = errors.New("flash: chip smaller than filesystem region")

// assert that Disk can be registered as a drive
var _ fatfs.BlockDevice = (*Disk)(nil)

// Disk exposes the start of a flash chip as a drive of 512 byte sectors.
type Disk struct {
	dev     *Device
	sectors uint32
}

// NewDisk returns a drive over the first sectors sectors of dev. A count of
// 0 selects DefaultSectorCount.
func NewDisk(dev *Device, sectors uint32) *Disk {
	if sectors == 0 {
		sectors = DefaultSectorCount
	}
	return &Disk{dev: dev, sectors: sectors}
}

func (k *Disk) Device() *Device {
	return k.dev
}

// Initialize initializes the chip. The geometry is always the reserved
// region, whatever the size of the chip.
func (k *Disk) Initialize() (fatfs.Geometry, error) {
	if err := k.dev.Init(); err != nil {
		return fatfs.Geometry{}, err
	}
	if need := uint64(k.sectors) * fatfs.SectorSize; need > uint64(k.dev.Size()) {
		return fatfs.Geometry{}, fmt.Errorf("%w: need %d bytes, chip has %d",
			ErrRegionTooLarge, need, k.dev.Size())
	}
	return fatfs.Geometry{
		SectorSize:  fatfs.SectorSize,
		SectorCount: k.sectors,
		BlockSize:   BlockSectors,
	}, nil
}

func (k *Disk) ReadSectors(buff []byte, sector uint32, count uint32) error {
	if err := k.check(buff, sector, count); err != nil {
		return err
	}
	for ; count > 0; count-- {
		if _, err := k.dev.ReadAt(buff[:fatfs.SectorSize], int64(sector)*fatfs.SectorSize); err != nil {
			return err
		}
		sector++
		buff = buff[fatfs.SectorSize:]
	}
	return nil
}

func (k *Disk) WriteSectors(buff []byte, sector uint32, count uint32) error {
	if err := k.check(buff, sector, count); err != nil {
		return err
	}
	for ; count > 0; count-- {
		if _, err := k.dev.WriteAt(buff[:fatfs.SectorSize], int64(sector)*fatfs.SectorSize); err != nil {
			return err
		}
		sector++
		buff = buff[fatfs.SectorSize:]
	}
	return nil
}

func (k *Disk) check(buff []byte, sector uint32, count uint32) error {
	if uint64(sector)+uint64(count) > uint64(k.sectors) {
		return fmt.Errorf("%w: sectors %d+%d beyond reserved region", ErrOutOfRange, sector, count)
	}
	if uint64(len(buff)) < uint64(count)*fatfs.SectorSize {
		return fmt.Errorf("flash: buffer too small: need %d bytes, got %d",
			uint64(count)*fatfs.SectorSize, len(buff))
	}
	return nil
}

// Sync is a no-op, every write is complete when WriteSectors returns.
func (k *Disk) Sync() error {
	return nil
}
