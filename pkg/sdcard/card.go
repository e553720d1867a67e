// Package sdcard drives an SD card seen by the host as a block medium, either
// the kernel's card device (/dev/mmcblk0) or an image file standing in for it.
package sdcard

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/OffBroadway/diskio/pkg/fatfs"
)

// BlockSize is the transfer unit of the card, in bytes.
const BlockSize = 512

const (
	maxSDSC = 2 << 30  // 2 GiB
	maxSDHC = 32 << 30 // 32 GiB
)

var (
	ErrNoCard         = errors.New("sdcard: no card present")
	ErrBadCapacity    = errors.New("sdcard: capacity is not a whole number of blocks")
	ErrNotInitialized = errors.New("sdcard: card not initialized")
	ErrOutOfRange     = errors.New("sdcard: block address out of range")
	ErrInjected       = errors.New("sdcard: injected fault")
)

// CardType is the capacity class of a card.
type CardType uint8

const (
	TypeUnknown CardType = iota
	TypeSDSC
	TypeSDHC
	TypeSDXC
)

func (t CardType) String() string {
	switch t {
	case TypeSDSC:
		return "SDSC"
	case TypeSDHC:
		return "SDHC"
	case TypeSDXC:
		return "SDXC"
	default:
		return "unknown"
	}
}

func typeFor(capacity uint64) CardType {
	switch {
	case capacity <= maxSDSC:
		return TypeSDSC
	case capacity <= maxSDHC:
		return TypeSDHC
	default:
		return TypeSDXC
	}
}

// CardInfo is what the card reports about itself after initialization.
type CardInfo struct {
	CardType      CardType
	CardCapacity  uint64 // bytes
	CardBlockSize uint32 // bytes
}

// assert that Card can be registered as a drive
var _ fatfs.BlockDevice = (*Card)(nil)

// Card is an SD card on a medium reachable through fs.
type Card struct {
	fs   afero.Fs
	path string

	mu       sync.Mutex
	medium   afero.File
	info     CardInfo
	failNext int
}

// New returns a card at path. Nothing is opened before Init.
func New(fs afero.Fs, path string) *Card {
	return &Card{fs: fs, path: path}
}

// Init (re)opens the medium and reads the card's capacity. Any medium
// opened by an earlier call is closed first.
func (c *Card) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.medium != nil {
		c.medium.Close()
		c.medium = nil
	}
	c.info = CardInfo{}

	f, err := c.fs.OpenFile(c.path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNoCard, c.path)
		}
		return fmt.Errorf("sdcard: opening %s: %w", c.path, err)
	}

	// block devices report a zero size through stat, seeking works for both
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return fmt.Errorf("sdcard: determining capacity of %s: %w", c.path, err)
	}
	if end == 0 {
		f.Close()
		return fmt.Errorf("%w: %s is empty", ErrNoCard, c.path)
	}
	if end%BlockSize != 0 {
		f.Close()
		return fmt.Errorf("%w: %d bytes", ErrBadCapacity, end)
	}

	c.medium = f
	c.info = CardInfo{
		CardType:      typeFor(uint64(end)),
		CardCapacity:  uint64(end),
		CardBlockSize: BlockSize,
	}

	log.WithFields(log.Fields{
		"medium":   c.path,
		"type":     c.info.CardType,
		"capacity": c.info.CardCapacity,
	}).Info("SD card initialized")

	return nil
}

// Info returns the card info of the last successful Init.
func (c *Card) Info() CardInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// FailNext makes the next n transfers fail with ErrInjected.
func (c *Card) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

// ReadDisk reads count blocks starting at block sector into buf.
func (c *Card) ReadDisk(buf []byte, sector uint32, count uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	offset, length, err := c.span(buf, sector, count)
	if err != nil {
		return err
	}

	n, err := c.medium.ReadAt(buf[:length], offset)
	if err != nil && !(err == io.EOF && int64(n) == length) {
		return fmt.Errorf("sdcard: reading block %d: %w", sector, err)
	}
	if int64(n) != length {
		return fmt.Errorf("sdcard: short read: expected %d bytes, got %d", length, n)
	}
	return nil
}

// WriteDisk writes count blocks from buf starting at block sector.
func (c *Card) WriteDisk(buf []byte, sector uint32, count uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	offset, length, err := c.span(buf, sector, count)
	if err != nil {
		return err
	}

	n, err := c.medium.WriteAt(buf[:length], offset)
	if err != nil {
		return fmt.Errorf("sdcard: writing block %d: %w", sector, err)
	}
	if int64(n) != length {
		return fmt.Errorf("sdcard: short write: expected %d bytes, wrote %d", length, n)
	}
	return nil
}

// span validates a transfer and returns its byte offset and length. Must be
// called with c.mu held.
func (c *Card) span(buf []byte, sector uint32, count uint32) (int64, int64, error) {
	if c.medium == nil {
		return 0, 0, ErrNotInitialized
	}
	if c.failNext > 0 {
		c.failNext--
		return 0, 0, ErrInjected
	}

	offset := int64(sector) * BlockSize
	length := int64(count) * BlockSize

	if int64(len(buf)) < length {
		return 0, 0, fmt.Errorf("sdcard: buffer too small: need %d bytes, got %d", length, len(buf))
	}
	if uint64(offset+length) > c.info.CardCapacity {
		return 0, 0, fmt.Errorf("%w: blocks %d+%d", ErrOutOfRange, sector, count)
	}
	return offset, length, nil
}

// Close releases the medium.
func (c *Card) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.medium == nil {
		return nil
	}
	err := c.medium.Close()
	c.medium = nil
	return err
}

func (c *Card) Initialize() (fatfs.Geometry, error) {
	if err := c.Init(); err != nil {
		return fatfs.Geometry{}, err
	}
	info := c.Info()
	return fatfs.Geometry{
		SectorSize:  fatfs.SectorSize,
		SectorCount: uint32(info.CardCapacity / fatfs.SectorSize),
		BlockSize:   info.CardBlockSize,
	}, nil
}

func (c *Card) ReadSectors(buff []byte, sector uint32, count uint32) error {
	return c.ReadDisk(buff, sector, count)
}

func (c *Card) WriteSectors(buff []byte, sector uint32, count uint32) error {
	return c.WriteDisk(buff, sector, count)
}

func (c *Card) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.medium == nil {
		return nil
	}
	return c.medium.Sync()
}

// CreateImage creates an empty card image of size bytes at path, if there is
// no file there yet.
func CreateImage(fs afero.Fs, path string, size int64) error {
	if size <= 0 || size%BlockSize != 0 {
		return fmt.Errorf("%w: %d bytes", ErrBadCapacity, size)
	}
	if _, err := fs.Stat(path); err == nil {
		return nil
	}
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
