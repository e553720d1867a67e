// Package flash drives a 25-series serial NOR flash chip (W25Q/EN25Q and
// compatibles) over an SPI transport.
package flash

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	PageSize   = 256
	SectorSize = 4096 // smallest erasable unit

	// read transfers are split into chunks of this size
	maxTransfer = 4096

	// commands carry 3 address bytes
	maxAddressable = 1 << 24

	defaultBusyTimeout = 3 * time.Second
	chipEraseTimeout   = 200 * time.Second
)

// chip commands
const (
	cmdPageProgram      = 0x02
	cmdReadData         = 0x03
	cmdWriteDisable     = 0x04
	cmdReadStatus       = 0x05
	cmdWriteEnable      = 0x06
	cmdSectorErase      = 0x20
	cmdJEDECID          = 0x9F
	cmdReleasePowerDown = 0xAB
	cmdPowerDown        = 0xB9
	cmdChipErase        = 0xC7
)

// status register 1
const (
	statusBusy = 0x01
	statusWEL  = 0x02
)

var (
	ErrNoChip         = errors.New("flash: no chip responding")
	ErrUnknownChip    = errors.New("flash: unsupported chip capacity")
	ErrNotInitialized = errors.New("flash: chip not initialized")
	ErrOutOfRange     = errors.New("flash: address out of range")
	ErrBusyTimeout    = errors.New("flash: timeout waiting for chip")
	ErrWriteEnable    = errors.New("flash: write enable latch not set")
)

// Transport performs one chip select cycle: write w, then clock in len(r)
// bytes into r.
type Transport interface {
	Tx(w, r []byte) error
}

// Device is a flash chip on a Transport.
type Device struct {
	bus     Transport
	timeout time.Duration

	mu   sync.Mutex
	id   ID
	size uint32
	sec  [SectorSize]byte
}

func NewDevice(bus Transport) *Device {
	return &Device{bus: bus, timeout: defaultBusyTimeout}
}

// SetBusyTimeout changes how long a program or sector erase may take.
func (d *Device) SetBusyTimeout(t time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeout = t
}

// Init wakes the chip up and identifies it.
func (d *Device) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.size = 0

	if err := d.bus.Tx([]byte{cmdReleasePowerDown}, nil); err != nil {
		return fmt.Errorf("flash: releasing power down: %w", err)
	}

	id, err := d.readID()
	if err != nil {
		return err
	}
	if id == (ID{}) || id == (ID{0xFF, 0xFF, 0xFF}) {
		return ErrNoChip
	}
	size := id.Size()
	if size == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownChip, id)
	}
	if size > maxAddressable {
		log.WithFields(log.Fields{"id": id, "size": size}).Warn(
			"flash chip larger than 16 MiB, only the lower 16 MiB are used")
		size = maxAddressable
	}

	d.id, d.size = id, size

	log.WithFields(log.Fields{
		"id":   id,
		"chip": id.Name(),
		"size": size,
	}).Info("flash chip initialized")

	return nil
}

// ID returns the JEDEC ID found by the last Init.
func (d *Device) ID() ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// Size returns the usable chip capacity in bytes, 0 before Init. Chips
// larger than 16 MiB are limited to what a 24 bit address reaches.
func (d *Device) Size() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

func (d *Device) readID() (ID, error) {
	var r [3]byte
	if err := d.bus.Tx([]byte{cmdJEDECID}, r[:]); err != nil {
		return ID{}, fmt.Errorf("flash: reading JEDEC ID: %w", err)
	}
	return ID{Manufacturer: r[0], MemoryType: r[1], Capacity: r[2]}, nil
}

// check validates an access of n bytes at off. Must be called with d.mu held.
func (d *Device) check(off int64, n int) error {
	if d.size == 0 {
		return ErrNotInitialized
	}
	if off < 0 || off+int64(n) > int64(d.size) || off+int64(n) > maxAddressable {
		return fmt.Errorf("%w: %d+%d", ErrOutOfRange, off, n)
	}
	return nil
}

// ReadAt implements io.ReaderAt.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(off, len(p)); err != nil {
		return 0, err
	}
	if err := d.read(uint32(off), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (d *Device) read(addr uint32, p []byte) error {
	for len(p) > 0 {
		n := len(p)
		if n > maxTransfer {
			n = maxTransfer
		}
		if err := d.bus.Tx(command(cmdReadData, addr), p[:n]); err != nil {
			return fmt.Errorf("flash: reading %#06x: %w", addr, err)
		}
		addr += uint32(n)
		p = p[n:]
	}
	return nil
}

// WriteAt implements io.WriterAt. Each 4 KiB sector touched is read first;
// if the new data cannot be programmed over the old, the sector is erased
// and rewritten as a whole, otherwise only the new bytes are programmed.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(off, len(p)); err != nil {
		return 0, err
	}

	addr := uint32(off)
	written := 0

	for len(p) > 0 {
		base := addr &^ (SectorSize - 1)
		start := int(addr - base)
		n := SectorSize - start
		if n > len(p) {
			n = len(p)
		}

		if err := d.read(base, d.sec[:]); err != nil {
			return written, err
		}

		old := d.sec[start : start+n]
		switch {
		case bytes.Equal(old, p[:n]):
			// nothing to do
		case programmable(old, p[:n]):
			if err := d.program(addr, p[:n]); err != nil {
				return written, err
			}
		default:
			copy(old, p[:n])
			if err := d.eraseSector(base); err != nil {
				return written, err
			}
			if err := d.program(base, d.sec[:]); err != nil {
				return written, err
			}
		}

		addr += uint32(n)
		written += n
		p = p[n:]
	}

	return written, nil
}

// programmable reports whether data can be reached from old by clearing
// bits only.
func programmable(old, data []byte) bool {
	for i := range old {
		if old[i]&data[i] != data[i] {
			return false
		}
	}
	return true
}

// program writes data starting at addr, split at page boundaries.
func (d *Device) program(addr uint32, data []byte) error {
	for len(data) > 0 {
		n := PageSize - int(addr%PageSize)
		if n > len(data) {
			n = len(data)
		}

		if err := d.writeEnable(); err != nil {
			return err
		}
		w := append(command(cmdPageProgram, addr), data[:n]...)
		if err := d.bus.Tx(w, nil); err != nil {
			return fmt.Errorf("flash: programming %#06x: %w", addr, err)
		}
		if err := d.waitReady(d.timeout); err != nil {
			return err
		}

		addr += uint32(n)
		data = data[n:]
	}
	return nil
}

// EraseSector erases the 4 KiB sector containing addr.
func (d *Device) EraseSector(addr uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(int64(addr), 1); err != nil {
		return err
	}
	return d.eraseSector(addr &^ (SectorSize - 1))
}

func (d *Device) eraseSector(addr uint32) error {
	if err := d.writeEnable(); err != nil {
		return err
	}
	if err := d.bus.Tx(command(cmdSectorErase, addr), nil); err != nil {
		return fmt.Errorf("flash: erasing sector %#06x: %w", addr, err)
	}
	return d.waitReady(d.timeout)
}

// EraseChip erases the whole chip, including any region not used as a drive.
func (d *Device) EraseChip() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.size == 0 {
		return ErrNotInitialized
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	if err := d.bus.Tx([]byte{cmdChipErase}, nil); err != nil {
		return fmt.Errorf("flash: erasing chip: %w", err)
	}
	log.Warn("flash chip erased")
	return d.waitReady(chipEraseTimeout)
}

// PowerDown puts the chip into deep power down. The next Init wakes it up.
func (d *Device) PowerDown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.size = 0
	return d.bus.Tx([]byte{cmdPowerDown}, nil)
}

func (d *Device) status() (byte, error) {
	var r [1]byte
	if err := d.bus.Tx([]byte{cmdReadStatus}, r[:]); err != nil {
		return 0, fmt.Errorf("flash: reading status: %w", err)
	}
	return r[0], nil
}

func (d *Device) writeEnable() error {
	if err := d.bus.Tx([]byte{cmdWriteEnable}, nil); err != nil {
		return fmt.Errorf("flash: write enable: %w", err)
	}
	st, err := d.status()
	if err != nil {
		return err
	}
	if st&statusWEL == 0 {
		return ErrWriteEnable
	}
	return nil
}

func (d *Device) waitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st, err := d.status()
		if err != nil {
			return err
		}
		if st&statusBusy == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrBusyTimeout
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// command builds a command frame with a 24 bit address.
func command(cmd byte, addr uint32) []byte {
	return []byte{cmd, byte(addr >> 16), byte(addr >> 8), byte(addr)}
}
