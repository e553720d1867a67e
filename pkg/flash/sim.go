package flash

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Sim is a command level simulation of a NOR flash chip, answering on the
// Transport interface. The array is kept in a file on an afero.Fs, so it
// survives restarts when that is an OS filesystem.
//
// Like real silicon, programming can only clear bits, erasing sets a whole
// sector to 0xFF, and program and erase commands are ignored unless the
// write enable latch was set by the previous command.
type Sim struct {
	mu     sync.Mutex
	id     ID
	size   int64
	mem    afero.File
	wel    bool
	asleep bool

	programs int
	erases   int
}

// assert that Sim can be used as a Transport
var _ Transport = (*Sim)(nil)

// NewSim opens the array stored at path, creating it erased if necessary.
func NewSim(fs afero.Fs, path string, id ID) (*Sim, error) {
	size := int64(id.Size())
	if size == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChip, id)
	}

	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("flash sim: opening %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	// extend a new or short array with erased sectors
	if cur := st.Size(); cur < size {
		log.WithFields(log.Fields{"path": path, "size": size}).Debug("formatting simulated flash array")
		blank := bytes.Repeat([]byte{0xFF}, SectorSize)
		for off := cur; off < size; off += SectorSize {
			n := int64(SectorSize)
			if size-off < n {
				n = size - off
			}
			if _, err := f.WriteAt(blank[:n], off); err != nil {
				f.Close()
				return nil, fmt.Errorf("flash sim: formatting %s: %w", path, err)
			}
		}
	}

	return &Sim{id: id, size: size, mem: f}, nil
}

// NewMemSim returns a simulated chip held in memory.
func NewMemSim(id ID) (*Sim, error) {
	return NewSim(afero.NewMemMapFs(), "/flash.bin", id)
}

// Tx implements Transport.
func (s *Sim) Tx(w, r []byte) error {
	if len(w) == 0 {
		return fmt.Errorf("flash sim: empty command")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := w[0]

	// a chip in deep power down only listens for the wake up command, the
	// bus floats high meanwhile
	if s.asleep && cmd != cmdReleasePowerDown {
		fill(r, 0xFF)
		return nil
	}

	// the latch only survives until the next command that uses it
	wel := s.wel
	if cmd != cmdReadStatus && cmd != cmdReadData && cmd != cmdJEDECID {
		s.wel = false
	}

	switch cmd {
	case cmdReleasePowerDown:
		s.asleep = false
		fill(r, s.id.Capacity-1)

	case cmdPowerDown:
		s.asleep = true

	case cmdJEDECID:
		id := []byte{s.id.Manufacturer, s.id.MemoryType, s.id.Capacity}
		copy(r, id)
		fill(r[min(len(r), len(id)):], 0xFF)

	case cmdReadStatus:
		// operations complete instantly, BUSY is never set
		var st byte
		if s.wel {
			st |= statusWEL
		}
		fill(r, st)

	case cmdWriteEnable:
		s.wel = true

	case cmdWriteDisable:

	case cmdReadData:
		addr, err := s.address(w)
		if err != nil {
			return err
		}
		return s.read(r, addr)

	case cmdPageProgram:
		addr, err := s.address(w)
		if err != nil {
			return err
		}
		if !wel {
			return nil
		}
		s.programs++
		return s.program(addr, w[4:])

	case cmdSectorErase:
		addr, err := s.address(w)
		if err != nil {
			return err
		}
		if !wel {
			return nil
		}
		s.erases++
		return s.erase(addr&^(SectorSize-1), SectorSize)

	case cmdChipErase:
		if !wel {
			return nil
		}
		s.erases++
		return s.erase(0, s.size)

	default:
		return fmt.Errorf("flash sim: unsupported command %#02x", cmd)
	}

	return nil
}

func (s *Sim) address(w []byte) (int64, error) {
	if len(w) < 4 {
		return 0, fmt.Errorf("flash sim: command %#02x without address", w[0])
	}
	addr := int64(w[1])<<16 | int64(w[2])<<8 | int64(w[3])
	return addr % s.size, nil
}

// read wraps around at the end of the array like the chip does.
func (s *Sim) read(r []byte, addr int64) error {
	for len(r) > 0 {
		n := int64(len(r))
		if s.size-addr < n {
			n = s.size - addr
		}
		if _, err := s.mem.ReadAt(r[:n], addr); err != nil {
			return fmt.Errorf("flash sim: %w", err)
		}
		r = r[n:]
		addr = 0
	}
	return nil
}

// program ANDs data into one page, wrapping around at the page end.
func (s *Sim) program(addr int64, data []byte) error {
	if len(data) > PageSize {
		// only the last 256 bytes clocked in are kept
		data = data[len(data)-PageSize:]
	}

	base := addr &^ (PageSize - 1)
	var page [PageSize]byte
	if _, err := s.mem.ReadAt(page[:], base); err != nil {
		return fmt.Errorf("flash sim: %w", err)
	}

	start := int(addr - base)
	for i, b := range data {
		page[(start+i)%PageSize] &= b
	}

	if _, err := s.mem.WriteAt(page[:], base); err != nil {
		return fmt.Errorf("flash sim: %w", err)
	}
	return nil
}

func (s *Sim) erase(addr, n int64) error {
	blank := bytes.Repeat([]byte{0xFF}, SectorSize)
	for end := addr + n; addr < end; addr += SectorSize {
		if _, err := s.mem.WriteAt(blank, addr); err != nil {
			return fmt.Errorf("flash sim: %w", err)
		}
	}
	return nil
}

// Stats returns the number of page programs and erases executed so far.
func (s *Sim) Stats() (programs, erases int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programs, s.erases
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.Close()
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
