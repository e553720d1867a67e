package fatfs

import (
	"encoding/binary"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Disk dispatches the disk I/O calls of a FAT filesystem to the registered
// backend of each drive.
type Disk struct {
	mu    sync.RWMutex
	slots map[Drive]*slot
	retry RetryPolicy
}

type slot struct {
	mu    sync.Mutex
	dev   BlockDevice
	geo   Geometry
	ready bool
}

// Option configures a Disk.
type Option func(*Disk)

// WithRetryPolicy replaces DefaultRetryPolicy for all drives of the Disk.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(d *Disk) {
		d.retry = p
	}
}

func NewDisk(opts ...Option) *Disk {
	d := &Disk{
		slots: make(map[Drive]*slot),
		retry: DefaultRetryPolicy,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register attaches dev as drive, replacing any previous backend. The drive
// has no geometry until it is initialized.
func (d *Disk) Register(drive Drive, dev BlockDevice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slots[drive] = &slot{dev: dev}
	log.WithField("drive", drive).Debug("block device registered")
}

func (d *Disk) Unregister(drive Drive) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.slots, drive)
}

// Drives lists the registered drives in ascending order.
func (d *Disk) Drives() []Drive {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ret := make([]Drive, 0, len(d.slots))
	for k := range d.slots {
		ret = append(ret, k)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// Device returns the backend registered for drive.
func (d *Disk) Device(drive Drive) (BlockDevice, bool) {
	s, ok := d.lookup(drive)
	if !ok {
		return nil, false
	}
	return s.dev, true
}

func (d *Disk) lookup(drive Drive) (*slot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.slots[drive]
	return s, ok
}

// Status reports the drive state. No probing is done, every drive is
// reported ready.
func (d *Disk) Status(drive Drive) Status {
	return StatusOK
}

// Initialize initializes the backend of drive and caches the geometry it
// reports.
func (d *Disk) Initialize(drive Drive) Status {
	s, ok := d.lookup(drive)
	if !ok {
		return StatusNoInit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initialize(); err != nil {
		log.WithFields(log.Fields{"drive": drive, "error": err}).Error("initialization failed")
		return StatusNoInit
	}
	log.WithFields(log.Fields{
		"drive":   drive,
		"sectors": s.geo.SectorCount,
		"block":   s.geo.BlockSize,
	}).Info("drive initialized")
	return StatusOK
}

// initialize must be called with s.mu held. A failed initialization leaves
// the previous geometry in place.
func (s *slot) initialize() error {
	geo, err := s.dev.Initialize()
	if err != nil {
		return err
	}
	s.geo = geo
	s.ready = true
	return nil
}

// Read reads count sectors starting at sector into buff.
func (d *Disk) Read(drive Drive, buff []byte, sector uint32, count uint32) Result {
	s, res := d.prepare(drive, buff, count)
	if res != ResultOK {
		return res
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buff = buff[:int(count)*SectorSize]
	err := d.retry.do(drive, "read", s, func() error {
		return s.dev.ReadSectors(buff, sector, count)
	})
	if err != nil {
		return ResultError
	}
	log.WithFields(log.Fields{"drive": drive, "sector": sector, "count": count}).Trace("read")
	return ResultOK
}

// prepare validates the arguments shared by Read and Write. A count of zero
// is rejected before anything else.
func (d *Disk) prepare(drive Drive, buff []byte, count uint32) (*slot, Result) {
	if count == 0 {
		return nil, ResultParameterError
	}
	s, ok := d.lookup(drive)
	if !ok {
		return nil, ResultError
	}
	if uint64(len(buff)) < uint64(count)*SectorSize {
		return nil, ResultParameterError
	}
	return s, ResultOK
}

// Ioctl performs a control command on drive. For the geometry queries the
// value is stored little endian at the start of buff, with the width the
// FAT filesystem expects: a WORD for GetSectorSize and a DWORD for
// GetSectorCount and GetBlockSize.
func (d *Disk) Ioctl(drive Drive, cmd Command, buff []byte) Result {
	s, ok := d.lookup(drive)
	if !ok {
		return ResultError
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd {
	case CtrlSync:
		if err := s.dev.Sync(); err != nil {
			log.WithFields(log.Fields{"drive": drive, "error": err}).Error("sync failed")
			return ResultError
		}
		return ResultOK
	case GetSectorCount, GetSectorSize, GetBlockSize:
	default:
		return ResultParameterError
	}

	if !s.ready {
		return ResultNotReady
	}
	if len(buff) < cmd.width() {
		return ResultParameterError
	}

	switch cmd {
	case GetSectorSize:
		binary.LittleEndian.PutUint16(buff, s.geo.SectorSize)
	case GetBlockSize:
		binary.LittleEndian.PutUint32(buff, s.geo.BlockSize)
	case GetSectorCount:
		binary.LittleEndian.PutUint32(buff, s.geo.SectorCount)
	}
	return ResultOK
}

// Geometry queries the geometry of an initialized drive through Ioctl.
func (d *Disk) Geometry(drive Drive) (Geometry, Result) {
	var geo Geometry
	var buf [4]byte

	if res := d.Ioctl(drive, GetSectorSize, buf[:]); res != ResultOK {
		return geo, res
	}
	geo.SectorSize = binary.LittleEndian.Uint16(buf[:])

	if res := d.Ioctl(drive, GetSectorCount, buf[:]); res != ResultOK {
		return geo, res
	}
	geo.SectorCount = binary.LittleEndian.Uint32(buf[:])

	if res := d.Ioctl(drive, GetBlockSize, buf[:]); res != ResultOK {
		return geo, res
	}
	geo.BlockSize = binary.LittleEndian.Uint32(buf[:])

	return geo, ResultOK
}
