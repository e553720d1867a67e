package fatfs

// SectorSize is the unit of I/O for every drive, in bytes.
const SectorSize = 512

// BlockDevice is the interface a storage backend has to match to be
// registered as a drive.
type BlockDevice interface {
	// Initialize (re)initializes the backend and reports the geometry the
	// filesystem should see until the next call.
	Initialize() (Geometry, error)
	ReadSectors(buff []byte, sector uint32, count uint32) error
	WriteSectors(buff []byte, sector uint32, count uint32) error
	Sync() error
}

// Geometry is the shape of a drive as reported to the filesystem.
type Geometry struct {
	SectorSize  uint16
	SectorCount uint32
	// BlockSize is the erase block size handed out by GET_BLOCK_SIZE.
	BlockSize uint32
}

// Bytes returns the usable capacity.
func (g Geometry) Bytes() int64 {
	return int64(g.SectorSize) * int64(g.SectorCount)
}
