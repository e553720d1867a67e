package fatfs

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrNegativeOffset = errors.New("diskio: negative offset")
	ErrEndOfDrive     = errors.New("diskio: write beyond end of drive")
)

// assert that RawDrive can be used as a random access image
var (
	_ io.ReaderAt = (*RawDrive)(nil)
	_ io.WriterAt = (*RawDrive)(nil)
)

// RawDrive is a byte addressed view over one drive of a Disk. All access
// goes through the Disk's Read, Write and Ioctl, so it sees the drive exactly
// as a filesystem mounted on it would. Partial sectors are handled with
// read-modify-write.
type RawDrive struct {
	disk  *Disk
	drive Drive
	geo   Geometry
}

// OpenRawDrive initializes drive and captures its geometry.
func OpenRawDrive(disk *Disk, drive Drive) (*RawDrive, error) {
	if st := disk.Initialize(drive); st != StatusOK {
		return nil, fmt.Errorf("initializing drive %s: %s", drive, st)
	}
	return attach(disk, drive)
}

// ReadyRawDrive is like OpenRawDrive but reuses the geometry of a drive that
// is already initialized. The drive is only initialized when it reports
// ResultNotReady.
func ReadyRawDrive(disk *Disk, drive Drive) (*RawDrive, error) {
	if _, res := disk.Geometry(drive); res == ResultNotReady {
		return OpenRawDrive(disk, drive)
	}
	return attach(disk, drive)
}

func attach(disk *Disk, drive Drive) (*RawDrive, error) {
	geo, res := disk.Geometry(drive)
	if res != ResultOK {
		return nil, fmt.Errorf("querying geometry of drive %s: %w", drive, res)
	}
	if geo.SectorSize != SectorSize {
		return nil, fmt.Errorf("drive %s: unsupported sector size %d", drive, geo.SectorSize)
	}
	return &RawDrive{disk: disk, drive: drive, geo: geo}, nil
}

func (r *RawDrive) Drive() Drive {
	return r.drive
}

func (r *RawDrive) Geometry() Geometry {
	return r.geo
}

// Size is the drive capacity in bytes.
func (r *RawDrive) Size() int64 {
	return r.geo.Bytes()
}

// ReadAt implements io.ReaderAt.
func (r *RawDrive) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	size := r.Size()
	if off >= size {
		return 0, io.EOF
	}

	var eof error
	if rem := size - off; int64(len(p)) > rem {
		p = p[:rem]
		eof = io.EOF
	}

	n := 0
	var sec [SectorSize]byte

	for len(p) > 0 {
		sector := uint32(off / SectorSize)
		skip := int(off % SectorSize)

		// whole sectors go straight into the caller's buffer
		if skip == 0 && len(p) >= SectorSize {
			count := len(p) / SectorSize
			step := count * SectorSize
			if res := r.disk.Read(r.drive, p[:step], sector, uint32(count)); res != ResultOK {
				return n, res
			}
			n += step
			p = p[step:]
			off += int64(step)
			continue
		}

		if res := r.disk.Read(r.drive, sec[:], sector, 1); res != ResultOK {
			return n, res
		}
		c := copy(p, sec[skip:])
		n += c
		p = p[c:]
		off += int64(c)
	}

	return n, eof
}

// WriteAt implements io.WriterAt. Data that would extend past the end of
// the drive is not written, and ErrEndOfDrive is returned.
func (r *RawDrive) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	size := r.Size()
	if off >= size && len(p) > 0 {
		return 0, ErrEndOfDrive
	}

	var short error
	if rem := size - off; int64(len(p)) > rem {
		p = p[:rem]
		short = ErrEndOfDrive
	}

	n := 0
	var sec [SectorSize]byte

	for len(p) > 0 {
		sector := uint32(off / SectorSize)
		skip := int(off % SectorSize)

		if skip == 0 && len(p) >= SectorSize {
			count := len(p) / SectorSize
			step := count * SectorSize
			if res := r.disk.Write(r.drive, p[:step], sector, uint32(count)); res != ResultOK {
				return n, res
			}
			n += step
			p = p[step:]
			off += int64(step)
			continue
		}

		// partial sector, merge with what is on the drive
		if res := r.disk.Read(r.drive, sec[:], sector, 1); res != ResultOK {
			return n, res
		}
		c := copy(sec[skip:], p)
		if res := r.disk.Write(r.drive, sec[:], sector, 1); res != ResultOK {
			return n, res
		}
		n += c
		p = p[c:]
		off += int64(c)
	}

	return n, short
}

// Sync flushes the drive's backend.
func (r *RawDrive) Sync() error {
	return r.disk.Ioctl(r.drive, CtrlSync, nil).Err()
}
