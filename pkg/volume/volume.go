// Package volume puts a FAT32 filesystem on a drive, going through the same
// sector interface a filesystem on the device itself would use.
package volume

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/mbr"
	log "github.com/sirupsen/logrus"

	"github.com/OffBroadway/diskio/pkg/fatfs"
)

// partitioned volumes start at 1 MiB
const partitionStart = 2048

var ErrNoFilesystem = errors.New("volume: no FAT filesystem found")

// Options for Format.
type Options struct {
	Label string
	// Partitioned writes an MBR with a single FAT32 partition instead of
	// putting the filesystem on the whole drive.
	Partitioned bool
}

// Volume is a mounted FAT32 filesystem.
type Volume struct {
	raw  *fatfs.RawDrive
	disk *disk.Disk
	fs   filesystem.FileSystem
}

// Format creates a new, empty filesystem on the drive. Everything on it is
// lost.
func Format(raw *fatfs.RawDrive, opts Options) (*Volume, error) {
	dsk, err := diskfs.OpenBackend(newStorage(raw))
	if err != nil {
		return nil, fmt.Errorf("volume: opening drive %s: %w", raw.Drive(), err)
	}

	part := 0
	if opts.Partitioned {
		sectors := uint32(raw.Size() / fatfs.SectorSize)
		if sectors <= partitionStart {
			return nil, fmt.Errorf("volume: drive %s too small to partition", raw.Drive())
		}
		table := &mbr.Table{
			LogicalSectorSize:  fatfs.SectorSize,
			PhysicalSectorSize: fatfs.SectorSize,
			Partitions: []*mbr.Partition{
				{
					Bootable: false,
					Type:     mbr.Fat32LBA,
					Start:    partitionStart,
					Size:     sectors - partitionStart,
				},
			},
		}
		if err := dsk.Partition(table); err != nil {
			return nil, fmt.Errorf("volume: partitioning drive %s: %w", raw.Drive(), err)
		}
		part = 1
	}

	fs, err := dsk.CreateFilesystem(disk.FilesystemSpec{
		Partition:   part,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: opts.Label,
	})
	if err != nil {
		return nil, fmt.Errorf("volume: formatting drive %s: %w", raw.Drive(), err)
	}

	log.WithFields(log.Fields{
		"drive":       raw.Drive(),
		"label":       opts.Label,
		"partitioned": opts.Partitioned,
	}).Info("volume formatted")

	return &Volume{raw: raw, disk: dsk, fs: fs}, nil
}

// Open mounts the filesystem on the drive, either on the whole drive or on
// the first partition.
func Open(raw *fatfs.RawDrive) (*Volume, error) {
	dsk, err := diskfs.OpenBackend(newStorage(raw))
	if err != nil {
		return nil, fmt.Errorf("volume: opening drive %s: %w", raw.Drive(), err)
	}

	// a FAT boot sector carries the same signature as an MBR, so the whole
	// drive is tried before the first partition
	parts := []int{0}
	if dsk.Table != nil {
		parts = append(parts, 1)
	}

	var lastErr error
	for _, part := range parts {
		fs, err := dsk.GetFilesystem(part)
		if err != nil {
			lastErr = err
			continue
		}
		if fs.Type() != filesystem.TypeFat32 {
			lastErr = fmt.Errorf("unexpected filesystem type %v", fs.Type())
			continue
		}
		log.WithFields(log.Fields{"drive": raw.Drive(), "partition": part}).Debug("volume mounted")
		return &Volume{raw: raw, disk: dsk, fs: fs}, nil
	}
	return nil, fmt.Errorf("%w on drive %s: %v", ErrNoFilesystem, raw.Drive(), lastErr)
}

func (v *Volume) Label() string {
	return strings.TrimSpace(v.fs.Label())
}

func (v *Volume) Mkdir(p string) error {
	return v.fs.Mkdir(clean(p))
}

// List returns the entries of directory p.
func (v *Volume) List(p string) ([]os.FileInfo, error) {
	return v.fs.ReadDir(clean(p))
}

func (v *Volume) ReadFile(p string) ([]byte, error) {
	f, err := v.fs.OpenFile(clean(p), os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteFile replaces the contents of file p, creating it if needed. Parent
// directories must exist.
func (v *Volume) WriteFile(p string, data []byte) error {
	f, err := v.fs.OpenFile(clean(p), os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (v *Volume) Remove(p string) error {
	return v.fs.Remove(clean(p))
}

// Close releases the filesystem and flushes the drive.
func (v *Volume) Close() error {
	if err := v.fs.Close(); err != nil {
		return err
	}
	return v.raw.Sync()
}

func clean(p string) string {
	return path.Clean("/" + p)
}
