package volume

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/diskfs/go-diskfs/backend"

	"github.com/OffBroadway/diskio/pkg/fatfs"
)

var errNoOSFile = errors.New("volume: drive has no OS file")

// storage lets go-diskfs use a drive as its backing image.
type storage struct {
	raw *fatfs.RawDrive

	mu     sync.Mutex
	offset int64
}

var (
	_ backend.Storage      = (*storage)(nil)
	_ backend.WritableFile = (*storage)(nil)
)

func newStorage(raw *fatfs.RawDrive) *storage {
	return &storage{raw: raw}
}

func (s *storage) Stat() (fs.FileInfo, error) {
	return storageInfo{name: s.raw.Drive().String(), size: s.raw.Size()}, nil
}

func (s *storage) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.raw.ReadAt(p, s.offset)
	s.offset += int64(n)
	return n, err
}

func (s *storage) ReadAt(p []byte, off int64) (int, error) {
	return s.raw.ReadAt(p, off)
}

func (s *storage) WriteAt(p []byte, off int64) (int, error) {
	return s.raw.WriteAt(p, off)
}

func (s *storage) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += s.offset
	case io.SeekEnd:
		offset += s.raw.Size()
	default:
		return 0, fatfs.ResultParameterError
	}
	if offset < 0 {
		return 0, fatfs.ErrNegativeOffset
	}
	s.offset = offset
	return offset, nil
}

// Close flushes the drive, it stays usable.
func (s *storage) Close() error {
	return s.raw.Sync()
}

func (s *storage) Sys() (*os.File, error) {
	return nil, errNoOSFile
}

func (s *storage) Writable() (backend.WritableFile, error) {
	if fatfs.ReadOnly {
		return nil, fatfs.ResultWriteProtected
	}
	return s, nil
}

// storageInfo reports the drive as a regular file of its full size.
type storageInfo struct {
	name string
	size int64
}

func (i storageInfo) Name() string       { return i.name }
func (i storageInfo) Size() int64        { return i.size }
func (i storageInfo) Mode() fs.FileMode  { return 0644 }
func (i storageInfo) ModTime() time.Time { return time.Time{} }
func (i storageInfo) IsDir() bool        { return false }
func (i storageInfo) Sys() any           { return nil }
