package devfs

import (
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/OffBroadway/diskio/pkg/fatfs"
)

// File is an open drive image, or the root directory when raw is nil.
type File struct {
	fs       *Fs
	info     FileInfo
	raw      *fatfs.RawDrive
	writable bool

	mu      sync.Mutex
	offset  int64
	closed  bool
	dirDone bool
}

var _ afero.File = (*File)(nil)

// Name returns the name of the file as presented to OpenFile
func (f *File) Name() string {
	return f.info.name
}

func (f *File) check(write bool) error {
	if f.closed {
		return fs.ErrClosed
	}
	if f.info.IsDir() {
		return &os.PathError{Op: "read", Path: f.info.name, Err: fs.ErrInvalid}
	}
	if write && !f.writable {
		return &os.PathError{Op: "write", Path: f.info.name, Err: fs.ErrPermission}
	}
	return nil
}

func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, fs.ErrClosed
	}
	if !f.info.IsDir() {
		return nil, &os.PathError{Op: "readdir", Path: f.info.name, Err: fs.ErrInvalid}
	}

	// the listing is short, it is handed out in a single batch
	if f.dirDone {
		if count > 0 {
			return nil, io.EOF
		}
		return nil, nil
	}
	f.dirDone = true

	res := f.fs.readDir()
	if count > 0 && len(res) > count {
		res = res[:count]
	}
	return res, nil
}

func (f *File) Readdirnames(n int) (names []string, err error) {
	infos, err := f.Readdir(n)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

// Read from the current position
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(false); err != nil {
		return 0, err
	}
	n, err := f.raw.ReadAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(false); err != nil {
		return 0, err
	}
	return f.raw.ReadAt(p, off)
}

// Write at the current position
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(true); err != nil {
		return 0, err
	}
	n, err := f.raw.WriteAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(true); err != nil {
		return 0, err
	}
	return f.raw.WriteAt(p, off)
}

func (f *File) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

// Seek changes the position of the file
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, fs.ErrClosed
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.offset
	case io.SeekEnd:
		offset += f.info.size
	default:
		return 0, fatfs.ResultParameterError
	}
	if offset < 0 {
		return 0, fatfs.ErrNegativeOffset
	}
	f.offset = offset
	return offset, nil
}

func (f *File) Stat() (os.FileInfo, error) {
	return f.info, nil
}

// Sync flushes the backend of the drive.
func (f *File) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fs.ErrClosed
	}
	if f.raw == nil {
		return nil
	}
	return f.raw.Sync()
}

// Truncate only accepts the current size, drive images cannot be resized.
func (f *File) Truncate(size int64) error {
	if size == f.info.size {
		return nil
	}
	return &os.PathError{Op: "truncate", Path: f.info.name, Err: fs.ErrPermission}
}

// Close syncs a drive image opened for writing.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fs.ErrClosed
	}
	f.closed = true
	if f.raw != nil && f.writable {
		return f.raw.Sync()
	}
	return nil
}
