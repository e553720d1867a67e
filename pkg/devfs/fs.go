// Package devfs presents the drives of a fatfs.Disk as a flat directory of
// disk images, one per drive, for serving them over file protocols.
package devfs

import (
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/OffBroadway/diskio/pkg/fatfs"
)

const imageSuffix = ".img"

// FileInfo describes a drive image or the root directory.
type FileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
	mode    os.FileMode
	drive   fatfs.Drive
}

func (fi FileInfo) Name() string       { return fi.name }
func (fi FileInfo) Size() int64        { return fi.size }
func (fi FileInfo) IsDir() bool        { return fi.isDir }
func (fi FileInfo) ModTime() time.Time { return fi.modTime }
func (fi FileInfo) Mode() os.FileMode  { return fi.mode }
func (fi FileInfo) Sys() interface{}   { return fi.drive }

var _ os.FileInfo = FileInfo{}

// Fs is a read/write afero.Fs with one file per registered drive, named
// after the drive (sd.img, flash.img). The set of files is fixed, creating,
// removing or renaming anything fails with os.ErrPermission.
type Fs struct {
	disk    *fatfs.Disk
	started time.Time
}

var _ afero.Fs = (*Fs)(nil)

func New(disk *fatfs.Disk) *Fs {
	return &Fs{disk: disk, started: time.Now()}
}

// ImageName returns the file name under which drive appears.
func ImageName(drive fatfs.Drive) string {
	return drive.String() + imageSuffix
}

func (f *Fs) Name() string {
	return "DiskIO"
}

func isRoot(name string) bool {
	name = path.Clean("/" + name)
	return name == "/"
}

// lookup resolves an image path to its drive.
func (f *Fs) lookup(name string) (fatfs.Drive, bool) {
	base := strings.TrimPrefix(path.Clean("/"+name), "/")
	if strings.Contains(base, "/") || !strings.HasSuffix(base, imageSuffix) {
		return 0, false
	}
	for _, d := range f.disk.Drives() {
		if ImageName(d) == base {
			return d, true
		}
	}
	return 0, false
}

func (f *Fs) rootInfo() FileInfo {
	return FileInfo{
		name:    "/",
		isDir:   true,
		modTime: f.started,
		mode:    os.ModeDir | 0755,
	}
}

// stat learns the size of drive, initializing it on first use. A drive that
// fails to come up is listed with size 0.
func (f *Fs) stat(drive fatfs.Drive) (FileInfo, *fatfs.RawDrive) {
	info := FileInfo{
		name:    ImageName(drive),
		modTime: f.started,
		mode:    0644,
		drive:   drive,
	}
	raw, err := fatfs.ReadyRawDrive(f.disk, drive)
	if err != nil {
		log.WithFields(log.Fields{"drive": drive, "error": err}).Warn("drive unavailable")
		return info, nil
	}
	info.size = raw.Size()
	if fatfs.ReadOnly {
		info.mode = 0444
	}
	return info, raw
}

func (f *Fs) Open(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

// OpenFile opens a drive image. O_CREATE is accepted for an existing image,
// O_TRUNC and O_APPEND are ignored since a drive has a fixed size.
func (f *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	log.WithFields(log.Fields{"name": name, "flag": flag}).Debug("devfs open")

	if isRoot(name) {
		if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
			return nil, &os.PathError{Op: "open", Path: name, Err: fs.ErrPermission}
		}
		return &File{fs: f, info: f.rootInfo()}, nil
	}

	drive, ok := f.lookup(name)
	if !ok {
		if flag&os.O_CREATE != 0 {
			return nil, &os.PathError{Op: "open", Path: name, Err: fs.ErrPermission}
		}
		return nil, &os.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}

	info, raw := f.stat(drive)
	if raw == nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: fatfs.ResultNotReady}
	}

	return &File{
		fs:       f,
		info:     info,
		raw:      raw,
		writable: flag&(os.O_WRONLY|os.O_RDWR) != 0,
	}, nil
}

func (f *Fs) Stat(name string) (os.FileInfo, error) {
	if isRoot(name) {
		return f.rootInfo(), nil
	}
	drive, ok := f.lookup(name)
	if !ok {
		return nil, &os.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	info, _ := f.stat(drive)
	return info, nil
}

// readDir lists the images of all registered drives.
func (f *Fs) readDir() []os.FileInfo {
	drives := f.disk.Drives()
	infos := make([]os.FileInfo, 0, len(drives))
	for _, d := range drives {
		info, _ := f.stat(d)
		infos = append(infos, info)
	}
	return infos
}

func (f *Fs) Create(name string) (afero.File, error) {
	if _, ok := f.lookup(name); ok {
		return f.OpenFile(name, os.O_RDWR, 0)
	}
	return nil, &os.PathError{Op: "create", Path: name, Err: fs.ErrPermission}
}

func (f *Fs) Mkdir(name string, perm os.FileMode) error {
	return &os.PathError{Op: "mkdir", Path: name, Err: fs.ErrPermission}
}

func (f *Fs) MkdirAll(name string, perm os.FileMode) error {
	if isRoot(name) {
		return nil
	}
	return &os.PathError{Op: "mkdir", Path: name, Err: fs.ErrPermission}
}

func (f *Fs) Remove(name string) error {
	return &os.PathError{Op: "remove", Path: name, Err: fs.ErrPermission}
}

func (f *Fs) RemoveAll(name string) error {
	return &os.PathError{Op: "remove", Path: name, Err: fs.ErrPermission}
}

func (f *Fs) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: fs.ErrPermission}
}

// Chmod, Chown and Chtimes are accepted and ignored, clients commonly set
// times after an upload.
func (f *Fs) Chmod(name string, mode os.FileMode) error {
	return f.exists(name)
}

func (f *Fs) Chown(name string, uid, gid int) error {
	return f.exists(name)
}

func (f *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return f.exists(name)
}

func (f *Fs) exists(name string) error {
	if isRoot(name) {
		return nil
	}
	if _, ok := f.lookup(name); !ok {
		return &os.PathError{Op: "chattr", Path: name, Err: fs.ErrNotExist}
	}
	return nil
}

// AsIO returns the images as an io/fs.FS.
func AsIO(f *Fs) fs.FS {
	return afero.NewIOFS(f)
}
