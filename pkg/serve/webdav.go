// Package serve exposes an afero.Fs over network file protocols.
package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/handlers"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/net/webdav"
)

// FS adapts an afero.Fs to webdav.FileSystem.
type FS struct {
	afero.Fs
}

var _ webdav.FileSystem = (*FS)(nil)

func newFS(fs afero.Fs) *FS {
	return &FS{
		Fs: fs,
	}
}

func (f *FS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	log.WithField("name", name).Trace("webdav Mkdir")
	return f.Fs.Mkdir(name, perm)
}

func (f *FS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	log.WithFields(log.Fields{"name": name, "flag": flag}).Trace("webdav OpenFile")
	return f.Fs.OpenFile(name, flag, perm)
}

func (f *FS) RemoveAll(ctx context.Context, name string) error {
	log.WithField("name", name).Trace("webdav RemoveAll")
	return f.Fs.RemoveAll(name)
}

func (f *FS) Rename(ctx context.Context, oldName, newName string) error {
	log.WithFields(log.Fields{"old": oldName, "new": newName}).Trace("webdav Rename")
	return f.Fs.Rename(oldName, newName)
}

func (f *FS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	log.WithField("name", name).Trace("webdav Stat")
	return f.Fs.Stat(name)
}

// NewWebDAVHandler serves fs below prefix, with access logging.
func NewWebDAVHandler(fs afero.Fs, prefix string) http.Handler {
	h := &webdav.Handler{
		Prefix:     prefix,
		FileSystem: newFS(fs),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				log.WithFields(log.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"error":  err,
				}).Warn("webdav request failed")
			}
		},
	}
	return handlers.LoggingHandler(log.StandardLogger().WriterLevel(log.DebugLevel), h)
}

// WebDAV is a WebDAV server for an afero.Fs.
type WebDAV struct {
	server *http.Server
}

func NewWebDAV(addr string, fs afero.Fs) *WebDAV {
	if len(strings.Split(addr, ":")) < 2 {
		addr = fmt.Sprintf("%s:8080", addr)
	}
	return &WebDAV{
		server: &http.Server{
			Addr:     addr,
			Handler:  NewWebDAVHandler(fs, ""),
			ErrorLog: stdLogger("http: "),
		},
	}
}

// Serve returns right away when Stop has already been called.
func (w *WebDAV) Serve() error {
	ln, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return err
	}
	log.Infof("WebDAV server starts listening on %s", ln.Addr())
	return w.serve(ln)
}

func (w *WebDAV) serve(ln net.Listener) error {
	err := w.server.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *WebDAV) Stop() error {
	log.Info("WebDAV server stopping...")
	return w.server.Close()
}
