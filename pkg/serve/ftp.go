package serve

import (
	"crypto/tls"
	"errors"
	stdlog "log"
	"sync"

	ftpserver "github.com/fclairamb/ftpserverlib"
	logrus "github.com/fclairamb/go-log/logrus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var (
	errBadCredentials = errors.New("bad credentials")
	errNoTLS          = errors.New("TLS is not configured")
)

// FTPServer is the main driver handing every authenticated client the same
// file system.
type FTPServer struct {
	Settings   *ftpserver.Settings
	FileSystem afero.Fs
	// User and Password are checked when User is set, otherwise any login
	// is accepted.
	User     string
	Password string
}

var _ ftpserver.MainDriver = (*FTPServer)(nil)

func (s *FTPServer) GetSettings() (*ftpserver.Settings, error) {
	return s.Settings, nil
}

func (s *FTPServer) ClientConnected(cc ftpserver.ClientContext) (string, error) {
	log.WithFields(log.Fields{"client": cc.ID(), "remote": cc.RemoteAddr()}).Info("FTP client connected")
	return "diskio FTP server", nil
}

func (s *FTPServer) ClientDisconnected(cc ftpserver.ClientContext) {
	log.WithFields(log.Fields{"client": cc.ID(), "remote": cc.RemoteAddr()}).Info("FTP client disconnected")
}

func (s *FTPServer) AuthUser(cc ftpserver.ClientContext, user, pass string) (ftpserver.ClientDriver, error) {
	if s.User != "" && (user != s.User || pass != s.Password) {
		log.WithFields(log.Fields{"user": user, "remote": cc.RemoteAddr()}).Warn("FTP login rejected")
		return nil, errBadCredentials
	}
	return s.FileSystem, nil
}

func (s *FTPServer) GetTLSConfig() (*tls.Config, error) {
	return nil, errNoTLS
}

// FTP runs an FTPServer.
type FTP struct {
	driver *FTPServer
	server *ftpserver.FtpServer

	mu        sync.Mutex
	listening bool
	stopped   bool
}

func NewFTP(addr string, fs afero.Fs, user, password string) *FTP {
	driver := &FTPServer{
		Settings: &ftpserver.Settings{
			ListenAddr: addr,
		},
		FileSystem: fs,
		User:       user,
		Password:   password,
	}
	server := ftpserver.NewFtpServer(driver)
	server.Logger = logrus.New()
	return &FTP{driver: driver, server: server}
}

// Serve returns right away when Stop has already been called.
func (f *FTP) Serve() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	if err := f.server.Listen(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.listening = true
	f.mu.Unlock()

	log.Infof("FTP server starts listening on %s", f.server.Addr())
	err := f.server.Serve()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return nil
	}
	return err
}

func (f *FTP) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return nil
	}
	f.stopped = true
	if !f.listening {
		return nil
	}
	log.Info("FTP server stopping...")
	return f.server.Stop()
}

// stdLogger routes a standard library logger into logrus.
func stdLogger(prefix string) *stdlog.Logger {
	return stdlog.New(log.StandardLogger().WriterLevel(log.WarnLevel), prefix, 0)
}
