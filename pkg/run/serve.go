package run

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/OffBroadway/diskio/pkg/board"
	"github.com/OffBroadway/diskio/pkg/control"
	"github.com/OffBroadway/diskio/pkg/devfs"
	"github.com/OffBroadway/diskio/pkg/fatfs"
	"github.com/OffBroadway/diskio/pkg/serve"
)

type server interface {
	Serve() error
	Stop() error
}

type namedServer struct {
	name string
	server
}

func newServe() *Command {
	s := NewCommand("serve", "run the drive servers",
		`Use the serve command for running the control API, which gives sector level
access to the drives, and the WebDAV and FTP servers, which publish each drive
as an image file. Set an address to empty for not running that server.`,
		"", settingsEpilogue, cobra.NoArgs, runServe)

	s.AddSetting("serve.api", "api", "a", Default["serve.api"],
		"listen address of the control API", false)
	s.AddSetting("serve.webdav", "webdav", "w", Default["serve.webdav"],
		"listen address of the WebDAV server", false)
	s.AddSetting("serve.ftp", "ftp", "f", "", "listen address of the FTP server", false)
	s.AddSetting("serve.ftp-user", "ftp-user", "", "", "FTP user, anonymous when empty", false)
	s.AddSetting("serve.ftp-pass", "ftp-password", "", "", "FTP password", false)

	return s
}

func runServe(*cobra.Command, []string) error {

	b, err := openBoard()
	if err != nil {
		return err
	}
	defer b.Close()

	initDrives(b)
	servers := newServers(b)
	if len(servers) == 0 {
		log.Warn("no server configured, nothing to do")
		return nil
	}

	wg := &sync.WaitGroup{}
	wg.Add(len(servers))

	for _, srv := range servers {
		go func(s namedServer) {
			defer wg.Done()
			if err := s.Serve(); err != nil {
				log.Errorf("%s server closed with error: %v", s.name, err)
			} else {
				log.Infof("%s server stopped", s.name)
			}
		}(srv)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sigCount := 0
	done := make(chan bool)

	for {
		select {

		case sig := <-sigs:
			log.WithField("signal", sig).Info("signal received")
			sigCount++

			switch sigCount {

			case 1:
				go func() {
					log.Info("shutting down, hit Ctrl-C twice to force exit...")
					for _, srv := range servers {
						if err := srv.Stop(); err != nil {
							log.Warnf("stopping %s server: %v", srv.name, err)
						}
					}
					wg.Wait()
					log.Info("diskio stopped")
					done <- true
				}()

			case 2:
				log.Warn("shutdown in progress, hit Ctrl-C again to force exit")

			default:
				log.Warn("forcing exit")
				os.Exit(1)
			}

		case <-done:
			return nil
		}
	}
}

// initDrives brings up all registered drives. A drive that fails stays
// registered, and can be initialized later via the API.
func initDrives(b *board.Board) {
	for _, d := range b.Disk.Drives() {
		if st := b.Disk.Initialize(d); st != fatfs.StatusOK {
			log.WithField("drive", d).Warnf("drive not ready: %s", st)
		}
	}
}

func newServers(b *board.Board) []namedServer {

	var ret []namedServer

	if addr := viper.GetString("serve.api"); addr != "" {
		ret = append(ret, namedServer{"API", control.NewAPIServer(addr, b.Disk)})
	}

	images := devfs.New(b.Disk)

	if addr := viper.GetString("serve.webdav"); addr != "" {
		ret = append(ret, namedServer{"WebDAV", serve.NewWebDAV(addr, images)})
	}

	if addr := viper.GetString("serve.ftp"); addr != "" {
		ret = append(ret, namedServer{"FTP", serve.NewFTP(addr, images,
			viper.GetString("serve.ftp-user"), viper.GetString("serve.ftp-pass"))})
	}

	return ret
}
