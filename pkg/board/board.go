// Package board assembles the drives of the target from configuration: the
// SD card as drive 0 and the serial flash as drive 1.
package board

import (
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/OffBroadway/diskio/pkg/fatfs"
	"github.com/OffBroadway/diskio/pkg/flash"
	"github.com/OffBroadway/diskio/pkg/sdcard"
)

// flash transports
const (
	TransportSim    = "sim"
	TransportSerial = "serial"
	TransportSPI    = "spi"
	TransportNone   = "none"
)

type SDConfig struct {
	// Image is the card device or image file, empty to leave drive 0 out.
	Image string `mapstructure:"image"`
	// Create makes a blank image of this many MiB if Image does not exist.
	Create int64 `mapstructure:"create"`
}

type SPIConfig struct {
	Bus   int   `mapstructure:"bus"`
	CS    uint8 `mapstructure:"cs"`
	Speed int   `mapstructure:"speed"`
}

type FlashConfig struct {
	Transport string    `mapstructure:"transport"`
	Image     string    `mapstructure:"image"`
	Chip      string    `mapstructure:"chip"`
	Port      string    `mapstructure:"port"`
	Baud      uint      `mapstructure:"baud"`
	SPI       SPIConfig `mapstructure:"spi"`
	Sectors   uint32    `mapstructure:"sectors"`
}

type Config struct {
	SD    SDConfig          `mapstructure:"sd"`
	Flash FlashConfig       `mapstructure:"flash"`
	Retry fatfs.RetryPolicy `mapstructure:"retry"`
}

// Board is an assembled set of drives.
type Board struct {
	Disk    *fatfs.Disk
	closers []io.Closer
}

// Open creates the backends described by cfg and registers them. Media and
// flash images are looked up on fs.
func Open(cfg Config, fs afero.Fs) (*Board, error) {

	b := &Board{Disk: fatfs.NewDisk(fatfs.WithRetryPolicy(cfg.Retry))}

	if cfg.SD.Image != "" {
		if cfg.SD.Create > 0 {
			if err := sdcard.CreateImage(fs, cfg.SD.Image, cfg.SD.Create<<20); err != nil {
				return nil, fmt.Errorf("creating SD image: %w", err)
			}
		}
		card := sdcard.New(fs, cfg.SD.Image)
		b.Disk.Register(fatfs.DriveSD, card)
		b.closers = append(b.closers, card)
		log.WithField("medium", cfg.SD.Image).Info("SD card registered as drive 0")
	}

	bus, err := openTransport(cfg.Flash, fs)
	if err != nil {
		b.Close()
		return nil, err
	}
	if bus != nil {
		b.closers = append(b.closers, bus)
		b.Disk.Register(fatfs.DriveFlash,
			flash.NewDisk(flash.NewDevice(bus), cfg.Flash.Sectors))
		log.WithField("transport", cfg.Flash.Transport).Info("serial flash registered as drive 1")
	}

	return b, nil
}

type transport interface {
	flash.Transport
	io.Closer
}

func openTransport(cfg FlashConfig, fs afero.Fs) (transport, error) {
	switch cfg.Transport {
	case TransportNone, "":
		return nil, nil

	case TransportSim:
		id := flash.W25Q128
		if cfg.Chip != "" {
			var err error
			if id, err = flash.ParseID(cfg.Chip); err != nil {
				return nil, err
			}
		}
		if cfg.Image == "" {
			return nil, errors.New("flash simulation needs an image file")
		}
		return flash.NewSim(fs, cfg.Image, id)

	case TransportSerial:
		if cfg.Port == "" {
			return nil, errors.New("serial flash bridge needs a port")
		}
		return flash.OpenSerialBridge(cfg.Port, cfg.Baud)

	case TransportSPI:
		return flash.OpenRPi(cfg.SPI.Bus, cfg.SPI.CS, cfg.SPI.Speed)

	default:
		return nil, fmt.Errorf("unknown flash transport: %s", cfg.Transport)
	}
}

// Close releases all backends.
func (b *Board) Close() error {
	var errs []error
	for ix := len(b.closers) - 1; ix >= 0; ix-- {
		if err := b.closers[ix].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
