//go:build linux

package flash

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/stianeikeland/go-rpio/v4"
)

// DefaultSPISpeed is the SPI clock used when none is configured.
const DefaultSPISpeed = 10_000_000 // 10 MHz

// RPi reaches the chip through the SPI controller of a Raspberry Pi.
type RPi struct {
	mu  sync.Mutex
	dev rpio.SpiDev
}

// assert that RPi can be used as a Transport
var _ Transport = (*RPi)(nil)

// OpenRPi claims SPI controller bus (0-2) with the given chip select line
// and clock in Hz.
func OpenRPi(bus int, chipSelect uint8, speed int) (*RPi, error) {
	var dev rpio.SpiDev
	switch bus {
	case 0:
		dev = rpio.Spi0
	case 1:
		dev = rpio.Spi1
	case 2:
		dev = rpio.Spi2
	default:
		return nil, fmt.Errorf("flash: invalid SPI bus %d", bus)
	}
	if speed <= 0 {
		speed = DefaultSPISpeed
	}

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("flash: opening GPIO: %w", err)
	}
	if err := rpio.SpiBegin(dev); err != nil {
		rpio.Close()
		return nil, fmt.Errorf("flash: starting SPI%d: %w", bus, err)
	}
	rpio.SpiChipSelect(chipSelect)
	rpio.SpiSpeed(speed)

	log.WithFields(log.Fields{"bus": bus, "cs": chipSelect, "speed": speed}).Info("SPI flash transport ready")

	return &RPi{dev: dev}, nil
}

// Tx implements Transport. SPI is full duplex, so w and r are sent as one
// exchange and the bytes clocked in while w was going out are dropped.
func (p *RPi) Tx(w, r []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, len(w)+len(r))
	copy(buf, w)
	rpio.SpiExchange(buf)
	copy(r, buf[len(w):])
	return nil
}

func (p *RPi) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rpio.SpiEnd(p.dev)
	return rpio.Close()
}
