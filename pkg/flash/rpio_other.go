//go:build !linux

package flash

import "errors"

const DefaultSPISpeed = 10_000_000

// RPi is only available on linux.
type RPi struct{}

func OpenRPi(bus int, chipSelect uint8, speed int) (*RPi, error) {
	return nil, errors.New("flash: SPI transport requires linux")
}

func (p *RPi) Tx(w, r []byte) error {
	return errors.New("flash: SPI transport requires linux")
}

func (p *RPi) Close() error {
	return nil
}
