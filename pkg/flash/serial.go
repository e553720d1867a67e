package flash

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/jacobsa/go-serial/serial"
	log "github.com/sirupsen/logrus"
)

// SerialBridge reaches the chip through a microcontroller acting as a
// USB-serial to SPI bridge. Every transaction is sent as a frame
//
//	[wlen uint16 LE][rlen uint16 LE][w ...]
//
// and the bridge answers with exactly rlen bytes read from the chip after
// clocking out w, all while holding chip select low.
type SerialBridge struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
}

// assert that SerialBridge can be used as a Transport
var _ Transport = (*SerialBridge)(nil)

// OpenSerialBridge opens the bridge on a serial port, 8N1.
func OpenSerialBridge(port string, baud uint) (*SerialBridge, error) {
	log.WithFields(log.Fields{"port": port, "baud": baud}).Info("opening serial flash bridge")

	p, err := serial.Open(serial.OpenOptions{
		PortName:              port,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       1,
		InterCharacterTimeout: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("flash: opening serial bridge on %s: %w", port, err)
	}
	return NewSerialBridge(p), nil
}

// NewSerialBridge runs the bridge protocol over an already open stream.
func NewSerialBridge(port io.ReadWriteCloser) *SerialBridge {
	return &SerialBridge{port: port}
}

// Tx implements Transport.
func (b *SerialBridge) Tx(w, r []byte) error {
	if len(w) > math.MaxUint16 || len(r) > math.MaxUint16 {
		return fmt.Errorf("flash: bridge transfer too large (%d/%d)", len(w), len(r))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	frame := make([]byte, 4+len(w))
	binary.LittleEndian.PutUint16(frame[0:], uint16(len(w)))
	binary.LittleEndian.PutUint16(frame[2:], uint16(len(r)))
	copy(frame[4:], w)

	if _, err := b.port.Write(frame); err != nil {
		return fmt.Errorf("flash: bridge write: %w", err)
	}
	if len(r) == 0 {
		return nil
	}
	if _, err := io.ReadFull(b.port, r); err != nil {
		return fmt.Errorf("flash: bridge read: %w", err)
	}
	return nil
}

func (b *SerialBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port.Close()
}

// ServeBridge is the bridge side of the protocol: it reads frames from rw
// and executes them on t until rw fails or is closed. It turns any
// Transport, a Sim for instance, into a bridge a SerialBridge can talk to.
func ServeBridge(rw io.ReadWriter, t Transport) error {
	var hdr [4]byte
	for {
		if _, err := io.ReadFull(rw, hdr[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		w := make([]byte, binary.LittleEndian.Uint16(hdr[0:]))
		r := make([]byte, binary.LittleEndian.Uint16(hdr[2:]))
		if _, err := io.ReadFull(rw, w); err != nil {
			return err
		}
		if err := t.Tx(w, r); err != nil {
			log.WithField("error", err).Warn("bridge transaction failed")
			fill(r, 0xFF)
		}
		if len(r) > 0 {
			if _, err := rw.Write(r); err != nil {
				return err
			}
		}
	}
}
