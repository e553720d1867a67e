package flash

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSim(t *testing.T, id ID) *Sim {
	sim, err := NewMemSim(id)
	require.NoError(t, err)
	t.Cleanup(func() { sim.Close() })
	return sim
}

func newDevice(t *testing.T, id ID) (*Device, *Sim) {
	sim := newSim(t, id)
	dev := NewDevice(sim)
	require.NoError(t, dev.Init())
	return dev, sim
}

func TestSimProgramOnlyClearsBits(t *testing.T) {
	sim := newSim(t, W25Q32)

	require.NoError(t, sim.Tx([]byte{cmdWriteEnable}, nil))
	require.NoError(t, sim.Tx(append(command(cmdPageProgram, 0x100), 0xF0, 0x0F), nil))

	require.NoError(t, sim.Tx([]byte{cmdWriteEnable}, nil))
	require.NoError(t, sim.Tx(append(command(cmdPageProgram, 0x100), 0x3C, 0xFF), nil))

	r := make([]byte, 3)
	require.NoError(t, sim.Tx(command(cmdReadData, 0x100), r))
	assert.Equal(t, []byte{0x30, 0x0F, 0xFF}, r)
}

func TestSimNeedsWriteEnable(t *testing.T) {
	sim := newSim(t, W25Q32)

	require.NoError(t, sim.Tx(append(command(cmdPageProgram, 0), 0x00), nil))
	r := make([]byte, 1)
	require.NoError(t, sim.Tx(command(cmdReadData, 0), r))
	assert.Equal(t, byte(0xFF), r[0])

	// the latch is consumed by the first program
	require.NoError(t, sim.Tx([]byte{cmdWriteEnable}, nil))
	require.NoError(t, sim.Tx(append(command(cmdPageProgram, 0), 0x00), nil))
	require.NoError(t, sim.Tx(append(command(cmdPageProgram, 1), 0x00), nil))
	r = make([]byte, 2)
	require.NoError(t, sim.Tx(command(cmdReadData, 0), r))
	assert.Equal(t, []byte{0x00, 0xFF}, r)

	programs, _ := sim.Stats()
	assert.Equal(t, 1, programs)
}

func TestSimEraseRestoresOnes(t *testing.T) {
	sim := newSim(t, W25Q32)

	require.NoError(t, sim.Tx([]byte{cmdWriteEnable}, nil))
	require.NoError(t, sim.Tx(append(command(cmdPageProgram, 0x1000), 0, 0, 0), nil))

	require.NoError(t, sim.Tx([]byte{cmdWriteEnable}, nil))
	require.NoError(t, sim.Tx(command(cmdSectorErase, 0x1234), nil))

	r := make([]byte, 3)
	require.NoError(t, sim.Tx(command(cmdReadData, 0x1000), r))
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, r)
}

func TestSimPageWrap(t *testing.T) {
	sim := newSim(t, W25Q32)

	require.NoError(t, sim.Tx([]byte{cmdWriteEnable}, nil))
	require.NoError(t, sim.Tx(append(command(cmdPageProgram, 0xFF), 0x11, 0x22), nil))

	r := make([]byte, 1)
	require.NoError(t, sim.Tx(command(cmdReadData, 0x00), r))
	assert.Equal(t, byte(0x22), r[0])
	require.NoError(t, sim.Tx(command(cmdReadData, 0x100), r))
	assert.Equal(t, byte(0xFF), r[0])
}

func TestSimPowerDown(t *testing.T) {
	sim := newSim(t, W25Q128)
	dev := NewDevice(sim)
	require.NoError(t, dev.Init())
	require.NoError(t, dev.PowerDown())

	r := make([]byte, 3)
	require.NoError(t, sim.Tx([]byte{cmdJEDECID}, r))
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, r)

	_, err := dev.ReadAt(r, 0)
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, dev.Init())
	assert.Equal(t, W25Q128, dev.ID())
}

func TestDeviceInit(t *testing.T) {
	dev, _ := newDevice(t, W25Q128)
	assert.Equal(t, W25Q128, dev.ID())
	assert.Equal(t, "W25Q128", dev.ID().Name())
	assert.Equal(t, uint32(16<<20), dev.Size())
}

func TestDeviceLimitedTo24BitAddresses(t *testing.T) {
	dev, _ := newDevice(t, W25Q256)
	assert.Equal(t, uint32(32<<20), W25Q256.Size())
	assert.Equal(t, uint32(16<<20), dev.Size())

	buf := make([]byte, 16)
	_, err := dev.ReadAt(buf, 16<<20)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = dev.ReadAt(buf, 16<<20-8)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.ErrorIs(t, dev.EraseSector(16<<20), ErrOutOfRange)

	_, err = dev.ReadAt(buf, 16<<20-16)
	assert.NoError(t, err)
}

type deadBus struct{}

func (deadBus) Tx(w, r []byte) error {
	fill(r, 0xFF)
	return nil
}

func TestDeviceNoChip(t *testing.T) {
	dev := NewDevice(deadBus{})
	assert.ErrorIs(t, dev.Init(), ErrNoChip)
	assert.Zero(t, dev.Size())
}

func TestDeviceWriteAt(t *testing.T) {
	dev, sim := newDevice(t, W25Q32)

	// spans a sector boundary and several pages
	data := bytes.Repeat([]byte{0xA5, 0x5A}, 600)
	off := int64(SectorSize - 300)
	n, err := dev.WriteAt(data, off)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	out := make([]byte, len(data))
	_, err = dev.ReadAt(out, off)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	// blank sectors are programmed without erasing
	_, erases := sim.Stats()
	assert.Zero(t, erases)

	// overwriting needs an erase of both sectors, neighbours survive
	before := make([]byte, 16)
	_, err = dev.ReadAt(before, off-16)
	require.NoError(t, err)

	data2 := bytes.Repeat([]byte{0xFF, 0x00}, 600)
	_, err = dev.WriteAt(data2, off)
	require.NoError(t, err)
	_, err = dev.ReadAt(out, off)
	require.NoError(t, err)
	assert.Equal(t, data2, out)

	_, erases = sim.Stats()
	assert.Equal(t, 2, erases)

	after := make([]byte, 16)
	_, err = dev.ReadAt(after, off-16)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDeviceWriteUnchanged(t *testing.T) {
	dev, sim := newDevice(t, W25Q32)
	blank := bytes.Repeat([]byte{0xFF}, 100)
	_, err := dev.WriteAt(blank, 0)
	require.NoError(t, err)

	programs, erases := sim.Stats()
	assert.Zero(t, programs)
	assert.Zero(t, erases)
}

func TestDeviceRange(t *testing.T) {
	dev, _ := newDevice(t, W25Q32)
	buf := make([]byte, 10)

	_, err := dev.ReadAt(buf, int64(dev.Size())-5)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = dev.WriteAt(buf, -1)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.ErrorIs(t, dev.EraseSector(dev.Size()), ErrOutOfRange)
}

func TestDeviceErase(t *testing.T) {
	dev, _ := newDevice(t, W25Q32)
	_, err := dev.WriteAt([]byte{1, 2, 3}, 0x2000)
	require.NoError(t, err)
	_, err = dev.WriteAt([]byte{4, 5, 6}, 0x5000)
	require.NoError(t, err)

	require.NoError(t, dev.EraseSector(0x2001))
	buf := make([]byte, 3)
	_, err = dev.ReadAt(buf, 0x2000)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, buf)
	_, err = dev.ReadAt(buf, 0x5000)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5, 6}, buf)

	require.NoError(t, dev.EraseChip())
	_, err = dev.ReadAt(buf, 0x5000)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, buf)
}

func TestSerialBridge(t *testing.T) {
	host, mcu := net.Pipe()
	sim := newSim(t, W25Q32)

	done := make(chan error, 1)
	go func() { done <- ServeBridge(mcu, sim) }()

	bridge := NewSerialBridge(host)
	dev := NewDevice(bridge)
	require.NoError(t, dev.Init())
	assert.Equal(t, W25Q32, dev.ID())

	data := []byte("over the wire")
	_, err := dev.WriteAt(data, 0x300)
	require.NoError(t, err)

	out := make([]byte, len(data))
	_, err = dev.ReadAt(out, 0x300)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	require.NoError(t, bridge.Close())
	<-done
}

func TestParseID(t *testing.T) {
	id, err := ParseID("ef4018")
	require.NoError(t, err)
	assert.Equal(t, W25Q128, id)

	id, err = ParseID("EN25QH128")
	require.NoError(t, err)
	assert.Equal(t, EN25QH128, id)

	_, err = ParseID("zz")
	assert.Error(t, err)

	assert.Zero(t, ID{0xEF, 0x40, 0x05}.Size())
}
