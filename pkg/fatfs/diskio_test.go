//go:build !readonly

package fatfs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky medium")

// memDevice is an in-memory BlockDevice that can be told to fail.
type memDevice struct {
	data      []byte
	geo       Geometry
	initErr   error
	failReads int
	failWrite int
	inits     int
	reads     int
	writes    int
	syncs     int
}

func newMemDevice(sectors uint32, block uint32) *memDevice {
	return &memDevice{
		data: make([]byte, int(sectors)*SectorSize),
		geo:  Geometry{SectorSize: SectorSize, SectorCount: sectors, BlockSize: block},
	}
}

func (m *memDevice) Initialize() (Geometry, error) {
	m.inits++
	if m.initErr != nil {
		return Geometry{}, m.initErr
	}
	return m.geo, nil
}

func (m *memDevice) ReadSectors(buff []byte, sector, count uint32) error {
	m.reads++
	if m.failReads > 0 {
		m.failReads--
		return errFlaky
	}
	off := int(sector) * SectorSize
	copy(buff, m.data[off:off+int(count)*SectorSize])
	return nil
}

func (m *memDevice) WriteSectors(buff []byte, sector, count uint32) error {
	m.writes++
	if m.failWrite > 0 {
		m.failWrite--
		return errFlaky
	}
	off := int(sector) * SectorSize
	copy(m.data[off:], buff[:int(count)*SectorSize])
	return nil
}

func (m *memDevice) Sync() error {
	m.syncs++
	return nil
}

func newTestDisk(attempts int) (*Disk, *memDevice, *memDevice) {
	d := NewDisk(WithRetryPolicy(RetryPolicy{Attempts: attempts}))
	sd := newMemDevice(64, SectorSize)
	fl := newMemDevice(32, 8)
	d.Register(DriveSD, sd)
	d.Register(DriveFlash, fl)
	return d, sd, fl
}

func TestStatusAlwaysReady(t *testing.T) {
	d, _, _ := newTestDisk(0)
	assert.Equal(t, StatusOK, d.Status(DriveSD))
	assert.Equal(t, StatusOK, d.Status(DriveFlash))
	assert.Equal(t, StatusOK, d.Status(Drive(9)))
}

func TestInitialize(t *testing.T) {
	d, sd, _ := newTestDisk(0)

	assert.Equal(t, StatusOK, d.Initialize(DriveSD))
	assert.Equal(t, 1, sd.inits)
	assert.Equal(t, StatusNoInit, d.Initialize(Drive(7)))

	sd.initErr = errFlaky
	assert.Equal(t, StatusNoInit, d.Initialize(DriveSD))

	// geometry from the earlier success survives the failed attempt
	geo, res := d.Geometry(DriveSD)
	require.Equal(t, ResultOK, res)
	assert.Equal(t, uint32(64), geo.SectorCount)
}

func TestRoundTrip(t *testing.T) {
	d, _, _ := newTestDisk(0)

	for _, drive := range []Drive{DriveSD, DriveFlash} {
		require.Equal(t, StatusOK, d.Initialize(drive))

		in := bytes.Repeat([]byte{0xA5, byte(drive), 0x5A, 0x01}, 3*SectorSize/4)
		assert.Equal(t, ResultOK, d.Write(drive, in, 5, 3))

		out := make([]byte, len(in))
		assert.Equal(t, ResultOK, d.Read(drive, out, 5, 3))
		assert.Equal(t, in, out, "drive %s", drive)
	}
}

func TestZeroCount(t *testing.T) {
	d, sd, _ := newTestDisk(0)
	buf := make([]byte, SectorSize)

	for _, drive := range []Drive{DriveSD, DriveFlash, Drive(3), Drive(255)} {
		assert.Equal(t, ResultParameterError, d.Read(drive, buf, 0, 0))
		assert.Equal(t, ResultParameterError, d.Write(drive, buf, 0, 0))
	}
	assert.Zero(t, sd.reads)
	assert.Zero(t, sd.writes)
}

func TestUnknownDrive(t *testing.T) {
	d, _, _ := newTestDisk(0)
	buf := make([]byte, SectorSize)

	assert.Equal(t, ResultError, d.Read(Drive(2), buf, 0, 1))
	assert.Equal(t, ResultError, d.Write(Drive(2), buf, 0, 1))
	assert.Equal(t, ResultError, d.Ioctl(Drive(2), GetSectorCount, buf))
	assert.Equal(t, ResultError, d.Ioctl(Drive(2), CtrlSync, nil))
}

func TestShortBuffer(t *testing.T) {
	d, sd, _ := newTestDisk(0)
	buf := make([]byte, SectorSize)

	assert.Equal(t, ResultParameterError, d.Read(DriveSD, buf, 0, 2))
	assert.Equal(t, ResultParameterError, d.Write(DriveSD, buf, 0, 2))
	assert.Zero(t, sd.reads)
}

func TestIoctl(t *testing.T) {
	d, sd, fl := newTestDisk(0)
	require.Equal(t, StatusOK, d.Initialize(DriveSD))
	require.Equal(t, StatusOK, d.Initialize(DriveFlash))

	buf := make([]byte, 4)

	assert.Equal(t, ResultOK, d.Ioctl(DriveFlash, GetSectorSize, buf))
	assert.Equal(t, uint16(SectorSize), binary.LittleEndian.Uint16(buf))

	assert.Equal(t, ResultOK, d.Ioctl(DriveFlash, GetBlockSize, buf))
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(buf))

	assert.Equal(t, ResultOK, d.Ioctl(DriveFlash, GetSectorCount, buf))
	assert.Equal(t, uint32(32), binary.LittleEndian.Uint32(buf))

	assert.Equal(t, ResultOK, d.Ioctl(DriveSD, GetBlockSize, buf))
	assert.Equal(t, uint32(SectorSize), binary.LittleEndian.Uint32(buf))

	assert.Equal(t, ResultOK, d.Ioctl(DriveSD, GetSectorCount, buf))
	assert.Equal(t, uint32(64), binary.LittleEndian.Uint32(buf))

	assert.Equal(t, ResultOK, d.Ioctl(DriveSD, CtrlSync, nil))
	assert.Equal(t, 1, sd.syncs)
	assert.Equal(t, ResultOK, d.Ioctl(DriveFlash, CtrlSync, nil))
	assert.Equal(t, 1, fl.syncs)
}

func TestIoctlLeavesBufferOnError(t *testing.T) {
	d, _, _ := newTestDisk(0)
	buf := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	orig := append([]byte(nil), buf...)

	// not initialized yet
	assert.Equal(t, ResultNotReady, d.Ioctl(DriveFlash, GetSectorCount, buf))
	assert.Equal(t, orig, buf)

	require.Equal(t, StatusOK, d.Initialize(DriveFlash))

	assert.Equal(t, ResultParameterError, d.Ioctl(DriveFlash, CtrlTrim, buf))
	assert.Equal(t, ResultParameterError, d.Ioctl(DriveFlash, Command(42), buf))
	assert.Equal(t, orig, buf)

	assert.Equal(t, ResultParameterError, d.Ioctl(DriveFlash, GetSectorCount, buf[:2]))
	assert.Equal(t, ResultParameterError, d.Ioctl(DriveFlash, GetSectorSize, buf[:1]))
	assert.Equal(t, orig, buf)
}

func TestReinitializeReplacesGeometry(t *testing.T) {
	d, _, fl := newTestDisk(0)
	require.Equal(t, StatusOK, d.Initialize(DriveFlash))

	fl.geo.SectorCount = 16
	require.Equal(t, StatusOK, d.Initialize(DriveFlash))

	geo, res := d.Geometry(DriveFlash)
	require.Equal(t, ResultOK, res)
	assert.Equal(t, uint32(16), geo.SectorCount)
}

func TestRetryRecovers(t *testing.T) {
	d, sd, _ := newTestDisk(3)
	require.Equal(t, StatusOK, d.Initialize(DriveSD))

	sd.failReads = 3
	buf := make([]byte, SectorSize)
	assert.Equal(t, ResultOK, d.Read(DriveSD, buf, 0, 1))
	assert.Equal(t, 4, sd.reads)
	assert.Equal(t, 1+3, sd.inits)
}

func TestRetryExhausted(t *testing.T) {
	d, _, fl := newTestDisk(3)
	require.Equal(t, StatusOK, d.Initialize(DriveFlash))

	fl.failWrite = 10
	buf := make([]byte, SectorSize)
	assert.Equal(t, ResultError, d.Write(DriveFlash, buf, 0, 1))
	assert.Equal(t, 3+1, fl.writes)
	assert.Equal(t, 1+3, fl.inits)
}

func TestRetryInitFailure(t *testing.T) {
	d, sd, _ := newTestDisk(2)
	require.Equal(t, StatusOK, d.Initialize(DriveSD))

	sd.failReads = 1
	sd.initErr = errFlaky
	buf := make([]byte, SectorSize)
	assert.Equal(t, ResultError, d.Read(DriveSD, buf, 0, 1))
	// no transfer is attempted when re-initialization fails
	assert.Equal(t, 1, sd.reads)
}

func TestUnregister(t *testing.T) {
	d, _, _ := newTestDisk(0)
	assert.Equal(t, []Drive{DriveSD, DriveFlash}, d.Drives())

	d.Unregister(DriveSD)
	assert.Equal(t, []Drive{DriveFlash}, d.Drives())
	assert.Equal(t, StatusNoInit, d.Initialize(DriveSD))
}

func TestParse(t *testing.T) {
	drive, err := ParseDrive("flash")
	require.NoError(t, err)
	assert.Equal(t, DriveFlash, drive)

	drive, err = ParseDrive("0:")
	require.NoError(t, err)
	assert.Equal(t, DriveSD, drive)

	_, err = ParseDrive("tape")
	assert.Error(t, err)

	cmd, err := ParseCommand("sector-count")
	require.NoError(t, err)
	assert.Equal(t, GetSectorCount, cmd)

	_, err = ParseCommand("eject")
	assert.Error(t, err)
}

func TestResultError(t *testing.T) {
	assert.NoError(t, ResultOK.Err())
	err := ResultNotReady.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ResultNotReady))
	assert.Contains(t, err.Error(), "cannot work")
}
