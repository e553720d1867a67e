package board

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OffBroadway/diskio/pkg/fatfs"
)

func TestOpen(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := Config{
		SD: SDConfig{Image: "/sd.img", Create: 1},
		Flash: FlashConfig{
			Transport: TransportSim,
			Image:     "/flash.bin",
			Chip:      "W25Q32",
			Sectors:   1024,
		},
		Retry: fatfs.RetryPolicy{Attempts: 2, Backoff: time.Millisecond},
	}

	b, err := Open(cfg, fs)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, []fatfs.Drive{fatfs.DriveSD, fatfs.DriveFlash}, b.Disk.Drives())
	assert.Equal(t, fatfs.StatusOK, b.Disk.Initialize(fatfs.DriveSD))
	assert.Equal(t, fatfs.StatusOK, b.Disk.Initialize(fatfs.DriveFlash))

	geo, res := b.Disk.Geometry(fatfs.DriveSD)
	require.Equal(t, fatfs.ResultOK, res)
	assert.Equal(t, uint32(2048), geo.SectorCount)

	geo, res = b.Disk.Geometry(fatfs.DriveFlash)
	require.Equal(t, fatfs.ResultOK, res)
	assert.Equal(t, uint32(1024), geo.SectorCount)

	st, err := fs.Stat("/flash.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(4<<20), st.Size())
}

func TestOpenFlashOnly(t *testing.T) {
	b, err := Open(Config{Flash: FlashConfig{Transport: TransportSim, Image: "/f.bin", Chip: "W25Q32", Sectors: 8}},
		afero.NewMemMapFs())
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, []fatfs.Drive{fatfs.DriveFlash}, b.Disk.Drives())
}

func TestOpenErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := Open(Config{Flash: FlashConfig{Transport: "carrier-pigeon"}}, fs)
	assert.Error(t, err)

	_, err = Open(Config{Flash: FlashConfig{Transport: TransportSim}}, fs)
	assert.Error(t, err)

	_, err = Open(Config{Flash: FlashConfig{Transport: TransportSerial}}, fs)
	assert.Error(t, err)

	_, err = Open(Config{Flash: FlashConfig{Transport: TransportSim, Image: "/f.bin", Chip: "??"}}, fs)
	assert.Error(t, err)
}
