//go:build !readonly

package sdcard

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OffBroadway/diskio/pkg/fatfs"
)

func TestAsDrive(t *testing.T) {
	card, _ := newCard(t, 128*BlockSize)

	disk := fatfs.NewDisk(fatfs.WithRetryPolicy(fatfs.RetryPolicy{Attempts: 2}))
	disk.Register(fatfs.DriveSD, card)
	require.Equal(t, fatfs.StatusOK, disk.Initialize(fatfs.DriveSD))

	geo, res := disk.Geometry(fatfs.DriveSD)
	require.Equal(t, fatfs.ResultOK, res)
	assert.Equal(t, fatfs.Geometry{SectorSize: 512, SectorCount: 128, BlockSize: BlockSize}, geo)

	in := bytes.Repeat([]byte("sd"), fatfs.SectorSize/2)
	require.Equal(t, fatfs.ResultOK, disk.Write(fatfs.DriveSD, in, 3, 1))

	// transient faults are absorbed by re-initializing the card
	card.FailNext(2)
	out := make([]byte, fatfs.SectorSize)
	assert.Equal(t, fatfs.ResultOK, disk.Read(fatfs.DriveSD, out, 3, 1))
	assert.Equal(t, in, out)

	card.FailNext(3)
	assert.Equal(t, fatfs.ResultError, disk.Read(fatfs.DriveSD, out, 3, 1))
}
