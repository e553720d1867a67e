//go:build !readonly

package control

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OffBroadway/diskio/pkg/fatfs"
	"github.com/OffBroadway/diskio/pkg/flash"
	"github.com/OffBroadway/diskio/pkg/sdcard"
)

func newTestServer(t *testing.T) *httptest.Server {
	media := afero.NewMemMapFs()
	require.NoError(t, sdcard.CreateImage(media, "/sd.img", 128*1024))

	sim, err := flash.NewMemSim(flash.W25Q128)
	require.NoError(t, err)
	t.Cleanup(func() { sim.Close() })

	disk := fatfs.NewDisk(fatfs.WithRetryPolicy(fatfs.RetryPolicy{Attempts: 1}))
	disk.Register(fatfs.DriveSD, sdcard.New(media, "/sd.img"))
	disk.Register(fatfs.DriveFlash, flash.NewDisk(flash.NewDevice(sim), 0))

	a := &api{disk: disk}
	srv := httptest.NewServer(a.handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body []byte) (int, []byte) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestInitAndIoctl(t *testing.T) {
	srv := newTestServer(t)

	code, _ := do(t, "GET", srv.URL+"/drive/flash/ioctl/sector-count", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body := do(t, "PUT", srv.URL+"/drive/flash/init", nil)
	require.Equal(t, http.StatusOK, code, string(body))

	var ds DriveStatus
	require.NoError(t, json.Unmarshal(body, &ds))
	assert.True(t, ds.Ready)
	assert.Equal(t, uint32(24576), ds.SectorCount)

	code, body = do(t, "GET", srv.URL+"/drive/1/ioctl/sector-count", nil)
	require.Equal(t, http.StatusOK, code)
	var reply IoctlReply
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.Equal(t, uint32(24576), reply.Value)

	code, _ = do(t, "GET", srv.URL+"/drive/flash/ioctl/trim", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = do(t, "GET", srv.URL+"/drive/flash/ioctl/sync", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestSectors(t *testing.T) {
	srv := newTestServer(t)

	code, _ := do(t, "PUT", srv.URL+"/drive/sd/init", nil)
	require.Equal(t, http.StatusOK, code)

	data := bytes.Repeat([]byte{0xC3}, 2*fatfs.SectorSize)
	code, body := do(t, "PUT", srv.URL+"/drive/sd/sector/4", data)
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = do(t, "GET", srv.URL+"/drive/sd/sector/4?count=2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, data, body)

	code, _ = do(t, "GET", srv.URL+"/drive/sd/sector/4?count=0", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = do(t, "PUT", srv.URL+"/drive/sd/sector/4", []byte("odd"))
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	// past the end of the card
	code, _ = do(t, "GET", srv.URL+"/drive/sd/sector/1000", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestUnknownDrive(t *testing.T) {
	srv := newTestServer(t)

	code, _ := do(t, "GET", srv.URL+"/drive/7/sector/0", nil)
	assert.Equal(t, http.StatusInternalServerError, code)

	code, _ = do(t, "GET", srv.URL+"/drive/7/status", nil)
	assert.Equal(t, http.StatusInternalServerError, code)

	code, _ = do(t, "PUT", srv.URL+"/drive/7/init", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = do(t, "GET", srv.URL+"/drive/tape/status", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t)

	code, _ := do(t, "PUT", srv.URL+"/drive/sd/init", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, "GET", srv.URL+"/status", nil)
	require.Equal(t, http.StatusOK, code)

	var st Status
	require.NoError(t, json.Unmarshal(body, &st))
	require.Len(t, st.Drives, 2)
	assert.Equal(t, "sd", st.Drives[0].Name)
	assert.True(t, st.Drives[0].Ready)
	assert.Equal(t, uint32(256), st.Drives[0].SectorCount)
	assert.Equal(t, "flash", st.Drives[1].Name)
	assert.False(t, st.Drives[1].Ready)
}
