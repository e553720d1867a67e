package control

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/OffBroadway/diskio/pkg/fatfs"
)

func (a *api) status(w http.ResponseWriter, req *http.Request) {

	stat := &Status{ReadOnly: fatfs.ReadOnly}
	for _, d := range a.disk.Drives() {
		stat.Drives = append(stat.Drives, a.driveState(d))
	}

	if wantsJSON(req) {
		sendJSONReply(stat, http.StatusOK, w)
	} else {
		sendReply([]byte(stat.String()), http.StatusOK, w)
	}
}

func (a *api) driveState(drive fatfs.Drive) *DriveStatus {
	ds := &DriveStatus{
		Drive:  drive,
		Name:   drive.String(),
		Status: a.disk.Status(drive).String(),
	}
	if geo, res := a.disk.Geometry(drive); res == fatfs.ResultOK {
		ds.Ready = true
		ds.SectorSize = geo.SectorSize
		ds.SectorCount = geo.SectorCount
		ds.BlockSize = geo.BlockSize
	}
	return ds
}

func (a *api) driveStatus(w http.ResponseWriter, req *http.Request) {

	drive, ok := getDrive(w, req)
	if !ok {
		return
	}
	if _, known := a.disk.Device(drive); !known {
		handleResult(fatfs.ResultError, w)
		return
	}

	ds := a.driveState(drive)
	if wantsJSON(req) {
		sendJSONReply(ds, http.StatusOK, w)
	} else {
		sendReply([]byte(ds.String()), http.StatusOK, w)
	}
}

func (a *api) initialize(w http.ResponseWriter, req *http.Request) {

	drive, ok := getDrive(w, req)
	if !ok {
		return
	}

	if st := a.disk.Initialize(drive); st != fatfs.StatusOK {
		handleError(fmt.Errorf("drive %s: %s", drive, st),
			http.StatusServiceUnavailable, w)
		return
	}

	ds := a.driveState(drive)
	if wantsJSON(req) {
		sendJSONReply(ds, http.StatusOK, w)
	} else {
		sendReply([]byte(fmt.Sprintf("initialized drive %s", drive)), http.StatusOK, w)
	}
}

func (a *api) ioctl(w http.ResponseWriter, req *http.Request) {

	drive, ok := getDrive(w, req)
	if !ok {
		return
	}
	cmd, err := fatfs.ParseCommand(mux.Vars(req)["cmd"])
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return
	}

	var buf [4]byte
	if handleResult(a.disk.Ioctl(drive, cmd, buf[:]), w) {
		return
	}

	reply := &IoctlReply{Command: cmd.String()}
	switch cmd {
	case fatfs.GetSectorSize:
		reply.Value = uint32(binary.LittleEndian.Uint16(buf[:]))
	case fatfs.GetSectorCount, fatfs.GetBlockSize:
		reply.Value = binary.LittleEndian.Uint32(buf[:])
	}

	if wantsJSON(req) {
		sendJSONReply(reply, http.StatusOK, w)
	} else {
		sendReply([]byte(strconv.FormatUint(uint64(reply.Value), 10)), http.StatusOK, w)
	}
}

func getSector(w http.ResponseWriter, req *http.Request) (uint32, bool) {
	lba, err := strconv.ParseUint(mux.Vars(req)["lba"], 10, 32)
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return 0, false
	}
	return uint32(lba), true
}

func (a *api) read(w http.ResponseWriter, req *http.Request) {

	drive, ok := getDrive(w, req)
	if !ok {
		return
	}
	sector, ok := getSector(w, req)
	if !ok {
		return
	}
	count, err := getIntArg(req, "count", 1)
	if handleError(err, http.StatusUnprocessableEntity, w) {
		return
	}
	if count < 0 || count > maxSectorCount {
		handleError(fmt.Errorf("invalid sector count: %d", count),
			http.StatusUnprocessableEntity, w)
		return
	}

	buf := make([]byte, count*fatfs.SectorSize)
	if handleResult(a.disk.Read(drive, buf, sector, uint32(count)), w) {
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

func (a *api) write(w http.ResponseWriter, req *http.Request) {

	drive, ok := getDrive(w, req)
	if !ok {
		return
	}
	sector, ok := getSector(w, req)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, maxSectorCount*fatfs.SectorSize+1))
	if handleError(err, http.StatusInternalServerError, w) {
		return
	}
	if len(data)%fatfs.SectorSize != 0 || len(data) > maxSectorCount*fatfs.SectorSize {
		handleError(fmt.Errorf("body must be a whole number of sectors, up to %d",
			maxSectorCount), http.StatusUnprocessableEntity, w)
		return
	}

	count := uint32(len(data) / fatfs.SectorSize)
	if handleResult(a.disk.Write(drive, data, sector, count), w) {
		return
	}

	sendReply([]byte(fmt.Sprintf("wrote %d sectors to drive %s at %d", count, drive, sector)),
		http.StatusOK, w)
}
