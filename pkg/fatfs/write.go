//go:build !readonly

package fatfs

import (
	log "github.com/sirupsen/logrus"
)

// ReadOnly is true in builds tagged readonly.
const ReadOnly = false

// Write writes count sectors from buff starting at sector.
func (d *Disk) Write(drive Drive, buff []byte, sector uint32, count uint32) Result {
	s, res := d.prepare(drive, buff, count)
	if res != ResultOK {
		return res
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buff = buff[:int(count)*SectorSize]
	err := d.retry.do(drive, "write", s, func() error {
		return s.dev.WriteSectors(buff, sector, count)
	})
	if err != nil {
		return ResultError
	}
	log.WithFields(log.Fields{"drive": drive, "sector": sector, "count": count}).Trace("write")
	return ResultOK
}
