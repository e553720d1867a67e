//go:build readonly

package fatfs

const ReadOnly = true

// Write never reaches a backend in a read-only build. Arguments are checked
// as in a writable build, so only a well-formed request on a known drive
// reports ResultWriteProtected.
func (d *Disk) Write(drive Drive, buff []byte, sector uint32, count uint32) Result {
	if _, res := d.prepare(drive, buff, count); res != ResultOK {
		return res
	}
	return ResultWriteProtected
}
