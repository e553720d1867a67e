package fatfs

import (
	"fmt"
	"strconv"
	"strings"
)

// Drive selects the backend handling a call.
type Drive uint8

const (
	DriveSD    Drive = 0
	DriveFlash Drive = 1
)

func (d Drive) String() string {
	switch d {
	case DriveSD:
		return "sd"
	case DriveFlash:
		return "flash"
	default:
		return fmt.Sprintf("drive%d", uint8(d))
	}
}

// ParseDrive accepts a drive name ("sd", "flash") or its number.
func ParseDrive(s string) (Drive, error) {
	switch strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), ":")) {
	case "sd":
		return DriveSD, nil
	case "flash":
		return DriveFlash, nil
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(s, ":"), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid drive: %q", s)
	}
	return Drive(n), nil
}

// Status is the DSTATUS bit set returned by Status and Initialize.
type Status uint8

const (
	StatusOK      Status = 0x00
	StatusNoInit  Status = 0x01 /* Drive not initialized */
	StatusNoDisk  Status = 0x02 /* No medium in the drive */
	StatusProtect Status = 0x04 /* Write protected */
)

func (s Status) String() string {
	if s == StatusOK {
		return "ready"
	}
	var flags []string
	if s&StatusNoInit != 0 {
		flags = append(flags, "not initialized")
	}
	if s&StatusNoDisk != 0 {
		flags = append(flags, "no disk")
	}
	if s&StatusProtect != 0 {
		flags = append(flags, "write protected")
	}
	if len(flags) == 0 {
		return fmt.Sprintf("status %#02x", uint8(s))
	}
	return strings.Join(flags, ", ")
}

// Result is the DRESULT returned by Read, Write and Ioctl.
type Result uint8

const (
	ResultOK             Result = 0 /* Successful */
	ResultError          Result = 1 /* R/W Error */
	ResultWriteProtected Result = 2 /* Write Protected */
	ResultNotReady       Result = 3 /* Not Ready */
	ResultParameterError Result = 4 /* Invalid Parameter */
)

func (r Result) Error() string {
	var msg string
	switch r {
	case ResultOK:
		msg = "(0) Succeeded"
	case ResultError:
		msg = "(1) A hard error occurred in the low level disk I/O layer"
	case ResultWriteProtected:
		msg = "(2) The physical drive is write protected"
	case ResultNotReady:
		msg = "(3) The physical drive cannot work"
	case ResultParameterError:
		msg = "(4) Given parameter is invalid"
	default:
		msg = fmt.Sprintf("(%d) unknown disk result", uint8(r))
	}
	return "diskio: " + msg
}

// Err returns nil for ResultOK and r otherwise.
func (r Result) Err() error {
	if r == ResultOK {
		return nil
	}
	return r
}

// Command is a disk_ioctl control code.
type Command uint8

const (
	CtrlSync       Command = 0 /* Complete pending write process */
	GetSectorCount Command = 1 /* Get media size */
	GetSectorSize  Command = 2 /* Get sector size */
	GetBlockSize   Command = 3 /* Get erase block size */
	CtrlTrim       Command = 4 /* Inform device that the data on the block of sectors is no longer used */
)

var commandNames = map[Command]string{
	CtrlSync:       "sync",
	GetSectorCount: "sector-count",
	GetSectorSize:  "sector-size",
	GetBlockSize:   "block-size",
	CtrlTrim:       "trim",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("ioctl%d", uint8(c))
}

// ParseCommand maps a command name as printed by String back to its code.
func ParseCommand(s string) (Command, error) {
	for c, n := range commandNames {
		if n == s {
			return c, nil
		}
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		return Command(n), nil
	}
	return 0, fmt.Errorf("unknown ioctl command: %q", s)
}

// width is the number of bytes the command writes into the caller's buffer:
// WORD for the sector size, DWORD for block size and sector count.
func (c Command) width() int {
	switch c {
	case GetSectorSize:
		return 2
	case GetSectorCount, GetBlockSize:
		return 4
	default:
		return 0
	}
}
