package control

import (
	"fmt"
	"strings"

	"github.com/OffBroadway/diskio/pkg/fatfs"
)

// DriveStatus is what the API reports about a drive.
type DriveStatus struct {
	Drive       fatfs.Drive `json:"drive"`
	Name        string      `json:"name"`
	Status      string      `json:"status"`
	Ready       bool        `json:"ready"`
	SectorSize  uint16      `json:"sectorSize,omitempty"`
	SectorCount uint32      `json:"sectorCount,omitempty"`
	BlockSize   uint32      `json:"blockSize,omitempty"`
}

func (s *DriveStatus) String() string {
	if !s.Ready {
		return fmt.Sprintf("  %d   %-6s %s, not initialized", s.Drive, s.Name, s.Status)
	}
	return fmt.Sprintf("  %d   %-6s %s, %d sectors of %d bytes, block size %d",
		s.Drive, s.Name, s.Status, s.SectorCount, s.SectorSize, s.BlockSize)
}

// Status lists all registered drives.
type Status struct {
	ReadOnly bool           `json:"readOnly"`
	Drives   []*DriveStatus `json:"drives"`
}

func (s *Status) String() string {
	var b strings.Builder
	b.WriteString("\nDRIVE NAME   STATE")
	for _, d := range s.Drives {
		b.WriteString("\n")
		b.WriteString(d.String())
	}
	if s.ReadOnly {
		b.WriteString("\n\nread-only build")
	}
	return b.String()
}

// IoctlReply carries the value of a geometry query.
type IoctlReply struct {
	Command string `json:"command"`
	Value   uint32 `json:"value"`
}
