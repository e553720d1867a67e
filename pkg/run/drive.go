package run

import (
	"encoding/hex"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/OffBroadway/diskio/pkg/board"
	"github.com/OffBroadway/diskio/pkg/fatfs"
)

func newInfo() *Command {
	return NewCommand("info [drive...]", "initialize drives and show their geometry",
		`Use the info command for initializing the given drives, or all configured
drives if none are given, and showing status and geometry of each.`,
		"", "", cobra.ArbitraryArgs, runInfo)
}

func runInfo(cmd *cobra.Command, args []string) error {

	drives, err := parseDrives(args)
	if err != nil {
		return err
	}

	b, err := openBoard()
	if err != nil {
		return err
	}
	defer b.Close()

	if len(drives) == 0 {
		drives = b.Disk.Drives()
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DRIVE\tNAME\tSTATUS\tSECTOR SIZE\tSECTORS\tBLOCK SIZE\tBYTES")

	for _, d := range drives {
		st := b.Disk.Initialize(d)
		geo, res := b.Disk.Geometry(d)
		if res != fatfs.ResultOK {
			fmt.Fprintf(w, "%d\t%s\t%s\t-\t-\t-\t-\n", d, d, st)
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%d\n", d, d, st,
			geo.SectorSize, geo.SectorCount, geo.BlockSize, geo.Bytes())
	}

	return w.Flush()
}

func newRead() *Command {
	c := NewCommand("read <drive> <sector>", "read sectors from a drive",
		`Use the read command for reading raw sectors. Without an output file, a hex
dump is printed.`,
		"", "", cobra.ExactArgs(2), nil)

	var count uint32
	var out string
	c.cmd.Flags().Uint32VarP(&count, "count", "n", 1, "number of sectors")
	c.cmd.Flags().StringVarP(&out, "out", "o", "", "output file")

	c.cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runRead(cmd, args, count, out)
	}
	return c
}

func runRead(cmd *cobra.Command, args []string, count uint32, out string) error {

	drive, sector, err := driveAndSector(args)
	if err != nil {
		return err
	}

	b, err := readyBoard(drive)
	if err != nil {
		return err
	}
	defer b.Close()

	buf := make([]byte, int(count)*fatfs.SectorSize)
	if err := b.Disk.Read(drive, buf, sector, count).Err(); err != nil {
		return fmt.Errorf("reading drive %s at %d: %w", drive, sector, err)
	}

	if out != "" {
		return afero.WriteFile(hostFs, out, buf, 0644)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), hex.Dump(buf))
	return err
}

func newWrite() *Command {
	return NewCommand("write <drive> <sector> <file>", "write a file to drive sectors",
		`Use the write command for writing the contents of a file to consecutive
sectors, starting at the given one. The last sector is padded with zeros.`,
		"", "", cobra.ExactArgs(3), runWrite)
}

func runWrite(cmd *cobra.Command, args []string) error {

	drive, sector, err := driveAndSector(args)
	if err != nil {
		return err
	}

	data, err := afero.ReadFile(hostFs, args[2])
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("nothing to write, %s is empty", args[2])
	}
	if rem := len(data) % fatfs.SectorSize; rem != 0 {
		data = append(data, make([]byte, fatfs.SectorSize-rem)...)
	}

	b, err := readyBoard(drive)
	if err != nil {
		return err
	}
	defer b.Close()

	count := uint32(len(data) / fatfs.SectorSize)
	if err := b.Disk.Write(drive, data, sector, count).Err(); err != nil {
		return fmt.Errorf("writing drive %s at %d: %w", drive, sector, err)
	}
	if err := b.Disk.Ioctl(drive, fatfs.CtrlSync, nil).Err(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d sectors to drive %s at %d\n", count, drive, sector)
	return nil
}

func driveAndSector(args []string) (fatfs.Drive, uint32, error) {
	drive, err := fatfs.ParseDrive(args[0])
	if err != nil {
		return 0, 0, err
	}
	sector, err := parseSector(args[1])
	return drive, sector, err
}

// readyBoard opens the board and initializes drive.
func readyBoard(drive fatfs.Drive) (*board.Board, error) {
	b, err := openBoard()
	if err != nil {
		return nil, err
	}
	if st := b.Disk.Initialize(drive); st != fatfs.StatusOK {
		b.Close()
		return nil, fmt.Errorf("drive %s not ready: %s", drive, st)
	}
	return b, nil
}
