package run

import (
	"fmt"
	"path"
	"path/filepath"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/OffBroadway/diskio/pkg/board"
	"github.com/OffBroadway/diskio/pkg/fatfs"
	"github.com/OffBroadway/diskio/pkg/volume"
)

func newMkfs() *Command {
	c := NewCommand("mkfs <drive>", "create a FAT32 filesystem on a drive",
		`Use the mkfs command for formatting a drive. Everything on the drive is lost.`,
		"", "", cobra.ExactArgs(1), nil)

	var opts volume.Options
	c.cmd.Flags().StringVarP(&opts.Label, "label", "l", "DISKIO", "volume label")
	c.cmd.Flags().BoolVarP(&opts.Partitioned, "partition", "p", false,
		"write a partition table instead of using the whole drive")

	c.cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runMkfs(cmd, args[0], opts)
	}
	return c
}

func runMkfs(cmd *cobra.Command, arg string, opts volume.Options) error {

	drive, err := fatfs.ParseDrive(arg)
	if err != nil {
		return err
	}

	b, raw, err := openRaw(drive)
	if err != nil {
		return err
	}
	defer b.Close()

	vol, err := volume.Format(raw, opts)
	if err != nil {
		return err
	}
	if err := vol.Close(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "formatted drive %s, %d bytes\n", drive, raw.Size())
	return nil
}

func newList() *Command {
	return NewCommand("ls <drive> [path]", "list a directory on a drive",
		"", "", "", cobra.RangeArgs(1, 2), runList)
}

func runList(cmd *cobra.Command, args []string) error {

	dir := "/"
	if len(args) > 1 {
		dir = args[1]
	}

	return withVolume(args[0], func(vol *volume.Volume) error {
		infos, err := vol.List(dir)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, fi := range infos {
			if fi.IsDir() {
				fmt.Fprintf(w, "%s/\t<DIR>\n", fi.Name())
			} else {
				fmt.Fprintf(w, "%s\t%d\n", fi.Name(), fi.Size())
			}
		}
		return w.Flush()
	})
}

func newPut() *Command {
	return NewCommand("put <drive> <local file> [path]", "copy a file onto a drive",
		`Use the put command for copying a local file onto the filesystem of a drive.
Without a target path, the file goes into the root directory under its own name.`,
		"", "", cobra.RangeArgs(2, 3), runPut)
}

func runPut(cmd *cobra.Command, args []string) error {

	data, err := afero.ReadFile(hostFs, args[1])
	if err != nil {
		return err
	}

	target := "/" + filepath.Base(args[1])
	if len(args) > 2 {
		target = args[2]
	}

	return withVolume(args[0], func(vol *volume.Volume) error {
		if err := vol.WriteFile(target, data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes\n", target, len(data))
		return nil
	})
}

func newGet() *Command {
	return NewCommand("get <drive> <path> [local file]", "copy a file from a drive",
		`Use the get command for copying a file from the filesystem of a drive. Without
a local file name, the file is stored in the working directory under its own
name.`,
		"", "", cobra.RangeArgs(2, 3), runGet)
}

func runGet(cmd *cobra.Command, args []string) error {

	local := path.Base(args[1])
	if len(args) > 2 {
		local = args[2]
	}

	return withVolume(args[0], func(vol *volume.Volume) error {
		data, err := vol.ReadFile(args[1])
		if err != nil {
			return err
		}
		if err := afero.WriteFile(hostFs, local, data, 0644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes\n", local, len(data))
		return nil
	})
}

func openRaw(drive fatfs.Drive) (*board.Board, *fatfs.RawDrive, error) {
	b, err := openBoard()
	if err != nil {
		return nil, nil, err
	}
	raw, err := fatfs.OpenRawDrive(b.Disk, drive)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return b, raw, nil
}

// withVolume mounts the filesystem on the drive named by arg, and hands it to
// fn. The volume is closed afterwards, flushing the drive.
func withVolume(arg string, fn func(*volume.Volume) error) error {

	drive, err := fatfs.ParseDrive(arg)
	if err != nil {
		return err
	}

	b, raw, err := openRaw(drive)
	if err != nil {
		return err
	}
	defer b.Close()

	vol, err := volume.Open(raw)
	if err != nil {
		return err
	}

	err = fn(vol)
	if cerr := vol.Close(); cerr != nil {
		log.WithField("drive", drive).Errorf("closing volume: %v", cerr)
		if err == nil {
			err = cerr
		}
	}
	return err
}
