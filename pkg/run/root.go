package run

import (
	"fmt"
	"os"
	"strconv"

	cc "github.com/ivanpirog/coloredcobra"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/OffBroadway/diskio/pkg/fatfs"
)

const rootEpilogue = `- Logging can be configured with these environment variables:

  LOG_FORMAT		set to 'json' for JSON logging
  LOG_FORCE_COLORS	set to non-empty for forcing colorized log entries
  LOG_METHODS		set to non-empty for including methods in log
  LOG_LEVEL		panic, fatal, error, warn, info, debug, trace

` + settingsEpilogue

// NewRoot assembles the diskio command tree.
func NewRoot(version string) *Command {

	var configFile string

	root := NewCommand("diskio", "block I/O for the SD card and serial flash drives",
		`diskio gives access to drive 0, the SD card, and drive 1, the serial NOR flash,
through the disk I/O layer a FAT filesystem sits on. Drives are addressed by
number or by name, i.e. 0 or sd, and 1 or flash.`,
		"", rootEpilogue, cobra.NoArgs, nil)

	root.cmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		return Setup(configFile)
	}
	root.cmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file, defaults to diskio.{yaml,toml,json} in working directory")

	root.AddSetting("sd.image", "sd", "", "", "SD card device or image file", true)
	root.AddSetting("sd.create", "sd-create", "", int64(0),
		"create a blank SD image of this many MiB if missing", true)
	root.AddSetting("flash.transport", "flash", "", Default["flash.transport"],
		"flash transport: sim, serial, spi, or none", true)
	root.AddSetting("flash.image", "flash-image", "", Default["flash.image"],
		"image file backing the simulated flash chip", true)
	root.AddSetting("flash.chip", "flash-chip", "", Default["flash.chip"],
		"simulated chip, by name or JEDEC ID", true)
	root.AddSetting("flash.port", "flash-port", "", "",
		"serial port of the flash bridge", true)
	root.AddSetting("retry.attempts", "retries", "", Default["retry.attempts"],
		"attempts per sector transfer", true)
	root.AddSetting("log.level", "log-level", "", "", "log level", true)

	root.AddCommand(newServe())
	root.AddCommand(newInfo())
	root.AddCommand(newRead())
	root.AddCommand(newWrite())
	root.AddCommand(newMkfs())
	root.AddCommand(newList())
	root.AddCommand(newPut())
	root.AddCommand(newGet())
	root.AddCommand(newVersion(version))

	return root
}

// Execute runs the command line given by args. Help output is colored
// unless NO_COLOR is set.
func Execute(version string, args []string) error {
	root := NewRoot(version)
	if os.Getenv("NO_COLOR") == "" {
		cc.Init(&cc.Config{
			RootCmd:       root.cmd,
			Headings:      cc.HiCyan + cc.Bold + cc.Underline,
			Commands:      cc.HiYellow + cc.Bold,
			ExecName:      cc.Bold,
			Flags:         cc.Bold,
			FlagsDataType: cc.Italic + cc.HiBlue,
		})
	}
	return root.Execute(args)
}

func newVersion(version string) *Command {
	return NewCommand("version", "show version", "", "", "", cobra.NoArgs,
		func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "diskio %s\n", lo.Ternary(version != "", version, "dev"))
			return nil
		})
}

func parseDrives(args []string) ([]fatfs.Drive, error) {
	drives := make([]fatfs.Drive, 0, len(args))
	for _, a := range args {
		d, err := fatfs.ParseDrive(a)
		if err != nil {
			return nil, err
		}
		drives = append(drives, d)
	}
	return lo.Uniq(drives), nil
}

func parseSector(s string) (uint32, error) {
	lba, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid sector number: %s", s)
	}
	return uint32(lba), nil
}
