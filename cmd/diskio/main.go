package main

import (
	"os"

	"github.com/OffBroadway/diskio/pkg/run"
)

// DiskIOVersion is set at build time.
var DiskIOVersion string

func main() {
	run.DieOnError(run.Execute(DiskIOVersion, os.Args[1:]))
}
