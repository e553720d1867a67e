package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/OffBroadway/diskio/pkg/fatfs"
	"github.com/OffBroadway/diskio/pkg/flash"
	"github.com/OffBroadway/diskio/pkg/sdcard"
	"github.com/OffBroadway/diskio/pkg/volume"
)

func main() {
	media := afero.NewMemMapFs()
	if err := sdcard.CreateImage(media, "/card.img", 64<<20); err != nil {
		panic(err)
	}

	chip, err := flash.NewMemSim(flash.W25Q128)
	if err != nil {
		panic(err)
	}
	defer chip.Close()

	disk := fatfs.NewDisk()
	disk.Register(fatfs.DriveSD, sdcard.New(media, "/card.img"))
	disk.Register(fatfs.DriveFlash, flash.NewDisk(flash.NewDevice(chip), 0))

	for _, d := range disk.Drives() {
		if st := disk.Initialize(d); st != fatfs.StatusOK {
			fmt.Fprintf(os.Stderr, "drive %s: %s\n", d, st)
			os.Exit(1)
		}
		geo, _ := disk.Geometry(d)
		fmt.Printf("DRIVE %d (%s): %d sectors, block size %d\n", d, d, geo.SectorCount, geo.BlockSize)
	}

	raw, err := fatfs.OpenRawDrive(disk, fatfs.DriveSD)
	if err != nil {
		panic(err)
	}

	vol, err := volume.Format(raw, volume.Options{Label: "CARD"})
	if err != nil {
		panic(err)
	}

	if err := vol.WriteFile("/hello.txt", []byte("Hello.... World?\n")); err != nil {
		panic(err)
	}

	files, err := vol.List("/")
	if err != nil {
		panic(err)
	}
	for _, f := range files {
		fmt.Println("FILE:", f.Name())
	}

	data, err := vol.ReadFile("/hello.txt")
	if err != nil {
		panic(err)
	}
	fmt.Print("DATA: ", string(data))

	if err := vol.Close(); err != nil {
		panic(err)
	}

	// the flash drive takes raw sectors too
	block := make([]byte, 8*fatfs.SectorSize)
	copy(block, data)
	if res := disk.Write(fatfs.DriveFlash, block, 0, 8); res != fatfs.ResultOK {
		panic(res)
	}
	programs, erases := chip.Stats()
	fmt.Printf("flash: %d page programs, %d sector erases\n", programs, erases)
	fmt.Println("Done!")
}
