package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	log "github.com/sirupsen/logrus"

	"go_adb_bridge/constants"
	"go_adb_bridge/fbwire"
	"go_adb_bridge/transport"
)

func main() {
	args := argparse.NewParser("fastboot", "Bootloader client speaking the fastboot protocol.")

	serial := args.String("s", "serial", &argparse.Options{Required: true,
		Help: "Device address, host:port"})
	chunk := args.Int("c", "chunk", &argparse.Options{Default: constants.FASTBOOT_CHUNK / 1024,
		Help: "Download chunk size in KB (older devices need 4)"})
	verbose := args.Flag("v", "verbose", &argparse.Options{Help: "Log protocol traffic"})

	getvar := args.NewCommand("getvar", "Read a bootloader variable")
	varName := getvar.String("n", "name", &argparse.Options{Required: true, Help: "Variable name, or all"})

	flash := args.NewCommand("flash", "Download an image and flash it to a partition")
	flashPart := flash.String("p", "partition", &argparse.Options{Required: true, Help: "Partition name"})
	flashImage := flash.String("f", "file", &argparse.Options{Required: true, Help: "Image file"})

	erase := args.NewCommand("erase", "Erase a partition")
	erasePart := erase.String("p", "partition", &argparse.Options{Required: true, Help: "Partition name"})

	download := args.NewCommand("download", "Stage a file in the device buffer")
	downloadFile := download.String("f", "file", &argparse.Options{Required: true, Help: "File to stage"})

	oem := args.NewCommand("oem", "Run a vendor command")
	oemCmd := oem.String("c", "command", &argparse.Options{Required: true, Help: "Vendor command"})

	reboot := args.NewCommand("reboot", "Reboot the device")
	rebootTarget := reboot.String("b", "target", &argparse.Options{Help: "Target: bootloader"})

	cont := args.NewCommand("continue", "Boot past fastboot into the system")

	err := args.Parse(os.Args)
	if err != nil {
		fmt.Print(args.Usage(err))
		os.Exit(1)
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}

	tr, err := transport.DialTCP(*serial, constants.DEFAULT_DSCP)
	if err != nil {
		fail(err)
	}
	defer tr.Close()

	client := fbwire.New(tr)
	client.SetChunkSize(*chunk * 1024)
	client.Info = func(msg string) {
		fmt.Println("(bootloader)", msg)
	}

	switch {
	case getvar.Happened():
		value, err := client.Getvar(*varName)
		if err != nil {
			fail(err)
		}
		fmt.Printf("%s: %s\n", *varName, value)

	case flash.Happened():
		if err := stageAndRun(client, *flashImage, func(size int64, f *os.File) error {
			_, err := client.FlashFile(*flashPart, f, size)
			return err
		}); err != nil {
			fail(err)
		}
		fmt.Println("Finished flashing", *flashPart)

	case erase.Happened():
		if _, err := client.Erase(*erasePart); err != nil {
			fail(err)
		}
		fmt.Println("Erased", *erasePart)

	case download.Happened():
		if err := stageAndRun(client, *downloadFile, func(size int64, f *os.File) error {
			_, err := client.Download(f, size)
			return err
		}); err != nil {
			fail(err)
		}
		fmt.Println("Staged", *downloadFile)

	case oem.Happened():
		out, err := client.Oem(*oemCmd)
		if err != nil {
			fail(err)
		}
		fmt.Print(out)

	case reboot.Happened():
		if err := client.Reboot(*rebootTarget); err != nil {
			fail(err)
		}

	case cont.Happened():
		if err := client.Continue(); err != nil {
			fail(err)
		}

	default:
		fmt.Print(args.Usage(nil))
		os.Exit(1)
	}
}

func stageAndRun(client *fbwire.Client, path string, run func(int64, *os.File) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	return run(info.Size(), file)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
