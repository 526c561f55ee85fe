package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/akamensky/argparse"
	log "github.com/sirupsen/logrus"

	"go_adb_bridge/constants"
	"go_adb_bridge/filesync"
	"go_adb_bridge/session"
	"go_adb_bridge/signer"
	"go_adb_bridge/transport"
)

func main() {
	args := argparse.NewParser("adb", "Daemonless ADB client. Each invocation opens one connection, "+
		"runs one operation and tears the connection down.")

	serial := args.String("s", "serial", &argparse.Options{Required: true,
		Help: "Device address, host[:port] (default port " + strconv.Itoa(constants.DEFAULT_TCP_PORT) + ")"})
	key := args.String("k", "key", &argparse.Options{Default: signer.DefaultKeyPath(),
		Help: "RSA private key path"})
	timeout := args.Int("t", "timeout", &argparse.Options{Default: 10,
		Help: "Per-operation timeout in seconds"})
	authWait := args.Int("w", "auth-wait", &argparse.Options{Default: 30,
		Help: "Seconds to wait for on-device key approval"})
	verbose := args.Flag("v", "verbose", &argparse.Options{Help: "Log protocol traffic"})

	devices := args.NewCommand("devices", "Probe the device and print its state")

	shell := args.NewCommand("shell", "Run a shell command")
	shellCmd := shell.String("c", "command", &argparse.Options{Required: true, Help: "Command to run"})

	push := args.NewCommand("push", "Copy a local file to the device")
	pushLocal := push.String("l", "local", &argparse.Options{Required: true, Help: "Local file"})
	pushRemote := push.String("r", "remote", &argparse.Options{Required: true, Help: "Remote path"})

	pull := args.NewCommand("pull", "Copy a device file to the local machine")
	pullRemote := pull.String("r", "remote", &argparse.Options{Required: true, Help: "Remote path"})
	pullLocal := pull.String("l", "local", &argparse.Options{Help: "Local path (defaults to the remote base name)"})

	stat := args.NewCommand("stat", "Print mode, size and mtime of a remote path")
	statPath := stat.String("r", "remote", &argparse.Options{Required: true, Help: "Remote path"})

	list := args.NewCommand("ls", "List a remote directory")
	listPath := list.String("r", "remote", &argparse.Options{Required: true, Help: "Remote directory"})

	install := args.NewCommand("install", "Push an apk and install it")
	apk := install.String("f", "apk", &argparse.Options{Required: true, Help: "Local apk file"})

	reboot := args.NewCommand("reboot", "Reboot the device")
	rebootTarget := reboot.String("b", "target", &argparse.Options{Help: "Target: bootloader or recovery"})

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

	addr := *serial
	if !strings.Contains(addr, ":") {
		addr = addr + ":" + strconv.Itoa(constants.DEFAULT_TCP_PORT)
	}

	tr, err := transport.DialTCP(addr, constants.DEFAULT_DSCP)
	if err != nil {
		fail(err)
	}

	opts := session.Options{
		Identity:    hostname(),
		Features:    []string{constants.SyncLZ4Feature},
		Timeout:     time.Duration(*timeout) * time.Second,
		AuthTimeout: time.Duration(*authWait) * time.Second,
	}
	if pair, kerr := signer.LoadKeyPair(*key); kerr == nil {
		opts.Signers = []signer.Signer{pair}
	} else {
		log.WithError(kerr).Warn("no usable key, connecting unauthenticated")
	}

	sess, err := session.Connect(tr, opts)
	if err != nil {
		fail(err)
	}
	defer sess.Close()

	switch {
	case devices.Happened():
		banner := sess.DeviceBanner()
		fmt.Printf("%s\t%s\n", addr, banner.System)

	case shell.Happened():
		err := sess.StreamingShell(*shellCmd, func(chunk []byte) error {
			_, werr := os.Stdout.Write(chunk)
			return werr
		})
		if err != nil {
			fail(err)
		}

	case push.Happened():
		if err := runPush(sess, *pushLocal, *pushRemote); err != nil {
			fail(err)
		}

	case pull.Happened():
		local := *pullLocal
		if local == "" {
			local = filepath.Base(*pullRemote)
		}
		if err := runPull(sess, *pullRemote, local); err != nil {
			fail(err)
		}

	case stat.Happened():
		fs, err := syncClient(sess)
		if err != nil {
			fail(err)
		}
		defer fs.Close()
		info, err := fs.Stat(*statPath)
		if err != nil {
			fail(err)
		}
		fmt.Printf("%o\t%d\t%s\t%s\n", info.Mode, info.Size, info.MTime.Format(time.RFC3339), *statPath)

	case list.Happened():
		fs, err := syncClient(sess)
		if err != nil {
			fail(err)
		}
		defer fs.Close()
		err = fs.Walk(*listPath, func(e filesync.DirEntry) error {
			fmt.Printf("%o\t%d\t%s\t%s\n", e.Mode, e.Size, e.MTime.Format(time.RFC3339), e.Name)
			return nil
		})
		if err != nil {
			fail(err)
		}

	case install.Happened():
		remote := "/data/local/tmp/" + filepath.Base(*apk)
		if err := runPush(sess, *apk, remote); err != nil {
			fail(err)
		}
		out, err := sess.Shell("pm install -r \"" + remote + "\"")
		fmt.Print(out)
		if err != nil {
			fail(err)
		}

	case reboot.Happened():
		if err := sess.Reboot(*rebootTarget); err != nil {
			fail(err)
		}

	default:
		fmt.Print(args.Usage(nil))
		os.Exit(1)
	}
}

func runPush(sess *session.Session, local, remote string) error {
	file, err := os.Open(local)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	fs, err := syncClient(sess)
	if err != nil {
		return err
	}
	defer fs.Close()

	return fs.Push(file, remote, uint32(info.Mode().Perm()), info.ModTime())
}

func runPull(sess *session.Session, remote, local string) error {
	fs, err := syncClient(sess)
	if err != nil {
		return err
	}
	defer fs.Close()

	file, err := os.Create(local)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := fs.Pull(remote, file); err != nil {
		// Partial pulls are not worth keeping around.
		os.Remove(local)
		return err
	}
	return nil
}

func syncClient(sess *session.Session) (*filesync.Client, error) {
	return filesync.Open(sess)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
