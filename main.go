package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/urfave/cli"

	"github.com/MoriEdan/libvtsoffscreen/cmd"
	"github.com/MoriEdan/libvtsoffscreen/gfx/mainthread"
)

// GLFW calls are only valid on the main thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "libvtsoffscreen"
	app.Usage = "capture offscreen map snapshots"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "service configuration file or http(s) URL",
			EnvVar: "LIBVTSOFFSCREEN_CONFIG",
		},
		cli.StringFlag{
			Name:  "backend",
			Usage: "graphics backend; overrides pool.backend",
		},
		cli.StringSliceFlag{
			Name:  "blacklist, b",
			Value: &cli.StringSlice{},
			Usage: "blacklist devices whose names contain this value",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "list-devices",
			Usage:  "list the devices of the graphics backend",
			Action: cmd.ListDevices,
		},
		{
			Name:  "snap",
			Usage: "capture a single view",
			Description: `
Bootstrap a single session, capture one view of the views file and write the
image and, when the view lists keypoints, a keypoint file next to it.`,
			ArgsUsage: "views.yaml",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "view",
					Usage: "name of the view to capture; defaults to the first one",
				},
				cli.IntFlag{
					Name:  "device",
					Value: -1,
					Usage: "device index; a negative value selects the default display",
				},
				cli.DurationFlag{
					Name:  "timeout",
					Value: time.Minute,
					Usage: "capture timeout",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "snapshot.png",
					Usage: "image filename; the extension selects png, tiff or bmp",
				},
			},
			Action: cmd.Snap,
		},
		{
			Name:  "batch",
			Usage: "capture all views of a views file",
			Description: `
Start one worker per usable device and capture every view of the views file.
Each view is written to <out-dir>/<name>.<format>.`,
			ArgsUsage: "views.yaml",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "out-dir, o",
					Value: ".",
					Usage: "output directory",
				},
				cli.StringFlag{
					Name:  "format, f",
					Value: "png",
					Usage: "image format (png, tiff or bmp)",
				},
				cli.IntFlag{
					Name:  "concurrency",
					Usage: "maximum number of outstanding captures; defaults to twice the worker count",
				},
			},
			Action: cmd.Batch,
		},
		{
			Name:  "serve",
			Usage: "serve snapshots over HTTP",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "listen, l",
					Usage: "listen address; overrides server.listen",
				},
			},
			Action: cmd.Serve,
		},
	}

	err := mainthread.Run(func() error {
		return app.Run(os.Args)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
