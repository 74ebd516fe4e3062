package cmd

import (
	"github.com/urfave/cli"

	"github.com/MoriEdan/libvtsoffscreen/log"
)

var logger = log.New("libvtsoffscreen")

func setupLogging(ctx *cli.Context) {
	log.SetLevel(log.LevelFromVerbosity(ctx.GlobalBool("v"), ctx.GlobalBool("vv")))
}
