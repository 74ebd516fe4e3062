package cmd

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/MoriEdan/libvtsoffscreen/config"
	"github.com/MoriEdan/libvtsoffscreen/gfx"
)

// List the devices exposed by the selected backend.
func ListDevices(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg := config.Defaults()
	if ctx.GlobalString("config") != "" {
		var err error
		if cfg, err = loadConfig(ctx); err != nil {
			return err
		}
	} else if backend := ctx.GlobalString("backend"); backend != "" {
		cfg.Pool.Backend = backend
	}

	platform, release, err := openPlatform(cfg)
	if err != nil {
		return err
	}
	defer release()

	devices, err := gfx.QueryDevices(platform)
	if errors.Is(err, gfx.ErrEnumerationUnsupported) {
		logger.Noticef("backend %q cannot enumerate devices; captures use the default display", cfg.Pool.Backend)
		return nil
	} else if err != nil {
		return err
	}

	blacklisted := make(map[*gfx.Device]bool)
	allowed := devices.Filter(cfg.Pool.Blacklist)
	for _, dev := range devices {
		blacklisted[dev] = true
	}
	for _, dev := range allowed {
		delete(blacklisted, dev)
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Index", "Name", "Blacklisted"})
	for _, dev := range devices {
		table.Append([]string{
			fmt.Sprintf("%d", dev.Index),
			dev.Name,
			fmt.Sprintf("%t", blacklisted[dev]),
		})
	}
	table.SetFooter([]string{"", "USABLE", fmt.Sprintf("%d", len(allowed))})
	table.Render()

	logger.Noticef("backend %q provides %d device(s)\n%s", cfg.Pool.Backend, len(devices), buf.String())
	return nil
}
