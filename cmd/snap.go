package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli"

	"github.com/MoriEdan/libvtsoffscreen/config"
	"github.com/MoriEdan/libvtsoffscreen/gfx"
	"github.com/MoriEdan/libvtsoffscreen/snapper"
)

// Capture a single view.
func Snap(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return errors.New("missing views file argument")
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	views, err := config.LoadViews(context.Background(), ctx.Args().First(), nil)
	if err != nil {
		return err
	}
	spec, err := pickView(views, ctx.String("view"))
	if err != nil {
		return err
	}
	view, err := spec.ToView()
	if err != nil {
		return err
	}

	opts, release, err := snapperOptions(cfg)
	if err != nil {
		return err
	}
	defer release()

	dev, err := pickDevice(opts.Platform, ctx.Int("device"))
	if err != nil {
		return err
	}

	start := time.Now()
	s, err := snapper.New(cfg.SnapperConfig(), dev, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	logger.Noticef("session bootstrapped in %s", time.Since(start))

	snapCtx := context.Background()
	if timeout := ctx.Duration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		snapCtx, cancel = context.WithTimeout(snapCtx, timeout)
		defer cancel()
	}

	snap, err := s.Snap(snapCtx, view)
	if err != nil {
		return err
	}

	out := ctx.String("out")
	if err = writeSnapshot(out, snap); err != nil {
		return err
	}

	stat := s.Stats()
	logger.Noticef("captured view %q (%s) into %s in %s; %d of %d keypoints resolved",
		spec.Name, view.Viewport, out, stat.LastSnapTime, len(snap.Keypoints), len(view.Keypoints))
	return nil
}

func pickView(views []config.ViewSpec, name string) (config.ViewSpec, error) {
	if len(views) == 0 {
		return config.ViewSpec{}, errors.New("views file does not define any views")
	}
	if name == "" {
		return views[0], nil
	}
	for _, v := range views {
		if v.Name == name {
			return v, nil
		}
	}
	return config.ViewSpec{}, fmt.Errorf("unknown view %q", name)
}

// Select a device by index; a negative index selects the default display.
func pickDevice(platform gfx.Platform, index int) (*gfx.Device, error) {
	if index < 0 {
		return nil, nil
	}
	devices, err := gfx.QueryDevices(platform)
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Index == index {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no device with index %d", index)
}
