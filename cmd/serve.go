package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/MoriEdan/libvtsoffscreen/server"
	"github.com/MoriEdan/libvtsoffscreen/snapper"
)

// Serve snapshot requests over HTTP until interrupted.
func Serve(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if listen := ctx.String("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	opts, release, err := snapperOptions(cfg)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	pool, err := snapper.Start(cfg.SnapperConfig(), opts)
	if err != nil {
		return err
	}
	defer pool.Stop()
	logger.Noticef("started %d worker(s) in %s", pool.Workers(), time.Since(start))

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = server.New(cfg.Server, pool).Start(sigCtx)
	if errors.Is(err, context.Canceled) {
		displayPoolStats(pool.Stats(), time.Since(start))
		return nil
	}
	return err
}
