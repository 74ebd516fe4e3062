package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/MoriEdan/libvtsoffscreen/config"
	"github.com/MoriEdan/libvtsoffscreen/snapper"
)

// Capture every view of a views file through a worker pool.
func Batch(ctx *cli.Context) error {
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
	format := ctx.String("format")
	if _, err = snapper.FormatFromExt("." + format); err != nil {
		return err
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

	inFlight := ctx.Int("concurrency")
	if inFlight <= 0 {
		inFlight = 2 * pool.Workers()
	}

	start = time.Now()
	err = captureAll(context.Background(), pool, views, ctx.String("out-dir"), format, inFlight)
	displayPoolStats(pool.Stats(), time.Since(start))
	return err
}

type capturer interface {
	Capture(ctx context.Context, view snapper.View) (*snapper.Snapshot, error)
}

// Capture views with at most inFlight outstanding requests. The first failure
// cancels the remaining captures.
func captureAll(ctx context.Context, c capturer, views []config.ViewSpec, outDir, format string, inFlight int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inFlight)

	for _, spec := range views {
		spec := spec
		g.Go(func() error {
			view, err := spec.ToView()
			if err != nil {
				return fmt.Errorf("view %q: %w", spec.Name, err)
			}
			snap, err := c.Capture(gctx, view)
			if err != nil {
				return fmt.Errorf("view %q: %w", spec.Name, err)
			}
			out := filepath.Join(outDir, spec.Name+"."+format)
			if err = writeSnapshot(out, snap); err != nil {
				return fmt.Errorf("view %q: %w", spec.Name, err)
			}
			logger.Infof("captured view %q into %s", spec.Name, out)
			return nil
		})
	}
	return g.Wait()
}
