package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/urfave/cli"

	"github.com/MoriEdan/libvtsoffscreen/config"
	"github.com/MoriEdan/libvtsoffscreen/engine/sim"
	"github.com/MoriEdan/libvtsoffscreen/gfx"
	"github.com/MoriEdan/libvtsoffscreen/gfx/headless"
	"github.com/MoriEdan/libvtsoffscreen/snapper"
)

// Opens a graphics platform. The returned release func is called once all
// contexts are closed.
type backendFactory func(cfg *config.Config) (gfx.Platform, func(), error)

var backends = map[string]backendFactory{
	"headless": func(cfg *config.Config) (gfx.Platform, func(), error) {
		return headless.NewPlatform(headless.Options{Devices: cfg.Pool.Devices}), func() {}, nil
	},
}

func registerBackend(name string, factory backendFactory) {
	backends[name] = factory
}

func backendNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load the service config and apply command line overrides.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	location := ctx.GlobalString("config")
	if location == "" {
		return nil, fmt.Errorf("missing --config argument")
	}
	cfg, err := config.Load(context.Background(), location)
	if err != nil {
		return nil, err
	}
	if backend := ctx.GlobalString("backend"); backend != "" {
		cfg.Pool.Backend = backend
	}
	if blacklist := ctx.GlobalStringSlice("blacklist"); len(blacklist) != 0 {
		cfg.Pool.Blacklist = append(cfg.Pool.Blacklist, blacklist...)
	}
	return cfg, nil
}

func openPlatform(cfg *config.Config) (gfx.Platform, func(), error) {
	factory, ok := backends[cfg.Pool.Backend]
	if !ok {
		return nil, nil, fmt.Errorf("unknown backend %q; available backends: %v", cfg.Pool.Backend, backendNames())
	}
	return factory(cfg)
}

// Build pool options for the configured backend and the software engine.
func snapperOptions(cfg *config.Config) (snapper.Options, func(), error) {
	platform, release, err := openPlatform(cfg)
	if err != nil {
		return snapper.Options{}, nil, err
	}

	opts := cfg.SnapperOptions()
	opts.Platform = platform
	opts.Engine = sim.NewFactory(sim.Options{
		Custom1Origin: cfg.Sim.Origin1(),
		Custom2Origin: cfg.Sim.Origin2(),
		TileSize:      cfg.Sim.TileSize,
	})
	return opts, release, nil
}
