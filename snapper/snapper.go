// Package snapper captures offscreen snapshots of a map. Every snapshot is
// rendered by a session that owns a graphics context, a map and a renderer on
// a dedicated OS thread. A Pool runs one such session per device and lets any
// number of goroutines capture concurrently; a Snapper does the same on a
// single device.
package snapper

import (
	"context"

	"github.com/MoriEdan/libvtsoffscreen/gfx"
)

// A synchronous snapshot taker bound to a single device.
type Snapper struct {
	pool *Pool
}

// Create a new snapper on dev. A nil dev selects the default display. Any
// device list set in opts is ignored.
func New(cfg Config, dev *gfx.Device, opts Options) (*Snapper, error) {
	opts.Devices = gfx.DeviceList{dev}
	opts.Blacklist = nil

	pool, err := start(cfg, opts, "snapper")
	if err != nil {
		return nil, err
	}
	return &Snapper{pool: pool}, nil
}

// Capture a snapshot of the view.
func (s *Snapper) Snap(ctx context.Context, view View) (*Snapshot, error) {
	return s.pool.Capture(ctx, view)
}

// Per-request statistics.
func (s *Snapper) Stats() WorkerStat {
	return s.pool.Stats().Workers[0]
}

// Release the underlying session.
func (s *Snapper) Close() {
	s.pool.Stop()
}
