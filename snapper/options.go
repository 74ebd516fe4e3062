package snapper

import (
	"fmt"
	"time"

	"github.com/MoriEdan/libvtsoffscreen/engine"
	"github.com/MoriEdan/libvtsoffscreen/gfx"
)

const (
	DefaultFenceTimeout = 500 * time.Millisecond
	DefaultTickInterval = 20 * time.Microsecond
)

// Collaborators and tuning knobs shared by all sessions.
type Options struct {
	// Graphics platform used to open contexts.
	Platform gfx.Platform

	// Engine used to create maps and renderers.
	Engine engine.Factory

	// Explicit device list. When nil, devices are enumerated from the
	// platform. A nil entry selects the default display.
	Devices gfx.DeviceList

	// Devices whose name contains any of these values are skipped.
	Blacklist []string

	// Upper bound for a session's wait for the map configuration. Zero
	// waits forever.
	BootstrapTimeout time.Duration

	// Timeout of a single fence poll.
	FenceTimeout time.Duration

	// Pause between engine ticks while waiting for readiness.
	TickInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.FenceTimeout <= 0 {
		o.FenceTimeout = DefaultFenceTimeout
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	return o
}

func (o Options) validate() error {
	if o.Platform == nil {
		return fmt.Errorf("%w: no graphics platform", ErrInvalidOptions)
	}
	if o.Engine == nil {
		return fmt.Errorf("%w: no engine", ErrInvalidOptions)
	}
	return nil
}
