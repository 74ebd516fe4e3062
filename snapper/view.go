package snapper

import (
	"fmt"

	"github.com/MoriEdan/libvtsoffscreen/optics"
	"github.com/MoriEdan/libvtsoffscreen/types"
)

const (
	// Client identifier reported to the map data servers.
	DefaultClientID = "vadstena-simulator"

	// Memory budget for resources loaded by a session's map.
	DefaultTargetResourcesMemory int64 = 1500000000
)

// Session configuration. It is copied into every session of a pool.
type Config struct {
	// Location of the map configuration.
	MapConfigURL string

	// Authentication endpoint. Optional.
	AuthURL string

	// Definitions of the two custom reference frames. Camera positions and
	// keypoint world coordinates are expressed in the first one.
	CustomSrs1 string
	CustomSrs2 string

	ClientID              string
	TargetResourcesMemory int64
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.TargetResourcesMemory <= 0 {
		c.TargetResourcesMemory = DefaultTargetResourcesMemory
	}
	return c
}

// Validate returns an error naming the first missing required field.
func (c Config) Validate() error {
	switch {
	case c.MapConfigURL == "":
		return fmt.Errorf("%w: MapConfigURL must not be empty", ErrInvalidConfig)
	case c.CustomSrs1 == "":
		return fmt.Errorf("%w: CustomSrs1 must not be empty", ErrInvalidConfig)
	}
	return nil
}

// A capture request: where the camera is, how it projects and which image
// points should be back-projected into the world.
type View struct {
	Camera   optics.Parameters
	Position optics.Position
	Viewport optics.Viewport

	// Image coordinates (pixels, top-left origin) to back-project.
	Keypoints []types.Vec2
}
