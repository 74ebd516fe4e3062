package snapper

import (
	"math"

	"github.com/MoriEdan/libvtsoffscreen/engine"
	"github.com/MoriEdan/libvtsoffscreen/optics"
	"github.com/MoriEdan/libvtsoffscreen/types"
)

// Bounds applied to the clip planes chosen by the engine.
const (
	minNear = 10.0
	maxFar  = 100000.0
)

// Camera forced onto the engine while a snapshot is taken.
type cameraOverride struct {
	view     types.Mat4
	camera   optics.Parameters
	viewport optics.Viewport

	// Clip planes reported by the engine for the frame being prepared.
	near float64
	far  float64
}

// Clamp the engine's clip planes into [minNear, maxFar].
func clipRange(near, far float64) (float64, float64) {
	if math.IsNaN(near) || near < minNear || near >= maxFar {
		near = minNear
	}
	if math.IsNaN(far) || far > maxFar || far <= near {
		far = maxFar
	}
	return near, far
}

// Install the override hooks on the map. The returned func restores the
// callbacks that were set before the call.
func installHooks(m engine.Map, o *cameraOverride) (restore func()) {
	cb := m.Callbacks()
	saved := *cb

	cb.View = func(mat *types.Mat4) {
		*mat = o.view
	}
	cb.FovAspectNearFar = func(_, _, near, far *float64) {
		o.near, o.far = *near, *far
	}
	cb.Proj = func(mat *types.Mat4) {
		near, far := clipRange(o.near, o.far)
		*mat = optics.ProjectionMatrix(o.camera, o.viewport, near, far)
	}

	return func() {
		*cb = saved
	}
}
