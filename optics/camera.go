// Package optics describes the pinhole camera used for snapshots and
// converts it into the OpenGL view and projection matrices consumed by the
// engine's camera override hooks.
package optics

import (
	"fmt"
	"math"

	"github.com/MoriEdan/libvtsoffscreen/types"
)

// Intrinsic camera parameters. Focal lengths and principal point are
// expressed in pixels with the image origin at the top-left corner.
type Parameters struct {
	Fx float64
	Fy float64
	Cx float64
	Cy float64
}

// Create parameters for a centered principal point and a horizontal field
// of view (in degrees).
func ParametersFromFOV(fovDeg float64, vp Viewport) Parameters {
	f := float64(vp.Width) / 2 / math.Tan(fovDeg*math.Pi/360)
	return Parameters{
		Fx: f,
		Fy: f,
		Cx: float64(vp.Width) / 2,
		Cy: float64(vp.Height) / 2,
	}
}

func (p Parameters) String() string {
	return fmt.Sprintf("f=(%.2f, %.2f) c=(%.2f, %.2f)", p.Fx, p.Fy, p.Cx, p.Cy)
}

// Camera orientation as yaw (around the world up axis), pitch (around the
// camera's right axis) and roll (around the viewing axis), in degrees.
//
// With all angles set to zero the camera looks straight down the world -Z
// axis with its up vector pointing towards +Y.
type Orientation struct {
	Yaw   float64
	Pitch float64
	Roll  float64
}

// Rotation returns the camera-to-world rotation.
func (o Orientation) Rotation() types.Quat {
	deg := math.Pi / 180
	yaw := types.QuatFromAxisAngle(types.XYZ(0, 0, 1), o.Yaw*deg)
	pitch := types.QuatFromAxisAngle(types.XYZ(1, 0, 0), o.Pitch*deg)
	roll := types.QuatFromAxisAngle(types.XYZ(0, 0, 1), o.Roll*deg)
	return yaw.Mul(pitch).Mul(roll).Normalize()
}

// Extrinsic camera parameters.
type Position struct {
	Position    types.Vec3
	Orientation Orientation
}

// Transform the camera position into another reference frame. The
// orientation is kept as-is.
func (p Position) Transform(convert func(types.Vec3) (types.Vec3, error)) (Position, error) {
	out, err := convert(p.Position)
	if err != nil {
		return Position{}, err
	}
	return Position{Position: out, Orientation: p.Orientation}, nil
}

func (p Position) String() string {
	return fmt.Sprintf(
		"(%.3f, %.3f, %.3f) yaw=%.2f pitch=%.2f roll=%.2f",
		p.Position[0], p.Position[1], p.Position[2],
		p.Orientation.Yaw, p.Orientation.Pitch, p.Orientation.Roll,
	)
}

// Output image dimensions in pixels.
type Viewport struct {
	Width  int
	Height int
}

// Returns true if both dimensions are positive.
func (vp Viewport) Valid() bool {
	return vp.Width > 0 && vp.Height > 0
}

func (vp Viewport) String() string {
	return fmt.Sprintf("%dx%d", vp.Width, vp.Height)
}

// Build the world-to-camera (view) matrix for the given camera position.
func ViewMatrix(pos Position) types.Mat4 {
	invRot := pos.Orientation.Rotation().Conjugate().Mat4()
	return invRot.Mul4(types.Translate4(pos.Position.Mul(-1)))
}

// Build an OpenGL projection matrix from pinhole intrinsics. Pixel (0, 0)
// is the top-left image corner while NDC y points up, hence the sign flip
// on the vertical principal point offset.
func ProjectionMatrix(p Parameters, vp Viewport, near, far float64) types.Mat4 {
	w := float64(vp.Width)
	h := float64(vp.Height)

	var m types.Mat4
	m[0] = 2 * p.Fx / w
	m[5] = 2 * p.Fy / h
	m[8] = 1 - 2*p.Cx/w
	m[9] = 2*p.Cy/h - 1
	m[10] = -(far + near) / (far - near)
	m[11] = -1
	m[14] = -2 * far * near / (far - near)
	return m
}
