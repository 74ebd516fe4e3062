package optics

import (
	"errors"
	"math"
	"testing"

	"github.com/MoriEdan/libvtsoffscreen/types"
)

func project(t *testing.T, p Parameters, vp Viewport, pos Position, world types.Vec3) types.Vec2 {
	t.Helper()
	proj := ProjectionMatrix(p, vp, 1, 10000)
	clip := proj.Mul4(ViewMatrix(pos)).Mul4x1(world.Vec4(1))
	ndc := clip.Project()
	return types.XY(
		(ndc[0]+1)/2*float64(vp.Width),
		(1-ndc[1])/2*float64(vp.Height),
	)
}

func TestPrincipalPointProjection(t *testing.T) {
	type spec struct {
		params Parameters
		vp     Viewport
	}
	specs := []spec{
		{Parameters{Fx: 100, Fy: 100, Cx: 32, Cy: 24}, Viewport{64, 48}},
		{Parameters{Fx: 250, Fy: 200, Cx: 10, Cy: 40}, Viewport{64, 48}},
	}

	pos := Position{Position: types.XYZ(5, 7, 300)}
	for index, s := range specs {
		got := project(t, s.params, s.vp, pos, types.XYZ(5, 7, 0))
		if math.Abs(got[0]-s.params.Cx) > 1e-6 || math.Abs(got[1]-s.params.Cy) > 1e-6 {
			t.Fatalf("[spec %d] expected nadir point to project to principal point (%v, %v); got %v", index, s.params.Cx, s.params.Cy, got)
		}
	}
}

func TestProjectionImageAxes(t *testing.T) {
	vp := Viewport{64, 48}
	params := ParametersFromFOV(90, vp)
	pos := Position{Position: types.XYZ(0, 0, 100)}

	// Camera looks down with +Y up in the image, so a point north of the
	// camera appears above the image center and a point to the east appears
	// to the right.
	north := project(t, params, vp, pos, types.XYZ(0, 10, 0))
	if north[1] >= params.Cy {
		t.Fatalf("expected northern point above image center; got %v", north)
	}
	east := project(t, params, vp, pos, types.XYZ(10, 0, 0))
	if east[0] <= params.Cx {
		t.Fatalf("expected eastern point right of image center; got %v", east)
	}
}

func TestPitchedCameraLooksNorth(t *testing.T) {
	pos := Position{Orientation: Orientation{Pitch: 90}}
	view := ViewMatrix(pos)
	camSpace := view.Mul4x1(types.XYZW(0, 50, 0, 1)).Vec3()
	if math.Abs(camSpace[0]) > 1e-9 || math.Abs(camSpace[1]) > 1e-9 || math.Abs(camSpace[2]+50) > 1e-9 {
		t.Fatalf("expected point north of camera on the -Z view axis; got %v", camSpace)
	}
}

func TestPositionTransform(t *testing.T) {
	pos := Position{Position: types.XYZ(1, 2, 3), Orientation: Orientation{Yaw: 10}}
	out, err := pos.Transform(func(v types.Vec3) (types.Vec3, error) {
		return v.Add(types.XYZ(100, 0, 0)), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Position != types.XYZ(101, 2, 3) || out.Orientation != pos.Orientation {
		t.Fatalf("unexpected transformed position %v", out)
	}

	expErr := errors.New("boom")
	if _, err = pos.Transform(func(types.Vec3) (types.Vec3, error) { return types.Vec3{}, expErr }); err != expErr {
		t.Fatalf("expected conversion error to propagate; got %v", err)
	}
}

func TestViewportValid(t *testing.T) {
	specs := map[Viewport]bool{
		{1, 1}:   true,
		{0, 10}:  false,
		{10, -1}: false,
	}
	for vp, exp := range specs {
		if vp.Valid() != exp {
			t.Fatalf("expected viewport %s validity to be %t", vp, exp)
		}
	}
}
