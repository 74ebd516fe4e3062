package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/MoriEdan/libvtsoffscreen/asset"
	"github.com/MoriEdan/libvtsoffscreen/optics"
	"github.com/MoriEdan/libvtsoffscreen/snapper"
	"github.com/MoriEdan/libvtsoffscreen/types"
)

// Camera intrinsics. Either the focal lengths or a horizontal field of view
// (degrees) must be set. A zero principal point selects the image center.
type CameraSpec struct {
	Fx  float64 `yaml:"fx,omitempty" json:"fx,omitempty"`
	Fy  float64 `yaml:"fy,omitempty" json:"fy,omitempty"`
	Cx  float64 `yaml:"cx,omitempty" json:"cx,omitempty"`
	Cy  float64 `yaml:"cy,omitempty" json:"cy,omitempty"`
	Fov float64 `yaml:"fov,omitempty" json:"fov,omitempty"`
}

// Camera position in the first custom frame and orientation in degrees.
type PositionSpec struct {
	XYZ   [3]float64 `yaml:"xyz" json:"xyz"`
	Yaw   float64    `yaml:"yaw,omitempty" json:"yaw,omitempty"`
	Pitch float64    `yaml:"pitch,omitempty" json:"pitch,omitempty"`
	Roll  float64    `yaml:"roll,omitempty" json:"roll,omitempty"`
}

type ViewportSpec struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// A serialized view.
type ViewSpec struct {
	// Output name used by batch captures.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	Camera    CameraSpec   `yaml:"camera" json:"camera"`
	Position  PositionSpec `yaml:"position" json:"position"`
	Viewport  ViewportSpec `yaml:"viewport" json:"viewport"`
	Keypoints [][2]float64 `yaml:"keypoints,omitempty" json:"keypoints,omitempty"`
}

// Convert the spec into a capture view.
func (s ViewSpec) ToView() (snapper.View, error) {
	vp := optics.Viewport{Width: s.Viewport.Width, Height: s.Viewport.Height}
	if !vp.Valid() {
		return snapper.View{}, fmt.Errorf("viewport %s: %w", vp, snapper.ErrInvalidViewport)
	}

	cam := optics.Parameters{Fx: s.Camera.Fx, Fy: s.Camera.Fy, Cx: s.Camera.Cx, Cy: s.Camera.Cy}
	if cam.Fx == 0 {
		if s.Camera.Fov <= 0 || s.Camera.Fov >= 180 {
			return snapper.View{}, fmt.Errorf("camera: either fx or a fov in (0, 180) is required")
		}
		fromFov := optics.ParametersFromFOV(s.Camera.Fov, vp)
		cam.Fx = fromFov.Fx
	}
	if cam.Fy == 0 {
		cam.Fy = cam.Fx
	}
	if cam.Fx < 0 || cam.Fy < 0 {
		return snapper.View{}, fmt.Errorf("camera: focal lengths must be positive")
	}
	if cam.Cx == 0 && cam.Cy == 0 {
		cam.Cx = float64(vp.Width) / 2
		cam.Cy = float64(vp.Height) / 2
	}

	view := snapper.View{
		Camera: cam,
		Position: optics.Position{
			Position: types.Vec3(s.Position.XYZ),
			Orientation: optics.Orientation{
				Yaw:   s.Position.Yaw,
				Pitch: s.Position.Pitch,
				Roll:  s.Position.Roll,
			},
		},
		Viewport: vp,
	}
	for _, kp := range s.Keypoints {
		view.Keypoints = append(view.Keypoints, types.Vec2(kp))
	}
	return view, nil
}

// Load a list of views. Relative locations are resolved against relTo when
// it is not nil.
func LoadViews(ctx context.Context, location string, relTo *asset.Resource) ([]ViewSpec, error) {
	data, _, err := asset.ReadAll(ctx, location, relTo)
	if err != nil {
		return nil, err
	}
	views, err := ParseViews(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", location, err)
	}
	return views, nil
}

// Parse a list of views and validate each of them. Views without a name are
// named after their position in the list.
func ParseViews(r io.Reader) ([]ViewSpec, error) {
	var views []ViewSpec
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&views); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}

	seen := make(map[string]int, len(views))
	for index := range views {
		if views[index].Name == "" {
			views[index].Name = fmt.Sprintf("view-%03d", index)
		}
		if prev, exists := seen[views[index].Name]; exists {
			return nil, fmt.Errorf("views[%d]: name %q already used by views[%d]", index, views[index].Name, prev)
		}
		seen[views[index].Name] = index

		if _, err := views[index].ToView(); err != nil {
			return nil, fmt.Errorf("views[%d] (%s): %w", index, views[index].Name, err)
		}
	}
	return views, nil
}
