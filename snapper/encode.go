package snapper

import (
	"fmt"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"

	"github.com/MoriEdan/libvtsoffscreen/types"
)

type Format uint8

// Supported image encodings.
const (
	PNG Format = iota
	TIFF
	BMP
)

func (f Format) String() string {
	switch f {
	case PNG:
		return "png"
	case TIFF:
		return "tiff"
	case BMP:
		return "bmp"
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// Detect the image format from a file extension.
func FormatFromExt(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return PNG, nil
	case ".tif", ".tiff":
		return TIFF, nil
	case ".bmp":
		return BMP, nil
	}
	return 0, fmt.Errorf("snapper: unsupported image extension %q", filepath.Ext(path))
}

// Encode the image.
func (img Image) Encode(w io.Writer, f Format) error {
	switch f {
	case PNG:
		return png.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case BMP:
		return bmp.Encode(w, img)
	}
	return fmt.Errorf("snapper: unsupported image format %s", f)
}

type keypointDoc struct {
	Image [2]float64 `yaml:"image"`
	World [3]float64 `yaml:"world"`
}

// Write keypoints as a YAML list.
func WriteKeypoints(w io.Writer, points []Point) error {
	docs := make([]keypointDoc, len(points))
	for index, p := range points {
		docs[index] = keypointDoc{Image: p.Image, World: p.World}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(docs); err != nil {
		return err
	}
	return enc.Close()
}

// Read keypoints written by WriteKeypoints.
func ReadKeypoints(r io.Reader) ([]Point, error) {
	var docs []keypointDoc
	if err := yaml.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("snapper: could not decode keypoints: %w", err)
	}

	points := make([]Point, len(docs))
	for index, doc := range docs {
		points[index] = Point{Image: types.Vec2(doc.Image), World: types.Vec3(doc.World)}
	}
	return points, nil
}
