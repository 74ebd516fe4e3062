package snapper

import (
	"image"
	"image/color"

	"github.com/MoriEdan/libvtsoffscreen/optics"
	"github.com/MoriEdan/libvtsoffscreen/types"
)

// Color used for pixels that received no rendered content, in BGR order.
var SentinelBGR = [3]byte{0, 0, 255}

// An 8-bit, 3 channel image with BGR pixels stored row-major, top row first.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// Create a new image filled with the sentinel color.
func NewImage(width, height int) Image {
	img := Image{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*3),
	}
	for i := 0; i < len(img.Pix); i += 3 {
		copy(img.Pix[i:i+3], SentinelBGR[:])
	}
	return img
}

// Offset of the first byte of the pixel at (x, y).
func (img Image) PixOffset(x, y int) int {
	return (y*img.Width + x) * 3
}

// Implements image.Image.
func (img Image) ColorModel() color.Model {
	return color.RGBAModel
}

// Implements image.Image.
func (img Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, img.Width, img.Height)
}

// Implements image.Image.
func (img Image) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= img.Width || y >= img.Height {
		return color.RGBA{}
	}
	i := img.PixOffset(x, y)
	return color.RGBA{R: img.Pix[i+2], G: img.Pix[i+1], B: img.Pix[i], A: 255}
}

// Reverse the row order in place.
func (img Image) FlipVertical() {
	rowBytes := img.Width * 3
	tmp := make([]byte, rowBytes)
	for top, bottom := 0, img.Height-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := img.Pix[top*rowBytes : (top+1)*rowBytes]
		b := img.Pix[bottom*rowBytes : (bottom+1)*rowBytes]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}

// A back-projected keypoint.
type Point struct {
	// Image coordinate as requested.
	Image types.Vec2

	// World position in the first custom reference frame.
	World types.Vec3
}

// The result of a capture.
type Snapshot struct {
	Image     Image
	Keypoints []Point
}

// Create a new snapshot whose image matches the viewport.
func NewSnapshot(vp optics.Viewport) *Snapshot {
	return &Snapshot{
		Image: NewImage(vp.Width, vp.Height),
	}
}
