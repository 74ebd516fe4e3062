// Package gfx defines the graphics-context collaborator used by snapshot
// sessions: device enumeration, offscreen context creation, completion
// fences and render target readback.
//
// A Context is bound to the OS thread that created it. Callers must create,
// use and close a context from a single goroutine that has called
// runtime.LockOSThread.
package gfx

import (
	"errors"
	"time"
)

var (
	ErrEnumerationUnsupported = errors.New("gfx: device enumeration not supported")
	ErrNoMatchingConfig       = errors.New("gfx: no matching surface configuration")
	ErrUnknownFunction        = errors.New("gfx: unknown function")
	ErrUnknownTarget          = errors.New("gfx: unknown render target")
)

type SurfaceType uint8

// Supported drawing surface types.
const (
	PbufferSurface SurfaceType = iota
	WindowSurface
)

// Surface and pixel configuration requested when opening a context.
type ContextAttributes struct {
	RedSize     int
	GreenSize   int
	BlueSize    int
	AlphaSize   int
	DepthSize   int
	StencilSize int

	Surface SurfaceType

	// Dimensions of the drawing surface.
	Width  int
	Height int
}

// Attributes for an offscreen capture context: 8-bit color channels, 24-bit
// depth, no alpha and no stencil on a 1x1 pbuffer that is never used for
// output.
func OffscreenAttributes() ContextAttributes {
	return ContextAttributes{
		RedSize:     8,
		GreenSize:   8,
		BlueSize:    8,
		AlphaSize:   0,
		DepthSize:   24,
		StencilSize: 0,
		Surface:     PbufferSurface,
		Width:       1,
		Height:      1,
	}
}

// Driver identification strings.
type Info struct {
	Vendor   string
	Renderer string
	Version  string
}

type PixelFormat uint8

// Supported readback formats. All formats use 1 byte per channel.
const (
	RGB PixelFormat = iota
	BGR
)

// A pixel rectangle with its origin at the bottom-left corner of the render
// target.
type Rect struct {
	X, Y          int
	Width, Height int
}

// A GPU completion fence.
type Fence interface {
	// Block for at most timeout waiting for the fence to signal. Returns
	// false if the timeout expired before the fence signaled.
	ClientWait(timeout time.Duration) (bool, error)

	// Release the fence.
	Delete()
}

// Resolves graphics API entry points by name.
type ProcLoader func(name string) (uintptr, error)

// An offscreen graphics context bound to a single device.
type Context interface {
	// The device this context was opened on; nil for the default display.
	Device() *Device

	// Make the context current on the calling thread. The caller must be the
	// locked thread that owns the context.
	MakeCurrent() error

	// Driver identification strings.
	Info() Info

	// Resolve a graphics API function.
	ProcAddress(name string) (uintptr, error)

	// Insert a fence into the command stream.
	FenceSync() (Fence, error)

	// Block until all submitted commands complete.
	Finish()

	// Read a rectangle of the given render target into dst using a pack
	// alignment of 1. Rows are returned bottom-up. Target 0 is the context's
	// drawing surface.
	ReadPixels(target uint32, rect Rect, format PixelFormat, dst []byte) error

	// Release the context and its drawing surface.
	Close() error
}

// Contexts that let software renderers allocate internal render targets and
// upload RGB rows (bottom-up) into them.
type Framebuffers interface {
	CreateTarget(width, height int) (uint32, error)
	WriteTarget(target uint32, width, height int, rgb []byte) error
	DeleteTarget(target uint32)
}

// The graphics platform opens contexts on devices. A nil device selects the
// process default display.
type Platform interface {
	OpenContext(dev *Device, attrs ContextAttributes) (Context, error)
}

// Implemented by platforms that can enumerate their devices.
type DeviceEnumerator interface {
	QueryDevices() (DeviceList, error)
}

// Enumerate the devices exposed by a platform. Returns
// ErrEnumerationUnsupported if the platform lacks the capability.
func QueryDevices(p Platform) (DeviceList, error) {
	en, ok := p.(DeviceEnumerator)
	if !ok {
		return nil, ErrEnumerationUnsupported
	}
	return en.QueryDevices()
}
