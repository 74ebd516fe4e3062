// Package engine defines the tick-driven map/rendering engine collaborator.
//
// The engine streams its resources asynchronously and makes progress only
// when ticked. A Map and its Renderer are bound to the graphics context that
// was current when they were created and must only be used from that
// context's thread.
package engine

import (
	"fmt"

	"github.com/MoriEdan/libvtsoffscreen/gfx"
	"github.com/MoriEdan/libvtsoffscreen/types"
)

// Spatial reference systems known to the engine.
type Srs uint8

const (
	SrsPhysical Srs = iota
	SrsNavigation
	SrsPublic
	SrsSearch
	SrsCustom1
	SrsCustom2
)

func (s Srs) String() string {
	switch s {
	case SrsPhysical:
		return "physical"
	case SrsNavigation:
		return "navigation"
	case SrsPublic:
		return "public"
	case SrsSearch:
		return "search"
	case SrsCustom1:
		return "custom1"
	case SrsCustom2:
		return "custom2"
	}
	return fmt.Sprintf("srs(%d)", uint8(s))
}

type TraverseMode uint8

// Tile traversal strategies.
const (
	TraverseHierarchical TraverseMode = iota
	TraverseFlat
	TraverseBalanced
)

// Options used when creating a map instance.
type MapCreateOptions struct {
	ClientID   string
	CustomSrs1 string
	CustomSrs2 string
}

// Runtime map options.
type MapOptions struct {
	// Maximum number of resources processed per data tick. Zero or a
	// negative value means unlimited.
	MaxResourceProcessesPerTick int

	// Delay (in seconds) before the first retry of a failed fetch.
	FetchFirstRetryTimeOffset int

	TraverseMode TraverseMode

	// Memory budget for loaded resources in bytes.
	TargetResourcesMemory int64

	// Treat fetched resources as never expiring.
	PinFetchedResources bool
}

// Temporary substitutes for the engine's default camera computations. A nil
// hook leaves the corresponding computation untouched.
type CameraHooks struct {
	// Override the view matrix.
	View func(mat *types.Mat4)

	// Observe or adjust the field of view, aspect ratio and clip planes
	// chosen by the engine.
	FovAspectNearFar func(fov, aspect, near, far *float64)

	// Override the projection matrix. Invoked after FovAspectNearFar.
	Proj func(mat *types.Mat4)
}

// Map callbacks.
type Callbacks struct {
	// Invoked once when the map configuration has been loaded.
	MapConfigReady func()

	CameraHooks
}

// A map instance.
type Map interface {
	Options() *MapOptions
	Callbacks() *Callbacks

	DataInitialize() error
	RenderInitialize() error
	DataFinalize()
	RenderFinalize()

	SetMapConfigPath(mapConfigURL, authURL string)

	// The three tick phases.
	DataTick()
	RenderTickPrepare()
	RenderTickRender()

	// True when all resources required by the current frame are loaded.
	MapRenderComplete() bool

	SetWindowSize(width, height int)

	// Convert a point between reference systems.
	Convert(p types.Vec3, from, to Srs) (types.Vec3, error)
}

// Per-frame renderer options.
type RendererOptions struct {
	Width  int
	Height int

	RenderAtmosphere bool

	// When true, color output goes to the default framebuffer instead of the
	// renderer's internal render target.
	ColorToTargetFrameBuffer bool
}

// A map renderer.
type Renderer interface {
	// Let the map load GPU resources through this renderer.
	BindLoadFunctions(m Map)

	// Resolve the graphics functions the renderer needs.
	LoadFunctions(load gfx.ProcLoader) error

	Initialize() error
	Finalize()

	Options() *RendererOptions

	Render(m Map) error

	// The internal render target that receives the color output.
	RenderTarget() uint32

	// World position (physical frame) under a screen coordinate of the last
	// rendered frame. Components are NaN when no geometry was hit.
	WorldPosition(screen types.Vec2) types.Vec3
}

// Creates engine instances.
type Factory interface {
	NewMap(opts MapCreateOptions) (Map, error)
	NewRenderer(ctx gfx.Context) (Renderer, error)
}

// Run one iteration of the engine's three-phase tick.
func Tick(m Map) {
	m.DataTick()
	m.RenderTickPrepare()
	m.RenderTickRender()
}
