// Package sim implements the engine collaborator in software. It models a
// flat terrain at z=0 in the physical frame whose tiles stream in over a few
// ticks, which is enough to exercise the readiness protocol of a snapshot
// session without a real map engine.
package sim

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/MoriEdan/libvtsoffscreen/engine"
	"github.com/MoriEdan/libvtsoffscreen/gfx"
	"github.com/MoriEdan/libvtsoffscreen/types"
)

var (
	ErrNotInitialized   = errors.New("sim: not initialized")
	ErrUndefinedSrs     = errors.New("sim: reference frame not defined")
	ErrUnsupportedSrs   = errors.New("sim: unsupported reference frame conversion")
	ErrForeignMap       = errors.New("sim: map was not created by the sim engine")
	ErrNoFramebuffers   = errors.New("sim: graphics context does not expose framebuffers")
	ErrCameraNotDefined = errors.New("sim: no camera defined")
)

// Engine options.
type Options struct {
	// Number of data ticks after SetMapConfigPath before the map
	// configuration becomes ready. Defaults to 3.
	ReadyAfterTicks int

	// Number of data ticks after a camera change before the frame is
	// reported as complete. Defaults to 2.
	StreamTicks int

	// Physical frame position of the origin of each custom frame.
	Custom1Origin types.Vec3
	Custom2Origin types.Vec3

	// Checkerboard tile size of the terrain albedo. Defaults to 50.
	TileSize float64

	// Functions the renderer resolves during LoadFunctions.
	RequiredFunctions []string

	// Failure injection.
	NeverReady           bool
	NeverComplete        bool
	FailDataInitialize   error
	FailRenderInitialize error
	FailInitialize       error
	FailRender           error

	// Optional lifecycle observer. It is called from the goroutine that
	// drives the engine.
	Trace func(event string)
}

var defaultRequiredFunctions = []string{
	"glBindFramebuffer",
	"glGenFramebuffers",
	"glReadPixels",
	"glTexImage2D",
	"glViewport",
}

// Creates sim maps and renderers.
type Factory struct {
	opts Options

	maps      atomic.Int32
	renderers atomic.Int32
}

// Create a new sim engine factory.
func NewFactory(opts Options) *Factory {
	if opts.ReadyAfterTicks <= 0 {
		opts.ReadyAfterTicks = 3
	}
	if opts.StreamTicks < 0 {
		opts.StreamTicks = 0
	} else if opts.StreamTicks == 0 {
		opts.StreamTicks = 2
	}
	if opts.TileSize <= 0 {
		opts.TileSize = 50
	}
	if opts.RequiredFunctions == nil {
		opts.RequiredFunctions = defaultRequiredFunctions
	}
	return &Factory{opts: opts}
}

// Number of maps created by this factory.
func (f *Factory) Maps() int {
	return int(f.maps.Load())
}

// Number of renderers created by this factory.
func (f *Factory) Renderers() int {
	return int(f.renderers.Load())
}

func (f *Factory) NewMap(opts engine.MapCreateOptions) (engine.Map, error) {
	f.maps.Add(1)
	return &Map{
		opts:   f.opts,
		create: opts,
	}, nil
}

func (f *Factory) NewRenderer(ctx gfx.Context) (engine.Renderer, error) {
	fb, ok := ctx.(gfx.Framebuffers)
	if !ok {
		return nil, ErrNoFramebuffers
	}
	f.renderers.Add(1)
	return &Renderer{
		opts: f.opts,
		fb:   fb,
	}, nil
}

// A simulated map instance.
type Map struct {
	opts   Options
	create engine.MapCreateOptions

	options   engine.MapOptions
	callbacks engine.Callbacks

	dataInit   bool
	renderInit bool

	mapConfigURL string
	authURL      string

	dataTicks   int
	configReady bool

	width  int
	height int

	// Camera used by the last prepared frame.
	view      types.Mat4
	proj      types.Mat4
	camValid  bool
	streamed  int
	lastNear  float64
	lastFar   float64
	prepCount int
}

func (m *Map) trace(event string) {
	if m.opts.Trace != nil {
		m.opts.Trace(event)
	}
}

func (m *Map) Options() *engine.MapOptions {
	return &m.options
}

func (m *Map) Callbacks() *engine.Callbacks {
	return &m.callbacks
}

// The map creation options.
func (m *Map) CreateOptions() engine.MapCreateOptions {
	return m.create
}

func (m *Map) DataInitialize() error {
	m.trace("map.DataInitialize")
	if m.opts.FailDataInitialize != nil {
		return m.opts.FailDataInitialize
	}
	m.dataInit = true
	return nil
}

func (m *Map) RenderInitialize() error {
	m.trace("map.RenderInitialize")
	if m.opts.FailRenderInitialize != nil {
		return m.opts.FailRenderInitialize
	}
	m.renderInit = true
	return nil
}

func (m *Map) DataFinalize() {
	m.trace("map.DataFinalize")
	m.dataInit = false
}

func (m *Map) RenderFinalize() {
	m.trace("map.RenderFinalize")
	m.renderInit = false
}

func (m *Map) SetMapConfigPath(mapConfigURL, authURL string) {
	m.mapConfigURL = mapConfigURL
	m.authURL = authURL
	m.dataTicks = 0
	m.configReady = false
}

func (m *Map) DataTick() {
	if !m.dataInit || m.mapConfigURL == "" {
		return
	}

	m.dataTicks++
	if !m.configReady {
		if m.opts.NeverReady || m.dataTicks < m.opts.ReadyAfterTicks {
			return
		}
		m.configReady = true
		if cb := m.callbacks.MapConfigReady; cb != nil {
			cb()
		}
		return
	}

	// Stream in resources for the current view.
	if m.camValid {
		m.streamed++
	}
}

func (m *Map) RenderTickPrepare() {
	if !m.renderInit || !m.configReady || m.width <= 0 || m.height <= 0 {
		return
	}

	view := types.Translate4(types.XYZ(0, 0, -1000))
	if hook := m.callbacks.View; hook != nil {
		hook(&view)
	}

	eye := view.Inv().Mul4x1(types.XYZW(0, 0, 0, 1)).Project()
	altitude := math.Max(math.Abs(eye[2]), 1)
	fov := 45.0
	aspect := float64(m.width) / float64(m.height)
	near := math.Max(altitude/10, 1)
	far := altitude * 100
	if hook := m.callbacks.FovAspectNearFar; hook != nil {
		hook(&fov, &aspect, &near, &far)
	}

	proj := perspective(fov, aspect, near, far)
	if hook := m.callbacks.Proj; hook != nil {
		hook(&proj)
	}

	if !m.camValid || view != m.view || proj != m.proj {
		m.streamed = 0
	}
	m.view, m.proj, m.camValid = view, proj, true
	m.lastNear, m.lastFar = near, far
	m.prepCount++
}

func (m *Map) RenderTickRender() {}

func (m *Map) MapRenderComplete() bool {
	return m.configReady && m.camValid && !m.opts.NeverComplete && m.streamed >= m.opts.StreamTicks
}

func (m *Map) SetWindowSize(width, height int) {
	if width != m.width || height != m.height {
		m.streamed = 0
	}
	m.width, m.height = width, height
}

// Number of prepared frames.
func (m *Map) PreparedFrames() int {
	return m.prepCount
}

// Clip planes chosen for the last prepared frame after hooks ran.
func (m *Map) ClipPlanes() (near, far float64) {
	return m.lastNear, m.lastFar
}

func (m *Map) Convert(p types.Vec3, from, to engine.Srs) (types.Vec3, error) {
	if from == to {
		return p, nil
	}

	phys, err := m.toPhysical(p, from)
	if err != nil {
		return types.Vec3{}, err
	}
	return m.fromPhysical(phys, to)
}

func (m *Map) origin(srs engine.Srs) (types.Vec3, error) {
	switch srs {
	case engine.SrsPhysical:
		return types.Vec3{}, nil
	case engine.SrsCustom1:
		if m.create.CustomSrs1 == "" {
			return types.Vec3{}, fmt.Errorf("%w: %s", ErrUndefinedSrs, srs)
		}
		return m.opts.Custom1Origin, nil
	case engine.SrsCustom2:
		if m.create.CustomSrs2 == "" {
			return types.Vec3{}, fmt.Errorf("%w: %s", ErrUndefinedSrs, srs)
		}
		return m.opts.Custom2Origin, nil
	}
	return types.Vec3{}, fmt.Errorf("%w: %s", ErrUnsupportedSrs, srs)
}

func (m *Map) toPhysical(p types.Vec3, from engine.Srs) (types.Vec3, error) {
	origin, err := m.origin(from)
	if err != nil {
		return types.Vec3{}, err
	}
	return p.Add(origin), nil
}

func (m *Map) fromPhysical(p types.Vec3, to engine.Srs) (types.Vec3, error) {
	origin, err := m.origin(to)
	if err != nil {
		return types.Vec3{}, err
	}
	return p.Sub(origin), nil
}

// Build an OpenGL perspective matrix from a vertical field of view in degrees.
func perspective(fovDeg, aspect, near, far float64) types.Mat4 {
	f := 1 / math.Tan(fovDeg*math.Pi/360)

	var m types.Mat4
	m[0] = f / aspect
	m[5] = f
	m[10] = (far + near) / (near - far)
	m[11] = -1
	m[14] = 2 * far * near / (near - far)
	return m
}
