package sim

import (
	"fmt"
	"math"

	"github.com/MoriEdan/libvtsoffscreen/engine"
	"github.com/MoriEdan/libvtsoffscreen/gfx"
	"github.com/MoriEdan/libvtsoffscreen/types"
)

var (
	skyColor   = [3]byte{135, 206, 235}
	tileColors = [2][3]byte{{96, 128, 56}, {164, 148, 110}}
)

// A ray-casting renderer for the simulated terrain.
type Renderer struct {
	opts    Options
	fb      gfx.Framebuffers
	options engine.RendererOptions

	boundMap engine.Map
	loaded   bool
	ready    bool
	target   uint32

	// Inverse view-projection of the last rendered frame.
	invViewProj types.Mat4
	frameWidth  int
	frameHeight int
	rendered    bool

	pix []byte
}

func (r *Renderer) trace(event string) {
	if r.opts.Trace != nil {
		r.opts.Trace(event)
	}
}

func (r *Renderer) BindLoadFunctions(m engine.Map) {
	r.boundMap = m
}

func (r *Renderer) LoadFunctions(load gfx.ProcLoader) error {
	for _, name := range r.opts.RequiredFunctions {
		if _, err := load(name); err != nil {
			return fmt.Errorf("sim: could not load function %s: %w", name, err)
		}
	}
	r.loaded = true
	return nil
}

func (r *Renderer) Initialize() error {
	r.trace("renderer.Initialize")
	if !r.loaded {
		return fmt.Errorf("sim: graphics functions not loaded: %w", ErrNotInitialized)
	}
	if r.opts.FailInitialize != nil {
		return r.opts.FailInitialize
	}

	target, err := r.fb.CreateTarget(1, 1)
	if err != nil {
		return err
	}
	r.target = target
	r.ready = true
	return nil
}

func (r *Renderer) Finalize() {
	r.trace("renderer.Finalize")
	if r.ready {
		r.fb.DeleteTarget(r.target)
	}
	r.ready = false
	r.rendered = false
}

func (r *Renderer) Options() *engine.RendererOptions {
	return &r.options
}

func (r *Renderer) RenderTarget() uint32 {
	return r.target
}

func (r *Renderer) Render(em engine.Map) error {
	if !r.ready {
		return ErrNotInitialized
	}
	if r.opts.FailRender != nil {
		return r.opts.FailRender
	}
	m, ok := em.(*Map)
	if !ok {
		return ErrForeignMap
	}
	if !m.camValid {
		return ErrCameraNotDefined
	}

	width, height := r.options.Width, r.options.Height
	if width <= 0 || height <= 0 {
		width, height = m.width, m.height
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("sim: invalid frame size %dx%d", width, height)
	}

	r.invViewProj = m.proj.Mul4(m.view).Inv()
	r.frameWidth, r.frameHeight = width, height

	if need := width * height * 3; cap(r.pix) < need {
		r.pix = make([]byte, need)
	} else {
		r.pix = r.pix[:need]
	}

	for y := 0; y < height; y++ {
		// Storage rows are bottom-up.
		row := r.pix[(height-1-y)*width*3 : (height-y)*width*3]
		for x := 0; x < width; x++ {
			hit, dist, ok := r.cast(float64(x)+0.5, float64(y)+0.5)
			color := skyColor
			if ok {
				color = r.shade(hit, dist)
			}
			copy(row[x*3:x*3+3], color[:])
		}
	}

	target := r.target
	if r.options.ColorToTargetFrameBuffer {
		target = 0
	}
	if err := r.fb.WriteTarget(target, width, height, r.pix); err != nil {
		return err
	}
	r.rendered = true
	return nil
}

func (r *Renderer) WorldPosition(screen types.Vec2) types.Vec3 {
	if !r.rendered {
		return types.NaN3()
	}
	hit, _, ok := r.cast(screen[0], screen[1])
	if !ok {
		return types.NaN3()
	}
	return hit
}

// Intersect the ray under a screen coordinate (top-left origin) with the
// terrain plane. Hits beyond the far clip plane are misses.
func (r *Renderer) cast(sx, sy float64) (types.Vec3, float64, bool) {
	w, h := float64(r.frameWidth), float64(r.frameHeight)
	ndcX := 2*sx/w - 1
	ndcY := 1 - 2*sy/h

	near := r.invViewProj.Mul4x1(types.XYZW(ndcX, ndcY, -1, 1)).Project()
	far := r.invViewProj.Mul4x1(types.XYZW(ndcX, ndcY, 1, 1)).Project()
	if near.HasNaN() || far.HasNaN() {
		return types.Vec3{}, 0, false
	}

	dir := far.Sub(near)
	if math.Abs(dir[2]) < 1e-12 {
		return types.Vec3{}, 0, false
	}
	t := -near[2] / dir[2]
	if t < 0 || t > 1 {
		return types.Vec3{}, 0, false
	}

	hit := near.Add(dir.Mul(t))
	hit[2] = 0
	return hit, dir.Len() * t, true
}

func (r *Renderer) shade(hit types.Vec3, dist float64) [3]byte {
	tx := int64(math.Floor(hit[0] / r.opts.TileSize))
	ty := int64(math.Floor(hit[1] / r.opts.TileSize))
	color := tileColors[(tx+ty)&1]
	if !r.options.RenderAtmosphere {
		return color
	}

	// Exponential haze towards the sky color.
	haze := 1 - math.Exp(-dist/20000)
	for i := range color {
		color[i] = byte(float64(color[i])*(1-haze) + float64(skyColor[i])*haze)
	}
	return color
}
