package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/MoriEdan/libvtsoffscreen/engine"
	"github.com/MoriEdan/libvtsoffscreen/gfx"
	"github.com/MoriEdan/libvtsoffscreen/gfx/headless"
	"github.com/MoriEdan/libvtsoffscreen/optics"
	"github.com/MoriEdan/libvtsoffscreen/types"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ctx      gfx.Context
	factory  *Factory
	m        *Map
	renderer *Renderer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	platform := headless.NewPlatform(headless.Options{})
	ctx, err := platform.OpenContext(nil, gfx.OffscreenAttributes())
	require.NoError(t, err)
	require.NoError(t, ctx.MakeCurrent())
	t.Cleanup(func() { ctx.Close() })

	factory := NewFactory(opts)
	m, err := factory.NewMap(engine.MapCreateOptions{CustomSrs1: "+proj=tmerc", CustomSrs2: "+proj=geocent"})
	require.NoError(t, err)
	r, err := factory.NewRenderer(ctx)
	require.NoError(t, err)

	r.BindLoadFunctions(m)
	require.NoError(t, r.LoadFunctions(ctx.ProcAddress))
	require.NoError(t, r.Initialize())
	require.NoError(t, m.DataInitialize())
	require.NoError(t, m.RenderInitialize())

	return &fixture{ctx: ctx, factory: factory, m: m.(*Map), renderer: r.(*Renderer)}
}

func (f *fixture) tickUntilComplete(t *testing.T, maxTicks int) int {
	t.Helper()
	for tick := 1; tick <= maxTicks; tick++ {
		engine.Tick(f.m)
		if f.m.MapRenderComplete() {
			return tick
		}
	}
	t.Fatalf("map not complete after %d ticks", maxTicks)
	return 0
}

func TestMapConfigReadiness(t *testing.T) {
	f := newFixture(t, Options{ReadyAfterTicks: 3})

	var readyCalls int
	f.m.Callbacks().MapConfigReady = func() { readyCalls++ }

	// Without a mapconfig path the map never becomes ready.
	for i := 0; i < 5; i++ {
		engine.Tick(f.m)
	}
	require.Zero(t, readyCalls)

	f.m.SetMapConfigPath("https://example.com/mapConfig.json", "")
	for i := 0; i < 2; i++ {
		engine.Tick(f.m)
	}
	require.Zero(t, readyCalls)
	engine.Tick(f.m)
	require.Equal(t, 1, readyCalls)

	for i := 0; i < 5; i++ {
		engine.Tick(f.m)
	}
	require.Equal(t, 1, readyCalls)
}

func TestNeverReady(t *testing.T) {
	f := newFixture(t, Options{NeverReady: true})
	f.m.SetMapConfigPath("mapConfig.json", "")
	f.m.SetWindowSize(4, 4)
	for i := 0; i < 20; i++ {
		engine.Tick(f.m)
	}
	require.False(t, f.m.MapRenderComplete())
	require.Zero(t, f.m.PreparedFrames())
}

func TestCameraChangeRestartsStreaming(t *testing.T) {
	f := newFixture(t, Options{ReadyAfterTicks: 1, StreamTicks: 2})
	f.m.SetMapConfigPath("mapConfig.json", "")
	f.m.SetWindowSize(4, 4)
	f.tickUntilComplete(t, 10)

	view := optics.ViewMatrix(optics.Position{Position: types.XYZ(10, 20, 500)})
	f.m.Callbacks().View = func(mat *types.Mat4) { *mat = view }

	engine.Tick(f.m)
	require.False(t, f.m.MapRenderComplete(), "a camera change must invalidate completeness")
	ticks := f.tickUntilComplete(t, 10)
	require.Equal(t, 2, ticks)
}

func TestHooksObserveAndOverride(t *testing.T) {
	f := newFixture(t, Options{ReadyAfterTicks: 1})
	f.m.SetMapConfigPath("mapConfig.json", "")
	f.m.SetWindowSize(8, 4)

	var (
		gotAspect float64
		projCalls int
	)
	f.m.Callbacks().FovAspectNearFar = func(fov, aspect, near, far *float64) {
		gotAspect = *aspect
		*near, *far = 5, 50
	}
	f.m.Callbacks().Proj = func(mat *types.Mat4) { projCalls++ }

	f.tickUntilComplete(t, 10)
	require.Equal(t, 2.0, gotAspect)
	require.NotZero(t, projCalls)

	near, far := f.m.ClipPlanes()
	require.Equal(t, 5.0, near)
	require.Equal(t, 50.0, far)
}

func TestRenderLookingDown(t *testing.T) {
	f := newFixture(t, Options{ReadyAfterTicks: 1})
	f.m.SetMapConfigPath("mapConfig.json", "")
	f.m.SetWindowSize(4, 4)
	f.renderer.Options().Width = 4
	f.renderer.Options().Height = 4
	f.tickUntilComplete(t, 10)

	require.NoError(t, f.renderer.Render(f.m))

	out := make([]byte, 4*4*3)
	require.NoError(t, f.ctx.ReadPixels(f.renderer.RenderTarget(), gfx.Rect{Width: 4, Height: 4}, gfx.RGB, out))
	for i := 0; i < len(out); i += 3 {
		require.NotEqual(t, skyColor[:], out[i:i+3], "pixel %d should show terrain", i/3)
	}

	center := f.renderer.WorldPosition(types.XY(2, 2))
	require.InDelta(t, 0, center[0], 1e-6)
	require.InDelta(t, 0, center[1], 1e-6)
	require.Equal(t, 0.0, center[2])

	// The default camera sits 1000 units above the origin with a 45 degree
	// field of view.
	halfExtent := 1000 * math.Tan(math.Pi/8)
	corner := f.renderer.WorldPosition(types.XY(0, 0))
	require.InDelta(t, -halfExtent, corner[0], 1e-6)
	require.InDelta(t, halfExtent, corner[1], 1e-6)
}

func TestRenderHorizon(t *testing.T) {
	f := newFixture(t, Options{ReadyAfterTicks: 1})
	f.m.SetMapConfigPath("mapConfig.json", "")
	f.m.SetWindowSize(4, 4)
	f.renderer.Options().Width = 4
	f.renderer.Options().Height = 4

	// Look north, parallel to the ground.
	view := optics.ViewMatrix(optics.Position{
		Position:    types.XYZ(0, 0, 100),
		Orientation: optics.Orientation{Pitch: 90},
	})
	f.m.Callbacks().View = func(mat *types.Mat4) { *mat = view }
	f.tickUntilComplete(t, 10)
	require.NoError(t, f.renderer.Render(f.m))

	out := make([]byte, 4*4*3)
	require.NoError(t, f.ctx.ReadPixels(f.renderer.RenderTarget(), gfx.Rect{Width: 4, Height: 4}, gfx.RGB, out))

	// Storage is bottom-up: the first row is the bottom of the image.
	require.NotEqual(t, skyColor[:], out[0:3])
	require.Equal(t, skyColor[:], out[len(out)-3:])

	require.True(t, f.renderer.WorldPosition(types.XY(0, 0)).HasNaN())
	ground := f.renderer.WorldPosition(types.XY(2, 3.5))
	require.False(t, ground.HasNaN())
	require.Greater(t, ground[1], 0.0)
}

func TestRenderToDefaultFramebuffer(t *testing.T) {
	f := newFixture(t, Options{ReadyAfterTicks: 1})
	f.m.SetMapConfigPath("mapConfig.json", "")
	f.m.SetWindowSize(3, 2)
	f.renderer.Options().ColorToTargetFrameBuffer = true
	f.tickUntilComplete(t, 10)

	require.NoError(t, f.renderer.Render(f.m))
	out := make([]byte, 3*2*3)
	require.NoError(t, f.ctx.ReadPixels(0, gfx.Rect{Width: 3, Height: 2}, gfx.RGB, out))
}

func TestRenderFailures(t *testing.T) {
	expErr := errors.New("device lost")
	f := newFixture(t, Options{ReadyAfterTicks: 1, FailRender: expErr})
	require.ErrorIs(t, f.renderer.Render(f.m), expErr)
	require.True(t, f.renderer.WorldPosition(types.XY(0, 0)).HasNaN())

	f = newFixture(t, Options{})
	require.ErrorIs(t, f.renderer.Render(f.m), ErrCameraNotDefined)

	f.renderer.Finalize()
	require.ErrorIs(t, f.renderer.Render(f.m), ErrNotInitialized)
}

type bareContext struct {
	gfx.Context
}

func TestRendererNeedsFramebuffers(t *testing.T) {
	_, err := NewFactory(Options{}).NewRenderer(bareContext{})
	require.ErrorIs(t, err, ErrNoFramebuffers)
}

func TestLoadFunctions(t *testing.T) {
	platform := headless.NewPlatform(headless.Options{MissingFunctions: []string{"glReadPixels"}})
	ctx, err := platform.OpenContext(nil, gfx.OffscreenAttributes())
	require.NoError(t, err)
	defer ctx.Close()
	require.NoError(t, ctx.MakeCurrent())

	r, err := NewFactory(Options{}).NewRenderer(ctx)
	require.NoError(t, err)
	require.ErrorIs(t, r.LoadFunctions(ctx.ProcAddress), gfx.ErrUnknownFunction)
	require.ErrorIs(t, r.Initialize(), ErrNotInitialized)
}

func TestConvert(t *testing.T) {
	factory := NewFactory(Options{
		Custom1Origin: types.XYZ(1000, 2000, 0),
		Custom2Origin: types.XYZ(-5, 0, 10),
	})
	em, err := factory.NewMap(engine.MapCreateOptions{CustomSrs1: "+proj=tmerc"})
	require.NoError(t, err)

	type spec struct {
		in     types.Vec3
		from   engine.Srs
		to     engine.Srs
		exp    types.Vec3
		expErr error
	}
	specs := []spec{
		{types.XYZ(1, 2, 3), engine.SrsCustom1, engine.SrsCustom1, types.XYZ(1, 2, 3), nil},
		{types.XYZ(1, 2, 3), engine.SrsCustom1, engine.SrsPhysical, types.XYZ(1001, 2002, 3), nil},
		{types.XYZ(1001, 2002, 3), engine.SrsPhysical, engine.SrsCustom1, types.XYZ(1, 2, 3), nil},
		{types.XYZ(1, 2, 3), engine.SrsCustom2, engine.SrsPhysical, types.Vec3{}, ErrUndefinedSrs},
		{types.XYZ(1, 2, 3), engine.SrsNavigation, engine.SrsPhysical, types.Vec3{}, ErrUnsupportedSrs},
	}

	for index, s := range specs {
		got, err := em.Convert(s.in, s.from, s.to)
		if s.expErr != nil {
			require.ErrorIs(t, err, s.expErr, "spec %d", index)
			continue
		}
		require.NoError(t, err, "spec %d", index)
		require.Equal(t, s.exp, got, "spec %d", index)
	}
}

func TestTraceOrder(t *testing.T) {
	var events []string
	f := newFixture(t, Options{Trace: func(ev string) { events = append(events, ev) }})
	f.renderer.Finalize()
	f.m.DataFinalize()
	f.m.RenderFinalize()

	require.Equal(t, []string{
		"renderer.Initialize",
		"map.DataInitialize",
		"map.RenderInitialize",
		"renderer.Finalize",
		"map.DataFinalize",
		"map.RenderFinalize",
	}, events)
	require.Equal(t, 1, f.factory.Maps())
	require.Equal(t, 1, f.factory.Renderers())
}
