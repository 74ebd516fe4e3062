package snapper

import (
	"context"
	"errors"
	"math"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/MoriEdan/libvtsoffscreen/engine"
	"github.com/MoriEdan/libvtsoffscreen/engine/sim"
	"github.com/MoriEdan/libvtsoffscreen/gfx"
	"github.com/MoriEdan/libvtsoffscreen/gfx/headless"
	"github.com/MoriEdan/libvtsoffscreen/log"
	"github.com/MoriEdan/libvtsoffscreen/optics"
	"github.com/MoriEdan/libvtsoffscreen/types"
	"github.com/stretchr/testify/require"
)

// Sky color of the sim renderer in BGR order.
var skyBGR = []byte{235, 206, 135}

var custom1Origin = types.XYZ(500, 500, 0)

func TestMain(m *testing.M) {
	log.SetLevel(log.Error)
	os.Exit(m.Run())
}

func testConfig() Config {
	return Config{
		MapConfigURL: "https://maps.example.com/mapConfig.json",
		CustomSrs1:   "+proj=utm +zone=33 +datum=WGS84",
		CustomSrs2:   "+proj=geocent +datum=WGS84",
	}
}

func testOptions(platform gfx.Platform, simOpts sim.Options) Options {
	simOpts.Custom1Origin = custom1Origin
	return Options{
		Platform:     platform,
		Engine:       sim.NewFactory(simOpts),
		FenceTimeout: time.Millisecond,
	}
}

func newTestSession(t *testing.T, platform *headless.Platform, opts Options) *Session {
	t.Helper()
	runtime.LockOSThread()
	t.Cleanup(runtime.UnlockOSThread)

	s, err := NewSession(context.Background(), "snapper", testConfig(), nil, opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// A camera 100 units above the custom frame origin looking north.
func horizonView(vp optics.Viewport, keypoints ...types.Vec2) View {
	return View{
		Camera: optics.ParametersFromFOV(60, vp),
		Position: optics.Position{
			Position:    types.XYZ(0, 0, 100),
			Orientation: optics.Orientation{Pitch: 90},
		},
		Viewport:  vp,
		Keypoints: keypoints,
	}
}

func TestSnapImage(t *testing.T) {
	platform := headless.NewPlatform(headless.Options{})
	s := newTestSession(t, platform, testOptions(platform, sim.Options{}))

	vp := optics.Viewport{Width: 64, Height: 48}
	snap, err := s.Snap(context.Background(), horizonView(vp))
	require.NoError(t, err)
	require.Equal(t, 64, snap.Image.Width)
	require.Equal(t, 48, snap.Image.Height)
	require.Len(t, snap.Image.Pix, 64*48*3)

	// Rows are top-down: sky on top, terrain at the bottom.
	top := snap.Image.PixOffset(0, 0)
	require.Equal(t, skyBGR, snap.Image.Pix[top:top+3])
	bottom := snap.Image.PixOffset(0, 47)
	require.NotEqual(t, skyBGR, snap.Image.Pix[bottom:bottom+3])
	require.NotEqual(t, SentinelBGR[:], snap.Image.Pix[bottom:bottom+3])
}

func TestSnapKeypoints(t *testing.T) {
	platform := headless.NewPlatform(headless.Options{})
	s := newTestSession(t, platform, testOptions(platform, sim.Options{}))

	vp := optics.Viewport{Width: 64, Height: 48}
	view := horizonView(vp,
		types.XY(32, 40),
		types.XY(10, 2), // sky
		types.XY(50, 47),
		types.XY(63, 0), // sky
	)
	snap, err := s.Snap(context.Background(), view)
	require.NoError(t, err)
	require.Len(t, snap.Keypoints, 2)
	require.Equal(t, types.XY(32, 40), snap.Keypoints[0].Image)
	require.Equal(t, types.XY(50, 47), snap.Keypoints[1].Image)

	// The ray through (32, 40) leaves the camera 16 pixels below the
	// principal point and meets the ground straight ahead.
	f := 32 / math.Tan(math.Pi/6)
	world := snap.Keypoints[0].World
	require.InDelta(t, 0, world[0], 1e-6)
	require.InDelta(t, 100*f/16, world[1], 1e-6)
	require.InDelta(t, 0, world[2], 1e-6)

	for _, kp := range snap.Keypoints {
		require.False(t, kp.World.HasNaN())
	}
}

func TestSnapLookingDown(t *testing.T) {
	platform := headless.NewPlatform(headless.Options{})
	s := newTestSession(t, platform, testOptions(platform, sim.Options{}))

	vp := optics.Viewport{Width: 40, Height: 30}
	view := View{
		Camera:    optics.ParametersFromFOV(45, vp),
		Position:  optics.Position{Position: types.XYZ(25, -40, 800)},
		Viewport:  vp,
		Keypoints: []types.Vec2{types.XY(20, 15)},
	}
	snap, err := s.Snap(context.Background(), view)
	require.NoError(t, err)
	require.Len(t, snap.Keypoints, 1)
	require.InDelta(t, 25, snap.Keypoints[0].World[0], 1e-6)
	require.InDelta(t, -40, snap.Keypoints[0].World[1], 1e-6)

	for y := 0; y < vp.Height; y++ {
		for x := 0; x < vp.Width; x++ {
			i := snap.Image.PixOffset(x, y)
			require.NotEqual(t, skyBGR, snap.Image.Pix[i:i+3], "pixel (%d, %d)", x, y)
		}
	}
}

func TestSnapInvalidViewport(t *testing.T) {
	platform := headless.NewPlatform(headless.Options{})
	s := newTestSession(t, platform, testOptions(platform, sim.Options{}))

	specs := []optics.Viewport{
		{Width: 0, Height: 10},
		{Width: 10, Height: 0},
		{Width: -1, Height: -1},
	}
	for index, vp := range specs {
		_, err := s.Snap(context.Background(), View{Viewport: vp})
		require.ErrorIs(t, err, ErrInvalidViewport, "spec %d", index)
	}
}

func TestHooksRestoredAfterFailure(t *testing.T) {
	expErr := errors.New("device lost")
	platform := headless.NewPlatform(headless.Options{})
	s := newTestSession(t, platform, testOptions(platform, sim.Options{FailRender: expErr}))

	var viewCalls int
	cb := s.m.Callbacks()
	cb.View = func(*types.Mat4) { viewCalls++ }
	require.Nil(t, cb.Proj)

	_, err := s.Snap(context.Background(), horizonView(optics.Viewport{Width: 8, Height: 8}))
	require.ErrorIs(t, err, expErr)

	cb = s.m.Callbacks()
	require.Nil(t, cb.Proj)
	require.Nil(t, cb.FovAspectNearFar)
	require.NotNil(t, cb.MapConfigReady)
	require.NotNil(t, cb.View)
	cb.View(&types.Mat4{})
	require.Equal(t, 1, viewCalls)
}

type panickingRenderer struct {
	engine.Renderer
}

func (panickingRenderer) Render(engine.Map) error {
	panic("renderer exploded")
}

func TestHooksRestoredAfterPanic(t *testing.T) {
	platform := headless.NewPlatform(headless.Options{})
	s := newTestSession(t, platform, testOptions(platform, sim.Options{}))
	s.renderer = panickingRenderer{s.renderer}

	func() {
		defer func() {
			require.NotNil(t, recover())
		}()
		s.Snap(context.Background(), horizonView(optics.Viewport{Width: 8, Height: 8}))
	}()

	cb := s.m.Callbacks()
	require.Nil(t, cb.View)
	require.Nil(t, cb.FovAspectNearFar)
	require.Nil(t, cb.Proj)
}

func TestBootstrapTimeout(t *testing.T) {
	platform := headless.NewPlatform(headless.Options{})
	opts := testOptions(platform, sim.Options{NeverReady: true})
	opts.BootstrapTimeout = 20 * time.Millisecond

	_, err := NewSession(context.Background(), "snapper", testConfig(), nil, opts)
	require.ErrorIs(t, err, ErrNotReady)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, platform.OpenContexts())
}

func TestSnapRenderNeverCompletes(t *testing.T) {
	platform := headless.NewPlatform(headless.Options{})
	s := newTestSession(t, platform, testOptions(platform, sim.Options{NeverComplete: true}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Snap(ctx, horizonView(optics.Viewport{Width: 8, Height: 8}))
	require.ErrorIs(t, err, ErrNotReady)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionCloseOrder(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var events []string
	platform := headless.NewPlatform(headless.Options{})
	opts := testOptions(platform, sim.Options{Trace: func(ev string) { events = append(events, ev) }})

	s, err := NewSession(context.Background(), "snapper", testConfig(), nil, opts)
	require.NoError(t, err)
	require.Equal(t, 1, platform.OpenContexts())

	s.Close()
	s.Close()
	require.Equal(t, []string{
		"renderer.Initialize",
		"map.DataInitialize",
		"map.RenderInitialize",
		"renderer.Finalize",
		"map.DataFinalize",
		"map.RenderFinalize",
	}, events)
	require.Equal(t, 0, platform.OpenContexts())

	_, err = s.Snap(context.Background(), horizonView(optics.Viewport{Width: 8, Height: 8}))
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestPartialBootstrapCleanup(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	expErr := errors.New("shader compilation failed")
	var events []string
	platform := headless.NewPlatform(headless.Options{})
	opts := testOptions(platform, sim.Options{
		FailRenderInitialize: expErr,
		Trace:                func(ev string) { events = append(events, ev) },
	})

	_, err := NewSession(context.Background(), "snapper", testConfig(), nil, opts)
	require.ErrorIs(t, err, expErr)
	require.Equal(t, []string{
		"renderer.Initialize",
		"map.DataInitialize",
		"map.RenderInitialize",
		"renderer.Finalize",
		"map.DataFinalize",
	}, events)
	require.Equal(t, 0, platform.OpenContexts())
}

func TestBootstrapFailures(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	openErr := errors.New("EGL_BAD_DISPLAY")

	type spec struct {
		platform *headless.Platform
		simOpts  sim.Options
		expErr   error
	}
	specs := []spec{
		{headless.NewPlatform(headless.Options{FailOpen: map[int]error{-1: openErr}}), sim.Options{}, openErr},
		{headless.NewPlatform(headless.Options{MissingFunctions: []string{"glReadPixels"}}), sim.Options{}, gfx.ErrUnknownFunction},
		{headless.NewPlatform(headless.Options{}), sim.Options{FailDataInitialize: openErr}, openErr},
	}

	for index, s := range specs {
		_, err := NewSession(context.Background(), "snapper", testConfig(), nil, testOptions(s.platform, s.simOpts))
		require.ErrorIs(t, err, s.expErr, "spec %d", index)
		require.Equal(t, 0, s.platform.OpenContexts(), "spec %d", index)
	}
}

func TestInvalidConfig(t *testing.T) {
	platform := headless.NewPlatform(headless.Options{})

	cfg := testConfig()
	cfg.MapConfigURL = ""
	_, err := NewSession(context.Background(), "snapper", cfg, nil, testOptions(platform, sim.Options{}))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSession(context.Background(), "snapper", testConfig(), nil, Options{Platform: platform})
	require.ErrorIs(t, err, ErrInvalidOptions)
	require.Equal(t, 0, platform.TotalOpened())
}

func TestFenceCreationFailure(t *testing.T) {
	platform := headless.NewPlatform(headless.Options{FailFence: errors.New("out of memory")})
	s := newTestSession(t, platform, testOptions(platform, sim.Options{}))

	_, err := s.Snap(context.Background(), horizonView(optics.Viewport{Width: 8, Height: 8}))
	require.ErrorIs(t, err, ErrFenceCreation)
}

func TestFencePolling(t *testing.T) {
	platform := headless.NewPlatform(headless.Options{FencePolls: 3})
	s := newTestSession(t, platform, testOptions(platform, sim.Options{}))

	_, err := s.Snap(context.Background(), horizonView(optics.Viewport{Width: 8, Height: 8}))
	require.NoError(t, err)
}

func TestFenceWaitIgnoresDeadline(t *testing.T) {
	platform := headless.NewPlatform(headless.Options{FencePolls: 20})
	opts := testOptions(platform, sim.Options{})
	opts.FenceTimeout = 10 * time.Millisecond
	s := newTestSession(t, platform, opts)

	// The deadline expires while the fence is still pending.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	snap, err := s.Snap(ctx, horizonView(optics.Viewport{Width: 8, Height: 8}))
	require.NoError(t, err)
	require.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	require.Equal(t, skyBGR, snap.Image.Pix[:3])

	// The session stays usable.
	_, err = s.Snap(context.Background(), horizonView(optics.Viewport{Width: 4, Height: 4}))
	require.NoError(t, err)
}

func TestClipRange(t *testing.T) {
	type spec struct {
		near, far       float64
		expNear, expFar float64
	}
	specs := []spec{
		{100, 5000, 100, 5000},
		{1, 5000, 10, 5000},
		{100, 1e6, 100, 1e5},
		{math.NaN(), math.NaN(), 10, 1e5},
		{500, 200, 500, 1e5},
		{2e5, 3e5, 10, 1e5},
	}

	for index, s := range specs {
		near, far := clipRange(s.near, s.far)
		if near != s.expNear || far != s.expFar {
			t.Fatalf("[spec %d] expected clip range (%f, %f); got (%f, %f)", index, s.expNear, s.expFar, near, far)
		}
	}
}
