package snapper

import (
	"context"
	"fmt"
	"time"

	"github.com/MoriEdan/libvtsoffscreen/engine"
	"github.com/MoriEdan/libvtsoffscreen/gfx"
	"github.com/MoriEdan/libvtsoffscreen/log"
	"github.com/MoriEdan/libvtsoffscreen/optics"
	"github.com/MoriEdan/libvtsoffscreen/types"
)

// Embedded in types that must not be copied after first use; detected by
// go vet's copylocks check.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// A session binds one graphics context, one map and one renderer together.
//
// The graphics context is bound to the OS thread that created the session.
// A session must be created, used and closed by a single goroutine that has
// called runtime.LockOSThread.
type Session struct {
	noCopy noCopy

	logger log.Logger
	id     string

	cfg  Config
	opts Options

	gc       gfx.Context
	m        engine.Map
	renderer engine.Renderer

	// Set by the map configuration callback.
	ready bool

	// Initialization progress used for partial teardown.
	rendererInit bool
	dataInit     bool
	renderInit   bool
	closed       bool
}

// Create a new session on dev (nil selects the default display) and block
// until the map configuration is available or ctx is done.
func NewSession(ctx context.Context, id string, cfg Config, dev *gfx.Device, opts Options) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	s := &Session{
		logger: log.New(id),
		id:     id,
		cfg:    cfg,
		opts:   opts,
	}

	if opts.BootstrapTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.BootstrapTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.bootstrap(ctx, dev); err != nil {
		s.Close()
		return nil, fmt.Errorf("snapper (%s): %w", id, err)
	}
	s.logger.Noticef("session ready on %s after %d ms", dev, time.Since(start).Nanoseconds()/1e6)
	return s, nil
}

// Session identifier.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) bootstrap(ctx context.Context, dev *gfx.Device) error {
	var err error

	s.gc, err = s.opts.Platform.OpenContext(dev, gfx.OffscreenAttributes())
	if err != nil {
		return fmt.Errorf("could not open graphics context on %s: %w", dev, err)
	}
	if err = s.gc.MakeCurrent(); err != nil {
		return fmt.Errorf("could not make graphics context current: %w", err)
	}

	info := s.gc.Info()
	s.logger.Infof("GL vendor: %s", info.Vendor)
	s.logger.Infof("GL renderer: %s", info.Renderer)
	s.logger.Infof("GL version: %s", info.Version)

	s.m, err = s.opts.Engine.NewMap(engine.MapCreateOptions{
		ClientID:   s.cfg.ClientID,
		CustomSrs1: s.cfg.CustomSrs1,
		CustomSrs2: s.cfg.CustomSrs2,
	})
	if err != nil {
		return fmt.Errorf("could not create map: %w", err)
	}

	mo := s.m.Options()
	mo.MaxResourceProcessesPerTick = 0
	mo.FetchFirstRetryTimeOffset = 1
	mo.TraverseMode = engine.TraverseFlat
	mo.PinFetchedResources = true
	mo.TargetResourcesMemory = s.cfg.TargetResourcesMemory

	s.renderer, err = s.opts.Engine.NewRenderer(s.gc)
	if err != nil {
		return fmt.Errorf("could not create renderer: %w", err)
	}
	s.renderer.BindLoadFunctions(s.m)
	s.m.Callbacks().MapConfigReady = func() {
		s.ready = true
	}

	if err = s.renderer.LoadFunctions(s.gc.ProcAddress); err != nil {
		return err
	}
	if err = s.renderer.Initialize(); err != nil {
		return fmt.Errorf("could not initialize renderer: %w", err)
	}
	s.rendererInit = true

	if err = s.m.DataInitialize(); err != nil {
		return fmt.Errorf("could not initialize map data: %w", err)
	}
	s.dataInit = true

	if err = s.m.RenderInitialize(); err != nil {
		return fmt.Errorf("could not initialize map rendering: %w", err)
	}
	s.renderInit = true

	s.m.SetMapConfigPath(s.cfg.MapConfigURL, s.cfg.AuthURL)
	s.logger.Debugf("waiting for map configuration %s", s.cfg.MapConfigURL)

	return s.tickUntil(ctx, func() bool { return s.ready })
}

// Run engine ticks until cond holds. The engine is ticked at least once.
func (s *Session) tickUntil(ctx context.Context, cond func() bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrNotReady, err)
		}
		engine.Tick(s.m)
		if cond() {
			return nil
		}
		time.Sleep(s.opts.TickInterval)
	}
}

// Render the view and back-project its keypoints.
func (s *Session) Snap(ctx context.Context, view View) (*Snapshot, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	vp := view.Viewport
	if !vp.Valid() {
		return nil, fmt.Errorf("snapper (%s): %w %s", s.id, ErrInvalidViewport, vp)
	}
	s.m.SetWindowSize(vp.Width, vp.Height)

	pos, err := view.Position.Transform(func(p types.Vec3) (types.Vec3, error) {
		return s.m.Convert(p, engine.SrsCustom1, engine.SrsPhysical)
	})
	if err != nil {
		return nil, fmt.Errorf("snapper (%s): could not convert camera position: %w", s.id, err)
	}

	restore := installHooks(s.m, &cameraOverride{
		view:     optics.ViewMatrix(pos),
		camera:   view.Camera,
		viewport: vp,
	})
	defer restore()

	if err = s.tickUntil(ctx, s.m.MapRenderComplete); err != nil {
		return nil, fmt.Errorf("snapper (%s): %w", s.id, err)
	}

	ro := s.renderer.Options()
	ro.Width = vp.Width
	ro.Height = vp.Height
	ro.RenderAtmosphere = false
	ro.ColorToTargetFrameBuffer = false

	if err = s.renderer.Render(s.m); err != nil {
		return nil, fmt.Errorf("snapper (%s): render failed: %w", s.id, err)
	}
	if err = s.waitForGPU(); err != nil {
		return nil, fmt.Errorf("snapper (%s): %w", s.id, err)
	}

	snap := NewSnapshot(vp)
	rect := gfx.Rect{Width: vp.Width, Height: vp.Height}
	if err = s.gc.ReadPixels(s.renderer.RenderTarget(), rect, gfx.BGR, snap.Image.Pix); err != nil {
		return nil, fmt.Errorf("snapper (%s): could not read back render target: %w", s.id, err)
	}
	snap.Image.FlipVertical()

	for _, kp := range view.Keypoints {
		world := s.renderer.WorldPosition(kp)
		if world.HasNaN() {
			continue
		}
		world, err = s.m.Convert(world, engine.SrsPhysical, engine.SrsCustom1)
		if err != nil {
			return nil, fmt.Errorf("snapper (%s): could not convert keypoint %v: %w", s.id, kp, err)
		}
		snap.Keypoints = append(snap.Keypoints, Point{Image: kp, World: world})
	}

	return snap, nil
}

// Block until the GPU has executed all submitted commands. The wait is not
// cancellable: the pixels read back afterwards must belong to this frame.
func (s *Session) waitForGPU() error {
	fence, err := s.gc.FenceSync()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFenceCreation, err)
	}
	defer fence.Delete()

	for {
		signaled, err := fence.ClientWait(s.opts.FenceTimeout)
		if err != nil {
			return err
		}
		if signaled {
			break
		}
		s.logger.Info("GL: still waiting for fence")
	}

	s.gc.Finish()
	s.gc.Finish()
	return nil
}

// Release the renderer, the map and the graphics context, in that order.
// Parts that were never initialized are skipped.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true

	if s.rendererInit {
		s.renderer.Finalize()
	}
	if s.dataInit {
		s.m.DataFinalize()
	}
	if s.renderInit {
		s.m.RenderFinalize()
	}
	if s.gc != nil {
		if err := s.gc.Close(); err != nil {
			s.logger.Warningf("could not close graphics context: %s", err)
		}
	}
}
