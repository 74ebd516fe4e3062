//go:build gl

// Package glfw implements the gfx collaborator on top of hidden GLFW windows
// and an OpenGL 3.3 core profile. The platform cannot enumerate devices;
// every context is opened on the default display.
//
// GLFW library and window calls run on the main thread through
// mainthread.Call, so programs using this package must be started through
// mainthread.Run. Context and gl calls stay on the session's locked thread.
package glfw

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/go-gl/gl/v3.3-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/MoriEdan/libvtsoffscreen/gfx"
	"github.com/MoriEdan/libvtsoffscreen/gfx/mainthread"
)

var (
	ErrDeviceSelection = errors.New("glfw: explicit device selection is not supported")
	ErrContextClosed   = errors.New("glfw: context closed")
)

// A GLFW backed graphics platform.
type Platform struct {
	// Only accessed on the main thread.
	initialized bool
	initErr     error

	glOnce sync.Once
	glErr  error
}

// Create a new GLFW platform. The library is initialized lazily on the first
// OpenContext call.
func NewPlatform() *Platform {
	return &Platform{}
}

// Terminate the GLFW library. All contexts must be closed first.
func (p *Platform) Terminate() {
	_ = mainthread.Call(func() {
		if p.initialized {
			glfw.Terminate()
			p.initialized = false
		}
	})
}

func (p *Platform) OpenContext(dev *gfx.Device, attrs gfx.ContextAttributes) (gfx.Context, error) {
	if dev != nil {
		return nil, fmt.Errorf("%w (requested %s)", ErrDeviceSelection, dev)
	}
	if attrs.Width <= 0 || attrs.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid surface size %dx%d", gfx.ErrNoMatchingConfig, attrs.Width, attrs.Height)
	}

	var (
		window *glfw.Window
		err    error
	)
	callErr := mainthread.Call(func() {
		window, err = p.createWindow(attrs)
	})
	if callErr != nil {
		return nil, fmt.Errorf("glfw: %w", callErr)
	}
	if err != nil {
		return nil, err
	}

	// The context becomes current on the calling thread.
	window.MakeContextCurrent()

	p.glOnce.Do(func() {
		if err := gl.Init(); err != nil {
			p.glErr = fmt.Errorf("glfw: could not init opengl: %w", err)
		}
	})
	if p.glErr != nil {
		destroyWindow(window)
		return nil, p.glErr
	}

	ctx := &Context{
		platform: p,
		window:   window,
		targets:  make(map[uint32]glTarget),
	}
	surface, err := ctx.newTarget(attrs.Width, attrs.Height)
	if err != nil {
		destroyWindow(window)
		return nil, err
	}
	ctx.targets[0] = surface
	return ctx, nil
}

// Runs on the main thread.
func (p *Platform) createWindow(attrs gfx.ContextAttributes) (*glfw.Window, error) {
	if !p.initialized && p.initErr == nil {
		if err := glfw.Init(); err != nil {
			p.initErr = fmt.Errorf("glfw: failed to initialize: %w", err)
		} else {
			p.initialized = true
		}
	}
	if p.initErr != nil {
		return nil, p.initErr
	}

	glfw.DefaultWindowHints()
	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.False)
	glfw.WindowHint(glfw.ContextVersionMajor, 3)
	glfw.WindowHint(glfw.ContextVersionMinor, 3)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	glfw.WindowHint(glfw.RedBits, attrs.RedSize)
	glfw.WindowHint(glfw.GreenBits, attrs.GreenSize)
	glfw.WindowHint(glfw.BlueBits, attrs.BlueSize)
	glfw.WindowHint(glfw.AlphaBits, attrs.AlphaSize)
	glfw.WindowHint(glfw.DepthBits, attrs.DepthSize)
	glfw.WindowHint(glfw.StencilBits, attrs.StencilSize)

	window, err := glfw.CreateWindow(attrs.Width, attrs.Height, "libvtsoffscreen", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: could not create opengl window: %w", gfx.ErrNoMatchingConfig, err)
	}
	return window, nil
}

// Detach the context from the calling thread and destroy its window on the
// main thread.
func destroyWindow(window *glfw.Window) {
	glfw.DetachCurrentContext()
	_ = mainthread.Call(window.Destroy)
}

// A color texture attached to a framebuffer object.
type glTarget struct {
	fbo uint32
	tex uint32
}

// An OpenGL context owned by a hidden window.
type Context struct {
	platform *Platform
	window   *glfw.Window
	closed   bool

	// Target 0 maps to an FBO standing in for the drawing surface.
	targets map[uint32]glTarget
}

func (c *Context) Device() *gfx.Device {
	return nil
}

// MakeCurrent must be called from the locked thread that owns the context;
// the backend does not verify it.
func (c *Context) MakeCurrent() error {
	if c.closed {
		return ErrContextClosed
	}
	c.window.MakeContextCurrent()
	return nil
}

func (c *Context) Info() gfx.Info {
	return gfx.Info{
		Vendor:   gl.GoStr(gl.GetString(gl.VENDOR)),
		Renderer: gl.GoStr(gl.GetString(gl.RENDERER)),
		Version:  gl.GoStr(gl.GetString(gl.VERSION)),
	}
}

func (c *Context) ProcAddress(name string) (uintptr, error) {
	addr := glfw.GetProcAddress(name)
	if addr == nil {
		return 0, fmt.Errorf("glfw: unable to get address of function <%s>: %w", name, gfx.ErrUnknownFunction)
	}
	return uintptr(addr), nil
}

func (c *Context) FenceSync() (gfx.Fence, error) {
	if c.closed {
		return nil, ErrContextClosed
	}
	handle := gl.FenceSync(gl.SYNC_GPU_COMMANDS_COMPLETE, 0)
	if handle == 0 {
		return nil, fmt.Errorf("glfw: glFenceSync failed with error 0x%x", gl.GetError())
	}
	return &fence{sync: handle}, nil
}

func (c *Context) Finish() {
	gl.Finish()
}

func (c *Context) ReadPixels(target uint32, rect gfx.Rect, format gfx.PixelFormat, dst []byte) error {
	if c.closed {
		return ErrContextClosed
	}
	t, ok := c.targets[target]
	if !ok {
		return fmt.Errorf("%w %d", gfx.ErrUnknownTarget, target)
	}
	if len(dst) < rect.Width*rect.Height*3 {
		return fmt.Errorf("glfw: destination buffer too small (%d < %d)", len(dst), rect.Width*rect.Height*3)
	}

	glFormat := uint32(gl.RGB)
	if format == gfx.BGR {
		glFormat = gl.BGR
	}

	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, t.fbo)
	defer gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(int32(rect.X), int32(rect.Y), int32(rect.Width), int32(rect.Height), glFormat, gl.UNSIGNED_BYTE, unsafe.Pointer(&dst[0]))
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("glfw: glReadPixels failed with error 0x%x", code)
	}
	return nil
}

func (c *Context) CreateTarget(width, height int) (uint32, error) {
	if c.closed {
		return 0, ErrContextClosed
	}
	t, err := c.newTarget(width, height)
	if err != nil {
		return 0, err
	}
	c.targets[t.fbo] = t
	return t.fbo, nil
}

func (c *Context) newTarget(width, height int) (glTarget, error) {
	if width <= 0 || height <= 0 {
		return glTarget{}, fmt.Errorf("glfw: invalid target size %dx%d", width, height)
	}

	var t glTarget
	gl.GenTextures(1, &t.tex)
	gl.BindTexture(gl.TEXTURE_2D, t.tex)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGB8, int32(width), int32(height), 0, gl.RGB, gl.UNSIGNED_BYTE, nil)
	gl.BindTexture(gl.TEXTURE_2D, 0)

	gl.GenFramebuffers(1, &t.fbo)
	gl.BindFramebuffer(gl.FRAMEBUFFER, t.fbo)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, t.tex, 0)
	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		deleteTarget(t)
		return glTarget{}, fmt.Errorf("glfw: incomplete framebuffer (status 0x%x)", status)
	}
	return t, nil
}

func (c *Context) WriteTarget(target uint32, width, height int, rgb []byte) error {
	if c.closed {
		return ErrContextClosed
	}
	t, ok := c.targets[target]
	if !ok {
		return fmt.Errorf("%w %d", gfx.ErrUnknownTarget, target)
	}
	if len(rgb) < width*height*3 {
		return fmt.Errorf("glfw: source buffer too small for %dx%d target", width, height)
	}

	gl.BindTexture(gl.TEXTURE_2D, t.tex)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGB8, int32(width), int32(height), 0, gl.RGB, gl.UNSIGNED_BYTE, gl.Ptr(rgb))
	gl.BindTexture(gl.TEXTURE_2D, 0)
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("glfw: glTexImage2D failed with error 0x%x", code)
	}
	return nil
}

func (c *Context) DeleteTarget(target uint32) {
	if target == 0 || c.closed {
		return
	}
	if t, ok := c.targets[target]; ok {
		deleteTarget(t)
		delete(c.targets, target)
	}
}

func deleteTarget(t glTarget) {
	if t.fbo != 0 {
		gl.DeleteFramebuffers(1, &t.fbo)
	}
	if t.tex != 0 {
		gl.DeleteTextures(1, &t.tex)
	}
}

func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	c.window.MakeContextCurrent()
	for _, t := range c.targets {
		deleteTarget(t)
	}
	c.targets = nil

	destroyWindow(c.window)
	return nil
}

type fence struct {
	sync uintptr
}

func (f *fence) ClientWait(timeout time.Duration) (bool, error) {
	if f.sync == 0 {
		return false, errors.New("glfw: fence deleted")
	}
	switch gl.ClientWaitSync(f.sync, gl.SYNC_FLUSH_COMMANDS_BIT, uint64(timeout.Nanoseconds())) {
	case gl.ALREADY_SIGNALED, gl.CONDITION_SATISFIED:
		return true, nil
	case gl.TIMEOUT_EXPIRED:
		return false, nil
	default:
		return false, fmt.Errorf("glfw: glClientWaitSync failed with error 0x%x", gl.GetError())
	}
}

func (f *fence) Delete() {
	if f.sync != 0 {
		gl.DeleteSync(f.sync)
		f.sync = 0
	}
}
