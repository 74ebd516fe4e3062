// Package headless implements the gfx collaborator in software. Virtual
// devices host pbuffer-only contexts whose render targets live in host
// memory, which allows sessions to run without a GPU.
package headless

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MoriEdan/libvtsoffscreen/gfx"
)

var (
	ErrContextClosed     = errors.New("headless: context closed")
	ErrContextNotCurrent = errors.New("headless: context not current")
	ErrFenceDeleted      = errors.New("headless: fence deleted")
)

// Functions resolvable through Context.ProcAddress.
var knownFunctions = []string{
	"glBindFramebuffer",
	"glClientWaitSync",
	"glDeleteSync",
	"glFenceSync",
	"glFinish",
	"glGenFramebuffers",
	"glGetString",
	"glPixelStorei",
	"glReadPixels",
	"glTexImage2D",
	"glViewport",
}

// Platform options.
type Options struct {
	// Number of enumerable virtual devices. Defaults to 1.
	Devices int

	// Driver identification strings.
	Vendor   string
	Renderer string
	Version  string

	// Number of ClientWait timeouts reported before a fence signals. Each
	// timeout blocks for the requested wait.
	FencePolls int

	// Functions that ProcAddress fails to resolve.
	MissingFunctions []string

	// Errors returned by OpenContext, keyed by device index. Key -1 selects
	// the default display.
	FailOpen map[int]error

	// Error returned by FenceSync.
	FailFence error
}

// A software graphics platform.
type Platform struct {
	opts    Options
	devices gfx.DeviceList

	openContexts atomic.Int32
	totalOpened  atomic.Int32
}

// Create a new headless platform.
func NewPlatform(opts Options) *Platform {
	if opts.Devices <= 0 {
		opts.Devices = 1
	}
	if opts.Vendor == "" {
		opts.Vendor = "libvtsoffscreen"
	}
	if opts.Renderer == "" {
		opts.Renderer = "headless software rasterizer"
	}
	if opts.Version == "" {
		opts.Version = "3.3 (headless)"
	}

	p := &Platform{opts: opts}
	for i := 0; i < opts.Devices; i++ {
		p.devices = append(p.devices, &gfx.Device{
			Index: i,
			Name:  fmt.Sprintf("headless-%d", i),
		})
	}
	return p
}

// Enumerate virtual devices.
func (p *Platform) QueryDevices() (gfx.DeviceList, error) {
	list := make(gfx.DeviceList, len(p.devices))
	copy(list, p.devices)
	return list, nil
}

// Return a view of the platform without device enumeration support.
func (p *Platform) DefaultOnly() gfx.Platform {
	return defaultOnly{p}
}

// Number of contexts that are currently open.
func (p *Platform) OpenContexts() int {
	return int(p.openContexts.Load())
}

// Number of contexts opened over the platform's lifetime.
func (p *Platform) TotalOpened() int {
	return int(p.totalOpened.Load())
}

// Open a context on the given device or on the default display if dev is nil.
func (p *Platform) OpenContext(dev *gfx.Device, attrs gfx.ContextAttributes) (gfx.Context, error) {
	key := -1
	if dev != nil {
		key = dev.Index
	}
	if err := p.opts.FailOpen[key]; err != nil {
		return nil, fmt.Errorf("headless: could not open display for %s: %w", dev, err)
	}

	if err := validateAttributes(attrs); err != nil {
		return nil, err
	}

	ctx := &Context{
		platform: p,
		dev:      dev,
		targets: map[uint32]*target{
			0: newTarget(attrs.Width, attrs.Height),
		},
		nextTarget: 1,
	}
	p.openContexts.Add(1)
	p.totalOpened.Add(1)
	return ctx, nil
}

func validateAttributes(attrs gfx.ContextAttributes) error {
	switch {
	case attrs.Surface != gfx.PbufferSurface:
		return fmt.Errorf("%w: only pbuffer surfaces are supported", gfx.ErrNoMatchingConfig)
	case attrs.RedSize <= 0 || attrs.RedSize > 8 || attrs.GreenSize <= 0 || attrs.GreenSize > 8 || attrs.BlueSize <= 0 || attrs.BlueSize > 8:
		return fmt.Errorf("%w: unsupported color depth", gfx.ErrNoMatchingConfig)
	case attrs.AlphaSize != 0 && attrs.AlphaSize != 8:
		return fmt.Errorf("%w: unsupported alpha depth %d", gfx.ErrNoMatchingConfig, attrs.AlphaSize)
	case attrs.DepthSize > 24:
		return fmt.Errorf("%w: unsupported depth buffer size %d", gfx.ErrNoMatchingConfig, attrs.DepthSize)
	case attrs.StencilSize > 8:
		return fmt.Errorf("%w: unsupported stencil size %d", gfx.ErrNoMatchingConfig, attrs.StencilSize)
	case attrs.Width <= 0 || attrs.Height <= 0:
		return fmt.Errorf("%w: invalid surface size %dx%d", gfx.ErrNoMatchingConfig, attrs.Width, attrs.Height)
	}
	return nil
}

type defaultOnly struct {
	p *Platform
}

func (d defaultOnly) OpenContext(dev *gfx.Device, attrs gfx.ContextAttributes) (gfx.Context, error) {
	return d.p.OpenContext(dev, attrs)
}

type target struct {
	width  int
	height int

	// RGB rows stored bottom-up.
	pix []byte
}

func newTarget(width, height int) *target {
	return &target{
		width:  width,
		height: height,
		pix:    make([]byte, width*height*3),
	}
}

// A software graphics context.
type Context struct {
	mu sync.Mutex

	platform *Platform
	dev      *gfx.Device

	current bool
	closed  bool

	targets    map[uint32]*target
	nextTarget uint32
}

func (c *Context) Device() *gfx.Device {
	return c.dev
}

func (c *Context) MakeCurrent() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	c.current = true
	return nil
}

func (c *Context) Info() gfx.Info {
	return gfx.Info{
		Vendor:   c.platform.opts.Vendor,
		Renderer: c.platform.opts.Renderer,
		Version:  c.platform.opts.Version,
	}
}

func (c *Context) ProcAddress(name string) (uintptr, error) {
	for _, missing := range c.platform.opts.MissingFunctions {
		if missing == name {
			return 0, fmt.Errorf("headless: unable to get address of function <%s>: %w", name, gfx.ErrUnknownFunction)
		}
	}
	for index, known := range knownFunctions {
		if known == name {
			return uintptr(index+1) * 16, nil
		}
	}
	return 0, fmt.Errorf("headless: unable to get address of function <%s>: %w", name, gfx.ErrUnknownFunction)
}

func (c *Context) FenceSync() (gfx.Fence, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return nil, err
	}
	if c.platform.opts.FailFence != nil {
		return nil, c.platform.opts.FailFence
	}
	return &fence{pending: c.platform.opts.FencePolls}, nil
}

func (c *Context) Finish() {}

func (c *Context) ReadPixels(targetID uint32, rect gfx.Rect, format gfx.PixelFormat, dst []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}

	t, ok := c.targets[targetID]
	if !ok {
		return fmt.Errorf("%w %d", gfx.ErrUnknownTarget, targetID)
	}
	if rect.X < 0 || rect.Y < 0 || rect.Width <= 0 || rect.Height <= 0 ||
		rect.X+rect.Width > t.width || rect.Y+rect.Height > t.height {
		return fmt.Errorf("headless: read rectangle %+v outside of %dx%d target %d", rect, t.width, t.height, targetID)
	}

	rowBytes := rect.Width * 3
	if len(dst) < rowBytes*rect.Height {
		return fmt.Errorf("headless: destination buffer too small (%d < %d)", len(dst), rowBytes*rect.Height)
	}

	for row := 0; row < rect.Height; row++ {
		srcOffset := ((rect.Y+row)*t.width + rect.X) * 3
		src := t.pix[srcOffset : srcOffset+rowBytes]
		out := dst[row*rowBytes : (row+1)*rowBytes]
		copy(out, src)
		if format == gfx.BGR {
			for i := 0; i < rowBytes; i += 3 {
				out[i], out[i+2] = out[i+2], out[i]
			}
		}
	}
	return nil
}

func (c *Context) CreateTarget(width, height int) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return 0, err
	}
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("headless: invalid target size %dx%d", width, height)
	}

	id := c.nextTarget
	c.nextTarget++
	c.targets[id] = newTarget(width, height)
	return id, nil
}

func (c *Context) WriteTarget(targetID uint32, width, height int, rgb []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}

	t, ok := c.targets[targetID]
	if !ok {
		return fmt.Errorf("%w %d", gfx.ErrUnknownTarget, targetID)
	}
	if len(rgb) < width*height*3 {
		return fmt.Errorf("headless: source buffer too small for %dx%d target", width, height)
	}

	// Writing a different size reallocates target storage, like glTexImage2D.
	if t.width != width || t.height != height {
		*t = *newTarget(width, height)
	}
	copy(t.pix, rgb[:width*height*3])
	return nil
}

func (c *Context) DeleteTarget(targetID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if targetID != 0 {
		delete(c.targets, targetID)
	}
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.current = false
	c.targets = nil
	c.platform.openContexts.Add(-1)
	return nil
}

func (c *Context) usable() error {
	if c.closed {
		return ErrContextClosed
	}
	if !c.current {
		return ErrContextNotCurrent
	}
	return nil
}

type fence struct {
	pending int
	deleted bool
}

// ClientWait blocks for the whole timeout when the fence is not yet signaled.
func (f *fence) ClientWait(timeout time.Duration) (bool, error) {
	if f.deleted {
		return false, ErrFenceDeleted
	}
	if f.pending > 0 {
		f.pending--
		time.Sleep(timeout)
		return false, nil
	}
	return true, nil
}

func (f *fence) Delete() {
	f.deleted = true
}
