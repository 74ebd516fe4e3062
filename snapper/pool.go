package snapper

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MoriEdan/libvtsoffscreen/gfx"
	"github.com/MoriEdan/libvtsoffscreen/log"
)

type worker struct {
	id     string
	device *gfx.Device
	stats  workerStats
}

// A pool runs one session per device and serves captures from a shared
// queue.
type Pool struct {
	logger log.Logger

	cfg  Config
	opts Options

	queue   *requestQueue
	workers []*worker
	wg      sync.WaitGroup

	running  atomic.Bool
	stopOnce sync.Once
}

// Start a pool with one worker per usable device. Start returns after every
// worker has finished bootstrapping its session. If any session fails, the
// workers that did start are shut down and the error is returned.
func Start(cfg Config, opts Options) (*Pool, error) {
	return start(cfg, opts, "snapper")
}

func start(cfg Config, opts Options, name string) (*Pool, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		logger: log.New(name),
		cfg:    cfg,
		opts:   opts,
		queue:  newRequestQueue(),
	}

	devices, err := p.selectDevices()
	if err != nil {
		return nil, err
	}

	bootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startCh := make(chan error, len(devices))
	for index, dev := range devices {
		w := &worker{
			id:     workerID(name, index, len(devices)),
			device: dev,
		}
		w.stats.stat = WorkerStat{Id: w.id, Device: dev.String()}
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go p.runWorker(bootCtx, w, startCh)
	}

	var firstErr error
	for range devices {
		if err := <-startCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	if firstErr != nil {
		p.queue.close()
		p.wg.Wait()
		p.logger.Errorf("pool construction failed: %s", firstErr)
		return nil, firstErr
	}

	p.running.Store(true)
	p.logger.Noticef("started %d worker(s)", len(p.workers))
	return p, nil
}

func workerID(name string, index, count int) string {
	if count == 1 {
		return name
	}
	return fmt.Sprintf("%s:%d", name, index)
}

func (p *Pool) selectDevices() (gfx.DeviceList, error) {
	devices := p.opts.Devices
	if devices == nil {
		list, err := gfx.QueryDevices(p.opts.Platform)
		switch {
		case errors.Is(err, gfx.ErrEnumerationUnsupported):
			p.logger.Warning("device enumeration not supported; using the default display")
			return gfx.DeviceList{nil}, nil
		case err != nil:
			return nil, fmt.Errorf("snapper: could not enumerate devices: %w", err)
		}
		devices = list
	}

	filtered := devices.Filter(p.opts.Blacklist)
	for _, dev := range devices {
		if !contains(filtered, dev) {
			p.logger.Noticef("skipping blacklisted device %s", dev)
		}
	}
	if len(filtered) == 0 {
		return nil, ErrNoDevices
	}
	return filtered, nil
}

func contains(list gfx.DeviceList, dev *gfx.Device) bool {
	for _, d := range list {
		if d == dev {
			return true
		}
	}
	return false
}

func (p *Pool) runWorker(bootCtx context.Context, w *worker, startCh chan<- error) {
	defer p.wg.Done()

	// The session's graphics context is bound to this thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	session, err := NewSession(bootCtx, w.id, p.cfg, w.device, p.opts)
	startCh <- err
	if err != nil {
		return
	}
	defer session.Close()

	for {
		req, ok := p.queue.pop()
		if !ok {
			return
		}
		p.serve(w, session, req)
	}
}

func (p *Pool) serve(w *worker, session *Session, req *request) {
	if err := req.ctx.Err(); err != nil {
		req.resolve(nil, err)
		w.stats.record(0, err)
		return
	}

	start := time.Now()
	snap, err := safeSnap(session, req)
	elapsed := time.Since(start)
	w.stats.record(elapsed, err)
	if err != nil {
		p.logger.Warningf("[%s] request %s failed: %s", w.id, req.id, err)
	} else {
		p.logger.Debugf("[%s] request %s done in %d ms", w.id, req.id, elapsed.Nanoseconds()/1e6)
	}
	req.resolve(snap, err)
}

// Run the snap and turn a panic into an error for this request only.
func safeSnap(session *Session, req *request) (snap *Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			snap = nil
			err = fmt.Errorf("snapper (%s): panic while serving request %s: %v", session.ID(), req.id, r)
		}
	}()
	return session.Snap(req.ctx, req.view)
}

// Capture a snapshot of the view. Blocks until a worker has served the
// request or ctx is done. Safe for concurrent use.
func (p *Pool) Capture(ctx context.Context, view View) (*Snapshot, error) {
	if !p.running.Load() {
		return nil, ErrPoolShutdown
	}
	req := newRequest(ctx, view)
	if !p.queue.push(req) {
		return nil, ErrPoolShutdown
	}
	return req.wait(ctx)
}

// Stop the pool. Requests still in the queue fail with ErrPoolShutdown;
// requests being served run to completion. Stop blocks until all workers
// have released their sessions and may be called more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.running.Store(false)
		drained := p.queue.close()
		for _, req := range drained {
			req.resolve(nil, ErrPoolShutdown)
		}
		if len(drained) != 0 {
			p.logger.Warningf("failed %d queued request(s) at shutdown", len(drained))
		}
		p.wg.Wait()
		p.logger.Notice("all workers stopped")
	})
}

// Number of workers.
func (p *Pool) Workers() int {
	return len(p.workers)
}

// Collect per-worker statistics.
func (p *Pool) Stats() PoolStats {
	stats := PoolStats{
		Workers: make([]WorkerStat, len(p.workers)),
		Queued:  p.queue.len(),
	}
	for index, w := range p.workers {
		stats.Workers[index] = w.stats.get()
	}
	return stats
}
