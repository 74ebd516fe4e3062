// Package mainthread runs functions on the process main thread. Windowing
// libraries such as GLFW only accept calls from that thread while the rest
// of the program runs on other goroutines.
//
// The main package must lock the main goroutine to its thread from an init
// function and hand control to Run:
//
//	func init() {
//		runtime.LockOSThread()
//	}
//
//	func main() {
//		err := mainthread.Run(realMain)
//		...
//	}
package mainthread

import (
	"errors"
	"runtime"
	"sync"
)

var ErrNotRunning = errors.New("mainthread: executor is not running")

var (
	mu      sync.RWMutex
	running bool
	calls   = make(chan func())
)

// Run executes run on a new goroutine and serves Call requests on the
// calling goroutine until run returns. It must be called from the main
// goroutine and must not be nested.
func Run(run func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	mu.Lock()
	running = true
	mu.Unlock()

	done := make(chan error, 1)
	go func() {
		err := run()

		// Waits for in-flight calls, which the loop below keeps serving.
		mu.Lock()
		running = false
		mu.Unlock()
		done <- err
	}()

	for {
		select {
		case fn := <-calls:
			fn()
		case err := <-done:
			return err
		}
	}
}

// Call runs fn on the main thread and waits for it to return. It returns
// ErrNotRunning if no Run loop is active. fn must not call Call.
func Call(fn func()) error {
	mu.RLock()
	defer mu.RUnlock()
	if !running {
		return ErrNotRunning
	}

	finished := make(chan struct{})
	calls <- func() {
		defer close(finished)
		fn()
	}
	<-finished
	return nil
}
