package launch

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// BlockOn is a dedicated goroutine that every device operation this
// package issues (acquiring a device, mapping a buffer, submitting a
// command stream) is funneled through, one at a time. Graphics APIs
// typically require their calls to originate from a single, consistent
// execution context; BlockOn gives the rest of this package a blocking
// call that runs on that context instead of threading a context handle
// through every function. Grounded on gogpu-wgpu/internal/thread's
// Thread: a buffered function channel drained by one goroutine locked to
// its OS thread.
type BlockOn struct {
	funcs   chan func()
	done    chan struct{}
	running atomic.Bool
}

// NewBlockOn starts the executor goroutine and returns once it is ready
// to accept work.
func NewBlockOn() *BlockOn {
	b := &BlockOn{
		funcs: make(chan func(), 16),
		done:  make(chan struct{}),
	}
	b.running.Store(true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		wg.Done()
		for {
			select {
			case f := <-b.funcs:
				f()
			case <-b.done:
				return
			}
		}
	}()
	wg.Wait()
	return b
}

// Stop shuts the executor down. Calls still in flight complete; calls
// issued after Stop return their zero value immediately.
func (b *BlockOn) Stop() {
	if b.running.Swap(false) {
		close(b.done)
	}
}

// Call runs f on the executor's goroutine and blocks until it returns.
func Call[T any](b *BlockOn, f func() T) T {
	if !b.running.Load() {
		var zero T
		return zero
	}
	result := make(chan T, 1)
	b.funcs <- func() {
		result <- f()
	}
	return <-result
}
