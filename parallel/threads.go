package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// ThreadsRunner runs items on a fixed number of goroutines.
// Workers claim items from a shared atomic counter, so expensive items do not
// stall a pre-assigned stripe.
type ThreadsRunner struct {
	workers int
}

// NewThreadsRunner creates a runner with the given worker count.
// workers <= 0 selects runtime.GOMAXPROCS(0).
func NewThreadsRunner(workers int) *ThreadsRunner {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &ThreadsRunner{workers: workers}
}

// Workers returns the configured worker count.
func (r *ThreadsRunner) Workers() int {
	return r.workers
}

// RunParallel implements Runner.
func (r *ThreadsRunner) RunParallel(initFn InitFunc, runFn RunFunc, start, end uint32) error {
	return runOnGoroutines(r.workers, initFn, runFn, start, end)
}

// ResizableRunner picks its thread count from the image size reported via
// OnBasicInfo, so small images do not pay for goroutines they cannot use.
type ResizableRunner struct {
	maxWorkers int
	threads    atomic.Int32
}

// pixels per thread used when sizing a ResizableRunner
const resizableAreaPerThread = 256 * 256

// NewResizableRunner creates a runner that never uses more than maxWorkers
// goroutines. maxWorkers <= 0 selects runtime.GOMAXPROCS(0).
func NewResizableRunner(maxWorkers int) *ResizableRunner {
	if maxWorkers <= 0 {
		maxWorkers = runtime.GOMAXPROCS(0)
	}
	r := &ResizableRunner{maxWorkers: maxWorkers}
	r.threads.Store(1)
	return r
}

// SuggestThreads returns the thread count for an image of the given size.
func SuggestThreads(width, height uint32, maxWorkers int) int {
	area := uint64(width) * uint64(height)
	n := area / resizableAreaPerThread
	if n < 1 {
		return 1
	}
	if n > uint64(maxWorkers) {
		return maxWorkers
	}
	return int(n)
}

// OnBasicInfo implements SizeAware.
func (r *ResizableRunner) OnBasicInfo(width, height uint32) {
	r.threads.Store(int32(SuggestThreads(width, height, r.maxWorkers)))
}

// Threads returns the current thread count.
func (r *ResizableRunner) Threads() int {
	return int(r.threads.Load())
}

// RunParallel implements Runner.
func (r *ResizableRunner) RunParallel(initFn InitFunc, runFn RunFunc, start, end uint32) error {
	return runOnGoroutines(r.Threads(), initFn, runFn, start, end)
}

func runOnGoroutines(workers int, initFn InitFunc, runFn RunFunc, start, end uint32) error {
	if end < start {
		return ErrInvalidRange
	}
	count := end - start
	if uint32(workers) > count {
		workers = int(count)
	}
	if workers < 1 {
		workers = 1
	}
	if err := initFn(workers); err != nil {
		return err
	}
	if workers == 1 {
		for i := start; i < end; i++ {
			runFn(i, 0)
		}
		return nil
	}

	var next atomic.Uint32
	next.Store(start)
	var wg sync.WaitGroup
	wg.Add(workers)
	for t := 0; t < workers; t++ {
		go func(threadID int) {
			defer wg.Done()
			for {
				item := next.Add(1) - 1
				if item >= end {
					return
				}
				runFn(item, threadID)
			}
		}(t)
	}
	wg.Wait()
	return nil
}
