// Package parallel defines the work distribution contract the codec engine
// uses to spread costly inner loops over caller-supplied threads.
//
// The engine owns the work: it hands a Runner an init callback and a per-item
// run callback. The Runner owns the threads: it calls init exactly once with
// the number of threads it is going to use, then calls run once for every
// item in [start, end). The engine never creates goroutines by itself.
package parallel

import "errors"

// InitFunc is called by a Runner exactly once per parallel section, before
// any RunFunc call, with the number of threads the section will use.
// A non-nil error aborts the section.
type InitFunc func(numThreads int) error

// RunFunc processes one item. threadID is in [0, numThreads) of the
// preceding InitFunc call.
type RunFunc func(item uint32, threadID int)

// Runner distributes the items of a parallel section.
//
// Implementations must call init before any run, must return the init error
// unchanged when init fails, and must call run exactly once for every item
// in [start, end). There is no ordering guarantee between items and no
// guarantee that a threadID maps to the same goroutine across sections.
type Runner interface {
	RunParallel(initFn InitFunc, runFn RunFunc, start, end uint32) error
}

// SizeAware is implemented by runners that want to observe the image
// dimensions once basic info is available, before the main parallel
// section of a decode starts.
type SizeAware interface {
	OnBasicInfo(width, height uint32)
}

// ErrInvalidRange is returned when end < start.
var ErrInvalidRange = errors.New("parallel: invalid item range")

// Sequential runs every item on the calling goroutine with a single thread.
type Sequential struct{}

// RunParallel implements Runner.
func (Sequential) RunParallel(initFn InitFunc, runFn RunFunc, start, end uint32) error {
	if end < start {
		return ErrInvalidRange
	}
	if err := initFn(1); err != nil {
		return err
	}
	for i := start; i < end; i++ {
		runFn(i, 0)
	}
	return nil
}

// Run executes a section on r, falling back to Sequential when r is nil.
func Run(r Runner, initFn InitFunc, runFn RunFunc, start, end uint32) error {
	if r == nil {
		r = Sequential{}
	}
	return r.RunParallel(initFn, runFn, start, end)
}
