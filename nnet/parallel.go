package nnet

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sync/errgroup"
)

// DefaultThreads returns the number of physical cores, or the logical CPU count if that is
// not known.
func DefaultThreads() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// parallel splits the range [0, n) into contiguous chunks, one per worker. The chunk given to
// each worker depends only on n and threads so results are reproducible.
func parallel(threads, n int, fn func(worker, start, end int)) {
	if threads > n {
		threads = n
	}
	if threads <= 1 {
		fn(0, 0, n)
		return
	}
	chunk := (n + threads - 1) / threads
	var g errgroup.Group
	for w := 0; w < threads; w++ {
		worker, start, end := w, w*chunk, min((w+1)*chunk, n)
		if start >= end {
			break
		}
		g.Go(func() error {
			fn(worker, start, end)
			return nil
		})
	}
	g.Wait()
}
