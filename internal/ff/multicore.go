package ff

import (
	"runtime"
	"sync"
)

// Worker is a bounded pool for data-parallel field work. Work inside a scope
// is partitioned into at most 2^LogNumCPUs chunks with no shared mutable
// state between them.
type Worker struct {
	logCPUs uint32
}

// NewWorker sizes the pool to the number of available CPUs.
func NewWorker() *Worker {
	return &Worker{logCPUs: log2Floor(runtime.NumCPU())}
}

// NewWorkerWithCPUs creates a pool that behaves as if 2^logCPUs CPUs were
// available. Used by tests to pin the parallel split factor.
func NewWorkerWithCPUs(logCPUs uint32) *Worker {
	return &Worker{logCPUs: logCPUs}
}

// LogNumCPUs reports log2 of the pool size.
func (w *Worker) LogNumCPUs() uint32 {
	return w.logCPUs
}

// Scope partitions [0, n) into chunks of ceil(n / 2^logCPUs) elements and
// runs f(start, end) for each chunk concurrently, returning when all chunks
// are done. With n == 0, f is invoked once per virtual CPU with an empty
// range so callers can spawn exactly 2^logCPUs tasks.
func (w *Worker) Scope(n int, f func(chunkIndex, start, end int)) {
	cpus := 1 << w.logCPUs
	if n == 0 {
		var wg sync.WaitGroup
		wg.Add(cpus)
		for i := 0; i < cpus; i++ {
			go func(i int) {
				defer wg.Done()
				f(i, 0, 0)
			}(i)
		}
		wg.Wait()
		return
	}

	chunk := (n + cpus - 1) / cpus
	var wg sync.WaitGroup
	for i, start := 0, 0; start < n; i, start = i+1, start+chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(i, start, end int) {
			defer wg.Done()
			f(i, start, end)
		}(i, start, end)
	}
	wg.Wait()
}

func log2Floor(n int) uint32 {
	var l uint32
	for n > 1 {
		n >>= 1
		l++
	}
	return l
}
