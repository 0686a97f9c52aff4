package compute

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/pthm-cable/flock/components"
	"github.com/pthm-cable/flock/systems"
)

// DefaultParallelThreshold is the minimum particle count to use the pool.
// Below this, single-threaded is faster due to goroutine overhead.
const DefaultParallelThreshold = 64

// HostOptions configure the host backend.
type HostOptions struct {
	Workers           int // 0 means GOMAXPROCS, 1 means sequential
	ParallelThreshold int
}

// workChunk is a range of particles for a worker to process.
type workChunk struct {
	start, end int
}

// Host runs the kernel on the CPU, sequentially or across a persistent
// worker pool. The fluid model runs its passes on the same pool.
type Host struct {
	numWorkers int
	threshold  int

	n, dim int
	out    []float32
	// per-worker neighbor buffers
	scratches [][]systems.Neighbor

	// state of the pass being dispatched, read by workers
	kernel systems.Kernel
	view   components.Snapshot
	grid   *systems.Grid
	pass   func(i0, i1, worker int)

	fluid *systems.FluidSolver

	workChan chan workChunk // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool
}

// NewHost creates a host backend.
func NewHost(opts HostOptions) *Host {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	threshold := opts.ParallelThreshold
	if threshold <= 0 {
		threshold = DefaultParallelThreshold
	}
	scratches := make([][]systems.Neighbor, workers)
	for i := range scratches {
		scratches[i] = make([]systems.Neighbor, 0, 64)
	}
	return &Host{
		numWorkers: workers,
		threshold:  threshold,
		scratches:  scratches,
	}
}

// Name implements Backend.
func (h *Host) Name() string {
	if h.numWorkers <= 1 {
		return "host"
	}
	return fmt.Sprintf("host:%d", h.numWorkers)
}

// Workers returns the pool size.
func (h *Host) Workers() int { return h.numWorkers }

// Allocate implements Backend.
func (h *Host) Allocate(n, dim int) error {
	if n < 0 || (dim != 2 && dim != 3) {
		return fmt.Errorf("allocate %d particles of dim %d: %w", n, dim, components.ErrInvalidArgument)
	}
	h.n, h.dim = n, dim
	if cap(h.out) < n*dim {
		h.out = make([]float32, n*dim)
	}
	h.out = h.out[:n*dim]
	return nil
}

// Dispatch implements Backend.
func (h *Host) Dispatch(ctx context.Context, store *components.Store, grid *systems.Grid, p systems.Params, targets []systems.TargetState) error {
	if err := checkSizes(store, grid, h.n, h.dim); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.Model == systems.ModelFluids {
		if h.fluid == nil {
			h.fluid = systems.NewFluidSolver(h.numWorkers)
		}
		return h.fluid.Step(ctx, store, grid, &p, h.forEach)
	}

	h.kernel = systems.Kernel{Params: &p, Targets: targets}
	h.view = store.Snapshot()
	h.grid = grid

	h.forEach(h.n, h.computeChunk)

	// All reads are done; only now publish the new velocities.
	copy(store.Vel, h.out)
	h.grid = nil
	return nil
}

// forEach runs fn over [0, n), inline below the threshold and on the worker
// pool otherwise. It returns once every chunk is done.
func (h *Host) forEach(n int, fn func(i0, i1, worker int)) {
	if n == 0 {
		return
	}
	if h.numWorkers <= 1 || n < h.threshold {
		fn(0, n, 0)
		return
	}
	if !h.running {
		h.startWorkers()
	}

	h.pass = fn
	chunkSize := (n + h.numWorkers - 1) / h.numWorkers
	chunksDispatched := 0
	for w := 0; w < h.numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}
		h.workChan <- workChunk{start: start, end: end}
		chunksDispatched++
	}
	for i := 0; i < chunksDispatched; i++ {
		<-h.doneChan
	}
	h.pass = nil
}

func (h *Host) computeChunk(i0, i1, workerID int) {
	scratch := h.scratches[workerID]
	for i := i0; i < i1; i++ {
		scratch = h.kernel.Step(i, h.view, h.grid, h.out, scratch)
	}
	h.scratches[workerID] = scratch
}

// startWorkers launches persistent worker goroutines.
func (h *Host) startWorkers() {
	h.workChan = make(chan workChunk, h.numWorkers)
	h.doneChan = make(chan struct{}, h.numWorkers)
	h.stopChan = make(chan struct{})
	h.running = true

	for i := 0; i < h.numWorkers; i++ {
		h.wg.Add(1)
		go h.worker(i)
	}
}

// worker processes chunks until stopped. Each worker owns one scratch slot.
func (h *Host) worker(workerID int) {
	defer h.wg.Done()
	for {
		select {
		case <-h.stopChan:
			return
		case chunk := <-h.workChan:
			h.pass(chunk.start, chunk.end, workerID)
			h.doneChan <- struct{}{}
		}
	}
}

// Close implements Backend.
func (h *Host) Close() error {
	if !h.running {
		return nil
	}
	close(h.stopChan)
	h.wg.Wait()
	h.running = false
	return nil
}
