// Package compute runs the behavior kernel over every particle on a host
// worker pool or an OpenCL device.
package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/flock/components"
	"github.com/pthm-cable/flock/systems"
)

var (
	// ErrDeviceUnavailable reports that no usable accelerator was found or
	// that it failed mid-run.
	ErrDeviceUnavailable = errors.New("compute device unavailable")
	// ErrBufferMismatch reports a store whose size differs from the
	// allocated buffers.
	ErrBufferMismatch = errors.New("buffer size mismatch")
)

// Backend executes one behavior pass per step.
type Backend interface {
	// Name identifies the executor, e.g. "host" or "opencl:<device>".
	Name() string
	// Allocate sizes internal buffers for n particles of the given dimension.
	Allocate(n, dim int) error
	// Dispatch computes every particle's new velocity from the current
	// state and writes the results into store.Vel once all are done.
	Dispatch(ctx context.Context, store *components.Store, grid *systems.Grid, p systems.Params, targets []systems.TargetState) error
	// Close releases buffers and workers. Safe to call more than once.
	Close() error
}

// Kind names accepted by Select.
const (
	KindAuto   = "auto"
	KindHost   = "host"
	KindOpenCL = "opencl"
)

// Options configure backend selection.
type Options struct {
	Kind              string
	Workers           int // 0 means GOMAXPROCS
	ParallelThreshold int // 0 means the default
	Device            string
	Logger            *slog.Logger
}

// Select builds the requested backend. With KindAuto an unavailable device
// falls back to the host backend and fellBack is true.
func Select(opts Options) (b Backend, fellBack bool, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	host := func() Backend {
		return NewHost(HostOptions{Workers: opts.Workers, ParallelThreshold: opts.ParallelThreshold})
	}

	switch opts.Kind {
	case KindHost:
		b = host()
	case KindOpenCL:
		b, err = NewOpenCL(opts.Device)
		if err != nil {
			return nil, false, err
		}
	case KindAuto, "":
		b, err = NewOpenCL(opts.Device)
		if err != nil {
			if !errors.Is(err, ErrDeviceUnavailable) {
				return nil, false, err
			}
			logger.Warn("device unavailable, falling back", "backend", KindHost, "error", err)
			b, fellBack = host(), true
		}
	default:
		return nil, false, fmt.Errorf("unknown backend %q: %w", opts.Kind, components.ErrInvalidArgument)
	}
	logger.Info("backend selected", "backend", b.Name(), "fallback", fellBack)
	return b, fellBack, nil
}

// checkSizes verifies that store and grid match the allocation.
func checkSizes(store *components.Store, grid *systems.Grid, n, dim int) error {
	if store.Len() != n || store.Dim() != dim {
		return fmt.Errorf("store has %d particles of dim %d, allocated %d of dim %d: %w",
			store.Len(), store.Dim(), n, dim, ErrBufferMismatch)
	}
	if grid.Len() != n {
		return fmt.Errorf("grid indexes %d particles, allocated %d: %w", grid.Len(), n, ErrBufferMismatch)
	}
	return nil
}
