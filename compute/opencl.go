//go:build opencl

package compute

import (
	"context"
	"fmt"
	"strings"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"

	"github.com/pthm-cable/flock/components"
	"github.com/pthm-cable/flock/systems"
)

// OpenCL runs the steer kernel on an OpenCL device. The grid is built on
// the host each step and uploaded with the particle state. The fluid model
// has no device kernels and runs its solver on the host.
type OpenCL struct {
	device  *cl.Device
	context *cl.Context
	queue   *cl.CommandQueue
	program *cl.Program
	kernel  *cl.Kernel

	n, dim     int
	builtDim   int
	cellCap    int
	targetCap  int
	attractCap int

	posBuf, velBuf, outBuf *cl.MemObject
	typeBuf                *cl.MemObject
	sortedBuf, cellBuf     *cl.MemObject
	fpBuf, ipBuf           *cl.MemObject
	targetBuf, attractBuf  *cl.MemObject

	fp      []float32
	ip      []int32
	targets []float32

	fluid *systems.FluidSolver
}

// NewOpenCL opens the first GPU (then CPU) device whose name contains
// match, or the first one found when match is empty.
func NewOpenCL(match string) (Backend, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, fmt.Errorf("querying OpenCL platforms: %v: %w", err, ErrDeviceUnavailable)
	}
	var device *cl.Device
	for _, kind := range []cl.DeviceType{cl.DeviceTypeGPU, cl.DeviceTypeCPU} {
		for _, p := range platforms {
			devices, derr := p.GetDevices(kind)
			if derr != nil && derr != cl.ErrDeviceNotFound {
				continue
			}
			for _, d := range devices {
				if match == "" || strings.Contains(strings.ToLower(d.Name()), strings.ToLower(match)) {
					device = d
					break
				}
			}
			if device != nil {
				break
			}
		}
		if device != nil {
			break
		}
	}
	if device == nil {
		return nil, fmt.Errorf("no suitable OpenCL device: %w", ErrDeviceUnavailable)
	}

	ctx, err := cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, fmt.Errorf("creating OpenCL context: %v: %w", err, ErrDeviceUnavailable)
	}
	queue, err := ctx.CreateCommandQueue(device, 0)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("creating OpenCL command queue: %v: %w", err, ErrDeviceUnavailable)
	}
	o := &OpenCL{
		device:  device,
		context: ctx,
		queue:   queue,
		fp:      make([]float32, fpLen),
		ip:      make([]int32, ipLen),
	}
	if o.fpBuf, err = ctx.CreateEmptyBuffer(cl.MemReadOnly, fpLen*4); err != nil {
		o.Close()
		return nil, fmt.Errorf("allocating parameter buffer: %v: %w", err, ErrDeviceUnavailable)
	}
	if o.ipBuf, err = ctx.CreateEmptyBuffer(cl.MemReadOnly, ipLen*4); err != nil {
		o.Close()
		return nil, fmt.Errorf("allocating parameter buffer: %v: %w", err, ErrDeviceUnavailable)
	}
	return o, nil
}

// Name implements Backend.
func (o *OpenCL) Name() string {
	return "opencl:" + o.device.Name()
}

// build compiles the program for dim if it is not already built.
func (o *OpenCL) build(dim int) error {
	if o.program != nil && o.builtDim == dim {
		return nil
	}
	o.releaseProgram()
	program, err := o.context.CreateProgramWithSource([]string{steerKernelSource})
	if err != nil {
		return fmt.Errorf("creating OpenCL program: %w", err)
	}
	if err := program.BuildProgram([]*cl.Device{o.device}, fmt.Sprintf("-DDIM=%d", dim)); err != nil {
		program.Release()
		if buildErr, ok := err.(cl.BuildError); ok {
			return fmt.Errorf("building OpenCL program: %s", string(buildErr))
		}
		return fmt.Errorf("building OpenCL program: %w", err)
	}
	kernel, err := program.CreateKernel("steer")
	if err != nil {
		program.Release()
		return fmt.Errorf("creating OpenCL kernel: %w", err)
	}
	o.program, o.kernel, o.builtDim = program, kernel, dim
	return nil
}

// Allocate implements Backend.
func (o *OpenCL) Allocate(n, dim int) error {
	if n < 0 || (dim != 2 && dim != 3) {
		return fmt.Errorf("allocate %d particles of dim %d: %w", n, dim, components.ErrInvalidArgument)
	}
	if err := o.build(dim); err != nil {
		return err
	}
	o.releaseParticleBuffers()

	vec := max(n*dim*4, 4)
	var err error
	alloc := func(flags cl.MemFlag, size int) *cl.MemObject {
		if err != nil {
			return nil
		}
		var buf *cl.MemObject
		buf, err = o.context.CreateEmptyBuffer(flags, size)
		return buf
	}
	o.posBuf = alloc(cl.MemReadOnly, vec)
	o.velBuf = alloc(cl.MemReadOnly, vec)
	o.outBuf = alloc(cl.MemWriteOnly, vec)
	o.typeBuf = alloc(cl.MemReadOnly, max(n, 4))
	o.sortedBuf = alloc(cl.MemReadOnly, max(n*4, 4))
	if err != nil {
		o.releaseParticleBuffers()
		return fmt.Errorf("allocating particle buffers: %v: %w", err, ErrDeviceUnavailable)
	}
	o.n, o.dim = n, dim
	return nil
}

// grow reallocates buf when it holds fewer than need elements of size bytes.
func (o *OpenCL) grow(buf **cl.MemObject, capacity *int, need, size int) error {
	need = max(need, 1)
	if *buf != nil && *capacity >= need {
		return nil
	}
	if *buf != nil {
		(*buf).Release()
		*buf = nil
	}
	b, err := o.context.CreateEmptyBuffer(cl.MemReadOnly, need*size)
	if err != nil {
		return fmt.Errorf("allocating device buffer: %v: %w", err, ErrDeviceUnavailable)
	}
	*buf, *capacity = b, need
	return nil
}

// Dispatch implements Backend.
func (o *OpenCL) Dispatch(ctx context.Context, store *components.Store, grid *systems.Grid, p systems.Params, targets []systems.TargetState) error {
	if err := checkSizes(store, grid, o.n, o.dim); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Model == systems.ModelFluids {
		if o.fluid == nil {
			o.fluid = systems.NewFluidSolver(1)
		}
		return o.fluid.Step(ctx, store, grid, &p, systems.Serial)
	}
	if o.n == 0 {
		return nil
	}

	cellStarts := grid.CellStarts()
	if err := o.grow(&o.cellBuf, &o.cellCap, len(cellStarts), 4); err != nil {
		return err
	}
	if err := o.grow(&o.targetBuf, &o.targetCap, len(targets)*targetStride, 4); err != nil {
		return err
	}
	if err := o.grow(&o.attractBuf, &o.attractCap, len(p.Field.Attraction), 4); err != nil {
		return err
	}
	o.packParams(grid, &p, len(targets))
	o.targets = o.targets[:0]
	for _, t := range targets {
		o.targets = append(o.targets, t.Pos[0], t.Pos[1], t.Pos[2], t.Radius, t.Sign, t.Strength)
	}

	q := o.queue
	writes := []func() error{
		func() error { _, err := q.EnqueueWriteBufferFloat32(o.posBuf, false, 0, store.Pos, nil); return err },
		func() error { _, err := q.EnqueueWriteBufferFloat32(o.velBuf, false, 0, store.Vel, nil); return err },
		func() error {
			_, err := q.EnqueueWriteBuffer(o.typeBuf, false, 0, o.n, unsafe.Pointer(&store.Type[0]), nil)
			return err
		},
		func() error {
			sorted := grid.Sorted()
			_, err := q.EnqueueWriteBuffer(o.sortedBuf, false, 0, len(sorted)*4, unsafe.Pointer(&sorted[0]), nil)
			return err
		},
		func() error {
			_, err := q.EnqueueWriteBuffer(o.cellBuf, false, 0, len(cellStarts)*4, unsafe.Pointer(&cellStarts[0]), nil)
			return err
		},
		func() error { _, err := q.EnqueueWriteBufferFloat32(o.fpBuf, false, 0, o.fp, nil); return err },
		func() error {
			_, err := q.EnqueueWriteBuffer(o.ipBuf, false, 0, len(o.ip)*4, unsafe.Pointer(&o.ip[0]), nil)
			return err
		},
		func() error {
			if len(o.targets) == 0 {
				return nil
			}
			_, err := q.EnqueueWriteBufferFloat32(o.targetBuf, false, 0, o.targets, nil)
			return err
		},
		func() error {
			if len(p.Field.Attraction) == 0 {
				return nil
			}
			_, err := q.EnqueueWriteBufferFloat32(o.attractBuf, false, 0, p.Field.Attraction, nil)
			return err
		},
	}
	for _, w := range writes {
		if err := w(); err != nil {
			return fmt.Errorf("uploading state: %v: %w", err, ErrDeviceUnavailable)
		}
	}

	if err := o.kernel.SetArgs(
		int32(o.n),
		o.posBuf, o.velBuf, o.typeBuf,
		o.sortedBuf, o.cellBuf,
		o.fpBuf, o.ipBuf,
		o.targetBuf, o.attractBuf,
		o.outBuf,
	); err != nil {
		return fmt.Errorf("setting kernel arguments: %v: %w", err, ErrDeviceUnavailable)
	}
	if _, err := q.EnqueueNDRangeKernel(o.kernel, nil, []int{o.n}, nil, nil); err != nil {
		return fmt.Errorf("launching steer kernel: %v: %w", err, ErrDeviceUnavailable)
	}
	// Blocking read; all kernel reads of velBuf are complete before store.Vel changes.
	if _, err := q.EnqueueReadBufferFloat32(o.outBuf, true, 0, store.Vel, nil); err != nil {
		return fmt.Errorf("reading velocities: %v: %w", err, ErrDeviceUnavailable)
	}
	return nil
}

func (o *OpenCL) packParams(grid *systems.Grid, p *systems.Params, nTargets int) {
	origin, cs, ext, res := grid.Origin(), grid.CellSize(), grid.Extent(), grid.Resolution()
	copy(o.fp[fpOrigin:], origin[:])
	copy(o.fp[fpCellSize:], cs[:])
	copy(o.fp[fpExtent:], ext[:])
	o.fp[fpRadius] = p.Radius
	o.fp[fpSepRadius] = p.SepRadius()
	o.fp[fpMaxSpeed] = p.MaxSpeed
	o.fp[fpMaxSteer] = p.MaxSteer
	o.fp[fpDT] = p.DT
	w := p.Weights
	o.fp[fpWeights] = w.Separation.Weight
	o.fp[fpWeights+1] = w.Alignment.Weight
	o.fp[fpWeights+2] = w.Cohesion.Weight
	o.fp[fpWeights+3] = w.Target.Weight
	o.fp[fpRepulsion] = p.Field.Repulsion
	o.fp[fpCore] = p.Field.Core

	for a := 0; a < 3; a++ {
		o.ip[ipRes+a] = int32(res[a])
	}
	o.ip[ipPeriodic] = boolInt(grid.Periodic())
	o.ip[ipMaxNeighbors] = int32(p.MaxNeighbors)
	o.ip[ipEnabled] = boolInt(w.Separation.Enabled) |
		boolInt(w.Alignment.Enabled)<<1 |
		boolInt(w.Cohesion.Enabled)<<2 |
		boolInt(w.Target.Enabled)<<3
	o.ip[ipModel] = int32(p.Model)
	o.ip[ipFieldTypes] = int32(p.Field.Types)
	o.ip[ipTargets] = int32(nTargets)
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (o *OpenCL) releaseParticleBuffers() {
	for _, b := range []**cl.MemObject{&o.posBuf, &o.velBuf, &o.outBuf, &o.typeBuf, &o.sortedBuf} {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}
}

func (o *OpenCL) releaseProgram() {
	if o.kernel != nil {
		o.kernel.Release()
		o.kernel = nil
	}
	if o.program != nil {
		o.program.Release()
		o.program = nil
	}
}

// Close implements Backend.
func (o *OpenCL) Close() error {
	o.releaseParticleBuffers()
	for _, b := range []**cl.MemObject{&o.cellBuf, &o.targetBuf, &o.attractBuf, &o.fpBuf, &o.ipBuf} {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}
	o.releaseProgram()
	if o.queue != nil {
		o.queue.Release()
		o.queue = nil
	}
	if o.context != nil {
		o.context.Release()
		o.context = nil
	}
	return nil
}
