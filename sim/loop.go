package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pthm-cable/flock/components"
	"github.com/pthm-cable/flock/compute"
	"github.com/pthm-cable/flock/systems"
	"github.com/pthm-cable/flock/telemetry"
)

// ErrInvalidTransition reports a state machine call that is not allowed
// in the current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is the loop lifecycle state.
type State int32

const (
	Idle State = iota
	Stepping
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Stepping:
		return "stepping"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Diagnostics is a point-in-time view of loop counters.
type Diagnostics struct {
	Particles int
	Tick      uint64
	LastStep  time.Duration
	Backend   string
	State     State
	FellBack  bool
	Anomalies int64
}

// Loop owns the particle store, the parameters and the compute backend.
// Step runs on one goroutine; Submit, Snapshot, Diagnostics and the state
// transitions are safe from any goroutine.
type Loop struct {
	opts    Options
	logger  *slog.Logger
	metrics *telemetry.Metrics
	perf    *telemetry.PerfCollector

	// mu is held for a whole step and while closing the backend.
	mu      sync.Mutex
	store   *components.Store
	grid    *systems.Grid
	targets *systems.TargetSystem
	backend compute.Backend
	params  systems.Params
	rng     *rand.Rand
	closed  bool
	frames  frames

	// qmu guards the update queue and the projected parameters.
	qmu       sync.Mutex
	pending   []Update
	projected systems.Params

	state    atomic.Int32
	wake     chan struct{}
	done     chan struct{}
	doneOnce sync.Once

	tick        atomic.Uint64
	lastStep    atomic.Int64
	anomalies   atomic.Int64
	fellBack    atomic.Bool
	backendName atomic.Value
}

// New lays out the particles, spawns targets, selects the backend and
// publishes the initial frame. The loop starts Idle.
func New(opts Options) (*Loop, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.Params = opts.Params.Clone()
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dim := opts.Params.Dim
	store, err := components.NewStore(dim)
	if err != nil {
		return nil, err
	}
	grid, err := systems.NewGrid(opts.Params.Radius)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		opts:      opts,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		perf:      opts.Perf,
		store:     store,
		grid:      grid,
		targets:   systems.NewTargetSystem(dim, opts.Box, opts.Seed),
		params:    opts.Params,
		projected: opts.Params.Clone(),
		rng:       rand.New(rand.NewSource(opts.Seed)),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if l.perf == nil {
		l.perf = telemetry.NewPerfCollector(60)
	}
	l.tick.Store(opts.StartTick)

	if err := store.Resize(opts.Count); err != nil {
		return nil, err
	}
	if err := l.layout(0); err != nil {
		return nil, err
	}
	l.spawnTargets()

	backend := opts.Backend
	if backend == nil {
		copts := opts.Compute
		if copts.Logger == nil {
			copts.Logger = l.logger
		}
		var fellBack bool
		backend, fellBack, err = compute.Select(copts)
		if err != nil {
			return nil, err
		}
		if fellBack {
			l.fellBack.Store(true)
			l.metrics.IncFallback()
		}
	}
	if err := backend.Allocate(opts.Count, dim); err != nil {
		backend.Close()
		return nil, err
	}
	l.setBackend(backend)

	l.frames.publish(l.tick.Load(), store.Snapshot(), l.targets.States(), l.params.Bounds)
	return l, nil
}

// layout places particles [from, N) with the configured layout.
func (l *Loop) layout(from int) error {
	if err := components.ApplyLayout(l.store, l.opts.Layout, l.opts.Box, from, l.opts.InitialSpeed, l.rng); err != nil {
		return err
	}
	l.paint()
	return nil
}

// paint assigns types round-robin and recolors every particle.
func (l *Loop) paint() {
	components.AssignTypes(l.store, l.opts.Types)
	if l.opts.ColorMode == ColorByType {
		components.ColorByType(l.store, l.opts.Types)
	} else {
		components.ColorByPosition(l.store, l.opts.Box)
	}
}

// spawnTargets replaces the targets with opts.Targets.Count fresh ones.
func (l *Loop) spawnTargets() {
	l.targets.Clear()
	for i := 0; i < l.opts.Targets.Count; i++ {
		l.targets.Spawn(l.opts.Targets.effect(i), l.opts.Targets.Speed)
	}
	l.targets.Update(0)
}

func (l *Loop) setBackend(b compute.Backend) {
	l.backend = b
	l.backendName.Store(b.Name())
}

// State returns the current lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) transition(from, to State, op string) error {
	if !l.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%s in state %s: %w", op, l.State(), ErrInvalidTransition)
	}
	return nil
}

// Start moves Idle to Stepping.
func (l *Loop) Start() error { return l.transition(Idle, Stepping, "start") }

// Pause moves Stepping to Paused and waits for an in-flight step to
// finish. Updates submitted while paused are applied on the first step
// after Resume.
func (l *Loop) Pause() error {
	if err := l.transition(Stepping, Paused, "pause"); err != nil {
		return err
	}
	l.mu.Lock()
	l.mu.Unlock()
	return nil
}

// Resume moves Paused to Stepping.
func (l *Loop) Resume() error {
	if err := l.transition(Paused, Stepping, "resume"); err != nil {
		return err
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Stop moves any state to Stopped and releases the backend. It waits for
// an in-flight step to finish first. Safe to call more than once.
func (l *Loop) Stop() {
	l.state.Store(int32(Stopped))
	l.doneOnce.Do(func() { close(l.done) })
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeBackend()
}

// stopLocked is Stop for callers already holding mu.
func (l *Loop) stopLocked() {
	l.state.Store(int32(Stopped))
	l.doneOnce.Do(func() { close(l.done) })
	l.closeBackend()
}

func (l *Loop) closeBackend() {
	if l.closed {
		return
	}
	l.closed = true
	if err := l.backend.Close(); err != nil {
		l.logger.Warn("closing backend", "backend", l.backend.Name(), "error", err)
	}
}

// Done is closed once the loop stops.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Step runs one step. It is a no-op while Paused and fails with
// ErrInvalidTransition before Start or after Stop.
func (l *Loop) Step(ctx context.Context) error {
	if err := l.checkStepping(); err != nil || l.State() == Paused {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Stop or Pause may have won the race for mu.
	if err := l.checkStepping(); err != nil || l.State() == Paused {
		return err
	}
	return l.step(ctx)
}

func (l *Loop) checkStepping() error {
	switch st := l.State(); st {
	case Stepping, Paused:
		return nil
	default:
		return fmt.Errorf("step in state %s: %w", st, ErrInvalidTransition)
	}
}

func (l *Loop) step(ctx context.Context) (err error) {
	perf := l.perf
	perf.StartTick()
	defer func() {
		if err != nil {
			perf.AbortTick()
		}
	}()

	perf.StartPhase(telemetry.PhaseApply)
	if err := l.applyPending(); err != nil {
		l.logger.Error("step failed", "phase", telemetry.PhaseApply, "error", err)
		return err
	}
	p := &l.params

	perf.StartPhase(telemetry.PhaseGrid)
	if err := l.grid.SetRadius(p.Radius); err != nil {
		l.logger.Error("step failed", "phase", telemetry.PhaseGrid, "radius", p.Radius, "error", err)
		return err
	}
	if err := l.grid.Rebuild(l.store.Pos, p.Dim, p.Bounds, p.Periodic()); err != nil {
		l.logger.Error("step failed", "phase", telemetry.PhaseGrid, "error", err)
		return err
	}

	perf.StartPhase(telemetry.PhaseTargets)
	var targets []systems.TargetState
	if p.Weights.Target.Enabled {
		l.targets.Update(p.DT)
		targets = l.targets.States()
	}

	perf.StartPhase(telemetry.PhaseDispatch)
	if err := l.dispatch(ctx, targets); err != nil {
		return err
	}

	perf.StartPhase(telemetry.PhaseIntegrate)
	if an := systems.Integrate(l.store, p); an.Total() > 0 {
		l.anomalies.Add(int64(an.Total()))
		l.metrics.AddAnomalies(an.Total())
		l.logger.Warn("numeric anomaly",
			"tick", l.tick.Load()+1,
			"nan_velocity", an.NaNVelocity,
			"inf_velocity", an.InfVelocity,
			"nan_position", an.NaNPosition,
		)
	}

	perf.StartPhase(telemetry.PhasePublish)
	tick := l.tick.Add(1)
	l.frames.publish(tick, l.store.Snapshot(), l.targets.States(), p.Bounds)

	d := perf.EndTick()
	l.lastStep.Store(int64(d))
	l.metrics.ObserveStep(d, l.store.Len())
	return nil
}

// dispatch runs the backend, falling back to the host on device loss and
// stopping the loop on a buffer mismatch.
func (l *Loop) dispatch(ctx context.Context, targets []systems.TargetState) error {
	err := l.backend.Dispatch(ctx, l.store, l.grid, l.params, targets)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, compute.ErrBufferMismatch):
		l.logger.Error("step failed", "phase", telemetry.PhaseDispatch, "backend", l.backend.Name(), "error", err)
		l.stopLocked()
		return err
	case errors.Is(err, compute.ErrDeviceUnavailable):
		l.logger.Warn("device unavailable, falling back", "backend", l.backend.Name(), "error", err)
		if cerr := l.backend.Close(); cerr != nil {
			l.logger.Warn("closing backend", "backend", l.backend.Name(), "error", cerr)
		}
		host := compute.NewHost(compute.HostOptions{
			Workers:           l.opts.Compute.Workers,
			ParallelThreshold: l.opts.Compute.ParallelThreshold,
		})
		if aerr := host.Allocate(l.store.Len(), l.store.Dim()); aerr != nil {
			return aerr
		}
		l.setBackend(host)
		l.fellBack.Store(true)
		l.metrics.IncFallback()
		return l.backend.Dispatch(ctx, l.store, l.grid, l.params, targets)
	default:
		if ctx.Err() == nil {
			l.logger.Error("step failed", "phase", telemetry.PhaseDispatch, "backend", l.backend.Name(), "error", err)
		}
		return err
	}
}

// Run starts the loop if Idle and steps at TargetHz (0 = unpaced) until
// Stop or ctx cancellation. While Paused it blocks until Resume.
func (l *Loop) Run(ctx context.Context) error {
	if l.State() == Idle {
		if err := l.Start(); err != nil {
			return err
		}
	}

	var pace <-chan time.Time
	if hz := l.opts.TargetHz; hz > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / hz))
		defer ticker.Stop()
		pace = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		default:
		}

		if l.State() == Paused {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.done:
				return nil
			case <-l.wake:
			}
			continue
		}

		if err := l.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if l.State() == Stopped && !errors.Is(err, compute.ErrBufferMismatch) {
				return nil
			}
			return err
		}

		if pace != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.done:
				return nil
			case <-pace:
			}
		}
	}
}

// Acquire returns the latest published frame and pins it against reuse.
// Every Acquire must be paired with Release; the frame must not be
// modified.
func (l *Loop) Acquire() *Frame { return l.frames.acquire() }

// Release unpins a frame returned by Acquire.
func (l *Loop) Release(f *Frame) { l.frames.release(f) }

// Snapshot returns a private copy of the latest published frame.
func (l *Loop) Snapshot() *Frame {
	f := l.Acquire()
	defer l.Release(f)
	return f.Clone()
}

// Diagnostics reports loop counters without blocking the step.
func (l *Loop) Diagnostics() Diagnostics {
	name, _ := l.backendName.Load().(string)
	d := Diagnostics{
		Tick:      l.tick.Load(),
		LastStep:  time.Duration(l.lastStep.Load()),
		Backend:   name,
		State:     l.State(),
		FellBack:  l.fellBack.Load(),
		Anomalies: l.anomalies.Load(),
	}
	if f := l.Acquire(); f != nil {
		d.Particles = f.N
		l.Release(f)
	}
	return d
}

// Perf returns the collector timing each step phase.
func (l *Loop) Perf() *telemetry.PerfCollector { return l.perf }

// Seed returns the layout seed.
func (l *Loop) Seed() int64 { return l.opts.Seed }

// RunState captures what is needed to restart this run.
func (l *Loop) RunState() telemetry.RunState {
	p := l.Params()
	return telemetry.RunState{
		N:      l.Diagnostics().Particles,
		Seed:   l.opts.Seed,
		Tick:   l.tick.Load(),
		Params: p,
	}
}
