package sim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/pthm-cable/flock/components"
	"github.com/pthm-cable/flock/compute"
	"github.com/pthm-cable/flock/config"
	"github.com/pthm-cable/flock/systems"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// newTestLoop builds a started host-backed loop without targets.
func newTestLoop(t *testing.T, dim, n int, mutate func(*Options)) *Loop {
	t.Helper()
	opts := DefaultOptions(dim)
	opts.Count = n
	opts.Targets.Count = 0
	opts.Logger = quiet
	opts.Compute = compute.Options{Kind: compute.KindHost, Workers: 1}
	if mutate != nil {
		mutate(&opts)
	}
	l, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(l.Stop)
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return l
}

func stepN(t *testing.T, l *Loop, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := l.Step(context.Background()); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}

func noRules(o *Options) {
	o.Params.Weights.Separation.Enabled = false
	o.Params.Weights.Alignment.Enabled = false
	o.Params.Weights.Cohesion.Enabled = false
	o.Params.Weights.Target.Enabled = false
}

func TestStateTransitions(t *testing.T) {
	opts := DefaultOptions(2)
	opts.Count = 10
	opts.Logger = quiet
	l, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	steps := []struct {
		name    string
		op      func() error
		wantErr bool
		want    State
	}{
		{"step before start", func() error { return l.Step(ctx) }, true, Idle},
		{"pause before start", l.Pause, true, Idle},
		{"start", l.Start, false, Stepping},
		{"start twice", l.Start, true, Stepping},
		{"resume while stepping", l.Resume, true, Stepping},
		{"step", func() error { return l.Step(ctx) }, false, Stepping},
		{"pause", l.Pause, false, Paused},
		{"pause twice", l.Pause, true, Paused},
		{"step while paused", func() error { return l.Step(ctx) }, false, Paused},
		{"resume", l.Resume, false, Stepping},
		{"stop", func() error { l.Stop(); return nil }, false, Stopped},
		{"stop twice", func() error { l.Stop(); return nil }, false, Stopped},
		{"step after stop", func() error { return l.Step(ctx) }, true, Stopped},
		{"start after stop", l.Start, true, Stopped},
		{"resume after stop", l.Resume, true, Stopped},
		{"submit after stop", func() error { return l.Submit(Update{}) }, true, Stopped},
	}
	for _, s := range steps {
		err := s.op()
		if s.wantErr && !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s: error %v, want ErrInvalidTransition", s.name, err)
		}
		if !s.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", s.name, err)
		}
		if got := l.State(); got != s.want {
			t.Errorf("%s: state %s, want %s", s.name, got, s.want)
		}
	}
	select {
	case <-l.Done():
	default:
		t.Error("Done not closed after Stop")
	}
}

func TestDeterminism(t *testing.T) {
	for _, dim := range []int{2, 3} {
		mutate := func(o *Options) {
			o.Layout = components.LayoutRandom
			o.InitialSpeed = 4
			o.Targets.Count = 2
			o.Targets.Mode = TargetAlternate
			o.Seed = 99
		}
		a := newTestLoop(t, dim, 400, mutate)
		b := newTestLoop(t, dim, 400, mutate)
		stepN(t, a, 25)
		stepN(t, b, 25)

		fa, fb := a.Snapshot(), b.Snapshot()
		if fa.Tick != 25 || fb.Tick != 25 {
			t.Fatalf("dim %d: ticks %d %d", dim, fa.Tick, fb.Tick)
		}
		for i := range fa.Pos {
			if fa.Pos[i] != fb.Pos[i] || fa.Vel[i] != fb.Vel[i] {
				t.Fatalf("dim %d: runs diverge at component %d: %v/%v vs %v/%v",
					dim, i, fa.Pos[i], fa.Vel[i], fb.Pos[i], fb.Vel[i])
			}
		}
	}
}

func TestPauseSemantics(t *testing.T) {
	l := newTestLoop(t, 3, 200, func(o *Options) {
		o.Layout = components.LayoutRandom
		o.InitialSpeed = 8
	})
	stepN(t, l, 1)

	if err := l.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := l.Submit(Update{MaxSpeed: Ptr(float32(0.5))}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := l.Params().MaxSpeed; got != 0.5 {
		t.Errorf("projected max speed %v, want 0.5", got)
	}

	before := l.Snapshot()
	stepN(t, l, 3)
	after := l.Snapshot()
	if after.Tick != before.Tick {
		t.Fatalf("paused loop advanced from tick %d to %d", before.Tick, after.Tick)
	}
	if l.params.MaxSpeed != 10 {
		t.Errorf("update applied while paused: active max speed %v", l.params.MaxSpeed)
	}
	fast := false
	for i := 0; i < after.N; i++ {
		if systems.Length(after.Velocity(i)) > 0.5+1e-4 {
			fast = true
			break
		}
	}
	if !fast {
		t.Fatal("scene too slow to observe the update")
	}

	if err := l.Resume(); err != nil {
		t.Fatal(err)
	}
	stepN(t, l, 1)
	f := l.Snapshot()
	for i := 0; i < f.N; i++ {
		if s := systems.Length(f.Velocity(i)); s > 0.5+1e-4 {
			t.Fatalf("particle %d speed %v after resume, want <= 0.5", i, s)
		}
	}
}

func TestSpeedClampPreservesDirection(t *testing.T) {
	const maxSpeed = 2
	l := newTestLoop(t, 3, 300, func(o *Options) {
		noRules(o)
		o.Layout = components.LayoutRandom
		o.InitialSpeed = 50
		o.Params.MaxSpeed = maxSpeed
	})
	start := l.Snapshot()
	stepN(t, l, 1)
	end := l.Snapshot()

	for i := 0; i < end.N; i++ {
		v0, v1 := start.Velocity(i), end.Velocity(i)
		s1 := systems.Length(v1)
		if math.Abs(float64(s1-maxSpeed)) > 1e-4 {
			t.Fatalf("particle %d speed %v, want %v", i, s1, maxSpeed)
		}
		dot := (v0[0]*v1[0] + v0[1]*v1[1] + v0[2]*v1[2]) / (systems.Length(v0) * s1)
		if math.Abs(float64(dot-1)) > 1e-5 {
			t.Fatalf("particle %d direction changed, cos %v", i, dot)
		}
	}
}

func TestBoundaryPolicies(t *testing.T) {
	tests := []struct {
		name     string
		boundary systems.Boundary
		wantX    float32
		wantVX   float32
	}{
		{"wrap", systems.BoundaryWrap, -49.5, 10},
		{"bounce", systems.BoundaryBounce, 49.5, -10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLoop(t, 2, 1, func(o *Options) {
				noRules(o)
				o.Params.Boundary = tt.boundary
			})
			l.store.SetPosition(0, [3]float32{49.5, 0, 0})
			l.store.SetVelocity(0, [3]float32{10, 0, 0})
			stepN(t, l, 1)

			f := l.Snapshot()
			p, v := f.Position(0), f.Velocity(0)
			if math.Abs(float64(p[0]-tt.wantX)) > 1e-4 {
				t.Errorf("x = %v, want %v", p[0], tt.wantX)
			}
			if math.Abs(float64(v[0]-tt.wantVX)) > 1e-4 {
				t.Errorf("vx = %v, want %v", v[0], tt.wantVX)
			}
		})
	}
}

func TestResize(t *testing.T) {
	l := newTestLoop(t, 3, 100, nil)

	for _, n := range []int{1000, 10, 0, 64} {
		if err := l.Resize(n); err != nil {
			t.Fatalf("Resize(%d): %v", n, err)
		}
		if got, prev := l.Snapshot().N, l.store.Len(); got != prev {
			t.Errorf("resize to %d visible before the step boundary", n)
		}
		stepN(t, l, 1)
		f := l.Snapshot()
		if f.N != n || len(f.Pos) != n*3 || len(f.Vel) != n*3 || len(f.Color) != n*3 || len(f.Type) != n {
			t.Errorf("after Resize(%d): N=%d pos=%d vel=%d color=%d type=%d",
				n, f.N, len(f.Pos), len(f.Vel), len(f.Color), len(f.Type))
		}
		if d := l.Diagnostics(); d.Particles != n {
			t.Errorf("diagnostics report %d particles, want %d", d.Particles, n)
		}
	}

	if err := l.Resize(-1); !errors.Is(err, components.ErrInvalidArgument) {
		t.Errorf("Resize(-1) = %v, want ErrInvalidArgument", err)
	}
}

func TestBufferMismatchStops(t *testing.T) {
	l := newTestLoop(t, 2, 50, nil)
	stepN(t, l, 1)

	// Grow the store behind the backend's back.
	if err := l.store.Resize(60); err != nil {
		t.Fatal(err)
	}
	err := l.Step(context.Background())
	if !errors.Is(err, compute.ErrBufferMismatch) {
		t.Fatalf("Step = %v, want ErrBufferMismatch", err)
	}
	if l.State() != Stopped {
		t.Errorf("state %s after mismatch, want stopped", l.State())
	}
	if err := l.Step(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Step after mismatch = %v, want ErrInvalidTransition", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	l := newTestLoop(t, 3, 10, nil)
	before := l.Params()

	tests := []struct {
		name string
		u    Update
	}{
		{"negative radius", Update{Radius: Ptr(float32(-1))}},
		{"zero dt", Update{DT: Ptr(float32(0))}},
		{"nan weight", Update{Cohesion: &systems.Rule{Enabled: true, Weight: float32(math.NaN())}}},
		{"negative count", Update{Count: Ptr(-5)}},
		{"negative targets", Update{Targets: Ptr(-1)}},
		{"bounce without bounds", Update{Bounded: Ptr(false), Boundary: Ptr(systems.BoundaryBounce)}},
		{"field without matrix", Update{Model: Ptr(systems.ModelField)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := l.Submit(tt.u); !errors.Is(err, components.ErrInvalidArgument) {
				t.Errorf("Submit = %v, want ErrInvalidArgument", err)
			}
		})
	}

	if len(l.pending) != 0 {
		t.Errorf("rejected updates queued: %d", len(l.pending))
	}
	after := l.Params()
	if after.Radius != before.Radius || after.DT != before.DT || after.Boundary != before.Boundary {
		t.Errorf("rejected updates changed params: %+v", after)
	}
}

func TestUpdatesApplyInOrder(t *testing.T) {
	l := newTestLoop(t, 2, 10, nil)
	for _, r := range []float32{3, 5, 6} {
		if err := l.Submit(Update{Radius: Ptr(r)}); err != nil {
			t.Fatal(err)
		}
	}
	field := systems.Field{Types: 1, Attraction: []float32{1}, Repulsion: 1, Core: 0.2}
	if err := l.Submit(Update{Model: Ptr(systems.ModelField), Field: &field}); err != nil {
		t.Fatalf("field update rejected: %v", err)
	}
	field.Attraction[0] = -7 // must not leak into the queued copy

	stepN(t, l, 1)
	if l.params.Radius != 6 || l.grid.Radius() != 6 {
		t.Errorf("radius %v / grid %v, want 6", l.params.Radius, l.grid.Radius())
	}
	if l.params.Model != systems.ModelField || l.params.Field.Attraction[0] != 1 {
		t.Errorf("field update not applied as submitted: %+v", l.params.Field)
	}
}

// unavailable fails every dispatch the way a lost device does.
type unavailable struct{ allocated int }

func (u *unavailable) Name() string { return "opencl:lost" }

func (u *unavailable) Allocate(n, dim int) error { u.allocated = n; return nil }

func (u *unavailable) Dispatch(context.Context, *components.Store, *systems.Grid, systems.Params, []systems.TargetState) error {
	return compute.ErrDeviceUnavailable
}

func (u *unavailable) Close() error { return nil }

func TestDeviceFallbackMatchesHost(t *testing.T) {
	mutate := func(o *Options) {
		o.Layout = components.LayoutRandom
		o.InitialSpeed = 3
		o.Targets.Count = 1
	}
	host := newTestLoop(t, 3, 500, mutate)
	lost := newTestLoop(t, 3, 500, func(o *Options) {
		mutate(o)
		o.Backend = &unavailable{}
	})

	stepN(t, host, 10)
	stepN(t, lost, 10)

	d := lost.Diagnostics()
	if !d.FellBack || d.Backend != "host" {
		t.Errorf("diagnostics after device loss: %+v", d)
	}
	fh, fl := host.Snapshot(), lost.Snapshot()
	for i := range fh.Pos {
		if math.Abs(float64(fh.Pos[i]-fl.Pos[i])) > 1e-5 || math.Abs(float64(fh.Vel[i]-fl.Vel[i])) > 1e-5 {
			t.Fatalf("fallback output differs at %d: %v/%v vs %v/%v", i, fh.Pos[i], fh.Vel[i], fl.Pos[i], fl.Vel[i])
		}
	}
}

func TestFramesAreIsolated(t *testing.T) {
	l := newTestLoop(t, 2, 50, func(o *Options) { o.InitialSpeed = 5 })

	copied := l.Snapshot()
	pinned := l.Acquire()
	pinnedPos := append([]float32(nil), pinned.Pos...)

	stepN(t, l, 4)

	if pinned.Tick != 0 {
		t.Errorf("pinned frame rewritten to tick %d", pinned.Tick)
	}
	for i := range pinnedPos {
		if pinned.Pos[i] != pinnedPos[i] {
			t.Fatalf("pinned frame position %d changed", i)
		}
	}
	l.Release(pinned)

	if copied.Tick != 0 {
		t.Errorf("snapshot copy changed to tick %d", copied.Tick)
	}
	if got := l.Snapshot().Tick; got != 4 {
		t.Errorf("latest tick %d, want 4", got)
	}
}

func TestReset(t *testing.T) {
	fresh := newTestLoop(t, 3, 300, nil)
	stepN(t, fresh, 1)

	l := newTestLoop(t, 3, 300, nil)
	stepN(t, l, 5)
	if err := l.Reset(); err != nil {
		t.Fatal(err)
	}
	stepN(t, l, 1)

	a, b := fresh.Snapshot(), l.Snapshot()
	for i := range a.Pos {
		if a.Pos[i] != b.Pos[i] {
			t.Fatalf("reset layout differs at %d: %v vs %v", i, a.Pos[i], b.Pos[i])
		}
	}
}

func TestNumericAnomalyRepaired(t *testing.T) {
	l := newTestLoop(t, 3, 20, noRules)
	nan := float32(math.NaN())
	l.store.SetVelocity(3, [3]float32{nan, 0, 0})
	stepN(t, l, 1)

	if d := l.Diagnostics(); d.Anomalies != 1 {
		t.Errorf("anomalies = %d, want 1", d.Anomalies)
	}
	f := l.Snapshot()
	for i, v := range f.Vel {
		if math.IsNaN(float64(v)) {
			t.Fatalf("velocity component %d still NaN", i)
		}
	}
	for i, p := range f.Pos {
		if math.IsNaN(float64(p)) {
			t.Fatalf("position component %d NaN", i)
		}
	}
}

func TestRunPacedUntilCancel(t *testing.T) {
	opts := DefaultOptions(2)
	opts.Count = 64
	opts.Logger = quiet
	opts.TargetHz = 200
	l, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := l.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v, want deadline exceeded", err)
	}
	tick := l.Diagnostics().Tick
	if tick == 0 || tick > 40 {
		t.Errorf("paced run made %d steps in 100ms at 200Hz", tick)
	}
}

func TestRunPauseResumeStop(t *testing.T) {
	opts := DefaultOptions(2)
	opts.Count = 64
	opts.Logger = quiet
	l, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() { errc <- l.Run(context.Background()) }()

	waitTick := func(min uint64) {
		deadline := time.Now().Add(2 * time.Second)
		for l.Diagnostics().Tick < min {
			if time.Now().After(deadline) {
				t.Fatalf("loop stuck below tick %d", min)
			}
			time.Sleep(time.Millisecond)
		}
	}
	waitTick(3)

	if err := l.Pause(); err != nil {
		t.Fatal(err)
	}
	paused := l.Diagnostics().Tick
	time.Sleep(20 * time.Millisecond)
	if got := l.Diagnostics().Tick; got != paused {
		t.Errorf("ticks advanced while paused: %d -> %d", paused, got)
	}

	if err := l.Resume(); err != nil {
		t.Fatal(err)
	}
	waitTick(paused + 3)

	l.Stop()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run after Stop = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	opts, err := OptionsFromConfig(cfg, 5)
	if err != nil {
		t.Fatalf("OptionsFromConfig: %v", err)
	}
	if opts.Count != cfg.Derived.Count || opts.Params.Dim != 3 {
		t.Errorf("count %d dim %d", opts.Count, opts.Params.Dim)
	}
	if opts.Params.Bounds == nil || opts.Params.Bounds.Max[0] != 50 {
		t.Errorf("bounds = %v, want centered 100 box", opts.Params.Bounds)
	}
	if len(opts.Params.Field.Attraction) != 9 || opts.Params.Field.Attraction[1] != -0.5 {
		t.Errorf("attraction = %v", opts.Params.Field.Attraction)
	}
	if !opts.Params.Weights.Target.Enabled || opts.Targets.RadiusEffect != 2 {
		t.Errorf("target settings = %+v / %+v", opts.Params.Weights.Target, opts.Targets)
	}

	cfg.World.Bounded = false
	cfg.World.Boundary = "bounce"
	cfg.Field.Attraction = nil
	opts, err = OptionsFromConfig(cfg, 5)
	if err != nil {
		t.Fatalf("unbounded config: %v", err)
	}
	if opts.Params.Bounds != nil || opts.Params.Boundary != systems.BoundaryWrap {
		t.Errorf("unbounded world kept bounds %v / %s", opts.Params.Bounds, opts.Params.Boundary)
	}
	again := RandomAttraction(cfg.Particles.Types, 5)
	for i, a := range opts.Params.Field.Attraction {
		if a != again[i] {
			t.Fatalf("seeded attraction not reproducible at %d", i)
		}
	}
	for a := 0; a < 3; a++ {
		if opts.Params.Field.Attraction[a*3+a] != 1 {
			t.Errorf("self attraction of type %d = %v", a, opts.Params.Field.Attraction[a*3+a])
		}
	}
}

func TestRunStateReflectsLoop(t *testing.T) {
	l := newTestLoop(t, 2, 40, func(o *Options) { o.Seed = 77 })
	stepN(t, l, 3)
	if err := l.Submit(Update{MaxSteer: Ptr(float32(1.5))}); err != nil {
		t.Fatal(err)
	}
	st := l.RunState()
	if st.N != 40 || st.Seed != 77 || st.Tick != 3 || st.Params.MaxSteer != 1.5 {
		t.Errorf("run state = %+v", st)
	}
}

func TestRestoreFromRunState(t *testing.T) {
	var first *Frame
	l := newTestLoop(t, 3, 50, func(o *Options) { o.Seed = 9 })
	first = l.Snapshot()
	stepN(t, l, 4)
	if err := l.Submit(Update{Radius: Ptr(float32(6)), Bounded: Ptr(false)}); err != nil {
		t.Fatal(err)
	}
	st := l.RunState()

	var opts Options
	restored := newTestLoop(t, 3, 10, func(o *Options) {
		if err := o.Restore(st); err != nil {
			t.Fatalf("Restore: %v", err)
		}
		opts = *o
	})
	if opts.Count != 50 || opts.Seed != 9 || opts.Params.Radius != 6 || opts.Params.Bounds != nil {
		t.Errorf("restored options %+v", opts)
	}

	f := restored.Snapshot()
	if f.Tick != 4 || f.N != 50 {
		t.Errorf("restored frame tick %d n %d", f.Tick, f.N)
	}
	for i := range first.Pos {
		if f.Pos[i] != first.Pos[i] {
			t.Fatalf("restored layout differs at %d: %v vs %v", i, f.Pos[i], first.Pos[i])
		}
	}

	bad := st
	bad.Params.DT = 0
	if err := opts.Restore(bad); !errors.Is(err, components.ErrInvalidArgument) {
		t.Errorf("Restore with bad params = %v", err)
	}
}

// capped refuses allocations above max.
type capped struct {
	*compute.Host
	max int
}

func (c *capped) Allocate(n, dim int) error {
	if n > c.max {
		return errors.New("out of device memory")
	}
	return c.Host.Allocate(n, dim)
}

func TestFailedUpdateResyncsParams(t *testing.T) {
	l := newTestLoop(t, 2, 50, func(o *Options) {
		o.Backend = &capped{Host: compute.NewHost(compute.HostOptions{Workers: 1}), max: 100}
	})
	stepN(t, l, 1)

	first, last := float32(7), float32(3)
	if err := l.Submit(Update{MaxSpeed: &first}); err != nil {
		t.Fatal(err)
	}
	if err := l.Resize(500); err != nil {
		t.Fatal(err)
	}
	if err := l.Submit(Update{MaxSpeed: &last}); err != nil {
		t.Fatal(err)
	}
	if got := l.Params().MaxSpeed; got != last {
		t.Fatalf("projected max speed %v before the step, want %v", got, last)
	}

	if err := l.Step(context.Background()); err == nil {
		t.Fatal("expected the oversized resize to fail")
	}
	if got, active := l.Params().MaxSpeed, l.params.MaxSpeed; got != active || active != first {
		t.Errorf("projected max speed %v, active %v, want both %v", got, active, first)
	}
	if l.store.Len() != 50 {
		t.Errorf("store has %d particles after failed resize, want 50", l.store.Len())
	}

	stepN(t, l, 2)
	if f := l.Snapshot(); f.N != 50 {
		t.Errorf("frame has %d particles, want 50", f.N)
	}
}

func TestFluidDamSettles(t *testing.T) {
	l := newTestLoop(t, 2, 400, func(o *Options) {
		noRules(o)
		o.Layout = components.LayoutDam
		o.Params.Model = systems.ModelFluids
		o.Params.Boundary = systems.BoundaryBounce
		o.Params.MaxSpeed = 30
	})
	meanY := func() float64 {
		f := l.Snapshot()
		var sum float64
		for i := 0; i < f.N; i++ {
			sum += float64(f.Pos[i*2+1])
		}
		return sum / float64(f.N)
	}
	before := meanY()
	stepN(t, l, 30)

	f := l.Snapshot()
	for i := 0; i < f.N; i++ {
		p := [3]float32{f.Pos[i*2], f.Pos[i*2+1]}
		if !l.opts.Box.Contains(p, 2) {
			t.Fatalf("particle %d left the box: %v", i, p)
		}
	}
	if after := meanY(); after >= before {
		t.Errorf("mean height %v -> %v, want the column to slump", before, after)
	}
	if d := l.Diagnostics(); d.Anomalies != 0 {
		t.Errorf("%d numeric anomalies", d.Anomalies)
	}
}

func TestSubmitFluidValidated(t *testing.T) {
	l := newTestLoop(t, 3, 20, nil)
	bad := systems.DefaultFluid()
	bad.Iterations = 0
	err := l.Submit(Update{Model: Ptr(systems.ModelFluids), Fluid: &bad})
	if !errors.Is(err, components.ErrInvalidArgument) {
		t.Fatalf("Submit with zero iterations = %v", err)
	}

	good := systems.DefaultFluid()
	good.Viscosity = 0.05
	if err := l.Submit(Update{Model: Ptr(systems.ModelFluids), Fluid: &good}); err != nil {
		t.Fatal(err)
	}
	good.Viscosity = 0.5 // the queued copy is private
	stepN(t, l, 1)
	if l.params.Model != systems.ModelFluids || l.params.Fluid.Viscosity != 0.05 {
		t.Errorf("active model %s viscosity %v", l.params.Model, l.params.Fluid.Viscosity)
	}
}
