package systems

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/pthm-cable/flock/components"
)

// fluidParams is a still fluid with the extra terms switched off.
func fluidParams(dim int) Params {
	p := DefaultParams(dim)
	p.Model = ModelFluids
	p.Boundary = BoundaryBounce
	p.MaxSpeed = 50
	p.Fluid.Gravity = [3]float32{}
	p.Fluid.Vorticity.Enabled = false
	p.Fluid.Viscosity = 0
	return p
}

// latticeStore places side^dim particles at the given spacing, centered on
// the origin.
func latticeStore(t *testing.T, dim, side int, spacing float32) *components.Store {
	t.Helper()
	s, err := components.NewStore(dim)
	if err != nil {
		t.Fatal(err)
	}
	n := side * side
	if dim == 3 {
		n *= side
	}
	if err := s.Resize(n); err != nil {
		t.Fatal(err)
	}
	off := float32(side-1) / 2
	for i := 0; i < n; i++ {
		idx := [3]int{i % side, i / side % side, i / (side * side)}
		var p [3]float32
		for a := 0; a < dim; a++ {
			p[a] = (float32(idx[a]) - off) * spacing
		}
		s.SetPosition(i, p)
	}
	return s
}

func centerIndex(dim, side int) int {
	c := side / 2
	if dim == 2 {
		return c*side + c
	}
	return (c*side+c)*side + c
}

func fluidStep(t *testing.T, fs *FluidSolver, s *components.Store, p *Params, each ForEach) {
	t.Helper()
	g, err := NewGrid(p.Radius)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Step(context.Background(), s, g, p, each); err != nil {
		t.Fatal(err)
	}
	Integrate(s, p)
}

// chunked splits passes across goroutines, one chunk per worker.
func chunked(workers int) ForEach {
	return func(n int, fn func(i0, i1, worker int)) {
		var wg sync.WaitGroup
		size := (n + workers - 1) / workers
		for w := 0; w < workers; w++ {
			i0, i1 := w*size, min((w+1)*size, n)
			if i0 >= i1 {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn(i0, i1, w)
			}()
		}
		wg.Wait()
	}
}

func TestSPHKernelNormalization(t *testing.T) {
	const h = 2
	tests := []struct {
		name  string
		dim   int
		steps int
	}{
		{"2d", 2, 200},
		{"3d", 3, 48},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := newSPHKernels(h, tt.dim)
			step := float32(2*h) / float32(tt.steps)
			cell := math.Pow(float64(step), float64(tt.dim))
			zs := tt.steps
			if tt.dim == 2 {
				zs = 1
			}
			var mass, moment float64
			for z := 0; z < zs; z++ {
				for y := 0; y < tt.steps; y++ {
					for x := 0; x < tt.steps; x++ {
						d := [3]float32{
							-h + (float32(x)+0.5)*step,
							-h + (float32(y)+0.5)*step,
						}
						if tt.dim == 3 {
							d[2] = -h + (float32(z)+0.5)*step
						}
						mass += float64(k.W(lenSq3(d))) * cell
						moment -= float64(dot3(k.Grad(d), d)) * cell
					}
				}
			}
			if math.Abs(mass-1) > 0.02 {
				t.Errorf("poly6 integrates to %v, want 1", mass)
			}
			// -r W'(r) integrates to dim for a normalized kernel.
			if math.Abs(moment-float64(tt.dim)) > 0.05*float64(tt.dim) {
				t.Errorf("spiky gradient moment %v, want %d", moment, tt.dim)
			}
		})
	}
}

func TestFluidLatticeAtRestDensity(t *testing.T) {
	for _, dim := range []int{2, 3} {
		p := fluidParams(dim)
		p.Fluid.Iterations = 1
		side := 9
		if dim == 3 {
			side = 7
		}
		s := latticeStore(t, dim, side, p.Radius/2)
		fs := NewFluidSolver(1)
		fluidStep(t, fs, s, &p, Serial)

		c := centerIndex(dim, side)
		if rho := fs.Density(c); math.Abs(float64(rho)-1) > 0.05 {
			t.Errorf("dim %d: interior density %v, want about 1", dim, rho)
		}
		if v := Length(s.Velocity(c)); v > 1e-3 {
			t.Errorf("dim %d: interior particle of a symmetric lattice moved at %v", dim, v)
		}
	}
}

func TestFluidFreeParticleFalls(t *testing.T) {
	p := fluidParams(2)
	p.Fluid.Gravity = [3]float32{0, -10}
	p.Fluid.Vorticity.Enabled = true
	p.Fluid.Viscosity = 0.1
	p.DT = 0.1
	s := newStore2(t, []float32{0, 0}, []float32{1, 0})
	fluidStep(t, NewFluidSolver(1), s, &p, Serial)

	if !approxVec(s.Vel, []float32{1, -1}, 1e-4) {
		t.Errorf("velocity %v, want {1, -1}", s.Vel)
	}
	if !approxVec(s.Pos, []float32{0.1, -0.1}, 1e-4) {
		t.Errorf("position %v, want {0.1, -0.1}", s.Pos)
	}
}

func TestFluidRelievesCompression(t *testing.T) {
	p := fluidParams(2)
	const side = 8
	s := latticeStore(t, 2, side, p.Radius*0.35)
	fs := NewFluidSolver(1)
	c := centerIndex(2, side)

	fluidStep(t, fs, s, &p, Serial)
	first := fs.Density(c)
	if first <= p.Fluid.RestDensity {
		t.Fatalf("packed lattice density %v, want above rest", first)
	}
	for i := 0; i < 9; i++ {
		fluidStep(t, fs, s, &p, Serial)
	}
	if last := fs.Density(c); last >= first {
		t.Errorf("density %v -> %v, want the block to expand", first, last)
	}
}

func TestFluidStaysInBox(t *testing.T) {
	p := DefaultParams(2)
	p.Model = ModelFluids
	p.Boundary = BoundaryBounce
	p.MaxSpeed = 30
	box := components.CenteredBox(20)
	p.Bounds = &box

	s := latticeStore(t, 2, 12, 1.2)
	for i := 0; i < s.Len(); i++ {
		s.SetVelocity(i, [3]float32{float32(i%5) - 2, 3})
	}
	fs := NewFluidSolver(1)
	for step := 0; step < 40; step++ {
		fluidStep(t, fs, s, &p, Serial)
	}
	for i := 0; i < s.Len(); i++ {
		pos, vel := s.Position(i), s.Velocity(i)
		if !box.Contains(pos, 2) || !finiteVec(vel, 2) {
			t.Fatalf("particle %d at %v moving %v", i, pos, vel)
		}
		if Length(vel) > p.MaxSpeed*(1+1e-5) {
			t.Fatalf("particle %d speed %v above max", i, Length(vel))
		}
	}
}

func TestFluidChunkingIndependent(t *testing.T) {
	p := DefaultParams(3)
	p.Model = ModelFluids
	p.Boundary = BoundaryBounce
	run := func(each ForEach, workers int) []float32 {
		s := latticeStore(t, 3, 6, p.Radius*0.45)
		for i := 0; i < s.Len(); i++ {
			s.SetVelocity(i, [3]float32{float32(i%3) - 1, 0, float32(i%7)*0.2 - 0.6})
		}
		fs := NewFluidSolver(workers)
		for step := 0; step < 3; step++ {
			fluidStep(t, fs, s, &p, each)
		}
		return s.Pos
	}
	serial := run(Serial, 1)
	parallel := run(chunked(4), 4)
	for i := range serial {
		if serial[i] != parallel[i] {
			t.Fatalf("component %d: serial %v, chunked %v", i, serial[i], parallel[i])
		}
	}
}

func TestVorticityOfRotation(t *testing.T) {
	const (
		h     = 4
		side  = 11
		omega = 0.5
	)
	s := latticeStore(t, 2, side, h/2)
	for i := 0; i < s.Len(); i++ {
		x := s.Position(i)
		s.SetVelocity(i, [3]float32{-omega * x[1], omega * x[0]})
	}

	fs := NewFluidSolver(1)
	fs.resize(s.Len(), 2)
	copy(fs.pred, s.Pos)
	copy(fs.vel, s.Vel)
	g, err := NewGrid(h)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Rebuild(fs.pred, 2, nil, false); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < s.Len(); i++ {
		for _, q := range g.Neighbors(nil, i, h, 0) {
			fs.neighbors[i] = append(fs.neighbors[i], q.Index)
		}
	}

	k := newSPHKernels(h, 2)
	c := centerIndex(2, side)
	fs.vorticity(c, &k, k.mass)
	// The curl of a rigid rotation is 2*omega; the lattice sum lands a
	// little under it.
	if w := fs.omega[c*3+2]; w < 1.5*omega || w > 2.1*omega {
		t.Errorf("vorticity %v, want about %v", w, 2*omega)
	}
	if fs.omega[c*3] != 0 || fs.omega[c*3+1] != 0 {
		t.Errorf("in-plane vorticity %v", fs.omega[c*3:c*3+2])
	}
}
