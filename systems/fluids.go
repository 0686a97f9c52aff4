package systems

import (
	"context"
	"math"

	"github.com/pthm-cable/flock/components"
)

// MaxFluidIterations bounds Fluid.Iterations.
const MaxFluidIterations = 16

// ForEach runs fn over [0, n) split into chunks. worker identifies the
// goroutine running the chunk, in [0, workers) of whoever provides it.
type ForEach func(n int, fn func(i0, i1, worker int))

// Serial is a ForEach that runs everything on the calling goroutine as
// worker 0.
func Serial(n int, fn func(i0, i1, worker int)) {
	if n > 0 {
		fn(0, n, 0)
	}
}

// sphKernels are the smoothing kernels for support radius h: poly6 for
// densities, the spiky gradient for constraint and vorticity terms.
// mass is (h/2)^dim so a lattice at spacing h/2 has density close to 1.
type sphKernels struct {
	h, h2 float32
	poly6 float32
	spiky float32 // dW/dr factor of the spiky kernel, negative
	mass  float32
}

func newSPHKernels(h float32, dim int) sphKernels {
	hh := float64(h)
	k := sphKernels{h: h, h2: h * h}
	if dim == 2 {
		k.poly6 = float32(4 / (math.Pi * math.Pow(hh, 8)))
		k.spiky = float32(-30 / (math.Pi * math.Pow(hh, 5)))
	} else {
		k.poly6 = float32(315 / (64 * math.Pi * math.Pow(hh, 9)))
		k.spiky = float32(-45 / (math.Pi * math.Pow(hh, 6)))
	}
	k.mass = float32(math.Pow(hh/2, float64(dim)))
	return k
}

// W is the poly6 kernel at squared distance r2.
func (k *sphKernels) W(r2 float32) float32 {
	if r2 >= k.h2 {
		return 0
	}
	d := k.h2 - r2
	return k.poly6 * d * d * d
}

// Grad is the spiky kernel gradient with respect to p_i, for d = p_i - p_j.
// It points from p_i toward p_j.
func (k *sphKernels) Grad(d [3]float32) [3]float32 {
	r2 := lenSq3(d)
	if r2 >= k.h2 || r2 == 0 {
		return [3]float32{}
	}
	r := sqrt32(r2)
	x := k.h - r
	return scale3(d, k.spiky*x*x/r)
}

// FluidSolver steps particles as a position-based fluid: predict under
// gravity, project the density constraints with Jacobi iterations, derive
// velocities from the corrected positions, then apply vorticity
// confinement and XSPH viscosity. Every pass reads only the previous
// pass's buffers, so results do not depend on how ForEach splits the work.
type FluidSolver struct {
	n, dim int

	pred    []float32 // predicted positions, n*dim
	delta   []float32 // n*dim
	vel     []float32 // n*dim
	velTmp  []float32 // n*dim
	omega   []float32 // n*3, vorticity keeps 3 components in 2D
	density []float32
	lambda  []float32

	neighbors [][]int32
	scratch   [][]Neighbor // per worker
}

// NewFluidSolver creates a solver for ForEach implementations using up to
// workers goroutines.
func NewFluidSolver(workers int) *FluidSolver {
	if workers < 1 {
		workers = 1
	}
	return &FluidSolver{scratch: make([][]Neighbor, workers)}
}

func (s *FluidSolver) resize(n, dim int) {
	if n == s.n && dim == s.dim {
		return
	}
	s.n, s.dim = n, dim
	s.pred = growFloats(s.pred, n*dim)
	s.delta = growFloats(s.delta, n*dim)
	s.vel = growFloats(s.vel, n*dim)
	s.velTmp = growFloats(s.velTmp, n*dim)
	s.omega = growFloats(s.omega, n*3)
	s.density = growFloats(s.density, n)
	s.lambda = growFloats(s.lambda, n)
	if cap(s.neighbors) < n {
		nb := make([][]int32, n)
		copy(nb, s.neighbors)
		s.neighbors = nb
	}
	s.neighbors = s.neighbors[:n]
}

func growFloats(a []float32, n int) []float32 {
	if cap(a) < n {
		return make([]float32, n)
	}
	return a[:n]
}

// Density returns particle i's density from the last constraint pass.
func (s *FluidSolver) Density(i int) float32 { return s.density[i] }

// Step advances the fluid by p.DT and writes the new velocities, clamped to
// MaxSpeed, into store.Vel; Integrate then moves the particles. grid is
// rebuilt over the predicted positions. Particles are shaded by density.
func (s *FluidSolver) Step(ctx context.Context, store *components.Store, grid *Grid, p *Params, each ForEach) error {
	n, dim := store.Len(), store.Dim()
	s.resize(n, dim)
	if n == 0 {
		return nil
	}
	f := &p.Fluid
	k := newSPHKernels(p.Radius, dim)
	dt := p.DT
	scale := k.mass / f.RestDensity

	each(n, func(i0, i1, _ int) {
		for i := i0; i < i1; i++ {
			x := components.Load(store.Pos, i, dim)
			v := components.Load(store.Vel, i, dim)
			for a := 0; a < dim; a++ {
				v[a] += f.Gravity[a] * dt
				x[a] += v[a] * dt
			}
			components.Put(s.pred, i, dim, clampToBox(x, p.Bounds, dim))
		}
	})

	if err := grid.Rebuild(s.pred, dim, p.Bounds, false); err != nil {
		return err
	}
	each(n, func(i0, i1, w int) {
		scratch := s.scratch[w]
		for i := i0; i < i1; i++ {
			scratch = grid.Neighbors(scratch[:0], i, p.Radius, p.MaxNeighbors)
			nb := s.neighbors[i][:0]
			for _, q := range scratch {
				nb = append(nb, q.Index)
			}
			s.neighbors[i] = nb
		}
		s.scratch[w] = scratch
	})

	for it := 0; it < f.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		each(n, func(i0, i1, _ int) {
			for i := i0; i < i1; i++ {
				s.constraint(i, &k, f)
			}
		})
		each(n, func(i0, i1, _ int) {
			for i := i0; i < i1; i++ {
				s.correction(i, &k, f)
			}
		})
		each(n, func(i0, i1, _ int) {
			for i := i0; i < i1; i++ {
				x := add3(components.Load(s.pred, i, dim), components.Load(s.delta, i, dim))
				components.Put(s.pred, i, dim, clampToBox(x, p.Bounds, dim))
			}
		})
	}

	inv := 1 / dt
	each(n, func(i0, i1, _ int) {
		for i := i0; i < i1; i++ {
			d := sub3(components.Load(s.pred, i, dim), components.Load(store.Pos, i, dim))
			components.Put(s.vel, i, dim, scale3(d, inv))
		}
	})

	if f.Vorticity.Enabled && f.Vorticity.Weight > 0 {
		each(n, func(i0, i1, _ int) {
			for i := i0; i < i1; i++ {
				s.vorticity(i, &k, scale)
			}
		})
		each(n, func(i0, i1, _ int) {
			for i := i0; i < i1; i++ {
				s.confine(i, &k, scale, f.Vorticity.Weight)
			}
		})
		s.vel, s.velTmp = s.velTmp, s.vel
	}
	if f.Viscosity > 0 {
		each(n, func(i0, i1, _ int) {
			for i := i0; i < i1; i++ {
				s.xsph(i, &k, scale*f.Viscosity)
			}
		})
		s.vel, s.velTmp = s.velTmp, s.vel
	}

	each(n, func(i0, i1, _ int) {
		for i := i0; i < i1; i++ {
			v := components.Load(s.vel, i, dim)
			if finiteVec(v, dim) {
				v = ClampLength(v, p.MaxSpeed)
			}
			components.Put(store.Vel, i, dim, v)
			r, g, b := shade(s.density[i] / f.RestDensity)
			store.Color[i*3], store.Color[i*3+1], store.Color[i*3+2] = r, g, b
		}
	})
	return nil
}

// constraint computes the density of particle i at its predicted position
// and the scaling factor lambda of its density constraint.
func (s *FluidSolver) constraint(i int, k *sphKernels, f *Fluid) {
	dim := s.dim
	pi := components.Load(s.pred, i, dim)
	scale := k.mass / f.RestDensity

	rho := k.mass * k.W(0)
	var gradI [3]float32
	var sumSq float32
	for _, j := range s.neighbors[i] {
		d := sub3(pi, components.Load(s.pred, int(j), dim))
		rho += k.mass * k.W(lenSq3(d))
		g := scale3(k.Grad(d), scale)
		gradI = add3(gradI, g)
		sumSq += lenSq3(g)
	}
	s.density[i] = rho
	c := rho/f.RestDensity - 1
	s.lambda[i] = -c / (sumSq + lenSq3(gradI) + f.Relaxation/k.h2)
}

// correction computes the position change of particle i from its own and
// its neighbors' lambdas, plus the artificial pressure term.
func (s *FluidSolver) correction(i int, k *sphKernels, f *Fluid) {
	dim := s.dim
	pi := components.Load(s.pred, i, dim)
	li := s.lambda[i]

	ap := &f.ArtificialPressure
	var wq, corr float32
	if ap.Enabled && ap.Coeff > 0 {
		q := ap.Radius * k.h
		wq = k.W(q * q)
		corr = -ap.Coeff * k.h2
	}

	var dp [3]float32
	for _, j := range s.neighbors[i] {
		d := sub3(pi, components.Load(s.pred, int(j), dim))
		sc := float32(0)
		if wq > 0 {
			sc = corr * powInt(k.W(lenSq3(d))/wq, ap.Exponent)
		}
		dp = add3(dp, scale3(k.Grad(d), li+s.lambda[j]+sc))
	}
	components.Put(s.delta, i, dim, scale3(dp, k.mass/f.RestDensity))
}

// vorticity stores the curl of the velocity field at particle i.
func (s *FluidSolver) vorticity(i int, k *sphKernels, scale float32) {
	dim := s.dim
	pi := components.Load(s.pred, i, dim)
	vi := components.Load(s.vel, i, dim)
	var w [3]float32
	for _, j := range s.neighbors[i] {
		d := sub3(pi, components.Load(s.pred, int(j), dim))
		vij := sub3(components.Load(s.vel, int(j), dim), vi)
		w = add3(w, cross3(k.Grad(d), vij))
	}
	w = scale3(w, scale)
	copy(s.omega[i*3:i*3+3], w[:])
}

// confine pushes particle i along N x omega, N pointing toward stronger
// vorticity, and writes the result to velTmp.
func (s *FluidSolver) confine(i int, k *sphKernels, scale, coeff float32) {
	dim := s.dim
	pi := components.Load(s.pred, i, dim)
	wi := [3]float32{s.omega[i*3], s.omega[i*3+1], s.omega[i*3+2]}
	mi := sqrt32(lenSq3(wi))

	var eta [3]float32
	for _, j := range s.neighbors[i] {
		d := sub3(pi, components.Load(s.pred, int(j), dim))
		o := s.omega[int(j)*3 : int(j)*3+3]
		mj := sqrt32(o[0]*o[0] + o[1]*o[1] + o[2]*o[2])
		eta = add3(eta, scale3(k.Grad(d), mj-mi))
	}
	eta = scale3(eta, scale)

	v := components.Load(s.vel, i, dim)
	if l := lenSq3(eta); l > 0 && finite(l) {
		nrm := scale3(eta, 1/sqrt32(l))
		v = add3(v, scale3(cross3(nrm, wi), coeff*k.h))
	}
	components.Put(s.velTmp, i, dim, v)
}

// xsph blends particle i's velocity toward its neighbors' and writes the
// result to velTmp.
func (s *FluidSolver) xsph(i int, k *sphKernels, c float32) {
	dim := s.dim
	pi := components.Load(s.pred, i, dim)
	vi := components.Load(s.vel, i, dim)
	var acc [3]float32
	for _, j := range s.neighbors[i] {
		pj := components.Load(s.pred, int(j), dim)
		vij := sub3(components.Load(s.vel, int(j), dim), vi)
		acc = add3(acc, scale3(vij, k.W(lenSq3(sub3(pi, pj)))))
	}
	components.Put(s.velTmp, i, dim, add3(vi, scale3(acc, c)))
}

func clampToBox(x [3]float32, box *components.Box, dim int) [3]float32 {
	if box == nil {
		return x
	}
	for a := 0; a < dim; a++ {
		x[a] = min(max(x[a], box.Min[a]), box.Max[a])
	}
	return x
}

func powInt(x float32, n int) float32 {
	r := float32(1)
	for ; n > 0; n-- {
		r *= x
	}
	return r
}

// shade maps relative density to a blue that whitens under compression.
func shade(rel float32) (r, g, b float32) {
	t := min(max(rel-0.5, 0), 1)
	return 0.1 + 0.8*t, 0.3 + 0.6*t, 1
}
