package systems

import "github.com/pthm-cable/flock/components"

// TargetState is a target as the kernel sees it for one step.
type TargetState struct {
	Pos      [3]float32
	Radius   float32 // reach in multiples of Params.Radius
	Sign     float32 // +1 attract, -1 repel
	Strength float32
}

// Kernel computes per-particle steering. It only reads its inputs, so any
// number of goroutines may call Step on disjoint outputs.
type Kernel struct {
	Params  *Params
	Targets []TargetState
}

// Step computes the new velocity of particle i and writes it to out.
// scratch is reused for the neighbor query and returned for the next call.
func (k *Kernel) Step(i int, view components.Snapshot, grid *Grid, out []float32, scratch []Neighbor) []Neighbor {
	p := k.Params
	scratch = grid.Neighbors(scratch[:0], i, p.Radius, p.MaxNeighbors)

	pos := components.Load(view.Pos, i, view.Dim)
	vel := components.Load(view.Vel, i, view.Dim)
	var typ uint8
	if len(view.Type) > i {
		typ = view.Type[i]
	}
	acc := k.Apply(pos, vel, typ, scratch, view)
	components.Put(out, i, view.Dim, Advance(vel, acc, p.DT, p.MaxSpeed))
	return scratch
}

// Advance returns vel + acc*dt clamped to maxSpeed. Non-finite results are
// returned unclamped so Integrate can count and repair them.
func Advance(vel, acc [3]float32, dt, maxSpeed float32) [3]float32 {
	v := add3(vel, scale3(acc, dt))
	if !finiteVec(v, 3) {
		return v
	}
	return ClampLength(v, maxSpeed)
}

// Apply returns the steering acceleration for a particle at pos moving at
// vel with the given neighbors. Neighbor velocities and types are read from
// view.
func (k *Kernel) Apply(pos, vel [3]float32, typ uint8, neighbors []Neighbor, view components.Snapshot) [3]float32 {
	var acc [3]float32
	switch k.Params.Model {
	case ModelField:
		acc = k.field(typ, neighbors, view)
	default:
		acc = k.boids(vel, neighbors, view)
	}
	if w := k.Params.Weights.Target; w.Enabled && len(k.Targets) > 0 {
		acc = add3(acc, k.target(pos, w.Weight))
	}
	return acc
}

func (k *Kernel) boids(vel [3]float32, neighbors []Neighbor, view components.Snapshot) [3]float32 {
	p := k.Params
	if len(neighbors) == 0 {
		return [3]float32{}
	}
	sepRSq := p.SepRadius() * p.SepRadius()

	var sep, avgVel, centroid [3]float32
	for _, nb := range neighbors {
		if nb.DistSq < sepRSq && nb.DistSq > 0 {
			sep = sub3(sep, scale3(nb.D, 1/nb.DistSq))
		}
		avgVel = add3(avgVel, components.Load(view.Vel, int(nb.Index), view.Dim))
		centroid = add3(centroid, nb.D)
	}
	inv := 1 / float32(len(neighbors))

	var acc [3]float32
	w := p.Weights
	if w.Separation.Enabled {
		acc = add3(acc, scale3(ClampLength(sep, p.MaxSteer), w.Separation.Weight))
	}
	if w.Alignment.Enabled {
		align := sub3(scale3(avgVel, inv), vel)
		acc = add3(acc, scale3(ClampLength(align, p.MaxSteer), w.Alignment.Weight))
	}
	if w.Cohesion.Enabled {
		coh := scale3(centroid, inv)
		acc = add3(acc, scale3(ClampLength(coh, p.MaxSteer), w.Cohesion.Weight))
	}
	return acc
}

// field sums a linear-falloff pull toward each neighbor scaled by the
// type matrix, plus a repulsive core.
func (k *Kernel) field(typ uint8, neighbors []Neighbor, view components.Snapshot) [3]float32 {
	p := k.Params
	f := &p.Field
	rSq := p.Radius * p.Radius
	invR := 1 / p.Radius
	core := f.Core * p.Radius
	coreSq := core * core

	var acc [3]float32
	for _, nb := range neighbors {
		if nb.DistSq >= rSq {
			continue
		}
		var other uint8
		if len(view.Type) > int(nb.Index) {
			other = view.Type[nb.Index]
		}
		a := f.At(typ, other) * (1 - nb.DistSq/rSq)
		acc = add3(acc, scale3(nb.D, a*invR))
		if nb.DistSq < coreSq {
			r := f.Repulsion * (1 - nb.DistSq/coreSq)
			acc = sub3(acc, scale3(nb.D, r/core))
		}
	}
	return ClampLength(acc, p.MaxSteer)
}

func (k *Kernel) target(pos [3]float32, weight float32) [3]float32 {
	p := k.Params
	var size [3]float32
	periodic := p.Periodic()
	if periodic {
		size = p.Bounds.Size()
	}
	var acc [3]float32
	for _, t := range k.Targets {
		var d [3]float32
		for a := 0; a < p.Dim; a++ {
			d[a] = t.Pos[a] - pos[a]
			if periodic {
				d[a] = PeriodicDelta(d[a], size[a])
			}
		}
		reach := t.Radius * p.Radius
		if lenSq3(d) > reach*reach {
			continue
		}
		steer := ClampLength(scale3(d, t.Sign), p.MaxSteer)
		acc = add3(acc, scale3(steer, weight*t.Strength))
	}
	return acc
}
