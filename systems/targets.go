package systems

import (
	"math"

	"github.com/aquilax/go-perlin"
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/flock/components"
)

// wanderExtent is the fraction of the box half-extent targets roam within.
const wanderExtent = 0.48

// Perlin generator settings for target paths.
const (
	noiseAlpha = 2.0
	noiseBeta  = 2.0
	noiseOct   = 3
)

// TargetSystem owns the attractor/repulsor entities and moves them along
// noise-driven paths around the box center.
type TargetSystem struct {
	world  *ecs.World
	mapper *ecs.Map3[components.TargetPos, components.Effect, components.Wander]
	filter *ecs.Filter3[components.TargetPos, components.Effect, components.Wander]

	dim    int
	box    components.Box
	seed   int64
	spawns int64
	states []TargetState
}

// NewTargetSystem creates an empty target system for the given box.
func NewTargetSystem(dim int, box components.Box, seed int64) *TargetSystem {
	world := ecs.NewWorld()
	return &TargetSystem{
		world:  world,
		mapper: ecs.NewMap3[components.TargetPos, components.Effect, components.Wander](world),
		filter: ecs.NewFilter3[components.TargetPos, components.Effect, components.Wander](world),
		dim:    dim,
		box:    box,
		seed:   seed,
	}
}

// SetBox changes the region targets wander in.
func (s *TargetSystem) SetBox(box components.Box) { s.box = box }

// SetDim changes the world dimension.
func (s *TargetSystem) SetDim(dim int) { s.dim = dim }

// Spawn adds a target. speed is the noise time advanced per unit of sim time.
func (s *TargetSystem) Spawn(effect components.Effect, speed float64) ecs.Entity {
	s.spawns++
	seed := s.seed + s.spawns*7919
	wander := components.Wander{
		Speed:      speed,
		NoiseR:     perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOct, seed),
		NoiseBeta:  perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOct, seed+1),
		NoiseTheta: perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOct, seed+2),
	}
	pos := s.wanderPos(&wander)
	return s.mapper.NewEntity(&pos, &effect, &wander)
}

// Clear removes every target.
func (s *TargetSystem) Clear() {
	var dead []ecs.Entity
	query := s.filter.Query()
	for query.Next() {
		dead = append(dead, query.Entity())
	}
	for _, e := range dead {
		s.mapper.Remove(e)
	}
	s.states = s.states[:0]
}

// Count returns the number of live targets.
func (s *TargetSystem) Count() int {
	n := 0
	query := s.filter.Query()
	for query.Next() {
		n++
	}
	return n
}

// Update advances every target by dt and refreshes States.
func (s *TargetSystem) Update(dt float32) {
	s.states = s.states[:0]
	query := s.filter.Query()
	for query.Next() {
		pos, eff, w := query.Get()
		w.T += w.Speed * float64(dt)
		*pos = s.wanderPos(w)
		s.states = append(s.states, TargetState{
			Pos:      [3]float32{pos.X, pos.Y, pos.Z},
			Radius:   eff.Radius,
			Sign:     eff.Sign,
			Strength: eff.Strength,
		})
	}
}

// States returns the targets as of the last Update. The slice is reused.
func (s *TargetSystem) States() []TargetState { return s.states }

// MaxWanderRadius is the distance from the box center targets stay within.
func (s *TargetSystem) MaxWanderRadius() float32 {
	size := s.box.Size()
	r := size[0]
	for a := 1; a < s.dim; a++ {
		r = min(r, size[a])
	}
	return r / 2 * wanderExtent
}

// wanderPos maps the noise channels to spherical (or polar) coordinates.
func (s *TargetSystem) wanderPos(w *components.Wander) components.TargetPos {
	c := s.box.Center()
	r := float64(s.MaxWanderRadius()) * unit(w.NoiseR.Noise1D(w.T))
	theta := 2 * math.Pi * unit(w.NoiseTheta.Noise1D(w.T+17.3))
	if s.dim == 2 {
		return components.TargetPos{
			X: c[0] + float32(r*math.Cos(theta)),
			Y: c[1] + float32(r*math.Sin(theta)),
		}
	}
	beta := math.Pi * unit(w.NoiseBeta.Noise1D(w.T+41.9))
	return components.TargetPos{
		X: c[0] + float32(r*math.Sin(beta)*math.Cos(theta)),
		Y: c[1] + float32(r*math.Sin(beta)*math.Sin(theta)),
		Z: c[2] + float32(r*math.Cos(beta)),
	}
}

// unit maps noise in roughly [-1, 1] to [0, 1].
func unit(v float64) float64 {
	return min(max(v*0.5+0.5, 0), 1)
}
