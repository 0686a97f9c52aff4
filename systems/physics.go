package systems

import (
	"math"

	"github.com/pthm-cable/flock/components"
)

// Anomalies counts non-finite values repaired by Integrate.
type Anomalies struct {
	NaNVelocity int
	InfVelocity int
	NaNPosition int
}

// Total returns the number of repaired values.
func (a Anomalies) Total() int {
	return a.NaNVelocity + a.InfVelocity + a.NaNPosition
}

// Integrate advances positions by vel*dt and applies the boundary policy.
// Non-finite velocities are repaired first: NaN components zero the
// velocity, infinite ones are rescaled to MaxSpeed along their sign.
func Integrate(s *components.Store, p *Params) Anomalies {
	var an Anomalies
	dim := s.Dim()
	n := s.Len()
	var center, size [3]float32
	if p.Bounds != nil {
		center = p.Bounds.Center()
		size = p.Bounds.Size()
	}

	for i := 0; i < n; i++ {
		vel := s.Velocity(i)
		vel, an = repairVelocity(vel, dim, p.MaxSpeed, an)
		vel = ClampLength(vel, p.MaxSpeed)

		pos := s.Position(i)
		for a := 0; a < dim; a++ {
			pos[a] += vel[a] * p.DT
		}
		if !finiteVec(pos, dim) {
			an.NaNPosition++
			pos = center
		}

		if p.Bounds != nil {
			switch p.Boundary {
			case BoundaryBounce:
				pos, vel = bounce(pos, vel, p.Bounds, dim)
			default:
				for a := 0; a < dim; a++ {
					pos[a] = p.Bounds.Min[a] + wrapCoord(pos[a]-p.Bounds.Min[a], size[a])
				}
			}
		}
		s.SetPosition(i, pos)
		s.SetVelocity(i, vel)
	}
	return an
}

func repairVelocity(v [3]float32, dim int, maxSpeed float32, an Anomalies) ([3]float32, Anomalies) {
	nan, inf := false, false
	for a := 0; a < dim; a++ {
		f := float64(v[a])
		if math.IsNaN(f) {
			nan = true
		} else if math.IsInf(f, 0) {
			inf = true
		}
	}
	switch {
	case nan:
		an.NaNVelocity++
		return [3]float32{}, an
	case inf:
		an.InfVelocity++
		return ClampLength(v, maxSpeed), an
	}
	return v, an
}

func finiteVec(v [3]float32, dim int) bool {
	for a := 0; a < dim; a++ {
		if !finite(v[a]) {
			return false
		}
	}
	return true
}

// wrapCoord maps x into [0, w).
func wrapCoord(x, w float32) float32 {
	r := mod(x, w)
	if r >= w {
		r = 0
	}
	return r
}

// bounce reflects a particle that crossed a wall and reverses the normal
// velocity. Positions still outside after one reflection are clamped.
func bounce(pos, vel [3]float32, box *components.Box, dim int) ([3]float32, [3]float32) {
	for a := 0; a < dim; a++ {
		lo, hi := box.Min[a], box.Max[a]
		if pos[a] < lo {
			pos[a] = 2*lo - pos[a]
			vel[a] = float32(math.Abs(float64(vel[a])))
		} else if pos[a] > hi {
			pos[a] = 2*hi - pos[a]
			vel[a] = -float32(math.Abs(float64(vel[a])))
		}
		pos[a] = min(max(pos[a], lo), hi)
	}
	return pos, vel
}
