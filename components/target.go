package components

import "github.com/aquilax/go-perlin"

// TargetPos is a target's world position.
type TargetPos struct {
	X, Y, Z float32
}

// Effect describes how a target steers nearby particles.
type Effect struct {
	Radius   float32 // reach, in multiples of the neighbor radius
	Sign     float32 // +1 attracts, -1 repels
	Strength float32
}

// Wander drives a target along a smooth pseudo-random path.
// Three noise channels feed spherical coordinates (radius, polar, azimuth).
type Wander struct {
	T                 float64
	Speed             float64
	NoiseR, NoiseBeta *perlin.Perlin
	NoiseTheta        *perlin.Perlin
}
