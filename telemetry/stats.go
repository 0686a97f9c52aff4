package telemetry

import (
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FlockStats summarizes the collective state of the particles at one tick.
type FlockStats struct {
	Tick      uint64 `csv:"tick"`
	Particles int    `csv:"particles"`

	// Speed distribution
	SpeedMean float64 `csv:"speed_mean"`
	SpeedStd  float64 `csv:"speed_std"`
	SpeedP10  float64 `csv:"speed_p10"`
	SpeedP50  float64 `csv:"speed_p50"`
	SpeedP90  float64 `csv:"speed_p90"`

	// Polarization is the length of the mean heading, 1 for a perfectly
	// aligned flock and near 0 for random headings.
	Polarization float64 `csv:"polarization"`

	// Spread is the mean distance to the centroid.
	Spread float64 `csv:"spread"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeFlockStats derives FlockStats from packed positions and
// velocities with dim components per particle.
func ComputeFlockStats(tick uint64, pos, vel []float32, dim int) FlockStats {
	n := len(vel) / dim
	s := FlockStats{Tick: tick, Particles: n}
	if n == 0 {
		return s
	}

	speeds := make([]float64, n)
	heading := make([]float64, dim)
	centroid := make([]float64, dim)
	comp := make([]float64, dim)
	for i := 0; i < n; i++ {
		for a := 0; a < dim; a++ {
			comp[a] = float64(vel[i*dim+a])
			centroid[a] += float64(pos[i*dim+a])
		}
		sp := floats.Norm(comp, 2)
		speeds[i] = sp
		if sp > 0 {
			floats.AddScaled(heading, 1/sp, comp)
		}
	}
	s.SpeedMean, s.SpeedStd = stat.PopMeanStdDev(speeds, nil)
	s.Polarization = floats.Norm(heading, 2) / float64(n)

	floats.Scale(1/float64(n), centroid)
	dists := make([]float64, n)
	for i := 0; i < n; i++ {
		for a := 0; a < dim; a++ {
			comp[a] = float64(pos[i*dim+a])
		}
		dists[i] = floats.Distance(comp, centroid, 2)
	}
	s.Spread = stat.Mean(dists, nil)

	sort.Float64s(speeds)
	s.SpeedP10 = Percentile(speeds, 0.10)
	s.SpeedP50 = Percentile(speeds, 0.50)
	s.SpeedP90 = Percentile(speeds, 0.90)
	if math.IsNaN(s.SpeedStd) {
		s.SpeedStd = 0
	}
	return s
}

// LogValue implements slog.LogValuer for structured logging.
func (s FlockStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("tick", s.Tick),
		slog.Int("particles", s.Particles),
		slog.Float64("speed_mean", s.SpeedMean),
		slog.Float64("speed_std", s.SpeedStd),
		slog.Float64("speed_p10", s.SpeedP10),
		slog.Float64("speed_p50", s.SpeedP50),
		slog.Float64("speed_p90", s.SpeedP90),
		slog.Float64("polarization", s.Polarization),
		slog.Float64("spread", s.Spread),
	)
}
