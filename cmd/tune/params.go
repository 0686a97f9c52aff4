package main

import (
	"github.com/pthm-cable/flock/config"
)

// ParamSpec defines a single tunable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds the set of tunable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of tunable boids parameters.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			{Name: "separation", Path: "boids.separation.weight", Min: 0, Max: 4, Default: 1.6},
			{Name: "alignment", Path: "boids.alignment.weight", Min: 0, Max: 4, Default: 1.6},
			{Name: "cohesion", Path: "boids.cohesion.weight", Min: 0, Max: 4, Default: 1.45},
			{Name: "radius", Path: "boids.radius", Min: 1, Max: 12, Default: 4},
			{Name: "max_speed", Path: "boids.max_speed", Min: 2, Max: 30, Default: 10},
			{Name: "max_steer", Path: "boids.max_steer", Min: 0.5, Max: 20, Default: 5},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default values.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize maps raw values into [0,1].
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize maps [0,1] values back to raw values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp limits every value to its bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		val := v[i]
		if val < spec.Min {
			val = spec.Min
		}
		if val > spec.Max {
			val = spec.Max
		}
		clamped[i] = val
	}
	return clamped
}

// ApplyToConfig writes clamped values into cfg. Order matches Specs.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	c := pv.Clamp(values)
	cfg.Boids.Separation.Weight = c[0]
	cfg.Boids.Alignment.Weight = c[1]
	cfg.Boids.Cohesion.Weight = c[2]
	cfg.Boids.Radius = c[3]
	cfg.Boids.MaxSpeed = c[4]
	cfg.Boids.MaxSteer = c[5]

	// keep an explicit separation radius valid under the new radius
	if cfg.Boids.SeparationRadius > cfg.Boids.Radius {
		cfg.Boids.SeparationRadius = cfg.Boids.Radius
	}
}

// ExtractFromConfig reads the current values from cfg.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		cfg.Boids.Separation.Weight,
		cfg.Boids.Alignment.Weight,
		cfg.Boids.Cohesion.Weight,
		cfg.Boids.Radius,
		cfg.Boids.MaxSpeed,
		cfg.Boids.MaxSteer,
	}
}
