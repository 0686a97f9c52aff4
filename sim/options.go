// Package sim runs the simulation: a state machine around one step pipeline
// (apply queued updates, rebuild the grid, move targets, dispatch the
// behavior kernel, integrate, publish a frame).
package sim

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/pthm-cable/flock/components"
	"github.com/pthm-cable/flock/compute"
	"github.com/pthm-cable/flock/config"
	"github.com/pthm-cable/flock/systems"
	"github.com/pthm-cable/flock/telemetry"
)

// Color modes.
const (
	ColorByPosition = "position"
	ColorByType     = "type"
)

// Target modes.
const (
	TargetAttract   = "attract"
	TargetRepel     = "repel"
	TargetAlternate = "alternate"
)

// TargetOptions configure the wandering attractors.
type TargetOptions struct {
	Count        int
	Mode         string
	RadiusEffect float32 // reach in multiples of Params.Radius
	Strength     float32
	Speed        float64
}

// Options configure a Loop.
type Options struct {
	Count        int
	Seed         int64
	StartTick    uint64
	Box          components.Box // layout and target region, also the bounds when bounded
	Layout       string
	InitialSpeed float32
	Types        int
	ColorMode    string
	Params       systems.Params
	Targets      TargetOptions
	TargetHz     float64

	// Compute selects the backend when Backend is nil.
	Compute compute.Options
	// Backend overrides selection.
	Backend compute.Backend

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	Perf    *telemetry.PerfCollector
}

// DefaultOptions returns a small host-backed setup for the given dimension.
func DefaultOptions(dim int) Options {
	p := systems.DefaultParams(dim)
	return Options{
		Count:        512,
		Seed:         1,
		Box:          *p.Bounds,
		Layout:       components.LayoutLattice,
		InitialSpeed: 1,
		Types:        1,
		ColorMode:    ColorByPosition,
		Params:       p,
		Targets: TargetOptions{
			Count:        1,
			Mode:         TargetAttract,
			RadiusEffect: 2,
			Strength:     1,
			Speed:        0.3,
		},
		Compute: compute.Options{Kind: compute.KindHost},
	}
}

// OptionsFromConfig converts a loaded config into loop options.
// An empty attraction matrix is filled from the seed.
func OptionsFromConfig(cfg *config.Config, seed int64) (Options, error) {
	dim := cfg.World.Dimension
	box := components.CenteredBox(cfg.Derived.BoxSize32)

	boundary, err := systems.ParseBoundary(cfg.World.Boundary)
	if err != nil {
		return Options{}, err
	}
	model, err := systems.ParseModel(cfg.Physics.Model)
	if err != nil {
		return Options{}, err
	}

	p := systems.Params{
		Dim:              dim,
		Radius:           float32(cfg.Boids.Radius),
		SeparationRadius: float32(cfg.Boids.SeparationRadius),
		MaxSpeed:         float32(cfg.Boids.MaxSpeed),
		MaxSteer:         float32(cfg.Boids.MaxSteer),
		MaxNeighbors:     cfg.Boids.MaxNeighbors,
		DT:               cfg.Derived.DT32,
		Weights: systems.Weights{
			Separation: rule(cfg.Boids.Separation),
			Alignment:  rule(cfg.Boids.Alignment),
			Cohesion:   rule(cfg.Boids.Cohesion),
			Target:     rule(cfg.Target.RuleConfig),
		},
		Boundary: boundary,
		Model:    model,
		Field: systems.Field{
			Types:     cfg.Particles.Types,
			Repulsion: float32(cfg.Field.Repulsion),
			Core:      float32(cfg.Field.Core),
		},
		Fluid: fluid(cfg.Fluid, dim),
	}
	if cfg.World.Bounded {
		b := box
		p.Bounds = &b
	} else {
		p.Boundary = systems.BoundaryWrap
	}
	if len(cfg.Field.Attraction) > 0 {
		p.Field.Attraction = make([]float32, len(cfg.Field.Attraction))
		for i, a := range cfg.Field.Attraction {
			p.Field.Attraction[i] = float32(a)
		}
	} else {
		p.Field.Attraction = RandomAttraction(cfg.Particles.Types, seed)
	}
	if err := p.Validate(); err != nil {
		return Options{}, fmt.Errorf("params from config: %w", err)
	}

	return Options{
		Count:        cfg.Derived.Count,
		Seed:         seed,
		Box:          box,
		Layout:       cfg.Particles.Layout,
		InitialSpeed: float32(cfg.Particles.InitialSpeed),
		Types:        cfg.Particles.Types,
		ColorMode:    cfg.Particles.ColorMode,
		Params:       p,
		Targets: TargetOptions{
			Count:        cfg.Target.Count,
			Mode:         cfg.Target.Mode,
			RadiusEffect: float32(cfg.Target.RadiusEffect),
			Strength:     float32(cfg.Target.Strength),
			Speed:        cfg.Target.Speed,
		},
		TargetHz: cfg.Physics.TargetHz,
		Compute: compute.Options{
			Kind:              cfg.Compute.Backend,
			Workers:           cfg.Compute.Workers,
			ParallelThreshold: cfg.Compute.ParallelThreshold,
			Device:            cfg.Compute.Device,
		},
	}, nil
}

func fluid(c config.FluidConfig, dim int) systems.Fluid {
	f := systems.Fluid{
		RestDensity: float32(c.RestDensity),
		Relaxation:  float32(c.Relaxation),
		Iterations:  c.Iterations,
		ArtificialPressure: systems.ArtificialPressure{
			Enabled:  c.ArtificialPressure.Enabled,
			Coeff:    float32(c.ArtificialPressure.Coeff),
			Radius:   float32(c.ArtificialPressure.Radius),
			Exponent: c.ArtificialPressure.Exponent,
		},
		Vorticity: rule(c.Vorticity),
		Viscosity: float32(c.Viscosity),
	}
	for a := 0; a < dim && a < len(c.Gravity); a++ {
		f.Gravity[a] = float32(c.Gravity[a])
	}
	return f
}

func rule(r config.RuleConfig) systems.Rule {
	return systems.Rule{Enabled: r.Enabled, Weight: float32(r.Weight)}
}

// RandomAttraction draws a types x types matrix in [-1, 1] with self
// attraction on the diagonal.
func RandomAttraction(types int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	m := make([]float32, types*types)
	for a := 0; a < types; a++ {
		for b := 0; b < types; b++ {
			if a == b {
				m[a*types+b] = 1
				continue
			}
			m[a*types+b] = rng.Float32()*2 - 1
		}
	}
	return m
}

// effect builds the i-th target's effect from the options.
func (t TargetOptions) effect(i int) components.Effect {
	sign := float32(1)
	switch t.Mode {
	case TargetRepel:
		sign = -1
	case TargetAlternate:
		if i%2 == 1 {
			sign = -1
		}
	}
	return components.Effect{Radius: t.RadiusEffect, Sign: sign, Strength: t.Strength}
}

func (o *Options) validate() error {
	if o.Count < 0 {
		return fmt.Errorf("particle count %d: %w", o.Count, components.ErrInvalidArgument)
	}
	if o.Types < 1 || o.Types > 255 {
		return fmt.Errorf("particle types %d: %w", o.Types, components.ErrInvalidArgument)
	}
	if o.Targets.Count < 0 {
		return fmt.Errorf("target count %d: %w", o.Targets.Count, components.ErrInvalidArgument)
	}
	if o.TargetHz < 0 {
		return fmt.Errorf("target hz %v: %w", o.TargetHz, components.ErrInvalidArgument)
	}
	if !o.Box.Valid(o.Params.Dim) {
		return fmt.Errorf("box %v: %w", o.Box, components.ErrInvalidArgument)
	}
	return o.Params.Validate()
}

// Restore makes the options reproduce a saved run: same particle count,
// seed, parameters and starting tick.
func (o *Options) Restore(st telemetry.RunState) error {
	p := st.Params.Clone()
	if err := p.Validate(); err != nil {
		return fmt.Errorf("restoring state: %w", err)
	}
	if st.N < 0 {
		return fmt.Errorf("restoring %d particles: %w", st.N, components.ErrInvalidArgument)
	}
	o.Count = st.N
	o.Seed = st.Seed
	o.StartTick = st.Tick
	o.Params = p
	if p.Bounds != nil {
		o.Box = *p.Bounds
	}
	if p.Field.Types > 0 {
		o.Types = p.Field.Types
	}
	return nil
}
