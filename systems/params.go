package systems

import (
	"fmt"
	"math"

	"github.com/pthm-cable/flock/components"
)

// Boundary selects what happens when a particle leaves the box.
type Boundary uint8

const (
	BoundaryWrap Boundary = iota
	BoundaryBounce
)

func (b Boundary) String() string {
	switch b {
	case BoundaryWrap:
		return "wrap"
	case BoundaryBounce:
		return "bounce"
	}
	return fmt.Sprintf("Boundary(%d)", uint8(b))
}

// ParseBoundary maps a config name to a Boundary.
func ParseBoundary(s string) (Boundary, error) {
	switch s {
	case "wrap", "":
		return BoundaryWrap, nil
	case "bounce":
		return BoundaryBounce, nil
	}
	return 0, fmt.Errorf("unknown boundary %q: %w", s, components.ErrInvalidArgument)
}

func (b Boundary) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *Boundary) UnmarshalText(text []byte) error {
	v, err := ParseBoundary(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Model selects the behavior kernel.
type Model uint8

const (
	ModelBoids Model = iota
	ModelField
	ModelFluids
)

func (m Model) String() string {
	switch m {
	case ModelBoids:
		return "boids"
	case ModelField:
		return "field"
	case ModelFluids:
		return "fluids"
	}
	return fmt.Sprintf("Model(%d)", uint8(m))
}

// ParseModel maps a config name to a Model.
func ParseModel(s string) (Model, error) {
	switch s {
	case "boids", "":
		return ModelBoids, nil
	case "field":
		return ModelField, nil
	case "fluids":
		return ModelFluids, nil
	}
	return 0, fmt.Errorf("unknown model %q: %w", s, components.ErrInvalidArgument)
}

func (m Model) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Model) UnmarshalText(text []byte) error {
	v, err := ParseModel(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Rule is a weighted steering rule that can be toggled off.
type Rule struct {
	Enabled bool
	Weight  float32
}

// Weights holds the boids rules.
type Weights struct {
	Separation Rule
	Alignment  Rule
	Cohesion   Rule
	Target     Rule
}

// Field is a type-by-type interaction matrix for the field model.
// Attraction[a*Types+b] is how strongly type a is pulled toward type b;
// negative values repel.
type Field struct {
	Types      int
	Attraction []float32
	Repulsion  float32 // strength of the short-range core
	Core       float32 // core radius as a fraction of Radius
}

// At returns the attraction of type a toward type b.
func (f *Field) At(a, b uint8) float32 {
	if f.Types == 0 {
		return 0
	}
	return f.Attraction[int(a)%f.Types*f.Types+int(b)%f.Types]
}

// Fluid configures the position-based fluid model. Densities are relative:
// a cubic lattice at spacing Radius/2 has density 1.
type Fluid struct {
	RestDensity float32
	Relaxation  float32 // constraint relaxation, in units of 1/Radius^2
	Iterations  int     // Jacobi iterations per step
	Gravity     [3]float32

	// ArtificialPressure counters particle clumping at low density.
	ArtificialPressure ArtificialPressure
	// Vorticity confinement puts back rotation lost to damping; Weight is
	// the coefficient.
	Vorticity Rule
	Viscosity float32 // XSPH blend toward the neighborhood velocity
}

// ArtificialPressure is the s_corr term of the density correction.
type ArtificialPressure struct {
	Enabled  bool
	Coeff    float32
	Radius   float32 // reference distance as a fraction of Radius
	Exponent int
}

// DefaultFluid returns settings tuned for the default box and radius.
func DefaultFluid() Fluid {
	return Fluid{
		RestDensity: 1,
		Relaxation:  0.1,
		Iterations:  3,
		Gravity:     [3]float32{0, -10, 0},
		ArtificialPressure: ArtificialPressure{
			Enabled:  true,
			Coeff:    0.01,
			Radius:   0.2,
			Exponent: 4,
		},
		Vorticity: Rule{Enabled: true, Weight: 0.01},
		Viscosity: 0.01,
	}
}

// Params are the tunable simulation parameters. The loop owns the active
// copy and swaps it only between steps.
type Params struct {
	Dim              int
	Radius           float32
	SeparationRadius float32 // 0 means Radius/2
	MaxSpeed         float32
	MaxSteer         float32
	MaxNeighbors     int // 0 means unlimited
	DT               float32
	Weights          Weights
	Bounds           *components.Box
	Boundary         Boundary
	Model            Model
	Field            Field
	Fluid            Fluid
}

// DefaultParams returns the stock boids setup in a 100-unit box.
func DefaultParams(dim int) Params {
	box := components.CenteredBox(100)
	return Params{
		Dim:      dim,
		Radius:   4,
		MaxSpeed: 10,
		MaxSteer: 5,
		DT:       0.1,
		Weights: Weights{
			Separation: Rule{Enabled: true, Weight: 1.6},
			Alignment:  Rule{Enabled: true, Weight: 1.6},
			Cohesion:   Rule{Enabled: true, Weight: 1.45},
			Target:     Rule{Enabled: true, Weight: 1.0},
		},
		Bounds:   &box,
		Boundary: BoundaryWrap,
		Model:    ModelBoids,
		Fluid:    DefaultFluid(),
	}
}

// SepRadius returns the effective separation radius.
func (p *Params) SepRadius() float32 {
	if p.SeparationRadius > 0 {
		return p.SeparationRadius
	}
	return p.Radius / 2
}

// Periodic reports whether neighbor distances wrap around the box.
func (p *Params) Periodic() bool {
	return p.Bounds != nil && p.Boundary == BoundaryWrap
}

// Validate checks every field and reports the first violation.
func (p *Params) Validate() error {
	bad := func(name string, v any) error {
		return fmt.Errorf("%s %v: %w", name, v, components.ErrInvalidArgument)
	}
	if p.Dim != 2 && p.Dim != 3 {
		return bad("dimension", p.Dim)
	}
	if !finitePositive(p.Radius) {
		return bad("radius", p.Radius)
	}
	if !finiteNonNeg(p.SeparationRadius) || p.SeparationRadius > p.Radius {
		return bad("separation radius", p.SeparationRadius)
	}
	if !finiteNonNeg(p.MaxSpeed) {
		return bad("max speed", p.MaxSpeed)
	}
	if !finiteNonNeg(p.MaxSteer) {
		return bad("max steer", p.MaxSteer)
	}
	if p.MaxNeighbors < 0 {
		return bad("max neighbors", p.MaxNeighbors)
	}
	if !finitePositive(p.DT) {
		return bad("dt", p.DT)
	}
	for _, r := range []struct {
		name string
		w    float32
	}{
		{"separation weight", p.Weights.Separation.Weight},
		{"alignment weight", p.Weights.Alignment.Weight},
		{"cohesion weight", p.Weights.Cohesion.Weight},
		{"target weight", p.Weights.Target.Weight},
	} {
		if !finite(r.w) {
			return bad(r.name, r.w)
		}
	}
	if p.Bounds != nil && !p.Bounds.Valid(p.Dim) {
		return bad("bounds", *p.Bounds)
	}
	if p.Boundary == BoundaryBounce && p.Bounds == nil {
		return bad("bounce boundary without bounds", p.Boundary)
	}
	if p.Boundary > BoundaryBounce {
		return bad("boundary", p.Boundary)
	}
	switch p.Model {
	case ModelBoids:
	case ModelField:
		f := &p.Field
		if f.Types < 1 || f.Types > 255 || len(f.Attraction) != f.Types*f.Types {
			return bad("field matrix size", len(f.Attraction))
		}
		for _, a := range f.Attraction {
			if !finite(a) {
				return bad("field attraction", a)
			}
		}
		if !finiteNonNeg(f.Repulsion) || !finiteNonNeg(f.Core) || f.Core >= 1 {
			return bad("field core", f.Core)
		}
	case ModelFluids:
		if p.Bounds == nil {
			return bad("fluids without bounds", p.Model)
		}
		return p.Fluid.validate(bad)
	default:
		return bad("model", p.Model)
	}
	return nil
}

func (f *Fluid) validate(bad func(string, any) error) error {
	if !finitePositive(f.RestDensity) {
		return bad("rest density", f.RestDensity)
	}
	if !finitePositive(f.Relaxation) {
		return bad("relaxation", f.Relaxation)
	}
	if f.Iterations < 1 || f.Iterations > MaxFluidIterations {
		return bad("fluid iterations", f.Iterations)
	}
	for _, g := range f.Gravity {
		if !finite(g) {
			return bad("gravity", f.Gravity)
		}
	}
	ap := &f.ArtificialPressure
	if !finiteNonNeg(ap.Coeff) {
		return bad("artificial pressure coeff", ap.Coeff)
	}
	if !finitePositive(ap.Radius) || ap.Radius >= 1 {
		return bad("artificial pressure radius", ap.Radius)
	}
	if ap.Exponent < 1 || ap.Exponent > 8 {
		return bad("artificial pressure exponent", ap.Exponent)
	}
	if !finiteNonNeg(f.Vorticity.Weight) {
		return bad("vorticity", f.Vorticity.Weight)
	}
	if !finiteNonNeg(f.Viscosity) || f.Viscosity > 1 {
		return bad("viscosity", f.Viscosity)
	}
	return nil
}

// Clone returns a copy that shares no slices or pointers with p.
func (p Params) Clone() Params {
	if p.Bounds != nil {
		b := *p.Bounds
		p.Bounds = &b
	}
	p.Field.Attraction = append([]float32(nil), p.Field.Attraction...)
	return p
}

func finite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}

func finitePositive(v float32) bool { return finite(v) && v > 0 }
func finiteNonNeg(v float32) bool   { return finite(v) && v >= 0 }
