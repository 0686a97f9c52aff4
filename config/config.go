// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/flock/components"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Screen    ScreenConfig    `yaml:"screen"`
	World     WorldConfig     `yaml:"world"`
	Particles ParticlesConfig `yaml:"particles"`
	Boids     BoidsConfig     `yaml:"boids"`
	Target    TargetConfig    `yaml:"target"`
	Field     FieldConfig     `yaml:"field"`
	Fluid     FluidConfig     `yaml:"fluid"`
	Physics   PhysicsConfig   `yaml:"physics"`
	Compute   ComputeConfig   `yaml:"compute"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// ScreenConfig holds display settings.
type ScreenConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	TargetFPS int `yaml:"target_fps"`
}

// WorldConfig holds the simulation box.
type WorldConfig struct {
	Dimension int     `yaml:"dimension"` // 2 or 3
	BoxSize   float64 `yaml:"box_size"`  // edge length of the cube centered on the origin
	Boundary  string  `yaml:"boundary"`  // wrap or bounce
	Bounded   bool    `yaml:"bounded"`   // false leaves the world open (boundary ignored)
}

// ParticlesConfig holds population settings.
type ParticlesConfig struct {
	Preset       string  `yaml:"preset"` // small, medium, large, xlarge
	Count        int     `yaml:"count"`  // overrides preset when > 0
	Layout       string  `yaml:"layout"` // lattice, random or dam
	InitialSpeed float64 `yaml:"initial_speed"`
	Types        int     `yaml:"types"`      // particle types for the field model
	ColorMode    string  `yaml:"color_mode"` // position or type
}

// RuleConfig is a toggleable weighted rule.
type RuleConfig struct {
	Enabled bool    `yaml:"enabled"`
	Weight  float64 `yaml:"weight"`
}

// BoidsConfig holds the steering rules.
type BoidsConfig struct {
	Radius           float64    `yaml:"radius"`
	SeparationRadius float64    `yaml:"separation_radius"` // 0 = radius/2
	MaxSpeed         float64    `yaml:"max_speed"`
	MaxSteer         float64    `yaml:"max_steer"`
	MaxNeighbors     int        `yaml:"max_neighbors"` // 0 = unlimited
	Separation       RuleConfig `yaml:"separation"`
	Alignment        RuleConfig `yaml:"alignment"`
	Cohesion         RuleConfig `yaml:"cohesion"`
}

// TargetConfig holds attractor/repulsor settings.
type TargetConfig struct {
	RuleConfig   `yaml:",inline"`
	Count        int     `yaml:"count"`
	Mode         string  `yaml:"mode"`          // attract, repel or alternate
	RadiusEffect float64 `yaml:"radius_effect"` // reach in multiples of boids.radius
	Strength     float64 `yaml:"strength"`
	Speed        float64 `yaml:"speed"` // noise time per unit of sim time
}

// FieldConfig holds the type interaction model.
type FieldConfig struct {
	Attraction []float64 `yaml:"attraction"` // types*types, row = acting type
	Repulsion  float64   `yaml:"repulsion"`
	Core       float64   `yaml:"core"` // fraction of boids.radius
}

// FluidConfig holds the position-based fluid model. Densities are relative
// to a lattice at spacing boids.radius/2.
type FluidConfig struct {
	RestDensity        float64                  `yaml:"rest_density"`
	Relaxation         float64                  `yaml:"relaxation"`
	Iterations         int                      `yaml:"iterations"`
	Gravity            []float64                `yaml:"gravity"` // x, y, z; z is ignored in 2D
	ArtificialPressure ArtificialPressureConfig `yaml:"artificial_pressure"`
	Vorticity          RuleConfig               `yaml:"vorticity"`
	Viscosity          float64                  `yaml:"viscosity"`
}

// ArtificialPressureConfig holds the anti-clumping term.
type ArtificialPressureConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Coeff    float64 `yaml:"coeff"`
	Radius   float64 `yaml:"radius"` // fraction of boids.radius
	Exponent int     `yaml:"exponent"`
}

// PhysicsConfig holds integration settings.
type PhysicsConfig struct {
	DT       float64 `yaml:"dt"`
	Model    string  `yaml:"model"`     // boids, field or fluids
	TargetHz float64 `yaml:"target_hz"` // 0 = as fast as possible
}

// ComputeConfig selects the compute backend.
type ComputeConfig struct {
	Backend           string `yaml:"backend"` // auto, host or opencl
	Device            string `yaml:"device"`  // substring of the OpenCL device name
	Workers           int    `yaml:"workers"` // 0 = GOMAXPROCS
	ParallelThreshold int    `yaml:"parallel_threshold"`
}

// TelemetryConfig holds logging and sampling intervals.
type TelemetryConfig struct {
	PerfWindow    int `yaml:"perf_window"`    // ticks averaged by the perf collector
	StatsInterval int `yaml:"stats_interval"` // ticks between flock stats samples
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Count     int     // resolved particle count
	DT32      float32 // Physics.DT as float32
	BoxSize32 float32 // World.BoxSize as float32
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults invalid: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

// Validate checks names and ranges. Errors wrap components.ErrInvalidArgument.
func (c *Config) Validate() error {
	bad := func(field string, v any) error {
		return fmt.Errorf("config %s = %v: %w", field, v, components.ErrInvalidArgument)
	}
	if c.World.Dimension != 2 && c.World.Dimension != 3 {
		return bad("world.dimension", c.World.Dimension)
	}
	if c.World.BoxSize <= 0 {
		return bad("world.box_size", c.World.BoxSize)
	}
	if c.World.Boundary != "wrap" && c.World.Boundary != "bounce" {
		return bad("world.boundary", c.World.Boundary)
	}
	if c.Particles.Count < 0 {
		return bad("particles.count", c.Particles.Count)
	}
	if c.Particles.Count == 0 {
		if _, err := components.PresetCount(c.Particles.Preset); err != nil {
			return bad("particles.preset", c.Particles.Preset)
		}
	}
	switch c.Particles.Layout {
	case components.LayoutLattice, components.LayoutRandom, components.LayoutDam:
	default:
		return bad("particles.layout", c.Particles.Layout)
	}
	if c.Particles.Types < 1 || c.Particles.Types > 255 {
		return bad("particles.types", c.Particles.Types)
	}
	if c.Particles.ColorMode != "position" && c.Particles.ColorMode != "type" {
		return bad("particles.color_mode", c.Particles.ColorMode)
	}
	if c.Boids.Radius <= 0 {
		return bad("boids.radius", c.Boids.Radius)
	}
	if c.Boids.MaxSpeed < 0 || c.Boids.MaxSteer < 0 {
		return bad("boids.max_speed/max_steer", fmt.Sprint(c.Boids.MaxSpeed, "/", c.Boids.MaxSteer))
	}
	if c.Target.Count < 0 {
		return bad("target.count", c.Target.Count)
	}
	switch c.Target.Mode {
	case "attract", "repel", "alternate":
	default:
		return bad("target.mode", c.Target.Mode)
	}
	if c.Physics.DT <= 0 {
		return bad("physics.dt", c.Physics.DT)
	}
	switch c.Physics.Model {
	case "boids", "field":
	case "fluids":
		if !c.World.Bounded {
			return bad("physics.model fluids with world.bounded", c.World.Bounded)
		}
	default:
		return bad("physics.model", c.Physics.Model)
	}
	if c.Physics.TargetHz < 0 {
		return bad("physics.target_hz", c.Physics.TargetHz)
	}
	if n := len(c.Fluid.Gravity); n != 0 && (n < c.World.Dimension || n > 3) {
		return bad("fluid.gravity length", n)
	}
	if n := len(c.Field.Attraction); n != 0 && n != c.Particles.Types*c.Particles.Types {
		return bad("field.attraction length", n)
	}
	switch c.Compute.Backend {
	case "auto", "host", "opencl":
	default:
		return bad("compute.backend", c.Compute.Backend)
	}
	if c.Compute.Workers < 0 {
		return bad("compute.workers", c.Compute.Workers)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.Count = c.Particles.Count
	if c.Derived.Count == 0 {
		c.Derived.Count, _ = components.PresetCount(c.Particles.Preset)
	}
	c.Derived.DT32 = float32(c.Physics.DT)
	c.Derived.BoxSize32 = float32(c.World.BoxSize)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
