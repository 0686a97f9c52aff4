package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pthm-cable/flock/components"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load defaults: %v", err)
	}
	if cfg.World.Dimension != 3 {
		t.Errorf("dimension = %d, want 3", cfg.World.Dimension)
	}
	if cfg.Derived.Count != 16384 {
		t.Errorf("derived count = %d, want medium preset 16384", cfg.Derived.Count)
	}
	if cfg.Derived.DT32 != 0.1 {
		t.Errorf("derived dt = %v", cfg.Derived.DT32)
	}
	if len(cfg.Field.Attraction) != cfg.Particles.Types*cfg.Particles.Types {
		t.Errorf("attraction has %d entries for %d types", len(cfg.Field.Attraction), cfg.Particles.Types)
	}
}

func TestLoadOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flock.yaml")
	data := []byte("world:\n  dimension: 2\nparticles:\n  count: 300\nboids:\n  cohesion:\n    enabled: false\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.Dimension != 2 {
		t.Errorf("dimension = %d, want 2", cfg.World.Dimension)
	}
	if cfg.Derived.Count != 300 {
		t.Errorf("count = %d, want 300", cfg.Derived.Count)
	}
	if cfg.Boids.Cohesion.Enabled {
		t.Error("cohesion should be disabled")
	}
	// Untouched fields keep their defaults.
	if cfg.Boids.Cohesion.Weight != 1.45 || cfg.World.BoxSize != 100 {
		t.Errorf("defaults lost: cohesion weight %v, box %v", cfg.Boids.Cohesion.Weight, cfg.World.BoxSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"dimension", func(c *Config) { c.World.Dimension = 4 }},
		{"box size", func(c *Config) { c.World.BoxSize = 0 }},
		{"boundary", func(c *Config) { c.World.Boundary = "sticky" }},
		{"negative count", func(c *Config) { c.Particles.Count = -1 }},
		{"preset", func(c *Config) { c.Particles.Preset = "huge" }},
		{"layout", func(c *Config) { c.Particles.Layout = "spiral" }},
		{"types", func(c *Config) { c.Particles.Types = 0 }},
		{"radius", func(c *Config) { c.Boids.Radius = -1 }},
		{"max speed", func(c *Config) { c.Boids.MaxSpeed = -1 }},
		{"target mode", func(c *Config) { c.Target.Mode = "orbit" }},
		{"dt", func(c *Config) { c.Physics.DT = 0 }},
		{"model", func(c *Config) { c.Physics.Model = "lenia" }},
		{"attraction size", func(c *Config) { c.Field.Attraction = []float64{1, 2} }},
		{"gravity size", func(c *Config) { c.Fluid.Gravity = []float64{0, -10} }},
		{"fluids unbounded", func(c *Config) { c.Physics.Model = "fluids"; c.World.Bounded = false }},
		{"backend", func(c *Config) { c.Compute.Backend = "cuda" }},
		{"workers", func(c *Config) { c.Compute.Workers = -2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, components.ErrInvalidArgument) {
				t.Errorf("Validate() = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestLoadFluids(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dam.yaml")
	data := []byte("world:\n  dimension: 2\n  boundary: bounce\nparticles:\n  layout: dam\nphysics:\n  model: fluids\nfluid:\n  iterations: 4\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Fluid.Iterations != 4 || cfg.Particles.Layout != components.LayoutDam {
		t.Errorf("fluid config not applied: %+v, layout %q", cfg.Fluid, cfg.Particles.Layout)
	}
	// 3D default gravity is accepted in 2D; z is ignored.
	if len(cfg.Fluid.Gravity) != 3 || cfg.Fluid.Gravity[1] != -10 {
		t.Errorf("gravity = %v", cfg.Fluid.Gravity)
	}
}

func TestCountOverridesPreset(t *testing.T) {
	cfg := Default()
	cfg.Particles.Preset = "bogus"
	cfg.Particles.Count = 10
	if err := cfg.Validate(); err != nil {
		t.Fatalf("explicit count should ignore preset: %v", err)
	}
	cfg.computeDerived()
	if cfg.Derived.Count != 10 {
		t.Errorf("count = %d, want 10", cfg.Derived.Count)
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Boids.Radius = 6.5
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load written config: %v", err)
	}
	if back.Boids.Radius != 6.5 {
		t.Errorf("radius = %v after round trip", back.Boids.Radius)
	}
}

func TestInitAndCfg(t *testing.T) {
	defer func() { global = nil }()
	if err := Init(""); err != nil {
		t.Fatal(err)
	}
	if Cfg().Physics.Model != "boids" {
		t.Errorf("model = %q", Cfg().Physics.Model)
	}
}

func TestCfgPanicsBeforeInit(t *testing.T) {
	global = nil
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	Cfg()
}
