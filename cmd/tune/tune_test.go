package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pthm-cable/flock/config"
	"github.com/pthm-cable/flock/telemetry"
)

func TestNormalizeRoundtrip(t *testing.T) {
	pv := NewParamVector()
	def := pv.DefaultVector()
	back := pv.Denormalize(pv.Normalize(def))
	for i := range def {
		if math.Abs(back[i]-def[i]) > 1e-9 {
			t.Errorf("%s: %v -> %v", pv.Specs[i].Name, def[i], back[i])
		}
	}
	for i, v := range pv.Normalize(def) {
		if v < 0 || v > 1 {
			t.Errorf("%s default normalizes to %v", pv.Specs[i].Name, v)
		}
	}
}

func TestClamp(t *testing.T) {
	pv := NewParamVector()
	v := make([]float64, pv.Dim())
	for i := range v {
		v[i] = -100
	}
	v[1] = 100
	c := pv.Clamp(v)
	if c[0] != pv.Specs[0].Min || c[1] != pv.Specs[1].Max {
		t.Errorf("clamped %v", c)
	}
}

func TestApplyExtract(t *testing.T) {
	pv := NewParamVector()
	cfg := config.Default()
	want := []float64{0.5, 2, 3, 6, 12, 4}
	pv.ApplyToConfig(cfg, want)
	got := pv.ExtractFromConfig(cfg)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s: got %v, want %v", pv.Specs[i].Name, got[i], want[i])
		}
	}

	cfg.Boids.SeparationRadius = 5
	pv.ApplyToConfig(cfg, []float64{1, 1, 1, 2, 10, 5})
	if cfg.Boids.SeparationRadius != 2 {
		t.Errorf("separation radius %v not limited by radius", cfg.Boids.SeparationRadius)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("applied config invalid: %v", err)
	}
}

func TestComputeQuality(t *testing.T) {
	cfg := config.Default()
	fe := NewFitnessEvaluator(NewParamVector(), 100, []int64{1}, cfg, Targets{Polarization: 0.8, Spread: 0.2})

	perfect := []telemetry.FlockStats{{
		Polarization: 0.8,
		Spread:       0.2 * cfg.World.BoxSize,
		SpeedMean:    cfg.Boids.MaxSpeed,
	}}
	if q := fe.computeQuality(perfect, cfg); math.Abs(q-1) > 1e-9 {
		t.Errorf("perfect flock quality = %v, want 1", q)
	}

	poor := []telemetry.FlockStats{{Polarization: 0.05, Spread: 0.9 * cfg.World.BoxSize}}
	if q := fe.computeQuality(poor, cfg); q > 0.1 {
		t.Errorf("poor flock quality = %v", q)
	}
	if q := fe.computeQuality(nil, cfg); q != 0 {
		t.Errorf("no samples quality = %v", q)
	}
}

func TestEvaluateShortRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.yaml")
	data := []byte("world:\n  dimension: 2\nparticles:\n  count: 60\ntarget:\n  count: 0\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	pv := NewParamVector()
	fe := NewFitnessEvaluator(pv, 20, []int64{1, 2}, cfg, Targets{Polarization: 0.8, Spread: 0.15})
	fitness := fe.Evaluate(pv.DefaultVector())
	if math.IsNaN(fitness) || fitness > 0 || fitness < -1 {
		t.Errorf("fitness %v outside [-1, 0]", fitness)
	}
	if math.Abs(fe.LastQuality()+fitness) > 1e-12 {
		t.Errorf("last quality %v does not match fitness %v", fe.LastQuality(), fitness)
	}
	if cfg.Boids.Radius != 4 {
		t.Error("evaluation modified the base config")
	}
}
