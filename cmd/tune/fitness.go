package main

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/flock/compute"
	"github.com/pthm-cable/flock/config"
	"github.com/pthm-cable/flock/sim"
	"github.com/pthm-cable/flock/telemetry"
)

// Targets describes the flock the tuner aims for.
type Targets struct {
	Polarization float64 // mean heading alignment in [0,1]
	Spread       float64 // mean distance to centroid as a fraction of the box
}

// Quality component weights.
const (
	qualityWeightPolarization = 0.5
	qualityWeightSpread       = 0.3
	qualityWeightSpeed        = 0.2

	warmupFraction = 0.5 // samples before this share of the run are ignored
)

// FitnessEvaluator runs headless simulations and scores the resulting flock.
type FitnessEvaluator struct {
	params      *ParamVector
	maxTicks    uint64
	sampleEvery uint64
	seeds       []int64
	baseConfig  *config.Config
	targets     Targets

	mu          sync.Mutex
	lastQuality float64
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, maxTicks uint64, seeds []int64, baseCfg *config.Config, targets Targets) *FitnessEvaluator {
	every := maxTicks / 40
	if every == 0 {
		every = 1
	}
	return &FitnessEvaluator{
		params:      params,
		maxTicks:    maxTicks,
		sampleEvery: every,
		seeds:       seeds,
		baseConfig:  baseCfg,
		targets:     targets,
	}
}

// LastQuality returns the quality of the most recent evaluation.
func (fe *FitnessEvaluator) LastQuality() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastQuality
}

// Evaluate computes fitness for raw parameter values (lower = better).
// Fitness is the negated mean quality over all seeds.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	cfg := fe.copyConfig()
	fe.params.ApplyToConfig(cfg, x)

	qualities := make([]float64, len(fe.seeds))
	var wg sync.WaitGroup
	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			samples, err := fe.runSimulation(cfg, s)
			if err != nil {
				slog.Warn("evaluation run failed", "seed", s, "error", err)
				return
			}
			qualities[idx] = fe.computeQuality(samples, cfg)
		}(i, seed)
	}
	wg.Wait()

	q := stat.Mean(qualities, nil)
	fe.mu.Lock()
	fe.lastQuality = q
	fe.mu.Unlock()
	return -q
}

// runSimulation steps one seeded loop and samples flock statistics.
func (fe *FitnessEvaluator) runSimulation(cfg *config.Config, seed int64) ([]telemetry.FlockStats, error) {
	opts, err := sim.OptionsFromConfig(cfg, seed)
	if err != nil {
		return nil, err
	}
	// seeds already run in parallel
	opts.Compute = compute.Options{Kind: compute.KindHost, Workers: 1}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	loop, err := sim.New(opts)
	if err != nil {
		return nil, err
	}
	defer loop.Stop()
	if err := loop.Start(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	warmup := uint64(float64(fe.maxTicks) * warmupFraction)
	var samples []telemetry.FlockStats
	for tick := uint64(1); tick <= fe.maxTicks; tick++ {
		if err := loop.Step(ctx); err != nil {
			return samples, err
		}
		if tick < warmup || tick%fe.sampleEvery != 0 {
			continue
		}
		f := loop.Acquire()
		samples = append(samples, telemetry.ComputeFlockStats(f.Tick, f.Pos, f.Vel, f.Dim))
		loop.Release(f)
	}
	return samples, nil
}

// copyConfig deep-copies the base config.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	cfg.Field.Attraction = append([]float64(nil), fe.baseConfig.Field.Attraction...)
	return &cfg
}

// computeQuality scores samples in [0, 1]: polarization and spread close
// to the targets, and speeds that stay near the limit.
func (fe *FitnessEvaluator) computeQuality(samples []telemetry.FlockStats, cfg *config.Config) float64 {
	if len(samples) == 0 {
		return 0
	}
	pol := make([]float64, len(samples))
	spread := make([]float64, len(samples))
	speed := make([]float64, len(samples))
	for i, s := range samples {
		pol[i] = s.Polarization
		spread[i] = s.Spread / cfg.World.BoxSize
		speed[i] = s.SpeedMean
	}

	polErr := (stat.Mean(pol, nil) - fe.targets.Polarization) / 0.15
	spreadErr := (stat.Mean(spread, nil) - fe.targets.Spread) / 0.10
	speedScore := 0.0
	if cfg.Boids.MaxSpeed > 0 {
		speedScore = math.Min(stat.Mean(speed, nil)/cfg.Boids.MaxSpeed, 1)
	}

	return qualityWeightPolarization*math.Exp(-polErr*polErr) +
		qualityWeightSpread*math.Exp(-spreadErr*spreadErr) +
		qualityWeightSpeed*speedScore
}
