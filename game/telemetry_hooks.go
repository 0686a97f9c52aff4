package game

import (
	"context"

	"github.com/pthm-cable/flock/telemetry"
)

// UpdateHeadless runs one unpaced step and flushes telemetry when due.
func (g *Game) UpdateHeadless(ctx context.Context) error {
	if err := g.loop.Step(ctx); err != nil {
		return err
	}
	g.flushTelemetry()
	return nil
}

// StartHeadless moves the loop out of Idle for UpdateHeadless.
func (g *Game) StartHeadless() error {
	return g.loop.Start()
}

// flushTelemetry records perf and flock statistics every StatsInterval
// ticks.
func (g *Game) flushTelemetry() {
	if g.statsInterval == 0 {
		return
	}
	tick := g.loop.Diagnostics().Tick
	if tick < g.lastFlush+g.statsInterval {
		return
	}
	g.lastFlush = tick

	f := g.loop.Acquire()
	flock := telemetry.ComputeFlockStats(f.Tick, f.Pos, f.Vel, f.Dim)
	particles := f.N
	g.loop.Release(f)
	g.lastFlock = flock

	perfStats := g.perf.Stats()
	g.metrics.ObserveFlock(flock)

	if g.logStats {
		g.logger.Info("perf", "tick", flock.Tick, "stats", perfStats)
		g.logger.Info("flock", "stats", flock)
	}

	if g.outputManager != nil {
		if err := g.outputManager.WritePerf(perfStats, flock.Tick, particles); err != nil {
			g.logger.Error("failed to write perf", "error", err)
		}
		if err := g.outputManager.WriteFlock(flock); err != nil {
			g.logger.Error("failed to write flock stats", "error", err)
		}
	}
}

// FlockStats returns the most recently flushed flock statistics.
func (g *Game) FlockStats() telemetry.FlockStats {
	return g.lastFlock
}
