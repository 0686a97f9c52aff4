package telemetry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Step phases, in execution order.
const (
	PhaseApply     = "apply"
	PhaseGrid      = "grid"
	PhaseTargets   = "targets"
	PhaseDispatch  = "dispatch"
	PhaseIntegrate = "integrate"
	PhasePublish   = "publish"
)

// Phases lists the step phases in execution order.
var Phases = []string{PhaseApply, PhaseGrid, PhaseTargets, PhaseDispatch, PhaseIntegrate, PhasePublish}

var phaseIndex = func() map[string]int {
	m := make(map[string]int, len(Phases))
	for i, name := range Phases {
		m[name] = i
	}
	return m
}()

// PerfCollector keeps the last windowSize step timings in a ring.
// The step goroutine records ticks; Stats may be called from any goroutine.
type PerfCollector struct {
	mu    sync.Mutex
	ticks []float64   // nanoseconds, ring
	phase [][]float64 // [phase][slot] nanoseconds, ring
	next  int
	count int

	// owned by the step goroutine
	tickStart  time.Time
	phaseStart time.Time
	current    int // phase index, -1 when none
	pending    []time.Duration

	lastFrame     time.Time
	frameDuration time.Duration

	now func() time.Time
}

// NewPerfCollector creates a collector averaging over windowSize ticks
// (60 is one second at 60Hz). Non-positive sizes fall back to 60.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	p := &PerfCollector{
		ticks:   make([]float64, windowSize),
		phase:   make([][]float64, len(Phases)),
		pending: make([]time.Duration, len(Phases)),
		current: -1,
		now:     time.Now,
	}
	for i := range p.phase {
		p.phase[i] = make([]float64, windowSize)
	}
	return p
}

// StartTick begins timing a new step.
func (p *PerfCollector) StartTick() {
	p.tickStart = p.now()
	p.current = -1
	for i := range p.pending {
		p.pending[i] = 0
	}
}

// StartPhase ends the running phase and starts timing phase. Unknown
// names only end the running phase.
func (p *PerfCollector) StartPhase(phase string) {
	now := p.now()
	p.closePhase(now)
	idx, ok := phaseIndex[phase]
	if !ok {
		idx = -1
	}
	p.current = idx
	p.phaseStart = now
}

func (p *PerfCollector) closePhase(now time.Time) {
	if p.current >= 0 {
		p.pending[p.current] += now.Sub(p.phaseStart)
	}
	p.current = -1
}

// EndTick closes the step, stores it in the window and returns its duration.
func (p *PerfCollector) EndTick() time.Duration {
	now := p.now()
	p.closePhase(now)
	d := now.Sub(p.tickStart)

	p.mu.Lock()
	p.ticks[p.next] = float64(d)
	for i, v := range p.pending {
		p.phase[i][p.next] = float64(v)
	}
	p.next = (p.next + 1) % len(p.ticks)
	if p.count < len(p.ticks) {
		p.count++
	}
	p.mu.Unlock()
	return d
}

// AbortTick discards the running step without recording it.
func (p *PerfCollector) AbortTick() {
	p.current = -1
	for i := range p.pending {
		p.pending[i] = 0
	}
}

// RecordFrame marks a rendered frame; the gap to the previous call is the
// frame duration.
func (p *PerfCollector) RecordFrame() {
	now := p.now()
	p.mu.Lock()
	if !p.lastFrame.IsZero() {
		p.frameDuration = now.Sub(p.lastFrame)
	}
	p.lastFrame = now
	p.mu.Unlock()
}

// PerfStats aggregates the current window.
type PerfStats struct {
	AvgTickDuration time.Duration
	MinTickDuration time.Duration
	MaxTickDuration time.Duration
	P95TickDuration time.Duration

	PhaseAvg map[string]time.Duration
	PhasePct map[string]float64 // share of the average tick, in percent

	TicksPerSecond float64

	FrameDuration time.Duration
	FPS           float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := PerfStats{
		PhaseAvg:      make(map[string]time.Duration, len(Phases)),
		PhasePct:      make(map[string]float64, len(Phases)),
		FrameDuration: p.frameDuration,
	}
	if p.frameDuration > 0 {
		s.FPS = float64(time.Second) / float64(p.frameDuration)
	}
	if p.count == 0 {
		return s
	}

	// The first count slots are filled whether or not the ring wrapped.
	ticks := p.ticks[:p.count]
	avg := stat.Mean(ticks, nil)
	s.AvgTickDuration = time.Duration(avg)
	s.MinTickDuration = time.Duration(floats.Min(ticks))
	s.MaxTickDuration = time.Duration(floats.Max(ticks))

	sorted := append([]float64(nil), ticks...)
	sort.Float64s(sorted)
	s.P95TickDuration = time.Duration(stat.Quantile(0.95, stat.Empirical, sorted, nil))

	for i, name := range Phases {
		total := floats.Sum(p.phase[i][:p.count])
		if total == 0 {
			continue
		}
		mean := total / float64(p.count)
		s.PhaseAvg[name] = time.Duration(mean)
		if avg > 0 {
			s.PhasePct[name] = mean / avg * 100
		}
	}
	if avg > 0 {
		s.TicksPerSecond = float64(time.Second) / avg
	}
	return s
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_tick_us", s.AvgTickDuration.Microseconds()),
		slog.Int64("p95_tick_us", s.P95TickDuration.Microseconds()),
		slog.Int64("max_tick_us", s.MaxTickDuration.Microseconds()),
		slog.Float64("ticks_per_sec", s.TicksPerSecond),
	}
	if s.FPS > 0 {
		attrs = append(attrs, slog.Float64("fps", s.FPS))
	}
	for _, phase := range Phases {
		if pct := s.PhasePct[phase]; pct > 0.1 {
			attrs = append(attrs, slog.Float64(phase+"_pct", float64(int(pct*10))/10))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is one perf.csv row.
type PerfStatsCSV struct {
	Tick         uint64  `csv:"tick"`
	Particles    int     `csv:"particles"`
	AvgTickUS    int64   `csv:"avg_tick_us"`
	MinTickUS    int64   `csv:"min_tick_us"`
	MaxTickUS    int64   `csv:"max_tick_us"`
	P95TickUS    int64   `csv:"p95_tick_us"`
	TicksPerSec  float64 `csv:"ticks_per_sec"`
	FPS          float64 `csv:"fps"`
	ApplyPct     float64 `csv:"apply_pct"`
	GridPct      float64 `csv:"grid_pct"`
	TargetsPct   float64 `csv:"targets_pct"`
	DispatchPct  float64 `csv:"dispatch_pct"`
	IntegratePct float64 `csv:"integrate_pct"`
	PublishPct   float64 `csv:"publish_pct"`
}

// ToCSV flattens the stats for the given tick and population.
func (s PerfStats) ToCSV(tick uint64, particles int) PerfStatsCSV {
	return PerfStatsCSV{
		Tick:         tick,
		Particles:    particles,
		AvgTickUS:    s.AvgTickDuration.Microseconds(),
		MinTickUS:    s.MinTickDuration.Microseconds(),
		MaxTickUS:    s.MaxTickDuration.Microseconds(),
		P95TickUS:    s.P95TickDuration.Microseconds(),
		TicksPerSec:  s.TicksPerSecond,
		FPS:          s.FPS,
		ApplyPct:     s.PhasePct[PhaseApply],
		GridPct:      s.PhasePct[PhaseGrid],
		TargetsPct:   s.PhasePct[PhaseTargets],
		DispatchPct:  s.PhasePct[PhaseDispatch],
		IntegratePct: s.PhasePct[PhaseIntegrate],
		PublishPct:   s.PhasePct[PhasePublish],
	}
}
