// Package game wires the simulation loop to the viewer, the control panel
// and the telemetry outputs.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/flock/camera"
	"github.com/pthm-cable/flock/config"
	"github.com/pthm-cable/flock/renderer"
	"github.com/pthm-cable/flock/sim"
	"github.com/pthm-cable/flock/telemetry"
	"github.com/pthm-cable/flock/ui"
)

// Options configure a Game.
type Options struct {
	Config *config.Config // nil uses config.Cfg()
	Seed   int64
	State  *telemetry.RunState // restores a saved run when set

	Backend   string // overrides the configured compute backend
	OutputDir string
	LogStats  bool
	Headless  bool

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Game owns the loop and, outside headless mode, the viewer state.
type Game struct {
	cfg      *config.Config
	loop     *sim.Loop
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	perf     *telemetry.PerfCollector
	headless bool

	outputManager *telemetry.OutputManager
	logStats      bool
	statsInterval uint64
	lastFlush     uint64
	lastFlock     telemetry.FlockStats

	// Background loop, graphical mode only
	cancel context.CancelFunc
	runErr chan error

	camera    *camera.Camera
	particles *renderer.ParticleRenderer
	hud       *ui.HUD
	stats     *ui.StatsPanel
	controls  *ui.ControlPanel
	overlays  *ui.OverlayRegistry

	screenWidth, screenHeight float32
}

// New builds the loop from the config. The loop is not started.
func New(opts Options) (*Game, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Cfg()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	simOpts, err := sim.OptionsFromConfig(cfg, opts.Seed)
	if err != nil {
		return nil, err
	}
	if opts.State != nil {
		if err := simOpts.Restore(*opts.State); err != nil {
			return nil, err
		}
	}
	if opts.Backend != "" {
		simOpts.Compute.Kind = opts.Backend
	}
	perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow)
	simOpts.Logger = logger
	simOpts.Metrics = opts.Metrics
	simOpts.Perf = perf
	if opts.Headless {
		simOpts.TargetHz = 0
	}

	loop, err := sim.New(simOpts)
	if err != nil {
		return nil, fmt.Errorf("creating simulation: %w", err)
	}

	g := &Game{
		cfg:           cfg,
		loop:          loop,
		logger:        logger,
		metrics:       opts.Metrics,
		perf:          perf,
		headless:      opts.Headless,
		logStats:      opts.LogStats,
		statsInterval: uint64(cfg.Telemetry.StatsInterval),
		lastFlush:     simOpts.StartTick,
		screenWidth:   float32(cfg.Screen.Width),
		screenHeight:  float32(cfg.Screen.Height),
	}

	if opts.OutputDir != "" {
		om, err := telemetry.NewOutputManager(opts.OutputDir)
		if err != nil {
			loop.Stop()
			return nil, err
		}
		if err := om.WriteConfig(cfg); err != nil {
			logger.Error("failed to write config", "error", err)
		}
		g.outputManager = om
	}

	if !opts.Headless {
		g.initViewer(simOpts)
	}

	logger.Info("simulation ready",
		"dimension", simOpts.Params.Dim,
		"particles", simOpts.Count,
		"seed", simOpts.Seed,
		"backend", loop.Diagnostics().Backend,
		"model", simOpts.Params.Model.String(),
	)
	return g, nil
}

// initViewer sets up the camera and panels. It does not touch the window,
// so it can run before InitWindow.
func (g *Game) initViewer(simOpts sim.Options) {
	g.camera = camera.New(g.screenWidth, g.screenHeight, simOpts.Box, simOpts.Params.Periodic())
	g.particles = renderer.NewParticleRenderer()
	g.particles.NeighborRadius = simOpts.Params.Radius
	g.hud = ui.NewHUD()
	g.overlays = ui.NewOverlayRegistry()
	g.stats = ui.NewStatsPanel(int32(g.screenWidth)-250, 10, 240)
	g.controls = ui.NewControlPanel(10, 100, 270)
}

// Start runs the loop on its own goroutine at the configured rate.
func (g *Game) Start() {
	if g.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.runErr = make(chan error, 1)
	go func() {
		g.runErr <- g.loop.Run(ctx)
	}()
}

// Loop returns the simulation loop.
func (g *Game) Loop() *sim.Loop {
	return g.loop
}

// Tick returns the number of completed steps.
func (g *Game) Tick() uint64 {
	return g.loop.Diagnostics().Tick
}

// RunState captures the run for -state.
func (g *Game) RunState() telemetry.RunState {
	return g.loop.RunState()
}

// Unload stops the loop, waits for the runner and flushes outputs.
func (g *Game) Unload() {
	g.loop.Stop()
	if g.cancel != nil {
		g.cancel()
		if err := <-g.runErr; err != nil && !errors.Is(err, context.Canceled) {
			g.logger.Error("simulation stopped with error", "error", err)
		}
		g.cancel = nil
	}
	if err := g.outputManager.Close(); err != nil {
		g.logger.Error("failed to close output", "error", err)
	}
}
