package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flock/config"
	"github.com/pthm-cable/flock/game"
	"github.com/pthm-cable/flock/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	headless := flag.Bool("headless", false, "Run without graphics")
	logStats := flag.Bool("log-stats", false, "Output perf and flock stats via slog")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	maxTicks := flag.Uint64("max-ticks", 0, "Stop after N ticks (0 = unlimited)")
	statePath := flag.String("state", "", "Run state file: restored on start if present, saved on exit")
	backend := flag.String("backend", "", "Compute backend: auto, host or opencl (empty = use config)")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	var state *telemetry.RunState
	if *statePath != "" {
		st, err := telemetry.LoadState(*statePath)
		switch {
		case err == nil:
			state = &st
			slog.Info("restoring run state", "path", *statePath, "tick", st.Tick, "particles", st.N)
		case errors.Is(err, os.ErrNotExist):
		default:
			slog.Error("failed to load state", "path", *statePath, "error", err)
			os.Exit(1)
		}
	}

	metrics := telemetry.NewMetrics()
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, metrics)
	}

	opts := game.Options{
		Config:    cfg,
		Seed:      rngSeed,
		State:     state,
		Backend:   *backend,
		OutputDir: *outputDir,
		LogStats:  *logStats,
		Headless:  *headless,
		Metrics:   metrics,
		Logger:    logger,
	}

	var err error
	if *headless {
		err = runHeadless(opts, *maxTicks, *statePath)
	} else {
		err = runWindowed(opts, *maxTicks, *statePath)
	}
	if err != nil {
		slog.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

// runHeadless steps as fast as possible until max ticks or interrupt.
func runHeadless(opts game.Options, maxTicks uint64, statePath string) error {
	g, err := game.New(opts)
	if err != nil {
		return err
	}
	defer g.Unload()
	defer saveState(g, statePath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	slog.Info("starting headless simulation", "seed", opts.Seed, "max_ticks", maxTicks)
	if err := g.StartHeadless(); err != nil {
		return err
	}
	for {
		if err := g.UpdateHeadless(ctx); err != nil {
			if ctx.Err() != nil {
				slog.Info("interrupted", "tick", g.Tick())
				return nil
			}
			return err
		}
		if maxTicks > 0 && g.Tick() >= maxTicks {
			slog.Info("max ticks reached", "tick", g.Tick())
			return nil
		}
	}
}

// runWindowed opens the viewer; the loop steps on its own goroutine.
func runWindowed(opts game.Options, maxTicks uint64, statePath string) error {
	cfg := opts.Config
	rl.SetConfigFlags(rl.FlagWindowResizable | rl.FlagMsaa4xHint)
	rl.InitWindow(int32(cfg.Screen.Width), int32(cfg.Screen.Height), "Flock")
	defer rl.CloseWindow()

	rl.SetTargetFPS(int32(cfg.Screen.TargetFPS))

	g, err := game.New(opts)
	if err != nil {
		return err
	}
	defer g.Unload()
	defer saveState(g, statePath)

	g.Start()
	for !rl.WindowShouldClose() {
		g.Update()
		g.Draw()

		if maxTicks > 0 && g.Tick() >= maxTicks {
			break
		}
	}
	return nil
}

func saveState(g *game.Game, path string) {
	if path == "" {
		return
	}
	if err := telemetry.SaveState(path, g.RunState()); err != nil {
		slog.Error("failed to save state", "path", path, "error", err)
		return
	}
	slog.Info("run state saved", "path", path, "tick", g.Tick())
}

func serveMetrics(addr string, m *telemetry.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	slog.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}
