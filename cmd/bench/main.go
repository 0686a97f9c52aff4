// Package main measures step throughput of the compute backends across
// particle counts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/flock/components"
	"github.com/pthm-cable/flock/compute"
	"github.com/pthm-cable/flock/sim"
)

// Result is one benchmark row.
type Result struct {
	Backend   string  `csv:"backend"`
	Dim       int     `csv:"dim"`
	Particles int     `csv:"particles"`
	Ticks     int     `csv:"ticks"`
	AvgStepUS int64   `csv:"avg_step_us"`
	MaxStepUS int64   `csv:"max_step_us"`
	StepsPerS float64 `csv:"steps_per_sec"`
	FellBack  bool    `csv:"fell_back"`
}

// LogValue implements slog.LogValuer for structured logging.
func (r Result) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("backend", r.Backend),
		slog.Int("dim", r.Dim),
		slog.Int("particles", r.Particles),
		slog.Int64("avg_step_us", r.AvgStepUS),
		slog.Int64("max_step_us", r.MaxStepUS),
		slog.Float64("steps_per_sec", r.StepsPerS),
		slog.Bool("fell_back", r.FellBack),
	)
}

func main() {
	counts := flag.String("n", "small,medium,large", "Comma-separated particle counts or preset names")
	dim := flag.Int("dim", 3, "Dimension (2 or 3)")
	ticks := flag.Int("ticks", 100, "Steps per measurement")
	backends := flag.String("backends", "host,auto", "Comma-separated backends to measure")
	workers := flag.Int("workers", 0, "Host workers (0 = GOMAXPROCS)")
	output := flag.String("output", "", "CSV file for results (empty = log only)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ns, err := parseCounts(*counts)
	if err != nil {
		slog.Error("invalid -n", "error", err)
		os.Exit(1)
	}

	var results []Result
	for _, kind := range strings.Split(*backends, ",") {
		for _, n := range ns {
			r, err := run(context.Background(), strings.TrimSpace(kind), *dim, n, *ticks, *workers)
			if err != nil {
				slog.Error("benchmark failed", "backend", kind, "particles", n, "error", err)
				continue
			}
			slog.Info("result", "bench", r)
			results = append(results, r)
		}
	}

	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			slog.Error("failed to create output", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := gocsv.MarshalFile(&results, f); err != nil {
			slog.Error("failed to write results", "error", err)
			os.Exit(1)
		}
	}
}

// parseCounts accepts numbers and preset names.
func parseCounts(s string) ([]int, error) {
	var ns []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if n, err := strconv.Atoi(field); err == nil {
			if n <= 0 {
				return nil, fmt.Errorf("count %d: %w", n, components.ErrInvalidArgument)
			}
			ns = append(ns, n)
			continue
		}
		n, err := components.PresetCount(field)
		if err != nil {
			return nil, err
		}
		ns = append(ns, n)
	}
	if len(ns) == 0 {
		return nil, fmt.Errorf("no counts in %q: %w", s, components.ErrInvalidArgument)
	}
	return ns, nil
}

// run steps a fresh loop ticks times and summarizes the step durations.
func run(ctx context.Context, kind string, dim, n, ticks, workers int) (Result, error) {
	if ticks <= 0 {
		return Result{}, errors.New("ticks must be positive")
	}
	opts := sim.DefaultOptions(dim)
	opts.Count = n
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Compute = compute.Options{Kind: kind, Workers: workers}

	loop, err := sim.New(opts)
	if err != nil {
		return Result{}, err
	}
	defer loop.Stop()
	if err := loop.Start(); err != nil {
		return Result{}, err
	}

	var total, worst time.Duration
	for i := 0; i < ticks; i++ {
		if err := loop.Step(ctx); err != nil {
			return Result{}, err
		}
		d := loop.Diagnostics().LastStep
		total += d
		if d > worst {
			worst = d
		}
	}

	diag := loop.Diagnostics()
	avg := total / time.Duration(ticks)
	r := Result{
		Backend:   diag.Backend,
		Dim:       dim,
		Particles: n,
		Ticks:     ticks,
		AvgStepUS: avg.Microseconds(),
		MaxStepUS: worst.Microseconds(),
		FellBack:  diag.FellBack,
	}
	if avg > 0 {
		r.StepsPerS = float64(time.Second) / float64(avg)
	}
	return r, nil
}
