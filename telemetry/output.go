package telemetry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/flock/config"
)

// series is one append-only CSV file; the header goes out with the first row.
type series struct {
	f      *os.File
	header bool
}

func openSeries(dir, name string) (*series, error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return &series{f: f}, nil
}

func appendRow[T any](s *series, row T) error {
	rows := []T{row}
	if s.header {
		return gocsv.MarshalWithoutHeaders(&rows, s.f)
	}
	if err := gocsv.Marshal(&rows, s.f); err != nil {
		return err
	}
	s.header = true
	return nil
}

// OutputManager writes run output (CSV series and the effective config)
// into a directory. A nil *OutputManager is valid and writes nothing.
type OutputManager struct {
	dir   string
	perf  *series
	flock *series
}

// NewOutputManager creates dir and the CSV files in it. An empty dir
// disables output and returns a nil manager.
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	var err error
	if om.perf, err = openSeries(dir, "perf.csv"); err != nil {
		return nil, err
	}
	if om.flock, err = openSeries(dir, "flock.csv"); err != nil {
		om.perf.f.Close()
		return nil, err
	}
	return om, nil
}

// WriteConfig saves the effective configuration as config.yaml.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WritePerf appends a perf.csv row.
func (om *OutputManager) WritePerf(stats PerfStats, tick uint64, particles int) error {
	if om == nil {
		return nil
	}
	if err := appendRow(om.perf, stats.ToCSV(tick, particles)); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteFlock appends a flock.csv row.
func (om *OutputManager) WriteFlock(stats FlockStats) error {
	if om == nil {
		return nil
	}
	if err := appendRow(om.flock, stats); err != nil {
		return fmt.Errorf("writing flock stats: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close closes every CSV file.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	return errors.Join(om.perf.f.Close(), om.flock.f.Close())
}
