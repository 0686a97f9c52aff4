package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/pthm-cable/flock/components"
	"github.com/pthm-cable/flock/systems"
)

// StateVersion is the RunState format written by SaveState.
const StateVersion = 1

// ErrStateVersion reports a state file written by an incompatible version.
var ErrStateVersion = errors.New("unsupported state version")

// RunState is the flat record needed to restart a run: particle count,
// layout seed, tick reached and the active parameters.
type RunState struct {
	Version int            `json:"version"`
	N       int            `json:"n"`
	Seed    int64          `json:"seed"`
	Tick    uint64         `json:"tick"`
	Params  systems.Params `json:"params"`
}

// SaveState writes the state as indented JSON.
func SaveState(path string, st RunState) error {
	st.Version = StateVersion
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

// LoadState reads and validates a state file.
func LoadState(path string) (RunState, error) {
	var st RunState
	data, err := os.ReadFile(path)
	if err != nil {
		return st, fmt.Errorf("reading state file: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parsing state file: %w", err)
	}
	if st.Version != StateVersion {
		return st, fmt.Errorf("state version %d: %w", st.Version, ErrStateVersion)
	}
	if st.N < 0 {
		return st, fmt.Errorf("state particle count %d: %w", st.N, components.ErrInvalidArgument)
	}
	if err := st.Params.Validate(); err != nil {
		return st, fmt.Errorf("state params: %w", err)
	}
	return st, nil
}
