// Package components holds particle state and the ECS components of the scene.
package components

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument reports a rejected configuration or size value.
var ErrInvalidArgument = errors.New("invalid argument")

// Store holds per-particle state in structure-of-arrays layout.
// Particles are addressed by index 0..Len()-1. Vector attributes are packed
// with Dim() components per particle.
type Store struct {
	dim int
	n   int

	Pos   []float32 // n*dim
	Vel   []float32 // n*dim
	Mass  []float32 // n
	Type  []uint8   // n
	Color []float32 // n*3, RGB in [0,1]
}

// NewStore creates an empty store for 2D or 3D particles.
func NewStore(dim int) (*Store, error) {
	if dim != 2 && dim != 3 {
		return nil, fmt.Errorf("dimension %d: %w", dim, ErrInvalidArgument)
	}
	return &Store{dim: dim}, nil
}

// Len returns the particle count.
func (s *Store) Len() int { return s.n }

// Dim returns the number of vector components per particle.
func (s *Store) Dim() int { return s.dim }

// Resize reallocates all arrays to hold n particles.
// Existing particles keep their state; new slots are zeroed.
func (s *Store) Resize(n int) error {
	if n < 0 {
		return fmt.Errorf("particle count %d: %w", n, ErrInvalidArgument)
	}
	s.Pos = resizeFloats(s.Pos, n*s.dim)
	s.Vel = resizeFloats(s.Vel, n*s.dim)
	s.Mass = resizeFloats(s.Mass, n)
	s.Color = resizeFloats(s.Color, n*3)

	types := make([]uint8, n)
	copy(types, s.Type)
	s.Type = types

	s.n = n
	return nil
}

func resizeFloats(src []float32, size int) []float32 {
	dst := make([]float32, size)
	copy(dst, src)
	return dst
}

// Position returns particle i's position. Unused components are zero.
func (s *Store) Position(i int) [3]float32 {
	return Load(s.Pos, i, s.dim)
}

// Velocity returns particle i's velocity.
func (s *Store) Velocity(i int) [3]float32 {
	return Load(s.Vel, i, s.dim)
}

// SetPosition writes particle i's position, ignoring components beyond Dim.
func (s *Store) SetPosition(i int, p [3]float32) {
	Put(s.Pos, i, s.dim, p)
}

// SetVelocity writes particle i's velocity.
func (s *Store) SetVelocity(i int, v [3]float32) {
	Put(s.Vel, i, s.dim, v)
}

// Load reads the vector of particle i from a packed array.
func Load(a []float32, i, dim int) [3]float32 {
	var v [3]float32
	base := i * dim
	v[0] = a[base]
	v[1] = a[base+1]
	if dim == 3 {
		v[2] = a[base+2]
	}
	return v
}

// Put writes the vector of particle i into a packed array.
func Put(a []float32, i, dim int, v [3]float32) {
	base := i * dim
	a[base] = v[0]
	a[base+1] = v[1]
	if dim == 3 {
		a[base+2] = v[2]
	}
}

// Snapshot is a read-only view over a store's arrays.
// It stays valid until the next mutating call on the store; use Clone to keep it.
type Snapshot struct {
	Dim   int
	N     int
	Pos   []float32
	Vel   []float32
	Mass  []float32
	Type  []uint8
	Color []float32
}

// Snapshot returns a view of the current state.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Dim:   s.dim,
		N:     s.n,
		Pos:   s.Pos[:s.n*s.dim],
		Vel:   s.Vel[:s.n*s.dim],
		Mass:  s.Mass[:s.n],
		Type:  s.Type[:s.n],
		Color: s.Color[:s.n*3],
	}
}

// Clone returns a deep copy that does not alias the store.
func (v Snapshot) Clone() Snapshot {
	c := Snapshot{Dim: v.Dim, N: v.N}
	c.Pos = append([]float32(nil), v.Pos...)
	c.Vel = append([]float32(nil), v.Vel...)
	c.Mass = append([]float32(nil), v.Mass...)
	c.Type = append([]uint8(nil), v.Type...)
	c.Color = append([]float32(nil), v.Color...)
	return c
}

// CopyFrom replaces the store contents with a snapshot of the same dimension.
func (s *Store) CopyFrom(v Snapshot) error {
	if v.Dim != s.dim {
		return fmt.Errorf("snapshot dimension %d, store dimension %d: %w", v.Dim, s.dim, ErrInvalidArgument)
	}
	if err := s.Resize(v.N); err != nil {
		return err
	}
	copy(s.Pos, v.Pos)
	copy(s.Vel, v.Vel)
	copy(s.Mass, v.Mass)
	copy(s.Type, v.Type)
	copy(s.Color, v.Color)
	return nil
}
