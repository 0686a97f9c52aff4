package sim

import (
	"sync/atomic"

	"github.com/pthm-cable/flock/components"
	"github.com/pthm-cable/flock/systems"
)

// Frame is a published, immutable copy of the particle state after a step.
type Frame struct {
	Tick    uint64
	Dim     int
	N       int
	Pos     []float32
	Vel     []float32
	Color   []float32
	Type    []uint8
	Targets []systems.TargetState
	Bounds  *components.Box

	readers atomic.Int32
}

// fill copies the store into f, reusing its slices when large enough.
func (f *Frame) fill(tick uint64, view components.Snapshot, targets []systems.TargetState, bounds *components.Box) {
	f.Tick = tick
	f.Dim = view.Dim
	f.N = view.N
	f.Pos = append(f.Pos[:0], view.Pos...)
	f.Vel = append(f.Vel[:0], view.Vel...)
	f.Color = append(f.Color[:0], view.Color...)
	f.Type = append(f.Type[:0], view.Type...)
	f.Targets = append(f.Targets[:0], targets...)
	if bounds != nil {
		b := *bounds
		f.Bounds = &b
	} else {
		f.Bounds = nil
	}
}

// Clone returns a copy that is never recycled by the loop.
func (f *Frame) Clone() *Frame {
	c := &Frame{}
	c.fill(f.Tick, components.Snapshot{
		Dim:   f.Dim,
		N:     f.N,
		Pos:   f.Pos,
		Vel:   f.Vel,
		Color: f.Color,
		Type:  f.Type,
	}, f.Targets, f.Bounds)
	return c
}

// Position returns particle i's position.
func (f *Frame) Position(i int) [3]float32 { return components.Load(f.Pos, i, f.Dim) }

// Velocity returns particle i's velocity.
func (f *Frame) Velocity(i int) [3]float32 { return components.Load(f.Vel, i, f.Dim) }

// frames is the double buffer between the step goroutine and readers.
// front is swapped atomically; back is only touched by the publisher.
type frames struct {
	front atomic.Pointer[Frame]
	back  *Frame
}

// publish writes the next frame into the back buffer and swaps it in.
// A back buffer still held by a reader is abandoned for a fresh one.
func (fs *frames) publish(tick uint64, view components.Snapshot, targets []systems.TargetState, bounds *components.Box) {
	next := fs.back
	if next == nil || next.readers.Load() != 0 {
		next = &Frame{}
	}
	next.fill(tick, view, targets, bounds)
	fs.back = fs.front.Swap(next)
}

// acquire pins the current frame until release.
func (fs *frames) acquire() *Frame {
	for {
		f := fs.front.Load()
		if f == nil {
			return nil
		}
		f.readers.Add(1)
		if fs.front.Load() == f {
			return f
		}
		// Swapped out between load and pin; it may already be rewriting.
		f.readers.Add(-1)
	}
}

func (fs *frames) release(f *Frame) {
	if f != nil {
		f.readers.Add(-1)
	}
}
