package sim

import (
	"errors"
	"fmt"

	"github.com/pthm-cable/flock/components"
	"github.com/pthm-cable/flock/systems"
)

// Update is a partial parameter change. Nil fields are left as they are.
// Updates are validated on Submit and applied at the next step boundary.
type Update struct {
	Radius           *float32
	SeparationRadius *float32
	MaxSpeed         *float32
	MaxSteer         *float32
	MaxNeighbors     *int
	DT               *float32

	Separation *systems.Rule
	Alignment  *systems.Rule
	Cohesion   *systems.Rule
	Target     *systems.Rule

	Boundary *systems.Boundary
	Bounded  *bool // false removes the bounds, true restores the loop's box
	Model    *systems.Model
	Field    *systems.Field
	Fluid    *systems.Fluid

	Count   *int // particle count; new particles are scattered randomly
	Targets *int // number of wandering targets
	Reset   bool // re-run the initial layout
}

// Ptr returns a pointer to v, for filling Update fields.
func Ptr[T any](v T) *T { return &v }

// applyTo writes the set fields into p. box is used when Bounded is true.
func (u *Update) applyTo(p *systems.Params, box components.Box) {
	set := func(dst *float32, src *float32) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.Radius, u.Radius)
	set(&p.SeparationRadius, u.SeparationRadius)
	set(&p.MaxSpeed, u.MaxSpeed)
	set(&p.MaxSteer, u.MaxSteer)
	set(&p.DT, u.DT)
	if u.MaxNeighbors != nil {
		p.MaxNeighbors = *u.MaxNeighbors
	}

	for _, r := range []struct {
		dst *systems.Rule
		src *systems.Rule
	}{
		{&p.Weights.Separation, u.Separation},
		{&p.Weights.Alignment, u.Alignment},
		{&p.Weights.Cohesion, u.Cohesion},
		{&p.Weights.Target, u.Target},
	} {
		if r.src != nil {
			*r.dst = *r.src
		}
	}

	if u.Boundary != nil {
		p.Boundary = *u.Boundary
	}
	if u.Bounded != nil {
		if *u.Bounded {
			b := box
			p.Bounds = &b
		} else {
			p.Bounds = nil
		}
	}
	if u.Model != nil {
		p.Model = *u.Model
	}
	if u.Field != nil {
		p.Field = *u.Field
		p.Field.Attraction = append([]float32(nil), u.Field.Attraction...)
	}
	if u.Fluid != nil {
		p.Fluid = *u.Fluid
	}
}

func (u *Update) validateCounts() error {
	if u.Count != nil && *u.Count < 0 {
		return fmt.Errorf("particle count %d: %w", *u.Count, components.ErrInvalidArgument)
	}
	if u.Targets != nil && *u.Targets < 0 {
		return fmt.Errorf("target count %d: %w", *u.Targets, components.ErrInvalidArgument)
	}
	return nil
}

// Submit validates u against the parameters it will be applied to and
// queues it. A rejected update leaves the queue unchanged.
func (l *Loop) Submit(u Update) error {
	if l.State() == Stopped {
		return fmt.Errorf("submit after stop: %w", ErrInvalidTransition)
	}
	if err := u.validateCounts(); err != nil {
		return err
	}

	l.qmu.Lock()
	defer l.qmu.Unlock()
	next := l.projected.Clone()
	u.applyTo(&next, l.opts.Box)
	if err := next.Validate(); err != nil {
		return err
	}
	if u.Field != nil {
		u.Field = &systems.Field{
			Types:      u.Field.Types,
			Attraction: append([]float32(nil), u.Field.Attraction...),
			Repulsion:  u.Field.Repulsion,
			Core:       u.Field.Core,
		}
	}
	if u.Fluid != nil {
		u.Fluid = Ptr(*u.Fluid)
	}
	l.pending = append(l.pending, u)
	l.projected = next
	return nil
}

// Resize queues a particle count change.
func (l *Loop) Resize(n int) error {
	return l.Submit(Update{Count: &n})
}

// Reset queues a re-layout of every particle.
func (l *Loop) Reset() error {
	return l.Submit(Update{Reset: true})
}

// Params returns the parameters as they will be after queued updates apply.
func (l *Loop) Params() systems.Params {
	l.qmu.Lock()
	defer l.qmu.Unlock()
	return l.projected.Clone()
}

// applyPending drains the queue into the active state. Called with mu held.
// When an update fails, the rest of the drained batch is dropped.
func (l *Loop) applyPending() error {
	l.qmu.Lock()
	pending := l.pending
	l.pending = nil
	l.qmu.Unlock()

	for i := range pending {
		if err := l.applyOne(&pending[i]); err != nil {
			if dropped := len(pending) - i - 1; dropped > 0 {
				l.logger.Warn("dropping queued updates", "count", dropped, "error", err)
			}
			l.resyncProjected()
			return err
		}
	}
	return nil
}

func (l *Loop) applyOne(u *Update) error {
	u.applyTo(&l.params, l.opts.Box)
	if u.Count != nil && *u.Count != l.store.Len() {
		if err := l.resize(*u.Count); err != nil {
			return err
		}
	}
	if u.Reset {
		if err := l.layout(0); err != nil {
			return err
		}
	}
	if u.Targets != nil {
		l.opts.Targets.Count = *u.Targets
		l.spawnTargets()
	}
	return nil
}

// resyncProjected rebuilds the projected params from the active ones and
// whatever was queued since the last drain. Queued updates that no longer
// validate on the new base are discarded.
func (l *Loop) resyncProjected() {
	l.qmu.Lock()
	defer l.qmu.Unlock()
	next := l.params.Clone()
	for i := range l.pending {
		l.pending[i].applyTo(&next, l.opts.Box)
	}
	if err := next.Validate(); err != nil {
		l.logger.Warn("dropping queued updates", "count", len(l.pending), "error", err)
		l.pending = nil
		next = l.params.Clone()
	}
	l.projected = next
}

// resize changes the particle count and reallocates the backend.
func (l *Loop) resize(n int) error {
	old := l.store.Len()
	if err := l.store.Resize(n); err != nil {
		return err
	}
	if n > old {
		if err := components.ApplyLayout(l.store, components.LayoutRandom, l.opts.Box, old, l.opts.InitialSpeed, l.rng); err != nil {
			return err
		}
		l.paint()
	}
	if err := l.backend.Allocate(n, l.store.Dim()); err != nil {
		if rerr := l.store.Resize(old); rerr != nil {
			return errors.Join(fmt.Errorf("reallocating backend: %w", err), rerr)
		}
		return fmt.Errorf("reallocating backend: %w", err)
	}
	l.logger.Info("particles resized", "from", old, "to", n)
	return nil
}
