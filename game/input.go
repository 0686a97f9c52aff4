package game

import (
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flock/sim"
	"github.com/pthm-cable/flock/ui"
)

// Update processes input and flushes telemetry. The loop itself steps on
// its own goroutine.
func (g *Game) Update() {
	g.handleInput()
	g.flushTelemetry()
	g.perf.RecordFrame()
}

// handleInput processes keyboard and mouse input.
func (g *Game) handleInput() {
	g.handleResize()

	if rl.IsKeyPressed(rl.KeyF11) {
		rl.ToggleFullscreen()
	}

	if rl.IsKeyPressed(rl.KeySpace) {
		g.togglePause()
	}
	if rl.IsKeyPressed(rl.KeyR) {
		if err := g.loop.Reset(); err != nil {
			g.logger.Warn("reset rejected", "error", err)
		}
	}
	if rl.IsKeyPressed(rl.KeyB) {
		g.editValues(func(v *ui.ControlValues) { v.ToggleBoundary() })
	}
	if rl.IsKeyPressed(rl.KeyT) {
		g.editValues(func(v *ui.ControlValues) { v.Target.Enabled = !v.Target.Enabled })
	}

	for key := rl.GetKeyPressed(); key != 0; key = rl.GetKeyPressed() {
		g.overlays.HandleKeyPress(key)
	}

	g.handleCameraInput()
}

// togglePause flips between stepping and paused.
func (g *Game) togglePause() {
	var err error
	switch g.loop.State() {
	case sim.Paused:
		err = g.loop.Resume()
	case sim.Stepping:
		err = g.loop.Pause()
	}
	if err != nil {
		g.logger.Warn("pause toggle rejected", "error", err)
	}
}

// editValues applies edit to the current control values and submits the
// difference.
func (g *Game) editValues(edit func(*ui.ControlValues)) {
	f := g.loop.Acquire()
	n, targets := f.N, len(f.Targets)
	g.loop.Release(f)

	before := ui.ValuesFrom(g.loop.Params(), n, targets)
	after := before
	edit(&after)
	if u, changed := ui.Diff(before, after); changed {
		g.submit(u)
	}
}

// submit queues an update, logging rejections.
func (g *Game) submit(u sim.Update) {
	if err := g.loop.Submit(u); err != nil {
		g.logger.Warn("update rejected", "error", err)
		return
	}
	if u.Radius != nil {
		g.particles.NeighborRadius = *u.Radius
	}
	if u.Boundary != nil || u.Bounded != nil {
		p := g.loop.Params()
		g.camera.Periodic = p.Periodic()
	}
}

// handleResize propagates window size changes.
func (g *Game) handleResize() {
	if !rl.IsWindowResized() {
		return
	}
	w := float32(rl.GetScreenWidth())
	h := float32(rl.GetScreenHeight())
	if w == g.screenWidth && h == g.screenHeight {
		return
	}
	g.screenWidth = w
	g.screenHeight = h
	g.camera.Resize(w, h)
	g.stats.SetPosition(int32(w)-250, 10)
}

// handleCameraInput pans and zooms in 2D, orbits and dollies in 3D.
func (g *Game) handleCameraInput() {
	threeD := g.cfg.World.Dimension == 3

	const keyStep = 8.0
	const orbitStep = 0.02
	var dx, dy float32
	if rl.IsKeyDown(rl.KeyRight) {
		dx += keyStep
	}
	if rl.IsKeyDown(rl.KeyLeft) {
		dx -= keyStep
	}
	if rl.IsKeyDown(rl.KeyDown) {
		dy += keyStep
	}
	if rl.IsKeyDown(rl.KeyUp) {
		dy -= keyStep
	}

	mouse := rl.GetMousePosition()
	overPanel := g.overlays.IsEnabled(ui.OverlayControls) && g.controls.Contains(mouse.X, mouse.Y)
	if rl.IsMouseButtonDown(rl.MouseButtonLeft) && !overPanel {
		d := rl.GetMouseDelta()
		dx -= d.X
		dy -= d.Y
	}

	if threeD {
		if dx != 0 || dy != 0 {
			g.camera.Orbit(dx*orbitStep/keyStep, -dy*orbitStep/keyStep)
		}
	} else if dx != 0 || dy != 0 {
		g.camera.Pan(dx, dy)
	}

	zoom := float32(1)
	if wheel := rl.GetMouseWheelMove(); wheel != 0 && !overPanel {
		zoom += wheel * 0.1
	}
	if rl.IsKeyPressed(rl.KeyEqual) || rl.IsKeyPressed(rl.KeyKpAdd) {
		zoom *= 1.25
	}
	if rl.IsKeyPressed(rl.KeyMinus) || rl.IsKeyPressed(rl.KeyKpSubtract) {
		zoom *= 0.8
	}
	if zoom != 1 {
		if threeD {
			g.camera.Dolly(1 / zoom)
		} else {
			g.camera.ZoomBy(zoom)
		}
	}

	if rl.IsKeyPressed(rl.KeyHome) {
		g.camera.Reset()
	}
}
