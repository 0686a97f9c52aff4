package game

import (
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flock/ui"
)

const controlsLegend = "[Space] Pause  [R] Reset  [B] Boundary  [T] Target  [Tab] Panel  [X/G/V/F1] Overlays  [Home] Camera"

// Draw renders the latest published frame and the panels.
func (g *Game) Draw() {
	rl.BeginDrawing()
	defer rl.EndDrawing()
	rl.ClearBackground(rl.Color{R: 12, G: 14, B: 20, A: 255})

	f := g.loop.Acquire()
	defer g.loop.Release(f)

	g.particles.ShowBox = g.overlays.IsEnabled(ui.OverlayBox)
	g.particles.ShowTargets = g.overlays.IsEnabled(ui.OverlayTargets)
	g.particles.ShowVelocity = g.overlays.IsEnabled(ui.OverlayVelocity)
	g.particles.Draw(f, g.camera)

	data := ui.HUDData{
		Title:       "Flock",
		Dim:         f.Dim,
		Diagnostics: g.loop.Diagnostics(),
		Perf:        g.perf.Stats(),
		Flock:       g.lastFlock,
		FPS:         rl.GetFPS(),
	}
	g.hud.Draw(data)
	if g.overlays.IsEnabled(ui.OverlayStats) {
		g.stats.Draw(data)
	}
	if g.overlays.IsEnabled(ui.OverlayControls) {
		if u, changed := g.controls.Draw(g.loop.Params(), f.N, len(f.Targets)); changed {
			g.submit(u)
		}
	}
	g.hud.DrawControls(int32(g.screenHeight), controlsLegend)
}
