// Package renderer draws published simulation frames with raylib.
package renderer

import (
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flock/camera"
	"github.com/pthm-cable/flock/sim"
)

var (
	boxColor     = rl.NewColor(90, 110, 140, 255)
	attractColor = rl.NewColor(80, 220, 120, 255)
	repelColor   = rl.NewColor(230, 80, 80, 255)
)

// ParticleRenderer draws particles, targets and the world box. It only
// reads frames, never the live store.
type ParticleRenderer struct {
	PointSize    int32 // 2D square edge in pixels
	ShowBox      bool
	ShowTargets  bool
	ShowVelocity bool

	// NeighborRadius scales the target reach rings, which are stored in
	// multiples of it.
	NeighborRadius float32

	FovY float32
}

// NewParticleRenderer creates a renderer with the default toggles on.
func NewParticleRenderer() *ParticleRenderer {
	return &ParticleRenderer{
		PointSize:   2,
		ShowBox:     true,
		ShowTargets: true,
		FovY:        45,
	}
}

// Draw renders f through cam, in 3D for three-dimensional frames.
func (r *ParticleRenderer) Draw(f *sim.Frame, cam *camera.Camera) {
	if f == nil || cam == nil {
		return
	}
	if f.Dim == 3 {
		r.draw3D(f, cam)
		return
	}
	r.draw2D(f, cam)
}

// Camera3D converts the orbit state into a raylib camera.
func (r *ParticleRenderer) Camera3D(cam *camera.Camera) rl.Camera3D {
	return rl.Camera3D{
		Position:   vec3(cam.Eye()),
		Target:     vec3(cam.Target()),
		Up:         rl.NewVector3(0, 1, 0),
		Fovy:       r.FovY,
		Projection: rl.CameraPerspective,
	}
}

func (r *ParticleRenderer) draw3D(f *sim.Frame, cam *camera.Camera) {
	rl.BeginMode3D(r.Camera3D(cam))
	defer rl.EndMode3D()

	if r.ShowBox {
		size := cam.World.Size()
		rl.DrawCubeWires(vec3(cam.World.Center()), size[0], size[1], size[2], boxColor)
	}

	for i := 0; i < f.N; i++ {
		rl.DrawPoint3D(vec3(f.Position(i)), particleColor(f.Color, i))
	}

	if r.ShowVelocity {
		for i := 0; i < f.N; i++ {
			p, v := f.Position(i), f.Velocity(i)
			end := [3]float32{p[0] + v[0]*0.2, p[1] + v[1]*0.2, p[2] + v[2]*0.2}
			rl.DrawLine3D(vec3(p), vec3(end), fade(particleColor(f.Color, i), 0.4))
		}
	}

	if r.ShowTargets {
		size := cam.World.Size()
		marker := size[0] * 0.01
		for _, t := range f.Targets {
			c := targetColor(t.Sign)
			rl.DrawSphere(vec3(t.Pos), marker, c)
			if reach := t.Radius * r.NeighborRadius; reach > 0 {
				rl.DrawSphereWires(vec3(t.Pos), reach, 8, 12, fade(c, 0.25))
			}
		}
	}
}

func (r *ParticleRenderer) draw2D(f *sim.Frame, cam *camera.Camera) {
	if r.ShowBox && !cam.Periodic {
		x0, y0 := cam.WorldToScreen(cam.World.Min[0], cam.World.Max[1])
		x1, y1 := cam.WorldToScreen(cam.World.Max[0], cam.World.Min[1])
		rl.DrawRectangleLines(int32(x0), int32(y0), int32(x1-x0), int32(y1-y0), boxColor)
	}

	size := r.PointSize
	if size < 1 {
		size = 1
	}
	half := float32(size) / 2
	for i := 0; i < f.N; i++ {
		p := f.Position(i)
		if !cam.IsVisible(p[0], p[1], 1) {
			continue
		}
		sx, sy := cam.WorldToScreen(p[0], p[1])
		c := particleColor(f.Color, i)
		rl.DrawRectangle(int32(sx-half), int32(sy-half), size, size, c)
		if r.ShowVelocity {
			v := f.Velocity(i)
			ex := sx + v[0]*0.2*cam.Zoom
			ey := sy - v[1]*0.2*cam.Zoom
			rl.DrawLine(int32(sx), int32(sy), int32(ex), int32(ey), fade(c, 0.4))
		}
	}

	if r.ShowTargets {
		for _, t := range f.Targets {
			sx, sy := cam.WorldToScreen(t.Pos[0], t.Pos[1])
			c := targetColor(t.Sign)
			rl.DrawCircle(int32(sx), int32(sy), 4, c)
			if reach := t.Radius * r.NeighborRadius; reach > 0 {
				rl.DrawCircleLines(int32(sx), int32(sy), reach*cam.Zoom, fade(c, 0.35))
			}
		}
	}
}

// particleColor converts the frame's [0,1] RGB triple for particle i.
func particleColor(colors []float32, i int) rl.Color {
	if len(colors) < (i+1)*3 {
		return rl.RayWhite
	}
	return rl.NewColor(unit8(colors[i*3]), unit8(colors[i*3+1]), unit8(colors[i*3+2]), 255)
}

func targetColor(sign float32) rl.Color {
	if sign < 0 {
		return repelColor
	}
	return attractColor
}

func unit8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

func fade(c rl.Color, alpha float32) rl.Color {
	c.A = unit8(alpha)
	return c
}

func vec3(v [3]float32) rl.Vector3 {
	return rl.NewVector3(v[0], v[1], v[2])
}
