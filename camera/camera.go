// Package camera maps between simulation space and the screen.
//
// The 2D view is a pan/zoom over the world box with toroidal wrapping when
// the world is periodic. The 3D view is an orbit around the box center.
// Neither depends on raylib, so the math is testable headless.
package camera

import (
	"math"

	"github.com/pthm-cable/flock/components"
)

const maxPitch = math.Pi/2 - 0.05

// Camera holds both the 2D and the 3D view state.
type Camera struct {
	// 2D view center in world coordinates
	X, Y float32

	// Pixels per world unit
	Zoom float32

	ViewportW, ViewportH float32

	World    components.Box
	Periodic bool

	MinZoom, MaxZoom float32

	// 3D orbit, angles in radians
	Yaw, Pitch               float32
	Distance                 float32
	MinDistance, MaxDistance float32
}

// New returns a camera that fits the world box into the viewport.
func New(viewportW, viewportH float32, world components.Box, periodic bool) *Camera {
	c := &Camera{
		ViewportW: viewportW,
		ViewportH: viewportH,
		World:     world,
		Periodic:  periodic,
	}
	c.fitLimits()
	c.Reset()
	return c
}

func (c *Camera) worldSize() (w, h, d float32) {
	s := c.World.Size()
	return s[0], s[1], s[2]
}

// fitZoom is the zoom at which the whole box just fits the viewport.
func (c *Camera) fitZoom() float32 {
	w, h, _ := c.worldSize()
	if w <= 0 || h <= 0 {
		return 1
	}
	z := c.ViewportW / w
	if zh := c.ViewportH / h; zh < z {
		z = zh
	}
	return z
}

func (c *Camera) fitLimits() {
	fit := c.fitZoom()
	c.MinZoom = fit * 0.5
	c.MaxZoom = fit * 20

	w, h, d := c.worldSize()
	size := maxf(w, maxf(h, d))
	c.MinDistance = size * 0.5
	c.MaxDistance = size * 6
}

// Reset centers both views on the box.
func (c *Camera) Reset() {
	center := c.World.Center()
	c.X, c.Y = center[0], center[1]
	c.Zoom = clamp(c.fitZoom()*0.95, c.MinZoom, c.MaxZoom)

	c.Yaw = 0.6
	c.Pitch = 0.4
	w, h, d := c.worldSize()
	c.Distance = clamp(2*maxf(w, maxf(h, d)), c.MinDistance, c.MaxDistance)
}

// Resize updates the viewport and the zoom limits that depend on it.
func (c *Camera) Resize(viewportW, viewportH float32) {
	if viewportW == c.ViewportW && viewportH == c.ViewportH {
		return
	}
	c.ViewportW = viewportW
	c.ViewportH = viewportH
	c.fitLimits()
	c.Zoom = clamp(c.Zoom, c.MinZoom, c.MaxZoom)
}

// delta returns the offset of w from the view center along one axis,
// taking the short way round in a periodic world.
func (c *Camera) delta(w, center float32, axis int) float32 {
	if !c.Periodic {
		return w - center
	}
	return toroidalDelta(w, center, c.World.Size()[axis])
}

// WorldToScreen converts world coordinates to screen pixels. Screen Y grows
// downwards, world Y grows upwards.
func (c *Camera) WorldToScreen(wx, wy float32) (sx, sy float32) {
	dx := c.delta(wx, c.X, 0)
	dy := c.delta(wy, c.Y, 1)
	return c.ViewportW/2 + dx*c.Zoom, c.ViewportH/2 - dy*c.Zoom
}

// ScreenToWorld converts screen pixels to world coordinates.
func (c *Camera) ScreenToWorld(sx, sy float32) (wx, wy float32) {
	wx = c.X + (sx-c.ViewportW/2)/c.Zoom
	wy = c.Y - (sy-c.ViewportH/2)/c.Zoom
	if c.Periodic {
		wx = c.World.Min[0] + mod(wx-c.World.Min[0], c.World.Size()[0])
		wy = c.World.Min[1] + mod(wy-c.World.Min[1], c.World.Size()[1])
	}
	return wx, wy
}

// IsVisible reports whether a circle of the given world radius may be on
// screen. Conservative, for culling.
func (c *Camera) IsVisible(wx, wy, radius float32) bool {
	dx := c.delta(wx, c.X, 0)
	dy := c.delta(wy, c.Y, 1)
	halfW := c.ViewportW/(2*c.Zoom) + radius
	halfH := c.ViewportH/(2*c.Zoom) + radius
	return absf(dx) <= halfW && absf(dy) <= halfH
}

// Pan moves the view by a screen-space delta. Periodic worlds wrap, bounded
// ones keep the center inside the box.
func (c *Camera) Pan(dx, dy float32) {
	x := c.X + dx/c.Zoom
	y := c.Y - dy/c.Zoom
	if c.Periodic {
		c.X = c.World.Min[0] + mod(x-c.World.Min[0], c.World.Size()[0])
		c.Y = c.World.Min[1] + mod(y-c.World.Min[1], c.World.Size()[1])
		return
	}
	c.X = clamp(x, c.World.Min[0], c.World.Max[0])
	c.Y = clamp(y, c.World.Min[1], c.World.Max[1])
}

// SetZoom sets the zoom level, clamped to the limits.
func (c *Camera) SetZoom(zoom float32) {
	c.Zoom = clamp(zoom, c.MinZoom, c.MaxZoom)
}

// ZoomBy multiplies the zoom by factor.
func (c *Camera) ZoomBy(factor float32) {
	c.SetZoom(c.Zoom * factor)
}

// VisibleWorldBounds returns the world rectangle under the viewport.
// In a periodic world min may lie outside the box.
func (c *Camera) VisibleWorldBounds() (minX, minY, maxX, maxY float32) {
	halfW := c.ViewportW / (2 * c.Zoom)
	halfH := c.ViewportH / (2 * c.Zoom)
	return c.X - halfW, c.Y - halfH, c.X + halfW, c.Y + halfH
}

// Orbit rotates the 3D view. Pitch stops short of the poles.
func (c *Camera) Orbit(dyaw, dpitch float32) {
	c.Yaw = float32(math.Mod(float64(c.Yaw+dyaw), 2*math.Pi))
	c.Pitch = clamp(c.Pitch+dpitch, -maxPitch, maxPitch)
}

// Dolly scales the orbit distance by factor.
func (c *Camera) Dolly(factor float32) {
	c.Distance = clamp(c.Distance*factor, c.MinDistance, c.MaxDistance)
}

// Target is the point the 3D view looks at.
func (c *Camera) Target() [3]float32 {
	return c.World.Center()
}

// Eye is the 3D camera position.
func (c *Camera) Eye() [3]float32 {
	t := c.Target()
	cp := float32(math.Cos(float64(c.Pitch)))
	return [3]float32{
		t[0] + c.Distance*cp*float32(math.Sin(float64(c.Yaw))),
		t[1] + c.Distance*float32(math.Sin(float64(c.Pitch))),
		t[2] + c.Distance*cp*float32(math.Cos(float64(c.Yaw))),
	}
}

// toroidalDelta is the shortest signed distance from from to to on a ring
// of the given size.
func toroidalDelta(to, from, size float32) float32 {
	d := to - from
	if d > size/2 {
		d -= size
	} else if d < -size/2 {
		d += size
	}
	return d
}

// mod is the non-negative remainder.
func mod(x, m float32) float32 {
	r := float32(math.Mod(float64(x), float64(m)))
	if r < 0 {
		r += m
	}
	return r
}

func absf(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func clamp(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
