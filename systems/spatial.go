// Package systems provides the data-parallel stages of a simulation step.
package systems

import (
	"fmt"
	"math"

	"github.com/pthm-cable/flock/components"
)

// Neighbor holds a nearby particle with precomputed spatial data.
// D is the (minimum-image) delta from the query origin to the neighbor.
type Neighbor struct {
	Index  int32
	D      [3]float32
	DistSq float32 // squared distance, avoids sqrt in hot path
}

// Per-axis cell caps keep the cell array bounded for sparse worlds.
const (
	maxCellsPerAxis2D = 1024
	maxCellsPerAxis3D = 128
)

// Grid is a uniform grid over particle positions, rebuilt every step by a
// counting sort of particle indices by cell id.
type Grid struct {
	radius   float32
	periodic bool
	dim      int

	origin   [3]float32
	extent   [3]float32
	cellSize [3]float32
	res      [3]int
	offsets  [3][]int // neighbor cell offsets per axis

	pos       []float32
	cellOf    []int32
	cellStart []int32 // len cells+1, prefix sums
	sorted    []int32 // particle indices grouped by cell
	cursor    []int32
}

// NewGrid creates a grid whose cells are at least radius wide.
func NewGrid(radius float32) (*Grid, error) {
	if !(radius > 0) || math.IsInf(float64(radius), 0) {
		return nil, fmt.Errorf("grid radius %v: %w", radius, components.ErrInvalidArgument)
	}
	return &Grid{radius: radius}, nil
}

// Radius returns the cell radius the grid was built for.
func (g *Grid) Radius() float32 { return g.radius }

// SetRadius changes the cell radius used by the next Rebuild.
func (g *Grid) SetRadius(radius float32) error {
	if !(radius > 0) || math.IsInf(float64(radius), 0) {
		return fmt.Errorf("grid radius %v: %w", radius, components.ErrInvalidArgument)
	}
	g.radius = radius
	return nil
}

// Len returns the number of indexed particles.
func (g *Grid) Len() int { return len(g.cellOf) }

// Dim returns the dimension of the last rebuild.
func (g *Grid) Dim() int { return g.dim }

// Periodic reports whether queries use minimum-image distances.
func (g *Grid) Periodic() bool { return g.periodic }

// Origin and Extent describe the indexed region.
func (g *Grid) Origin() [3]float32 { return g.origin }
func (g *Grid) Extent() [3]float32 { return g.extent }

// Resolution returns the cell count per axis.
func (g *Grid) Resolution() [3]int { return g.res }

// CellCount returns the total number of cells.
func (g *Grid) CellCount() int { return len(g.cellStart) - 1 }

// CellSize returns the cell edge length per axis.
func (g *Grid) CellSize() [3]float32 { return g.cellSize }

// Sorted returns particle indices grouped by cell. Cell c owns
// Sorted()[CellStarts()[c]:CellStarts()[c+1]]. Both slices are owned by the
// grid and valid until the next Rebuild.
func (g *Grid) Sorted() []int32 { return g.sorted }

// CellStarts returns the prefix-sum offsets into Sorted, one per cell plus
// a final total.
func (g *Grid) CellStarts() []int32 { return g.cellStart }

// Rebuild indexes pos (packed with dim components per particle).
// When bounds is nil the extent is the bounding box of pos. Periodic
// requires bounds; positions outside the region fall into edge cells.
func (g *Grid) Rebuild(pos []float32, dim int, bounds *components.Box, periodic bool) error {
	if dim != 2 && dim != 3 {
		return fmt.Errorf("grid dimension %d: %w", dim, components.ErrInvalidArgument)
	}
	if len(pos)%dim != 0 {
		return fmt.Errorf("grid positions length %d not a multiple of %d: %w", len(pos), dim, components.ErrInvalidArgument)
	}
	if periodic && bounds == nil {
		return fmt.Errorf("periodic grid without bounds: %w", components.ErrInvalidArgument)
	}
	n := len(pos) / dim
	g.dim = dim
	g.periodic = periodic
	g.pos = pos

	if bounds != nil {
		if !bounds.Valid(dim) {
			return fmt.Errorf("grid bounds %v: %w", *bounds, components.ErrInvalidArgument)
		}
		g.origin = bounds.Min
		g.extent = bounds.Size()
	} else {
		g.fitExtent(pos, dim, n)
	}
	g.layoutCells()

	cells := 1
	for a := 0; a < dim; a++ {
		cells *= g.res[a]
	}
	g.cellOf = growInt32(g.cellOf, n)
	g.sorted = growInt32(g.sorted, n)
	g.cellStart = growInt32(g.cellStart, cells+1)
	g.cursor = growInt32(g.cursor, cells)
	clear(g.cellStart)

	// Count
	for i := 0; i < n; i++ {
		c := g.cellIndex(components.Load(pos, i, dim))
		g.cellOf[i] = int32(c)
		g.cellStart[c+1]++
	}
	// Prefix sums
	for c := 0; c < cells; c++ {
		g.cellStart[c+1] += g.cellStart[c]
	}
	// Scatter, stable in particle index
	copy(g.cursor, g.cellStart[:cells])
	for i := 0; i < n; i++ {
		c := g.cellOf[i]
		g.sorted[g.cursor[c]] = int32(i)
		g.cursor[c]++
	}
	return nil
}

func growInt32(a []int32, n int) []int32 {
	if cap(a) < n {
		return make([]int32, n)
	}
	return a[:n]
}

func (g *Grid) fitExtent(pos []float32, dim, n int) {
	g.origin = [3]float32{}
	g.extent = [3]float32{}
	if n == 0 {
		for a := 0; a < dim; a++ {
			g.extent[a] = g.radius
		}
		return
	}
	lo := components.Load(pos, 0, dim)
	hi := lo
	for i := 1; i < n; i++ {
		p := components.Load(pos, i, dim)
		for a := 0; a < dim; a++ {
			lo[a] = min(lo[a], p[a])
			hi[a] = max(hi[a], p[a])
		}
	}
	for a := 0; a < dim; a++ {
		g.origin[a] = lo[a]
		g.extent[a] = max(hi[a]-lo[a], g.radius)
	}
}

func (g *Grid) layoutCells() {
	limit := maxCellsPerAxis2D
	if g.dim == 3 {
		limit = maxCellsPerAxis3D
	}
	for a := 0; a < 3; a++ {
		if a >= g.dim {
			g.res[a] = 1
			g.cellSize[a] = 1
			g.offsets[a] = append(g.offsets[a][:0], 0)
			continue
		}
		res := int(g.extent[a] / g.radius)
		res = min(max(res, 1), limit)
		g.res[a] = res
		g.cellSize[a] = g.extent[a] / float32(res)

		// Deduplicate offsets so no cell is visited twice when wrapping.
		off := g.offsets[a][:0]
		switch {
		case res >= 3:
			off = append(off, -1, 0, 1)
		case res == 2 && g.periodic:
			off = append(off, 0, 1)
		case res == 2:
			off = append(off, -1, 0, 1)
		default:
			off = append(off, 0)
		}
		g.offsets[a] = off
	}
}

// cellCoord returns the clamped cell coordinate of p on each axis.
func (g *Grid) cellCoord(p [3]float32) [3]int {
	var c [3]int
	for a := 0; a < g.dim; a++ {
		f := (p[a] - g.origin[a]) / g.cellSize[a]
		switch {
		case !(f >= 0): // also catches NaN
			c[a] = 0
		case f >= float32(g.res[a]):
			c[a] = g.res[a] - 1
		default:
			c[a] = int(f)
		}
	}
	return c
}

func (g *Grid) cellIndex(p [3]float32) int {
	c := g.cellCoord(p)
	return (c[2]*g.res[1]+c[1])*g.res[0] + c[0]
}

// Cell returns the cell id of particle i from the last rebuild.
func (g *Grid) Cell(i int) int { return int(g.cellOf[i]) }

// ForEachCell calls fn with each non-empty cell and its member indices.
// The members slice is owned by the grid and must not be modified.
func (g *Grid) ForEachCell(fn func(cell int, members []int32)) {
	for c := 0; c+1 < len(g.cellStart); c++ {
		lo, hi := g.cellStart[c], g.cellStart[c+1]
		if lo < hi {
			fn(c, g.sorted[lo:hi])
		}
	}
}

// Neighbors appends every particle within r of particle i (excluding i) to dst.
// Cells are visited in a fixed order, so results are deterministic. When
// limit > 0 at most limit neighbors are appended. r is expected to be at most
// the grid radius; larger values miss particles beyond adjacent cells.
func (g *Grid) Neighbors(dst []Neighbor, i int, r float32, limit int) []Neighbor {
	return g.QueryInto(dst, components.Load(g.pos, i, g.dim), r, int32(i), limit)
}

// QueryInto appends particles within r of p to dst, skipping index exclude
// (use -1 to keep all).
func (g *Grid) QueryInto(dst []Neighbor, p [3]float32, r float32, exclude int32, limit int) []Neighbor {
	if len(g.cellOf) == 0 {
		return dst
	}
	rSq := r * r
	center := g.cellCoord(p)
	start := len(dst)

	for _, oz := range g.offsets[2] {
		cz, ok := g.wrapAxis(center[2]+oz, 2)
		if !ok {
			continue
		}
		for _, oy := range g.offsets[1] {
			cy, ok := g.wrapAxis(center[1]+oy, 1)
			if !ok {
				continue
			}
			for _, ox := range g.offsets[0] {
				cx, ok := g.wrapAxis(center[0]+ox, 0)
				if !ok {
					continue
				}
				c := (cz*g.res[1]+cy)*g.res[0] + cx
				for _, j := range g.sorted[g.cellStart[c]:g.cellStart[c+1]] {
					if j == exclude {
						continue
					}
					d := g.delta(p, components.Load(g.pos, int(j), g.dim))
					distSq := d[0]*d[0] + d[1]*d[1] + d[2]*d[2]
					if distSq <= rSq {
						dst = append(dst, Neighbor{Index: j, D: d, DistSq: distSq})
						if limit > 0 && len(dst)-start >= limit {
							return dst
						}
					}
				}
			}
		}
	}
	return dst
}

func (g *Grid) wrapAxis(c, a int) (int, bool) {
	if c >= 0 && c < g.res[a] {
		return c, true
	}
	if !g.periodic {
		return 0, false
	}
	return (c + g.res[a]) % g.res[a], true
}

func (g *Grid) delta(from, to [3]float32) [3]float32 {
	var d [3]float32
	for a := 0; a < g.dim; a++ {
		d[a] = to[a] - from[a]
	}
	if g.periodic {
		for a := 0; a < g.dim; a++ {
			d[a] = PeriodicDelta(d[a], g.extent[a])
		}
	}
	return d
}

// PeriodicDelta maps a coordinate difference to its minimum image for a
// period of length w.
func PeriodicDelta(d, w float32) float32 {
	if d > w/2 {
		d -= w
	} else if d < -w/2 {
		d += w
	}
	return d
}

// BruteNeighbors is the O(N) reference for Neighbors.
func BruteNeighbors(dst []Neighbor, pos []float32, dim, i int, r float32, bounds *components.Box, periodic bool) []Neighbor {
	n := len(pos) / dim
	p := components.Load(pos, i, dim)
	var size [3]float32
	if bounds != nil {
		size = bounds.Size()
	}
	rSq := r * r
	for j := 0; j < n; j++ {
		if j == i {
			continue
		}
		q := components.Load(pos, j, dim)
		var d [3]float32
		for a := 0; a < dim; a++ {
			d[a] = q[a] - p[a]
			if periodic {
				d[a] = PeriodicDelta(d[a], size[a])
			}
		}
		distSq := d[0]*d[0] + d[1]*d[1] + d[2]*d[2]
		if distSq <= rSq {
			dst = append(dst, Neighbor{Index: int32(j), D: d, DistSq: distSq})
		}
	}
	return dst
}
