package components

import (
	"fmt"
	"math"
	"math/rand"
)

// Presets maps named population sizes to particle counts.
var Presets = map[string]int{
	"small":  1 << 9,
	"medium": 1 << 14,
	"large":  1 << 16,
	"xlarge": 1 << 17,
}

// PresetCount resolves a preset name.
func PresetCount(name string) (int, error) {
	n, ok := Presets[name]
	if !ok {
		return 0, fmt.Errorf("unknown preset %q: %w", name, ErrInvalidArgument)
	}
	return n, nil
}

// Layout names accepted by ApplyLayout.
const (
	LayoutLattice = "lattice"
	LayoutRandom  = "random"
	LayoutDam     = "dam"
)

// ApplyLayout places particles [from, Len()) inside box.
// The lattice layout packs particles in a ball (3D) or disk (2D) of radius
// box/6 around the center, moving outward. The random layout spreads them
// uniformly with random headings. The dam layout stacks particles at rest
// on a regular grid in the low quarter of the box (half height, half of
// one horizontal axis), filling from the floor up. All set unit mass.
func ApplyLayout(s *Store, name string, box Box, from int, speed float32, rng *rand.Rand) error {
	if from < 0 || from > s.n {
		return fmt.Errorf("layout start %d of %d: %w", from, s.n, ErrInvalidArgument)
	}
	if !box.Valid(s.dim) {
		return fmt.Errorf("layout box %v: %w", box, ErrInvalidArgument)
	}
	switch name {
	case LayoutLattice:
		layoutLattice(s, box, from, speed)
	case LayoutRandom:
		layoutRandom(s, box, from, speed, rng)
	case LayoutDam:
		layoutDam(s, box, from)
	default:
		return fmt.Errorf("unknown layout %q: %w", name, ErrInvalidArgument)
	}
	for i := from; i < s.n; i++ {
		s.Mass[i] = 1
	}
	return nil
}

func layoutLattice(s *Store, box Box, from int, speed float32) {
	count := s.n - from
	if count == 0 {
		return
	}
	size := box.Size()
	radius := size[0]
	for a := 1; a < s.dim; a++ {
		radius = min(radius, size[a])
	}
	radius /= 6
	center := box.Center()

	points := ballLattice(count, s.dim)
	for j, p := range points {
		i := from + j
		var pos, vel [3]float32
		for a := 0; a < s.dim; a++ {
			pos[a] = center[a] + p[a]*radius
			vel[a] = p[a] * speed
		}
		s.SetPosition(i, pos)
		s.SetVelocity(i, vel)
	}
}

// ballLattice returns count points of a regular lattice clipped to the unit
// ball, picked at an even stride so the ball is covered uniformly.
func ballLattice(count, dim int) [][3]float32 {
	fill := math.Pi / 4
	if dim == 3 {
		fill = math.Pi / 6
	}
	k := int(math.Ceil(math.Pow(float64(count)/fill, 1/float64(dim))))
	for {
		candidates := latticeInBall(k, dim)
		if len(candidates) >= count {
			out := make([][3]float32, count)
			for j := range out {
				out[j] = candidates[j*len(candidates)/count]
			}
			return out
		}
		k++
	}
}

func latticeInBall(k, dim int) [][3]float32 {
	step := 2 / float32(k)
	coord := func(i int) float32 { return -1 + (float32(i)+0.5)*step }
	kz := 1
	if dim == 3 {
		kz = k
	}
	var out [][3]float32
	for z := 0; z < kz; z++ {
		for y := 0; y < k; y++ {
			for x := 0; x < k; x++ {
				p := [3]float32{coord(x), coord(y), 0}
				if dim == 3 {
					p[2] = coord(z)
				}
				if p[0]*p[0]+p[1]*p[1]+p[2]*p[2] <= 1 {
					out = append(out, p)
				}
			}
		}
	}
	return out
}

func layoutDam(s *Store, box Box, from int) {
	count := s.n - from
	if count == 0 {
		return
	}
	// Y is up; the block spans the lower half of Y and of the last
	// horizontal axis.
	lo, ext := box.Min, box.Size()
	ext[1] /= 2
	if s.dim == 3 {
		ext[2] /= 2
	} else {
		ext[0] /= 2
	}
	res := blockResolution(count, s.dim, ext)

	j := 0
	for y := 0; y < res[1] && j < count; y++ {
		for z := 0; z < res[2] && j < count; z++ {
			for x := 0; x < res[0] && j < count; x++ {
				idx := [3]int{x, y, z}
				var pos [3]float32
				for a := 0; a < s.dim; a++ {
					pos[a] = lo[a] + (float32(idx[a])+0.5)*ext[a]/float32(res[a])
				}
				s.SetPosition(from+j, pos)
				s.SetVelocity(from+j, [3]float32{})
				j++
			}
		}
	}
}

// blockResolution picks per-axis cell counts with roughly equal spacing
// over ext and at least count cells in total.
func blockResolution(count, dim int, ext [3]float32) [3]int {
	vol := float64(1)
	for a := 0; a < dim; a++ {
		vol *= float64(ext[a])
	}
	spacing := math.Pow(vol/float64(count), 1/float64(dim))
	res := [3]int{1, 1, 1}
	total := 1
	for a := 0; a < dim; a++ {
		res[a] = max(1, int(float64(ext[a])/spacing))
		total *= res[a]
	}
	for total < count {
		// Refine the axis with the widest cells.
		best := 0
		for a := 1; a < dim; a++ {
			if ext[a]/float32(res[a]) > ext[best]/float32(res[best]) {
				best = a
			}
		}
		total = total / res[best] * (res[best] + 1)
		res[best]++
	}
	return res
}

func layoutRandom(s *Store, box Box, from int, speed float32, rng *rand.Rand) {
	size := box.Size()
	for i := from; i < s.n; i++ {
		var pos, dir [3]float32
		var lenSq float32
		for a := 0; a < s.dim; a++ {
			pos[a] = box.Min[a] + rng.Float32()*size[a]
			dir[a] = rng.Float32()*2 - 1
			lenSq += dir[a] * dir[a]
		}
		if lenSq > 0 {
			scale := speed / float32(math.Sqrt(float64(lenSq)))
			for a := range dir {
				dir[a] *= scale
			}
		}
		s.SetPosition(i, pos)
		s.SetVelocity(i, dir)
	}
}

// AssignTypes tags particles round-robin with one of k types.
func AssignTypes(s *Store, k int) {
	if k < 1 {
		k = 1
	}
	for i := 0; i < s.n; i++ {
		s.Type[i] = uint8(i % k)
	}
}

// ColorByPosition fills colors from each particle's normalized position in box.
func ColorByPosition(s *Store, box Box) {
	size := box.Size()
	for i := 0; i < s.n; i++ {
		p := s.Position(i)
		for a := 0; a < 3; a++ {
			c := float32(0.5)
			if a < s.dim && size[a] > 0 {
				c = (p[a] - box.Min[a]) / size[a]
			}
			s.Color[i*3+a] = min(max(c, 0), 1)
		}
	}
}

// ColorByType fills colors from a hue wheel indexed by type.
func ColorByType(s *Store, k int) {
	if k < 1 {
		k = 1
	}
	for i := 0; i < s.n; i++ {
		r, g, b := hsvToRGB(float64(s.Type[i]%uint8(k))/float64(k), 0.8, 0.95)
		s.Color[i*3] = float32(r)
		s.Color[i*3+1] = float32(g)
		s.Color[i*3+2] = float32(b)
	}
}

func hsvToRGB(h, sat, v float64) (r, g, b float64) {
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - sat)
	q := v * (1 - f*sat)
	t := v * (1 - (1-f)*sat)
	switch int(i) % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}
