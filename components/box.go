package components

// Box is an axis-aligned bounding box. For 2D worlds the Z extent is ignored.
type Box struct {
	Min, Max [3]float32
}

// CenteredBox returns a cube of the given edge length centered on the origin.
func CenteredBox(size float32) Box {
	h := size / 2
	return Box{
		Min: [3]float32{-h, -h, -h},
		Max: [3]float32{h, h, h},
	}
}

// Size returns the edge lengths.
func (b Box) Size() [3]float32 {
	return [3]float32{b.Max[0] - b.Min[0], b.Max[1] - b.Min[1], b.Max[2] - b.Min[2]}
}

// Center returns the midpoint.
func (b Box) Center() [3]float32 {
	return [3]float32{
		(b.Min[0] + b.Max[0]) / 2,
		(b.Min[1] + b.Max[1]) / 2,
		(b.Min[2] + b.Max[2]) / 2,
	}
}

// Valid reports whether every used axis has positive extent.
func (b Box) Valid(dim int) bool {
	for a := 0; a < dim; a++ {
		if !(b.Max[a] > b.Min[a]) {
			return false
		}
	}
	return true
}

// Contains reports whether p lies inside the box on the first dim axes.
func (b Box) Contains(p [3]float32, dim int) bool {
	for a := 0; a < dim; a++ {
		if p[a] < b.Min[a] || p[a] > b.Max[a] {
			return false
		}
	}
	return true
}
