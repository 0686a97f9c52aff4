package systems

import "math"

// Small vector helpers over [3]float32. 2D vectors keep Z at zero.

func add3(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func sub3(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func scale3(a [3]float32, s float32) [3]float32 {
	return [3]float32{a[0] * s, a[1] * s, a[2] * s}
}

func lenSq3(a [3]float32) float32 {
	return a[0]*a[0] + a[1]*a[1] + a[2]*a[2]
}

func dot3(a, b [3]float32) float32 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func cross3(a, b [3]float32) [3]float32 {
	return [3]float32{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func sqrt32(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}

// ClampLength scales v down to length maxLen, preserving direction.
// A zero maxLen yields the zero vector. The length is taken in float64 so
// huge finite components do not overflow; infinite components point the
// result along their signs at length maxLen. NaN input is returned as is.
func ClampLength(v [3]float32, maxLen float32) [3]float32 {
	if maxLen <= 0 {
		return [3]float32{}
	}
	var dir [3]float64
	inf := false
	for a, c := range v {
		f := float64(c)
		switch {
		case math.IsNaN(f):
			return v
		case math.IsInf(f, 0):
			inf = true
			dir[a] = math.Copysign(1, f)
		}
	}
	if !inf {
		dir = [3]float64{float64(v[0]), float64(v[1]), float64(v[2])}
	}
	lsq := dir[0]*dir[0] + dir[1]*dir[1] + dir[2]*dir[2]
	m := float64(maxLen)
	if !inf && lsq <= m*m {
		return v
	}
	s := m / math.Sqrt(lsq)
	return [3]float32{float32(dir[0] * s), float32(dir[1] * s), float32(dir[2] * s)}
}

// Length returns the Euclidean length of v.
func Length(v [3]float32) float32 {
	return sqrt32(lenSq3(v))
}

// mod returns the positive remainder of a / b.
func mod(a, b float32) float32 {
	r := float32(math.Mod(float64(a), float64(b)))
	if r < 0 {
		r += b
	}
	return r
}
