package systems

import (
	"math"
	"testing"

	"github.com/pthm-cable/flock/components"
)

// stepAll runs the kernel over every particle of a 2D scene and returns the
// new velocities.
func stepAll(t *testing.T, p *Params, pos, vel []float32, types []uint8, targets []TargetState) []float32 {
	t.Helper()
	s, err := components.NewStore(2)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Resize(len(pos) / 2); err != nil {
		t.Fatal(err)
	}
	copy(s.Pos, pos)
	copy(s.Vel, vel)
	copy(s.Type, types)

	g, err := NewGrid(p.Radius)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Rebuild(s.Pos, 2, p.Bounds, p.Periodic()); err != nil {
		t.Fatal(err)
	}
	k := Kernel{Params: p, Targets: targets}
	out := make([]float32, len(s.Vel))
	var scratch []Neighbor
	for i := 0; i < s.Len(); i++ {
		scratch = k.Step(i, s.Snapshot(), g, out, scratch)
	}
	return out
}

func onlyRule(which string) Params {
	p := DefaultParams(2)
	p.Bounds = nil
	p.MaxSteer = 100
	p.MaxSpeed = 100
	p.DT = 1
	p.Weights = Weights{
		Separation: Rule{Enabled: which == "separation", Weight: 1},
		Alignment:  Rule{Enabled: which == "alignment", Weight: 1},
		Cohesion:   Rule{Enabled: which == "cohesion", Weight: 1},
		Target:     Rule{Enabled: which == "target", Weight: 1},
	}
	return p
}

func approxVec(a, b []float32, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > tol {
			return false
		}
	}
	return true
}

func TestBoidsRules(t *testing.T) {
	tests := []struct {
		name string
		rule string
		pos  []float32
		vel  []float32
		want []float32
	}{
		{
			name: "separation pushes apart",
			rule: "separation",
			pos:  []float32{0, 0, 1, 0},
			vel:  []float32{0, 0, 0, 0},
			want: []float32{-1, 0, 1, 0},
		},
		{
			name: "separation ignores neighbors beyond half radius",
			rule: "separation",
			pos:  []float32{0, 0, 3, 0},
			vel:  []float32{0, 0, 0, 0},
			want: []float32{0, 0, 0, 0},
		},
		{
			name: "alignment matches neighbor velocity",
			rule: "alignment",
			pos:  []float32{0, 0, 1, 0},
			vel:  []float32{0, 0, 2, 0},
			want: []float32{2, 0, 0, 0},
		},
		{
			name: "cohesion moves toward centroid",
			rule: "cohesion",
			pos:  []float32{0, 0, 3, 0},
			vel:  []float32{0, 0, 0, 0},
			want: []float32{3, 0, -3, 0},
		},
		{
			name: "isolated particle keeps velocity",
			rule: "cohesion",
			pos:  []float32{0, 0, 30, 30},
			vel:  []float32{1, 1, -1, 0},
			want: []float32{1, 1, -1, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := onlyRule(tt.rule)
			got := stepAll(t, &p, tt.pos, tt.vel, nil, nil)
			if !approxVec(got, tt.want, 1e-5) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRuleClampedToMaxSteer(t *testing.T) {
	p := onlyRule("cohesion")
	p.MaxSteer = 1
	got := stepAll(t, &p, []float32{0, 0, 3, 0}, []float32{0, 0, 0, 0}, nil, nil)
	if !approxVec(got, []float32{1, 0, -1, 0}, 1e-5) {
		t.Errorf("expected steering clamped to 1, got %v", got)
	}
}

func TestDisabledRulesContributeNothing(t *testing.T) {
	p := onlyRule("none")
	got := stepAll(t, &p, []float32{0, 0, 1, 0, 0, 1}, []float32{1, 0, 0, 1, -1, 0}, nil, nil)
	want := []float32{1, 0, 0, 1, -1, 0}
	if !approxVec(got, want, 0) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSpeedClampPreservesDirection(t *testing.T) {
	tests := []struct {
		name     string
		vel      [3]float32
		maxSpeed float32
		want     [3]float32
	}{
		{"over limit", [3]float32{30, 40, 0}, 10, [3]float32{6, 8, 0}},
		{"under limit", [3]float32{3, 4, 0}, 10, [3]float32{3, 4, 0}},
		{"zero limit", [3]float32{3, 4, 0}, 0, [3]float32{}},
		{"3d", [3]float32{0, 0, -20}, 5, [3]float32{0, 0, -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Advance(tt.vel, [3]float32{}, 1, tt.maxSpeed)
			if !approxVec(got[:], tt.want[:], 1e-5) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if Length(got) > tt.maxSpeed+1e-5 {
				t.Errorf("speed %f exceeds %f", Length(got), tt.maxSpeed)
			}
		})
	}
}

func TestTargetRule(t *testing.T) {
	tests := []struct {
		name   string
		target TargetState
		want   []float32
	}{
		{"attract", TargetState{Pos: [3]float32{2, 0, 0}, Radius: 1, Sign: 1, Strength: 1}, []float32{2, 0}},
		{"repel", TargetState{Pos: [3]float32{2, 0, 0}, Radius: 1, Sign: -1, Strength: 1}, []float32{-2, 0}},
		{"strength scales", TargetState{Pos: [3]float32{0, 1, 0}, Radius: 1, Sign: 1, Strength: 3}, []float32{0, 3}},
		{"out of reach", TargetState{Pos: [3]float32{20, 0, 0}, Radius: 1, Sign: 1, Strength: 1}, []float32{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := onlyRule("target")
			got := stepAll(t, &p, []float32{0, 0}, []float32{0, 0}, nil, []TargetState{tt.target})
			if !approxVec(got, tt.want, 1e-5) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTargetRuleWrapsAroundBox(t *testing.T) {
	p := onlyRule("target")
	box := components.CenteredBox(100)
	p.Bounds = &box
	target := TargetState{Pos: [3]float32{49, 0, 0}, Radius: 1, Sign: 1, Strength: 1}
	got := stepAll(t, &p, []float32{-49, 0}, []float32{0, 0}, nil, []TargetState{target})
	if !approxVec(got, []float32{-2, 0}, 1e-4) {
		t.Errorf("expected pull across the wrap, got %v", got)
	}
}

func fieldParams() Params {
	p := onlyRule("none")
	p.Model = ModelField
	p.Field = Field{
		Types:      2,
		Attraction: []float32{0, 1, 0, 0},
		Repulsion:  1,
		Core:       0.25,
	}
	return p
}

func TestFieldModel(t *testing.T) {
	p := fieldParams()
	got := stepAll(t, &p, []float32{0, 0, 2, 0}, []float32{0, 0, 0, 0}, []uint8{0, 1}, nil)
	// type 0 pulled toward type 1: 1 * (1 - 4/16) * 2/4
	if math.Abs(float64(got[0]-0.375)) > 1e-5 || got[1] != 0 {
		t.Errorf("type 0 velocity = %v, want (0.375, 0)", got[:2])
	}
	// type 1 is indifferent to type 0
	if got[2] != 0 || got[3] != 0 {
		t.Errorf("type 1 velocity = %v, want zero", got[2:])
	}
}

func TestFieldModelCoreRepels(t *testing.T) {
	p := fieldParams()
	got := stepAll(t, &p, []float32{0, 0, 0.5, 0}, []float32{0, 0, 0, 0}, []uint8{0, 1}, nil)
	if got[0] >= 0 {
		t.Errorf("expected repulsion inside the core, got %v", got[:2])
	}
	if got[2] <= 0 {
		t.Errorf("expected type 1 pushed away inside the core, got %v", got[2:])
	}
}

func TestKernelDeterministic(t *testing.T) {
	p := DefaultParams(2)
	pos := []float32{0, 0, 1, 0.5, -1, 1, 2, -2, 0.3, 0.2}
	vel := []float32{1, 0, 0, 1, -1, 0, 0, -1, 0.5, 0.5}
	a := stepAll(t, &p, pos, vel, nil, nil)
	b := stepAll(t, &p, pos, vel, nil, nil)
	if !approxVec(a, b, 0) {
		t.Errorf("kernel not deterministic: %v vs %v", a, b)
	}
}

func TestClampLengthExtremeValues(t *testing.T) {
	inf := float32(math.Inf(1))
	r := float32(10 / math.Sqrt2)
	tests := []struct {
		name string
		v    [3]float32
		want [3]float32
	}{
		{"huge finite", [3]float32{1e20, 0, 0}, [3]float32{10, 0, 0}},
		{"near float max", [3]float32{3e38, -3e38, 0}, [3]float32{r, -r, 0}},
		{"positive inf", [3]float32{inf, 0, 0}, [3]float32{10, 0, 0}},
		{"mixed inf", [3]float32{-inf, inf, 5}, [3]float32{-r, r, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampLength(tt.v, 10)
			if !approxVec(got[:], tt.want[:], 1e-4) {
				t.Errorf("ClampLength(%v) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}

	nan := float32(math.NaN())
	if got := ClampLength([3]float32{nan, 1, 0}, 10); !math.IsNaN(float64(got[0])) {
		t.Errorf("NaN input should pass through, got %v", got)
	}
}

func TestHugeWeightKeepsDirection(t *testing.T) {
	p := onlyRule("cohesion")
	p.Weights.Cohesion.Weight = 1e30
	p.MaxSpeed = 10
	if err := p.Validate(); err != nil {
		t.Fatalf("params rejected: %v", err)
	}
	got := stepAll(t, &p, []float32{0, 0, 2, 0}, []float32{0, 0, 0, 0}, nil, nil)
	want := []float32{10, 0, -10, 0}
	if !approxVec(got, want, 1e-4) {
		t.Errorf("velocities %v, want %v", got, want)
	}
}
