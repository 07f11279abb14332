package deal

import (
	"math"
	"reflect"
	"testing"
)

func TestDimSubsetsCount(t *testing.T) {
	subsets := dimSubsets(5, 3)
	// C(5,1) + C(5,2) + C(5,3) = 5 + 10 + 10.
	if len(subsets) != 25 {
		t.Fatalf("subset count: got %d, want 25", len(subsets))
	}
	for _, s := range subsets {
		if len(s) < 1 || len(s) > 3 {
			t.Errorf("subset size out of range: %v", s)
		}
	}
}

func TestDimSubsetsStableOrder(t *testing.T) {
	a := dimSubsets(5, 3)
	b := dimSubsets(5, 3)
	if !reflect.DeepEqual(a, b) {
		t.Error("dimSubsets must enumerate in a stable order")
	}
}

func TestOverlayWeight(t *testing.T) {
	dims := overlayDims()
	tests := []struct {
		name     string
		subset   []int
		overlayN int
		primaryN int
		want     float64
	}{
		// Accident alone at full coverage keeps its full base weight.
		{"accident full coverage", []int{4}, 10, 10, 1.0},
		// Two 0.5 dims: base 0.5, halved once, full coverage.
		{"fuel+transmission full", []int{0, 1}, 10, 10, 0.25},
		// Three dims incl accident at half coverage:
		// base (0.5+0.5+1)/3 = 2/3, halved twice = 1/6, attenuation 0.75.
		{"triple half coverage", []int{0, 1, 4}, 5, 10, 0.125},
		// Thin overlay bottoms out at half the nominal weight.
		{"accident near-zero coverage", []int{4}, 0, 10, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := overlayWeight(dims, tt.subset, tt.overlayN, tt.primaryN)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("overlayWeight: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBlendOverlaysUniformAttributes(t *testing.T) {
	// When every item shares the same secondary attributes, each overlay
	// cohort equals the primary cohort and the blend must reproduce the
	// primary score exactly.
	group := []*item{
		{price: 10_000, primaryScore: 100, fuel: "diesel", transmission: "automatik", color: "grau", variant: "touring"},
		{price: 20_000, primaryScore: 50, fuel: "diesel", transmission: "automatik", color: "grau", variant: "touring"},
		{price: 30_000, primaryScore: 0, fuel: "diesel", transmission: "automatik", color: "grau", variant: "touring"},
	}
	scores := blendOverlays(group)

	for i, want := range []float64{100, 50, 0} {
		if math.Abs(scores[i]-want) > 1e-9 {
			t.Errorf("item %d: got %v, want %v", i, scores[i], want)
		}
	}
}

func TestBlendOverlaysPerturbsWithinBounds(t *testing.T) {
	// An accident-free item cheaper among its accident-free peers should gain
	// score relative to its primary ranking; the result must stay in [0,100].
	group := []*item{
		{price: 10_000, primaryScore: 100, fuel: "diesel", transmission: "automatik", color: "grau", variant: "a", accident: false},
		{price: 15_000, primaryScore: 75, fuel: "diesel", transmission: "automatik", color: "blau", variant: "a", accident: false},
		{price: 20_000, primaryScore: 50, fuel: "benzin", transmission: "schalter", color: "grau", variant: "b", accident: true},
		{price: 25_000, primaryScore: 25, fuel: "benzin", transmission: "schalter", color: "rot", variant: "b", accident: true},
		{price: 30_000, primaryScore: 0, fuel: "diesel", transmission: "automatik", color: "grau", variant: "a", accident: false},
	}
	scores := blendOverlays(group)

	for i, s := range scores {
		if s < 0 || s > 100 {
			t.Errorf("item %d blended score out of range: %v", i, s)
		}
	}
	// The cheapest accident car still ranks first among accident peers, so it
	// keeps a high score; the most expensive overall must stay at the bottom.
	if scores[0] < scores[4] {
		t.Error("cheapest item must not blend below the most expensive one")
	}
}

func TestBlendOverlaysDeterministic(t *testing.T) {
	mk := func() []*item {
		return []*item{
			{price: 10_000, primaryScore: 100, fuel: "diesel", transmission: "automatik", color: "grau", variant: "a"},
			{price: 20_000, primaryScore: 50, fuel: "benzin", transmission: "schalter", color: "blau", variant: "b", accident: true},
			{price: 30_000, primaryScore: 0, fuel: "diesel", transmission: "schalter", color: "grau", variant: "a"},
		}
	}
	sa := blendOverlays(mk())
	sb := blendOverlays(mk())
	for i := range sa {
		if sa[i] != sb[i] {
			t.Errorf("item %d: blend not deterministic: %v vs %v", i, sa[i], sb[i])
		}
	}
}
