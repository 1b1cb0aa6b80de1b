package regalloc

import (
	"testing"

	"katara/internal/ir"
	"katara/internal/liveness"
)

func TestAllocateCliqueNeedsDistinctColors(t *testing.T) {
	g := liveness.NewGraph()
	g.AddEdge(0, 1)
	g.AddEdge(1, 2)
	g.AddEdge(0, 2)

	colors := Allocate(g, 4, nil)
	seen := map[int]bool{}
	for _, v := range []ir.ValueNum{0, 1, 2} {
		c := colors.Color(v)
		if c == NoColor {
			t.Fatalf("value %%%d was not colored", v)
		}
		if seen[c] {
			t.Fatalf("clique members share color %d", c)
		}
		seen[c] = true
	}
}

func TestAllocateNonAdjacentCanShareColor(t *testing.T) {
	g := liveness.NewGraph()
	g.AddValue(0)
	g.AddValue(1) // no edge between them

	colors := Allocate(g, 1, nil)
	if colors.Color(0) != colors.Color(1) {
		t.Errorf("non-interfering values with a 1-color budget should share a color")
	}
}

func TestAllocateRespectsPreColoring(t *testing.T) {
	g := liveness.NewGraph()
	g.AddEdge(0, 1)

	pre := PreColored{0: 3}
	colors := Allocate(g, 2, pre)
	if colors.Color(0) != 3 {
		t.Errorf("pre-colored value was reassigned: got %d, want 3", colors.Color(0))
	}
	if colors.Color(1) == 3 {
		t.Errorf("neighbor of a pre-colored value must avoid its color")
	}
}

func TestAllocateSpillsOverCapacity(t *testing.T) {
	g := liveness.NewGraph()
	g.AddEdge(0, 1)
	g.AddEdge(1, 2)
	g.AddEdge(0, 2)

	colors := Allocate(g, 2, nil)
	maxColor := -1
	for _, v := range []ir.ValueNum{0, 1, 2} {
		if c := colors.Color(v); c > maxColor {
			maxColor = c
		}
	}
	if maxColor < 2 {
		t.Errorf("expected a 3-clique with 2 colors to require a spill color >= 2, got max %d", maxColor)
	}
}
