package liveness

import (
	"testing"

	"katara/internal/atomics"
	"katara/internal/ir"
)

// buildDiamond builds: entry -> (b1, b2) -> b3, with %0 a param used only in
// b3 (so it must be carried live across the whole diamond).
func buildDiamond(t *testing.T) (*ir.Func, ir.ValueNum) {
	t.Helper()
	f := ir.NewFunc(0)
	p := f.AddParam(ir.IntType(64, true))

	entry := f.AddBlock()
	b1 := f.AddBlock()
	b2 := f.AddBlock()
	b3 := f.AddBlock()
	f.EntryBlock = entry.Num

	entry.AddInstr(ir.NewJumpCond(ir.BoolConst(true), b1.Num, b2.Num, ir.SourceRange{}))
	f.AddControlFlow(entry.Num, b1.Num)
	f.AddControlFlow(entry.Num, b2.Num)

	b1.AddInstr(ir.NewJump(b3.Num, ir.SourceRange{}))
	f.AddControlFlow(b1.Num, b3.Num)

	b2.AddInstr(ir.NewJump(b3.Num, ir.SourceRange{}))
	f.AddControlFlow(b2.Num, b3.Num)

	result := f.NextValueNum()
	b3.AddInstr(ir.NewIntBinary(result, ir.IntType(64, true), atomics.Add, ir.Computed(p.Num, p.Typ), ir.Computed(p.Num, p.Typ), ir.SourceRange{}))
	b3.AddInstr(ir.NewReturn([]ir.Value{ir.Computed(result, ir.IntType(64, true))}, ir.SourceRange{}))

	return f, p.Num
}

func TestLiveRangesCarryParamAcrossDiamond(t *testing.T) {
	f, param := buildDiamond(t)
	ranges := BuildLiveRanges(f)

	for _, num := range []ir.BlockNum{0, 1, 2} {
		if !ranges.Blocks[num].ExitSet()[param] {
			t.Errorf("block %d: expected %%%d live on exit", num, param)
		}
	}
	if ranges.Blocks[3].ExitSet()[param] {
		t.Errorf("block 3: %%%d is consumed, should not be live on exit", param)
	}
}

// buildLoop builds a single-back-edge loop: entry defines %i0, jumps into a
// header block with a phi combining %i0 (from entry) and %i1 (from the
// body, the loop-carried increment); the header jumps to a body that
// computes %i1 and jumps back to the header. %i1 is never used inside the
// body after it's defined, so the only thing that keeps it alive across the
// body -> header back edge is the header's phi consuming it.
func buildLoop(t *testing.T) (f *ir.Func, header, body ir.BlockNum, i1 ir.ValueNum) {
	t.Helper()
	i64 := ir.IntType(64, true)
	f = ir.NewFunc(0)

	entry := f.AddBlock()
	h := f.AddBlock()
	b := f.AddBlock()
	f.EntryBlock = entry.Num

	i0 := f.NextValueNum()
	entry.AddInstr(ir.NewMov(i0, i64, ir.IntConst(atomics.NewInt(64, true, 0)), ir.SourceRange{}))
	entry.AddInstr(ir.NewJump(h.Num, ir.SourceRange{}))
	f.AddControlFlow(entry.Num, h.Num)

	iphi := f.NextValueNum()
	h.AddInstr(ir.NewPhi(iphi, i64, []ir.PhiArg{
		{Origin: ir.InheritedFrom(ir.Computed(i0, i64), entry.Num)},
		{Origin: ir.InheritedFrom(ir.Computed(0, i64), b.Num)}, // placeholder, fixed below
	}, ir.SourceRange{}))
	h.AddInstr(ir.NewJumpCond(ir.BoolConst(true), b.Num, b.Num, ir.SourceRange{}))
	f.AddControlFlow(h.Num, b.Num)

	i1 = f.NextValueNum()
	b.AddInstr(ir.NewIntBinary(i1, i64, atomics.Add, ir.Computed(iphi, i64), ir.IntConst(atomics.NewInt(64, true, 0)), ir.SourceRange{}))
	b.AddInstr(ir.NewJump(h.Num, ir.SourceRange{}))
	f.AddControlFlow(b.Num, h.Num)

	// Fix the phi's second argument up now that %i1 is known: NewPhi above
	// needed a placeholder because i1 isn't allocated until after the body
	// block exists.
	h.Phis()[0].PhiArgs[1] = ir.PhiArg{Origin: ir.InheritedFrom(ir.Computed(i1, i64), b.Num)}

	return f, h.Num, b.Num, i1
}

func TestLiveRangesCarryPhiOperandAcrossBackEdge(t *testing.T) {
	f, _, body, i1 := buildLoop(t)
	ranges := BuildLiveRanges(f)

	if !ranges.Blocks[body].ExitSet()[i1] {
		t.Errorf("body block %d: expected phi-consumed %%%d live on exit", body, i1)
	}
}

func TestInterferenceGraphNoSelfEdges(t *testing.T) {
	f, _ := buildDiamond(t)
	ranges := BuildLiveRanges(f)
	g := BuildInterferenceGraph(f, ranges)

	for _, v := range g.Values() {
		if g.Neighbors(v)[v] {
			t.Errorf("value %%%d has a self-edge", v)
		}
	}
}

func TestInterferenceGraphSymmetric(t *testing.T) {
	f, _ := buildDiamond(t)
	ranges := BuildLiveRanges(f)
	g := BuildInterferenceGraph(f, ranges)

	for _, v := range g.Values() {
		for n := range g.Neighbors(v) {
			if !g.Neighbors(n)[v] {
				t.Errorf("edge %%%d-%%%d is not symmetric", v, n)
			}
		}
	}
}
