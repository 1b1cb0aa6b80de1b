package ir

import "testing"

// buildDiamond builds:
//
//	entry -> b1 -> b3
//	entry -> b2 -> b3
func buildDiamond() *Func {
	f := NewFunc(0)
	entry := f.AddBlock()
	b1 := f.AddBlock()
	b2 := f.AddBlock()
	b3 := f.AddBlock()
	f.EntryBlock = entry.Num
	f.AddControlFlow(entry.Num, b1.Num)
	f.AddControlFlow(entry.Num, b2.Num)
	f.AddControlFlow(b1.Num, b3.Num)
	f.AddControlFlow(b2.Num, b3.Num)
	entry.AddInstr(NewJumpCond(BoolConst(true), b1.Num, b2.Num, SourceRange{}))
	b1.AddInstr(NewJump(b3.Num, SourceRange{}))
	b2.AddInstr(NewJump(b3.Num, SourceRange{}))
	b3.AddInstr(NewReturn(nil, SourceRange{}))
	return f
}

func TestDominatorsDiamond(t *testing.T) {
	f := buildDiamond()
	if f.DominatorOf(f.EntryBlock) != NoBlock {
		t.Errorf("entry should have no dominator")
	}
	if got := f.DominatorOf(1); got != f.EntryBlock {
		t.Errorf("b1 dominator = %d, want entry (%d)", got, f.EntryBlock)
	}
	if got := f.DominatorOf(2); got != f.EntryBlock {
		t.Errorf("b2 dominator = %d, want entry (%d)", got, f.EntryBlock)
	}
	// b3's immediate dominator is the entry (join point), not b1 or b2.
	if got := f.DominatorOf(3); got != f.EntryBlock {
		t.Errorf("b3 dominator = %d, want entry (%d)", got, f.EntryBlock)
	}
	if !f.Dominates(f.EntryBlock, 3) {
		t.Error("entry should dominate b3")
	}
	if f.Dominates(1, 2) {
		t.Error("b1 should not dominate b2")
	}
}

func TestDominatorMemoization(t *testing.T) {
	f := buildDiamond()
	_ = f.DominatorOf(3)
	if !f.domValid {
		t.Fatal("expected dominator cache to be valid after computation")
	}
	f.AddBlock() // mutates CFG shape indirectly via invalidate on AddBlock
	if f.domValid {
		t.Error("adding a block should invalidate the memoized dominator relation")
	}
}

func TestValueAndBlockNumbersNeverRecycled(t *testing.T) {
	f := NewFunc(0)
	b0 := f.AddBlock()
	b1 := f.AddBlock()
	f.RemoveBlock(b0.Num)
	b2 := f.AddBlock()
	if b2.Num == b0.Num {
		t.Error("block numbers must not be recycled after removal")
	}
	if b1.Num == b2.Num {
		t.Error("distinct blocks must have distinct numbers")
	}

	v0 := f.NextValueNum()
	v1 := f.NextValueNum()
	if v0 == v1 {
		t.Error("value numbers must be unique")
	}
}
