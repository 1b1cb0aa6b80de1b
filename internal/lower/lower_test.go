package lower

import (
	"testing"

	"katara/internal/atomics"
	"katara/internal/ir"
	"katara/internal/x86asm"
)

// buildAdd builds: func add(a, b i64) i64 { return a + b }
func buildAdd() (*ir.Program, *ir.Func) {
	prog := ir.NewProgram()
	f := prog.AddFunc()
	i64 := ir.IntType(64, true)
	f.ResultTypes = []*ir.Type{i64}
	prog.EntryFunc = f.Num

	a := f.AddParam(i64)
	b := f.AddParam(i64)
	entry := f.AddBlock()
	f.EntryBlock = entry.Num

	sum := f.NextValueNum()
	entry.AddInstr(ir.NewIntBinary(sum, i64, atomics.Add, ir.Computed(a.Num, i64), ir.Computed(b.Num, i64), ir.SourceRange{}))
	entry.AddInstr(ir.NewReturn([]ir.Value{ir.Computed(sum, i64)}, ir.SourceRange{}))
	return prog, f
}

func TestLowerFuncEmitsPrologueAndEpilogue(t *testing.T) {
	prog, f := buildAdd()
	lw := New(prog)
	out, err := lw.LowerFunc(f)
	if err != nil {
		t.Fatalf("LowerFunc: %v", err)
	}
	if len(out.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(out.Blocks))
	}
	instrs := out.Blocks[0].Instrs
	if len(instrs) < 2 {
		t.Fatalf("too few instructions: %d", len(instrs))
	}
	if instrs[0].Op != x86asm.Push {
		t.Errorf("first instruction should push rbp, got %v", instrs[0].Op)
	}
	if instrs[1].Op != x86asm.Mov {
		t.Errorf("second instruction should establish rbp, got %v", instrs[1].Op)
	}
	last := instrs[len(instrs)-1]
	if last.Op != x86asm.Ret {
		t.Errorf("last instruction should be ret, got %v", last.Op)
	}
	if instrs[len(instrs)-2].Op != x86asm.Pop {
		t.Errorf("second-to-last instruction should pop rbp, got %v", instrs[len(instrs)-2].Op)
	}
}

func TestLowerFuncSelectsAddInPlace(t *testing.T) {
	prog, f := buildAdd()
	lw := New(prog)
	out, err := lw.LowerFunc(f)
	if err != nil {
		t.Fatalf("LowerFunc: %v", err)
	}
	var sawAdd bool
	for _, in := range out.Blocks[0].Instrs {
		if in.Op == x86asm.Add {
			sawAdd = true
		}
	}
	if !sawAdd {
		t.Errorf("expected an Add instruction in the lowered output")
	}
}

func TestColorOperandMapsSpillSlotsPastSpillBase(t *testing.T) {
	op := colorOperand(SpillBase, x86asm.Size64)
	m, ok := op.(x86asm.Mem)
	if !ok {
		t.Fatalf("expected a Mem operand for a spill color, got %T", op)
	}
	if m.Base == nil || !m.Base.Equal(x86asm.RBP) {
		t.Errorf("spill slot must be rbp-relative")
	}
	if m.Disp != -8 {
		t.Errorf("first spill slot should be at rbp-8, got %d", m.Disp)
	}
}

func TestColorOperandExcludesStackAndFramePointer(t *testing.T) {
	for color := 0; color < SpillBase; color++ {
		r := usableRegisters[color]
		if r.Equal(x86asm.RSP) || r.Equal(x86asm.RBP) {
			t.Errorf("color %d resolved to a reserved register %v", color, r)
		}
	}
}

func TestSequenceMovesBreaksTwoCycle(t *testing.T) {
	// Swap RAX and RCX: a classic 2-cycle.
	moves := []Move{
		{Dst: x86asm.RAX, Src: x86asm.RCX},
		{Dst: x86asm.RCX, Src: x86asm.RAX},
	}
	instrs := SequenceMoves(moves)
	if len(instrs) != 1 || instrs[0].Op != x86asm.Xchg {
		t.Fatalf("expected a single Xchg, got %d instructions", len(instrs))
	}
}

func TestSequenceMovesDropsNoOps(t *testing.T) {
	moves := []Move{{Dst: x86asm.RAX, Src: x86asm.RAX}}
	instrs := SequenceMoves(moves)
	if len(instrs) != 0 {
		t.Errorf("expected a no-op move to produce no instructions, got %d", len(instrs))
	}
}

func TestSequenceMovesOrdersChainBeforeClobber(t *testing.T) {
	// A simple chain with no cycle: RCX <- RAX, RDX <- RCX. RDX's source
	// must be read before RCX is overwritten.
	moves := []Move{
		{Dst: x86asm.RDX, Src: x86asm.RCX},
		{Dst: x86asm.RCX, Src: x86asm.RAX},
	}
	instrs := SequenceMoves(moves)
	if len(instrs) != 2 {
		t.Fatalf("expected 2 moves, got %d", len(instrs))
	}
	if instrs[0].Op != x86asm.Mov || instrs[0].Dst != x86asm.RDX {
		t.Errorf("RDX must be moved before RCX is clobbered")
	}
}

func TestUsedCalleeSavedOnlyReportsTouchedRegisters(t *testing.T) {
	used := map[int]bool{}
	rbxColor, _ := regColor(x86asm.RBX)
	used[rbxColor] = true
	saved := usedCalleeSaved(used)
	if len(saved) != 1 || !saved[0].Equal(x86asm.RBX) {
		t.Fatalf("expected only rbx reported as used callee-saved, got %v", saved)
	}
}
