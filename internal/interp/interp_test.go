package interp

import (
	"strings"
	"testing"

	"katara/internal/atomics"
	"katara/internal/ir"
)

// buildMallocStoreLoad builds a one-block function:
//   %0 = malloc i64(8)
//   store %0, i64(42)
//   %1 = load i64 %0
//   return %1
func buildMallocStoreLoad() *ir.Program {
	prog := ir.NewProgram()
	f := prog.AddFunc()
	f.ResultTypes = []*ir.Type{ir.IntType(64, true)}
	prog.EntryFunc = f.Num
	b := f.AddBlock()
	f.EntryBlock = b.Num

	size := atomics.NewInt(64, true, 8)
	base := f.NextValueNum()
	b.AddInstr(ir.NewMalloc(base, ir.IntConst(size), ir.SourceRange{}))

	val := atomics.NewInt(64, true, 42)
	b.AddInstr(ir.NewStore(ir.Computed(base, ir.PointerType), ir.IntConst(val), ir.SourceRange{}))

	loaded := f.NextValueNum()
	b.AddInstr(ir.NewLoad(loaded, ir.IntType(64, true), ir.Computed(base, ir.PointerType), ir.SourceRange{}))

	b.AddInstr(ir.NewReturn([]ir.Value{ir.Computed(loaded, ir.IntType(64, true))}, ir.SourceRange{}))
	return prog
}

func TestInterpMallocStoreLoadRoundTrip(t *testing.T) {
	prog := buildMallocStoreLoad()
	in, err := New(prog, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := in.Run(); err != nil {
		t.Fatalf("unexpected interpreter error: %v", err)
	}
	if in.ExitCode != 42 {
		t.Errorf("got exit code %d, want 42", in.ExitCode)
	}
	if err := in.Heap.CheckAllFreed(); err == nil {
		t.Error("expected CheckAllFreed to report the outstanding malloc")
	}
}

func TestInterpReadUninitializedMemoryFails(t *testing.T) {
	prog := ir.NewProgram()
	f := prog.AddFunc()
	f.ResultTypes = []*ir.Type{ir.IntType(64, true)}
	prog.EntryFunc = f.Num
	b := f.AddBlock()
	f.EntryBlock = b.Num

	base := f.NextValueNum()
	b.AddInstr(ir.NewMalloc(base, ir.IntConst(atomics.NewInt(64, true, 8)), ir.SourceRange{}))
	loaded := f.NextValueNum()
	b.AddInstr(ir.NewLoad(loaded, ir.IntType(64, true), ir.Computed(base, ir.PointerType), ir.SourceRange{}))
	b.AddInstr(ir.NewReturn([]ir.Value{ir.Computed(loaded, ir.IntType(64, true))}, ir.SourceRange{}))

	in, err := New(prog, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = in.Run()
	if err == nil || !strings.Contains(err.Error(), "uninitialized") {
		t.Fatalf("got %v, want an uninitialized-memory error", err)
	}
}

// TestInterpNarrowingConversionTruncates builds a one-block function:
//
//	%0 = conv i32 i64(0x100000002)
//	return %0
//
// 0x100000002 doesn't fit in 32 bits, so the conversion is lossy. It's still
// legal IR (spec §3 allows Conversion between any pair of int atomics), so
// the interpreter must truncate rather than fail.
func TestInterpNarrowingConversionTruncates(t *testing.T) {
	prog := ir.NewProgram()
	f := prog.AddFunc()
	f.ResultTypes = []*ir.Type{ir.IntType(32, true)}
	prog.EntryFunc = f.Num
	b := f.AddBlock()
	f.EntryBlock = b.Num

	wide := atomics.NewInt(64, true, 0x100000002)
	narrow := f.NextValueNum()
	b.AddInstr(ir.NewConversion(narrow, ir.IntType(32, true), ir.IntConst(wide), ir.SourceRange{}))
	b.AddInstr(ir.NewReturn([]ir.Value{ir.Computed(narrow, ir.IntType(32, true))}, ir.SourceRange{}))

	in, err := New(prog, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := in.Run(); err != nil {
		t.Fatalf("unexpected interpreter error on lossy conversion: %v", err)
	}
	if in.ExitCode != 2 {
		t.Errorf("got exit code %d, want 2 (truncated from 0x100000002)", in.ExitCode)
	}
}

func TestInterpDoubleFreeFails(t *testing.T) {
	prog := ir.NewProgram()
	f := prog.AddFunc()
	prog.EntryFunc = f.Num
	b := f.AddBlock()
	f.EntryBlock = b.Num

	base := f.NextValueNum()
	b.AddInstr(ir.NewMalloc(base, ir.IntConst(atomics.NewInt(64, true, 8)), ir.SourceRange{}))
	b.AddInstr(ir.NewFree(ir.Computed(base, ir.PointerType), ir.SourceRange{}))
	b.AddInstr(ir.NewFree(ir.Computed(base, ir.PointerType), ir.SourceRange{}))
	b.AddInstr(ir.NewReturn(nil, ir.SourceRange{}))

	in, err := New(prog, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = in.Run()
	if err == nil || !strings.Contains(err.Error(), "already freed") {
		t.Fatalf("got %v, want a double-free error", err)
	}
}
