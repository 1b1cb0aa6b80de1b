package link

import (
	"encoding/binary"
	"testing"

	"katara/internal/x86asm"
)

func TestApplyPatchesResolvesBlockJump(t *testing.T) {
	l := New(0x1000)

	enc := x86asm.NewEncoder()
	enc.Encode(&x86asm.Instr{Op: x86asm.Jmp, Target: &x86asm.Ref{Kind: x86asm.RefBlock, Block: 1}})
	l.SetBlockAddress(0, l.Address(l.Len()))
	l.Append(enc)
	l.SetBlockAddress(1, l.Address(l.Len()))

	result, err := l.ApplyPatches()
	if err != nil {
		t.Fatalf("ApplyPatches: %v", err)
	}
	rel := int32(binary.LittleEndian.Uint32(result.Code[1:5]))
	if rel != 0 {
		t.Errorf("got relative offset %d, want 0 (jump falls through to the very next instruction)", rel)
	}
	if result.BuildID.String() == "" {
		t.Error("expected a non-empty build id")
	}
}

func TestApplyPatchesFailsOnUnresolvedFunction(t *testing.T) {
	l := New(0)
	enc := x86asm.NewEncoder()
	enc.Encode(&x86asm.Instr{Op: x86asm.Call, Target: &x86asm.Ref{Kind: x86asm.RefFunc, Func: 99}})
	l.Append(enc)

	if _, err := l.ApplyPatches(); err == nil {
		t.Error("expected an error resolving a call to an unknown function")
	}
}

func TestApplyPatchesResolvesExternal(t *testing.T) {
	l := New(0x2000)
	l.DefineExternal("malloc", 0x7fff0000)
	enc := x86asm.NewEncoder()
	enc.Encode(&x86asm.Instr{Op: x86asm.Call, Target: &x86asm.Ref{Kind: x86asm.RefExternal, External: "malloc"}})
	l.Append(enc)

	if _, err := l.ApplyPatches(); err != nil {
		t.Fatalf("ApplyPatches: %v", err)
	}
}
