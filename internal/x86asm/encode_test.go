package x86asm

import (
	"bytes"
	"testing"
)

func TestEncodeMovRegReg(t *testing.T) {
	e := NewEncoder()
	n, err := e.Encode(&Instr{Op: Mov, Dst: RAX, Src: RBX})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// REX.W + 8b /r (mov r64, r/m64): 48 8b c3
	want := []byte{0x48, 0x8b, 0xc3}
	if !bytes.Equal(e.Bytes()[:n], want) {
		t.Errorf("got % x, want % x", e.Bytes()[:n], want)
	}
}

func TestEncodeMovRegRefRegistersPatch(t *testing.T) {
	e := NewEncoder()
	_, err := e.Encode(&Instr{Op: Mov, Dst: RAX, Src: &Ref{Kind: RefFunc, Func: 3}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(e.Patches) != 1 {
		t.Fatalf("got %d patches, want 1", len(e.Patches))
	}
	if e.Patches[0].Target.Func != 3 {
		t.Errorf("patch targets func %d, want 3", e.Patches[0].Target.Func)
	}
}

func TestEncodeJmpRegistersPatch(t *testing.T) {
	e := NewEncoder()
	n, err := e.Encode(&Instr{Op: Jmp, Target: &Ref{Kind: RefBlock, Block: 2}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if n != 5 {
		t.Fatalf("got %d bytes, want 5 (e9 + rel32)", n)
	}
	if e.Bytes()[0] != 0xe9 {
		t.Errorf("got opcode %x, want e9", e.Bytes()[0])
	}
	if len(e.Patches) != 1 || e.Patches[0].Offset != 1 {
		t.Errorf("got patches %+v, want one at offset 1", e.Patches)
	}
}

func TestEncodePushPopExtendedRegister(t *testing.T) {
	e := NewEncoder()
	if _, err := e.Encode(&Instr{Op: Push, Dst: R12}); err != nil {
		t.Fatalf("Encode push: %v", err)
	}
	if _, err := e.Encode(&Instr{Op: Pop, Dst: R12}); err != nil {
		t.Fatalf("Encode pop: %v", err)
	}
	want := []byte{0x41, 0x54, 0x41, 0x5c}
	if !bytes.Equal(e.Bytes(), want) {
		t.Errorf("got % x, want % x", e.Bytes(), want)
	}
}

func TestEncodeRejects32BitPush(t *testing.T) {
	e := NewEncoder()
	if _, err := e.Encode(&Instr{Op: Push, Dst: RAX.ToSize(Size32)}); err == nil {
		t.Error("expected an error pushing a 32-bit operand")
	}
}

func TestEncodeCmpImmAndSetcc(t *testing.T) {
	e := NewEncoder()
	if _, err := e.Encode(&Instr{Op: Cmp, Dst: RAX, Src: Imm{Size: Size8, Value: 0}}); err != nil {
		t.Fatalf("Encode cmp: %v", err)
	}
	if _, err := e.Encode(&Instr{Op: Setcc, Cond: CondEqual, Dst: RAX.ToSize(Size8)}); err != nil {
		t.Fatalf("Encode setcc: %v", err)
	}
}

func TestEncodeRetAndSyscall(t *testing.T) {
	e := NewEncoder()
	e.Encode(&Instr{Op: Ret})
	e.Encode(&Instr{Op: Syscall})
	want := []byte{0xc3, 0x0f, 0x05}
	if !bytes.Equal(e.Bytes(), want) {
		t.Errorf("got % x, want % x", e.Bytes(), want)
	}
}
