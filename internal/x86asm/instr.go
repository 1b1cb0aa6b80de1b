package x86asm

// Op is one member of the closed instruction-AST variant the lowering
// emits (spec §4.9).
type Op int

const (
	Mov Op = iota
	Xchg
	Push
	Pop
	Setcc

	Not
	And
	Or
	Xor
	Neg
	Add
	Adc
	Sub
	Sbb
	Cmp
	Mul
	Imul
	Div
	Idiv
	SignExtendRegA  // CBW/CWDE/CDQE: sign-extend A into itself at a wider size
	SignExtendRegAD // CWD/CDQ/CQO: sign-extend A into A:D
	Test

	Jcc
	Jmp
	Call
	Syscall
	Ret
)

// Cond is an x86 condition code, used by Jcc and Setcc. Values follow the
// low nibble of the Jcc/Setcc opcode byte (0x0 = overflow .. 0xF =
// greater), so Cond can be added directly to the base opcode.
type Cond byte

const (
	CondOverflow    Cond = 0x0
	CondNotOverflow Cond = 0x1
	CondBelow       Cond = 0x2 // unsigned <
	CondAboveEq     Cond = 0x3 // unsigned >=
	CondEqual       Cond = 0x4
	CondNotEqual    Cond = 0x5
	CondBelowEq     Cond = 0x6 // unsigned <=
	CondAbove       Cond = 0x7 // unsigned >
	CondSign        Cond = 0x8
	CondNotSign     Cond = 0x9
	CondLess        Cond = 0xC // signed <
	CondGreaterEq   Cond = 0xD // signed >=
	CondLessEq      Cond = 0xE // signed <=
	CondGreater     Cond = 0xF // signed >
)

// Instr is one instruction in the closed AST. Not every field is
// meaningful for every Op; Encode interprets fields per Op the way spec
// §4.9 describes each instruction family.
type Instr struct {
	Op   Op
	Cond Cond // Jcc, Setcc

	// Dst/Src cover the two-operand forms (Mov, And, Or, Xor, Add, Adc,
	// Sub, Sbb, Cmp, Test, Setcc's single operand goes in Dst).
	Dst Operand
	Src Operand

	// Imul's three-operand register form: Dst = Src * Imm (or Dst = Dst
	// * Src for the two-operand register*register/memory form, with
	// Imm absent).
	Imm *Imm

	// Jmp/Jcc/Call target a Ref (block or function) or, for an indirect
	// Call, a Reg/Mem operand placed in Dst instead.
	Target *Ref
}

// IsRelativeCall reports whether this Call targets a symbolic reference
// (direct call) rather than a register/memory operand (indirect call).
func (in *Instr) IsRelativeCall() bool {
	return in.Op == Call && in.Target != nil
}
