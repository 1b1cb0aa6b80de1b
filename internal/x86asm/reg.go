// Package x86asm implements the System-V AMD64 instruction subset the
// lowering emits: registers, memory operands, an instruction AST, and an
// encoder producing raw bytes with REX/ModRM/SIB and 32-bit RIP-relative
// patch registration (spec §4.9).
package x86asm

import "fmt"

// Size is a register or operand width in bits.
type Size int

const (
	Size8  Size = 8
	Size16 Size = 16
	Size32 Size = 32
	Size64 Size = 64
)

// Reg is a general-purpose register: a size and an index in 0..15. Index
// ordering matches the x86-64 encoding: 0=A, 1=C, 2=D, 3=B, 4=SP, 5=BP,
// 6=SI, 7=DI, 8..15=R8..R15.
type Reg struct {
	Size  Size
	Index int
}

// lowByteNames are the legacy (no-REX) names for 8-bit registers 4..7:
// AH, CH, DH, BH instead of SPL, BPL, SIL, DIL. The encoder only cares
// about NeedsREX; names are for String/debugging.
var lowByteNames = [16]string{
	"al", "cl", "dl", "bl", "ah", "ch", "dh", "bh",
	"r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b",
}
var rexByteNames = [16]string{
	"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil",
	"r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b",
}
var wordNames = [16]string{
	"ax", "cx", "dx", "bx", "sp", "bp", "si", "di",
	"r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w",
}
var dwordNames = [16]string{
	"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi",
	"r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d",
}
var qwordNames = [16]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// NeedsREX reports whether encoding this register's 8-bit form requires a
// REX prefix to select spl/bpl/sil/dil over the legacy ah/ch/dh/bh (spec
// §4.9).
func (r Reg) NeedsREX() bool {
	return r.Size == Size8 && r.Index >= 4 && r.Index <= 7
}

// Extended reports whether the register needs the REX.B/.X/.R extension
// bit (index >= 8).
func (r Reg) Extended() bool {
	return r.Index >= 8
}

// LowBits is the 3-bit field encoded in ModRM/SIB/opcode, ignoring the
// REX extension bit.
func (r Reg) LowBits() byte {
	return byte(r.Index & 0x7)
}

func (r Reg) String() string {
	i := r.Index
	if i < 0 || i > 15 {
		return fmt.Sprintf("reg(%d,%d)", r.Size, r.Index)
	}
	switch r.Size {
	case Size8:
		return lowByteNames[i]
	case Size16:
		return wordNames[i]
	case Size32:
		return dwordNames[i]
	case Size64:
		return qwordNames[i]
	default:
		return fmt.Sprintf("reg(%d,%d)", r.Size, r.Index)
	}
}

// RexName is the 8-bit register name when a REX prefix is present, used
// only for disassembly-style rendering.
func (r Reg) RexName() string {
	if r.Size == Size8 {
		return rexByteNames[r.Index]
	}
	return r.String()
}

// ToSize returns the same physical register reinterpreted at a different
// operand size (e.g. RAX -> EAX), the form the lowering uses to address a
// register at a value's operand size.
func (r Reg) ToSize(size Size) Reg {
	return Reg{Size: size, Index: r.Index}
}

// Equal reports whether r and o name the same physical register at the
// same size.
func (r Reg) Equal(o Reg) bool {
	return r.Size == o.Size && r.Index == o.Index
}

// The System-V AMD64 general-purpose register set, named at 64-bit width.
// ABI-significant subsets are named in abi.go.
var (
	RAX = Reg{Size64, 0}
	RCX = Reg{Size64, 1}
	RDX = Reg{Size64, 2}
	RBX = Reg{Size64, 3}
	RSP = Reg{Size64, 4}
	RBP = Reg{Size64, 5}
	RSI = Reg{Size64, 6}
	RDI = Reg{Size64, 7}
	R8  = Reg{Size64, 8}
	R9  = Reg{Size64, 9}
	R10 = Reg{Size64, 10}
	R11 = Reg{Size64, 11}
	R12 = Reg{Size64, 12}
	R13 = Reg{Size64, 13}
	R14 = Reg{Size64, 14}
	R15 = Reg{Size64, 15}
)

// NumGPRegisters is the count of general-purpose registers (indices
// 0..15). The lowering keeps RSP and RBP out of allocation, so only 14 of
// them serve as allocator colors (lower.SpillBase).
const NumGPRegisters = 16
