package x86asm

import "fmt"

// Mem is a memory operand: [base + index*scale + disp32]. Either base or
// index may be absent (nil); scale is one of 1/2/4/8 and only meaningful
// with a non-nil index. RSP can never be the index register (spec §4.9 —
// that encoding slot is reserved for "no index").
type Mem struct {
	Size  Size
	Base  *Reg
	Index *Reg
	Scale int
	Disp  int32
}

// NewMem validates and builds a memory operand.
func NewMem(size Size, base, index *Reg, scale int, disp int32) (Mem, error) {
	if index != nil {
		if index.Index == RSP.Index {
			return Mem{}, fmt.Errorf("x86asm: RSP cannot be used as an index register")
		}
		switch scale {
		case 1, 2, 4, 8:
		default:
			return Mem{}, fmt.Errorf("x86asm: invalid scale %d, want 1/2/4/8", scale)
		}
	}
	return Mem{Size: size, Base: base, Index: index, Scale: scale, Disp: disp}, nil
}

// Imm is an immediate operand, sized to one of k8/k16/k32/k64 (spec
// §4.9's size calibration).
type Imm struct {
	Size  Size
	Value uint64
}

// Bytes returns the little-endian encoding of the immediate's low Size
// bits.
func (im Imm) Bytes() []byte {
	n := int(im.Size) / 8
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(im.Value >> (8 * i))
	}
	return out
}

// RefKind distinguishes a function-target, a block-target and an
// external-symbol reference; the linker resolves each against a different
// address table (spec §4.11).
type RefKind int

const (
	RefFunc RefKind = iota
	RefBlock
	RefExternal
)

// Ref is a symbolic reference written by the lowering in place of a
// not-yet-known address: a call/jump target, or an external function
// address supplied to the linker before ApplyPatches (spec §4.9, §4.11,
// §6).
type Ref struct {
	Kind RefKind
	// Func/Block identify an in-program target by the x86 function/block
	// numbers the lowering assigned (spec §4.10). External identifies an
	// externally-resolved symbol (e.g. "malloc", "free").
	Func     int
	Block    int
	External string
}

// Operand is any valid instruction operand: Reg, Mem, Imm, or Ref (the
// last only legal where the instruction AST allows a relative reference).
type Operand interface{}
