package x86asm

import (
	"encoding/binary"
	"fmt"
)

// Patch records a 4-byte RIP-relative slot the linker must resolve once
// every function/block address is known (spec §4.9, §4.11).
type Patch struct {
	Offset int // byte offset of the 4-byte slot within the encoded stream
	Target Ref
}

// Encoder accumulates encoded instructions into a single byte stream and
// collects the patches those instructions require.
type Encoder struct {
	out     []byte
	Patches []Patch
}

// NewEncoder creates an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Len is the number of bytes encoded so far.
func (e *Encoder) Len() int { return len(e.out) }

// Bytes returns the encoded stream. The slice is owned by the encoder and
// must not be retained past further Encode calls.
func (e *Encoder) Bytes() []byte { return e.out }

func (e *Encoder) emit(b ...byte) { e.out = append(e.out, b...) }

// Encode appends in's encoding to the stream and returns the number of
// bytes written. Instructions referencing a Ref register a 32-bit
// placeholder patch at the slot's offset (spec §4.9).
func (e *Encoder) Encode(in *Instr) (int, error) {
	start := len(e.out)
	var err error
	switch in.Op {
	case Mov:
		err = e.encodeMov(in)
	case Xchg:
		err = e.encodeXchg(in)
	case Push:
		err = e.encodePush(in)
	case Pop:
		err = e.encodePop(in)
	case Setcc:
		err = e.encodeSetcc(in)
	case Not, Neg, Mul, Imul, Div, Idiv:
		err = e.encodeUnaryGroup(in)
	case And, Or, Xor, Add, Adc, Sub, Sbb, Cmp:
		err = e.encodeArith(in)
	case Test:
		err = e.encodeTest(in)
	case SignExtendRegA:
		err = e.encodeSignExtendA(in)
	case SignExtendRegAD:
		err = e.encodeSignExtendAD(in)
	case Jcc:
		err = e.encodeJcc(in)
	case Jmp:
		err = e.encodeJmp(in)
	case Call:
		err = e.encodeCall(in)
	case Syscall:
		e.emit(0x0f, 0x05)
	case Ret:
		e.emit(0xc3)
	default:
		return 0, fmt.Errorf("x86asm: unsupported op %d", in.Op)
	}
	if err != nil {
		e.out = e.out[:start]
		return 0, err
	}
	return len(e.out) - start, nil
}

// registerPatch records a 32-bit placeholder patch at the stream's
// current tail and writes the four zero bytes.
func (e *Encoder) registerPatch(ref *Ref) {
	e.Patches = append(e.Patches, Patch{Offset: len(e.out), Target: *ref})
	e.emit(0, 0, 0, 0)
}

// rex computes the REX prefix byte (0x40 | W<<3 | R<<2 | X<<1 | B) and
// reports whether it must be emitted: forced by a register needing
// disambiguation (spec §4.9), a 64-bit operand, or any extended (R8-R15)
// register reference.
func rex(size Size, forceW bool, rField, xField, bField *Reg) (byte, bool) {
	var w, r, x, b byte
	if forceW || size == Size64 {
		w = 1
	}
	need := w == 1
	if rField != nil {
		if rField.Extended() {
			r = 1
			need = true
		}
		if rField.NeedsREX() {
			need = true
		}
	}
	if xField != nil && xField.Extended() {
		x = 1
		need = true
	}
	if bField != nil {
		if bField.Extended() {
			b = 1
			need = true
		}
		if bField.NeedsREX() {
			need = true
		}
	}
	return 0x40 | w<<3 | r<<2 | x<<1 | b, need
}

// modRM encodes a ModR/M (+ optional SIB + displacement) byte sequence
// for a register-field value (either a real register or an opcode
// extension) against an r/m operand that is either a register or memory.
func modRM(regField byte, rm Operand) ([]byte, error) {
	switch v := rm.(type) {
	case Reg:
		return []byte{0xc0 | (regField&7)<<3 | v.LowBits()}, nil
	case *Reg:
		return []byte{0xc0 | (regField&7)<<3 | v.LowBits()}, nil
	case Mem:
		return encodeMem(regField, v)
	default:
		return nil, fmt.Errorf("x86asm: invalid r/m operand %#v", rm)
	}
}

func encodeMem(regField byte, m Mem) ([]byte, error) {
	var out []byte
	mod := modForDisp(m.Base, m.Disp)
	needSIB := m.Index != nil || (m.Base != nil && m.Base.LowBits() == RSP.LowBits()) || m.Base == nil
	if !needSIB {
		out = append(out, mod<<6|(regField&7)<<3|m.Base.LowBits())
	} else {
		out = append(out, mod<<6|(regField&7)<<3|0x4) // rm=100 selects SIB
		scale := scaleBits(m.Scale)
		var idx, base byte = 0x4, 0x5 // no-index, disp32-only defaults
		if m.Index != nil {
			idx = m.Index.LowBits()
		}
		if m.Base != nil {
			base = m.Base.LowBits()
		}
		out = append(out, scale<<6|idx<<3|base)
	}
	if m.Base == nil || mod == 0 && m.Base.LowBits() == RBP.LowBits() || mod == 2 {
		var d [4]byte
		binary.LittleEndian.PutUint32(d[:], uint32(m.Disp))
		out = append(out, d[:]...)
	} else if mod == 1 {
		out = append(out, byte(int8(m.Disp)))
	}
	return out, nil
}

func modForDisp(base *Reg, disp int32) byte {
	if base == nil {
		return 0 // disp32, no base (RIP-independent absolute form)
	}
	if disp == 0 && base.LowBits() != RBP.LowBits() {
		return 0
	}
	if disp >= -128 && disp <= 127 {
		return 1
	}
	return 2
}

func scaleBits(scale int) byte {
	switch scale {
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		return 0
	}
}

func regOf(op Operand) (Reg, bool) {
	switch v := op.(type) {
	case Reg:
		return v, true
	case *Reg:
		return *v, true
	default:
		return Reg{}, false
	}
}

func sizePrefix(size Size) []byte {
	if size == Size16 {
		return []byte{0x66}
	}
	return nil
}

func (e *Encoder) encodeMov(in *Instr) error {
	dstReg, dstIsReg := regOf(in.Dst)
	srcReg, _ := regOf(in.Src)
	if imm, ok := in.Src.(Imm); ok {
		if !dstIsReg {
			return fmt.Errorf("x86asm: mov imm->memory not supported by this encoder")
		}
		e.emit(sizePrefix(dstReg.Size)...)
		rb, need := rex(dstReg.Size, dstReg.Size == Size64, nil, nil, &dstReg)
		if need {
			e.emit(rb)
		}
		op := byte(0xb8) | dstReg.LowBits()
		e.emit(op)
		e.emit(imm.Bytes()...)
		return nil
	}
	if ref, ok := in.Src.(*Ref); ok {
		if !dstIsReg {
			return fmt.Errorf("x86asm: mov ref->memory not supported")
		}
		// lea reg, [rip+rel32]: the patch slot ends the instruction, so the
		// linker's slot-relative displacement yields the target's address.
		rb, _ := rex(Size64, true, &dstReg, nil, nil)
		e.emit(rb, 0x8d, 0x05|dstReg.LowBits()<<3)
		e.registerPatch(ref)
		return nil
	}
	size := dstReg.Size
	if m, ok := in.Dst.(Mem); ok {
		size = m.Size
	}
	e.emit(sizePrefix(size)...)
	if dm, ok := in.Dst.(Mem); ok {
		// mov [mem], reg : opcode 0x89 /r, reg field = src
		rb, need := rex(size, false, &srcReg, dm.Index, dm.Base)
		if need {
			e.emit(rb)
		}
		e.emit(0x89)
		bytes, err := modRM(srcReg.LowBits(), dm)
		if err != nil {
			return err
		}
		e.emit(bytes...)
		return nil
	}
	// mov reg, r/m : opcode 0x8b /r, reg field = dst
	var xIdx, bIdx *Reg
	if sm, ok := in.Src.(Mem); ok {
		xIdx, bIdx = sm.Index, sm.Base
	} else {
		bIdx = &srcReg
	}
	rb, need := rex(size, false, &dstReg, xIdx, bIdx)
	if need {
		e.emit(rb)
	}
	e.emit(0x8b)
	bytes, err := modRM(dstReg.LowBits(), in.Src)
	if err != nil {
		return err
	}
	e.emit(bytes...)
	return nil
}

func (e *Encoder) encodeXchg(in *Instr) error {
	a, aok := regOf(in.Dst)
	b, bok := regOf(in.Src)
	if !aok || !bok {
		return fmt.Errorf("x86asm: xchg requires two registers")
	}
	e.emit(sizePrefix(a.Size)...)
	rb, need := rex(a.Size, false, &a, nil, &b)
	if need {
		e.emit(rb)
	}
	e.emit(0x87)
	bytes, _ := modRM(a.LowBits(), b)
	e.emit(bytes...)
	return nil
}

func (e *Encoder) encodePush(in *Instr) error {
	r, ok := regOf(in.Dst)
	if !ok {
		return fmt.Errorf("x86asm: push requires a register")
	}
	if r.Size == Size32 {
		return fmt.Errorf("x86asm: push of a 32-bit operand is illegal (spec §4.9)")
	}
	if r.Extended() {
		e.emit(0x41)
	}
	e.emit(0x50 | r.LowBits())
	return nil
}

func (e *Encoder) encodePop(in *Instr) error {
	r, ok := regOf(in.Dst)
	if !ok {
		return fmt.Errorf("x86asm: pop requires a register")
	}
	if r.Size == Size32 {
		return fmt.Errorf("x86asm: pop of a 32-bit operand is illegal (spec §4.9)")
	}
	if r.Extended() {
		e.emit(0x41)
	}
	e.emit(0x58 | r.LowBits())
	return nil
}

func (e *Encoder) encodeSetcc(in *Instr) error {
	r, ok := regOf(in.Dst)
	if !ok || r.Size != Size8 {
		return fmt.Errorf("x86asm: setcc requires an 8-bit register destination")
	}
	if rb, need := rex(Size8, false, nil, nil, &r); need {
		e.emit(rb)
	}
	e.emit(0x0f, 0x90|byte(in.Cond))
	bytes, _ := modRM(0, r)
	e.emit(bytes...)
	return nil
}

// group1Opcode maps the arithmetic/logic family to the standard x86
// "group 1" opcode extension field used by the 0x80/0x81/0x83 immediate
// forms and the /r register forms.
func group1Opcode(op Op) (byte, error) {
	switch op {
	case Add:
		return 0, nil
	case Or:
		return 1, nil
	case Adc:
		return 2, nil
	case Sbb:
		return 3, nil
	case And:
		return 4, nil
	case Sub:
		return 5, nil
	case Xor:
		return 6, nil
	case Cmp:
		return 7, nil
	default:
		return 0, fmt.Errorf("x86asm: %d is not an arithmetic/logic op", op)
	}
}

func (e *Encoder) encodeArith(in *Instr) error {
	ext, err := group1Opcode(in.Op)
	if err != nil {
		return err
	}
	dstReg, dstIsReg := regOf(in.Dst)
	size := dstReg.Size
	if m, ok := in.Dst.(Mem); ok {
		size = m.Size
	}
	if imm, ok := in.Src.(Imm); ok {
		e.emit(sizePrefix(size)...)
		var xIdx, bIdx *Reg
		if m, ok := in.Dst.(Mem); ok {
			xIdx, bIdx = m.Index, m.Base
		} else {
			bIdx = &dstReg
		}
		rb, need := rex(size, false, nil, xIdx, bIdx)
		if need {
			e.emit(rb)
		}
		if imm.Size == Size8 && size != Size8 {
			e.emit(0x83)
		} else if size == Size8 {
			e.emit(0x80)
		} else {
			e.emit(0x81)
		}
		bytes, err := modRM(ext, in.Dst)
		if err != nil {
			return err
		}
		e.emit(bytes...)
		e.emit(imm.Bytes()...)
		return nil
	}
	srcReg, _ := regOf(in.Src)
	e.emit(sizePrefix(size)...)
	if !dstIsReg {
		// dst is memory, src is register: opcode+1, reg field = src
		m := in.Dst.(Mem)
		rb, need := rex(size, false, &srcReg, m.Index, m.Base)
		if need {
			e.emit(rb)
		}
		op, _ := group1Opcode(in.Op)
		opcode := op<<3 | 0x01
		if size == Size8 {
			opcode &^= 0x01
		}
		e.emit(opcode)
		bytes, err := modRM(srcReg.LowBits(), in.Dst)
		if err != nil {
			return err
		}
		e.emit(bytes...)
		return nil
	}
	var xIdx, bIdx *Reg
	if m, ok := in.Src.(Mem); ok {
		xIdx, bIdx = m.Index, m.Base
	} else {
		bIdx = &srcReg
	}
	rb, need := rex(size, false, &dstReg, xIdx, bIdx)
	if need {
		e.emit(rb)
	}
	op, _ := group1Opcode(in.Op)
	opcode := op<<3 | 0x03
	if size == Size8 {
		opcode &^= 0x01
	}
	e.emit(opcode)
	bytes, err := modRM(dstReg.LowBits(), in.Src)
	if err != nil {
		return err
	}
	e.emit(bytes...)
	return nil
}

func (e *Encoder) encodeTest(in *Instr) error {
	dstReg, dstIsReg := regOf(in.Dst)
	size := dstReg.Size
	if m, ok := in.Dst.(Mem); ok {
		size = m.Size
	}
	e.emit(sizePrefix(size)...)
	if imm, ok := in.Src.(Imm); ok {
		var bIdx, xIdx *Reg
		if m, ok := in.Dst.(Mem); ok {
			xIdx, bIdx = m.Index, m.Base
		} else {
			bIdx = &dstReg
		}
		rb, need := rex(size, false, nil, xIdx, bIdx)
		if need {
			e.emit(rb)
		}
		if size == Size8 {
			e.emit(0xf6)
		} else {
			e.emit(0xf7)
		}
		bytes, err := modRM(0, in.Dst)
		if err != nil {
			return err
		}
		e.emit(bytes...)
		if size == Size8 {
			e.emit(imm.Bytes()[:1]...)
		} else {
			e.emit(imm.Bytes()...)
		}
		return nil
	}
	srcReg, _ := regOf(in.Src)
	if !dstIsReg {
		return fmt.Errorf("x86asm: test mem,reg not supported by this encoder")
	}
	rb, need := rex(size, false, &srcReg, nil, &dstReg)
	if need {
		e.emit(rb)
	}
	if size == Size8 {
		e.emit(0x84)
	} else {
		e.emit(0x85)
	}
	bytes, _ := modRM(srcReg.LowBits(), dstReg)
	e.emit(bytes...)
	return nil
}

// unaryExt maps Not/Neg/Mul/Imul/Div/Idiv to the group 3 (0xf6/0xf7)
// opcode extension field; two-operand Imul is handled separately.
func unaryExt(op Op) (byte, error) {
	switch op {
	case Not:
		return 2, nil
	case Neg:
		return 3, nil
	case Mul:
		return 4, nil
	case Imul:
		return 5, nil
	case Div:
		return 6, nil
	case Idiv:
		return 7, nil
	default:
		return 0, fmt.Errorf("x86asm: %d is not a group-3 unary op", op)
	}
}

func (e *Encoder) encodeUnaryGroup(in *Instr) error {
	if in.Op == Imul && in.Src != nil {
		return e.encodeImulTwoOrThreeOperand(in)
	}
	r, isReg := regOf(in.Dst)
	size := r.Size
	if m, ok := in.Dst.(Mem); ok {
		size = m.Size
	}
	ext, err := unaryExt(in.Op)
	if err != nil {
		return err
	}
	e.emit(sizePrefix(size)...)
	var xIdx, bIdx *Reg
	if m, ok := in.Dst.(Mem); ok {
		xIdx, bIdx = m.Index, m.Base
	} else if isReg {
		bIdx = &r
	}
	rb, need := rex(size, false, nil, xIdx, bIdx)
	if need {
		e.emit(rb)
	}
	if size == Size8 {
		e.emit(0xf6)
	} else {
		e.emit(0xf7)
	}
	bytes, err := modRM(ext, in.Dst)
	if err != nil {
		return err
	}
	e.emit(bytes...)
	return nil
}

// encodeImulTwoOrThreeOperand encodes the register-destination forms of
// Imul: Dst = Dst * Src (2-operand, 0x0f 0xaf /r) or Dst = Src * Imm
// (3-operand, 0x69 /r id), per spec §4.10's instruction-selection rule.
func (e *Encoder) encodeImulTwoOrThreeOperand(in *Instr) error {
	dstReg, ok := regOf(in.Dst)
	if !ok {
		return fmt.Errorf("x86asm: imul destination must be a register")
	}
	if in.Imm != nil {
		var xIdx, bIdx *Reg
		if m, ok := in.Src.(Mem); ok {
			xIdx, bIdx = m.Index, m.Base
		} else if sr, ok := regOf(in.Src); ok {
			bIdx = &sr
		}
		rb, need := rex(dstReg.Size, false, &dstReg, xIdx, bIdx)
		if need {
			e.emit(rb)
		}
		e.emit(0x69)
		bytes, err := modRM(dstReg.LowBits(), in.Src)
		if err != nil {
			return err
		}
		e.emit(bytes...)
		e.emit(in.Imm.Bytes()...)
		return nil
	}
	var xIdx, bIdx *Reg
	if m, ok := in.Src.(Mem); ok {
		xIdx, bIdx = m.Index, m.Base
	} else if sr, ok := regOf(in.Src); ok {
		bIdx = &sr
	}
	rb, need := rex(dstReg.Size, false, &dstReg, xIdx, bIdx)
	if need {
		e.emit(rb)
	}
	e.emit(0x0f, 0xaf)
	bytes, err := modRM(dstReg.LowBits(), in.Src)
	if err != nil {
		return err
	}
	e.emit(bytes...)
	return nil
}

func (e *Encoder) encodeSignExtendA(in *Instr) error {
	r, _ := regOf(in.Dst)
	switch r.Size {
	case Size16:
		e.emit(0x66, 0x98) // CBW
	case Size32:
		e.emit(0x98) // CWDE
	case Size64:
		e.emit(0x48, 0x98) // CDQE
	default:
		return fmt.Errorf("x86asm: SignExtendRegA has no 8-bit form")
	}
	return nil
}

func (e *Encoder) encodeSignExtendAD(in *Instr) error {
	r, _ := regOf(in.Dst)
	switch r.Size {
	case Size16:
		e.emit(0x66, 0x99) // CWD
	case Size32:
		e.emit(0x99) // CDQ
	case Size64:
		e.emit(0x48, 0x99) // CQO
	default:
		return fmt.Errorf("x86asm: SignExtendRegAD requires a 16/32/64-bit size")
	}
	return nil
}

func (e *Encoder) encodeJcc(in *Instr) error {
	if in.Target == nil {
		return fmt.Errorf("x86asm: jcc requires a target reference")
	}
	e.emit(0x0f, 0x80|byte(in.Cond))
	e.registerPatch(in.Target)
	return nil
}

func (e *Encoder) encodeJmp(in *Instr) error {
	if in.Target == nil {
		return fmt.Errorf("x86asm: jmp requires a target reference")
	}
	e.emit(0xe9)
	e.registerPatch(in.Target)
	return nil
}

func (e *Encoder) encodeCall(in *Instr) error {
	if in.Target != nil {
		e.emit(0xe8)
		e.registerPatch(in.Target)
		return nil
	}
	r, ok := regOf(in.Dst)
	if !ok {
		return fmt.Errorf("x86asm: indirect call requires a register operand")
	}
	rb, need := rex(Size64, false, nil, nil, &r)
	if need {
		e.emit(rb)
	}
	e.emit(0xff)
	bytes, _ := modRM(2, r)
	e.emit(bytes...)
	return nil
}
