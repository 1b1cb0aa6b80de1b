package ir

import "katara/internal/atomics"

// Op tags an Instruction's opcode. Core opcodes are the ones spec §3
// defines; extension opcodes (spec §6) are reserved for the source
// language's runtime and are treated opaquely by the core (their operand
// shape is the Ext payload, not the typed fields below).
type Op int

const (
	OpMov Op = iota
	OpPhi
	OpConversion
	OpBoolNot
	OpBoolBinary
	OpIntUnary
	OpIntCompare
	OpIntBinary
	OpIntShift
	OpPointerOffset
	OpNilTest
	OpMalloc
	OpFree
	OpLoad
	OpStore
	OpJump
	OpJumpCond
	OpCall
	OpReturn

	// Extension instructions (spec §6). The core verifies only that
	// these carry a well-formed Ext payload; opcode-specific checks are
	// the language-specific checker's job.
	OpMakeSharedPointer
	OpCopySharedPointer
	OpDeleteSharedPointer
	OpMakeUniquePointer
	OpDeleteUniquePointer
	OpStringIndex
	OpStringConcat
	OpPanic
)

func (o Op) IsTerminator() bool {
	switch o {
	case OpJump, OpJumpCond, OpReturn:
		return true
	default:
		return false
	}
}

func (o Op) IsExtension() bool {
	return o >= OpMakeSharedPointer
}

func (o Op) String() string {
	names := [...]string{
		"mov", "phi", "conv", "bnot", "bbin", "iunary", "icmp", "ibin", "ishift",
		"ptroff", "niltest", "malloc", "free", "load", "store",
		"jump", "jumpcond", "call", "return",
		"mkshared", "cpshared", "delshared", "mkunique", "delunique",
		"strindex", "strconcat", "panic",
	}
	if int(o) >= 0 && int(o) < len(names) {
		return names[o]
	}
	return "?"
}

// PhiArg is one (origin value, origin block) entry of a Phi instruction,
// exactly one per predecessor (spec §3).
type PhiArg struct {
	Origin Value // always ValInherited, wrapping the flowing value
}

// SourceRange is a half-open span of source positions; used by diagnostics
// to point at the token span responsible for an issue (spec §4.3/§4.4).
type SourceRange struct {
	File                     string
	StartLine, StartColumn   int
	EndLine, EndColumn       int
}

// ExtInstr is the opaque payload for extension instructions (spec §6); the
// core threads it through unexamined except for Defs/Uses bookkeeping that
// the extension author supplies.
type ExtInstr struct {
	Name    string
	Defs    []ValueNum
	DefType []*Type
	Uses    []Value
	Data    any
}

// Instr is a single IR instruction: a tagged union over Op with per-variant
// payload fields, in the spirit of an SSA-style compiler's Value node
// (Op + Args) rather than a class hierarchy (spec §9 design note).
type Instr struct {
	Op    Op
	Range SourceRange

	// Defined values, parallel to DefTypes. Most opcodes define 0 or 1;
	// Call may define several (one per result).
	Defs     []ValueNum
	DefTypes []*Type

	// Used operands; meaning is opcode-specific (see accessors below).
	Args []Value

	// Phi only: one entry per predecessor, Args[i] is unused, PhiArgs[i]
	// is the corresponding (value, predecessor) pair.
	PhiArgs []PhiArg

	// Jump/JumpCond only.
	Dests []BlockNum

	// Operator selectors, opcode-specific.
	BoolBinaryOp atomics.BoolBinaryOp
	IntUnaryOp   atomics.UnaryOp
	IntBinaryOp  atomics.BinaryOp
	IntShiftOp   atomics.ShiftOp
	IntCompareOp atomics.CompareOp

	// Extension payload; non-nil iff Op.IsExtension().
	Ext *ExtInstr
}

// Result returns the instruction's sole defined value, panicking if it
// does not define exactly one (a programming error in the caller, not a
// user-facing condition).
func (i *Instr) Result() ValueNum {
	if len(i.Defs) != 1 {
		panic("ir: Result() called on instruction without exactly one def")
	}
	return i.Defs[0]
}

// UsedValues returns every Computed/Constant value this instruction reads,
// excluding phi arguments (phi uses are accounted for at the predecessor's
// exit per spec §4.5, not locally).
func (i *Instr) UsedValues() []Value {
	if i.Op == OpPhi {
		return nil
	}
	if i.Op.IsExtension() && i.Ext != nil {
		return i.Ext.Uses
	}
	return i.Args
}

// Constructors. Each mirrors one bullet of spec §3.

func NewMov(result ValueNum, t *Type, origin Value, r SourceRange) *Instr {
	return &Instr{Op: OpMov, Range: r, Defs: []ValueNum{result}, DefTypes: []*Type{t}, Args: []Value{origin}}
}

func NewPhi(result ValueNum, t *Type, args []PhiArg, r SourceRange) *Instr {
	return &Instr{Op: OpPhi, Range: r, Defs: []ValueNum{result}, DefTypes: []*Type{t}, PhiArgs: args}
}

func NewConversion(result ValueNum, t *Type, operand Value, r SourceRange) *Instr {
	return &Instr{Op: OpConversion, Range: r, Defs: []ValueNum{result}, DefTypes: []*Type{t}, Args: []Value{operand}}
}

func NewBoolNot(result ValueNum, operand Value, r SourceRange) *Instr {
	return &Instr{Op: OpBoolNot, Range: r, Defs: []ValueNum{result}, DefTypes: []*Type{BoolType}, Args: []Value{operand}}
}

func NewBoolBinary(result ValueNum, op atomics.BoolBinaryOp, a, b Value, r SourceRange) *Instr {
	return &Instr{Op: OpBoolBinary, Range: r, Defs: []ValueNum{result}, DefTypes: []*Type{BoolType}, Args: []Value{a, b}, BoolBinaryOp: op}
}

func NewIntUnary(result ValueNum, t *Type, op atomics.UnaryOp, operand Value, r SourceRange) *Instr {
	return &Instr{Op: OpIntUnary, Range: r, Defs: []ValueNum{result}, DefTypes: []*Type{t}, Args: []Value{operand}, IntUnaryOp: op}
}

func NewIntCompare(result ValueNum, op atomics.CompareOp, a, b Value, r SourceRange) *Instr {
	return &Instr{Op: OpIntCompare, Range: r, Defs: []ValueNum{result}, DefTypes: []*Type{BoolType}, Args: []Value{a, b}, IntCompareOp: op}
}

func NewIntBinary(result ValueNum, t *Type, op atomics.BinaryOp, a, b Value, r SourceRange) *Instr {
	return &Instr{Op: OpIntBinary, Range: r, Defs: []ValueNum{result}, DefTypes: []*Type{t}, Args: []Value{a, b}, IntBinaryOp: op}
}

func NewIntShift(result ValueNum, t *Type, op atomics.ShiftOp, operand, count Value, r SourceRange) *Instr {
	return &Instr{Op: OpIntShift, Range: r, Defs: []ValueNum{result}, DefTypes: []*Type{t}, Args: []Value{operand, count}, IntShiftOp: op}
}

func NewPointerOffset(result ValueNum, pointer Value, offset Value, r SourceRange) *Instr {
	return &Instr{Op: OpPointerOffset, Range: r, Defs: []ValueNum{result}, DefTypes: []*Type{PointerType}, Args: []Value{pointer, offset}}
}

func NewNilTest(result ValueNum, tested Value, r SourceRange) *Instr {
	return &Instr{Op: OpNilTest, Range: r, Defs: []ValueNum{result}, DefTypes: []*Type{BoolType}, Args: []Value{tested}}
}

func NewMalloc(result ValueNum, size Value, r SourceRange) *Instr {
	return &Instr{Op: OpMalloc, Range: r, Defs: []ValueNum{result}, DefTypes: []*Type{PointerType}, Args: []Value{size}}
}

func NewFree(pointer Value, r SourceRange) *Instr {
	return &Instr{Op: OpFree, Range: r, Args: []Value{pointer}}
}

func NewLoad(result ValueNum, t *Type, address Value, r SourceRange) *Instr {
	return &Instr{Op: OpLoad, Range: r, Defs: []ValueNum{result}, DefTypes: []*Type{t}, Args: []Value{address}}
}

func NewStore(address, value Value, r SourceRange) *Instr {
	return &Instr{Op: OpStore, Range: r, Args: []Value{address, value}}
}

func NewJump(dest BlockNum, r SourceRange) *Instr {
	return &Instr{Op: OpJump, Range: r, Dests: []BlockNum{dest}}
}

func NewJumpCond(cond Value, destTrue, destFalse BlockNum, r SourceRange) *Instr {
	return &Instr{Op: OpJumpCond, Range: r, Args: []Value{cond}, Dests: []BlockNum{destTrue, destFalse}}
}

func NewCall(results []ValueNum, resultTypes []*Type, callee Value, args []Value, r SourceRange) *Instr {
	all := append([]Value{callee}, args...)
	return &Instr{Op: OpCall, Range: r, Defs: results, DefTypes: resultTypes, Args: all}
}

// CallCallee and CallArgs split Call's Args (callee followed by arguments).
func (i *Instr) CallCallee() Value  { return i.Args[0] }
func (i *Instr) CallArgs() []Value  { return i.Args[1:] }

func NewReturn(args []Value, r SourceRange) *Instr {
	return &Instr{Op: OpReturn, Range: r, Args: args}
}
