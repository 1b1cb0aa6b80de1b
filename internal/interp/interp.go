// Package interp implements the IR's reference semantics: a stack-of-frames
// interpreter stepping one instruction at a time over a sanitizing heap
// (spec §4.7).
package interp

import (
	"fmt"

	"katara/internal/atomics"
	"katara/internal/ir"
)

// Frame is one call's interpreter state: the function/block it is
// executing, the block it came from (for phi resolution), the next
// instruction to execute, and a binding from value number to concrete
// constant (spec §4.7).
type Frame struct {
	Func       *ir.Func
	CurBlock   ir.BlockNum
	PrevBlock  ir.BlockNum
	NextInstr  int
	values     map[ir.ValueNum]ir.Value
}

func newFrame(f *ir.Func) *Frame {
	return &Frame{Func: f, CurBlock: f.EntryBlock, PrevBlock: ir.NoBlock, values: make(map[ir.ValueNum]ir.Value)}
}

func (fr *Frame) bind(n ir.ValueNum, v ir.Value) { fr.values[n] = v }

// Interp is a stack-of-frames IR interpreter over a Program.
type Interp struct {
	Prog *ir.Program
	Heap *Heap

	stack      []*Frame
	Terminated bool
	ExitCode   int64
}

// New creates an interpreter for prog, starting at prog's entry function
// with the given argument values, using a sanitizing heap iff sanitize.
func New(prog *ir.Program, sanitize bool, args []ir.Value) (*Interp, error) {
	if prog.EntryFunc == ir.NoFunc {
		return nil, fmt.Errorf("interp: program has no entry function")
	}
	f, ok := prog.Func(prog.EntryFunc)
	if !ok {
		return nil, fmt.Errorf("interp: entry function %d not found", prog.EntryFunc)
	}
	in := &Interp{Prog: prog, Heap: NewHeap(sanitize)}
	in.pushCall(f, args)
	return in, nil
}

func (in *Interp) pushCall(f *ir.Func, args []ir.Value) {
	fr := newFrame(f)
	for i, p := range f.Params {
		if i < len(args) {
			fr.bind(p.Num, args[i])
		}
	}
	in.stack = append(in.stack, fr)
}

func (in *Interp) top() *Frame { return in.stack[len(in.stack)-1] }

// StackDepth is the number of live frames, used by the debugger's
// StepOver/StepOut semantics (spec §4.8).
func (in *Interp) StackDepth() int { return len(in.stack) }

// Run executes steps until the program terminates or Step returns an error.
func (in *Interp) Run() error {
	for !in.Terminated {
		if err := in.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step executes exactly one instruction in the top frame (spec §4.7).
func (in *Interp) Step() error {
	if in.Terminated {
		return fmt.Errorf("interp: program has already terminated")
	}
	fr := in.top()
	block := fr.Func.MustBlock(fr.CurBlock)
	if fr.NextInstr >= len(block.Instrs) {
		return fmt.Errorf("interp: instruction index out of range in block %d", block.Num)
	}
	instr := block.Instrs[fr.NextInstr]
	fr.NextInstr++
	return in.execute(fr, instr)
}

func (in *Interp) eval(fr *Frame, v ir.Value) ir.Value {
	switch v.Kind {
	case ir.ValConstant:
		return v
	case ir.ValComputed:
		if bound, ok := fr.values[v.Num]; ok {
			return bound
		}
		panic(fmt.Sprintf("interp: value %%%d has no binding in its frame", v.Num))
	case ir.ValInherited:
		return in.eval(fr, *v.Inner)
	default:
		panic("interp: invalid value kind")
	}
}

func (in *Interp) evalInt(fr *Frame, v ir.Value) atomics.Int {
	c := in.eval(fr, v)
	if !c.ConstIsInt {
		panic("interp: expected an int value")
	}
	return c.ConstInt
}

func (in *Interp) evalBool(fr *Frame, v ir.Value) bool {
	c := in.eval(fr, v)
	return c.ConstBool
}

func (in *Interp) evalAddr(fr *Frame, v ir.Value) uint64 {
	c := in.eval(fr, v)
	if c.ConstIsPtr {
		return c.ConstPtr
	}
	if c.ConstIsInt {
		return c.ConstInt.UnsignedValue()
	}
	panic("interp: expected a pointer-like value")
}

func (in *Interp) execute(fr *Frame, instr *ir.Instr) error {
	switch instr.Op {
	case ir.OpMov:
		fr.bind(instr.Defs[0], in.eval(fr, instr.Args[0]))

	case ir.OpPhi:
		for _, a := range instr.PhiArgs {
			if a.Origin.From == fr.PrevBlock {
				fr.bind(instr.Defs[0], in.eval(fr, *a.Origin.Inner))
				return nil
			}
		}
		return fmt.Errorf("interp: phi has no argument for predecessor block %d", fr.PrevBlock)

	case ir.OpConversion:
		fr.bind(instr.Defs[0], in.convert(fr, instr.Args[0], instr.DefTypes[0]))

	case ir.OpBoolNot:
		fr.bind(instr.Defs[0], ir.BoolConst(!in.evalBool(fr, instr.Args[0])))

	case ir.OpBoolBinary:
		a, b := in.evalBool(fr, instr.Args[0]), in.evalBool(fr, instr.Args[1])
		fr.bind(instr.Defs[0], ir.BoolConst(atomics.BoolBinary(instr.BoolBinaryOp, a, b)))

	case ir.OpIntUnary:
		a := in.evalInt(fr, instr.Args[0])
		fr.bind(instr.Defs[0], ir.IntConst(a.Unary(instr.IntUnaryOp)))

	case ir.OpIntCompare:
		a, b := in.evalInt(fr, instr.Args[0]), in.evalInt(fr, instr.Args[1])
		fr.bind(instr.Defs[0], ir.BoolConst(a.Compare(instr.IntCompareOp, b)))

	case ir.OpIntBinary:
		a, b := in.evalInt(fr, instr.Args[0]), in.evalInt(fr, instr.Args[1])
		r, err := a.Binary(instr.IntBinaryOp, b)
		if err != nil {
			return err
		}
		fr.bind(instr.Defs[0], ir.IntConst(r))

	case ir.OpIntShift:
		a, count := in.evalInt(fr, instr.Args[0]), in.evalInt(fr, instr.Args[1])
		r, err := a.Shift(instr.IntShiftOp, count)
		if err != nil {
			return err
		}
		fr.bind(instr.Defs[0], ir.IntConst(r))

	case ir.OpPointerOffset:
		base := in.evalAddr(fr, instr.Args[0])
		off := in.evalInt(fr, instr.Args[1])
		fr.bind(instr.Defs[0], ir.PointerConst(uint64(int64(base)+off.SignedValue())))

	case ir.OpNilTest:
		v := in.eval(fr, instr.Args[0])
		fr.bind(instr.Defs[0], ir.BoolConst(isNil(v)))

	case ir.OpMalloc:
		size := in.evalInt(fr, instr.Args[0]).UnsignedValue()
		addr, err := in.Heap.Malloc(size)
		if err != nil {
			return err
		}
		fr.bind(instr.Defs[0], ir.PointerConst(addr))

	case ir.OpFree:
		return in.Heap.Free(in.evalAddr(fr, instr.Args[0]))

	case ir.OpLoad:
		addr := in.evalAddr(fr, instr.Args[0])
		t := instr.DefTypes[0]
		size := typeByteSize(t)
		raw, err := in.Heap.Load(addr, size)
		if err != nil {
			return err
		}
		fr.bind(instr.Defs[0], valueFromRaw(t, raw))

	case ir.OpStore:
		addr := in.evalAddr(fr, instr.Args[0])
		val := in.eval(fr, instr.Args[1])
		size := typeByteSize(val.Type())
		return in.Heap.Store(addr, size, rawFromValue(val))

	case ir.OpJump:
		fr.PrevBlock, fr.CurBlock, fr.NextInstr = fr.CurBlock, instr.Dests[0], 0

	case ir.OpJumpCond:
		cond := in.evalBool(fr, instr.Args[0])
		dest := instr.Dests[1]
		if cond {
			dest = instr.Dests[0]
		}
		fr.PrevBlock, fr.CurBlock, fr.NextInstr = fr.CurBlock, dest, 0

	case ir.OpCall:
		return in.call(fr, instr)

	case ir.OpReturn:
		return in.doReturn(fr, instr)

	default:
		return fmt.Errorf("interp: opcode %s has no interpreter semantics (extension instruction)", instr.Op)
	}
	return nil
}

func (in *Interp) call(fr *Frame, instr *ir.Instr) error {
	callee := in.eval(fr, instr.CallCallee())
	if !callee.ConstIsFunc {
		return fmt.Errorf("interp: call to a non-function value")
	}
	target, ok := in.Prog.Func(callee.ConstFunc)
	if !ok {
		return fmt.Errorf("interp: call to unknown function %d", callee.ConstFunc)
	}
	var args []ir.Value
	for _, a := range instr.CallArgs() {
		args = append(args, in.eval(fr, a))
	}
	in.pushCall(target, args)
	return nil
}

func (in *Interp) doReturn(fr *Frame, instr *ir.Instr) error {
	var vals []ir.Value
	for _, a := range instr.Args {
		vals = append(vals, in.eval(fr, a))
	}
	in.stack = in.stack[:len(in.stack)-1]
	if len(in.stack) == 0 {
		in.Terminated = true
		if len(vals) > 0 && vals[0].ConstIsInt {
			in.ExitCode = vals[0].ConstInt.SignedValue()
		}
		return nil
	}
	caller := in.top()
	callInstr := caller.Func.MustBlock(caller.CurBlock).Instrs[caller.NextInstr-1]
	for i, d := range callInstr.Defs {
		if i < len(vals) {
			caller.bind(d, vals[i])
		}
	}
	return nil
}

func isNil(v ir.Value) bool {
	switch {
	case v.ConstIsPtr:
		return v.ConstPtr == 0
	case v.ConstIsFunc:
		return false
	default:
		return true
	}
}

func (in *Interp) convert(fr *Frame, v ir.Value, target *ir.Type) ir.Value {
	c := in.eval(fr, v)
	switch target.Kind {
	case ir.Bool:
		return ir.BoolConst(boolOf(c))
	case ir.Int:
		return ir.IntConst(intOf(c, target))
	case ir.Pointer:
		return ir.PointerConst(addrOf(c))
	case ir.Func:
		return c // func-to-func conversion is an identity at the value level
	default:
		panic("interp: conversion to unknown type kind")
	}
}

func boolOf(c ir.Value) bool {
	switch {
	case c.ConstIsInt:
		return c.ConstInt.UnsignedValue() != 0
	case c.ConstIsPtr:
		return c.ConstPtr != 0
	case c.ConstIsFunc:
		return true
	default:
		return c.ConstBool
	}
}

func intOf(c ir.Value, target *ir.Type) atomics.Int {
	switch {
	case c.ConstIsInt:
		// The Conversion opcode truncates/extends unconditionally (spec §3
		// allows it between any pair of int atomics); ConvertTo's error only
		// flags lossiness for CanConvertTo callers and is not a failure here
		// — it still returns the correctly truncated value alongside it.
		r, _ := c.ConstInt.ConvertTo(atomics.Width(target.IntBits), target.IntSigned)
		return r
	case c.ConstIsPtr:
		return atomics.NewUint(atomics.Width(target.IntBits), target.IntSigned, c.ConstPtr)
	default:
		if c.ConstBool {
			return atomics.NewUint(atomics.Width(target.IntBits), target.IntSigned, 1)
		}
		return atomics.NewUint(atomics.Width(target.IntBits), target.IntSigned, 0)
	}
}

func addrOf(c ir.Value) uint64 {
	switch {
	case c.ConstIsPtr:
		return c.ConstPtr
	case c.ConstIsInt:
		return c.ConstInt.UnsignedValue()
	case c.ConstBool:
		if c.ConstBool {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func typeByteSize(t *ir.Type) uint64 {
	switch t.Kind {
	case ir.Bool:
		return 1
	case ir.Int:
		return uint64(t.IntBits) / 8
	case ir.Pointer, ir.Func:
		return 8
	default:
		return 8
	}
}

func valueFromRaw(t *ir.Type, raw uint64) ir.Value {
	switch t.Kind {
	case ir.Bool:
		return ir.BoolConst(raw != 0)
	case ir.Int:
		return ir.IntConst(atomics.NewUint(atomics.Width(t.IntBits), t.IntSigned, raw))
	case ir.Pointer:
		return ir.PointerConst(raw)
	default:
		return ir.PointerConst(raw)
	}
}

func rawFromValue(v ir.Value) uint64 {
	switch {
	case v.ConstIsInt:
		return v.ConstInt.UnsignedValue()
	case v.ConstIsPtr:
		return v.ConstPtr
	case v.ConstIsFunc:
		return uint64(v.ConstFunc)
	default:
		if v.ConstBool {
			return 1
		}
		return 0
	}
}
