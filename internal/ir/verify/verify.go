package verify

import (
	"fmt"

	"katara/internal/ir"
)

// Verify walks prog once and returns every issue found (spec §4.4). It
// never panics on user-malformed input and never stops at the first issue.
func Verify(prog *ir.Program) []*Issue {
	var issues []*Issue
	for _, f := range prog.Funcs() {
		issues = append(issues, verifyFunc(prog, f)...)
	}
	return issues
}

type defInfo struct {
	isParam bool
	block   ir.BlockNum
	index   int
	typ     *ir.Type
}

func verifyFunc(prog *ir.Program, f *ir.Func) []*Issue {
	var issues []*Issue
	defs := make(map[ir.ValueNum]defInfo)

	register := func(n ir.ValueNum, info defInfo) {
		if prior, exists := defs[n]; exists {
			if prior.isParam && !info.isParam {
				issues = append(issues, newIssue(ValueIsParamAndResult, ScopeFunction, f.Num, info.block,
					fmt.Sprintf("value %%%d is both a parameter and an instruction result", n)))
				return
			}
			issues = append(issues, newIssue(ValueDefinedTwice, ScopeFunction, f.Num, info.block,
				fmt.Sprintf("value %%%d is defined more than once", n)))
			return
		}
		defs[n] = info
	}

	for _, p := range f.Params {
		register(p.Num, defInfo{isParam: true, typ: p.Typ})
	}
	for _, b := range f.Blocks() {
		for idx, in := range b.Instrs {
			for i, d := range in.Defs {
				t := (*ir.Type)(nil)
				if i < len(in.DefTypes) {
					t = in.DefTypes[i]
				}
				register(d, defInfo{block: b.Num, index: idx, typ: t})
			}
		}
	}

	issues = append(issues, verifyCFG(f)...)
	issues = append(issues, verifyUses(f, defs)...)
	issues = append(issues, verifyTyping(prog, f, defs)...)
	return issues
}

// verifyCFG implements spec §4.4 step 3.
func verifyCFG(f *ir.Func) []*Issue {
	var issues []*Issue
	for _, b := range f.Blocks() {
		if b.Num == f.EntryBlock {
			if len(b.Parents) != 0 {
				issues = append(issues, newIssue(EntryBlockHasParents, ScopeBlock, f.Num, b.Num,
					"the entry block must have no parents"))
			}
		} else if len(b.Parents) == 0 {
			issues = append(issues, newIssue(NonEntryBlockHasNoParents, ScopeBlock, f.Num, b.Num,
				"non-entry blocks must have at least one parent"))
		}

		if len(b.Instrs) == 0 {
			issues = append(issues, newIssue(BlockIsEmpty, ScopeBlock, f.Num, b.Num, "block has no instructions"))
			continue
		}

		last := b.Instrs[len(b.Instrs)-1]
		if !last.Op.IsTerminator() {
			issues = append(issues, newIssue(LastInstructionNotTerminator, ScopeInstruction, f.Num, b.Num,
				"block's last instruction is not a terminator", last.Range))
		}
		for _, in := range b.Instrs[:len(b.Instrs)-1] {
			if in.Op.IsTerminator() {
				issues = append(issues, newIssue(TerminatorNotLast, ScopeInstruction, f.Num, b.Num,
					"terminator instruction is not the last instruction in its block", in.Range))
			}
		}

		phis := b.Phis()
		for _, in := range b.Instrs[len(phis):] {
			if in.Op == ir.OpPhi {
				issues = append(issues, newIssue(PhiMisplaced, ScopeInstruction, f.Num, b.Num,
					"phi instruction does not precede all non-phi instructions", in.Range))
			}
		}
		if len(phis) > 0 && len(b.Parents) < 2 {
			for _, in := range phis {
				issues = append(issues, newIssue(PhiMisplaced, ScopeInstruction, f.Num, b.Num,
					"phi instruction in a block with fewer than two parents", in.Range))
			}
		}
		for _, in := range phis {
			if len(in.PhiArgs) != len(b.Parents) {
				issues = append(issues, newIssue(PhiArgumentCountMismatch, ScopeInstruction, f.Num, b.Num,
					fmt.Sprintf("phi has %d arguments but block has %d parents", len(in.PhiArgs), len(b.Parents)), in.Range))
				continue
			}
			seen := make(map[ir.BlockNum]bool)
			for _, a := range in.PhiArgs {
				seen[a.Origin.From] = true
			}
			for _, p := range b.Parents {
				if !seen[p] {
					issues = append(issues, newIssue(PhiArgumentCountMismatch, ScopeInstruction, f.Num, b.Num,
						fmt.Sprintf("phi has no argument for parent block %d", p), in.Range))
				}
			}
		}

		if last.Op.IsTerminator() {
			want := make(map[ir.BlockNum]bool)
			for _, d := range last.Dests {
				want[d] = true
			}
			got := make(map[ir.BlockNum]bool)
			for _, c := range b.Children {
				got[c] = true
			}
			if len(want) != len(got) {
				issues = append(issues, newIssue(TerminatorDestinationMismatch, ScopeInstruction, f.Num, b.Num,
					"terminator destinations do not equal the block's successor set", last.Range))
			} else {
				for d := range want {
					if !got[d] {
						issues = append(issues, newIssue(TerminatorDestinationMismatch, ScopeInstruction, f.Num, b.Num,
							fmt.Sprintf("terminator destination %d is not a recorded successor", d), last.Range))
					}
				}
			}
		}
	}
	return issues
}

// verifyUses implements spec §4.4 step 2.
func verifyUses(f *ir.Func, defs map[ir.ValueNum]defInfo) []*Issue {
	var issues []*Issue

	checkComputed := func(v ir.Value, useBlock ir.BlockNum, useIdx int, rng ir.SourceRange, checkAt ir.BlockNum, atEnd bool) {
		if v.Kind != ir.ValComputed {
			return
		}
		info, ok := defs[v.Num]
		if !ok {
			issues = append(issues, newIssue(UseOfUnregisteredValue, ScopeInstruction, f.Num, useBlock,
				fmt.Sprintf("use of unregistered value %%%d", v.Num), rng))
			return
		}
		if info.isParam {
			return // parameters dominate the whole function
		}
		dominates := f.Dominates(info.block, checkAt)
		if info.block == checkAt && !atEnd {
			dominates = info.index < useIdx
		}
		if !dominates {
			issues = append(issues, newIssue(UseNotDominatedByDefinition, ScopeInstruction, f.Num, useBlock,
				fmt.Sprintf("use of value %%%d is not dominated by its definition", v.Num), rng))
		}
	}

	for _, b := range f.Blocks() {
		for idx, in := range b.Instrs {
			if in.Op == ir.OpPhi {
				for _, a := range in.PhiArgs {
					if a.Origin.Kind != ir.ValInherited {
						issues = append(issues, newIssue(InheritedValueOutsidePhi, ScopeInstruction, f.Num, b.Num,
							"phi argument must be an inherited value", in.Range))
						continue
					}
					checkComputed(*a.Origin.Inner, b.Num, idx, in.Range, a.Origin.From, true)
				}
				continue
			}
			for _, v := range in.Args {
				if v.Kind == ir.ValInherited {
					issues = append(issues, newIssue(InheritedValueOutsidePhi, ScopeInstruction, f.Num, b.Num,
						"inherited value used outside a phi instruction", in.Range))
					continue
				}
				checkComputed(v, b.Num, idx, in.Range, b.Num, false)
			}
		}
	}
	return issues
}

// verifyTyping implements spec §4.4 step 4, abbreviated to the checks that
// distinguish well-typed from ill-typed instructions; an opcode without a
// case in the switch below is not type-checked.
func verifyTyping(prog *ir.Program, f *ir.Func, defs map[ir.ValueNum]defInfo) []*Issue {
	var issues []*Issue
	typeOf := func(v ir.Value) *ir.Type {
		if v.Kind == ir.ValInherited {
			v = *v.Inner
		}
		return v.Type()
	}
	mismatch := func(b ir.BlockNum, in *ir.Instr, msg string) {
		issues = append(issues, newIssue(OperandTypeMismatch, ScopeInstruction, f.Num, b, msg, in.Range))
	}

	for _, b := range f.Blocks() {
		for _, in := range b.Instrs {
			// An operand with no type (a use of a value without a
			// definition, which verifyUses reports) leaves nothing to check.
			untyped := false
			for _, a := range in.Args {
				if typeOf(a) == nil {
					untyped = true
				}
			}
			if untyped {
				continue
			}
			switch in.Op {
			case ir.OpMov:
				if !typesEqual(typeOf(in.Args[0]), in.DefTypes[0]) {
					mismatch(b.Num, in, "mov: origin and result types must match")
				}
			case ir.OpPhi:
				for _, a := range in.PhiArgs {
					if !typesEqual(typeOf(a.Origin), in.DefTypes[0]) {
						mismatch(b.Num, in, "phi: all origins must share the result's type")
					}
				}
			case ir.OpBoolNot:
				if typeOf(in.Args[0]).Kind != ir.Bool {
					mismatch(b.Num, in, "bnot: operand must be bool")
				}
			case ir.OpBoolBinary:
				if typeOf(in.Args[0]).Kind != ir.Bool || typeOf(in.Args[1]).Kind != ir.Bool {
					mismatch(b.Num, in, "bbin: both operands must be bool")
				}
			case ir.OpIntUnary:
				if typeOf(in.Args[0]).Kind != ir.Int {
					mismatch(b.Num, in, "iunary: operand must be int")
				}
			case ir.OpIntCompare, ir.OpIntBinary, ir.OpIntShift:
				ta, tb := typeOf(in.Args[0]), typeOf(in.Args[1])
				if ta.Kind != ir.Int || tb.Kind != ir.Int {
					mismatch(b.Num, in, "int operator requires int operands")
				} else if in.Op != ir.OpIntShift && !typesEqual(ta, tb) {
					mismatch(b.Num, in, "int operator requires operands of identical type")
				}
			case ir.OpPointerOffset:
				if typeOf(in.Args[0]).Kind != ir.Pointer {
					mismatch(b.Num, in, "ptroff: first operand must be a pointer")
				}
				if typeOf(in.Args[1]).Kind != ir.Int {
					mismatch(b.Num, in, "ptroff: offset must be an int")
				}
			case ir.OpNilTest:
				k := typeOf(in.Args[0]).Kind
				if k != ir.Pointer && k != ir.Func {
					mismatch(b.Num, in, "niltest: operand must be a pointer or func value")
				}
			case ir.OpMalloc:
				if typeOf(in.Args[0]).Kind != ir.Int {
					mismatch(b.Num, in, "malloc: size must be an int")
				}
			case ir.OpFree:
				if typeOf(in.Args[0]).Kind != ir.Pointer {
					mismatch(b.Num, in, "free: operand must be a pointer")
				}
			case ir.OpLoad:
				if typeOf(in.Args[0]).Kind != ir.Pointer {
					mismatch(b.Num, in, "load: address must be a pointer")
				}
			case ir.OpStore:
				if typeOf(in.Args[0]).Kind != ir.Pointer {
					mismatch(b.Num, in, "store: address must be a pointer")
				}
			case ir.OpJumpCond:
				if typeOf(in.Args[0]).Kind != ir.Bool {
					mismatch(b.Num, in, "jumpcond: condition must be bool")
				}
			case ir.OpCall:
				verifyCall(prog, in, mismatch, b.Num)
			case ir.OpReturn:
				if len(in.Args) != len(f.ResultTypes) {
					mismatch(b.Num, in, fmt.Sprintf("return has %d arguments, function declares %d results", len(in.Args), len(f.ResultTypes)))
					break
				}
				for i, a := range in.Args {
					if !typesEqual(typeOf(a), f.ResultTypes[i]) {
						mismatch(b.Num, in, fmt.Sprintf("return argument %d type mismatch", i))
					}
				}
			}
		}
	}
	return issues
}

func verifyCall(prog *ir.Program, in *ir.Instr, mismatch func(ir.BlockNum, *ir.Instr, string), b ir.BlockNum) {
	callee := in.CallCallee()
	calleeType := callee.Type()
	if calleeType == nil || calleeType.Kind != ir.Func {
		mismatch(b, in, "call: callee must have func type")
		return
	}

	// A direct call's signature lives on the referenced Func, not on the
	// FuncConst's Type() (which carries no signature); an indirect call's
	// signature is whatever a Computed func-typed value's Type() carries.
	var params, results []*ir.Type
	switch {
	case callee.Kind == ir.ValConstant && callee.ConstIsFunc:
		target, ok := prog.Func(callee.ConstFunc)
		if !ok {
			mismatch(b, in, "call: callee references an unknown function")
			return
		}
		for _, p := range target.Params {
			params = append(params, p.Typ)
		}
		results = target.ResultTypes
	case calleeType.FuncParams != nil || calleeType.FuncResults != nil:
		params, results = calleeType.FuncParams, calleeType.FuncResults
	default:
		return // signature unknown (opaque func-typed computed value)
	}

	args := in.CallArgs()
	if len(args) != len(params) {
		mismatch(b, in, fmt.Sprintf("call: %d arguments passed, callee expects %d", len(args), len(params)))
	} else {
		for i, a := range args {
			if !typesEqual(a.Type(), params[i]) {
				mismatch(b, in, fmt.Sprintf("call: argument %d type mismatch", i))
			}
		}
	}
	if len(in.Defs) != len(results) {
		mismatch(b, in, fmt.Sprintf("call: %d results bound, callee returns %d", len(in.Defs), len(results)))
	} else {
		for i, t := range in.DefTypes {
			if !typesEqual(t, results[i]) {
				mismatch(b, in, fmt.Sprintf("call: result %d type mismatch", i))
			}
		}
	}
}

func typesEqual(a, b *ir.Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(b)
}
