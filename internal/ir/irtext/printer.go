package irtext

import (
	"fmt"
	"strings"

	"katara/internal/atomics"
	"katara/internal/ir"
)

// Print renders prog in the textual format Parser accepts, such that
// ParseProgram(Print(prog)) is structurally equal to prog (spec §6, §8).
// Call result types are not printed; ParseProgram restores them only for
// calls whose callee is a function constant, so a call through a computed
// callee comes back with nil result types.
func Print(prog *ir.Program) string {
	var sb strings.Builder
	for _, f := range prog.Funcs() {
		printFunc(&sb, f)
	}
	return sb.String()
}

func printFunc(sb *strings.Builder, f *ir.Func) {
	fmt.Fprintf(sb, "func @%d(", f.Num)
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(typeString(p.Typ))
	}
	sb.WriteString(")(")
	for i, t := range f.ResultTypes {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(typeString(t))
	}
	sb.WriteString(") {\n")
	fmt.Fprintf(sb, "entry %d\n", f.EntryBlock)
	for _, b := range f.BlocksByNumber() {
		printBlock(sb, b)
	}
	sb.WriteString("}\n")
}

func printBlock(sb *strings.Builder, b *ir.Block) {
	fmt.Fprintf(sb, "block %d {\n", b.Num)
	for _, in := range b.Instrs {
		printInstr(sb, in)
	}
	sb.WriteString("}\n")
}

func printResults(sb *strings.Builder, defs []ir.ValueNum) {
	if len(defs) == 0 {
		return
	}
	for i, d := range defs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%%%d", d)
	}
	sb.WriteString(" = ")
}

func printInstr(sb *strings.Builder, in *ir.Instr) {
	printResults(sb, in.Defs)
	switch in.Op {
	case ir.OpMov:
		fmt.Fprintf(sb, "mov %s %s\n", typeString(in.DefTypes[0]), valueString(in.Args[0]))
	case ir.OpPhi:
		fmt.Fprintf(sb, "phi %s <", typeString(in.DefTypes[0]))
		for i, a := range in.PhiArgs {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%s : %d", valueString(*a.Origin.Inner), a.Origin.From)
		}
		sb.WriteString(">\n")
	case ir.OpConversion:
		fmt.Fprintf(sb, "conv %s %s\n", typeString(in.DefTypes[0]), valueString(in.Args[0]))
	case ir.OpBoolNot:
		fmt.Fprintf(sb, "bnot %s\n", valueString(in.Args[0]))
	case ir.OpBoolBinary:
		fmt.Fprintf(sb, "bbin %s %s, %s\n", boolBinaryOpString(in.BoolBinaryOp), valueString(in.Args[0]), valueString(in.Args[1]))
	case ir.OpIntUnary:
		fmt.Fprintf(sb, "iunary %s %s %s\n", unaryOpString(in.IntUnaryOp), typeString(in.DefTypes[0]), valueString(in.Args[0]))
	case ir.OpIntCompare:
		fmt.Fprintf(sb, "icmp %s %s, %s\n", in.IntCompareOp.String(), valueString(in.Args[0]), valueString(in.Args[1]))
	case ir.OpIntBinary:
		fmt.Fprintf(sb, "ibin %s %s %s, %s\n", binaryOpString(in.IntBinaryOp), typeString(in.DefTypes[0]), valueString(in.Args[0]), valueString(in.Args[1]))
	case ir.OpIntShift:
		fmt.Fprintf(sb, "ishift %s %s %s, %s\n", shiftOpString(in.IntShiftOp), typeString(in.DefTypes[0]), valueString(in.Args[0]), valueString(in.Args[1]))
	case ir.OpPointerOffset:
		fmt.Fprintf(sb, "ptroff %s, %s\n", valueString(in.Args[0]), valueString(in.Args[1]))
	case ir.OpNilTest:
		fmt.Fprintf(sb, "niltest %s\n", valueString(in.Args[0]))
	case ir.OpMalloc:
		fmt.Fprintf(sb, "malloc %s\n", valueString(in.Args[0]))
	case ir.OpFree:
		fmt.Fprintf(sb, "free %s\n", valueString(in.Args[0]))
	case ir.OpLoad:
		fmt.Fprintf(sb, "load %s %s\n", typeString(in.DefTypes[0]), valueString(in.Args[0]))
	case ir.OpStore:
		fmt.Fprintf(sb, "store %s, %s\n", valueString(in.Args[0]), valueString(in.Args[1]))
	case ir.OpJump:
		fmt.Fprintf(sb, "jump %d\n", in.Dests[0])
	case ir.OpJumpCond:
		fmt.Fprintf(sb, "jumpcond %s, %d, %d\n", valueString(in.Args[0]), in.Dests[0], in.Dests[1])
	case ir.OpCall:
		sb.WriteString("call ")
		sb.WriteString(valueString(in.CallCallee()))
		sb.WriteString("(")
		for i, a := range in.CallArgs() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(valueString(a))
		}
		sb.WriteString(")\n")
	case ir.OpReturn:
		sb.WriteString("return ")
		for i, a := range in.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(valueString(a))
		}
		sb.WriteString("\n")
	default:
		fmt.Fprintf(sb, "%s <extension>\n", in.Op)
	}
}

func typeString(t *ir.Type) string {
	if t == nil {
		return "bool"
	}
	switch t.Kind {
	case ir.Bool:
		return "bool"
	case ir.Pointer:
		return "ptr"
	case ir.Int:
		if t.IntSigned {
			return fmt.Sprintf("i%d", t.IntBits)
		}
		return fmt.Sprintf("u%d", t.IntBits)
	case ir.Func:
		s := "func("
		for i, p := range t.FuncParams {
			if i > 0 {
				s += ", "
			}
			s += typeString(p)
		}
		s += ")("
		for i, r := range t.FuncResults {
			if i > 0 {
				s += ", "
			}
			s += typeString(r)
		}
		s += ")"
		return s
	default:
		return "bool"
	}
}

func valueString(v ir.Value) string {
	switch v.Kind {
	case ir.ValComputed:
		return fmt.Sprintf("%%%d", v.Num)
	case ir.ValConstant:
		switch {
		case v.ConstIsInt:
			return fmt.Sprintf("%s(%d)", typeString(ir.IntType(int(v.ConstInt.Bits), v.ConstInt.Signed)), v.ConstInt.UnsignedValue())
		case v.ConstIsPtr:
			return fmt.Sprintf("ptr(%d)", v.ConstPtr)
		case v.ConstIsFunc:
			return fmt.Sprintf("@%d", v.ConstFunc)
		default:
			if v.ConstBool {
				return "true"
			}
			return "false"
		}
	case ir.ValInherited:
		return valueString(*v.Inner)
	default:
		return "<bad value>"
	}
}

func unaryOpString(op atomics.UnaryOp) string {
	if op == atomics.Not {
		return "not"
	}
	return "neg"
}

func binaryOpString(op atomics.BinaryOp) string {
	names := map[atomics.BinaryOp]string{
		atomics.Add: "add", atomics.Sub: "sub", atomics.Mul: "mul", atomics.Div: "div",
		atomics.Rem: "rem", atomics.And: "and", atomics.Or: "or", atomics.Xor: "xor", atomics.AndNot: "andnot",
	}
	return names[op]
}

func shiftOpString(op atomics.ShiftOp) string {
	if op == atomics.ShiftRight {
		return "right"
	}
	return "left"
}

func boolBinaryOpString(op atomics.BoolBinaryOp) string {
	names := map[atomics.BoolBinaryOp]string{
		atomics.BoolEq: "eq", atomics.BoolNeq: "neq", atomics.BoolAnd: "and", atomics.BoolOr: "or",
	}
	return names[op]
}
