package irtext

import (
	"fmt"

	"katara/internal/atomics"
	"katara/internal/ir"
)

// ParseError is a parser diagnostic with a source range (spec §4.3).
type ParseError struct {
	Range Range
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Range.Start.Line, e.Range.Start.Column, e.Msg)
}

// Parser consumes a token stream and builds an *ir.Program, recording a
// source range for every instruction it parses (used by the verifier to
// point diagnostics at the responsible token span).
type Parser struct {
	toks []Token
	pos  int
	errs []error
	prog *ir.Program
}

// ParseProgram parses a complete program from source text. Scan errors are
// folded into the returned error slice ahead of any parse errors.
func ParseProgram(file, src string) (*ir.Program, []error) {
	sc := NewScanner(file, src)
	toks := sc.ScanAll()
	prog := ir.NewProgram()
	p := &Parser{toks: toks, prog: prog}
	for _, e := range sc.Errors() {
		p.errs = append(p.errs, e)
	}
	p.skipNewlines()
	for !p.atEnd() {
		p.parseFunc(prog)
		p.skipNewlines()
	}
	for _, f := range prog.Funcs() {
		resolveValueTypes(prog, f)
	}
	return prog, p.errs
}

// resolveValueTypes fills in the Typ field of every ValComputed reference
// (left nil by parseValue, which has no definition-site context) by
// looking up each value number's type from its parameter or instruction
// definition. The textual format never repeats a defined value's type at
// its use sites, so this pass is required before structural-equality
// round-trip checks can pass. The text does not spell out a call's result
// types either: a call whose callee is a function constant takes them from
// that function's declared results.
func resolveValueTypes(prog *ir.Program, f *ir.Func) {
	for _, b := range f.Blocks() {
		for _, in := range b.Instrs {
			if in.Op != ir.OpCall || len(in.Args) == 0 || !in.CallCallee().ConstIsFunc {
				continue
			}
			if callee, ok := prog.Func(in.CallCallee().ConstFunc); ok {
				for i := range in.DefTypes {
					if i < len(callee.ResultTypes) {
						in.DefTypes[i] = callee.ResultTypes[i]
					}
				}
			}
		}
	}
	types := make(map[ir.ValueNum]*ir.Type)
	for _, p := range f.Params {
		types[p.Num] = p.Typ
	}
	for _, b := range f.Blocks() {
		for _, in := range b.Instrs {
			for i, d := range in.Defs {
				if i < len(in.DefTypes) {
					types[d] = in.DefTypes[i]
				}
			}
		}
	}
	fix := func(v *ir.Value) {
		resolveOne(v, types)
	}
	for _, b := range f.Blocks() {
		for _, in := range b.Instrs {
			for i := range in.Args {
				fix(&in.Args[i])
			}
			for i := range in.PhiArgs {
				if in.PhiArgs[i].Origin.Inner != nil {
					fix(in.PhiArgs[i].Origin.Inner)
				}
			}
		}
	}
}

func resolveOne(v *ir.Value, types map[ir.ValueNum]*ir.Type) {
	switch v.Kind {
	case ir.ValComputed:
		if t, ok := types[v.Num]; ok {
			v.Typ = t
		}
	case ir.ValInherited:
		if v.Inner != nil {
			resolveOne(v.Inner, types)
		}
	}
}

func (p *Parser) atEnd() bool { return p.cur().Kind == TokEOF }

func (p *Parser) cur() Token { return p.toks[p.pos] }

func (p *Parser) advance() Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) skipNewlines() {
	for p.cur().Kind == TokNewline {
		p.advance()
	}
}

func (p *Parser) fail(msg string) {
	p.errs = append(p.errs, &ParseError{Range: p.cur().Range, Msg: msg})
}

func (p *Parser) expect(k TokenKind) Token {
	if p.cur().Kind != k {
		p.fail(fmt.Sprintf("expected %s, found %s %q", k, p.cur().Kind, p.cur().Text))
		return p.cur()
	}
	return p.advance()
}

func (p *Parser) expectIdent(text string) {
	if p.cur().Kind != TokIdent || p.cur().Text != text {
		p.fail(fmt.Sprintf("expected %q, found %s %q", text, p.cur().Kind, p.cur().Text))
		return
	}
	p.advance()
}

func (p *Parser) parseNumber() int64 {
	t := p.expect(TokNumber)
	return int64(t.NumberValue)
}

// parseFunc parses: "func" "@" N "(" types ")" "(" types ")" "{" "entry" N
// (block)* "}"
func (p *Parser) parseFunc(prog *ir.Program) {
	p.expectIdent("func")
	p.expect(TokAt)
	num := ir.FuncNum(p.parseNumber())
	f, err := prog.AddFuncNumbered(num)
	if err != nil {
		p.fail(err.Error())
		return
	}
	p.expect(TokLParen)
	paramTypes := p.parseTypeList(TokRParen)
	p.expect(TokRParen)
	for _, t := range paramTypes {
		f.AddParam(t)
	}
	p.expect(TokLParen)
	f.ResultTypes = p.parseTypeList(TokRParen)
	p.expect(TokRParen)
	p.expect(TokLBrace)
	p.skipNewlines()
	p.expectIdent("entry")
	entryNum := ir.BlockNum(p.parseNumber())
	p.skipNewlines()
	if prog.EntryFunc == ir.NoFunc {
		prog.EntryFunc = f.Num
	}

	blocks := make(map[ir.BlockNum]*ir.Block)
	for p.cur().Kind == TokIdent && p.cur().Text == "block" {
		b := p.parseBlock(f)
		blocks[b.Num] = b
		p.skipNewlines()
	}
	f.EntryBlock = entryNum
	p.wireControlFlow(f)
	p.expect(TokRBrace)
}

// wireControlFlow derives parent/child edges from terminator Dests, since
// the textual format only records destinations, not redundant edge lists.
func (p *Parser) wireControlFlow(f *ir.Func) {
	for _, b := range f.Blocks() {
		term := b.Terminator()
		if term == nil {
			continue
		}
		for _, d := range term.Dests {
			if _, ok := f.Block(d); ok {
				f.AddControlFlow(b.Num, d)
			}
		}
	}
}

func (p *Parser) parseTypeList(end TokenKind) []*ir.Type {
	var out []*ir.Type
	for p.cur().Kind != end && !p.atEnd() {
		out = append(out, p.parseType())
		if p.cur().Kind == TokComma {
			p.advance()
		} else {
			break
		}
	}
	return out
}

func (p *Parser) parseType() *ir.Type {
	t := p.expect(TokIdent)
	switch t.Text {
	case "bool":
		return ir.BoolType
	case "ptr":
		return ir.PointerType
	case "i8":
		return ir.IntType(8, true)
	case "i16":
		return ir.IntType(16, true)
	case "i32":
		return ir.IntType(32, true)
	case "i64":
		return ir.IntType(64, true)
	case "u8":
		return ir.IntType(8, false)
	case "u16":
		return ir.IntType(16, false)
	case "u32":
		return ir.IntType(32, false)
	case "u64":
		return ir.IntType(64, false)
	case "func":
		p.expect(TokLParen)
		params := p.parseTypeList(TokRParen)
		p.expect(TokRParen)
		var results []*ir.Type
		if p.cur().Kind == TokLParen {
			p.advance()
			results = p.parseTypeList(TokRParen)
			p.expect(TokRParen)
		}
		return p.prog.Types.InternFunc(params, results)
	default:
		p.fail(fmt.Sprintf("unknown type %q", t.Text))
		return ir.BoolType
	}
}

func (p *Parser) parseBlock(f *ir.Func) *ir.Block {
	p.expectIdent("block")
	num := ir.BlockNum(p.parseNumber())
	p.expect(TokLBrace)
	p.skipNewlines()
	b := f.AddBlock()
	if b.Num != num {
		p.fail(fmt.Sprintf("block declared as %d but would be assigned number %d; blocks must be declared in ascending order starting at 0", num, b.Num))
	}
	for p.cur().Kind != TokRBrace && !p.atEnd() {
		instr := p.parseInstr(f)
		if instr != nil {
			b.AddInstr(instr)
		}
		p.skipNewlines()
	}
	p.expect(TokRBrace)
	return b
}

func (p *Parser) parseResultList() []ir.ValueNum {
	var out []ir.ValueNum
	for p.cur().Kind == TokPercent {
		p.advance()
		out = append(out, ir.ValueNum(p.parseNumber()))
		if p.cur().Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	return out
}

// parseInstr parses one instruction line: [resultlist "="] opname operands.
func (p *Parser) parseInstr(f *ir.Func) *ir.Instr {
	start := p.cur().Range
	var results []ir.ValueNum
	// Lookahead: a result list is present iff we see %N (, %N)* followed by '='.
	save := p.pos
	if p.cur().Kind == TokPercent {
		results = p.parseResultList()
		if p.cur().Kind == TokEquals {
			p.advance()
		} else {
			p.pos = save
			results = nil
		}
	}
	op := p.expect(TokIdent).Text
	var instr *ir.Instr
	switch op {
	case "mov":
		t := p.parseType()
		v := p.parseValue()
		instr = ir.NewMov(resultOrFresh(f, results, 0), t, v, mkRange(start, p.prevEnd()))
	case "phi":
		t := p.parseType()
		args := p.parsePhiArgs()
		instr = ir.NewPhi(resultOrFresh(f, results, 0), t, args, mkRange(start, p.prevEnd()))
	case "conv":
		t := p.parseType()
		v := p.parseValue()
		instr = ir.NewConversion(resultOrFresh(f, results, 0), t, v, mkRange(start, p.prevEnd()))
	case "bnot":
		v := p.parseValue()
		instr = ir.NewBoolNot(resultOrFresh(f, results, 0), v, mkRange(start, p.prevEnd()))
	case "bbin":
		sub := p.expect(TokIdent).Text
		a := p.parseValue()
		p.expect(TokComma)
		b := p.parseValue()
		instr = ir.NewBoolBinary(resultOrFresh(f, results, 0), parseBoolBinaryOp(sub), a, b, mkRange(start, p.prevEnd()))
	case "iunary":
		sub := p.expect(TokIdent).Text
		t := p.parseType()
		v := p.parseValue()
		instr = ir.NewIntUnary(resultOrFresh(f, results, 0), t, parseUnaryOp(sub), v, mkRange(start, p.prevEnd()))
	case "icmp":
		sub := p.expect(TokIdent).Text
		a := p.parseValue()
		p.expect(TokComma)
		b := p.parseValue()
		instr = ir.NewIntCompare(resultOrFresh(f, results, 0), parseCompareOp(sub), a, b, mkRange(start, p.prevEnd()))
	case "ibin":
		sub := p.expect(TokIdent).Text
		t := p.parseType()
		a := p.parseValue()
		p.expect(TokComma)
		b := p.parseValue()
		instr = ir.NewIntBinary(resultOrFresh(f, results, 0), t, parseBinaryOp(sub), a, b, mkRange(start, p.prevEnd()))
	case "ishift":
		sub := p.expect(TokIdent).Text
		t := p.parseType()
		a := p.parseValue()
		p.expect(TokComma)
		b := p.parseValue()
		instr = ir.NewIntShift(resultOrFresh(f, results, 0), t, parseShiftOp(sub), a, b, mkRange(start, p.prevEnd()))
	case "ptroff":
		a := p.parseValue()
		p.expect(TokComma)
		b := p.parseValue()
		instr = ir.NewPointerOffset(resultOrFresh(f, results, 0), a, b, mkRange(start, p.prevEnd()))
	case "niltest":
		v := p.parseValue()
		instr = ir.NewNilTest(resultOrFresh(f, results, 0), v, mkRange(start, p.prevEnd()))
	case "malloc":
		v := p.parseValue()
		instr = ir.NewMalloc(resultOrFresh(f, results, 0), v, mkRange(start, p.prevEnd()))
	case "free":
		v := p.parseValue()
		instr = ir.NewFree(v, mkRange(start, p.prevEnd()))
	case "load":
		t := p.parseType()
		v := p.parseValue()
		instr = ir.NewLoad(resultOrFresh(f, results, 0), t, v, mkRange(start, p.prevEnd()))
	case "store":
		addr := p.parseValue()
		p.expect(TokComma)
		val := p.parseValue()
		instr = ir.NewStore(addr, val, mkRange(start, p.prevEnd()))
	case "jump":
		dest := ir.BlockNum(p.parseNumber())
		instr = ir.NewJump(dest, mkRange(start, p.prevEnd()))
	case "jumpcond":
		cond := p.parseValue()
		p.expect(TokComma)
		dt := ir.BlockNum(p.parseNumber())
		p.expect(TokComma)
		df := ir.BlockNum(p.parseNumber())
		instr = ir.NewJumpCond(cond, dt, df, mkRange(start, p.prevEnd()))
	case "call":
		callee := p.parseValue()
		p.expect(TokLParen)
		var args []ir.Value
		for p.cur().Kind != TokRParen && !p.atEnd() {
			args = append(args, p.parseValue())
			if p.cur().Kind == TokComma {
				p.advance()
				continue
			}
			break
		}
		p.expect(TokRParen)
		resultTypes := make([]*ir.Type, len(results))
		instr = ir.NewCall(results, resultTypes, callee, args, mkRange(start, p.prevEnd()))
	case "return":
		var args []ir.Value
		for p.cur().Kind != TokNewline && p.cur().Kind != TokRBrace && !p.atEnd() {
			args = append(args, p.parseValue())
			if p.cur().Kind == TokComma {
				p.advance()
				continue
			}
			break
		}
		instr = ir.NewReturn(args, mkRange(start, p.prevEnd()))
	default:
		p.fail(fmt.Sprintf("unknown opcode %q", op))
		// best-effort resync to end of line
		for p.cur().Kind != TokNewline && p.cur().Kind != TokRBrace && !p.atEnd() {
			p.advance()
		}
		return nil
	}
	return instr
}

func (p *Parser) prevEnd() Range {
	if p.pos == 0 {
		return p.cur().Range
	}
	return p.toks[p.pos-1].Range
}

func mkRange(start, end Range) ir.SourceRange {
	return ir.SourceRange{
		StartLine: start.Start.Line, StartColumn: start.Start.Column,
		EndLine: end.End.Line, EndColumn: end.End.Column,
	}
}

// resultOrFresh returns the i'th parsed result value number, or allocates a
// fresh one from f if none was parsed (letting single-instruction snippets
// in tests omit the "%N =" prefix).
func resultOrFresh(f *ir.Func, results []ir.ValueNum, i int) ir.ValueNum {
	if i < len(results) {
		return results[i]
	}
	return f.NextValueNum()
}

func (p *Parser) parsePhiArgs() []ir.PhiArg {
	p.expect(TokLAngle)
	var out []ir.PhiArg
	for p.cur().Kind != TokRAngle && !p.atEnd() {
		v := p.parseValue()
		p.expect(TokColon)
		block := ir.BlockNum(p.parseNumber())
		out = append(out, ir.PhiArg{Origin: ir.InheritedFrom(v, block)})
		if p.cur().Kind == TokComma {
			p.advance()
			continue
		}
		break
	}
	p.expect(TokRAngle)
	return out
}

// parseValue parses: %N | true | false | @N | Type "(" Number ")"
func (p *Parser) parseValue() ir.Value {
	switch p.cur().Kind {
	case TokPercent:
		p.advance()
		n := ir.ValueNum(p.parseNumber())
		return ir.Computed(n, nil) // type filled in by resolveValueTypes
	case TokAt:
		p.advance()
		n := ir.FuncNum(p.parseNumber())
		return ir.FuncConst(n)
	case TokIdent:
		switch p.cur().Text {
		case "true":
			p.advance()
			return ir.BoolConst(true)
		case "false":
			p.advance()
			return ir.BoolConst(false)
		default:
			t := p.parseType()
			p.expect(TokLParen)
			n := p.parseNumber()
			p.expect(TokRParen)
			if t.Kind == ir.Pointer {
				return ir.PointerConst(uint64(n))
			}
			iv := atomics.NewInt(atomics.Width(t.IntBits), t.IntSigned, n)
			return ir.IntConst(iv)
		}
	default:
		p.fail(fmt.Sprintf("expected value, found %s %q", p.cur().Kind, p.cur().Text))
		return ir.BoolConst(false)
	}
}

func parseUnaryOp(s string) atomics.UnaryOp {
	switch s {
	case "neg":
		return atomics.Neg
	case "not":
		return atomics.Not
	default:
		return atomics.Neg
	}
}

func parseBinaryOp(s string) atomics.BinaryOp {
	switch s {
	case "add":
		return atomics.Add
	case "sub":
		return atomics.Sub
	case "mul":
		return atomics.Mul
	case "div":
		return atomics.Div
	case "rem":
		return atomics.Rem
	case "and":
		return atomics.And
	case "or":
		return atomics.Or
	case "xor":
		return atomics.Xor
	case "andnot":
		return atomics.AndNot
	default:
		return atomics.Add
	}
}

func parseShiftOp(s string) atomics.ShiftOp {
	if s == "right" {
		return atomics.ShiftRight
	}
	return atomics.ShiftLeft
}

func parseCompareOp(s string) atomics.CompareOp {
	switch s {
	case "eq":
		return atomics.Eq
	case "neq":
		return atomics.Neq
	case "lss":
		return atomics.Lss
	case "leq":
		return atomics.Leq
	case "geq":
		return atomics.Geq
	case "gtr":
		return atomics.Gtr
	default:
		return atomics.Eq
	}
}

func parseBoolBinaryOp(s string) atomics.BoolBinaryOp {
	switch s {
	case "eq":
		return atomics.BoolEq
	case "neq":
		return atomics.BoolNeq
	case "and":
		return atomics.BoolAnd
	case "or":
		return atomics.BoolOr
	default:
		return atomics.BoolEq
	}
}
