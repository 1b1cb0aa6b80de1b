// Package lower translates a verified, allocated IR program into an
// x86-64 instruction stream (spec §4.10): instruction selection, the
// parallel-move sequencing algorithm, call/return ABI marshalling, and
// function/block layout with prologue/epilogue.
package lower

import (
	"fmt"
	"sort"

	"katara/internal/ir"
	"katara/internal/liveness"
	"katara/internal/regalloc"
	"katara/internal/x86asm"
)

// usableRegisters are the GP registers the allocator may assign as
// colors; RSP and RBP are reserved for the stack and frame pointers and
// never enter the colorable set (spec §9's color space is "architecture
// independent" but the lowering's register-bearing subset excludes
// whatever the target reserves structurally).
var usableRegisters = []x86asm.Reg{
	x86asm.RAX, x86asm.RCX, x86asm.RDX, x86asm.RBX,
	x86asm.RSI, x86asm.RDI,
	x86asm.R8, x86asm.R9, x86asm.R10, x86asm.R11,
	x86asm.R12, x86asm.R13, x86asm.R14, x86asm.R15,
}

// SpillBase is the lowest color the allocator may assign to a spill slot;
// colors below it index usableRegisters directly (spec §9: "colors 0..N
// for GP registers and higher colors for spill slots").
var SpillBase = len(usableRegisters)

// regColor returns the color that names physical register r, if r is
// part of the colorable set.
func regColor(r x86asm.Reg) (int, bool) {
	for i, u := range usableRegisters {
		if u.Index == r.Index {
			return i, true
		}
	}
	return 0, false
}

// FuncNumbering maps each IR function/block number to a fresh,
// densely-assigned x86 function/block number (spec §4.10's
// pre-translation step).
type FuncNumbering struct {
	XFunc  int
	Blocks map[ir.BlockNum]int
}

// BuildNumbering assigns numbers in the program's existing insertion
// order; nothing downstream depends on any particular numbering beyond
// density and stability within one lowering run.
func BuildNumbering(prog *ir.Program) map[ir.FuncNum]*FuncNumbering {
	out := make(map[ir.FuncNum]*FuncNumbering)
	xfn, xblk := 0, 0
	for _, f := range prog.Funcs() {
		blocks := make(map[ir.BlockNum]int)
		for _, b := range f.BlocksByNumber() {
			blocks[b.Num] = xblk
			xblk++
		}
		out[f.Num] = &FuncNumbering{XFunc: xfn, Blocks: blocks}
		xfn++
	}
	return out
}

// colorOperand maps an allocator color to a concrete x86 operand: a GP
// register for colors below SpillBase (0..13), or a frame-pointer-relative
// spill slot for higher colors (spec §9's color->operand injection function).
func colorOperand(color int, size x86asm.Size) x86asm.Operand {
	if color < SpillBase {
		return usableRegisters[color].ToSize(size)
	}
	slot := color - SpillBase
	disp := int32(-8 * (slot + 1))
	base := x86asm.RBP
	return x86asm.Mem{Size: size, Base: &base, Disp: disp}
}

func xsize(t *ir.Type) x86asm.Size {
	if t == nil {
		return x86asm.Size64
	}
	switch t.Kind {
	case ir.Bool:
		return x86asm.Size8
	case ir.Int:
		return x86asm.Size(t.IntBits)
	default:
		return x86asm.Size64 // Pointer, Func
	}
}

// PreColor builds the allocator's pre-colored map for f: parameters take
// the argument-passing colors for their position, and every Return's
// arguments take the result colors for their position (spec §4.6).
func PreColor(f *ir.Func) regalloc.PreColored {
	pre := regalloc.PreColored{}
	for i, p := range f.Params {
		if i < len(x86asm.ArgRegisters) {
			if c, ok := regColor(x86asm.ArgRegisters[i]); ok {
				pre[p.Num] = c
			}
		}
	}
	for _, b := range f.Blocks() {
		term := b.Terminator()
		if term == nil || term.Op != ir.OpReturn {
			continue
		}
		for i, v := range term.Args {
			if i >= len(x86asm.ResultRegisters) || v.Kind != ir.ValComputed {
				continue
			}
			if c, ok := regColor(x86asm.ResultRegisters[i]); ok {
				pre[v.Num] = c
			}
		}
	}
	return pre
}

// Func is one lowered function: its x86 number, its blocks in layout
// order, and the set of colors actually referenced (used to decide which
// callee-saved registers the prologue/epilogue must preserve).
type Func struct {
	XFunc       int
	Blocks      []*Block
	UsedColors  map[int]bool
	SpillSlots  int
}

// Block is one lowered block: its x86 number and its instruction stream,
// not yet relocated to absolute addresses (that is the linker's job).
type Block struct {
	XBlock int
	Instrs []*x86asm.Instr
}

// Lowerer holds the per-function state the instruction-selection methods
// share: the coloring, the temporary-register provider, and the
// numbering tables.
type Lowerer struct {
	prog      *ir.Program
	numbering map[ir.FuncNum]*FuncNumbering
	f         *ir.Func
	colors    *regalloc.Colors
	used      map[int]bool
	spillMax  int
}

// New creates a Lowerer for an already-verified program.
func New(prog *ir.Program) *Lowerer {
	return &Lowerer{prog: prog, numbering: BuildNumbering(prog)}
}

// LowerFunc lowers one function: builds liveness, interference, and
// coloring, then selects instructions block by block in entry-first,
// ascending-number order (spec §4.10's function layout rule).
func (lw *Lowerer) LowerFunc(f *ir.Func) (*Func, error) {
	lw.f = f
	lw.used = map[int]bool{}
	lw.spillMax = 0

	ranges := liveness.BuildLiveRanges(f)
	graph := liveness.BuildInterferenceGraph(f, ranges)
	pre := PreColor(f)
	lw.colors = regalloc.Allocate(graph, SpillBase, pre)

	num := lw.numbering[f.Num]
	out := &Func{XFunc: num.XFunc}

	blocks := f.BlocksByNumber()
	ordered := orderEntryFirst(f, blocks)

	var entryBlock *Block
	type returnPoint struct {
		block *Block
		at    int
	}
	var returns []returnPoint

	for _, b := range ordered {
		xb := &Block{XBlock: num.Blocks[b.Num]}
		if b.Num == f.EntryBlock {
			entryBlock = xb
		}
		for _, in := range b.NonPhis() {
			instrs, err := lw.selectInstr(f, b, in, num)
			if err != nil {
				return nil, fmt.Errorf("lower: func %d block %d: %w", f.Num, b.Num, err)
			}
			xb.Instrs = append(xb.Instrs, instrs...)
			if in.Op == ir.OpReturn {
				returns = append(returns, returnPoint{block: xb, at: len(xb.Instrs)})
			}
		}
		out.Blocks = append(out.Blocks, xb)
	}

	// The callee-saved push/pop set is only known once every instruction
	// has been selected and lw.used reflects every color the coloring
	// actually assigned (spec §4.10's function-layout rule).
	saved := usedCalleeSaved(lw.used)
	prologue := lw.prologue(saved)
	epilogue := lw.epilogue(saved)
	// Splice every Return's epilogue in at its recorded offset before
	// prepending the entry prologue: the entry block may be its own
	// return block (a single-block function), and prepending first would
	// shift every recorded offset by len(prologue).
	for _, rp := range returns {
		rp.block.Instrs = append(rp.block.Instrs[:rp.at:rp.at], append(epilogue, rp.block.Instrs[rp.at:]...)...)
	}
	entryBlock.Instrs = append(prologue, entryBlock.Instrs...)

	out.UsedColors = lw.used
	out.SpillSlots = lw.spillMax
	return out, nil
}

// usedCalleeSaved returns the callee-saved registers the coloring
// assigned, in usableRegisters order, for the prologue/epilogue to
// preserve. used is keyed by color, not physical register index, so each
// color is translated back through usableRegisters before the ABI check.
func usedCalleeSaved(used map[int]bool) []x86asm.Reg {
	var out []x86asm.Reg
	for color := 0; color < SpillBase; color++ {
		if !used[color] {
			continue
		}
		r := usableRegisters[color]
		if x86asm.IsCalleeSaved(r.Index) {
			out = append(out, r.ToSize(x86asm.Size64))
		}
	}
	return out
}

// orderEntryFirst returns blocks with the entry block first, then every
// other block by ascending number (spec §4.10).
func orderEntryFirst(f *ir.Func, blocks []*ir.Block) []*ir.Block {
	out := make([]*ir.Block, 0, len(blocks))
	var rest []*ir.Block
	for _, b := range blocks {
		if b.Num == f.EntryBlock {
			out = append(out, b)
		} else {
			rest = append(rest, b)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Num < rest[j].Num })
	return append(out, rest...)
}

// prologue pushes the frame pointer, establishes it, and preserves every
// callee-saved register the coloring actually touches, in usableRegisters
// order (spec §4.10). Called after the whole function body has been
// selected, once saved is final.
func (lw *Lowerer) prologue(saved []x86asm.Reg) []*x86asm.Instr {
	rbp := x86asm.RBP
	rsp := x86asm.RSP
	out := []*x86asm.Instr{
		{Op: x86asm.Push, Dst: rbp},
		{Op: x86asm.Mov, Dst: rbp, Src: rsp},
	}
	for _, r := range saved {
		out = append(out, &x86asm.Instr{Op: x86asm.Push, Dst: r})
	}
	return out
}

// epilogue pops callee-saved registers in reverse push order, pops the
// frame pointer, then returns (spec §4.10's function-layout rule).
func (lw *Lowerer) epilogue(saved []x86asm.Reg) []*x86asm.Instr {
	var out []*x86asm.Instr
	for i := len(saved) - 1; i >= 0; i-- {
		out = append(out, &x86asm.Instr{Op: x86asm.Pop, Dst: saved[i]})
	}
	rbp := x86asm.RBP
	out = append(out, &x86asm.Instr{Op: x86asm.Pop, Dst: rbp}, &x86asm.Instr{Op: x86asm.Ret})
	return out
}

func (lw *Lowerer) markUsed(color int) {
	if color >= 0 {
		lw.used[color] = true
		if color >= SpillBase && color-SpillBase+1 > lw.spillMax {
			lw.spillMax = color - SpillBase + 1
		}
	}
}

func (lw *Lowerer) colorOf(v ir.Value) (int, bool) {
	if v.Kind != ir.ValComputed {
		return 0, false
	}
	c := lw.colors.Color(v.Num)
	if c == regalloc.NoColor {
		return 0, false
	}
	lw.markUsed(c)
	return c, true
}
