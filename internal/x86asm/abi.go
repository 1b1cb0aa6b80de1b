package x86asm

// ArgRegisters is the System-V AMD64 integer argument-passing order (spec
// §6's calling convention), indexed by argument position.
var ArgRegisters = []Reg{RDI, RSI, RDX, RCX, R8, R9}

// ResultRegisters is the integer return-value order: primary result in
// RAX, secondary in RDX.
var ResultRegisters = []Reg{RAX, RDX}

// CalleeSaved lists registers a function must preserve across calls.
var CalleeSaved = []Reg{RBX, RBP, R12, R13, R14, R15}

// CallerSaved lists registers a call may clobber.
var CallerSaved = []Reg{RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11}

// IsCalleeSaved reports whether the GP register whose encoding index
// (Reg.Index) is color names a callee-saved register. The lowering's
// allocator colors are not register indices; usedCalleeSaved maps a color
// to its register before calling this.
func IsCalleeSaved(color int) bool {
	for _, r := range CalleeSaved {
		if r.Index == color {
			return true
		}
	}
	return false
}
