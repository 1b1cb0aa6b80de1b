// Package link resolves the symbolic references the encoder leaves
// behind into concrete RIP-relative displacements (spec §4.11): function
// and block address tables are populated as the encoder walks the
// program, then ApplyPatches stamps every pending patch.
package link

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"katara/internal/x86asm"
)

// Linker accumulates one program's encoded code, the func/block address
// tables the lowering populates as it walks the program, and the
// patch queue the encoder fills in.
type Linker struct {
	base uint64
	code []byte

	funcAddr  map[int]uint64
	blockAddr map[int]uint64
	externals map[string]uint64

	patches []pendingPatch
}

type pendingPatch struct {
	offset int
	target x86asm.Ref
}

// New creates a linker for a program whose encoded bytes will be written
// starting at base (spec §6: "a contiguous byte array starting at a
// caller-provided base address").
func New(base uint64) *Linker {
	return &Linker{
		base:      base,
		funcAddr:  make(map[int]uint64),
		blockAddr: make(map[int]uint64),
		externals: make(map[string]uint64),
	}
}

// SetFuncAddress records where x86 function funcNum's code begins.
func (l *Linker) SetFuncAddress(funcNum int, addr uint64) {
	l.funcAddr[funcNum] = addr
}

// SetBlockAddress records where x86 block blockNum's code begins.
func (l *Linker) SetBlockAddress(blockNum int, addr uint64) {
	l.blockAddr[blockNum] = addr
}

// DefineExternal supplies the process address of an externally-resolved
// symbol (e.g. "malloc", "free") that the lowering calls by name (spec
// §6: "External functions are identified by process addresses supplied
// to the linker before ApplyPatches").
func (l *Linker) DefineExternal(name string, addr uint64) {
	l.externals[name] = addr
}

// Append appends enc's encoded bytes to the program's code and queues its
// patches, translated to absolute offsets within the whole program.
func (l *Linker) Append(enc *x86asm.Encoder) {
	offset := len(l.code)
	l.code = append(l.code, enc.Bytes()...)
	for _, p := range enc.Patches {
		l.patches = append(l.patches, pendingPatch{offset: offset + p.Offset, target: p.Target})
	}
}

// Len is the number of code bytes appended so far; the driver uses this to
// learn a function's or block's address before SetFuncAddress or
// SetBlockAddress is called.
func (l *Linker) Len() int { return len(l.code) }

// Address is the base address plus an in-program byte offset.
func (l *Linker) Address(offset int) uint64 { return l.base + uint64(offset) }

// Result is the final linked output: the code with every patch resolved,
// and a build id stamped for this encoding session (spec §5: "multiple
// programs may be encoded in parallel").
type Result struct {
	Code    []byte
	BuildID uuid.UUID
}

// ApplyPatches resolves every pending patch as
// target_address − (patch_address + 4), written little-endian into the
// patch's 4-byte slot (spec §4.11). An unresolved reference fails
// deterministically.
func (l *Linker) ApplyPatches() (*Result, error) {
	for _, p := range l.patches {
		target, err := l.resolve(p.target)
		if err != nil {
			return nil, err
		}
		patchAddr := l.Address(p.offset)
		rel := int64(target) - int64(patchAddr+4)
		if rel != int64(int32(rel)) {
			return nil, fmt.Errorf("link: relative reference %v does not fit in 32 bits (%d)", p.target, rel)
		}
		binary.LittleEndian.PutUint32(l.code[p.offset:p.offset+4], uint32(int32(rel)))
	}
	return &Result{Code: l.code, BuildID: uuid.New()}, nil
}

func (l *Linker) resolve(ref x86asm.Ref) (uint64, error) {
	switch ref.Kind {
	case x86asm.RefFunc:
		addr, ok := l.funcAddr[ref.Func]
		if !ok {
			return 0, fmt.Errorf("link: unresolved function reference %d", ref.Func)
		}
		return addr, nil
	case x86asm.RefBlock:
		addr, ok := l.blockAddr[ref.Block]
		if !ok {
			return 0, fmt.Errorf("link: unresolved block reference %d", ref.Block)
		}
		return addr, nil
	case x86asm.RefExternal:
		addr, ok := l.externals[ref.External]
		if !ok {
			return 0, fmt.Errorf("link: unresolved external symbol %q", ref.External)
		}
		return addr, nil
	default:
		return 0, fmt.Errorf("link: unknown reference kind %d", ref.Kind)
	}
}
