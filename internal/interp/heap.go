package interp

import (
	"fmt"

	"katara/internal/diag"
)

// allocation is one currently-live range, tracked by base address.
type allocation struct {
	base uint64
	size uint64
	init []bool // per-byte initialization bitmap, len == size; nil when not sanitizing
	raw  []byte // lazily-allocated backing store
}

func (a *allocation) contains(addr, size uint64) bool {
	return addr >= a.base && addr+size <= a.base+a.size
}

func (a *allocation) overlaps(addr, size uint64) bool {
	return addr < a.base+a.size && a.base < addr+size
}

// freedRange records a freed allocation for later diagnostics (spec §4.7:
// reads that fall inside a freed range fail with "access to freed memory").
type freedRange struct {
	base uint64
	size uint64
}

// Heap is the IR interpreter's memory: a sanitizing heap when Sanitize is
// true (per-byte init tracking, strict containment checks, freed-range
// history), or a thin raw allocator otherwise (spec §4.7).
type Heap struct {
	Sanitize bool

	nextBase    uint64
	allocations map[uint64]*allocation
	freed       []freedRange
}

// NewHeap creates an empty heap. Addresses start at 1 so that 0 can remain
// the reserved null pointer value (spec §3's PointerConst(0)).
func NewHeap(sanitize bool) *Heap {
	return &Heap{Sanitize: sanitize, nextBase: 1, allocations: make(map[uint64]*allocation)}
}

// Malloc allocates size bytes and returns the base address. size must be > 0
// when sanitizing (spec §4.7).
func (h *Heap) Malloc(size uint64) (uint64, error) {
	if h.Sanitize && size == 0 {
		return 0, fmt.Errorf("malloc: size must be greater than zero")
	}
	base := h.nextBase
	h.nextBase += size + 1 // leave a gap so adjacent allocations never touch
	a := &allocation{base: base, size: size}
	if h.Sanitize {
		a.init = make([]bool, size)
	}
	h.allocations[base] = a
	return base, nil
}

// Free releases the allocation based at addr. With Sanitize set, addr must
// be exactly an allocation's base: freeing a non-base address, an unknown
// address, or an already-freed address all fail deterministically (spec
// §4.7). Without Sanitize, freeing an address that is not a live
// allocation's base is a no-op.
func (h *Heap) Free(addr uint64) error {
	a, ok := h.allocations[addr]
	if !ok {
		if !h.Sanitize {
			return nil // thin wrapper: freeing an already-gone address is a no-op
		}
		if h.wasFreed(addr) {
			return fmt.Errorf("free: memory was already freed")
		}
		for _, other := range h.allocations {
			if other.contains(addr, 0) && addr != other.base {
				return fmt.Errorf("free: address is not the base of its allocation")
			}
		}
		return fmt.Errorf("free: address is not a live allocation")
	}
	delete(h.allocations, addr)
	if h.Sanitize {
		h.freed = append(h.freed, freedRange{base: a.base, size: a.size})
	}
	return nil
}

func (h *Heap) wasFreed(addr uint64) bool {
	for _, fr := range h.freed {
		if addr >= fr.base && addr < fr.base+fr.size {
			return true
		}
	}
	return false
}

// Load reads size bytes at addr, returning them as a little-endian uint64
// (size <= 8). Sanitizing checks: the range must be entirely contained in
// exactly one live allocation, every touched byte must be initialized, and a
// read into a freed range fails distinctly (spec §4.7).
func (h *Heap) Load(addr, size uint64) (uint64, error) {
	if !h.Sanitize {
		return h.rawLoad(addr, size), nil
	}
	a, err := h.checkedAllocation(addr, size)
	if err != nil {
		return 0, err
	}
	off := addr - a.base
	for i := uint64(0); i < size; i++ {
		if !a.init[off+i] {
			return 0, fmt.Errorf("load: attempted to read uninitialized memory")
		}
	}
	return h.rawLoad(addr, size), nil
}

// Store writes size bytes of value (little-endian) at addr, same
// containment checks as Load, and marks the touched bytes initialized.
func (h *Heap) Store(addr, size, value uint64) error {
	if !h.Sanitize {
		h.rawStore(addr, size, value)
		return nil
	}
	a, err := h.checkedAllocation(addr, size)
	if err != nil {
		return err
	}
	off := addr - a.base
	for i := uint64(0); i < size; i++ {
		a.init[off+i] = true
	}
	h.rawStore(addr, size, value)
	return nil
}

func (h *Heap) checkedAllocation(addr, size uint64) (*allocation, error) {
	if h.wasFreed(addr) {
		return nil, fmt.Errorf("memory access: access to freed memory")
	}
	for _, a := range h.allocations {
		if a.contains(addr, size) {
			return a, nil
		}
	}
	for _, a := range h.allocations {
		if a.overlaps(addr, size) {
			return nil, fmt.Errorf("memory access: access only partially overlaps allocated memory")
		}
	}
	return nil, fmt.Errorf("memory access: address is not within any allocation")
}

func (h *Heap) rawLoad(addr, size uint64) uint64 {
	var v uint64
	for i := uint64(0); i < size; i++ {
		v |= uint64(h.byteAt(addr+i)) << (8 * i)
	}
	return v
}

func (h *Heap) rawStore(addr, size, value uint64) {
	for i := uint64(0); i < size; i++ {
		h.setByteAt(addr+i, byte(value>>(8*i)))
	}
}

func (h *Heap) byteAt(addr uint64) byte {
	for _, a := range h.allocations {
		if addr >= a.base && addr < a.base+a.size {
			return a.bytes()[addr-a.base]
		}
	}
	return 0
}

func (h *Heap) setByteAt(addr uint64, b byte) {
	for _, a := range h.allocations {
		if addr >= a.base && addr < a.base+a.size {
			a.bytes()[addr-a.base] = b
			return
		}
	}
}

// bytes lazily allocates the allocation's raw backing store, kept separate
// from the init bitmap since a non-sanitizing heap has no bitmap at all.
func (a *allocation) bytes() []byte {
	if a.raw == nil {
		a.raw = make([]byte, a.size)
	}
	return a.raw
}

// NumLiveAllocations reports how many allocations are still outstanding; a
// non-zero count at interpreter shutdown is the "not all memory was freed"
// failure (spec §4.7).
func (h *Heap) NumLiveAllocations() int {
	return len(h.allocations)
}

// CheckAllFreed returns an error listing the live-allocation count if the
// heap has outstanding allocations, for use at interpreter shutdown.
func (h *Heap) CheckAllFreed() error {
	if n := h.NumLiveAllocations(); n > 0 {
		return fmt.Errorf("heap shutdown: not all memory was freed (%d allocation(s) totaling %s outstanding)", n, diag.FormatBytes(h.totalLiveBytes()))
	}
	return nil
}

func (h *Heap) totalLiveBytes() uint64 {
	var total uint64
	for _, a := range h.allocations {
		total += a.size
	}
	return total
}
