// Package liveness computes per-block live ranges and the resulting
// interference graph over a verified IR function (spec §4.5).
package liveness

import (
	"fmt"
	"sort"
	"strings"

	"katara/internal/ir"
)

// ValueRange marks the instruction index (within a block) where a value
// starts and stops being live, nil meaning "before the block" / "past the
// block" respectively. Grounded on the original's BlockLiveRanges::ValueRange
// (start_instr_/end_instr_ as instruction pointers; here as indices, since
// this package only ever reasons about one block's instruction slice).
type ValueRange struct {
	Start *int // nil: live from block entry
	End   *int // nil: live past block exit
}

// BlockLiveRanges holds one block's per-value live ranges.
type BlockLiveRanges struct {
	Block  *ir.Block
	ranges map[ir.ValueNum]*ValueRange
}

func newBlockLiveRanges(b *ir.Block) *BlockLiveRanges {
	return &BlockLiveRanges{Block: b, ranges: make(map[ir.ValueNum]*ValueRange)}
}

func idx(i int) *int { return &i }

func (r *BlockLiveRanges) addDefinition(v ir.ValueNum, instrIdx int) {
	if existing, ok := r.ranges[v]; ok {
		existing.Start = idx(instrIdx)
		return
	}
	r.ranges[v] = &ValueRange{Start: idx(instrIdx), End: idx(instrIdx)}
}

func (r *BlockLiveRanges) addUse(v ir.ValueNum, instrIdx int) {
	if existing, ok := r.ranges[v]; ok {
		if existing.End != nil && instrIdx > *existing.End {
			existing.End = idx(instrIdx)
		}
		return
	}
	r.ranges[v] = &ValueRange{End: idx(instrIdx)}
}

// propagateFromExit extends v's range to the end of the block (spec §4.5's
// global fixed point: a value in a successor's entry set is live across
// this entire block).
func (r *BlockLiveRanges) propagateFromExit(v ir.ValueNum) bool {
	if existing, ok := r.ranges[v]; ok {
		if existing.End == nil {
			return false
		}
		existing.End = nil
		return true
	}
	r.ranges[v] = &ValueRange{}
	return true
}

// HasValue reports whether v has any recorded range in this block.
func (r *BlockLiveRanges) HasValue(v ir.ValueNum) bool {
	_, ok := r.ranges[v]
	return ok
}

// EntrySet returns values live on block entry (no definition inside the
// block: Start == nil).
func (r *BlockLiveRanges) EntrySet() map[ir.ValueNum]bool {
	out := make(map[ir.ValueNum]bool)
	for v, rng := range r.ranges {
		if rng.Start == nil {
			out[v] = true
		}
	}
	return out
}

// ExitSet returns values live on block exit (range extends past the last
// instruction: End == nil).
func (r *BlockLiveRanges) ExitSet() map[ir.ValueNum]bool {
	out := make(map[ir.ValueNum]bool)
	for v, rng := range r.ranges {
		if rng.End == nil {
			out[v] = true
		}
	}
	return out
}

// LiveAt returns every value whose range covers instruction index i.
func (r *BlockLiveRanges) LiveAt(i int) map[ir.ValueNum]bool {
	out := make(map[ir.ValueNum]bool)
	for v, rng := range r.ranges {
		start := 0
		if rng.Start != nil {
			start = *rng.Start
		}
		end := len(r.Block.Instrs) - 1
		if rng.End != nil {
			end = *rng.End
		}
		if start <= i && i <= end {
			out[v] = true
		}
	}
	return out
}

// String renders a live-range chart in the original's +/-/< / > notation
// (ToString in block_live_ranges.cc), useful for debugger/diagnostic dumps.
func (r *BlockLiveRanges) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "block %d - live ranges:\n", r.Block.Num)
	vals := make([]ir.ValueNum, 0, len(r.ranges))
	for v := range r.ranges {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	n := len(r.Block.Instrs)
	for _, v := range vals {
		rng := r.ranges[v]
		if rng.Start == nil {
			sb.WriteByte('<')
		} else {
			sb.WriteByte(' ')
		}
		for i := 0; i < n; i++ {
			switch {
			case rng.Start != nil && *rng.Start == i, rng.End != nil && *rng.End == i:
				sb.WriteByte('+')
			case inRange(rng, i, n):
				sb.WriteByte('-')
			default:
				sb.WriteByte(' ')
			}
		}
		if rng.End == nil {
			sb.WriteByte('>')
		} else {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, " %%%d\n", v)
	}
	return sb.String()
}

func inRange(rng *ValueRange, i, n int) bool {
	start := 0
	if rng.Start != nil {
		start = *rng.Start
	}
	end := n - 1
	if rng.End != nil {
		end = *rng.End
	}
	return start <= i && i <= end
}

// FuncLiveRanges maps every block of a function to its BlockLiveRanges,
// after the global fixed point has converged.
type FuncLiveRanges struct {
	Func   *ir.Func
	Blocks map[ir.BlockNum]*BlockLiveRanges
}

// BuildLiveRanges implements spec §4.5's per-block back-walk followed by the
// global fixed point.
func BuildLiveRanges(f *ir.Func) *FuncLiveRanges {
	result := &FuncLiveRanges{Func: f, Blocks: make(map[ir.BlockNum]*BlockLiveRanges)}
	for _, b := range f.Blocks() {
		result.Blocks[b.Num] = computeBlockRanges(b)
	}

	// A phi argument is a use that belongs to the predecessor it is
	// inherited from, not to the block holding the phi (spec §4.5: "they
	// live out of the predecessor identified by the inherited origin").
	// computeBlockRanges skips phi uses entirely, so that predecessor's
	// exit set is seeded here before the fixed point below propagates it
	// further up the graph.
	for _, b := range f.Blocks() {
		for _, c := range b.Children {
			child, ok := f.Block(c)
			if !ok {
				continue
			}
			for _, in := range child.Phis() {
				for _, arg := range in.PhiArgs {
					if arg.Origin.From != b.Num {
						continue
					}
					if inner := arg.Origin.Inner; inner != nil && inner.Kind == ir.ValComputed {
						result.Blocks[b.Num].propagateFromExit(inner.Num)
					}
				}
			}
		}
	}

	changed := true
	for changed {
		changed = false
		for _, b := range f.Blocks() {
			entry := result.Blocks[b.Num].EntrySet()
			for _, p := range b.Parents {
				pr := result.Blocks[p]
				for v := range entry {
					if pr.propagateFromExit(v) {
						changed = true
					}
				}
			}
		}
	}
	return result
}

// computeBlockRanges performs the local back-walk of one block: definitions
// set the range's start, uses push the range's end forward, and phi uses at
// the block's own head are excluded (they belong to the predecessor's exit,
// per spec §4.5).
func computeBlockRanges(b *ir.Block) *BlockLiveRanges {
	r := newBlockLiveRanges(b)
	for i := len(b.Instrs) - 1; i >= 0; i-- {
		in := b.Instrs[i]
		for _, d := range in.Defs {
			r.addDefinition(d, i)
		}
		if in.Op == ir.OpPhi {
			continue // phi uses live out of the named predecessor, not here
		}
		for _, v := range in.UsedValues() {
			if v.Kind == ir.ValComputed {
				r.addUse(v.Num, i)
			}
		}
	}
	return r
}
