package ir

import "fmt"

// Param is a function's formal parameter: it is itself a Computed value,
// numbered in the function's value space (spec §3).
type Param struct {
	Num ValueNum
	Typ *Type
}

// Func owns a dense, monotonically-numbered set of Blocks and distributes
// fresh value numbers to its instructions/parameters on demand (spec §3,
// §4.2). Removing a numbered block or value does not recycle its number.
type Func struct {
	Num FuncNum

	Params      []Param
	ResultTypes []*Type

	blocks      map[BlockNum]*Block
	blockOrder  []BlockNum // insertion order, for deterministic iteration
	nextBlock   BlockNum
	EntryBlock  BlockNum

	nextValue ValueNum

	dom        map[BlockNum]BlockNum // memoized immediate-dominator relation
	domValid   bool
}

// NewFunc creates an empty function with no blocks and no entry.
func NewFunc(num FuncNum) *Func {
	return &Func{
		Num:        num,
		blocks:     make(map[BlockNum]*Block),
		EntryBlock: NoBlock,
	}
}

// NextValueNum distributes a fresh, never-reused value number.
func (f *Func) NextValueNum() ValueNum {
	n := f.nextValue
	f.nextValue++
	return n
}

// AddParam registers a parameter, itself a fresh Computed value.
func (f *Func) AddParam(t *Type) Param {
	p := Param{Num: f.NextValueNum(), Typ: t}
	f.Params = append(f.Params, p)
	return p
}

// AddBlock allocates and inserts a fresh block, returning it.
func (f *Func) AddBlock() *Block {
	n := f.nextBlock
	f.nextBlock++
	b := newBlock(n)
	f.blocks[n] = b
	f.blockOrder = append(f.blockOrder, n)
	f.invalidateDominators()
	return b
}

// Block looks up a block by number.
func (f *Func) Block(n BlockNum) (*Block, bool) {
	b, ok := f.blocks[n]
	return b, ok
}

// MustBlock looks up a block, failing fast on an unknown number (an
// internal-invariant violation per spec §7, never a user-visible issue).
func (f *Func) MustBlock(n BlockNum) *Block {
	b, ok := f.blocks[n]
	if !ok {
		panic(fmt.Sprintf("ir: function %d has no block %d", f.Num, n))
	}
	return b
}

// Blocks returns every block in insertion order.
func (f *Func) Blocks() []*Block {
	out := make([]*Block, 0, len(f.blockOrder))
	for _, n := range f.blockOrder {
		out = append(out, f.blocks[n])
	}
	return out
}

// BlocksByNumber returns every block ordered by ascending block number,
// the deterministic order the lowering walks blocks in (spec §4.10).
func (f *Func) BlocksByNumber() []*Block {
	out := f.Blocks()
	// blockOrder == ascending number since numbers are assigned in order
	// and never recycled; sort defensively in case of future reordering.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Num < out[j-1].Num; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// RemoveBlock deletes a block without recycling its number.
func (f *Func) RemoveBlock(n BlockNum) {
	delete(f.blocks, n)
	for i, x := range f.blockOrder {
		if x == n {
			f.blockOrder = append(f.blockOrder[:i], f.blockOrder[i+1:]...)
			break
		}
	}
	f.invalidateDominators()
}

// AddControlFlow records an edge from -> to, keeping parents/children sets
// consistent on both ends (spec §4.2).
func (f *Func) AddControlFlow(from, to BlockNum) {
	fb := f.MustBlock(from)
	tb := f.MustBlock(to)
	if !fb.hasChild(to) {
		fb.Children = append(fb.Children, to)
	}
	if !tb.hasParent(from) {
		tb.Parents = append(tb.Parents, from)
	}
	f.invalidateDominators()
}

func (f *Func) invalidateDominators() {
	f.domValid = false
	f.dom = nil
}
