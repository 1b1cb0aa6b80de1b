package ir

// DominatorOf returns the immediate dominator of block n, or NoBlock if n
// is the entry block (which has no dominator) or unreachable. The
// computation runs at demand and is memoized until the CFG changes (spec
// §4.2).
func (f *Func) DominatorOf(n BlockNum) BlockNum {
	f.ensureDominators()
	if idom, ok := f.dom[n]; ok {
		return idom
	}
	return NoBlock
}

// Dominates reports whether a dominates b (reflexively: a dominates a).
func (f *Func) Dominates(a, b BlockNum) bool {
	if a == b {
		return true
	}
	f.ensureDominators()
	cur := b
	for {
		idom, ok := f.dom[cur]
		if !ok {
			return false
		}
		if idom == a {
			return true
		}
		if idom == cur {
			return false
		}
		cur = idom
	}
}

// ensureDominators computes the immediate-dominator relation using the
// standard iterative (Cooper/Harvey/Kennedy) fixed-point algorithm over a
// reverse-postorder numbering of blocks reachable from the entry.
func (f *Func) ensureDominators() {
	if f.domValid {
		return
	}
	f.dom = make(map[BlockNum]BlockNum)
	if f.EntryBlock == NoBlock {
		f.domValid = true
		return
	}
	order := f.reversePostorder()
	if len(order) == 0 {
		f.domValid = true
		return
	}
	index := make(map[BlockNum]int, len(order))
	for i, b := range order {
		index[b] = i
	}

	idom := make(map[BlockNum]int) // by rpo index; -1 = undefined
	for i := range order {
		idom[i2b(order, i)] = -1
	}
	entryIdx := 0
	idom[order[entryIdx]] = entryIdx

	changed := true
	for changed {
		changed = false
		for i := 1; i < len(order); i++ {
			b := order[i]
			blk := f.MustBlock(b)
			newIdom := -1
			for _, p := range blk.Parents {
				pi, ok := index[p]
				if !ok || idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = pi
					continue
				}
				newIdom = intersect(idom, order, index, newIdom, pi)
			}
			if newIdom != -1 && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	for _, b := range order {
		ii := idom[b]
		if ii == -1 {
			continue
		}
		idomBlock := order[ii]
		if idomBlock == b {
			continue // entry: no dominator
		}
		f.dom[b] = idomBlock
	}
	f.domValid = true
}

func i2b(order []BlockNum, i int) BlockNum { return order[i] }

// intersect walks both fingers up the (still-partial) dominator tree,
// indexed by rpo position, until they meet; idom here maps BlockNum->rpo
// index of its dominator.
func intersect(idom map[BlockNum]int, order []BlockNum, index map[BlockNum]int, a, b int) int {
	for a != b {
		for a > b {
			a = idom[order[a]]
		}
		for b > a {
			b = idom[order[b]]
		}
	}
	return a
}

// reversePostorder computes a reverse-postorder traversal of blocks
// reachable from the entry block.
func (f *Func) reversePostorder() []BlockNum {
	if f.EntryBlock == NoBlock {
		return nil
	}
	visited := make(map[BlockNum]bool)
	var post []BlockNum
	var visit func(BlockNum)
	visit = func(b BlockNum) {
		if visited[b] {
			return
		}
		visited[b] = true
		blk, ok := f.Block(b)
		if !ok {
			return
		}
		for _, c := range blk.Children {
			visit(c)
		}
		post = append(post, b)
	}
	visit(f.EntryBlock)
	// reverse
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}
