package ir

import "fmt"

// Program owns a set of Functions indexed by a dense function number,
// records the entry function (or NoFunc), and owns the type table that
// interns compound types by value identity (spec §3).
type Program struct {
	Types *TypeTable

	funcs      map[FuncNum]*Func
	funcOrder  []FuncNum
	nextFunc   FuncNum
	EntryFunc  FuncNum
}

// NewProgram creates an empty program with no entry function.
func NewProgram() *Program {
	return &Program{
		Types:     NewTypeTable(),
		funcs:     make(map[FuncNum]*Func),
		EntryFunc: NoFunc,
	}
}

// AddFunc allocates and inserts a fresh function, returning it.
func (p *Program) AddFunc() *Func {
	n := p.nextFunc
	p.nextFunc++
	f := NewFunc(n)
	p.funcs[n] = f
	p.funcOrder = append(p.funcOrder, n)
	return f
}

// AddFuncNumbered inserts a function at an explicit number, refusing to
// overwrite an already-used number (spec §4.2).
func (p *Program) AddFuncNumbered(n FuncNum) (*Func, error) {
	if _, exists := p.funcs[n]; exists {
		return nil, fmt.Errorf("ir: function number %d already in use", n)
	}
	f := NewFunc(n)
	p.funcs[n] = f
	p.funcOrder = append(p.funcOrder, n)
	if n >= p.nextFunc {
		p.nextFunc = n + 1
	}
	return f, nil
}

// Func looks up a function by number.
func (p *Program) Func(n FuncNum) (*Func, bool) {
	f, ok := p.funcs[n]
	return f, ok
}

// MustFunc looks up a function, failing fast on an unknown number.
func (p *Program) MustFunc(n FuncNum) *Func {
	f, ok := p.funcs[n]
	if !ok {
		panic(fmt.Sprintf("ir: program has no function %d", n))
	}
	return f
}

// Funcs returns every function in insertion order.
func (p *Program) Funcs() []*Func {
	out := make([]*Func, 0, len(p.funcOrder))
	for _, n := range p.funcOrder {
		out = append(out, p.funcs[n])
	}
	return out
}

// RemoveFunc deletes a function without recycling its number.
func (p *Program) RemoveFunc(n FuncNum) {
	delete(p.funcs, n)
	for i, x := range p.funcOrder {
		if x == n {
			p.funcOrder = append(p.funcOrder[:i], p.funcOrder[i+1:]...)
			break
		}
	}
}
