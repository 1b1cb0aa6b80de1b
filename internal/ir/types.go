package ir

import "fmt"

// TypeKind tags the atomic (or compound) shape of a Type.
type TypeKind int

const (
	Bool TypeKind = iota
	Int
	Pointer
	Func
)

func (k TypeKind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Pointer:
		return "pointer"
	case Func:
		return "func"
	default:
		return "?"
	}
}

// Type is a value's IR type. Bool/Pointer are singletons; Int carries a
// width and signedness; Func carries a signature and is interned by
// structural equality in a Program's TypeTable so that two functions with
// identical signatures share one *Type (spec §3, §4.2).
type Type struct {
	Kind TypeKind

	// Valid when Kind == Int.
	IntBits   int
	IntSigned bool

	// Valid when Kind == Func.
	FuncParams  []*Type
	FuncResults []*Type
}

var (
	BoolType    = &Type{Kind: Bool}
	PointerType = &Type{Kind: Pointer}
)

// IntType returns (a pointer to) the Int type of the given width/sign.
// Atomic int types are not interned per-instance (they are cheap value
// types identified by width+sign, compared with Equal), matching spec §3's
// note that only compound types need table interning.
func IntType(bits int, signed bool) *Type {
	return &Type{Kind: Int, IntBits: bits, IntSigned: signed}
}

// Equal reports structural equality, the predicate the TypeTable interns by
// and the verifier's operand-type checks use throughout.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil {
		return false
	}
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case Bool, Pointer:
		return true
	case Int:
		return t.IntBits == o.IntBits && t.IntSigned == o.IntSigned
	case Func:
		if len(t.FuncParams) != len(o.FuncParams) || len(t.FuncResults) != len(o.FuncResults) {
			return false
		}
		for i := range t.FuncParams {
			if !t.FuncParams[i].Equal(o.FuncParams[i]) {
				return false
			}
		}
		for i := range t.FuncResults {
			if !t.FuncResults[i].Equal(o.FuncResults[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (t *Type) String() string {
	switch t.Kind {
	case Bool:
		return "bool"
	case Pointer:
		return "ptr"
	case Int:
		sign := "i"
		if !t.IntSigned {
			sign = "u"
		}
		return fmt.Sprintf("%s%d", sign, t.IntBits)
	case Func:
		s := "func("
		for i, p := range t.FuncParams {
			if i > 0 {
				s += ", "
			}
			s += p.String()
		}
		s += ")"
		if len(t.FuncResults) > 0 {
			s += " ("
			for i, r := range t.FuncResults {
				if i > 0 {
					s += ", "
				}
				s += r.String()
			}
			s += ")"
		}
		return s
	default:
		return "<bad type>"
	}
}

// TypeTable interns compound (Func) types by structural equality so that
// repeated lookups of an identical signature return the same *Type,
// stable for the program's lifetime (spec §4.2). Atomic types need no
// interning; TypeTable only tracks Func signatures.
type TypeTable struct {
	funcs []*Type
}

// NewTypeTable creates an empty interning table.
func NewTypeTable() *TypeTable {
	return &TypeTable{}
}

// InternFunc returns the canonical *Type for the given signature, adding it
// to the table on first sight.
func (tt *TypeTable) InternFunc(params, results []*Type) *Type {
	candidate := &Type{Kind: Func, FuncParams: params, FuncResults: results}
	for _, existing := range tt.funcs {
		if existing.Equal(candidate) {
			return existing
		}
	}
	tt.funcs = append(tt.funcs, candidate)
	return candidate
}

// IsAtomicConvertible reports whether t is one of the four atomics that
// Conversion instructions may convert between (spec §3: "between
// bool/int/pointer/func (any pair of these atomics)").
func (t *Type) IsAtomicConvertible() bool {
	switch t.Kind {
	case Bool, Int, Pointer, Func:
		return true
	default:
		return false
	}
}
