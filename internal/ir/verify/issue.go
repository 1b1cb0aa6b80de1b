// Package verify implements the IR verifier (spec §4.4): a single pass over
// a Program that reports every well-formedness violation it can find,
// never stopping at the first one.
package verify

import (
	"fmt"

	"katara/internal/ir"
)

// IssueKind is the closed enumeration of verifier diagnostics.
type IssueKind int

const (
	ValueUsedInMultipleFunctions IssueKind = iota
	ValueNumberReused
	ValueIsParamAndResult
	ValueDefinedTwice
	UseOfUnregisteredValue
	InheritedValueOutsidePhi
	UseNotDominatedByDefinition
	EntryBlockHasParents
	NonEntryBlockHasNoParents
	BlockIsEmpty
	LastInstructionNotTerminator
	TerminatorNotLast
	PhiMisplaced
	PhiArgumentCountMismatch
	TerminatorDestinationMismatch
	OperandTypeMismatch
	CallSignatureMismatch
)

func (k IssueKind) String() string {
	names := [...]string{
		"ValueUsedInMultipleFunctions", "ValueNumberReused", "ValueIsParamAndResult",
		"ValueDefinedTwice", "UseOfUnregisteredValue", "InheritedValueOutsidePhi",
		"UseNotDominatedByDefinition", "EntryBlockHasParents", "NonEntryBlockHasNoParents",
		"BlockIsEmpty", "LastInstructionNotTerminator", "TerminatorNotLast",
		"PhiMisplaced", "PhiArgumentCountMismatch", "TerminatorDestinationMismatch",
		"OperandTypeMismatch", "CallSignatureMismatch",
	}
	if int(k) >= 0 && int(k) < len(names) {
		return names[k]
	}
	return "?"
}

// Severity distinguishes issues that merely flag a defect from ones that
// make the rest of verification (or downstream passes) unsafe to attempt.
type Severity int

const (
	SeverityError Severity = iota
	SeverityFatal
)

// Scope names the level of the program an Issue concerns.
type ScopeKind int

const (
	ScopeProgram ScopeKind = iota
	ScopeFunction
	ScopeBlock
	ScopeInstruction
)

// Issue is one verifier diagnostic (spec §4.4): a kind tag, the scope it
// was found in, the objects involved, and a human message.
type Issue struct {
	Kind      IssueKind
	Severity  Severity
	Scope     ScopeKind
	Func      ir.FuncNum
	Block     ir.BlockNum
	Ranges    []ir.SourceRange
	Message   string
}

func (i *Issue) Error() string {
	return fmt.Sprintf("%s: %s", i.Kind, i.Message)
}

func newIssue(kind IssueKind, scope ScopeKind, f ir.FuncNum, b ir.BlockNum, msg string, ranges ...ir.SourceRange) *Issue {
	return &Issue{Kind: kind, Severity: SeverityError, Scope: scope, Func: f, Block: b, Message: msg, Ranges: ranges}
}
