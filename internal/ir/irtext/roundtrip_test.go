package irtext

import (
	"testing"

	"katara/internal/ir"
)

const sumLoopSrc = `# sum of 0..9
func @0()(i64) {
entry 0
block 0 {
%0 = mov i64 i64(0)
%1 = mov i64 i64(0)
jump 1
}
block 1 {
%2 = phi i64 <i64(0) : 0, %5 : 2>
%3 = phi i64 <i64(0) : 0, %6 : 2>
%4 = icmp lss %3, i64(10)
jumpcond %4, 2, 3
}
block 2 {
%5 = ibin add i64 %2, %3
%6 = ibin add i64 %3, i64(1)
jump 1
}
block 3 {
return %2
}
}
`

func TestParsePrintRoundTrip(t *testing.T) {
	prog, errs := ParseProgram("sum.ir", sumLoopSrc)
	for _, e := range errs {
		t.Fatalf("unexpected parse error: %v", e)
	}
	printed := Print(prog)

	prog2, errs2 := ParseProgram("sum.ir", printed)
	for _, e := range errs2 {
		t.Fatalf("unexpected parse error on reparse: %v\n--- printed ---\n%s", e, printed)
	}
	printed2 := Print(prog2)
	if printed != printed2 {
		t.Errorf("printer is not idempotent:\n--- first ---\n%s\n--- second ---\n%s", printed, printed2)
	}
	if !structurallyEqual(prog, prog2) {
		t.Errorf("reparsed program is not structurally equal to the original")
	}
}

func structurallyEqual(a, b *ir.Program) bool {
	fa, fb := a.Funcs(), b.Funcs()
	if len(fa) != len(fb) {
		return false
	}
	for i := range fa {
		if len(fa[i].Blocks()) != len(fb[i].Blocks()) {
			return false
		}
		ba, bb := fa[i].Blocks(), fb[i].Blocks()
		for j := range ba {
			if len(ba[j].Instrs) != len(bb[j].Instrs) {
				return false
			}
			for k := range ba[j].Instrs {
				if ba[j].Instrs[k].Op != bb[j].Instrs[k].Op {
					return false
				}
			}
		}
	}
	return true
}

func TestScannerReportsUnterminatedString(t *testing.T) {
	sc := NewScanner("t.ir", `%0 = mov i64 "unterminated`)
	sc.ScanAll()
	if len(sc.Errors()) == 0 {
		t.Fatal("expected an unterminated-string scan error")
	}
	if sc.Errors()[0].Kind != ErrEOFInsteadOfStringEndQuote {
		t.Errorf("got %v, want ErrEOFInsteadOfStringEndQuote", sc.Errors()[0].Kind)
	}
}

func TestScannerHexAddress(t *testing.T) {
	sc := NewScanner("t.ir", "0x2a")
	toks := sc.ScanAll()
	if len(sc.Errors()) != 0 {
		t.Fatalf("unexpected scan errors: %v", sc.Errors())
	}
	if toks[0].NumberValue != 42 {
		t.Errorf("got %d, want 42", toks[0].NumberValue)
	}
}
