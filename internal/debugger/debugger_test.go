package debugger

import (
	"testing"
	"time"

	"katara/internal/atomics"
	"katara/internal/interp"
	"katara/internal/ir"
)

// buildCountdown builds a self-recursive function so call depth is
// observable: f(n) calls f(n-1) until n == 0, then returns 0.
func buildCountdown() *ir.Program {
	prog := ir.NewProgram()
	f := prog.AddFunc()
	i64 := ir.IntType(64, true)
	f.ResultTypes = []*ir.Type{i64}
	prog.EntryFunc = f.Num

	n := f.AddParam(i64)

	entry := f.AddBlock()
	f.EntryBlock = entry.Num
	baseCase := f.AddBlock()
	recurse := f.AddBlock()
	f.AddControlFlow(entry.Num, baseCase.Num)
	f.AddControlFlow(entry.Num, recurse.Num)

	isZero := f.NextValueNum()
	zero := ir.IntConst(atomics.NewInt(64, true, 0))
	entry.AddInstr(ir.NewIntCompare(isZero, atomics.Eq, ir.Computed(n.Num, i64), zero, ir.SourceRange{}))
	entry.AddInstr(ir.NewJumpCond(ir.Computed(isZero, ir.BoolType), baseCase.Num, recurse.Num, ir.SourceRange{}))

	baseCase.AddInstr(ir.NewReturn([]ir.Value{zero}, ir.SourceRange{}))

	one := ir.IntConst(atomics.NewInt(64, true, 1))
	nMinusOne := f.NextValueNum()
	recurse.AddInstr(ir.NewIntBinary(nMinusOne, i64, atomics.Sub, ir.Computed(n.Num, i64), one, ir.SourceRange{}))
	callResult := f.NextValueNum()
	recurse.AddInstr(ir.NewCall([]ir.ValueNum{callResult}, []*ir.Type{i64}, ir.FuncConst(f.Num), []ir.Value{ir.Computed(nMinusOne, i64)}, ir.SourceRange{}))
	recurse.AddInstr(ir.NewReturn([]ir.Value{ir.Computed(callResult, i64)}, ir.SourceRange{}))

	return prog
}

func newPausedDebugger(t *testing.T) *Debugger {
	t.Helper()
	in, err := interp.New(buildCountdown(), true, []ir.Value{ir.IntConst(atomics.NewInt(64, true, 2))})
	if err != nil {
		t.Fatalf("interp.New: %v", err)
	}
	return New(in)
}

func TestDebuggerStartsPaused(t *testing.T) {
	d := newPausedDebugger(t)
	if got := d.State(); got != Paused {
		t.Fatalf("got state %v, want Paused", got)
	}
}

func TestDebuggerRunToTermination(t *testing.T) {
	d := newPausedDebugger(t)
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	d.AwaitTermination()
	code, err := d.ExitCode()
	if err != nil {
		t.Fatalf("ExitCode: %v", err)
	}
	if code != 0 {
		t.Errorf("got exit code %d, want 0", code)
	}
}

func TestDebuggerStepInAdvancesOneInstruction(t *testing.T) {
	d := newPausedDebugger(t)
	if err := d.StepIn(); err != nil {
		t.Fatalf("StepIn: %v", err)
	}
	d.AwaitPause()
	if got := d.State(); got != Paused {
		t.Fatalf("got state %v after one step, want Paused", got)
	}
}

func TestDebuggerAccessorsFailOutsidePausedState(t *testing.T) {
	d := newPausedDebugger(t)
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	d.AwaitTermination()

	if _, err := d.StackDepth(); err == nil {
		t.Error("expected StackDepth to fail once terminated")
	}
}

func TestDebuggerPauseDuringRun(t *testing.T) {
	d := newPausedDebugger(t)
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	time.Sleep(time.Microsecond) // let the worker start before we race it with Pause
	d.PauseAndAwait()
	switch d.State() {
	case Paused, Terminated:
	default:
		t.Fatalf("got state %v after PauseAndAwait, want Paused or Terminated", d.State())
	}
}
