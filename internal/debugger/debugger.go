// Package debugger provides a two-thread debugger around the IR
// interpreter: a worker goroutine executes interpreter steps, a controller
// observes and commands it through synchronized accessors (spec §4.8).
package debugger

import (
	"fmt"
	"sync"

	"katara/internal/interp"
)

// State is one of the debugger's four execution states.
type State int

const (
	Running State = iota
	Pausing
	Paused
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Pausing:
		return "pausing"
	case Paused:
		return "paused"
	case Terminated:
		return "terminated"
	default:
		return "?"
	}
}

// command is the step granularity requested by Run/StepIn/StepOver/StepOut,
// grounded on the original's ir_interpreter::Debugger::ExecutionCommand.
type command int

const (
	cmdRun command = iota
	cmdStepIn
	cmdStepOver
	cmdStepOut
)

// Debugger wraps an *interp.Interp with the worker/controller concurrency
// contract of spec §4.8: a single worker goroutine mutates interpreter
// state; the controller only observes through locked accessors.
type Debugger struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state State

	interp *interp.Interp
}

// New creates a Debugger paused at the interpreter's initial state.
func New(in *interp.Interp) *Debugger {
	d := &Debugger{interp: in, state: Paused}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// State returns the current execution state.
func (d *Debugger) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run resumes execution and pauses only on an explicit Pause or termination.
func (d *Debugger) Run() error { return d.startExecution(cmdRun) }

// StepIn resumes execution and pauses after exactly one interpreter step.
func (d *Debugger) StepIn() error { return d.startExecution(cmdStepIn) }

// StepOver resumes execution and pauses once the stack depth returns to (or
// below) its depth at the moment StepOver was issued — i.e. it does not
// pause inside a call made by the stepped-over instruction.
func (d *Debugger) StepOver() error { return d.startExecution(cmdStepOver) }

// StepOut resumes execution and pauses once the stack depth drops below its
// depth at the moment StepOut was issued — i.e. the current frame returns.
func (d *Debugger) StepOut() error { return d.startExecution(cmdStepOut) }

func (d *Debugger) startExecution(cmd command) error {
	d.mu.Lock()
	if d.state != Paused {
		d.mu.Unlock()
		return fmt.Errorf("debugger: program is not paused")
	}
	d.state = Running
	initialDepth := d.interp.StackDepth()
	d.mu.Unlock()

	go d.execute(cmd, initialDepth)
	return nil
}

// execute is the worker goroutine's body: it steps the interpreter until
// termination, the requested command's stop condition is met, or a pending
// Pause request is observed.
func (d *Debugger) execute(cmd command, initialDepth int) {
	for {
		err := d.interp.Step()

		d.mu.Lock()
		if d.interp.Terminated || err != nil {
			d.state = Terminated
			d.cond.Broadcast()
			d.mu.Unlock()
			return
		}
		if commandSatisfied(cmd, initialDepth, d.interp.StackDepth()) {
			d.state = Paused
			d.cond.Broadcast()
			d.mu.Unlock()
			return
		}
		if d.state == Pausing {
			d.state = Paused
			d.cond.Broadcast()
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
	}
}

func commandSatisfied(cmd command, initialDepth, currentDepth int) bool {
	switch cmd {
	case cmdStepIn:
		return true
	case cmdStepOver:
		return currentDepth <= initialDepth
	case cmdStepOut:
		return currentDepth < initialDepth
	case cmdRun:
		return false
	default:
		return false
	}
}

// Pause requests that a Running worker transition to Paused between steps.
// A no-op outside the Running state.
func (d *Debugger) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Running {
		d.state = Pausing
	}
}

// PauseAndAwait requests a pause and blocks until it takes effect.
func (d *Debugger) PauseAndAwait() {
	d.Pause()
	d.AwaitPause()
}

// AwaitPause blocks until the debugger reaches Paused or Terminated.
func (d *Debugger) AwaitPause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.state != Paused && d.state != Terminated {
		d.cond.Wait()
	}
}

// AwaitTermination blocks until the interpreted program terminates.
func (d *Debugger) AwaitTermination() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.state != Terminated {
		d.cond.Wait()
	}
}

// ExitCode returns the interpreted program's exit code. Valid only once
// Terminated.
func (d *Debugger) ExitCode() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Terminated {
		return 0, fmt.Errorf("debugger: program has not terminated")
	}
	return d.interp.ExitCode, nil
}

// StackDepth returns a snapshot of the current call-stack depth. Valid only
// while Paused.
func (d *Debugger) StackDepth() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Paused {
		return 0, fmt.Errorf("debugger: program is not paused")
	}
	return d.interp.StackDepth(), nil
}

// Heap returns the interpreter's heap for inspection. Valid only while
// Paused; the returned value must not be mutated by the caller.
func (d *Debugger) Heap() (*interp.Heap, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Paused {
		return nil, fmt.Errorf("debugger: program is not paused")
	}
	return d.interp.Heap, nil
}
