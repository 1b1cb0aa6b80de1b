// cmd/katara-ir/main.go
//
// katara-ir is the thin driver wiring the compiler-backend core's pipeline:
// parse -> verify -> (check, or) liveness/regalloc/lowering -> encode -> link.
// Flag parsing itself stays out of scope (spec's non-goals); the driver
// accepts exactly one positional argument, an IR text file, and one mode
// flag selecting what to do with it, mirroring the original katara-ir's
// exit-code contract (internal/diag.ExitCode).
package main

import (
	"fmt"
	"os"

	"katara/internal/diag"
	"katara/internal/interp"
	"katara/internal/ir"
	"katara/internal/ir/irtext"
	"katara/internal/ir/verify"
	"katara/internal/link"
	"katara/internal/lower"
	"katara/internal/x86asm"
)

func main() {
	os.Exit(int(run(os.Args[1:])))
}

func run(args []string) diag.ExitCode {
	mode := "check"
	var file string
	for _, a := range args {
		switch a {
		case "-check", "-interpret", "-asm":
			mode = a[1:]
		default:
			if file != "" {
				fmt.Fprintln(os.Stderr, "katara-ir: more than one file argument")
				return diag.ExitMoreThanOneArgument
			}
			file = a
		}
	}
	if file == "" {
		fmt.Fprintln(os.Stderr, "usage: katara-ir [-check|-interpret|-asm] <file.kir>")
		return diag.ExitMoreThanOneArgument
	}

	src, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "katara-ir: %v\n", err)
		return diag.ExitParseFailed
	}

	prog, errs := irtext.ParseProgram(file, string(src))
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "%v\n", e)
		}
		return diag.ExitParseFailed
	}

	issues := verify.Verify(prog)
	if len(issues) > 0 {
		diag.FormatIssues(os.Stderr, issues)
		return diag.ExitCheckFailed
	}

	switch mode {
	case "check":
		fmt.Println("ok")
		return diag.ExitNoError
	case "interpret":
		return runInterpret(prog)
	case "asm":
		return runAssemble(prog)
	default:
		fmt.Fprintf(os.Stderr, "katara-ir: unknown mode %q\n", mode)
		return diag.ExitMoreThanOneArgument
	}
}

func runInterpret(prog *ir.Program) diag.ExitCode {
	in, err := interp.New(prog, true, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "katara-ir: %v\n", err)
		return diag.ExitInterpretFailed
	}
	if err := in.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "katara-ir: %v\n", err)
		return diag.ExitInterpretFailed
	}
	fmt.Printf("exit code: %d\n", in.ExitCode)
	return diag.ExitNoError
}

// runAssemble lowers every function to x86-64 and links them into one
// contiguous code blob starting at a nominal base address (spec §4.10/§4.11).
// Process execution of the encoded bytes is outside this core's scope; this
// mode exists to exercise the lowering/encoding/linking pipeline end to end.
func runAssemble(prog *ir.Program) diag.ExitCode {
	const base = 0x400000
	lk := link.New(base)
	lw := lower.New(prog)

	for _, f := range prog.Funcs() {
		lf, err := lw.LowerFunc(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "katara-ir: %v\n", err)
			return diag.ExitCheckFailed
		}
		if len(lf.Blocks) == 0 {
			continue
		}
		lk.SetFuncAddress(lf.XFunc, lk.Address(lk.Len()))
		for _, b := range lf.Blocks {
			lk.SetBlockAddress(b.XBlock, lk.Address(lk.Len()))
			enc := x86asm.NewEncoder()
			for _, instr := range b.Instrs {
				if _, err := enc.Encode(instr); err != nil {
					fmt.Fprintf(os.Stderr, "katara-ir: func %d block %d: %v\n", f.Num, b.XBlock, err)
					return diag.ExitCheckFailed
				}
			}
			lk.Append(enc)
		}
	}

	result, err := lk.ApplyPatches()
	if err != nil {
		fmt.Fprintf(os.Stderr, "katara-ir: %v\n", err)
		return diag.ExitCheckFailed
	}
	fmt.Printf("linked %d bytes, build %s\n", len(result.Code), result.BuildID)
	return diag.ExitNoError
}
