// Command emberc is the Ember driver: a REPL when given no arguments,
// a one-shot file runner when given one. See SPEC_FULL.md §6.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"emberlang/internal/compiler"
	"emberlang/internal/debugtrace"
	"emberlang/internal/vm"
)

const usage = "usage: emberc [-trace] [-disassemble] [-prelude file] [file]"

func main() {
	trace := flag.Bool("trace", false, "print the value stack and each instruction before it executes")
	disassemble := flag.Bool("disassemble", false, "print the compiled chunk and exit without running it")
	prelude := flag.String("prelude", "", "run this file first and seed its globals into the real VM")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(64)
	}

	machine := vm.New()
	machine.Trace = *trace

	if *prelude != "" {
		loadPrelude(machine, *prelude)
	}

	if len(args) == 0 {
		runREPL(machine, *disassemble)
		return
	}

	source, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(74)
	}

	os.Exit(run(machine, string(source), *disassemble))
}

// loadPrelude runs file in a scratch VM and folds its globals into
// machine, so a library of common definitions can be shared between
// the REPL and file-mode runs without re-parsing it into the session
// that actually executes user code.
func loadPrelude(machine *vm.VM, file string) {
	source, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(74)
	}
	scratch := vm.New()
	if result := scratch.Interpret(string(source)); result != vm.OK {
		os.Exit(exitCode(result))
	}
	machine.ImportGlobals(scratch)
}

func exitCode(result vm.Result) int {
	switch result {
	case vm.CompileError:
		return 65
	case vm.RuntimeError:
		return 70
	default:
		return 0
	}
}

func runREPL(machine *vm.VM, disassemble bool) {
	prompt := isatty.IsTerminal(os.Stdin.Fd())
	reader := bufio.NewScanner(os.Stdin)

	for {
		if prompt {
			fmt.Print("> ")
		}
		if !reader.Scan() {
			return
		}
		run(machine, reader.Text(), disassemble)
	}
}

// run compiles source and either dumps its disassembly (without
// executing, per SPEC_FULL.md §6's -disassemble flag) or hands it to
// machine, returning the process exit code for that outcome.
func run(machine *vm.VM, source string, disassemble bool) int {
	if disassemble {
		c, cerr := compiler.Compile(source, machine)
		if cerr != nil {
			for _, e := range cerr.Errors {
				fmt.Fprintln(os.Stderr, e)
			}
			return 65
		}
		debugtrace.DisassembleChunk(os.Stdout, c, "disassembly")
		fmt.Fprintln(os.Stdout, debugtrace.Summary(c))
		return 0
	}

	return exitCode(machine.Interpret(source))
}
