// Package vm implements the stack-based interpreter from spec.md §4.5:
// a dispatch loop over a sealed Chunk, a fixed-capacity value stack, a
// globals table, and the VM-owned string-interning table and object
// registry.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"emberlang/internal/chunk"
	"emberlang/internal/compiler"
	"emberlang/internal/debugtrace"
	"emberlang/internal/object"
	"emberlang/internal/table"
	"emberlang/internal/value"
)

// StackMax is the fixed value-stack capacity from spec.md §5.
const StackMax = 256

// Result is the three-way outcome of Interpret, spec.md §6.
type Result int

const (
	OK Result = iota
	CompileError
	RuntimeError
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case CompileError:
		return "COMPILE_ERROR"
	case RuntimeError:
		return "RUNTIME_ERROR"
	default:
		return "UNKNOWN"
	}
}

// VM holds everything spec.md §4.5 and §5 name: the running chunk and
// ip (scoped to run()), the value stack, the globals table, the
// interned-strings table, and the VM-owned object registry that
// replaces the intrusive per-object linked list (spec.md §9) — objects
// outlive any one Chunk and are only released in bulk on Free.
type VM struct {
	ID uuid.UUID

	stack    [StackMax]value.Value
	stackTop int

	globals table.Table
	strings table.Table
	objects []*object.String

	Stdout io.Writer
	Stderr io.Writer

	// Trace enables the -trace execution tracer from spec.md §4.5: the
	// stack and the next instruction are dumped before every dispatch.
	Trace bool
}

// New returns a VM with stdout/stderr wired to the process streams;
// Stdout/Stderr can be swapped out for testing.
func New() *VM {
	return &VM{
		ID:     uuid.New(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Free releases every heap object this VM ever allocated, and its
// globals/strings tables, in bulk — the intrusive-list teardown of
// spec.md §5 re-expressed as dropping the owning collection.
func (vm *VM) Free() {
	vm.objects = nil
	vm.globals = table.Table{}
	vm.strings = table.Table{}
}

// InternString returns the canonical *object.String for chars,
// allocating and registering a new one only if the table doesn't
// already hold it. Every string-creation path (literal compilation,
// runtime concatenation) must funnel through this (spec.md §3).
func (vm *VM) InternString(chars string) *object.String {
	hash := object.HashBytes(chars)
	if existing := vm.strings.FindString(chars, hash); existing != nil {
		return existing
	}
	s := &object.String{Chars: chars, Hash: hash}
	vm.objects = append(vm.objects, s)
	vm.strings.Set(s, value.NilValue())
	return s
}

// ImportGlobals copies every global defined in src into vm, the
// "seed a fresh globals table from a prelude" use case
// internal/table.Table.AddAll exists for: a prelude script is run once
// in a scratch VM and its globals are folded into the real one before
// the REPL or file-mode run begins.
func (vm *VM) ImportGlobals(src *VM) {
	src.globals.AddAll(&vm.globals)
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
}

// push takes the current chunk and ip so a stack-overflow hits the same
// "[line N] message" runtime-error path as every other failure mode
// (spec.md §7) instead of panicking.
func (vm *VM) push(c *chunk.Chunk, ip int, v value.Value) error {
	if vm.stackTop >= StackMax {
		return vm.runtimeError(c, ip, "Stack overflow.")
	}
	vm.stack[vm.stackTop] = v
	vm.stackTop++
	return nil
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

// Interpret compiles source into a fresh Chunk, runs it, and reports
// the outcome. The Chunk is owned by this call and discarded after;
// any heap objects created during compilation or execution remain
// owned by the VM (spec.md §6).
func (vm *VM) Interpret(source string) Result {
	c, err := compiler.Compile(source, vm)
	if err != nil {
		for _, e := range err.Errors {
			fmt.Fprintln(vm.Stderr, e)
		}
		return CompileError
	}

	if vm.Trace {
		fmt.Fprintf(vm.Stdout, "[session %s] %s\n", vm.ID, debugtrace.Summary(c))
	}

	vm.resetStack()
	if rerr := vm.run(c); rerr != nil {
		fmt.Fprintln(vm.Stderr, rerr)
		vm.resetStack()
		return RuntimeError
	}
	return OK
}

func (vm *VM) runtimeError(c *chunk.Chunk, ip int, format string, args ...interface{}) error {
	line := c.LineAt(ip - 1)
	return fmt.Errorf("[session %s] [line %d] %s", vm.ID, line, fmt.Sprintf(format, args...))
}

func readU16(c *chunk.Chunk, ip int) int {
	return int(c.Code[ip])<<8 | int(c.Code[ip+1])
}

// readU24 reads the big-endian 24-bit operand spec.md §4.3 specifies
// for OP_CONSTANT_LONG (reserved for a constant pool deeper than
// OP_CONSTANT's single byte can index).
func readU24(c *chunk.Chunk, ip int) int {
	return int(c.Code[ip])<<16 | int(c.Code[ip+1])<<8 | int(c.Code[ip+2])
}

func (vm *VM) run(c *chunk.Chunk) error {
	ip := 0

	for {
		if vm.Trace {
			vm.printTraceState(c, ip)
		}

		instruction := chunk.OpCode(c.Code[ip])
		ip++

		switch instruction {
		case chunk.OP_CONSTANT:
			idx := c.Code[ip]
			ip++
			if err := vm.push(c, ip, c.Constants[idx]); err != nil {
				return err
			}

		case chunk.OP_CONSTANT_LONG:
			idx := readU24(c, ip)
			ip += 3
			if err := vm.push(c, ip, c.Constants[idx]); err != nil {
				return err
			}

		case chunk.OP_NIL:
			if err := vm.push(c, ip, value.NilValue()); err != nil {
				return err
			}
		case chunk.OP_TRUE:
			if err := vm.push(c, ip, value.BoolValue(true)); err != nil {
				return err
			}
		case chunk.OP_FALSE:
			if err := vm.push(c, ip, value.BoolValue(false)); err != nil {
				return err
			}

		case chunk.OP_POP:
			vm.pop()

		case chunk.OP_POPN:
			n := int(c.Code[ip])
			ip++
			vm.stackTop -= n

		case chunk.OP_GET_LOCAL:
			slot := c.Code[ip]
			ip++
			if err := vm.push(c, ip, vm.stack[slot]); err != nil {
				return err
			}

		case chunk.OP_SET_LOCAL:
			slot := c.Code[ip]
			ip++
			vm.stack[slot] = vm.peek(0)

		case chunk.OP_DEFINE_GLOBAL:
			idx := c.Code[ip]
			ip++
			name := c.Constants[idx].AsObj
			vm.globals.Set(name, vm.pop())

		case chunk.OP_GET_GLOBAL:
			idx := c.Code[ip]
			ip++
			name := c.Constants[idx].AsObj
			v, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeError(c, ip, "Undefined variable '%s'.", name.Chars)
			}
			if err := vm.push(c, ip, v); err != nil {
				return err
			}

		case chunk.OP_SET_GLOBAL:
			idx := c.Code[ip]
			ip++
			name := c.Constants[idx].AsObj
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				return vm.runtimeError(c, ip, "Undefined variable '%s'.", name.Chars)
			}

		case chunk.OP_EQUAL:
			b := vm.pop()
			a := vm.pop()
			if err := vm.push(c, ip, value.BoolValue(value.Equal(a, b))); err != nil {
				return err
			}

		case chunk.OP_GREATER:
			if err := vm.binaryNumberOp(c, ip, func(a, b float64) value.Value {
				return value.BoolValue(a > b)
			}); err != nil {
				return err
			}

		case chunk.OP_LESS:
			if err := vm.binaryNumberOp(c, ip, func(a, b float64) value.Value {
				return value.BoolValue(a < b)
			}); err != nil {
				return err
			}

		case chunk.OP_DIAMOND:
			if err := vm.binaryNumberOp(c, ip, func(a, b float64) value.Value {
				switch {
				case a < b:
					return value.NumberValue(-1)
				case a > b:
					return value.NumberValue(1)
				default:
					return value.NumberValue(0)
				}
			}); err != nil {
				return err
			}

		case chunk.OP_ADD:
			b := vm.peek(0)
			a := vm.peek(1)
			switch {
			case a.Type == value.Number && b.Type == value.Number:
				vm.pop()
				vm.pop()
				if err := vm.push(c, ip, value.NumberValue(a.AsNum+b.AsNum)); err != nil {
					return err
				}
			case a.Type == value.Obj && b.Type == value.Obj:
				vm.pop()
				vm.pop()
				s := vm.InternString(a.AsObj.Chars + b.AsObj.Chars)
				if err := vm.push(c, ip, value.StringValue(s)); err != nil {
					return err
				}
			default:
				return vm.runtimeError(c, ip, "Operands must be numbers.")
			}

		case chunk.OP_SUBTRACT:
			if err := vm.binaryNumberOp(c, ip, func(a, b float64) value.Value {
				return value.NumberValue(a - b)
			}); err != nil {
				return err
			}

		case chunk.OP_MULTIPLY:
			if err := vm.binaryNumberOp(c, ip, func(a, b float64) value.Value {
				return value.NumberValue(a * b)
			}); err != nil {
				return err
			}

		case chunk.OP_DIVIDE:
			if err := vm.binaryNumberOp(c, ip, func(a, b float64) value.Value {
				return value.NumberValue(a / b)
			}); err != nil {
				return err
			}

		case chunk.OP_NEGATE:
			if vm.peek(0).Type != value.Number {
				return vm.runtimeError(c, ip, "Operands must be numbers.")
			}
			v := vm.pop()
			if err := vm.push(c, ip, value.NumberValue(-v.AsNum)); err != nil {
				return err
			}

		case chunk.OP_NOT:
			v := vm.pop()
			if err := vm.push(c, ip, value.BoolValue(v.IsFalsey())); err != nil {
				return err
			}

		case chunk.OP_JUMP:
			offset := readU16(c, ip)
			ip += 2
			ip += offset

		case chunk.OP_JUMP_IF_FALSE:
			offset := readU16(c, ip)
			ip += 2
			if vm.peek(0).IsFalsey() {
				ip += offset
			}

		case chunk.OP_LOOP:
			offset := readU16(c, ip)
			ip += 2
			ip -= offset

		case chunk.OP_PRINT:
			fmt.Fprintln(vm.Stdout, vm.pop())

		case chunk.OP_RETURN:
			return nil

		default:
			return vm.runtimeError(c, ip, "Unknown opcode %d.", instruction)
		}
	}
}

func (vm *VM) binaryNumberOp(c *chunk.Chunk, ip int, op func(a, b float64) value.Value) error {
	if vm.peek(0).Type != value.Number || vm.peek(1).Type != value.Number {
		return vm.runtimeError(c, ip, "Operands must be numbers.")
	}
	b := vm.pop()
	a := vm.pop()
	return vm.push(c, ip, op(a.AsNum, b.AsNum))
}

func (vm *VM) printTraceState(c *chunk.Chunk, ip int) {
	fmt.Fprint(vm.Stdout, "          ")
	for i := 0; i < vm.stackTop; i++ {
		fmt.Fprintf(vm.Stdout, "[ %s ]", vm.stack[i])
	}
	fmt.Fprintln(vm.Stdout)
	debugtrace.DisassembleInstruction(vm.Stdout, c, ip)
}
