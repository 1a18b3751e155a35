// Package debugtrace is the disassembler: an external collaborator per
// spec.md §1, used only for "-trace" execution tracing and the
// "-disassemble" driver flag. Nothing in the compiler or VM's control
// flow depends on it; it only reads a sealed Chunk.
package debugtrace

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"emberlang/internal/chunk"
)

// DisassembleChunk writes one line per instruction in c to w, in the
// `0004 <line> OP_NAME operand` format clox's debug.c uses.
func DisassembleChunk(w io.Writer, c *chunk.Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = DisassembleInstruction(w, c, offset)
	}
}

// DisassembleInstruction prints the instruction at offset and returns
// the offset of the next instruction.
func DisassembleInstruction(w io.Writer, c *chunk.Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && c.Lines[offset] == c.Lines[offset-1] {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", c.Lines[offset])
	}

	op := chunk.OpCode(c.Code[offset])
	switch op {
	case chunk.OP_CONSTANT:
		return constantInstruction(w, c, op, offset)
	case chunk.OP_CONSTANT_LONG:
		return constantLongInstruction(w, c, op, offset)
	case chunk.OP_GET_LOCAL, chunk.OP_SET_LOCAL, chunk.OP_POPN:
		return byteInstruction(w, c, op, offset)
	case chunk.OP_DEFINE_GLOBAL, chunk.OP_GET_GLOBAL, chunk.OP_SET_GLOBAL:
		return constantInstruction(w, c, op, offset)
	case chunk.OP_JUMP, chunk.OP_JUMP_IF_FALSE, chunk.OP_LOOP:
		return jumpInstruction(w, c, op, offset)
	default:
		return simpleInstruction(w, op, offset)
	}
}

func simpleInstruction(w io.Writer, op chunk.OpCode, offset int) int {
	fmt.Fprintf(w, "%s\n", op)
	return offset + 1
}

func byteInstruction(w io.Writer, c *chunk.Chunk, op chunk.OpCode, offset int) int {
	slot := c.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d\n", op, slot)
	return offset + 2
}

func jumpInstruction(w io.Writer, c *chunk.Chunk, op chunk.OpCode, offset int) int {
	jump := int(c.Code[offset+1])<<8 | int(c.Code[offset+2])
	sign := 1
	if op == chunk.OP_LOOP {
		sign = -1
	}
	target := offset + 3 + sign*jump
	fmt.Fprintf(w, "%-16s %4d -> %d\n", op, offset, target)
	return offset + 3
}

func constantInstruction(w io.Writer, c *chunk.Chunk, op chunk.OpCode, offset int) int {
	idx := c.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d '%s'\n", op, idx, c.Constants[idx])
	return offset + 2
}

func constantLongInstruction(w io.Writer, c *chunk.Chunk, op chunk.OpCode, offset int) int {
	idx := int(c.Code[offset+1])<<16 | int(c.Code[offset+2])<<8 | int(c.Code[offset+3])
	fmt.Fprintf(w, "%-16s %4d '%s'\n", op, idx, c.Constants[idx])
	return offset + 4
}

// Summary renders a one-line, human-readable size report for c —
// code bytes (humanized) and constant count — printed by
// "-disassemble" and at "-trace" startup.
func Summary(c *chunk.Chunk) string {
	return fmt.Sprintf("chunk %q: %s code, %d constants",
		c.Name, humanize.IBytes(uint64(len(c.Code))), len(c.Constants))
}
