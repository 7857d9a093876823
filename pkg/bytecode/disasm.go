package bytecode

import (
	"fmt"
	"strings"

	"github.com/chazu/kairos/vm"
)

// Disassemble returns a human-readable listing of every kernel in the image.
func (img *Image) Disassemble() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("; Kairos image v%d: %s\n", img.Version, img.Program))
	for _, e := range img.Exceptions {
		parent := e.Parent
		if parent == "" {
			parent = "Exception"
		}
		sb.WriteString(fmt.Sprintf("; exception %s(%s)\n", e.Name, parent))
	}
	for _, r := range img.Records {
		sb.WriteString(fmt.Sprintf("; record %s(%s)\n", r.Name, strings.Join(r.Fields, ", ")))
	}
	if len(img.RPCs) > 0 {
		sb.WriteString(fmt.Sprintf("; rpc %s\n", strings.Join(img.RPCs, ", ")))
	}
	for _, k := range img.Kernels {
		sb.WriteString("\n")
		sb.WriteString(k.Disassemble())
	}
	return sb.String()
}

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; === %s ===\n", c.Name))
	if c.ParamCount > 0 {
		sb.WriteString(fmt.Sprintf("; Parameters (%d): %s\n", c.ParamCount, strings.Join(c.Locals[:c.ParamCount], ", ")))
	}
	if len(c.Locals) > 0 {
		sb.WriteString(fmt.Sprintf("; Locals: %d slots\n", len(c.Locals)))
	}

	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, k := range c.Constants {
			display := vm.Repr(vm.FromWire(k))
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, display))
		}
	}

	if len(c.Tries) > 0 {
		sb.WriteString("; Tries:\n")
		for i, t := range c.Tries {
			sb.WriteString(fmt.Sprintf(";   [%3d] end=%04X", i, t.EndPC))
			for _, h := range t.Handlers {
				types := "*"
				if len(h.Types) > 0 {
					types = strings.Join(h.Types, "|")
				}
				sb.WriteString(fmt.Sprintf(" except(%s)=%04X", types, h.PC))
			}
			if t.ElsePC >= 0 {
				sb.WriteString(fmt.Sprintf(" else=%04X", t.ElsePC))
			}
			if t.FinallyPC >= 0 {
				sb.WriteString(fmt.Sprintf(" finally=%04X", t.FinallyPC))
			}
			sb.WriteString("\n")
		}
	}

	if len(c.Loops) > 0 {
		sb.WriteString("; Loops:\n")
		for i, l := range c.Loops {
			sb.WriteString(fmt.Sprintf(";   [%3d] continue=%04X break=%04X\n", i, l.ContinuePC, l.BreakPC))
		}
	}

	sb.WriteString("; Code:\n")
	lastLine := 0
	for offset := 0; offset < len(c.Code); {
		text, n := c.disassembleInstruction(offset)
		if line := c.LineAt(offset); line != lastLine && line > 0 {
			sb.WriteString(fmt.Sprintf("%04X  %-32s ; line %d\n", offset, text, line))
			lastLine = line
		} else {
			sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, text))
		}
		if n == 0 {
			break
		}
		offset += n
	}
	return sb.String()
}

// DisassembleInstruction returns a human-readable representation of a single instruction.
func (c *Chunk) DisassembleInstruction(offset int) string {
	text, _ := c.disassembleInstruction(offset)
	return text
}

// disassembleInstruction formats the instruction at offset and returns its
// length.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 0
	}
	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)
	n := op.InstructionLen()
	if offset+n > len(c.Code) {
		return fmt.Sprintf("%s <truncated>", info.Name), len(c.Code) - offset
	}

	switch {
	case op == OpConst:
		idx := c.ReadU16(offset + 1)
		if int(idx) < len(c.Constants) {
			return fmt.Sprintf("CONST %d ; %s", idx, vm.Repr(vm.FromWire(c.Constants[idx]))), n
		}
		return fmt.Sprintf("CONST %d", idx), n

	case op == OpLoadLocal || op == OpStoreLocal:
		slot := int(c.Code[offset+1])
		if slot < len(c.Locals) {
			return fmt.Sprintf("%s %d ; %s", info.Name, slot, c.Locals[slot]), n
		}
		return fmt.Sprintf("%s %d", info.Name, slot), n

	case op == OpLoadAttr || op == OpStoreAttr || op == OpLoadType || op == OpGetField:
		return fmt.Sprintf("%s %s", info.Name, c.nameAt(offset+1)), n

	case op.IsCall():
		return fmt.Sprintf("%s %s argc=%d", info.Name, c.nameAt(offset+1), c.Code[offset+3]), n

	case op.IsJump():
		delta := int(c.ReadI16(offset + 1))
		return fmt.Sprintf("%s %+d (-> %04X)", info.Name, delta, offset+n+delta), n

	case op == OpBreak || op == OpContinue:
		idx := int(c.ReadU16(offset + 1))
		if idx < len(c.Loops) {
			target := c.Loops[idx].BreakPC
			if op == OpContinue {
				target = c.Loops[idx].ContinuePC
			}
			return fmt.Sprintf("%s loop=%d (-> %04X)", info.Name, idx, target), n
		}
		return fmt.Sprintf("%s loop=%d", info.Name, idx), n

	case op == OpTryEnter || op == OpBuildList || op == OpBuildTuple:
		return fmt.Sprintf("%s %d", info.Name, c.ReadU16(offset+1)), n
	}
	return info.Name, n
}

func (c *Chunk) nameAt(offset int) string {
	idx := int(c.ReadU16(offset))
	if idx < len(c.Names) {
		return c.Names[idx]
	}
	return fmt.Sprintf("#%d", idx)
}

// DisassembleToLines returns the disassembly as a slice of lines.
func (c *Chunk) DisassembleToLines() []string {
	var lines []string
	for offset := 0; offset < len(c.Code); {
		text, n := c.disassembleInstruction(offset)
		lines = append(lines, fmt.Sprintf("%04X  %s", offset, text))
		if n == 0 {
			break
		}
		offset += n
	}
	return lines
}

// InstructionCount returns the number of instructions in the chunk.
func (c *Chunk) InstructionCount() int {
	count := 0
	for offset := 0; offset < len(c.Code); offset += Opcode(c.Code[offset]).InstructionLen() {
		count++
	}
	return count
}
