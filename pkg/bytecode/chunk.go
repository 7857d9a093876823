package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chazu/kairos/compiler"
	"github.com/chazu/kairos/vm"
)

// BytecodeVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 2

// Magic bytes for image files: "KRBC" (Kairos ByteCode)
var BytecodeMagic = []byte{'K', 'R', 'B', 'C'}

// SourceLocation maps bytecode position to source location for debugging.
type SourceLocation struct {
	BytecodeOffset uint32 `cbor:"o"`
	Line           uint32 `cbor:"l"`
}

// LoopInfo describes one loop of a chunk. Depths are relative to the
// kernel's frame: operand stack height, open try constructs and open
// scheduling frames at the loop statement.
type LoopInfo struct {
	BreakPC       int `cbor:"b"`
	ContinuePC    int `cbor:"c"`
	BreakStack    int `cbor:"bs"`
	ContinueStack int `cbor:"cs"`
	TryDepth      int `cbor:"t"`
	FrameDepth    int `cbor:"f"`
}

// HandlerInfo describes one except clause.
type HandlerInfo struct {
	Types []string `cbor:"types"`
	Bind  int      `cbor:"bind"` // local slot, -1 for none
	PC    int      `cbor:"pc"`
}

// TryInfo describes one try construct. ElsePC and FinallyPC are -1 when the
// clause is absent.
type TryInfo struct {
	Handlers  []HandlerInfo `cbor:"handlers"`
	ElsePC    int           `cbor:"else"`
	FinallyPC int           `cbor:"finally"`
	EndPC     int           `cbor:"end"`
}

// Chunk is the compiled bytecode of one kernel.
type Chunk struct {
	Name       string           `cbor:"name"`
	Code       []byte           `cbor:"code"`
	Constants  []vm.WireValue   `cbor:"consts"`
	Names      []string         `cbor:"names"`
	ParamCount uint8            `cbor:"params"`
	Locals     []string         `cbor:"locals"`
	Loops      []LoopInfo       `cbor:"loops"`
	Tries      []TryInfo        `cbor:"tries"`
	SourceMap  []SourceLocation `cbor:"srcmap"`
}

// NewChunk creates a new empty chunk.
func NewChunk(name string) *Chunk {
	return &Chunk{
		Name: name,
		Code: make([]byte, 0, 64),
	}
}

// AddConstant adds a constant to the pool and returns its index. Equal
// constants of the same kind share an entry.
func (c *Chunk) AddConstant(w vm.WireValue) uint16 {
	for i, k := range c.Constants {
		if k.Kind == w.Kind && k.I == w.I && math.Float64bits(k.F) == math.Float64bits(w.F) && k.S == w.S && k.B == w.B {
			return uint16(i)
		}
	}
	c.Constants = append(c.Constants, w)
	return uint16(len(c.Constants) - 1)
}

// AddName adds an identifier to the name pool and returns its index.
func (c *Chunk) AddName(name string) uint16 {
	for i, n := range c.Names {
		if n == name {
			return uint16(i)
		}
	}
	c.Names = append(c.Names, name)
	return uint16(len(c.Names) - 1)
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (c *Chunk) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = append(c.Code, operands...)
	return offset
}

// EmitU16 appends an opcode with one 16-bit operand.
func (c *Chunk) EmitU16(op Opcode, v uint16) int {
	return c.EmitWithOperand(op, byte(v>>8), byte(v))
}

// EmitCall appends a call-style opcode: name index and argument count.
func (c *Chunk) EmitCall(op Opcode, name string, argc int) int {
	idx := c.AddName(name)
	return c.EmitWithOperand(op, byte(idx>>8), byte(idx), byte(argc))
}

// EmitConstant emits an OpConst instruction for the given value.
func (c *Chunk) EmitConstant(w vm.WireValue) int {
	return c.EmitU16(OpConst, c.AddConstant(w))
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), 0xFF, 0xFF) // Placeholder
	return offset + 1
}

// PatchJump patches a jump instruction's offset to jump to the current position.
func (c *Chunk) PatchJump(placeholderOffset int) {
	c.PatchJumpTo(placeholderOffset, len(c.Code))
}

// PatchJumpTo patches a jump to go to a specific offset.
func (c *Chunk) PatchJumpTo(placeholderOffset int, target int) {
	jumpFrom := placeholderOffset + 2
	delta := target - jumpFrom
	c.Code[placeholderOffset] = byte(delta >> 8)
	c.Code[placeholderOffset+1] = byte(delta)
}

// EmitLoop emits a backward jump to the given loop start.
func (c *Chunk) EmitLoop(loopStart int) {
	jumpFrom := len(c.Code) + 3
	delta := loopStart - jumpFrom
	c.Code = append(c.Code, byte(OpJump), byte(delta>>8), byte(delta))
}

// CurrentOffset returns the current offset in the code section.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// AddSourceLocation records the source line of the instruction at the
// current offset.
func (c *Chunk) AddSourceLocation(line int) {
	off := uint32(len(c.Code))
	if n := len(c.SourceMap); n > 0 && c.SourceMap[n-1].BytecodeOffset == off {
		c.SourceMap[n-1].Line = uint32(line)
		return
	}
	c.SourceMap = append(c.SourceMap, SourceLocation{BytecodeOffset: off, Line: uint32(line)})
}

// LineAt returns the source line of the instruction at offset, or 0.
func (c *Chunk) LineAt(offset int) int {
	line := 0
	for _, loc := range c.SourceMap {
		if int(loc.BytecodeOffset) > offset {
			break
		}
		line = int(loc.Line)
	}
	return line
}

// ReadU16 reads a big-endian 16-bit operand at offset.
func (c *Chunk) ReadU16(offset int) uint16 {
	return binary.BigEndian.Uint16(c.Code[offset:])
}

// ReadI16 reads a signed 16-bit operand at offset.
func (c *Chunk) ReadI16(offset int) int16 {
	return int16(c.ReadU16(offset))
}

// Validate checks that every instruction is known and every operand and
// jump target is in range.
func (c *Chunk) Validate() error {
	for pc := 0; pc < len(c.Code); {
		op := Opcode(c.Code[pc])
		if _, ok := opcodeInfoTable[op]; !ok {
			return fmt.Errorf("bytecode: %s: unknown opcode 0x%02X at %d", c.Name, byte(op), pc)
		}
		next := pc + op.InstructionLen()
		if next > len(c.Code) {
			return fmt.Errorf("bytecode: %s: truncated %s at %d", c.Name, op, pc)
		}
		if op.IsJump() {
			target := next + int(c.ReadI16(pc+1))
			if target < 0 || target > len(c.Code) {
				return fmt.Errorf("bytecode: %s: %s at %d jumps out of range", c.Name, op, pc)
			}
		}
		switch op {
		case OpConst:
			if int(c.ReadU16(pc+1)) >= len(c.Constants) {
				return fmt.Errorf("bytecode: %s: constant index out of range at %d", c.Name, pc)
			}
		case OpLoadLocal, OpStoreLocal:
			if int(c.Code[pc+1]) >= len(c.Locals) {
				return fmt.Errorf("bytecode: %s: local slot out of range at %d", c.Name, pc)
			}
		case OpLoadAttr, OpStoreAttr, OpLoadType, OpGetField,
			OpCallKernel, OpCallRPC, OpCallBuiltin, OpCallMethod, OpNewRecord, OpNewException:
			if int(c.ReadU16(pc+1)) >= len(c.Names) {
				return fmt.Errorf("bytecode: %s: name index out of range at %d", c.Name, pc)
			}
		case OpTryEnter:
			if int(c.ReadU16(pc+1)) >= len(c.Tries) {
				return fmt.Errorf("bytecode: %s: try index out of range at %d", c.Name, pc)
			}
		case OpBreak, OpContinue:
			if int(c.ReadU16(pc+1)) >= len(c.Loops) {
				return fmt.Errorf("bytecode: %s: loop index out of range at %d", c.Name, pc)
			}
		}
		pc = next
	}
	return nil
}

// ---------------------------------------------------------------------------
// Images
// ---------------------------------------------------------------------------

// ExceptionDef is a declared exception type.
type ExceptionDef struct {
	Name   string `cbor:"name"`
	Parent string `cbor:"parent,omitempty"`
}

// RecordDef is a declared record type.
type RecordDef struct {
	Name   string   `cbor:"name"`
	Fields []string `cbor:"fields"`
}

// Image is a compiled program: everything a device needs to run its
// kernels, and nothing else.
type Image struct {
	Version    uint16         `cbor:"version"`
	Program    string         `cbor:"program"`
	Exceptions []ExceptionDef `cbor:"exceptions"`
	Records    []RecordDef    `cbor:"records"`
	RPCs       []string       `cbor:"rpcs"`
	Kernels    []*Chunk       `cbor:"kernels"`
}

// Kernel returns the chunk compiled for the named kernel.
func (img *Image) Kernel(name string) *Chunk {
	for _, k := range img.Kernels {
		if k.Name == name {
			return k
		}
	}
	return nil
}

// Declarations rebuilds the declaration part of the source program, which is
// what the shared runtime needs to set up a run.
func (img *Image) Declarations() *compiler.Program {
	prog := &compiler.Program{Name: img.Program, RPCs: img.RPCs}
	for _, e := range img.Exceptions {
		prog.Exceptions = append(prog.Exceptions, &compiler.ExceptionDecl{Name: e.Name, Parent: e.Parent})
	}
	for _, r := range img.Records {
		prog.Records = append(prog.Records, &compiler.RecordDecl{Name: r.Name, Fields: r.Fields})
	}
	for _, k := range img.Kernels {
		prog.Kernels = append(prog.Kernels, &compiler.KernelDecl{
			Name:   k.Name,
			Params: k.Locals[:k.ParamCount],
			Locals: k.Locals,
		})
	}
	return prog
}

// Encode serializes the image: magic, then the CBOR body.
func (img *Image) Encode() ([]byte, error) {
	body, err := vm.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("bytecode: encode image: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(BytecodeMagic) + len(body))
	buf.Write(BytecodeMagic)
	buf.Write(body)
	return buf.Bytes(), nil
}

// DecodeImage loads and validates an image produced by Encode.
func DecodeImage(data []byte) (*Image, error) {
	if !bytes.HasPrefix(data, BytecodeMagic) {
		return nil, fmt.Errorf("bytecode: not an image (bad magic)")
	}
	var img Image
	if err := vm.Unmarshal(data[len(BytecodeMagic):], &img); err != nil {
		return nil, fmt.Errorf("bytecode: decode image: %w", err)
	}
	if img.Version != BytecodeVersion {
		return nil, fmt.Errorf("bytecode: image version %d, want %d", img.Version, BytecodeVersion)
	}
	for _, k := range img.Kernels {
		if k == nil {
			return nil, fmt.Errorf("bytecode: image has an empty kernel entry")
		}
		if int(k.ParamCount) > len(k.Locals) {
			return nil, fmt.Errorf("bytecode: %s: %d params but %d locals", k.Name, k.ParamCount, len(k.Locals))
		}
		if err := k.Validate(); err != nil {
			return nil, err
		}
	}
	return &img, nil
}
