package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPop  Opcode = 0x01 // Pop top of stack
	OpDup  Opcode = 0x02 // Duplicate top of stack
	OpDup2 Opcode = 0x03 // Duplicate top two: a b -> a b a b
	OpRot  Opcode = 0x04 // Rotate top three: a b c -> b c a

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConst      Opcode = 0x10 // Push constant from pool: OpConst <index:u16>
	OpConstNone  Opcode = 0x11 // Push none
	OpConstTrue  Opcode = 0x12 // Push true
	OpConstFalse Opcode = 0x13 // Push false

	// ========================================================================
	// Variables (0x20-0x2F)
	// ========================================================================

	OpLoadLocal  Opcode = 0x20 // Push local: OpLoadLocal <slot:u8>
	OpStoreLocal Opcode = 0x21 // Pop into local: OpStoreLocal <slot:u8>
	OpLoadAttr   Opcode = 0x22 // Push self.<name>: OpLoadAttr <name:u16>
	OpStoreAttr  Opcode = 0x23 // Pop into self.<name>: OpStoreAttr <name:u16>
	OpLoadType   Opcode = 0x24 // Push exception type: OpLoadType <name:u16>

	// ========================================================================
	// Containers (0x30-0x3F)
	// ========================================================================

	OpGetField   Opcode = 0x30 // value -> value.<name>: OpGetField <name:u16>
	OpIndex      Opcode = 0x31 // container index -> item
	OpStoreIndex Opcode = 0x32 // container index value -> (container[index] = value)
	OpBuildList  Opcode = 0x33 // Pop n items, push list: OpBuildList <n:u16>
	OpBuildTuple Opcode = 0x34 // Pop n items, push tuple: OpBuildTuple <n:u16>

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd      Opcode = 0x50 // Pop two, push sum
	OpSub      Opcode = 0x51 // Pop two, push difference (a - b where b is TOS)
	OpMul      Opcode = 0x52 // Pop two, push product
	OpDiv      Opcode = 0x53 // Pop two, push true quotient
	OpFloorDiv Opcode = 0x54 // Pop two, push floored quotient
	OpMod      Opcode = 0x55 // Pop two, push remainder
	OpNeg      Opcode = 0x56 // Negate top of stack

	// ========================================================================
	// Comparison (0x60-0x6F)
	// ========================================================================

	OpEq  Opcode = 0x60 // Pop two, push a == b
	OpNe  Opcode = 0x61 // Pop two, push a != b
	OpLt  Opcode = 0x62 // Pop two, push a < b
	OpLe  Opcode = 0x63 // Pop two, push a <= b
	OpGt  Opcode = 0x64 // Pop two, push a > b
	OpGe  Opcode = 0x65 // Pop two, push a >= b
	OpNot Opcode = 0x68 // Logical NOT

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump             Opcode = 0x80 // Unconditional jump: OpJump <offset:i16>
	OpJumpFalse        Opcode = 0x81 // Pop, jump if falsy: OpJumpFalse <offset:i16>
	OpJumpIfFalseOrPop Opcode = 0x82 // If TOS falsy jump (keep it), else pop
	OpJumpIfTrueOrPop  Opcode = 0x83 // If TOS truthy jump (keep it), else pop
	OpGetIter          Opcode = 0x84 // Replace sequence with an iterator over a snapshot
	OpForIter          Opcode = 0x85 // Push next item, or pop iterator and jump: <offset:i16>
	OpBreak            Opcode = 0x86 // Leave loop: OpBreak <loop:u16>
	OpContinue         Opcode = 0x87 // Next iteration: OpContinue <loop:u16>
	OpCheckpoint       Opcode = 0x88 // Raise CancelledError if the run was cancelled

	// ========================================================================
	// Calls (0x90-0x9F)
	// ========================================================================

	OpCallKernel   Opcode = 0x90 // OpCallKernel <name:u16> <argc:u8>
	OpCallRPC      Opcode = 0x91 // OpCallRPC <name:u16> <argc:u8>
	OpCallBuiltin  Opcode = 0x92 // OpCallBuiltin <name:u16> <argc:u8>
	OpCallMethod   Opcode = 0x93 // Pops receiver + args: OpCallMethod <name:u16> <argc:u8>
	OpNewRecord    Opcode = 0x94 // OpNewRecord <name:u16> <argc:u8>
	OpNewException Opcode = 0x95 // OpNewException <name:u16> <argc:u8>

	// ========================================================================
	// Timeline (0xA0-0xAF)
	// ========================================================================

	OpSeqEnter    Opcode = 0xA0 // Open a sequential frame
	OpSeqExit     Opcode = 0xA1 // Close a sequential frame
	OpParEnter    Opcode = 0xA2 // Open a parallel frame
	OpParChild    Opcode = 0xA3 // Start a direct child of the parallel frame
	OpParChildEnd Opcode = 0xA4 // Finish the running child
	OpParExit     Opcode = 0xA5 // Close a parallel frame

	// ========================================================================
	// Exceptions (0xC0-0xCF)
	// ========================================================================

	OpTryEnter Opcode = 0xC0 // Open a try construct: OpTryEnter <try:u16>
	OpTryNext  Opcode = 0xC1 // Current try region finished normally
	OpRaise    Opcode = 0xC2 // Pop exception or type and raise it
	OpReraise  Opcode = 0xC3 // Re-raise the exception being handled

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn     Opcode = 0xF0 // Return top of stack from kernel
	OpReturnNone Opcode = 0xF1 // Return none
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:  {"NOP", 0, 0, 0},
	OpPop:  {"POP", 1, 0, 0},
	OpDup:  {"DUP", 1, 2, 0},
	OpDup2: {"DUP2", 2, 4, 0},
	OpRot:  {"ROT", 3, 3, 0},

	// Constants
	OpConst:      {"CONST", 0, 1, 2},
	OpConstNone:  {"CONST_NONE", 0, 1, 0},
	OpConstTrue:  {"CONST_TRUE", 0, 1, 0},
	OpConstFalse: {"CONST_FALSE", 0, 1, 0},

	// Variables
	OpLoadLocal:  {"LOAD_LOCAL", 0, 1, 1},
	OpStoreLocal: {"STORE_LOCAL", 1, 0, 1},
	OpLoadAttr:   {"LOAD_ATTR", 0, 1, 2},
	OpStoreAttr:  {"STORE_ATTR", 1, 0, 2},
	OpLoadType:   {"LOAD_TYPE", 0, 1, 2},

	// Containers
	OpGetField:   {"GET_FIELD", 1, 1, 2},
	OpIndex:      {"INDEX", 2, 1, 0},
	OpStoreIndex: {"STORE_INDEX", 3, 0, 0},
	OpBuildList:  {"BUILD_LIST", -1, 1, 2},
	OpBuildTuple: {"BUILD_TUPLE", -1, 1, 2},

	// Arithmetic
	OpAdd:      {"ADD", 2, 1, 0},
	OpSub:      {"SUB", 2, 1, 0},
	OpMul:      {"MUL", 2, 1, 0},
	OpDiv:      {"DIV", 2, 1, 0},
	OpFloorDiv: {"FLOOR_DIV", 2, 1, 0},
	OpMod:      {"MOD", 2, 1, 0},
	OpNeg:      {"NEG", 1, 1, 0},

	// Comparison
	OpEq:  {"EQ", 2, 1, 0},
	OpNe:  {"NE", 2, 1, 0},
	OpLt:  {"LT", 2, 1, 0},
	OpLe:  {"LE", 2, 1, 0},
	OpGt:  {"GT", 2, 1, 0},
	OpGe:  {"GE", 2, 1, 0},
	OpNot: {"NOT", 1, 1, 0},

	// Control flow
	OpJump:             {"JUMP", 0, 0, 2},
	OpJumpFalse:        {"JUMP_FALSE", 1, 0, 2},
	OpJumpIfFalseOrPop: {"JUMP_IF_FALSE_OR_POP", 1, -1, 2},
	OpJumpIfTrueOrPop:  {"JUMP_IF_TRUE_OR_POP", 1, -1, 2},
	OpGetIter:          {"GET_ITER", 1, 1, 0},
	OpForIter:          {"FOR_ITER", 1, -1, 2},
	OpBreak:            {"BREAK", 0, 0, 2},
	OpContinue:         {"CONTINUE", 0, 0, 2},
	OpCheckpoint:       {"CHECKPOINT", 0, 0, 0},

	// Calls
	OpCallKernel:   {"CALL_KERNEL", -1, 1, 3},
	OpCallRPC:      {"CALL_RPC", -1, 1, 3},
	OpCallBuiltin:  {"CALL_BUILTIN", -1, 1, 3},
	OpCallMethod:   {"CALL_METHOD", -1, 1, 3},
	OpNewRecord:    {"NEW_RECORD", -1, 1, 3},
	OpNewException: {"NEW_EXCEPTION", -1, 1, 3},

	// Timeline
	OpSeqEnter:    {"SEQ_ENTER", 0, 0, 0},
	OpSeqExit:     {"SEQ_EXIT", 0, 0, 0},
	OpParEnter:    {"PAR_ENTER", 0, 0, 0},
	OpParChild:    {"PAR_CHILD", 0, 0, 0},
	OpParChildEnd: {"PAR_CHILD_END", 0, 0, 0},
	OpParExit:     {"PAR_EXIT", 0, 0, 0},

	// Exceptions
	OpTryEnter: {"TRY_ENTER", 0, 0, 2},
	OpTryNext:  {"TRY_NEXT", 0, 0, 0},
	OpRaise:    {"RAISE", 1, 0, 0},
	OpReraise:  {"RERAISE", 0, 0, 0},

	// Return
	OpReturn:     {"RETURN", 1, 0, 0},
	OpReturnNone: {"RETURN_NONE", 0, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode carries a relative jump offset.
func (op Opcode) IsJump() bool {
	switch op {
	case OpJump, OpJumpFalse, OpJumpIfFalseOrPop, OpJumpIfTrueOrPop, OpForIter:
		return true
	}
	return false
}

// IsReturn returns true if this opcode leaves the kernel.
func (op Opcode) IsReturn() bool {
	return op == OpReturn || op == OpReturnNone
}

// IsCall returns true if this opcode carries a name and an argument count.
func (op Opcode) IsCall() bool {
	return op >= OpCallKernel && op <= OpNewException
}

// IsTimeline returns true if this opcode manipulates the timeline cursor.
func (op Opcode) IsTimeline() bool {
	return op >= OpSeqEnter && op <= OpParExit
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
