package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the hashing serialization format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// all previously recorded program hashes.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

// AST node type tags. Each tag uniquely identifies a node kind in the
// serialized byte stream.
const (
	TagReservedZero byte = 0x00 // version prefix / reserved

	// Literal values
	TagIntLiteral    byte = 0x01
	TagFloatLiteral  byte = 0x02
	TagStringLiteral byte = 0x03
	TagBoolLiteral   byte = 0x04
	TagNoneLiteral   byte = 0x05
	TagList          byte = 0x06
	TagTuple         byte = 0x07

	// References (locals by slot, so renaming a local keeps the hash)
	TagLocalRef    byte = 0x08
	TagConstantRef byte = 0x09
	TagTypeRef     byte = 0x0A
	TagSelfAttr    byte = 0x0B

	// Expressions
	TagField   byte = 0x10
	TagIndex   byte = 0x11
	TagCall    byte = 0x12
	TagMethod  byte = 0x13
	TagBinary  byte = 0x14
	TagLogical byte = 0x15
	TagUnary   byte = 0x16

	// Statements
	TagExprStmt   byte = 0x20
	TagAssign     byte = 0x21
	TagIf         byte = 0x22
	TagWhile      byte = 0x23
	TagFor        byte = 0x24
	TagBreak      byte = 0x25
	TagContinue   byte = 0x26
	TagReturn     byte = 0x27
	TagPass       byte = 0x28
	TagRaise      byte = 0x29
	TagTry        byte = 0x2A
	TagHandler    byte = 0x2B
	TagParallel   byte = 0x2C
	TagSequential byte = 0x2D
	TagAbsent     byte = 0x2E // optional child not present

	// Declarations
	TagKernel    byte = 0x30
	TagException byte = 0x31
	TagRecord    byte = 0x32
	TagRPC       byte = 0x33
	TagProgram   byte = 0x34

	// Reserved 0xFE-0xFF
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagIntLiteral, TagFloatLiteral, TagStringLiteral, TagBoolLiteral,
	TagNoneLiteral, TagList, TagTuple,
	TagLocalRef, TagConstantRef, TagTypeRef, TagSelfAttr,
	TagField, TagIndex, TagCall, TagMethod, TagBinary, TagLogical, TagUnary,
	TagExprStmt, TagAssign, TagIf, TagWhile, TagFor, TagBreak, TagContinue,
	TagReturn, TagPass, TagRaise, TagTry, TagHandler, TagParallel,
	TagSequential, TagAbsent,
	TagKernel, TagException, TagRecord, TagRPC, TagProgram,
}
