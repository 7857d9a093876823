// Package bytecode is the device backend: a compiler from analyzed kernel
// programs to a compact stack bytecode, a serialized image format, and the
// stack machine that runs loaded images.
//
// # Images
//
// A program compiles to an Image holding one Chunk per kernel plus the
// declarations the runtime needs (exception and record types, rpc targets).
// Images are serialized as the four magic bytes "KRBC" followed by a CBOR
// body, and every run goes through Encode and DecodeImage so that what runs
// is exactly what would be shipped to a device.
//
// # Control flow
//
// Jumps carry signed 16-bit offsets relative to the next instruction. Loops
// and try statements are described by static tables in the chunk (LoopInfo,
// TryInfo) rather than by runtime block markers:
//
//   - BREAK and CONTINUE name their loop; the table gives the target and the
//     operand stack, try and scheduling depths to restore.
//   - TRY_ENTER opens a try construct. Each of its regions ends with
//     TRY_NEXT, and the shared vm.TryFrame automaton decides which region
//     runs next, so handler selection and finally ordering are the same as
//     on the host backend.
//
// # Timeline
//
// The SEQ_* and PAR_* instructions drive the run's vm.Cursor directly.
// Whenever a completion leaves scheduling blocks early (raise, break,
// continue, return) the cursor is unwound with vm.Cursor.UnwindTo, which
// closes each open block the same way the host backend does.
package bytecode
