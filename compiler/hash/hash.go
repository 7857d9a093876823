// Package hash computes content hashes of analyzed kernel programs. The
// run history records them so runs of the same program can be grouped even
// when the source file was reformatted or its locals renamed.
package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/chazu/kairos/compiler"
)

// HashKernel computes the SHA-256 content hash of one kernel. The program
// must have been through semantic analysis.
func HashKernel(k *compiler.KernelDecl) [32]byte {
	return sha256.Sum256(SerializeKernel(k))
}

// HashProgram computes the SHA-256 content hash of a whole program.
func HashProgram(prog *compiler.Program) [32]byte {
	return sha256.Sum256(SerializeProgram(prog))
}

// String returns the lowercase hex form of a hash.
func String(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
