package bytecode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileMain(t *testing.T, src string) *Chunk {
	t.Helper()
	img, err := CompileProgram(compile(t, src))
	require.NoError(t, err)
	chunk := img.Kernel("main")
	require.NotNil(t, chunk)
	require.NoError(t, chunk.Validate())
	return chunk
}

func ops(c *Chunk) []Opcode {
	var out []Opcode
	for offset := 0; offset < len(c.Code); {
		op := Opcode(c.Code[offset])
		out = append(out, op)
		offset += op.InstructionLen()
	}
	return out
}

func TestCompileEndsWithImplicitReturn(t *testing.T) {
	chunk := compileMain(t, `
kernel main() {
    pass
}
`)
	assert.Equal(t, []Opcode{OpReturnNone}, ops(chunk))
}

func TestCompileArithmetic(t *testing.T) {
	chunk := compileMain(t, `
kernel main(a) {
    b = a * 2 + 1
    return b
}
`)
	assert.Equal(t, []Opcode{
		OpLoadLocal, OpConst, OpMul, OpConst, OpAdd, OpStoreLocal,
		OpLoadLocal, OpReturn,
		OpReturnNone,
	}, ops(chunk))
	assert.Equal(t, uint8(1), chunk.ParamCount)
	assert.Equal(t, []string{"a", "b"}, chunk.Locals)
}

func TestCompileUnitConstantsFold(t *testing.T) {
	chunk := compileMain(t, `
kernel main() {
    delay(2*us)
}
`)
	require.NotEmpty(t, chunk.Constants)
	assert.Contains(t, ops(chunk), OpCallBuiltin)
	// us is loaded as a float constant, never looked up at run time.
	assert.NotContains(t, ops(chunk), OpLoadAttr)
}

func TestCompileLoopTable(t *testing.T) {
	chunk := compileMain(t, `
kernel main() {
    parallel {
        try {
            for i in range(3) {
                sequential {
                    while i < 2 {
                        break
                    }
                }
            }
        } finally {
            pass
        }
    }
}
`)
	require.Len(t, chunk.Loops, 2)

	outer := chunk.Loops[0]
	assert.Equal(t, 1, outer.TryDepth)
	assert.Equal(t, 1, outer.FrameDepth)
	assert.Equal(t, 0, outer.BreakStack)
	assert.Equal(t, 1, outer.ContinueStack)

	inner := chunk.Loops[1]
	assert.Equal(t, 1, inner.TryDepth)
	assert.Equal(t, 2, inner.FrameDepth)
	assert.Equal(t, 1, inner.BreakStack)
	assert.Equal(t, 1, inner.ContinueStack)
	assert.Greater(t, inner.BreakPC, inner.ContinuePC)
	assert.Less(t, inner.BreakPC, outer.BreakPC)
}

func TestCompileWhileContinuesAtCheckpoint(t *testing.T) {
	chunk := compileMain(t, `
kernel main() {
    while true {
        continue
    }
}
`)
	require.Len(t, chunk.Loops, 1)
	loop := chunk.Loops[0]
	assert.Equal(t, OpCheckpoint, Opcode(chunk.Code[loop.ContinuePC]))
	assert.Equal(t, OpCheckpoint, ops(chunk)[0])
}

func TestCompileTryTable(t *testing.T) {
	chunk := compileMain(t, `
kernel main() {
    try {
        x = 1
    } except KeyError, IndexError as e {
        x = 2
    } except {
        x = 3
    } else {
        x = 4
    } finally {
        x = 5
    }
}
`)
	require.Len(t, chunk.Tries, 1)
	info := chunk.Tries[0]
	require.Len(t, info.Handlers, 2)

	assert.Equal(t, []string{"KeyError", "IndexError"}, info.Handlers[0].Types)
	assert.Equal(t, "e", chunk.Locals[info.Handlers[0].Bind])
	assert.Empty(t, info.Handlers[1].Types)
	assert.Equal(t, -1, info.Handlers[1].Bind)

	// Regions are laid out body, else, handlers, finally.
	assert.Less(t, info.ElsePC, info.Handlers[0].PC)
	assert.Less(t, info.Handlers[0].PC, info.Handlers[1].PC)
	assert.Less(t, info.Handlers[1].PC, info.FinallyPC)
	assert.Less(t, info.FinallyPC, info.EndPC)

	tryNext := 0
	for _, op := range ops(chunk) {
		if op == OpTryNext {
			tryNext++
		}
	}
	assert.Equal(t, 5, tryNext)
}

func TestCompileTryWithoutOptionalRegions(t *testing.T) {
	chunk := compileMain(t, `
kernel main() {
    try {
        pass
    } except {
        pass
    }
}
`)
	info := chunk.Tries[0]
	assert.Equal(t, -1, info.ElsePC)
	assert.Equal(t, -1, info.FinallyPC)
}

func TestCompileParallelChildren(t *testing.T) {
	chunk := compileMain(t, `
kernel main() {
    parallel {
        delay_mu(1)
        delay_mu(2)
    }
}
`)
	got := ops(chunk)
	assert.Equal(t, OpParEnter, got[0])
	count := map[Opcode]int{}
	for _, op := range got {
		count[op]++
	}
	assert.Equal(t, 2, count[OpParChild])
	assert.Equal(t, 2, count[OpParChildEnd])
	assert.Equal(t, 1, count[OpParExit])
}

func TestCompileShortCircuit(t *testing.T) {
	chunk := compileMain(t, `
kernel main(a, b) {
    return a and b or a
}
`)
	got := ops(chunk)
	assert.Contains(t, got, OpJumpIfFalseOrPop)
	assert.Contains(t, got, OpJumpIfTrueOrPop)
}

func TestCompileCalls(t *testing.T) {
	img, err := CompileProgram(compile(t, `
exception Oops
record Pulse(ch, width)
rpc report

kernel helper(x) {
    return x
}

kernel main() {
    p = Pulse(1, 2)
    report(p.width)
    helper(p)
    raise Oops("bad")
}
`))
	require.NoError(t, err)
	got := ops(img.Kernel("main"))
	assert.Contains(t, got, OpNewRecord)
	assert.Contains(t, got, OpCallRPC)
	assert.Contains(t, got, OpCallKernel)
	assert.Contains(t, got, OpNewException)
	assert.Contains(t, got, OpRaise)
}

func TestDisassemble(t *testing.T) {
	img, err := CompileProgram(compile(t, `
exception Oops(ValueError)
rpc report

kernel main(n) {
    for i in range(n) {
        try {
            report(i)
        } except Oops {
            pass
        }
    }
}
`))
	require.NoError(t, err)

	text := img.Disassemble()
	assert.Contains(t, text, "Oops")
	assert.Contains(t, text, "report")

	listing := img.Kernel("main").Disassemble()
	for _, want := range []string{"=== main ===", "Parameters (1): n", "Tries:", "except(Oops)", "Loops:", "FOR_ITER", "CALL_RPC", "; line"} {
		assert.Contains(t, listing, want)
	}

	lines := img.Kernel("main").DisassembleToLines()
	assert.Equal(t, img.Kernel("main").InstructionCount(), len(lines))
	assert.True(t, strings.HasSuffix(lines[len(lines)-1], "RETURN_NONE"), lines[len(lines)-1])
}
