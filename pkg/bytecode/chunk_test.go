package bytecode

import (
	"bytes"
	"testing"

	"github.com/chazu/kairos/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkAddConstant(t *testing.T) {
	c := NewChunk("k")

	i0 := c.AddConstant(vm.WireValue{Kind: vm.WireInt, I: 1})
	i1 := c.AddConstant(vm.WireValue{Kind: vm.WireFloat, F: 1})
	i2 := c.AddConstant(vm.WireValue{Kind: vm.WireInt, I: 1})
	i3 := c.AddConstant(vm.WireValue{Kind: vm.WireString, S: "1"})

	assert.Equal(t, []uint16{0, 1, 2}, []uint16{i0, i1, i3})
	assert.Equal(t, i0, i2, "duplicate int constant")
	assert.Len(t, c.Constants, 3)
}

func TestChunkAddName(t *testing.T) {
	c := NewChunk("k")
	a := c.AddName("alpha")
	b := c.AddName("beta")
	assert.Equal(t, a, c.AddName("alpha"))
	assert.NotEqual(t, a, b)
}

func TestChunkPatchJump(t *testing.T) {
	c := NewChunk("k")
	placeholder := c.EmitJump(OpJumpFalse)
	c.Emit(OpPop)
	c.Emit(OpPop)
	c.PatchJump(placeholder)
	assert.EqualValues(t, 2, c.ReadI16(placeholder), "forward offset")

	start := c.CurrentOffset()
	c.Emit(OpNop)
	c.EmitLoop(start)
	assert.EqualValues(t, -4, c.ReadI16(c.CurrentOffset()-2), "backward offset")
	assert.NoError(t, c.Validate())
}

func TestChunkValidateRejectsBadOperands(t *testing.T) {
	tests := []struct {
		name  string
		build func(c *Chunk)
	}{
		{"unknown opcode", func(c *Chunk) { c.Code = append(c.Code, 0xEE) }},
		{"truncated", func(c *Chunk) { c.Code = append(c.Code, byte(OpConst), 0) }},
		{"constant", func(c *Chunk) { c.EmitU16(OpConst, 3) }},
		{"local", func(c *Chunk) { c.EmitWithOperand(OpLoadLocal, 0) }},
		{"name", func(c *Chunk) { c.EmitU16(OpLoadAttr, 0) }},
		{"try", func(c *Chunk) { c.EmitU16(OpTryEnter, 0) }},
		{"loop", func(c *Chunk) { c.EmitU16(OpBreak, 0) }},
		{"jump", func(c *Chunk) { c.EmitWithOperand(OpJump, 0x10, 0x00) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChunk("k")
			tt.build(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestChunkSourceMap(t *testing.T) {
	c := NewChunk("k")
	c.AddSourceLocation(3)
	c.Emit(OpNop)
	c.Emit(OpNop)
	c.AddSourceLocation(4)
	c.AddSourceLocation(5) // same offset: replaces
	c.Emit(OpNop)

	assert.EqualValues(t, 3, c.LineAt(1))
	assert.EqualValues(t, 5, c.LineAt(2))
	assert.Len(t, c.SourceMap, 2)
}

func TestImageEncodeDecode(t *testing.T) {
	prog := compile(t, `
exception Boom(ValueError)
record Pulse(channel, width)
rpc record

kernel main(n) {
    total = 0
    for i in range(n) {
        total += i
    }
    return total
}
`)
	img, err := CompileProgram(prog)
	require.NoError(t, err)
	data, err := img.Encode()
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, BytecodeMagic), "encoded image does not start with magic")

	loaded, err := DecodeImage(data)
	require.NoError(t, err)
	assert.Equal(t, "test", loaded.Program)
	require.Len(t, loaded.Kernels, 1)
	k := loaded.Kernel("main")
	require.NotNil(t, k)
	assert.Equal(t, img.Kernel("main").Code, k.Code, "code changed across encode/decode")

	decl := loaded.Declarations()
	assert.Equal(t, []string{"n"}, decl.Kernel("main").Params)
	boom := decl.Exception("Boom")
	require.NotNil(t, boom)
	assert.Equal(t, "ValueError", boom.Parent)
	pulse := decl.Record("Pulse")
	require.NotNil(t, pulse)
	assert.Len(t, pulse.Fields, 2)
	assert.True(t, decl.HasRPC("record"))
}

func TestDecodeImageErrors(t *testing.T) {
	_, err := DecodeImage([]byte("nope"))
	assert.Error(t, err, "bad magic")
	_, err = DecodeImage(append(append([]byte{}, BytecodeMagic...), 0xFF))
	assert.Error(t, err, "truncated body")

	img := &Image{Version: BytecodeVersion + 1, Program: "p"}
	data, err := img.Encode()
	require.NoError(t, err)
	_, err = DecodeImage(data)
	assert.Error(t, err, "future version")

	old := &Image{Version: BytecodeVersion - 1, Program: "p"}
	data, err = old.Encode()
	require.NoError(t, err)
	_, err = DecodeImage(data)
	assert.Error(t, err, "image from before loop checkpoints")

	bad := &Image{Version: BytecodeVersion, Kernels: []*Chunk{{Name: "k", Code: []byte{byte(OpLoadLocal), 9}}}}
	data, err = bad.Encode()
	require.NoError(t, err)
	_, err = DecodeImage(data)
	assert.Error(t, err, "kernel with an out-of-range local")
}
