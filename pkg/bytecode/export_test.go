package bytecode

import (
	"context"
	"testing"

	"github.com/chazu/kairos/rpc"
	"github.com/chazu/kairos/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportKernels(t *testing.T) {
	img, err := CompileProgram(compile(t, `
exception Overrange(ValueError)

kernel scale(x, k) {
    if x * k > 100 {
        raise Overrange(x * k)
    }
    delay_mu(x)
    return x * k
}

kernel main() {
    pass
}
`))
	require.NoError(t, err)

	core, err := vm.NewCore("core", 1e-9)
	require.NoError(t, err)
	reg := rpc.NewRegistry()
	require.NoError(t, ExportKernels(reg, img, vm.NewDeviceRegistry(core), nil, "scale"))
	assert.Equal(t, []string{"scale"}, reg.Names())

	bridge := rpc.NewDirect(reg)
	ctx := context.Background()

	v, err := bridge.Invoke(ctx, "scale", []vm.Value{int64(4), int64(5)})
	require.NoError(t, err)
	assert.Equal(t, int64(20), v)

	// The kernel's exception comes back under its own name, which a caller
	// that declares the same type resolves to that type.
	types := vm.NewRegistry()
	_, err = types.Declare("Overrange", "ValueError")
	require.NoError(t, err)
	_, err = vm.CallRPC(ctx, bridge, types, "scale", []vm.Value{int64(50), int64(5)})
	exc := vm.AsException(err)
	require.NotNil(t, exc)
	assert.Equal(t, "Overrange", exc.Type.Name)
	assert.Equal(t, []vm.Value{int64(250)}, exc.Args)

	_, err = vm.CallRPC(ctx, bridge, types, "scale", []vm.Value{int64(1)})
	exc = vm.AsException(err)
	require.NotNil(t, exc)
	assert.Equal(t, "TypeError", exc.Type.Name)
}

func TestExportAllKernels(t *testing.T) {
	img, err := CompileProgram(compile(t, `
kernel a() {
    return 1
}

kernel b() {
    return 2
}
`))
	require.NoError(t, err)
	reg := rpc.NewRegistry()
	require.NoError(t, ExportKernels(reg, img, vm.NewDeviceRegistry(), nil))
	assert.ElementsMatch(t, []string{"a", "b"}, reg.Names())

	assert.Error(t, ExportKernels(rpc.NewRegistry(), img, nil, nil, "missing"))
}
