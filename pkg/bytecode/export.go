package bytecode

import (
	"context"
	"fmt"

	"github.com/chazu/kairos/rpc"
	"github.com/chazu/kairos/vm"
)

// ExportKernels registers kernels of img as rpc procedures, so that host
// code can call into the device. Each call is an independent run with its
// own timeline; positional arguments bind to the kernel's parameters. With
// no names, every kernel is exported.
func ExportKernels(reg *rpc.Registry, img *Image, devices *vm.DeviceRegistry, bridge vm.Bridge, names ...string) error {
	if len(names) == 0 {
		for _, k := range img.Kernels {
			names = append(names, k.Name)
		}
	}
	for _, name := range names {
		chunk := img.Kernel(name)
		if chunk == nil {
			return fmt.Errorf("bytecode: no kernel named %q", name)
		}
		if err := reg.Register(name, kernelProcedure(img, chunk, devices, bridge)); err != nil {
			return err
		}
	}
	return nil
}

func kernelProcedure(img *Image, chunk *Chunk, devices *vm.DeviceRegistry, bridge vm.Bridge) rpc.Procedure {
	params := chunk.Locals[:chunk.ParamCount]
	return func(ctx context.Context, args []vm.Value) (vm.Value, error) {
		if len(args) != len(params) {
			return nil, vm.Errorf(vm.TypeError, "%s() takes %d arguments (%d given)", chunk.Name, len(params), len(args))
		}
		req := vm.RunRequest{
			Entry:   chunk.Name,
			Args:    make(map[string]vm.Value, len(params)),
			Devices: devices,
			Bridge:  bridge,
		}
		for i, p := range params {
			req.Args[p] = args[i]
		}
		res, err := NewBackend().RunImage(ctx, img, req)
		if err != nil {
			return nil, err
		}
		return res.Return, nil
	}
}
