package conformance

import (
	"github.com/chazu/kairos/rpc"
	"github.com/chazu/kairos/vm"
)

// Options configures Standard.
type Options struct {
	Entry     string // defaults to "main"
	Args      map[string]vm.Value
	RefPeriod float64 // core reference period in seconds; defaults to 1 ns
	Start     vm.MU
	// Procedures are registered next to the host library.
	Procedures map[string]rpc.Procedure
}

// Standard returns a Setup that gives every run its own core device, host
// library and registry. The host backend calls procedures in process; the
// device backend reaches them through a worker goroutine, as it would
// across a real link.
func Standard(opts Options) Setup {
	return func(backend string) (*Fixture, error) {
		period := opts.RefPeriod
		if period == 0 {
			period = 1e-9
		}
		core, err := vm.NewCore("core", period)
		if err != nil {
			return nil, err
		}
		reg := rpc.NewRegistry()
		lib := rpc.NewHostLib()
		if err := lib.Register(reg); err != nil {
			return nil, err
		}
		for name, fn := range opts.Procedures {
			if err := reg.Register(name, fn); err != nil {
				return nil, err
			}
		}
		entry := opts.Entry
		if entry == "" {
			entry = "main"
		}
		fx := &Fixture{
			Request: vm.RunRequest{
				Entry:   entry,
				Args:    opts.Args,
				Devices: vm.NewDeviceRegistry(core),
				Start:   opts.Start,
			},
			Host: lib,
		}
		if backend == "device" {
			w := rpc.NewWorker(reg)
			fx.Request.Bridge = rpc.NewWorkerBridge(w)
			fx.Close = w.Stop
		} else {
			fx.Request.Bridge = rpc.NewDirect(reg)
		}
		return fx, nil
	}
}
