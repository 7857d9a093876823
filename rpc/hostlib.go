package rpc

import (
	"context"
	"sync"

	"github.com/chazu/kairos/vm"
)

// HostLib is the standard set of host procedures available to kernels run
// from the command line and the conformance suite. Each HostLib owns its
// trace, so independent runs never share output.
type HostLib struct {
	mu    sync.Mutex
	trace []vm.Value
	limit int
}

// HostLibOption configures a HostLib.
type HostLibOption func(*HostLib)

// WithTraceLimit keeps only the n most recent trace entries. A long-lived
// library, such as one behind a server, needs a limit; n <= 0 means no limit.
func WithTraceLimit(n int) HostLibOption {
	return func(h *HostLib) { h.limit = n }
}

// NewHostLib creates a host library with an empty trace.
func NewHostLib(opts ...HostLibOption) *HostLib {
	h := &HostLib{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Trace returns a copy of everything recorded so far.
func (h *HostLib) Trace() []vm.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]vm.Value(nil), h.trace...)
}

// Register binds the library's procedures in reg:
//
//	record(args...)          append the arguments, as a tuple, to the trace
//	echo(x)                  return x
//	raise_error(type, args...) raise an exception of the named type
//	sum(values)              sum a list of numbers
func (h *HostLib) Register(reg *Registry) error {
	procs := map[string]Procedure{
		"record":      h.record,
		"echo":        echo,
		"raise_error": raiseError,
		"sum":         sum,
	}
	for _, name := range []string{"record", "echo", "raise_error", "sum"} {
		if err := reg.Register(name, procs[name]); err != nil {
			return err
		}
	}
	return nil
}

func (h *HostLib) record(ctx context.Context, args []vm.Value) (vm.Value, error) {
	h.mu.Lock()
	h.trace = append(h.trace, vm.Tuple(args))
	if h.limit > 0 && len(h.trace) > h.limit {
		n := copy(h.trace, h.trace[len(h.trace)-h.limit:])
		clear(h.trace[n:])
		h.trace = h.trace[:n]
	}
	h.mu.Unlock()
	return nil, nil
}

func echo(ctx context.Context, args []vm.Value) (vm.Value, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
		return args[0], nil
	}
	return vm.Tuple(args), nil
}

func raiseError(ctx context.Context, args []vm.Value) (vm.Value, error) {
	if len(args) == 0 {
		return nil, vm.NewException(vm.TypeError, "raise_error() requires an exception type name")
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, vm.Errorf(vm.TypeError, "raise_error() type name must be str, not %s", vm.TypeName(args[0]))
	}
	return nil, Raise(name, args[1:]...)
}

func sum(ctx context.Context, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 {
		return nil, vm.Errorf(vm.TypeError, "sum() takes exactly 1 argument (%d given)", len(args))
	}
	items, err := vm.Iterate(args[0])
	if err != nil {
		return nil, err
	}
	var total vm.Value = int64(0)
	for _, item := range items {
		if total, err = vm.Binary("+", total, item); err != nil {
			return nil, err
		}
	}
	return total, nil
}
