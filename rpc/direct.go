package rpc

import (
	"context"

	"github.com/chazu/kairos/vm"
)

// Direct is the bridge used by the host backend: the target runs in the
// calling goroutine. Requests and responses still go through the wire
// encoding so that arguments and results are copies, exactly as they are
// across a real boundary.
type Direct struct {
	reg *Registry
}

// NewDirect creates an in-process bridge to reg.
func NewDirect(reg *Registry) *Direct {
	return &Direct{reg: reg}
}

// Invoke implements vm.Bridge.
func (d *Direct) Invoke(ctx context.Context, target string, args []vm.Value) (vm.Value, error) {
	req, err := NewCallRequest(target, args)
	if err != nil {
		return nil, err
	}
	payload, err := vm.Marshal(req)
	if err != nil {
		return nil, err
	}
	reply, err := d.reg.DispatchBytes(ctx, payload)
	if err != nil {
		return nil, err
	}
	return decodeResponse(reply)
}
