package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/kairos/vm"
)

// CallRequest is the transport form of one invocation.
type CallRequest struct {
	Target string         `cbor:"target"`
	Args   []vm.WireValue `cbor:"args"`
}

// CallResponse carries either a return value or an exception record.
type CallResponse struct {
	Value     *vm.WireValue       `cbor:"value,omitempty"`
	Exception *vm.ExceptionRecord `cbor:"exception,omitempty"`
}

// NewCallRequest validates and encodes a call. It fails with
// UnmarshalableArgumentError if any argument cannot be serialised.
func NewCallRequest(target string, args []vm.Value) (CallRequest, error) {
	wire, err := vm.ToWireArgs(args)
	if err != nil {
		return CallRequest{}, err
	}
	return CallRequest{Target: TargetName(target), Args: wire}, nil
}

// Result decodes the response on the calling side. An exception comes back as
// a *vm.RemoteError for the caller to resolve against its own types.
func (r CallResponse) Result() (vm.Value, error) {
	if r.Exception != nil {
		return nil, &vm.RemoteError{Record: *r.Exception}
	}
	if r.Value == nil {
		return nil, nil
	}
	return vm.FromWire(*r.Value), nil
}

func exceptionResponse(err error) CallResponse {
	var remote *vm.RemoteError
	if errors.As(err, &remote) {
		rec := remote.Record
		return CallResponse{Exception: &rec}
	}
	rec := vm.AsException(err).Record()
	return CallResponse{Exception: &rec}
}

// Dispatch executes a decoded request against the registry. It never fails:
// every problem, including a panicking procedure, becomes an exception in the
// response.
func (r *Registry) Dispatch(ctx context.Context, req CallRequest) (resp CallResponse) {
	fn, err := r.Lookup(req.Target)
	if err != nil {
		log.Warningf("call to unknown target %q", req.Target)
		return exceptionResponse(err)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("target %q panicked: %v", req.Target, p)
			resp = exceptionResponse(vm.Errorf(vm.RuntimeError, "%v", p))
		}
	}()
	v, err := fn(ctx, vm.FromWireArgs(req.Args))
	if err != nil {
		return exceptionResponse(err)
	}
	w, err := vm.ToWire(v)
	if err != nil {
		return exceptionResponse(err)
	}
	return CallResponse{Value: &w}
}

// DispatchBytes is Dispatch over CBOR-encoded messages.
func (r *Registry) DispatchBytes(ctx context.Context, payload []byte) ([]byte, error) {
	var req CallRequest
	if err := vm.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("rpc: unmarshal request: %w", err)
	}
	return vm.Marshal(r.Dispatch(ctx, req))
}

func decodeResponse(payload []byte) (vm.Value, error) {
	var resp CallResponse
	if err := vm.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("rpc: unmarshal response: %w", err)
	}
	return resp.Result()
}

// unreachable reports a transport failure as TargetUnreachableError, or as
// CancelledError when the call failed because the run was cancelled.
func unreachable(ctx context.Context, target string, err error) error {
	if exc := vm.Cancelled(ctx); exc != nil {
		return exc
	}
	return vm.NewException(vm.TargetUnreachableError, target, err.Error())
}
