package vm

import (
	"context"
	"errors"
)

// Bridge carries a procedure call to the other execution side and blocks
// until it resolves. Implementations validate and encode every argument
// before the target is reached. A failure raised by the target comes back as
// a *RemoteError so that the caller can resolve it against its own types.
type Bridge interface {
	Invoke(ctx context.Context, target string, args []Value) (Value, error)
}

// BridgeFunc adapts a function to the Bridge interface.
type BridgeFunc func(ctx context.Context, target string, args []Value) (Value, error)

// Invoke implements Bridge.
func (f BridgeFunc) Invoke(ctx context.Context, target string, args []Value) (Value, error) {
	return f(ctx, target, args)
}

// RemoteError is an exception raised on the far side of a bridge, still in
// transport form.
type RemoteError struct {
	Record ExceptionRecord
}

func (e *RemoteError) Error() string {
	return NewRegistry().FromRecord(e.Record).Error()
}

// Remote wraps an exception for transport.
func Remote(exc *Exception) *RemoteError {
	return &RemoteError{Record: exc.Record()}
}

// CallRPC invokes target through b on behalf of kernel code. Arguments are
// checked before b is consulted, so an unserialisable argument never reaches
// any transport. A cancelled run raises CancelledError before the call is
// made. Remote failures are resolved through types; every failure comes back
// as an *Exception.
func CallRPC(ctx context.Context, b Bridge, types *Registry, target string, args []Value) (Value, error) {
	if exc := Cancelled(ctx); exc != nil {
		return nil, exc
	}
	if _, err := ToWireArgs(args); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, NewException(TargetUnreachableError, target)
	}
	v, err := b.Invoke(ctx, target, args)
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) {
			return nil, types.FromRecord(remote.Record)
		}
		return nil, AsException(err)
	}
	return v, nil
}
