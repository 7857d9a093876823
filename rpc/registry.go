// Package rpc carries kernel procedure calls across the host/device
// boundary: a registry of host procedures, the transport messages, and the
// bridges that move them (in-process, worker rendezvous, Connect and gRPC).
package rpc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chazu/kairos/vm"
	"github.com/tliron/commonlog"
	"golang.org/x/text/unicode/norm"
)

var log = commonlog.GetLogger("kairos.rpc")

// Procedure is a callable target. Arguments arrive as fresh copies; the
// procedure may return any serialisable value. Returning a *vm.Exception or
// an error made by Raise reports a typed exception to the caller.
type Procedure func(ctx context.Context, args []vm.Value) (vm.Value, error)

// Registry maps target names to procedures. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	procs map[string]Procedure
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]Procedure)}
}

// TargetName normalises a target reference so that names produced by
// different encoders resolve identically.
func TargetName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Register binds name to fn.
func (r *Registry) Register(name string, fn Procedure) error {
	name = TargetName(name)
	if name == "" {
		return fmt.Errorf("rpc: empty target name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procs[name]; ok {
		return fmt.Errorf("rpc: target %q already registered", name)
	}
	r.procs[name] = fn
	return nil
}

// MustRegister is Register that panics on error, for static setup.
func (r *Registry) MustRegister(name string, fn Procedure) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup resolves a target. Unknown names fail with TargetUnreachableError.
func (r *Registry) Lookup(name string) (Procedure, error) {
	name = TargetName(name)
	r.mu.RLock()
	fn, ok := r.procs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, vm.NewException(vm.TargetUnreachableError, name)
	}
	return fn, nil
}

// Names returns the registered target names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.procs))
	for name := range r.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Raise returns an error that reaches the caller as an exception of the
// named type. The name is resolved in the caller's type universe, so a
// procedure can raise types the calling program declared.
func Raise(typeName string, args ...vm.Value) error {
	rec := vm.NewException(vm.RuntimeError, args...).Record()
	rec.Type = typeName
	return &vm.RemoteError{Record: rec}
}
