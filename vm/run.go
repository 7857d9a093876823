package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/chazu/kairos/compiler"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("kairos.vm")

// Backend executes kernel programs. Every backend must produce identical
// observable results for the same program and request.
type Backend interface {
	Name() string
	Run(ctx context.Context, prog *compiler.Program, req RunRequest) (*RunResult, error)
}

// RunRequest describes one kernel run.
type RunRequest struct {
	// Entry names the kernel to start. Its parameters are bound by name from
	// Args; every argument is also readable as self.<name>.
	Entry    string
	Args     map[string]Value
	Devices  *DeviceRegistry
	CoreName string // defaults to "core"
	Bridge   Bridge
	Start    MU
	Out      io.Writer // receives print output; nil discards it
}

// RunResult is what a run leaves behind. On an unhandled exception Err holds
// it and the other fields reflect the state at the fault point.
type RunResult struct {
	Backend string
	Return  Value
	Attrs   Dict
	Now     MU
	Err     error
}

// Exception returns the unhandled exception, if the run ended with one.
func (r *RunResult) Exception() *Exception {
	var exc *Exception
	if errors.As(r.Err, &exc) {
		return exc
	}
	return nil
}

// RunState is the per-run mutable state shared by all runtime services. It
// is never shared between runs.
type RunState struct {
	Ctx      context.Context
	Cursor   *Cursor
	Core     *Core
	Devices  *DeviceRegistry
	Bridge   Bridge
	Types    *Registry
	Records  map[string][]string
	Attrs    Dict
	Handling *Handling
	Out      io.Writer
}

// NewRunState prepares state for running prog. The entry kernel's arguments
// are returned in parameter order.
func NewRunState(ctx context.Context, prog *compiler.Program, req RunRequest) (*RunState, []Value, error) {
	types, err := ProgramTypes(prog)
	if err != nil {
		return nil, nil, err
	}
	entry := prog.Kernel(req.Entry)
	if entry == nil {
		return nil, nil, fmt.Errorf("vm: no kernel named %q", req.Entry)
	}
	rs := &RunState{
		Ctx:      ctx,
		Cursor:   NewCursor(req.Start),
		Devices:  req.Devices,
		Bridge:   req.Bridge,
		Types:    types,
		Records:  make(map[string][]string, len(prog.Records)),
		Attrs:    make(Dict, len(req.Args)),
		Handling: &Handling{},
		Out:      req.Out,
	}
	if rs.Out == nil {
		rs.Out = io.Discard
	}
	for _, r := range prog.Records {
		rs.Records[r.Name] = r.Fields
	}
	coreName := req.CoreName
	if coreName == "" {
		coreName = "core"
	}
	// A missing core is only an error once a kernel converts time.
	if core, err := req.Devices.Core(coreName); err == nil {
		rs.Core = core
	}

	names := make([]string, 0, len(req.Args))
	for name := range req.Args {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		// Arguments are copied in so a run never aliases caller state.
		v, err := Copy(req.Args[name])
		if err != nil {
			return nil, nil, fmt.Errorf("vm: argument %q: %w", name, err)
		}
		rs.Attrs[name] = v
	}
	args := make([]Value, len(entry.Params))
	for i, p := range entry.Params {
		v, ok := rs.Attrs[p]
		if !ok {
			return nil, nil, Errorf(TypeError, "%s() missing required argument: '%s'", entry.Name, p)
		}
		args[i] = v
	}
	return rs, args, nil
}

// Result builds the run result after the entry kernel finished.
func (rs *RunState) Result(backend string, ret Value, err error) *RunResult {
	if err != nil {
		log.Debugf("%s: run ended with %s", backend, err)
	}
	return &RunResult{
		Backend: backend,
		Return:  ret,
		Attrs:   rs.Attrs,
		Now:     rs.Cursor.Now(),
		Err:     err,
	}
}

// ProgramTypes builds the exception registry for prog: the builtin types plus
// every declared type, in declaration order.
func ProgramTypes(prog *compiler.Program) (*Registry, error) {
	types := NewRegistry()
	for _, e := range prog.Exceptions {
		if _, err := types.Declare(e.Name, e.Parent); err != nil {
			return nil, err
		}
	}
	return types, nil
}

// ---------------------------------------------------------------------------
// Attributes, locals and constructors shared by both backends
// ---------------------------------------------------------------------------

// GetAttr reads self.name.
func (rs *RunState) GetAttr(name string) (Value, error) {
	v, ok := rs.Attrs[name]
	if !ok {
		return nil, Errorf(AttributeError, "kernel has no attribute '%s'", name)
	}
	return v, nil
}

// SetAttr writes self.name.
func (rs *RunState) SetAttr(name string, v Value) {
	rs.Attrs[name] = v
}

// NewRecord constructs an instance of the record type name.
func (rs *RunState) NewRecord(name string, args []Value) (Value, error) {
	fields, ok := rs.Records[name]
	if !ok {
		return nil, Errorf(NameError, "name '%s' is not defined", name)
	}
	if len(args) != len(fields) {
		return nil, Errorf(TypeError, "%s() takes %d arguments (%d given)", name, len(fields), len(args))
	}
	return &Record{Type: name, Fields: fields, Values: append([]Value(nil), args...)}, nil
}

// NewExceptionValue constructs an instance of the exception type name.
func (rs *RunState) NewExceptionValue(name string, args []Value) (Value, error) {
	t, ok := rs.Types.Lookup(name)
	if !ok {
		return nil, Errorf(NameError, "name '%s' is not defined", name)
	}
	return NewException(t, append([]Value(nil), args...)...), nil
}

// LookupType resolves an exception type name.
func (rs *RunState) LookupType(name string) (*ExcType, error) {
	t, ok := rs.Types.Lookup(name)
	if !ok {
		return nil, Errorf(NameError, "name '%s' is not defined", name)
	}
	return t, nil
}

// Clause resolves the type names of a handler clause.
func (rs *RunState) Clause(names []string) (Clause, error) {
	c := Clause{Types: make([]*ExcType, 0, len(names))}
	for _, name := range names {
		t, err := rs.LookupType(name)
		if err != nil {
			return Clause{}, err
		}
		c.Types = append(c.Types, t)
	}
	return c, nil
}

// CallRPC invokes a host procedure through the run's bridge.
func (rs *RunState) CallRPC(target string, args []Value) (Value, error) {
	return CallRPC(rs.Ctx, rs.Bridge, rs.Types, target, args)
}

// ToRaise converts the operand of a raise statement into the exception to
// raise. Raising a type instantiates it with no arguments.
func ToRaise(v Value) *Exception {
	switch x := v.(type) {
	case *Exception:
		return x
	case *ExcType:
		return NewException(x)
	}
	return NewException(TypeError, "exceptions must derive from Exception")
}

// Locals holds a kernel frame's local variables.
type Locals struct {
	names []string
	vals  []Value
	set   []bool
}

// NewLocals allocates slots for names with the leading ones bound to args.
func NewLocals(names []string, args []Value) *Locals {
	l := &Locals{names: names, vals: make([]Value, len(names)), set: make([]bool, len(names))}
	for i, a := range args {
		l.vals[i] = a
		l.set[i] = true
	}
	return l
}

// Get reads a slot. Reading a slot that was never assigned is a NameError.
func (l *Locals) Get(slot int) (Value, error) {
	if !l.set[slot] {
		return nil, Errorf(NameError, "local variable '%s' referenced before assignment", l.names[slot])
	}
	return l.vals[slot], nil
}

// Set writes a slot.
func (l *Locals) Set(slot int, v Value) {
	l.vals[slot] = v
	l.set[slot] = true
}

// Kernel call depth limit shared by both backends.
const MaxCallDepth = 200

// RecursionError is raised when kernel calls nest deeper than MaxCallDepth.
func RecursionError() *Exception {
	return NewException(RuntimeError, "maximum recursion depth exceeded")
}
