package vm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ---------------------------------------------------------------------------
// Exception types
// ---------------------------------------------------------------------------

// ExcType is an exception type. Types form a single-inheritance tree rooted
// at Exception; a handler naming a type also catches its descendants.
type ExcType struct {
	Name   string
	Parent *ExcType

	// fatal types are never selected by a handler, bare or typed.
	fatal bool
	// opaque types sit outside the tree and are only caught by bare handlers.
	opaque bool
}

// IsKindOf reports whether t is other or a descendant of other.
func (t *ExcType) IsKindOf(other *ExcType) bool {
	for c := t; c != nil; c = c.Parent {
		if c == other {
			return true
		}
	}
	return false
}

// Fatal reports whether no handler may catch exceptions of this type.
func (t *ExcType) Fatal() bool { return t.fatal }

// Opaque reports whether only bare handlers may catch exceptions of this type.
func (t *ExcType) Opaque() bool { return t.opaque }

func (t *ExcType) String() string { return t.Name }

func builtin(name string, parent *ExcType) *ExcType {
	return &ExcType{Name: name, Parent: parent}
}

// Builtin exception types. They are shared by every registry, so type
// identity holds across programs and across both sides of the RPC bridge.
var (
	ExceptionType              = &ExcType{Name: "Exception"}
	ArithmeticError            = builtin("ArithmeticError", ExceptionType)
	ZeroDivisionError          = builtin("ZeroDivisionError", ArithmeticError)
	OverflowError              = builtin("OverflowError", ArithmeticError)
	LookupError                = builtin("LookupError", ExceptionType)
	IndexError                 = builtin("IndexError", LookupError)
	KeyError                   = builtin("KeyError", LookupError)
	TypeError                  = builtin("TypeError", ExceptionType)
	ValueError                 = builtin("ValueError", ExceptionType)
	RuntimeError               = builtin("RuntimeError", ExceptionType)
	NameError                  = builtin("NameError", ExceptionType)
	AttributeError             = builtin("AttributeError", ExceptionType)
	AssertionError             = builtin("AssertionError", ExceptionType)
	UnboundDeviceError         = builtin("UnboundDeviceError", ExceptionType)
	TargetUnreachableError     = builtin("TargetUnreachableError", ExceptionType)
	UnmarshalableArgumentError = builtin("UnmarshalableArgumentError", TypeError)
	NegativeDelayError         = &ExcType{Name: "NegativeDelayError", Parent: ValueError, fatal: true}
	RemoteExceptionError       = &ExcType{Name: "RemoteExceptionError", opaque: true}

	// CancelledError aborts a run whose context was cancelled.
	CancelledError = &ExcType{Name: "CancelledError", Parent: ExceptionType, fatal: true}
)

var builtinTypes = []*ExcType{
	ExceptionType,
	ArithmeticError, ZeroDivisionError, OverflowError,
	LookupError, IndexError, KeyError,
	TypeError, ValueError, RuntimeError, NameError, AttributeError, AssertionError,
	UnboundDeviceError, TargetUnreachableError, UnmarshalableArgumentError,
	NegativeDelayError, RemoteExceptionError, CancelledError,
}

// Cancelled returns the exception that ends a run whose context is done, or
// nil while the context is live.
func Cancelled(ctx context.Context) *Exception {
	if ctx == nil || ctx.Err() == nil {
		return nil
	}
	return NewException(CancelledError, ctx.Err().Error())
}

// ---------------------------------------------------------------------------
// Exception instances
// ---------------------------------------------------------------------------

// Exception is a raised (or raisable) exception instance: a type plus the
// arguments it was constructed with. It is the only error kind that kernel
// code can observe.
type Exception struct {
	Type *ExcType
	Args []Value
}

// NewException constructs an exception of type t.
func NewException(t *ExcType, args ...Value) *Exception {
	return &Exception{Type: t, Args: args}
}

// Errorf constructs an exception whose single argument is a formatted message.
func Errorf(t *ExcType, format string, a ...any) *Exception {
	return NewException(t, fmt.Sprintf(format, a...))
}

// Error formats the exception as "Type: arg" (one argument) or
// "Type: (arg, ...)" (several).
func (e *Exception) Error() string {
	switch len(e.Args) {
	case 0:
		return e.Type.Name
	case 1:
		return e.Type.Name + ": " + Str(e.Args[0])
	default:
		return e.Type.Name + ": " + Repr(Tuple(e.Args))
	}
}

// Is matches exceptions by type identity so errors.Is works with templates
// built by NewException(t).
func (e *Exception) Is(target error) bool {
	var other *Exception
	if !errors.As(target, &other) {
		return false
	}
	return other.Type == e.Type && len(other.Args) == 0
}

// AsException converts any error into a kernel-visible exception. Errors that
// are not already exceptions become RuntimeError with the error text.
func AsException(err error) *Exception {
	if err == nil {
		return nil
	}
	var exc *Exception
	if errors.As(err, &exc) {
		return exc
	}
	return NewException(RuntimeError, err.Error())
}

// Clause is one handler clause of a try construct. A clause with no types is
// a bare handler.
type Clause struct {
	Types []*ExcType
}

// Matches reports whether the clause catches exc.
func (c Clause) Matches(exc *Exception) bool {
	if exc.Type.fatal {
		return false
	}
	if len(c.Types) == 0 {
		return true
	}
	if exc.Type.opaque {
		return false
	}
	for _, t := range c.Types {
		if exc.Type.IsKindOf(t) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry maps exception type names to types. Each side of the RPC bridge
// owns one; names are the identity that crosses the boundary.
type Registry struct {
	types map[string]*ExcType
}

// NewRegistry returns a registry holding the builtin types.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]*ExcType, len(builtinTypes))}
	for _, t := range builtinTypes {
		r.types[t.Name] = t
	}
	return r
}

// canonicalName normalises an identifier so that names produced by different
// encoders compare equal.
func canonicalName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Declare adds a user-defined type. An empty parent means Exception.
func (r *Registry) Declare(name, parent string) (*ExcType, error) {
	name = canonicalName(name)
	if name == "" {
		return nil, fmt.Errorf("vm: exception type name is empty")
	}
	if _, ok := r.types[name]; ok {
		return nil, fmt.Errorf("vm: exception type %q already declared", name)
	}
	p := ExceptionType
	if parent != "" {
		var ok bool
		p, ok = r.Lookup(parent)
		if !ok {
			return nil, fmt.Errorf("vm: exception type %q: unknown parent %q", name, parent)
		}
		if p.opaque || p.fatal {
			return nil, fmt.Errorf("vm: exception type %q: cannot derive from %s", name, p.Name)
		}
	}
	t := &ExcType{Name: name, Parent: p}
	r.types[name] = t
	return t, nil
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (*ExcType, bool) {
	t, ok := r.types[canonicalName(name)]
	return t, ok
}

// Names returns all registered type names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Transport records
// ---------------------------------------------------------------------------

// ExceptionRecord is the transportable form of an exception: its type name
// and constructor arguments.
type ExceptionRecord struct {
	Type string      `cbor:"type"`
	Args []WireValue `cbor:"args"`
}

// Record converts the exception into its transport form. Arguments that
// cannot be encoded are replaced by their string representation so the
// exception itself always crosses.
func (e *Exception) Record() ExceptionRecord {
	rec := ExceptionRecord{Type: e.Type.Name, Args: make([]WireValue, 0, len(e.Args))}
	for _, a := range e.Args {
		w, err := ToWire(a)
		if err != nil {
			w = WireValue{Kind: WireString, S: Repr(a)}
		}
		rec.Args = append(rec.Args, w)
	}
	return rec
}

// FromRecord rebuilds an exception on the receiving side. A type name this
// registry does not know becomes RemoteExceptionError carrying the original
// name followed by the original arguments.
func (r *Registry) FromRecord(rec ExceptionRecord) *Exception {
	args := make([]Value, 0, len(rec.Args)+1)
	for _, w := range rec.Args {
		args = append(args, FromWire(w))
	}
	if t, ok := r.Lookup(rec.Type); ok {
		return NewException(t, args...)
	}
	return NewException(RemoteExceptionError, append([]Value{canonicalName(rec.Type)}, args...)...)
}
