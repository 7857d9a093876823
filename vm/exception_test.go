package vm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExcTypeHierarchy(t *testing.T) {
	if !ZeroDivisionError.IsKindOf(ArithmeticError) || !ZeroDivisionError.IsKindOf(ExceptionType) {
		t.Error("ZeroDivisionError should descend from ArithmeticError and Exception")
	}
	if KeyError.IsKindOf(IndexError) {
		t.Error("KeyError is not an IndexError")
	}
	if !UnmarshalableArgumentError.IsKindOf(TypeError) {
		t.Error("UnmarshalableArgumentError should be a TypeError")
	}
	if RemoteExceptionError.IsKindOf(ExceptionType) {
		t.Error("RemoteExceptionError sits outside the tree")
	}
}

func TestClauseMatches(t *testing.T) {
	tests := []struct {
		name   string
		clause Clause
		exc    *ExcType
		want   bool
	}{
		{"exact", Clause{Types: []*ExcType{KeyError}}, KeyError, true},
		{"ancestor", Clause{Types: []*ExcType{LookupError}}, IndexError, true},
		{"unrelated", Clause{Types: []*ExcType{KeyError}}, ValueError, false},
		{"any of several", Clause{Types: []*ExcType{TypeError, KeyError}}, KeyError, true},
		{"bare", Clause{}, ValueError, true},
		{"bare catches remote", Clause{}, RemoteExceptionError, true},
		{"typed misses remote", Clause{Types: []*ExcType{ExceptionType}}, RemoteExceptionError, false},
		{"bare misses fatal", Clause{}, NegativeDelayError, false},
		{"parent misses fatal", Clause{Types: []*ExcType{ValueError}}, NegativeDelayError, false},
		{"exact misses cancelled", Clause{Types: []*ExcType{CancelledError}}, CancelledError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.clause.Matches(NewException(tt.exc)); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExceptionError(t *testing.T) {
	tests := []struct {
		exc  *Exception
		want string
	}{
		{NewException(KeyError), "KeyError"},
		{NewException(KeyError, "k"), "KeyError: k"},
		{NewException(ValueError, "bad", int64(3)), `ValueError: ("bad", 3)`},
	}
	for _, tt := range tests {
		if got := tt.exc.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestExceptionIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewException(IndexError, "list index out of range"))
	assert.True(t, errors.Is(err, NewException(IndexError)))
	assert.False(t, errors.Is(err, NewException(LookupError)))
	assert.False(t, errors.Is(err, NewException(IndexError, "other")))
}

func TestAsException(t *testing.T) {
	assert.Nil(t, AsException(nil))

	exc := NewException(KeyError)
	assert.Same(t, exc, AsException(fmt.Errorf("ctx: %w", exc)))

	plain := AsException(errors.New("disk on fire"))
	assert.Equal(t, RuntimeError, plain.Type)
	assert.Equal(t, []Value{"disk on fire"}, plain.Args)
}

func TestCancelled(t *testing.T) {
	assert.Nil(t, Cancelled(context.Background()))
	assert.Nil(t, Cancelled(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exc := Cancelled(ctx)
	require.NotNil(t, exc)
	assert.Equal(t, CancelledError, exc.Type)
}

func TestRegistryDeclare(t *testing.T) {
	r := NewRegistry()

	boom, err := r.Declare("Boom", "ValueError")
	require.NoError(t, err)
	assert.True(t, boom.IsKindOf(ValueError))

	plain, err := r.Declare("Plain", "")
	require.NoError(t, err)
	assert.Same(t, ExceptionType, plain.Parent)

	_, err = r.Declare("Boom", "")
	assert.Error(t, err, "duplicate")
	_, err = r.Declare("Orphan", "Missing")
	assert.Error(t, err, "unknown parent")
	_, err = r.Declare("Sub", "RemoteExceptionError")
	assert.Error(t, err, "opaque parent")
	_, err = r.Declare("Late", "NegativeDelayError")
	assert.Error(t, err, "fatal parent")
	_, err = r.Declare("  ", "")
	assert.Error(t, err, "empty name")

	got, ok := r.Lookup(" Boom ")
	assert.True(t, ok)
	assert.Same(t, boom, got)
	assert.Contains(t, r.Names(), "Boom")
	assert.Contains(t, r.Names(), "KeyError")
}

func TestRegistryNormalizesNames(t *testing.T) {
	r := NewRegistry()
	// U+00E9 (precomposed) and "e" + U+0301 (combining acute) are the same name.
	_, err := r.Declare("Caf\u00e9Error", "")
	require.NoError(t, err)
	_, ok := r.Lookup("Cafe\u0301Error")
	assert.True(t, ok)
}

func TestExceptionRecordRoundTrip(t *testing.T) {
	host := NewRegistry()
	device := NewRegistry()
	_, err := device.Declare("Custom", "")
	require.NoError(t, err)

	exc := NewException(KeyError, "k", NewList(int64(1)))
	back := device.FromRecord(exc.Record())
	assert.Same(t, KeyError, back.Type)
	assert.Equal(t, []Value{"k", NewList(int64(1))}, back.Args)

	custom, _ := device.Lookup("Custom")
	rec := NewException(custom, int64(7)).Record()
	unknown := host.FromRecord(rec)
	assert.Same(t, RemoteExceptionError, unknown.Type)
	assert.Equal(t, []Value{"Custom", int64(7)}, unknown.Args)
}

func TestExceptionRecordStringifiesUnencodableArgs(t *testing.T) {
	rec := NewException(TypeError, KeyError).Record()
	require.Len(t, rec.Args, 1)
	assert.Equal(t, WireString, rec.Args[0].Kind)
	assert.Equal(t, "<class 'KeyError'>", rec.Args[0].S)
}

func TestCallRPC(t *testing.T) {
	types := NewRegistry()
	ctx := context.Background()

	_, err := CallRPC(ctx, nil, types, "target", []Value{int64(1)})
	assert.True(t, errors.Is(err, NewException(TargetUnreachableError)))

	called := false
	b := BridgeFunc(func(ctx context.Context, target string, args []Value) (Value, error) {
		called = true
		return nil, Remote(NewException(IndexError, "i"))
	})
	_, err = CallRPC(ctx, b, types, "target", []Value{KeyError})
	assert.True(t, errors.Is(err, NewException(UnmarshalableArgumentError)))
	assert.False(t, called, "bridge reached with an unserialisable argument")

	_, err = CallRPC(ctx, b, types, "target", nil)
	assert.True(t, errors.Is(err, NewException(IndexError)))
	assert.True(t, called)

	failing := BridgeFunc(func(ctx context.Context, target string, args []Value) (Value, error) {
		return nil, errors.New("link down")
	})
	_, err = CallRPC(ctx, failing, types, "target", nil)
	assert.Equal(t, RuntimeError, AsException(err).Type)
}

func TestRemoteErrorMessage(t *testing.T) {
	err := Remote(NewException(KeyError, "k"))
	assert.Equal(t, "KeyError: k", err.Error())
}
