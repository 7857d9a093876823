package vm

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruthy(t *testing.T) {
	falsy := []Value{nil, false, int64(0), 0.0, "", NewList(), Tuple{}, Dict{}}
	for _, v := range falsy {
		if Truthy(v) {
			t.Errorf("Truthy(%s) = true", Repr(v))
		}
	}
	truthy := []Value{true, int64(-1), 0.5, "x", NewList(nil), Tuple{int64(0)}, KeyError, NewException(KeyError)}
	for _, v := range truthy {
		if !Truthy(v) {
			t.Errorf("Truthy(%s) = false", Repr(v))
		}
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b Value
		want bool
	}{
		{int64(1), 1.0, true},
		{true, int64(1), true},
		{int64(1), "1", false},
		{nil, nil, true},
		{nil, false, false},
		{NewList(int64(1)), NewList(1.0), true},
		{NewList(int64(1)), Tuple{int64(1)}, false},
		{Dict{"a": int64(1)}, Dict{"a": int64(1)}, true},
		{Dict{"a": int64(1)}, Dict{"b": int64(1)}, false},
		{&Record{Type: "P", Fields: []string{"x"}, Values: []Value{int64(1)}}, &Record{Type: "P", Fields: []string{"x"}, Values: []Value{int64(1)}}, true},
		{NewException(KeyError, "k"), NewException(KeyError, "k"), true},
		{NewException(KeyError, "k"), NewException(IndexError, "k"), false},
		{KeyError, KeyError, true},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("Equal(%s, %s) = %v, want %v", Repr(tt.a), Repr(tt.b), got, tt.want)
		}
	}
}

func TestRepr(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{nil, "None"},
		{true, "True"},
		{int64(-3), "-3"},
		{2.0, "2.0"},
		{1e-9, "1e-09"},
		{math.Inf(-1), "-inf"},
		{"a\"b", `"a\"b"`},
		{NewList(int64(1), "x"), `[1, "x"]`},
		{Tuple{int64(1)}, "(1,)"},
		{Tuple{}, "()"},
		{Dict{"b": int64(2), "a": int64(1)}, `{"a": 1, "b": 2}`},
		{&Record{Type: "Pulse", Fields: []string{"ch", "w"}, Values: []Value{int64(1), 2.5}}, "Pulse(ch=1, w=2.5)"},
		{NewException(KeyError, "k"), `KeyError("k")`},
		{ValueError, "<class 'ValueError'>"},
	}
	for _, tt := range tests {
		if got := Repr(tt.v); got != tt.want {
			t.Errorf("Repr = %q, want %q", got, tt.want)
		}
	}
	if Str("plain") != "plain" {
		t.Error("Str should not quote strings")
	}
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "NoneType", TypeName(nil))
	assert.Equal(t, "int", TypeName(int64(1)))
	assert.Equal(t, "list", TypeName(NewList()))
	assert.Equal(t, "Pulse", TypeName(&Record{Type: "Pulse"}))
	assert.Equal(t, "KeyError", TypeName(NewException(KeyError)))
	assert.Equal(t, "type", TypeName(KeyError))
}

func TestToPlain(t *testing.T) {
	v := Tuple{NewList(int64(1)), Dict{"k": "v"}, &Record{Type: "P", Fields: []string{"x"}, Values: []Value{true}}, KeyError}
	assert.Equal(t, []any{
		[]any{int64(1)},
		map[string]any{"k": "v"},
		map[string]any{"__record__": "P", "x": true},
		"<class 'KeyError'>",
	}, ToPlain(v))
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func TestBinary(t *testing.T) {
	tests := []struct {
		op   string
		a, b Value
		want Value
	}{
		{"+", int64(2), int64(3), int64(5)},
		{"+", int64(2), 0.5, 2.5},
		{"+", "ab", "cd", "abcd"},
		{"+", Tuple{int64(1)}, Tuple{int64(2)}, Tuple{int64(1), int64(2)}},
		{"-", int64(2), int64(5), int64(-3)},
		{"*", true, int64(4), int64(4)},
		{"/", int64(7), int64(2), 3.5},
		{"//", int64(-7), int64(2), int64(-4)},
		{"//", 7.0, int64(2), 3.0},
		{"%", int64(-7), int64(3), int64(2)},
		{"%", int64(7), int64(-3), int64(-2)},
		{"%", -7.0, 3.0, 2.0},
		{"==", int64(1), 1.0, true},
		{"!=", "a", "b", true},
		{"<", int64(1), 1.5, true},
		{">=", "b", "a", true},
		{"<=", int64(3), int64(3), true},
	}
	for _, tt := range tests {
		got, err := Binary(tt.op, tt.a, tt.b)
		if err != nil {
			t.Errorf("%s %s %s: %v", Repr(tt.a), tt.op, Repr(tt.b), err)
			continue
		}
		if !Equal(got, tt.want) || TypeName(got) != TypeName(tt.want) {
			t.Errorf("%s %s %s = %s, want %s", Repr(tt.a), tt.op, Repr(tt.b), Repr(got), Repr(tt.want))
		}
	}
}

func TestBinaryErrors(t *testing.T) {
	tests := []struct {
		op   string
		a, b Value
		want *ExcType
	}{
		{"/", int64(1), int64(0), ZeroDivisionError},
		{"//", int64(1), int64(0), ZeroDivisionError},
		{"%", 1.0, 0.0, ZeroDivisionError},
		{"+", "a", int64(1), TypeError},
		{"-", "a", "b", TypeError},
		{"<", int64(1), "a", TypeError},
		{"<", NewList(), NewList(), TypeError},
	}
	for _, tt := range tests {
		_, err := Binary(tt.op, tt.a, tt.b)
		if !errors.Is(err, NewException(tt.want)) {
			t.Errorf("%s %s %s: err = %v, want %s", Repr(tt.a), tt.op, Repr(tt.b), err, tt.want.Name)
		}
	}
}

func TestUnary(t *testing.T) {
	v, err := Unary("-", int64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(-3), v)

	v, err = Unary("-", true)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v)

	v, err = Unary("not", NewList())
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = Unary("-", "x")
	assert.True(t, errors.Is(err, NewException(TypeError)))
}

func TestIndexing(t *testing.T) {
	l := NewList(int64(10), int64(20), int64(30))

	v, err := Index(l, int64(-1))
	require.NoError(t, err)
	assert.Equal(t, int64(30), v)

	v, err = Index("héllo", int64(1))
	require.NoError(t, err)
	assert.Equal(t, "é", v)

	_, err = Index(l, int64(3))
	assert.True(t, errors.Is(err, NewException(IndexError)))
	_, err = Index(Dict{}, "missing")
	assert.True(t, errors.Is(err, NewException(KeyError)))
	_, err = Index(int64(1), int64(0))
	assert.True(t, errors.Is(err, NewException(TypeError)))

	require.NoError(t, SetIndex(l, int64(0), "x"))
	assert.Equal(t, "x", l.Items[0])
	d := Dict{}
	require.NoError(t, SetIndex(d, "k", int64(1)))
	assert.Equal(t, int64(1), d["k"])
	assert.Error(t, SetIndex(Tuple{int64(1)}, int64(0), int64(2)))
}

func TestFieldsAndMethods(t *testing.T) {
	r := &Record{Type: "Pulse", Fields: []string{"ch"}, Values: []Value{int64(4)}}
	v, err := GetField(r, "ch")
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	args, err := GetField(NewException(KeyError, "k"), "args")
	require.NoError(t, err)
	assert.Equal(t, Tuple{"k"}, args)

	_, err = GetField(r, "missing")
	assert.True(t, errors.Is(err, NewException(AttributeError)))

	l := NewList()
	_, err = CallMethod(l, "append", []Value{int64(1)})
	require.NoError(t, err)
	last, err := CallMethod(l, "pop", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
	_, err = CallMethod(l, "pop", nil)
	assert.True(t, errors.Is(err, NewException(IndexError)))
	_, err = CallMethod(l, "sort", nil)
	assert.True(t, errors.Is(err, NewException(AttributeError)))
}

func TestIterateSnapshots(t *testing.T) {
	l := NewList(int64(1), int64(2))
	items, err := Iterate(l)
	require.NoError(t, err)
	l.Append(int64(3))
	assert.Len(t, items, 2)

	keys, err := Iterate(Dict{"b": nil, "a": nil})
	require.NoError(t, err)
	assert.Equal(t, []Value{"a", "b"}, keys)

	_, err = Iterate(int64(3))
	assert.True(t, errors.Is(err, NewException(TypeError)))
}

// ---------------------------------------------------------------------------
// Wire form
// ---------------------------------------------------------------------------

func TestWireCopy(t *testing.T) {
	orig := Dict{
		"list":   NewList(int64(1), 2.5, "s", nil, true),
		"tuple":  Tuple{int64(1), Tuple{}},
		"record": &Record{Type: "P", Fields: []string{"x"}, Values: []Value{NewList()}},
	}
	cp, err := Copy(orig)
	require.NoError(t, err)
	assert.True(t, Equal(orig, cp))

	// Mutating the copy leaves the original untouched.
	cp.(Dict)["list"].(*List).Append(int64(9))
	assert.Equal(t, 5, orig["list"].(*List).Len())
}

func TestWireThroughCBOR(t *testing.T) {
	v := Tuple{int64(-5), 0.1, "é", NewList(Dict{"k": false})}
	w, err := ToWire(v)
	require.NoError(t, err)
	data, err := Marshal(w)
	require.NoError(t, err)

	var back WireValue
	require.NoError(t, Unmarshal(data, &back))
	assert.True(t, Equal(v, FromWire(back)), Repr(FromWire(back)))

	again, err := Marshal(w)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding is deterministic")
}

func TestWireFloatsThroughCBOR(t *testing.T) {
	roundTrip := func(t *testing.T, f float64) float64 {
		t.Helper()
		w, err := ToWire(f)
		require.NoError(t, err)
		data, err := Marshal(w)
		require.NoError(t, err)
		var back WireValue
		require.NoError(t, Unmarshal(data, &back))
		got, ok := FromWire(back).(float64)
		require.True(t, ok, "float came back as %T", FromWire(back))
		return got
	}

	negZero := roundTrip(t, math.Copysign(0, -1))
	assert.Zero(t, negZero)
	assert.True(t, math.Signbit(negZero), "-0.0 lost its sign")

	posZero := roundTrip(t, 0)
	assert.False(t, math.Signbit(posZero))

	assert.True(t, math.IsNaN(roundTrip(t, math.NaN())))
	assert.True(t, math.IsInf(roundTrip(t, math.Inf(-1)), -1))
	assert.Equal(t, 0.1, roundTrip(t, 0.1))
}

func TestWireRejectsUnserialisable(t *testing.T) {
	for _, v := range []Value{KeyError, NewException(KeyError), NewList(ValueError)} {
		_, err := ToWire(v)
		assert.True(t, errors.Is(err, NewException(UnmarshalableArgumentError)), Repr(v))
	}
	_, err := ToWireArgs([]Value{int64(1), KeyError})
	assert.Error(t, err)
}
