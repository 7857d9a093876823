package vm

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Value is any kernel-visible value. The concrete types are:
//
//	nil        none
//	bool       boolean
//	int64      integer
//	float64    floating point
//	string     string
//	*List      mutable list, shared by reference
//	Tuple      immutable sequence
//	Dict       string-keyed mapping
//	*Record    instance of a declared record type
//	*Exception exception instance
//	*ExcType   exception type
type Value = any

// List is a mutable sequence. Appends through one reference are visible
// through every other, which is how kernels publish output.
type List struct {
	Items []Value
}

// NewList creates a list holding items.
func NewList(items ...Value) *List {
	return &List{Items: items}
}

// Append adds v to the end of the list.
func (l *List) Append(v Value) {
	l.Items = append(l.Items, v)
}

// Len returns the number of items.
func (l *List) Len() int { return len(l.Items) }

// Tuple is an immutable sequence.
type Tuple []Value

// Dict is a mapping from strings to values.
type Dict map[string]Value

func sortedKeys(d Dict) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Record is an instance of a declared composite record type.
type Record struct {
	Type   string
	Fields []string
	Values []Value
}

// Field returns the value of the named field.
func (r *Record) Field(name string) (Value, bool) {
	for i, f := range r.Fields {
		if f == name {
			return r.Values[i], true
		}
	}
	return nil, false
}

// TypeName returns the kernel-level name of v's type.
func TypeName(v Value) string {
	switch x := v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case *List:
		return "list"
	case Tuple:
		return "tuple"
	case Dict:
		return "dict"
	case *Record:
		return x.Type
	case *Exception:
		return x.Type.Name
	case *ExcType:
		return "type"
	default:
		return "object"
	}
}

// Truthy reports the truth value of v.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case *List:
		return len(x.Items) > 0
	case Tuple:
		return len(x) > 0
	case Dict:
		return len(x) > 0
	default:
		return true
	}
}

// Equal reports deep equality. Integers and floats compare numerically; lists
// and tuples never compare equal to each other.
func Equal(a, b Value) bool {
	if fa, ok := asNumber(a); ok {
		if fb, ok := asNumber(b); ok {
			ia, aInt := asInt(a)
			ib, bInt := asInt(b)
			if aInt && bInt {
				return ia == ib
			}
			return fa == fb
		}
		return false
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case *List:
		y, ok := b.(*List)
		return ok && (x == y || equalSlices(x.Items, y.Items))
	case Tuple:
		y, ok := b.(Tuple)
		return ok && equalSlices(x, y)
	case Dict:
		y, ok := b.(Dict)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case *Record:
		y, ok := b.(*Record)
		if !ok || x.Type != y.Type || len(x.Fields) != len(y.Fields) {
			return false
		}
		for i, f := range x.Fields {
			w, ok := y.Field(f)
			if !ok || !Equal(x.Values[i], w) {
				return false
			}
		}
		return true
	case *Exception:
		y, ok := b.(*Exception)
		return ok && x.Type == y.Type && equalSlices(x.Args, y.Args)
	case *ExcType:
		y, ok := b.(*ExcType)
		return ok && x == y
	}
	return false
}

func equalSlices(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// asNumber returns v as a float64 if it is numeric. Booleans count as 0/1.
func asNumber(v Value) (float64, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// asInt returns v as an int64 if it is an integer or boolean.
func asInt(v Value) (int64, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int64:
		return x, true
	}
	return 0, false
}

// Repr returns the source-like representation of v.
func Repr(v Value) string {
	var sb strings.Builder
	writeRepr(&sb, v)
	return sb.String()
}

// Str returns the display form of v: strings print without quotes.
func Str(v Value) string {
	if s, ok := v.(string); ok {
		return s
	}
	return Repr(v)
}

func writeRepr(sb *strings.Builder, v Value) {
	switch x := v.(type) {
	case nil:
		sb.WriteString("None")
	case bool:
		if x {
			sb.WriteString("True")
		} else {
			sb.WriteString("False")
		}
	case int64:
		sb.WriteString(strconv.FormatInt(x, 10))
	case float64:
		sb.WriteString(formatFloat(x))
	case string:
		sb.WriteString(strconv.Quote(x))
	case *List:
		sb.WriteByte('[')
		writeItems(sb, x.Items)
		sb.WriteByte(']')
	case Tuple:
		sb.WriteByte('(')
		writeItems(sb, x)
		if len(x) == 1 {
			sb.WriteByte(',')
		}
		sb.WriteByte(')')
	case Dict:
		sb.WriteByte('{')
		for i, k := range sortedKeys(x) {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteString(": ")
			writeRepr(sb, x[k])
		}
		sb.WriteByte('}')
	case *Record:
		sb.WriteString(x.Type)
		sb.WriteByte('(')
		for i, f := range x.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f)
			sb.WriteByte('=')
			writeRepr(sb, x.Values[i])
		}
		sb.WriteByte(')')
	case *Exception:
		sb.WriteString(x.Type.Name)
		sb.WriteByte('(')
		writeItems(sb, x.Args)
		sb.WriteByte(')')
	case *ExcType:
		sb.WriteString("<class '")
		sb.WriteString(x.Name)
		sb.WriteString("'>")
	default:
		sb.WriteString("<object>")
	}
}

func writeItems(sb *strings.Builder, items []Value) {
	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeRepr(sb, item)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// ToPlain converts v into plain Go values (nil, bool, int64, float64,
// string, []any, map[string]any) for JSON/YAML output.
func ToPlain(v Value) any {
	switch x := v.(type) {
	case *List:
		return plainSlice(x.Items)
	case Tuple:
		return plainSlice(x)
	case Dict:
		m := make(map[string]any, len(x))
		for k, item := range x {
			m[k] = ToPlain(item)
		}
		return m
	case *Record:
		m := make(map[string]any, len(x.Fields)+1)
		m["__record__"] = x.Type
		for i, f := range x.Fields {
			m[f] = ToPlain(x.Values[i])
		}
		return m
	case *Exception, *ExcType:
		return Repr(x)
	default:
		return x
	}
}

func plainSlice(items []Value) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = ToPlain(item)
	}
	return out
}
