package vm

import (
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Operators shared by both backends. Keeping a single implementation is what
// makes arithmetic results and error messages identical on host and device.
// ---------------------------------------------------------------------------

// Binary applies an arithmetic or comparison operator.
func Binary(op string, a, b Value) (Value, error) {
	switch op {
	case "==":
		return Equal(a, b), nil
	case "!=":
		return !Equal(a, b), nil
	case "<", "<=", ">", ">=":
		return compare(op, a, b)
	case "+":
		return add(a, b)
	case "-", "*", "/", "//", "%":
		return arith(op, a, b)
	}
	return nil, Errorf(TypeError, "unknown operator %q", op)
}

// Unary applies "-" or "not".
func Unary(op string, v Value) (Value, error) {
	switch op {
	case "not":
		return !Truthy(v), nil
	case "-":
		if i, ok := v.(int64); ok {
			return -i, nil
		}
		if b, ok := v.(bool); ok {
			if b {
				return int64(-1), nil
			}
			return int64(0), nil
		}
		if f, ok := v.(float64); ok {
			return -f, nil
		}
		return nil, Errorf(TypeError, "bad operand type for unary -: '%s'", TypeName(v))
	}
	return nil, Errorf(TypeError, "unknown operator %q", op)
}

func operandError(op string, a, b Value) *Exception {
	return Errorf(TypeError, "unsupported operand type(s) for %s: '%s' and '%s'", op, TypeName(a), TypeName(b))
}

func add(a, b Value) (Value, error) {
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return x + y, nil
		}
		return nil, operandError("+", a, b)
	case *List:
		if y, ok := b.(*List); ok {
			items := make([]Value, 0, len(x.Items)+len(y.Items))
			items = append(items, x.Items...)
			return NewList(append(items, y.Items...)...), nil
		}
		return nil, operandError("+", a, b)
	case Tuple:
		if y, ok := b.(Tuple); ok {
			out := make(Tuple, 0, len(x)+len(y))
			out = append(out, x...)
			return append(out, y...), nil
		}
		return nil, operandError("+", a, b)
	}
	return arith("+", a, b)
}

func arith(op string, a, b Value) (Value, error) {
	ia, aInt := asInt(a)
	ib, bInt := asInt(b)
	if aInt && bInt {
		return intArith(op, ia, ib)
	}
	fa, aNum := asNumber(a)
	fb, bNum := asNumber(b)
	if !aNum || !bNum {
		return nil, operandError(op, a, b)
	}
	return floatArith(op, fa, fb)
}

func intArith(op string, a, b int64) (Value, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return nil, NewException(ZeroDivisionError, "division by zero")
		}
		return float64(a) / float64(b), nil
	case "//":
		if b == 0 {
			return nil, NewException(ZeroDivisionError, "integer division or modulo by zero")
		}
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return q, nil
	case "%":
		if b == 0 {
			return nil, NewException(ZeroDivisionError, "integer division or modulo by zero")
		}
		m := a % b
		if m != 0 && ((m < 0) != (b < 0)) {
			m += b
		}
		return m, nil
	}
	return nil, Errorf(TypeError, "unknown operator %q", op)
}

func floatArith(op string, a, b float64) (Value, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return nil, NewException(ZeroDivisionError, "float division by zero")
		}
		return a / b, nil
	case "//":
		if b == 0 {
			return nil, NewException(ZeroDivisionError, "float floor division by zero")
		}
		return math.Floor(a / b), nil
	case "%":
		if b == 0 {
			return nil, NewException(ZeroDivisionError, "float modulo")
		}
		m := math.Mod(a, b)
		if m != 0 && ((m < 0) != (b < 0)) {
			m += b
		}
		return m, nil
	}
	return nil, Errorf(TypeError, "unknown operator %q", op)
}

func compare(op string, a, b Value) (Value, error) {
	var c int
	if fa, ok := asNumber(a); ok {
		fb, ok := asNumber(b)
		if !ok {
			return nil, Errorf(TypeError, "'%s' not supported between instances of '%s' and '%s'", op, TypeName(a), TypeName(b))
		}
		ia, aInt := asInt(a)
		ib, bInt := asInt(b)
		switch {
		case aInt && bInt:
			c = cmpInt(ia, ib)
		case fa < fb:
			c = -1
		case fa > fb:
			c = 1
		}
	} else if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return nil, Errorf(TypeError, "'%s' not supported between instances of '%s' and '%s'", op, TypeName(a), TypeName(b))
		}
		c = strings.Compare(sa, sb)
	} else {
		return nil, Errorf(TypeError, "'%s' not supported between instances of '%s' and '%s'", op, TypeName(a), TypeName(b))
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Containers
// ---------------------------------------------------------------------------

func seqIndex(kind string, n int, idx Value) (int, error) {
	i, ok := asInt(idx)
	if !ok {
		return 0, Errorf(TypeError, "%s indices must be integers, not %s", kind, TypeName(idx))
	}
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, Errorf(IndexError, "%s index out of range", kind)
	}
	return int(i), nil
}

// Index evaluates container[idx].
func Index(container, idx Value) (Value, error) {
	switch x := container.(type) {
	case *List:
		i, err := seqIndex("list", len(x.Items), idx)
		if err != nil {
			return nil, err
		}
		return x.Items[i], nil
	case Tuple:
		i, err := seqIndex("tuple", len(x), idx)
		if err != nil {
			return nil, err
		}
		return x[i], nil
	case string:
		runes := []rune(x)
		i, err := seqIndex("string", len(runes), idx)
		if err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	case Dict:
		k, ok := idx.(string)
		if !ok {
			return nil, NewException(KeyError, idx)
		}
		v, ok := x[k]
		if !ok {
			return nil, NewException(KeyError, k)
		}
		return v, nil
	}
	return nil, Errorf(TypeError, "'%s' object is not subscriptable", TypeName(container))
}

// SetIndex performs container[idx] = v.
func SetIndex(container, idx, v Value) error {
	switch x := container.(type) {
	case *List:
		i, err := seqIndex("list assignment", len(x.Items), idx)
		if err != nil {
			return err
		}
		x.Items[i] = v
		return nil
	case Dict:
		k, ok := idx.(string)
		if !ok {
			return Errorf(TypeError, "dict keys must be str, not %s", TypeName(idx))
		}
		x[k] = v
		return nil
	}
	return Errorf(TypeError, "'%s' object does not support item assignment", TypeName(container))
}

// GetField evaluates value.name for records and exceptions.
func GetField(v Value, name string) (Value, error) {
	switch x := v.(type) {
	case *Record:
		if f, ok := x.Field(name); ok {
			return f, nil
		}
	case *Exception:
		if name == "args" {
			return Tuple(append([]Value(nil), x.Args...)), nil
		}
	}
	return nil, Errorf(AttributeError, "'%s' object has no attribute '%s'", TypeName(v), name)
}

// CallMethod invokes a builtin method on a value.
func CallMethod(recv Value, name string, args []Value) (Value, error) {
	if l, ok := recv.(*List); ok {
		switch name {
		case "append":
			if len(args) != 1 {
				return nil, Errorf(TypeError, "append() takes exactly one argument (%d given)", len(args))
			}
			l.Append(args[0])
			return nil, nil
		case "pop":
			if len(args) != 0 {
				return nil, Errorf(TypeError, "pop() takes no arguments (%d given)", len(args))
			}
			if len(l.Items) == 0 {
				return nil, NewException(IndexError, "pop from empty list")
			}
			last := l.Items[len(l.Items)-1]
			l.Items = l.Items[:len(l.Items)-1]
			return last, nil
		}
	}
	return nil, Errorf(AttributeError, "'%s' object has no attribute '%s'", TypeName(recv), name)
}

// Iterate returns a snapshot of the items a for loop visits.
func Iterate(v Value) ([]Value, error) {
	switch x := v.(type) {
	case *List:
		return append([]Value(nil), x.Items...), nil
	case Tuple:
		return append([]Value(nil), x...), nil
	case string:
		out := make([]Value, 0, len(x))
		for _, r := range x {
			out = append(out, string(r))
		}
		return out, nil
	case Dict:
		keys := make([]Value, 0, len(x))
		for _, k := range sortedKeys(x) {
			keys = append(keys, k)
		}
		return keys, nil
	}
	return nil, Errorf(TypeError, "'%s' object is not iterable", TypeName(v))
}

// Len returns len(v).
func Len(v Value) (int64, error) {
	switch x := v.(type) {
	case *List:
		return int64(len(x.Items)), nil
	case Tuple:
		return int64(len(x)), nil
	case string:
		return int64(len([]rune(x))), nil
	case Dict:
		return int64(len(x)), nil
	}
	return 0, Errorf(TypeError, "object of type '%s' has no len()", TypeName(v))
}
