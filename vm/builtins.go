package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Constants are the time and frequency unit names kernels may use.
var Constants = map[string]float64{
	"s":   1,
	"ms":  1e-3,
	"us":  1e-6,
	"ns":  1e-9,
	"Hz":  1,
	"kHz": 1e3,
	"MHz": 1e6,
	"GHz": 1e9,
}

// BuiltinFunc implements a builtin function.
type BuiltinFunc func(rs *RunState, args []Value) (Value, error)

var builtins map[string]BuiltinFunc

func init() {
	builtins = map[string]BuiltinFunc{
		"range":         builtinRange,
		"len":           builtinLen,
		"int":           builtinInt,
		"float":         builtinFloat,
		"abs":           builtinAbs,
		"min":           func(rs *RunState, args []Value) (Value, error) { return extremum("min", args, "<") },
		"max":           func(rs *RunState, args []Value) (Value, error) { return extremum("max", args, ">") },
		"round":         builtinRound,
		"str":           builtinStr,
		"list":          builtinList,
		"print":         builtinPrint,
		"now_mu":        builtinNowMu,
		"delay":         builtinDelay,
		"delay_mu":      builtinDelayMu,
		"mu_to_seconds": builtinMuToSeconds,
		"seconds_to_mu": builtinSecondsToMu,
	}
}

// CallBuiltin invokes the builtin function name.
func CallBuiltin(rs *RunState, name string, args []Value) (Value, error) {
	fn, ok := builtins[name]
	if !ok {
		return nil, Errorf(NameError, "name '%s' is not defined", name)
	}
	return fn(rs, args)
}

// BuiltinNames returns the names of all builtin functions.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	return names
}

// Env is the compile-time view of the runtime's predefined names.
type Env struct{}

// IsBuiltin implements compiler.Env.
func (Env) IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

// IsConstant implements compiler.Env.
func (Env) IsConstant(name string) bool {
	_, ok := Constants[name]
	return ok
}

// IsExceptionType implements compiler.Env.
func (Env) IsExceptionType(name string) bool {
	for _, t := range builtinTypes {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Constant returns the value of a unit constant.
func Constant(name string) (Value, error) {
	v, ok := Constants[name]
	if !ok {
		return nil, Errorf(NameError, "name '%s' is not defined", name)
	}
	return v, nil
}

func arity(name string, args []Value, n int) error {
	if len(args) != n {
		return Errorf(TypeError, "%s() takes exactly %d argument%s (%d given)", name, n, plural(n), len(args))
	}
	return nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func intArg(name string, v Value) (int64, error) {
	i, ok := asInt(v)
	if !ok {
		return 0, Errorf(TypeError, "%s() argument must be int, not %s", name, TypeName(v))
	}
	return i, nil
}

func floatArg(name string, v Value) (float64, error) {
	f, ok := asNumber(v)
	if !ok {
		return 0, Errorf(TypeError, "%s() argument must be a number, not %s", name, TypeName(v))
	}
	return f, nil
}

func builtinRange(rs *RunState, args []Value) (Value, error) {
	var start, stop, step int64 = 0, 0, 1
	ints := make([]int64, len(args))
	for i, a := range args {
		n, err := intArg("range", a)
		if err != nil {
			return nil, err
		}
		ints[i] = n
	}
	switch len(ints) {
	case 1:
		stop = ints[0]
	case 2:
		start, stop = ints[0], ints[1]
	case 3:
		start, stop, step = ints[0], ints[1], ints[2]
		if step == 0 {
			return nil, NewException(ValueError, "range() arg 3 must not be zero")
		}
	default:
		return nil, Errorf(TypeError, "range expected 1 to 3 arguments, got %d", len(args))
	}
	var items []Value
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		items = append(items, i)
	}
	return NewList(items...), nil
}

func builtinLen(rs *RunState, args []Value) (Value, error) {
	if err := arity("len", args, 1); err != nil {
		return nil, err
	}
	return Len(args[0])
}

func builtinInt(rs *RunState, args []Value) (Value, error) {
	if err := arity("int", args, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case bool, int64:
		i, _ := asInt(x)
		return i, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, Errorf(ValueError, "cannot convert float %s to integer", formatFloat(x))
		}
		if math.Abs(x) >= math.MaxInt64 {
			return nil, NewException(OverflowError, "int too large to convert")
		}
		return int64(math.Trunc(x)), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, Errorf(ValueError, "invalid literal for int() with base 10: %s", Repr(x))
		}
		return i, nil
	}
	return nil, Errorf(TypeError, "int() argument must be a string or a number, not '%s'", TypeName(args[0]))
}

func builtinFloat(rs *RunState, args []Value) (Value, error) {
	if err := arity("float", args, 1); err != nil {
		return nil, err
	}
	if s, ok := args[0].(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, Errorf(ValueError, "could not convert string to float: %s", Repr(s))
		}
		return f, nil
	}
	f, ok := asNumber(args[0])
	if !ok {
		return nil, Errorf(TypeError, "float() argument must be a string or a number, not '%s'", TypeName(args[0]))
	}
	return f, nil
}

func builtinAbs(rs *RunState, args []Value) (Value, error) {
	if err := arity("abs", args, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case bool, int64:
		i, _ := asInt(x)
		if i < 0 {
			return -i, nil
		}
		return i, nil
	case float64:
		return math.Abs(x), nil
	}
	return nil, Errorf(TypeError, "bad operand type for abs(): '%s'", TypeName(args[0]))
}

func extremum(name string, args []Value, op string) (Value, error) {
	items := args
	if len(args) == 1 {
		var err error
		if items, err = Iterate(args[0]); err != nil {
			return nil, err
		}
	}
	if len(items) == 0 {
		if len(args) == 0 {
			return nil, Errorf(TypeError, "%s expected at least 1 argument, got 0", name)
		}
		return nil, Errorf(ValueError, "%s() arg is an empty sequence", name)
	}
	best := items[0]
	for _, v := range items[1:] {
		better, err := compare(op, v, best)
		if err != nil {
			return nil, err
		}
		if better.(bool) {
			best = v
		}
	}
	return best, nil
}

// builtinRound rounds half to even. With one argument the result is an int.
func builtinRound(rs *RunState, args []Value) (Value, error) {
	if len(args) != 1 && len(args) != 2 {
		return nil, Errorf(TypeError, "round() takes 1 or 2 arguments (%d given)", len(args))
	}
	if len(args) == 1 {
		if i, ok := asInt(args[0]); ok {
			return i, nil
		}
		f, err := floatArg("round", args[0])
		if err != nil {
			return nil, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, Errorf(ValueError, "cannot convert float %s to integer", formatFloat(f))
		}
		return int64(math.RoundToEven(f)), nil
	}
	digits, err := intArg("round", args[1])
	if err != nil {
		return nil, err
	}
	if i, ok := asInt(args[0]); ok && digits >= 0 {
		return i, nil
	}
	f, err := floatArg("round", args[0])
	if err != nil {
		return nil, err
	}
	scale := math.Pow(10, float64(digits))
	return math.RoundToEven(f*scale) / scale, nil
}

func builtinStr(rs *RunState, args []Value) (Value, error) {
	if len(args) == 0 {
		return "", nil
	}
	if err := arity("str", args, 1); err != nil {
		return nil, err
	}
	return Str(args[0]), nil
}

func builtinList(rs *RunState, args []Value) (Value, error) {
	if len(args) == 0 {
		return NewList(), nil
	}
	if err := arity("list", args, 1); err != nil {
		return nil, err
	}
	items, err := Iterate(args[0])
	if err != nil {
		return nil, err
	}
	return NewList(items...), nil
}

func builtinPrint(rs *RunState, args []Value) (Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = Str(a)
	}
	fmt.Fprintln(rs.Out, strings.Join(parts, " "))
	return nil, nil
}

func builtinNowMu(rs *RunState, args []Value) (Value, error) {
	if err := arity("now_mu", args, 0); err != nil {
		return nil, err
	}
	return int64(rs.Cursor.Now()), nil
}

func builtinDelay(rs *RunState, args []Value) (Value, error) {
	if err := arity("delay", args, 1); err != nil {
		return nil, err
	}
	seconds, err := floatArg("delay", args[0])
	if err != nil {
		return nil, err
	}
	mu, err := SecondsToMu(seconds, rs.Core)
	if err != nil {
		return nil, err
	}
	return nil, rs.Cursor.Advance(mu)
}

func builtinDelayMu(rs *RunState, args []Value) (Value, error) {
	if err := arity("delay_mu", args, 1); err != nil {
		return nil, err
	}
	mu, err := intArg("delay_mu", args[0])
	if err != nil {
		return nil, err
	}
	return nil, rs.Cursor.Advance(MU(mu))
}

func builtinMuToSeconds(rs *RunState, args []Value) (Value, error) {
	if err := arity("mu_to_seconds", args, 1); err != nil {
		return nil, err
	}
	mu, err := intArg("mu_to_seconds", args[0])
	if err != nil {
		return nil, err
	}
	return MuToSeconds(MU(mu), rs.Core)
}

func builtinSecondsToMu(rs *RunState, args []Value) (Value, error) {
	if err := arity("seconds_to_mu", args, 1); err != nil {
		return nil, err
	}
	seconds, err := floatArg("seconds_to_mu", args[0])
	if err != nil {
		return nil, err
	}
	mu, err := SecondsToMu(seconds, rs.Core)
	if err != nil {
		return nil, err
	}
	return int64(mu), nil
}
