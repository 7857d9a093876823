package conformance

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/kairos/compiler"
	"github.com/chazu/kairos/rpc"
	"github.com/chazu/kairos/vm"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, name string) *compiler.Program {
	t.Helper()
	src, err := os.ReadFile(filepath.Join("testdata", name+".k"))
	require.NoError(t, err)
	prog, err := compiler.Compile(name, string(src), vm.Env{})
	require.NoError(t, err)
	return prog
}

func raiser(ctx context.Context, args []vm.Value) (vm.Value, error) {
	return nil, rpc.Raise("MyException")
}

// To regenerate golden files:
//
//	go test ./conformance -update
func TestGoldenPrograms(t *testing.T) {
	tests := []struct {
		golden  string
		program string
		opts    Options
	}{
		{"primes", "primes", Options{Args: map[string]vm.Value{
			"maximum":     int64(30),
			"output_list": vm.NewList(),
		}}},
		{"misc", "misc", Options{}},
		{"pulses", "pulses", Options{}},
		{"exceptions", "exceptions", Options{Args: map[string]vm.Value{"trace": vm.NewList()}}},
		{"rpc_exceptions_catch", "rpc_exceptions", Options{
			Args:       map[string]vm.Value{"catch": true},
			Procedures: map[string]rpc.Procedure{"exception_raiser": raiser},
		}},
		{"rpc_exceptions_no_catch", "rpc_exceptions", Options{
			Args:       map[string]vm.Value{"catch": false},
			Procedures: map[string]rpc.Procedure{"exception_raiser": raiser},
		}},
		{"parallel_abort", "parallel_abort", Options{}},
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		t.Run(tt.golden, func(t *testing.T) {
			d, err := Compare(context.Background(), load(t, tt.program), Standard(tt.opts))
			require.NoError(t, err)
			require.Len(t, d.Artifacts, 2)
			assert.True(t, d.Equal(), "backends disagree:\n%s", d)
			assert.Equal(t, d.Artifacts[0].Render(), d.Artifacts[1].Render())
			g.Assert(t, tt.golden, []byte(d.Artifacts[1].Render()))
		})
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	programs := map[string]Options{
		"exceptions": {Args: map[string]vm.Value{"trace": vm.NewList()}},
		"pulses":     {},
		"primes": {Args: map[string]vm.Value{
			"maximum":     int64(20),
			"output_list": vm.NewList(),
		}},
	}
	for name, opts := range programs {
		prog := load(t, name)
		setup := Standard(opts)
		for _, b := range Backends() {
			t.Run(name+"/"+b.Name(), func(t *testing.T) {
				first, err := Run(context.Background(), b, prog, setup)
				require.NoError(t, err)
				second, err := Run(context.Background(), b, prog, setup)
				require.NoError(t, err)

				assert.Equal(t, first.Render(), second.Render())
				assert.True(t, NewDiff(first, second).Equal(), NewDiff(first, second).String())
			})
		}
	}
}

func TestCompareDoesNotShareArguments(t *testing.T) {
	out := vm.NewList()
	opts := Options{Args: map[string]vm.Value{"maximum": int64(10), "output_list": out}}
	d, err := Compare(context.Background(), load(t, "primes"), Standard(opts))
	require.NoError(t, err)
	assert.True(t, d.Equal(), d.String())
	assert.Empty(t, out.Items, "runs must work on copies of the arguments")
}

// skewed wraps a backend and shifts its final cursor.
type skewed struct {
	vm.Backend
}

func (s skewed) Name() string { return "skewed" }

func (s skewed) Run(ctx context.Context, prog *compiler.Program, req vm.RunRequest) (*vm.RunResult, error) {
	res, err := s.Backend.Run(ctx, prog, req)
	if res != nil {
		res.Now++
		res.Attrs["extra"] = int64(1)
	}
	return res, err
}

func TestCompareReportsMismatches(t *testing.T) {
	d, err := Compare(context.Background(), load(t, "misc"), Standard(Options{}),
		vm.NewInterpreter(), skewed{vm.NewInterpreter()})
	require.NoError(t, err)
	require.False(t, d.Equal())

	var names []string
	for _, m := range d.Mismatches {
		names = append(names, m.Field)
	}
	assert.Equal(t, []string{"now", "attrs.extra"}, names)
	assert.Equal(t, []string{"0", "1"}, d.Mismatches[0].Values)
	assert.Equal(t, []string{missing, "1"}, d.Mismatches[1].Values)

	text := d.String()
	assert.Contains(t, text, "now:")
	assert.Contains(t, text, "host:")
	assert.Contains(t, text, "skewed:")
}

func TestCompareSetupFailure(t *testing.T) {
	setup := func(backend string) (*Fixture, error) {
		return nil, assert.AnError
	}
	_, err := Compare(context.Background(), load(t, "misc"), setup)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestCompareRequestFailure(t *testing.T) {
	_, err := Compare(context.Background(), load(t, "misc"), Standard(Options{Entry: "missing"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestRender(t *testing.T) {
	a := &Artifact{
		Return: vm.Tuple{int64(1), "x"},
		Now:    7,
		Attrs:  vm.Dict{"b": int64(2), "a": vm.NewList(1.5)},
		Trace:  []vm.Value{vm.Tuple{"p", int64(0)}},
		Output: "one\ntwo\n",
		Error:  "KeyError: 'k'",
	}
	want := strings.Join([]string{
		`return: (1, "x")`,
		`now: 7`,
		`attrs:`,
		`  a = [1.5]`,
		`  b = 2`,
		`trace:`,
		`  ("p", 0)`,
		`output:`,
		`  one`,
		`  two`,
		`error: KeyError: 'k'`,
		``,
	}, "\n")
	assert.Equal(t, want, a.Render())
	assert.True(t, NewDiff(a, a).Equal())
	assert.Equal(t, "no differences", NewDiff(a).String())
}
