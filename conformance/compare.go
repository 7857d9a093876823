// Package conformance runs one program on every backend and reports where
// their observable results differ. Each backend gets its own fresh state
// from a Setup, so nothing one run does can leak into another.
package conformance

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/kairos/compiler"
	"github.com/chazu/kairos/pkg/bytecode"
	"github.com/chazu/kairos/rpc"
	"github.com/chazu/kairos/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("kairos.conformance")

// Backends returns the host interpreter and the device backend, in that
// order.
func Backends() []vm.Backend {
	return []vm.Backend{vm.NewInterpreter(), bytecode.NewBackend()}
}

// Fixture is the state one backend run starts from.
type Fixture struct {
	Request vm.RunRequest
	// Host, if set, is the host library bound to Request.Bridge; its trace
	// becomes part of the artifact.
	Host *rpc.HostLib
	// Close, if set, is called after the run.
	Close func()
}

// Setup builds a fresh Fixture for the named backend.
type Setup func(backend string) (*Fixture, error)

// Artifact is everything a run leaves behind that a caller can observe.
type Artifact struct {
	Backend string
	Return  vm.Value
	Now     vm.MU
	Attrs   vm.Dict
	Trace   []vm.Value
	Output  string
	// Error is the unhandled exception, formatted; empty when the run
	// completed normally.
	Error string
}

// Run executes prog on b. Exceptions raised by the kernel are part of the
// artifact; only failures to start the run are returned as errors.
func Run(ctx context.Context, b vm.Backend, prog *compiler.Program, setup Setup) (*Artifact, error) {
	fx, err := setup(b.Name())
	if err != nil {
		return nil, fmt.Errorf("conformance: setup for %s: %w", b.Name(), err)
	}
	if fx.Close != nil {
		defer fx.Close()
	}
	var out bytes.Buffer
	req := fx.Request
	if req.Out == nil {
		req.Out = &out
	}
	res, runErr := b.Run(ctx, prog, req)
	if res == nil {
		return nil, fmt.Errorf("conformance: %s: %w", b.Name(), runErr)
	}
	a := &Artifact{
		Backend: b.Name(),
		Return:  res.Return,
		Now:     res.Now,
		Attrs:   res.Attrs,
		Output:  out.String(),
	}
	if fx.Host != nil {
		a.Trace = fx.Host.Trace()
	}
	if runErr != nil {
		a.Error = runErr.Error()
	}
	log.Debugf("%s finished at %d mu", a.Backend, a.Now)
	return a, nil
}

// field is one named, rendered observable of an artifact.
type field struct {
	name, value string
}

const missing = "<missing>"

func (a *Artifact) fields() []field {
	fs := []field{
		{"return", vm.Repr(a.Return)},
		{"now", fmt.Sprint(a.Now)},
	}
	for _, k := range sortedKeys(a.Attrs) {
		fs = append(fs, field{"attrs." + k, vm.Repr(a.Attrs[k])})
	}
	fs = append(fs,
		field{"trace", vm.Repr(vm.NewList(a.Trace...))},
		field{"output", fmt.Sprintf("%q", a.Output)},
		field{"error", a.Error},
	)
	return fs
}

// Render formats the artifact as stable text, one observable per line. It
// leaves out the backend name so that renders of agreeing backends are
// byte-identical.
func (a *Artifact) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "return: %s\n", vm.Repr(a.Return))
	fmt.Fprintf(&sb, "now: %d\n", a.Now)
	sb.WriteString("attrs:\n")
	for _, k := range sortedKeys(a.Attrs) {
		fmt.Fprintf(&sb, "  %s = %s\n", k, vm.Repr(a.Attrs[k]))
	}
	sb.WriteString("trace:\n")
	for _, v := range a.Trace {
		fmt.Fprintf(&sb, "  %s\n", vm.Repr(v))
	}
	if a.Output != "" {
		sb.WriteString("output:\n")
		for _, line := range strings.Split(strings.TrimSuffix(a.Output, "\n"), "\n") {
			fmt.Fprintf(&sb, "  %s\n", line)
		}
	}
	if a.Error == "" {
		sb.WriteString("error: none\n")
	} else {
		fmt.Fprintf(&sb, "error: %s\n", a.Error)
	}
	return sb.String()
}

// Mismatch is one observable on which the backends disagree. Values holds
// one rendering per artifact, in artifact order.
type Mismatch struct {
	Field  string
	Values []string
}

// Diff is the outcome of a comparison.
type Diff struct {
	Artifacts  []*Artifact
	Mismatches []Mismatch
}

// Equal reports whether every backend produced the same artifact.
func (d *Diff) Equal() bool {
	return len(d.Mismatches) == 0
}

func (d *Diff) String() string {
	if d.Equal() {
		return "no differences"
	}
	var sb strings.Builder
	for _, m := range d.Mismatches {
		fmt.Fprintf(&sb, "%s:\n", m.Field)
		for i, v := range m.Values {
			fmt.Fprintf(&sb, "  %-8s %s\n", d.Artifacts[i].Backend+":", v)
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// NewDiff compares artifacts field by field.
func NewDiff(artifacts ...*Artifact) *Diff {
	d := &Diff{Artifacts: artifacts}
	var order []string
	values := make([]map[string]string, len(artifacts))
	seen := make(map[string]bool)
	for i, a := range artifacts {
		values[i] = make(map[string]string)
		for _, f := range a.fields() {
			values[i][f.name] = f.value
			if !seen[f.name] {
				seen[f.name] = true
				order = append(order, f.name)
			}
		}
	}
	for _, name := range order {
		row := make([]string, len(artifacts))
		same := true
		for i := range artifacts {
			v, ok := values[i][name]
			if !ok {
				v = missing
			}
			row[i] = v
			if row[i] != row[0] {
				same = false
			}
		}
		if !same {
			d.Mismatches = append(d.Mismatches, Mismatch{Field: name, Values: row})
		}
	}
	return d
}

// Compare runs prog on each backend (Backends() when none are given) and
// diffs the artifacts.
func Compare(ctx context.Context, prog *compiler.Program, setup Setup, backends ...vm.Backend) (*Diff, error) {
	if len(backends) == 0 {
		backends = Backends()
	}
	artifacts := make([]*Artifact, 0, len(backends))
	for _, b := range backends {
		a, err := Run(ctx, b, prog, setup)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	d := NewDiff(artifacts...)
	if !d.Equal() {
		log.Warningf("%s: backends disagree on %d observables", prog.Name, len(d.Mismatches))
	}
	return d, nil
}

func sortedKeys(d vm.Dict) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
