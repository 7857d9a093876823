package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/tliron/commonlog"
	"gopkg.in/yaml.v3"

	"github.com/chazu/kairos/compiler"
	"github.com/chazu/kairos/compiler/hash"
	"github.com/chazu/kairos/conformance"
	"github.com/chazu/kairos/manifest"
	"github.com/chazu/kairos/pkg/bytecode"
	"github.com/chazu/kairos/rpc"
	"github.com/chazu/kairos/store"
	"github.com/chazu/kairos/vm"
)

var log = commonlog.GetLogger("kairos.cli")

// loadManifest finds kairos.toml from opts.Dir upward. Without one the
// defaults apply.
func loadManifest(opts *rootOptions) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(opts.Dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	log.Infof("using %s", filepath.Join(m.Dir, manifest.FileName))
	if opts.Verbose == 0 && opts.LogFile == "" && (m.Log.Verbosity > 0 || m.Log.File != "") {
		configureLogging(m.Log.Verbosity, m.Log.File)
	}
	return m, nil
}

// project is a compiled program and the settings it runs under.
type project struct {
	m    *manifest.Manifest
	path string
	prog *compiler.Program
	hash string
}

// loadProject compiles the kernel source named by args[0], or by the
// manifest when no argument is given.
func loadProject(opts *rootOptions, args []string) (*project, error) {
	m, err := loadManifest(opts)
	if err != nil {
		return nil, err
	}
	var path string
	switch {
	case len(args) > 0:
		path = args[0]
	case m.Experiment.Source != "":
		path = m.SourcePath()
	default:
		return nil, fmt.Errorf("no kernel source: pass a file or set experiment.source in %s", manifest.FileName)
	}
	prog, err := compileFile(path)
	if err != nil {
		return nil, err
	}
	return &project{
		m:    m,
		path: path,
		prog: prog,
		hash: hash.String(hash.HashProgram(prog)),
	}, nil
}

func compileFile(path string) (*compiler.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return compiler.Compile(filepath.Base(path), string(src), vm.Env{})
}

// name is the program name recorded in the history store.
func (p *project) name() string {
	if p.m.Experiment.Name != "" {
		return p.m.Experiment.Name
	}
	return strings.TrimSuffix(filepath.Base(p.path), filepath.Ext(p.path))
}

// coreName picks the core device runs are timed against: the one named
// "core" if declared, else the first core in name order.
func (p *project) coreName() string {
	if spec, ok := p.m.Devices["core"]; ok && spec.Type == "core" {
		return "core"
	}
	names := make([]string, 0, len(p.m.Devices))
	for name, spec := range p.m.Devices {
		if spec.Type == "core" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "core"
	}
	sort.Strings(names)
	return names[0]
}

// runOptions are the per-command overrides of the manifest's experiment.
type runOptions struct {
	Entry   string
	Backend string
	Args    []string
	StartMu int64
}

func (o *runOptions) entry(m *manifest.Manifest) string {
	if o.Entry != "" {
		return o.Entry
	}
	return m.Experiment.Entry
}

func (o *runOptions) start(m *manifest.Manifest) vm.MU {
	if o.StartMu != 0 {
		return vm.MU(o.StartMu)
	}
	return vm.MU(m.Experiment.StartMu)
}

// setup returns a conformance.Setup that builds every run's devices and
// bridge from the manifest, so backends never share state.
func (p *project) setup(o *runOptions) (conformance.Setup, error) {
	args, err := p.m.RunArgs()
	if err != nil {
		return nil, err
	}
	extra, err := parseArgs(o.Args)
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		args[k] = v
	}
	entry := o.entry(p.m)
	start := o.start(p.m)
	coreName := p.coreName()

	return func(backend string) (*conformance.Fixture, error) {
		devices, err := p.m.DeviceRegistry()
		if err != nil {
			return nil, err
		}
		bridge, host, closeFn, err := newBridge(p.m.RPC)
		if err != nil {
			return nil, err
		}
		log.Debugf("%s: %s bridge, devices %s", backend, p.m.RPC.Transport, devices)
		return &conformance.Fixture{
			Request: vm.RunRequest{
				Entry:    entry,
				Args:     args,
				Devices:  devices,
				CoreName: coreName,
				Bridge:   bridge,
				Start:    start,
			},
			Host:  host,
			Close: closeFn,
		}, nil
	}, nil
}

// newBridge connects a run to its host procedures. In-process transports
// also return the host library whose trace ends up in the artifact.
func newBridge(cfg manifest.RPC) (vm.Bridge, *rpc.HostLib, func(), error) {
	switch cfg.Transport {
	case "connect":
		return rpc.NewConnectBridge(http.DefaultClient, cfg.Endpoint), nil, nil, nil
	case "grpc":
		b, err := rpc.DialGRPC(cfg.Endpoint)
		if err != nil {
			return nil, nil, nil, err
		}
		return b, nil, func() { b.Close() }, nil
	}

	reg := rpc.NewRegistry()
	lib := rpc.NewHostLib()
	if err := lib.Register(reg); err != nil {
		return nil, nil, nil, err
	}
	if cfg.Transport == "worker" {
		w := rpc.NewWorker(reg)
		return rpc.NewWorkerBridge(w), lib, w.Stop, nil
	}
	return rpc.NewDirect(reg), lib, nil, nil
}

// selectBackends maps a backend name to the backends it runs.
func selectBackends(name string) ([]vm.Backend, error) {
	switch name {
	case "host":
		return []vm.Backend{vm.NewInterpreter()}, nil
	case "device":
		return []vm.Backend{bytecode.NewBackend()}, nil
	case "both", "":
		return conformance.Backends(), nil
	}
	return nil, fmt.Errorf("unknown backend %q (want host, device or both)", name)
}

// parseArgs decodes name=value pairs. Values are YAML scalars or flow
// collections: 3, 2.5, true, foo, [1, 2], {a: 1}.
func parseArgs(pairs []string) (map[string]vm.Value, error) {
	out := make(map[string]vm.Value, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q: want name=value", pair)
		}
		var decoded any
		if err := yaml.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, fmt.Errorf("argument %q: %w", name, err)
		}
		v, err := manifest.ToValue(decoded)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// openStore opens the history store unless recording is turned off.
func openStore(opts *rootOptions, m *manifest.Manifest) (*store.Store, error) {
	if opts.NoStore || m.Store.Disabled {
		return nil, nil
	}
	return store.Open(m.StorePath())
}

// signalContext is cancelled on SIGINT or SIGTERM. A cancelled run ends
// with CancelledError at its next timeline operation.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
