// Package manifest handles kairos.toml experiment configuration.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"
	"github.com/chazu/kairos/vm"
)

// FileName is the manifest file looked up in experiment directories.
const FileName = "kairos.toml"

//go:embed schema.cue
var schemaSource string

// Manifest represents a kairos.toml experiment configuration.
type Manifest struct {
	Experiment Experiment            `toml:"experiment"`
	Devices    map[string]DeviceSpec `toml:"devices"`
	Arguments  map[string]any        `toml:"arguments"`
	RPC        RPC                   `toml:"rpc"`
	Store      Store                 `toml:"store"`
	Log        Log                   `toml:"log"`

	// Dir is the directory containing the kairos.toml file (set at load time).
	Dir string `toml:"-"`
}

// Experiment names the kernel to run.
type Experiment struct {
	Name    string `toml:"name"`
	Source  string `toml:"source"`
	Entry   string `toml:"entry"`
	Backend string `toml:"backend"` // host, device or both
	StartMu int64  `toml:"start_mu"`
}

// DeviceSpec declares one device binding.
type DeviceSpec struct {
	Type      string  `toml:"type"`
	RefPeriod float64 `toml:"ref_period"`
}

// RPC selects how kernels reach host procedures.
type RPC struct {
	Transport string `toml:"transport"` // direct, worker, connect or grpc
	Endpoint  string `toml:"endpoint"`
}

// Store configures the run history database.
type Store struct {
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Load parses the kairos.toml file in dir.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a manifest at an explicit path.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return m, nil
}

// Parse validates data against the manifest schema and decodes it. name is
// used in error messages only.
func Parse(name string, data []byte) (*Manifest, error) {
	var raw map[string]any
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", name, err)
	}
	if err := validate(raw); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", name, err)
	}
	m.applyDefaults()
	return &m, nil
}

func validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Manifest")).Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s", cueerrors.Details(err, nil))
	}
	return nil
}

// Default returns the manifest used when no kairos.toml exists: one core
// device, direct RPC and the default store path.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Experiment.Entry == "" {
		m.Experiment.Entry = "main"
	}
	if m.Experiment.Backend == "" {
		m.Experiment.Backend = "both"
	}
	if m.RPC.Transport == "" {
		m.RPC.Transport = "direct"
	}
	if m.Store.Path == "" {
		m.Store.Path = filepath.Join(".kairos", "history.db")
	}
	if len(m.Devices) == 0 {
		m.Devices = map[string]DeviceSpec{"core": {Type: "core", RefPeriod: 1e-9}}
	}
}

// FindAndLoad walks up from startDir to find a kairos.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// resolve makes p absolute relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// SourcePath returns the path of the kernel source file.
func (m *Manifest) SourcePath() string {
	return m.resolve(m.Experiment.Source)
}

// StorePath returns the path of the run history database.
func (m *Manifest) StorePath() string {
	return m.resolve(m.Store.Path)
}

// DeviceRegistry builds the device bindings for a run. Every call returns
// fresh handles.
func (m *Manifest) DeviceRegistry() (*vm.DeviceRegistry, error) {
	reg := vm.NewDeviceRegistry()
	names := make([]string, 0, len(m.Devices))
	for name := range m.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := m.Devices[name]
		if spec.Type != "core" {
			reg.Add(&vm.GenericDevice{Name: name, Type: spec.Type})
			continue
		}
		core, err := vm.NewCore(name, spec.RefPeriod)
		if err != nil {
			return nil, err
		}
		reg.Add(core)
	}
	return reg, nil
}

// RunArgs converts [arguments] into kernel values.
func (m *Manifest) RunArgs() (map[string]vm.Value, error) {
	args := make(map[string]vm.Value, len(m.Arguments))
	for name, raw := range m.Arguments {
		v, err := ToValue(raw)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", name, err)
		}
		args[name] = v
	}
	return args, nil
}

// ToValue converts a decoded TOML, YAML or JSON value into a kernel value.
func ToValue(raw any) (vm.Value, error) {
	switch x := raw.(type) {
	case nil, bool, int64, float64, string:
		return x, nil
	case int:
		return int64(x), nil
	case []any:
		items := make([]vm.Value, len(x))
		for i, item := range x {
			v, err := ToValue(item)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return vm.NewList(items...), nil
	case []map[string]any:
		items := make([]vm.Value, len(x))
		for i, item := range x {
			v, err := ToValue(item)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return vm.NewList(items...), nil
	case map[string]any:
		d := make(vm.Dict, len(x))
		for k, item := range x {
			v, err := ToValue(item)
			if err != nil {
				return nil, err
			}
			d[k] = v
		}
		return d, nil
	}
	return nil, fmt.Errorf("unsupported value of type %T", raw)
}
