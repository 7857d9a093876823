package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/kairos/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[experiment]
name = "pulses"
source = "kernels/pulses.k"
entry = "run"
backend = "device"
start_mu = 1000

[devices.core]
type = "core"
ref_period = 1e-9

[devices.ttl0]
type = "ttl"

[arguments]
maximum = 100
names = ["a", "b"]
gain = 0.5
enabled = true

[arguments.limits]
low = 1

[rpc]
transport = "connect"
endpoint = "http://localhost:7070"

[store]
path = "runs.db"

[log]
verbosity = 2
file = "kairos.log"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Experiment.Name != "pulses" {
		t.Errorf("experiment name = %q, want pulses", m.Experiment.Name)
	}
	if m.Experiment.Entry != "run" {
		t.Errorf("entry = %q, want run", m.Experiment.Entry)
	}
	if m.Experiment.Backend != "device" {
		t.Errorf("backend = %q, want device", m.Experiment.Backend)
	}
	if m.Experiment.StartMu != 1000 {
		t.Errorf("start_mu = %d, want 1000", m.Experiment.StartMu)
	}
	if got := m.SourcePath(); got != filepath.Join(m.Dir, "kernels", "pulses.k") {
		t.Errorf("SourcePath() = %q", got)
	}
	if got := m.StorePath(); got != filepath.Join(m.Dir, "runs.db") {
		t.Errorf("StorePath() = %q", got)
	}
	if m.RPC.Transport != "connect" || m.RPC.Endpoint != "http://localhost:7070" {
		t.Errorf("rpc = %+v", m.RPC)
	}
	if m.Log.Verbosity != 2 || m.Log.File != "kairos.log" {
		t.Errorf("log = %+v", m.Log)
	}

	devs, err := m.DeviceRegistry()
	if err != nil {
		t.Fatalf("DeviceRegistry: %v", err)
	}
	if got := strings.Join(devs.Names(), ","); got != "core,ttl0" {
		t.Errorf("devices = %s, want core,ttl0", got)
	}
	core, err := devs.Core("core")
	if err != nil || core.RefPeriod != 1e-9 {
		t.Errorf("core = %+v, %v", core, err)
	}
	if _, err := devs.Core("ttl0"); err == nil {
		t.Error("ttl0 should not be usable as a core")
	}

	args, err := m.RunArgs()
	if err != nil {
		t.Fatalf("RunArgs: %v", err)
	}
	if args["maximum"] != int64(100) || args["gain"] != 0.5 || args["enabled"] != true {
		t.Errorf("scalar args = %v", args)
	}
	if got := vm.Repr(args["names"]); got != `["a", "b"]` {
		t.Errorf("names = %s", got)
	}
	if got := vm.Repr(args["limits"]); got != `{"low": 1}` {
		t.Errorf("limits = %s", got)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[experiment]
source = "main.k"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Experiment.Entry != "main" {
		t.Errorf("default entry = %q, want main", m.Experiment.Entry)
	}
	if m.Experiment.Backend != "both" {
		t.Errorf("default backend = %q, want both", m.Experiment.Backend)
	}
	if m.RPC.Transport != "direct" {
		t.Errorf("default transport = %q, want direct", m.RPC.Transport)
	}
	if got := m.StorePath(); got != filepath.Join(m.Dir, ".kairos", "history.db") {
		t.Errorf("default store path = %q", got)
	}
	devs, err := m.DeviceRegistry()
	if err != nil {
		t.Fatal(err)
	}
	if core, err := devs.Core("core"); err != nil || core.RefPeriod != 1e-9 {
		t.Errorf("default core = %+v, %v", core, err)
	}
}

func TestManifestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing experiment", `[store]
path = "x.db"`},
		{"empty source", `[experiment]
source = ""`},
		{"unknown backend", `[experiment]
source = "a.k"
backend = "fpga"`},
		{"bad entry", `[experiment]
source = "a.k"
entry = "1st"`},
		{"unknown section", `[experiment]
source = "a.k"
[experimnt]
name = "typo"`},
		{"core without period", `[experiment]
source = "a.k"
[devices.core]
type = "core"`},
		{"negative period", `[experiment]
source = "a.k"
[devices.core]
type = "core"
ref_period = -1.0`},
		{"remote transport without endpoint", `[experiment]
source = "a.k"
[rpc]
transport = "grpc"`},
		{"verbosity out of range", `[experiment]
source = "a.k"
[log]
verbosity = 9`},
		{"not toml", `[experiment`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse("kairos.toml", []byte(tt.content)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `[experiment]
name = "found"
source = "k.k"
`)

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Experiment.Name != "found" {
		t.Errorf("experiment name = %q, want found", m.Experiment.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no kairos.toml exists")
	}
}

func TestRunArgsRejectsDates(t *testing.T) {
	m, err := Parse("kairos.toml", []byte(`[experiment]
source = "a.k"
[arguments]
when = 2024-01-01T00:00:00Z
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := m.RunArgs(); err == nil {
		t.Error("a datetime argument should be rejected")
	}
}
