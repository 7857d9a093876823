package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/chazu/kairos/pkg/bytecode"
	"github.com/chazu/kairos/vm"
)

const sumSource = `rpc record

kernel main(n) {
    total = 0
    for i in range(n) {
        total += i
        delay_mu(10)
    }
    self.total = total
    record("done", now_mu())
    print("total", total)
    return total
}
`

const raiseSource = `kernel main() {
    delay_mu(5)
    raise KeyError("k")
}
`

const brokenSource = `kernel main() {
    x = nope
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// project writes a manifest whose store lives in the temp dir.
func newProjectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "sum.k", sumSource)
	writeFile(t, dir, "kairos.toml", `
[experiment]
name = "sum"
source = "sum.k"

[arguments]
n = 3

[store]
path = "history.db"
`)
	return dir
}

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"run", "compare", "check", "disasm", "serve", "lsp", "history"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := newRootCommand()
	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sum.k", sumSource)
	_, err := execute(t, "--format", "xml", "run", "--no-store", path)
	require.Error(t, err)
	assert.Equal(t, exitCommandError, exitCode(err))
}

func TestRunText(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sum.k", sumSource)

	out, err := execute(t, "-C", dir, "--no-store", "run", "-b", "host", "-a", "n=3", path)
	require.NoError(t, err)
	for _, want := range []string{
		"backend: host\n",
		"return: 3\n",
		"now: 30\n",
		"  total = 3\n",
		`  ("done", 30)`,
		"  total 3\n",
		"error: none\n",
	} {
		assert.Contains(t, out, want)
	}
}

func TestRunBothBackendsJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sum.k", sumSource)

	out, err := execute(t, "-C", dir, "--no-store", "--format", "json", "run", "-a", "n=4", path)
	require.NoError(t, err)

	var reports []artifactReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 2)
	assert.Equal(t, "host", reports[0].Backend)
	assert.Equal(t, "device", reports[1].Backend)
	for _, r := range reports {
		assert.Equal(t, float64(6), r.Return)
		assert.Equal(t, int64(40), r.NowMu)
		assert.Equal(t, "total 6\n", r.Output)
		assert.Empty(t, r.Error)
	}
}

func TestRunUnhandledException(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "raise.k", raiseSource)

	out, err := execute(t, "-C", dir, "--no-store", "run", "-b", "device", path)
	require.Error(t, err)
	assert.Equal(t, exitFailure, exitCode(err))
	assert.Contains(t, out, "now: 5\n")
	assert.Contains(t, out, "error: KeyError")
}

func TestRunWithoutSource(t *testing.T) {
	_, err := execute(t, "-C", t.TempDir(), "--no-store", "run")
	require.Error(t, err)
	assert.Equal(t, exitCommandError, exitCode(err))
}

func TestCompareRecordsHistory(t *testing.T) {
	dir := newProjectDir(t)

	out, err := execute(t, "-C", dir, "compare")
	require.NoError(t, err)
	assert.Contains(t, out, "program: sum (")
	assert.Contains(t, out, "backends agree")
	assert.Contains(t, out, "return: 3\n")

	out, err = execute(t, "-C", dir, "--format", "json", "history")
	require.NoError(t, err)
	var runs []runSummary
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, runs[0].ComparisonID, runs[1].ComparisonID)
	assert.NotEmpty(t, runs[0].ComparisonID)
	assert.Equal(t, "sum", runs[0].Program)

	out, err = execute(t, "-C", dir, "--format", "yaml", "history", "--comparisons")
	require.NoError(t, err)
	var comparisons []comparisonSummary
	require.NoError(t, yaml.Unmarshal([]byte(out), &comparisons))
	require.Len(t, comparisons, 1)
	assert.True(t, comparisons[0].Equal)
	assert.Equal(t, runs[0].ComparisonID, comparisons[0].ID)

	out, err = execute(t, "-C", dir, "history", "show", comparisons[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "comparison: "+comparisons[0].ID)
	assert.Contains(t, out, "backends agree")

	out, err = execute(t, "-C", dir, "history", "show", runs[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "run: "+runs[0].ID)
	assert.Contains(t, out, "now: 30\n")

	_, err = execute(t, "-C", dir, "history", "show", "no-such-id")
	require.Error(t, err)

	out, err = execute(t, "-C", dir, "--format", "json", "history", "stats")
	require.NoError(t, err)
	var stats []programStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, programStats{
		Program:     "sum",
		Comparisons: 1,
		Backends: []backendStats{
			{Backend: "device", Runs: 1, MaxNow: 30},
			{Backend: "host", Runs: 1, MaxNow: 30},
		},
	}, stats[0])

	out, err = execute(t, "-C", dir, "history", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "PROGRAM")
	assert.Contains(t, out, "sum")
}

func TestRunRecordsHistory(t *testing.T) {
	dir := newProjectDir(t)

	_, err := execute(t, "-C", dir, "run", "-b", "device")
	require.NoError(t, err)

	out, err := execute(t, "-C", dir, "--format", "json", "history", "--backend", "device")
	require.NoError(t, err)
	var runs []runSummary
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "device", runs[0].Backend)
	assert.Empty(t, runs[0].ComparisonID)
	assert.Equal(t, int64(30), runs[0].NowMu)

	out, err = execute(t, "-C", dir, "--format", "json", "history", "--backend", "host")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "sum.k", sumSource)
	bad := writeFile(t, dir, "broken.k", brokenSource)

	out, err := execute(t, "check", good)
	require.NoError(t, err)
	assert.Contains(t, out, good+": ok ")

	out, err = execute(t, "check", good, bad)
	require.Error(t, err)
	assert.Equal(t, exitFailure, exitCode(err))
	assert.Contains(t, out, bad+":2:9: undefined name nope")

	out, err = execute(t, "--format", "json", "check", bad)
	require.Error(t, err)
	var reports []checkReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.False(t, reports[0].OK)
	require.Len(t, reports[0].Diagnostics, 1)
	assert.Equal(t, 2, reports[0].Diagnostics[0].Line)
}

func TestCheckHashIgnoresFormatting(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.k", "kernel main(n) {\n    acc = n * 2\n    return acc\n}\n")
	b := writeFile(t, dir, "b.k", "# doubled\nkernel main(n) {\n  x = n*2\n\n  return x\n}\n")
	c := writeFile(t, dir, "c.k", "kernel main(n) {\n    acc = n * 3\n    return acc\n}\n")

	ra, err := checkFile(a)
	require.NoError(t, err)
	rb, err := checkFile(b)
	require.NoError(t, err)
	rc, err := checkFile(c)
	require.NoError(t, err)
	assert.True(t, ra.OK)
	assert.Equal(t, []string{"main"}, ra.Kernels)
	assert.Equal(t, ra.ProgramHash, rb.ProgramHash)
	assert.NotEqual(t, ra.ProgramHash, rc.ProgramHash)
}

func TestDisasmRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sum.k", sumSource)
	image := filepath.Join(dir, "sum.krbc")

	out, err := execute(t, "disasm", "-o", image, path)
	require.NoError(t, err)
	assert.Contains(t, out, "=== main ===")
	assert.Contains(t, out, "CALL_RPC")

	data, err := os.ReadFile(image)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, bytecode.BytecodeMagic))

	fromImage, err := execute(t, "disasm", "-k", "main", image)
	require.NoError(t, err)
	assert.Contains(t, fromImage, "=== main ===")

	_, err = execute(t, "disasm", "-k", "missing", image)
	require.Error(t, err)
	assert.Equal(t, exitCommandError, exitCode(err))
}

func TestParseArgs(t *testing.T) {
	got, err := parseArgs([]string{"n=3", "gain=2.5", "on=true", "name=ttl0", "xs=[1, 2]", "d={a: 1}", "empty="})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got["n"])
	assert.Equal(t, 2.5, got["gain"])
	assert.Equal(t, true, got["on"])
	assert.Equal(t, "ttl0", got["name"])
	assert.Equal(t, vm.NewList(int64(1), int64(2)), got["xs"])
	assert.Equal(t, vm.Dict{"a": int64(1)}, got["d"])
	assert.Nil(t, got["empty"])

	_, err = parseArgs([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseArgs([]string{"=3"})
	assert.Error(t, err)
}

func TestSelectBackends(t *testing.T) {
	bs, err := selectBackends("device")
	require.NoError(t, err)
	require.Len(t, bs, 1)
	assert.Equal(t, "device", bs[0].Name())

	bs, err = selectBackends("both")
	require.NoError(t, err)
	assert.Len(t, bs, 2)

	_, err = selectBackends("fpga")
	assert.Error(t, err)
}

func TestHostRegistryExportsKernels(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sum.k", sumSource)

	reg, err := hostRegistry(&rootOptions{Dir: dir}, &serveOptions{Export: path})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "main", "raise_error", "record", "sum"}, reg.Names())
}

func TestServeTraceLimitFlag(t *testing.T) {
	cmd := newRootCommand()
	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	limit := serve.Flags().Lookup("trace-limit")
	require.NotNil(t, limit)
	assert.Equal(t, "1024", limit.DefValue)
}
