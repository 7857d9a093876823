package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chazu/kairos/conformance"
	"github.com/chazu/kairos/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestRecordAndGetRun(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	r := &Run{
		Program:     "pulses",
		ProgramHash: "abc123",
		Entry:       "main",
		Backend:     "device",
		Now:         120000,
		Error:       "KeyError: 'k'",
		Return:      vm.Tuple{int64(1), "x"},
		Attrs: vm.Dict{
			"list": vm.NewList(int64(1), 2.5),
			"kind": vm.KeyError,
		},
		Trace:  []vm.Value{vm.Tuple{"a", int64(0), true, int64(100)}},
		Output: "hello\n",
	}
	require.NoError(t, s.RecordRun(ctx, r))
	require.NotEmpty(t, r.ID)
	require.False(t, r.StartedAt.IsZero())

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Empty(t, got.ComparisonID)
	assert.True(t, r.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, "pulses", got.Program)
	assert.Equal(t, vm.MU(120000), got.Now)
	assert.Equal(t, "KeyError: 'k'", got.Error)
	assert.Equal(t, vm.Tuple{int64(1), "x"}, got.Return)
	assert.Equal(t, `[1, 2.5]`, vm.Repr(got.Attrs["list"]))
	// Values outside the wire format come back as their repr.
	assert.Equal(t, vm.Repr(vm.KeyError), got.Attrs["kind"])
	assert.Equal(t, r.Trace, got.Trace)
	assert.Equal(t, "hello\n", got.Output)
}

func TestGetRunNotFound(t *testing.T) {
	s := openTemp(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRuns(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	add := func(program, hash, backend string) *Run {
		r := &Run{Program: program, ProgramHash: hash, Entry: "main", Backend: backend}
		require.NoError(t, s.RecordRun(ctx, r))
		return r
	}
	r1 := add("primes", "aaaa1111", "host")
	r2 := add("primes", "aaaa1111", "device")
	r3 := add("misc", "bbbb2222", "host")

	ids := func(runs []*Run) []string {
		out := make([]string, len(runs))
		for i, r := range runs {
			out[i] = r.ID
		}
		return out
	}

	all, err := s.ListRuns(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{r3.ID, r2.ID, r1.ID}, ids(all), "newest first")

	byProgram, err := s.ListRuns(ctx, Filter{Program: "primes"})
	require.NoError(t, err)
	assert.Equal(t, []string{r2.ID, r1.ID}, ids(byProgram))

	byHashPrefix, err := s.ListRuns(ctx, Filter{ProgramHash: "bbbb"})
	require.NoError(t, err)
	assert.Equal(t, []string{r3.ID}, ids(byHashPrefix))

	host, err := s.ListRuns(ctx, Filter{Backend: "host", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{r3.ID}, ids(host))

	none, err := s.ListRuns(ctx, Filter{Program: "nothing"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRecordComparison(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	host := &conformance.Artifact{Backend: "host", Now: 10, Attrs: vm.Dict{"x": int64(1)}}
	device := &conformance.Artifact{Backend: "device", Now: 11, Attrs: vm.Dict{"x": int64(1)}}
	d := conformance.NewDiff(host, device)
	require.False(t, d.Equal())

	c, err := s.RecordComparison(ctx, "prog", "hash", "main", d)
	require.NoError(t, err)
	require.Len(t, c.Runs, 2)

	got, err := s.GetComparison(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.Equal)
	assert.Equal(t, d.Mismatches, got.Mismatches)
	require.Len(t, got.Runs, 2)
	assert.Equal(t, "host", got.Runs[0].Backend)
	assert.Equal(t, "device", got.Runs[1].Backend)
	assert.Equal(t, c.ID, got.Runs[1].ComparisonID)
	assert.Equal(t, vm.MU(11), got.Runs[1].Now)
	assert.Equal(t, host.Render(), got.Runs[0].Artifact().Render())

	same := conformance.NewDiff(host, host)
	_, err = s.RecordComparison(ctx, "prog", "hash", "main", same)
	require.NoError(t, err)

	list, err := s.ListComparisons(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Equal, "newest first")
	assert.Empty(t, list[0].Mismatches)
	assert.Equal(t, c.ID, list[1].ID)

	_, err = s.GetComparison(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStats(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, r := range []*Run{
		{Program: "pulses", Backend: "host", Now: 10},
		{Program: "pulses", Backend: "host", Now: 40, Error: "KeyError: 'k'"},
		{Program: "pulses", Backend: "device", Now: 25},
		{Program: "alpha", Backend: "device", Now: 5},
	} {
		require.NoError(t, s.RecordRun(ctx, r))
	}

	host := &conformance.Artifact{Backend: "host", Now: 10}
	device := &conformance.Artifact{Backend: "device", Now: 11}
	_, err = s.RecordComparison(ctx, "pulses", "h", "main", conformance.NewDiff(host, device))
	require.NoError(t, err)
	_, err = s.RecordComparison(ctx, "pulses", "h", "main", conformance.NewDiff(host, host))
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, ProgramStats{
		Program:  "alpha",
		Backends: []BackendStats{{Backend: "device", Runs: 1, MaxNow: 5}},
	}, stats[0])

	pulses := stats[1]
	assert.Equal(t, "pulses", pulses.Program)
	assert.Equal(t, 2, pulses.Comparisons)
	assert.Equal(t, 1, pulses.Disagreements)
	// Comparison runs count toward the backend totals.
	assert.Equal(t, []BackendStats{
		{Backend: "device", Runs: 2, MaxNow: 25},
		{Backend: "host", Runs: 5, Failed: 1, MaxNow: 40},
	}, pulses.Backends)
}
